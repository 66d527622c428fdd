// Package strategy turns price history into trading opinions.
//
// AnalyzeMarket is the stateless classifier behind the game's analysis panel.
// A Strategy consumes price points one at a time and emits trading signals
// (BUY/SELL/EXIT); the Engine routes points to registered strategies and is
// what the backtest replay drives against a simulated session.
package strategy

import (
	"context"

	"investgame/internal/model"
)

// Signal represents a trading signal emitted by a strategy.
type Signal struct {
	StrategyName string  `json:"strategy_name"`
	Action       Action  `json:"action"` // BUY, SELL, EXIT
	AssetID      string  `json:"asset_id"`
	Amount       float64 `json:"amount"`
	Price        float64 `json:"price"`
	Reason       string  `json:"reason"`
}

// Action represents a trading action.
type Action string

const (
	ActionBuy  Action = "BUY"
	ActionSell Action = "SELL"
	ActionExit Action = "EXIT"
)

// Strategy is the interface that all trading strategies must implement.
type Strategy interface {
	// Name returns the unique name of the strategy.
	Name() string

	// OnPrice is called for each new price point.
	// Return a Signal if the strategy wants to act, or nil to skip.
	OnPrice(assetID string, p model.PricePoint) *Signal
}

// Engine manages registered strategies and routes price points to them.
type Engine struct {
	strategies []Strategy
	signalCh   chan Signal
}

// NewEngine creates a new strategy engine.
func NewEngine(signalBufferSize int) *Engine {
	return &Engine{
		signalCh: make(chan Signal, signalBufferSize),
	}
}

// Register adds a strategy to the engine.
func (e *Engine) Register(s Strategy) {
	e.strategies = append(e.strategies, s)
}

// Signals returns the channel of signals emitted by strategies.
func (e *Engine) Signals() <-chan Signal {
	return e.signalCh
}

// Step routes one point to every strategy synchronously and returns the
// signals produced. Used by replay, where ordering matters.
func (e *Engine) Step(assetID string, p model.PricePoint) []Signal {
	var out []Signal
	for _, s := range e.strategies {
		if sig := s.OnPrice(assetID, p); sig != nil {
			out = append(out, *sig)
		}
	}
	return out
}

// Run consumes prices and routes them to all registered strategies.
// Blocks until ctx is cancelled or priceCh is closed.
func (e *Engine) Run(ctx context.Context, priceCh <-chan model.AssetPrice) {
	for {
		select {
		case <-ctx.Done():
			return
		case tick, ok := <-priceCh:
			if !ok {
				return
			}
			for _, sig := range e.Step(tick.AssetID, tick.Point) {
				select {
				case e.signalCh <- sig:
				default:
					// signal channel full, drop
				}
			}
		}
	}
}
