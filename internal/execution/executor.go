// Package execution turns orders and strategy signals into changes on
// simulated accounts.
//
// The PaperDesk executes orders against a session's Simulator, applying
// simulated slippage and journaling every fill. The Executor sits in front of
// the desk for automated play: it receives signals from the strategy engine
// and translates them into desk orders for one session.
package execution

import (
	"context"
	"errors"
	"log"

	"investgame/internal/portfolio"
	"investgame/internal/strategy"
)

// OrderResult represents the outcome of a signal.
type OrderResult struct {
	OrderID string `json:"order_id"`
	Status  string `json:"status"` // FILLED, REJECTED, SKIPPED
	Message string `json:"message"`
	Signal  strategy.Signal
	Fill    *Fill `json:"fill,omitempty"`
}

// Executor places desk orders for one session based on strategy signals.
// BUY opens a long, SELL opens a short; either first closes an opposite
// position on the same asset. EXIT closes whatever is open.
type Executor struct {
	desk      *PaperDesk
	sessionID string
	leverage  float64
	resultCh  chan OrderResult

	open map[string]openPos // asset → position opened by this executor
}

type openPos struct {
	id   string
	side portfolio.Side
}

// NewExecutor creates a signal executor for sessionID.
func NewExecutor(desk *PaperDesk, sessionID string, leverage float64, resultBufferSize int) *Executor {
	return &Executor{
		desk:      desk,
		sessionID: sessionID,
		leverage:  leverage,
		resultCh:  make(chan OrderResult, resultBufferSize),
		open:      make(map[string]openPos),
	}
}

// Results returns the channel of order results.
func (e *Executor) Results() <-chan OrderResult {
	return e.resultCh
}

// Run consumes signals and places orders.
// Blocks until ctx is cancelled or signalCh is closed.
func (e *Executor) Run(ctx context.Context, signalCh <-chan strategy.Signal) {
	for {
		select {
		case <-ctx.Done():
			return
		case sig, ok := <-signalCh:
			if !ok {
				return
			}
			for _, res := range e.Handle(ctx, sig) {
				select {
				case e.resultCh <- res:
				default:
					log.Printf("[executor] result channel full, dropping %s", res.OrderID)
				}
			}
		}
	}
}

// Handle executes one signal synchronously and returns one result per
// desk order it placed.
func (e *Executor) Handle(ctx context.Context, sig strategy.Signal) []OrderResult {
	var results []OrderResult
	cur, holding := e.open[sig.AssetID]

	var want portfolio.Side
	switch sig.Action {
	case strategy.ActionBuy:
		want = portfolio.SideLong
	case strategy.ActionSell:
		want = portfolio.SideShort
	case strategy.ActionExit:
	default:
		return []OrderResult{{Status: "REJECTED", Message: "unknown action " + string(sig.Action), Signal: sig}}
	}

	if holding && cur.side == want {
		return []OrderResult{{Status: "SKIPPED", Message: "already positioned", Signal: sig}}
	}

	if holding {
		action := CloseLong
		if cur.side == portfolio.SideShort {
			action = CloseShort
		}
		res, err := e.place(ctx, sig, Order{Action: action, PositionID: cur.id, Price: sig.Price})
		// A liquidated position is gone from the account too.
		if err == nil || errors.Is(err, portfolio.ErrPositionNotFound) {
			delete(e.open, sig.AssetID)
		}
		results = append(results, res)
	}

	if want == "" {
		return results
	}

	action := OpenLong
	if want == portfolio.SideShort {
		action = OpenShort
	}
	res, err := e.place(ctx, sig, Order{Action: action, AssetID: sig.AssetID, Amount: sig.Amount, Price: sig.Price, Leverage: e.leverage})
	if err == nil {
		e.open[sig.AssetID] = openPos{id: res.Fill.PositionID, side: want}
	}
	return append(results, res)
}

func (e *Executor) place(ctx context.Context, sig strategy.Signal, o Order) (OrderResult, error) {
	o.SessionID = e.sessionID
	o.Strategy = sig.StrategyName
	o.Reason = sig.Reason

	fill, err := e.desk.Execute(ctx, o)
	if err != nil {
		log.Printf("[executor] %s %s rejected: %v", o.Action, sig.AssetID, err)
		return OrderResult{Status: "REJECTED", Message: err.Error(), Signal: sig}, err
	}
	return OrderResult{OrderID: fill.OrderID, Status: "FILLED", Message: "paper filled", Signal: sig, Fill: &fill}, nil
}
