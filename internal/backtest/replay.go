// Package backtest replays stored price history through a strategy and a
// paper-traded session, and imports price files into the history store.
package backtest

import (
	"context"
	"fmt"
	"log"

	"investgame/internal/execution"
	"investgame/internal/model"
	"investgame/internal/portfolio"
	"investgame/internal/strategy"
)

// Strategy names accepted by Config.Strategy.
const (
	StrategySMA     = "sma"
	StrategyVerdict = "verdict"
)

// Config describes one replay run.
type Config struct {
	AssetID     string
	Strategy    string  // "sma" or "verdict"
	Amount      float64 // units per signal
	Leverage    float64
	Balance     float64
	Options     portfolio.Options
	SlippageBps int64

	FastPeriod int // sma only
	SlowPeriod int
	RSIPeriod  int // 0 disables the RSI filter

	Window int // verdict only: trailing points per classification

	Journal execution.Recorder // optional
}

// Report summarizes a replay.
type Report struct {
	AssetID      string              `json:"asset_id"`
	Strategy     string              `json:"strategy"`
	Points       int                 `json:"points"`
	Signals      int                 `json:"signals"`
	Filled       int                 `json:"filled"`
	Rejected     int                 `json:"rejected"`
	Skipped      int                 `json:"skipped"`
	Liquidations int                 `json:"liquidations"`
	Shortfall    float64             `json:"shortfall"`
	StartBalance float64             `json:"start_balance"`
	Final        portfolio.Valuation `json:"final"`
	ReturnPct    float64             `json:"return_pct"`
}

func newStrategy(cfg Config) (strategy.Strategy, error) {
	switch cfg.Strategy {
	case StrategySMA, "":
		fast, slow := cfg.FastPeriod, cfg.SlowPeriod
		if fast <= 0 {
			fast = 9
		}
		if slow <= 0 {
			slow = 21
		}
		if fast >= slow {
			return nil, fmt.Errorf("fast period %d must be below slow period %d", fast, slow)
		}
		return strategy.NewSMACrossover(fast, slow, cfg.Amount, cfg.RSIPeriod), nil
	case StrategyVerdict:
		return strategy.NewVerdictFollower(cfg.Amount, cfg.Window), nil
	}
	return nil, fmt.Errorf("unknown strategy %q", cfg.Strategy)
}

// Run replays history in order. Each point first liquidates positions it
// puts underwater, then feeds the strategy, whose signals are executed at
// that point's close.
func Run(ctx context.Context, history []model.PricePoint, cfg Config) (Report, error) {
	if len(history) == 0 {
		return Report{}, fmt.Errorf("no history for %q", cfg.AssetID)
	}
	if cfg.Amount <= 0 {
		return Report{}, fmt.Errorf("%w: amount must be positive", portfolio.ErrInvalidOrder)
	}
	if cfg.Leverage < 1 {
		cfg.Leverage = 1
	}
	if cfg.Balance <= 0 {
		cfg.Balance = 1000
	}
	strat, err := newStrategy(cfg)
	if err != nil {
		return Report{}, err
	}

	rep := Report{AssetID: cfg.AssetID, Strategy: strat.Name(), Points: len(history)}

	opts := cfg.Options
	userHook := opts.OnShortfall
	opts.OnShortfall = func(sf portfolio.Shortfall) {
		rep.Shortfall += sf.Amount
		if userHook != nil {
			userHook(sf)
		}
	}

	reg := portfolio.NewRegistry(cfg.Balance, opts)
	sim := reg.Create(cfg.Balance)
	rep.StartBalance = sim.Snapshot().Balance

	desk := execution.NewPaperDesk(reg, cfg.Journal, cfg.SlippageBps)
	exec := execution.NewExecutor(desk, sim.SessionID(), cfg.Leverage, 1)
	engine := strategy.NewEngine(1)
	engine.Register(strat)

	for i, p := range history {
		if i%1000 == 0 {
			if err := ctx.Err(); err != nil {
				return rep, err
			}
		}
		prices := map[string]float64{cfg.AssetID: p.Close}
		rep.Liquidations += len(sim.SweepLiquidations(prices))

		for _, sig := range engine.Step(cfg.AssetID, p) {
			rep.Signals++
			for _, res := range exec.Handle(ctx, sig) {
				switch res.Status {
				case "FILLED":
					rep.Filled++
				case "SKIPPED":
					rep.Skipped++
				default:
					rep.Rejected++
				}
			}
		}
	}

	last := history[len(history)-1].Close
	rep.Final = sim.MarkToMarket(map[string]float64{cfg.AssetID: last})
	if rep.StartBalance > 0 {
		rep.ReturnPct = (rep.Final.Equity - rep.StartBalance) / rep.StartBalance * 100
	}
	log.Printf("[backtest] %s %s: %d points, %d signals, %d filled, equity %.2f (%.2f%%)",
		rep.Strategy, rep.AssetID, rep.Points, rep.Signals, rep.Filled, rep.Final.Equity, rep.ReturnPct)
	return rep, nil
}
