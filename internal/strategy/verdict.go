package strategy

import (
	"fmt"

	"investgame/internal/model"
)

// VerdictFollower trades on AnalyzeMarket verdicts over a rolling window.
// It goes long on bullish verdicts, short on bearish ones, and exits when
// the verdict turns neutral or flips against the open side.
type VerdictFollower struct {
	amount  float64
	window  int
	history map[string][]model.PricePoint
	side    map[string]Action
}

// NewVerdictFollower keeps the last window points per asset (at least MinHistory).
func NewVerdictFollower(amount float64, window int) *VerdictFollower {
	if window < MinHistory {
		window = MinHistory
	}
	return &VerdictFollower{
		amount:  amount,
		window:  window,
		history: make(map[string][]model.PricePoint),
		side:    make(map[string]Action),
	}
}

func (v *VerdictFollower) Name() string { return "Verdict_Follower" }

func (v *VerdictFollower) OnPrice(assetID string, p model.PricePoint) *Signal {
	h := append(v.history[assetID], p)
	if len(h) > v.window {
		h = h[len(h)-v.window:]
	}
	v.history[assetID] = h

	verdict := AnalyzeMarket(h)
	if verdict == nil {
		return nil
	}

	var want Action
	switch {
	case verdict.Signal.Bullish():
		want = ActionBuy
	case verdict.Signal.Bearish():
		want = ActionSell
	}

	held := v.side[assetID]
	switch {
	case held == want:
		return nil
	case held != "":
		delete(v.side, assetID)
		return v.signal(ActionExit, assetID, p.Close, verdict)
	case want != "":
		v.side[assetID] = want
		return v.signal(want, assetID, p.Close, verdict)
	}
	return nil
}

func (v *VerdictFollower) signal(a Action, assetID string, price float64, verdict *Verdict) *Signal {
	return &Signal{
		StrategyName: v.Name(),
		Action:       a,
		AssetID:      assetID,
		Amount:       v.amount,
		Price:        price,
		Reason:       fmt.Sprintf("verdict %s (score %.2f, confidence %.0f)", verdict.Signal, verdict.Score, verdict.Confidence),
	}
}
