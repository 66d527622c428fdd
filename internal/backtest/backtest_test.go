package backtest

import (
	"context"
	"errors"
	"math"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"investgame/internal/model"
	"investgame/internal/portfolio"
	"investgame/internal/store/sqlite"
)

func series(closes ...float64) []model.PricePoint {
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	out := make([]model.PricePoint, len(closes))
	for i, c := range closes {
		out[i] = model.PricePoint{Timestamp: base.AddDate(0, 0, i), Close: c}
	}
	return out
}

func flat(n int, v float64) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = v
	}
	return out
}

func TestRun_CrossoverLiquidationAndReversal(t *testing.T) {
	// 15 flat points warm both SMAs, 101 is a golden cross (10x long),
	// 50 liquidates it and then triggers a death cross.
	closes := append(flat(15, 100), 101, 50)

	rep, err := Run(context.Background(), series(closes...), Config{
		AssetID:    "BTC",
		Strategy:   StrategySMA,
		Amount:     1,
		Leverage:   10,
		Balance:    1000,
		Options:    portfolio.Options{Policy: portfolio.ShortfallCarry},
		FastPeriod: 3,
		SlowPeriod: 10,
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if rep.Points != 17 || rep.Signals != 2 {
		t.Fatalf("points=%d signals=%d", rep.Points, rep.Signals)
	}
	if rep.Liquidations != 1 {
		t.Fatalf("liquidations = %d, want 1", rep.Liquidations)
	}
	// The close of the liquidated long is rejected; the long and the new
	// short both fill.
	if rep.Filled != 2 || rep.Rejected != 1 {
		t.Fatalf("filled=%d rejected=%d", rep.Filled, rep.Rejected)
	}
	// credit = margin 10.1 + pnl (50-101)*10 = -499.9
	if math.Abs(rep.Shortfall-499.9) > 1e-6 {
		t.Fatalf("shortfall = %v, want 499.9", rep.Shortfall)
	}
	if len(rep.Final.Positions) != 1 {
		t.Fatalf("expected the short to remain open, got %+v", rep.Final.Positions)
	}
	if rep.ReturnPct >= 0 {
		t.Fatalf("expected a loss, got %.2f%%", rep.ReturnPct)
	}
}

func TestRun_Errors(t *testing.T) {
	ctx := context.Background()
	h := series(1, 2, 3)

	if _, err := Run(ctx, nil, Config{AssetID: "X", Amount: 1}); err == nil {
		t.Fatal("expected error for empty history")
	}
	if _, err := Run(ctx, h, Config{AssetID: "X"}); !errors.Is(err, portfolio.ErrInvalidOrder) {
		t.Fatalf("zero amount: %v", err)
	}
	if _, err := Run(ctx, h, Config{AssetID: "X", Amount: 1, Strategy: "martingale"}); err == nil {
		t.Fatal("expected error for unknown strategy")
	}
	if _, err := Run(ctx, h, Config{AssetID: "X", Amount: 1, FastPeriod: 20, SlowPeriod: 10}); err == nil {
		t.Fatal("expected error for fast >= slow")
	}
}

func TestRun_VerdictFollower(t *testing.T) {
	closes := make([]float64, 120)
	for i := range closes {
		closes[i] = 100 + 10*math.Sin(float64(i)/8)
	}
	rep, err := Run(context.Background(), series(closes...), Config{
		AssetID:  "ETH",
		Strategy: StrategyVerdict,
		Amount:   0.5,
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if rep.Strategy != "Verdict_Follower" || rep.Points != 120 {
		t.Fatalf("unexpected report %+v", rep)
	}
	if rep.StartBalance != 1000 {
		t.Fatalf("default balance = %v", rep.StartBalance)
	}
}

func TestRun_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := Run(ctx, series(1, 2), Config{AssetID: "X", Amount: 1}); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestReadPoints(t *testing.T) {
	in := `[
		{"timestamp":"2024-01-03T00:00:00Z","close":12},
		{"timestamp":"2024-01-01T00:00:00Z","price":10},
		{"timestamp":"2024-01-02T00:00:00Z","close":11}
	]`
	points, err := ReadPoints(strings.NewReader(in))
	if err != nil {
		t.Fatalf("ReadPoints: %v", err)
	}
	got := model.Closes(points)
	if len(got) != 3 || got[0] != 10 || got[1] != 11 || got[2] != 12 {
		t.Fatalf("closes = %v, want sorted [10 11 12]", got)
	}

	bad := []string{
		`{"not":"an array"}`,
		`[{"timestamp":"2024-01-01T00:00:00Z","close":-1}]`,
		`[{"close":5}]`,
		`[{"timestamp":"2024-01-01T00:00:00Z"}]`,
	}
	for _, b := range bad {
		if _, err := ReadPoints(strings.NewReader(b)); err == nil {
			t.Errorf("expected error for %s", b)
		}
	}
}

func TestImport_SQLite(t *testing.T) {
	store, err := sqlite.Open(filepath.Join(t.TempDir(), "game.db"))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer store.Close()

	ctx := context.Background()
	n, err := Import(ctx, store.Writer, "BTC", series(1, 2, 3, 4, 5))
	if err != nil || n != 5 {
		t.Fatalf("Import = %d, %v", n, err)
	}
	hist, err := store.ReadHistory(ctx, "BTC", 0)
	if err != nil {
		t.Fatalf("ReadHistory: %v", err)
	}
	if len(hist) != 5 || hist[4].Close != 5 {
		t.Fatalf("history = %+v", hist)
	}

	if _, err := Import(ctx, store.Writer, "", nil); err == nil {
		t.Fatal("expected error for empty asset")
	}
}
