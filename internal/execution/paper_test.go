package execution

import (
	"context"
	"errors"
	"math"
	"sync"
	"testing"

	"investgame/internal/portfolio"
	"investgame/internal/strategy"
)

type memRecorder struct {
	mu    sync.Mutex
	fills []Fill
}

func (m *memRecorder) RecordFill(_ context.Context, f Fill) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fills = append(m.fills, f)
	return nil
}

func newDesk(t *testing.T, bps int64) (*PaperDesk, *memRecorder, string) {
	t.Helper()
	reg := portfolio.NewRegistry(1000, portfolio.Options{})
	rec := &memRecorder{}
	sim := reg.Create(0)
	return NewPaperDesk(reg, rec, bps), rec, sim.SessionID()
}

func TestPaperDesk_OpenAndCloseLong(t *testing.T) {
	desk, rec, sid := newDesk(t, 0)
	ctx := context.Background()

	open, err := desk.Execute(ctx, Order{SessionID: sid, Action: OpenLong, AssetID: "BTC", Amount: 1, Price: 100, Leverage: 2})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if open.PositionID == "" || open.Balance != 950 || open.Loan != 50 {
		t.Fatalf("unexpected open fill %+v", open)
	}

	closeFill, err := desk.Execute(ctx, Order{SessionID: sid, Action: CloseLong, PositionID: open.PositionID, Price: 120})
	if err != nil {
		t.Fatalf("close: %v", err)
	}
	if closeFill.PnL != 40 || closeFill.Balance != 1040 || closeFill.Loan != 0 {
		t.Fatalf("unexpected close fill %+v", closeFill)
	}
	if closeFill.AssetID != "BTC" {
		t.Errorf("close fill should carry the position asset, got %q", closeFill.AssetID)
	}
	if len(rec.fills) != 2 {
		t.Fatalf("expected 2 journaled fills, got %d", len(rec.fills))
	}
	if rec.fills[0].OrderID == rec.fills[1].OrderID {
		t.Fatal("order ids must be unique")
	}
}

func TestPaperDesk_DefaultLeverageAndSpot(t *testing.T) {
	desk, _, sid := newDesk(t, 0)
	ctx := context.Background()

	f, err := desk.Execute(ctx, Order{SessionID: sid, Action: OpenShort, AssetID: "ETH", Amount: 1, Price: 100})
	if err != nil {
		t.Fatal(err)
	}
	if f.Leverage != 1 || f.Loan != 100 {
		t.Fatalf("zero leverage should mean 1x, got %+v", f)
	}

	if _, err := desk.Execute(ctx, Order{SessionID: sid, Action: Buy, AssetID: "SOL", Amount: 2, Price: 10}); err != nil {
		t.Fatal(err)
	}
	sell, err := desk.Execute(ctx, Order{SessionID: sid, Action: Sell, AssetID: "SOL", Amount: 2, Price: 15})
	if err != nil {
		t.Fatal(err)
	}
	if sell.PnL != 10 {
		t.Fatalf("spot sell pnl = %v, want 10", sell.PnL)
	}
}

func TestPaperDesk_Slippage(t *testing.T) {
	desk, _, sid := newDesk(t, 50) // 0.5%

	buy, sell := desk.FillPrice(OpenLong, 100)
	if math.Abs(buy-100.5) > 1e-9 || math.Abs(sell-0.5) > 1e-9 {
		t.Fatalf("buy fill = %v slip = %v, want 100.5 and 0.5", buy, sell)
	}
	p, _ := desk.FillPrice(CloseLong, 100)
	if math.Abs(p-99.5) > 1e-9 {
		t.Fatalf("sell fill = %v, want 99.5", p)
	}

	f, err := desk.Execute(context.Background(), Order{SessionID: sid, Action: Buy, AssetID: "BTC", Amount: 1, Price: 200})
	if err != nil {
		t.Fatal(err)
	}
	if math.Abs(f.FillPrice-201) > 1e-9 || math.Abs(f.Balance-799) > 1e-9 {
		t.Fatalf("unexpected slipped fill %+v", f)
	}
}

func TestPaperDesk_Errors(t *testing.T) {
	desk, rec, sid := newDesk(t, 0)
	ctx := context.Background()

	tests := []struct {
		name  string
		order Order
		want  error
	}{
		{"unknown session", Order{SessionID: "nope", Action: Buy, AssetID: "BTC", Amount: 1, Price: 1}, portfolio.ErrSessionNotFound},
		{"unknown action", Order{SessionID: sid, Action: "hold", AssetID: "BTC", Amount: 1, Price: 1}, portfolio.ErrInvalidOrder},
		{"overdraw", Order{SessionID: sid, Action: OpenLong, AssetID: "BTC", Amount: 100, Price: 100, Leverage: 2}, portfolio.ErrInsufficientBalance},
		{"missing position", Order{SessionID: sid, Action: CloseShort, PositionID: "x", Price: 1}, portfolio.ErrPositionNotFound},
		{"oversell", Order{SessionID: sid, Action: Sell, AssetID: "BTC", Amount: 1, Price: 1}, portfolio.ErrInsufficientHoldings},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := desk.Execute(ctx, tt.order); !errors.Is(err, tt.want) {
				t.Fatalf("got %v, want %v", err, tt.want)
			}
		})
	}
	if len(rec.fills) != 0 {
		t.Fatalf("rejected orders must not be journaled, got %d", len(rec.fills))
	}
}

func TestExecutor_FlipsAndExits(t *testing.T) {
	desk, _, sid := newDesk(t, 0)
	ex := NewExecutor(desk, sid, 2, 8)
	ctx := context.Background()

	res := ex.Handle(ctx, strategy.Signal{Action: strategy.ActionBuy, AssetID: "BTC", Amount: 1, Price: 100})
	if len(res) != 1 || res[0].Status != "FILLED" || res[0].Fill.Action != OpenLong {
		t.Fatalf("BUY should open a long, got %+v", res)
	}

	res = ex.Handle(ctx, strategy.Signal{Action: strategy.ActionBuy, AssetID: "BTC", Amount: 1, Price: 101})
	if len(res) != 1 || res[0].Status != "SKIPPED" {
		t.Fatalf("repeated BUY should be skipped, got %+v", res)
	}

	res = ex.Handle(ctx, strategy.Signal{Action: strategy.ActionSell, AssetID: "BTC", Amount: 1, Price: 110})
	if len(res) != 2 || res[0].Fill.Action != CloseLong || res[1].Fill.Action != OpenShort {
		t.Fatalf("SELL should close the long then open a short, got %+v", res)
	}
	if res[0].Fill.PnL != 20 {
		t.Fatalf("close pnl = %v, want 20", res[0].Fill.PnL)
	}

	res = ex.Handle(ctx, strategy.Signal{Action: strategy.ActionExit, AssetID: "BTC", Price: 100})
	if len(res) != 1 || res[0].Fill.Action != CloseShort {
		t.Fatalf("EXIT should close the short, got %+v", res)
	}
	if res := ex.Handle(ctx, strategy.Signal{Action: strategy.ActionExit, AssetID: "BTC", Price: 100}); len(res) != 0 {
		t.Fatalf("EXIT with nothing open should do nothing, got %+v", res)
	}
}

func TestExecutor_RunDrainsSignals(t *testing.T) {
	desk, _, sid := newDesk(t, 0)
	ex := NewExecutor(desk, sid, 1, 8)

	sigs := make(chan strategy.Signal, 2)
	sigs <- strategy.Signal{Action: strategy.ActionBuy, AssetID: "BTC", Amount: 1, Price: 10}
	sigs <- strategy.Signal{Action: strategy.ActionExit, AssetID: "BTC", Price: 12}
	close(sigs)

	ex.Run(context.Background(), sigs)

	var statuses []string
	for len(ex.Results()) > 0 {
		statuses = append(statuses, (<-ex.Results()).Status)
	}
	if len(statuses) != 2 || statuses[0] != "FILLED" || statuses[1] != "FILLED" {
		t.Fatalf("expected two fills, got %v", statuses)
	}
}
