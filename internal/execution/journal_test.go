package execution

import (
	"context"
	"path/filepath"
	"testing"
	"time"
)

func TestJournal_RecordAndGetTrades(t *testing.T) {
	j, err := NewJournal(filepath.Join(t.TempDir(), "journal.db"))
	if err != nil {
		t.Fatalf("NewJournal: %v", err)
	}
	defer j.Close()
	ctx := context.Background()

	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	fills := []Fill{
		{OrderID: "PAPER-1", SessionID: "a", Action: OpenLong, AssetID: "BTC", Amount: 0.1, FillPrice: 100.25, Leverage: 2, Balance: 994.9875, FilledAt: now},
		{OrderID: "PAPER-2", SessionID: "b", Action: Buy, AssetID: "ETH", Amount: 1, FillPrice: 50, Leverage: 1, FilledAt: now},
		{OrderID: "PAPER-3", SessionID: "a", Action: CloseLong, AssetID: "BTC", Amount: 0.1, FillPrice: 110, Leverage: 2, PnL: 1.95, Reason: "take profit", FilledAt: now.Add(time.Minute)},
	}
	for _, f := range fills {
		if err := j.RecordFill(ctx, f); err != nil {
			t.Fatalf("RecordFill: %v", err)
		}
	}

	trades, err := j.GetTrades(ctx, "a", 10)
	if err != nil {
		t.Fatalf("GetTrades: %v", err)
	}
	if len(trades) != 2 {
		t.Fatalf("expected 2 trades for session a, got %d", len(trades))
	}
	if trades[0].OrderID != "PAPER-3" {
		t.Fatalf("expected newest first, got %s", trades[0].OrderID)
	}
	if trades[0].PnL.String() != "1.95" || trades[0].Reason != "take profit" {
		t.Errorf("unexpected close row %+v", trades[0])
	}
	if trades[1].Price.String() != "100.25" || trades[1].Balance.String() != "994.9875" {
		t.Errorf("decimal columns must round trip exactly, got price=%s balance=%s", trades[1].Price, trades[1].Balance)
	}

	limited, err := j.GetTrades(ctx, "a", 1)
	if err != nil || len(limited) != 1 {
		t.Fatalf("limit not applied: %d %v", len(limited), err)
	}

	none, err := j.GetTrades(ctx, "missing", 10)
	if err != nil || len(none) != 0 {
		t.Fatalf("expected empty result, got %d %v", len(none), err)
	}
}
