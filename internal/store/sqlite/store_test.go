package sqlite

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"investgame/internal/indicator"
	"investgame/internal/model"
	"investgame/internal/portfolio"
)

func openStore(t *testing.T) (*Writer, *Reader) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "game.db")
	w, err := New(WriterConfig{DBPath: path})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	r, err := NewReader(path)
	if err != nil {
		t.Fatalf("NewReader: %v", err)
	}
	t.Cleanup(func() {
		r.Close()
		w.Close()
	})
	return w, r
}

func day(i int) time.Time {
	return time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC).AddDate(0, 0, i)
}

func TestHistory_SaveReadOrdering(t *testing.T) {
	w, r := openStore(t)
	ctx := context.Background()

	// Written out of order; read back ascending.
	points := []model.PricePoint{
		{Timestamp: day(2), Close: 12},
		{Timestamp: day(0), Close: 10},
		{Timestamp: day(1), Close: 11},
	}
	if err := w.SaveHistory(ctx, "BTC", points); err != nil {
		t.Fatalf("SaveHistory: %v", err)
	}
	if err := w.AppendPrice(ctx, model.AssetPrice{AssetID: "BTC", Point: model.PricePoint{Timestamp: day(3), Close: 13}}); err != nil {
		t.Fatalf("AppendPrice: %v", err)
	}
	// Same timestamp replaces.
	if err := w.AppendPrice(ctx, model.AssetPrice{AssetID: "BTC", Point: model.PricePoint{Timestamp: day(1), Close: 11.5}}); err != nil {
		t.Fatal(err)
	}
	w.AppendPrice(ctx, model.AssetPrice{AssetID: "ETH", Point: model.PricePoint{Timestamp: day(0), Close: 5}})

	got, err := r.ReadHistory(ctx, "BTC", 0)
	if err != nil {
		t.Fatalf("ReadHistory: %v", err)
	}
	want := []float64{10, 11.5, 12, 13}
	if len(got) != len(want) {
		t.Fatalf("expected %d points, got %d", len(want), len(got))
	}
	for i, p := range got {
		if p.Close != want[i] || !p.Timestamp.Equal(day(i)) {
			t.Errorf("point %d: got %v@%v, want %v@%v", i, p.Close, p.Timestamp, want[i], day(i))
		}
	}

	tail, err := r.ReadHistory(ctx, "BTC", 2)
	if err != nil || len(tail) != 2 || tail[0].Close != 12 || tail[1].Close != 13 {
		t.Fatalf("limit should return the latest points ascending, got %+v %v", tail, err)
	}

	latest, err := r.LatestPrices(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if latest["BTC"] != 13 || latest["ETH"] != 5 {
		t.Fatalf("unexpected latest prices %v", latest)
	}
}

func TestWriter_RunFlushesOnClose(t *testing.T) {
	w, r := openStore(t)
	ch := make(chan model.AssetPrice, 10)
	for i := 0; i < 5; i++ {
		ch <- model.AssetPrice{AssetID: "SOL", Point: model.PricePoint{Timestamp: day(i), Close: float64(i)}}
	}
	close(ch)
	w.Run(context.Background(), ch)

	got, err := r.ReadHistory(context.Background(), "SOL", 0)
	if err != nil || len(got) != 5 {
		t.Fatalf("expected 5 flushed points, got %d %v", len(got), err)
	}
}

func TestAccounts_SaveLatest(t *testing.T) {
	w, r := openStore(t)
	ctx := context.Background()

	if _, err := r.LatestAccount(ctx, "nope"); !errors.Is(err, portfolio.ErrSessionNotFound) {
		t.Fatalf("expected ErrSessionNotFound, got %v", err)
	}

	sim := portfolio.NewSimulator("s1", 1000, portfolio.Options{})
	w.SaveAccount(ctx, sim.Snapshot())
	if _, err := sim.OpenLong("BTC", 1, 100, 2); err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 7; i++ {
		if err := w.SaveAccount(ctx, sim.Snapshot()); err != nil {
			t.Fatalf("SaveAccount: %v", err)
		}
	}
	w.SaveAccount(ctx, portfolio.NewAccount("s2", 50))

	acct, err := r.LatestAccount(ctx, "s1")
	if err != nil {
		t.Fatalf("LatestAccount: %v", err)
	}
	if acct.Balance != 950 || acct.Loan != 50 || len(acct.Longs) != 1 {
		t.Fatalf("unexpected latest account %+v", acct)
	}

	all, err := r.AllLatestAccounts(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 2 || all[0].SessionID != "s1" || all[1].SessionID != "s2" {
		t.Fatalf("unexpected accounts %+v", all)
	}

	var n int
	if err := w.DB().QueryRow(`SELECT COUNT(*) FROM account_snapshots WHERE session_id = 's1'`).Scan(&n); err != nil {
		t.Fatal(err)
	}
	if n != keepAccountSnapshots {
		t.Fatalf("expected pruning to keep %d snapshots, got %d", keepAccountSnapshots, n)
	}
}

func TestEndSession_HidesAccount(t *testing.T) {
	w, r := openStore(t)
	ctx := context.Background()

	w.SaveAccount(ctx, portfolio.NewAccount("s1", 100))
	w.SaveAccount(ctx, portfolio.NewAccount("s2", 200))
	if err := w.EndSession(ctx, "s1"); err != nil {
		t.Fatalf("EndSession: %v", err)
	}
	// A snapshot racing the end is still hidden.
	w.SaveAccount(ctx, portfolio.NewAccount("s1", 100))

	all, err := r.AllLatestAccounts(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 1 || all[0].SessionID != "s2" {
		t.Fatalf("expected only s2, got %+v", all)
	}
	if _, err := r.LatestAccount(ctx, "s1"); !errors.Is(err, portfolio.ErrSessionNotFound) {
		t.Fatalf("expected ErrSessionNotFound for ended session, got %v", err)
	}
}

func TestEngineSnapshot_SaveRead(t *testing.T) {
	w, r := openStore(t)
	ctx := context.Background()

	snap, err := r.ReadLatestSnapshot(ctx)
	if err != nil || snap != nil {
		t.Fatalf("expected no snapshot, got %v %v", snap, err)
	}

	e := indicator.NewEngine(indicator.DefaultConfigs())
	for i := 0; i < 30; i++ {
		e.Process("BTC", model.PricePoint{Timestamp: day(i), Close: 100 + float64(i)})
	}
	es, err := indicator.SnapshotEngine(e)
	if err != nil {
		t.Fatal(err)
	}
	if err := w.SaveSnapshot(ctx, es); err != nil {
		t.Fatalf("SaveSnapshot: %v", err)
	}

	got, err := r.ReadLatestSnapshot(ctx)
	if err != nil || got == nil {
		t.Fatalf("ReadLatestSnapshot: %v %v", got, err)
	}
	if len(got.Assets) != 1 || got.Assets[0].AssetID != "BTC" {
		t.Fatalf("unexpected snapshot %+v", got)
	}
}

func TestStore_OpenSharesFile(t *testing.T) {
	s, err := Open(filepath.Join(t.TempDir(), "game.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer s.Close()

	ctx := context.Background()
	if err := s.AppendPrice(ctx, model.AssetPrice{AssetID: "BTC", Point: model.PricePoint{Timestamp: day(0), Close: 42}}); err != nil {
		t.Fatalf("AppendPrice: %v", err)
	}
	got, err := s.ReadHistory(ctx, "BTC", 0)
	if err != nil || len(got) != 1 || got[0].Close != 42 {
		t.Fatalf("ReadHistory = %v, %v", got, err)
	}
	if err := s.DB().PingContext(ctx); err != nil {
		t.Fatalf("ping: %v", err)
	}
}
