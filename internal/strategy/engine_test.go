package strategy

import (
	"context"
	"testing"
	"time"

	"investgame/internal/model"
)

func TestSMACrossover_GoldenAndDeathCross(t *testing.T) {
	s := NewSMACrossover(2, 4, 1, 0)
	var got []Action
	// flat, then rally, then collapse
	prices := []float64{10, 10, 10, 10, 10, 12, 14, 16, 12, 8, 4}
	for _, p := range series(prices...) {
		if sig := s.OnPrice("BTC", p); sig != nil {
			got = append(got, sig.Action)
			if sig.AssetID != "BTC" || sig.Amount != 1 {
				t.Errorf("unexpected signal fields %+v", sig)
			}
		}
	}
	if len(got) != 2 || got[0] != ActionBuy || got[1] != ActionSell {
		t.Fatalf("expected [BUY SELL], got %v", got)
	}
}

func TestVerdictFollower_EntersAndExits(t *testing.T) {
	f := NewVerdictFollower(1, 60)
	var got []Action
	for _, p := range linear(60, 100, 1) {
		if sig := f.OnPrice("ETH", p); sig != nil {
			got = append(got, sig.Action)
		}
	}
	if len(got) == 0 || got[0] != ActionBuy {
		t.Fatalf("expected first signal BUY on rising series, got %v", got)
	}

	// A flat tail drives momentum negative and the verdict away from buy.
	var exit bool
	for _, p := range linear(30, 159, 0) {
		if sig := f.OnPrice("ETH", p); sig != nil && sig.Action == ActionExit {
			exit = true
		}
	}
	if !exit {
		t.Fatal("expected an EXIT once the rally stalls")
	}
}

func TestEngine_RunRoutesSignals(t *testing.T) {
	e := NewEngine(8)
	e.Register(NewSMACrossover(2, 4, 1, 0))

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	ticks := make(chan model.AssetPrice)
	done := make(chan struct{})
	go func() {
		e.Run(ctx, ticks)
		close(done)
	}()
	for _, p := range series(10, 10, 10, 10, 10, 12, 14, 16) {
		ticks <- model.AssetPrice{AssetID: "BTC", Point: p}
	}
	close(ticks)
	<-done

	select {
	case sig := <-e.Signals():
		if sig.Action != ActionBuy {
			t.Fatalf("expected BUY, got %s", sig.Action)
		}
	default:
		t.Fatal("expected a signal on the channel")
	}
}
