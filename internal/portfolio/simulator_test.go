package portfolio

import (
	"errors"
	"math"
	"reflect"
	"sync"
	"testing"
)

func assertClose(t *testing.T, label string, got, want float64) {
	t.Helper()
	if math.Abs(got-want) > 1e-9 {
		t.Errorf("%s: got %.6f, want %.6f", label, got, want)
	}
}

func newSim(balance float64, policy ShortfallPolicy) *Simulator {
	return NewSimulator("s1", balance, Options{Policy: policy})
}

func TestOpenLong_MarginAndLoan(t *testing.T) {
	sim := newSim(1000, ShortfallCarry)
	pos, err := sim.OpenLong("BTC", 1, 100, 2)
	if err != nil {
		t.Fatalf("OpenLong: %v", err)
	}
	acct := sim.Snapshot()
	assertClose(t, "margin", pos.Margin, 50)
	assertClose(t, "borrowed", pos.Borrowed, 50)
	assertClose(t, "balance", acct.Balance, 950)
	assertClose(t, "loan", acct.Loan, 50)
	if len(acct.Longs) != 1 || acct.Longs[0].ID != pos.ID {
		t.Fatalf("expected the position in the long book, got %+v", acct.Longs)
	}
}

func TestCloseLong_RealizesLeveragedPnL(t *testing.T) {
	sim := newSim(1000, ShortfallCarry)
	pos, _ := sim.OpenLong("BTC", 1, 100, 2)

	st, err := sim.CloseLong(pos.ID, 120)
	if err != nil {
		t.Fatalf("CloseLong: %v", err)
	}
	acct := sim.Snapshot()
	assertClose(t, "pnl", st.PnL, 40)
	assertClose(t, "balance", acct.Balance, 1040)
	assertClose(t, "loan", acct.Loan, 0)
	assertClose(t, "realized", acct.RealizedPnL, 40)
	if len(acct.Longs) != 0 {
		t.Fatal("position should be removed")
	}
}

func TestOpenLong_NoLeverageBorrowsNothing(t *testing.T) {
	sim := newSim(1000, ShortfallCarry)
	pos, err := sim.OpenLong("BTC", 2, 100, 1)
	if err != nil {
		t.Fatal(err)
	}
	assertClose(t, "borrowed", pos.Borrowed, 0)
	assertClose(t, "loan", sim.Snapshot().Loan, 0)
}

func TestShort_OpenAndClose(t *testing.T) {
	sim := newSim(1000, ShortfallCarry)
	pos, err := sim.OpenShort("ETH", 1, 100, 2)
	if err != nil {
		t.Fatalf("OpenShort: %v", err)
	}
	acct := sim.Snapshot()
	assertClose(t, "margin locked", pos.Margin, 50)
	assertClose(t, "balance", acct.Balance, 950)
	assertClose(t, "loan", acct.Loan, 100)

	st, err := sim.CloseShort(pos.ID, 90)
	if err != nil {
		t.Fatalf("CloseShort: %v", err)
	}
	acct = sim.Snapshot()
	assertClose(t, "pnl", st.PnL, 20) // (100-90)*1*2
	assertClose(t, "balance", acct.Balance, 1020)
	assertClose(t, "loan", acct.Loan, 0)
}

func TestEquityInvariant_OpenCloseAtUnchangedPrice(t *testing.T) {
	sim := newSim(1000, ShortfallCarry)
	prices := map[string]float64{"BTC": 100, "ETH": 50}
	start := sim.Equity(prices)

	l, _ := sim.OpenLong("BTC", 2, 100, 3)
	assertClose(t, "after long", sim.Equity(prices), start)
	sh, _ := sim.OpenShort("ETH", 4, 50, 2)
	assertClose(t, "after short", sim.Equity(prices), start)
	if _, err := sim.BuySpot("ETH", 1, 50); err != nil {
		t.Fatal(err)
	}
	assertClose(t, "after spot", sim.Equity(prices), start)

	// Price moves change equity by exactly the leveraged P&L.
	moved := map[string]float64{"BTC": 110, "ETH": 45}
	wantMoved := start + (110-100)*2*3 + (50-45)*4*2 + (45-50)*1
	assertClose(t, "moved", sim.Equity(moved), wantMoved)

	// Closing at the moved prices leaves equity where it was.
	if _, err := sim.CloseLong(l.ID, 110); err != nil {
		t.Fatal(err)
	}
	if _, err := sim.CloseShort(sh.ID, 45); err != nil {
		t.Fatal(err)
	}
	assertClose(t, "after closes", sim.Equity(moved), wantMoved)
	assertClose(t, "loan", sim.Snapshot().Loan, 0)
}

func TestOpen_InsufficientBalanceLeavesStateUntouched(t *testing.T) {
	sim := newSim(100, ShortfallCarry)
	before := sim.Snapshot()

	_, err := sim.OpenLong("BTC", 3, 100, 2) // margin 150
	if !errors.Is(err, ErrInsufficientBalance) {
		t.Fatalf("expected ErrInsufficientBalance, got %v", err)
	}
	_, err = sim.OpenShort("BTC", 10, 100, 5) // margin 200
	if !errors.Is(err, ErrInsufficientBalance) {
		t.Fatalf("expected ErrInsufficientBalance, got %v", err)
	}
	if !reflect.DeepEqual(before, sim.Snapshot()) {
		t.Fatal("failed open must not mutate the account")
	}
}

func TestClose_PositionNotFound(t *testing.T) {
	sim := newSim(1000, ShortfallCarry)
	pos, _ := sim.OpenShort("BTC", 1, 100, 2)
	before := sim.Snapshot()

	if _, err := sim.CloseLong("missing", 100); !errors.Is(err, ErrPositionNotFound) {
		t.Fatalf("expected ErrPositionNotFound, got %v", err)
	}
	// A short id is not found in the long book.
	if _, err := sim.CloseLong(pos.ID, 100); !errors.Is(err, ErrPositionNotFound) {
		t.Fatalf("expected ErrPositionNotFound for wrong side, got %v", err)
	}
	if !reflect.DeepEqual(before, sim.Snapshot()) {
		t.Fatal("failed close must not mutate the account")
	}
}

func TestOpen_InvalidOrder(t *testing.T) {
	sim := newSim(1000, ShortfallCarry)
	cases := []struct {
		name     string
		asset    string
		amount   float64
		price    float64
		leverage float64
	}{
		{"zero amount", "BTC", 0, 100, 1},
		{"negative price", "BTC", 1, -1, 1},
		{"leverage below one", "BTC", 1, 100, 0.5},
		{"nan leverage", "BTC", 1, 100, math.NaN()},
		{"missing asset", "", 1, 100, 1},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := sim.OpenLong(tc.asset, tc.amount, tc.price, tc.leverage); !errors.Is(err, ErrInvalidOrder) {
				t.Fatalf("expected ErrInvalidOrder, got %v", err)
			}
		})
	}
}

func TestRiskLimits(t *testing.T) {
	sim := NewSimulator("s", 10000, Options{Limits: RiskLimits{MaxLeverage: 5, MaxOpenPositions: 1}})
	if _, err := sim.OpenLong("BTC", 1, 100, 6); !errors.Is(err, ErrRiskLimit) {
		t.Fatalf("expected ErrRiskLimit for leverage, got %v", err)
	}
	if _, err := sim.OpenLong("BTC", 1, 100, 5); err != nil {
		t.Fatal(err)
	}
	if _, err := sim.OpenShort("BTC", 1, 100, 2); !errors.Is(err, ErrRiskLimit) {
		t.Fatalf("expected ErrRiskLimit for position count, got %v", err)
	}
}

func TestSpot_BuySellWeightedAverage(t *testing.T) {
	sim := newSim(1000, ShortfallCarry)
	if _, err := sim.BuySpot("BTC", 1, 100); err != nil {
		t.Fatal(err)
	}
	h, err := sim.BuySpot("BTC", 1, 200)
	if err != nil {
		t.Fatal(err)
	}
	assertClose(t, "avg", h.AvgPrice, 150)
	assertClose(t, "amount", h.Amount, 2)

	realized, err := sim.SellSpot("BTC", 1, 180)
	if err != nil {
		t.Fatal(err)
	}
	assertClose(t, "realized", realized, 30)
	assertClose(t, "balance", sim.Snapshot().Balance, 1000-300+180)

	if _, err := sim.SellSpot("BTC", 5, 180); !errors.Is(err, ErrInsufficientHoldings) {
		t.Fatalf("expected ErrInsufficientHoldings, got %v", err)
	}
	if _, err := sim.BuySpot("BTC", 100, 100); !errors.Is(err, ErrInsufficientBalance) {
		t.Fatalf("expected ErrInsufficientBalance, got %v", err)
	}

	if _, err := sim.SellSpot("BTC", 1, 100); err != nil {
		t.Fatal(err)
	}
	if _, ok := sim.Snapshot().Spot["BTC"]; ok {
		t.Fatal("emptied holding should be removed")
	}
}

func TestSnapshot_IsDeepCopy(t *testing.T) {
	sim := newSim(1000, ShortfallCarry)
	sim.BuySpot("BTC", 1, 10)
	sim.OpenLong("BTC", 1, 10, 2)

	snap := sim.Snapshot()
	snap.Spot["BTC"] = SpotHolding{Amount: 99}
	snap.Longs[0].Amount = 99

	again := sim.Snapshot()
	if again.Spot["BTC"].Amount != 1 || again.Longs[0].Amount != 1 {
		t.Fatal("mutating a snapshot leaked into the simulator")
	}
}

func TestNewSimulatorFromAccount_Resumes(t *testing.T) {
	sim := newSim(1000, ShortfallCarry)
	pos, _ := sim.OpenLong("BTC", 1, 100, 2)

	resumed := NewSimulatorFromAccount(sim.Snapshot(), Options{})
	if resumed.Policy() != ShortfallCarry {
		t.Fatalf("empty policy should default to carry, got %q", resumed.Policy())
	}
	if _, err := resumed.CloseLong(pos.ID, 120); err != nil {
		t.Fatalf("resumed close: %v", err)
	}
	assertClose(t, "balance", resumed.Snapshot().Balance, 1040)
}

func TestSimulator_ConcurrentMutationsSerialize(t *testing.T) {
	sim := newSim(1000, ShortfallCarry)
	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := sim.BuySpot("BTC", 1, 1); err != nil {
				t.Error(err)
			}
			sim.MarkToMarket(map[string]float64{"BTC": 1})
		}()
	}
	wg.Wait()

	acct := sim.Snapshot()
	assertClose(t, "balance", acct.Balance, 900)
	assertClose(t, "holding", acct.Spot["BTC"].Amount, 100)
}
