package indicator

import (
	"encoding/json"
	"math"
	"testing"
)

var rsiReference = []float64{
	44, 44.25, 44.5, 43.75, 44.65, 45.12, 45.84, 46.08, 45.89,
	46.03, 45.61, 46.28, 46.28, 46, 46.03, 46.41, 46.22, 45.64,
}

func rising(n int, start, step float64) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = start + float64(i)*step
	}
	return out
}

// wave is a deterministic, non-monotonic series for property checks.
func wave(n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = 100 + 10*math.Sin(float64(i)/3) + float64(i%7)
	}
	return out
}

func assertMonotonicValidity(t *testing.T, label string, s Series) {
	t.Helper()
	seen := false
	for i, v := range s {
		if v.Valid {
			seen = true
		} else if seen {
			t.Fatalf("%s: index %d reverted to invalid", label, i)
		}
	}
}

func TestSMASeries_Scenario(t *testing.T) {
	got := SMASeries([]float64{10, 20, 30}, 3)
	if len(got) != 3 {
		t.Fatalf("expected length 3, got %d", len(got))
	}
	if got[0].Valid || got[1].Valid {
		t.Fatalf("expected leading nulls, got %+v", got)
	}
	if !got[2].Valid || got[2].V != 20 {
		t.Fatalf("expected 20 at index 2, got %+v", got[2])
	}
}

func TestShortInput_AllInvalid(t *testing.T) {
	prices := []float64{1, 2, 3, 4}
	for name, s := range map[string]Series{
		"SMA": SMASeries(prices, 5),
		"EMA": EMASeries(prices, 5),
		"RSI": RSISeries(prices, 4), // needs period+1
	} {
		if len(s) != len(prices) {
			t.Errorf("%s: length %d, want %d", name, len(s), len(prices))
		}
		if s.FirstValid() != -1 {
			t.Errorf("%s: expected all invalid, got %+v", name, s)
		}
	}
	if _, ok := SMALatest(prices, 5); ok {
		t.Error("SMALatest should report no value for short input")
	}
}

func TestNonPositivePeriod_AllInvalid(t *testing.T) {
	prices := rising(10, 1, 1)
	if SMASeries(prices, 0).FirstValid() != -1 || EMASeries(prices, -1).FirstValid() != -1 {
		t.Fatal("non-positive period must yield all-invalid series")
	}
	if b := Bollinger(prices, 0, 2); b.Middle.FirstValid() != -1 {
		t.Fatal("Bollinger with period 0 must be all invalid")
	}
}

func TestSMASeries_MixedMagnitudes(t *testing.T) {
	got := SMASeries([]float64{1e16, 1, 1}, 2)
	if !got[2].Valid || got[2].V != 1 {
		t.Fatalf("expected 1 once the large close leaves the window, got %+v", got[2])
	}
	b := Bollinger([]float64{1e16, 3, 5, 3, 5}, 2, 2)
	assertClose(t, "middle", b.Middle[4].V, 4, 1e-9)
	assertClose(t, "upper", b.Upper[4].V, 6, 1e-9)
}

func TestSMALatest(t *testing.T) {
	v, ok := SMALatest([]float64{1, 2, 3, 4, 5}, 2)
	if !ok || v != 4.5 {
		t.Fatalf("expected 4.5, got %v ok=%v", v, ok)
	}
}

func TestEMASeries_SeedAndRecurrence(t *testing.T) {
	s := EMASeries([]float64{100, 102, 104, 103, 105}, 3)
	if s.FirstValid() != 2 {
		t.Fatalf("seed should sit at index period-1=2, got %d", s.FirstValid())
	}
	assertClose(t, "seed", s[2].V, 102, 1e-9)
	assertClose(t, "ema[3]", s[3].V, 102.5, 1e-9)
	assertClose(t, "ema[4]", s[4].V, 103.75, 1e-9)
}

func TestRSISeries_ReferenceScenario(t *testing.T) {
	s := RSISeries(rsiReference, 14)
	if len(s) != len(rsiReference) {
		t.Fatalf("length %d, want %d", len(s), len(rsiReference))
	}
	if s.FirstValid() != 14 {
		t.Fatalf("first RSI should be at index 14, got %d", s.FirstValid())
	}
	if v := s[14].V; !(v > 0 && v < 100) {
		t.Fatalf("RSI[14] should be strictly inside (0,100), got %f", v)
	}
	assertMonotonicValidity(t, "RSI", s)
}

func TestRSISeries_Bounded(t *testing.T) {
	for _, prices := range [][]float64{wave(120), rising(40, 10, 1), rising(40, 100, -1)} {
		for i, v := range RSISeries(prices, 14) {
			if v.Valid && (v.V < 0 || v.V > 100) {
				t.Fatalf("RSI[%d]=%f out of [0,100]", i, v.V)
			}
		}
	}
}

func TestMACD_SmallPeriods(t *testing.T) {
	// fast EMA(2): 1.5, 2.5, 3.5, 4.5, 5.5 from index 1
	// slow EMA(3): 2, 3, 4, 5 from index 2
	// MACD = 0.5 from index 2; signal EMA(2) of the MACD suffix starts at 2+2-1 = 3
	res := MACD([]float64{1, 2, 3, 4, 5, 6}, 2, 3, 2)

	if res.MACD.FirstValid() != 2 {
		t.Fatalf("first MACD index = %d, want 2", res.MACD.FirstValid())
	}
	if res.Signal.FirstValid() != 3 {
		t.Fatalf("first signal index = %d, want 3", res.Signal.FirstValid())
	}
	for i := 2; i < 6; i++ {
		assertClose(t, "macd", res.MACD[i].V, 0.5, 1e-9)
	}
	for i := 3; i < 6; i++ {
		assertClose(t, "signal", res.Signal[i].V, 0.5, 1e-9)
		assertClose(t, "hist", res.Histogram[i].V, 0, 1e-9)
	}
}

func TestMACD_HistogramInvariant(t *testing.T) {
	prices := wave(120)
	res := MACD(prices, DefaultMACDFast, DefaultMACDSlow, DefaultMACDSignal)

	for name, s := range map[string]Series{"macd": res.MACD, "signal": res.Signal, "hist": res.Histogram} {
		if len(s) != len(prices) {
			t.Fatalf("%s length %d, want %d", name, len(s), len(prices))
		}
		assertMonotonicValidity(t, name, s)
	}

	wantSignal := res.MACD.FirstValid() + DefaultMACDSignal - 1
	if res.Signal.FirstValid() != wantSignal {
		t.Fatalf("signal starts at %d, want %d", res.Signal.FirstValid(), wantSignal)
	}
	for i := range prices {
		both := res.MACD[i].Valid && res.Signal[i].Valid
		if res.Histogram[i].Valid != both {
			t.Fatalf("index %d: histogram validity %v, macd&&signal %v", i, res.Histogram[i].Valid, both)
		}
		if both && math.Abs(res.Histogram[i].V-(res.MACD[i].V-res.Signal[i].V)) > 1e-9 {
			t.Fatalf("index %d: histogram is not macd-signal", i)
		}
	}
}

func TestMACD_ShortInput(t *testing.T) {
	res := MACD(rising(20, 1, 1), 12, 26, 9)
	if res.MACD.FirstValid() != -1 || res.Signal.FirstValid() != -1 || res.Histogram.FirstValid() != -1 {
		t.Fatal("expected all-invalid MACD for input shorter than slow period")
	}
}

func TestBollinger_KnownWindow(t *testing.T) {
	b := Bollinger([]float64{2, 4, 4, 4, 5, 5, 7, 9}, 8, 2)
	assertClose(t, "middle", b.Middle[7].V, 5, 1e-9)
	assertClose(t, "upper", b.Upper[7].V, 9, 1e-9)
	assertClose(t, "lower", b.Lower[7].V, 1, 1e-9)
	if b.Middle[6].Valid {
		t.Fatal("index 6 should be invalid for period 8")
	}
}

func TestBollinger_Ordering(t *testing.T) {
	prices := append(wave(80), 100, 100, 100, 100, 100, 100, 100, 100, 100, 100, 100, 100, 100, 100, 100, 100, 100, 100, 100, 100)
	b := Bollinger(prices, DefaultBollingerPeriod, DefaultBollingerMult)
	for i := range prices {
		if !b.Middle[i].Valid {
			continue
		}
		if !(b.Lower[i].V <= b.Middle[i].V && b.Middle[i].V <= b.Upper[i].V) {
			t.Fatalf("index %d: lower=%f middle=%f upper=%f", i, b.Lower[i].V, b.Middle[i].V, b.Upper[i].V)
		}
	}
	// Flat window collapses the bands onto the middle.
	last := len(prices) - 1
	assertClose(t, "flat width", b.Upper[last].V-b.Lower[last].V, 0, 1e-9)
}

func TestSeries_TrimmedAndJSON(t *testing.T) {
	s := SMASeries([]float64{10, 20, 30, 40}, 3)
	trimmed := s.Trimmed()
	if len(trimmed) != 2 || trimmed[0] != 20 || trimmed[1] != 30 {
		t.Fatalf("unexpected trimmed view %v", trimmed)
	}

	b, err := json.Marshal(s)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if string(b) != "[null,null,20,30]" {
		t.Fatalf("unexpected JSON %s", b)
	}

	var back Series
	if err := json.Unmarshal(b, &back); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if back[0].Valid || !back[3].Valid || back[3].V != 30 {
		t.Fatalf("unexpected decoded series %+v", back)
	}
}
