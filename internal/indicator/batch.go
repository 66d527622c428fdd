package indicator

// Batch functions replay a full close series through the streaming
// indicators and return one Value per input price. They never fail on short
// input or non-positive periods: the output is simply all invalid.

// MACD defaults.
const (
	DefaultMACDFast   = 12
	DefaultMACDSlow   = 26
	DefaultMACDSignal = 9
)

// Bollinger defaults.
const (
	DefaultBollingerPeriod = 20
	DefaultBollingerMult   = 2.0
)

// MACDResult holds the three aligned MACD series.
type MACDResult struct {
	MACD      Series `json:"macd"`
	Signal    Series `json:"signal"`
	Histogram Series `json:"histogram"`
}

// BollingerResult holds the three aligned Bollinger band series.
type BollingerResult struct {
	Upper  Series `json:"upper"`
	Middle Series `json:"middle"`
	Lower  Series `json:"lower"`
}

// replay feeds prices through ind and records Value() wherever Ready().
func replay(ind Indicator, prices []float64) Series {
	out := newSeries(len(prices))
	for i, p := range prices {
		ind.Update(p)
		if ind.Ready() {
			out[i] = Some(ind.Value())
		}
	}
	return out
}

// SMASeries returns the simple moving average at every index.
// Each valid point is the mean of the trailing `period` closes.
func SMASeries(prices []float64, period int) Series {
	if period <= 0 || len(prices) < period {
		return newSeries(len(prices))
	}
	return replay(NewSMA(period), prices)
}

// SMALatest returns the SMA of the last `period` closes.
// ok is false when fewer than `period` closes are available.
func SMALatest(prices []float64, period int) (float64, bool) {
	if period <= 0 || len(prices) < period {
		return 0, false
	}
	sum := 0.0
	for _, p := range prices[len(prices)-period:] {
		sum += p
	}
	return sum / float64(period), true
}

// EMASeries returns the exponential moving average, seeded with the SMA of
// the first `period` closes at index period-1.
func EMASeries(prices []float64, period int) Series {
	if period <= 0 || len(prices) < period {
		return newSeries(len(prices))
	}
	return replay(NewEMA(period), prices)
}

// RSISeries returns Wilder's RSI. The first value is at index `period`;
// fewer than period+1 closes yields an all-invalid series.
func RSISeries(prices []float64, period int) Series {
	if period <= 0 || len(prices) < period+1 {
		return newSeries(len(prices))
	}
	return replay(NewRSI(period), prices)
}

// MACD computes the MACD line (fast EMA − slow EMA), its signal line and the
// histogram. The signal line is an EMA over the contiguous valid suffix of
// the MACD line, re-aligned so its first value sits at
// firstValidMACD + signalPeriod − 1.
func MACD(prices []float64, fast, slow, signalPeriod int) MACDResult {
	n := len(prices)
	res := MACDResult{
		MACD:      newSeries(n),
		Signal:    newSeries(n),
		Histogram: newSeries(n),
	}

	fastS := EMASeries(prices, fast)
	slowS := EMASeries(prices, slow)
	for i := 0; i < n; i++ {
		if fastS[i].Valid && slowS[i].Valid {
			res.MACD[i] = Some(fastS[i].V - slowS[i].V)
		}
	}

	first := res.MACD.FirstValid()
	if first < 0 {
		return res
	}
	sig := EMASeries(res.MACD.Trimmed(), signalPeriod)
	for j, v := range sig {
		res.Signal[first+j] = v
	}

	for i := 0; i < n; i++ {
		if res.MACD[i].Valid && res.Signal[i].Valid {
			res.Histogram[i] = Some(res.MACD[i].V - res.Signal[i].V)
		}
	}
	return res
}

// Bollinger computes Bollinger Bands: middle is SMA(period), the bands sit
// `mult` population standard deviations above and below it.
func Bollinger(prices []float64, period int, mult float64) BollingerResult {
	n := len(prices)
	res := BollingerResult{
		Upper:  newSeries(n),
		Middle: newSeries(n),
		Lower:  newSeries(n),
	}
	if period <= 0 || n < period {
		return res
	}

	sma := NewSMA(period)
	for i, p := range prices {
		sma.Update(p)
		if !sma.Ready() {
			continue
		}
		mid := sma.Value()
		width := mult * sma.StdDev()
		if width < 0 {
			width = -width
		}
		res.Middle[i] = Some(mid)
		res.Upper[i] = Some(mid + width)
		res.Lower[i] = Some(mid - width)
	}
	return res
}
