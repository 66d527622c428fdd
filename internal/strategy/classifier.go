package strategy

import (
	"math"

	"investgame/internal/indicator"
	"investgame/internal/model"
)

// MinHistory is the number of price points AnalyzeMarket needs before it
// will give an opinion.
const MinHistory = 30

// Rating is the discrete market verdict shown to the player.
type Rating string

const (
	StrongBuy  Rating = "strong_buy"
	Buy        Rating = "buy"
	Neutral    Rating = "neutral"
	Sell       Rating = "sell"
	StrongSell Rating = "strong_sell"
)

// Bullish reports whether r leans towards buying.
func (r Rating) Bullish() bool { return r == Buy || r == StrongBuy }

// Bearish reports whether r leans towards selling.
func (r Rating) Bearish() bool { return r == Sell || r == StrongSell }

// Verdict is the classifier output for one asset at the latest price.
type Verdict struct {
	Signal     Rating   `json:"signal"`
	Confidence float64  `json:"confidence"` // always within [35, 95]
	RSI        float64  `json:"rsi"`
	Trend      float64  `json:"trend"`
	Momentum   float64  `json:"momentum"`
	Score      float64  `json:"score"`
	Price      float64  `json:"price"`
	SMA20      float64  `json:"sma20"`
	SMA50      *float64 `json:"sma50"` // nil until 50 points exist
}

// Score weights and verdict thresholds.
const (
	weightTrend    = 0.3
	weightRSI      = 0.3
	weightMomentum = 0.4

	strongThreshold = 0.6
	weakThreshold   = 0.2

	confidenceScale = 150.0
	minConfidence   = 35.0
	maxConfidence   = 95.0

	momentumLookback = 5
)

// AnalyzeMarket classifies the trailing window of history into a Verdict.
// Fewer than MinHistory points yields nil: no opinion, not an error.
func AnalyzeMarket(history []model.PricePoint) *Verdict {
	if len(history) < MinHistory {
		return nil
	}
	prices := model.Closes(history)
	last := prices[len(prices)-1]

	sma20, _ := indicator.SMALatest(prices, 20)
	sma50, has50 := indicator.SMALatest(prices, 50)

	var trend float64
	switch {
	case has50 && sma20 > sma50:
		trend = 1
	case has50 && sma20 < sma50:
		trend = -1
	case last > sma20:
		trend = 0.5
	default:
		trend = -0.5
	}

	rsi := indicator.RSISeries(prices, indicator.DefaultRSIPeriod).Last().V
	var rsiScore float64
	switch {
	case rsi > 70:
		rsiScore = -1
	case rsi < 30:
		rsiScore = 1
	case rsi > 50:
		rsiScore = 0.2
	default:
		rsiScore = -0.2
	}

	change := percentChange(prices, momentumLookback)
	var momentum float64
	switch {
	case change > 2:
		momentum = 1
	case change > 0:
		momentum = 0.5
	case change < -2:
		momentum = -1
	default:
		momentum = -0.5
	}

	total := weightTrend*trend + weightRSI*rsiScore + weightMomentum*momentum

	v := &Verdict{
		Signal:     rate(total),
		Confidence: clamp(math.Abs(total)*confidenceScale, minConfidence, maxConfidence),
		RSI:        rsi,
		Trend:      trend,
		Momentum:   change,
		Score:      total,
		Price:      last,
		SMA20:      sma20,
	}
	if has50 {
		v.SMA50 = &sma50
	}
	return v
}

func rate(total float64) Rating {
	switch {
	case total > strongThreshold:
		return StrongBuy
	case total > weakThreshold:
		return Buy
	case total < -strongThreshold:
		return StrongSell
	case total < -weakThreshold:
		return Sell
	default:
		return Neutral
	}
}

// percentChange is the change over the last n periods in percent.
// A zero base price counts as no change.
func percentChange(prices []float64, n int) float64 {
	cur := prices[len(prices)-1]
	base := prices[len(prices)-1-n]
	if base == 0 {
		return 0
	}
	return (cur - base) / base * 100
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}
