package strategy

import (
	"log"

	"investgame/internal/indicator"
	"investgame/internal/model"
)

// SMACrossover implements a simple SMA crossover strategy.
//
// Buy signal: fast SMA crosses above slow SMA (golden cross)
// Sell signal: fast SMA crosses below slow SMA (death cross)
//
// Optional RSI filter prevents buying when overbought (>70)
// or selling when oversold (<30).
type SMACrossover struct {
	name   string
	amount float64

	fast *indicator.SMA
	slow *indicator.SMA
	rsi  *indicator.RSI

	// Previous SMA values for crossover detection
	prevFast float64
	prevSlow float64
	ready    bool
}

// NewSMACrossover creates a new SMA crossover strategy.
// fastPeriod < slowPeriod (e.g., 9 and 21). rsiPeriod <= 0 disables the filter.
func NewSMACrossover(fastPeriod, slowPeriod int, amount float64, rsiPeriod int) *SMACrossover {
	s := &SMACrossover{
		name:   "SMA_Crossover",
		amount: amount,
		fast:   indicator.NewSMA(fastPeriod),
		slow:   indicator.NewSMA(slowPeriod),
	}
	if rsiPeriod > 0 {
		s.rsi = indicator.NewRSI(rsiPeriod)
	}
	return s
}

func (s *SMACrossover) Name() string {
	return s.name
}

func (s *SMACrossover) OnPrice(assetID string, p model.PricePoint) *Signal {
	s.fast.Update(p.Close)
	s.slow.Update(p.Close)
	if s.rsi != nil {
		s.rsi.Update(p.Close)
	}

	// Need enough data for both SMAs
	if !s.slow.Ready() || !s.fast.Ready() {
		return nil
	}

	fastSMA := s.fast.Value()
	slowSMA := s.slow.Value()

	defer func() {
		s.prevFast = fastSMA
		s.prevSlow = slowSMA
		s.ready = true
	}()

	if !s.ready {
		return nil
	}

	// Golden cross: fast crosses above slow
	if s.prevFast <= s.prevSlow && fastSMA > slowSMA {
		if s.rsiFiltered(func(v float64) bool { return v > 70 }) {
			log.Printf("[strategy] %s: golden cross filtered by RSI %.1f > 70", s.name, s.rsi.Value())
			return nil
		}
		return s.signal(ActionBuy, assetID, p.Close, "SMA golden cross (fast > slow)")
	}

	// Death cross: fast crosses below slow
	if s.prevFast >= s.prevSlow && fastSMA < slowSMA {
		if s.rsiFiltered(func(v float64) bool { return v < 30 }) {
			log.Printf("[strategy] %s: death cross filtered by RSI %.1f < 30", s.name, s.rsi.Value())
			return nil
		}
		return s.signal(ActionSell, assetID, p.Close, "SMA death cross (fast < slow)")
	}

	return nil
}

func (s *SMACrossover) rsiFiltered(blocked func(float64) bool) bool {
	return s.rsi != nil && s.rsi.Ready() && blocked(s.rsi.Value())
}

func (s *SMACrossover) signal(a Action, assetID string, price float64, reason string) *Signal {
	return &Signal{
		StrategyName: s.name,
		Action:       a,
		AssetID:      assetID,
		Amount:       s.amount,
		Price:        price,
		Reason:       reason,
	}
}
