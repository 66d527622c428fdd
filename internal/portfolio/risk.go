package portfolio

import (
	"fmt"
	"log/slog"
	"math"
	"sort"
)

// ShortfallPolicy decides who absorbs a loss larger than a position's margin.
type ShortfallPolicy string

const (
	// ShortfallCarry debits the shortfall from balance, which may go negative.
	ShortfallCarry ShortfallPolicy = "carry"
	// ShortfallForgive writes the shortfall off; balance receives nothing.
	ShortfallForgive ShortfallPolicy = "forgive"
)

// ParseShortfallPolicy accepts "carry" or "forgive".
func ParseShortfallPolicy(s string) (ShortfallPolicy, error) {
	switch ShortfallPolicy(s) {
	case ShortfallCarry, ShortfallForgive:
		return ShortfallPolicy(s), nil
	}
	return "", fmt.Errorf("unknown shortfall policy %q", s)
}

// RiskLimits bounds what a session may open. Zero values disable a check.
type RiskLimits struct {
	MaxLeverage      float64 `json:"max_leverage" yaml:"max_leverage"`
	MaxOpenPositions int     `json:"max_open_positions" yaml:"max_open_positions"`
}

// DefaultRiskLimits returns the game's default limits.
func DefaultRiskLimits() RiskLimits {
	return RiskLimits{
		MaxLeverage:      10,
		MaxOpenPositions: 20,
	}
}

func (l RiskLimits) check(a *Account, leverage float64) error {
	if l.MaxLeverage > 0 && leverage > l.MaxLeverage {
		return fmt.Errorf("%w: leverage %.2f above max %.2f", ErrRiskLimit, leverage, l.MaxLeverage)
	}
	if l.MaxOpenPositions > 0 && len(a.Longs)+len(a.Shorts) >= l.MaxOpenPositions {
		return fmt.Errorf("%w: max open positions (%d) reached", ErrRiskLimit, l.MaxOpenPositions)
	}
	return nil
}

// CheckLiquidation reports whether the loss at price has consumed the
// position's whole margin.
func CheckLiquidation(p Position, price float64) bool {
	return p.Equity(price) <= 0
}

// LiquidationPrice is the price at which the position's equity reaches zero:
// entry*(1-1/L²) for longs, entry*(1+1/L²) for shorts.
func LiquidationPrice(p Position) float64 {
	if p.Leverage <= 0 {
		return math.NaN()
	}
	k := 1 / (p.Leverage * p.Leverage)
	if p.Side == SideShort {
		return p.EntryPrice * (1 + k)
	}
	return p.EntryPrice * (1 - k)
}

// Liquidate force-closes a position at price if it is eligible. It returns
// false with no error when the position still has equity.
func (s *Simulator) Liquidate(id string, price float64) (Settlement, bool, error) {
	if !(price > 0) || math.IsInf(price, 0) {
		return Settlement{}, false, fmt.Errorf("%w: price %v", ErrInvalidOrder, price)
	}
	s.mu.Lock()
	side, idx := s.acct.find(id, "")
	if idx < 0 {
		s.mu.Unlock()
		return Settlement{}, false, fmt.Errorf("%w: %s", ErrPositionNotFound, id)
	}
	var pos Position
	if side == SideLong {
		pos = s.acct.Longs[idx]
	} else {
		pos = s.acct.Shorts[idx]
	}
	if !CheckLiquidation(pos, price) {
		s.mu.Unlock()
		return Settlement{}, false, nil
	}
	st, err := s.settleLocked(side, id, price, true)
	s.mu.Unlock()

	if err != nil {
		return Settlement{}, false, err
	}
	if st.Shortfall != nil {
		s.reportShortfall(*st.Shortfall)
	}
	return st, true, nil
}

// SweepLiquidations liquidates every eligible position at the given prices.
// Assets without a price are skipped. Settlements are ordered by position id.
func (s *Simulator) SweepLiquidations(prices map[string]float64) []Settlement {
	s.mu.Lock()
	var due []Position
	for _, p := range s.acct.OpenPositions() {
		price, ok := prices[p.AssetID]
		if ok && price > 0 && !math.IsInf(price, 0) && CheckLiquidation(p, price) {
			due = append(due, p)
		}
	}
	sort.Slice(due, func(i, j int) bool { return due[i].ID < due[j].ID })

	out := make([]Settlement, 0, len(due))
	for _, p := range due {
		st, err := s.settleLocked(p.Side, p.ID, prices[p.AssetID], true)
		if err == nil {
			out = append(out, st)
		}
	}
	s.mu.Unlock()

	for _, st := range out {
		if st.Shortfall != nil {
			s.reportShortfall(*st.Shortfall)
		}
	}
	return out
}

func (s *Simulator) reportShortfall(sf Shortfall) {
	slog.Warn("uncollateralized loss",
		"session", sf.SessionID,
		"position", sf.PositionID,
		"asset", sf.AssetID,
		"side", string(sf.Side),
		"shortfall", sf.Amount,
		"price", sf.Price,
		"policy", string(sf.Policy),
	)
	if s.opts.OnShortfall != nil {
		s.opts.OnShortfall(sf)
	}
}
