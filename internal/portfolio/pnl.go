package portfolio

// PositionValuation is one position marked at a price.
type PositionValuation struct {
	Position
	Price            float64 `json:"price"`
	Priced           bool    `json:"priced"` // false when no price was supplied; entry price is used
	UnrealizedPnL    float64 `json:"unrealized_pnl"`
	Equity           float64 `json:"equity"`
	LiquidationPrice float64 `json:"liquidation_price"`
	Liquidatable     bool    `json:"liquidatable"`
}

// Valuation is the mark-to-market view of an account.
type Valuation struct {
	Balance       float64             `json:"balance"`
	Loan          float64             `json:"loan"`
	SpotValue     float64             `json:"spot_value"`
	PositionValue float64             `json:"position_value"` // Σ(margin + borrowed + unrealized)
	UnrealizedPnL float64             `json:"unrealized_pnl"`
	RealizedPnL   float64             `json:"realized_pnl"`
	Equity        float64             `json:"equity"`
	Positions     []PositionValuation `json:"positions"`
	Liquidatable  []string            `json:"liquidatable"`
}

// MarkToMarket values every holding and position at prices without mutating
// the account. Missing prices fall back to the entry (or average) price.
func (s *Simulator) MarkToMarket(prices map[string]float64) Valuation {
	s.mu.Lock()
	defer s.mu.Unlock()
	return value(&s.acct, prices)
}

// Equity returns total account equity at prices.
func (s *Simulator) Equity(prices map[string]float64) float64 {
	return s.MarkToMarket(prices).Equity
}

// Value computes a Valuation for a detached account snapshot.
func Value(a Account, prices map[string]float64) Valuation {
	return value(&a, prices)
}

func value(a *Account, prices map[string]float64) Valuation {
	v := Valuation{
		Balance:      a.Balance,
		Loan:         a.Loan,
		RealizedPnL:  a.RealizedPnL,
		Positions:    make([]PositionValuation, 0, len(a.Longs)+len(a.Shorts)),
		Liquidatable: []string{},
	}

	for asset, h := range a.Spot {
		price, ok := prices[asset]
		if !ok {
			price = h.AvgPrice
		}
		v.SpotValue += h.Amount * price
		v.UnrealizedPnL += (price - h.AvgPrice) * h.Amount
	}

	for _, p := range a.OpenPositions() {
		price, ok := prices[p.AssetID]
		if !ok || price <= 0 {
			price, ok = p.EntryPrice, false
		}
		pv := PositionValuation{
			Position:         p,
			Price:            price,
			Priced:           ok,
			UnrealizedPnL:    p.UnrealizedPnL(price),
			Equity:           p.Equity(price),
			LiquidationPrice: LiquidationPrice(p),
			Liquidatable:     CheckLiquidation(p, price),
		}
		v.PositionValue += p.Value(price)
		v.UnrealizedPnL += pv.UnrealizedPnL
		if pv.Liquidatable {
			v.Liquidatable = append(v.Liquidatable, p.ID)
		}
		v.Positions = append(v.Positions, pv)
	}

	v.Equity = v.Balance + v.SpotValue + v.PositionValue - v.Loan
	return v
}
