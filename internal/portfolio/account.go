// Package portfolio simulates a leveraged trading account for one game session.
//
// An Account holds cash, an outstanding loan, spot holdings and leveraged
// long/short positions. A Simulator owns one Account and applies trade
// actions atomically; a Registry maps session ids to simulators.
//
// Accounting model, per position of size a opened at price e with leverage L:
//
//	Margin   = a*e/L              debited from Balance at open
//	Borrowed = a*e - Margin       (long)  added to Loan
//	Borrowed = a*e                (short) added to Loan
//	PnL      = ±(p-e)*a*L         long +, short −
//
// Total equity is Balance + spot value + Σ(Margin+Borrowed+PnL) − Loan, which
// is unchanged by opening or closing a position at the current price.
package portfolio

import (
	"time"
)

// Side is the direction of a leveraged position.
type Side string

const (
	SideLong  Side = "long"
	SideShort Side = "short"
)

// SpotHolding is an unleveraged holding of one asset.
type SpotHolding struct {
	Amount   float64 `json:"amount"`
	AvgPrice float64 `json:"avg_price"`
}

// Position is an open leveraged position. For shorts Margin is the locked
// margin reserved at open and released exactly once.
type Position struct {
	ID         string    `json:"id"`
	AssetID    string    `json:"asset_id"`
	Side       Side      `json:"side"`
	Amount     float64   `json:"amount"`
	EntryPrice float64   `json:"entry_price"`
	Leverage   float64   `json:"leverage"`
	Margin     float64   `json:"margin"`
	Borrowed   float64   `json:"borrowed"`
	OpenedAt   time.Time `json:"opened_at"`
}

// UnrealizedPnL returns the P&L the position would realize at price.
func (p *Position) UnrealizedPnL(price float64) float64 {
	diff := price - p.EntryPrice
	if p.Side == SideShort {
		diff = -diff
	}
	return diff * p.Amount * p.Leverage
}

// Equity is the margin left in the position at price. Zero or below means
// the loss has consumed the margin.
func (p *Position) Equity(price float64) float64 {
	return p.Margin + p.UnrealizedPnL(price)
}

// Value is the position's contribution to account equity before the loan
// is netted out.
func (p *Position) Value(price float64) float64 {
	return p.Margin + p.Borrowed + p.UnrealizedPnL(price)
}

// Shortfall records a loss that exceeded a position's margin.
type Shortfall struct {
	SessionID  string          `json:"session_id"`
	PositionID string          `json:"position_id"`
	AssetID    string          `json:"asset_id"`
	Side       Side            `json:"side"`
	Amount     float64         `json:"amount"` // loss beyond margin, always > 0
	Price      float64         `json:"price"`
	Policy     ShortfallPolicy `json:"policy"`
	At         time.Time       `json:"at"`
}

// Account is the full state of one simulated account.
type Account struct {
	SessionID   string                 `json:"session_id"`
	Balance     float64                `json:"balance"`
	Loan        float64                `json:"loan"`
	Spot        map[string]SpotHolding `json:"spot"`
	Longs       []Position             `json:"leveraged_longs"`
	Shorts      []Position             `json:"leveraged_shorts"`
	Shortfalls  []Shortfall            `json:"shortfalls"`
	RealizedPnL float64                `json:"realized_pnl"`
	UpdatedAt   time.Time              `json:"updated_at"`
}

// NewAccount returns an empty account with a starting cash balance.
func NewAccount(sessionID string, balance float64) Account {
	return Account{
		SessionID: sessionID,
		Balance:   balance,
		Spot:      make(map[string]SpotHolding),
		UpdatedAt: time.Now().UTC(),
	}
}

// Clone returns a deep copy.
func (a Account) Clone() Account {
	cp := a
	cp.Spot = make(map[string]SpotHolding, len(a.Spot))
	for k, v := range a.Spot {
		cp.Spot[k] = v
	}
	cp.Longs = append([]Position(nil), a.Longs...)
	cp.Shorts = append([]Position(nil), a.Shorts...)
	cp.Shortfalls = append([]Shortfall(nil), a.Shortfalls...)
	return cp
}

// OpenPositions returns longs followed by shorts.
func (a *Account) OpenPositions() []Position {
	out := make([]Position, 0, len(a.Longs)+len(a.Shorts))
	out = append(out, a.Longs...)
	return append(out, a.Shorts...)
}

// find locates a position by id. side is "" to search both books.
func (a *Account) find(id string, side Side) (Side, int) {
	if side == "" || side == SideLong {
		for i := range a.Longs {
			if a.Longs[i].ID == id {
				return SideLong, i
			}
		}
	}
	if side == "" || side == SideShort {
		for i := range a.Shorts {
			if a.Shorts[i].ID == id {
				return SideShort, i
			}
		}
	}
	return "", -1
}

// remove deletes the position at idx from the given book.
func (a *Account) remove(side Side, idx int) {
	if side == SideLong {
		a.Longs = append(a.Longs[:idx], a.Longs[idx+1:]...)
		return
	}
	a.Shorts = append(a.Shorts[:idx], a.Shorts[idx+1:]...)
}
