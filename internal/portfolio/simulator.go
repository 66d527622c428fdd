package portfolio

import (
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Options configures a Simulator.
type Options struct {
	Policy ShortfallPolicy
	Limits RiskLimits

	// OnShortfall is called for every recorded shortfall after the account
	// lock is released.
	OnShortfall func(Shortfall)
}

// Settlement describes a closed position.
type Settlement struct {
	Position   Position   `json:"position"`
	ExitPrice  float64    `json:"exit_price"`
	PnL        float64    `json:"pnl"`
	Credited   float64    `json:"credited"` // amount returned to balance
	LoanRepaid float64    `json:"loan_repaid"`
	Liquidated bool       `json:"liquidated"`
	Shortfall  *Shortfall `json:"shortfall,omitempty"`
}

// Simulator applies trade actions to one Account. Every method is atomic:
// a failed precondition leaves the account untouched.
type Simulator struct {
	mu   sync.Mutex
	acct Account
	opts Options
	now  func() time.Time
}

// NewSimulator creates a simulator with a fresh account.
func NewSimulator(sessionID string, balance float64, opts Options) *Simulator {
	return NewSimulatorFromAccount(NewAccount(sessionID, balance), opts)
}

// NewSimulatorFromAccount resumes a simulator from a persisted account.
func NewSimulatorFromAccount(acct Account, opts Options) *Simulator {
	acct = acct.Clone()
	if acct.Spot == nil {
		acct.Spot = make(map[string]SpotHolding)
	}
	if opts.Policy == "" {
		opts.Policy = ShortfallCarry
	}
	return &Simulator{acct: acct, opts: opts, now: func() time.Time { return time.Now().UTC() }}
}

// SessionID returns the owning session.
func (s *Simulator) SessionID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.acct.SessionID
}

// Policy returns the shortfall policy in force.
func (s *Simulator) Policy() ShortfallPolicy { return s.opts.Policy }

// Snapshot returns a deep copy of the account.
func (s *Simulator) Snapshot() Account {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.acct.Clone()
}

// OpenLong buys amount of assetID at price with leverage. The margin
// amount*price/leverage is debited and the rest of the notional is borrowed.
func (s *Simulator) OpenLong(assetID string, amount, price, leverage float64) (Position, error) {
	return s.open(SideLong, assetID, amount, price, leverage)
}

// OpenShort sells amount of assetID short. The margin amount*price/leverage
// is locked from balance and the full notional of the borrowed asset is
// added to the loan.
func (s *Simulator) OpenShort(assetID string, amount, price, leverage float64) (Position, error) {
	return s.open(SideShort, assetID, amount, price, leverage)
}

func (s *Simulator) open(side Side, assetID string, amount, price, leverage float64) (Position, error) {
	if err := validateOrder(assetID, amount, price); err != nil {
		return Position{}, err
	}
	if !(leverage >= 1) || math.IsInf(leverage, 0) {
		return Position{}, fmt.Errorf("%w: leverage %v must be >= 1", ErrInvalidOrder, leverage)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.opts.Limits.check(&s.acct, leverage); err != nil {
		return Position{}, err
	}

	notional := amount * price
	margin := notional / leverage
	if margin > s.acct.Balance {
		return Position{}, fmt.Errorf("%w: margin %.2f exceeds balance %.2f", ErrInsufficientBalance, margin, s.acct.Balance)
	}

	borrowed := notional - margin
	if side == SideShort {
		borrowed = notional
	}

	pos := Position{
		ID:         uuid.NewString(),
		AssetID:    assetID,
		Side:       side,
		Amount:     amount,
		EntryPrice: price,
		Leverage:   leverage,
		Margin:     margin,
		Borrowed:   borrowed,
		OpenedAt:   s.now(),
	}

	s.acct.Balance -= margin
	s.acct.Loan += borrowed
	if side == SideLong {
		s.acct.Longs = append(s.acct.Longs, pos)
	} else {
		s.acct.Shorts = append(s.acct.Shorts, pos)
	}
	s.acct.UpdatedAt = pos.OpenedAt
	return pos, nil
}

// CloseLong closes a long at exitPrice, crediting margin + P&L and repaying
// the borrowed amount.
func (s *Simulator) CloseLong(id string, exitPrice float64) (Settlement, error) {
	return s.close(SideLong, id, exitPrice, false)
}

// CloseShort closes a short at exitPrice, releasing the locked margin
// adjusted by P&L and repaying the borrowed notional.
func (s *Simulator) CloseShort(id string, exitPrice float64) (Settlement, error) {
	return s.close(SideShort, id, exitPrice, false)
}

// ClosePosition closes a position on either side.
func (s *Simulator) ClosePosition(id string, exitPrice float64) (Settlement, error) {
	return s.close("", id, exitPrice, false)
}

func (s *Simulator) close(side Side, id string, price float64, liquidation bool) (Settlement, error) {
	if !(price > 0) || math.IsInf(price, 0) {
		return Settlement{}, fmt.Errorf("%w: price %v", ErrInvalidOrder, price)
	}

	s.mu.Lock()
	st, err := s.settleLocked(side, id, price, liquidation)
	s.mu.Unlock()

	if err == nil && st.Shortfall != nil {
		s.reportShortfall(*st.Shortfall)
	}
	return st, err
}

// settleLocked removes the position and books its result. Caller holds mu.
func (s *Simulator) settleLocked(side Side, id string, price float64, liquidation bool) (Settlement, error) {
	found, idx := s.acct.find(id, side)
	if idx < 0 {
		return Settlement{}, fmt.Errorf("%w: %s", ErrPositionNotFound, id)
	}
	var pos Position
	if found == SideLong {
		pos = s.acct.Longs[idx]
	} else {
		pos = s.acct.Shorts[idx]
	}

	pnl := pos.UnrealizedPnL(price)
	credit := pos.Margin + pnl
	st := Settlement{
		Position:   pos,
		ExitPrice:  price,
		PnL:        pnl,
		LoanRepaid: pos.Borrowed,
		Liquidated: liquidation,
	}

	if credit < 0 {
		sf := Shortfall{
			SessionID:  s.acct.SessionID,
			PositionID: pos.ID,
			AssetID:    pos.AssetID,
			Side:       pos.Side,
			Amount:     -credit,
			Price:      price,
			Policy:     s.opts.Policy,
			At:         s.now(),
		}
		s.acct.Shortfalls = append(s.acct.Shortfalls, sf)
		st.Shortfall = &sf
		if s.opts.Policy == ShortfallForgive {
			credit = 0
		}
	}

	st.Credited = credit
	s.acct.Balance += credit
	s.acct.Loan -= pos.Borrowed
	if s.acct.Loan < 0 && s.acct.Loan > -1e-9 {
		s.acct.Loan = 0
	}
	s.acct.RealizedPnL += pnl
	s.acct.remove(found, idx)
	s.acct.UpdatedAt = s.now()
	return st, nil
}

// BuySpot buys amount of assetID without leverage at price.
func (s *Simulator) BuySpot(assetID string, amount, price float64) (SpotHolding, error) {
	if err := validateOrder(assetID, amount, price); err != nil {
		return SpotHolding{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	cost := amount * price
	if cost > s.acct.Balance {
		return SpotHolding{}, fmt.Errorf("%w: cost %.2f exceeds balance %.2f", ErrInsufficientBalance, cost, s.acct.Balance)
	}

	h := s.acct.Spot[assetID]
	// Weighted average price
	total := h.AvgPrice*h.Amount + cost
	h.Amount += amount
	h.AvgPrice = total / h.Amount

	s.acct.Balance -= cost
	s.acct.Spot[assetID] = h
	s.acct.UpdatedAt = s.now()
	return h, nil
}

// SellSpot sells amount of a spot holding at price and returns the realized P&L.
func (s *Simulator) SellSpot(assetID string, amount, price float64) (float64, error) {
	if err := validateOrder(assetID, amount, price); err != nil {
		return 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	h, ok := s.acct.Spot[assetID]
	if !ok || amount > h.Amount+1e-12 {
		return 0, fmt.Errorf("%w: selling %v of %s, holding %v", ErrInsufficientHoldings, amount, assetID, h.Amount)
	}

	realized := (price - h.AvgPrice) * amount
	h.Amount -= amount
	if h.Amount <= 1e-12 {
		delete(s.acct.Spot, assetID)
	} else {
		s.acct.Spot[assetID] = h
	}

	s.acct.Balance += amount * price
	s.acct.RealizedPnL += realized
	s.acct.UpdatedAt = s.now()
	return realized, nil
}

func validateOrder(assetID string, amount, price float64) error {
	if assetID == "" {
		return fmt.Errorf("%w: missing asset", ErrInvalidOrder)
	}
	if !(amount > 0) || math.IsInf(amount, 0) {
		return fmt.Errorf("%w: amount %v must be positive", ErrInvalidOrder, amount)
	}
	if !(price > 0) || math.IsInf(price, 0) {
		return fmt.Errorf("%w: price %v must be positive", ErrInvalidOrder, price)
	}
	return nil
}
