package execution

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"investgame/internal/portfolio"
)

// Action is an order type the paper desk understands.
type Action string

const (
	OpenLong   Action = "open_long"
	CloseLong  Action = "close_long"
	OpenShort  Action = "open_short"
	CloseShort Action = "close_short"
	Buy        Action = "buy"
	Sell       Action = "sell"
)

// Buying reports whether the action takes liquidity on the ask side.
func (a Action) Buying() bool {
	return a == OpenLong || a == CloseShort || a == Buy
}

// Order is a request to change a session's account.
type Order struct {
	SessionID  string  `json:"session_id"`
	Action     Action  `json:"action"`
	AssetID    string  `json:"asset_id"`
	Amount     float64 `json:"amount"`
	Price      float64 `json:"price"`
	Leverage   float64 `json:"leverage"`
	PositionID string  `json:"position_id,omitempty"` // close orders
	Strategy   string  `json:"strategy,omitempty"`
	Reason     string  `json:"reason,omitempty"`
}

// Fill is the outcome of an executed order.
type Fill struct {
	OrderID    string    `json:"order_id"`
	SessionID  string    `json:"session_id"`
	Action     Action    `json:"action"`
	AssetID    string    `json:"asset_id"`
	PositionID string    `json:"position_id,omitempty"`
	Amount     float64   `json:"amount"`
	Leverage   float64   `json:"leverage"`
	FillPrice  float64   `json:"fill_price"`
	Slippage   float64   `json:"slippage"` // per-unit price adjustment
	PnL        float64   `json:"pnl"`      // realized on closes and spot sells
	Shortfall  float64   `json:"shortfall,omitempty"`
	Balance    float64   `json:"balance"` // after the fill
	Loan       float64   `json:"loan"`
	Strategy   string    `json:"strategy,omitempty"`
	Reason     string    `json:"reason,omitempty"`
	FilledAt   time.Time `json:"filled_at"`
}

// Recorder persists fills.
type Recorder interface {
	RecordFill(ctx context.Context, fill Fill) error
}

// PaperDesk executes orders against simulated accounts.
type PaperDesk struct {
	mu       sync.Mutex
	orderSeq int64

	sessions *portfolio.Registry
	journal  Recorder

	// Simulation parameters
	slippageBps decimal.Decimal // basis points of slippage (e.g., 5 = 0.05%)
}

var tenThousand = decimal.NewFromInt(10000)

// NewPaperDesk creates a desk over the session registry. journal may be nil.
func NewPaperDesk(sessions *portfolio.Registry, journal Recorder, slippageBps int64) *PaperDesk {
	return &PaperDesk{
		sessions:    sessions,
		journal:     journal,
		slippageBps: decimal.NewFromInt(slippageBps),
	}
}

// FillPrice applies slippage to price: buys fill higher, sells lower.
// It returns the adjusted price and the per-unit slippage.
func (d *PaperDesk) FillPrice(a Action, price float64) (float64, float64) {
	if price <= 0 || d.slippageBps.IsZero() {
		return price, 0
	}
	p := decimal.NewFromFloat(price)
	slip := p.Mul(d.slippageBps).Div(tenThousand)
	if a.Buying() {
		p = p.Add(slip)
	} else {
		p = p.Sub(slip)
	}
	return p.InexactFloat64(), slip.InexactFloat64()
}

// Execute applies o to its session's simulator and journals the fill.
// Simulator errors are returned unchanged so callers can match them with
// errors.Is. A journal failure is logged but does not undo the fill.
func (d *PaperDesk) Execute(ctx context.Context, o Order) (Fill, error) {
	sim, err := d.sessions.Get(o.SessionID)
	if err != nil {
		return Fill{}, err
	}

	price, slip := d.FillPrice(o.Action, o.Price)
	fill := Fill{
		SessionID: o.SessionID,
		Action:    o.Action,
		AssetID:   o.AssetID,
		Amount:    o.Amount,
		Leverage:  o.Leverage,
		FillPrice: price,
		Slippage:  slip,
		Strategy:  o.Strategy,
		Reason:    o.Reason,
	}

	switch o.Action {
	case OpenLong, OpenShort:
		lev := o.Leverage
		if lev == 0 {
			lev = 1
		}
		var pos portfolio.Position
		if o.Action == OpenLong {
			pos, err = sim.OpenLong(o.AssetID, o.Amount, price, lev)
		} else {
			pos, err = sim.OpenShort(o.AssetID, o.Amount, price, lev)
		}
		fill.PositionID, fill.Leverage = pos.ID, lev

	case CloseLong, CloseShort:
		var st portfolio.Settlement
		if o.Action == CloseLong {
			st, err = sim.CloseLong(o.PositionID, price)
		} else {
			st, err = sim.CloseShort(o.PositionID, price)
		}
		fill.PositionID = o.PositionID
		fill.AssetID = st.Position.AssetID
		fill.Amount = st.Position.Amount
		fill.Leverage = st.Position.Leverage
		fill.PnL = st.PnL
		if st.Shortfall != nil {
			fill.Shortfall = st.Shortfall.Amount
		}

	case Buy:
		fill.Leverage = 1
		_, err = sim.BuySpot(o.AssetID, o.Amount, price)

	case Sell:
		fill.Leverage = 1
		fill.PnL, err = sim.SellSpot(o.AssetID, o.Amount, price)

	default:
		return Fill{}, fmt.Errorf("%w: unknown action %q", portfolio.ErrInvalidOrder, o.Action)
	}
	if err != nil {
		return Fill{}, err
	}

	acct := sim.Snapshot()
	fill.Balance, fill.Loan = acct.Balance, acct.Loan
	fill.FilledAt = time.Now().UTC()

	d.mu.Lock()
	d.orderSeq++
	fill.OrderID = fmt.Sprintf("PAPER-%d-%d", fill.FilledAt.Unix(), d.orderSeq)
	d.mu.Unlock()

	log.Printf("[paper] %s session=%s asset=%s amount=%g price=%g (slip=%g) lev=%g order=%s",
		fill.Action, fill.SessionID, fill.AssetID, fill.Amount, fill.FillPrice,
		fill.Slippage, fill.Leverage, fill.OrderID)

	if d.journal != nil {
		if jerr := d.journal.RecordFill(ctx, fill); jerr != nil {
			log.Printf("[paper] journal write failed for %s: %v", fill.OrderID, jerr)
		}
	}
	return fill, nil
}
