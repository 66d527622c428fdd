package game

import (
	"context"
	"errors"
	"fmt"
	"log"

	"investgame/internal/execution"
	"investgame/internal/portfolio"
)

// SessionView is an account with its mark-to-market valuation.
type SessionView struct {
	Account   portfolio.Account   `json:"account"`
	Valuation portfolio.Valuation `json:"valuation"`
}

// CreateSession opens a new game session. balance <= 0 uses the configured
// starting balance.
func (svc *Service) CreateSession(ctx context.Context, balance float64) (SessionView, error) {
	sim := svc.reg.Create(balance)
	acct := sim.Snapshot()
	if err := svc.saveAccount(ctx, acct); err != nil {
		svc.reg.Remove(acct.SessionID)
		return SessionView{}, err
	}
	svc.trackSessions()
	svc.publishAccount(ctx, acct)
	log.Printf("[game] session %s created with balance %g", acct.SessionID, acct.Balance)
	return svc.view(sim), nil
}

// Session returns a session's account valued at the last known prices.
func (svc *Service) Session(_ context.Context, id string) (SessionView, error) {
	sim, err := svc.reg.Get(id)
	if err != nil {
		return SessionView{}, err
	}
	return svc.view(sim), nil
}

// EndSession discards a session's account so it is not restored after a
// restart. Its trades stay in the journal for review.
func (svc *Service) EndSession(ctx context.Context, id string) error {
	if _, err := svc.reg.Get(id); err != nil {
		return err
	}
	if err := svc.store.EndSession(ctx, id); err != nil {
		return fmt.Errorf("end session: %w", err)
	}
	svc.reg.Remove(id)
	log.Printf("[game] session %s ended", id)
	svc.trackSessions()
	return nil
}

func (svc *Service) view(sim *portfolio.Simulator) SessionView {
	acct := sim.Snapshot()
	return SessionView{
		Account:   acct,
		Valuation: portfolio.Value(acct, svc.LastPrices()),
	}
}

// PlaceOrder executes an order on the paper desk. A zero price fills at the
// asset's last known price; close orders may omit the asset.
func (svc *Service) PlaceOrder(ctx context.Context, o execution.Order) (execution.Fill, error) {
	sim, err := svc.reg.Get(o.SessionID)
	if err != nil {
		return execution.Fill{}, err
	}

	if o.Price == 0 {
		asset := o.AssetID
		if asset == "" && o.PositionID != "" {
			asset = positionAsset(sim.Snapshot(), o.PositionID)
		}
		price, ok := svc.LastPrices()[asset]
		if !ok {
			svc.prom.OrdersTotal.WithLabelValues(string(o.Action), "rejected").Inc()
			return execution.Fill{}, fmt.Errorf("%w: %q", ErrNoPrice, asset)
		}
		o.Price = price
	}

	fill, err := svc.desk.Execute(ctx, o)
	if err != nil {
		svc.prom.OrdersTotal.WithLabelValues(string(o.Action), "rejected").Inc()
		return execution.Fill{}, err
	}
	svc.prom.OrdersTotal.WithLabelValues(string(o.Action), "filled").Inc()

	acct := sim.Snapshot()
	if err := svc.saveAccount(ctx, acct); err != nil {
		log.Printf("[game] %v", err)
	}
	svc.publishAccount(ctx, acct)
	return fill, nil
}

func positionAsset(a portfolio.Account, id string) string {
	for _, p := range a.OpenPositions() {
		if p.ID == id {
			return p.AssetID
		}
	}
	return ""
}

// ErrNoJournal is returned by Trades when no trade log is configured.
var ErrNoJournal = errors.New("trade journal not configured")

// Trades lists a session's most recent fills, newest first.
func (svc *Service) Trades(ctx context.Context, sessionID string, limit int) ([]execution.TradeRecord, error) {
	if svc.trades == nil {
		return nil, ErrNoJournal
	}
	if _, err := svc.reg.Get(sessionID); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 50
	}
	return svc.trades.GetTrades(ctx, sessionID, limit)
}
