// Package notification delivers game alerts (liquidations, uncollateralized
// losses) to external channels such as Telegram and webhooks.
package notification

import (
	"context"
	"errors"
	"fmt"
	"log"

	"investgame/internal/portfolio"
)

// AlertLevel represents the severity of an alert.
type AlertLevel string

const (
	AlertInfo     AlertLevel = "INFO"
	AlertWarning  AlertLevel = "WARNING"
	AlertCritical AlertLevel = "CRITICAL"
)

// Alert represents a notification to be sent.
type Alert struct {
	Level     AlertLevel `json:"level"`
	Title     string     `json:"title"`
	Message   string     `json:"message"`
	SessionID string     `json:"session_id,omitempty"`
	AssetID   string     `json:"asset_id,omitempty"`
}

// Notifier is the interface for all notification backends.
type Notifier interface {
	// Send delivers an alert. Returns error if delivery fails.
	Send(ctx context.Context, alert Alert) error
}

// LogNotifier logs alerts; the default when no channel is configured.
type LogNotifier struct{}

// NewLogNotifier creates a log-based notifier.
func NewLogNotifier() *LogNotifier {
	return &LogNotifier{}
}

func (n *LogNotifier) Send(ctx context.Context, alert Alert) error {
	log.Printf("[notify] [%s] %s: %s", alert.Level, alert.Title, alert.Message)
	return nil
}

// Multi sends every alert to all backends and joins their errors.
type Multi []Notifier

func (m Multi) Send(ctx context.Context, alert Alert) error {
	var errs []error
	for _, n := range m {
		if err := n.Send(ctx, alert); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// LiquidationAlert describes a forced close. Liquidations that left an
// uncollateralized loss are critical.
func LiquidationAlert(sessionID string, st portfolio.Settlement) Alert {
	a := Alert{
		Level:     AlertWarning,
		Title:     "Position liquidated",
		SessionID: sessionID,
		AssetID:   st.Position.AssetID,
		Message: fmt.Sprintf("%s %s %g @ %g (x%g) closed at %g, pnl %.2f",
			st.Position.Side, st.Position.AssetID, st.Position.Amount, st.Position.EntryPrice,
			st.Position.Leverage, st.ExitPrice, st.PnL),
	}
	if st.Shortfall != nil {
		a.Level = AlertCritical
		a.Message += fmt.Sprintf(", shortfall %.2f (%s)", st.Shortfall.Amount, st.Shortfall.Policy)
	}
	return a
}
