package notification

import (
	"context"
	"log"
	"time"
)

// WebhookNotifier POSTs each alert as JSON, stamped with the send time.
type WebhookNotifier struct {
	url string
	poster
}

func NewWebhookNotifier(url string) *WebhookNotifier {
	return &WebhookNotifier{url: url, poster: newPoster("webhook")}
}

type webhookPayload struct {
	Alert
	TS string `json:"ts"`
}

func (w *WebhookNotifier) Send(ctx context.Context, alert Alert) error {
	err := w.post(ctx, w.url, webhookPayload{Alert: alert, TS: time.Now().UTC().Format(time.RFC3339Nano)})
	if err != nil {
		return err
	}
	log.Printf("[webhook] delivered %s alert for session=%s", alert.Level, alert.SessionID)
	return nil
}
