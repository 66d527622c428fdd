// Package feed subscribes to an upstream WebSocket price server and feeds
// every price it receives into the game.
//
// Each text frame carries one JSON price:
//
//	{"asset_id":"BTC","close":64012.5,"timestamp":"2024-05-01T12:00:00Z"}
//
// "price" is accepted in place of "close"; a missing timestamp is stamped on
// ingest.
package feed

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/url"
	"time"

	"investgame/internal/model"

	"github.com/gorilla/websocket"
)

// IngestFunc receives each decoded price. Errors are logged and the feed
// keeps reading.
type IngestFunc func(ctx context.Context, p model.AssetPrice) error

// Config holds configuration for the feed client.
type Config struct {
	// URL of the price WebSocket server, e.g. "ws://localhost:9001/prices"
	URL string

	// ReconnectDelay is the initial delay before reconnection attempts.
	// Defaults to 2 seconds if zero.
	ReconnectDelay time.Duration

	// MaxReconnectDelay caps the exponential backoff. Defaults to 30s.
	MaxReconnectDelay time.Duration
}

func (c *Config) defaults() {
	if c.ReconnectDelay == 0 {
		c.ReconnectDelay = 2 * time.Second
	}
	if c.MaxReconnectDelay == 0 {
		c.MaxReconnectDelay = 30 * time.Second
	}
}

// Feed is a reconnecting WebSocket price client.
type Feed struct {
	cfg    Config
	ingest IngestFunc

	// Optional hook, called before each reconnect wait with the delay used.
	OnReconnect func(delay time.Duration)
}

// New creates a feed. Returns an error if the URL is unparseable.
func New(cfg Config, ingest IngestFunc) (*Feed, error) {
	cfg.defaults()
	u, err := url.Parse(cfg.URL)
	if err != nil {
		return nil, err
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return nil, errors.New("feed url must use ws:// or wss://")
	}
	return &Feed{cfg: cfg, ingest: ingest}, nil
}

// message is the wire format of one price frame.
type message struct {
	AssetID   string    `json:"asset_id"`
	Timestamp time.Time `json:"timestamp"`
	Close     *float64  `json:"close"`
	Price     *float64  `json:"price"`
}

func decode(raw []byte) (model.AssetPrice, error) {
	var m message
	if err := json.Unmarshal(raw, &m); err != nil {
		return model.AssetPrice{}, err
	}
	if m.AssetID == "" {
		return model.AssetPrice{}, errors.New("missing asset_id")
	}
	p := model.AssetPrice{AssetID: m.AssetID, Point: model.PricePoint{Timestamp: m.Timestamp}}
	switch {
	case m.Close != nil:
		p.Point.Close = *m.Close
	case m.Price != nil:
		p.Point.Close = *m.Price
	default:
		return model.AssetPrice{}, errors.New("missing close/price")
	}
	return p, nil
}

// Start connects and streams prices into the ingest func. Blocks until ctx
// is cancelled, reconnecting with exponential backoff on disconnect.
func (f *Feed) Start(ctx context.Context) error {
	b := backoff{base: f.cfg.ReconnectDelay, max: f.cfg.MaxReconnectDelay}

	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		connected, err := f.runOnce(ctx)
		if err == nil {
			return nil
		}
		if connected {
			b.reset()
		}
		delay := b.next()

		log.Printf("[feed] disconnected (%v), reconnecting in %s...", err, delay)
		if f.OnReconnect != nil {
			f.OnReconnect(delay)
		}

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(delay):
		}
	}
}

// backoff doubles from base up to max. reset returns it to base.
type backoff struct {
	base, max time.Duration
	cur       time.Duration
}

func (b *backoff) next() time.Duration {
	if b.cur == 0 {
		b.cur = b.base
	}
	d := b.cur
	b.cur *= 2
	if b.cur > b.max {
		b.cur = b.max
	}
	return d
}

func (b *backoff) reset() { b.cur = 0 }

// runOnce makes a single connection attempt and reads until disconnect or
// ctx cancel. connected reports whether the dial succeeded. A nil error
// means ctx was cancelled.
func (f *Feed) runOnce(ctx context.Context) (connected bool, err error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, f.cfg.URL, nil)
	if err != nil {
		return false, err
	}
	defer conn.Close()

	log.Printf("[feed] connected to %s", f.cfg.URL)

	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, "shutdown"))
			conn.Close()
		case <-stop:
		}
	}()

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return true, nil
			}
			return true, err
		}

		p, err := decode(raw)
		if err != nil {
			log.Printf("[feed] parse error: %v (raw: %s)", err, raw)
			continue
		}
		if err := f.ingest(ctx, p); err != nil {
			log.Printf("[feed] ingest %s: %v", p.AssetID, err)
		}
	}
}
