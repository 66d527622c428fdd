package gateway

import (
	"context"
	"encoding/json"
	"log"
	"strings"
	"sync"
	"time"

	"investgame/internal/metrics"
	"investgame/internal/model"
	"investgame/internal/portfolio"
	redisstore "investgame/internal/store/redis"

	"github.com/gorilla/websocket"
)

const replayDepth = 500 // envelopes kept per channel

// Hub manages WebSocket clients and fans out account and indicator updates.
// Updates arrive either from Redis pubsub (PubSubRouter) or, without Redis,
// straight from the game service through the Publisher methods below.
type Hub struct {
	mu      sync.RWMutex
	clients map[*Client]bool
	latest  map[string]latestEntry
	seq     int64

	// Per-channel monotonic sequence numbers for gap detection
	channelSeqs map[string]int64

	// Per-channel replay buffers for gap backfill
	replayBufs map[string]*ReplayBuffer

	prom *metrics.Metrics
}

type latestEntry struct {
	Data json.RawMessage
	TS   time.Time
	Seq  int64
}

// NewHub creates a hub. prom may be nil.
func NewHub(prom *metrics.Metrics) *Hub {
	return &Hub{
		clients:     make(map[*Client]bool),
		latest:      make(map[string]latestEntry),
		channelSeqs: make(map[string]int64),
		replayBufs:  make(map[string]*ReplayBuffer),
		prom:        prom,
	}
}

// WriteIndicatorBatch broadcasts ready and live indicator results.
func (h *Hub) WriteIndicatorBatch(_ context.Context, results []model.IndicatorResult) {
	for i := range results {
		r := &results[i]
		if !r.Ready && !r.Live {
			continue
		}
		h.Broadcast(r.Channel(), r.JSON())
	}
}

// PublishAccount broadcasts an account snapshot on its session channel.
func (h *Hub) PublishAccount(_ context.Context, acct portfolio.Account) error {
	data, err := json.Marshal(acct)
	if err != nil {
		return err
	}
	h.Broadcast(redisstore.AccountChannel(acct.SessionID), data)
	return nil
}

// Register attaches an upgraded connection and starts its pumps.
func (h *Hub) Register(conn *websocket.Conn, sessionID string, assets []string) *Client {
	client := newClient(h, conn, sessionID, assets)

	h.mu.Lock()
	h.clients[client] = true
	count := len(h.clients)
	h.mu.Unlock()
	if h.prom != nil {
		h.prom.WSClients.Set(float64(count))
	}

	log.Printf("[gateway] ws client connected session=%q (%d total)", sessionID, count)

	client.sendInitialState()
	go client.writePump()
	go client.readPump()
	return client
}

// RemoveClient removes a client from the hub.
func (h *Hub) RemoveClient(c *Client) {
	h.mu.Lock()
	if !h.clients[c] {
		h.mu.Unlock()
		return
	}
	delete(h.clients, c)
	count := len(h.clients)
	h.mu.Unlock()
	close(c.send)
	if h.prom != nil {
		h.prom.WSClients.Set(float64(count))
	}
}

// ClientCount returns the number of connected WS clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Latest returns the last payload seen on channel.
func (h *Hub) Latest(channel string) (json.RawMessage, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	e, ok := h.latest[channel]
	return e.Data, ok
}

// ReplayRange returns buffered envelopes for a channel with seq in
// [fromSeq, toSeq], oldest first.
func (h *Hub) ReplayRange(channel string, fromSeq, toSeq int64) []json.RawMessage {
	h.mu.RLock()
	rb, exists := h.replayBufs[channel]
	h.mu.RUnlock()
	if !exists {
		return []json.RawMessage{}
	}
	entries := rb.Range(fromSeq, toSeq)
	out := make([]json.RawMessage, len(entries))
	for i, e := range entries {
		out[i] = e.Data
	}
	return out
}

// ChannelSeq returns the current sequence number for a channel.
func (h *Hub) ChannelSeq(channel string) int64 {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.channelSeqs[channel]
}

// parseChannel splits "pub:account:{id}" and "pub:ind:{asset}" channels.
// kind is "" for anything else.
func parseChannel(channel string) (kind, key string) {
	switch {
	case strings.HasPrefix(channel, "pub:account:"):
		return "account", strings.TrimPrefix(channel, "pub:account:")
	case strings.HasPrefix(channel, "pub:ind:"):
		return "indicator", strings.TrimPrefix(channel, "pub:ind:")
	}
	return "", ""
}
