package gateway

import (
	"encoding/json"
	"log"
	"sort"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 30 * time.Second
	sendBuffer = 256
)

// Client represents a single WebSocket peer. It always receives its own
// session's account channel, and indicator channels for the assets it is
// subscribed to (all assets when the set is empty).
type Client struct {
	conn    *websocket.Conn
	send    chan []byte
	hub     *Hub
	session string

	subMu  sync.RWMutex
	assets map[string]bool
}

// clientMsg is a control message from the browser.
//
//	{"type":"SUBSCRIBE","assets":["BTC"]}
//	{"type":"UNSUBSCRIBE","assets":["BTC"]}
//	{"type":"PING","ping":1700000000000}
type clientMsg struct {
	Type   string   `json:"type"`
	Assets []string `json:"assets"`
	Ping   int64    `json:"ping"`
}

func newClient(h *Hub, conn *websocket.Conn, sessionID string, assets []string) *Client {
	c := &Client{
		conn:    conn,
		send:    make(chan []byte, sendBuffer),
		hub:     h,
		session: sessionID,
		assets:  make(map[string]bool, len(assets)),
	}
	for _, a := range assets {
		if a != "" {
			c.assets[a] = true
		}
	}
	return c
}

// matchesChannel reports whether this client should receive channel.
func (c *Client) matchesChannel(channel string) bool {
	kind, key := parseChannel(channel)
	switch kind {
	case "account":
		return c.session != "" && c.session == key
	case "indicator":
		c.subMu.RLock()
		defer c.subMu.RUnlock()
		return len(c.assets) == 0 || c.assets[key]
	}
	return true
}

// sendInitialState queues the latest payload of every matching channel.
func (c *Client) sendInitialState() {
	c.hub.mu.RLock()
	defer c.hub.mu.RUnlock()

	for channel, entry := range c.hub.latest {
		if !c.matchesChannel(channel) {
			continue
		}
		env := buildEnvelope(channel, entry.Data, entry.TS, c.hub.seq, entry.Seq, true)
		select {
		case c.send <- env:
		default:
		}
	}
}

func (c *Client) trySend(v any) {
	b, err := json.Marshal(v)
	if err != nil {
		return
	}
	select {
	case c.send <- b:
	default:
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			// Coalesce queued messages into one frame, newline separated.
			w, err := c.conn.NextWriter(websocket.TextMessage)
			if err != nil {
				return
			}
			w.Write(msg)
			n := len(c.send)
			for i := 0; i < n; i++ {
				w.Write([]byte{'\n'})
				w.Write(<-c.send)
			}
			if err := w.Close(); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *Client) readPump() {
	defer func() {
		c.hub.RemoveClient(c)
		c.conn.Close()
		log.Printf("[gateway] ws client disconnected session=%q", c.session)
	}()

	c.conn.SetReadLimit(4096)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		var msg clientMsg
		if json.Unmarshal(raw, &msg) != nil {
			c.trySend(map[string]string{"type": "error", "error": "invalid JSON"})
			continue
		}

		switch msg.Type {
		case "SUBSCRIBE":
			c.subMu.Lock()
			for _, a := range msg.Assets {
				c.assets[a] = true
			}
			c.subMu.Unlock()
			c.trySend(map[string]any{"type": "subscribed", "assets": c.Assets()})
		case "UNSUBSCRIBE":
			c.subMu.Lock()
			for _, a := range msg.Assets {
				delete(c.assets, a)
			}
			c.subMu.Unlock()
			c.trySend(map[string]any{"type": "subscribed", "assets": c.Assets()})
		case "PING":
			c.trySend(map[string]any{
				"type":      "pong",
				"ping":      msg.Ping,
				"server_ts": time.Now().UnixMilli(),
			})
		default:
			c.trySend(map[string]string{"type": "error", "error": "unknown message type " + msg.Type})
		}
	}
}

// Assets returns the subscribed asset set, sorted.
func (c *Client) Assets() []string {
	c.subMu.RLock()
	defer c.subMu.RUnlock()
	out := make([]string, 0, len(c.assets))
	for a := range c.assets {
		out = append(out, a)
	}
	sort.Strings(out)
	return out
}
