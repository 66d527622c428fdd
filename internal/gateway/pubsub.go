package gateway

import (
	"context"
	"log"

	goredis "github.com/go-redis/redis/v8"
)

// PubSubRouter forwards Redis pubsub messages into the hub, so every gateway
// instance behind a load balancer sees updates produced by any of them.
type PubSubRouter struct {
	hub *Hub
}

// NewPubSubRouter creates a PubSubRouter backed by the given Hub.
func NewPubSubRouter(hub *Hub) *PubSubRouter {
	return &PubSubRouter{hub: hub}
}

// Run drains ps until ctx is cancelled or the subscription closes, then
// closes ps.
func (r *PubSubRouter) Run(ctx context.Context, ps *goredis.PubSub) {
	defer ps.Close()
	log.Println("[gateway] redis pubsub fan-out running")

	ch := ps.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			r.hub.Broadcast(msg.Channel, []byte(msg.Payload))
		}
	}
}
