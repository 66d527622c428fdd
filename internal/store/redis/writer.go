// Package redis caches analysis verdicts and fans out live updates.
//
// Keys and channels:
//
//	verdict:{asset}            latest classifier verdict, TTL-bound
//	ind:{name}:latest:{asset}  latest ready live indicator value
//	account:latest:{session}   latest account snapshot
//	pub:ind:{asset}            live indicator results
//	pub:account:{session}      account snapshots after every change
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"investgame/internal/model"
	"investgame/internal/portfolio"
	"investgame/internal/strategy"

	goredis "github.com/go-redis/redis/v8"
)

const (
	defaultLatestTTL  = 30 * time.Minute
	defaultVerdictTTL = time.Minute

	// AccountChannelPattern matches every account channel for PSubscribe.
	AccountChannelPattern = "pub:account:*"
	// IndicatorChannelPattern matches every indicator channel for PSubscribe.
	IndicatorChannelPattern = "pub:ind:*"
)

// WriterConfig configures the Redis writer.
type WriterConfig struct {
	Addr       string // Redis address, e.g. "localhost:6379"
	Password   string
	DB         int
	VerdictTTL time.Duration
}

// Writer caches verdicts and publishes live updates. Every call goes through
// a circuit breaker so a Redis outage fails fast instead of stalling requests.
type Writer struct {
	client     *goredis.Client
	breaker    *CircuitBreaker
	verdictTTL time.Duration
}

// Client returns the underlying Redis client for health checks and subscribers.
func (w *Writer) Client() *goredis.Client { return w.client }

// Breaker exposes the circuit breaker so callers can observe state changes.
func (w *Writer) Breaker() *CircuitBreaker { return w.breaker }

// New creates a new Redis Writer and pings the server.
func New(cfg WriterConfig) (*Writer, error) {
	client := goredis.NewClient(&goredis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	ttl := cfg.VerdictTTL
	if ttl <= 0 {
		ttl = defaultVerdictTTL
	}

	log.Printf("[redis] connected to %s", cfg.Addr)
	return &Writer{
		client:     client,
		breaker:    NewCircuitBreaker(5, 10*time.Second),
		verdictTTL: ttl,
	}, nil
}

// VerdictKey is the cache key for an asset's latest verdict.
func VerdictKey(assetID string) string { return "verdict:" + assetID }

// AccountChannel is the pubsub channel for a session's account snapshots.
func AccountChannel(sessionID string) string { return "pub:account:" + sessionID }

// SetVerdict caches v for assetID. A nil verdict is cached too, as JSON null,
// so repeated "not enough history" lookups stay cheap.
func (w *Writer) SetVerdict(ctx context.Context, assetID string, v *strategy.Verdict) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal verdict: %w", err)
	}
	return w.breaker.Execute(func() error {
		return w.client.Set(ctx, VerdictKey(assetID), data, w.verdictTTL).Err()
	})
}

// GetVerdict returns the cached verdict. found is false on a cache miss.
func (w *Writer) GetVerdict(ctx context.Context, assetID string) (v *strategy.Verdict, found bool, err error) {
	var data []byte
	err = w.breaker.Execute(func() error {
		var gerr error
		data, gerr = w.client.Get(ctx, VerdictKey(assetID)).Bytes()
		if errors.Is(gerr, goredis.Nil) {
			return nil
		}
		return gerr
	})
	if err != nil || data == nil {
		return nil, false, err
	}
	if err := json.Unmarshal(data, &v); err != nil {
		return nil, false, fmt.Errorf("unmarshal verdict: %w", err)
	}
	return v, true, nil
}

// InvalidateVerdict drops the cached verdict, e.g. after new prices arrive.
func (w *Writer) InvalidateVerdict(ctx context.Context, assetID string) error {
	return w.breaker.Execute(func() error {
		return w.client.Del(ctx, VerdictKey(assetID)).Err()
	})
}

// WriteIndicatorBatch stores and publishes indicator results in one pipeline.
// Ready results also refresh their latest key; live previews are publish-only.
func (w *Writer) WriteIndicatorBatch(ctx context.Context, results []model.IndicatorResult) {
	if len(results) == 0 {
		return
	}

	err := w.breaker.Execute(func() error {
		pipe := w.client.Pipeline()
		for i := range results {
			ind := &results[i]
			if !ind.Ready && !ind.Live {
				continue
			}
			data := ind.JSON()
			if !ind.Live {
				pipe.Set(ctx, "ind:"+ind.Name+":latest:"+ind.AssetID, data, defaultLatestTTL)
			}
			pipe.Publish(ctx, ind.Channel(), data)
		}
		_, err := pipe.Exec(ctx)
		return err
	})
	if err != nil {
		log.Printf("[redis] indicator batch pipeline error (%d results): %v", len(results), err)
	}
}

// PublishAccount stores the latest snapshot and publishes it to the
// session's channel.
func (w *Writer) PublishAccount(ctx context.Context, acct portfolio.Account) error {
	data, err := json.Marshal(acct)
	if err != nil {
		return fmt.Errorf("marshal account: %w", err)
	}
	return w.breaker.Execute(func() error {
		pipe := w.client.Pipeline()
		pipe.Set(ctx, "account:latest:"+acct.SessionID, data, defaultLatestTTL)
		pipe.Publish(ctx, AccountChannel(acct.SessionID), data)
		_, err := pipe.Exec(ctx)
		return err
	})
}

// Subscribe opens a pattern subscription. The caller closes the PubSub.
func (w *Writer) Subscribe(ctx context.Context, patterns ...string) *goredis.PubSub {
	return w.client.PSubscribe(ctx, patterns...)
}

// Close closes the Redis client.
func (w *Writer) Close() error {
	return w.client.Close()
}
