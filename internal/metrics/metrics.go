package metrics

import (
	"context"
	"database/sql"
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	goredis "github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the game server.
type Metrics struct {
	PricesIngested *prometheus.CounterVec // labels: asset
	PriceRejected  prometheus.Counter

	// Trading
	OrdersTotal       *prometheus.CounterVec // labels: action, status=filled|rejected
	LiquidationsTotal *prometheus.CounterVec // labels: side
	ShortfallsTotal   *prometheus.CounterVec // labels: policy
	ShortfallAmount   prometheus.Counter
	ActiveSessions    prometheus.Gauge

	// Indicators
	IndicatorComputeDur prometheus.Histogram
	ChartComputeDur     prometheus.Histogram
	VerdictCache        *prometheus.CounterVec // labels: result=hit|miss|error

	// Storage
	SQLiteWriteDur  prometheus.Histogram
	RedisPublishDur prometheus.Histogram

	// Circuit breaker
	RedisCircuitBreakerState prometheus.Gauge // 0=closed, 1=open, 2=half-open
	RedisCircuitBreakerTrips prometheus.Counter

	// WebSocket
	WSClients       prometheus.Gauge
	WSDroppedFrames prometheus.Counter
}

// NewMetrics creates and registers all metrics on reg. A nil reg means the
// default Prometheus registry; tests pass a fresh prometheus.NewRegistry().
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	fast := []float64{0.000005, 0.00001, 0.00005, 0.0001, 0.0005, 0.001, 0.005, 0.01}

	m := &Metrics{
		PricesIngested: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "investgame_prices_ingested_total",
			Help: "Price points accepted, by asset",
		}, []string{"asset"}),
		PriceRejected: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "investgame_prices_rejected_total",
			Help: "Price points rejected as non-finite or non-positive",
		}),

		OrdersTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "investgame_orders_total",
			Help: "Paper orders by action and outcome",
		}, []string{"action", "status"}),
		LiquidationsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "investgame_liquidations_total",
			Help: "Leveraged positions force-closed",
		}, []string{"side"}),
		ShortfallsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "investgame_shortfalls_total",
			Help: "Settlements whose loss exceeded the position margin",
		}, []string{"policy"}),
		ShortfallAmount: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "investgame_shortfall_amount_total",
			Help: "Sum of uncollateralized losses",
		}),
		ActiveSessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "investgame_active_sessions",
			Help: "Game sessions held in memory",
		}),

		IndicatorComputeDur: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "investgame_indicator_compute_duration_seconds",
			Help:    "Live indicator engine latency per price point",
			Buckets: fast,
		}),
		ChartComputeDur: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "investgame_chart_compute_duration_seconds",
			Help:    "Batch chart indicator latency per request",
			Buckets: prometheus.DefBuckets,
		}),
		VerdictCache: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "investgame_verdict_cache_total",
			Help: "Verdict cache lookups by result",
		}, []string{"result"}),

		SQLiteWriteDur: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "investgame_sqlite_write_duration_seconds",
			Help:    "SQLite write latency",
			Buckets: prometheus.DefBuckets,
		}),
		RedisPublishDur: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "investgame_redis_publish_duration_seconds",
			Help:    "Redis publish latency",
			Buckets: prometheus.DefBuckets,
		}),

		RedisCircuitBreakerState: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "investgame_redis_circuit_breaker_state",
			Help: "Redis circuit breaker state (0=closed, 1=open, 2=half-open)",
		}),
		RedisCircuitBreakerTrips: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "investgame_redis_circuit_breaker_trips_total",
			Help: "Times the Redis circuit breaker tripped open",
		}),

		WSClients: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "investgame_ws_clients",
			Help: "Connected WebSocket clients",
		}),
		WSDroppedFrames: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "investgame_ws_dropped_frames_total",
			Help: "Frames dropped for slow WebSocket clients",
		}),
	}

	reg.MustRegister(
		m.PricesIngested,
		m.PriceRejected,
		m.OrdersTotal,
		m.LiquidationsTotal,
		m.ShortfallsTotal,
		m.ShortfallAmount,
		m.ActiveSessions,
		m.IndicatorComputeDur,
		m.ChartComputeDur,
		m.VerdictCache,
		m.SQLiteWriteDur,
		m.RedisPublishDur,
		m.RedisCircuitBreakerState,
		m.RedisCircuitBreakerTrips,
		m.WSClients,
		m.WSDroppedFrames,
	)

	return m
}

// ObserveSince records the seconds elapsed since start on h.
func ObserveSince(h prometheus.Observer, start time.Time) {
	h.Observe(time.Since(start).Seconds())
}

// HealthStatus tracks dependency health for /health.
type HealthStatus struct {
	mu sync.RWMutex

	RedisEnabled   bool
	RedisConnected bool
	SQLiteOK       bool
	LastPriceTime  time.Time
	Sessions       int

	RedisLatencyMs  float64
	SQLiteLatencyMs float64
	LastCheckAt     time.Time
	StartedAt       time.Time
}

// NewHealthStatus returns a default health status.
func NewHealthStatus() *HealthStatus {
	return &HealthStatus{StartedAt: time.Now()}
}

func (h *HealthStatus) SetRedisEnabled(v bool) {
	h.mu.Lock()
	h.RedisEnabled = v
	h.mu.Unlock()
}

func (h *HealthStatus) SetSQLiteOK(v bool) {
	h.mu.Lock()
	h.SQLiteOK = v
	h.mu.Unlock()
}

func (h *HealthStatus) SetLastPriceTime(t time.Time) {
	h.mu.Lock()
	h.LastPriceTime = t
	h.mu.Unlock()
}

func (h *HealthStatus) SetSessions(n int) {
	h.mu.Lock()
	h.Sessions = n
	h.mu.Unlock()
}

// CheckRedis pings Redis and records latency + connectivity.
func (h *HealthStatus) CheckRedis(ctx context.Context, rdb *goredis.Client) {
	start := time.Now()
	err := rdb.Ping(ctx).Err()
	latency := time.Since(start)

	h.mu.Lock()
	h.RedisConnected = err == nil
	h.RedisLatencyMs = float64(latency.Microseconds()) / 1000.0
	h.LastCheckAt = time.Now()
	h.mu.Unlock()
}

// CheckSQLite pings the database and records latency + health.
func (h *HealthStatus) CheckSQLite(ctx context.Context, db *sql.DB) {
	start := time.Now()
	err := db.PingContext(ctx)
	latency := time.Since(start)

	h.mu.Lock()
	h.SQLiteOK = err == nil
	h.SQLiteLatencyMs = float64(latency.Microseconds()) / 1000.0
	h.LastCheckAt = time.Now()
	h.mu.Unlock()
}

// StartLivenessChecker runs periodic dependency checks until ctx is done.
// rdb may be nil when Redis is disabled.
func (h *HealthStatus) StartLivenessChecker(ctx context.Context, rdb *goredis.Client, sqlDB *sql.DB, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				probeCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
				if rdb != nil {
					h.CheckRedis(probeCtx, rdb)
				}
				if sqlDB != nil {
					h.CheckSQLite(probeCtx, sqlDB)
				}
				cancel()
			}
		}
	}()
}

// ServeHTTP handles the /health endpoint. SQLite down is unhealthy; an
// enabled but unreachable Redis only degrades the service.
func (h *HealthStatus) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	overallStatus := "healthy"
	httpCode := http.StatusOK
	if h.RedisEnabled && !h.RedisConnected {
		overallStatus = "degraded"
	}
	if !h.SQLiteOK {
		overallStatus = "unhealthy"
		httpCode = http.StatusServiceUnavailable
	}

	priceAge := ""
	if !h.LastPriceTime.IsZero() {
		priceAge = time.Since(h.LastPriceTime).Round(time.Millisecond).String()
	}

	status := struct {
		Status          string  `json:"status"`
		Uptime          string  `json:"uptime"`
		Sessions        int     `json:"sessions"`
		PriceAge        string  `json:"price_age"`
		RedisEnabled    bool    `json:"redis_enabled"`
		RedisConnected  bool    `json:"redis_connected"`
		RedisLatencyMs  float64 `json:"redis_latency_ms"`
		SQLiteOK        bool    `json:"sqlite_ok"`
		SQLiteLatencyMs float64 `json:"sqlite_latency_ms"`
		LastCheckAt     string  `json:"last_check_at"`
	}{
		Status:          overallStatus,
		Uptime:          time.Since(h.StartedAt).Round(time.Second).String(),
		Sessions:        h.Sessions,
		PriceAge:        priceAge,
		RedisEnabled:    h.RedisEnabled,
		RedisConnected:  h.RedisConnected,
		RedisLatencyMs:  h.RedisLatencyMs,
		SQLiteOK:        h.SQLiteOK,
		SQLiteLatencyMs: h.SQLiteLatencyMs,
		LastCheckAt:     h.LastCheckAt.Format(time.RFC3339),
	}

	w.Header().Set("Content-Type", "application/json")
	if httpCode != http.StatusOK {
		w.WriteHeader(httpCode)
	}
	json.NewEncoder(w).Encode(status)
}

// Handler returns the promhttp handler for reg's gatherer, or the default
// handler when g is nil.
func Handler(g prometheus.Gatherer) http.Handler {
	if g == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}

// Server runs a standalone HTTP server exposing /metrics and /health, for
// deployments that keep metrics off the public listener.
type Server struct {
	addr string
	srv  *http.Server
}

// NewServer creates a metrics and health server.
func NewServer(addr string, health *HealthStatus) *Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/health", health.ServeHTTP)

	return &Server{
		addr: addr,
		srv:  &http.Server{Addr: addr, Handler: mux},
	}
}

// Start launches the HTTP server in a goroutine.
func (s *Server) Start() {
	go func() {
		log.Printf("[metrics] server listening on %s", s.addr)
		if err := s.srv.ListenAndServe(); err != http.ErrServerClosed {
			log.Printf("[metrics] server error: %v", err)
		}
	}()
}

// Stop gracefully shuts down the metrics server.
func (s *Server) Stop(ctx context.Context) {
	s.srv.Shutdown(ctx)
}
