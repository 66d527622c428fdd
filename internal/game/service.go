// Package game wires the calculation core to storage and push channels: it
// owns the session registry, the live indicator engine and the paper desk,
// and is the single entry point the gateway and scheduler call into.
package game

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"sync"
	"time"

	"investgame/internal/execution"
	"investgame/internal/indicator"
	"investgame/internal/metrics"
	"investgame/internal/model"
	"investgame/internal/notification"
	"investgame/internal/portfolio"
	"investgame/internal/strategy"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	// ErrNoHistory is returned for assets with no stored prices.
	ErrNoHistory = errors.New("no price history for asset")
	// ErrInsufficientHistory is returned when the classifier needs more points.
	ErrInsufficientHistory = errors.New("insufficient price history for analysis")
	// ErrNoPrice is returned when an order omits its price and none is known.
	ErrNoPrice = errors.New("no price known for asset")
)

// Store is the durable state the service reads and writes.
type Store interface {
	AppendPrice(ctx context.Context, p model.AssetPrice) error
	ReadHistory(ctx context.Context, assetID string, limit int) ([]model.PricePoint, error)
	LatestPrices(ctx context.Context) (map[string]float64, error)

	SaveAccount(ctx context.Context, acct portfolio.Account) error
	// AllLatestAccounts excludes sessions passed to EndSession.
	AllLatestAccounts(ctx context.Context) ([]portfolio.Account, error)
	EndSession(ctx context.Context, sessionID string) error

	SaveSnapshot(ctx context.Context, snap *indicator.EngineSnapshot) error
	ReadLatestSnapshot(ctx context.Context) (*indicator.EngineSnapshot, error)
}

// TradeLog journals fills and lists them back.
type TradeLog interface {
	execution.Recorder
	GetTrades(ctx context.Context, sessionID string, limit int) ([]execution.TradeRecord, error)
}

// Publisher pushes live updates to WebSocket subscribers, either through
// Redis pubsub or straight into the local hub.
type Publisher interface {
	WriteIndicatorBatch(ctx context.Context, results []model.IndicatorResult)
	PublishAccount(ctx context.Context, acct portfolio.Account) error
}

// VerdictCache caches classifier verdicts per asset.
type VerdictCache interface {
	GetVerdict(ctx context.Context, assetID string) (*strategy.Verdict, bool, error)
	SetVerdict(ctx context.Context, assetID string, v *strategy.Verdict) error
	InvalidateVerdict(ctx context.Context, assetID string) error
}

// Config holds the game rules.
type Config struct {
	StartingBalance float64
	Options         portfolio.Options
	Indicators      []indicator.IndicatorConfig
	SlippageBps     int64
	HistoryWindow   int // points read for analysis and engine warm-up
}

// Deps are the service's collaborators. Only Store is required; a nil
// Metrics registers on a private registry.
type Deps struct {
	Store     Store
	Trades    TradeLog
	Publisher Publisher
	Cache     VerdictCache
	Metrics   *metrics.Metrics
	Health    *metrics.HealthStatus
	Notifier  notification.Notifier // liquidation alerts
}

// Service is the game backend.
type Service struct {
	cfg Config

	store   Store
	trades  TradeLog
	pub     Publisher
	cache   VerdictCache
	prom    *metrics.Metrics
	health  *metrics.HealthStatus
	notify  notification.Notifier
	desk    *execution.PaperDesk
	reg     *portfolio.Registry
	started time.Time

	// mu guards the live engine and the last known prices.
	mu     sync.Mutex
	engine *indicator.Engine
	prices map[string]float64

	// cacheMu orders verdict writes against ingest invalidations. gen counts
	// ingests per asset; a verdict is cached only if no ingest happened
	// since its history was read.
	cacheMu sync.Mutex
	gen     map[string]uint64
}

// New builds a service with an empty registry and a cold engine.
// Call Restore to resume persisted state.
func New(cfg Config, deps Deps) *Service {
	if cfg.HistoryWindow <= 0 {
		cfg.HistoryWindow = 500
	}
	if len(cfg.Indicators) == 0 {
		cfg.Indicators = indicator.DefaultConfigs()
	}
	if deps.Metrics == nil {
		deps.Metrics = metrics.NewMetrics(prometheus.NewRegistry())
	}

	svc := &Service{
		cfg:     cfg,
		store:   deps.Store,
		trades:  deps.Trades,
		pub:     deps.Publisher,
		cache:   deps.Cache,
		prom:    deps.Metrics,
		health:  deps.Health,
		notify:  deps.Notifier,
		engine:  indicator.NewEngine(cfg.Indicators),
		prices:  make(map[string]float64),
		gen:     make(map[string]uint64),
		started: time.Now(),
	}

	opts := cfg.Options
	userHook := opts.OnShortfall
	opts.OnShortfall = func(sf portfolio.Shortfall) {
		svc.prom.ShortfallsTotal.WithLabelValues(string(sf.Policy)).Inc()
		svc.prom.ShortfallAmount.Add(sf.Amount)
		if userHook != nil {
			userHook(sf)
		}
	}
	svc.reg = portfolio.NewRegistry(cfg.StartingBalance, opts)

	var rec execution.Recorder
	if deps.Trades != nil {
		rec = deps.Trades
	}
	svc.desk = execution.NewPaperDesk(svc.reg, rec, cfg.SlippageBps)
	return svc
}

// Registry exposes the session registry.
func (svc *Service) Registry() *portfolio.Registry { return svc.reg }

// Desk exposes the paper desk.
func (svc *Service) Desk() *execution.PaperDesk { return svc.desk }

// Restore loads every session's latest account, the last engine checkpoint
// and the last known prices. Assets the checkpoint does not cover are warmed
// from stored history.
func (svc *Service) Restore(ctx context.Context) error {
	accts, err := svc.store.AllLatestAccounts(ctx)
	if err != nil {
		return fmt.Errorf("restore accounts: %w", err)
	}
	for _, a := range accts {
		svc.reg.Restore(a)
	}
	svc.trackSessions()

	prices, err := svc.store.LatestPrices(ctx)
	if err != nil {
		return fmt.Errorf("restore prices: %w", err)
	}

	snap, err := svc.store.ReadLatestSnapshot(ctx)
	if err != nil {
		log.Printf("[game] engine snapshot read error: %v (starting cold)", err)
		snap = nil
	}

	svc.mu.Lock()
	defer svc.mu.Unlock()

	svc.engine = indicator.RestoreEngine(svc.cfg.Indicators, snap)
	for asset, p := range prices {
		svc.prices[asset] = p
	}

	warm := make(map[string]bool)
	for _, a := range svc.engine.Assets() {
		warm[a] = true
	}
	backfilled := 0
	for asset := range prices {
		if warm[asset] {
			continue
		}
		hist, err := svc.store.ReadHistory(ctx, asset, svc.cfg.HistoryWindow)
		if err != nil {
			log.Printf("[game] backfill %s failed: %v", asset, err)
			continue
		}
		for _, p := range hist {
			svc.engine.Process(asset, p)
		}
		backfilled += len(hist)
	}

	log.Printf("[game] restored %d sessions, %d assets, backfilled %d points",
		len(accts), len(prices), backfilled)
	return nil
}

// LastPrices returns a copy of the last known price per asset.
func (svc *Service) LastPrices() map[string]float64 {
	svc.mu.Lock()
	defer svc.mu.Unlock()
	out := make(map[string]float64, len(svc.prices))
	for k, v := range svc.prices {
		out[k] = v
	}
	return out
}

// SnapshotAll persists every session's account and the engine checkpoint.
func (svc *Service) SnapshotAll(ctx context.Context) error {
	var errs []error
	svc.reg.Each(func(sim *portfolio.Simulator) {
		if err := svc.saveAccount(ctx, sim.Snapshot()); err != nil {
			errs = append(errs, err)
		}
	})

	svc.mu.Lock()
	snap, err := indicator.SnapshotEngine(svc.engine)
	svc.mu.Unlock()
	if err != nil {
		errs = append(errs, err)
	} else if err := svc.store.SaveSnapshot(ctx, snap); err != nil {
		errs = append(errs, fmt.Errorf("save engine snapshot: %w", err))
	}
	return errors.Join(errs...)
}

// SweepAll liquidates eligible positions in every session at the last known
// prices. Settlements are ordered by session, then position id.
func (svc *Service) SweepAll(ctx context.Context) []portfolio.Settlement {
	return svc.sweep(ctx, svc.LastPrices())
}

func (svc *Service) sweep(ctx context.Context, prices map[string]float64) []portfolio.Settlement {
	var all []portfolio.Settlement
	ids := svc.reg.Sessions()
	sort.Strings(ids)
	for _, id := range ids {
		sim, err := svc.reg.Get(id)
		if err != nil {
			continue
		}
		sts := sim.SweepLiquidations(prices)
		if len(sts) == 0 {
			continue
		}
		for _, st := range sts {
			svc.prom.LiquidationsTotal.WithLabelValues(string(st.Position.Side)).Inc()
			log.Printf("[game] liquidated session=%s position=%s asset=%s at %g",
				id, st.Position.ID, st.Position.AssetID, st.ExitPrice)
			svc.alert(notification.LiquidationAlert(id, st))
		}
		all = append(all, sts...)
		acct := sim.Snapshot()
		if err := svc.saveAccount(ctx, acct); err != nil {
			log.Printf("[game] persist after liquidation failed: %v", err)
		}
		svc.publishAccount(ctx, acct)
	}
	return all
}

func (svc *Service) saveAccount(ctx context.Context, acct portfolio.Account) error {
	start := time.Now()
	err := svc.store.SaveAccount(ctx, acct)
	metrics.ObserveSince(svc.prom.SQLiteWriteDur, start)
	if err != nil {
		return fmt.Errorf("save account %s: %w", acct.SessionID, err)
	}
	return nil
}

func (svc *Service) publishAccount(ctx context.Context, acct portfolio.Account) {
	if svc.pub == nil {
		return
	}
	start := time.Now()
	if err := svc.pub.PublishAccount(ctx, acct); err != nil {
		log.Printf("[game] publish account %s failed: %v", acct.SessionID, err)
	}
	metrics.ObserveSince(svc.prom.RedisPublishDur, start)
}

func (svc *Service) trackSessions() {
	n := len(svc.reg.Sessions())
	svc.prom.ActiveSessions.Set(float64(n))
	if svc.health != nil {
		svc.health.SetSessions(n)
	}
}

// alert delivers in the background so a slow channel never stalls ingest.
func (svc *Service) alert(a notification.Alert) {
	if svc.notify == nil {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := svc.notify.Send(ctx, a); err != nil {
			log.Printf("[game] alert delivery failed: %v", err)
		}
	}()
}
