package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"investgame/config"
	"investgame/internal/execution"
	"investgame/internal/feed"
	"investgame/internal/game"
	"investgame/internal/gateway"
	"investgame/internal/logger"
	"investgame/internal/metrics"
	"investgame/internal/model"
	"investgame/internal/scheduler"
	redisstore "investgame/internal/store/redis"
	"investgame/internal/store/sqlite"

	goredis "github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds | log.Lshortfile)

	var configPath string
	root := &cobra.Command{
		Use:           "gameserver",
		Short:         "Investment game backend: prices, indicators, sessions and paper trading",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			return run(cfg)
		},
	}
	root.Flags().StringVarP(&configPath, "config", "c", "", "path to a YAML config file")

	if err := root.Execute(); err != nil {
		log.Fatalf("[gameserver] %v", err)
	}
}

func run(cfg *config.Config) error {
	logger.Init("gameserver", logger.ParseLevel(cfg.LogLevel))
	log.Printf("[gameserver] starting on %s (sqlite=%s redis=%v)", cfg.Addr, cfg.SQLitePath, cfg.Redis.Enabled)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	prom := metrics.NewMetrics(nil)
	health := metrics.NewHealthStatus()
	health.SetRedisEnabled(cfg.Redis.Enabled)

	// 1. Storage
	if err := os.MkdirAll(filepath.Dir(cfg.SQLitePath), 0o755); err != nil {
		return err
	}
	store, err := sqlite.Open(cfg.SQLitePath)
	if err != nil {
		return err
	}
	defer store.Close()
	health.SetSQLiteOK(true)

	journal, err := execution.NewJournal(cfg.SQLitePath)
	if err != nil {
		return err
	}
	defer journal.Close()

	// 2. Push channels. Without Redis the hub is the publisher; with Redis
	// every instance publishes there and fans out what it receives.
	hub := gateway.NewHub(prom)
	deps := game.Deps{
		Store:     store,
		Trades:    journal,
		Publisher: hub,
		Metrics:   prom,
		Health:    health,
		Notifier:  cfg.Notifier(),
	}

	var rdb *redisstore.Writer
	if cfg.Redis.Enabled {
		rdb, err = redisstore.New(redisstore.WriterConfig{
			Addr:       cfg.Redis.Addr,
			Password:   cfg.Redis.Password,
			DB:         cfg.Redis.DB,
			VerdictTTL: cfg.Redis.VerdictTTL,
		})
		if err != nil {
			// Degrade to local fan-out rather than refuse to start.
			log.Printf("[gameserver] WARNING: redis unavailable, using local fan-out: %v", err)
		}
	}
	if rdb != nil {
		defer rdb.Close()
		rdb.Breaker().OnStateChange = func(from, to redisstore.State) {
			prom.RedisCircuitBreakerState.Set(float64(to))
			if to == redisstore.StateOpen {
				prom.RedisCircuitBreakerTrips.Inc()
			}
			log.Printf("[gameserver] redis circuit breaker %s -> %s", from, to)
		}
		deps.Publisher = rdb
		deps.Cache = rdb
		ps := rdb.Subscribe(ctx, redisstore.AccountChannelPattern, redisstore.IndicatorChannelPattern)
		go gateway.NewPubSubRouter(hub).Run(ctx, ps)
	}

	health.StartLivenessChecker(ctx, redisClientOf(rdb), store.DB(), 10*time.Second)

	// 3. Game service
	svc := game.New(game.Config{
		StartingBalance: cfg.Game.StartingBalance,
		Options:         cfg.SimulatorOptions(),
		Indicators:      cfg.IndicatorConfigs(),
		SlippageBps:     cfg.Game.SlippageBps,
		HistoryWindow:   cfg.Game.HistoryWindow,
	}, deps)
	if err := svc.Restore(ctx); err != nil {
		return err
	}

	// Optional upstream price stream
	if cfg.FeedURL != "" {
		f, err := feed.New(feed.Config{URL: cfg.FeedURL}, func(ctx context.Context, p model.AssetPrice) error {
			_, err := svc.IngestPrice(ctx, p)
			return err
		})
		if err != nil {
			return err
		}
		go func() {
			if err := f.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
				log.Printf("[gameserver] feed stopped: %v", err)
			}
		}()
	}

	// 4. Scheduled snapshots and sweeps
	sched := scheduler.NewScheduler(ctx, svc)
	if err := sched.RegisterAll(cfg.Schedule.Snapshot, cfg.Schedule.Sweep); err != nil {
		return err
	}
	sched.Start()

	// 5. HTTP
	var metricsHandler http.Handler = metrics.Handler(prometheus.DefaultGatherer)
	var metricsSrv *metrics.Server
	if cfg.MetricsAddr != "" {
		metricsSrv = metrics.NewServer(cfg.MetricsAddr, health)
		metricsSrv.Start()
		metricsHandler = nil
	}
	api := gateway.NewServer(svc, hub, health, metricsHandler)
	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           api.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("http server listening", "addr", cfg.Addr)
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	var runErr error
	select {
	case sig := <-sigCh:
		log.Printf("[gameserver] received %v, shutting down...", sig)
	case runErr = <-errCh:
		log.Printf("[gameserver] server error: %v", runErr)
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()

	srv.Shutdown(shutdownCtx)
	if metricsSrv != nil {
		metricsSrv.Stop(shutdownCtx)
	}
	sched.Stop()

	// Final checkpoint so a restart resumes where we stopped.
	if err := svc.SnapshotAll(shutdownCtx); err != nil {
		log.Printf("[gameserver] final snapshot: %v", err)
	}
	cancel()

	log.Println("[gameserver] stopped")
	return runErr
}

// redisClientOf returns nil when Redis is off so the liveness checker skips it.
func redisClientOf(w *redisstore.Writer) *goredis.Client {
	if w == nil {
		return nil
	}
	return w.Client()
}
