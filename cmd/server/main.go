// Package main runs the full monitoring service: scheduled discovery,
// reconciliation, and sweep, plus the HTTP control surface.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/timigod/midas/internal/backoff"
	"github.com/timigod/midas/internal/config"
	"github.com/timigod/midas/internal/ingest"
	"github.com/timigod/midas/internal/marketdata"
	"github.com/timigod/midas/internal/notify"
	"github.com/timigod/midas/internal/reconcile"
	"github.com/timigod/midas/internal/scheduler"
	"github.com/timigod/midas/internal/server"
	"github.com/timigod/midas/internal/storage"
	chstore "github.com/timigod/midas/internal/storage/clickhouse"
	"github.com/timigod/midas/internal/storage/memory"
	"github.com/timigod/midas/internal/storage/migrations"
	pgstore "github.com/timigod/midas/internal/storage/postgres"
	"github.com/timigod/midas/internal/sweep"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "server: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	log := newLogger(cfg.LogLevel)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	stores, cleanup, err := createStores(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer cleanup()

	client := marketdata.NewClient(marketdata.Config{
		BaseURL:           cfg.MarketDataURL,
		RequestTimeout:    cfg.RequestTimeout,
		RequestsPerSecond: cfg.RequestsPerSecond,
		Burst:             4,
		RetryMax:          2,
	}, log)

	policy := backoff.NewPolicy(cfg.RetryBaseDelay, cfg.RetryMaxDelay, 500*time.Millisecond, cfg.MaxAttempts)

	var notifier notify.Notifier = notify.NewLog(log)
	if cfg.WebhookURL != "" {
		notifier = notify.NewWebhook(cfg.WebhookURL, 10*time.Second, log)
	}

	ingestCfg := ingest.DefaultConfig(cfg.QueueName)
	ingestCfg.AdmissionRatio = cfg.AdmissionRatio
	ingestCfg.MonitoringWindow = cfg.MonitoringWindow
	ingestPipeline := ingest.New(stores.tokens, stores.history, stores.queue, client, ingestCfg, log)

	reconcileCfg := reconcile.DefaultConfig(cfg.QueueName)
	reconcileCfg.BatchSize = cfg.BatchSize
	reconcileCfg.Visibility = cfg.Visibility
	reconcileCfg.EvaluationThreshold = cfg.EvaluationThreshold
	reconcilePipeline := reconcile.New(stores.tokens, stores.history, stores.promotions,
		stores.queue, client, notifier, policy, reconcileCfg, log)

	sweeper := sweep.New(stores.tokens, stores.queue, sweep.Config{QueueName: cfg.QueueName}, log)

	sched := scheduler.New(log, 10*time.Minute)
	jobs := []struct {
		interval time.Duration
		name     string
		fn       scheduler.JobFunc
	}{
		{cfg.IngestInterval, "ingest", func(ctx context.Context) error {
			_, err := ingestPipeline.Run(ctx)
			return err
		}},
		{cfg.ReconcileInterval, "reconcile", func(ctx context.Context) error {
			_, err := reconcilePipeline.Run(ctx)
			return err
		}},
		{cfg.SweepInterval, "sweep", func(ctx context.Context) error {
			_, err := sweeper.Run(ctx)
			return err
		}},
	}
	for _, j := range jobs {
		if err := sched.AddJob(fmt.Sprintf("@every %s", j.interval), j.name, j.fn); err != nil {
			return fmt.Errorf("schedule %s: %w", j.name, err)
		}
	}

	srv := server.New(server.Config{
		Addr:      cfg.HTTPAddr,
		QueueName: cfg.QueueName,
		Log:       log,
		Tokens:    stores.tokens,
		Queue:     stores.queue,
		Ingest:    ingestPipeline,
		Reconcile: reconcilePipeline,
		Sweep:     sweeper,
	})

	errCh := make(chan error, 1)
	go func() {
		if err := srv.Start(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()
	sched.Start()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		log.Info().Str("signal", sig.String()).Msg("shutting down")
	case err := <-errCh:
		log.Error().Err(err).Msg("http server failed")
	}

	sched.Stop()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("http shutdown failed")
	}
	log.Info().Msg("shutdown complete")
	return nil
}

// appStores holds the storage implementations behind the pipelines.
type appStores struct {
	tokens     storage.TokenStore
	history    storage.HistoryStore
	promotions storage.PromotionStore
	queue      storage.QueueStore
}

// createStores builds the storage layer: in-memory for local development,
// otherwise PostgreSQL with an optional ClickHouse history archive.
func createStores(ctx context.Context, cfg *config.Config, log zerolog.Logger) (*appStores, func(), error) {
	if cfg.UseMemory {
		return &appStores{
			tokens:     memory.NewTokenStore(),
			history:    memory.NewHistoryStore(),
			promotions: memory.NewPromotionStore(),
			queue:      memory.NewQueueStore(),
		}, func() {}, nil
	}

	pool, err := pgstore.NewPool(ctx, cfg.PostgresDSN)
	if err != nil {
		return nil, nil, fmt.Errorf("connect to postgres: %w", err)
	}
	if err := migrations.RunPostgresMigrations(ctx, pool); err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("run postgres migrations: %w", err)
	}

	stores := &appStores{
		tokens:     pgstore.NewTokenStore(pool),
		history:    pgstore.NewHistoryStore(pool),
		promotions: pgstore.NewPromotionStore(pool),
		queue:      pgstore.NewQueueStore(pool),
	}
	cleanup := func() { pool.Close() }

	if cfg.ClickHouseDSN != "" {
		chConn, err := migrations.RunClickhouseMigrations(ctx, cfg.ClickHouseDSN)
		if err != nil {
			pool.Close()
			return nil, nil, fmt.Errorf("connect to clickhouse: %w", err)
		}
		stores.history = storage.NewTeeHistoryStore(stores.history, chstore.NewHistoryStore(chConn), log)
		cleanup = func() {
			_ = chConn.Close()
			pool.Close()
		}
	}

	return stores, cleanup, nil
}

func newLogger(level string) zerolog.Logger {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		lvl = zerolog.InfoLevel
	}
	return zerolog.New(os.Stdout).Level(lvl).With().Timestamp().Logger()
}
