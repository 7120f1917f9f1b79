// Package main runs a standalone reconciliation worker. It drains the
// processing queue in batches, sleeping between polls when the queue is
// idle. With -drain it exits once the queue is empty, which is useful for
// catch-up after downtime.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/timigod/midas/internal/backoff"
	"github.com/timigod/midas/internal/config"
	"github.com/timigod/midas/internal/marketdata"
	"github.com/timigod/midas/internal/notify"
	"github.com/timigod/midas/internal/reconcile"
	"github.com/timigod/midas/internal/storage"
	"github.com/timigod/midas/internal/storage/memory"
	"github.com/timigod/midas/internal/storage/migrations"
	pgstore "github.com/timigod/midas/internal/storage/postgres"
)

func main() {
	drain := flag.Bool("drain", false, "exit once the queue is empty")
	pollInterval := flag.Duration("poll-interval", 15*time.Second, "sleep between polls when the queue is idle")
	flag.Parse()

	if err := run(*drain, *pollInterval); err != nil {
		fmt.Fprintf(os.Stderr, "worker: %v\n", err)
		os.Exit(1)
	}
}

func run(drain bool, pollInterval time.Duration) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	lvl, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		lvl = zerolog.InfoLevel
	}
	log := zerolog.New(os.Stdout).Level(lvl).With().Timestamp().Str("component", "worker").Logger()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		log.Info().Str("signal", sig.String()).Msg("shutting down")
		cancel()
	}()

	var (
		tokens     storage.TokenStore
		history    storage.HistoryStore
		promotions storage.PromotionStore
		queue      storage.QueueStore
	)
	if cfg.UseMemory {
		tokens = memory.NewTokenStore()
		history = memory.NewHistoryStore()
		promotions = memory.NewPromotionStore()
		queue = memory.NewQueueStore()
	} else {
		pool, err := pgstore.NewPool(ctx, cfg.PostgresDSN)
		if err != nil {
			return fmt.Errorf("connect to postgres: %w", err)
		}
		defer pool.Close()
		if err := migrations.RunPostgresMigrations(ctx, pool); err != nil {
			return fmt.Errorf("run postgres migrations: %w", err)
		}
		tokens = pgstore.NewTokenStore(pool)
		history = pgstore.NewHistoryStore(pool)
		promotions = pgstore.NewPromotionStore(pool)
		queue = pgstore.NewQueueStore(pool)
	}

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

	reconcileCfg := reconcile.DefaultConfig(cfg.QueueName)
	reconcileCfg.BatchSize = cfg.BatchSize
	reconcileCfg.Visibility = cfg.Visibility
	reconcileCfg.EvaluationThreshold = cfg.EvaluationThreshold
	pipeline := reconcile.New(tokens, history, promotions, queue, client, notifier, policy, reconcileCfg, log)

	log.Info().Str("queue", cfg.QueueName).Bool("drain", drain).Msg("worker started")

	return drainLoop(ctx, pipeline, drain, pollInterval, log)
}

// cycler runs one reconciliation batch.
type cycler interface {
	Run(ctx context.Context) (*reconcile.Summary, error)
}

// drainLoop polls the queue until the context is cancelled, or, in drain
// mode, until a cycle completes cleanly with nothing to process. A failed
// cycle never counts as drained; the worker sleeps and retries instead.
func drainLoop(ctx context.Context, pipeline cycler, drain bool, pollInterval time.Duration, log zerolog.Logger) error {
	for {
		summary, err := pipeline.Run(ctx)
		switch {
		case err != nil:
			if ctx.Err() != nil {
				return nil
			}
			log.Error().Err(err).Msg("reconciliation cycle failed")
		case summary.Processed > 0:
			continue // keep draining while there is work
		case drain:
			log.Info().Msg("queue drained")
			return nil
		}

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(pollInterval):
		}
	}
}
