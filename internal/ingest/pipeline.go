// Package ingest discovers new tokens from the market-data feed, applies the
// admission filter, seeds lifecycle state, and enqueues each admitted token
// for reconciliation.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/timigod/midas/internal/domain"
	"github.com/timigod/midas/internal/storage"
)

// Feed is the discovery source.
type Feed interface {
	Search(ctx context.Context) ([]domain.Candidate, error)
}

// Config holds pipeline configuration.
type Config struct {
	QueueName        string
	AdmissionRatio   float64       // liquidity / market cap floor at discovery
	MonitoringWindow time.Duration // deadline offset for new tokens
	EnqueueAttempts  int           // bounded retries for the initial enqueue
	EnqueueBaseDelay time.Duration
}

// DefaultConfig returns the standard ingestion configuration: 3% admission
// ratio and a 6 hour monitoring window.
func DefaultConfig(queue string) Config {
	return Config{
		QueueName:        queue,
		AdmissionRatio:   0.03,
		MonitoringWindow: 6 * time.Hour,
		EnqueueAttempts:  3,
		EnqueueBaseDelay: 250 * time.Millisecond,
	}
}

// Summary reports one ingestion run. Enough for alerting without log scraping.
type Summary struct {
	Discovered int `json:"discovered"`
	Known      int `json:"known"` // already tracked, skipped idempotently
	Rejected   int `json:"rejected"`
	Queued     int `json:"queued"`
	Failed     int `json:"failed"` // entity written but enqueue permanently failed
}

// Pipeline is the ingestion pipeline.
type Pipeline struct {
	tokens  storage.TokenStore
	history storage.HistoryStore
	queue   storage.QueueStore
	feed    Feed
	cfg     Config
	log     zerolog.Logger
	now     func() time.Time
}

// New creates an ingestion pipeline.
func New(tokens storage.TokenStore, history storage.HistoryStore, queue storage.QueueStore, feed Feed, cfg Config, log zerolog.Logger) *Pipeline {
	return &Pipeline{
		tokens:  tokens,
		history: history,
		queue:   queue,
		feed:    feed,
		cfg:     cfg,
		log:     log.With().Str("component", "ingest").Logger(),
		now:     time.Now,
	}
}

// Run executes one discovery cycle. Per-candidate failures never abort the
// batch; a feed or store outage aborts and surfaces as the cycle error.
func (p *Pipeline) Run(ctx context.Context) (*Summary, error) {
	candidates, err := p.feed.Search(ctx)
	if err != nil {
		return nil, fmt.Errorf("discovery search: %w", err)
	}

	summary := &Summary{Discovered: len(candidates)}
	for _, c := range candidates {
		if err := ctx.Err(); err != nil {
			return summary, err
		}

		switch err := p.admit(ctx, c); {
		case err == nil:
			summary.Queued++
		case errors.Is(err, storage.ErrDuplicateKey):
			summary.Known++
		case errors.Is(err, errRejected):
			summary.Rejected++
		case errors.Is(err, errEnqueueFailed):
			summary.Failed++
		default:
			return summary, err
		}
	}

	p.log.Info().
		Int("discovered", summary.Discovered).
		Int("known", summary.Known).
		Int("rejected", summary.Rejected).
		Int("queued", summary.Queued).
		Int("failed", summary.Failed).
		Msg("ingestion cycle complete")
	return summary, nil
}

var (
	errRejected      = errors.New("candidate rejected")
	errEnqueueFailed = errors.New("enqueue failed")
)

// admit runs the full admission path for one candidate.
func (p *Pipeline) admit(ctx context.Context, c domain.Candidate) error {
	if c.Address == "" || c.MarketCap == nil || c.Liquidity == nil {
		p.log.Debug().Str("address", c.Address).Msg("candidate missing required fields")
		return errRejected
	}
	marketCap, liquidity := *c.MarketCap, *c.Liquidity
	if marketCap <= 0 || liquidity < 0 {
		p.log.Debug().Str("address", c.Address).Msg("candidate has non-positive figures")
		return errRejected
	}

	// Admission filter: thin liquidity relative to valuation never enters
	// monitoring.
	if liquidity < p.cfg.AdmissionRatio*marketCap {
		p.log.Debug().
			Str("address", c.Address).
			Float64("ratio", liquidity/marketCap).
			Msg("candidate rejected: liquidity ratio below admission floor")
		return errRejected
	}

	buyVolume, netVolume := p.seedVolumes(c)
	now := p.now()
	token := &domain.Token{
		Address:             c.Address,
		StartMarketCap:      marketCap,
		CurrentMarketCap:    marketCap,
		Liquidity:           liquidity,
		CumulativeBuyVolume: buyVolume,
		CumulativeNetVolume: netVolume,
		Status:              domain.StatusActive,
		DeadlineAt:          now.Add(p.cfg.MonitoringWindow),
		CreatedAt:           now,
		UpdatedAt:           now,
	}

	// Idempotent per address, permanently: a known token (active, hot or
	// archived) short-circuits here.
	if err := p.tokens.Insert(ctx, token); err != nil {
		if errors.Is(err, storage.ErrDuplicateKey) {
			return storage.ErrDuplicateKey
		}
		return fmt.Errorf("insert token %s: %w", c.Address, err)
	}

	if err := p.history.Append(ctx, &domain.HistoryRecord{
		Address:    c.Address,
		MarketCap:  marketCap,
		Liquidity:  liquidity,
		BuyVolume:  buyVolume,
		NetVolume:  netVolume,
		RecordedAt: now,
	}); err != nil {
		return fmt.Errorf("append initial history for %s: %w", c.Address, err)
	}

	if err := p.enqueueWithRetry(ctx, c.Address); err != nil {
		// The token row exists; the starvation sweep will repair the
		// missing queue entry on its next pass.
		p.log.Error().Err(err).Str("address", c.Address).Msg("permanent ingestion enqueue failure")
		return errEnqueueFailed
	}
	return nil
}

// seedVolumes derives initial cumulative volumes from whatever the feed
// provided. Missing figures degrade to zero with a warning.
func (p *Pipeline) seedVolumes(c domain.Candidate) (buy, net float64) {
	if c.BuyVolume == nil || c.SellVolume == nil {
		p.log.Warn().Str("address", c.Address).Msg("no volume figures in feed, seeding zero")
		return 0, 0
	}
	return *c.BuyVolume, *c.BuyVolume - *c.SellVolume
}

// enqueueWithRetry attempts the initial enqueue a handful of times with
// exponential spacing before giving up.
func (p *Pipeline) enqueueWithRetry(ctx context.Context, address string) error {
	attempts := p.cfg.EnqueueAttempts
	if attempts <= 0 {
		attempts = 1
	}

	var lastErr error
	delay := p.cfg.EnqueueBaseDelay
	for i := 0; i < attempts; i++ {
		if i > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
			delay *= 2
		}

		if _, lastErr = p.queue.Enqueue(ctx, p.cfg.QueueName, domain.TaskPayload{Address: address}); lastErr == nil {
			return nil
		}
		p.log.Warn().Err(lastErr).Str("address", address).Int("attempt", i+1).Msg("enqueue attempt failed")
	}
	return lastErr
}
