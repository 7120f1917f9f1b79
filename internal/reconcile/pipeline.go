// Package reconcile drains the processing queue: for each message it fetches
// fresh metrics, updates cumulative counters, runs the promotion rules, and
// commits the resulting state transition. Failures are re-armed with backoff
// or dead-lettered once the retry budget is spent.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/timigod/midas/internal/backoff"
	"github.com/timigod/midas/internal/classify"
	"github.com/timigod/midas/internal/domain"
	"github.com/timigod/midas/internal/marketdata"
	"github.com/timigod/midas/internal/notify"
	"github.com/timigod/midas/internal/storage"
)

// StatsFetcher fetches current metrics for one token.
type StatsFetcher interface {
	Stats(ctx context.Context, address string) (*marketdata.Stats, error)
}

// Config holds pipeline configuration.
type Config struct {
	QueueName           string
	BatchSize           int
	Visibility          time.Duration
	EvaluationThreshold float64       // market cap floor before the rules run
	InterMessageDelay   time.Duration // serial pacing between messages
}

// DefaultConfig returns the standard reconciliation configuration.
func DefaultConfig(queue string) Config {
	return Config{
		QueueName:           queue,
		BatchSize:           10,
		Visibility:          2 * time.Minute,
		EvaluationThreshold: 50_000,
	}
}

// Summary reports one reconciliation run.
type Summary struct {
	Processed    int `json:"processed"`
	Succeeded    int `json:"succeeded"`
	Promoted     int `json:"promoted"`
	Skipped      int `json:"skipped"` // token gone or already terminal
	Retried      int `json:"retried"`
	DeadLettered int `json:"dead_lettered"`
}

type outcome int

const (
	outcomeSucceeded outcome = iota
	outcomePromoted
	outcomeSkipped
	outcomeRetried
	outcomeDeadLettered
)

// errValidation marks responses or stored state that fail numeric
// validation. Retryable: the external source self-corrects.
var errValidation = errors.New("validation failed")

// Pipeline is the reconciliation pipeline.
type Pipeline struct {
	tokens     storage.TokenStore
	history    storage.HistoryStore
	promotions storage.PromotionStore
	queue      storage.QueueStore
	stats      StatsFetcher
	notifier   notify.Notifier
	policy     *backoff.Policy
	cfg        Config
	log        zerolog.Logger
	now        func() time.Time
}

// New creates a reconciliation pipeline.
func New(tokens storage.TokenStore, history storage.HistoryStore, promotions storage.PromotionStore,
	queue storage.QueueStore, stats StatsFetcher, notifier notify.Notifier,
	policy *backoff.Policy, cfg Config, log zerolog.Logger) *Pipeline {
	if policy == nil {
		policy = backoff.DefaultPolicy()
	}
	if notifier == nil {
		notifier = notify.NewLog(log)
	}
	return &Pipeline{
		tokens:     tokens,
		history:    history,
		promotions: promotions,
		queue:      queue,
		stats:      stats,
		notifier:   notifier,
		policy:     policy,
		cfg:        cfg,
		log:        log.With().Str("component", "reconcile").Logger(),
		now:        time.Now,
	}
}

// Run drains one batch. Per-message failures are absorbed into the retry
// path and never abort the batch; storage-level errors do abort, leaving the
// remaining messages untouched for the next scheduled run.
func (p *Pipeline) Run(ctx context.Context) (*Summary, error) {
	msgs, err := p.queue.Dequeue(ctx, p.cfg.QueueName, p.cfg.BatchSize, p.cfg.Visibility)
	if err != nil {
		return nil, fmt.Errorf("dequeue batch: %w", err)
	}

	summary := &Summary{}
	for i, msg := range msgs {
		if err := ctx.Err(); err != nil {
			return summary, err
		}
		if i > 0 && p.cfg.InterMessageDelay > 0 {
			select {
			case <-ctx.Done():
				return summary, ctx.Err()
			case <-time.After(p.cfg.InterMessageDelay):
			}
		}

		out, err := p.process(ctx, msg)
		if err != nil {
			return summary, err
		}

		summary.Processed++
		switch out {
		case outcomeSucceeded:
			summary.Succeeded++
		case outcomePromoted:
			summary.Succeeded++
			summary.Promoted++
		case outcomeSkipped:
			summary.Skipped++
		case outcomeRetried:
			summary.Retried++
		case outcomeDeadLettered:
			summary.DeadLettered++
		}
	}

	if summary.Processed > 0 {
		p.log.Info().
			Int("processed", summary.Processed).
			Int("succeeded", summary.Succeeded).
			Int("promoted", summary.Promoted).
			Int("skipped", summary.Skipped).
			Int("retried", summary.Retried).
			Int("dead_lettered", summary.DeadLettered).
			Msg("reconciliation cycle complete")
	}
	return summary, nil
}

// process handles a single message. The returned error is reserved for
// storage-level failures; everything external (API, validation) funnels into
// the retry path instead.
func (p *Pipeline) process(ctx context.Context, msg *domain.TaskMessage) (outcome, error) {
	addr := msg.Payload.Address

	// A vanished or terminal token makes the message a no-op: delete and
	// move on. This is what makes duplicate delivery safe.
	token, err := p.tokens.Get(ctx, addr)
	if errors.Is(err, storage.ErrNotFound) {
		p.log.Debug().Str("address", addr).Msg("token gone, dropping message")
		return outcomeSkipped, p.dropMessage(ctx, msg)
	}
	if err != nil {
		return 0, fmt.Errorf("load token %s: %w", addr, err)
	}
	if token.Status != domain.StatusActive {
		p.log.Debug().Str("address", addr).Str("status", string(token.Status)).Msg("token already terminal, dropping message")
		return outcomeSkipped, p.dropMessage(ctx, msg)
	}

	// A missing or invalid stored start valuation is a data error, not
	// something to silently re-derive from the current figure.
	if token.StartMarketCap <= 0 {
		return p.handleFailure(ctx, msg, fmt.Errorf("%w: stored start market cap %.2f", errValidation, token.StartMarketCap))
	}

	stats, err := p.stats.Stats(ctx, addr)
	if err != nil {
		return p.handleFailure(ctx, msg, fmt.Errorf("fetch stats: %w", err))
	}

	if stats.MarketCap == nil || *stats.MarketCap < 0 {
		return p.handleFailure(ctx, msg, fmt.Errorf("%w: market cap missing or negative", errValidation))
	}
	if stats.Liquidity == nil || *stats.Liquidity < 0 {
		return p.handleFailure(ctx, msg, fmt.Errorf("%w: liquidity missing or negative", errValidation))
	}
	marketCap, liquidity := *stats.MarketCap, *stats.Liquidity

	// Volumes are best-effort: a missing window degrades to zero and the
	// token simply accumulates nothing this cycle.
	buy, sell, window, ok := marketdata.WindowVolumes(stats.Windows, nil)
	if !ok {
		p.log.Warn().Str("address", addr).Msg("no usable volume window, counting zero this cycle")
	} else {
		p.log.Debug().Str("address", addr).Str("window", window).Msg("accumulated window volumes")
	}

	buyTotal := token.CumulativeBuyVolume + buy
	netTotal := token.CumulativeNetVolume + (buy - sell)
	now := p.now()

	if marketCap >= p.cfg.EvaluationThreshold {
		res := classify.Evaluate(classify.Input{
			StartMarketCap:      token.StartMarketCap,
			CurrentMarketCap:    marketCap,
			CumulativeBuyVolume: buyTotal,
			CumulativeNetVolume: netTotal,
			Liquidity:           liquidity,
		})
		if res.Promoted {
			return p.promote(ctx, msg, token, marketCap, liquidity, buyTotal, netTotal, now)
		}
		p.log.Debug().Str("address", addr).Str("reason", res.Reason).Msg("not promoted")
	}

	if err := p.tokens.UpdateMetrics(ctx, addr, marketCap, liquidity, buyTotal, netTotal, now); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return outcomeSkipped, p.dropMessage(ctx, msg)
		}
		return 0, fmt.Errorf("update metrics for %s: %w", addr, err)
	}
	if err := p.history.Append(ctx, &domain.HistoryRecord{
		Address:    addr,
		MarketCap:  marketCap,
		Liquidity:  liquidity,
		BuyVolume:  buyTotal,
		NetVolume:  netTotal,
		RecordedAt: now,
	}); err != nil {
		return 0, fmt.Errorf("append history for %s: %w", addr, err)
	}

	return outcomeSucceeded, p.dropMessage(ctx, msg)
}

// promote commits the active -> hot transition. The store's compare-and-swap
// decides the race against a concurrent sweep: whoever commits first wins and
// the loser no-ops.
func (p *Pipeline) promote(ctx context.Context, msg *domain.TaskMessage, token *domain.Token,
	marketCap, liquidity, buyTotal, netTotal float64, now time.Time) (outcome, error) {

	addr := token.Address
	err := p.tokens.Promote(ctx, addr, now)
	if errors.Is(err, storage.ErrNotActive) || errors.Is(err, storage.ErrNotFound) {
		p.log.Debug().Str("address", addr).Msg("lost promotion race, dropping message")
		return outcomeSkipped, p.dropMessage(ctx, msg)
	}
	if err != nil {
		return 0, fmt.Errorf("promote %s: %w", addr, err)
	}

	if err := p.tokens.UpdateMetrics(ctx, addr, marketCap, liquidity, buyTotal, netTotal, now); err != nil && !errors.Is(err, storage.ErrNotFound) {
		return 0, fmt.Errorf("persist promotion metrics for %s: %w", addr, err)
	}

	growth := marketCap / token.StartMarketCap
	record := &domain.PromotionRecord{
		Address:        addr,
		MarketCap:      marketCap,
		Liquidity:      liquidity,
		BuyVolume:      buyTotal,
		NetVolume:      netTotal,
		GrowthMultiple: growth,
		PromotedAt:     now,
	}
	if err := p.promotions.Insert(ctx, record); err != nil && !errors.Is(err, storage.ErrDuplicateKey) {
		return 0, fmt.Errorf("insert promotion record for %s: %w", addr, err)
	}

	// Fire-and-forget: a failed notification never unwinds the promotion.
	p.notifier.TokenPromoted(ctx, notify.Snapshot{
		Address:        addr,
		MarketCap:      marketCap,
		Liquidity:      liquidity,
		BuyVolume:      buyTotal,
		NetVolume:      netTotal,
		GrowthMultiple: growth,
		PromotedAt:     now,
	})

	p.log.Info().Str("address", addr).Float64("growth_multiple", growth).Msg("token promoted")
	return outcomePromoted, p.dropMessage(ctx, msg)
}

// handleFailure re-arms the message with backoff, or dead-letters it once
// the retry budget is spent.
func (p *Pipeline) handleFailure(ctx context.Context, msg *domain.TaskMessage, cause error) (outcome, error) {
	addr := msg.Payload.Address
	now := p.now()

	payload := msg.Payload
	payload.Failures = append(payload.Failures, fmt.Sprintf("%s: %v", now.UTC().Format(time.RFC3339), cause))

	if p.policy.Exhausted(payload.AttemptCount) {
		if _, err := p.queue.DeadLetter(ctx, msg.Queue, payload); err != nil {
			return 0, fmt.Errorf("dead-letter message %s: %w", msg.MessageID, err)
		}
		if err := p.dropMessage(ctx, msg); err != nil {
			return 0, err
		}
		p.log.Error().Err(cause).Str("address", addr).Int("attempts", payload.AttemptCount).Msg("message dead-lettered")
		return outcomeDeadLettered, nil
	}

	next := p.policy.NextEligibleAt(now, payload.AttemptCount)
	payload.AttemptCount++
	payload.LastAttemptAt = &now
	if err := p.queue.Update(ctx, msg.Queue, msg.MessageID, payload, &next); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			// Another worker already resolved it; nothing to re-arm.
			return outcomeSkipped, nil
		}
		return 0, fmt.Errorf("re-arm message %s: %w", msg.MessageID, err)
	}

	p.log.Warn().Err(cause).
		Str("address", addr).
		Int("attempt", payload.AttemptCount).
		Time("next_eligible_at", next).
		Msg("message re-armed for retry")
	return outcomeRetried, nil
}

// dropMessage deletes a message, tolerating a concurrent delete.
func (p *Pipeline) dropMessage(ctx context.Context, msg *domain.TaskMessage) error {
	if err := p.queue.Delete(ctx, msg.Queue, msg.MessageID); err != nil && !errors.Is(err, storage.ErrNotFound) {
		return fmt.Errorf("delete message %s: %w", msg.MessageID, err)
	}
	return nil
}
