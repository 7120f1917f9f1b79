// Package sweep keeps the system converging: it archives tokens past their
// monitoring deadline, re-enqueues active tokens that lost their queue
// message, and releases messages stuck invisible by a crashed worker.
package sweep

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/timigod/midas/internal/domain"
	"github.com/timigod/midas/internal/storage"
)

// Config holds sweeper configuration.
type Config struct {
	QueueName string
}

// Summary reports one sweep run.
type Summary struct {
	Archived int `json:"archived"`
	Requeued int `json:"requeued"`
	Released int `json:"released"`
}

// Sweeper runs the periodic maintenance passes.
type Sweeper struct {
	tokens storage.TokenStore
	queue  storage.QueueStore
	cfg    Config
	log    zerolog.Logger
	now    func() time.Time
}

// New creates a sweeper.
func New(tokens storage.TokenStore, queue storage.QueueStore, cfg Config, log zerolog.Logger) *Sweeper {
	return &Sweeper{
		tokens: tokens,
		queue:  queue,
		cfg:    cfg,
		log:    log.With().Str("component", "sweep").Logger(),
		now:    time.Now,
	}
}

// Run executes all three passes in order. Archival runs first so that a
// token expiring this cycle is not pointlessly re-enqueued by the
// starvation pass.
func (s *Sweeper) Run(ctx context.Context) (*Summary, error) {
	summary := &Summary{}

	archived, err := s.ArchiveExpired(ctx)
	if err != nil {
		return summary, err
	}
	summary.Archived = archived

	requeued, err := s.RequeueStarved(ctx)
	if err != nil {
		return summary, err
	}
	summary.Requeued = requeued

	released, err := s.ReleaseStuck(ctx)
	if err != nil {
		return summary, err
	}
	summary.Released = released

	if summary.Archived > 0 || summary.Requeued > 0 || summary.Released > 0 {
		s.log.Info().
			Int("archived", summary.Archived).
			Int("requeued", summary.Requeued).
			Int("released", summary.Released).
			Msg("sweep complete")
	}
	return summary, nil
}

// ArchiveExpired archives every active token whose deadline has passed.
// The store's conditional update guarantees a token promoted between the
// deadline check and the write stays hot.
func (s *Sweeper) ArchiveExpired(ctx context.Context) (int, error) {
	addresses, err := s.tokens.ArchiveExpired(ctx, s.now())
	if err != nil {
		return 0, fmt.Errorf("archive expired tokens: %w", err)
	}
	for _, addr := range addresses {
		s.log.Info().Str("address", addr).Msg("token archived, monitoring window elapsed")
	}
	return len(addresses), nil
}

// RequeueStarved re-enqueues active tokens with no message in the queue.
// A token can starve when a worker crashes after deleting the message but
// before its replacement lands, or through a dead-letter.
func (s *Sweeper) RequeueStarved(ctx context.Context) (int, error) {
	active, err := s.tokens.ActiveAddresses(ctx)
	if err != nil {
		return 0, fmt.Errorf("list active tokens: %w", err)
	}
	if len(active) == 0 {
		return 0, nil
	}

	pending, err := s.queue.PendingAddresses(ctx, s.cfg.QueueName)
	if err != nil {
		return 0, fmt.Errorf("list pending addresses: %w", err)
	}
	covered := make(map[string]struct{}, len(pending))
	for _, addr := range pending {
		covered[addr] = struct{}{}
	}

	requeued := 0
	for _, addr := range active {
		if _, ok := covered[addr]; ok {
			continue
		}
		if _, err := s.queue.Enqueue(ctx, s.cfg.QueueName, domain.TaskPayload{Address: addr}); err != nil {
			// Keep going: the next sweep retries the rest.
			s.log.Error().Err(err).Str("address", addr).Msg("failed to requeue starved token")
			continue
		}
		s.log.Warn().Str("address", addr).Msg("requeued starved token")
		requeued++
	}
	return requeued, nil
}

// ReleaseStuck normalizes messages whose visibility window lapsed without
// the holder resolving them. Eligibility already readmits them on dequeue;
// this pass clears the stale claim markers and surfaces a count.
func (s *Sweeper) ReleaseStuck(ctx context.Context) (int, error) {
	released, err := s.queue.ReleaseExpired(ctx, s.cfg.QueueName)
	if err != nil {
		return 0, fmt.Errorf("release expired claims: %w", err)
	}
	if released > 0 {
		s.log.Warn().Int("released", released).Msg("released stuck messages")
	}
	return released, nil
}
