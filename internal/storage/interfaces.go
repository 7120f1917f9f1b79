package storage

import (
	"context"
	"time"

	"github.com/timigod/midas/internal/domain"
)

// TokenStore provides access to tokens storage.
type TokenStore interface {
	// Insert adds a new token. Returns ErrDuplicateKey if the address exists.
	Insert(ctx context.Context, t *domain.Token) error

	// Get retrieves a token by address. Returns ErrNotFound if not exists.
	Get(ctx context.Context, address string) (*domain.Token, error)

	// ListByStatus retrieves all tokens in a given state, ordered by
	// created_at ASC.
	ListByStatus(ctx context.Context, status domain.TokenStatus) ([]*domain.Token, error)

	// UpdateMetrics persists fresh market figures and cumulative volumes.
	// Returns ErrNotFound if the token does not exist.
	UpdateMetrics(ctx context.Context, address string, marketCap, liquidity, buyVolume, netVolume float64, now time.Time) error

	// Promote transitions active -> hot. Conditional on the token still
	// being active: returns ErrNotActive when the row was already hot or
	// archived, ErrNotFound when it does not exist.
	Promote(ctx context.Context, address string, now time.Time) error

	// Archive transitions active -> archived under the same conditional
	// semantics as Promote. A hot token is never archived.
	Archive(ctx context.Context, address string, now time.Time) error

	// ArchiveExpired archives every active token whose deadline has passed
	// and returns the affected addresses.
	ArchiveExpired(ctx context.Context, now time.Time) ([]string, error)

	// ActiveAddresses returns the addresses of all active tokens.
	ActiveAddresses(ctx context.Context) ([]string, error)
}

// HistoryStore provides access to append-only metric snapshots.
type HistoryStore interface {
	// Append adds a new snapshot. Snapshots are never updated or deleted.
	Append(ctx context.Context, r *domain.HistoryRecord) error

	// GetByAddress retrieves all snapshots for a token, ordered by
	// recorded_at ASC.
	GetByAddress(ctx context.Context, address string) ([]*domain.HistoryRecord, error)
}

// PromotionStore provides access to promotion records.
type PromotionStore interface {
	// Insert adds a promotion record. Returns ErrDuplicateKey if the
	// address was already promoted; promotion is monotonic.
	Insert(ctx context.Context, r *domain.PromotionRecord) error

	// Get retrieves the promotion record for a token. Returns ErrNotFound
	// if not promoted.
	Get(ctx context.Context, address string) (*domain.PromotionRecord, error)

	// List retrieves all promotion records, ordered by promoted_at ASC.
	List(ctx context.Context) ([]*domain.PromotionRecord, error)
}

// QueueStore provides the durable work queue. A message is eligible for
// dequeue iff next_eligible_at is unset or in the past AND it is not
// currently invisible (checked out within its visibility window).
type QueueStore interface {
	// Enqueue adds a message with a fresh UUID and zeroed retry metadata.
	// Returns the assigned message ID.
	Enqueue(ctx context.Context, queue string, payload domain.TaskPayload) (string, error)

	// Dequeue atomically claims up to batch eligible messages, oldest
	// enqueued first, marking each invisible until now + visibility.
	// Two concurrent callers never receive the same message within one
	// visibility window.
	Dequeue(ctx context.Context, queue string, batch int, visibility time.Duration) ([]*domain.TaskMessage, error)

	// Update replaces a message's payload and re-arms its eligibility.
	// A nil nextEligibleAt makes the message immediately eligible again.
	Update(ctx context.Context, queue, messageID string, payload domain.TaskPayload, nextEligibleAt *time.Time) error

	// Delete permanently removes a message after successful processing.
	Delete(ctx context.Context, queue, messageID string) error

	// DeadLetter copies the payload, with its accumulated failure history,
	// into the queue's dead-letter companion. The caller deletes the
	// original afterwards.
	DeadLetter(ctx context.Context, queue string, payload domain.TaskPayload) (string, error)

	// ReleaseExpired resets messages stuck invisible past their window
	// back to eligible, returning the number released. Janitor path only.
	ReleaseExpired(ctx context.Context, queue string) (int, error)

	// Depth returns the number of messages in a queue, eligible or not.
	Depth(ctx context.Context, queue string) (int, error)

	// PendingAddresses returns the distinct token addresses that have a
	// message in the queue. Used by the starvation sweep.
	PendingAddresses(ctx context.Context, queue string) ([]string, error)
}
