package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/timigod/midas/internal/domain"
	"github.com/timigod/midas/internal/storage"
)

// QueueStore implements storage.QueueStore using PostgreSQL. The dequeue
// claim is a single UPDATE over a FOR UPDATE SKIP LOCKED subselect, so two
// concurrent workers can never check out the same message.
type QueueStore struct {
	pool *Pool
}

// NewQueueStore creates a new QueueStore.
func NewQueueStore(pool *Pool) *QueueStore {
	return &QueueStore{pool: pool}
}

// Compile-time interface check.
var _ storage.QueueStore = (*QueueStore)(nil)

// Enqueue adds a message with a fresh UUID and zeroed retry metadata.
func (s *QueueStore) Enqueue(ctx context.Context, queue string, payload domain.TaskPayload) (string, error) {
	if queue == "" {
		return "", storage.ErrInvalidInput
	}
	if err := payload.Validate(); err != nil {
		return "", err
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal task payload: %w", err)
	}

	id := uuid.NewString()
	query := `
		INSERT INTO task_queue (message_id, queue, payload, enqueued_at)
		VALUES ($1, $2, $3, now())
	`
	if _, err := s.pool.Exec(ctx, query, id, queue, body); err != nil {
		return "", fmt.Errorf("enqueue message: %w", err)
	}
	return id, nil
}

// Dequeue atomically claims up to batch eligible messages. The subselect
// locks candidate rows with SKIP LOCKED; concurrent callers each lock a
// disjoint set, and the outer UPDATE marks them invisible in the same
// statement.
func (s *QueueStore) Dequeue(ctx context.Context, queue string, batch int, visibility time.Duration) ([]*domain.TaskMessage, error) {
	if batch <= 0 || visibility <= 0 {
		return nil, storage.ErrInvalidInput
	}

	query := `
		UPDATE task_queue
		SET invisible_until = now() + make_interval(secs => $3)
		WHERE message_id IN (
			SELECT message_id FROM task_queue
			WHERE queue = $1
			  AND (next_eligible_at IS NULL OR next_eligible_at <= now())
			  AND (invisible_until IS NULL OR invisible_until <= now())
			ORDER BY enqueued_at ASC
			LIMIT $2
			FOR UPDATE SKIP LOCKED
		)
		RETURNING message_id, queue, payload, enqueued_at, next_eligible_at, invisible_until
	`

	rows, err := s.pool.Query(ctx, query, queue, batch, visibility.Seconds())
	if err != nil {
		return nil, fmt.Errorf("dequeue messages: %w", err)
	}

	msgs, corrupt, err := scanMessages(rows)
	rows.Close()
	if err != nil {
		return nil, err
	}

	// A row whose payload no longer deserializes can never be processed or
	// re-armed, so it goes straight to the dead-letter queue instead of
	// blocking the batch.
	for _, c := range corrupt {
		if err := s.buryCorrupt(ctx, queue, c); err != nil {
			return nil, err
		}
	}

	// UPDATE ... RETURNING does not preserve the subselect's ordering.
	sort.Slice(msgs, func(i, j int) bool {
		return msgs[i].EnqueuedAt.Before(msgs[j].EnqueuedAt)
	})
	return msgs, nil
}

// Update replaces a message's payload and re-arms its eligibility.
func (s *QueueStore) Update(ctx context.Context, queue, messageID string, payload domain.TaskPayload, nextEligibleAt *time.Time) error {
	if err := payload.Validate(); err != nil {
		return err
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal task payload: %w", err)
	}

	query := `
		UPDATE task_queue
		SET payload = $3, next_eligible_at = $4, invisible_until = NULL
		WHERE queue = $1 AND message_id = $2
	`
	tag, err := s.pool.Exec(ctx, query, queue, messageID, body, nextEligibleAt)
	if err != nil {
		return fmt.Errorf("update message: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// Delete permanently removes a message.
func (s *QueueStore) Delete(ctx context.Context, queue, messageID string) error {
	query := `DELETE FROM task_queue WHERE queue = $1 AND message_id = $2`

	tag, err := s.pool.Exec(ctx, query, queue, messageID)
	if err != nil {
		return fmt.Errorf("delete message: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// DeadLetter copies the payload into the queue's dead-letter companion.
func (s *QueueStore) DeadLetter(ctx context.Context, queue string, payload domain.TaskPayload) (string, error) {
	return s.Enqueue(ctx, domain.DeadLetterQueue(queue), payload)
}

// ReleaseExpired resets messages stuck invisible past their window. The
// eligibility predicate already ignores lapsed windows, so this is row
// normalization for observability, not hot-path correctness.
func (s *QueueStore) ReleaseExpired(ctx context.Context, queue string) (int, error) {
	query := `
		UPDATE task_queue
		SET invisible_until = NULL
		WHERE queue = $1 AND invisible_until IS NOT NULL AND invisible_until <= now()
	`
	tag, err := s.pool.Exec(ctx, query, queue)
	if err != nil {
		return 0, fmt.Errorf("release expired messages: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

// Depth returns the number of messages in a queue.
func (s *QueueStore) Depth(ctx context.Context, queue string) (int, error) {
	var depth int
	err := s.pool.QueryRow(ctx, `SELECT count(*) FROM task_queue WHERE queue = $1`, queue).Scan(&depth)
	if err != nil {
		return 0, fmt.Errorf("queue depth: %w", err)
	}
	return depth, nil
}

// PendingAddresses returns the distinct token addresses with a queued message.
func (s *QueueStore) PendingAddresses(ctx context.Context, queue string) ([]string, error) {
	query := `
		SELECT DISTINCT payload->>'address'
		FROM task_queue
		WHERE queue = $1
		ORDER BY 1
	`

	rows, err := s.pool.Query(ctx, query, queue)
	if err != nil {
		return nil, fmt.Errorf("pending addresses: %w", err)
	}
	defer rows.Close()

	var result []string
	for rows.Next() {
		var addr string
		if err := rows.Scan(&addr); err != nil {
			return nil, fmt.Errorf("scan pending address: %w", err)
		}
		result = append(result, addr)
	}
	return result, rows.Err()
}

// corruptMessage is a claimed row whose payload failed deserialization.
type corruptMessage struct {
	messageID string
	body      []byte
	cause     error
}

// scanMessages scans all message rows, validating payloads at the boundary.
// Rows that fail deserialization are returned separately so the caller can
// dispose of them without losing the rest of the batch.
func scanMessages(rows pgx.Rows) ([]*domain.TaskMessage, []corruptMessage, error) {
	var result []*domain.TaskMessage
	var corrupt []corruptMessage
	for rows.Next() {
		var m domain.TaskMessage
		var body []byte
		err := rows.Scan(&m.MessageID, &m.Queue, &body, &m.EnqueuedAt, &m.NextEligibleAt, &m.InvisibleUntil)
		if err != nil {
			return nil, nil, fmt.Errorf("scan message: %w", err)
		}
		if err := json.Unmarshal(body, &m.Payload); err != nil {
			corrupt = append(corrupt, corruptMessage{m.MessageID, body, fmt.Errorf("%w: %v", domain.ErrInvalidPayload, err)})
			continue
		}
		if err := m.Payload.Validate(); err != nil {
			corrupt = append(corrupt, corruptMessage{m.MessageID, body, err})
			continue
		}
		result = append(result, &m)
	}
	return result, corrupt, rows.Err()
}

// buryCorrupt copies a corrupt row's raw payload into the dead-letter queue
// and removes the original.
func (s *QueueStore) buryCorrupt(ctx context.Context, queue string, c corruptMessage) error {
	insert := `
		INSERT INTO task_queue (message_id, queue, payload, enqueued_at)
		VALUES ($1, $2, $3, now())
	`
	if _, err := s.pool.Exec(ctx, insert, uuid.NewString(), domain.DeadLetterQueue(queue), c.body); err != nil {
		return fmt.Errorf("dead-letter corrupt message %s (%v): %w", c.messageID, c.cause, err)
	}
	if _, err := s.pool.Exec(ctx, `DELETE FROM task_queue WHERE queue = $1 AND message_id = $2`, queue, c.messageID); err != nil {
		return fmt.Errorf("delete corrupt message %s: %w", c.messageID, err)
	}
	return nil
}
