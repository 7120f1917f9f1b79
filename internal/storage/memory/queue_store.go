package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/timigod/midas/internal/domain"
	"github.com/timigod/midas/internal/storage"
)

// QueueStore is an in-memory implementation of storage.QueueStore. It mirrors
// the PostgreSQL implementation's eligibility and visibility semantics under
// a single mutex, which makes the claim trivially atomic.
type QueueStore struct {
	mu     sync.Mutex
	queues map[string]map[string]*domain.TaskMessage // queue -> message_id -> message
	now    func() time.Time
}

// NewQueueStore creates a new in-memory queue store.
func NewQueueStore() *QueueStore {
	return NewQueueStoreWithClock(time.Now)
}

// NewQueueStoreWithClock creates a queue store with an injectable clock.
// Used by tests that exercise visibility-timeout behavior.
func NewQueueStoreWithClock(now func() time.Time) *QueueStore {
	return &QueueStore{
		queues: make(map[string]map[string]*domain.TaskMessage),
		now:    now,
	}
}

// Compile-time interface check.
var _ storage.QueueStore = (*QueueStore)(nil)

// Enqueue adds a message with a fresh UUID and zeroed retry metadata.
func (s *QueueStore) Enqueue(_ context.Context, queue string, payload domain.TaskPayload) (string, error) {
	if queue == "" {
		return "", storage.ErrInvalidInput
	}
	if err := payload.Validate(); err != nil {
		return "", err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	id := uuid.NewString()
	s.bucket(queue)[id] = &domain.TaskMessage{
		MessageID:  id,
		Queue:      queue,
		Payload:    payload,
		EnqueuedAt: s.now(),
	}
	return id, nil
}

// Dequeue claims up to batch eligible messages, oldest enqueued first.
func (s *QueueStore) Dequeue(_ context.Context, queue string, batch int, visibility time.Duration) ([]*domain.TaskMessage, error) {
	if batch <= 0 || visibility <= 0 {
		return nil, storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	var eligible []*domain.TaskMessage
	for _, m := range s.bucket(queue) {
		if m.NextEligibleAt != nil && m.NextEligibleAt.After(now) {
			continue
		}
		if m.InvisibleUntil != nil && m.InvisibleUntil.After(now) {
			continue
		}
		eligible = append(eligible, m)
	}

	sort.Slice(eligible, func(i, j int) bool {
		return eligible[i].EnqueuedAt.Before(eligible[j].EnqueuedAt)
	})
	if len(eligible) > batch {
		eligible = eligible[:batch]
	}

	claimed := make([]*domain.TaskMessage, 0, len(eligible))
	deadline := now.Add(visibility)
	for _, m := range eligible {
		until := deadline
		m.InvisibleUntil = &until

		msgCopy := *m
		claimed = append(claimed, &msgCopy)
	}
	return claimed, nil
}

// Update replaces a message's payload and re-arms its eligibility.
func (s *QueueStore) Update(_ context.Context, queue, messageID string, payload domain.TaskPayload, nextEligibleAt *time.Time) error {
	if err := payload.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	m, exists := s.bucket(queue)[messageID]
	if !exists {
		return storage.ErrNotFound
	}

	m.Payload = payload
	m.NextEligibleAt = nextEligibleAt
	m.InvisibleUntil = nil
	return nil
}

// Delete permanently removes a message.
func (s *QueueStore) Delete(_ context.Context, queue, messageID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	bucket := s.bucket(queue)
	if _, exists := bucket[messageID]; !exists {
		return storage.ErrNotFound
	}
	delete(bucket, messageID)
	return nil
}

// DeadLetter copies the payload into the queue's dead-letter companion.
func (s *QueueStore) DeadLetter(ctx context.Context, queue string, payload domain.TaskPayload) (string, error) {
	return s.Enqueue(ctx, domain.DeadLetterQueue(queue), payload)
}

// ReleaseExpired resets messages stuck invisible past their window.
func (s *QueueStore) ReleaseExpired(_ context.Context, queue string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	released := 0
	for _, m := range s.bucket(queue) {
		if m.InvisibleUntil != nil && !m.InvisibleUntil.After(now) {
			m.InvisibleUntil = nil
			released++
		}
	}
	return released, nil
}

// Depth returns the number of messages in a queue.
func (s *QueueStore) Depth(_ context.Context, queue string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.bucket(queue)), nil
}

// PendingAddresses returns the distinct token addresses with a queued message.
func (s *QueueStore) PendingAddresses(_ context.Context, queue string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	seen := make(map[string]struct{})
	for _, m := range s.bucket(queue) {
		seen[m.Payload.Address] = struct{}{}
	}

	result := make([]string, 0, len(seen))
	for addr := range seen {
		result = append(result, addr)
	}
	sort.Strings(result)
	return result, nil
}

// bucket returns the message map for a queue, creating it if needed.
// Caller must hold s.mu.
func (s *QueueStore) bucket(queue string) map[string]*domain.TaskMessage {
	b, exists := s.queues[queue]
	if !exists {
		b = make(map[string]*domain.TaskMessage)
		s.queues[queue] = b
	}
	return b
}
