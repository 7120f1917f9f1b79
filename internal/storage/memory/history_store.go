package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/timigod/midas/internal/domain"
	"github.com/timigod/midas/internal/storage"
)

// HistoryStore is an in-memory implementation of storage.HistoryStore.
type HistoryStore struct {
	mu   sync.RWMutex
	data map[string][]*domain.HistoryRecord // keyed by address
}

// NewHistoryStore creates a new in-memory history store.
func NewHistoryStore() *HistoryStore {
	return &HistoryStore{
		data: make(map[string][]*domain.HistoryRecord),
	}
}

// Compile-time interface check.
var _ storage.HistoryStore = (*HistoryStore)(nil)

// Append adds a new snapshot.
func (s *HistoryStore) Append(_ context.Context, r *domain.HistoryRecord) error {
	if r == nil || r.Address == "" {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	recordCopy := *r
	s.data[r.Address] = append(s.data[r.Address], &recordCopy)
	return nil
}

// GetByAddress retrieves all snapshots for a token, ordered by recorded_at ASC.
func (s *HistoryStore) GetByAddress(_ context.Context, address string) ([]*domain.HistoryRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	records := s.data[address]
	result := make([]*domain.HistoryRecord, 0, len(records))
	for _, r := range records {
		recordCopy := *r
		result = append(result, &recordCopy)
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].RecordedAt.Before(result[j].RecordedAt)
	})
	return result, nil
}
