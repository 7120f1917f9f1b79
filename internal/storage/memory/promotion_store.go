package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/timigod/midas/internal/domain"
	"github.com/timigod/midas/internal/storage"
)

// PromotionStore is an in-memory implementation of storage.PromotionStore.
type PromotionStore struct {
	mu   sync.RWMutex
	data map[string]*domain.PromotionRecord // keyed by address
}

// NewPromotionStore creates a new in-memory promotion store.
func NewPromotionStore() *PromotionStore {
	return &PromotionStore{
		data: make(map[string]*domain.PromotionRecord),
	}
}

// Compile-time interface check.
var _ storage.PromotionStore = (*PromotionStore)(nil)

// Insert adds a promotion record. Returns ErrDuplicateKey if the address
// was already promoted.
func (s *PromotionStore) Insert(_ context.Context, r *domain.PromotionRecord) error {
	if r == nil || r.Address == "" {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.data[r.Address]; exists {
		return storage.ErrDuplicateKey
	}

	recordCopy := *r
	s.data[r.Address] = &recordCopy
	return nil
}

// Get retrieves the promotion record for a token.
func (s *PromotionStore) Get(_ context.Context, address string) (*domain.PromotionRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	r, exists := s.data[address]
	if !exists {
		return nil, storage.ErrNotFound
	}

	recordCopy := *r
	return &recordCopy, nil
}

// List retrieves all promotion records, ordered by promoted_at ASC.
func (s *PromotionStore) List(_ context.Context) ([]*domain.PromotionRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*domain.PromotionRecord, 0, len(s.data))
	for _, r := range s.data {
		recordCopy := *r
		result = append(result, &recordCopy)
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].PromotedAt.Before(result[j].PromotedAt)
	})
	return result, nil
}
