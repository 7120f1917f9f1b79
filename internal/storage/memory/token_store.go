package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/timigod/midas/internal/domain"
	"github.com/timigod/midas/internal/storage"
)

// TokenStore is an in-memory implementation of storage.TokenStore.
type TokenStore struct {
	mu   sync.RWMutex
	data map[string]*domain.Token // keyed by address
}

// NewTokenStore creates a new in-memory token store.
func NewTokenStore() *TokenStore {
	return &TokenStore{
		data: make(map[string]*domain.Token),
	}
}

// Compile-time interface check.
var _ storage.TokenStore = (*TokenStore)(nil)

// Insert adds a new token. Returns ErrDuplicateKey if the address exists.
func (s *TokenStore) Insert(_ context.Context, t *domain.Token) error {
	if t == nil || t.Address == "" || !t.Status.Valid() {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.data[t.Address]; exists {
		return storage.ErrDuplicateKey
	}

	// Store a copy to prevent external mutation
	tokenCopy := *t
	s.data[t.Address] = &tokenCopy
	return nil
}

// Get retrieves a token by address. Returns ErrNotFound if not exists.
func (s *TokenStore) Get(_ context.Context, address string) (*domain.Token, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	t, exists := s.data[address]
	if !exists {
		return nil, storage.ErrNotFound
	}

	tokenCopy := *t
	return &tokenCopy, nil
}

// ListByStatus retrieves all tokens in a given state, ordered by created_at ASC.
func (s *TokenStore) ListByStatus(_ context.Context, status domain.TokenStatus) ([]*domain.Token, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*domain.Token
	for _, t := range s.data {
		if t.Status == status {
			tokenCopy := *t
			result = append(result, &tokenCopy)
		}
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.Before(result[j].CreatedAt)
	})
	return result, nil
}

// UpdateMetrics persists fresh market figures and cumulative volumes.
func (s *TokenStore) UpdateMetrics(_ context.Context, address string, marketCap, liquidity, buyVolume, netVolume float64, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, exists := s.data[address]
	if !exists {
		return storage.ErrNotFound
	}

	t.CurrentMarketCap = marketCap
	t.Liquidity = liquidity
	t.CumulativeBuyVolume = buyVolume
	t.CumulativeNetVolume = netVolume
	t.UpdatedAt = now
	return nil
}

// Promote transitions active -> hot, conditional on the token being active.
func (s *TokenStore) Promote(_ context.Context, address string, now time.Time) error {
	return s.transition(address, domain.StatusHot, now)
}

// Archive transitions active -> archived, conditional on the token being active.
func (s *TokenStore) Archive(_ context.Context, address string, now time.Time) error {
	return s.transition(address, domain.StatusArchived, now)
}

// transition is the compare-and-swap: only an active token moves. Whichever
// of promote/archive commits first wins; the loser sees ErrNotActive.
func (s *TokenStore) transition(address string, to domain.TokenStatus, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, exists := s.data[address]
	if !exists {
		return storage.ErrNotFound
	}
	if t.Status != domain.StatusActive {
		return storage.ErrNotActive
	}

	t.Status = to
	t.UpdatedAt = now
	return nil
}

// ArchiveExpired archives every active token whose deadline has passed.
func (s *TokenStore) ArchiveExpired(_ context.Context, now time.Time) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var archived []string
	for addr, t := range s.data {
		if t.Status == domain.StatusActive && t.DeadlineAt.Before(now) {
			t.Status = domain.StatusArchived
			t.UpdatedAt = now
			archived = append(archived, addr)
		}
	}

	sort.Strings(archived)
	return archived, nil
}

// ActiveAddresses returns the addresses of all active tokens.
func (s *TokenStore) ActiveAddresses(_ context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []string
	for addr, t := range s.data {
		if t.Status == domain.StatusActive {
			result = append(result, addr)
		}
	}

	sort.Strings(result)
	return result, nil
}
