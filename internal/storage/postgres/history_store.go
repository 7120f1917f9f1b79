package postgres

import (
	"context"
	"fmt"

	"github.com/timigod/midas/internal/domain"
	"github.com/timigod/midas/internal/storage"
)

// HistoryStore implements storage.HistoryStore using PostgreSQL.
type HistoryStore struct {
	pool *Pool
}

// NewHistoryStore creates a new HistoryStore.
func NewHistoryStore(pool *Pool) *HistoryStore {
	return &HistoryStore{pool: pool}
}

// Compile-time interface check.
var _ storage.HistoryStore = (*HistoryStore)(nil)

// Append adds a new snapshot.
func (s *HistoryStore) Append(ctx context.Context, r *domain.HistoryRecord) error {
	if r == nil || r.Address == "" {
		return storage.ErrInvalidInput
	}

	query := `
		INSERT INTO token_history (address, market_cap, liquidity, buy_volume, net_volume, recorded_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`

	_, err := s.pool.Exec(ctx, query, r.Address, r.MarketCap, r.Liquidity, r.BuyVolume, r.NetVolume, r.RecordedAt)
	if err != nil {
		return fmt.Errorf("append history record: %w", err)
	}
	return nil
}

// GetByAddress retrieves all snapshots for a token, ordered by recorded_at ASC.
func (s *HistoryStore) GetByAddress(ctx context.Context, address string) ([]*domain.HistoryRecord, error) {
	query := `
		SELECT address, market_cap, liquidity, buy_volume, net_volume, recorded_at
		FROM token_history
		WHERE address = $1
		ORDER BY recorded_at ASC, id ASC
	`

	rows, err := s.pool.Query(ctx, query, address)
	if err != nil {
		return nil, fmt.Errorf("get history by address: %w", err)
	}
	defer rows.Close()

	var result []*domain.HistoryRecord
	for rows.Next() {
		var r domain.HistoryRecord
		if err := rows.Scan(&r.Address, &r.MarketCap, &r.Liquidity, &r.BuyVolume, &r.NetVolume, &r.RecordedAt); err != nil {
			return nil, fmt.Errorf("scan history record: %w", err)
		}
		result = append(result, &r)
	}
	return result, rows.Err()
}
