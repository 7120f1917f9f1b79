package clickhouse

import (
	"context"
	"fmt"

	"github.com/timigod/midas/internal/domain"
	"github.com/timigod/midas/internal/storage"
)

// HistoryStore implements storage.HistoryStore using ClickHouse. Deployed as
// the archive sink for metric snapshots when trend analysis outgrows the
// relational history table; the interface is identical, so the pipelines do
// not care which backend they append to.
type HistoryStore struct {
	conn *Conn
}

// NewHistoryStore creates a new HistoryStore.
func NewHistoryStore(conn *Conn) *HistoryStore {
	return &HistoryStore{conn: conn}
}

// Compile-time interface check.
var _ storage.HistoryStore = (*HistoryStore)(nil)

// Append adds a new snapshot.
func (s *HistoryStore) Append(ctx context.Context, r *domain.HistoryRecord) error {
	if r == nil || r.Address == "" {
		return storage.ErrInvalidInput
	}

	batch, err := s.conn.PrepareBatch(ctx, `
		INSERT INTO token_history (
			address, market_cap, liquidity, buy_volume, net_volume, recorded_at
		)
	`)
	if err != nil {
		return fmt.Errorf("prepare batch: %w", err)
	}

	if err := batch.Append(r.Address, r.MarketCap, r.Liquidity, r.BuyVolume, r.NetVolume, r.RecordedAt); err != nil {
		return fmt.Errorf("append to batch: %w", err)
	}
	if err := batch.Send(); err != nil {
		return fmt.Errorf("send batch: %w", err)
	}
	return nil
}

// GetByAddress retrieves all snapshots for a token, ordered by recorded_at ASC.
func (s *HistoryStore) GetByAddress(ctx context.Context, address string) ([]*domain.HistoryRecord, error) {
	query := `
		SELECT address, market_cap, liquidity, buy_volume, net_volume, recorded_at
		FROM token_history
		WHERE address = ?
		ORDER BY recorded_at ASC
	`

	rows, err := s.conn.Query(ctx, query, address)
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
