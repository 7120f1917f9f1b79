package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/timigod/midas/internal/domain"
	"github.com/timigod/midas/internal/storage"
)

// PromotionStore implements storage.PromotionStore using PostgreSQL.
type PromotionStore struct {
	pool *Pool
}

// NewPromotionStore creates a new PromotionStore.
func NewPromotionStore(pool *Pool) *PromotionStore {
	return &PromotionStore{pool: pool}
}

// Compile-time interface check.
var _ storage.PromotionStore = (*PromotionStore)(nil)

// Insert adds a promotion record. Returns ErrDuplicateKey if the address was
// already promoted; the primary key enforces promotion monotonicity.
func (s *PromotionStore) Insert(ctx context.Context, r *domain.PromotionRecord) error {
	if r == nil || r.Address == "" {
		return storage.ErrInvalidInput
	}

	query := `
		INSERT INTO promotions (address, market_cap, liquidity, buy_volume, net_volume, growth_multiple, promoted_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`

	_, err := s.pool.Exec(ctx, query,
		r.Address, r.MarketCap, r.Liquidity, r.BuyVolume, r.NetVolume, r.GrowthMultiple, r.PromotedAt)
	if err != nil {
		if isDuplicateKeyError(err) {
			return storage.ErrDuplicateKey
		}
		return fmt.Errorf("insert promotion record: %w", err)
	}
	return nil
}

// Get retrieves the promotion record for a token.
func (s *PromotionStore) Get(ctx context.Context, address string) (*domain.PromotionRecord, error) {
	query := `
		SELECT address, market_cap, liquidity, buy_volume, net_volume, growth_multiple, promoted_at
		FROM promotions
		WHERE address = $1
	`

	r, err := scanPromotion(s.pool.QueryRow(ctx, query, address))
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get promotion record: %w", err)
	}
	return r, nil
}

// List retrieves all promotion records, ordered by promoted_at ASC.
func (s *PromotionStore) List(ctx context.Context) ([]*domain.PromotionRecord, error) {
	query := `
		SELECT address, market_cap, liquidity, buy_volume, net_volume, growth_multiple, promoted_at
		FROM promotions
		ORDER BY promoted_at ASC, address ASC
	`

	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list promotion records: %w", err)
	}
	defer rows.Close()

	var result []*domain.PromotionRecord
	for rows.Next() {
		r, err := scanPromotion(rows)
		if err != nil {
			return nil, fmt.Errorf("scan promotion record: %w", err)
		}
		result = append(result, r)
	}
	return result, rows.Err()
}

func scanPromotion(row pgx.Row) (*domain.PromotionRecord, error) {
	var r domain.PromotionRecord
	err := row.Scan(&r.Address, &r.MarketCap, &r.Liquidity, &r.BuyVolume, &r.NetVolume, &r.GrowthMultiple, &r.PromotedAt)
	if err != nil {
		return nil, err
	}
	return &r, nil
}
