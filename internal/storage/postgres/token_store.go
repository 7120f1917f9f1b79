package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/timigod/midas/internal/domain"
	"github.com/timigod/midas/internal/storage"
)

// TokenStore implements storage.TokenStore using PostgreSQL.
type TokenStore struct {
	pool *Pool
}

// NewTokenStore creates a new TokenStore.
func NewTokenStore(pool *Pool) *TokenStore {
	return &TokenStore{pool: pool}
}

// Compile-time interface check.
var _ storage.TokenStore = (*TokenStore)(nil)

const tokenColumns = `
	address, start_market_cap, current_market_cap, liquidity,
	cumulative_buy_volume, cumulative_net_volume, status,
	deadline_at, created_at, updated_at
`

// Insert adds a new token. Returns ErrDuplicateKey if the address exists.
func (s *TokenStore) Insert(ctx context.Context, t *domain.Token) error {
	if t == nil || t.Address == "" || !t.Status.Valid() {
		return storage.ErrInvalidInput
	}

	query := `
		INSERT INTO tokens (
			address, start_market_cap, current_market_cap, liquidity,
			cumulative_buy_volume, cumulative_net_volume, status,
			deadline_at, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`

	_, err := s.pool.Exec(ctx, query,
		t.Address,
		t.StartMarketCap,
		t.CurrentMarketCap,
		t.Liquidity,
		t.CumulativeBuyVolume,
		t.CumulativeNetVolume,
		string(t.Status),
		t.DeadlineAt,
		t.CreatedAt,
		t.UpdatedAt,
	)
	if err != nil {
		if isDuplicateKeyError(err) {
			return storage.ErrDuplicateKey
		}
		return fmt.Errorf("insert token: %w", err)
	}
	return nil
}

// Get retrieves a token by address. Returns ErrNotFound if not exists.
func (s *TokenStore) Get(ctx context.Context, address string) (*domain.Token, error) {
	query := `SELECT ` + tokenColumns + ` FROM tokens WHERE address = $1`

	row := s.pool.QueryRow(ctx, query, address)
	t, err := scanToken(row)
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get token: %w", err)
	}
	return t, nil
}

// ListByStatus retrieves all tokens in a given state, ordered by created_at ASC.
func (s *TokenStore) ListByStatus(ctx context.Context, status domain.TokenStatus) ([]*domain.Token, error) {
	query := `SELECT ` + tokenColumns + ` FROM tokens WHERE status = $1 ORDER BY created_at ASC, address ASC`

	rows, err := s.pool.Query(ctx, query, string(status))
	if err != nil {
		return nil, fmt.Errorf("list tokens by status: %w", err)
	}
	defer rows.Close()

	return scanTokens(rows)
}

// UpdateMetrics persists fresh market figures and cumulative volumes.
func (s *TokenStore) UpdateMetrics(ctx context.Context, address string, marketCap, liquidity, buyVolume, netVolume float64, now time.Time) error {
	query := `
		UPDATE tokens
		SET current_market_cap = $2, liquidity = $3,
		    cumulative_buy_volume = $4, cumulative_net_volume = $5,
		    updated_at = $6
		WHERE address = $1
	`

	tag, err := s.pool.Exec(ctx, query, address, marketCap, liquidity, buyVolume, netVolume, now)
	if err != nil {
		return fmt.Errorf("update token metrics: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// Promote transitions active -> hot. The WHERE clause is the compare-and-swap:
// a concurrent archive sweep that already committed makes this affect zero
// rows, and the caller gets ErrNotActive instead of a clobbered state.
func (s *TokenStore) Promote(ctx context.Context, address string, now time.Time) error {
	return s.transition(ctx, address, domain.StatusHot, now)
}

// Archive transitions active -> archived under the same conditional semantics.
func (s *TokenStore) Archive(ctx context.Context, address string, now time.Time) error {
	return s.transition(ctx, address, domain.StatusArchived, now)
}

func (s *TokenStore) transition(ctx context.Context, address string, to domain.TokenStatus, now time.Time) error {
	query := `
		UPDATE tokens
		SET status = $2, updated_at = $3
		WHERE address = $1 AND status = $4
	`

	tag, err := s.pool.Exec(ctx, query, address, string(to), now, string(domain.StatusActive))
	if err != nil {
		return fmt.Errorf("transition token to %s: %w", to, err)
	}
	if tag.RowsAffected() > 0 {
		return nil
	}

	// Zero rows: either the token is gone or another transition won.
	var status string
	err = s.pool.QueryRow(ctx, `SELECT status FROM tokens WHERE address = $1`, address).Scan(&status)
	if err != nil {
		if isNotFoundError(err) {
			return storage.ErrNotFound
		}
		return fmt.Errorf("check token status: %w", err)
	}
	return storage.ErrNotActive
}

// ArchiveExpired archives every active token whose deadline has passed.
func (s *TokenStore) ArchiveExpired(ctx context.Context, now time.Time) ([]string, error) {
	query := `
		UPDATE tokens
		SET status = $2, updated_at = $1
		WHERE status = $3 AND deadline_at < $1
		RETURNING address
	`

	rows, err := s.pool.Query(ctx, query, now, string(domain.StatusArchived), string(domain.StatusActive))
	if err != nil {
		return nil, fmt.Errorf("archive expired tokens: %w", err)
	}
	defer rows.Close()

	var archived []string
	for rows.Next() {
		var addr string
		if err := rows.Scan(&addr); err != nil {
			return nil, fmt.Errorf("scan archived address: %w", err)
		}
		archived = append(archived, addr)
	}
	return archived, rows.Err()
}

// ActiveAddresses returns the addresses of all active tokens.
func (s *TokenStore) ActiveAddresses(ctx context.Context) ([]string, error) {
	query := `SELECT address FROM tokens WHERE status = $1 ORDER BY address ASC`

	rows, err := s.pool.Query(ctx, query, string(domain.StatusActive))
	if err != nil {
		return nil, fmt.Errorf("list active addresses: %w", err)
	}
	defer rows.Close()

	var result []string
	for rows.Next() {
		var addr string
		if err := rows.Scan(&addr); err != nil {
			return nil, fmt.Errorf("scan active address: %w", err)
		}
		result = append(result, addr)
	}
	return result, rows.Err()
}

// scanToken scans a single token row.
func scanToken(row pgx.Row) (*domain.Token, error) {
	var t domain.Token
	var status string
	err := row.Scan(
		&t.Address,
		&t.StartMarketCap,
		&t.CurrentMarketCap,
		&t.Liquidity,
		&t.CumulativeBuyVolume,
		&t.CumulativeNetVolume,
		&status,
		&t.DeadlineAt,
		&t.CreatedAt,
		&t.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	t.Status = domain.TokenStatus(status)
	return &t, nil
}

// scanTokens scans all token rows.
func scanTokens(rows pgx.Rows) ([]*domain.Token, error) {
	var result []*domain.Token
	for rows.Next() {
		t, err := scanToken(rows)
		if err != nil {
			return nil, fmt.Errorf("scan token: %w", err)
		}
		result = append(result, t)
	}
	return result, rows.Err()
}
