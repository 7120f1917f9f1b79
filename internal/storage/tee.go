package storage

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/timigod/midas/internal/domain"
)

// TeeHistoryStore writes snapshots to a primary store and mirrors them to a
// best-effort archive sink. Reads come from the primary only; a failed
// archive write is logged and never fails the append.
type TeeHistoryStore struct {
	primary HistoryStore
	archive HistoryStore
	log     zerolog.Logger
}

var _ HistoryStore = (*TeeHistoryStore)(nil)

// NewTeeHistoryStore creates a tee over primary and archive.
func NewTeeHistoryStore(primary, archive HistoryStore, log zerolog.Logger) *TeeHistoryStore {
	return &TeeHistoryStore{primary: primary, archive: archive, log: log}
}

func (s *TeeHistoryStore) Append(ctx context.Context, r *domain.HistoryRecord) error {
	if err := s.primary.Append(ctx, r); err != nil {
		return err
	}
	if err := s.archive.Append(ctx, r); err != nil {
		s.log.Warn().Err(err).Str("address", r.Address).Msg("archive history write failed")
	}
	return nil
}

func (s *TeeHistoryStore) GetByAddress(ctx context.Context, address string) ([]*domain.HistoryRecord, error) {
	return s.primary.GetByAddress(ctx, address)
}
