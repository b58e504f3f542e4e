package service

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/utafrali/stockledger/internal/domain"
	"github.com/utafrali/stockledger/internal/repository"
	apperrors "github.com/utafrali/stockledger/pkg/errors"
)

// Movements serves the movement log and reconciliation.
type Movements struct {
	movements repository.MovementRepository
	sections  *sectionRunner
	logger    *slog.Logger
}

// NewMovements creates the movement log reader.
func NewMovements(store repository.Store, lockAttempts uint, logger *slog.Logger) *Movements {
	return &Movements{
		movements: store.Movements,
		sections:  &sectionRunner{locker: store.Locker, attempts: lockAttempts, logger: logger},
		logger:    logger,
	}
}

// List returns movements matching filter in lock grant order.
func (s *Movements) List(ctx context.Context, filter domain.MovementFilter, page, perPage int) ([]domain.Movement, int, error) {
	if filter.Type != "" && !filter.Type.Valid() {
		return nil, 0, apperrors.InvalidInput("unknown movement type " + string(filter.Type))
	}
	if filter.From != nil && filter.To != nil && !filter.From.Before(*filter.To) {
		return nil, 0, apperrors.InvalidInput("from must be before to")
	}
	return s.movements.List(ctx, filter, page, perPage)
}

// Reconcile replays a variant's log from zero and compares the result with
// the stored counters. Both are read inside the variant's section so no
// mutation can land between the two reads.
func (s *Movements) Reconcile(ctx context.Context, variantID string) (*domain.Reconciliation, error) {
	var rec domain.Reconciliation
	err := s.sections.run(ctx, variantID, func(ctx context.Context, lv repository.LockedVariant) error {
		ms, err := lv.Movements(ctx)
		if err != nil {
			return fmt.Errorf("load movements: %w", err)
		}
		rec = domain.Reconcile(lv.Variant(), ms)
		return nil
	})
	if err != nil {
		return nil, err
	}
	if !rec.Consistent {
		s.logger.WarnContext(ctx, "ledger drift detected",
			slog.String("variant_id", variantID),
			slog.Int("stock_quantity", rec.StockQuantity),
			slog.Int("replayed_stock", rec.ReplayedStock),
			slog.Int("reserved_quantity", rec.ReservedQuantity),
			slog.Int("replayed_reserved", rec.ReplayedReserved),
			slog.Int("chain_breaks", len(rec.Breaks)),
		)
	}
	return &rec, nil
}
