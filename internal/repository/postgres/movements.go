package postgres

import (
	"context"
	"fmt"

	"github.com/utafrali/stockledger/internal/domain"
	"github.com/utafrali/stockledger/pkg/database"
	"github.com/utafrali/stockledger/pkg/pagination"
)

const movementColumns = `seq, id, variant_id, product_id, movement_type, counter, quantity_delta,
		previous_quantity, new_quantity, reason, actor, reservation_id, created_at`

func scanMovement(row scanner) (domain.Movement, error) {
	var (
		m             domain.Movement
		reservationID *string
	)
	if err := row.Scan(
		&m.Sequence,
		&m.ID,
		&m.VariantID,
		&m.ProductID,
		&m.Type,
		&m.Counter,
		&m.QuantityDelta,
		&m.PreviousQuantity,
		&m.NewQuantity,
		&m.Reason,
		&m.Actor,
		&reservationID,
		&m.CreatedAt,
	); err != nil {
		return domain.Movement{}, err
	}
	if reservationID != nil {
		m.ReservationID = *reservationID
	}
	return m, nil
}

// MovementRepository implements repository.MovementRepository. Rows are
// only ever inserted inside an exclusive section; see lockedVariant.
type MovementRepository struct {
	pool database.DBTX
}

// NewMovementRepository creates a PostgreSQL-backed movement log reader.
func NewMovementRepository(pool database.DBTX) *MovementRepository {
	return &MovementRepository{pool: pool}
}

// List returns movements matching filter in sequence order.
func (r *MovementRepository) List(ctx context.Context, filter domain.MovementFilter, page, perPage int) (_ []domain.Movement, _ int, err error) {
	p := pagination.New(page, perPage)

	var w where
	if filter.VariantID != "" {
		w.add("variant_id = $%d", filter.VariantID)
	}
	if filter.ProductID != "" {
		w.add("product_id = $%d", filter.ProductID)
	}
	if filter.Type != "" {
		w.add("movement_type = $%d", string(filter.Type))
	}
	if filter.From != nil {
		w.add("created_at >= $%d", *filter.From)
	}
	if filter.To != nil {
		w.add("created_at < $%d", *filter.To)
	}

	countQuery := `SELECT COUNT(*) FROM stock_movements ` + w.String()

	ctx, end := database.TraceQuery(ctx, "ListMovements", countQuery)
	defer func() { end(err) }()

	var total int
	if err := r.pool.QueryRow(ctx, countQuery, w.args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count movements: %w", err)
	}

	query := fmt.Sprintf(`
		SELECT %s
		FROM stock_movements
		%s
		ORDER BY seq ASC
		LIMIT $%d OFFSET $%d`, movementColumns, w.String(), w.next(), w.next()+1)
	args := append(append([]any{}, w.args...), p.PerPage, p.Offset())

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list movements: %w", err)
	}
	defer rows.Close()

	movements := []domain.Movement{}
	for rows.Next() {
		m, err := scanMovement(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scan movement row: %w", err)
		}
		movements = append(movements, m)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("iterate movement rows: %w", err)
	}
	return movements, total, nil
}

// ListByVariant returns the whole log of one variant in sequence order.
func (r *MovementRepository) ListByVariant(ctx context.Context, variantID string) ([]domain.Movement, error) {
	return listVariantMovements(ctx, r.pool, variantID)
}

const variantMovementsQuery = `SELECT ` + movementColumns + ` FROM stock_movements WHERE variant_id = $1 ORDER BY seq ASC`

func listVariantMovements(ctx context.Context, q querier, variantID string) (_ []domain.Movement, err error) {
	ctx, end := database.TraceQuery(ctx, "ListVariantMovements", variantMovementsQuery)
	defer func() { end(err) }()

	rows, err := q.Query(ctx, variantMovementsQuery, variantID)
	if err != nil {
		return nil, fmt.Errorf("list variant movements: %w", err)
	}
	defer rows.Close()

	movements := []domain.Movement{}
	for rows.Next() {
		m, err := scanMovement(rows)
		if err != nil {
			return nil, fmt.Errorf("scan movement row: %w", err)
		}
		movements = append(movements, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate movement rows: %w", err)
	}
	return movements, nil
}
