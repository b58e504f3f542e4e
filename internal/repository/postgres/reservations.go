package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/utafrali/stockledger/internal/domain"
	"github.com/utafrali/stockledger/pkg/database"
)

const reservationColumns = `id, variant_id, product_id, session_id, holder, quantity, status,
		created_at, expires_at, finalized_at`

func scanReservation(row scanner) (*domain.Reservation, error) {
	var r domain.Reservation
	if err := row.Scan(
		&r.ID,
		&r.VariantID,
		&r.ProductID,
		&r.SessionID,
		&r.Holder,
		&r.Quantity,
		&r.Status,
		&r.CreatedAt,
		&r.ExpiresAt,
		&r.FinalizedAt,
	); err != nil {
		return nil, err
	}
	return &r, nil
}

func collectReservations(rows pgx.Rows) ([]domain.Reservation, error) {
	defer rows.Close()
	out := []domain.Reservation{}
	for rows.Next() {
		r, err := scanReservation(rows)
		if err != nil {
			return nil, fmt.Errorf("scan reservation row: %w", err)
		}
		out = append(out, *r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate reservation rows: %w", err)
	}
	return out, nil
}

// ReservationRepository implements repository.ReservationRepository.
type ReservationRepository struct {
	pool database.DBTX
}

// NewReservationRepository creates a PostgreSQL-backed reservation reader.
func NewReservationRepository(pool database.DBTX) *ReservationRepository {
	return &ReservationRepository{pool: pool}
}

// GetByID retrieves a reservation by id.
func (r *ReservationRepository) GetByID(ctx context.Context, id string) (res *domain.Reservation, err error) {
	query := `SELECT ` + reservationColumns + ` FROM stock_reservations WHERE id = $1`

	ctx, end := database.TraceQuery(ctx, "GetReservation", query)
	defer func() { end(err) }()

	res, err = scanReservation(r.pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ReservationNotFound(id)
		}
		return nil, fmt.Errorf("get reservation: %w", err)
	}
	return res, nil
}

// ListBySession returns the reservations of a checkout session, oldest first.
func (r *ReservationRepository) ListBySession(ctx context.Context, sessionID string) (_ []domain.Reservation, err error) {
	query := `
		SELECT ` + reservationColumns + `
		FROM stock_reservations
		WHERE session_id = $1
		ORDER BY created_at ASC, id ASC`

	ctx, end := database.TraceQuery(ctx, "ListSessionReservations", query)
	defer func() { end(err) }()

	rows, err := r.pool.Query(ctx, query, sessionID)
	if err != nil {
		return nil, fmt.Errorf("list session reservations: %w", err)
	}
	return collectReservations(rows)
}

// ListExpired returns up to limit active reservations that expired before now.
func (r *ReservationRepository) ListExpired(ctx context.Context, now time.Time, limit int) (_ []domain.Reservation, err error) {
	query := `
		SELECT ` + reservationColumns + `
		FROM stock_reservations
		WHERE status = 'active' AND expires_at < $1
		ORDER BY expires_at ASC
		LIMIT $2`

	ctx, end := database.TraceQuery(ctx, "ListExpiredReservations", query)
	defer func() { end(err) }()

	rows, err := r.pool.Query(ctx, query, now, limit)
	if err != nil {
		return nil, fmt.Errorf("list expired reservations: %w", err)
	}
	return collectReservations(rows)
}
