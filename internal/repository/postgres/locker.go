package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/utafrali/stockledger/internal/domain"
	"github.com/utafrali/stockledger/internal/repository"
	"github.com/utafrali/stockledger/pkg/database"
)

const (
	setLockTimeoutQuery = `SELECT set_config('lock_timeout', $1, true)`
	lockVariantQuery    = `SELECT ` + variantColumns + ` FROM variants WHERE id = $1 FOR UPDATE`
)

// Locker runs exclusive sections as one transaction holding the variant's
// row lock from SELECT ... FOR UPDATE until commit.
type Locker struct {
	pool        database.DBTX
	lockTimeout time.Duration
}

// NewLocker creates a Locker. A positive lockTimeout makes a blocked
// SELECT ... FOR UPDATE fail with lock_not_available after that long.
func NewLocker(pool database.DBTX, lockTimeout time.Duration) *Locker {
	return &Locker{pool: pool, lockTimeout: lockTimeout}
}

// WithVariantLock runs fn inside a transaction that holds the variant row lock.
func (l *Locker) WithVariantLock(ctx context.Context, variantID string, fn func(ctx context.Context, lv repository.LockedVariant) error) (err error) {
	ctx, end := database.TraceQuery(ctx, "VariantSection", lockVariantQuery)
	defer func() { end(err) }()

	tx, err := l.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin variant section: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if l.lockTimeout > 0 {
		if _, err := tx.Exec(ctx, setLockTimeoutQuery, fmt.Sprintf("%dms", l.lockTimeout.Milliseconds())); err != nil {
			return fmt.Errorf("set lock timeout: %w", err)
		}
	}

	v, err := scanVariant(tx.QueryRow(ctx, lockVariantQuery, variantID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.VariantNotFound(variantID)
		}
		return fmt.Errorf("lock variant %s: %w", variantID, err)
	}

	if err := fn(ctx, &lockedVariant{tx: tx, variant: *v}); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit variant section: %w", err)
	}
	return nil
}

// lockedVariant writes through the section's transaction.
type lockedVariant struct {
	tx      pgx.Tx
	variant domain.Variant
}

func (lv *lockedVariant) Variant() *domain.Variant {
	v := lv.variant
	return &v
}

func (lv *lockedVariant) SetCounters(ctx context.Context, stock, reserved int) (err error) {
	next := lv.variant
	next.StockQuantity = stock
	next.ReservedQuantity = reserved
	if err := next.CheckInvariant(); err != nil {
		return err
	}
	next.UpdatedAt = time.Now().UTC()

	query := `
		UPDATE variants
		SET stock_quantity = $2, reserved_quantity = $3, updated_at = $4
		WHERE id = $1`

	ctx, end := database.TraceQuery(ctx, "SetCounters", query)
	defer func() { end(err) }()

	if _, err = lv.tx.Exec(ctx, query, next.ID, stock, reserved, next.UpdatedAt); err != nil {
		return fmt.Errorf("set variant counters: %w", err)
	}
	lv.variant = next
	return nil
}

func (lv *lockedVariant) AppendMovement(ctx context.Context, m *domain.Movement) (err error) {
	if m.VariantID != lv.variant.ID {
		return fmt.Errorf("movement for variant %s appended under lock of %s", m.VariantID, lv.variant.ID)
	}
	if err := m.Validate(); err != nil {
		return fmt.Errorf("append movement: %w", err)
	}

	query := `
		INSERT INTO stock_movements (id, variant_id, product_id, movement_type, counter, quantity_delta,
			previous_quantity, new_quantity, reason, actor, reservation_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		RETURNING seq`

	ctx, end := database.TraceQuery(ctx, "AppendMovement", query)
	defer func() { end(err) }()

	var reservationID *string
	if m.ReservationID != "" {
		reservationID = &m.ReservationID
	}
	err = lv.tx.QueryRow(ctx, query,
		m.ID, m.VariantID, m.ProductID, string(m.Type), string(m.Counter), m.QuantityDelta,
		m.PreviousQuantity, m.NewQuantity, m.Reason, m.Actor, reservationID, m.CreatedAt,
	).Scan(&m.Sequence)
	if err != nil {
		return fmt.Errorf("insert movement: %w", err)
	}
	return nil
}

func (lv *lockedVariant) Movements(ctx context.Context) ([]domain.Movement, error) {
	return listVariantMovements(ctx, lv.tx, lv.variant.ID)
}

func (lv *lockedVariant) Reservation(ctx context.Context, id string) (r *domain.Reservation, err error) {
	query := `
		SELECT ` + reservationColumns + `
		FROM stock_reservations
		WHERE id = $1 AND variant_id = $2
		FOR UPDATE`

	ctx, end := database.TraceQuery(ctx, "LockReservation", query)
	defer func() { end(err) }()

	r, err = scanReservation(lv.tx.QueryRow(ctx, query, id, lv.variant.ID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ReservationNotFound(id)
		}
		return nil, fmt.Errorf("lock reservation: %w", err)
	}
	return r, nil
}

func (lv *lockedVariant) InsertReservation(ctx context.Context, r *domain.Reservation) (err error) {
	if r.VariantID != lv.variant.ID {
		return fmt.Errorf("reservation for variant %s inserted under lock of %s", r.VariantID, lv.variant.ID)
	}

	query := `
		INSERT INTO stock_reservations (id, variant_id, product_id, session_id, holder, quantity, status, created_at, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`

	ctx, end := database.TraceQuery(ctx, "InsertReservation", query)
	defer func() { end(err) }()

	_, err = lv.tx.Exec(ctx, query,
		r.ID, r.VariantID, r.ProductID, r.SessionID, r.Holder, r.Quantity, string(r.Status), r.CreatedAt, r.ExpiresAt,
	)
	if err != nil {
		return fmt.Errorf("insert reservation: %w", err)
	}
	return nil
}

func (lv *lockedVariant) FinalizeReservation(ctx context.Context, r *domain.Reservation) (err error) {
	if !r.Status.IsTerminal() {
		return fmt.Errorf("reservation %s finalized with non-terminal status %s", r.ID, r.Status)
	}

	query := `
		UPDATE stock_reservations
		SET status = $2, finalized_at = $3
		WHERE id = $1 AND status = 'active'`

	ctx, end := database.TraceQuery(ctx, "FinalizeReservation", query)
	defer func() { end(err) }()

	ct, err := lv.tx.Exec(ctx, query, r.ID, string(r.Status), r.FinalizedAt)
	if err != nil {
		return fmt.Errorf("finalize reservation: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return domain.ReservationAlreadyTerminal(r.ID, r.Status)
	}
	return nil
}
