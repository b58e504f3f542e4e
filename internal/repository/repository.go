package repository

import (
	"context"
	"errors"
	"time"

	"github.com/utafrali/stockledger/internal/domain"
	"github.com/utafrali/stockledger/pkg/database"
)

// ErrLockTimeout is returned when a variant lock could not be acquired within
// the configured wait. The section can be retried.
var ErrLockTimeout = errors.New("variant lock wait timed out")

// IsContention reports whether err means the exclusive section lost a race
// for the variant lock and may be retried as a whole.
func IsContention(err error) bool {
	return errors.Is(err, ErrLockTimeout) || database.IsTransient(err)
}

// VariantRepository reads and maintains variant rows. It never writes the
// stock or reserved counters; those change only through a LockedVariant.
type VariantRepository interface {
	// Create inserts v with zero counters.
	Create(ctx context.Context, v *domain.Variant) error

	// GetByID retrieves a variant by id.
	GetByID(ctx context.Context, id string) (*domain.Variant, error)

	// GetBySKU retrieves a variant by its SKU.
	GetBySKU(ctx context.Context, sku string) (*domain.Variant, error)

	// ListAlerts returns variants matching filter ordered by ascending
	// availability, along with the total count.
	ListAlerts(ctx context.Context, filter domain.AlertFilter, page, perPage int) ([]domain.Variant, int, error)

	// ApplyCatalogUpdate syncs catalog owned attributes onto every variant
	// of the product and returns how many variants changed.
	ApplyCatalogUpdate(ctx context.Context, update domain.CatalogUpdate) (int, error)

	// SetActive toggles the soft-deactivation flag.
	SetActive(ctx context.Context, id string, active bool) (*domain.Variant, error)
}

// MovementRepository queries the append-only movement log.
type MovementRepository interface {
	// List returns movements matching filter in sequence order, along with the total count.
	List(ctx context.Context, filter domain.MovementFilter, page, perPage int) ([]domain.Movement, int, error)

	// ListByVariant returns the complete log of one variant in sequence order.
	ListByVariant(ctx context.Context, variantID string) ([]domain.Movement, error)
}

// ReservationRepository reads reservations outside of a variant lock.
type ReservationRepository interface {
	GetByID(ctx context.Context, id string) (*domain.Reservation, error)

	// ListBySession returns every reservation of a checkout session, oldest first.
	ListBySession(ctx context.Context, sessionID string) ([]domain.Reservation, error)

	// ListExpired returns up to limit active reservations whose expiry is before now.
	ListExpired(ctx context.Context, now time.Time, limit int) ([]domain.Reservation, error)
}

// Locker runs exclusive sections. fn runs while the caller holds the only
// write access to the variant's row; its writes become visible atomically
// when fn returns nil and are discarded otherwise. Sections on different
// variants never block each other.
type Locker interface {
	WithVariantLock(ctx context.Context, variantID string, fn func(ctx context.Context, lv LockedVariant) error) error
}

// LockedVariant is the unit of work inside an exclusive section and the only
// way to write variant counters, movements and reservation status.
type LockedVariant interface {
	// Variant returns the row as read under the lock, including pending counter writes.
	Variant() *domain.Variant

	// SetCounters writes new stock and reserved quantities.
	SetCounters(ctx context.Context, stock, reserved int) error

	// AppendMovement validates and appends m to the log. m.Sequence is set
	// no later than the section's commit.
	AppendMovement(ctx context.Context, m *domain.Movement) error

	// Movements reads the variant's log in sequence order, including
	// movements appended earlier in this section.
	Movements(ctx context.Context) ([]domain.Movement, error)

	// Reservation reads a reservation of this variant.
	Reservation(ctx context.Context, id string) (*domain.Reservation, error)

	// InsertReservation stores a new active reservation of this variant.
	InsertReservation(ctx context.Context, r *domain.Reservation) error

	// FinalizeReservation persists the terminal status r was moved to. It
	// fails with ErrReservationAlreadyTerminal if the stored row is no
	// longer active.
	FinalizeReservation(ctx context.Context, r *domain.Reservation) error
}

// Store bundles one backend's implementations.
type Store struct {
	Variants     VariantRepository
	Movements    MovementRepository
	Reservations ReservationRepository
	Locker       Locker
}
