package postgres

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/utafrali/stockledger/internal/repository"
	"github.com/utafrali/stockledger/pkg/database"
)

// NewStore wires the PostgreSQL repositories over one pool. lockTimeout is
// applied with SET LOCAL to every exclusive section.
func NewStore(pool database.DBTX, lockTimeout time.Duration) repository.Store {
	return repository.Store{
		Variants:     NewVariantRepository(pool),
		Movements:    NewMovementRepository(pool),
		Reservations: NewReservationRepository(pool),
		Locker:       NewLocker(pool, lockTimeout),
	}
}

// querier is satisfied by the pool and by pgx.Tx.
type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// scanner is satisfied by pgx.Row and pgx.Rows.
type scanner interface {
	Scan(dest ...any) error
}

// where accumulates AND-ed conditions with numbered placeholders.
type where struct {
	conds []string
	args  []any
}

// add appends cond, in which %d stands for the placeholder of arg.
func (w *where) add(cond string, arg any) {
	w.args = append(w.args, arg)
	w.conds = append(w.conds, fmt.Sprintf(cond, len(w.args)))
}

// raw appends a condition without arguments.
func (w *where) raw(cond string) {
	w.conds = append(w.conds, cond)
}

func (w *where) String() string {
	if len(w.conds) == 0 {
		return ""
	}
	return "WHERE " + strings.Join(w.conds, " AND ")
}

// next returns the placeholder number after the accumulated arguments.
func (w *where) next() int {
	return len(w.args) + 1
}
