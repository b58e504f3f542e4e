package service

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/utafrali/stockledger/internal/domain"
)

var (
	ledgerMutations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "stock_ledger_mutations_total",
		Help: "Ledger mutations by movement type and outcome.",
	}, []string{"movement_type", "outcome"})

	reservationTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "stock_reservation_transitions_total",
		Help: "Reservations entering each status.",
	}, []string{"status"})

	lockRetries = promauto.NewCounter(prometheus.CounterOpts{
		Name: "stock_ledger_lock_retries_total",
		Help: "Exclusive sections retried after lock contention.",
	})

	sweepExpired = promauto.NewCounter(prometheus.CounterOpts{
		Name: "stock_reservation_sweep_expired_total",
		Help: "Reservations expired by the sweep.",
	})
)

// outcome labels a mutation result for ledgerMutations.
func outcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, domain.ErrInsufficientStock):
		return "insufficient_stock"
	case errors.Is(err, domain.ErrVariantNotFound):
		return "not_found"
	case errors.Is(err, domain.ErrVariantInactive):
		return "inactive"
	case errors.Is(err, domain.ErrStoreContention):
		return "contention"
	default:
		return "error"
	}
}
