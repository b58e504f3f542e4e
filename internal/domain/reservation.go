package domain

import "time"

// ReservationStatus is the lifecycle state of a hold.
type ReservationStatus string

const (
	ReservationActive    ReservationStatus = "active"
	ReservationCommitted ReservationStatus = "committed"
	ReservationReleased  ReservationStatus = "released"
	ReservationExpired   ReservationStatus = "expired"
)

// IsTerminal reports whether no further transition is allowed.
func (s ReservationStatus) IsTerminal() bool {
	return s == ReservationCommitted || s == ReservationReleased || s == ReservationExpired
}

// Reservation is a temporary claim on a variant's stock for one checkout session.
// While active its quantity is counted in the variant's reserved quantity.
type Reservation struct {
	ID          string            `json:"id"`
	VariantID   string            `json:"variant_id"`
	ProductID   string            `json:"product_id"`
	SessionID   string            `json:"session_id"`
	Holder      string            `json:"holder,omitempty"`
	Quantity    int               `json:"quantity"`
	Status      ReservationStatus `json:"status"`
	CreatedAt   time.Time         `json:"created_at"`
	ExpiresAt   time.Time         `json:"expires_at"`
	FinalizedAt *time.Time        `json:"finalized_at,omitempty"`
}

// IsExpiredAt reports whether the hold's TTL has run out at now.
func (r *Reservation) IsExpiredAt(now time.Time) bool {
	return now.After(r.ExpiresAt)
}

// Finalize moves an active reservation to a terminal status.
func (r *Reservation) Finalize(status ReservationStatus, at time.Time) error {
	if r.Status.IsTerminal() {
		return ReservationAlreadyTerminal(r.ID, r.Status)
	}
	r.Status = status
	r.FinalizedAt = &at
	return nil
}

// HoldLine is one variant and quantity in a multi-line hold.
type HoldLine struct {
	VariantID string `json:"variant_id"`
	Quantity  int    `json:"quantity"`
}
