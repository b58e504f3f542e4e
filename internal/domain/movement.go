package domain

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// MovementType classifies a counter change.
type MovementType string

const (
	MovementSale               MovementType = "sale"
	MovementRestock            MovementType = "restock"
	MovementAdjustment         MovementType = "adjustment"
	MovementReservationHold    MovementType = "reservation_hold"
	MovementReservationRelease MovementType = "reservation_release"
	MovementReservationCommit  MovementType = "reservation_commit"
)

// Counter names the variant counter a movement applies to.
type Counter string

const (
	CounterStock    Counter = "stock"
	CounterReserved Counter = "reserved"
)

// Valid reports whether t is a known movement type.
func (t MovementType) Valid() bool {
	switch t {
	case MovementSale, MovementRestock, MovementAdjustment,
		MovementReservationHold, MovementReservationRelease, MovementReservationCommit:
		return true
	}
	return false
}

// IsReservation reports whether only the reservation manager may write t.
func (t MovementType) IsReservation() bool {
	switch t {
	case MovementReservationHold, MovementReservationRelease, MovementReservationCommit:
		return true
	}
	return false
}

// Counter returns the counter t changes.
func (t MovementType) Counter() Counter {
	if t.IsReservation() {
		return CounterReserved
	}
	return CounterStock
}

// CheckDelta enforces the sign rules of direct ledger movements: sales
// remove stock, restocks add it, adjustments go either way.
func (t MovementType) CheckDelta(delta int) error {
	if delta == 0 {
		return fmt.Errorf("quantity delta must be non-zero")
	}
	switch t {
	case MovementSale:
		if delta > 0 {
			return fmt.Errorf("sale delta must be negative, got %d", delta)
		}
	case MovementRestock:
		if delta < 0 {
			return fmt.Errorf("restock delta must be positive, got %d", delta)
		}
	case MovementAdjustment:
	default:
		return fmt.Errorf("movement type %q cannot be applied directly", t)
	}
	return nil
}

// Movement is one immutable audit record of a counter change.
type Movement struct {
	ID               string       `json:"id"`
	Sequence         int64        `json:"sequence"`
	VariantID        string       `json:"variant_id"`
	ProductID        string       `json:"product_id"`
	Type             MovementType `json:"movement_type"`
	Counter          Counter      `json:"counter"`
	QuantityDelta    int          `json:"quantity_delta"`
	PreviousQuantity int          `json:"previous_quantity"`
	NewQuantity      int          `json:"new_quantity"`
	Reason           string       `json:"reason,omitempty"`
	Actor            string       `json:"actor"`
	ReservationID    string       `json:"reservation_id,omitempty"`
	CreatedAt        time.Time    `json:"created_at"`
}

// NewMovement records a change of delta on the counter t applies to,
// starting from previous.
func NewMovement(v *Variant, t MovementType, previous, delta int, reason, actor string, at time.Time) *Movement {
	return &Movement{
		ID:               uuid.NewString(),
		VariantID:        v.ID,
		ProductID:        v.ProductID,
		Type:             t,
		Counter:          t.Counter(),
		QuantityDelta:    delta,
		PreviousQuantity: previous,
		NewQuantity:      previous + delta,
		Reason:           reason,
		Actor:            actor,
		CreatedAt:        at,
	}
}

// Validate checks internal consistency of the record.
func (m *Movement) Validate() error {
	if !m.Type.Valid() {
		return fmt.Errorf("unknown movement type %q", m.Type)
	}
	if m.Counter != m.Type.Counter() {
		return fmt.Errorf("movement type %s applies to %s counter, not %s", m.Type, m.Type.Counter(), m.Counter)
	}
	if m.QuantityDelta == 0 {
		return fmt.Errorf("movement delta must be non-zero")
	}
	if m.NewQuantity != m.PreviousQuantity+m.QuantityDelta {
		return fmt.Errorf("movement %s: %d + %d != %d", m.ID, m.PreviousQuantity, m.QuantityDelta, m.NewQuantity)
	}
	if m.NewQuantity < 0 {
		return fmt.Errorf("movement %s leaves %s counter negative", m.ID, m.Counter)
	}
	return nil
}

// MovementFilter selects movements for the log query. Zero fields match all.
type MovementFilter struct {
	VariantID string
	ProductID string
	Type      MovementType
	From      *time.Time
	To        *time.Time
}

// Matches reports whether m passes the filter. From is inclusive, To exclusive.
func (f MovementFilter) Matches(m *Movement) bool {
	switch {
	case f.VariantID != "" && m.VariantID != f.VariantID:
		return false
	case f.ProductID != "" && m.ProductID != f.ProductID:
		return false
	case f.Type != "" && m.Type != f.Type:
		return false
	case f.From != nil && m.CreatedAt.Before(*f.From):
		return false
	case f.To != nil && !m.CreatedAt.Before(*f.To):
		return false
	}
	return true
}
