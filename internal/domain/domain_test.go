package domain

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/utafrali/stockledger/pkg/errors"
)

// ============================================================================
// Variant
// ============================================================================

func TestVariant_Available(t *testing.T) {
	v := &Variant{StockQuantity: 10, ReservedQuantity: 3}
	assert.Equal(t, 7, v.Available())
}

func TestVariant_CheckInvariant(t *testing.T) {
	assert.NoError(t, (&Variant{StockQuantity: 5, ReservedQuantity: 5}).CheckInvariant())
	assert.NoError(t, (&Variant{}).CheckInvariant())
	assert.Error(t, (&Variant{StockQuantity: 2, ReservedQuantity: 3}).CheckInvariant())
	assert.Error(t, (&Variant{StockQuantity: 2, ReservedQuantity: -1}).CheckInvariant())
}

func TestVariant_MarshalIncludesAvailable(t *testing.T) {
	raw, err := json.Marshal(Variant{ID: "v-1", StockQuantity: 10, ReservedQuantity: 4})
	require.NoError(t, err)

	var out map[string]any
	require.NoError(t, json.Unmarshal(raw, &out))
	assert.Equal(t, float64(6), out["available_quantity"])
	assert.Equal(t, "v-1", out["id"])
}

// ============================================================================
// Movement
// ============================================================================

func TestMovementType_Counter(t *testing.T) {
	assert.Equal(t, CounterStock, MovementSale.Counter())
	assert.Equal(t, CounterStock, MovementRestock.Counter())
	assert.Equal(t, CounterStock, MovementAdjustment.Counter())
	assert.Equal(t, CounterReserved, MovementReservationHold.Counter())
	assert.Equal(t, CounterReserved, MovementReservationRelease.Counter())
	assert.Equal(t, CounterReserved, MovementReservationCommit.Counter())
	assert.False(t, MovementType("theft").Valid())
}

func TestMovementType_CheckDelta(t *testing.T) {
	tests := []struct {
		typ     MovementType
		delta   int
		wantErr bool
	}{
		{MovementSale, -2, false},
		{MovementSale, 2, true},
		{MovementRestock, 5, false},
		{MovementRestock, -5, true},
		{MovementAdjustment, -1, false},
		{MovementAdjustment, 1, false},
		{MovementAdjustment, 0, true},
		{MovementReservationHold, 1, true},
		{MovementType("gift"), 1, true},
	}
	for _, tt := range tests {
		err := tt.typ.CheckDelta(tt.delta)
		assert.Equal(t, tt.wantErr, err != nil, "%s %d", tt.typ, tt.delta)
	}
}

func TestNewMovement_Validate(t *testing.T) {
	v := &Variant{ID: "v-1", ProductID: "p-1"}
	now := time.Now()

	m := NewMovement(v, MovementReservationHold, 2, 3, "checkout", "service:checkout", now)
	require.NoError(t, m.Validate())
	assert.Equal(t, 5, m.NewQuantity)
	assert.Equal(t, CounterReserved, m.Counter)
	assert.Equal(t, "p-1", m.ProductID)

	m.NewQuantity = 6
	assert.Error(t, m.Validate())

	neg := NewMovement(v, MovementSale, 1, -2, "", "x", now)
	assert.Error(t, neg.Validate())
}

func TestMovementFilter_Matches(t *testing.T) {
	at := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	m := &Movement{VariantID: "v-1", ProductID: "p-1", Type: MovementSale, CreatedAt: at}

	from, to := at.Add(-time.Hour), at.Add(time.Hour)
	assert.True(t, MovementFilter{}.Matches(m))
	assert.True(t, MovementFilter{VariantID: "v-1", ProductID: "p-1", Type: MovementSale, From: &from, To: &to}.Matches(m))
	assert.True(t, MovementFilter{From: &at}.Matches(m))
	assert.False(t, MovementFilter{To: &at}.Matches(m))
	assert.False(t, MovementFilter{VariantID: "v-2"}.Matches(m))
	assert.False(t, MovementFilter{Type: MovementRestock}.Matches(m))
}

// ============================================================================
// Replay and reconciliation
// ============================================================================

func TestReplay_ReproducesCounters(t *testing.T) {
	v := &Variant{ID: "v-1", ProductID: "p-1"}
	now := time.Now()
	ms := []Movement{
		*NewMovement(v, MovementRestock, 0, 10, "initial", "admin:a", now),
		*NewMovement(v, MovementReservationHold, 0, 3, "", "service:c", now),
		*NewMovement(v, MovementSale, 10, -3, "", "service:c", now),
		*NewMovement(v, MovementReservationCommit, 3, -3, "", "service:c", now),
		*NewMovement(v, MovementAdjustment, 7, -1, "damaged", "admin:a", now),
	}

	stock, reserved, breaks := Replay(ms)
	assert.Equal(t, 6, stock)
	assert.Equal(t, 0, reserved)
	assert.Empty(t, breaks)

	rec := Reconcile(&Variant{ID: "v-1", StockQuantity: 6}, ms)
	assert.True(t, rec.Consistent)
	assert.Equal(t, 5, rec.MovementCount)
}

func TestReconcile_DetectsDrift(t *testing.T) {
	v := &Variant{ID: "v-1"}
	ms := []Movement{
		*NewMovement(v, MovementRestock, 0, 10, "", "a", time.Now()),
		*NewMovement(v, MovementSale, 9, -1, "", "a", time.Now()),
	}
	ms[1].Sequence = 2

	rec := Reconcile(&Variant{ID: "v-1", StockQuantity: 8}, ms)
	assert.False(t, rec.Consistent)
	assert.Equal(t, 9, rec.ReplayedStock)
	require.Len(t, rec.Breaks, 1)
	assert.Equal(t, ChainBreak{Sequence: 2, Counter: CounterStock, Expected: 10, Recorded: 9}, rec.Breaks[0])
}

// ============================================================================
// Reservation
// ============================================================================

func TestReservation_Finalize(t *testing.T) {
	now := time.Now()
	r := &Reservation{ID: "r-1", Status: ReservationActive, ExpiresAt: now.Add(time.Minute)}

	require.NoError(t, r.Finalize(ReservationCommitted, now))
	assert.Equal(t, ReservationCommitted, r.Status)
	require.NotNil(t, r.FinalizedAt)

	err := r.Finalize(ReservationExpired, now)
	assert.ErrorIs(t, err, ErrReservationAlreadyTerminal)
	assert.Equal(t, ReservationCommitted, r.Status)
}

func TestReservation_IsExpiredAt(t *testing.T) {
	exp := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	r := &Reservation{ExpiresAt: exp}
	assert.False(t, r.IsExpiredAt(exp.Add(-time.Second)))
	assert.False(t, r.IsExpiredAt(exp))
	assert.True(t, r.IsExpiredAt(exp.Add(time.Nanosecond)))
}

func TestReservationStatus_IsTerminal(t *testing.T) {
	assert.False(t, ReservationActive.IsTerminal())
	assert.True(t, ReservationCommitted.IsTerminal())
	assert.True(t, ReservationReleased.IsTerminal())
	assert.True(t, ReservationExpired.IsTerminal())
}

// ============================================================================
// Actor
// ============================================================================

func TestActor_CanManage(t *testing.T) {
	v := &Variant{VendorID: "ven-1"}
	assert.True(t, Actor{Role: RoleAdmin}.CanManage(v))
	assert.True(t, SystemActor.CanManage(v))
	assert.True(t, Actor{Role: RoleVendor, VendorID: "ven-1"}.CanManage(v))
	assert.False(t, Actor{Role: RoleVendor, VendorID: "ven-2"}.CanManage(v))
	assert.False(t, Actor{Role: RoleVendor}.CanManage(&Variant{}))
	assert.False(t, Actor{Role: RoleCustomer}.CanManage(v))
	assert.Equal(t, "vendor:u-1", Actor{ID: "u-1", Role: RoleVendor}.String())
}

func TestActor_CanSettle(t *testing.T) {
	r := &Reservation{Holder: "customer:alice"}
	assert.True(t, Actor{ID: "checkout", Role: RoleService}.CanSettle(r))
	assert.True(t, Actor{ID: "a-1", Role: RoleAdmin}.CanSettle(r))
	assert.True(t, SystemActor.CanSettle(r))
	assert.True(t, Actor{ID: "alice", Role: RoleCustomer}.CanSettle(r))
	assert.False(t, Actor{ID: "mallory", Role: RoleCustomer}.CanSettle(r))
	assert.False(t, Actor{Role: RoleCustomer}.CanSettle(&Reservation{}))
	assert.False(t, Actor{ID: "u-1", Role: RoleVendor, VendorID: "ven-1"}.CanSettle(r))
}

// ============================================================================
// Alerts
// ============================================================================

func TestClassify(t *testing.T) {
	assert.Equal(t, AlertLowStock, Classify(2, 5))
	assert.Equal(t, AlertOutOfStock, Classify(0, 5))
	assert.Equal(t, AlertLowStock, Classify(5, 5))
	assert.Equal(t, AlertInStock, Classify(6, 5))
	assert.Equal(t, AlertOutOfStock, Classify(0, 0))
	assert.Equal(t, AlertInStock, Classify(1, 0))
}

func TestAlertFor(t *testing.T) {
	a := AlertFor(&Variant{ID: "v", StockQuantity: 10, ReservedQuantity: 8, LowStockThreshold: 5, IsActive: true})
	assert.Equal(t, 2, a.AvailableQuantity)
	assert.Equal(t, AlertLowStock, a.Status)
}

func TestAlertFilter_Matches(t *testing.T) {
	v := &Variant{VendorID: "ven-1", ProductID: "p-1", StockQuantity: 0, IsActive: true}
	assert.True(t, AlertFilter{VendorID: "ven-1", Status: AlertOutOfStock}.Matches(v))
	assert.False(t, AlertFilter{Status: AlertLowStock}.Matches(v))
	assert.False(t, AlertFilter{VendorID: "ven-2"}.Matches(v))

	v.IsActive = false
	assert.False(t, AlertFilter{}.Matches(v))
	assert.True(t, AlertFilter{IncludeInactive: true}.Matches(v))
}

// ============================================================================
// Batch
// ============================================================================

func TestSummarize(t *testing.T) {
	items := []BatchItemResult{
		{Status: ItemValid, Outcome: OutcomeApplied},
		{Status: ItemInvalid, Outcome: OutcomeRejected},
		{Status: ItemWarning, Outcome: OutcomeUnchanged},
		{Status: ItemValid, Outcome: OutcomeFailed},
	}
	assert.Equal(t, BatchSummary{Total: 4, Valid: 3, Warnings: 1, Invalid: 1, Successful: 2, Failed: 2}, Summarize(items))

	dry := []BatchItemResult{{Status: ItemValid}, {Status: ItemInvalid}}
	assert.Equal(t, BatchSummary{Total: 2, Valid: 1, Invalid: 1}, Summarize(dry))
}

// ============================================================================
// Errors
// ============================================================================

func TestErrorTaxonomy(t *testing.T) {
	tests := []struct {
		err      error
		domain   error
		generic  error
		httpCode int
	}{
		{VariantNotFound("v-1"), ErrVariantNotFound, apperrors.ErrNotFound, 404},
		{InsufficientStock("v-1", 0, 1), ErrInsufficientStock, apperrors.ErrConflict, 409},
		{ReservationExpiredError("r-1"), ErrReservationExpired, apperrors.ErrGone, 410},
		{ReservationAlreadyTerminal("r-1", ReservationReleased), ErrReservationAlreadyTerminal, apperrors.ErrConflict, 409},
		{PermissionDenied("nope"), ErrPermissionDenied, apperrors.ErrForbidden, 403},
		{VariantInactive("v-1"), ErrVariantInactive, apperrors.ErrUnprocessable, 422},
		{StoreContention(errors.New("lock timeout")), ErrStoreContention, apperrors.ErrServiceUnavail, 503},
	}
	for _, tt := range tests {
		assert.ErrorIs(t, tt.err, tt.domain)
		assert.ErrorIs(t, tt.err, tt.generic)
		assert.Equal(t, tt.httpCode, apperrors.HTTPStatus(tt.err))
	}
	assert.NotErrorIs(t, InsufficientStock("v", 0, 1), ErrReservationAlreadyTerminal)
}
