package domain

import (
	"fmt"
	"net/http"

	apperrors "github.com/utafrali/stockledger/pkg/errors"
)

// Failure kinds of the stock engine. Each wraps a generic sentinel from
// pkg/errors so HTTP mapping keeps working; match them with errors.Is.
var (
	ErrVariantNotFound            = fmt.Errorf("variant %w", apperrors.ErrNotFound)
	ErrReservationNotFound        = fmt.Errorf("reservation %w", apperrors.ErrNotFound)
	ErrInsufficientStock          = fmt.Errorf("insufficient stock: %w", apperrors.ErrConflict)
	ErrReservationExpired         = fmt.Errorf("reservation expired: %w", apperrors.ErrGone)
	ErrReservationAlreadyTerminal = fmt.Errorf("reservation already finalized: %w", apperrors.ErrConflict)
	ErrPermissionDenied           = fmt.Errorf("permission denied: %w", apperrors.ErrForbidden)
	ErrVariantInactive            = fmt.Errorf("variant inactive: %w", apperrors.ErrUnprocessable)
	ErrStoreContention            = fmt.Errorf("stock store contention: %w", apperrors.ErrServiceUnavail)
)

// VariantNotFound reports an unknown variant id or SKU.
func VariantNotFound(ref string) error {
	return apperrors.New("VARIANT_NOT_FOUND", fmt.Sprintf("variant %s not found", ref), http.StatusNotFound, ErrVariantNotFound)
}

// InsufficientStock reports that a change would drive stock or availability below zero.
func InsufficientStock(variantID string, available, requested int) error {
	return apperrors.New("OUT_OF_STOCK",
		fmt.Sprintf("variant %s is out of stock: %d available, %d requested", variantID, available, requested),
		http.StatusConflict, ErrInsufficientStock)
}

// ReservationNotFound reports an unknown reservation id.
func ReservationNotFound(id string) error {
	return apperrors.New("RESERVATION_NOT_FOUND", fmt.Sprintf("reservation %s not found", id), http.StatusNotFound, ErrReservationNotFound)
}

// ReservationExpiredError reports a commit against a hold past its expiry.
func ReservationExpiredError(id string) error {
	return apperrors.New("RESERVATION_EXPIRED",
		fmt.Sprintf("reservation %s has expired, please retry checkout", id),
		http.StatusGone, ErrReservationExpired)
}

// ReservationAlreadyTerminal reports a second terminal transition.
func ReservationAlreadyTerminal(id string, status ReservationStatus) error {
	return apperrors.New("RESERVATION_FINALIZED",
		fmt.Sprintf("reservation %s is already %s, please retry checkout", id, status),
		http.StatusConflict, ErrReservationAlreadyTerminal)
}

// PermissionDenied reports an actor acting outside its scope.
func PermissionDenied(message string) error {
	return apperrors.New("PERMISSION_DENIED", message, http.StatusForbidden, ErrPermissionDenied)
}

// VariantInactive reports a hold against a deactivated variant.
func VariantInactive(id string) error {
	return apperrors.New("VARIANT_INACTIVE", fmt.Sprintf("variant %s is not available for sale", id), http.StatusUnprocessableEntity, ErrVariantInactive)
}

// StoreContention reports that lock retries were exhausted.
func StoreContention(cause error) error {
	return apperrors.New("STOCK_BUSY", "stock is busy, please retry", http.StatusServiceUnavailable,
		fmt.Errorf("%w: %v", ErrStoreContention, cause))
}
