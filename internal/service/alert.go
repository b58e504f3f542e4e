package service

import (
	"context"

	"github.com/utafrali/stockledger/internal/domain"
	"github.com/utafrali/stockledger/internal/repository"
	apperrors "github.com/utafrali/stockledger/pkg/errors"
)

// Alerts projects stock levels on read. Nothing is stored.
type Alerts struct {
	variants repository.VariantRepository
}

// NewAlerts creates the alert projection.
func NewAlerts(variants repository.VariantRepository) *Alerts {
	return &Alerts{variants: variants}
}

// Get classifies one variant.
func (a *Alerts) Get(ctx context.Context, variantID string) (domain.Alert, error) {
	v, err := a.variants.GetByID(ctx, variantID)
	if err != nil {
		return domain.Alert{}, err
	}
	return domain.AlertFor(v), nil
}

// List classifies the variants matching filter, least available first.
func (a *Alerts) List(ctx context.Context, filter domain.AlertFilter, page, perPage int) ([]domain.Alert, int, error) {
	if filter.Status != "" && !filter.Status.Valid() {
		return nil, 0, apperrors.InvalidInput("unknown alert status " + string(filter.Status))
	}
	variants, total, err := a.variants.ListAlerts(ctx, filter, page, perPage)
	if err != nil {
		return nil, 0, err
	}
	alerts := make([]domain.Alert, len(variants))
	for i := range variants {
		alerts[i] = domain.AlertFor(&variants[i])
	}
	return alerts, total, nil
}
