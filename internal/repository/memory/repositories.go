package memory

import (
	"context"
	"sort"
	"time"

	"github.com/utafrali/stockledger/internal/domain"
	apperrors "github.com/utafrali/stockledger/pkg/errors"
	"github.com/utafrali/stockledger/pkg/pagination"
)

func pageOf[T any](items []T, page, perPage int) []T {
	p := pagination.New(page, perPage)
	start := p.Offset()
	if start >= len(items) {
		return []T{}
	}
	end := start + p.PerPage
	if end > len(items) {
		end = len(items)
	}
	return items[start:end]
}

// Variants implements repository.VariantRepository.
type Variants struct {
	s *Store
}

func (r *Variants) Create(_ context.Context, v *domain.Variant) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	if _, ok := r.s.variants[v.ID]; ok {
		return apperrors.AlreadyExists("variant", "id", v.ID)
	}
	if _, ok := r.s.skus[v.SKU]; ok {
		return apperrors.AlreadyExists("variant", "sku", v.SKU)
	}
	v.StockQuantity = 0
	v.ReservedQuantity = 0
	c := *v
	r.s.variants[v.ID] = &c
	r.s.skus[v.SKU] = v.ID
	return nil
}

func (r *Variants) GetByID(_ context.Context, id string) (*domain.Variant, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	v, ok := r.s.variants[id]
	if !ok {
		return nil, domain.VariantNotFound(id)
	}
	c := *v
	return &c, nil
}

func (r *Variants) GetBySKU(ctx context.Context, sku string) (*domain.Variant, error) {
	r.s.mu.RLock()
	id, ok := r.s.skus[sku]
	r.s.mu.RUnlock()
	if !ok {
		return nil, domain.VariantNotFound("sku " + sku)
	}
	return r.GetByID(ctx, id)
}

func (r *Variants) ListAlerts(_ context.Context, filter domain.AlertFilter, page, perPage int) ([]domain.Variant, int, error) {
	r.s.mu.RLock()
	var matched []domain.Variant
	for _, v := range r.s.variants {
		if filter.Matches(v) {
			matched = append(matched, *v)
		}
	}
	r.s.mu.RUnlock()

	sort.Slice(matched, func(i, j int) bool {
		ai, aj := matched[i].Available(), matched[j].Available()
		if ai != aj {
			return ai < aj
		}
		return matched[i].SKU < matched[j].SKU
	})
	return pageOf(matched, page, perPage), len(matched), nil
}

func (r *Variants) ApplyCatalogUpdate(_ context.Context, update domain.CatalogUpdate) (int, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	now := time.Now().UTC()
	changed := 0
	for _, v := range r.s.variants {
		if v.ProductID != update.ProductID {
			continue
		}
		if update.LowStockThreshold != nil {
			v.LowStockThreshold = *update.LowStockThreshold
		}
		if update.IsActive != nil {
			v.IsActive = *update.IsActive
		}
		v.UpdatedAt = now
		changed++
	}
	return changed, nil
}

func (r *Variants) SetActive(_ context.Context, id string, active bool) (*domain.Variant, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	v, ok := r.s.variants[id]
	if !ok {
		return nil, domain.VariantNotFound(id)
	}
	v.IsActive = active
	v.UpdatedAt = time.Now().UTC()
	c := *v
	return &c, nil
}

// Movements implements repository.MovementRepository.
type Movements struct {
	s *Store
}

func (r *Movements) List(_ context.Context, filter domain.MovementFilter, page, perPage int) ([]domain.Movement, int, error) {
	r.s.mu.RLock()
	var matched []domain.Movement
	for i := range r.s.movements {
		if filter.Matches(&r.s.movements[i]) {
			matched = append(matched, r.s.movements[i])
		}
	}
	r.s.mu.RUnlock()
	return pageOf(matched, page, perPage), len(matched), nil
}

func (r *Movements) ListByVariant(_ context.Context, variantID string) ([]domain.Movement, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	out := []domain.Movement{}
	for _, m := range r.s.movements {
		if m.VariantID == variantID {
			out = append(out, m)
		}
	}
	return out, nil
}

// Reservations implements repository.ReservationRepository.
type Reservations struct {
	s *Store
}

func (r *Reservations) GetByID(_ context.Context, id string) (*domain.Reservation, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	res, ok := r.s.reservations[id]
	if !ok {
		return nil, domain.ReservationNotFound(id)
	}
	c := *res
	return &c, nil
}

func (r *Reservations) ListBySession(_ context.Context, sessionID string) ([]domain.Reservation, error) {
	r.s.mu.RLock()
	out := []domain.Reservation{}
	for _, res := range r.s.reservations {
		if res.SessionID == sessionID {
			out = append(out, *res)
		}
	}
	r.s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (r *Reservations) ListExpired(_ context.Context, now time.Time, limit int) ([]domain.Reservation, error) {
	r.s.mu.RLock()
	out := []domain.Reservation{}
	for _, res := range r.s.reservations {
		if res.Status == domain.ReservationActive && res.IsExpiredAt(now) {
			out = append(out, *res)
		}
	}
	r.s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].ExpiresAt.Before(out[j].ExpiresAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
