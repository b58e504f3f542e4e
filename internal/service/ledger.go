package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/utafrali/stockledger/internal/domain"
	"github.com/utafrali/stockledger/internal/repository"
	apperrors "github.com/utafrali/stockledger/pkg/errors"
)

// LedgerConfig tunes the ledger.
type LedgerConfig struct {
	// LockAttempts bounds how often a contended section is tried.
	LockAttempts uint
	// DefaultLowStockThreshold applies to variants registered without one.
	DefaultLowStockThreshold int
}

// DeltaRequest is one signed change to a variant's on-hand stock.
type DeltaRequest struct {
	VariantID string              `json:"variant_id" validate:"required"`
	Delta     int                 `json:"quantity_delta" validate:"ne=0"`
	Type      domain.MovementType `json:"movement_type" validate:"required,oneof=sale restock adjustment"`
	Reason    string              `json:"reason" validate:"max=500"`
}

// LevelRequest sets a variant's on-hand stock to an absolute quantity.
type LevelRequest struct {
	VariantID string
	Quantity  int
	Reason    string
}

// DeltaResult reports an applied change. Movement is nil when nothing changed.
type DeltaResult struct {
	PreviousQuantity int              `json:"previous_quantity"`
	NewQuantity      int              `json:"new_quantity"`
	Variant          *domain.Variant  `json:"variant"`
	Movement         *domain.Movement `json:"movement"`
}

// RegisterVariantRequest introduces a variant to the ledger.
type RegisterVariantRequest struct {
	ID                string `json:"id" validate:"omitempty,uuid"`
	ProductID         string `json:"product_id" validate:"required"`
	VendorID          string `json:"vendor_id" validate:"required"`
	SKU               string `json:"sku" validate:"required,max=64"`
	InitialStock      int    `json:"initial_stock" validate:"gte=0"`
	LowStockThreshold *int   `json:"low_stock_threshold" validate:"omitempty,gte=0"`
}

// Ledger is the single write path for on-hand stock.
type Ledger struct {
	variants  repository.VariantRepository
	sections  *sectionRunner
	announce  announcer
	logger    *slog.Logger
	now       func() time.Time
	threshold int
}

// NewLedger creates a ledger over store.
func NewLedger(store repository.Store, publisher Publisher, cfg LedgerConfig, logger *slog.Logger) *Ledger {
	if publisher == nil {
		publisher = NopPublisher{}
	}
	return &Ledger{
		variants:  store.Variants,
		sections:  &sectionRunner{locker: store.Locker, attempts: cfg.LockAttempts, logger: logger},
		announce:  announcer{publisher: publisher, logger: logger},
		logger:    logger,
		now:       func() time.Time { return time.Now().UTC() },
		threshold: cfg.DefaultLowStockThreshold,
	}
}

// ApplyDelta changes a variant's stock by req.Delta under the variant lock
// and records exactly one movement. It fails with ErrInsufficientStock when
// stock would drop below zero or below the reserved quantity.
func (l *Ledger) ApplyDelta(ctx context.Context, req DeltaRequest, actor domain.Actor) (*DeltaResult, error) {
	if req.VariantID == "" {
		return nil, apperrors.InvalidInput("variant_id is required")
	}
	if err := req.Type.CheckDelta(req.Delta); err != nil {
		return nil, apperrors.InvalidInput(err.Error())
	}
	return l.change(ctx, req.VariantID, req.Type, req.Reason, actor, func(*domain.Variant) int {
		return req.Delta
	})
}

// SetLevel moves a variant's stock to req.Quantity with an adjustment
// movement. The delta is computed from the stock read under the lock, so
// concurrent changes cannot skew the result. When stock already equals the
// target nothing is recorded and the result carries no movement.
func (l *Ledger) SetLevel(ctx context.Context, req LevelRequest, actor domain.Actor) (*DeltaResult, error) {
	if req.VariantID == "" {
		return nil, apperrors.InvalidInput("variant_id is required")
	}
	if req.Quantity < 0 {
		return nil, apperrors.InvalidInput("quantity must be non-negative")
	}
	return l.change(ctx, req.VariantID, domain.MovementAdjustment, req.Reason, actor, func(v *domain.Variant) int {
		return req.Quantity - v.StockQuantity
	})
}

func (l *Ledger) change(ctx context.Context, variantID string, typ domain.MovementType, reason string, actor domain.Actor, deltaFor func(*domain.Variant) int) (*DeltaResult, error) {
	var (
		result *DeltaResult
		before domain.AlertStatus
	)
	err := l.sections.run(ctx, variantID, func(ctx context.Context, lv repository.LockedVariant) error {
		v := lv.Variant()
		before = domain.AlertFor(v).Status

		delta := deltaFor(v)
		if delta == 0 {
			result = &DeltaResult{PreviousQuantity: v.StockQuantity, NewQuantity: v.StockQuantity, Variant: v}
			return nil
		}
		if err := typ.CheckDelta(delta); err != nil {
			return apperrors.InvalidInput(err.Error())
		}
		next := v.StockQuantity + delta
		if next < 0 || next < v.ReservedQuantity {
			return domain.InsufficientStock(v.ID, v.Available(), -delta)
		}

		m := domain.NewMovement(v, typ, v.StockQuantity, delta, reason, actor.String(), l.now())
		if err := lv.SetCounters(ctx, next, v.ReservedQuantity); err != nil {
			return err
		}
		if err := lv.AppendMovement(ctx, m); err != nil {
			return err
		}
		result = &DeltaResult{
			PreviousQuantity: m.PreviousQuantity,
			NewQuantity:      m.NewQuantity,
			Variant:          lv.Variant(),
			Movement:         m,
		}
		return nil
	})
	ledgerMutations.WithLabelValues(string(typ), outcome(err)).Inc()
	if err != nil {
		return nil, err
	}
	if result.Movement == nil {
		return result, nil
	}

	l.announce.stockAdjusted(ctx, result.Variant, result.Movement, before)
	l.logger.InfoContext(ctx, "stock changed",
		slog.String("variant_id", variantID),
		slog.String("movement_type", string(typ)),
		slog.Int("delta", result.Movement.QuantityDelta),
		slog.Int("previous_quantity", result.PreviousQuantity),
		slog.Int("new_quantity", result.NewQuantity),
		slog.String("actor", actor.String()),
	)
	return result, nil
}

// Adjust applies a manual change on behalf of actor after checking that the
// actor may manage the variant.
func (l *Ledger) Adjust(ctx context.Context, req DeltaRequest, actor domain.Actor) (*DeltaResult, error) {
	if req.VariantID == "" {
		return nil, apperrors.InvalidInput("variant_id is required")
	}
	v, err := l.variants.GetByID(ctx, req.VariantID)
	if err != nil {
		return nil, err
	}
	if !actor.CanManage(v) {
		return nil, domain.PermissionDenied(fmt.Sprintf("%s may not manage variant %s", actor, v.ID))
	}
	return l.ApplyDelta(ctx, req, actor)
}

// RegisterVariant inserts a variant with zero counters and books any initial
// stock as a restock movement, so replaying the log from zero always
// reproduces the stored quantity.
func (l *Ledger) RegisterVariant(ctx context.Context, req RegisterVariantRequest, actor domain.Actor) (*domain.Variant, error) {
	if req.InitialStock < 0 {
		return nil, apperrors.InvalidInput("initial_stock must be non-negative")
	}

	now := l.now()
	v := &domain.Variant{
		ID:                req.ID,
		ProductID:         req.ProductID,
		VendorID:          req.VendorID,
		SKU:               req.SKU,
		LowStockThreshold: l.threshold,
		IsActive:          true,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	if v.ID == "" {
		v.ID = uuid.NewString()
	}
	if req.LowStockThreshold != nil {
		v.LowStockThreshold = *req.LowStockThreshold
	}
	if !actor.CanManage(v) {
		return nil, domain.PermissionDenied(fmt.Sprintf("%s may not register variants for vendor %s", actor, v.VendorID))
	}

	if err := l.variants.Create(ctx, v); err != nil {
		return nil, fmt.Errorf("register variant: %w", err)
	}
	l.logger.InfoContext(ctx, "variant registered",
		slog.String("variant_id", v.ID),
		slog.String("product_id", v.ProductID),
		slog.String("sku", v.SKU),
	)

	if req.InitialStock == 0 {
		return v, nil
	}
	res, err := l.ApplyDelta(ctx, DeltaRequest{
		VariantID: v.ID,
		Delta:     req.InitialStock,
		Type:      domain.MovementRestock,
		Reason:    "initial stock",
	}, actor)
	if err != nil {
		return nil, fmt.Errorf("book initial stock: %w", err)
	}
	return res.Variant, nil
}

// GetVariant returns a variant as currently stored.
func (l *Ledger) GetVariant(ctx context.Context, variantID string) (*domain.Variant, error) {
	return l.variants.GetByID(ctx, variantID)
}

// SetActive soft-deactivates or reactivates a variant.
func (l *Ledger) SetActive(ctx context.Context, variantID string, active bool, actor domain.Actor) (*domain.Variant, error) {
	v, err := l.variants.GetByID(ctx, variantID)
	if err != nil {
		return nil, err
	}
	if !actor.CanManage(v) {
		return nil, domain.PermissionDenied(fmt.Sprintf("%s may not manage variant %s", actor, v.ID))
	}
	v, err = l.variants.SetActive(ctx, variantID, active)
	if err != nil {
		return nil, err
	}
	l.logger.InfoContext(ctx, "variant active flag changed",
		slog.String("variant_id", variantID),
		slog.Bool("is_active", active),
		slog.String("actor", actor.String()),
	)
	return v, nil
}

// SyncCatalog copies catalog owned attributes onto the product's variants.
func (l *Ledger) SyncCatalog(ctx context.Context, update domain.CatalogUpdate) error {
	if update.ProductID == "" {
		return apperrors.InvalidInput("product_id is required")
	}
	if update.LowStockThreshold != nil && *update.LowStockThreshold < 0 {
		return apperrors.InvalidInput("low_stock_threshold must be non-negative")
	}
	n, err := l.variants.ApplyCatalogUpdate(ctx, update)
	if err != nil {
		return fmt.Errorf("sync catalog: %w", err)
	}
	l.logger.InfoContext(ctx, "catalog attributes synced",
		slog.String("product_id", update.ProductID),
		slog.Int("variants", n),
	)
	return nil
}
