package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/utafrali/stockledger/internal/domain"
	"github.com/utafrali/stockledger/internal/repository"
	apperrors "github.com/utafrali/stockledger/pkg/errors"
)

// Batch validates and applies bulk absolute stock levels.
type Batch struct {
	variants repository.VariantRepository
	ledger   *Ledger
	maxItems int
	logger   *slog.Logger
}

// NewBatch creates a batch pipeline that writes through ledger.
func NewBatch(variants repository.VariantRepository, ledger *Ledger, maxItems int, logger *slog.Logger) *Batch {
	return &Batch{variants: variants, ledger: ledger, maxItems: maxItems, logger: logger}
}

// Validate classifies every item without changing anything.
func (b *Batch) Validate(ctx context.Context, items []domain.BatchItem, actor domain.Actor) (*domain.BatchReport, error) {
	results, err := b.classify(ctx, items, actor)
	if err != nil {
		return nil, err
	}
	return &domain.BatchReport{DryRun: true, Items: results, Summary: domain.Summarize(results)}, nil
}

// Apply re-validates the items and sets each valid one to its desired level
// under the variant lock. Items succeed or fail independently; the reported
// delta is the one actually applied.
func (b *Batch) Apply(ctx context.Context, items []domain.BatchItem, actor domain.Actor) (*domain.BatchReport, error) {
	results, err := b.classify(ctx, items, actor)
	if err != nil {
		return nil, err
	}

	for i := range results {
		res := &results[i]
		if res.Status == domain.ItemInvalid {
			res.Outcome = domain.OutcomeRejected
			continue
		}

		reason := items[res.Index].Note
		if reason == "" {
			reason = "batch update"
		}
		applied, err := b.ledger.SetLevel(ctx, LevelRequest{
			VariantID: res.VariantID,
			Quantity:  res.DesiredQuantity,
			Reason:    reason,
		}, actor)
		if err != nil {
			res.Outcome = domain.OutcomeFailed
			res.Error = errorMessage(err)
			b.logger.WarnContext(ctx, "batch item failed",
				slog.Int("index", res.Index),
				slog.String("variant_id", res.VariantID),
				slog.String("error", err.Error()),
			)
			continue
		}
		res.CurrentQuantity = applied.PreviousQuantity
		res.Delta = applied.NewQuantity - applied.PreviousQuantity
		res.PreviousQuantity = &applied.PreviousQuantity
		res.NewQuantity = &applied.NewQuantity
		if applied.Movement == nil {
			res.Outcome = domain.OutcomeUnchanged
			continue
		}
		res.Outcome = domain.OutcomeApplied
	}

	report := &domain.BatchReport{Items: results, Summary: domain.Summarize(results)}
	b.logger.InfoContext(ctx, "batch applied",
		slog.Int("total", report.Summary.Total),
		slog.Int("successful", report.Summary.Successful),
		slog.Int("failed", report.Summary.Failed),
		slog.String("actor", actor.String()),
	)
	return report, nil
}

func (b *Batch) classify(ctx context.Context, items []domain.BatchItem, actor domain.Actor) ([]domain.BatchItemResult, error) {
	if len(items) == 0 {
		return nil, apperrors.InvalidInput("batch must contain at least one item")
	}
	if b.maxItems > 0 && len(items) > b.maxItems {
		return nil, apperrors.InvalidInput(fmt.Sprintf("batch has %d items, at most %d are allowed", len(items), b.maxItems))
	}

	seen := make(map[string]int, len(items))
	results := make([]domain.BatchItemResult, len(items))
	for i, item := range items {
		res := &results[i]
		res.Index = i
		res.VariantID = item.VariantID
		res.SKU = item.SKU
		res.DesiredQuantity = item.DesiredQuantity
		res.Status = domain.ItemValid

		if item.VariantID == "" && item.SKU == "" {
			invalid(res, "variant_id or sku is required")
			continue
		}

		v, err := b.resolve(ctx, item)
		if err != nil {
			if errors.Is(err, domain.ErrVariantNotFound) {
				invalid(res, fmt.Sprintf("variant %s not found", item.Target()))
				continue
			}
			return nil, fmt.Errorf("resolve batch item %d: %w", i, err)
		}
		res.VariantID = v.ID
		res.SKU = v.SKU
		res.ProductID = v.ProductID
		res.CurrentQuantity = v.StockQuantity
		res.Delta = item.DesiredQuantity - v.StockQuantity

		if first, dup := seen[v.ID]; dup {
			invalid(res, fmt.Sprintf("duplicate of item %d", first))
			continue
		}
		seen[v.ID] = i

		if !actor.CanManage(v) {
			invalid(res, "no permission over this variant")
			continue
		}
		if item.DesiredQuantity < 0 {
			invalid(res, "desired quantity must be non-negative")
			continue
		}
		if item.DesiredQuantity < v.ReservedQuantity {
			invalid(res, fmt.Sprintf("desired quantity is below the %d units currently reserved", v.ReservedQuantity))
			continue
		}

		if res.Delta == 0 {
			warn(res, "quantity unchanged")
		}
		if item.DesiredQuantity == 0 && res.Delta != 0 {
			warn(res, "variant will be out of stock")
		}
		if !v.IsActive {
			warn(res, "variant is inactive")
		}
	}
	return results, nil
}

func (b *Batch) resolve(ctx context.Context, item domain.BatchItem) (*domain.Variant, error) {
	if item.VariantID != "" {
		return b.variants.GetByID(ctx, item.VariantID)
	}
	return b.variants.GetBySKU(ctx, item.SKU)
}

func invalid(res *domain.BatchItemResult, msg string) {
	res.Status = domain.ItemInvalid
	res.Messages = append(res.Messages, msg)
}

func warn(res *domain.BatchItemResult, msg string) {
	if res.Status == domain.ItemValid {
		res.Status = domain.ItemWarning
	}
	res.Messages = append(res.Messages, msg)
}

// errorMessage prefers the client facing message of an AppError.
func errorMessage(err error) string {
	var appErr *apperrors.AppError
	if errors.As(err, &appErr) {
		return appErr.Message
	}
	return err.Error()
}
