package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/utafrali/stockledger/internal/domain"
	"github.com/utafrali/stockledger/pkg/database"
	apperrors "github.com/utafrali/stockledger/pkg/errors"
	"github.com/utafrali/stockledger/pkg/pagination"
)

const variantColumns = `id, product_id, vendor_id, sku, stock_quantity, reserved_quantity,
		low_stock_threshold, is_active, created_at, updated_at`

func scanVariant(row scanner) (*domain.Variant, error) {
	var v domain.Variant
	if err := row.Scan(
		&v.ID,
		&v.ProductID,
		&v.VendorID,
		&v.SKU,
		&v.StockQuantity,
		&v.ReservedQuantity,
		&v.LowStockThreshold,
		&v.IsActive,
		&v.CreatedAt,
		&v.UpdatedAt,
	); err != nil {
		return nil, err
	}
	return &v, nil
}

// VariantRepository implements repository.VariantRepository.
type VariantRepository struct {
	pool database.DBTX
}

// NewVariantRepository creates a PostgreSQL-backed variant repository.
func NewVariantRepository(pool database.DBTX) *VariantRepository {
	return &VariantRepository{pool: pool}
}

// Create inserts v with zero counters.
func (r *VariantRepository) Create(ctx context.Context, v *domain.Variant) (err error) {
	query := `
		INSERT INTO variants (id, product_id, vendor_id, sku, stock_quantity, reserved_quantity,
			low_stock_threshold, is_active, created_at, updated_at)
		VALUES ($1, $2, $3, $4, 0, 0, $5, $6, $7, $8)`

	ctx, end := database.TraceQuery(ctx, "CreateVariant", query)
	defer func() { end(err) }()

	_, err = r.pool.Exec(ctx, query,
		v.ID, v.ProductID, v.VendorID, v.SKU,
		v.LowStockThreshold, v.IsActive, v.CreatedAt, v.UpdatedAt,
	)
	if err != nil {
		if database.IsUniqueViolation(err) {
			return apperrors.AlreadyExists("variant", "sku", v.SKU)
		}
		return fmt.Errorf("create variant: %w", err)
	}
	v.StockQuantity = 0
	v.ReservedQuantity = 0
	return nil
}

// GetByID retrieves a variant by id.
func (r *VariantRepository) GetByID(ctx context.Context, id string) (*domain.Variant, error) {
	query := `SELECT ` + variantColumns + ` FROM variants WHERE id = $1`
	return r.getOne(ctx, "GetVariantByID", query, id, id)
}

// GetBySKU retrieves a variant by SKU.
func (r *VariantRepository) GetBySKU(ctx context.Context, sku string) (*domain.Variant, error) {
	query := `SELECT ` + variantColumns + ` FROM variants WHERE sku = $1`
	return r.getOne(ctx, "GetVariantBySKU", query, sku, "sku "+sku)
}

func (r *VariantRepository) getOne(ctx context.Context, op, query, arg, ref string) (v *domain.Variant, err error) {
	ctx, end := database.TraceQuery(ctx, op, query)
	defer func() { end(err) }()

	v, err = scanVariant(r.pool.QueryRow(ctx, query, arg))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.VariantNotFound(ref)
		}
		return nil, fmt.Errorf("get variant: %w", err)
	}
	return v, nil
}

// alertCondition mirrors domain.Classify in SQL.
var alertCondition = map[domain.AlertStatus]string{
	domain.AlertOutOfStock: "(stock_quantity - reserved_quantity) <= 0",
	domain.AlertLowStock:   "(stock_quantity - reserved_quantity) > 0 AND (stock_quantity - reserved_quantity) <= low_stock_threshold",
	domain.AlertInStock:    "(stock_quantity - reserved_quantity) > low_stock_threshold",
}

// ListAlerts returns variants matching filter, least available first.
func (r *VariantRepository) ListAlerts(ctx context.Context, filter domain.AlertFilter, page, perPage int) (_ []domain.Variant, _ int, err error) {
	p := pagination.New(page, perPage)

	var w where
	if !filter.IncludeInactive {
		w.raw("is_active")
	}
	if filter.VendorID != "" {
		w.add("vendor_id = $%d", filter.VendorID)
	}
	if filter.ProductID != "" {
		w.add("product_id = $%d", filter.ProductID)
	}
	if cond, ok := alertCondition[filter.Status]; ok {
		w.raw(cond)
	}

	countQuery := `SELECT COUNT(*) FROM variants ` + w.String()

	ctx, end := database.TraceQuery(ctx, "ListAlerts", countQuery)
	defer func() { end(err) }()

	var total int
	if err := r.pool.QueryRow(ctx, countQuery, w.args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count alerts: %w", err)
	}

	query := fmt.Sprintf(`
		SELECT %s
		FROM variants
		%s
		ORDER BY (stock_quantity - reserved_quantity) ASC, sku ASC
		LIMIT $%d OFFSET $%d`, variantColumns, w.String(), w.next(), w.next()+1)
	args := append(append([]any{}, w.args...), p.PerPage, p.Offset())

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list alerts: %w", err)
	}
	defer rows.Close()

	variants := []domain.Variant{}
	for rows.Next() {
		v, err := scanVariant(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scan alert row: %w", err)
		}
		variants = append(variants, *v)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("iterate alert rows: %w", err)
	}
	return variants, total, nil
}

// ApplyCatalogUpdate syncs the threshold and active flag of every variant of a product.
func (r *VariantRepository) ApplyCatalogUpdate(ctx context.Context, update domain.CatalogUpdate) (_ int, err error) {
	query := `
		UPDATE variants
		SET low_stock_threshold = COALESCE($2, low_stock_threshold),
			is_active = COALESCE($3, is_active),
			updated_at = $4
		WHERE product_id = $1`

	ctx, end := database.TraceQuery(ctx, "ApplyCatalogUpdate", query)
	defer func() { end(err) }()

	ct, err := r.pool.Exec(ctx, query, update.ProductID, update.LowStockThreshold, update.IsActive, time.Now().UTC())
	if err != nil {
		return 0, fmt.Errorf("apply catalog update: %w", err)
	}
	return int(ct.RowsAffected()), nil
}

// SetActive toggles the soft-deactivation flag.
func (r *VariantRepository) SetActive(ctx context.Context, id string, active bool) (v *domain.Variant, err error) {
	query := `
		UPDATE variants SET is_active = $2, updated_at = $3
		WHERE id = $1
		RETURNING ` + variantColumns

	ctx, end := database.TraceQuery(ctx, "SetVariantActive", query)
	defer func() { end(err) }()

	v, err = scanVariant(r.pool.QueryRow(ctx, query, id, active, time.Now().UTC()))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.VariantNotFound(id)
		}
		return nil, fmt.Errorf("set variant active: %w", err)
	}
	return v, nil
}
