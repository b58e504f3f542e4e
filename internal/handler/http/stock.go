package http

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/utafrali/stockledger/internal/auth"
	"github.com/utafrali/stockledger/internal/domain"
	"github.com/utafrali/stockledger/internal/service"
	"github.com/utafrali/stockledger/pkg/httputil"
	"github.com/utafrali/stockledger/pkg/middleware"
	"github.com/utafrali/stockledger/pkg/validator"
)

// StockHandler handles HTTP requests for the stock ledger endpoints.
type StockHandler struct {
	ledger       *service.Ledger
	reservations *service.Reservations
	batch        *service.Batch
	alerts       *service.Alerts
	movements    *service.Movements
	logger       *slog.Logger
}

// NewStockHandler creates a new stock HTTP handler.
func NewStockHandler(
	ledger *service.Ledger,
	reservations *service.Reservations,
	batch *service.Batch,
	alerts *service.Alerts,
	movements *service.Movements,
	logger *slog.Logger,
) *StockHandler {
	return &StockHandler{
		ledger:       ledger,
		reservations: reservations,
		batch:        batch,
		alerts:       alerts,
		movements:    movements,
		logger:       logger,
	}
}

// --- Request DTOs ---

// SetActiveRequest is the JSON request body for toggling a variant.
type SetActiveRequest struct {
	IsActive *bool `json:"is_active" validate:"required"`
}

// AdjustStockRequest is the JSON request body for a manual adjustment.
type AdjustStockRequest struct {
	QuantityDelta int                 `json:"quantity_delta" validate:"ne=0"`
	MovementType  domain.MovementType `json:"movement_type" validate:"required,oneof=sale restock adjustment"`
	Reason        string              `json:"reason" validate:"max=500"`
}

// --- Handlers ---

// RegisterVariant handles POST /api/v1/stock/variants
func (h *StockHandler) RegisterVariant(w http.ResponseWriter, r *http.Request) {
	var req service.RegisterVariantRequest
	if !h.decode(w, r, &req) {
		return
	}

	v, err := h.ledger.RegisterVariant(r.Context(), req, actorFrom(r))
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteData(w, http.StatusCreated, v)
}

// GetVariant handles GET /api/v1/stock/variants/{variantId}
func (h *StockHandler) GetVariant(w http.ResponseWriter, r *http.Request) {
	v, err := h.ledger.GetVariant(r.Context(), chi.URLParam(r, "variantId"))
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteData(w, http.StatusOK, v)
}

// SetActive handles PATCH /api/v1/stock/variants/{variantId}/active
func (h *StockHandler) SetActive(w http.ResponseWriter, r *http.Request) {
	var req SetActiveRequest
	if !h.decode(w, r, &req) {
		return
	}

	v, err := h.ledger.SetActive(r.Context(), chi.URLParam(r, "variantId"), *req.IsActive, actorFrom(r))
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteData(w, http.StatusOK, v)
}

// AdjustStock handles POST /api/v1/stock/variants/{variantId}/adjustments
func (h *StockHandler) AdjustStock(w http.ResponseWriter, r *http.Request) {
	var req AdjustStockRequest
	if !h.decode(w, r, &req) {
		return
	}

	result, err := h.ledger.Adjust(r.Context(), service.DeltaRequest{
		VariantID: chi.URLParam(r, "variantId"),
		Delta:     req.QuantityDelta,
		Type:      req.MovementType,
		Reason:    req.Reason,
	}, actorFrom(r))
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteData(w, http.StatusOK, result)
}

// GetAlert handles GET /api/v1/stock/variants/{variantId}/alert
func (h *StockHandler) GetAlert(w http.ResponseWriter, r *http.Request) {
	alert, err := h.alerts.Get(r.Context(), chi.URLParam(r, "variantId"))
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	actor := actorFrom(r)
	if actor.Role == domain.RoleVendor && alert.VendorID != actor.VendorID {
		httputil.WriteError(w, r, domain.PermissionDenied("variant belongs to another vendor"), h.logger)
		return
	}

	httputil.WriteData(w, http.StatusOK, alert)
}

// Reconcile handles GET /api/v1/stock/variants/{variantId}/reconciliation
func (h *StockHandler) Reconcile(w http.ResponseWriter, r *http.Request) {
	rec, err := h.movements.Reconcile(r.Context(), chi.URLParam(r, "variantId"))
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteData(w, http.StatusOK, rec)
}

// decode reads and validates the body into dst, writing the error response
// itself when it fails.
func (h *StockHandler) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := httputil.DecodeJSON(w, r, dst); err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return false
	}
	if err := validator.Validate(dst); err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return false
	}
	return true
}

// actorFrom returns the caller stored by the auth middleware.
func actorFrom(r *http.Request) domain.Actor {
	claims, _ := middleware.ClaimsFromContext(r.Context())
	return auth.ActorFromClaims(claims)
}
