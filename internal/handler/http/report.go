package http

import (
	"net/http"
	"strconv"
	"time"

	"github.com/utafrali/stockledger/internal/domain"
	apperrors "github.com/utafrali/stockledger/pkg/errors"
	"github.com/utafrali/stockledger/pkg/httputil"
	"github.com/utafrali/stockledger/pkg/pagination"
)

// BatchRequest is the JSON request body of both batch endpoints.
type BatchRequest struct {
	Items []domain.BatchItem `json:"items"`
}

// ValidateBatch handles POST /api/v1/stock/batch/validate
func (h *StockHandler) ValidateBatch(w http.ResponseWriter, r *http.Request) {
	var req BatchRequest
	if !h.decode(w, r, &req) {
		return
	}

	report, err := h.batch.Validate(r.Context(), req.Items, actorFrom(r))
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteData(w, http.StatusOK, report)
}

// ApplyBatch handles POST /api/v1/stock/batch/apply
func (h *StockHandler) ApplyBatch(w http.ResponseWriter, r *http.Request) {
	var req BatchRequest
	if !h.decode(w, r, &req) {
		return
	}

	report, err := h.batch.Apply(r.Context(), req.Items, actorFrom(r))
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteData(w, http.StatusOK, report)
}

// ListMovements handles GET /api/v1/stock/movements
func (h *StockHandler) ListMovements(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := domain.MovementFilter{
		VariantID: q.Get("variant_id"),
		ProductID: q.Get("product_id"),
		Type:      domain.MovementType(q.Get("type")),
	}

	var err error
	if filter.From, err = parseTime(q.Get("from"), "from"); err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}
	if filter.To, err = parseTime(q.Get("to"), "to"); err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	p := pagination.FromRequest(r)
	movements, total, err := h.movements.List(r.Context(), filter, p.Page, p.PerPage)
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, pagination.NewResult(movements, total, p))
}

// ListAlerts handles GET /api/v1/stock/alerts. Vendors only see their own
// variants whatever vendor_id they pass.
func (h *StockHandler) ListAlerts(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := domain.AlertFilter{
		VendorID:  q.Get("vendor_id"),
		ProductID: q.Get("product_id"),
		Status:    domain.AlertStatus(q.Get("status")),
	}
	if v := q.Get("include_inactive"); v != "" {
		include, err := strconv.ParseBool(v)
		if err != nil {
			httputil.WriteError(w, r, apperrors.InvalidInput("include_inactive must be a boolean"), h.logger)
			return
		}
		filter.IncludeInactive = include
	}

	if actor := actorFrom(r); actor.Role == domain.RoleVendor {
		filter.VendorID = actor.VendorID
	}

	p := pagination.FromRequest(r)
	alerts, total, err := h.alerts.List(r.Context(), filter, p.Page, p.PerPage)
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, pagination.NewResult(alerts, total, p))
}

func parseTime(v, name string) (*time.Time, error) {
	if v == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339, v)
	if err != nil {
		return nil, apperrors.InvalidInput(name + " must be an RFC 3339 timestamp")
	}
	return &t, nil
}
