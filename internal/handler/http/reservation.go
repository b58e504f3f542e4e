package http

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/utafrali/stockledger/internal/domain"
	"github.com/utafrali/stockledger/pkg/httputil"
)

// HoldReservationsRequest is the JSON request body for holding stock for a
// checkout session.
type HoldReservationsRequest struct {
	SessionID  string            `json:"session_id" validate:"required,max=128"`
	TTLSeconds int               `json:"ttl_seconds" validate:"gte=0"`
	Lines      []HoldLineRequest `json:"lines" validate:"required,min=1,max=100,dive"`
}

// HoldLineRequest is one line of a hold request.
type HoldLineRequest struct {
	VariantID string `json:"variant_id" validate:"required"`
	Quantity  int    `json:"quantity" validate:"gt=0"`
}

// HoldReservations handles POST /api/v1/stock/reservations
func (h *StockHandler) HoldReservations(w http.ResponseWriter, r *http.Request) {
	var req HoldReservationsRequest
	if !h.decode(w, r, &req) {
		return
	}

	lines := make([]domain.HoldLine, len(req.Lines))
	for i, line := range req.Lines {
		lines[i] = domain.HoldLine{VariantID: line.VariantID, Quantity: line.Quantity}
	}

	held, err := h.reservations.HoldAll(r.Context(), req.SessionID, lines, time.Duration(req.TTLSeconds)*time.Second, actorFrom(r))
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteData(w, http.StatusCreated, held)
}

// GetReservation handles GET /api/v1/stock/reservations/{reservationId}
func (h *StockHandler) GetReservation(w http.ResponseWriter, r *http.Request) {
	res, err := h.reservations.GetFor(r.Context(), chi.URLParam(r, "reservationId"), actorFrom(r))
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteData(w, http.StatusOK, res)
}

// CommitReservation handles POST /api/v1/stock/reservations/{reservationId}/commit
func (h *StockHandler) CommitReservation(w http.ResponseWriter, r *http.Request) {
	res, err := h.reservations.CommitFor(r.Context(), chi.URLParam(r, "reservationId"), actorFrom(r))
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteData(w, http.StatusOK, res)
}

// ReleaseReservation handles POST /api/v1/stock/reservations/{reservationId}/release
func (h *StockHandler) ReleaseReservation(w http.ResponseWriter, r *http.Request) {
	result, err := h.reservations.ReleaseFor(r.Context(), chi.URLParam(r, "reservationId"), actorFrom(r))
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteData(w, http.StatusOK, result)
}
