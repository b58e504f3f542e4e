package http

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/utafrali/stockledger/internal/domain"
	"github.com/utafrali/stockledger/pkg/health"
	"github.com/utafrali/stockledger/pkg/middleware"
)

const serviceName = "stock-ledger"

// NewRouter creates a chi router with all stock ledger routes registered.
func NewRouter(
	stockHandler *StockHandler,
	healthHandler *health.Handler,
	validateToken middleware.TokenValidator,
	logger *slog.Logger,
) http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(middleware.RequestLogging(logger))
	r.Use(middleware.Tracing(serviceName))
	r.Use(middleware.Recovery(logger))
	r.Use(middleware.PrometheusMetrics(serviceName))

	// Health check endpoints
	r.Get("/health/live", healthHandler.LivenessHandler())
	r.Get("/health/ready", healthHandler.ReadinessHandler())
	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
		promhttp.Handler().ServeHTTP(w, r)
	})

	r.Route("/api/v1/stock", func(r chi.Router) {
		r.Use(middleware.Auth(validateToken))
		r.Use(middleware.RequestLogger(logger))

		stockRoutes(r, stockHandler)
	})

	return r
}

// stockRoutes mounts the API below /api/v1/stock. Fine grained permission
// checks (vendor ownership) happen in the services.
func stockRoutes(r chi.Router, h *StockHandler) {
	managers := middleware.RequireRole(domain.RoleAdmin, domain.RoleVendor)
	checkout := middleware.RequireRole(domain.RoleAdmin, domain.RoleService, domain.RoleCustomer)

	// Variants
	r.With(middleware.RequireRole(domain.RoleAdmin)).Post("/variants", h.RegisterVariant)
	r.Get("/variants/{variantId}", h.GetVariant)
	r.With(managers).Patch("/variants/{variantId}/active", h.SetActive)
	r.With(managers).Post("/variants/{variantId}/adjustments", h.AdjustStock)
	r.With(managers).Get("/variants/{variantId}/alert", h.GetAlert)
	r.With(middleware.RequireRole(domain.RoleAdmin)).Get("/variants/{variantId}/reconciliation", h.Reconcile)

	// Reservations
	r.Group(func(r chi.Router) {
		r.Use(checkout)
		r.Post("/reservations", h.HoldReservations)
		r.Get("/reservations/{reservationId}", h.GetReservation)
		r.Post("/reservations/{reservationId}/commit", h.CommitReservation)
		r.Post("/reservations/{reservationId}/release", h.ReleaseReservation)
	})

	// Batch import
	r.With(managers).Post("/batch/validate", h.ValidateBatch)
	r.With(managers).Post("/batch/apply", h.ApplyBatch)

	// Queries
	r.With(middleware.RequireRole(domain.RoleAdmin)).Get("/movements", h.ListMovements)
	r.With(managers).Get("/alerts", h.ListAlerts)
}
