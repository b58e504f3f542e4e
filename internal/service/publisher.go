package service

import (
	"context"
	"log/slog"

	"github.com/utafrali/stockledger/internal/domain"
)

// Publisher announces committed stock changes. Calls happen after the
// exclusive section has committed.
type Publisher interface {
	StockAdjusted(ctx context.Context, v *domain.Variant, m *domain.Movement) error
	ReservationChanged(ctx context.Context, r *domain.Reservation) error
	LowStock(ctx context.Context, alert domain.Alert) error
}

// NopPublisher drops every event. Used when Kafka is disabled.
type NopPublisher struct{}

func (NopPublisher) StockAdjusted(context.Context, *domain.Variant, *domain.Movement) error {
	return nil
}
func (NopPublisher) ReservationChanged(context.Context, *domain.Reservation) error { return nil }
func (NopPublisher) LowStock(context.Context, domain.Alert) error                  { return nil }

// announcer wraps a Publisher so failures are logged rather than returned.
type announcer struct {
	publisher Publisher
	logger    *slog.Logger
}

func (a announcer) stockAdjusted(ctx context.Context, v *domain.Variant, m *domain.Movement, before domain.AlertStatus) {
	if err := a.publisher.StockAdjusted(ctx, v, m); err != nil {
		a.logger.ErrorContext(ctx, "failed to publish stock.adjusted event",
			slog.String("variant_id", v.ID),
			slog.String("movement_id", m.ID),
			slog.String("error", err.Error()),
		)
	}
	a.levelChanged(ctx, v, before)
}

var alertSeverity = map[domain.AlertStatus]int{
	domain.AlertInStock:    0,
	domain.AlertLowStock:   1,
	domain.AlertOutOfStock: 2,
}

// levelChanged publishes low_stock when v crossed into a worse alert class.
func (a announcer) levelChanged(ctx context.Context, v *domain.Variant, before domain.AlertStatus) {
	alert := domain.AlertFor(v)
	if alertSeverity[alert.Status] <= alertSeverity[before] {
		return
	}
	if err := a.publisher.LowStock(ctx, alert); err != nil {
		a.logger.ErrorContext(ctx, "failed to publish stock.low_stock event",
			slog.String("variant_id", v.ID),
			slog.String("status", string(alert.Status)),
			slog.String("error", err.Error()),
		)
	}
}

func (a announcer) reservationChanged(ctx context.Context, r *domain.Reservation) {
	if err := a.publisher.ReservationChanged(ctx, r); err != nil {
		a.logger.ErrorContext(ctx, "failed to publish reservation event",
			slog.String("reservation_id", r.ID),
			slog.String("status", string(r.Status)),
			slog.String("error", err.Error()),
		)
	}
}
