package event

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/cenkalti/backoff/v5"

	"github.com/utafrali/stockledger/internal/domain"
	apperrors "github.com/utafrali/stockledger/pkg/errors"
	pkgkafka "github.com/utafrali/stockledger/pkg/kafka"
)

// Kafka topics consumed by the stock ledger.
const (
	TopicOrderConfirmed = "ecommerce.order.confirmed"
	TopicOrderCanceled  = "ecommerce.order.canceled"
	TopicProductUpdated = "ecommerce.product.updated"
)

// ConsumedTopics lists every topic the consumer group subscribes to.
var ConsumedTopics = []string{TopicOrderConfirmed, TopicOrderCanceled, TopicProductUpdated}

// Product statuses published by the catalog.
const (
	ProductStatusDraft     = "draft"
	ProductStatusPublished = "published"
	ProductStatusArchived  = "archived"
)

// SessionService settles a checkout session's holds.
type SessionService interface {
	CommitSession(ctx context.Context, sessionID string) ([]domain.Reservation, error)
	ReleaseSession(ctx context.Context, sessionID string) ([]domain.Reservation, error)
}

// CatalogService applies catalog owned attributes.
type CatalogService interface {
	SyncCatalog(ctx context.Context, update domain.CatalogUpdate) error
}

// OrderConfirmedData is the expected payload of an order.confirmed event.
type OrderConfirmedData struct {
	OrderID    string `json:"order_id"`
	CheckoutID string `json:"checkout_id"`
}

// OrderCanceledData is the expected payload of an order.canceled event.
type OrderCanceledData struct {
	OrderID    string `json:"order_id"`
	CheckoutID string `json:"checkout_id"`
	Reason     string `json:"reason,omitempty"`
}

// ProductUpdatedData is the part of a product.updated payload the ledger uses.
type ProductUpdatedData struct {
	ID                string `json:"id"`
	Status            string `json:"status"`
	LowStockThreshold *int   `json:"low_stock_threshold,omitempty"`
}

// Consumer processes incoming Kafka events for the stock ledger.
type Consumer struct {
	sessions SessionService
	catalog  CatalogService
	logger   *slog.Logger
}

// NewConsumer creates a new event consumer.
func NewConsumer(sessions SessionService, catalog CatalogService, logger *slog.Logger) *Consumer {
	return &Consumer{
		sessions: sessions,
		catalog:  catalog,
		logger:   logger,
	}
}

// Handle dispatches an event by type. Unknown types are ignored.
func (c *Consumer) Handle(ctx context.Context, event *pkgkafka.Event) error {
	switch event.EventType {
	case TopicOrderConfirmed:
		return c.HandleOrderConfirmed(ctx, event)
	case TopicOrderCanceled:
		return c.HandleOrderCanceled(ctx, event)
	case TopicProductUpdated:
		return c.HandleProductUpdated(ctx, event)
	default:
		c.logger.DebugContext(ctx, "ignoring event",
			slog.String("event_type", event.EventType),
			slog.String("event_id", event.EventID),
		)
		return nil
	}
}

// HandleOrderConfirmed commits the holds of the order's checkout session.
func (c *Consumer) HandleOrderConfirmed(ctx context.Context, event *pkgkafka.Event) error {
	var data OrderConfirmedData
	if err := event.UnmarshalData(&data); err != nil {
		return backoff.Permanent(err)
	}
	if data.CheckoutID == "" {
		return backoff.Permanent(fmt.Errorf("order.confirmed %s: missing checkout_id", data.OrderID))
	}

	c.logger.InfoContext(ctx, "processing order.confirmed event",
		slog.String("order_id", data.OrderID),
		slog.String("checkout_id", data.CheckoutID),
	)

	committed, err := c.sessions.CommitSession(ctx, data.CheckoutID)
	if err != nil {
		return markPermanent(fmt.Errorf("commit holds for checkout %s: %w", data.CheckoutID, err))
	}

	c.logger.InfoContext(ctx, "stock committed for order",
		slog.String("order_id", data.OrderID),
		slog.String("checkout_id", data.CheckoutID),
		slog.Int("reservations", len(committed)),
	)
	return nil
}

// HandleOrderCanceled releases the holds of the order's checkout session.
func (c *Consumer) HandleOrderCanceled(ctx context.Context, event *pkgkafka.Event) error {
	var data OrderCanceledData
	if err := event.UnmarshalData(&data); err != nil {
		return backoff.Permanent(err)
	}
	if data.CheckoutID == "" {
		return backoff.Permanent(fmt.Errorf("order.canceled %s: missing checkout_id", data.OrderID))
	}

	c.logger.InfoContext(ctx, "processing order.canceled event",
		slog.String("order_id", data.OrderID),
		slog.String("checkout_id", data.CheckoutID),
	)

	released, err := c.sessions.ReleaseSession(ctx, data.CheckoutID)
	if err != nil {
		return markPermanent(fmt.Errorf("release holds for checkout %s: %w", data.CheckoutID, err))
	}

	c.logger.InfoContext(ctx, "stock released for canceled order",
		slog.String("order_id", data.OrderID),
		slog.String("checkout_id", data.CheckoutID),
		slog.Int("reservations", len(released)),
	)
	return nil
}

// HandleProductUpdated syncs the active flag and low stock threshold onto
// the product's variants.
func (c *Consumer) HandleProductUpdated(ctx context.Context, event *pkgkafka.Event) error {
	var data ProductUpdatedData
	if err := event.UnmarshalData(&data); err != nil {
		return backoff.Permanent(err)
	}

	update := domain.CatalogUpdate{ProductID: data.ID, LowStockThreshold: data.LowStockThreshold}
	if data.Status != "" {
		active := data.Status == ProductStatusPublished
		update.IsActive = &active
	}
	if update.IsActive == nil && update.LowStockThreshold == nil {
		return nil
	}

	if err := c.catalog.SyncCatalog(ctx, update); err != nil {
		return markPermanent(fmt.Errorf("sync product %s: %w", data.ID, err))
	}
	return nil
}

// markPermanent marks business failures permanent so the consumer dead-letters
// them at once; store and transport failures keep their retries.
func markPermanent(err error) error {
	switch {
	case errors.Is(err, apperrors.ErrInvalidInput),
		errors.Is(err, apperrors.ErrNotFound),
		errors.Is(err, apperrors.ErrGone),
		errors.Is(err, domain.ErrReservationAlreadyTerminal):
		return backoff.Permanent(err)
	default:
		return err
	}
}
