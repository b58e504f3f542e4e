package event

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/utafrali/stockledger/internal/domain"
	pkgkafka "github.com/utafrali/stockledger/pkg/kafka"
	"github.com/utafrali/stockledger/pkg/logger"
)

// Kafka topic constants for stock domain events.
const (
	TopicStockAdjusted        = "ecommerce.stock.adjusted"
	TopicReservationHeld      = "ecommerce.stock.reservation_held"
	TopicReservationCommitted = "ecommerce.stock.reservation_committed"
	TopicReservationReleased  = "ecommerce.stock.reservation_released"
	TopicLowStock             = "ecommerce.stock.low_stock"
)

// Aggregate type constants.
const (
	AggregateTypeVariant     = "variant"
	AggregateTypeReservation = "reservation"
)

// SourceStockLedger identifies events originating from this service.
const SourceStockLedger = "stock-ledger"

// StockAdjustedData is the payload for a stock.adjusted event.
type StockAdjustedData struct {
	MovementID       string `json:"movement_id"`
	Sequence         int64  `json:"sequence"`
	VariantID        string `json:"variant_id"`
	ProductID        string `json:"product_id"`
	SKU              string `json:"sku"`
	MovementType     string `json:"movement_type"`
	QuantityDelta    int    `json:"quantity_delta"`
	PreviousQuantity int    `json:"previous_quantity"`
	NewQuantity      int    `json:"new_quantity"`
	Reserved         int    `json:"reserved"`
	Available        int    `json:"available"`
	Reason           string `json:"reason,omitempty"`
	Actor            string `json:"actor"`
}

// ReservationData is the payload of the reservation_* events.
type ReservationData struct {
	ReservationID string     `json:"reservation_id"`
	SessionID     string     `json:"session_id"`
	VariantID     string     `json:"variant_id"`
	ProductID     string     `json:"product_id"`
	Quantity      int        `json:"quantity"`
	Status        string     `json:"status"`
	ExpiresAt     time.Time  `json:"expires_at"`
	FinalizedAt   *time.Time `json:"finalized_at,omitempty"`
}

// LowStockData is the payload for a stock.low_stock event.
type LowStockData struct {
	VariantID         string `json:"variant_id"`
	ProductID         string `json:"product_id"`
	VendorID          string `json:"vendor_id"`
	SKU               string `json:"sku"`
	Available         int    `json:"available"`
	LowStockThreshold int    `json:"low_stock_threshold"`
	Status            string `json:"status"`
}

// EventPublisher is the part of pkg/kafka.Producer the producer needs.
type EventPublisher interface {
	Publish(ctx context.Context, topic string, event *pkgkafka.Event) error
}

// Producer publishes stock domain events to Kafka. It implements
// service.Publisher.
type Producer struct {
	kafka  EventPublisher
	logger *slog.Logger
}

// NewProducer creates a new event producer for the stock ledger.
func NewProducer(kafka EventPublisher, logger *slog.Logger) *Producer {
	return &Producer{
		kafka:  kafka,
		logger: logger,
	}
}

func (p *Producer) publish(ctx context.Context, topic, aggregateID, aggregateType string, data any) error {
	event, err := pkgkafka.NewEvent(topic, aggregateID, aggregateType, SourceStockLedger, data)
	if err != nil {
		return fmt.Errorf("create %s event: %w", topic, err)
	}
	if id := logger.CorrelationIDFromContext(ctx); id != "" {
		event.WithCorrelationID(id)
	}
	if err := p.kafka.Publish(ctx, topic, event); err != nil {
		return fmt.Errorf("publish %s event: %w", topic, err)
	}
	return nil
}

// StockAdjusted publishes a stock.adjusted event keyed by variant, so a
// variant's events stay in lock order within a partition.
func (p *Producer) StockAdjusted(ctx context.Context, v *domain.Variant, m *domain.Movement) error {
	data := StockAdjustedData{
		MovementID:       m.ID,
		Sequence:         m.Sequence,
		VariantID:        v.ID,
		ProductID:        v.ProductID,
		SKU:              v.SKU,
		MovementType:     string(m.Type),
		QuantityDelta:    m.QuantityDelta,
		PreviousQuantity: m.PreviousQuantity,
		NewQuantity:      m.NewQuantity,
		Reserved:         v.ReservedQuantity,
		Available:        v.Available(),
		Reason:           m.Reason,
		Actor:            m.Actor,
	}
	if err := p.publish(ctx, TopicStockAdjusted, v.ID, AggregateTypeVariant, data); err != nil {
		return err
	}

	p.logger.DebugContext(ctx, "published stock.adjusted event",
		slog.String("variant_id", v.ID),
		slog.String("movement_id", m.ID),
	)
	return nil
}

// ReservationChanged publishes the event matching r's status.
func (p *Producer) ReservationChanged(ctx context.Context, r *domain.Reservation) error {
	topic, err := reservationTopic(r.Status)
	if err != nil {
		return err
	}
	data := ReservationData{
		ReservationID: r.ID,
		SessionID:     r.SessionID,
		VariantID:     r.VariantID,
		ProductID:     r.ProductID,
		Quantity:      r.Quantity,
		Status:        string(r.Status),
		ExpiresAt:     r.ExpiresAt,
		FinalizedAt:   r.FinalizedAt,
	}
	// Keyed by variant like stock.adjusted.
	if err := p.publish(ctx, topic, r.VariantID, AggregateTypeReservation, data); err != nil {
		return err
	}

	p.logger.DebugContext(ctx, "published reservation event",
		slog.String("topic", topic),
		slog.String("reservation_id", r.ID),
		slog.String("session_id", r.SessionID),
	)
	return nil
}

func reservationTopic(status domain.ReservationStatus) (string, error) {
	switch status {
	case domain.ReservationActive:
		return TopicReservationHeld, nil
	case domain.ReservationCommitted:
		return TopicReservationCommitted, nil
	case domain.ReservationReleased, domain.ReservationExpired:
		return TopicReservationReleased, nil
	default:
		return "", fmt.Errorf("no topic for reservation status %q", status)
	}
}

// LowStock publishes a stock.low_stock event.
func (p *Producer) LowStock(ctx context.Context, alert domain.Alert) error {
	data := LowStockData{
		VariantID:         alert.VariantID,
		ProductID:         alert.ProductID,
		VendorID:          alert.VendorID,
		SKU:               alert.SKU,
		Available:         alert.AvailableQuantity,
		LowStockThreshold: alert.Threshold,
		Status:            string(alert.Status),
	}
	if err := p.publish(ctx, TopicLowStock, alert.VariantID, AggregateTypeVariant, data); err != nil {
		return err
	}

	p.logger.DebugContext(ctx, "published stock.low_stock event",
		slog.String("variant_id", alert.VariantID),
		slog.Int("available", alert.AvailableQuantity),
		slog.String("status", string(alert.Status)),
	)
	return nil
}
