package event

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/cenkalti/backoff/v5"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/utafrali/stockledger/internal/domain"
	pkgkafka "github.com/utafrali/stockledger/pkg/kafka"
	"github.com/utafrali/stockledger/pkg/logger"
)

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// --- Mock EventPublisher ---

type mockEventPublisher struct {
	mock.Mock
}

func (m *mockEventPublisher) Publish(ctx context.Context, topic string, event *pkgkafka.Event) error {
	args := m.Called(ctx, topic, event)
	return args.Error(0)
}

// --- Mock services ---

type mockSessions struct {
	mock.Mock
}

func (m *mockSessions) CommitSession(ctx context.Context, sessionID string) ([]domain.Reservation, error) {
	args := m.Called(ctx, sessionID)
	return args.Get(0).([]domain.Reservation), args.Error(1)
}

func (m *mockSessions) ReleaseSession(ctx context.Context, sessionID string) ([]domain.Reservation, error) {
	args := m.Called(ctx, sessionID)
	return args.Get(0).([]domain.Reservation), args.Error(1)
}

type mockCatalog struct {
	mock.Mock
}

func (m *mockCatalog) SyncCatalog(ctx context.Context, update domain.CatalogUpdate) error {
	args := m.Called(ctx, update)
	return args.Error(0)
}

func newEvent(t *testing.T, eventType string, data any) *pkgkafka.Event {
	t.Helper()
	e, err := pkgkafka.NewEvent(eventType, "agg-1", "order", "order-service", data)
	require.NoError(t, err)
	return e
}

// ============================================================================
// Producer
// ============================================================================

func TestProducer_StockAdjusted(t *testing.T) {
	pub := new(mockEventPublisher)
	p := NewProducer(pub, newTestLogger())

	var sent *pkgkafka.Event
	pub.On("Publish", mock.Anything, TopicStockAdjusted, mock.Anything).
		Run(func(args mock.Arguments) { sent = args.Get(2).(*pkgkafka.Event) }).
		Return(nil)

	v := &domain.Variant{ID: "var-1", ProductID: "prod-1", SKU: "SKU-1", StockQuantity: 7, ReservedQuantity: 2}
	m := &domain.Movement{ID: "mv-1", Sequence: 42, Type: domain.MovementSale, QuantityDelta: -3, PreviousQuantity: 10, NewQuantity: 7, Actor: "admin:a"}

	ctx := logger.WithCorrelationID(context.Background(), "corr-1")
	require.NoError(t, p.StockAdjusted(ctx, v, m))

	require.NotNil(t, sent)
	assert.Equal(t, TopicStockAdjusted, sent.EventType)
	assert.Equal(t, "var-1", sent.AggregateID)
	assert.Equal(t, AggregateTypeVariant, sent.AggregateType)
	assert.Equal(t, SourceStockLedger, sent.Source)
	assert.Equal(t, "corr-1", sent.CorrelationID)

	var data StockAdjustedData
	require.NoError(t, sent.UnmarshalData(&data))
	assert.Equal(t, StockAdjustedData{
		MovementID: "mv-1", Sequence: 42, VariantID: "var-1", ProductID: "prod-1", SKU: "SKU-1",
		MovementType: "sale", QuantityDelta: -3, PreviousQuantity: 10, NewQuantity: 7,
		Reserved: 2, Available: 5, Actor: "admin:a",
	}, data)
	pub.AssertExpectations(t)
}

func TestProducer_ReservationTopics(t *testing.T) {
	tests := []struct {
		status domain.ReservationStatus
		topic  string
	}{
		{domain.ReservationActive, TopicReservationHeld},
		{domain.ReservationCommitted, TopicReservationCommitted},
		{domain.ReservationReleased, TopicReservationReleased},
		{domain.ReservationExpired, TopicReservationReleased},
	}
	for _, tt := range tests {
		t.Run(string(tt.status), func(t *testing.T) {
			pub := new(mockEventPublisher)
			pub.On("Publish", mock.Anything, tt.topic, mock.MatchedBy(func(e *pkgkafka.Event) bool {
				var data ReservationData
				return e.UnmarshalData(&data) == nil && data.Status == string(tt.status) && data.SessionID == "sess-1"
			})).Return(nil)

			p := NewProducer(pub, newTestLogger())
			err := p.ReservationChanged(context.Background(), &domain.Reservation{
				ID: "res-1", VariantID: "var-1", SessionID: "sess-1", Quantity: 2, Status: tt.status, ExpiresAt: time.Now(),
			})
			require.NoError(t, err)
			pub.AssertExpectations(t)
		})
	}

	p := NewProducer(new(mockEventPublisher), newTestLogger())
	assert.Error(t, p.ReservationChanged(context.Background(), &domain.Reservation{Status: "paused"}))
}

func TestProducer_LowStockAndFailure(t *testing.T) {
	pub := new(mockEventPublisher)
	pub.On("Publish", mock.Anything, TopicLowStock, mock.Anything).Return(errors.New("broker down"))
	p := NewProducer(pub, newTestLogger())

	err := p.LowStock(context.Background(), domain.Alert{VariantID: "var-1", AvailableQuantity: 2, Threshold: 5, Status: domain.AlertLowStock})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "publish ecommerce.stock.low_stock event")
}

// ============================================================================
// Consumer
// ============================================================================

func TestConsumer_OrderConfirmedCommitsSession(t *testing.T) {
	sessions := new(mockSessions)
	c := NewConsumer(sessions, new(mockCatalog), newTestLogger())
	sessions.On("CommitSession", mock.Anything, "chk-1").Return([]domain.Reservation{{ID: "r-1"}}, nil)

	err := c.Handle(context.Background(), newEvent(t, TopicOrderConfirmed, OrderConfirmedData{OrderID: "o-1", CheckoutID: "chk-1"}))
	require.NoError(t, err)
	sessions.AssertExpectations(t)
}

func TestConsumer_OrderCanceledReleasesSession(t *testing.T) {
	sessions := new(mockSessions)
	c := NewConsumer(sessions, new(mockCatalog), newTestLogger())
	sessions.On("ReleaseSession", mock.Anything, "chk-1").Return([]domain.Reservation{}, nil)

	err := c.Handle(context.Background(), newEvent(t, TopicOrderCanceled, OrderCanceledData{OrderID: "o-1", CheckoutID: "chk-1"}))
	require.NoError(t, err)
	sessions.AssertExpectations(t)
}

func TestConsumer_ErrorClassification(t *testing.T) {
	sessions := new(mockSessions)
	c := NewConsumer(sessions, new(mockCatalog), newTestLogger())
	sessions.On("CommitSession", mock.Anything, "expired").Return([]domain.Reservation{}, domain.ReservationExpiredError("r-1"))
	sessions.On("CommitSession", mock.Anything, "busy").Return([]domain.Reservation{}, domain.StoreContention(errors.New("lock timeout")))

	var permanent *backoff.PermanentError

	err := c.Handle(context.Background(), newEvent(t, TopicOrderConfirmed, OrderConfirmedData{CheckoutID: "expired"}))
	require.Error(t, err)
	assert.ErrorAs(t, err, &permanent)

	err = c.Handle(context.Background(), newEvent(t, TopicOrderConfirmed, OrderConfirmedData{CheckoutID: "busy"}))
	require.Error(t, err)
	assert.False(t, errors.As(err, &permanent))
	assert.ErrorIs(t, err, domain.ErrStoreContention)

	err = c.Handle(context.Background(), newEvent(t, TopicOrderConfirmed, OrderConfirmedData{OrderID: "o-1"}))
	assert.ErrorAs(t, err, &permanent)

	bad := newEvent(t, TopicOrderCanceled, nil)
	bad.Data = []byte(`"not an object"`)
	assert.ErrorAs(t, c.Handle(context.Background(), bad), &permanent)
}

func TestConsumer_ProductUpdated(t *testing.T) {
	catalog := new(mockCatalog)
	c := NewConsumer(new(mockSessions), catalog, newTestLogger())

	threshold := 3
	catalog.On("SyncCatalog", mock.Anything, mock.MatchedBy(func(u domain.CatalogUpdate) bool {
		return u.ProductID == "prod-1" && u.IsActive != nil && !*u.IsActive &&
			u.LowStockThreshold != nil && *u.LowStockThreshold == 3
	})).Return(nil).Once()
	catalog.On("SyncCatalog", mock.Anything, mock.MatchedBy(func(u domain.CatalogUpdate) bool {
		return u.ProductID == "prod-2" && u.IsActive != nil && *u.IsActive && u.LowStockThreshold == nil
	})).Return(nil).Once()

	ctx := context.Background()
	require.NoError(t, c.Handle(ctx, newEvent(t, TopicProductUpdated, ProductUpdatedData{ID: "prod-1", Status: ProductStatusArchived, LowStockThreshold: &threshold})))
	require.NoError(t, c.Handle(ctx, newEvent(t, TopicProductUpdated, ProductUpdatedData{ID: "prod-2", Status: ProductStatusPublished})))
	// Nothing the ledger owns changed.
	require.NoError(t, c.Handle(ctx, newEvent(t, TopicProductUpdated, ProductUpdatedData{ID: "prod-3"})))

	catalog.AssertExpectations(t)
	catalog.AssertNumberOfCalls(t, "SyncCatalog", 2)
}

func TestConsumer_IgnoresUnknownEvents(t *testing.T) {
	c := NewConsumer(new(mockSessions), new(mockCatalog), newTestLogger())
	assert.NoError(t, c.Handle(context.Background(), newEvent(t, "ecommerce.order.created", map[string]string{"id": "o"})))
}

func TestConsumer_RedisDeduplication(t *testing.T) {
	mr := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	sessions := new(mockSessions)
	sessions.On("ReleaseSession", mock.Anything, "chk-1").Return([]domain.Reservation{}, nil).Once()
	c := NewConsumer(sessions, new(mockCatalog), newTestLogger())

	store := pkgkafka.NewRedisIdempotencyStore(client, "stock-ledger:events", time.Hour)
	handler := pkgkafka.IdempotentHandler(store, c.Handle, newTestLogger())

	e := newEvent(t, TopicOrderCanceled, OrderCanceledData{OrderID: "o-1", CheckoutID: "chk-1"})
	require.NoError(t, handler(context.Background(), e))
	require.NoError(t, handler(context.Background(), e))

	sessions.AssertNumberOfCalls(t, "ReleaseSession", 1)
	assert.True(t, mr.Exists("stock-ledger:events:"+e.EventID))
}
