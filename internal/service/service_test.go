package service

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/utafrali/stockledger/internal/domain"
	"github.com/utafrali/stockledger/internal/repository"
	"github.com/utafrali/stockledger/internal/repository/memory"
	"github.com/utafrali/stockledger/pkg/logger"
)

// --- Mock Publisher ---

type mockPublisher struct {
	mock.Mock
}

func (m *mockPublisher) StockAdjusted(ctx context.Context, v *domain.Variant, mv *domain.Movement) error {
	args := m.Called(ctx, v, mv)
	return args.Error(0)
}

func (m *mockPublisher) ReservationChanged(ctx context.Context, r *domain.Reservation) error {
	args := m.Called(ctx, r)
	return args.Error(0)
}

func (m *mockPublisher) LowStock(ctx context.Context, alert domain.Alert) error {
	args := m.Called(ctx, alert)
	return args.Error(0)
}

// quiet accepts every event.
func (m *mockPublisher) quiet() *mockPublisher {
	m.On("StockAdjusted", mock.Anything, mock.Anything, mock.Anything).Return(nil).Maybe()
	m.On("ReservationChanged", mock.Anything, mock.Anything).Return(nil).Maybe()
	m.On("LowStock", mock.Anything, mock.Anything).Return(nil).Maybe()
	return m
}

// --- Test clock ---

type testClock struct {
	mu sync.Mutex
	t  time.Time
}

func newTestClock() *testClock {
	return &testClock{t: time.Date(2026, 5, 4, 12, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

// --- Test Helpers ---

var (
	admin    = domain.Actor{ID: "admin-1", Role: domain.RoleAdmin}
	vendor   = domain.Actor{ID: "user-7", Role: domain.RoleVendor, VendorID: "vendor-1"}
	checkout = domain.Actor{ID: "checkout", Role: domain.RoleService}
	alice    = domain.Actor{ID: "alice", Role: domain.RoleCustomer}
	mallory  = domain.Actor{ID: "mallory", Role: domain.RoleCustomer}
)

func newTestLogger() *slog.Logger {
	return logger.NewWithWriter("stock-ledger", "error", io.Discard)
}

type testEnv struct {
	store        *memory.Store
	repos        repository.Store
	publisher    *mockPublisher
	clock        *testClock
	ledger       *Ledger
	reservations *Reservations
	batch        *Batch
	alerts       *Alerts
	movements    *Movements
}

func newTestEnvWith(publisher *mockPublisher) *testEnv {
	store := memory.NewStore(0)
	repos := store.Repositories()
	log := newTestLogger()
	clock := newTestClock()

	ledger := NewLedger(repos, publisher, LedgerConfig{LockAttempts: 3, DefaultLowStockThreshold: 5}, log)
	ledger.now = clock.Now
	reservations := NewReservations(repos, publisher, ReservationConfig{
		LockAttempts: 3,
		DefaultTTL:   15 * time.Minute,
		MaxTTL:       time.Hour,
		SweepBatch:   2,
	}, log)
	reservations.now = clock.Now

	return &testEnv{
		store:        store,
		repos:        repos,
		publisher:    publisher,
		clock:        clock,
		ledger:       ledger,
		reservations: reservations,
		batch:        NewBatch(repos.Variants, ledger, 10, log),
		alerts:       NewAlerts(repos.Variants),
		movements:    NewMovements(repos, 3, log),
	}
}

func newTestEnv() *testEnv {
	return newTestEnvWith(new(mockPublisher).quiet())
}

// register adds a variant owned by vendor-1 with initial stock.
func (e *testEnv) register(t *testing.T, id, sku string, stock int) *domain.Variant {
	t.Helper()
	v, err := e.ledger.RegisterVariant(context.Background(), RegisterVariantRequest{
		ID:           id,
		ProductID:    "prod-1",
		VendorID:     "vendor-1",
		SKU:          sku,
		InitialStock: stock,
	}, admin)
	require.NoError(t, err)
	return v
}

func (e *testEnv) variant(t *testing.T, id string) *domain.Variant {
	t.Helper()
	v, err := e.repos.Variants.GetByID(context.Background(), id)
	require.NoError(t, err)
	return v
}

func (e *testEnv) log(t *testing.T, variantID string) []domain.Movement {
	t.Helper()
	ms, err := e.repos.Movements.ListByVariant(context.Background(), variantID)
	require.NoError(t, err)
	return ms
}

func (e *testEnv) requireConsistent(t *testing.T, variantID string) {
	t.Helper()
	rec, err := e.movements.Reconcile(context.Background(), variantID)
	require.NoError(t, err)
	require.True(t, rec.Consistent, "ledger drift: %+v", rec)
}
