package memory

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/utafrali/stockledger/internal/domain"
	"github.com/utafrali/stockledger/internal/repository"
	apperrors "github.com/utafrali/stockledger/pkg/errors"
)

func seedVariant(t *testing.T, s *Store, id, sku string) *domain.Variant {
	t.Helper()
	v := &domain.Variant{ID: id, ProductID: "prod-1", VendorID: "vendor-1", SKU: sku, LowStockThreshold: 5, IsActive: true}
	require.NoError(t, s.Repositories().Variants.Create(context.Background(), v))
	return v
}

func addStock(s *Store, variantID string, qty int) error {
	return s.WithVariantLock(context.Background(), variantID, func(ctx context.Context, lv repository.LockedVariant) error {
		v := lv.Variant()
		m := domain.NewMovement(v, domain.MovementRestock, v.StockQuantity, qty, "seed", "test", time.Now())
		if err := lv.SetCounters(ctx, v.StockQuantity+qty, v.ReservedQuantity); err != nil {
			return err
		}
		return lv.AppendMovement(ctx, m)
	})
}

func restock(t *testing.T, s *Store, variantID string, qty int) {
	t.Helper()
	require.NoError(t, addStock(s, variantID, qty))
}

func TestWithVariantLock_CommitsStagedWrites(t *testing.T) {
	s := NewStore(0)
	seedVariant(t, s, "v1", "SKU-1")
	restock(t, s, "v1", 10)
	restock(t, s, "v1", 5)

	repos := s.Repositories()
	v, err := repos.Variants.GetByID(context.Background(), "v1")
	require.NoError(t, err)
	assert.Equal(t, 15, v.StockQuantity)

	ms, err := repos.Movements.ListByVariant(context.Background(), "v1")
	require.NoError(t, err)
	require.Len(t, ms, 2)
	assert.Equal(t, int64(1), ms[0].Sequence)
	assert.Equal(t, int64(2), ms[1].Sequence)
	assert.Equal(t, 10, ms[1].PreviousQuantity)
}

func TestWithVariantLock_DiscardsOnError(t *testing.T) {
	s := NewStore(0)
	seedVariant(t, s, "v1", "SKU-1")
	boom := errors.New("boom")

	err := s.WithVariantLock(context.Background(), "v1", func(ctx context.Context, lv repository.LockedVariant) error {
		v := lv.Variant()
		require.NoError(t, lv.SetCounters(ctx, 7, 0))
		require.NoError(t, lv.AppendMovement(ctx, domain.NewMovement(v, domain.MovementRestock, 0, 7, "", "test", time.Now())))
		return boom
	})
	assert.ErrorIs(t, err, boom)

	v, err := s.Repositories().Variants.GetByID(context.Background(), "v1")
	require.NoError(t, err)
	assert.Equal(t, 0, v.StockQuantity)
	ms, _ := s.Repositories().Movements.ListByVariant(context.Background(), "v1")
	assert.Empty(t, ms)
}

func TestSectionMovements_IncludesStagedAppends(t *testing.T) {
	s := NewStore(0)
	seedVariant(t, s, "v1", "SKU-1")
	seedVariant(t, s, "v2", "SKU-2")
	restock(t, s, "v1", 10)
	restock(t, s, "v2", 3)

	err := s.WithVariantLock(context.Background(), "v1", func(ctx context.Context, lv repository.LockedVariant) error {
		v := lv.Variant()
		require.NoError(t, lv.SetCounters(ctx, 8, 0))
		require.NoError(t, lv.AppendMovement(ctx, domain.NewMovement(v, domain.MovementSale, 10, -2, "", "test", time.Now())))

		ms, err := lv.Movements(ctx)
		require.NoError(t, err)
		require.Len(t, ms, 2)
		assert.Equal(t, domain.MovementRestock, ms[0].Type)
		assert.Equal(t, domain.MovementSale, ms[1].Type)
		assert.True(t, domain.Reconcile(lv.Variant(), ms).Consistent)
		return nil
	})
	require.NoError(t, err)
}

func TestWithVariantLock_UnknownVariant(t *testing.T) {
	s := NewStore(0)
	err := s.WithVariantLock(context.Background(), "missing", func(context.Context, repository.LockedVariant) error {
		t.Fatal("section must not run")
		return nil
	})
	assert.ErrorIs(t, err, domain.ErrVariantNotFound)
}

func TestSetCounters_RejectsInvariantViolation(t *testing.T) {
	s := NewStore(0)
	seedVariant(t, s, "v1", "SKU-1")
	err := s.WithVariantLock(context.Background(), "v1", func(ctx context.Context, lv repository.LockedVariant) error {
		return lv.SetCounters(ctx, 1, 2)
	})
	assert.Error(t, err)
}

func TestWithVariantLock_TimesOutWhileBusy(t *testing.T) {
	s := NewStore(20 * time.Millisecond)
	seedVariant(t, s, "v1", "SKU-1")

	held := make(chan struct{})
	done := make(chan struct{})
	go func() {
		_ = s.WithVariantLock(context.Background(), "v1", func(context.Context, repository.LockedVariant) error {
			close(held)
			<-done
			return nil
		})
	}()
	<-held

	err := s.WithVariantLock(context.Background(), "v1", func(context.Context, repository.LockedVariant) error { return nil })
	close(done)
	assert.ErrorIs(t, err, repository.ErrLockTimeout)
	assert.True(t, repository.IsContention(err))
}

func TestWithVariantLock_RespectsContext(t *testing.T) {
	s := NewStore(0)
	seedVariant(t, s, "v1", "SKU-1")

	held := make(chan struct{})
	done := make(chan struct{})
	go func() {
		_ = s.WithVariantLock(context.Background(), "v1", func(context.Context, repository.LockedVariant) error {
			close(held)
			<-done
			return nil
		})
	}()
	<-held
	defer close(done)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := s.WithVariantLock(ctx, "v1", func(context.Context, repository.LockedVariant) error { return nil })
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestWithVariantLock_OtherVariantsProceed(t *testing.T) {
	s := NewStore(0)
	seedVariant(t, s, "v1", "SKU-1")
	seedVariant(t, s, "v2", "SKU-2")

	held := make(chan struct{})
	done := make(chan struct{})
	go func() {
		_ = s.WithVariantLock(context.Background(), "v1", func(context.Context, repository.LockedVariant) error {
			close(held)
			<-done
			return nil
		})
	}()
	<-held
	defer close(done)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	restockErr := s.WithVariantLock(ctx, "v2", func(context.Context, repository.LockedVariant) error { return nil })
	assert.NoError(t, restockErr)
}

func TestWithVariantLock_SerializesUpdates(t *testing.T) {
	s := NewStore(0)
	seedVariant(t, s, "v1", "SKU-1")

	const workers = 50
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, addStock(s, "v1", 2))
		}()
	}
	wg.Wait()

	v, err := s.Repositories().Variants.GetByID(context.Background(), "v1")
	require.NoError(t, err)
	assert.Equal(t, 2*workers, v.StockQuantity)

	ms, _ := s.Repositories().Movements.ListByVariant(context.Background(), "v1")
	stock, _, breaks := domain.Replay(ms)
	assert.Equal(t, v.StockQuantity, stock)
	assert.Empty(t, breaks)
}

func TestReservationLifecycleInSection(t *testing.T) {
	s := NewStore(0)
	seedVariant(t, s, "v1", "SKU-1")
	seedVariant(t, s, "v2", "SKU-2")
	ctx := context.Background()
	now := time.Now().UTC()

	res := &domain.Reservation{ID: "r1", VariantID: "v1", SessionID: "sess", Quantity: 1, Status: domain.ReservationActive, CreatedAt: now, ExpiresAt: now.Add(time.Minute)}
	require.NoError(t, s.WithVariantLock(ctx, "v1", func(ctx context.Context, lv repository.LockedVariant) error {
		return lv.InsertReservation(ctx, res)
	}))

	// A reservation is only visible under its own variant's lock.
	err := s.WithVariantLock(ctx, "v2", func(ctx context.Context, lv repository.LockedVariant) error {
		_, err := lv.Reservation(ctx, "r1")
		return err
	})
	assert.ErrorIs(t, err, domain.ErrReservationNotFound)

	finalize := func(status domain.ReservationStatus) error {
		return s.WithVariantLock(ctx, "v1", func(ctx context.Context, lv repository.LockedVariant) error {
			cur, err := lv.Reservation(ctx, "r1")
			if err != nil {
				return err
			}
			cur.Status = status
			return lv.FinalizeReservation(ctx, cur)
		})
	}
	require.NoError(t, finalize(domain.ReservationCommitted))
	err = finalize(domain.ReservationExpired)
	assert.ErrorIs(t, err, domain.ErrReservationAlreadyTerminal)

	got, err := s.Repositories().Reservations.GetByID(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, domain.ReservationCommitted, got.Status)
}

func TestVariants_CreateRejectsDuplicates(t *testing.T) {
	s := NewStore(0)
	seedVariant(t, s, "v1", "SKU-1")
	repo := s.Repositories().Variants

	err := repo.Create(context.Background(), &domain.Variant{ID: "v1", SKU: "SKU-9"})
	assert.ErrorIs(t, err, apperrors.ErrAlreadyExists)
	err = repo.Create(context.Background(), &domain.Variant{ID: "v9", SKU: "SKU-1"})
	assert.ErrorIs(t, err, apperrors.ErrAlreadyExists)

	v, err := repo.GetBySKU(context.Background(), "SKU-1")
	require.NoError(t, err)
	assert.Equal(t, "v1", v.ID)
	_, err = repo.GetBySKU(context.Background(), "nope")
	assert.ErrorIs(t, err, domain.ErrVariantNotFound)
}

func TestVariants_ListAlertsAndCatalogUpdate(t *testing.T) {
	s := NewStore(0)
	ctx := context.Background()
	seedVariant(t, s, "v1", "SKU-1")
	seedVariant(t, s, "v2", "SKU-2")
	seedVariant(t, s, "v3", "SKU-3")
	restock(t, s, "v1", 2)
	restock(t, s, "v3", 50)
	repo := s.Repositories().Variants

	out, total, err := repo.ListAlerts(ctx, domain.AlertFilter{Status: domain.AlertLowStock}, 1, 20)
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	assert.Equal(t, "v1", out[0].ID)

	all, total, err := repo.ListAlerts(ctx, domain.AlertFilter{}, 1, 2)
	require.NoError(t, err)
	assert.Equal(t, 3, total)
	require.Len(t, all, 2)
	assert.Equal(t, "v2", all[0].ID)

	inactive := false
	n, err := repo.ApplyCatalogUpdate(ctx, domain.CatalogUpdate{ProductID: "prod-1", IsActive: &inactive})
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	_, total, err = repo.ListAlerts(ctx, domain.AlertFilter{}, 1, 20)
	require.NoError(t, err)
	assert.Zero(t, total)
}

func TestReservations_ListExpired(t *testing.T) {
	s := NewStore(0)
	seedVariant(t, s, "v1", "SKU-1")
	ctx := context.Background()
	now := time.Now().UTC()

	for i, exp := range []time.Duration{-2 * time.Minute, -time.Minute, time.Minute} {
		r := &domain.Reservation{ID: string(rune('a' + i)), VariantID: "v1", SessionID: "sess", Quantity: 1,
			Status: domain.ReservationActive, CreatedAt: now, ExpiresAt: now.Add(exp)}
		require.NoError(t, s.WithVariantLock(ctx, "v1", func(ctx context.Context, lv repository.LockedVariant) error {
			return lv.InsertReservation(ctx, r)
		}))
	}

	expired, err := s.Repositories().Reservations.ListExpired(ctx, now, 10)
	require.NoError(t, err)
	require.Len(t, expired, 2)
	assert.Equal(t, "a", expired[0].ID)

	limited, err := s.Repositories().Reservations.ListExpired(ctx, now, 1)
	require.NoError(t, err)
	assert.Len(t, limited, 1)

	session, err := s.Repositories().Reservations.ListBySession(ctx, "sess")
	require.NoError(t, err)
	assert.Len(t, session, 3)
}
