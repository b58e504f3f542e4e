package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/utafrali/stockledger/internal/domain"
	"github.com/utafrali/stockledger/internal/repository"
)

// Store keeps variants, movements and reservations in process memory. Each
// variant has a one slot semaphore standing in for the row lock, so sections
// on the same variant queue up while other variants proceed.
type Store struct {
	mu           sync.RWMutex
	variants     map[string]*domain.Variant
	skus         map[string]string
	movements    []domain.Movement
	seq          int64
	reservations map[string]*domain.Reservation
	locks        map[string]chan struct{}

	lockTimeout time.Duration
}

// NewStore creates an empty store. A positive lockTimeout bounds how long a
// section waits for a busy variant before failing with ErrLockTimeout.
func NewStore(lockTimeout time.Duration) *Store {
	return &Store{
		variants:     make(map[string]*domain.Variant),
		skus:         make(map[string]string),
		reservations: make(map[string]*domain.Reservation),
		locks:        make(map[string]chan struct{}),
		lockTimeout:  lockTimeout,
	}
}

// Repositories exposes the store through the repository interfaces.
func (s *Store) Repositories() repository.Store {
	return repository.Store{
		Variants:     &Variants{s: s},
		Movements:    &Movements{s: s},
		Reservations: &Reservations{s: s},
		Locker:       s,
	}
}

func (s *Store) lockFor(variantID string) chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	ch, ok := s.locks[variantID]
	if !ok {
		ch = make(chan struct{}, 1)
		s.locks[variantID] = ch
	}
	return ch
}

func (s *Store) acquire(ctx context.Context, ch chan struct{}) error {
	select {
	case ch <- struct{}{}:
		return nil
	default:
	}

	// A nil channel never fires, so a zero timeout waits on ctx alone.
	var timeout <-chan time.Time
	if s.lockTimeout > 0 {
		t := time.NewTimer(s.lockTimeout)
		defer t.Stop()
		timeout = t.C
	}
	select {
	case ch <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-timeout:
		return repository.ErrLockTimeout
	}
}

// WithVariantLock runs fn with exclusive access to the variant. Staged writes
// are applied together when fn succeeds.
func (s *Store) WithVariantLock(ctx context.Context, variantID string, fn func(ctx context.Context, lv repository.LockedVariant) error) error {
	s.mu.RLock()
	_, ok := s.variants[variantID]
	s.mu.RUnlock()
	if !ok {
		return domain.VariantNotFound(variantID)
	}

	ch := s.lockFor(variantID)
	if err := s.acquire(ctx, ch); err != nil {
		return fmt.Errorf("lock variant %s: %w", variantID, err)
	}
	defer func() { <-ch }()

	s.mu.RLock()
	sec := &section{
		store:     s,
		variant:   *s.variants[variantID],
		inserted:  make(map[string]*domain.Reservation),
		finalized: make(map[string]*domain.Reservation),
	}
	s.mu.RUnlock()

	if err := fn(ctx, sec); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("commit variant section: %w", err)
	}
	s.commit(sec)
	return nil
}

func (s *Store) commit(sec *section) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if sec.dirty {
		stored := s.variants[sec.variant.ID]
		stored.StockQuantity = sec.variant.StockQuantity
		stored.ReservedQuantity = sec.variant.ReservedQuantity
		stored.UpdatedAt = sec.variant.UpdatedAt
	}
	for id, r := range sec.inserted {
		s.reservations[id] = r
	}
	for id, r := range sec.finalized {
		s.reservations[id] = r
	}
	for _, m := range sec.movements {
		s.seq++
		m.Sequence = s.seq
		s.movements = append(s.movements, *m)
	}
}

// section is the staged unit of work of one WithVariantLock call.
type section struct {
	store     *Store
	variant   domain.Variant
	dirty     bool
	movements []*domain.Movement
	inserted  map[string]*domain.Reservation
	finalized map[string]*domain.Reservation
}

func (sec *section) Variant() *domain.Variant {
	v := sec.variant
	return &v
}

func (sec *section) SetCounters(_ context.Context, stock, reserved int) error {
	next := sec.variant
	next.StockQuantity = stock
	next.ReservedQuantity = reserved
	if err := next.CheckInvariant(); err != nil {
		return err
	}
	next.UpdatedAt = time.Now().UTC()
	sec.variant = next
	sec.dirty = true
	return nil
}

func (sec *section) AppendMovement(_ context.Context, m *domain.Movement) error {
	if m.VariantID != sec.variant.ID {
		return fmt.Errorf("movement for variant %s appended under lock of %s", m.VariantID, sec.variant.ID)
	}
	if err := m.Validate(); err != nil {
		return fmt.Errorf("append movement: %w", err)
	}
	sec.movements = append(sec.movements, m)
	return nil
}

func (sec *section) Movements(_ context.Context) ([]domain.Movement, error) {
	sec.store.mu.RLock()
	out := []domain.Movement{}
	for _, m := range sec.store.movements {
		if m.VariantID == sec.variant.ID {
			out = append(out, m)
		}
	}
	sec.store.mu.RUnlock()
	for _, m := range sec.movements {
		out = append(out, *m)
	}
	return out, nil
}

// current returns the latest view of a reservation of this variant: staged
// changes first, then the stored row.
func (sec *section) current(id string) (*domain.Reservation, bool) {
	if r, ok := sec.finalized[id]; ok {
		return r, true
	}
	if r, ok := sec.inserted[id]; ok {
		return r, true
	}
	sec.store.mu.RLock()
	defer sec.store.mu.RUnlock()
	r, ok := sec.store.reservations[id]
	if !ok || r.VariantID != sec.variant.ID {
		return nil, false
	}
	return r, true
}

func (sec *section) Reservation(_ context.Context, id string) (*domain.Reservation, error) {
	r, ok := sec.current(id)
	if !ok {
		return nil, domain.ReservationNotFound(id)
	}
	c := *r
	return &c, nil
}

func (sec *section) InsertReservation(_ context.Context, r *domain.Reservation) error {
	if r.VariantID != sec.variant.ID {
		return fmt.Errorf("reservation for variant %s inserted under lock of %s", r.VariantID, sec.variant.ID)
	}
	if _, exists := sec.current(r.ID); exists {
		return fmt.Errorf("reservation %s already exists", r.ID)
	}
	c := *r
	sec.inserted[r.ID] = &c
	return nil
}

func (sec *section) FinalizeReservation(_ context.Context, r *domain.Reservation) error {
	if !r.Status.IsTerminal() {
		return fmt.Errorf("reservation %s finalized with non-terminal status %s", r.ID, r.Status)
	}
	cur, ok := sec.current(r.ID)
	if !ok {
		return domain.ReservationNotFound(r.ID)
	}
	if cur.Status != domain.ReservationActive {
		return domain.ReservationAlreadyTerminal(r.ID, cur.Status)
	}
	c := *r
	sec.finalized[r.ID] = &c
	return nil
}
