package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/utafrali/stockledger/internal/domain"
	"github.com/utafrali/stockledger/internal/repository"
	apperrors "github.com/utafrali/stockledger/pkg/errors"
)

// ReservationConfig tunes the reservation manager.
type ReservationConfig struct {
	LockAttempts uint
	DefaultTTL   time.Duration
	MaxTTL       time.Duration
	// SweepBatch caps how many expired holds one sweep round loads.
	SweepBatch int
}

// HoldRequest asks for a hold on one variant.
type HoldRequest struct {
	VariantID string
	Quantity  int
	SessionID string
	// Holder is the actor the hold is recorded for.
	Holder string
	// TTL <= 0 means the configured default.
	TTL time.Duration
}

// ReleaseResult reports a release. Changed is false when the reservation was
// already terminal and nothing happened.
type ReleaseResult struct {
	Reservation *domain.Reservation `json:"reservation"`
	Changed     bool                `json:"changed"`
}

// SweepResult summarizes one expiry sweep.
type SweepResult struct {
	Expired int `json:"expired"`
	Skipped int `json:"skipped"`
	Failed  int `json:"failed"`
}

// Reservations implements hold, commit, release and expiry on top of the
// same exclusive sections the ledger uses.
type Reservations struct {
	reservations repository.ReservationRepository
	sections     *sectionRunner
	announce     announcer
	logger       *slog.Logger
	now          func() time.Time
	cfg          ReservationConfig
}

// NewReservations creates a reservation manager over store.
func NewReservations(store repository.Store, publisher Publisher, cfg ReservationConfig, logger *slog.Logger) *Reservations {
	if publisher == nil {
		publisher = NopPublisher{}
	}
	if cfg.SweepBatch <= 0 {
		cfg.SweepBatch = 500
	}
	return &Reservations{
		reservations: store.Reservations,
		sections:     &sectionRunner{locker: store.Locker, attempts: cfg.LockAttempts, logger: logger},
		announce:     announcer{publisher: publisher, logger: logger},
		logger:       logger,
		now:          func() time.Time { return time.Now().UTC() },
		cfg:          cfg,
	}
}

func (s *Reservations) ttl(requested time.Duration) (time.Duration, error) {
	if requested <= 0 {
		return s.cfg.DefaultTTL, nil
	}
	if s.cfg.MaxTTL > 0 && requested > s.cfg.MaxTTL {
		return 0, apperrors.InvalidInput(fmt.Sprintf("ttl %s exceeds maximum %s", requested, s.cfg.MaxTTL))
	}
	return requested, nil
}

// Hold claims quantity units of a variant for a session. Availability is
// checked in the same section that raises the reserved counter.
func (s *Reservations) Hold(ctx context.Context, req HoldRequest) (*domain.Reservation, error) {
	if req.VariantID == "" {
		return nil, apperrors.InvalidInput("variant_id is required")
	}
	if req.SessionID == "" {
		return nil, apperrors.InvalidInput("session_id is required")
	}
	if req.Quantity <= 0 {
		return nil, apperrors.InvalidInput("quantity must be positive")
	}
	ttl, err := s.ttl(req.TTL)
	if err != nil {
		return nil, err
	}

	var (
		res    *domain.Reservation
		after  *domain.Variant
		before domain.AlertStatus
	)
	err = s.sections.run(ctx, req.VariantID, func(ctx context.Context, lv repository.LockedVariant) error {
		v := lv.Variant()
		if !v.IsActive {
			return domain.VariantInactive(v.ID)
		}
		if v.Available() < req.Quantity {
			return domain.InsufficientStock(v.ID, v.Available(), req.Quantity)
		}
		before = domain.AlertFor(v).Status

		now := s.now()
		r := &domain.Reservation{
			ID:        uuid.NewString(),
			VariantID: v.ID,
			ProductID: v.ProductID,
			SessionID: req.SessionID,
			Holder:    req.Holder,
			Quantity:  req.Quantity,
			Status:    domain.ReservationActive,
			CreatedAt: now,
			ExpiresAt: now.Add(ttl),
		}
		m := domain.NewMovement(v, domain.MovementReservationHold, v.ReservedQuantity, req.Quantity,
			"hold for session "+req.SessionID, "session:"+req.SessionID, now)
		m.ReservationID = r.ID

		if err := lv.InsertReservation(ctx, r); err != nil {
			return err
		}
		if err := lv.SetCounters(ctx, v.StockQuantity, v.ReservedQuantity+req.Quantity); err != nil {
			return err
		}
		if err := lv.AppendMovement(ctx, m); err != nil {
			return err
		}
		res, after = r, lv.Variant()
		return nil
	})
	ledgerMutations.WithLabelValues(string(domain.MovementReservationHold), outcome(err)).Inc()
	if err != nil {
		return nil, err
	}
	reservationTransitions.WithLabelValues(string(domain.ReservationActive)).Inc()

	s.announce.reservationChanged(ctx, res)
	s.announce.levelChanged(ctx, after, before)
	s.logger.InfoContext(ctx, "stock held",
		slog.String("reservation_id", res.ID),
		slog.String("variant_id", res.VariantID),
		slog.String("session_id", res.SessionID),
		slog.Int("quantity", res.Quantity),
		slog.Time("expires_at", res.ExpiresAt),
	)
	return res, nil
}

// HoldAll holds every line in order for one session on behalf of holder.
// When a line fails the holds already made are released and the error is
// returned. Only one variant lock is held at any time.
func (s *Reservations) HoldAll(ctx context.Context, sessionID string, lines []domain.HoldLine, ttl time.Duration, holder domain.Actor) ([]domain.Reservation, error) {
	if len(lines) == 0 {
		return nil, apperrors.InvalidInput("at least one line is required")
	}

	held := make([]domain.Reservation, 0, len(lines))
	for i, line := range lines {
		r, err := s.Hold(ctx, HoldRequest{
			VariantID: line.VariantID,
			Quantity:  line.Quantity,
			SessionID: sessionID,
			Holder:    holder.String(),
			TTL:       ttl,
		})
		if err != nil {
			s.compensate(ctx, held)
			return nil, fmt.Errorf("hold line %d (variant %s): %w", i+1, line.VariantID, err)
		}
		held = append(held, *r)
	}
	return held, nil
}

func (s *Reservations) compensate(ctx context.Context, held []domain.Reservation) {
	for i := len(held) - 1; i >= 0; i-- {
		if _, err := s.Release(ctx, held[i].ID); err != nil {
			s.logger.ErrorContext(ctx, "failed to release hold during compensation",
				slog.String("reservation_id", held[i].ID),
				slog.String("error", err.Error()),
			)
		}
	}
}

// Commit turns an active, unexpired hold into a sale: stock and reserved
// both drop by the held quantity.
func (s *Reservations) Commit(ctx context.Context, reservationID string) (*domain.Reservation, error) {
	r, err := s.reservations.GetByID(ctx, reservationID)
	if err != nil {
		return nil, err
	}

	var (
		res   *domain.Reservation
		after *domain.Variant
	)
	err = s.sections.run(ctx, r.VariantID, func(ctx context.Context, lv repository.LockedVariant) error {
		cur, err := lv.Reservation(ctx, reservationID)
		if err != nil {
			return err
		}
		now := s.now()
		if cur.Status.IsTerminal() {
			return domain.ReservationAlreadyTerminal(cur.ID, cur.Status)
		}
		if cur.IsExpiredAt(now) {
			return domain.ReservationExpiredError(cur.ID)
		}

		v := lv.Variant()
		sale := domain.NewMovement(v, domain.MovementSale, v.StockQuantity, -cur.Quantity,
			"commit reservation "+cur.ID, "session:"+cur.SessionID, now)
		sale.ReservationID = cur.ID
		release := domain.NewMovement(v, domain.MovementReservationCommit, v.ReservedQuantity, -cur.Quantity,
			"commit reservation "+cur.ID, "session:"+cur.SessionID, now)
		release.ReservationID = cur.ID

		if err := cur.Finalize(domain.ReservationCommitted, now); err != nil {
			return err
		}
		if err := lv.FinalizeReservation(ctx, cur); err != nil {
			return err
		}
		if err := lv.SetCounters(ctx, v.StockQuantity-cur.Quantity, v.ReservedQuantity-cur.Quantity); err != nil {
			return err
		}
		if err := lv.AppendMovement(ctx, sale); err != nil {
			return err
		}
		if err := lv.AppendMovement(ctx, release); err != nil {
			return err
		}
		res, after = cur, lv.Variant()
		return nil
	})
	ledgerMutations.WithLabelValues(string(domain.MovementReservationCommit), outcome(err)).Inc()
	if err != nil {
		return nil, err
	}
	reservationTransitions.WithLabelValues(string(domain.ReservationCommitted)).Inc()

	s.announce.reservationChanged(ctx, res)
	s.logger.InfoContext(ctx, "reservation committed",
		slog.String("reservation_id", res.ID),
		slog.String("variant_id", res.VariantID),
		slog.Int("quantity", res.Quantity),
		slog.Int("stock_quantity", after.StockQuantity),
	)
	return res, nil
}

// Release gives held stock back. Releasing a reservation that is already
// terminal changes nothing and is not an error.
func (s *Reservations) Release(ctx context.Context, reservationID string) (*ReleaseResult, error) {
	return s.finish(ctx, reservationID, domain.ReservationReleased)
}

// expire releases a hold whose TTL ran out and marks it expired. A hold that
// is no longer active fails with ErrReservationAlreadyTerminal.
func (s *Reservations) expire(ctx context.Context, reservationID string) (*ReleaseResult, error) {
	return s.finish(ctx, reservationID, domain.ReservationExpired)
}

func (s *Reservations) finish(ctx context.Context, reservationID string, status domain.ReservationStatus) (*ReleaseResult, error) {
	r, err := s.reservations.GetByID(ctx, reservationID)
	if err != nil {
		return nil, err
	}

	var result *ReleaseResult
	err = s.sections.run(ctx, r.VariantID, func(ctx context.Context, lv repository.LockedVariant) error {
		cur, err := lv.Reservation(ctx, reservationID)
		if err != nil {
			return err
		}
		now := s.now()
		if cur.Status.IsTerminal() {
			if status == domain.ReservationExpired {
				return domain.ReservationAlreadyTerminal(cur.ID, cur.Status)
			}
			result = &ReleaseResult{Reservation: cur}
			return nil
		}
		if status == domain.ReservationExpired && !cur.IsExpiredAt(now) {
			result = &ReleaseResult{Reservation: cur}
			return nil
		}

		v := lv.Variant()
		m := domain.NewMovement(v, domain.MovementReservationRelease, v.ReservedQuantity, -cur.Quantity,
			string(status)+" reservation "+cur.ID, releaseActor(status, cur), now)
		m.ReservationID = cur.ID

		if err := cur.Finalize(status, now); err != nil {
			return err
		}
		if err := lv.FinalizeReservation(ctx, cur); err != nil {
			return err
		}
		if err := lv.SetCounters(ctx, v.StockQuantity, v.ReservedQuantity-cur.Quantity); err != nil {
			return err
		}
		if err := lv.AppendMovement(ctx, m); err != nil {
			return err
		}
		result = &ReleaseResult{Reservation: cur, Changed: true}
		return nil
	})
	ledgerMutations.WithLabelValues(string(domain.MovementReservationRelease), outcome(err)).Inc()
	if err != nil {
		return nil, err
	}
	if !result.Changed {
		return result, nil
	}
	reservationTransitions.WithLabelValues(string(status)).Inc()

	s.announce.reservationChanged(ctx, result.Reservation)
	s.logger.InfoContext(ctx, "reservation released",
		slog.String("reservation_id", result.Reservation.ID),
		slog.String("variant_id", result.Reservation.VariantID),
		slog.String("status", string(status)),
		slog.Int("quantity", result.Reservation.Quantity),
	)
	return result, nil
}

func releaseActor(status domain.ReservationStatus, r *domain.Reservation) string {
	if status == domain.ReservationExpired {
		return domain.SystemActor.String()
	}
	return "session:" + r.SessionID
}

// Get returns one reservation.
func (s *Reservations) Get(ctx context.Context, reservationID string) (*domain.Reservation, error) {
	return s.reservations.GetByID(ctx, reservationID)
}

// GetFor returns one reservation if actor may settle it.
func (s *Reservations) GetFor(ctx context.Context, reservationID string, actor domain.Actor) (*domain.Reservation, error) {
	r, err := s.reservations.GetByID(ctx, reservationID)
	if err != nil {
		return nil, err
	}
	if !actor.CanSettle(r) {
		return nil, domain.PermissionDenied(fmt.Sprintf("%s may not settle reservation %s", actor, r.ID))
	}
	return r, nil
}

// CommitFor commits a reservation on behalf of actor.
func (s *Reservations) CommitFor(ctx context.Context, reservationID string, actor domain.Actor) (*domain.Reservation, error) {
	if _, err := s.GetFor(ctx, reservationID, actor); err != nil {
		return nil, err
	}
	return s.Commit(ctx, reservationID)
}

// ReleaseFor releases a reservation on behalf of actor.
func (s *Reservations) ReleaseFor(ctx context.Context, reservationID string, actor domain.Actor) (*ReleaseResult, error) {
	if _, err := s.GetFor(ctx, reservationID, actor); err != nil {
		return nil, err
	}
	return s.Release(ctx, reservationID)
}

// CommitSession commits every active hold of a session, typically when the
// order is confirmed. It keeps going past failures and returns them joined.
func (s *Reservations) CommitSession(ctx context.Context, sessionID string) ([]domain.Reservation, error) {
	list, err := s.reservations.ListBySession(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("list session reservations: %w", err)
	}

	var (
		committed []domain.Reservation
		errs      []error
	)
	for _, r := range list {
		if r.Status != domain.ReservationActive {
			continue
		}
		res, err := s.Commit(ctx, r.ID)
		if err != nil {
			if errors.Is(err, domain.ErrReservationAlreadyTerminal) {
				continue
			}
			errs = append(errs, fmt.Errorf("commit reservation %s: %w", r.ID, err))
			continue
		}
		committed = append(committed, *res)
	}
	return committed, errors.Join(errs...)
}

// ReleaseSession releases every active hold of a session.
func (s *Reservations) ReleaseSession(ctx context.Context, sessionID string) ([]domain.Reservation, error) {
	list, err := s.reservations.ListBySession(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("list session reservations: %w", err)
	}

	var (
		released []domain.Reservation
		errs     []error
	)
	for _, r := range list {
		if r.Status != domain.ReservationActive {
			continue
		}
		res, err := s.Release(ctx, r.ID)
		if err != nil {
			errs = append(errs, fmt.Errorf("release reservation %s: %w", r.ID, err))
			continue
		}
		if res.Changed {
			released = append(released, *res.Reservation)
		}
	}
	return released, errors.Join(errs...)
}

// SweepExpired releases every active hold past its expiry and marks it
// expired. A hold committed or released concurrently is skipped; the
// exclusive section guarantees exactly one of them wins.
func (s *Reservations) SweepExpired(ctx context.Context) (SweepResult, error) {
	var result SweepResult
	for {
		batch, err := s.reservations.ListExpired(ctx, s.now(), s.cfg.SweepBatch)
		if err != nil {
			return result, fmt.Errorf("list expired reservations: %w", err)
		}

		progressed := false
		for _, r := range batch {
			if ctx.Err() != nil {
				return result, ctx.Err()
			}
			res, err := s.expire(ctx, r.ID)
			switch {
			case errors.Is(err, domain.ErrReservationAlreadyTerminal):
				result.Skipped++
			case err != nil:
				result.Failed++
				s.logger.ErrorContext(ctx, "failed to expire reservation",
					slog.String("reservation_id", r.ID),
					slog.String("error", err.Error()),
				)
			case res.Changed:
				result.Expired++
				progressed = true
				sweepExpired.Inc()
			default:
				result.Skipped++
			}
		}

		if len(batch) < s.cfg.SweepBatch || !progressed {
			break
		}
	}

	if result.Expired > 0 || result.Failed > 0 {
		s.logger.InfoContext(ctx, "reservation sweep finished",
			slog.Int("expired", result.Expired),
			slog.Int("skipped", result.Skipped),
			slog.Int("failed", result.Failed),
		)
	}
	return result, nil
}
