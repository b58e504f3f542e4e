package service

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/utafrali/stockledger/internal/domain"
	"github.com/utafrali/stockledger/internal/repository"
)

// sectionRunner runs exclusive sections and retries the whole section when
// it loses a lock race. fn may therefore run more than once and must not
// leak state between attempts.
type sectionRunner struct {
	locker   repository.Locker
	attempts uint
	logger   *slog.Logger
}

func (r *sectionRunner) backOff() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 10 * time.Millisecond
	b.Multiplier = 2
	b.RandomizationFactor = 0.5
	b.MaxInterval = 250 * time.Millisecond
	return b
}

func (r *sectionRunner) run(ctx context.Context, variantID string, fn func(ctx context.Context, lv repository.LockedVariant) error) error {
	attempts := r.attempts
	if attempts == 0 {
		attempts = 1
	}

	op := func() (struct{}, error) {
		err := r.locker.WithVariantLock(ctx, variantID, fn)
		if err != nil && !repository.IsContention(err) {
			return struct{}{}, backoff.Permanent(err)
		}
		return struct{}{}, err
	}

	_, err := backoff.Retry(ctx, op,
		backoff.WithBackOff(r.backOff()),
		backoff.WithMaxTries(attempts),
		backoff.WithNotify(func(err error, wait time.Duration) {
			lockRetries.Inc()
			r.logger.WarnContext(ctx, "variant lock contention, retrying",
				slog.String("variant_id", variantID),
				slog.Duration("backoff", wait),
				slog.String("error", err.Error()),
			)
		}),
	)
	// The last attempt's error comes back still wrapped as permanent.
	var permanent *backoff.PermanentError
	if errors.As(err, &permanent) {
		err = permanent.Unwrap()
	}
	if err != nil && repository.IsContention(err) {
		return domain.StoreContention(err)
	}
	return err
}
