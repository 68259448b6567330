package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"cashdesk/internal/metrics"
	"cashdesk/internal/repository"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog/log"
)

type retryPolicy struct {
	initial time.Duration
	max     time.Duration
	retries uint64
}

// Conflicts are rare (a few movements per minute per store), so a short
// bounded backoff is enough.
var defaultRetryPolicy = retryPolicy{
	initial: 20 * time.Millisecond,
	max:     500 * time.Millisecond,
	retries: 5,
}

func isTransient(err error) bool {
	return errors.Is(err, repository.ErrVersionConflict) || errors.Is(err, repository.ErrTransient)
}

// run calls fn until it succeeds, fails permanently, or the retry budget is
// spent. Only version conflicts and transient storage faults are retried;
// exhaustion surfaces as ErrStorageUnavailable.
func (p retryPolicy) run(ctx context.Context, m *metrics.Metrics, op string, fn func() error) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.initial
	b.MaxInterval = p.max
	b.MaxElapsedTime = 0

	attempt := 0
	err := backoff.Retry(func() error {
		attempt++
		err := fn()
		if err == nil {
			return nil
		}
		if !isTransient(err) {
			return backoff.Permanent(err)
		}
		m.ConflictRetry()
		log.Debug().Err(err).Str("op", op).Int("attempt", attempt).Msg("retrying after storage conflict")
		return err
	}, backoff.WithContext(backoff.WithMaxRetries(b, p.retries), ctx))

	if err != nil && isTransient(err) {
		log.Warn().Err(err).Str("op", op).Int("attempts", attempt).Msg("retries exhausted")
		return fmt.Errorf("%s: %w: %w", op, ErrStorageUnavailable, err)
	}
	return err
}

// storageErr wraps an unexpected repository failure.
func storageErr(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, ErrStorageUnavailable, err)
}
