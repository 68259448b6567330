package service

import (
	"context"
	"time"

	"cashdesk/internal/metrics"
	"cashdesk/internal/model"

	"github.com/shopspring/decimal"
)

// StoreLocker serializes session opening per store. Implemented by
// infra.StoreLocker on top of redsync.
type StoreLocker interface {
	LockStore(ctx context.Context, storeID string) (unlock func(context.Context) error, err error)
}

// ClosureNotifier is told about closures that ended in DISCREPANCY.
type ClosureNotifier interface {
	DiscrepancyDetected(ctx context.Context, s *model.CashSession) error
}

// JobQueue accepts background jobs. Implemented by worker.Dispatcher.
type JobQueue interface {
	EnqueueInvoice(ctx context.Context, movementID string) error
}

type options struct {
	now       func() time.Time
	loc       *time.Location
	tolerance decimal.Decimal
	retry     retryPolicy
	metrics   *metrics.Metrics
	locker    StoreLocker
	notifier  ClosureNotifier
}

// Option configures the services in this package.
type Option func(*options)

func defaultOptions() options {
	return options{
		now:       time.Now,
		loc:       time.UTC,
		tolerance: DefaultTolerance,
		retry:     defaultRetryPolicy,
	}
}

func buildOptions(opts []Option) options {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// WithClock overrides the wall clock. Tests use it to move through the
// custody period.
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		if now != nil {
			o.now = now
		}
	}
}

// WithLocation sets the store time zone used for calendar-day arithmetic.
func WithLocation(loc *time.Location) Option {
	return func(o *options) {
		if loc != nil {
			o.loc = loc
		}
	}
}

func WithTolerance(t decimal.Decimal) Option {
	return func(o *options) { o.tolerance = t }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(o *options) { o.metrics = m }
}

func WithLocker(l StoreLocker) Option {
	return func(o *options) { o.locker = l }
}

func WithNotifier(n ClosureNotifier) Option {
	return func(o *options) { o.notifier = n }
}

// WithRetry bounds the optimistic-concurrency retry loop.
func WithRetry(initial, maxInterval time.Duration, retries uint64) Option {
	return func(o *options) {
		o.retry = retryPolicy{initial: initial, max: maxInterval, retries: retries}
	}
}
