package infra

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-redsync/redsync/v4"
	"github.com/go-redsync/redsync/v4/redis/goredis/v9"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

// ErrLockBusy is returned when another terminal holds the store lock.
var ErrLockBusy = errors.New("store lock is held by another operation")

// StoreLocker serializes session opening per store across server replicas.
// The partial unique index on cash_sessions remains the source of truth;
// the lock only keeps concurrent opens from racing into it.
type StoreLocker struct {
	rs     *redsync.Redsync
	expiry time.Duration
	tries  int
}

func NewStoreLocker(rdb *redis.Client) *StoreLocker {
	return &StoreLocker{
		rs:     redsync.New(goredis.NewPool(rdb)),
		expiry: 10 * time.Second,
		tries:  8,
	}
}

func storeLockKey(storeID string) string {
	return fmt.Sprintf("cashdesk:store:%s:open", storeID)
}

// LockStore acquires the store's open lock. The returned func releases it.
func (l *StoreLocker) LockStore(ctx context.Context, storeID string) (func(context.Context) error, error) {
	mutex := l.rs.NewMutex(
		storeLockKey(storeID),
		redsync.WithExpiry(l.expiry),
		redsync.WithTries(l.tries),
		redsync.WithRetryDelay(50*time.Millisecond),
	)
	if err := mutex.LockContext(ctx); err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("acquire store lock %s: %w", storeID, ctx.Err())
		}
		// Retries exhausted: ErrFailed or a quorum of ErrTaken nodes.
		return nil, fmt.Errorf("%w: %s: %v", ErrLockBusy, storeID, err)
	}
	return func(ctx context.Context) error {
		if ok, err := mutex.UnlockContext(ctx); !ok || err != nil {
			log.Warn().Err(err).Str("store_id", storeID).Msg("store lock: release failed")
			if err != nil {
				return err
			}
			return redsync.ErrLockAlreadyExpired
		}
		return nil
	}, nil
}
