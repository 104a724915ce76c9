package redis

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/goodtune/playclock/internal/storage"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const lockRetryInterval = 20 * time.Millisecond

// locker implements storage.Locker with Redis leases (SET NX PX plus a
// random token). A lease outlives a crashed holder by at most ttl.
type locker struct {
	client *redis.Client
	ttl    time.Duration
	wait   time.Duration
}

// Lock polls for the lease until it is acquired or the wait limit passes.
func (l *locker) Lock(ctx context.Context, name string) (func(), error) {
	ctx, cancel := context.WithTimeout(ctx, l.wait)
	defer cancel()

	ticker := time.NewTicker(lockRetryInterval)
	defer ticker.Stop()

	for {
		unlock, ok, err := l.TryLock(ctx, name)
		if err != nil {
			if errors.Is(err, context.DeadlineExceeded) {
				return nil, fmt.Errorf("%w: %s", storage.ErrLockTimeout, name)
			}
			return nil, err
		}
		if ok {
			return unlock, nil
		}

		select {
		case <-ctx.Done():
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				return nil, fmt.Errorf("%w: %s", storage.ErrLockTimeout, name)
			}
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

// TryLock makes a single attempt at the lease.
func (l *locker) TryLock(ctx context.Context, name string) (func(), bool, error) {
	token := uuid.NewString()

	ok, err := l.client.SetNX(ctx, lockKey(name), token, l.ttl).Result()
	if err != nil {
		return nil, false, fmt.Errorf("failed to acquire lock %s: %w", name, err)
	}
	if !ok {
		return nil, false, nil
	}

	var once sync.Once
	unlock := func() {
		once.Do(func() {
			// A failed release expires with the lease
			ctx, cancel := context.WithTimeout(context.Background(), l.ttl)
			defer cancel()
			_ = redis.NewScript(releaseLockScript).Run(ctx, l.client, []string{lockKey(name)}, token).Err()
		})
	}
	return unlock, true, nil
}
