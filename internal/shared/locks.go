package shared

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-redsync/redsync/v4"
	"github.com/go-redsync/redsync/v4/redis/goredis/v9"
	"github.com/redis/go-redis/v9"
)

// ErrLockBusy indicates another worker holds the critical section.
var ErrLockBusy = errors.New("shared: lock held by another worker")

// FinanceLockKey builds redis keys for finance critical sections.
func FinanceLockKey(periodID int64) string {
	return fmt.Sprintf("finance:period:%d:lock", periodID)
}

// Locker serialises period maintenance across processes with a redis mutex.
type Locker struct {
	rs     *redsync.Redsync
	expiry time.Duration
	tries  int
}

// NewLocker builds a Locker over the given client. A nil client yields a
// nil Locker whose WithLock runs fn directly.
func NewLocker(client *redis.Client, expiry time.Duration) *Locker {
	if client == nil {
		return nil
	}
	if expiry <= 0 {
		expiry = 30 * time.Second
	}
	return &Locker{rs: redsync.New(goredis.NewPool(client)), expiry: expiry, tries: 8}
}

// WithTries sets how many acquisition attempts WithLock makes.
func (l *Locker) WithTries(tries int) *Locker {
	if l != nil && tries > 0 {
		l.tries = tries
	}
	return l
}

// WithLock runs fn while holding key.
func (l *Locker) WithLock(ctx context.Context, key string, fn func(context.Context) error) error {
	if l == nil {
		return fn(ctx)
	}
	mutex := l.rs.NewMutex(key, redsync.WithExpiry(l.expiry), redsync.WithTries(l.tries))
	if err := mutex.LockContext(ctx); err != nil {
		var taken *redsync.ErrTaken
		if errors.Is(err, redsync.ErrFailed) || errors.As(err, &taken) {
			return fmt.Errorf("%w: %s", ErrLockBusy, key)
		}
		return fmt.Errorf("shared: acquire %s: %w", key, err)
	}
	defer func() {
		// Detached so a cancelled request still releases the lock.
		_, _ = mutex.UnlockContext(context.WithoutCancel(ctx))
	}()
	return fn(ctx)
}
