package redis

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const defaultLockPrefix = "fern:lock:"

// ErrLockNotAcquired means another holder owns the key
var ErrLockNotAcquired = errors.New("lock not acquired")

// compare-and-delete so an expired lock taken over by another instance is left alone
var unlockScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// Locker serializes work on a key across fern instances with SET NX locks
type Locker struct {
	client *Client
	prefix string
}

// NewLocker namespaces lock keys under prefix, or fern:lock: when empty
func NewLocker(client *Client, prefix string) *Locker {
	if prefix == "" {
		prefix = defaultLockPrefix
	}
	return &Locker{client: client, prefix: prefix}
}

// WithLock runs fn while holding key for at most ttl.
// It returns ErrLockNotAcquired without running fn when the key is taken.
func (l *Locker) WithLock(ctx context.Context, key string, ttl time.Duration, fn func() error) error {
	fullKey := l.prefix + key
	owner := uuid.NewString()

	acquired, err := l.client.rdb.SetNX(ctx, fullKey, owner, ttl).Result()
	if err != nil {
		return err
	}
	if !acquired {
		return ErrLockNotAcquired
	}

	defer func() {
		released, err := unlockScript.Run(ctx, l.client.rdb, []string{fullKey}, owner).Int64()
		switch {
		case err != nil:
			l.client.logger.WithContext(ctx).WithError(err).Warnf("Failed to release lock %s", key)
		case released == 0:
			l.client.logger.WithContext(ctx).Warnf("Lock %s expired before fn finished", key)
		}
	}()

	return fn()
}
