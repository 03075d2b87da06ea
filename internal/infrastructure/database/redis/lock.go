package redis

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/turtacn/NaturaCheck/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/NaturaCheck/pkg/errors"
)

var (
	ErrLockNotAcquired = errors.New(errors.ErrCodeLockNotAcquired, "lock held by another owner")
	ErrLockNotHeld     = errors.New(errors.ErrCodeLockNotAcquired, "lock not held by this owner")
)

// Lock is a held lock.
type Lock interface {
	Unlock(ctx context.Context) error
	Extend(ctx context.Context, ttl time.Duration) (bool, error)
	TTL(ctx context.Context) (time.Duration, error)
}

// Locker hands out named mutual-exclusion locks.
type Locker struct {
	client     *Client
	logger     logging.Logger
	prefix     string
	ttl        time.Duration
	retryDelay time.Duration
	retryCount int
}

// LockOption configures a Locker.
type LockOption func(*Locker)

// WithLockTTL sets the lock expiry.
func WithLockTTL(ttl time.Duration) LockOption {
	return func(l *Locker) { l.ttl = ttl }
}

// WithRetry sets how many attempts Acquire makes and the pause between them.
func WithRetry(count int, delay time.Duration) LockOption {
	return func(l *Locker) {
		l.retryCount = count
		l.retryDelay = delay
	}
}

// WithLockPrefix sets the key prefix.
func WithLockPrefix(prefix string) LockOption {
	return func(l *Locker) { l.prefix = prefix }
}

// NewLocker creates a Locker. By default Acquire tries once.
func NewLocker(client *Client, log logging.Logger, opts ...LockOption) *Locker {
	l := &Locker{
		client:     client,
		logger:     logging.OrNop(log),
		prefix:     "naturacheck:",
		ttl:        30 * time.Second,
		retryDelay: 100 * time.Millisecond,
		retryCount: 1,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

var unlockScript = redis.NewScript(`
	if redis.call("GET", KEYS[1]) == ARGV[1] then
		return redis.call("DEL", KEYS[1])
	else
		return 0
	end
`)

var extendScript = redis.NewScript(`
	if redis.call("GET", KEYS[1]) == ARGV[1] then
		return redis.call("PEXPIRE", KEYS[1], ARGV[2])
	else
		return 0
	end
`)

// Acquire takes the lock called name with SET NX and a random token. It
// returns ErrLockNotAcquired when every attempt finds the lock taken.
func (l *Locker) Acquire(ctx context.Context, name string) (Lock, error) {
	rdb, err := l.client.Underlying()
	if err != nil {
		return nil, err
	}
	m := &mutex{rdb: rdb, key: l.prefix + "lock:" + name, token: uuid.NewString()}

	attempts := l.retryCount
	if attempts < 1 {
		attempts = 1
	}
	for i := 0; i < attempts; i++ {
		ok, err := rdb.SetNX(ctx, m.key, m.token, l.ttl).Result()
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeCacheError, "failed to set lock")
		}
		if ok {
			return m, nil
		}
		if i == attempts-1 {
			break
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(l.retryDelay):
		}
	}
	l.logger.Debug("lock busy", logging.String("lock", name))
	return nil, ErrLockNotAcquired.WithDetail(name)
}

type mutex struct {
	rdb   redis.UniversalClient
	key   string
	token string
}

func (m *mutex) Unlock(ctx context.Context) error {
	res, err := unlockScript.Run(ctx, m.rdb, []string{m.key}, m.token).Int64()
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeCacheError, "failed to release lock")
	}
	if res == 0 {
		return ErrLockNotHeld
	}
	return nil
}

func (m *mutex) Extend(ctx context.Context, ttl time.Duration) (bool, error) {
	res, err := extendScript.Run(ctx, m.rdb, []string{m.key}, m.token, ttl.Milliseconds()).Int64()
	if err != nil {
		return false, errors.Wrap(err, errors.ErrCodeCacheError, "failed to extend lock")
	}
	return res == 1, nil
}

func (m *mutex) TTL(ctx context.Context) (time.Duration, error) {
	return m.rdb.PTTL(ctx, m.key).Result()
}
