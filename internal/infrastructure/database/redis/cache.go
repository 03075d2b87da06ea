package redis

import (
	"context"
	"encoding/json"
	"math/rand"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"

	"github.com/turtacn/NaturaCheck/internal/domain/eligibility"
	"github.com/turtacn/NaturaCheck/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/NaturaCheck/pkg/errors"
)

var (
	ErrCacheMiss           = errors.New(errors.ErrCodeCacheMiss, "cache miss")
	ErrSerializationFailed = errors.New(errors.ErrCodeSerialization, "verdict serialization failed")
)

const verdictNamespace = "verdict:"

// VerdictCache stores case verdicts under the fingerprint of their inputs.
type VerdictCache struct {
	client *Client
	logger logging.Logger
	prefix string
	ttl    time.Duration
	group  singleflight.Group
}

// CacheOption configures a VerdictCache.
type CacheOption func(*VerdictCache)

// WithPrefix sets the key prefix shared by every key.
func WithPrefix(prefix string) CacheOption {
	return func(c *VerdictCache) { c.prefix = prefix }
}

// WithTTL sets the base expiry; every write adds ±10% jitter.
func WithTTL(ttl time.Duration) CacheOption {
	return func(c *VerdictCache) { c.ttl = ttl }
}

// NewVerdictCache creates a cache over client.
func NewVerdictCache(client *Client, log logging.Logger, opts ...CacheOption) *VerdictCache {
	c := &VerdictCache{
		client: client,
		logger: logging.OrNop(log),
		prefix: "naturacheck:",
		ttl:    24 * time.Hour,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *VerdictCache) key(fingerprint string) string {
	return c.prefix + verdictNamespace + fingerprint
}

func jitter(ttl time.Duration) time.Duration {
	if ttl <= 0 {
		return 0
	}
	return ttl + time.Duration(float64(ttl)*0.1*(rand.Float64()*2-1))
}

// Get returns the cached verdict or ErrCacheMiss.
func (c *VerdictCache) Get(ctx context.Context, fingerprint string) (*eligibility.CaseVerdict, error) {
	rdb, err := c.client.Underlying()
	if err != nil {
		return nil, err
	}
	data, err := rdb.Get(ctx, c.key(fingerprint)).Bytes()
	if err == redis.Nil {
		return nil, ErrCacheMiss
	}
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeCacheError, "failed to read verdict cache")
	}
	var v eligibility.CaseVerdict
	if err := json.Unmarshal(data, &v); err != nil {
		return nil, ErrSerializationFailed.WithCause(err)
	}
	return &v, nil
}

// Set stores v under fingerprint.
func (c *VerdictCache) Set(ctx context.Context, fingerprint string, v *eligibility.CaseVerdict) error {
	rdb, err := c.client.Underlying()
	if err != nil {
		return err
	}
	data, err := json.Marshal(v)
	if err != nil {
		return ErrSerializationFailed.WithCause(err)
	}
	if err := rdb.Set(ctx, c.key(fingerprint), data, jitter(c.ttl)).Err(); err != nil {
		return errors.Wrap(err, errors.ErrCodeCacheError, "failed to write verdict cache")
	}
	return nil
}

// GetOrLoad returns the cached verdict or runs load once per fingerprint
// across concurrent callers and caches the result. A failed write is logged
// and does not fail the call. The bool reports a cache hit.
func (c *VerdictCache) GetOrLoad(ctx context.Context, fingerprint string,
	load func(context.Context) (*eligibility.CaseVerdict, error)) (*eligibility.CaseVerdict, bool, error) {

	v, err := c.Get(ctx, fingerprint)
	if err == nil {
		return v, true, nil
	}
	if !errors.IsCode(err, errors.ErrCodeCacheMiss) {
		c.logger.Warn("verdict cache read failed, evaluating", logging.Err(err))
	}

	res, err, _ := c.group.Do(fingerprint, func() (interface{}, error) {
		loaded, loadErr := load(ctx)
		if loadErr != nil {
			return nil, loadErr
		}
		if setErr := c.Set(ctx, fingerprint, loaded); setErr != nil {
			c.logger.Warn("verdict cache write failed", logging.Err(setErr))
		}
		return loaded, nil
	})
	if err != nil {
		return nil, false, err
	}
	return res.(*eligibility.CaseVerdict), false, nil
}

// Purge drops every cached verdict. It is used when the catalog or policy
// changes. It returns the number of deleted keys.
func (c *VerdictCache) Purge(ctx context.Context) (int64, error) {
	rdb, err := c.client.Underlying()
	if err != nil {
		return 0, err
	}
	var (
		deleted int64
		cursor  uint64
	)
	match := c.prefix + verdictNamespace + "*"
	for {
		keys, next, err := rdb.Scan(ctx, cursor, match, 200).Result()
		if err != nil {
			return deleted, errors.Wrap(err, errors.ErrCodeCacheError, "failed to scan verdict cache")
		}
		if len(keys) > 0 {
			if err := rdb.Del(ctx, keys...).Err(); err != nil {
				return deleted, errors.Wrap(err, errors.ErrCodeCacheError, "failed to purge verdict cache")
			}
			deleted += int64(len(keys))
		}
		if cursor = next; cursor == 0 {
			return deleted, nil
		}
	}
}

// Ping checks the backing client.
func (c *VerdictCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx)
}
