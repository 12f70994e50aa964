package cache

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/redis/go-redis/v9"
)

type redisCache struct {
	client redis.UniversalClient
	cfg    config
}

var _ Backend = (*redisCache)(nil)

// NewRedis returns a shared Backend on Redis. Values are stored as plain
// strings with native TTLs; Add maps to SET NX.
// The caller owns the client lifecycle; Close leaves it open.
func NewRedis(client redis.UniversalClient, opts ...Option) Backend {
	return &redisCache{
		client: client,
		cfg:    applyOptions(opts),
	}
}

func (c *redisCache) Name() string { return "redis" }

func (c *redisCache) queryCtx(parent context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(parent, c.cfg.queryTimeout)
}

func (c *redisCache) Get(ctx context.Context, key string) (bool, []byte, error) {
	qctx, cancel := c.queryCtx(ctx)
	defer cancel()
	data, err := c.client.Get(qctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return false, nil, nil
	}
	if err != nil {
		return false, nil, storeFailed(ctx, err, c.Name(), "get")
	}
	return true, data, nil
}

func (c *redisCache) GetMulti(ctx context.Context, keys []string) (map[string][]byte, error) {
	result := make(map[string][]byte, len(keys))
	if len(keys) == 0 {
		return result, nil
	}
	qctx, cancel := c.queryCtx(ctx)
	defer cancel()
	vals, err := c.client.MGet(qctx, keys...).Result()
	if err != nil {
		return nil, storeFailed(ctx, err, c.Name(), "mget")
	}
	for i, v := range vals {
		if s, ok := v.(string); ok {
			result[keys[i]] = []byte(s)
		}
	}
	return result, nil
}

func (c *redisCache) Set(ctx context.Context, key string, val []byte, expires time.Duration) error {
	qctx, cancel := c.queryCtx(ctx)
	defer cancel()
	if err := c.client.Set(qctx, key, val, c.cfg.ttl(expires)).Err(); err != nil {
		return storeFailed(ctx, err, c.Name(), "set")
	}
	return nil
}

func (c *redisCache) Add(ctx context.Context, key string, val []byte, expires time.Duration) (bool, error) {
	qctx, cancel := c.queryCtx(ctx)
	defer cancel()
	ok, err := c.client.SetNX(qctx, key, val, c.cfg.ttl(expires)).Result()
	if err != nil {
		return false, storeFailed(ctx, err, c.Name(), "setnx")
	}
	return ok, nil
}

func (c *redisCache) Expire(ctx context.Context, key string) (bool, error) {
	qctx, cancel := c.queryCtx(ctx)
	defer cancel()
	n, err := c.client.Del(qctx, key).Result()
	if err != nil {
		return false, storeFailed(ctx, err, c.Name(), "del")
	}
	return n > 0, nil
}

// Close leaves the client open for its owner.
func (c *redisCache) Close() error {
	return nil
}
