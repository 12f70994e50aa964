package cache

import (
	"context"
	"time"

	"github.com/bradfitz/gomemcache/memcache"
	"github.com/cockroachdb/errors"
)

// maxRelativeExpiry is the largest expiration memcached treats as relative;
// anything above 30 days is read as a unix timestamp.
const maxRelativeExpiry = 30 * 24 * 60 * 60

type memcachedCache struct {
	client *memcache.Client
	cfg    config
}

var _ Backend = (*memcachedCache)(nil)

// NewMemcached returns a shared Backend on one or more memcached servers.
// Add maps to the memcached "add" command, which only stores absent keys.
func NewMemcached(servers []string, opts ...Option) Backend {
	cfg := applyOptions(opts)
	client := memcache.New(servers...)
	client.Timeout = cfg.queryTimeout
	return &memcachedCache{client: client, cfg: cfg}
}

func (c *memcachedCache) Name() string { return "memcached" }

// expiration converts a TTL into memcached seconds: sub-second TTLs round up
// to one second and long TTLs are clamped below the 30 day limit.
func expiration(d time.Duration) int32 {
	secs := int64((d + time.Second - 1) / time.Second)
	if secs < 1 {
		secs = 1
	}
	if secs > maxRelativeExpiry {
		secs = maxRelativeExpiry - 60
	}
	return int32(secs)
}

func (c *memcachedCache) wrap(err error, op string) error {
	if errors.Is(err, memcache.ErrMalformedKey) {
		return errors.Wrapf(err, "%s %s", c.Name(), op)
	}
	return unavailable(err, c.Name(), op)
}

func (c *memcachedCache) Get(ctx context.Context, key string) (bool, []byte, error) {
	if err := callerDone(ctx, c.Name(), "get"); err != nil {
		return false, nil, err
	}
	item, err := c.client.Get(key)
	if errors.Is(err, memcache.ErrCacheMiss) {
		return false, nil, nil
	}
	if err != nil {
		return false, nil, c.wrap(err, "get")
	}
	return true, item.Value, nil
}

func (c *memcachedCache) GetMulti(ctx context.Context, keys []string) (map[string][]byte, error) {
	if err := callerDone(ctx, c.Name(), "get_multi"); err != nil {
		return nil, err
	}
	result := make(map[string][]byte, len(keys))
	if len(keys) == 0 {
		return result, nil
	}
	items, err := c.client.GetMulti(keys)
	if err != nil {
		return nil, c.wrap(err, "get_multi")
	}
	for key, item := range items {
		result[key] = item.Value
	}
	return result, nil
}

func (c *memcachedCache) item(key string, val []byte, expires time.Duration) *memcache.Item {
	return &memcache.Item{
		Key:        key,
		Value:      cloneBytes(val),
		Expiration: expiration(c.cfg.ttl(expires)),
	}
}

func (c *memcachedCache) Set(ctx context.Context, key string, val []byte, expires time.Duration) error {
	if err := callerDone(ctx, c.Name(), "set"); err != nil {
		return err
	}
	if err := c.client.Set(c.item(key, val, expires)); err != nil {
		return c.wrap(err, "set")
	}
	return nil
}

func (c *memcachedCache) Add(ctx context.Context, key string, val []byte, expires time.Duration) (bool, error) {
	if err := callerDone(ctx, c.Name(), "add"); err != nil {
		return false, err
	}
	err := c.client.Add(c.item(key, val, expires))
	if errors.Is(err, memcache.ErrNotStored) {
		return false, nil
	}
	if err != nil {
		return false, c.wrap(err, "add")
	}
	return true, nil
}

func (c *memcachedCache) Expire(ctx context.Context, key string) (bool, error) {
	if err := callerDone(ctx, c.Name(), "delete"); err != nil {
		return false, err
	}
	err := c.client.Delete(key)
	if errors.Is(err, memcache.ErrCacheMiss) {
		return false, nil
	}
	if err != nil {
		return false, c.wrap(err, "delete")
	}
	return true, nil
}

func (c *memcachedCache) Close() error {
	return c.client.Close()
}
