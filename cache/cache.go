package cache

import (
	"context"
	"time"
)

// Backend is the key/value store a cache definition reads and writes through.
// Keys passed to a Backend are already composed by [Keys]; values are opaque
// bytes produced by a [Codec].
//
// Implementations must report I/O failures marked with [ErrBackendUnavailable]
// and must never report a miss as an error.
type Backend interface {
	// Name identifies the backend in logs and metrics.
	Name() string
	// Get returns the value stored at key.
	Get(ctx context.Context, key string) (bool, []byte, error)
	// GetMulti returns the entries that exist, in one round trip where the
	// store supports it. Absent keys are omitted from the result.
	GetMulti(ctx context.Context, keys []string) (map[string][]byte, error)
	// Set stores val at key with a TTL. If expires <= 0 the backend's
	// configured default TTL is used.
	Set(ctx context.Context, key string, val []byte, expires time.Duration) error
	// Add stores val at key only if key is absent, as a single atomic
	// operation on the store. It returns false when the key already exists.
	Add(ctx context.Context, key string, val []byte, expires time.Duration) (bool, error)
	// Expire removes key. It reports whether the key existed; removing an
	// absent key is not an error.
	Expire(ctx context.Context, key string) (bool, error)
	// Close releases resources owned by the backend.
	Close() error
}

// DefaultExpires is the TTL used by a Backend when Set or Add is called with expires <= 0.
const DefaultExpires = 5 * time.Minute

// DefaultQueryTimeout is the per-operation timeout for backends that perform
// network I/O (memcached, Redis).
const DefaultQueryTimeout = 2 * time.Second

// DefaultCapacity is the number of entries the in-memory backend holds before evicting.
const DefaultCapacity = 10_000

// DefaultShards is the number of independently locked shards in the in-memory backend.
const DefaultShards = 16

// config holds the resolved configuration for a Backend implementation.
type config struct {
	defaultExpires time.Duration
	queryTimeout   time.Duration
	expiryCheck    time.Duration
	capacity       int
	shards         int
	now            func() time.Time
}

// Option configures a Backend implementation.
type Option func(*config)

func defaultConfig() config {
	return config{
		defaultExpires: DefaultExpires,
		queryTimeout:   DefaultQueryTimeout,
		expiryCheck:    time.Minute,
		capacity:       DefaultCapacity,
		shards:         DefaultShards,
		now:            time.Now,
	}
}

func applyOptions(opts []Option) config {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	return cfg
}

// WithExpires sets the default TTL for stored values. This is used when
// Set or Add is called with expires <= 0. Defaults to DefaultExpires.
func WithExpires(d time.Duration) Option {
	return func(c *config) { c.defaultExpires = d }
}

// WithQueryTimeout sets the per-operation timeout for network backends.
// Defaults to DefaultQueryTimeout.
func WithQueryTimeout(d time.Duration) Option {
	return func(c *config) { c.queryTimeout = d }
}

// WithExpiryCheck sets the interval for background expired entry cleanup in
// the in-memory backend. Defaults to 1 minute.
func WithExpiryCheck(d time.Duration) Option {
	return func(c *config) { c.expiryCheck = d }
}

// WithCapacity bounds the number of entries held by the in-memory backend.
func WithCapacity(n int) Option {
	return func(c *config) { c.capacity = n }
}

// WithShards sets the shard count of the in-memory backend.
func WithShards(n int) Option {
	return func(c *config) { c.shards = n }
}

func withClock(now func() time.Time) Option {
	return func(c *config) { c.now = now }
}

func (c config) ttl(expires time.Duration) time.Duration {
	if expires <= 0 {
		return c.defaultExpires
	}
	return expires
}
