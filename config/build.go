package config

import (
	"context"
	"encoding/base64"

	"github.com/cockroachdb/errors"
	"github.com/redis/go-redis/v9"
	"github.com/vidfeed/fetchcache/cache"
	"github.com/vidfeed/fetchcache/crypto"
	"github.com/vidfeed/fetchcache/logger"
	"github.com/vidfeed/fetchcache/resilience"
)

// Logger returns the logger described by the log settings.
func (c *Config) Logger() logger.Logger {
	return logger.New(c.Log.Format, logger.ParseLevel(c.Log.Level))
}

func (c *Config) sharedOptions() []cache.Option {
	var opts []cache.Option
	if c.Shared.QueryTimeout > 0 {
		opts = append(opts, cache.WithQueryTimeout(c.Shared.QueryTimeout.Std()))
	}
	if c.Shared.DefaultExpires > 0 {
		opts = append(opts, cache.WithExpires(c.Shared.DefaultExpires.Std()))
	}
	return opts
}

// redisBackend closes the client it was built with.
type redisBackend struct {
	cache.Backend
	client *redis.Client
}

func (r *redisBackend) Close() error {
	return r.client.Close()
}

// SharedFactory returns the factory for the configured shared backend,
// guarded by a circuit breaker when enabled.
func (c *Config) SharedFactory(log logger.Logger) cache.Factory {
	shared := c.Shared
	breaker := c.Breaker
	opts := c.sharedOptions()
	return func(ctx context.Context) (cache.Backend, error) {
		var backend cache.Backend
		switch shared.Driver {
		case DriverRedis:
			client := redis.NewClient(&redis.Options{
				Addr:     shared.RedisAddr,
				Password: shared.RedisPassword,
				DB:       shared.RedisDB,
			})
			if err := client.Ping(ctx).Err(); err != nil {
				client.Close()
				return nil, errors.Wrapf(err, "config: redis %s", shared.RedisAddr)
			}
			backend = &redisBackend{Backend: cache.NewRedis(client, opts...), client: client}
		case DriverMemcached:
			backend = cache.NewMemcached(shared.Servers, opts...)
		default:
			return nil, errors.Newf("config: unknown shared driver %q", shared.Driver)
		}
		if !breaker.Enabled {
			return backend, nil
		}
		cfg := resilience.DefaultCircuitBreakerConfig()
		if breaker.MaxFailures > 0 {
			cfg.MaxFailures = breaker.MaxFailures
		}
		if breaker.Cooldown > 0 {
			cfg.Cooldown = breaker.Cooldown.Std()
		}
		name := backend.Name()
		cfg.OnStateChange = func(from, to resilience.CircuitBreakerState) {
			log.Warn("%s circuit breaker %s -> %s", name, from, to)
		}
		return cache.NewGuarded(backend, cfg), nil
	}
}

// LocalFactory returns the factory for the process-local backend.
func (c *Config) LocalFactory() cache.Factory {
	local := c.Local
	// The backend outlives the request that first selects it.
	return func(context.Context) (cache.Backend, error) {
		opts := []cache.Option{}
		if local.Capacity > 0 {
			opts = append(opts, cache.WithCapacity(local.Capacity))
		}
		if local.Shards > 0 {
			opts = append(opts, cache.WithShards(local.Shards))
		}
		if local.ExpiryCheck > 0 {
			opts = append(opts, cache.WithExpiryCheck(local.ExpiryCheck.Std()))
		}
		return cache.NewInMemory(context.Background(), opts...), nil
	}
}

// Build validates the settings and returns the Layer they describe. Backends
// are not contacted until a cache first selects them.
func (c *Config) Build(log logger.Logger) (*cache.Layer, error) {
	if err := c.Validate(); err != nil {
		return nil, err
	}
	if log == nil {
		log = c.Logger()
	}
	keys, err := cache.NewKeys(c.Prefix, c.SchemaVersion)
	if err != nil {
		return nil, err
	}
	tiers, err := c.TierTable()
	if err != nil {
		return nil, err
	}
	selector := cache.NewSelector(log, c.SharedFactory(log), c.LocalFactory(),
		cache.WithRetryBackoff(c.Shared.RetryBackoff.Std()))
	opts := []cache.LayerOption{cache.WithLogger(log), cache.WithTiers(tiers)}
	if c.WriteConcurrency > 0 {
		opts = append(opts, cache.WithWriteConcurrency(c.WriteConcurrency))
	}
	return cache.NewLayer(keys, selector, opts...), nil
}

// Rewrapper returns a Rewrapper on AWS KMS for the configured key.
func (c *Config) Rewrapper(ctx context.Context) (*crypto.Rewrapper, error) {
	kms, err := crypto.NewAWSKMS(ctx, c.KMS.Region, c.KMS.KeyID)
	if err != nil {
		return nil, err
	}
	return c.RewrapperWith(ctx, kms)
}

// RewrapperWith returns a Rewrapper using kms. The local key is decoded from
// kms.local_key, or unwrapped once through kms from kms.wrapped_local_key.
func (c *Config) RewrapperWith(ctx context.Context, kms crypto.KMS) (*crypto.Rewrapper, error) {
	var local *crypto.LocalCipher
	switch {
	case c.KMS.LocalKey != "":
		key, err := base64.StdEncoding.DecodeString(c.KMS.LocalKey)
		if err != nil {
			return nil, errors.Wrap(err, "config: kms.local_key is not base64")
		}
		if local, err = crypto.NewLocalCipher(key); err != nil {
			return nil, err
		}
	case c.KMS.WrappedLocalKey != "":
		wrapped, err := base64.StdEncoding.DecodeString(c.KMS.WrappedLocalKey)
		if err != nil {
			return nil, errors.Wrap(err, "config: kms.wrapped_local_key is not base64")
		}
		if local, err = crypto.LoadLocalCipher(ctx, kms, wrapped); err != nil {
			return nil, err
		}
	default:
		return nil, errors.New("config: kms.local_key or kms.wrapped_local_key is required")
	}
	return crypto.NewRewrapper(kms, local), nil
}
