// Package config loads the cache layer's deployment settings from YAML and
// FETCHCACHE_ environment variables and builds the Layer they describe.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/vidfeed/fetchcache/cache"
	"github.com/vidfeed/fetchcache/env"
	"github.com/xhit/go-str2duration/v2"
	"gopkg.in/yaml.v3"
)

const (
	DriverMemcached = "memcached"
	DriverRedis     = "redis"
)

// Duration is a time.Duration that reads "90s", "30m" or "1d" from YAML.
type Duration time.Duration

func (d Duration) Std() time.Duration { return time.Duration(d) }

func (d Duration) MarshalYAML() (interface{}, error) {
	return str2duration.String(time.Duration(d)), nil
}

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	parsed, err := parseDuration(value.Value)
	if err != nil {
		return errors.Wrapf(err, "line %d", value.Line)
	}
	*d = Duration(parsed)
	return nil
}

func parseDuration(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if s == "" || s == "0" {
		return 0, nil
	}
	return str2duration.ParseDuration(s)
}

type SharedConfig struct {
	// Driver is "memcached" (default) or "redis".
	Driver         string   `yaml:"driver"`
	Servers        []string `yaml:"servers,omitempty"`
	RedisAddr      string   `yaml:"redis_addr,omitempty"`
	RedisPassword  string   `yaml:"redis_password,omitempty"`
	RedisDB        int      `yaml:"redis_db,omitempty"`
	QueryTimeout   Duration `yaml:"query_timeout,omitempty"`
	DefaultExpires Duration `yaml:"default_expires,omitempty"`
	// RetryBackoff is how long a failed connection is reported before the
	// next select dials again.
	RetryBackoff   Duration `yaml:"retry_backoff,omitempty"`
}

type LocalConfig struct {
	Capacity    int      `yaml:"capacity,omitempty"`
	Shards      int      `yaml:"shards,omitempty"`
	ExpiryCheck Duration `yaml:"expiry_check,omitempty"`
}

// BreakerConfig guards the shared backend with a circuit breaker.
type BreakerConfig struct {
	Enabled     bool     `yaml:"enabled"`
	MaxFailures int      `yaml:"max_failures,omitempty"`
	Cooldown    Duration `yaml:"cooldown,omitempty"`
}

// KMSConfig locates the remote KMS and the local cipher key. LocalKey is a
// base64 raw key for development; production sets WrappedLocalKey, a base64
// KMS ciphertext of the key.
type KMSConfig struct {
	Region          string `yaml:"region,omitempty"`
	KeyID           string `yaml:"key_id,omitempty"`
	LocalKey        string `yaml:"local_key,omitempty"`
	WrappedLocalKey string `yaml:"wrapped_local_key,omitempty"`
}

type LogConfig struct {
	Format string `yaml:"format,omitempty"`
	Level  string `yaml:"level,omitempty"`
}

type Config struct {
	Prefix           string              `yaml:"prefix"`
	SchemaVersion    int                 `yaml:"schema_version"`
	Shared           SharedConfig        `yaml:"shared"`
	Local            LocalConfig         `yaml:"local"`
	Tiers            map[string]Duration `yaml:"tiers,omitempty"`
	WriteConcurrency int                 `yaml:"write_concurrency,omitempty"`
	Breaker          BreakerConfig       `yaml:"breaker"`
	KMS              KMSConfig           `yaml:"kms"`
	Log              LogConfig           `yaml:"log"`
}

// Default returns the settings used when nothing is configured.
func Default() *Config {
	return &Config{
		Prefix:        "vidfeed",
		SchemaVersion: 1,
		Shared: SharedConfig{
			Driver:       DriverMemcached,
			Servers:      []string{"127.0.0.1:11211"},
			QueryTimeout: Duration(cache.DefaultQueryTimeout),
			RetryBackoff: Duration(cache.DefaultRetryBackoff),
		},
		Local: LocalConfig{
			Capacity:    cache.DefaultCapacity,
			Shards:      cache.DefaultShards,
			ExpiryCheck: Duration(time.Minute),
		},
		WriteConcurrency: cache.DefaultWriteConcurrency,
		Breaker: BreakerConfig{
			Enabled:     true,
			MaxFailures: 5,
			Cooldown:    Duration(10 * time.Second),
		},
		Log: LogConfig{Format: "console", Level: "info"},
	}
}

// Parse reads YAML on top of the defaults.
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, errors.Wrap(err, "config: invalid yaml")
	}
	return cfg, nil
}

// Load reads the YAML file at path, when given, then applies the OS
// environment with envFile (a dotenv file, optional) as a fallback, and
// validates the result.
func Load(path, envFile string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, errors.Wrapf(err, "config: reading %s", path)
		}
		if cfg, err = Parse(data); err != nil {
			return nil, err
		}
	}
	lookup := env.LookupFunc(os.LookupEnv)
	if envFile != "" {
		lines, err := env.ParseEnvFile(envFile)
		if err != nil {
			return nil, errors.Wrapf(err, "config: reading %s", envFile)
		}
		lookup = env.Overlay(lines, os.LookupEnv)
	}
	if err := cfg.ApplyEnv(lookup); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyEnv overrides fields from FETCHCACHE_ variables found through lookup.
func (c *Config) ApplyEnv(lookup env.LookupFunc) error {
	get := func(name string) (string, bool) {
		return lookup(env.Prefix + name)
	}
	str := func(name string, dst *string) {
		if v, ok := get(name); ok {
			*dst = v
		}
	}
	num := func(name string, dst *int) error {
		if v, ok := get(name); ok {
			n, err := strconv.Atoi(strings.TrimSpace(v))
			if err != nil {
				return errors.Wrapf(err, "config: %s%s", env.Prefix, name)
			}
			*dst = n
		}
		return nil
	}
	dur := func(name string, dst *Duration) error {
		if v, ok := get(name); ok {
			d, err := parseDuration(v)
			if err != nil {
				return errors.Wrapf(err, "config: %s%s", env.Prefix, name)
			}
			*dst = Duration(d)
		}
		return nil
	}

	str("PREFIX", &c.Prefix)
	str("SHARED_DRIVER", &c.Shared.Driver)
	if v, ok := get("MEMCACHED_SERVERS"); ok {
		c.Shared.Servers = splitList(v)
	}
	str("REDIS_ADDR", &c.Shared.RedisAddr)
	str("REDIS_PASSWORD", &c.Shared.RedisPassword)
	str("KMS_REGION", &c.KMS.Region)
	str("KMS_KEY_ID", &c.KMS.KeyID)
	str("LOCAL_KEY", &c.KMS.LocalKey)
	str("WRAPPED_LOCAL_KEY", &c.KMS.WrappedLocalKey)
	str("LOG_FORMAT", &c.Log.Format)
	str("LOG_LEVEL", &c.Log.Level)
	if v, ok := get("BREAKER_ENABLED"); ok {
		enabled, err := strconv.ParseBool(strings.TrimSpace(v))
		if err != nil {
			return errors.Wrapf(err, "config: %sBREAKER_ENABLED", env.Prefix)
		}
		c.Breaker.Enabled = enabled
	}
	for _, fn := range []func() error{
		func() error { return num("SCHEMA_VERSION", &c.SchemaVersion) },
		func() error { return num("REDIS_DB", &c.Shared.RedisDB) },
		func() error { return num("LOCAL_CAPACITY", &c.Local.Capacity) },
		func() error { return num("WRITE_CONCURRENCY", &c.WriteConcurrency) },
		func() error { return dur("QUERY_TIMEOUT", &c.Shared.QueryTimeout) },
		func() error { return dur("DEFAULT_EXPIRES", &c.Shared.DefaultExpires) },
		func() error { return dur("RETRY_BACKOFF", &c.Shared.RetryBackoff) },
	} {
		if err := fn(); err != nil {
			return err
		}
	}
	for _, tier := range []cache.Tier{cache.TierVerySmall, cache.TierSmall, cache.TierMedium, cache.TierLarge} {
		name := tier.String()
		var d Duration
		if _, ok := get("TIER_" + strings.ToUpper(name)); !ok {
			continue
		}
		if err := dur("TIER_"+strings.ToUpper(name), &d); err != nil {
			return err
		}
		if c.Tiers == nil {
			c.Tiers = make(map[string]Duration)
		}
		c.Tiers[name] = d
	}
	return nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// Validate reports the first setting that cannot produce a working layer.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Prefix) == "" {
		return errors.New("config: prefix is required")
	}
	if c.SchemaVersion < 1 {
		return errors.Newf("config: schema_version must be >= 1, got %d", c.SchemaVersion)
	}
	switch c.Shared.Driver {
	case DriverMemcached:
		if len(c.Shared.Servers) == 0 {
			return errors.New("config: memcached driver needs at least one server")
		}
	case DriverRedis:
		if c.Shared.RedisAddr == "" {
			return errors.New("config: redis driver needs redis_addr")
		}
	default:
		return errors.Newf("config: unknown shared driver %q", c.Shared.Driver)
	}
	if _, err := c.TierTable(); err != nil {
		return err
	}
	if c.WriteConcurrency < 0 {
		return errors.Newf("config: write_concurrency must be >= 0, got %d", c.WriteConcurrency)
	}
	if c.KMS.LocalKey != "" && c.KMS.WrappedLocalKey != "" {
		return errors.New("config: set only one of kms.local_key and kms.wrapped_local_key")
	}
	return nil
}

// TierTable converts the tier overrides into a cache.Tiers table.
func (c *Config) TierTable() (cache.Tiers, error) {
	tiers := make(cache.Tiers, len(c.Tiers))
	for name, d := range c.Tiers {
		tier, err := cache.ParseTier(name)
		if err != nil {
			return nil, errors.Wrap(err, "config: tiers")
		}
		if d < 0 {
			return nil, errors.Newf("config: tier %s must not be negative", name)
		}
		tiers[tier] = d.Std()
	}
	return tiers, nil
}
