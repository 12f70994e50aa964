package entity

import (
	"context"
	"time"

	"github.com/vidfeed/fetchcache/cache"
)

// SystemConfig is the global runtime configuration row.
type SystemConfig struct {
	MaintenanceMode  bool              `msgpack:"maintenance_mode"`
	MinClientVersion string            `msgpack:"min_client_version"`
	MaxUploadSeconds int               `msgpack:"max_upload_seconds"`
	Flags            map[string]bool   `msgpack:"flags,omitempty"`
	Values           map[string]string `msgpack:"values,omitempty"`
	UpdatedAt        time.Time         `msgpack:"updated_at"`
}

// Enabled reports whether the named feature flag is on.
func (s SystemConfig) Enabled(flag string) bool {
	return s.Flags[flag]
}

type SystemConfigSource interface {
	LoadSystemConfig(ctx context.Context) (SystemConfig, error)
}

const systemConfigID = "global"

// SystemConfigCache keeps the global configuration in process memory. A
// change reaches every process within the large tier TTL, or sooner on the
// process that flushes.
type SystemConfigCache struct {
	single *cache.Single[string, SystemConfig]
	source SystemConfigSource
}

func NewSystemConfigCache(layer *cache.Layer, source SystemConfigSource) (*SystemConfigCache, error) {
	single, err := cache.NewSingle[string, SystemConfig](layer, mustDefinition(ComponentSystemConfig))
	if err != nil {
		return nil, err
	}
	return &SystemConfigCache{single: single, source: source}, nil
}

func (c *SystemConfigCache) Get(ctx context.Context) (SystemConfig, error) {
	cfg, _, err := c.single.Fetch(ctx, systemConfigID, func(ctx context.Context) (SystemConfig, bool, error) {
		cfg, err := c.source.LoadSystemConfig(ctx)
		if err != nil {
			return SystemConfig{}, false, err
		}
		return cfg, true, nil
	})
	return cfg, err
}

func (c *SystemConfigCache) Flush(ctx context.Context) error {
	return c.single.Flush(ctx, systemConfigID)
}
