package cache

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetricsCountHitsAndMisses(t *testing.T) {
	ctx := context.Background()
	layer := newTestLayer(t, newTestMemory(t))
	c, err := NewSingle[int64, string](layer, Definition{Component: "metered", Tier: TierSmall})
	require.NoError(t, err)

	load := func(ctx context.Context) (string, bool, error) { return "v", true, nil }
	for i := 0; i < 3; i++ {
		_, _, err = c.Fetch(ctx, 1, load)
		require.NoError(t, err)
	}
	_, _, err = c.Fetch(ctx, 2, func(ctx context.Context) (string, bool, error) { return "", false, nil })
	require.NoError(t, err)

	assert.Equal(t, 2.0, testutil.ToFloat64(cacheHitsTotal.WithLabelValues("metered")))
	assert.Equal(t, 2.0, testutil.ToFloat64(cacheMissesTotal.WithLabelValues("metered")))
	assert.Equal(t, 1.0, testutil.ToFloat64(sourceLoadsTotal.WithLabelValues("metered", "found")))
	assert.Equal(t, 1.0, testutil.ToFloat64(sourceLoadsTotal.WithLabelValues("metered", "not_found")))
}

func TestMetricsCountWriteFailures(t *testing.T) {
	ctx := context.Background()
	backend := newFaultyBackend(newTestMemory(t))
	backend.failSet.Store(true)
	layer := newTestLayer(t, backend)
	c, err := NewSingle[int64, string](layer, Definition{Component: "metered_writes", Tier: TierSmall})
	require.NoError(t, err)

	val, found, err := c.Fetch(ctx, 1, func(ctx context.Context) (string, bool, error) { return "v", true, nil })
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, "v", val)
	assert.Equal(t, 1.0, testutil.ToFloat64(writeFailuresTotal.WithLabelValues("metered_writes")))
}

func TestMetricsCountLockResults(t *testing.T) {
	ctx := context.Background()
	layer := newTestLayer(t, newTestMemory(t))
	lock, err := NewLock(layer, Definition{Component: "metered_lock", Tier: TierSmall})
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		_, err := lock.Acquire(ctx, "x", time.Minute)
		require.NoError(t, err)
	}
	assert.Equal(t, 1.0, testutil.ToFloat64(lockAcquireTotal.WithLabelValues("metered_lock", "acquired")))
	assert.Equal(t, 2.0, testutil.ToFloat64(lockAcquireTotal.WithLabelValues("metered_lock", "held")))
}
