package cache

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/require"
	"github.com/vidfeed/fetchcache/logger"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newTestMemory(t *testing.T, opts ...Option) Backend {
	t.Helper()
	b := NewInMemory(context.Background(), opts...)
	t.Cleanup(func() { b.Close() })
	return b
}

func newTestLayer(t *testing.T, shared Backend, opts ...LayerOption) *Layer {
	t.Helper()
	keys, err := NewKeys("test", 1)
	require.NoError(t, err)
	return NewLayer(keys, NewSelector(logger.Nop(), Static(shared), Static(newTestMemory(t))), opts...)
}

// faultyBackend wraps a Backend and fails the operations switched on.
type faultyBackend struct {
	Backend
	failGet  atomic.Bool
	failSet  atomic.Bool
	failAdd  atomic.Bool
	gets     atomic.Int32
	getMulti atomic.Int32
	sets     atomic.Int32
}

func newFaultyBackend(inner Backend) *faultyBackend {
	return &faultyBackend{Backend: inner}
}

var errBoom = errors.New("connection refused")

func (f *faultyBackend) Get(ctx context.Context, key string) (bool, []byte, error) {
	f.gets.Add(1)
	if f.failGet.Load() {
		return false, nil, unavailable(errBoom, "faulty", "get")
	}
	return f.Backend.Get(ctx, key)
}

func (f *faultyBackend) GetMulti(ctx context.Context, keys []string) (map[string][]byte, error) {
	f.getMulti.Add(1)
	if f.failGet.Load() {
		return nil, unavailable(errBoom, "faulty", "get_multi")
	}
	return f.Backend.GetMulti(ctx, keys)
}

func (f *faultyBackend) Set(ctx context.Context, key string, val []byte, expires time.Duration) error {
	f.sets.Add(1)
	if f.failSet.Load() {
		return unavailable(errBoom, "faulty", "set")
	}
	return f.Backend.Set(ctx, key, val, expires)
}

func (f *faultyBackend) Add(ctx context.Context, key string, val []byte, expires time.Duration) (bool, error) {
	if f.failAdd.Load() {
		return false, unavailable(errBoom, "faulty", "add")
	}
	return f.Backend.Add(ctx, key, val, expires)
}
