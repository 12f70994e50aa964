package cache

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vidfeed/fetchcache/logger"
	"github.com/vidfeed/fetchcache/resilience"
)

func TestSelectorMemoizes(t *testing.T) {
	ctx := context.Background()
	var built atomic.Int32
	shared := func(ctx context.Context) (Backend, error) {
		built.Add(1)
		return NewInMemory(ctx), nil
	}
	s := NewSelector(logger.Nop(), shared, nil)
	defer s.Close()

	a, err := s.Select(ctx, KindShared)
	require.NoError(t, err)
	b, err := s.Select(ctx, KindShared)
	require.NoError(t, err)
	assert.Same(t, a, b)
	assert.EqualValues(t, 1, built.Load())

	local, err := s.Select(ctx, KindLocal)
	require.NoError(t, err)
	assert.NotSame(t, a, local)
	assert.Equal(t, "memory", local.Name())
}

func TestSelectorDoesNotMemoizeFailure(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	var attempts atomic.Int32
	shared := func(ctx context.Context) (Backend, error) {
		if attempts.Add(1) == 1 {
			return nil, errors.New("dial tcp: connection refused")
		}
		return NewInMemory(ctx), nil
	}
	s := NewSelector(logger.Nop(), shared, nil, WithRetryBackoff(time.Second), withSelectorClock(clock.Now))
	defer s.Close()

	_, err := s.Select(ctx, KindShared)
	assert.ErrorIs(t, err, ErrBackendUnavailable)

	// Within the backoff the failure is replayed without dialing again.
	_, err = s.Select(ctx, KindShared)
	assert.ErrorIs(t, err, ErrBackendUnavailable)
	assert.EqualValues(t, 1, attempts.Load())

	clock.Advance(time.Second)
	b, err := s.Select(ctx, KindShared)
	assert.NoError(t, err)
	assert.NotNil(t, b)
	assert.EqualValues(t, 2, attempts.Load())
}

func TestSelectorCanceledConstructionIsNotReplayed(t *testing.T) {
	var attempts atomic.Int32
	shared := func(ctx context.Context) (Backend, error) {
		attempts.Add(1)
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		return NewInMemory(ctx), nil
	}
	s := NewSelector(logger.Nop(), shared, nil, WithRetryBackoff(time.Hour))
	defer s.Close()

	canceled, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := s.Select(canceled, KindShared)
	assert.Error(t, err)

	_, err = s.Select(context.Background(), KindShared)
	assert.NoError(t, err)
	assert.EqualValues(t, 2, attempts.Load())
}

func TestSelectorLocalDoesNotWaitForShared(t *testing.T) {
	entered := make(chan struct{})
	release := make(chan struct{})
	shared := func(ctx context.Context) (Backend, error) {
		close(entered)
		<-release
		return nil, errors.New("dial tcp: i/o timeout")
	}
	s := NewSelector(logger.Nop(), shared, nil)
	defer s.Close()

	sharedDone := make(chan error, 1)
	go func() {
		_, err := s.Select(context.Background(), KindShared)
		sharedDone <- err
	}()
	<-entered

	localDone := make(chan error, 1)
	go func() {
		_, err := s.Select(context.Background(), KindLocal)
		localDone <- err
	}()
	select {
	case err := <-localDone:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		close(release)
		t.Fatal("local select blocked behind shared construction")
	}

	close(release)
	assert.ErrorIs(t, <-sharedDone, ErrBackendUnavailable)
}

func TestSelectorMissingFactory(t *testing.T) {
	s := NewSelector(nil, nil, nil)
	_, err := s.Select(context.Background(), KindShared)
	assert.ErrorIs(t, err, ErrBackendUnavailable)
}

func TestLayerFlush(t *testing.T) {
	ctx := context.Background()
	layer := newTestLayer(t, newTestMemory(t))
	c, err := NewSingle[int64, string](layer, Definition{Component: "name", Tier: TierMedium})
	require.NoError(t, err)
	require.NoError(t, c.Prime(ctx, 4, "x"))

	existed, err := layer.Flush(ctx, KindShared, "name", "4")
	assert.NoError(t, err)
	assert.True(t, existed)
	existed, err = layer.Flush(ctx, KindShared, "name", "4")
	assert.NoError(t, err)
	assert.False(t, existed)
}

func TestGuardedOpensOnUnavailable(t *testing.T) {
	ctx := context.Background()
	inner := newFaultyBackend(newTestMemory(t))
	inner.failGet.Store(true)

	cfg := resilience.DefaultCircuitBreakerConfig()
	cfg.MaxFailures = 2
	cfg.Cooldown = time.Hour
	var transitions []resilience.CircuitBreakerState
	cfg.OnStateChange = func(from, to resilience.CircuitBreakerState) {
		transitions = append(transitions, to)
	}
	g := NewGuarded(inner, cfg)

	for i := 0; i < 2; i++ {
		_, _, err := g.Get(ctx, "key")
		assert.True(t, IsUnavailable(err))
	}
	assert.EqualValues(t, 2, inner.gets.Load())

	_, _, err := g.Get(ctx, "key")
	assert.True(t, IsUnavailable(err))
	assert.ErrorIs(t, err, resilience.ErrCircuitBreakerOpen)
	assert.EqualValues(t, 2, inner.gets.Load(), "an open breaker does not touch the store")
	assert.Equal(t, []resilience.CircuitBreakerState{resilience.StateOpen}, transitions)
}

func TestGuardedIgnoresNonTransportErrors(t *testing.T) {
	ctx := context.Background()
	cfg := resilience.DefaultCircuitBreakerConfig()
	cfg.MaxFailures = 1
	g := NewGuarded(newTestMemory(t), cfg)

	// A miss is not an error and a successful call keeps the breaker closed.
	for i := 0; i < 3; i++ {
		found, _, err := g.Get(ctx, "key")
		assert.NoError(t, err)
		assert.False(t, found)
	}
	assert.NoError(t, g.Set(ctx, "key", []byte("v"), time.Minute))
	added, err := g.Add(ctx, "key", []byte("v"), time.Minute)
	assert.NoError(t, err)
	assert.False(t, added)
	existed, err := g.Expire(ctx, "key")
	assert.NoError(t, err)
	assert.True(t, existed)
	assert.Equal(t, "memory", g.Name())
}

func TestGuardedIgnoresCallerCancellation(t *testing.T) {
	mr, client := newTestRedis(t)
	require.NoError(t, mr.Set("key", "v"))

	cfg := resilience.DefaultCircuitBreakerConfig()
	cfg.MaxFailures = 2
	cfg.Cooldown = time.Hour
	var opened atomic.Bool
	cfg.OnStateChange = func(from, to resilience.CircuitBreakerState) {
		if to == resilience.StateOpen {
			opened.Store(true)
		}
	}
	g := NewGuarded(NewRedis(client), cfg)

	canceled, cancel := context.WithCancel(context.Background())
	cancel()
	for i := 0; i < 5; i++ {
		_, _, err := g.Get(canceled, "key")
		assert.ErrorIs(t, err, context.Canceled)
		assert.False(t, IsUnavailable(err))
	}
	_, err := g.GetMulti(canceled, []string{"key"})
	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, opened.Load())

	found, val, err := g.Get(context.Background(), "key")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, "v", string(val))
}

func TestStoreFailedClassification(t *testing.T) {
	live := context.Background()
	ended, cancel := context.WithCancel(context.Background())
	cancel()

	// The query's own timeout fired while the caller was still waiting.
	err := storeFailed(live, context.DeadlineExceeded, "redis", "get")
	assert.True(t, IsUnavailable(err))

	err = storeFailed(ended, context.Canceled, "redis", "get")
	assert.False(t, IsUnavailable(err))
	assert.ErrorIs(t, err, context.Canceled)

	assert.NoError(t, callerDone(live, "redis", "get"))
	assert.ErrorIs(t, callerDone(ended, "redis", "get"), context.Canceled)
}
