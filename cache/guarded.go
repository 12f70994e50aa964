package cache

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/vidfeed/fetchcache/resilience"
)

type guardedBackend struct {
	inner   Backend
	breaker *resilience.CircuitBreaker
}

var _ Backend = (*guardedBackend)(nil)

// NewGuarded wraps a shared backend in a circuit breaker. Only failures marked
// ErrBackendUnavailable count against it, so callers whose own context ends
// never trip it. While it is open every call fails fast with
// ErrBackendUnavailable without touching the store.
func NewGuarded(inner Backend, cfg resilience.CircuitBreakerConfig) Backend {
	cfg.IsFailure = IsUnavailable
	next := cfg.OnStateChange
	cfg.OnStateChange = func(from, to resilience.CircuitBreakerState) {
		backendStateChangesTotal.WithLabelValues(inner.Name(), to.String()).Inc()
		if next != nil {
			next(from, to)
		}
	}
	return &guardedBackend{inner: inner, breaker: resilience.NewCircuitBreaker(cfg)}
}

func (g *guardedBackend) Name() string { return g.inner.Name() }

func (g *guardedBackend) do(ctx context.Context, op string, fn func() error) error {
	if err := callerDone(ctx, g.Name(), op); err != nil {
		return err
	}
	err := g.breaker.Do(fn)
	if errors.Is(err, resilience.ErrCircuitBreakerOpen) {
		return unavailable(err, g.Name(), op)
	}
	return err
}

func (g *guardedBackend) Get(ctx context.Context, key string) (found bool, data []byte, err error) {
	err = g.do(ctx, "get", func() error {
		var ierr error
		found, data, ierr = g.inner.Get(ctx, key)
		return ierr
	})
	return found, data, err
}

func (g *guardedBackend) GetMulti(ctx context.Context, keys []string) (result map[string][]byte, err error) {
	err = g.do(ctx, "get_multi", func() error {
		var ierr error
		result, ierr = g.inner.GetMulti(ctx, keys)
		return ierr
	})
	return result, err
}

func (g *guardedBackend) Set(ctx context.Context, key string, val []byte, expires time.Duration) error {
	return g.do(ctx, "set", func() error {
		return g.inner.Set(ctx, key, val, expires)
	})
}

func (g *guardedBackend) Add(ctx context.Context, key string, val []byte, expires time.Duration) (added bool, err error) {
	err = g.do(ctx, "add", func() error {
		var ierr error
		added, ierr = g.inner.Add(ctx, key, val, expires)
		return ierr
	})
	return added, err
}

func (g *guardedBackend) Expire(ctx context.Context, key string) (existed bool, err error) {
	err = g.do(ctx, "expire", func() error {
		var ierr error
		existed, ierr = g.inner.Expire(ctx, key)
		return ierr
	})
	return existed, err
}

func (g *guardedBackend) Close() error {
	return g.inner.Close()
}
