package cache

import (
	"context"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/vidfeed/fetchcache/logger"
)

// Kind selects which backend a cache definition uses. It is a static property
// of the definition, never decided per call.
type Kind int

const (
	// KindShared is the network store every worker process sees. Default.
	KindShared Kind = iota
	// KindLocal is the process-local store, for small read-hot data where
	// cross-process staleness up to the tier TTL is acceptable.
	KindLocal
)

func (k Kind) String() string {
	switch k {
	case KindShared:
		return "shared"
	case KindLocal:
		return "local"
	default:
		return "unknown"
	}
}

// Factory builds a backend the first time it is selected.
type Factory func(ctx context.Context) (Backend, error)

// Static returns a Factory for an already constructed backend.
func Static(b Backend) Factory {
	return func(context.Context) (Backend, error) { return b, nil }
}

// DefaultRetryBackoff is how long a failed backend construction is reported
// to later callers before the factory is tried again.
const DefaultRetryBackoff = time.Second

// Selector resolves a Kind to its backend. Each backend is created on first
// use and then shared by every cache definition of that kind for the life of
// the process. A failed construction is not memoized: callers of that kind
// get the same error for the retry backoff, then the factory runs again.
// Constructing one kind never blocks selects of another.
type Selector struct {
	slots   map[Kind]*slot
	backoff time.Duration
	now     func() time.Time
	logger  logger.Logger
}

type slot struct {
	mu       sync.Mutex
	factory  Factory
	backend  Backend
	lastErr  error
	failedAt time.Time
}

// SelectorOption configures a Selector.
type SelectorOption func(*Selector)

// WithRetryBackoff sets how long a construction failure is replayed before
// the factory is retried. Zero retries on every select.
func WithRetryBackoff(d time.Duration) SelectorOption {
	return func(s *Selector) { s.backoff = d }
}

func withSelectorClock(now func() time.Time) SelectorOption {
	return func(s *Selector) { s.now = now }
}

// NewSelector returns a Selector for the given shared and local factories.
// A nil local factory falls back to NewInMemory with default options.
func NewSelector(log logger.Logger, shared, local Factory, opts ...SelectorOption) *Selector {
	if local == nil {
		// The backend outlives the request that first selects it.
		local = func(context.Context) (Backend, error) {
			return NewInMemory(context.Background()), nil
		}
	}
	if log == nil {
		log = logger.Nop()
	}
	s := &Selector{
		slots: map[Kind]*slot{
			KindShared: {factory: shared},
			KindLocal:  {factory: local},
		},
		backoff: DefaultRetryBackoff,
		now:     time.Now,
		logger:  log,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Select returns the backend for kind, creating it on first use. Concurrent
// selects of the same kind wait for a single construction.
func (s *Selector) Select(ctx context.Context, kind Kind) (Backend, error) {
	sl := s.slots[kind]
	if sl == nil || sl.factory == nil {
		return nil, errors.Mark(errors.Newf("cache: no %s backend configured", kind), ErrBackendUnavailable)
	}
	sl.mu.Lock()
	defer sl.mu.Unlock()
	if sl.backend != nil {
		return sl.backend, nil
	}
	if sl.lastErr != nil && s.now().Sub(sl.failedAt) < s.backoff {
		return nil, sl.lastErr
	}
	b, err := sl.factory(ctx)
	if err != nil {
		if !IsUnavailable(err) {
			err = errors.Mark(errors.Wrapf(err, "cache: creating %s backend", kind), ErrBackendUnavailable)
		}
		// A caller that gave up says nothing about the store.
		if ctx.Err() == nil {
			sl.lastErr, sl.failedAt = err, s.now()
		}
		return nil, err
	}
	s.logger.Debug("initialized %s cache backend (%s)", kind, b.Name())
	sl.backend, sl.lastErr = b, nil
	return b, nil
}

// Close closes every backend created so far.
func (s *Selector) Close() error {
	var firstErr error
	for _, kind := range []Kind{KindShared, KindLocal} {
		sl := s.slots[kind]
		sl.mu.Lock()
		if sl.backend != nil {
			if err := sl.backend.Close(); err != nil && firstErr == nil {
				firstErr = err
			}
			sl.backend = nil
		}
		sl.mu.Unlock()
	}
	return firstErr
}
