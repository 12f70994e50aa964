package cache

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
)

// Lock is a short-lived guard stored as an empty entry. Acquire succeeds for
// the first caller within the TTL and fails for everyone after it until the
// entry expires. There is no release.
type Lock struct {
	base
}

// NewLock returns a Lock for def. The definition's tier is the default TTL.
func NewLock(layer *Layer, def Definition) (*Lock, error) {
	if def.CacheMissing {
		return nil, errors.Mark(errors.Newf("cache: lock definition %q cannot cache missing records", def.Component), ErrInvalidDefinition)
	}
	b, err := newBase(layer, def)
	if err != nil {
		return nil, err
	}
	return &Lock{base: b}, nil
}

// Key returns the backend key for id.
func (l *Lock) Key(id string) string {
	return l.key(id)
}

// Acquire reports whether this call took the lock for id. It is a single
// conditional insert on the backend, never a read followed by a write. A
// ttl <= 0 uses the definition's tier.
func (l *Lock) Acquire(ctx context.Context, id string, ttl time.Duration) (bool, error) {
	backend, err := l.backend(ctx)
	if err != nil {
		return false, err
	}
	if ttl <= 0 {
		ttl = l.expires
	}
	key := l.Key(id)
	added, err := backend.Add(ctx, key, []byte{}, ttl)
	if err != nil {
		lockAcquireTotal.WithLabelValues(l.def.Component, "error").Inc()
		return false, err
	}
	if !added {
		lockAcquireTotal.WithLabelValues(l.def.Component, "held").Inc()
		l.logger.Debug("lock %s already held", key)
		return false, nil
	}
	lockAcquireTotal.WithLabelValues(l.def.Component, "acquired").Inc()
	return true, nil
}

// Flush drops the lock for id before it expires.
func (l *Lock) Flush(ctx context.Context, id string) error {
	backend, err := l.backend(ctx)
	if err != nil {
		return err
	}
	_, err = backend.Expire(ctx, l.Key(id))
	return err
}
