package cache

import (
	"context"

	"github.com/cockroachdb/errors"
)

var (
	// ErrBackendUnavailable marks failures to reach the shared or local store.
	ErrBackendUnavailable = errors.New("cache: backend unavailable")
	// ErrSource marks failures returned by a source-of-truth loader. The
	// loader's own error stays in the chain, so errors.Is matches both.
	ErrSource = errors.New("cache: source fetch failed")
	// ErrSerialization marks values that could not be encoded or decoded.
	ErrSerialization = errors.New("cache: serialization failed")
	// ErrInvalidDefinition is returned when a cache definition is incomplete.
	ErrInvalidDefinition = errors.New("cache: invalid definition")
	// ErrInvalidRequest is returned for malformed page requests.
	ErrInvalidRequest = errors.New("cache: invalid request")
)

func unavailable(err error, backend, op string) error {
	return errors.Mark(errors.Wrapf(err, "%s %s", backend, op), ErrBackendUnavailable)
}

// callerDone returns the caller's own context error, wrapped but not marked
// unavailable: a client that went away says nothing about the store.
func callerDone(ctx context.Context, backend, op string) error {
	if err := ctx.Err(); err != nil {
		return errors.Wrapf(err, "%s %s", backend, op)
	}
	return nil
}

// storeFailed classifies err from a call made on behalf of ctx. It is marked
// unavailable unless ctx itself ended, which also covers a query timeout
// derived from ctx firing only because the caller's deadline did.
func storeFailed(ctx context.Context, err error, backend, op string) error {
	if ctx.Err() != nil {
		return errors.Wrapf(err, "%s %s", backend, op)
	}
	return unavailable(err, backend, op)
}

func sourceFailed(err error) error {
	return errors.Mark(err, ErrSource)
}

func serialization(err error, format string, args ...interface{}) error {
	return errors.Mark(errors.Wrapf(err, format, args...), ErrSerialization)
}

// IsUnavailable reports whether err means the backend could not be reached.
func IsUnavailable(err error) bool {
	return errors.Is(err, ErrBackendUnavailable)
}
