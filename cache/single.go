package cache

import (
	"context"

	"github.com/cockroachdb/errors"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Invoker loads one value from the source of truth on a miss.
// The bool return indicates whether a value was found. Return false to signal
// "not found" without caching a zero value (e.g. sql.ErrNoRows scenarios).
type Invoker[T any] func(ctx context.Context) (T, bool, error)

// Entries of caches with CacheMissing set carry a one byte frame so a
// negative marker can never be confused with a stored value.
const (
	framePresent byte = '+'
	frameMissing byte = '-'
)

// Single is the fetch-through template for caches keyed by one logical id.
type Single[K LogicalID, T any] struct {
	base
	codec Codec[T]
}

// NewSingle returns a Single for def, storing values with DefaultCodec[T].
func NewSingle[K LogicalID, T any](layer *Layer, def Definition) (*Single[K, T], error) {
	return NewSingleWithCodec[K](layer, def, DefaultCodec[T]())
}

// NewSingleWithCodec returns a Single for def that stores values with codec.
func NewSingleWithCodec[K LogicalID, T any](layer *Layer, def Definition, codec Codec[T]) (*Single[K, T], error) {
	b, err := newBase(layer, def)
	if err != nil {
		return nil, err
	}
	if codec == nil {
		return nil, errors.Mark(errors.Newf("cache: definition %q needs a codec", def.Component), ErrInvalidDefinition)
	}
	return &Single[K, T]{base: b, codec: codec}, nil
}

// Key returns the backend key for id.
func (s *Single[K, T]) Key(id K) string {
	return s.key(FormatID(id))
}

// Fetch returns the value for id. On a hit the cached value is returned and
// load is not called. On a miss load is called once; a found value is written
// back with the definition's TTL and returned even if the write fails. A load
// error is returned marked ErrSource and nothing is written. A not-found
// result is only remembered when the definition sets CacheMissing.
func (s *Single[K, T]) Fetch(ctx context.Context, id K, load Invoker[T]) (T, bool, error) {
	var zero T
	ctx, span := tracer.Start(ctx, "cache.Fetch", trace.WithAttributes(
		attribute.String("cache.component", s.def.Component),
	))
	defer span.End()

	backend, err := s.backend(ctx)
	if err != nil {
		span.RecordError(err)
		return zero, false, err
	}
	key := s.Key(id)
	found, data, err := backend.Get(ctx, key)
	if err != nil {
		span.RecordError(err)
		return zero, false, err
	}
	if found {
		val, ok, err := s.decode(data)
		if err == nil {
			span.SetAttributes(attribute.Bool("cache.hit", true))
			cacheHitsTotal.WithLabelValues(s.def.Component).Inc()
			return val, ok, nil
		}
		decodeFailuresTotal.WithLabelValues(s.def.Component).Inc()
		s.logger.Warn("discarding undecodable entry %s: %s", key, err)
	}
	span.SetAttributes(attribute.Bool("cache.hit", false))
	cacheMissesTotal.WithLabelValues(s.def.Component).Inc()

	val, ok, err := load(ctx)
	if err != nil {
		sourceLoadsTotal.WithLabelValues(s.def.Component, "error").Inc()
		span.RecordError(err)
		return zero, false, sourceFailed(err)
	}
	if !ok {
		sourceLoadsTotal.WithLabelValues(s.def.Component, "not_found").Inc()
		if s.def.CacheMissing {
			s.store(ctx, backend, key, []byte{frameMissing})
		}
		return zero, false, nil
	}
	sourceLoadsTotal.WithLabelValues(s.def.Component, "found").Inc()
	if data, err := s.encode(val); err != nil {
		s.logger.Warn("not caching %s: %s", key, err)
	} else {
		s.store(ctx, backend, key, data)
	}
	return val, true, nil
}

// Prime writes val for id without consulting the source, for write paths
// that already hold the fresh record.
func (s *Single[K, T]) Prime(ctx context.Context, id K, val T) error {
	backend, err := s.backend(ctx)
	if err != nil {
		return err
	}
	data, err := s.encode(val)
	if err != nil {
		return err
	}
	return backend.Set(ctx, s.Key(id), data, s.expires)
}

// Flush removes the entry for id. Flushing an absent entry is not an error.
func (s *Single[K, T]) Flush(ctx context.Context, id K) error {
	backend, err := s.backend(ctx)
	if err != nil {
		return err
	}
	_, err = backend.Expire(ctx, s.Key(id))
	return err
}

func (s *Single[K, T]) encode(val T) ([]byte, error) {
	data, err := s.codec.Encode(val)
	if err != nil {
		return nil, err
	}
	if !s.def.CacheMissing {
		return data, nil
	}
	framed := make([]byte, 0, len(data)+1)
	framed = append(framed, framePresent)
	return append(framed, data...), nil
}

func (s *Single[K, T]) decode(data []byte) (T, bool, error) {
	var zero T
	if s.def.CacheMissing {
		if len(data) == 0 {
			return zero, false, serialization(errors.New("empty entry"), "cache: %s", s.def.Component)
		}
		switch data[0] {
		case frameMissing:
			return zero, false, nil
		case framePresent:
			data = data[1:]
		default:
			return zero, false, serialization(errors.Newf("unknown frame %q", data[0]), "cache: %s", s.def.Component)
		}
	}
	val, err := s.codec.Decode(data)
	if err != nil {
		return zero, false, err
	}
	return val, true, nil
}
