package cache

import (
	"context"

	"github.com/cockroachdb/errors"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
)

// BatchInvoker loads the records for ids from the source of truth in one
// call. Ids without a record are omitted from the returned map.
type BatchInvoker[K LogicalID, T any] func(ctx context.Context, ids []K) (map[K]T, error)

// Multi is the fetch-through template for caches read in batches. Every id
// is stored under its own key so later batches over a different subset of
// ids still hit.
type Multi[K LogicalID, T any] struct {
	base
	codec Codec[T]
}

// NewMulti returns a Multi for def, storing values with DefaultCodec[T].
func NewMulti[K LogicalID, T any](layer *Layer, def Definition) (*Multi[K, T], error) {
	return NewMultiWithCodec[K](layer, def, DefaultCodec[T]())
}

// NewMultiWithCodec returns a Multi for def that stores values with codec.
func NewMultiWithCodec[K LogicalID, T any](layer *Layer, def Definition, codec Codec[T]) (*Multi[K, T], error) {
	if def.CacheMissing {
		return nil, errors.Mark(errors.Newf("cache: batch definition %q cannot cache missing records", def.Component), ErrInvalidDefinition)
	}
	b, err := newBase(layer, def)
	if err != nil {
		return nil, err
	}
	if codec == nil {
		return nil, errors.Mark(errors.Newf("cache: definition %q needs a codec", def.Component), ErrInvalidDefinition)
	}
	return &Multi[K, T]{base: b, codec: codec}, nil
}

// Key returns the backend key for id.
func (m *Multi[K, T]) Key(id K) string {
	return m.key(FormatID(id))
}

// FetchMany returns the values for ids keyed by the ids themselves. The
// backend is read once for the whole batch and load is called at most once,
// with only the ids that missed. Ids with no record anywhere are absent from
// the result. A backend read failure or a load failure fails the whole call.
func (m *Multi[K, T]) FetchMany(ctx context.Context, ids []K, load BatchInvoker[K, T]) (map[K]T, error) {
	result := make(map[K]T, len(ids))
	if len(ids) == 0 {
		return result, nil
	}
	ctx, span := tracer.Start(ctx, "cache.FetchMany", trace.WithAttributes(
		attribute.String("cache.component", m.def.Component),
		attribute.Int("cache.requested", len(ids)),
	))
	defer span.End()

	backend, err := m.backend(ctx)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	keyToID := make(map[string]K, len(ids))
	keys := make([]string, 0, len(ids))
	for _, id := range ids {
		key := m.Key(id)
		if _, dup := keyToID[key]; dup {
			continue
		}
		keyToID[key] = id
		keys = append(keys, key)
	}

	entries, err := backend.GetMulti(ctx, keys)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	var miss []K
	for _, key := range keys {
		id := keyToID[key]
		if data, ok := entries[key]; ok {
			val, err := m.codec.Decode(data)
			if err == nil {
				result[id] = val
				continue
			}
			decodeFailuresTotal.WithLabelValues(m.def.Component).Inc()
			m.logger.Warn("discarding undecodable entry %s: %s", key, err)
		}
		miss = append(miss, id)
	}
	cacheHitsTotal.WithLabelValues(m.def.Component).Add(float64(len(result)))
	cacheMissesTotal.WithLabelValues(m.def.Component).Add(float64(len(miss)))
	span.SetAttributes(attribute.Int("cache.hits", len(result)), attribute.Int("cache.misses", len(miss)))
	if len(miss) == 0 {
		return result, nil
	}

	fetched, err := load(ctx, miss)
	if err != nil {
		sourceLoadsTotal.WithLabelValues(m.def.Component, "error").Inc()
		span.RecordError(err)
		return nil, sourceFailed(err)
	}
	sourceLoadsTotal.WithLabelValues(m.def.Component, "found").Inc()

	m.writeBack(ctx, backend, miss, fetched)
	for _, id := range miss {
		if val, ok := fetched[id]; ok {
			result[id] = val
		}
	}
	return result, nil
}

// writeBack stores each fetched record under its own key. Records returned
// for ids that were not asked for are ignored. Failures are logged only.
func (m *Multi[K, T]) writeBack(ctx context.Context, backend Backend, miss []K, fetched map[K]T) {
	var g errgroup.Group
	g.SetLimit(m.layer.writeConcurrency)
	for _, id := range miss {
		val, ok := fetched[id]
		if !ok {
			continue
		}
		key := m.Key(id)
		g.Go(func() error {
			data, err := m.codec.Encode(val)
			if err != nil {
				m.logger.Warn("not caching %s: %s", key, err)
				return nil
			}
			m.store(ctx, backend, key, data)
			return nil
		})
	}
	_ = g.Wait()
}

// Prime writes records without consulting the source.
func (m *Multi[K, T]) Prime(ctx context.Context, records map[K]T) error {
	backend, err := m.backend(ctx)
	if err != nil {
		return err
	}
	for id, val := range records {
		data, err := m.codec.Encode(val)
		if err != nil {
			return err
		}
		if err := backend.Set(ctx, m.Key(id), data, m.expires); err != nil {
			return err
		}
	}
	return nil
}

// Flush removes the entries for ids. Flushing absent entries is not an error.
func (m *Multi[K, T]) Flush(ctx context.Context, ids ...K) error {
	backend, err := m.backend(ctx)
	if err != nil {
		return err
	}
	for _, id := range ids {
		if _, err := backend.Expire(ctx, m.Key(id)); err != nil {
			return err
		}
	}
	return nil
}
