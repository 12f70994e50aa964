package cache

import (
	"context"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/vidfeed/fetchcache/logger"
	"go.opentelemetry.io/otel"
)

var tracer = otel.Tracer("github.com/vidfeed/fetchcache/cache")

// DefaultWriteConcurrency bounds the parallel write-back of a batch fetch.
const DefaultWriteConcurrency = 8

// Layer carries what every cache definition shares: the key composer, the
// backend selector, the tier table and the logger. One Layer is built at
// process start and injected into every cache.
type Layer struct {
	keys             Keys
	selector         *Selector
	tiers            Tiers
	logger           logger.Logger
	writeConcurrency int
}

// LayerOption configures a Layer.
type LayerOption func(*Layer)

// WithLogger sets the logger used for recovered failures.
func WithLogger(l logger.Logger) LayerOption {
	return func(layer *Layer) { layer.logger = l }
}

// WithTiers overrides tier TTLs.
func WithTiers(t Tiers) LayerOption {
	return func(layer *Layer) { layer.tiers = layer.tiers.Merge(t) }
}

// WithWriteConcurrency bounds the parallel write-back of FetchMany.
func WithWriteConcurrency(n int) LayerOption {
	return func(layer *Layer) { layer.writeConcurrency = n }
}

// NewLayer returns a Layer composing keys with keys and resolving backends through selector.
func NewLayer(keys Keys, selector *Selector, opts ...LayerOption) *Layer {
	layer := &Layer{
		keys:             keys,
		selector:         selector,
		tiers:            DefaultTiers(),
		logger:           logger.Nop(),
		writeConcurrency: DefaultWriteConcurrency,
	}
	for _, opt := range opts {
		opt(layer)
	}
	if layer.writeConcurrency < 1 {
		layer.writeConcurrency = 1
	}
	return layer
}

// Keys returns the layer's key composer.
func (l *Layer) Keys() Keys { return l.keys }

// Selector returns the layer's backend selector.
func (l *Layer) Selector() *Selector { return l.selector }

// Close closes every backend the layer has opened.
func (l *Layer) Close() error { return l.selector.Close() }

// Flush removes the entry for logicalID under component. It is the generic
// form of the per-entity flush operations, used by tooling that only knows
// the component tag.
func (l *Layer) Flush(ctx context.Context, kind Kind, component, logicalID string) (bool, error) {
	backend, err := l.selector.Select(ctx, kind)
	if err != nil {
		return false, err
	}
	return backend.Expire(ctx, l.keys.Compose(component, logicalID))
}

// Definition is what each concrete cache declares once: its component tag,
// expiry tier and backend kind.
type Definition struct {
	// Component namespaces the keys of this cache. Use the cache's name.
	Component string
	// Tier selects the TTL.
	Tier Tier
	// Backend selects the store. Defaults to KindShared.
	Backend Kind
	// CacheMissing stores "not found" results as negative entries. Only
	// single-key caches support it; leave it off unless records can never
	// be created behind the cache's back within one TTL.
	CacheMissing bool
}

func (d Definition) validate() error {
	if strings.TrimSpace(d.Component) == "" {
		return errors.Mark(errors.New("cache: definition needs a component tag"), ErrInvalidDefinition)
	}
	if n := len(escapeKeyPart(d.Component)); n > MaxComponentLength {
		return errors.Mark(errors.Newf("cache: component tag %q is %d bytes escaped, max %d", d.Component, n, MaxComponentLength), ErrInvalidDefinition)
	}
	if _, ok := tierNames[d.Tier]; !ok {
		return errors.Mark(errors.Newf("cache: definition %q needs an expiry tier", d.Component), ErrInvalidDefinition)
	}
	if d.Backend != KindShared && d.Backend != KindLocal {
		return errors.Mark(errors.Newf("cache: definition %q has unknown backend kind %d", d.Component, d.Backend), ErrInvalidDefinition)
	}
	return nil
}

// base holds what every template resolves from its Definition.
type base struct {
	layer   *Layer
	def     Definition
	expires time.Duration
	logger  logger.Logger
}

func newBase(layer *Layer, def Definition) (base, error) {
	if layer == nil {
		return base{}, errors.Mark(errors.New("cache: layer is required"), ErrInvalidDefinition)
	}
	if err := def.validate(); err != nil {
		return base{}, err
	}
	return base{
		layer:   layer,
		def:     def,
		expires: layer.tiers.Duration(def.Tier),
		logger:  layer.logger.With(map[string]interface{}{"component": def.Component}),
	}, nil
}

func (b base) key(logicalID string) string {
	return b.layer.keys.Compose(b.def.Component, logicalID)
}

func (b base) backend(ctx context.Context) (Backend, error) {
	return b.layer.selector.Select(ctx, b.def.Backend)
}

// Definition returns the definition the cache was built from.
func (b base) Definition() Definition { return b.def }

// Expires returns the TTL the cache writes with.
func (b base) Expires() time.Duration { return b.expires }

// store writes one entry, logging and counting instead of failing.
func (b base) store(ctx context.Context, backend Backend, key string, data []byte) {
	if err := backend.Set(ctx, key, data, b.expires); err != nil {
		writeFailuresTotal.WithLabelValues(b.def.Component).Inc()
		b.logger.Warn("cache write for %s failed: %s", key, err)
	}
}
