package cache

import (
	"context"
	"strconv"
	"strings"

	"github.com/cockroachdb/errors"
)

// PageRequest selects one page of a listing, either by page number and limit
// or by an opaque continuation token. With a token, Page is ignored and Limit
// is optional.
type PageRequest struct {
	Page  int
	Limit int
	Token string
}

func (r PageRequest) validate() error {
	if r.Token != "" {
		if r.Limit < 0 {
			return errors.Mark(errors.Newf("cache: limit must be >= 0, got %d", r.Limit), ErrInvalidRequest)
		}
		return nil
	}
	if r.Page < 0 {
		return errors.Mark(errors.Newf("cache: page must be >= 0, got %d", r.Page), ErrInvalidRequest)
	}
	if r.Limit <= 0 {
		return errors.Mark(errors.Newf("cache: limit must be > 0, got %d", r.Limit), ErrInvalidRequest)
	}
	return nil
}

// suffix is the page-dependent part of the logical id.
func (r PageRequest) suffix() string {
	if r.Token != "" {
		return "t:" + strconv.Itoa(r.Limit) + ":" + r.Token
	}
	return "p:" + strconv.Itoa(r.Page) + ":" + strconv.Itoa(r.Limit)
}

// Page is one cached page of a listing.
type Page[T any] struct {
	Items   []T    `msgpack:"items"`
	HasMore bool   `msgpack:"more"`
	Next    string `msgpack:"next,omitempty"`
}

// PageOf builds a page from a source query run with limit, reporting a
// further page whenever the query filled the limit.
func PageOf[T any](items []T, limit int) Page[T] {
	return Page[T]{Items: items, HasMore: limit > 0 && len(items) >= limit}
}

// PageInvoker loads one page from the source of truth.
type PageInvoker[T any] func(ctx context.Context, req PageRequest) (Page[T], error)

// Paginated caches the pages of a listing independently, each under the
// listing's base id plus the page suffix. Empty pages are cached like any
// other page.
type Paginated[T any] struct {
	pages *Single[string, Page[T]]
}

// NewPaginated returns a Paginated for def.
func NewPaginated[T any](layer *Layer, def Definition) (*Paginated[T], error) {
	if def.CacheMissing {
		return nil, errors.Mark(errors.Newf("cache: paginated definition %q cannot cache missing records", def.Component), ErrInvalidDefinition)
	}
	pages, err := NewSingleWithCodec[string](layer, def, ObjectCodec[Page[T]]())
	if err != nil {
		return nil, err
	}
	return &Paginated[T]{pages: pages}, nil
}

var pageIDEscaper = strings.NewReplacer("%", "%25", "|", "%7C")

// pageID joins base and the page suffix. base is escaped so that no two
// (base, request) pairs share an id.
func pageID(base string, req PageRequest) string {
	return pageIDEscaper.Replace(base) + "|" + req.suffix()
}

// Definition returns the definition the cache was built from.
func (p *Paginated[T]) Definition() Definition { return p.pages.Definition() }

// Key returns the backend key for one page.
func (p *Paginated[T]) Key(base string, req PageRequest) string {
	return p.pages.Key(pageID(base, req))
}

// FetchPage returns the page selected by req, loading it on a miss.
func (p *Paginated[T]) FetchPage(ctx context.Context, base string, req PageRequest, load PageInvoker[T]) (Page[T], error) {
	if err := req.validate(); err != nil {
		return Page[T]{}, err
	}
	page, _, err := p.pages.Fetch(ctx, pageID(base, req), func(ctx context.Context) (Page[T], bool, error) {
		page, err := load(ctx, req)
		if err != nil {
			return Page[T]{}, false, err
		}
		return page, true, nil
	})
	return page, err
}

// FlushPage removes one cached page.
func (p *Paginated[T]) FlushPage(ctx context.Context, base string, req PageRequest) error {
	if err := req.validate(); err != nil {
		return err
	}
	return p.pages.Flush(ctx, pageID(base, req))
}
