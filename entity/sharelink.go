package entity

import (
	"context"
	"time"

	"github.com/vidfeed/fetchcache/cache"
)

type ShareLink struct {
	Code      string    `msgpack:"code"`
	PostID    int64     `msgpack:"post_id"`
	CreatorID int64     `msgpack:"creator_id"`
	ExpiresAt time.Time `msgpack:"expires_at,omitempty"`
}

// Expired reports whether the link has an expiry before now.
func (l ShareLink) Expired(now time.Time) bool {
	return !l.ExpiresAt.IsZero() && now.After(l.ExpiresAt)
}

type ShareLinkSource interface {
	GetShareLink(ctx context.Context, code string) (ShareLink, error)
}

// ShareLinkCache resolves short share codes. Codes are random and scraped
// constantly, so unknown codes are cached as absent too. Creating a link
// must Flush its code in case a lookup raced the insert.
type ShareLinkCache struct {
	single *cache.Single[string, ShareLink]
	source ShareLinkSource
}

func NewShareLinkCache(layer *cache.Layer, source ShareLinkSource) (*ShareLinkCache, error) {
	single, err := cache.NewSingle[string, ShareLink](layer, mustDefinition(ComponentShareLink))
	if err != nil {
		return nil, err
	}
	return &ShareLinkCache{single: single, source: source}, nil
}

func (c *ShareLinkCache) Get(ctx context.Context, code string) (ShareLink, bool, error) {
	return c.single.Fetch(ctx, code, func(ctx context.Context) (ShareLink, bool, error) {
		link, err := c.source.GetShareLink(ctx, code)
		return notFound(link, err)
	})
}

func (c *ShareLinkCache) Flush(ctx context.Context, code string) error {
	return c.single.Flush(ctx, code)
}
