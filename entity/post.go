package entity

import (
	"context"
	"time"

	"github.com/vidfeed/fetchcache/cache"
)

type Post struct {
	ID           int64     `msgpack:"id"`
	AuthorID     int64     `msgpack:"author_id"`
	ReplyTo      int64     `msgpack:"reply_to,omitempty"`
	Caption      string    `msgpack:"caption"`
	VideoURL     string    `msgpack:"video_url"`
	ThumbnailURL string    `msgpack:"thumbnail_url,omitempty"`
	DurationMS   int64     `msgpack:"duration_ms"`
	CreatedAt    time.Time `msgpack:"created_at"`
}

// PostSource reads posts and per-user aggregates from the post store.
type PostSource interface {
	GetPosts(ctx context.Context, ids []int64) (map[int64]Post, error)
	CountPostsByUser(ctx context.Context, userID int64) (int64, error)
}

// PostCache serves posts for feeds, which always ask for a batch.
type PostCache struct {
	multi  *cache.Multi[int64, Post]
	source PostSource
}

func NewPostCache(layer *cache.Layer, source PostSource) (*PostCache, error) {
	multi, err := cache.NewMulti[int64, Post](layer, mustDefinition(ComponentPost))
	if err != nil {
		return nil, err
	}
	return &PostCache{multi: multi, source: source}, nil
}

// GetMany returns the posts that exist among ids.
func (c *PostCache) GetMany(ctx context.Context, ids []int64) (map[int64]Post, error) {
	return c.multi.FetchMany(ctx, ids, c.source.GetPosts)
}

// Feed returns the posts for ids in the order given, skipping deleted ones.
func (c *PostCache) Feed(ctx context.Context, ids []int64) ([]Post, error) {
	byID, err := c.GetMany(ctx, ids)
	if err != nil {
		return nil, err
	}
	out := make([]Post, 0, len(byID))
	for _, id := range ids {
		if p, ok := byID[id]; ok {
			out = append(out, p)
			delete(byID, id)
		}
	}
	return out, nil
}

func (c *PostCache) Flush(ctx context.Context, ids ...int64) error {
	return c.multi.Flush(ctx, ids...)
}

// PostCountCache holds the number of posts each user has published. The
// count is stored raw so it can be adjusted in place by other writers.
type PostCountCache struct {
	single *cache.Single[int64, int64]
	source PostSource
}

func NewPostCountCache(layer *cache.Layer, source PostSource) (*PostCountCache, error) {
	single, err := cache.NewSingle[int64, int64](layer, mustDefinition(ComponentPostCount))
	if err != nil {
		return nil, err
	}
	return &PostCountCache{single: single, source: source}, nil
}

// Get returns the post count for userID. A user with no posts counts zero.
func (c *PostCountCache) Get(ctx context.Context, userID int64) (int64, error) {
	n, _, err := c.single.Fetch(ctx, userID, func(ctx context.Context) (int64, bool, error) {
		n, err := c.source.CountPostsByUser(ctx, userID)
		if err != nil {
			return 0, false, err
		}
		return n, true, nil
	})
	return n, err
}

func (c *PostCountCache) Flush(ctx context.Context, userID int64) error {
	return c.single.Flush(ctx, userID)
}
