package entity

import (
	"context"
	"time"

	"github.com/vidfeed/fetchcache/cache"
)

type User struct {
	ID          int64     `msgpack:"id"`
	Handle      string    `msgpack:"handle"`
	DisplayName string    `msgpack:"display_name"`
	AvatarURL   string    `msgpack:"avatar_url,omitempty"`
	Verified    bool      `msgpack:"verified"`
	CreatedAt   time.Time `msgpack:"created_at"`
}

// UserSource reads users from the primary database.
type UserSource interface {
	GetUser(ctx context.Context, id int64) (User, error)
	GetUsers(ctx context.Context, ids []int64) (map[int64]User, error)
}

// UserCache serves user profiles one at a time or in batches. Both paths
// share keys, so a batch warms single lookups and vice versa.
type UserCache struct {
	single *cache.Single[int64, User]
	multi  *cache.Multi[int64, User]
	source UserSource
}

func NewUserCache(layer *cache.Layer, source UserSource) (*UserCache, error) {
	def := mustDefinition(ComponentUser)
	single, err := cache.NewSingle[int64, User](layer, def)
	if err != nil {
		return nil, err
	}
	multi, err := cache.NewMulti[int64, User](layer, def)
	if err != nil {
		return nil, err
	}
	return &UserCache{single: single, multi: multi, source: source}, nil
}

func (c *UserCache) Get(ctx context.Context, id int64) (User, bool, error) {
	return c.single.Fetch(ctx, id, func(ctx context.Context) (User, bool, error) {
		u, err := c.source.GetUser(ctx, id)
		return notFound(u, err)
	})
}

// GetMany returns the users that exist among ids.
func (c *UserCache) GetMany(ctx context.Context, ids []int64) (map[int64]User, error) {
	return c.multi.FetchMany(ctx, ids, c.source.GetUsers)
}

// Prime stores a user the write path already holds.
func (c *UserCache) Prime(ctx context.Context, u User) error {
	return c.single.Prime(ctx, u.ID, u)
}

func (c *UserCache) Flush(ctx context.Context, id int64) error {
	return c.single.Flush(ctx, id)
}
