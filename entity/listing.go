package entity

import (
	"context"
	"strconv"
	"strings"

	"github.com/vidfeed/fetchcache/cache"
)

// DefaultPageSize is used when a caller asks for a page without a limit.
const DefaultPageSize = 20

// ReplySource lists the replies to a post, newest first.
type ReplySource interface {
	ListReplyIDs(ctx context.Context, postID int64, offset, limit int) ([]int64, error)
}

// ReplyPageCache caches pages of reply ids under each post.
type ReplyPageCache struct {
	pages  *cache.Paginated[int64]
	source ReplySource
}

func NewReplyPageCache(layer *cache.Layer, source ReplySource) (*ReplyPageCache, error) {
	pages, err := cache.NewPaginated[int64](layer, mustDefinition(ComponentReplyPage))
	if err != nil {
		return nil, err
	}
	return &ReplyPageCache{pages: pages, source: source}, nil
}

func replyBase(postID int64) string {
	return strconv.FormatInt(postID, 10)
}

func pageRequest(page, limit int) cache.PageRequest {
	if limit <= 0 {
		limit = DefaultPageSize
	}
	return cache.PageRequest{Page: page, Limit: limit}
}

// Page returns one page of reply ids for postID.
func (c *ReplyPageCache) Page(ctx context.Context, postID int64, page, limit int) (cache.Page[int64], error) {
	return c.pages.FetchPage(ctx, replyBase(postID), pageRequest(page, limit), func(ctx context.Context, req cache.PageRequest) (cache.Page[int64], error) {
		ids, err := c.source.ListReplyIDs(ctx, postID, req.Page*req.Limit, req.Limit)
		if err != nil {
			return cache.Page[int64]{}, err
		}
		return cache.PageOf(ids, req.Limit), nil
	})
}

// Flush drops the cached first pages of postID, the ones a new reply shifts.
func (c *ReplyPageCache) Flush(ctx context.Context, postID int64, pages, limit int) error {
	for page := 0; page < pages; page++ {
		if err := c.pages.FlushPage(ctx, replyBase(postID), pageRequest(page, limit)); err != nil {
			return err
		}
	}
	return nil
}

// UserSearchSource runs a handle prefix search. cursor is empty for the first
// page; an empty next cursor means there are no more results.
type UserSearchSource interface {
	SearchUserIDs(ctx context.Context, prefix, cursor string, limit int) (ids []int64, next string, err error)
}

// UserSearchCache caches search result pages per normalized prefix.
type UserSearchCache struct {
	pages  *cache.Paginated[int64]
	source UserSearchSource
}

func NewUserSearchCache(layer *cache.Layer, source UserSearchSource) (*UserSearchCache, error) {
	pages, err := cache.NewPaginated[int64](layer, mustDefinition(ComponentUserSearch))
	if err != nil {
		return nil, err
	}
	return &UserSearchCache{pages: pages, source: source}, nil
}

// NormalizePrefix folds a search prefix so "@Ada " and "ada" share pages.
func NormalizePrefix(prefix string) string {
	return strings.ToLower(strings.TrimPrefix(strings.TrimSpace(prefix), "@"))
}

func searchRequest(cursor string, limit int) cache.PageRequest {
	if limit <= 0 {
		limit = DefaultPageSize
	}
	if cursor == "" {
		return cache.PageRequest{Page: 0, Limit: limit}
	}
	return cache.PageRequest{Token: cursor, Limit: limit}
}

// Search returns one page of user ids whose handle starts with prefix.
func (c *UserSearchCache) Search(ctx context.Context, prefix, cursor string, limit int) (cache.Page[int64], error) {
	base := NormalizePrefix(prefix)
	return c.pages.FetchPage(ctx, base, searchRequest(cursor, limit), func(ctx context.Context, req cache.PageRequest) (cache.Page[int64], error) {
		ids, next, err := c.source.SearchUserIDs(ctx, base, req.Token, req.Limit)
		if err != nil {
			return cache.Page[int64]{}, err
		}
		return cache.Page[int64]{Items: ids, HasMore: next != "", Next: next}, nil
	})
}

// Flush drops the first page of results for prefix.
func (c *UserSearchCache) Flush(ctx context.Context, prefix string, limit int) error {
	return c.pages.FlushPage(ctx, NormalizePrefix(prefix), searchRequest("", limit))
}
