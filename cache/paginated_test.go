package cache

import (
	"context"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPageOf(t *testing.T) {
	assert.True(t, PageOf([]int{1, 2}, 2).HasMore)
	assert.False(t, PageOf([]int{1}, 2).HasMore)
	assert.False(t, PageOf([]int{}, 2).HasMore)
	assert.False(t, PageOf([]int{1}, 0).HasMore)
}

func TestPaginatedCachesPagesIndependently(t *testing.T) {
	ctx := context.Background()
	layer := newTestLayer(t, newTestMemory(t))
	c, err := NewPaginated[int64](layer, Definition{Component: "replies", Tier: TierVerySmall})
	require.NoError(t, err)

	var requests []PageRequest
	load := func(ctx context.Context, req PageRequest) (Page[int64], error) {
		requests = append(requests, req)
		items := []int64{}
		for i := 0; i < req.Limit; i++ {
			items = append(items, int64(req.Page*req.Limit+i))
		}
		return PageOf(items, req.Limit), nil
	}

	first, err := c.FetchPage(ctx, "post:1", PageRequest{Page: 0, Limit: 2}, load)
	assert.NoError(t, err)
	assert.Equal(t, []int64{0, 1}, first.Items)
	assert.True(t, first.HasMore)

	second, err := c.FetchPage(ctx, "post:1", PageRequest{Page: 1, Limit: 2}, load)
	assert.NoError(t, err)
	assert.Equal(t, []int64{2, 3}, second.Items)

	again, err := c.FetchPage(ctx, "post:1", PageRequest{Page: 0, Limit: 2}, load)
	assert.NoError(t, err)
	assert.Equal(t, first, again)
	assert.Len(t, requests, 2)

	assert.NotEqual(t, c.Key("post:1", PageRequest{Page: 0, Limit: 2}), c.Key("post:1", PageRequest{Page: 0, Limit: 3}))
	assert.NotEqual(t, c.Key("a|p:0:1", PageRequest{Token: "x"}), c.Key("a", PageRequest{Token: "p:0:1|t:x"}))
}

func TestPaginatedToken(t *testing.T) {
	ctx := context.Background()
	layer := newTestLayer(t, newTestMemory(t))
	c, err := NewPaginated[string](layer, Definition{Component: "search", Tier: TierVerySmall})
	require.NoError(t, err)

	calls := 0
	load := func(ctx context.Context, req PageRequest) (Page[string], error) {
		calls++
		assert.Equal(t, "abc", req.Token)
		return Page[string]{Items: []string{"x"}, HasMore: true, Next: "def"}, nil
	}
	page, err := c.FetchPage(ctx, "jo", PageRequest{Token: "abc"}, load)
	assert.NoError(t, err)
	assert.Equal(t, "def", page.Next)
	_, err = c.FetchPage(ctx, "jo", PageRequest{Token: "abc"}, load)
	assert.NoError(t, err)
	assert.Equal(t, 1, calls)
}

func TestPaginatedEmptyPageIsCached(t *testing.T) {
	ctx := context.Background()
	layer := newTestLayer(t, newTestMemory(t))
	c, err := NewPaginated[int64](layer, Definition{Component: "replies", Tier: TierVerySmall})
	require.NoError(t, err)

	calls := 0
	load := func(ctx context.Context, req PageRequest) (Page[int64], error) {
		calls++
		return PageOf([]int64{}, req.Limit), nil
	}
	req := PageRequest{Page: 4, Limit: 10}
	for i := 0; i < 2; i++ {
		page, err := c.FetchPage(ctx, "post:1", req, load)
		assert.NoError(t, err)
		assert.Empty(t, page.Items)
		assert.False(t, page.HasMore)
	}
	assert.Equal(t, 1, calls)

	assert.NoError(t, c.FlushPage(ctx, "post:1", req))
	_, err = c.FetchPage(ctx, "post:1", req, load)
	assert.NoError(t, err)
	assert.Equal(t, 2, calls)
}

func TestPaginatedInvalidRequest(t *testing.T) {
	ctx := context.Background()
	layer := newTestLayer(t, newTestMemory(t))
	c, err := NewPaginated[int64](layer, Definition{Component: "replies", Tier: TierVerySmall})
	require.NoError(t, err)

	load := func(ctx context.Context, req PageRequest) (Page[int64], error) {
		t.Fatal("load must not be called for an invalid request")
		return Page[int64]{}, nil
	}
	_, err = c.FetchPage(ctx, "post:1", PageRequest{Page: 0, Limit: 0}, load)
	assert.ErrorIs(t, err, ErrInvalidRequest)
	_, err = c.FetchPage(ctx, "post:1", PageRequest{Page: -1, Limit: 5}, load)
	assert.ErrorIs(t, err, ErrInvalidRequest)
}

func TestPaginatedSourceError(t *testing.T) {
	ctx := context.Background()
	layer := newTestLayer(t, newTestMemory(t))
	c, err := NewPaginated[int64](layer, Definition{Component: "replies", Tier: TierVerySmall})
	require.NoError(t, err)

	dbErr := errors.New("timeout")
	_, err = c.FetchPage(ctx, "post:1", PageRequest{Limit: 5}, func(ctx context.Context, req PageRequest) (Page[int64], error) {
		return Page[int64]{}, dbErr
	})
	assert.ErrorIs(t, err, ErrSource)
	assert.ErrorIs(t, err, dbErr)
}
