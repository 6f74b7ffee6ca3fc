package cache

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestCacheSetGet(t *testing.T) {
	c := New(Config{})
	defer c.Close()
	ctx := context.Background()

	c.Set(ctx, "a", 1)
	v, ok := c.Get(ctx, "a")
	require.True(t, ok)
	require.Equal(t, 1, v)

	_, ok = c.Get(ctx, "missing")
	require.False(t, ok)
}

func TestCacheTTLExpiry(t *testing.T) {
	c := New(Config{})
	defer c.Close()
	ctx := context.Background()

	c.SetWithTTL(ctx, "a", "x", 10*time.Millisecond)
	_, ok := c.Get(ctx, "a")
	require.True(t, ok)

	require.Eventually(t, func() bool {
		_, ok := c.Get(ctx, "a")
		return !ok
	}, time.Second, 5*time.Millisecond)
}

func TestCacheDelete(t *testing.T) {
	evicted := map[string]any{}
	c := New(Config{OnEviction: func(key string, value any) { evicted[key] = value }})
	defer c.Close()
	ctx := context.Background()

	c.Set(ctx, "a", 1)
	c.Delete("a")
	_, ok := c.Get(ctx, "a")
	require.False(t, ok)
	require.Equal(t, 1, evicted["a"])

	// Deleting an absent key fires no eviction callback.
	c.Delete("a")
	require.Len(t, evicted, 1)
}

func TestCacheMaxItemsEvictsClosestToExpiry(t *testing.T) {
	c := New(Config{MaxItems: 2, DefaultTTL: time.Hour})
	defer c.Close()
	ctx := context.Background()

	c.SetWithTTL(ctx, "short", 1, time.Minute)
	c.SetWithTTL(ctx, "long", 2, time.Hour)
	c.Set(ctx, "new", 3)

	_, ok := c.Get(ctx, "short")
	require.False(t, ok)
	_, ok = c.Get(ctx, "long")
	require.True(t, ok)
	_, ok = c.Get(ctx, "new")
	require.True(t, ok)
}
