package cache

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTagIndex_InvalidateByTag(t *testing.T) {
	tc, _ := newTestTiered()
	tags := NewTagIndex(tc, nil)
	ctx := context.Background()

	tc.Set(ctx, "k1", "v1", time.Hour)
	tc.Set(ctx, "k2", "v2", time.Hour)
	tags.AddTag("k1", "t")
	tags.AddTag("k2", "t")

	require.True(t, tc.Has(ctx, "k1"))
	require.True(t, tc.Has(ctx, "k2"))

	assert.Equal(t, 2, tags.InvalidateByTag(ctx, "t"))
	assert.False(t, tc.Has(ctx, "k1"))
	assert.False(t, tc.Has(ctx, "k2"))

	// The tag is consumed by the first invalidation
	assert.Equal(t, 0, tags.InvalidateByTag(ctx, "t"))
	assert.Empty(t, tags.Tags())
}

func TestTagIndex_CountsOnlyActualDeletions(t *testing.T) {
	tc, _ := newTestTiered()
	tags := NewTagIndex(tc, nil)
	ctx := context.Background()

	tc.Set(ctx, "present", "v", time.Hour)
	tags.AddTag("present", "sign:aries")
	tags.AddTag("gone", "sign:aries")

	assert.Equal(t, 1, tags.InvalidateByTag(ctx, "sign:aries"))
	assert.Empty(t, tags.Keys("sign:aries"))
}

func TestTagIndex_MultipleTags(t *testing.T) {
	tc, _ := newTestTiered()
	tags := NewTagIndex(tc, nil)
	ctx := context.Background()

	tc.Set(ctx, "k1", "v1", time.Hour)
	tc.Set(ctx, "k2", "v2", time.Hour)
	tags.AddTag("k1", "fortune", "sign:aries")
	tags.AddTag("k2", "fortune", "sign:leo")
	tags.AddTag("k1", "fortune") // duplicate registration is a no-op

	assert.Equal(t, []string{"fortune", "sign:aries", "sign:leo"}, tags.Tags())
	assert.Equal(t, []string{"k1", "k2"}, tags.Keys("fortune"))

	assert.Equal(t, 1, tags.InvalidateByTag(ctx, "sign:leo"))
	assert.True(t, tc.Has(ctx, "k1"))
	assert.False(t, tc.Has(ctx, "k2"))

	// k2 is already gone, so only k1 counts
	assert.Equal(t, 1, tags.InvalidateByTag(ctx, "fortune"))
}

func TestTagIndex_Clear(t *testing.T) {
	tc, _ := newTestTiered()
	tags := NewTagIndex(tc, nil)
	ctx := context.Background()

	tc.Set(ctx, "k1", "v1", time.Hour)
	tags.AddTag("k1", "t")
	tags.Clear()

	assert.Empty(t, tags.Tags())
	assert.True(t, tc.Has(ctx, "k1"), "clearing the index keeps cache entries")
	assert.Equal(t, 0, tags.InvalidateByTag(ctx, "t"))
}

func TestTagIndex_AddTagWithoutTags(t *testing.T) {
	tags := NewTagIndex(NewBoundedCache(nil), nil)
	tags.AddTag("k")
	assert.Empty(t, tags.Tags())
}

func TestTagIndex_PruneDropsEvictedAndExpiredKeys(t *testing.T) {
	tc, clk := newTestTiered()
	tags := NewTagIndex(tc, nil)
	ctx := context.Background()

	tc.Set(ctx, "short", "v", time.Second)
	tags.AddTag("short", "fortune", "sign:leo")
	for _, key := range []string{"k1", "k2", "k3", "k4"} {
		tc.Set(ctx, key, "v", time.Hour)
		tags.AddTag(key, "fortune")
	}
	// tier1 holds four entries, so "short" was evicted
	require.False(t, tc.Has(ctx, "short"))

	assert.Equal(t, 2, tags.Prune(ctx))
	assert.Equal(t, []string{"k1", "k2", "k3", "k4"}, tags.Keys("fortune"))
	assert.Equal(t, []string{"fortune"}, tags.Tags(), "empty tags are dropped")

	clk.Advance(2 * time.Hour)
	assert.Equal(t, 4, tags.Prune(ctx))
	assert.Empty(t, tags.Tags())
}

func TestTagIndex_PrunedBySweep(t *testing.T) {
	tc, clk := newTestTiered()
	tags := NewTagIndex(tc, nil)
	tc.OnSweep(func(ctx context.Context) { tags.Prune(ctx) })
	ctx := context.Background()

	tc.Set(ctx, "k1", "v", time.Second)
	tc.Set(ctx, "k2", "v", time.Hour)
	tags.AddTag("k1", "t")
	tags.AddTag("k2", "t")

	clk.Advance(time.Minute)
	tc.Sweep(ctx)
	assert.Equal(t, []string{"k2"}, tags.Keys("t"))
}
