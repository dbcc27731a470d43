package cache

import (
	"context"
	"fmt"
	"math/rand"
	"testing"
	"time"

	"github.com/deeplooplabs/fortune-gateway/clock"
	"github.com/deeplooplabs/fortune-gateway/logger"
)

func newTestCache(capacity int) (*BoundedCache, *clock.Fake) {
	clk := clock.NewFake(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
	return NewBoundedCache(&Config{Capacity: capacity, DefaultTTL: time.Minute, Clock: clk}), clk
}

func TestBoundedCache_SetGet(t *testing.T) {
	cache, _ := newTestCache(10)
	ctx := context.Background()

	cache.Set(ctx, "test-key", "test-value", 5*time.Minute)

	retrieved, found := cache.Get(ctx, "test-key")
	if !found {
		t.Fatal("Expected to find key in cache")
	}
	if retrieved != "test-value" {
		t.Fatalf("Expected test-value, got %v", retrieved)
	}

	if _, found := cache.Get(ctx, "missing"); found {
		t.Fatal("Expected miss for unknown key")
	}
}

func TestBoundedCache_Expiration(t *testing.T) {
	cache, clk := newTestCache(10)
	ctx := context.Background()

	cache.Set(ctx, "expire-key", "expire-value", 100*time.Millisecond)

	clk.Advance(50 * time.Millisecond)
	if v, found := cache.Get(ctx, "expire-key"); !found || v != "expire-value" {
		t.Fatalf("Expected hit at 50ms, got %v %v", v, found)
	}

	clk.Advance(100 * time.Millisecond)
	if _, found := cache.Get(ctx, "expire-key"); found {
		t.Fatal("Expected key to be expired at 150ms")
	}
	if cache.Len() != 0 {
		t.Fatalf("Expected expired entry to be removed by Get, size %d", cache.Len())
	}
}

func TestBoundedCache_DefaultTTL(t *testing.T) {
	cache, clk := newTestCache(10)
	ctx := context.Background()

	cache.Set(ctx, "k", 1, 0)
	clk.Advance(59 * time.Second)
	if !cache.Has(ctx, "k") {
		t.Fatal("Expected key to live for the default TTL")
	}
	clk.Advance(2 * time.Second)
	if cache.Has(ctx, "k") {
		t.Fatal("Expected key to expire after the default TTL")
	}
}

func TestBoundedCache_LRUEviction(t *testing.T) {
	cache, _ := newTestCache(3)
	ctx := context.Background()

	cache.Set(ctx, "key1", "value1", time.Minute)
	cache.Set(ctx, "key2", "value2", time.Minute)
	cache.Set(ctx, "key3", "value3", time.Minute)

	// Touch key1 so key2 becomes the least recently used
	if _, found := cache.Get(ctx, "key1"); !found {
		t.Fatal("Expected key1 to exist")
	}

	cache.Set(ctx, "key4", "value4", time.Minute)

	if cache.Has(ctx, "key2") {
		t.Fatal("Expected key2 to be evicted")
	}
	for _, k := range []string{"key1", "key3", "key4"} {
		if !cache.Has(ctx, k) {
			t.Fatalf("Expected %s to exist", k)
		}
	}

	stats := cache.Stats()
	if stats.Evictions != 1 {
		t.Fatalf("Expected 1 eviction, got %d", stats.Evictions)
	}
}

func TestBoundedCache_OverwriteDoesNotEvict(t *testing.T) {
	cache, _ := newTestCache(2)
	ctx := context.Background()

	cache.Set(ctx, "a", 1, time.Minute)
	cache.Set(ctx, "b", 2, time.Minute)
	cache.Set(ctx, "a", 3, time.Minute)

	if cache.Len() != 2 {
		t.Fatalf("Expected size 2, got %d", cache.Len())
	}
	if cache.Stats().Evictions != 0 {
		t.Fatal("Expected no eviction on overwrite")
	}
	if v, _ := cache.Get(ctx, "a"); v != 3 {
		t.Fatalf("Expected overwritten value 3, got %v", v)
	}
}

func TestBoundedCache_CapacityInvariant(t *testing.T) {
	const capacity = 5
	cache, _ := newTestCache(capacity)
	ctx := context.Background()
	rng := rand.New(rand.NewSource(42))

	for i := 0; i < 500; i++ {
		cache.Set(ctx, fmt.Sprintf("key-%d", rng.Intn(20)), i, time.Minute)
		if cache.Len() > capacity {
			t.Fatalf("size %d exceeds capacity %d after set %d", cache.Len(), capacity, i)
		}
		if rng.Intn(3) == 0 {
			cache.Get(ctx, fmt.Sprintf("key-%d", rng.Intn(20)))
		}
	}
}

func TestBoundedCache_HasDoesNotDelete(t *testing.T) {
	cache, clk := newTestCache(10)
	ctx := context.Background()

	cache.Set(ctx, "k", "v", 10*time.Millisecond)
	clk.Advance(20 * time.Millisecond)

	if cache.Has(ctx, "k") {
		t.Fatal("Expected Has to be false for an expired key")
	}
	if cache.Len() != 1 {
		t.Fatal("Expected Has to leave the expired entry in place")
	}
}

func TestBoundedCache_Delete(t *testing.T) {
	cache, _ := newTestCache(10)
	ctx := context.Background()

	cache.Set(ctx, "k", "v", time.Minute)
	if !cache.Delete(ctx, "k") {
		t.Fatal("Expected Delete to report removal")
	}
	if cache.Delete(ctx, "k") {
		t.Fatal("Expected second Delete to report nothing removed")
	}
	if cache.Stats().Deletes != 1 {
		t.Fatalf("Expected 1 delete, got %d", cache.Stats().Deletes)
	}
}

func TestBoundedCache_Cleanup(t *testing.T) {
	cache, clk := newTestCache(10)
	ctx := context.Background()

	cache.Set(ctx, "short1", 1, time.Second)
	cache.Set(ctx, "short2", 2, time.Second)
	cache.Set(ctx, "long", 3, time.Hour)

	clk.Advance(2 * time.Second)

	if removed := cache.Cleanup(); removed != 2 {
		t.Fatalf("Expected 2 removed, got %d", removed)
	}
	if cache.Len() != 1 || !cache.Has(ctx, "long") {
		t.Fatal("Expected only the long-lived key to remain")
	}
	if removed := cache.Cleanup(); removed != 0 {
		t.Fatalf("Expected nothing left to remove, got %d", removed)
	}
}

func TestBoundedCache_Clear(t *testing.T) {
	rec := logger.NewRecorder()
	cache := NewBoundedCache(&Config{Capacity: 10, Logger: rec})
	ctx := context.Background()

	cache.Set(ctx, "a", 1, time.Minute)
	cache.Set(ctx, "b", 2, time.Minute)
	cache.Clear(ctx)

	if cache.Len() != 0 {
		t.Fatalf("Expected empty cache, got %d", cache.Len())
	}
	entries := rec.Find("cache cleared")
	if len(entries) != 1 || entries[0].Meta["priorSize"] != 2 {
		t.Fatalf("Expected clear to log prior size 2, got %+v", entries)
	}
}

func TestBoundedCache_Stats(t *testing.T) {
	cache, _ := newTestCache(10)
	ctx := context.Background()

	stats := cache.Stats()
	if stats.Hits != 0 || stats.Misses != 0 || stats.HitRate != 0 {
		t.Fatal("Expected zero stats initially")
	}
	if stats.Capacity != 10 {
		t.Fatalf("Expected capacity 10, got %d", stats.Capacity)
	}

	cache.Set(ctx, "key1", "value1", time.Minute)
	cache.Get(ctx, "key1") // hit
	cache.Get(ctx, "key1") // hit
	cache.Get(ctx, "key2") // miss

	stats = cache.Stats()
	if stats.Hits != 2 {
		t.Fatalf("Expected 2 hits, got %d", stats.Hits)
	}
	if stats.Misses != 1 {
		t.Fatalf("Expected 1 miss, got %d", stats.Misses)
	}
	if stats.Sets != 1 || stats.Size != 1 {
		t.Fatalf("Expected 1 set and size 1, got %d/%d", stats.Sets, stats.Size)
	}
	if stats.HitRate < 0.66 || stats.HitRate > 0.67 {
		t.Fatalf("Expected hit rate 2/3, got %f", stats.HitRate)
	}
}

func TestBoundedCache_EvictionLogsMaskedKey(t *testing.T) {
	rec := logger.NewRecorder()
	cache := NewBoundedCache(&Config{Capacity: 1, Logger: rec})
	ctx := context.Background()

	cache.Set(ctx, "fortune:aries:2024-01-01", 1, time.Minute)
	cache.Set(ctx, "fortune:taurus:2024-01-01", 2, time.Minute)

	entries := rec.Find("cache eviction")
	if len(entries) != 1 {
		t.Fatalf("Expected one eviction log, got %d", len(entries))
	}
	if entries[0].Meta["key"] != "for***-01" {
		t.Fatalf("Expected masked key, got %v", entries[0].Meta["key"])
	}
}
