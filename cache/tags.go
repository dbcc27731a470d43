package cache

import (
	"context"
	"sort"
	"sync"

	"github.com/deeplooplabs/fortune-gateway/logger"
)

// TagIndex maps tags to cache keys for bulk invalidation.
// A tag is dropped from the index once it has been invalidated; keys stored
// afterwards must be tagged again.
type TagIndex struct {
	mu    sync.Mutex
	cache KeyStore
	tags  map[string]map[string]struct{}
	log   logger.Logger
}

// NewTagIndex creates a tag index deleting through c
func NewTagIndex(c KeyStore, log logger.Logger) *TagIndex {
	return &TagIndex{
		cache: c,
		tags:  make(map[string]map[string]struct{}),
		log:   logger.OrNop(log),
	}
}

// AddTag registers key under each tag
func (ti *TagIndex) AddTag(key string, tags ...string) {
	if len(tags) == 0 {
		return
	}

	ti.mu.Lock()
	defer ti.mu.Unlock()

	for _, tag := range tags {
		keys, ok := ti.tags[tag]
		if !ok {
			keys = make(map[string]struct{})
			ti.tags[tag] = keys
		}
		keys[key] = struct{}{}
	}
}

// InvalidateByTag deletes every key registered under tag and returns how many
// deletions actually removed an entry. The tag is removed from the index even
// when some of its keys were already gone.
func (ti *TagIndex) InvalidateByTag(ctx context.Context, tag string) int {
	ti.mu.Lock()
	keys := ti.tags[tag]
	delete(ti.tags, tag)
	ti.mu.Unlock()

	deleted := 0
	for key := range keys {
		if ti.cache.Delete(ctx, key) {
			deleted++
		}
	}

	if len(keys) > 0 {
		ti.log.Info("cache tag invalidated", logger.Fields{
			"tag":     tag,
			"keys":    len(keys),
			"deleted": deleted,
		})
	}
	return deleted
}

// Prune drops index entries for keys the cache no longer holds, whether they
// expired, were evicted or were deleted another way. Tags left without keys
// are removed. It returns the number of entries dropped.
func (ti *TagIndex) Prune(ctx context.Context) int {
	ti.mu.Lock()
	defer ti.mu.Unlock()

	live := make(map[string]bool)
	pruned := 0
	for tag, keys := range ti.tags {
		for key := range keys {
			ok, seen := live[key]
			if !seen {
				ok = ti.cache.Has(ctx, key)
				live[key] = ok
			}
			if !ok {
				delete(keys, key)
				pruned++
			}
		}
		if len(keys) == 0 {
			delete(ti.tags, tag)
		}
	}

	if pruned > 0 {
		ti.log.Debug("cache tag index pruned", logger.Fields{"entries": pruned})
	}
	return pruned
}

// Clear drops the whole index without touching the cache
func (ti *TagIndex) Clear() {
	ti.mu.Lock()
	ti.tags = make(map[string]map[string]struct{})
	ti.mu.Unlock()
}

// Tags returns the registered tags, sorted
func (ti *TagIndex) Tags() []string {
	ti.mu.Lock()
	defer ti.mu.Unlock()

	out := make([]string, 0, len(ti.tags))
	for tag := range ti.tags {
		out = append(out, tag)
	}
	sort.Strings(out)
	return out
}

// Keys returns the keys registered under tag, sorted
func (ti *TagIndex) Keys(tag string) []string {
	ti.mu.Lock()
	defer ti.mu.Unlock()

	out := make([]string, 0, len(ti.tags[tag]))
	for key := range ti.tags[tag] {
		out = append(out, key)
	}
	sort.Strings(out)
	return out
}
