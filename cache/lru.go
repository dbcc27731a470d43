package cache

import (
	"container/list"
	"context"
	"sync"
	"time"

	"github.com/deeplooplabs/fortune-gateway/clock"
	"github.com/deeplooplabs/fortune-gateway/logger"
)

// BoundedCache is a size-bounded LRU cache with per-entry TTL.
// The front of the recency list is the most recently used entry.
type BoundedCache struct {
	mu      sync.Mutex
	name    string
	cap     int
	ttl     time.Duration
	clock   clock.Clock
	log     logger.Logger
	items   map[string]*list.Element
	lruList *list.List

	hits      uint64
	misses    uint64
	sets      uint64
	deletes   uint64
	evictions uint64
}

// cacheEntry represents a single cache entry
type cacheEntry struct {
	key          string
	value        any
	createdAt    time.Time
	lastAccessed time.Time
	expiresAt    time.Time
}

func (e *cacheEntry) expired(now time.Time) bool {
	return now.After(e.expiresAt)
}

// NewBoundedCache creates a new bounded LRU cache
func NewBoundedCache(config *Config) *BoundedCache {
	cfg := config.withDefaults()
	return &BoundedCache{
		name:    cfg.Name,
		cap:     cfg.Capacity,
		ttl:     cfg.DefaultTTL,
		clock:   cfg.Clock,
		log:     cfg.Logger,
		items:   make(map[string]*list.Element),
		lruList: list.New(),
	}
}

// Get retrieves a value from the cache. Expired entries are removed and reported as a miss.
func (c *BoundedCache) Get(ctx context.Context, key string) (any, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	element, found := c.items[key]
	if !found {
		c.misses++
		return nil, false
	}

	entry := element.Value.(*cacheEntry)
	now := c.clock.Now()
	if entry.expired(now) {
		c.removeElement(element)
		c.misses++
		return nil, false
	}

	entry.lastAccessed = now
	c.lruList.MoveToFront(element)
	c.hits++
	return entry.value, true
}

// Set stores a value in the cache. Inserting a new key into a full cache evicts
// exactly one least recently used entry; overwriting never evicts.
func (c *BoundedCache) Set(ctx context.Context, key string, value any, ttl time.Duration) {
	if ttl <= 0 {
		ttl = c.ttl
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.clock.Now()
	c.sets++

	if element, found := c.items[key]; found {
		entry := element.Value.(*cacheEntry)
		entry.value = value
		entry.lastAccessed = now
		entry.expiresAt = now.Add(ttl)
		c.lruList.MoveToFront(element)
		return
	}

	if c.lruList.Len() >= c.cap {
		if oldest := c.lruList.Back(); oldest != nil {
			evicted := oldest.Value.(*cacheEntry)
			c.removeElement(oldest)
			c.evictions++
			c.log.Debug("cache eviction", logger.Fields{
				"cache": c.name,
				"key":   logger.Mask(evicted.key),
				"size":  c.lruList.Len(),
			})
		}
	}

	entry := &cacheEntry{
		key:          key,
		value:        value,
		createdAt:    now,
		lastAccessed: now,
		expiresAt:    now.Add(ttl),
	}
	c.items[key] = c.lruList.PushFront(entry)
}

// Delete removes a value from the cache
func (c *BoundedCache) Delete(ctx context.Context, key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	element, found := c.items[key]
	if !found {
		return false
	}
	c.removeElement(element)
	c.deletes++
	return true
}

// Has reports whether key is present and not expired. It never removes entries.
func (c *BoundedCache) Has(ctx context.Context, key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	element, found := c.items[key]
	if !found {
		return false
	}
	return !element.Value.(*cacheEntry).expired(c.clock.Now())
}

// Cleanup removes every expired entry and returns how many were removed
func (c *BoundedCache) Cleanup() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.clock.Now()
	removed := 0
	for element := c.lruList.Back(); element != nil; {
		prev := element.Prev()
		if element.Value.(*cacheEntry).expired(now) {
			c.removeElement(element)
			removed++
		}
		element = prev
	}

	if removed > 0 {
		c.log.Debug("cache cleanup", logger.Fields{
			"cache":   c.name,
			"removed": removed,
			"size":    c.lruList.Len(),
		})
	}
	return removed
}

// Clear removes all values from the cache
func (c *BoundedCache) Clear(ctx context.Context) {
	c.mu.Lock()
	defer c.mu.Unlock()

	size := c.lruList.Len()
	c.items = make(map[string]*list.Element)
	c.lruList = list.New()

	c.log.Info("cache cleared", logger.Fields{
		"cache":     c.name,
		"priorSize": size,
	})
}

// Len returns the number of stored entries, expired or not
func (c *BoundedCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lruList.Len()
}

// Capacity returns the maximum number of entries
func (c *BoundedCache) Capacity() int {
	return c.cap
}

// Stats returns cache statistics
func (c *BoundedCache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()

	return Stats{
		Hits:      c.hits,
		Misses:    c.misses,
		Sets:      c.sets,
		Deletes:   c.deletes,
		Evictions: c.evictions,
		HitRate:   hitRate(c.hits, c.misses),
		Size:      c.lruList.Len(),
		Capacity:  c.cap,
	}
}

// removeElement removes an element from the cache (must be called with lock held)
func (c *BoundedCache) removeElement(element *list.Element) {
	entry := element.Value.(*cacheEntry)
	delete(c.items, entry.key)
	c.lruList.Remove(element)
}

var _ Cache = (*BoundedCache)(nil)
