package cache

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/deeplooplabs/fortune-gateway/clock"
	"github.com/deeplooplabs/fortune-gateway/logger"
)

// TieredConfig holds tiered cache configuration
type TieredConfig struct {
	// Tier1Capacity is the capacity of the small tier (default: 100)
	Tier1Capacity int

	// Tier2Capacity is the capacity of the large tier (default: 1000)
	Tier2Capacity int

	// SizeThreshold is the serialized size in bytes from which values go to tier 2 (default: 1024)
	SizeThreshold int

	// DefaultTTL is used when Set is called with ttl <= 0 (default: 1 hour)
	DefaultTTL time.Duration

	// PromotionTTL is the TTL given to a tier 2 hit copied into tier 1 (default: 5 minutes)
	PromotionTTL time.Duration

	// CleanupInterval is the period of the expired-entry sweep (default: 5 minutes)
	CleanupInterval time.Duration

	Clock  clock.Clock
	Logger logger.Logger
}

// DefaultTieredConfig returns a default tiered cache configuration
func DefaultTieredConfig() *TieredConfig {
	return &TieredConfig{
		Tier1Capacity:   100,
		Tier2Capacity:   1000,
		SizeThreshold:   1024,
		DefaultTTL:      time.Hour,
		PromotionTTL:    5 * time.Minute,
		CleanupInterval: 5 * time.Minute,
	}
}

// TieredCache routes small values to a fast tier and large values to a bigger
// tier, promoting tier 2 hits into tier 1.
type TieredCache struct {
	tier1     *BoundedCache
	tier2     *BoundedCache
	threshold int
	promoTTL  time.Duration
	interval  time.Duration
	log       logger.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
	hooks  []func(ctx context.Context)
}

// NewTieredCache creates a tiered cache. The maintenance sweep is not running
// until StartCleanup is called.
func NewTieredCache(config *TieredConfig) *TieredCache {
	cfg := DefaultTieredConfig()
	if config != nil {
		if config.Tier1Capacity > 0 {
			cfg.Tier1Capacity = config.Tier1Capacity
		}
		if config.Tier2Capacity > 0 {
			cfg.Tier2Capacity = config.Tier2Capacity
		}
		if config.SizeThreshold > 0 {
			cfg.SizeThreshold = config.SizeThreshold
		}
		if config.DefaultTTL > 0 {
			cfg.DefaultTTL = config.DefaultTTL
		}
		if config.PromotionTTL > 0 {
			cfg.PromotionTTL = config.PromotionTTL
		}
		if config.CleanupInterval > 0 {
			cfg.CleanupInterval = config.CleanupInterval
		}
		cfg.Clock = config.Clock
		cfg.Logger = config.Logger
	}
	log := logger.OrNop(cfg.Logger)

	return &TieredCache{
		tier1: NewBoundedCache(&Config{
			Name:       "tier1",
			Capacity:   cfg.Tier1Capacity,
			DefaultTTL: cfg.DefaultTTL,
			Clock:      cfg.Clock,
			Logger:     log,
		}),
		tier2: NewBoundedCache(&Config{
			Name:       "tier2",
			Capacity:   cfg.Tier2Capacity,
			DefaultTTL: cfg.DefaultTTL,
			Clock:      cfg.Clock,
			Logger:     log,
		}),
		threshold: cfg.SizeThreshold,
		promoTTL:  cfg.PromotionTTL,
		interval:  cfg.CleanupInterval,
		log:       log,
	}
}

// Get checks tier 1, then tier 2. A tier 2 hit is copied into tier 1 with the
// promotion TTL; the tier 2 copy is left in place.
func (t *TieredCache) Get(ctx context.Context, key string) (any, bool) {
	if v, ok := t.tier1.Get(ctx, key); ok {
		t.log.Debug("cache hit", logger.Fields{"tier": "tier1", "key": logger.Mask(key)})
		return v, true
	}

	v, ok := t.tier2.Get(ctx, key)
	if !ok {
		t.log.Debug("cache miss", logger.Fields{"key": logger.Mask(key)})
		return nil, false
	}

	t.tier1.Set(ctx, key, v, t.promoTTL)
	t.log.Debug("cache hit", logger.Fields{"tier": "tier2", "key": logger.Mask(key), "promoted": true})
	return v, true
}

// Set routes the value by its serialized size. The decision is made once, at
// write time, and any copy of key left in the other tier is removed.
func (t *TieredCache) Set(ctx context.Context, key string, value any, ttl time.Duration) {
	size, err := serializedSize(value)
	if err != nil {
		t.log.Warn("cache value not serializable, storing in tier2", logger.Fields{
			"key":   logger.Mask(key),
			"error": err.Error(),
		})
	}

	if err == nil && size < t.threshold {
		t.tier2.Delete(ctx, key)
		t.tier1.Set(ctx, key, value, ttl)
		return
	}
	t.tier1.Delete(ctx, key)
	t.tier2.Set(ctx, key, value, ttl)
}

// Delete removes key from both tiers
func (t *TieredCache) Delete(ctx context.Context, key string) bool {
	d1 := t.tier1.Delete(ctx, key)
	d2 := t.tier2.Delete(ctx, key)
	return d1 || d2
}

// Has reports whether either tier holds a live entry for key
func (t *TieredCache) Has(ctx context.Context, key string) bool {
	return t.tier1.Has(ctx, key) || t.tier2.Has(ctx, key)
}

// Clear empties both tiers
func (t *TieredCache) Clear(ctx context.Context) {
	t.tier1.Clear(ctx)
	t.tier2.Clear(ctx)
}

// Cleanup sweeps expired entries from both tiers
func (t *TieredCache) Cleanup() int {
	return t.tier1.Cleanup() + t.tier2.Cleanup()
}

// Tier1 exposes the fast tier
func (t *TieredCache) Tier1() *BoundedCache {
	return t.tier1
}

// Tier2 exposes the large tier
func (t *TieredCache) Tier2() *BoundedCache {
	return t.tier2
}

// TieredStats merges the statistics of both tiers
type TieredStats struct {
	Tier1   Stats   `json:"tier1"`
	Tier2   Stats   `json:"tier2"`
	Hits    uint64  `json:"hits"`
	Misses  uint64  `json:"misses"`
	Size    int     `json:"size"`
	HitRate float64 `json:"hitRate"`
}

// Stats returns per-tier and combined statistics
func (t *TieredCache) Stats() TieredStats {
	s1 := t.tier1.Stats()
	s2 := t.tier2.Stats()
	hits := s1.Hits + s2.Hits
	misses := s1.Misses + s2.Misses
	return TieredStats{
		Tier1:   s1,
		Tier2:   s2,
		Hits:    hits,
		Misses:  misses,
		Size:    s1.Size + s2.Size,
		HitRate: hitRate(hits, misses),
	}
}

// OnSweep registers fn to run after every Sweep, e.g. to prune indexes of
// keys the sweep removed.
func (t *TieredCache) OnSweep(fn func(ctx context.Context)) {
	t.mu.Lock()
	t.hooks = append(t.hooks, fn)
	t.mu.Unlock()
}

// Sweep removes expired entries from both tiers, then runs the OnSweep hooks.
// It returns the number of entries removed.
func (t *TieredCache) Sweep(ctx context.Context) int {
	removed := t.Cleanup()
	if removed > 0 {
		t.log.Info("cache sweep", logger.Fields{"removed": removed})
	}

	t.mu.Lock()
	hooks := append([]func(context.Context){}, t.hooks...)
	t.mu.Unlock()
	for _, fn := range hooks {
		fn(ctx)
	}
	return removed
}

// StartCleanup starts the periodic sweep. Calling it while running is a no-op.
func (t *TieredCache) StartCleanup() {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.cancel != nil {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	t.cancel = cancel
	t.done = make(chan struct{})
	go t.run(ctx, t.done)
}

// StopCleanup stops the periodic sweep and waits for it to exit. Safe to call repeatedly.
func (t *TieredCache) StopCleanup() {
	t.mu.Lock()
	cancel, done := t.cancel, t.done
	t.cancel, t.done = nil, nil
	t.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
}

func (t *TieredCache) run(ctx context.Context, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			t.Sweep(ctx)
		}
	}
}

func serializedSize(v any) (int, error) {
	switch val := v.(type) {
	case []byte:
		return len(val), nil
	case json.RawMessage:
		return len(val), nil
	case string:
		return len(val), nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return 0, err
	}
	return len(b), nil
}

var _ Cache = (*TieredCache)(nil)
