package cache

import (
	"context"
	"time"

	"github.com/deeplooplabs/fortune-gateway/clock"
	"github.com/deeplooplabs/fortune-gateway/logger"
)

// Cache is the interface shared by the bounded and the tiered response caches
type Cache interface {
	// Get retrieves a value from the cache
	Get(ctx context.Context, key string) (any, bool)

	// Set stores a value in the cache with a TTL
	Set(ctx context.Context, key string, value any, ttl time.Duration)

	// Delete removes a value from the cache and reports whether it was present
	Delete(ctx context.Context, key string) bool

	// Has reports whether a live entry exists without touching recency
	Has(ctx context.Context, key string) bool

	// Clear removes all values from the cache
	Clear(ctx context.Context)
}

// KeyStore is the part of Cache the tag index needs
type KeyStore interface {
	Delete(ctx context.Context, key string) bool
	Has(ctx context.Context, key string) bool
}

// Stats represents cache statistics
type Stats struct {
	Hits      uint64  `json:"hits"`
	Misses    uint64  `json:"misses"`
	Sets      uint64  `json:"sets"`
	Deletes   uint64  `json:"deletes"`
	Evictions uint64  `json:"evictions"`
	HitRate   float64 `json:"hitRate"`
	Size      int     `json:"size"`
	Capacity  int     `json:"capacity"`
}

// Config holds bounded cache configuration
type Config struct {
	// Name labels the cache in log lines (default: "cache")
	Name string

	// Capacity is the maximum number of entries (default: 1000)
	Capacity int

	// DefaultTTL is used when Set is called with ttl <= 0 (default: 5 minutes)
	DefaultTTL time.Duration

	// Clock is the time source (default: wall clock)
	Clock clock.Clock

	// Logger receives eviction and clear events (default: discard)
	Logger logger.Logger
}

// DefaultConfig returns a default cache configuration
func DefaultConfig() *Config {
	return &Config{
		Name:       "cache",
		Capacity:   1000,
		DefaultTTL: 5 * time.Minute,
	}
}

func (c *Config) withDefaults() *Config {
	out := DefaultConfig()
	if c == nil {
		out.Clock = clock.Real{}
		out.Logger = logger.Nop()
		return out
	}
	if c.Name != "" {
		out.Name = c.Name
	}
	if c.Capacity > 0 {
		out.Capacity = c.Capacity
	}
	if c.DefaultTTL > 0 {
		out.DefaultTTL = c.DefaultTTL
	}
	out.Clock = clock.OrReal(c.Clock)
	out.Logger = logger.OrNop(c.Logger)
	return out
}

func hitRate(hits, misses uint64) float64 {
	total := hits + misses
	if total == 0 {
		return 0
	}
	return float64(hits) / float64(total)
}
