package cache

import (
	"context"
	"time"

	"github.com/deeplooplabs/fortune-gateway/logger"
	"golang.org/x/sync/singleflight"
)

// LoadFunc produces the value for a cache miss
type LoadFunc func(ctx context.Context) (any, error)

// Loader is a cache-aside helper. Concurrent misses on the same key share a
// single call to the LoadFunc.
type Loader struct {
	cache Cache
	tags  *TagIndex
	group singleflight.Group
	log   logger.Logger
}

// NewLoader creates a loader over c. tags may be nil.
func NewLoader(c Cache, tags *TagIndex, log logger.Logger) *Loader {
	return &Loader{
		cache: c,
		tags:  tags,
		log:   logger.OrNop(log),
	}
}

// Load returns the cached value for key, or calls fn, stores its result for
// ttl under the given tags and returns it. The bool reports a cache hit.
// Errors from fn are returned and nothing is cached.
func (l *Loader) Load(ctx context.Context, key string, ttl time.Duration, tags []string, fn LoadFunc) (any, bool, error) {
	if v, ok := l.cache.Get(ctx, key); ok {
		return v, true, nil
	}

	v, err, shared := l.group.Do(key, func() (any, error) {
		// The upstream call outlives a disconnecting leader so that followers
		// and the cache still get the result.
		loadCtx := context.WithoutCancel(ctx)

		val, err := fn(loadCtx)
		if err != nil {
			return nil, err
		}

		l.cache.Set(loadCtx, key, val, ttl)
		if l.tags != nil && len(tags) > 0 {
			l.tags.AddTag(key, tags...)
		}
		return val, nil
	})
	if err != nil {
		l.log.Warn("cache load failed", logger.Fields{
			"key":   logger.Mask(key),
			"error": err.Error(),
		})
		return nil, false, err
	}

	if shared {
		l.log.Debug("cache load shared", logger.Fields{"key": logger.Mask(key)})
	}
	return v, false, nil
}
