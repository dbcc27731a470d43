package gateway

import (
	fortune_gateway "github.com/deeplooplabs/fortune-gateway"
	"github.com/deeplooplabs/fortune-gateway/cache"
	"github.com/deeplooplabs/fortune-gateway/handler"
	"github.com/deeplooplabs/fortune-gateway/logger"
	"github.com/deeplooplabs/fortune-gateway/provider"
	"github.com/deeplooplabs/fortune-gateway/ratelimit"
)

// Option configures the Gateway
type Option func(*Gateway)

// WithCache sets the response cache
func WithCache(c *cache.TieredCache) Option {
	return func(g *Gateway) {
		g.cache = c
	}
}

// WithTagIndex sets the tag index used for invalidation
func WithTagIndex(tags *cache.TagIndex) Option {
	return func(g *Gateway) {
		g.tags = tags
	}
}

// WithRateLimiter sets the rate limit policy registry
func WithRateLimiter(r *ratelimit.Registry) Option {
	return func(g *Gateway) {
		g.limiter = r
	}
}

// WithGenerator sets the upstream generator
func WithGenerator(gen provider.Generator) Option {
	return func(g *Gateway) {
		g.generator = gen
	}
}

// WithEndpoint registers a generation endpoint
func WithEndpoint(ep handler.Endpoint) Option {
	return func(g *Gateway) {
		g.endpoints = append(g.endpoints, ep)
	}
}

// WithLogger sets the logger
func WithLogger(log logger.Logger) Option {
	return func(g *Gateway) {
		g.log = log
	}
}

// WithMetrics enables Prometheus metrics and the /metrics endpoint
func WithMetrics(m *Metrics) Option {
	return func(g *Gateway) {
		g.metrics = m
	}
}

// WithCORS enables CORS handling
func WithCORS(cfg *CORSConfig) Option {
	return func(g *Gateway) {
		g.cors = cfg
	}
}

// WithAdminToken enables the /admin/ routes guarded by token
func WithAdminToken(token string) Option {
	return func(g *Gateway) {
		g.adminToken = token
	}
}

// WithTrustedProxies sets the proxies whose forwarding headers identify clients
func WithTrustedProxies(proxies fortune_gateway.TrustedProxies) Option {
	return func(g *Gateway) {
		g.proxies = proxies
	}
}
