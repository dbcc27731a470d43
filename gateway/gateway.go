package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	fortune_gateway "github.com/deeplooplabs/fortune-gateway"
	"github.com/deeplooplabs/fortune-gateway/cache"
	"github.com/deeplooplabs/fortune-gateway/handler"
	"github.com/deeplooplabs/fortune-gateway/logger"
	"github.com/deeplooplabs/fortune-gateway/provider"
	"github.com/deeplooplabs/fortune-gateway/ratelimit"
)

// ErrNoGenerator is returned by endpoints when no upstream generator is configured
var ErrNoGenerator = errors.New("gateway: no generator configured")

// Gateway is the main HTTP handler
type Gateway struct {
	mux        *http.ServeMux
	cors       *CORSConfig
	metrics    *Metrics
	cache      *cache.TieredCache
	tags       *cache.TagIndex
	limiter    *ratelimit.Registry
	generator  provider.Generator
	endpoints  []handler.Endpoint
	adminToken string
	proxies    fortune_gateway.TrustedProxies
	log        logger.Logger

	closeOnce sync.Once
}

// New creates a new gateway. Missing components get defaults: a tiered cache
// with default sizing, a tag index over it and a registry with the default
// policies. The cache and limiter sweeps run until Close.
func New(opts ...Option) *Gateway {
	g := &Gateway{
		mux: http.NewServeMux(),
	}

	for _, opt := range opts {
		opt(g)
	}

	if g.log == nil {
		g.log = logger.Default()
	}
	if g.cache == nil {
		g.cache = cache.NewTieredCache(&cache.TieredConfig{Logger: g.log})
	}
	if g.tags == nil {
		g.tags = cache.NewTagIndex(g.cache, g.log)
	}
	if g.limiter == nil {
		g.limiter = ratelimit.NewDefaultRegistry(ratelimit.NewWindowCounter(&ratelimit.CounterConfig{Logger: g.log}))
	}
	if g.generator == nil {
		g.generator = provider.GeneratorFunc(func(context.Context, *provider.Request) (*provider.Response, error) {
			return nil, ErrNoGenerator
		})
	}
	if g.metrics != nil {
		g.metrics.ObserveCache(g.cache)
		g.metrics.ObserveLimiter(g.limiter)
	}

	g.setupRoutes()

	g.cache.OnSweep(func(ctx context.Context) { g.tags.Prune(ctx) })
	g.cache.StartCleanup()
	g.limiter.Counter().StartCleanup()

	return g
}

func (g *Gateway) setupRoutes() {
	loader := cache.NewLoader(g.cache, g.tags, g.log)

	for _, ep := range g.endpoints {
		h := handler.NewGenerateHandler(ep, g.limiter, loader, g.generator, g.log)
		h.SetTrustedProxies(g.proxies)
		if g.metrics != nil {
			h.SetRecorder(g.metrics)
		}
		g.mux.Handle(ep.Name, g.instrument(ep.Name, h))
	}

	// Health check
	g.mux.HandleFunc("/health", g.handleHealth)

	// Metrics endpoint (if metrics enabled)
	if g.metrics != nil {
		g.mux.Handle("/metrics", g.metrics.Handler())
	}

	// Admin routes only exist with a token
	if g.adminToken != "" {
		g.mux.Handle("/admin/", g.instrument("/admin", handler.NewAdminHandler(g.cache, g.tags, g.limiter, g.adminToken, g.log)))
	}

	// 404 for unmatched routes
	g.mux.HandleFunc("/", g.handleNotFound)
}

// ServeHTTP implements http.Handler
func (g *Gateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if g.applyCORS(w, r) {
		return
	}
	g.mux.ServeHTTP(w, r)
}

// Cache returns the response cache
func (g *Gateway) Cache() *cache.TieredCache {
	return g.cache
}

// TagIndex returns the tag index
func (g *Gateway) TagIndex() *cache.TagIndex {
	return g.tags
}

// RateLimiter returns the policy registry
func (g *Gateway) RateLimiter() *ratelimit.Registry {
	return g.limiter
}

// Close stops the cache and rate limit sweeps. Safe to call repeatedly.
func (g *Gateway) Close() error {
	g.closeOnce.Do(func() {
		g.cache.StopCleanup()
		g.limiter.Counter().StopCleanup()
		g.log.Info("gateway closed", nil)
	})
	return nil
}

// statusWriter captures the response status for metrics
type statusWriter struct {
	http.ResponseWriter
	status int
}

func (s *statusWriter) WriteHeader(code int) {
	if s.status == 0 {
		s.status = code
	}
	s.ResponseWriter.WriteHeader(code)
}

func (s *statusWriter) Write(b []byte) (int, error) {
	if s.status == 0 {
		s.status = http.StatusOK
	}
	return s.ResponseWriter.Write(b)
}

func (g *Gateway) instrument(endpoint string, next http.Handler) http.Handler {
	if g.metrics == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		g.metrics.ActiveRequests.Inc()
		defer g.metrics.ActiveRequests.Dec()

		start := time.Now()
		sw := &statusWriter{ResponseWriter: w}
		next.ServeHTTP(sw, r)

		status := sw.status
		if status == 0 {
			status = http.StatusOK
		}
		g.metrics.observeRequest(r.Method, endpoint, status, time.Since(start))
	})
}

func (g *Gateway) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(`{"status":"ok"}`))
}

func (g *Gateway) handleNotFound(w http.ResponseWriter, r *http.Request) {
	err := fortune_gateway.NewNotFoundError("Not found")
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(err.Code)
	json.NewEncoder(w).Encode(err.ToResponse())
}
