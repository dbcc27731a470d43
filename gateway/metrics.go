package gateway

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/deeplooplabs/fortune-gateway/cache"
	"github.com/deeplooplabs/fortune-gateway/handler"
	"github.com/deeplooplabs/fortune-gateway/ratelimit"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the gateway
type Metrics struct {
	namespace string
	registry  *prometheus.Registry

	RequestsTotal      *prometheus.CounterVec
	RequestDuration    *prometheus.HistogramVec
	ActiveRequests     prometheus.Gauge
	CacheHits          *prometheus.CounterVec
	CacheMisses        *prometheus.CounterVec
	RateLimitExceeded  *prometheus.CounterVec
	RateLimitFailOpen  *prometheus.CounterVec
	GenerationsTotal   *prometheus.CounterVec
	GenerationDuration *prometheus.HistogramVec
}

// NewMetrics creates a new Metrics instance with its own Prometheus registry
func NewMetrics(namespace string) *Metrics {
	if namespace == "" {
		namespace = "fortune_gateway"
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	return &Metrics{
		namespace: namespace,
		registry:  reg,
		RequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "requests_total",
				Help:      "Total number of requests processed",
			},
			[]string{"method", "endpoint", "status"},
		),
		RequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "request_duration_seconds",
				Help:      "Request duration in seconds",
				Buckets:   []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60},
			},
			[]string{"method", "endpoint"},
		),
		ActiveRequests: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "active_requests",
				Help:      "Number of requests currently being processed",
			},
		),
		CacheHits: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "cache_hits_total",
				Help:      "Total number of cache hits",
			},
			[]string{"endpoint"},
		),
		CacheMisses: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "cache_misses_total",
				Help:      "Total number of cache misses",
			},
			[]string{"endpoint"},
		),
		RateLimitExceeded: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "rate_limit_exceeded_total",
				Help:      "Total number of requests denied by a rate limit policy",
			},
			[]string{"policy"},
		),
		RateLimitFailOpen: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "rate_limit_fail_open_total",
				Help:      "Total number of requests admitted because the limiter failed",
			},
			[]string{"policy"},
		),
		GenerationsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "generations_total",
				Help:      "Total number of upstream generation calls",
			},
			[]string{"endpoint", "status"},
		),
		GenerationDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "generation_duration_seconds",
				Help:      "Upstream generation duration in seconds",
				Buckets:   []float64{.1, .25, .5, 1, 2.5, 5, 10, 30, 60},
			},
			[]string{"endpoint"},
		),
	}
}

// Registry returns the Prometheus registry holding the gateway metrics
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// ObserveCache exports the size and hit rate of both cache tiers
func (m *Metrics) ObserveCache(c *cache.TieredCache) {
	tiers := map[string]*cache.BoundedCache{"tier1": c.Tier1(), "tier2": c.Tier2()}
	for name, tier := range tiers {
		m.register(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace:   m.namespace,
			Name:        "cache_entries",
			Help:        "Number of stored entries per cache tier, including expired entries not yet swept",
			ConstLabels: prometheus.Labels{"tier": name},
		}, func() float64 { return float64(tier.Len()) }))
		m.register(prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace:   m.namespace,
			Name:        "cache_evictions_total",
			Help:        "Number of LRU evictions per cache tier",
			ConstLabels: prometheus.Labels{"tier": name},
		}, func() float64 { return float64(tier.Stats().Evictions) }))
	}
	m.register(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: m.namespace,
		Name:      "cache_hit_rate",
		Help:      "Hit rate of the tiered cache since start",
	}, func() float64 { return c.Stats().HitRate }))
}

// ObserveLimiter exports the number of live rate limit windows
func (m *Metrics) ObserveLimiter(r *ratelimit.Registry) {
	counter := r.Counter()
	m.register(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: m.namespace,
		Name:      "rate_limit_windows",
		Help:      "Number of live rate limit windows",
	}, func() float64 { return float64(counter.Len()) }))
}

// register ignores collectors that are already registered
func (m *Metrics) register(c prometheus.Collector) {
	var are prometheus.AlreadyRegisteredError
	if err := m.registry.Register(c); err != nil && !errors.As(err, &are) {
		panic(err)
	}
}

// observeRequest records a completed HTTP request
func (m *Metrics) observeRequest(method, endpoint string, status int, d time.Duration) {
	m.RequestsTotal.WithLabelValues(method, endpoint, strconv.Itoa(status)).Inc()
	m.RequestDuration.WithLabelValues(method, endpoint).Observe(d.Seconds())
}

// CacheLookup implements handler.Recorder
func (m *Metrics) CacheLookup(endpoint string, hit bool) {
	if hit {
		m.CacheHits.WithLabelValues(endpoint).Inc()
		return
	}
	m.CacheMisses.WithLabelValues(endpoint).Inc()
}

// RateLimited implements handler.Recorder
func (m *Metrics) RateLimited(policy string) {
	m.RateLimitExceeded.WithLabelValues(policy).Inc()
}

// FailOpen implements handler.Recorder
func (m *Metrics) FailOpen(policy string) {
	m.RateLimitFailOpen.WithLabelValues(policy).Inc()
}

// Generation implements handler.Recorder
func (m *Metrics) Generation(endpoint string, d time.Duration, err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	m.GenerationsTotal.WithLabelValues(endpoint, status).Inc()
	m.GenerationDuration.WithLabelValues(endpoint).Observe(d.Seconds())
}

var _ handler.Recorder = (*Metrics)(nil)
