// Package config loads gateway settings from an optional .env file and the
// process environment.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	fortune_gateway "github.com/deeplooplabs/fortune-gateway"
	"github.com/deeplooplabs/fortune-gateway/cache"
	"github.com/deeplooplabs/fortune-gateway/provider"
	"github.com/deeplooplabs/fortune-gateway/ratelimit"
	"github.com/joho/godotenv"
	"github.com/xhit/go-str2duration/v2"
)

// ErrInvalidValue is returned when an environment variable cannot be parsed
var ErrInvalidValue = errors.New("config: invalid value")

// LookupFunc resolves an environment variable
type LookupFunc func(key string) (string, bool)

// Config is the complete gateway configuration
type Config struct {
	ListenAddr string
	LogLevel   string

	OpenAI    OpenAIConfig
	Cache     CacheConfig
	RateLimit RateLimitConfig

	CORSAllowedOrigins []string
	AdminToken         string
	MetricsEnabled     bool

	// TrustedProxies are the peers allowed to set X-Forwarded-For / X-Real-IP
	TrustedProxies fortune_gateway.TrustedProxies

	// DotEnvLoaded reports whether a .env file was read
	DotEnvLoaded bool
}

// OpenAIConfig holds the upstream settings
type OpenAIConfig struct {
	BaseURL string
	APIKey  string
	Model   string
	Timeout time.Duration
}

// CacheConfig holds the tiered cache settings
type CacheConfig struct {
	Tier1Capacity   int
	Tier2Capacity   int
	SizeThreshold   int
	DefaultTTL      time.Duration
	PromotionTTL    time.Duration
	CleanupInterval time.Duration
}

// RateLimitConfig holds the limiter settings
type RateLimitConfig struct {
	CleanupInterval time.Duration
	// Policies are the built-in policies merged with RATE_LIMIT_POLICIES
	Policies map[string]ratelimit.Config
}

// Default returns the configuration used when no variable is set
func Default() *Config {
	return &Config{
		ListenAddr: ":8083",
		LogLevel:   "info",
		OpenAI: OpenAIConfig{
			Model:   "gpt-4o-mini",
			Timeout: 60 * time.Second,
		},
		Cache: CacheConfig{
			Tier1Capacity:   100,
			Tier2Capacity:   1000,
			SizeThreshold:   1024,
			DefaultTTL:      time.Hour,
			PromotionTTL:    5 * time.Minute,
			CleanupInterval: 5 * time.Minute,
		},
		RateLimit: RateLimitConfig{
			CleanupInterval: time.Minute,
			Policies:        ratelimit.DefaultPolicies(),
		},
		MetricsEnabled: true,
	}
}

// Load reads the given .env files (".env" when none are named) into the
// environment, then builds the configuration from it. Missing files are not an
// error; variables already set in the environment win over the file.
func Load(files ...string) (*Config, error) {
	loaded := true
	if err := godotenv.Load(files...); err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("config: load env file: %w", err)
		}
		loaded = false
	}

	cfg, err := FromLookup(os.LookupEnv)
	if err != nil {
		return nil, err
	}
	cfg.DotEnvLoaded = loaded
	return cfg, nil
}

// FromLookup builds the configuration from lookup. Empty values count as unset.
func FromLookup(lookup LookupFunc) (*Config, error) {
	cfg := Default()
	p := parser{lookup: lookup}

	p.str("LISTEN_ADDR", &cfg.ListenAddr)
	p.str("LOG_LEVEL", &cfg.LogLevel)

	p.str("OPENAI_BASE_URL", &cfg.OpenAI.BaseURL)
	p.str("OPENAI_API_KEY", &cfg.OpenAI.APIKey)
	p.str("LLM_MODEL", &cfg.OpenAI.Model)
	p.duration("OPENAI_TIMEOUT", &cfg.OpenAI.Timeout)

	p.positiveInt("CACHE_TIER1_CAPACITY", &cfg.Cache.Tier1Capacity)
	p.positiveInt("CACHE_TIER2_CAPACITY", &cfg.Cache.Tier2Capacity)
	p.positiveInt("CACHE_SIZE_THRESHOLD", &cfg.Cache.SizeThreshold)
	p.duration("CACHE_DEFAULT_TTL", &cfg.Cache.DefaultTTL)
	p.duration("CACHE_PROMOTION_TTL", &cfg.Cache.PromotionTTL)
	p.duration("CACHE_CLEANUP_INTERVAL", &cfg.Cache.CleanupInterval)

	p.duration("RATE_LIMIT_CLEANUP_INTERVAL", &cfg.RateLimit.CleanupInterval)
	if raw, ok := p.get("RATE_LIMIT_POLICIES"); ok {
		policies, err := ParsePolicies(raw)
		if err != nil {
			p.fail(err)
		}
		for name, pc := range policies {
			cfg.RateLimit.Policies[name] = pc
		}
	}

	if raw, ok := p.get("CORS_ALLOWED_ORIGINS"); ok {
		cfg.CORSAllowedOrigins = splitList(raw)
	}
	p.str("ADMIN_TOKEN", &cfg.AdminToken)
	p.boolean("METRICS_ENABLED", &cfg.MetricsEnabled)
	if raw, ok := p.get("TRUSTED_PROXIES"); ok {
		proxies, err := fortune_gateway.ParseTrustedProxies(raw)
		if err != nil {
			p.fail(fmt.Errorf("%w: TRUSTED_PROXIES: %v", ErrInvalidValue, err))
		}
		cfg.TrustedProxies = proxies
	}

	if p.err != nil {
		return nil, p.err
	}
	return cfg, nil
}

// ParsePolicies parses a comma separated list of name=limit/window entries,
// e.g. "fortune=5/1m,premium=1000/1h".
func ParsePolicies(raw string) (map[string]ratelimit.Config, error) {
	out := make(map[string]ratelimit.Config)
	for _, entry := range splitList(raw) {
		name, quota, ok := strings.Cut(entry, "=")
		name = strings.TrimSpace(name)
		if !ok || name == "" {
			return nil, fmt.Errorf("%w: policy %q: expected name=limit/window", ErrInvalidValue, entry)
		}
		limitStr, windowStr, ok := strings.Cut(quota, "/")
		if !ok {
			return nil, fmt.Errorf("%w: policy %q: expected limit/window", ErrInvalidValue, entry)
		}
		limit, err := strconv.Atoi(strings.TrimSpace(limitStr))
		if err != nil {
			return nil, fmt.Errorf("%w: policy %q: limit: %v", ErrInvalidValue, entry, err)
		}
		window, err := str2duration.ParseDuration(strings.TrimSpace(windowStr))
		if err != nil {
			return nil, fmt.Errorf("%w: policy %q: window: %v", ErrInvalidValue, entry, err)
		}
		pc := ratelimit.Config{Limit: limit, Window: window}
		if err := pc.Validate(); err != nil {
			return nil, fmt.Errorf("%w: policy %q: %v", ErrInvalidValue, entry, err)
		}
		out[name] = pc
	}
	return out, nil
}

// TieredCacheConfig converts the cache settings
func (c *Config) TieredCacheConfig() *cache.TieredConfig {
	return &cache.TieredConfig{
		Tier1Capacity:   c.Cache.Tier1Capacity,
		Tier2Capacity:   c.Cache.Tier2Capacity,
		SizeThreshold:   c.Cache.SizeThreshold,
		DefaultTTL:      c.Cache.DefaultTTL,
		PromotionTTL:    c.Cache.PromotionTTL,
		CleanupInterval: c.Cache.CleanupInterval,
	}
}

// CounterConfig converts the limiter settings
func (c *Config) CounterConfig() *ratelimit.CounterConfig {
	return &ratelimit.CounterConfig{CleanupInterval: c.RateLimit.CleanupInterval}
}

// ProviderConfig converts the upstream settings
func (c *Config) ProviderConfig() *provider.Config {
	return provider.DefaultConfig().
		WithBaseURL(c.OpenAI.BaseURL).
		WithAPIKey(c.OpenAI.APIKey).
		WithModel(c.OpenAI.Model).
		WithTimeout(c.OpenAI.Timeout)
}

// parser accumulates the first parse error
type parser struct {
	lookup LookupFunc
	err    error
}

func (p *parser) get(key string) (string, bool) {
	v, ok := p.lookup(key)
	v = strings.TrimSpace(v)
	return v, ok && v != ""
}

func (p *parser) fail(err error) {
	if p.err == nil {
		p.err = err
	}
}

func (p *parser) str(key string, dst *string) {
	if v, ok := p.get(key); ok {
		*dst = v
	}
}

func (p *parser) duration(key string, dst *time.Duration) {
	v, ok := p.get(key)
	if !ok {
		return
	}
	d, err := str2duration.ParseDuration(v)
	if err != nil || d <= 0 {
		p.fail(fmt.Errorf("%w: %s=%q: expected a positive duration", ErrInvalidValue, key, v))
		return
	}
	*dst = d
}

func (p *parser) positiveInt(key string, dst *int) {
	v, ok := p.get(key)
	if !ok {
		return
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		p.fail(fmt.Errorf("%w: %s=%q: expected a positive integer", ErrInvalidValue, key, v))
		return
	}
	*dst = n
}

func (p *parser) boolean(key string, dst *bool) {
	v, ok := p.get(key)
	if !ok {
		return
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		p.fail(fmt.Errorf("%w: %s=%q: expected a boolean", ErrInvalidValue, key, v))
		return
	}
	*dst = b
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
