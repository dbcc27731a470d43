package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/deeplooplabs/fortune-gateway/cache"
	"github.com/deeplooplabs/fortune-gateway/config"
	"github.com/deeplooplabs/fortune-gateway/fortune"
	"github.com/deeplooplabs/fortune-gateway/gateway"
	"github.com/deeplooplabs/fortune-gateway/logger"
	"github.com/deeplooplabs/fortune-gateway/provider"
	"github.com/deeplooplabs/fortune-gateway/ratelimit"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("Invalid configuration", "error", err)
		os.Exit(1)
	}

	log := logger.FromEnvLevel(cfg.LogLevel)
	if cfg.DotEnvLoaded {
		log.Info("Loaded .env file", nil)
	} else {
		log.Info("No .env file found, using system environment variables", nil)
	}
	log.Info("Configuration", logger.Fields{
		"OPENAI_BASE_URL": cfg.OpenAI.BaseURL,
		"LLM_MODEL":       cfg.OpenAI.Model,
		"LISTEN_ADDR":     cfg.ListenAddr,
	})

	// Cache and tag index
	cacheConfig := cfg.TieredCacheConfig()
	cacheConfig.Logger = log
	responseCache := cache.NewTieredCache(cacheConfig)
	tags := cache.NewTagIndex(responseCache, log)

	// Rate limit policies: defaults plus RATE_LIMIT_POLICIES
	counterConfig := cfg.CounterConfig()
	counterConfig.Logger = log
	limiter := ratelimit.NewRegistry(ratelimit.NewWindowCounter(counterConfig))
	for name, pc := range cfg.RateLimit.Policies {
		if err := limiter.AddPolicy(name, pc); err != nil {
			log.Error("Invalid rate limit policy", logger.Fields{"policy": name, "error": err.Error()})
			os.Exit(1)
		}
	}

	// Upstream generator
	generator := provider.NewOpenAI(cfg.ProviderConfig(), log)

	opts := []gateway.Option{
		gateway.WithLogger(log),
		gateway.WithCache(responseCache),
		gateway.WithTagIndex(tags),
		gateway.WithRateLimiter(limiter),
		gateway.WithGenerator(generator),
		gateway.WithCORS(gateway.CORSFromOrigins(cfg.CORSAllowedOrigins)),
		gateway.WithAdminToken(cfg.AdminToken),
		gateway.WithTrustedProxies(cfg.TrustedProxies),
	}
	for _, ep := range fortune.Endpoints(nil) {
		opts = append(opts, gateway.WithEndpoint(ep))
	}
	if cfg.MetricsEnabled {
		opts = append(opts, gateway.WithMetrics(gateway.NewMetrics("")))
	}

	gw := gateway.New(opts...)

	server := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           gw,
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		log.Info("Fortune Gateway listening", logger.Fields{"addr": cfg.ListenAddr})
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("Server failed", logger.Fields{"error": err.Error()})
			stop()
		}
	}()

	<-ctx.Done()
	log.Info("Shutting down", nil)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("Graceful shutdown failed", logger.Fields{"error": err.Error()})
	}
	gw.Close()
}
