package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/deeplooplabs/fortune-gateway/clock"
	"github.com/deeplooplabs/fortune-gateway/logger"
)

// ErrInvalidConfig is returned for a non-positive limit or window
var ErrInvalidConfig = errors.New("ratelimit: limit and window must be positive")

// Config is a quota: Limit requests per Window
type Config struct {
	Limit  int           `json:"limit"`
	Window time.Duration `json:"window"`
}

// Validate checks that the quota is usable
func (c Config) Validate() error {
	if c.Limit <= 0 || c.Window <= 0 {
		return fmt.Errorf("%w: limit=%d window=%s", ErrInvalidConfig, c.Limit, c.Window)
	}
	return nil
}

// Result is the outcome of a single check
type Result struct {
	Allowed   bool      `json:"allowed"`
	Remaining int       `json:"remaining"`
	ResetAt   time.Time `json:"resetAt"`
	TotalHits int       `json:"totalHits"`
	// RetryAfterSeconds is set only when the request is denied
	RetryAfterSeconds int `json:"retryAfterSeconds,omitempty"`
}

// Window is a read-only view of a counter window
type Window struct {
	Count   int       `json:"count"`
	Start   time.Time `json:"start"`
	ResetAt time.Time `json:"resetAt"`
}

// CounterConfig holds window counter configuration
type CounterConfig struct {
	// CleanupInterval is the period of the expired-window sweep (default: 1 minute)
	CleanupInterval time.Duration

	Clock  clock.Clock
	Logger logger.Logger
}

// window represents a single fixed window
type window struct {
	count   int
	start   time.Time
	resetAt time.Time
}

// WindowCounter implements fixed-window request counting.
//
// Identifiers are stored by their 64-bit xxhash. Two identifiers whose hashes
// collide share one quota; at 64 bits this is negligible for the number of
// live windows a single instance holds.
type WindowCounter struct {
	mu       sync.Mutex
	windows  map[uint64]*window
	clock    clock.Clock
	log      logger.Logger
	interval time.Duration

	lifecycle sync.Mutex
	cancel    context.CancelFunc
	done      chan struct{}
}

// NewWindowCounter creates a new fixed-window counter. The maintenance sweep is
// not running until StartCleanup is called.
func NewWindowCounter(config *CounterConfig) *WindowCounter {
	wc := &WindowCounter{
		windows:  make(map[uint64]*window),
		clock:    clock.Real{},
		log:      logger.Nop(),
		interval: time.Minute,
	}
	if config != nil {
		wc.clock = clock.OrReal(config.Clock)
		wc.log = logger.OrNop(config.Logger)
		if config.CleanupInterval > 0 {
			wc.interval = config.CleanupInterval
		}
	}
	return wc
}

func hashIdentifier(identifier string) uint64 {
	return xxhash.Sum64String(identifier)
}

// Check counts one request for identifier against cfg
func (wc *WindowCounter) Check(ctx context.Context, identifier string, cfg Config) (Result, error) {
	if err := cfg.Validate(); err != nil {
		return Result{}, err
	}

	key := hashIdentifier(identifier)

	wc.mu.Lock()
	now := wc.clock.Now()
	w, ok := wc.windows[key]
	if !ok || !now.Before(w.resetAt) {
		w = &window{count: 1, start: now, resetAt: now.Add(cfg.Window)}
		wc.windows[key] = w
		wc.mu.Unlock()

		return Result{
			Allowed:   true,
			Remaining: cfg.Limit - 1,
			ResetAt:   w.resetAt,
			TotalHits: 1,
		}, nil
	}

	w.count++
	count, resetAt := w.count, w.resetAt
	wc.mu.Unlock()

	res := Result{
		Allowed:   count <= cfg.Limit,
		Remaining: max(0, cfg.Limit-count),
		ResetAt:   resetAt,
		TotalHits: count,
	}
	if !res.Allowed {
		res.RetryAfterSeconds = retryAfterSeconds(resetAt.Sub(now))
		wc.log.Warn("rate limit exceeded", logger.Fields{
			"identifier": logger.Mask(identifier),
			"count":      count,
			"limit":      cfg.Limit,
			"retryAfter": res.RetryAfterSeconds,
		})
	}
	return res, nil
}

// retryAfterSeconds rounds d up to whole seconds
func retryAfterSeconds(d time.Duration) int {
	secs := int(d / time.Second)
	if d%time.Second > 0 {
		secs++
	}
	return secs
}

// Peek returns the active window for identifier without counting a request
func (wc *WindowCounter) Peek(identifier string) (Window, bool) {
	wc.mu.Lock()
	defer wc.mu.Unlock()

	w, ok := wc.windows[hashIdentifier(identifier)]
	if !ok || !wc.clock.Now().Before(w.resetAt) {
		return Window{}, false
	}
	return Window{Count: w.count, Start: w.start, ResetAt: w.resetAt}, true
}

// Reset drops the window for identifier
func (wc *WindowCounter) Reset(identifier string) bool {
	wc.mu.Lock()
	defer wc.mu.Unlock()

	key := hashIdentifier(identifier)
	if _, ok := wc.windows[key]; !ok {
		return false
	}
	delete(wc.windows, key)
	wc.log.Info("rate limit reset", logger.Fields{"identifier": logger.Mask(identifier)})
	return true
}

// Cleanup removes every window whose reset time has passed
func (wc *WindowCounter) Cleanup() int {
	wc.mu.Lock()
	defer wc.mu.Unlock()

	now := wc.clock.Now()
	removed := 0
	for key, w := range wc.windows {
		if !now.Before(w.resetAt) {
			delete(wc.windows, key)
			removed++
		}
	}
	return removed
}

// Len returns the number of tracked windows, expired or not
func (wc *WindowCounter) Len() int {
	wc.mu.Lock()
	defer wc.mu.Unlock()
	return len(wc.windows)
}

// StartCleanup starts the periodic sweep. Calling it while running is a no-op.
func (wc *WindowCounter) StartCleanup() {
	wc.lifecycle.Lock()
	defer wc.lifecycle.Unlock()

	if wc.cancel != nil {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	wc.cancel = cancel
	wc.done = make(chan struct{})
	go wc.run(ctx, wc.done)
}

// StopCleanup stops the periodic sweep and waits for it to exit
func (wc *WindowCounter) StopCleanup() {
	wc.lifecycle.Lock()
	cancel, done := wc.cancel, wc.done
	wc.cancel, wc.done = nil, nil
	wc.lifecycle.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
}

func (wc *WindowCounter) run(ctx context.Context, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(wc.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if removed := wc.Cleanup(); removed > 0 {
				wc.log.Debug("rate limit sweep", logger.Fields{"removed": removed})
			}
		}
	}
}
