package e2e

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func skipShort(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping E2E test in short mode")
	}
}

// TestE2E_Daily_CacheHit tests that a repeated request is answered from the cache
func TestE2E_Daily_CacheHit(t *testing.T) {
	skipShort(t)
	env := NewTestEnvironment(t)

	resp := env.Get("/api/fortune/daily?sign=leo", "")
	require.Equal(t, http.StatusOK, resp.StatusCode, string(resp.Body))
	assert.Equal(t, "MISS", resp.Header.Get("X-Cache"))

	body := resp.JSON(t)
	assert.Equal(t, "The stars favour patience today.", body["content"])
	assert.Equal(t, "mock-model", body["model"])
	assert.Equal(t, false, body["cached"])

	resp = env.Get("/api/fortune/daily?sign=leo", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "HIT", resp.Header.Get("X-Cache"))
	assert.Equal(t, true, resp.JSON(t)["cached"])

	assert.Equal(t, 1, env.Upstream.Calls())
	require.Len(t, env.Upstream.Prompts(), 1)
	assert.Contains(t, env.Upstream.Prompts()[0], "leo")
	assert.Contains(t, env.Upstream.Prompts()[0], "2025-06-01")
}

// TestE2E_Daily_ExplicitDateSharesEntry tests that the defaulted date is part of the key
func TestE2E_Daily_ExplicitDateSharesEntry(t *testing.T) {
	skipShort(t)
	env := NewTestEnvironment(t)

	env.Get("/api/fortune/daily?sign=aries", "")
	resp := env.Get("/api/fortune/daily?sign=ARIES&date=2025-06-01", "")
	assert.Equal(t, "HIT", resp.Header.Get("X-Cache"))

	// the next day is a different reading
	env.Clock.Advance(24 * time.Hour)
	resp = env.Get("/api/fortune/daily?sign=aries", "")
	assert.Equal(t, "MISS", resp.Header.Get("X-Cache"))
	assert.Equal(t, 2, env.Upstream.Calls())
}

// TestE2E_ConcurrentMissesShareUpstreamCall tests request coalescing on a cold key
func TestE2E_ConcurrentMissesShareUpstreamCall(t *testing.T) {
	skipShort(t)
	env := NewTestEnvironment(t)
	env.Upstream.SetDelay(200 * time.Millisecond)

	const clients = 5
	var wg sync.WaitGroup
	codes := make([]int, clients)
	for i := 0; i < clients; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			req, _ := http.NewRequest(http.MethodGet, env.Server.URL+"/api/fortune/zodiac?sign=virgo", nil)
			req.Header.Set("X-Forwarded-For", fmt.Sprintf("198.51.100.%d", i+1))
			resp, err := env.Client.Do(req)
			if err != nil {
				return
			}
			resp.Body.Close()
			codes[i] = resp.StatusCode
		}(i)
	}
	wg.Wait()

	for i, code := range codes {
		assert.Equal(t, http.StatusOK, code, "client %d", i)
	}
	assert.Equal(t, 1, env.Upstream.Calls())
}

// TestE2E_RateLimit tests the fortune policy of 10 requests per minute
func TestE2E_RateLimit(t *testing.T) {
	skipShort(t)
	env := NewTestEnvironment(t)

	for i := 0; i < 10; i++ {
		resp := env.Get("/api/fortune/zodiac?sign=leo", "203.0.113.5")
		require.Equal(t, http.StatusOK, resp.StatusCode, "request %d", i+1)
		assert.Equal(t, strconv.Itoa(9-i), resp.Header.Get("X-RateLimit-Remaining"))
	}

	resp := env.Get("/api/fortune/zodiac?sign=leo", "203.0.113.5")
	require.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
	assert.Equal(t, "10", resp.Header.Get("X-RateLimit-Limit"))
	retryAfter, err := strconv.Atoi(resp.Header.Get("Retry-After"))
	require.NoError(t, err)
	assert.Positive(t, retryAfter)
	assert.LessOrEqual(t, retryAfter, 60)

	body := resp.JSON(t)
	errBody := body["error"].(map[string]any)
	assert.Equal(t, "rate_limit_error", errBody["type"])

	// another client is unaffected
	resp = env.Get("/api/fortune/zodiac?sign=leo", "203.0.113.6")
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	// policies are independent: the psychology endpoint uses the api policy
	resp = env.Do(http.MethodPost, "/api/psychology/test",
		map[string]any{"test": "love", "answers": "a,b"},
		map[string]string{"X-Forwarded-For": "203.0.113.5"})
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	assert.Equal(t, 2, env.Upstream.Calls())
	assert.Equal(t, float64(1), testutil.ToFloat64(env.Metrics.RateLimitExceeded.WithLabelValues("fortune")))
}

// TestE2E_Psychology_Post tests JSON body parameters and answer normalization
func TestE2E_Psychology_Post(t *testing.T) {
	skipShort(t)
	env := NewTestEnvironment(t)

	resp := env.Do(http.MethodPost, "/api/psychology/test", map[string]any{"test": "stress", "answers": "A, c ,b"}, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode, string(resp.Body))
	assert.Equal(t, "MISS", resp.Header.Get("X-Cache"))

	resp = env.Get("/api/psychology/test?test=stress&answers=a,c,b", "")
	assert.Equal(t, "HIT", resp.Header.Get("X-Cache"))
	assert.Equal(t, 1, env.Upstream.Calls())
}

// TestE2E_Validation tests parameter errors
func TestE2E_Validation(t *testing.T) {
	skipShort(t)
	env := NewTestEnvironment(t)

	tests := []struct {
		path  string
		param string
	}{
		{"/api/fortune/daily", "sign"},
		{"/api/fortune/daily?sign=dragon", "sign"},
		{"/api/fortune/daily?sign=leo&date=yesterday", "date"},
		{"/api/fortune/zodiac?sign=leo&period=hourly", "period"},
		{"/api/psychology/test?test=stress", "answers"},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			resp := env.Get(tt.path, "")
			assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
			errBody := resp.JSON(t)["error"].(map[string]any)
			assert.Equal(t, tt.param, errBody["param"])
		})
	}
	assert.Zero(t, env.Upstream.Calls())
}

// TestE2E_UpstreamError tests retries and that failures are not cached
func TestE2E_UpstreamError(t *testing.T) {
	skipShort(t)
	env := NewTestEnvironment(t)
	env.Upstream.SetError(http.StatusServiceUnavailable)

	resp := env.Get("/api/fortune/zodiac?sign=leo", "")
	assert.Equal(t, http.StatusBadGateway, resp.StatusCode)
	// one attempt plus two retries
	assert.Equal(t, 3, env.Upstream.Calls())

	env.Upstream.SetError(0)
	resp = env.Get("/api/fortune/zodiac?sign=leo", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "MISS", resp.Header.Get("X-Cache"))
}

// TestE2E_UpstreamEmptyReply tests that a reply without choices is a gateway error
func TestE2E_UpstreamEmptyReply(t *testing.T) {
	skipShort(t)
	env := NewTestEnvironment(t)
	env.Upstream.SetEmptyReply(true)

	resp := env.Get("/api/fortune/zodiac?sign=leo", "")
	assert.Equal(t, http.StatusBadGateway, resp.StatusCode)
	assert.Zero(t, env.Gateway.Cache().Stats().Size)
}

// TestE2E_Admin_InvalidateTag tests bulk invalidation through the admin API
func TestE2E_Admin_InvalidateTag(t *testing.T) {
	skipShort(t)
	env := NewTestEnvironment(t)

	env.Get("/api/fortune/zodiac?sign=leo", "")
	env.Get("/api/fortune/zodiac?sign=virgo", "")
	env.Do(http.MethodPost, "/api/psychology/test", map[string]any{"test": "love", "answers": "a"}, nil)

	resp := env.Admin(http.MethodDelete, "/admin/cache/tags/zodiac")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, float64(2), resp.JSON(t)["invalidated"])

	resp = env.Get("/api/fortune/zodiac?sign=leo", "")
	assert.Equal(t, "MISS", resp.Header.Get("X-Cache"))
	resp = env.Get("/api/psychology/test?test=love&answers=a", "")
	assert.Equal(t, "HIT", resp.Header.Get("X-Cache"))

	resp = env.Admin(http.MethodGet, "/admin/cache/stats")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	stats := resp.JSON(t)["cache"].(map[string]any)
	assert.Equal(t, float64(2), stats["size"])
}

// TestE2E_Admin_ResetRateLimit tests resetting a client's window
func TestE2E_Admin_ResetRateLimit(t *testing.T) {
	skipShort(t)
	env := NewTestEnvironment(t)

	for i := 0; i < 11; i++ {
		env.Get("/api/fortune/zodiac?sign=leo", "192.0.2.44")
	}
	require.Equal(t, http.StatusTooManyRequests, env.Get("/api/fortune/zodiac?sign=leo", "192.0.2.44").StatusCode)

	resp := env.Admin(http.MethodDelete, "/admin/ratelimit/fortune/192.0.2.44")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	assert.Equal(t, http.StatusOK, env.Get("/api/fortune/zodiac?sign=leo", "192.0.2.44").StatusCode)
}

// TestE2E_Admin_Unauthorized tests the admin token check
func TestE2E_Admin_Unauthorized(t *testing.T) {
	skipShort(t)
	env := NewTestEnvironment(t)

	resp := env.Do(http.MethodDelete, "/admin/cache", nil, nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

// TestE2E_Metrics tests the Prometheus endpoint
func TestE2E_Metrics(t *testing.T) {
	skipShort(t)
	env := NewTestEnvironment(t)

	env.Get("/api/fortune/zodiac?sign=leo", "")
	env.Get("/api/fortune/zodiac?sign=leo", "")

	resp := env.Get("/metrics", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	text := string(resp.Body)
	assert.Contains(t, text, `fortune_gateway_cache_hits_total{endpoint="/api/fortune/zodiac"} 1`)
	assert.Contains(t, text, `fortune_gateway_generations_total{endpoint="/api/fortune/zodiac",status="ok"} 1`)
	assert.True(t, strings.Contains(text, `fortune_gateway_cache_entries{tier="tier1"} 1`))
	assert.Contains(t, text, "fortune_gateway_cache_hit_rate ")
}

// TestE2E_CORS tests preflight handling
func TestE2E_CORS(t *testing.T) {
	skipShort(t)
	env := NewTestEnvironment(t)

	resp := env.Do(http.MethodOptions, "/api/fortune/daily", nil, map[string]string{
		"Origin":                        "https://fortune.example.com",
		"Access-Control-Request-Method": "POST",
	})
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	assert.Equal(t, "*", resp.Header.Get("Access-Control-Allow-Origin"))

	resp = env.Do(http.MethodGet, "/health", nil, map[string]string{"Origin": "https://fortune.example.com"})
	assert.Contains(t, resp.Header.Get("Access-Control-Expose-Headers"), "Retry-After")
}

// TestE2E_UnknownParamsIgnored tests that extra query parameters cannot mint new cache entries
func TestE2E_UnknownParamsIgnored(t *testing.T) {
	skipShort(t)
	env := NewTestEnvironment(t)

	env.Get("/api/fortune/zodiac?sign=leo", "")
	resp := env.Get("/api/fortune/zodiac?sign=leo&cachebust=12345", "")
	assert.Equal(t, "HIT", resp.Header.Get("X-Cache"))
	assert.Equal(t, 1, env.Upstream.Calls())
}
