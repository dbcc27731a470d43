package e2e

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	fortune_gateway "github.com/deeplooplabs/fortune-gateway"
	"github.com/deeplooplabs/fortune-gateway/clock"
	"github.com/deeplooplabs/fortune-gateway/fortune"
	"github.com/deeplooplabs/fortune-gateway/gateway"
	"github.com/deeplooplabs/fortune-gateway/logger"
	"github.com/deeplooplabs/fortune-gateway/provider"
	"github.com/stretchr/testify/require"
)

// AdminToken guards the admin routes of the test gateway
const AdminToken = "e2e-admin-token"

// TestEnvironment provides a complete test setup with gateway, mock upstream and HTTP client
type TestEnvironment struct {
	Server   *httptest.Server
	Upstream *MockUpstream
	Gateway  *gateway.Gateway
	Metrics  *gateway.Metrics
	Clock    *clock.Fake
	Log      *logger.Recorder
	Client   *http.Client
	T        *testing.T
}

// NewTestEnvironment creates a new test environment with all necessary components
func NewTestEnvironment(t *testing.T) *TestEnvironment {
	t.Helper()

	upstream := NewMockUpstream()
	upstreamServer := httptest.NewServer(upstream)

	retry := provider.DefaultRetryConfig()
	retry.InitialBackoff = time.Millisecond
	retry.MaxBackoff = 5 * time.Millisecond

	log := logger.NewRecorder()
	generator := provider.NewOpenAI(provider.DefaultConfig().
		WithBaseURL(upstreamServer.URL+"/v1").
		WithAPIKey("test-api-key").
		WithRetryConfig(retry), log)

	// the test client connects over loopback and plays the proxy
	proxies, err := fortune_gateway.ParseTrustedProxies("127.0.0.0/8, ::1")
	require.NoError(t, err)

	fake := clock.NewFake(time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC))
	metrics := gateway.NewMetrics("")

	opts := []gateway.Option{
		gateway.WithLogger(log),
		gateway.WithGenerator(generator),
		gateway.WithMetrics(metrics),
		gateway.WithAdminToken(AdminToken),
		gateway.WithCORS(gateway.DefaultCORSConfig()),
		gateway.WithTrustedProxies(proxies),
	}
	for _, ep := range fortune.Endpoints(fake) {
		opts = append(opts, gateway.WithEndpoint(ep))
	}
	gw := gateway.New(opts...)

	server := httptest.NewServer(gw)

	env := &TestEnvironment{
		Server:   server,
		Upstream: upstream,
		Gateway:  gw,
		Metrics:  metrics,
		Clock:    fake,
		Log:      log,
		Client:   server.Client(),
		T:        t,
	}

	// Cleanup on test completion
	t.Cleanup(func() {
		server.Close()
		upstreamServer.Close()
		gw.Close()
	})

	return env
}

// Response is a decoded gateway response
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// JSON decodes the body into a map
func (r *Response) JSON(t *testing.T) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(r.Body, &out), string(r.Body))
	return out
}

// Do sends a request to the gateway. body is JSON encoded when not nil.
func (e *TestEnvironment) Do(method, path string, body any, headers map[string]string) *Response {
	e.T.Helper()

	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(e.T, err)
		reader = bytes.NewReader(b)
	}

	req, err := http.NewRequest(method, e.Server.URL+path, reader)
	require.NoError(e.T, err)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := e.Client.Do(req)
	require.NoError(e.T, err)
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	require.NoError(e.T, err)

	return &Response{StatusCode: resp.StatusCode, Header: resp.Header, Body: data}
}

// Get sends a GET request from the given client address
func (e *TestEnvironment) Get(path, client string) *Response {
	e.T.Helper()
	var headers map[string]string
	if client != "" {
		headers = map[string]string{"X-Forwarded-For": client}
	}
	return e.Do(http.MethodGet, path, nil, headers)
}

// Admin sends an authenticated admin request
func (e *TestEnvironment) Admin(method, path string) *Response {
	e.T.Helper()
	return e.Do(method, path, nil, map[string]string{"Authorization": "Bearer " + AdminToken})
}
