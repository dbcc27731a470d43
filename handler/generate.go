package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	fortune_gateway "github.com/deeplooplabs/fortune-gateway"
	"github.com/deeplooplabs/fortune-gateway/cache"
	"github.com/deeplooplabs/fortune-gateway/logger"
	"github.com/deeplooplabs/fortune-gateway/provider"
	"github.com/deeplooplabs/fortune-gateway/ratelimit"
)

// maxBodyBytes bounds POST parameter bodies
const maxBodyBytes = 1 << 20

// Params are the flat request parameters of a generation endpoint
type Params map[string]string

// Endpoint describes a cached, rate limited generation endpoint
type Endpoint struct {
	// Name is the route path and the cache key namespace, e.g. "/api/fortune/daily"
	Name string

	// Policy is the rate limit policy applied per client
	Policy string

	// TTL of cached generations; zero uses the cache default
	TTL time.Duration

	// Required parameters; a missing one is rejected with 400
	Required []string

	// Optional parameters. Anything neither required nor optional is dropped
	// before Normalize, so unknown parameters never reach the cache key.
	Optional []string

	// Normalize fills defaults before validation and cache keying (optional)
	Normalize func(Params) Params

	// Tags returns the invalidation tags of a generation (optional)
	Tags func(Params) []string

	// Prompt builds the upstream request from validated parameters
	Prompt func(Params) (*provider.Request, error)
}

// Limiter checks requests against named policies
type Limiter interface {
	Policy(name string) (ratelimit.Policy, bool)
	CheckWithPolicy(ctx context.Context, identifier, policy string) (ratelimit.Result, error)
}

// Generation is the cached result of an upstream call
type Generation struct {
	Content     string    `json:"content"`
	Model       string    `json:"model,omitempty"`
	GeneratedAt time.Time `json:"generatedAt"`
}

// GenerateResponse is the body of a successful generation request
type GenerateResponse struct {
	Endpoint  string `json:"endpoint"`
	RequestID string `json:"requestId"`
	Cached    bool   `json:"cached"`
	Generation
}

// GenerateHandler serves one Endpoint: rate limit, validate, then answer from
// the cache or the upstream generator.
type GenerateHandler struct {
	endpoint  Endpoint
	limiter   Limiter
	loader    *cache.Loader
	generator provider.Generator
	recorder  Recorder
	proxies   fortune_gateway.TrustedProxies
	log       logger.Logger
}

// NewGenerateHandler creates a handler for endpoint. limiter may be nil to
// disable rate limiting.
func NewGenerateHandler(endpoint Endpoint, limiter Limiter, loader *cache.Loader, generator provider.Generator, log logger.Logger) *GenerateHandler {
	return &GenerateHandler{
		endpoint:  endpoint,
		limiter:   limiter,
		loader:    loader,
		generator: generator,
		recorder:  nopRecorder{},
		log:       logger.OrNop(log),
	}
}

// SetRecorder sets the metrics recorder
func (h *GenerateHandler) SetRecorder(rec Recorder) {
	if rec == nil {
		rec = nopRecorder{}
	}
	h.recorder = rec
}

// SetTrustedProxies sets the proxies whose forwarding headers identify the
// client. With none, clients are identified by their connection address.
func (h *GenerateHandler) SetTrustedProxies(proxies fortune_gateway.TrustedProxies) {
	h.proxies = proxies
}

// Endpoint returns the served endpoint
func (h *GenerateHandler) Endpoint() Endpoint {
	return h.endpoint
}

// ServeHTTP implements http.Handler
func (h *GenerateHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	defer r.Body.Close()

	if r.Method != http.MethodGet && r.Method != http.MethodPost {
		w.Header().Set("Allow", "GET, POST")
		writeError(w, h.log, fortune_gateway.NewMethodNotAllowedError(r.Method))
		return
	}

	rctx := fortune_gateway.NewContext(r)
	rctx.ClientID = h.proxies.ClientIdentifier(r)
	w.Header().Set("X-Request-ID", rctx.RequestID)

	if !h.admit(r.Context(), w, rctx) {
		return
	}

	params, err := parseParams(r)
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	params = h.endpoint.declared(params)
	if h.endpoint.Normalize != nil {
		params = h.endpoint.Normalize(params)
	}
	for _, name := range h.endpoint.Required {
		if params[name] == "" {
			writeError(w, h.log, fortune_gateway.NewParamError(name, name+" is required"))
			return
		}
	}

	req, err := h.endpoint.Prompt(params)
	if err != nil {
		var gwErr *fortune_gateway.GatewayError
		if !errors.As(err, &gwErr) {
			gwErr = fortune_gateway.NewValidationError(err.Error())
		}
		writeError(w, h.log, gwErr)
		return
	}

	var tags []string
	if h.endpoint.Tags != nil {
		tags = h.endpoint.Tags(params)
	}
	key := cache.APIResponseKey(h.endpoint.Name, cache.StringParams(params))

	v, hit, err := h.loader.Load(r.Context(), key, h.endpoint.TTL, tags, func(ctx context.Context) (any, error) {
		start := time.Now()
		resp, err := h.generator.Generate(ctx, req)
		h.recorder.Generation(h.endpoint.Name, time.Since(start), err)
		if err != nil {
			return nil, err
		}
		return Generation{
			Content:     resp.Content,
			Model:       resp.Model,
			GeneratedAt: time.Now().UTC(),
		}, nil
	})
	if err != nil {
		writeError(w, h.log, fortune_gateway.NewProviderError("failed to generate content", err))
		return
	}

	gen, ok := v.(Generation)
	if !ok {
		writeError(w, h.log, fortune_gateway.NewInternalError("unexpected cached value", fmt.Errorf("got %T", v)))
		return
	}

	h.recorder.CacheLookup(h.endpoint.Name, hit)
	if hit {
		w.Header().Set("X-Cache", "HIT")
	} else {
		w.Header().Set("X-Cache", "MISS")
	}

	h.log.Debug("generation served", logger.Fields{
		"endpoint":  h.endpoint.Name,
		"requestId": rctx.RequestID,
		"cached":    hit,
		"elapsedMs": rctx.Elapsed().Milliseconds(),
	})

	writeJSON(w, h.log, http.StatusOK, GenerateResponse{
		Endpoint:   h.endpoint.Name,
		RequestID:  rctx.RequestID,
		Cached:     hit,
		Generation: gen,
	})
}

// declared keeps the parameters the endpoint declares
func (ep Endpoint) declared(params Params) Params {
	out := make(Params, len(ep.Required)+len(ep.Optional))
	for _, names := range [][]string{ep.Required, ep.Optional} {
		for _, name := range names {
			if v, ok := params[name]; ok {
				out[name] = v
			}
		}
	}
	return out
}

// admit applies the endpoint's rate limit policy and reports whether the
// request may proceed. A denied request gets a 429 without touching the cache.
// Limiter failures other than an unknown policy admit the request.
func (h *GenerateHandler) admit(ctx context.Context, w http.ResponseWriter, rctx *fortune_gateway.Context) bool {
	if h.limiter == nil || h.endpoint.Policy == "" {
		return true
	}

	policy := h.endpoint.Policy
	res, err := h.limiter.CheckWithPolicy(ctx, rctx.ClientID, policy)
	if errors.Is(err, ratelimit.ErrUnknownPolicy) {
		writeError(w, h.log, fortune_gateway.NewInternalError("rate limit policy misconfigured", err))
		return false
	}
	if err != nil {
		h.log.Warn("rate limit check failed, allowing request", logger.Fields{
			"policy":     policy,
			"identifier": logger.Mask(rctx.ClientID),
			"error":      err.Error(),
		})
		h.recorder.FailOpen(policy)
		return true
	}

	if p, ok := h.limiter.Policy(policy); ok {
		w.Header().Set("X-RateLimit-Limit", strconv.Itoa(p.Limit))
	}
	w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(res.Remaining))
	w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(res.ResetAt.Unix(), 10))

	if !res.Allowed {
		h.recorder.RateLimited(policy)
		writeError(w, h.log, fortune_gateway.NewRateLimitError("Too many requests, please try again later", res.RetryAfterSeconds))
		return false
	}
	return true
}

// parseParams reads the query string for GET and a flat JSON object for POST
func parseParams(r *http.Request) (Params, error) {
	params := make(Params)

	if r.Method == http.MethodGet {
		for name, values := range r.URL.Query() {
			if len(values) > 0 {
				params[name] = values[0]
			}
		}
		return params, nil
	}

	var body map[string]any
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	if err := dec.Decode(&body); err != nil {
		if errors.Is(err, io.EOF) {
			return params, nil
		}
		return nil, fortune_gateway.NewValidationError("invalid request body: " + err.Error())
	}

	for name, raw := range body {
		switch v := raw.(type) {
		case nil:
		case string:
			params[name] = v
		case float64:
			params[name] = strconv.FormatFloat(v, 'f', -1, 64)
		case bool:
			params[name] = strconv.FormatBool(v)
		default:
			return nil, fortune_gateway.NewParamError(name, name+" must be a string, number or boolean")
		}
	}
	return params, nil
}
