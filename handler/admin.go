package handler

import (
	"crypto/subtle"
	"net/http"
	"strings"

	fortune_gateway "github.com/deeplooplabs/fortune-gateway"
	"github.com/deeplooplabs/fortune-gateway/cache"
	"github.com/deeplooplabs/fortune-gateway/logger"
	"github.com/deeplooplabs/fortune-gateway/ratelimit"
)

// AdminHandler exposes cache and rate limit maintenance under /admin/.
// Every request must carry the admin token as a bearer token or in
// X-Admin-Token.
type AdminHandler struct {
	cache  *cache.TieredCache
	tags   *cache.TagIndex
	limits *ratelimit.Registry
	token  string
	log    logger.Logger
	mux    *http.ServeMux
}

// PolicyInfo describes a rate limit policy
type PolicyInfo struct {
	Name          string  `json:"name"`
	Limit         int     `json:"limit"`
	Window        string  `json:"window"`
	WindowSeconds float64 `json:"windowSeconds"`
}

// NewAdminHandler creates the admin handler. An empty token rejects every
// request.
func NewAdminHandler(c *cache.TieredCache, tags *cache.TagIndex, limits *ratelimit.Registry, token string, log logger.Logger) *AdminHandler {
	h := &AdminHandler{
		cache:  c,
		tags:   tags,
		limits: limits,
		token:  token,
		log:    logger.OrNop(log),
		mux:    http.NewServeMux(),
	}

	h.mux.HandleFunc("GET /admin/cache/stats", h.cacheStats)
	h.mux.HandleFunc("DELETE /admin/cache", h.clearCache)
	h.mux.HandleFunc("GET /admin/cache/tags", h.listTags)
	h.mux.HandleFunc("DELETE /admin/cache/tags/{tag}", h.invalidateTag)
	h.mux.HandleFunc("GET /admin/ratelimit/policies", h.listPolicies)
	h.mux.HandleFunc("DELETE /admin/ratelimit/{policy}/{identifier}", h.resetLimit)
	return h
}

// ServeHTTP implements http.Handler
func (h *AdminHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if !h.authorized(r) {
		h.log.Warn("admin request rejected", logger.Fields{
			"path":   r.URL.Path,
			"client": logger.Mask(fortune_gateway.ClientIdentifier(r)),
		})
		writeError(w, h.log, fortune_gateway.NewAuthenticationError("invalid admin token"))
		return
	}
	h.mux.ServeHTTP(w, r)
}

func (h *AdminHandler) authorized(r *http.Request) bool {
	if h.token == "" {
		return false
	}
	got := r.Header.Get("X-Admin-Token")
	if got == "" {
		got = strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
	}
	return subtle.ConstantTimeCompare([]byte(got), []byte(h.token)) == 1
}

func (h *AdminHandler) cacheStats(w http.ResponseWriter, r *http.Request) {
	resp := map[string]any{
		"cache": h.cache.Stats(),
		"tags":  len(h.tags.Tags()),
	}
	if h.limits != nil {
		resp["rateLimitWindows"] = h.limits.Counter().Len()
	}
	writeJSON(w, h.log, http.StatusOK, resp)
}

func (h *AdminHandler) clearCache(w http.ResponseWriter, r *http.Request) {
	h.cache.Clear(r.Context())
	h.tags.Clear()
	h.log.Info("cache cleared by admin", nil)
	writeJSON(w, h.log, http.StatusOK, map[string]any{"cleared": true})
}

func (h *AdminHandler) listTags(w http.ResponseWriter, r *http.Request) {
	tags := make(map[string]int)
	for _, tag := range h.tags.Tags() {
		tags[tag] = len(h.tags.Keys(tag))
	}
	writeJSON(w, h.log, http.StatusOK, map[string]any{"tags": tags})
}

func (h *AdminHandler) invalidateTag(w http.ResponseWriter, r *http.Request) {
	tag := r.PathValue("tag")
	n := h.tags.InvalidateByTag(r.Context(), tag)
	h.log.Info("cache tag invalidated by admin", logger.Fields{"tag": tag, "invalidated": n})
	writeJSON(w, h.log, http.StatusOK, map[string]any{"tag": tag, "invalidated": n})
}

func (h *AdminHandler) listPolicies(w http.ResponseWriter, r *http.Request) {
	if h.limits == nil {
		writeJSON(w, h.log, http.StatusOK, map[string]any{"policies": []PolicyInfo{}})
		return
	}

	policies := h.limits.Policies()
	out := make([]PolicyInfo, 0, len(policies))
	for _, p := range policies {
		out = append(out, PolicyInfo{
			Name:          p.Name,
			Limit:         p.Limit,
			Window:        p.Window.String(),
			WindowSeconds: p.Window.Seconds(),
		})
	}
	writeJSON(w, h.log, http.StatusOK, map[string]any{"policies": out})
}

func (h *AdminHandler) resetLimit(w http.ResponseWriter, r *http.Request) {
	policy := r.PathValue("policy")
	identifier := r.PathValue("identifier")

	if h.limits == nil {
		writeError(w, h.log, fortune_gateway.NewNotFoundError("rate limiting is disabled"))
		return
	}
	if _, ok := h.limits.Policy(policy); !ok {
		writeError(w, h.log, fortune_gateway.NewNotFoundError("unknown policy: "+policy))
		return
	}

	reset := h.limits.ResetWithPolicy(identifier, policy)
	h.log.Info("rate limit reset by admin", logger.Fields{
		"policy":     policy,
		"identifier": logger.Mask(identifier),
		"reset":      reset,
	})
	writeJSON(w, h.log, http.StatusOK, map[string]any{"policy": policy, "reset": reset})
}
