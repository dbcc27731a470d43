package fortune_gateway

import (
	"fmt"
	"net"
	"net/http"
	"net/netip"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Context represents the request context throughout its lifecycle
type Context struct {
	RequestID   string
	StartTime   time.Time
	ClientID    string
	OriginalReq *http.Request
	Metadata    map[string]any
	mu          sync.RWMutex
}

// NewContext creates a new request context
func NewContext(req *http.Request) *Context {
	c := &Context{
		RequestID:   uuid.New().String(),
		StartTime:   time.Now(),
		OriginalReq: req,
		Metadata:    make(map[string]any),
	}
	if req != nil {
		c.ClientID = ClientIdentifier(req)
	}
	return c
}

// Set stores a value in the context metadata
func (c *Context) Set(key string, value any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Metadata[key] = value
}

// Get retrieves a value from the context metadata
func (c *Context) Get(key string) any {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.Metadata[key]
}

// Elapsed returns the time since the request started
func (c *Context) Elapsed() time.Duration {
	return time.Since(c.StartTime)
}

// ClientIdentifier derives the rate limiting identity of a request without
// trusting any proxy: the host part of RemoteAddr.
func ClientIdentifier(r *http.Request) string {
	return TrustedProxies(nil).ClientIdentifier(r)
}

// TrustedProxies are the networks whose forwarding headers are believed
type TrustedProxies []netip.Prefix

// ParseTrustedProxies parses a comma separated list of CIDR ranges or single
// addresses. An empty string trusts no proxy.
func ParseTrustedProxies(s string) (TrustedProxies, error) {
	var out TrustedProxies
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		if strings.Contains(part, "/") {
			prefix, err := netip.ParsePrefix(part)
			if err != nil {
				return nil, fmt.Errorf("invalid trusted proxy %q: %w", part, err)
			}
			out = append(out, prefix.Masked())
			continue
		}
		addr, err := netip.ParseAddr(part)
		if err != nil {
			return nil, fmt.Errorf("invalid trusted proxy %q: %w", part, err)
		}
		addr = addr.Unmap()
		out = append(out, netip.PrefixFrom(addr, addr.BitLen()))
	}
	return out, nil
}

// Trusts reports whether host is inside one of the trusted networks
func (p TrustedProxies) Trusts(host string) bool {
	addr, err := netip.ParseAddr(host)
	if err != nil {
		return false
	}
	addr = addr.Unmap()
	for _, prefix := range p {
		if prefix.Contains(addr) {
			return true
		}
	}
	return false
}

// ClientIdentifier derives the rate limiting identity of a request. Forwarding
// headers are read only when the peer is a trusted proxy: the client is then
// the rightmost X-Forwarded-For hop that is not itself trusted, or X-Real-IP.
// Otherwise it is the host part of RemoteAddr.
func (p TrustedProxies) ClientIdentifier(r *http.Request) string {
	peer := remoteHost(r)
	if len(p) == 0 || !p.Trusts(peer) {
		return peer
	}

	var hops []string
	for _, value := range r.Header.Values("X-Forwarded-For") {
		for _, hop := range strings.Split(value, ",") {
			if hop = strings.TrimSpace(hop); hop != "" {
				hops = append(hops, hop)
			}
		}
	}
	for i := len(hops) - 1; i >= 0; i-- {
		if !p.Trusts(hops[i]) {
			return hops[i]
		}
	}
	if len(hops) > 0 {
		return hops[0]
	}

	if ip := strings.TrimSpace(r.Header.Get("X-Real-IP")); ip != "" {
		return ip
	}
	return peer
}

func remoteHost(r *http.Request) string {
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	if r.RemoteAddr != "" {
		return r.RemoteAddr
	}
	return "unknown"
}
