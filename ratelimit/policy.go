package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"
)

// ErrUnknownPolicy is returned when checking against a policy that was never registered
var ErrUnknownPolicy = errors.New("ratelimit: unknown policy")

// Policy is a named quota
type Policy struct {
	Name   string        `json:"name"`
	Limit  int           `json:"limit"`
	Window time.Duration `json:"window"`
}

// Config returns the quota of the policy
func (p Policy) Config() Config {
	return Config{Limit: p.Limit, Window: p.Window}
}

// DefaultPolicies returns the built-in policies
func DefaultPolicies() map[string]Config {
	return map[string]Config{
		"default": {Limit: 60, Window: time.Minute},
		"api":     {Limit: 100, Window: time.Minute},
		"fortune": {Limit: 10, Window: time.Minute},
		"strict":  {Limit: 3, Window: time.Minute},
	}
}

// Registry maps policy names to quotas over a single WindowCounter.
// Counter keys are namespaced as "<policy>:<identifier>" so one identifier is
// tracked independently per policy.
type Registry struct {
	mu       sync.RWMutex
	counter  *WindowCounter
	policies map[string]Policy
}

// NewRegistry creates an empty registry over counter
func NewRegistry(counter *WindowCounter) *Registry {
	return &Registry{
		counter:  counter,
		policies: make(map[string]Policy),
	}
}

// NewDefaultRegistry creates a registry preloaded with DefaultPolicies
func NewDefaultRegistry(counter *WindowCounter) *Registry {
	r := NewRegistry(counter)
	for name, cfg := range DefaultPolicies() {
		// defaults are valid by construction
		_ = r.AddPolicy(name, cfg)
	}
	return r
}

// AddPolicy registers or replaces a named policy
func (r *Registry) AddPolicy(name string, cfg Config) error {
	if name == "" {
		return fmt.Errorf("%w: empty policy name", ErrInvalidConfig)
	}
	if name+":" == adhocPrefix {
		return fmt.Errorf("%w: policy name %q is reserved", ErrInvalidConfig, name)
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	r.mu.Lock()
	r.policies[name] = Policy{Name: name, Limit: cfg.Limit, Window: cfg.Window}
	r.mu.Unlock()
	return nil
}

// Policy returns a registered policy
func (r *Registry) Policy(name string) (Policy, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.policies[name]
	return p, ok
}

// Policies returns all registered policies sorted by name
func (r *Registry) Policies() []Policy {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Policy, 0, len(r.policies))
	for _, p := range r.policies {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// CheckWithPolicy counts one request for identifier under the named policy.
// An unregistered policy returns ErrUnknownPolicy and counts nothing.
func (r *Registry) CheckWithPolicy(ctx context.Context, identifier, policy string) (Result, error) {
	p, ok := r.Policy(policy)
	if !ok {
		return Result{}, fmt.Errorf("%w: %q", ErrUnknownPolicy, policy)
	}
	return r.counter.Check(ctx, policyKey(policy, identifier), p.Config())
}

// Check counts one request for identifier against an ad-hoc quota. Ad-hoc
// windows live in their own namespace and never share a window with a policy.
func (r *Registry) Check(ctx context.Context, identifier string, cfg Config) (Result, error) {
	return r.counter.Check(ctx, adhocPrefix+identifier, cfg)
}

// PeekWithPolicy returns the active window of identifier under the named policy
func (r *Registry) PeekWithPolicy(identifier, policy string) (Window, bool) {
	return r.counter.Peek(policyKey(policy, identifier))
}

// ResetWithPolicy clears the window of identifier under the named policy
func (r *Registry) ResetWithPolicy(identifier, policy string) bool {
	return r.counter.Reset(policyKey(policy, identifier))
}

// Counter returns the underlying window counter
func (r *Registry) Counter() *WindowCounter {
	return r.counter
}

const adhocPrefix = "adhoc:"

func policyKey(policy, identifier string) string {
	return policy + ":" + identifier
}
