package handler

import "time"

// Recorder receives handler events for metrics
type Recorder interface {
	// CacheLookup records a cached endpoint lookup
	CacheLookup(endpoint string, hit bool)
	// RateLimited records a request denied by policy
	RateLimited(policy string)
	// FailOpen records a request admitted because the limiter failed
	FailOpen(policy string)
	// Generation records an upstream generation call
	Generation(endpoint string, duration time.Duration, err error)
}

type nopRecorder struct{}

func (nopRecorder) CacheLookup(string, bool)                {}
func (nopRecorder) RateLimited(string)                      {}
func (nopRecorder) FailOpen(string)                         {}
func (nopRecorder) Generation(string, time.Duration, error) {}
