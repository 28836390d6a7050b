// Package ratelimit gates page fetches on the upstream's advertised request
// budget. It reads the X-RateLimit-Remaining and X-RateLimit-Reset headers
// and keeps per-host state in a Store, so several loaders pointed at the same
// upstream (optionally across processes via Redis) share one view.
package ratelimit

import (
	"time"
)

// Response headers consumed by the tracker.
const (
	HeaderRemaining = "X-RateLimit-Remaining"
	HeaderReset     = "X-RateLimit-Reset"
)

// Thresholds for rate limit decisions, expressed in remaining requests.
type Thresholds struct {
	// Critical blocks requests when remaining falls below this value.
	Critical int

	// Warning throttles requests when remaining falls below this value.
	Warning int

	// Healthy marks the state healthy at or above this value.
	Healthy int
}

// DefaultThresholds returns thresholds suited to small public list APIs.
func DefaultThresholds() Thresholds {
	return Thresholds{
		Critical: 1,
		Warning:  5,
		Healthy:  20,
	}
}

// State is the last known request budget for one upstream host.
type State struct {
	// Remaining is the number of requests left in the current window.
	Remaining int `json:"remaining"`

	// ResetAt is when the window resets.
	ResetAt time.Time `json:"reset_at"`

	// LastUpdate is when this state was recorded.
	LastUpdate time.Time `json:"last_update"`

	// IsHealthy is true when Remaining is at or above the healthy threshold.
	IsHealthy bool `json:"is_healthy"`
}

// healthyState is assumed until the upstream reports otherwise.
func healthyState() *State {
	now := time.Now()
	return &State{
		Remaining:  100,
		ResetAt:    now.Add(60 * time.Second),
		LastUpdate: now,
		IsHealthy:  true,
	}
}

// IsStale returns true if the state is older than maxAge.
func (s *State) IsStale(maxAge time.Duration) bool {
	return time.Since(s.LastUpdate) > maxAge
}

// Expired reports whether the window has already reset.
func (s *State) Expired() bool {
	return !s.ResetAt.After(time.Now())
}

// NeedsCriticalBlock returns true if requests must be blocked.
// A window that has already reset never blocks.
func (s *State) NeedsCriticalBlock(th Thresholds) bool {
	return s.Remaining < th.Critical && !s.Expired()
}

// NeedsThrottling returns true if requests should be slowed down.
func (s *State) NeedsThrottling(th Thresholds) bool {
	return s.Remaining < th.Warning && !s.Expired() && !s.NeedsCriticalBlock(th)
}

// TimeUntilReset returns the duration until the window resets, or 0.
func (s *State) TimeUntilReset() time.Duration {
	duration := time.Until(s.ResetAt)
	if duration < 0 {
		return 0
	}
	return duration
}

// UpdateHealth recomputes IsHealthy.
func (s *State) UpdateHealth(th Thresholds) {
	s.IsHealthy = s.Remaining >= th.Healthy
}
