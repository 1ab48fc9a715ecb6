// Package ratelimit paces outgoing API requests and backs off when the API
// advertises that its request budget is nearly spent. It reads the
// RateLimit-Remaining / RateLimit-Reset headers (with or without the X- prefix)
// and Retry-After.
package ratelimit

import (
	"time"
)

// Header names understood by the tracker, in lookup order.
var (
	remainingHeaders = []string{"RateLimit-Remaining", "X-RateLimit-Remaining"}
	resetHeaders     = []string{"RateLimit-Reset", "X-RateLimit-Reset"}
)

// Thresholds for rate limit decisions.
const (
	// ThresholdCritical holds all requests until the window resets when
	// remaining requests fall below this value.
	ThresholdCritical = 2

	// ThresholdWarning throttles requests when remaining requests fall below this value.
	ThresholdWarning = 10

	// ThresholdHealthy indicates normal operation.
	ThresholdHealthy = 25
)

// RateLimitState is the last budget the API advertised.
type RateLimitState struct {
	// Remaining is the number of requests left in the current window.
	Remaining int `json:"remaining"`

	// ResetAt is when the window resets.
	ResetAt time.Time `json:"reset_at"`

	// LastUpdate is when this state was last refreshed from headers.
	LastUpdate time.Time `json:"last_update"`

	// IsHealthy is true when Remaining >= ThresholdHealthy.
	IsHealthy bool `json:"is_healthy"`
}

// defaultState is assumed until the API sends real data.
func defaultState() RateLimitState {
	return RateLimitState{
		Remaining:  ThresholdHealthy,
		LastUpdate: time.Time{},
		IsHealthy:  true,
	}
}

// IsStale returns true if the state data is older than the given duration.
func (s *RateLimitState) IsStale(maxAge time.Duration) bool {
	return time.Since(s.LastUpdate) > maxAge
}

// NeedsCriticalBlock returns true if requests must wait for the window reset.
func (s *RateLimitState) NeedsCriticalBlock() bool {
	return s.Remaining < ThresholdCritical && s.TimeUntilReset() > 0
}

// NeedsThrottling returns true if requests should be slowed down.
func (s *RateLimitState) NeedsThrottling() bool {
	return s.Remaining < ThresholdWarning && !s.NeedsCriticalBlock()
}

// TimeUntilReset returns the duration until the window resets.
// Returns 0 if the reset time has already passed.
func (s *RateLimitState) TimeUntilReset() time.Duration {
	duration := time.Until(s.ResetAt)
	if duration < 0 {
		return 0
	}
	return duration
}

// UpdateHealth updates the IsHealthy field based on Remaining.
func (s *RateLimitState) UpdateHealth() {
	s.IsHealthy = s.Remaining >= ThresholdHealthy
}
