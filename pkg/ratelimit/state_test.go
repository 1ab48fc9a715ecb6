package ratelimit

import (
	"testing"
	"time"
)

func TestRateLimitState_IsStale(t *testing.T) {
	tests := []struct {
		name     string
		state    *RateLimitState
		maxAge   time.Duration
		expected bool
	}{
		{
			name:     "fresh state",
			state:    &RateLimitState{LastUpdate: time.Now()},
			maxAge:   5 * time.Minute,
			expected: false,
		},
		{
			name:     "stale state",
			state:    &RateLimitState{LastUpdate: time.Now().Add(-10 * time.Minute)},
			maxAge:   5 * time.Minute,
			expected: true,
		},
		{
			name:     "never updated",
			state:    &RateLimitState{},
			maxAge:   5 * time.Minute,
			expected: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.state.IsStale(tt.maxAge); got != tt.expected {
				t.Errorf("IsStale() = %v, want %v", got, tt.expected)
			}
		})
	}
}

func TestRateLimitState_NeedsCriticalBlock(t *testing.T) {
	future := time.Now().Add(time.Minute)
	past := time.Now().Add(-time.Minute)

	tests := []struct {
		name      string
		remaining int
		resetAt   time.Time
		expected  bool
	}{
		{name: "well above critical threshold", remaining: 50, resetAt: future, expected: false},
		{name: "at critical threshold", remaining: ThresholdCritical, resetAt: future, expected: false},
		{name: "just below critical threshold", remaining: ThresholdCritical - 1, resetAt: future, expected: true},
		{name: "zero remaining", remaining: 0, resetAt: future, expected: true},
		{name: "zero remaining but window already reset", remaining: 0, resetAt: past, expected: false},
		{name: "zero remaining without reset time", remaining: 0, expected: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			state := &RateLimitState{Remaining: tt.remaining, ResetAt: tt.resetAt}
			if got := state.NeedsCriticalBlock(); got != tt.expected {
				t.Errorf("NeedsCriticalBlock() = %v, want %v (remaining=%d)", got, tt.expected, tt.remaining)
			}
		})
	}
}

func TestRateLimitState_NeedsThrottling(t *testing.T) {
	tests := []struct {
		name      string
		remaining int
		expected  bool
	}{
		{name: "healthy state", remaining: 50, expected: false},
		{name: "at warning threshold", remaining: ThresholdWarning, expected: false},
		{name: "just below warning threshold", remaining: ThresholdWarning - 1, expected: true},
		{name: "just above critical threshold", remaining: ThresholdCritical + 1, expected: true},
		{name: "below critical threshold", remaining: ThresholdCritical - 1, expected: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			state := &RateLimitState{
				Remaining: tt.remaining,
				ResetAt:   time.Now().Add(time.Minute),
			}
			if got := state.NeedsThrottling(); got != tt.expected {
				t.Errorf("NeedsThrottling() = %v, want %v (remaining=%d)", got, tt.expected, tt.remaining)
			}
		})
	}
}

func TestRateLimitState_TimeUntilReset(t *testing.T) {
	state := &RateLimitState{ResetAt: time.Now().Add(5 * time.Minute)}
	got := state.TimeUntilReset()
	if got < 4*time.Minute || got > 5*time.Minute {
		t.Errorf("TimeUntilReset() = %v, want about 5m", got)
	}

	state = &RateLimitState{ResetAt: time.Now().Add(-5 * time.Minute)}
	if got := state.TimeUntilReset(); got != 0 {
		t.Errorf("TimeUntilReset() = %v, want 0 for past reset time", got)
	}
}

func TestRateLimitState_UpdateHealth(t *testing.T) {
	tests := []struct {
		name            string
		remaining       int
		expectedHealthy bool
	}{
		{name: "healthy state", remaining: 100, expectedHealthy: true},
		{name: "at healthy threshold", remaining: ThresholdHealthy, expectedHealthy: true},
		{name: "just below healthy threshold", remaining: ThresholdHealthy - 1, expectedHealthy: false},
		{name: "critical state", remaining: 1, expectedHealthy: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			state := &RateLimitState{Remaining: tt.remaining}
			state.UpdateHealth()
			if state.IsHealthy != tt.expectedHealthy {
				t.Errorf("UpdateHealth() set IsHealthy = %v, want %v (remaining=%d)",
					state.IsHealthy, tt.expectedHealthy, tt.remaining)
			}
		})
	}
}

func TestThresholdConstants(t *testing.T) {
	if ThresholdCritical >= ThresholdWarning {
		t.Errorf("ThresholdCritical (%d) must be less than ThresholdWarning (%d)",
			ThresholdCritical, ThresholdWarning)
	}
	if ThresholdWarning >= ThresholdHealthy {
		t.Errorf("ThresholdWarning (%d) must be less than ThresholdHealthy (%d)",
			ThresholdWarning, ThresholdHealthy)
	}
}
