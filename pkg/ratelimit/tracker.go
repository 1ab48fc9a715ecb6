package ratelimit

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

// Prometheus metrics for rate limit tracking.
var (
	rateLimitRemaining = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "helium_rate_limit_remaining",
		Help: "Requests remaining in the current API rate limit window",
	})

	rateLimitWaitsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "helium_rate_limit_waits_total",
		Help: "Total number of requests delayed by the rate limiter by reason",
	}, []string{"reason"})
)

// Config holds rate limiter configuration.
type Config struct {
	// RequestsPerSecond caps the steady request rate. 0 disables pacing.
	RequestsPerSecond float64

	// Burst is the number of requests allowed above the steady rate.
	Burst int

	// ThrottleDelay is added before each request while the budget is low.
	ThrottleDelay time.Duration

	// MaxWait caps how long a request waits for a window reset.
	MaxWait time.Duration

	// StaleAfter drops a state that has no reset time once it is this old.
	// 0 keeps such a state until new headers arrive.
	StaleAfter time.Duration
}

// DefaultConfig returns the default rate limiter configuration.
func DefaultConfig() Config {
	return Config{
		RequestsPerSecond: 0,
		Burst:             1,
		ThrottleDelay:     1 * time.Second,
		MaxWait:           60 * time.Second,
		StaleAfter:        60 * time.Second,
	}
}

// Tracker paces requests and gates them on the advertised rate limit state.
// It is safe for concurrent use by all workers.
type Tracker struct {
	limiter *rate.Limiter
	config  Config
	logger  zerolog.Logger

	mu    sync.Mutex
	state RateLimitState
}

// NewTracker creates a new rate limit tracker.
func NewTracker(cfg Config, logger zerolog.Logger) *Tracker {
	limit := rate.Inf
	if cfg.RequestsPerSecond > 0 {
		limit = rate.Limit(cfg.RequestsPerSecond)
	}
	if cfg.Burst <= 0 {
		cfg.Burst = 1
	}

	return &Tracker{
		limiter: rate.NewLimiter(limit, cfg.Burst),
		config:  cfg,
		logger:  logger,
		state:   defaultState(),
	}
}

// State returns a copy of the current rate limit state.
func (t *Tracker) State() RateLimitState {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// Wait blocks until a request may be sent. It returns an error only if ctx
// ends first.
func (t *Tracker) Wait(ctx context.Context) error {
	state := t.current()

	switch {
	case state.NeedsCriticalBlock():
		wait := state.TimeUntilReset()
		if t.config.MaxWait > 0 && wait > t.config.MaxWait {
			wait = t.config.MaxWait
		}
		t.logger.Warn().
			Int("remaining", state.Remaining).
			Dur("wait", wait).
			Msg("Rate limit exhausted - waiting for window reset")
		rateLimitWaitsTotal.WithLabelValues("exhausted").Inc()
		if err := sleep(ctx, wait); err != nil {
			return err
		}

	case state.NeedsThrottling() && t.config.ThrottleDelay > 0:
		t.logger.Debug().
			Int("remaining", state.Remaining).
			Msg("Rate limit low - throttling request")
		rateLimitWaitsTotal.WithLabelValues("throttle").Inc()
		if err := sleep(ctx, t.config.ThrottleDelay); err != nil {
			return err
		}
	}

	if err := t.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limiter wait: %w", err)
	}
	return nil
}

// current returns the state, reverting to the default once the advertised
// window has reset or a state without a reset time has gone stale.
func (t *Tracker) current() RateLimitState {
	t.mu.Lock()
	defer t.mu.Unlock()

	expired := false
	switch {
	case !t.state.ResetAt.IsZero():
		expired = !time.Now().Before(t.state.ResetAt)
	case !t.state.LastUpdate.IsZero() && t.config.StaleAfter > 0:
		expired = t.state.IsStale(t.config.StaleAfter)
	}
	if expired {
		t.state = defaultState()
		rateLimitRemaining.Set(float64(t.state.Remaining))
	}
	return t.state
}

// UpdateFromHeaders refreshes the state from response headers. Responses
// without rate limit headers leave the state unchanged.
func (t *Tracker) UpdateFromHeaders(headers http.Header) error {
	now := time.Now()

	if retryAfter := headers.Get("Retry-After"); retryAfter != "" {
		wait, err := parseRetryAfter(retryAfter, now)
		if err != nil {
			return fmt.Errorf("parse Retry-After header: %w", err)
		}
		t.store(RateLimitState{Remaining: 0, ResetAt: now.Add(wait), LastUpdate: now})
		return nil
	}

	remainStr := firstHeader(headers, remainingHeaders)
	if remainStr == "" {
		return nil
	}

	remain, err := strconv.Atoi(strings.TrimSpace(remainStr))
	if err != nil {
		return fmt.Errorf("parse rate limit remaining header: %w", err)
	}

	state := RateLimitState{Remaining: remain, LastUpdate: now}

	if resetStr := firstHeader(headers, resetHeaders); resetStr != "" {
		resetSeconds, err := strconv.Atoi(strings.TrimSpace(resetStr))
		if err != nil {
			return fmt.Errorf("parse rate limit reset header: %w", err)
		}
		state.ResetAt = now.Add(time.Duration(resetSeconds) * time.Second)
	}

	t.store(state)
	return nil
}

func (t *Tracker) store(state RateLimitState) {
	state.UpdateHealth()

	t.mu.Lock()
	t.state = state
	t.mu.Unlock()

	rateLimitRemaining.Set(float64(state.Remaining))

	if !state.IsHealthy {
		t.logger.Debug().
			Int("remaining", state.Remaining).
			Time("reset_at", state.ResetAt).
			Msg("Rate limit state updated")
	}
}

func firstHeader(headers http.Header, names []string) string {
	for _, name := range names {
		if v := headers.Get(name); v != "" {
			return v
		}
	}
	return ""
}

// parseRetryAfter accepts delay-seconds or an HTTP date.
func parseRetryAfter(value string, now time.Time) (time.Duration, error) {
	value = strings.TrimSpace(value)
	if secs, err := strconv.Atoi(value); err == nil {
		if secs < 0 {
			secs = 0
		}
		return time.Duration(secs) * time.Second, nil
	}
	at, err := http.ParseTime(value)
	if err != nil {
		return 0, err
	}
	if d := at.Sub(now); d > 0 {
		return d, nil
	}
	return 0, nil
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
