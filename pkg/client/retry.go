package client

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog/log"
)

// Prometheus metrics for retry operations.
var (
	retriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "helium_retries_total",
		Help: "Total number of retry attempts by error class",
	}, []string{"error_class"})

	retryBackoffSeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "helium_retry_backoff_seconds",
		Help:    "Backoff duration for retries by error class",
		Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
	}, []string{"error_class"})

	retryExhaustedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "helium_retry_exhausted_total",
		Help: "Total number of times retry attempts were exhausted by error class",
	}, []string{"error_class"})
)

// RetryConfig holds the configuration for retry logic.
type RetryConfig struct {
	// MaxAttempts is the maximum number of attempts (including the initial request).
	MaxAttempts int `yaml:"max_attempts"`

	// InitialBackoff is the initial backoff duration.
	InitialBackoff time.Duration `yaml:"initial_backoff"`

	// MaxBackoff is the maximum backoff duration.
	MaxBackoff time.Duration `yaml:"max_backoff"`

	// BackoffMultiplier is the multiplier for exponential backoff.
	BackoffMultiplier float64 `yaml:"backoff_multiplier"`

	// RetryStatuses lists the HTTP statuses retried at the session level.
	// Once attempts run out the last response is returned to the caller.
	RetryStatuses []int `yaml:"retry_statuses"`
}

// DefaultRetryConfig returns the default retry configuration.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:       3,
		InitialBackoff:    1 * time.Second,
		MaxBackoff:        30 * time.Second,
		BackoffMultiplier: 2.0,
		RetryStatuses:     []int{429, 500, 502, 504},
	}
}

// retriesStatus reports whether code is in RetryStatuses.
func (c RetryConfig) retriesStatus(code int) bool {
	for _, s := range c.RetryStatuses {
		if s == code {
			return true
		}
	}
	return false
}

// nextBackoff returns the backoff following current, capped at MaxBackoff.
func (c RetryConfig) nextBackoff(current time.Duration) time.Duration {
	mult := c.BackoffMultiplier
	if mult < 1 {
		mult = 1
	}
	next := time.Duration(float64(current) * mult)
	if c.MaxBackoff > 0 && next > c.MaxBackoff {
		next = c.MaxBackoff
	}
	return next
}

// retryWithBackoff executes fn with exponential backoff. classify decides
// whether a failure is worth another attempt. It respects context
// cancellation and adds jitter to prevent thundering herd.
func retryWithBackoff(ctx context.Context, config RetryConfig, fn func() error, classify func(error) ErrorClass) error {
	maxAttempts := config.MaxAttempts
	if maxAttempts < 1 {
		maxAttempts = 1
	}

	var lastErr error
	var errorClass ErrorClass
	backoff := config.InitialBackoff

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		err := fn()
		if err == nil {
			if attempt > 1 {
				log.Debug().
					Str("error_class", string(errorClass)).
					Int("attempt", attempt).
					Msg("Request succeeded after retry")
			}
			return nil
		}

		lastErr = err
		errorClass = classify(err)

		if !shouldRetry(errorClass) {
			return lastErr
		}

		if attempt >= maxAttempts {
			break
		}

		retriesTotal.WithLabelValues(string(errorClass)).Inc()

		// ±20% jitter
		jitter := time.Duration(float64(backoff) * (0.8 + rand.Float64()*0.4))
		retryBackoffSeconds.WithLabelValues(string(errorClass)).Observe(jitter.Seconds())

		log.Debug().
			Err(err).
			Str("error_class", string(errorClass)).
			Int("attempt", attempt).
			Dur("backoff", jitter).
			Msg("Retrying request after backoff")

		timer := time.NewTimer(jitter)
		select {
		case <-ctx.Done():
			timer.Stop()
			return fmt.Errorf("%w: %w", ErrContextCancelled, ctx.Err())
		case <-timer.C:
		}

		backoff = config.nextBackoff(backoff)
	}

	retryExhaustedTotal.WithLabelValues(string(errorClass)).Inc()
	log.Debug().
		Str("error_class", string(errorClass)).
		Int("max_attempts", maxAttempts).
		Msg("Retry attempts exhausted")

	return fmt.Errorf("%w after %d attempts: %w", ErrRetryExhausted, maxAttempts, lastErr)
}
