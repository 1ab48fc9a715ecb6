// Package client provides the HTTP client used for every call to the Helium
// entities API, with retry, rate limiting and optional response caching.
package client

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/Sternrassler/helium-extractor/pkg/cache"
	"github.com/Sternrassler/helium-extractor/pkg/ratelimit"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Prometheus metrics for API client operations.
var (
	requestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "helium_requests_total",
		Help: "Total API requests by outcome (HTTP status, network_error, cache_hit)",
	}, []string{"status"})

	requestDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "helium_request_duration_seconds",
		Help:    "API request duration in seconds, including retries",
		Buckets: []float64{0.05, 0.1, 0.5, 1, 2, 5, 10, 30},
	})

	errorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "helium_errors_total",
		Help: "Total API errors by class",
	}, []string{"class"})
)

// Client is the API client shared by all workers. It is safe for concurrent use.
type Client struct {
	httpClient  *http.Client
	rateLimiter *ratelimit.Tracker
	cache       *cache.Manager
	config      Config
	logger      zerolog.Logger
}

// Config holds the client configuration.
type Config struct {
	// BaseURL is prefixed to relative request paths,
	// e.g. "https://entities.nft.helium.io/v2".
	BaseURL string

	// UserAgent header sent with every request.
	UserAgent string

	// Timeout bounds a single HTTP attempt.
	Timeout time.Duration

	// Retry is the session-level retry policy.
	Retry RetryConfig

	// RateLimit configures request pacing.
	RateLimit ratelimit.Config

	// Redis enables the response cache when set.
	Redis *redis.Client

	// CacheTTL is used for responses without freshness headers.
	CacheTTL time.Duration
}

// DefaultConfig returns a safe default configuration.
func DefaultConfig(baseURL string) Config {
	return Config{
		BaseURL:   baseURL,
		UserAgent: "helium-extractor/1.0",
		Timeout:   30 * time.Second,
		Retry:     DefaultRetryConfig(),
		RateLimit: ratelimit.DefaultConfig(),
		CacheTTL:  cache.DefaultTTL,
	}
}

// New creates a new API client.
func New(cfg Config) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("base url is required")
	}

	if cfg.UserAgent == "" {
		return nil, fmt.Errorf("user-agent is required")
	}

	if cfg.Retry.MaxAttempts < 1 {
		return nil, fmt.Errorf("retry max_attempts must be >= 1 (got %d)", cfg.Retry.MaxAttempts)
	}

	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = cache.DefaultTTL
	}

	logger := log.With().Str("component", "api-client").Logger()

	c := &Client{
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
		rateLimiter: ratelimit.NewTracker(cfg.RateLimit, logger),
		config:      cfg,
		logger:      logger,
	}

	if cfg.Redis != nil {
		c.cache = cache.NewManager(cfg.Redis)
	}

	return c, nil
}

// Do performs an HTTP request with caching, rate limiting and retry.
//
// Network errors and statuses listed in Config.Retry.RetryStatuses are
// retried. When retries of a status run out the last response is returned
// with a nil error, so the caller sees the status. When retries of a network
// error run out the error wraps ErrRetryExhausted and an *APIError of class
// ErrorClassNetwork. Other statuses are returned on the first attempt.
func (c *Client) Do(req *http.Request) (*http.Response, error) {
	ctx := req.Context()
	target := req.URL.Redacted()

	startTime := time.Now()
	defer func() {
		requestDuration.Observe(time.Since(startTime).Seconds())
	}()

	cacheable := c.cache != nil && req.Method == http.MethodGet
	var cacheKey cache.CacheKey
	if cacheable {
		cacheKey = cache.KeyForURL(req.URL)
		entry, err := c.cache.Get(ctx, cacheKey)
		switch {
		case err == nil:
			requestsTotal.WithLabelValues("cache_hit").Inc()
			c.logger.Debug().Str("url", target).Msg("Serving response from cache")
			return cache.EntryToResponse(entry, req), nil
		case !errors.Is(err, cache.ErrCacheMiss):
			c.logger.Warn().Err(err).Str("url", target).Msg("Cache get error")
		}
	}

	req.Header.Set("User-Agent", c.config.UserAgent)
	req.Header.Set("Accept", "application/json")

	var resp *http.Response

	retryErr := retryWithBackoff(ctx, c.config.Retry, func() error {
		if resp != nil {
			drainAndClose(resp)
			resp = nil
		}

		if err := c.rateLimiter.Wait(ctx); err != nil {
			return err
		}

		r, err := c.httpClient.Do(req)
		if err != nil {
			errorsTotal.WithLabelValues(string(ErrorClassNetwork)).Inc()
			requestsTotal.WithLabelValues("network_error").Inc()
			c.logger.Debug().Err(err).Str("url", target).Msg("HTTP request failed")
			return &APIError{
				ErrorClass: ErrorClassNetwork,
				URL:        target,
				Message:    "request failed",
				Err:        err,
			}
		}

		if err := c.rateLimiter.UpdateFromHeaders(r.Header); err != nil {
			c.logger.Debug().Err(err).Msg("Failed to update rate limit from headers")
		}

		resp = r
		requestsTotal.WithLabelValues(strconv.Itoa(r.StatusCode)).Inc()

		if r.StatusCode >= 400 {
			errClass := classifyStatus(r.StatusCode)
			errorsTotal.WithLabelValues(string(errClass)).Inc()

			if c.config.Retry.retriesStatus(r.StatusCode) {
				return &APIError{
					StatusCode: r.StatusCode,
					ErrorClass: errClass,
					URL:        target,
					Message:    r.Status,
				}
			}
		}

		return nil
	}, func(err error) ErrorClass {
		if ctx.Err() != nil {
			return ""
		}
		var apiErr *APIError
		if errors.As(err, &apiErr) {
			return apiErr.ErrorClass
		}
		return ""
	})

	if retryErr != nil {
		var apiErr *APIError
		if resp != nil && errors.As(retryErr, &apiErr) && apiErr.StatusCode != 0 {
			c.logger.Debug().
				Str("url", target).
				Int("status", resp.StatusCode).
				Msg("Status retries exhausted, returning last response")
			return resp, nil
		}
		if resp != nil {
			drainAndClose(resp)
		}
		return nil, retryErr
	}

	if cacheable && resp.StatusCode == http.StatusOK {
		entry, err := cache.ResponseToEntry(resp, c.config.CacheTTL)
		if err != nil {
			c.logger.Warn().Err(err).Msg("Failed to create cache entry")
		} else if err := c.cache.Set(ctx, cacheKey, entry); err != nil {
			c.logger.Warn().Err(err).Msg("Failed to cache response")
		}
	}

	return resp, nil
}

// Get performs a GET request. target is either an absolute URL or a path
// relative to Config.BaseURL.
func (c *Client) Get(ctx context.Context, target string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.resolve(target), nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	return c.Do(req)
}

func (c *Client) resolve(target string) string {
	if strings.HasPrefix(target, "http://") || strings.HasPrefix(target, "https://") {
		return target
	}
	return strings.TrimRight(c.config.BaseURL, "/") + "/" + strings.TrimLeft(target, "/")
}

// Close releases idle connections.
func (c *Client) Close() error {
	c.httpClient.CloseIdleConnections()
	return nil
}

// SetHTTPClient sets a custom HTTP client (for testing).
func (c *Client) SetHTTPClient(client *http.Client) {
	c.httpClient = client
}

// RateLimiter returns the rate limit tracker (for testing).
func (c *Client) RateLimiter() *ratelimit.Tracker {
	return c.rateLimiter
}

func drainAndClose(resp *http.Response) {
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
	resp.Body.Close()
}
