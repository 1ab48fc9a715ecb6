package enrich

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/Sternrassler/helium-extractor/pkg/flatten"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// KeyPlaceholder marks where the key goes in FetcherConfig.PathTemplate.
const KeyPlaceholder = "{key}"

// ErrBodyTooLarge is wrapped by a normalization failure when a detail
// response exceeds FetcherConfig.MaxBodyBytes.
var ErrBodyTooLarge = errors.New("response body too large")

// Getter performs GET requests against the API. *client.Client implements it.
//
// Retrying is the Getter's job: it should retry transport failures itself and
// hand back the final response for any status.
type Getter interface {
	Get(ctx context.Context, target string) (*http.Response, error)
}

// FailureKind classifies why a key was skipped.
type FailureKind int

const (
	// FailureHTTPStatus means the API answered with a status other than 200.
	FailureHTTPStatus FailureKind = iota + 1

	// FailureTransport means no response was received, after retries.
	FailureTransport

	// FailureNormalization means the body was not a JSON object.
	FailureNormalization
)

func (k FailureKind) String() string {
	switch k {
	case FailureHTTPStatus:
		return "http_status"
	case FailureTransport:
		return "transport"
	case FailureNormalization:
		return "normalization"
	default:
		return "unknown"
	}
}

// FetchError reports a key that could not be turned into a record.
type FetchError struct {
	Kind       FailureKind
	Key        string
	StatusCode int // set for FailureHTTPStatus
	Err        error
}

func (e *FetchError) Error() string {
	if e.Kind == FailureHTTPStatus {
		return fmt.Sprintf("fetch %s: http status %d", e.Key, e.StatusCode)
	}
	return fmt.Sprintf("fetch %s: %s failure: %v", e.Key, e.Kind, e.Err)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

// FetcherConfig holds detail fetcher configuration.
type FetcherConfig struct {
	// PathTemplate is the detail path relative to the API base URL. The
	// path-escaped key replaces KeyPlaceholder, or is appended as the last
	// path segment when the template has no placeholder.
	PathTemplate string

	// MaxBodyBytes caps the size of one detail response.
	MaxBodyBytes int64
}

// DefaultFetcherConfig returns the configuration for the hotspot detail endpoint.
func DefaultFetcherConfig() FetcherConfig {
	return FetcherConfig{
		PathTemplate: "hotspot/" + KeyPlaceholder,
		MaxBodyBytes: 10 << 20,
	}
}

// DetailFetcher fetches and flattens one detail record per key. It is safe
// for concurrent use; all workers of a run share one fetcher.
type DetailFetcher struct {
	getter   Getter
	config   FetcherConfig
	progress *Progress
	logger   zerolog.Logger
}

// NewDetailFetcher creates a fetcher that reports every call to progress.
// A nil progress gets a private, non-logging counter.
func NewDetailFetcher(getter Getter, cfg FetcherConfig, progress *Progress) *DetailFetcher {
	defaults := DefaultFetcherConfig()
	if cfg.PathTemplate == "" {
		cfg.PathTemplate = defaults.PathTemplate
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = defaults.MaxBodyBytes
	}
	if progress == nil {
		progress = NewProgress(0)
	}

	return &DetailFetcher{
		getter:   getter,
		config:   cfg,
		progress: progress,
		logger:   log.With().Str("component", "detail-fetcher").Logger(),
	}
}

// Progress returns the counter the fetcher reports to.
func (f *DetailFetcher) Progress() *Progress {
	return f.progress
}

// Target returns the request path for key.
func (f *DetailFetcher) Target(key string) string {
	tpl := f.config.PathTemplate
	escaped := url.PathEscape(key)
	if strings.Contains(tpl, KeyPlaceholder) {
		return strings.ReplaceAll(tpl, KeyPlaceholder, escaped)
	}
	return strings.TrimRight(tpl, "/") + "/" + escaped
}

// Fetch requests the detail record for key. Any failure is a *FetchError;
// the fetcher never retries on its own. A failure caused by ctx ending is
// not counted, the key stays unprocessed.
func (f *DetailFetcher) Fetch(ctx context.Context, key string) (flatten.Record, error) {
	rec, err := f.fetch(ctx, key)
	if err != nil && ctx.Err() != nil {
		return nil, err
	}
	f.progress.record(err)
	return rec, err
}

func (f *DetailFetcher) fetch(ctx context.Context, key string) (flatten.Record, error) {
	target := f.Target(key)

	resp, err := f.getter.Get(ctx, target)
	if err != nil {
		return nil, &FetchError{Kind: FailureTransport, Key: key, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
		return nil, &FetchError{Kind: FailureHTTPStatus, Key: key, StatusCode: resp.StatusCode}
	}

	limit := f.config.MaxBodyBytes
	body, err := io.ReadAll(io.LimitReader(resp.Body, limit+1))
	if err != nil {
		return nil, &FetchError{Kind: FailureTransport, Key: key, Err: fmt.Errorf("read body: %w", err)}
	}
	if int64(len(body)) > limit {
		return nil, &FetchError{Kind: FailureNormalization, Key: key, Err: fmt.Errorf("%w (limit %d bytes)", ErrBodyTooLarge, limit)}
	}

	rec, err := flatten.Normalize(body)
	if err != nil {
		return nil, &FetchError{Kind: FailureNormalization, Key: key, Err: err}
	}

	f.logger.Debug().Str("key", key).Int("fields", len(rec)).Msg("Fetched detail record")
	return rec, nil
}
