package pagination

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/Sternrassler/helium-extractor/pkg/flatten"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

var (
	pagesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "helium_list_pages_total",
		Help: "List pages fetched by collection",
	}, []string{"collection"})

	itemsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "helium_list_items_total",
		Help: "List items received by collection",
	}, []string{"collection"})
)

// ErrUnexpectedStatus is returned when a list page is not answered with 200 OK.
var ErrUnexpectedStatus = errors.New("unexpected status")

// Getter performs GET requests against the API. *client.Client implements it.
type Getter interface {
	Get(ctx context.Context, target string) (*http.Response, error)
}

// Config holds cursor walker configuration.
type Config struct {
	// ItemsField names the array of records in a page.
	ItemsField string

	// CursorField names the continuation cursor in a page.
	CursorField string

	// CursorParam is the query parameter the cursor is sent in.
	CursorParam string

	// MaxPages stops the walk after this many pages. 0 means no limit.
	MaxPages int

	// LogEvery logs progress every N pages. 0 disables progress logging.
	LogEvery int
}

// DefaultConfig returns the configuration for the entities API.
func DefaultConfig() Config {
	return Config{
		ItemsField:  "items",
		CursorField: "cursor",
		CursorParam: "cursor",
		LogEvery:    50,
	}
}

// Page is one decoded list page.
type Page struct {
	Number int
	Items  []flatten.Record
	Cursor string
}

// Stats summarizes a walk.
type Stats struct {
	Pages int
	Items int
}

// CursorWalker follows cursor links through a paginated list.
type CursorWalker struct {
	getter Getter
	config Config
	logger zerolog.Logger
}

// NewCursorWalker creates a new cursor walker.
func NewCursorWalker(getter Getter, config Config) *CursorWalker {
	defaults := DefaultConfig()
	if config.ItemsField == "" {
		config.ItemsField = defaults.ItemsField
	}
	if config.CursorField == "" {
		config.CursorField = defaults.CursorField
	}
	if config.CursorParam == "" {
		config.CursorParam = defaults.CursorParam
	}

	return &CursorWalker{
		getter: getter,
		config: config,
		logger: log.With().Str("component", "pagination").Logger(),
	}
}

// Walk fetches start and every following page, calling fn once per page in
// order. It stops at the first fetch, decode or callback error and returns
// the stats collected so far together with that error.
func (w *CursorWalker) Walk(ctx context.Context, start string, fn func(Page) error) (Stats, error) {
	begin := time.Now()
	collection := collectionOf(start)

	w.logger.Info().
		Str("collection", collection).
		Str("start", start).
		Msg("Starting list walk")

	var stats Stats
	target := start
	for {
		if err := ctx.Err(); err != nil {
			return stats, err
		}

		doc, err := getObject(ctx, w.getter, target)
		if err != nil {
			return stats, fmt.Errorf("page %d of %s: %w", stats.Pages+1, collection, err)
		}

		items, err := recordsField(doc, w.config.ItemsField)
		if err != nil {
			return stats, fmt.Errorf("page %d of %s: %w", stats.Pages+1, collection, err)
		}

		cursor, err := cursorField(doc, w.config.CursorField)
		if err != nil {
			return stats, fmt.Errorf("page %d of %s: %w", stats.Pages+1, collection, err)
		}

		stats.Pages++
		stats.Items += len(items)
		pagesTotal.WithLabelValues(collection).Inc()
		itemsTotal.WithLabelValues(collection).Add(float64(len(items)))

		if err := fn(Page{Number: stats.Pages, Items: items, Cursor: cursor}); err != nil {
			return stats, err
		}

		if w.config.LogEvery > 0 && stats.Pages%w.config.LogEvery == 0 {
			w.logger.Info().
				Str("collection", collection).
				Int("pages", stats.Pages).
				Int("items", stats.Items).
				Msg("List walk progress")
		}

		if cursor == "" {
			break
		}
		if w.config.MaxPages > 0 && stats.Pages >= w.config.MaxPages {
			w.logger.Warn().
				Str("collection", collection).
				Int("max_pages", w.config.MaxPages).
				Msg("Page limit reached - stopping walk")
			break
		}

		target, err = withQuery(start, w.config.CursorParam, cursor)
		if err != nil {
			return stats, err
		}
	}

	w.logger.Info().
		Str("collection", collection).
		Int("pages", stats.Pages).
		Int("items", stats.Items).
		Dur("duration", time.Since(begin)).
		Msg("List walk complete")

	return stats, nil
}

// FetchList fetches a single unpaginated list and flattens the array found
// under field.
func FetchList(ctx context.Context, getter Getter, target, field string) ([]flatten.Record, error) {
	doc, err := getObject(ctx, getter, target)
	if err != nil {
		return nil, err
	}

	records, err := recordsField(doc, field)
	if err != nil {
		return nil, err
	}

	collection := collectionOf(target)
	pagesTotal.WithLabelValues(collection).Inc()
	itemsTotal.WithLabelValues(collection).Add(float64(len(records)))

	return records, nil
}

func getObject(ctx context.Context, getter Getter, target string) (map[string]json.RawMessage, error) {
	resp, err := getter.Get(ctx, target)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
		return nil, fmt.Errorf("%w %d for %s", ErrUnexpectedStatus, resp.StatusCode, target)
	}

	var doc map[string]json.RawMessage
	if err := json.NewDecoder(resp.Body).Decode(&doc); err != nil {
		return nil, fmt.Errorf("decode %s: %w", target, err)
	}
	return doc, nil
}

func recordsField(doc map[string]json.RawMessage, field string) ([]flatten.Record, error) {
	raw, ok := doc[field]
	if !ok || string(raw) == "null" {
		return nil, nil
	}

	var items []json.RawMessage
	if err := json.Unmarshal(raw, &items); err != nil {
		return nil, fmt.Errorf("field %q: %w", field, err)
	}
	return flatten.NormalizeAll(items)
}

func cursorField(doc map[string]json.RawMessage, field string) (string, error) {
	raw, ok := doc[field]
	if !ok || string(raw) == "null" {
		return "", nil
	}

	var cursor string
	if err := json.Unmarshal(raw, &cursor); err != nil {
		return "", fmt.Errorf("field %q: %w", field, err)
	}
	return cursor, nil
}

// withQuery returns target with param set to value. target may be relative.
func withQuery(target, param, value string) (string, error) {
	u, err := url.Parse(target)
	if err != nil {
		return "", fmt.Errorf("parse %s: %w", target, err)
	}
	q := u.Query()
	q.Set(param, value)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// collectionOf labels a list target by its path and query, e.g.
// "hotspots?subnetwork=iot" or "oui/all".
func collectionOf(target string) string {
	u, err := url.Parse(target)
	if err != nil {
		return target
	}
	name := strings.TrimPrefix(u.Path, "/")
	if u.RawQuery != "" {
		name += "?" + u.RawQuery
	}
	return name
}
