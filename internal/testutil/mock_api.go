// Package testutil provides an httptest mock of the Helium entities API.
package testutil

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"time"
)

// MockResponse defines the behavior for one mock API response.
type MockResponse struct {
	StatusCode int
	Body       string
	Headers    map[string]string
	Delay      time.Duration
}

// MockAPI is a configurable mock API server for testing.
type MockAPI struct {
	server *httptest.Server

	mu        sync.RWMutex
	handlers  map[string]http.HandlerFunc
	sequences map[string][]MockResponse
	requests  map[string]int
	total     int
	lastQuery map[string]string
}

// NewMockAPI creates and starts a new mock API server.
func NewMockAPI() *MockAPI {
	mock := &MockAPI{
		handlers:  make(map[string]http.HandlerFunc),
		sequences: make(map[string][]MockResponse),
		requests:  make(map[string]int),
		lastQuery: make(map[string]string),
	}

	mock.server = httptest.NewServer(http.HandlerFunc(mock.serve))
	return mock
}

func (m *MockAPI) serve(w http.ResponseWriter, r *http.Request) {
	path := r.URL.EscapedPath()

	m.mu.Lock()
	m.total++
	m.requests[path]++
	n := m.requests[path]
	m.lastQuery[path] = r.URL.RawQuery
	handler, hasHandler := m.handlers[path]
	seq, hasSeq := m.sequences[path]
	m.mu.Unlock()

	switch {
	case hasHandler:
		handler(w, r)
	case hasSeq:
		idx := n - 1
		if idx >= len(seq) {
			idx = len(seq) - 1
		}
		writeResponse(w, seq[idx])
	default:
		writeResponse(w, NewNotFoundResponse())
	}
}

// URL returns the mock server URL.
func (m *MockAPI) URL() string {
	return m.server.URL
}

// Close shuts down the mock server.
func (m *MockAPI) Close() {
	m.server.Close()
}

// SetHandler sets a custom handler for an escaped request path.
func (m *MockAPI) SetHandler(path string, handler http.HandlerFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers[path] = handler
}

// SetResponse configures a fixed response for a path.
func (m *MockAPI) SetResponse(path string, resp MockResponse) {
	m.SetSequence(path, resp)
}

// SetSequence configures successive responses for a path. The last response
// repeats once the sequence is used up.
func (m *MockAPI) SetSequence(path string, responses ...MockResponse) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sequences[path] = responses
}

// SetHotspot serves a detail record for key under /v2/hotspot/<key>.
func (m *MockAPI) SetHotspot(key string) {
	m.SetResponse(HotspotPath(key), NewJSONResponse(HotspotJSON(key)))
}

// RequestsFor returns how many requests hit path.
func (m *MockAPI) RequestsFor(path string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.requests[path]
}

// LastQuery returns the raw query of the last request to path.
func (m *MockAPI) LastQuery(path string) string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.lastQuery[path]
}

// GetRequestCount returns the number of requests made to the server.
func (m *MockAPI) GetRequestCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.total
}

func writeResponse(w http.ResponseWriter, resp MockResponse) {
	if resp.Delay > 0 {
		time.Sleep(resp.Delay)
	}
	for key, value := range resp.Headers {
		w.Header().Set(key, value)
	}
	w.WriteHeader(resp.StatusCode)
	if resp.Body != "" {
		w.Write([]byte(resp.Body))
	}
}

// HotspotPath returns the detail path for key.
func HotspotPath(key string) string {
	return "/v2/hotspot/" + key
}

// HotspotJSON returns a detail document shaped like the entities API response.
func HotspotJSON(key string) string {
	return fmt.Sprintf(`{
  "key_to_asset_key": "ka-%[1]s",
  "entity_key_str": %[2]s,
  "name": "hotspot %[1]s",
  "is_active": true,
  "hotspot_infos": {
    "iot": {
      "asset": "asset-%[1]s",
      "location": "8c2830828a8b5ff",
      "lat": 37.7749,
      "long": -122.4194,
      "elevation": 12,
      "gain": 12,
      "is_full_hotspot": true,
      "num_location_asserts": 2,
      "is_active": true,
      "created_at": "2023-04-18T14:22:01.000Z"
    }
  },
  "extra": {"not": "a canonical column"}
}`, key, strconv.Quote(key))
}

// NewJSONResponse creates a 200 OK JSON response.
func NewJSONResponse(body string) MockResponse {
	return MockResponse{
		StatusCode: http.StatusOK,
		Body:       body,
		Headers: map[string]string{
			"Content-Type": "application/json; charset=utf-8",
		},
	}
}

// NewNotFoundResponse creates a 404 response.
func NewNotFoundResponse() MockResponse {
	return MockResponse{
		StatusCode: http.StatusNotFound,
		Body:       `{"error": "Not found"}`,
		Headers:    map[string]string{"Content-Type": "application/json; charset=utf-8"},
	}
}

// NewServerErrorResponse creates a 500 Internal Server Error response.
func NewServerErrorResponse() MockResponse {
	return MockResponse{
		StatusCode: http.StatusInternalServerError,
		Body:       `{"error": "Internal server error"}`,
		Headers:    map[string]string{"Content-Type": "application/json; charset=utf-8"},
	}
}

// NewRateLimitResponse creates a 429 response with a Retry-After header.
func NewRateLimitResponse(retryAfter int) MockResponse {
	return MockResponse{
		StatusCode: http.StatusTooManyRequests,
		Body:       `{"error": "Too many requests"}`,
		Headers: map[string]string{
			"Retry-After":  strconv.Itoa(retryAfter),
			"Content-Type": "application/json; charset=utf-8",
		},
	}
}
