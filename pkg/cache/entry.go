package cache

import (
	"time"
)

// CacheEntry represents a cached API response.
type CacheEntry struct {
	// Data is the response body.
	Data []byte `json:"data"`

	// ContentType of the cached body.
	ContentType string `json:"content_type"`

	// ETag as returned by the API, informational only.
	ETag string `json:"etag,omitempty"`

	// Expires is when the entry becomes stale.
	Expires time.Time `json:"expires"`

	// StatusCode is the HTTP status code of the cached response.
	StatusCode int `json:"status_code"`

	// CachedAt is when the entry was created.
	CachedAt time.Time `json:"cached_at"`
}

// IsExpired returns true if the cache entry has expired.
func (e *CacheEntry) IsExpired() bool {
	return time.Now().After(e.Expires)
}

// TTL returns the time until expiration.
// Returns 0 if already expired.
func (e *CacheEntry) TTL() time.Duration {
	ttl := time.Until(e.Expires)
	if ttl < 0 {
		return 0
	}
	return ttl
}
