package cache

import (
	"net/url"
	"sort"
	"strings"
)

// KeyPrefix namespaces every key written by the cache.
const KeyPrefix = "helium"

// CacheKey identifies a cached API response.
type CacheKey struct {
	// Path is the request path, e.g. "/v2/hotspot/1123abc".
	Path string

	// Query holds the request query parameters.
	Query url.Values
}

// KeyForURL builds the cache key for a request URL.
func KeyForURL(u *url.URL) CacheKey {
	return CacheKey{Path: u.EscapedPath(), Query: u.Query()}
}

// Collection names the API resource the key belongs to: the first path
// segment after an optional version prefix, e.g. "hotspot" for
// /v2/hotspot/1123abc. It is "root" for an empty path.
func (k CacheKey) Collection() string {
	segments := strings.Split(strings.Trim(k.Path, "/"), "/")
	if len(segments) > 1 && isVersion(segments[0]) {
		segments = segments[1:]
	}
	if segments[0] == "" {
		return "root"
	}
	return segments[0]
}

func isVersion(s string) bool {
	if len(s) < 2 || s[0] != 'v' {
		return false
	}
	for _, r := range s[1:] {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// String generates a deterministic Redis key.
// Format: helium:<path>[:param=value...] with query parameters sorted by name.
//
// Example:
//
//	helium:v2/hotspots:cursor=abc:subnetwork=iot
func (k CacheKey) String() string {
	parts := []string{KeyPrefix}

	if path := strings.Trim(k.Path, "/"); path != "" {
		parts = append(parts, path)
	}

	if len(k.Query) > 0 {
		names := make([]string, 0, len(k.Query))
		for name := range k.Query {
			names = append(names, name)
		}
		sort.Strings(names)

		for _, name := range names {
			values := append([]string(nil), k.Query[name]...)
			sort.Strings(values)
			parts = append(parts, name+"="+strings.Join(values, ","))
		}
	}

	return strings.Join(parts, ":")
}
