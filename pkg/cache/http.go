package cache

import (
	"bytes"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// DefaultTTL is used when a response carries no usable freshness information.
const DefaultTTL = 24 * time.Hour

// ResponseToEntry converts an HTTP response to a CacheEntry. The body is read
// fully and restored on resp so the caller can still consume it.
func ResponseToEntry(resp *http.Response, fallbackTTL time.Duration) (*CacheEntry, error) {
	if resp == nil {
		return nil, fmt.Errorf("response cannot be nil")
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response body: %w", err)
	}
	resp.Body.Close()
	resp.Body = io.NopCloser(bytes.NewReader(body))

	now := time.Now()
	return &CacheEntry{
		Data:        body,
		ContentType: resp.Header.Get("Content-Type"),
		ETag:        resp.Header.Get("ETag"),
		Expires:     expiresAt(resp.Header, now, fallbackTTL),
		StatusCode:  resp.StatusCode,
		CachedAt:    now,
	}, nil
}

// EntryToResponse rebuilds an HTTP response from a cache entry.
func EntryToResponse(entry *CacheEntry, req *http.Request) *http.Response {
	header := http.Header{}
	if entry.ContentType != "" {
		header.Set("Content-Type", entry.ContentType)
	}
	if entry.ETag != "" {
		header.Set("ETag", entry.ETag)
	}
	header.Set("Expires", entry.Expires.UTC().Format(http.TimeFormat))
	header.Set("X-Cache", "HIT")

	status := entry.StatusCode
	if status == 0 {
		status = http.StatusOK
	}

	return &http.Response{
		Status:        fmt.Sprintf("%d %s", status, http.StatusText(status)),
		StatusCode:    status,
		Proto:         "HTTP/1.1",
		ProtoMajor:    1,
		ProtoMinor:    1,
		Header:        header,
		Body:          io.NopCloser(bytes.NewReader(entry.Data)),
		ContentLength: int64(len(entry.Data)),
		Request:       req,
	}
}

// expiresAt derives the expiry from Cache-Control max-age, then Expires,
// then fallbackTTL. no-store and no-cache mark the entry as already expired.
func expiresAt(headers http.Header, now time.Time, fallbackTTL time.Duration) time.Time {
	if cc := headers.Get("Cache-Control"); cc != "" {
		for _, directive := range strings.Split(cc, ",") {
			directive = strings.ToLower(strings.TrimSpace(directive))
			switch {
			case directive == "no-store" || directive == "no-cache":
				return now
			case strings.HasPrefix(directive, "max-age="):
				if secs, err := strconv.Atoi(strings.TrimPrefix(directive, "max-age=")); err == nil {
					if secs <= 0 {
						return now
					}
					return now.Add(time.Duration(secs) * time.Second)
				}
			}
		}
	}

	if expiresStr := headers.Get("Expires"); expiresStr != "" {
		if expires, err := http.ParseTime(expiresStr); err == nil {
			if expires.Before(now) {
				return now
			}
			return expires
		}
	}

	return now.Add(fallbackTTL)
}
