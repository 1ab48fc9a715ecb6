// Package cache stores successful API responses in Redis so that repeated
// extraction runs do not refetch detail records that have not expired.
//
// Entries are keyed by request path and query and expire according to the
// response's Cache-Control max-age or Expires header, falling back to a
// configurable default TTL. Only 200 responses are cached; a skipped key is
// always retried on the next run.
//
// # Basic Usage
//
//	redisClient := redis.NewClient(&redis.Options{Addr: "localhost:6379"})
//	manager := cache.NewManager(redisClient)
//
//	key := cache.KeyForURL(req.URL)
//	entry, err := manager.Get(ctx, key)
//	if errors.Is(err, cache.ErrCacheMiss) {
//		// fetch from the API, then:
//		entry, _ = cache.ResponseToEntry(resp, cache.DefaultTTL)
//		_ = manager.Set(ctx, key, entry)
//	}
//	resp = cache.EntryToResponse(entry, req)
//
// # Metrics
//
//   - helium_cache_hits_total{collection}
//   - helium_cache_misses_total{collection}
//   - helium_cache_stored_bytes_total{collection}
//   - helium_cache_errors_total{operation}
//
// Manager.Purge clears every entry under KeyPrefix, e.g. before a run that
// must see fresh data.
package cache
