package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

var (
	// ErrCacheMiss is returned when no fresh entry exists for a key.
	ErrCacheMiss = errors.New("cache miss")

	// ErrInvalidEntry is returned for an entry that cannot be decoded. The
	// entry is dropped so the next request refetches it.
	ErrInvalidEntry = errors.New("invalid cache entry")
)

// purgeBatch is the SCAN page size and DEL batch size used by Purge.
const purgeBatch = 500

// Manager stores API responses in Redis under KeyPrefix. Only 200 responses
// are kept: a skipped hotspot is fetched again on the next run.
type Manager struct {
	redis  *redis.Client
	logger zerolog.Logger
}

// NewManager creates a cache backed by redisClient. It panics on nil.
func NewManager(redisClient *redis.Client) *Manager {
	if redisClient == nil {
		panic("redis client cannot be nil")
	}
	return &Manager{
		redis:  redisClient,
		logger: log.With().Str("component", "response-cache").Logger(),
	}
}

// Get returns the entry for key, or ErrCacheMiss when it is absent or expired.
func (m *Manager) Get(ctx context.Context, key CacheKey) (*CacheEntry, error) {
	collection := key.Collection()
	redisKey := key.String()

	data, err := m.redis.Get(ctx, redisKey).Bytes()
	switch {
	case errors.Is(err, redis.Nil):
		cacheMisses.WithLabelValues(collection).Inc()
		return nil, ErrCacheMiss
	case err != nil:
		cacheErrors.WithLabelValues("get").Inc()
		return nil, fmt.Errorf("redis get %s: %w", redisKey, err)
	}

	var entry CacheEntry
	if err := json.Unmarshal(data, &entry); err != nil {
		cacheErrors.WithLabelValues("decode").Inc()
		m.logger.Warn().Err(err).Str("cache_key", redisKey).Msg("Dropping undecodable cache entry")
		m.Delete(ctx, key)
		return nil, fmt.Errorf("%w: %v", ErrInvalidEntry, err)
	}

	if entry.IsExpired() {
		m.Delete(ctx, key)
		cacheMisses.WithLabelValues(collection).Inc()
		return nil, ErrCacheMiss
	}

	cacheHits.WithLabelValues(collection).Inc()
	return &entry, nil
}

// Set stores entry until it expires. Expired entries and non-200 responses
// are ignored.
func (m *Manager) Set(ctx context.Context, key CacheKey, entry *CacheEntry) error {
	if entry == nil {
		return fmt.Errorf("cache entry cannot be nil")
	}
	if entry.StatusCode != 0 && entry.StatusCode != 200 {
		return nil
	}

	ttl := entry.TTL()
	if ttl <= 0 {
		return nil
	}

	data, err := json.Marshal(entry)
	if err != nil {
		cacheErrors.WithLabelValues("encode").Inc()
		return fmt.Errorf("marshal cache entry: %w", err)
	}

	redisKey := key.String()
	if err := m.redis.Set(ctx, redisKey, data, ttl).Err(); err != nil {
		cacheErrors.WithLabelValues("set").Inc()
		return fmt.Errorf("redis set %s: %w", redisKey, err)
	}

	cacheStoredBytes.WithLabelValues(key.Collection()).Add(float64(len(data)))
	return nil
}

// Delete removes the entry for key.
func (m *Manager) Delete(ctx context.Context, key CacheKey) error {
	if err := m.redis.Del(ctx, key.String()).Err(); err != nil {
		cacheErrors.WithLabelValues("delete").Inc()
		return fmt.Errorf("redis del: %w", err)
	}
	return nil
}

// Purge deletes every entry under KeyPrefix and returns how many were
// removed. Keys written by other applications in the same database are left
// alone.
func (m *Manager) Purge(ctx context.Context) (int, error) {
	iter := m.redis.Scan(ctx, 0, KeyPrefix+":*", purgeBatch).Iterator()

	removed := 0
	batch := make([]string, 0, purgeBatch)
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		n, err := m.redis.Del(ctx, batch...).Result()
		if err != nil {
			cacheErrors.WithLabelValues("purge").Inc()
			return fmt.Errorf("redis del: %w", err)
		}
		removed += int(n)
		batch = batch[:0]
		return nil
	}

	for iter.Next(ctx) {
		batch = append(batch, iter.Val())
		if len(batch) == purgeBatch {
			if err := flush(); err != nil {
				return removed, err
			}
		}
	}
	if err := iter.Err(); err != nil {
		cacheErrors.WithLabelValues("purge").Inc()
		return removed, fmt.Errorf("redis scan: %w", err)
	}
	if err := flush(); err != nil {
		return removed, err
	}

	m.logger.Info().Int("entries", removed).Msg("Response cache purged")
	return removed, nil
}
