package enrich

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// ErrInterrupted is wrapped by Worker.Run when the context ends before the
// chunk is done. The shard still holds every record fetched until then.
var ErrInterrupted = errors.New("chunk interrupted")

// WorkerConfig holds what every worker of a run shares.
type WorkerConfig struct {
	RunID     string
	ShardDir  string
	Columns   []string
	BatchSize int
}

// Worker processes one chunk into one shard.
type Worker struct {
	id      WorkerID
	fetcher *DetailFetcher
	config  WorkerConfig
	logger  zerolog.Logger
}

// NewWorker creates the worker id, which fetches through fetcher.
func NewWorker(id WorkerID, fetcher *DetailFetcher, cfg WorkerConfig) *Worker {
	return &Worker{
		id:      id,
		fetcher: fetcher,
		config:  cfg,
		logger: log.With().
			Str("component", "worker").
			Int("worker_id", id.Slot).
			Int("chunk", id.Chunk).
			Logger(),
	}
}

// Run fetches every key of chunk in order and writes the successes to a new
// shard. Keys that fail to fetch are skipped.
//
// A *ShardError ends the run: the shard file is removed and an empty handle
// is returned. When ctx ends first, the buffered records are flushed, the
// shard is closed and its handle is returned with an error wrapping
// ErrInterrupted.
func (w *Worker) Run(ctx context.Context, chunk Chunk) (ShardHandle, error) {
	start := time.Now()

	shard, err := CreateShard(w.config.ShardDir, w.config.RunID, w.id, w.config.Columns)
	if err != nil {
		w.logger.Error().Err(err).Msg("Failed to create shard")
		return ShardHandle{}, err
	}

	batch := NewBatchWriter(shard, w.config.BatchSize)
	fail := func(err error) (ShardHandle, error) {
		w.logger.Error().Err(err).Str("shard", shard.Path()).Msg("Shard write failed - chunk lost")
		if rmErr := shard.Remove(); rmErr != nil {
			w.logger.Warn().Err(rmErr).Msg("Failed to remove broken shard")
		}
		return ShardHandle{}, err
	}

	processed, skipped := 0, 0
	var interrupted error

	for _, key := range chunk.Keys {
		if err := ctx.Err(); err != nil {
			interrupted = err
			break
		}

		rec, err := w.fetcher.Fetch(ctx, key)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				// the key was not really tried; leave it unprocessed
				interrupted = ctxErr
				break
			}
			processed++
			skipped++
			w.logSkip(key, err)
			continue
		}
		processed++

		if err := batch.Append(rec); err != nil {
			return fail(err)
		}
	}

	if err := batch.Flush(); err != nil {
		return fail(err)
	}
	if err := shard.Close(); err != nil {
		return fail(err)
	}

	handle := shard.Handle(processed)

	if interrupted != nil {
		w.logger.Warn().
			Int("processed", processed).
			Int("keys", len(chunk.Keys)).
			Int("rows", handle.Rows).
			Msg("Chunk interrupted")
		return handle, fmt.Errorf("%w after %d of %d keys: %w", ErrInterrupted, processed, len(chunk.Keys), interrupted)
	}

	w.logger.Debug().
		Int("keys", len(chunk.Keys)).
		Int("rows", handle.Rows).
		Int("skipped", skipped).
		Dur("duration", time.Since(start)).
		Msg("Chunk complete")

	return handle, nil
}

func (w *Worker) logSkip(key string, err error) {
	ev := w.logger.Warn().Err(err).Str("key", key)
	var fe *FetchError
	if errors.As(err, &fe) {
		ev = ev.Str("failure", fe.Kind.String())
		if fe.StatusCode != 0 {
			ev = ev.Int("status", fe.StatusCode)
		}
	}
	ev.Msg("Skipping key")
}
