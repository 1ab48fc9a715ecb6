package enrich

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// WorkerFailure records a chunk that did not complete.
type WorkerFailure struct {
	Chunk  int
	Worker WorkerID

	// Unprocessed holds the chunk keys that never reached the output.
	Unprocessed []string

	Err error
}

// PoolStats summarizes a pool run.
type PoolStats struct {
	Chunks    int
	Completed int
	Failed    int
	Duration  time.Duration
}

// PoolResult is the aggregate outcome of RunAll.
type PoolResult struct {
	// Shards holds every shard that can be merged, ordered by chunk index.
	// Interrupted chunks contribute their partial shard.
	Shards []ShardHandle

	// Failures holds one entry per chunk that did not complete, ordered by
	// chunk index.
	Failures []WorkerFailure

	Stats PoolStats
}

// LostChunks returns the indexes of chunks that did not complete.
func (r PoolResult) LostChunks() []int {
	out := make([]int, 0, len(r.Failures))
	for _, f := range r.Failures {
		out = append(out, f.Chunk)
	}
	return out
}

// LostKeys returns the keys that never reached a shard, in chunk order.
func (r PoolResult) LostKeys() []string {
	var out []string
	for _, f := range r.Failures {
		out = append(out, f.Unprocessed...)
	}
	return out
}

// Err joins the errors of all failed chunks. It is nil when every chunk
// completed.
func (r PoolResult) Err() error {
	errs := make([]error, 0, len(r.Failures))
	for _, f := range r.Failures {
		errs = append(errs, fmt.Errorf("chunk %d: %w", f.Chunk, f.Err))
	}
	return errors.Join(errs...)
}

// Pool runs chunks on a fixed number of goroutines.
type Pool struct {
	size    int
	fetcher *DetailFetcher
	config  WorkerConfig
	logger  zerolog.Logger
}

// NewPool creates a pool of size slots. size < 1 is treated as 1.
func NewPool(size int, fetcher *DetailFetcher, cfg WorkerConfig) *Pool {
	if size < 1 {
		size = 1
	}
	return &Pool{
		size:    size,
		fetcher: fetcher,
		config:  cfg,
		logger:  log.With().Str("component", "pool").Logger(),
	}
}

type chunkOutcome struct {
	chunk  Chunk
	id     WorkerID
	handle ShardHandle
	err    error
}

// RunAll processes every chunk exactly once and returns after all of them
// have finished. Chunks are queued in order and taken by idle slots. A failed
// chunk does not stop the others.
func (p *Pool) RunAll(ctx context.Context, chunks []Chunk) PoolResult {
	start := time.Now()
	result := PoolResult{Stats: PoolStats{Chunks: len(chunks)}}
	if len(chunks) == 0 {
		return result
	}

	slots := min(p.size, len(chunks))

	p.logger.Info().
		Int("chunks", len(chunks)).
		Int("pool_size", slots).
		Msg("Starting worker pool")

	queue := make(chan Chunk, len(chunks))
	for _, c := range chunks {
		queue <- c
	}
	close(queue)

	outcomes := make(chan chunkOutcome, len(chunks))

	var wg sync.WaitGroup
	for slot := 0; slot < slots; slot++ {
		wg.Add(1)
		go p.slot(ctx, slot, queue, outcomes, &wg)
	}

	go func() {
		wg.Wait()
		close(outcomes)
	}()

	for o := range outcomes {
		if o.err == nil {
			result.Shards = append(result.Shards, o.handle)
			result.Stats.Completed++
			chunksTotal.WithLabelValues("ok").Inc()
			continue
		}

		unprocessed := o.chunk.Keys
		if o.handle.Path != "" {
			result.Shards = append(result.Shards, o.handle)
			unprocessed = o.chunk.Keys[o.handle.Processed:]
		}
		result.Failures = append(result.Failures, WorkerFailure{
			Chunk:       o.chunk.Index,
			Worker:      o.id,
			Unprocessed: unprocessed,
			Err:         o.err,
		})
		result.Stats.Failed++
		chunksTotal.WithLabelValues("failed").Inc()
	}

	sortShards(result.Shards)
	sort.Slice(result.Failures, func(i, j int) bool {
		return result.Failures[i].Chunk < result.Failures[j].Chunk
	})
	result.Stats.Duration = time.Since(start)

	p.logger.Info().
		Int("completed", result.Stats.Completed).
		Int("failed", result.Stats.Failed).
		Dur("duration", result.Stats.Duration).
		Msg("Worker pool finished")

	return result
}

// slot runs queued chunks one after another until the queue is empty.
func (p *Pool) slot(ctx context.Context, slot int, queue <-chan Chunk, outcomes chan<- chunkOutcome, wg *sync.WaitGroup) {
	defer wg.Done()
	done := 0

	for chunk := range queue {
		id := WorkerID{Slot: slot, Chunk: chunk.Index}
		if err := ctx.Err(); err != nil {
			outcomes <- chunkOutcome{chunk: chunk, id: id, err: fmt.Errorf("%w before start: %w", ErrInterrupted, err)}
			continue
		}
		handle, err := NewWorker(id, p.fetcher, p.config).Run(ctx, chunk)
		outcomes <- chunkOutcome{chunk: chunk, id: id, handle: handle, err: err}
		done++
	}

	p.logger.Debug().
		Int("worker_id", slot).
		Int("chunks_processed", done).
		Msg("Pool slot finished")
}
