package enrich

import (
	"context"
	"errors"
	"fmt"
	"os"
	"runtime"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// ErrChunksLost is returned by Pipeline.Run when the output was merged but
// one or more chunks did not complete. Report.Failures has the details.
var ErrChunksLost = errors.New("chunks lost")

// Config holds pipeline configuration.
type Config struct {
	// PoolSize is the number of chunks processed concurrently.
	PoolSize int

	// BatchSize is the number of records buffered before a shard write.
	BatchSize int

	// TargetChunks caps the number of chunks the keys are split into.
	TargetChunks int

	// LogEvery logs fetch progress every N keys. 0 disables it.
	LogEvery int

	// Columns is the output schema.
	Columns []string

	// ShardDir holds shard files while a run is in progress.
	ShardDir string

	// KeepShards leaves shard files in place after the merge.
	KeepShards bool

	Fetcher FetcherConfig

	// RunID prefixes shard names. A random UUID is used when empty.
	RunID string
}

// DefaultConfig returns the default configuration for columns.
func DefaultConfig(columns []string) Config {
	return Config{
		PoolSize:     runtime.NumCPU(),
		BatchSize:    100,
		TargetChunks: 1000,
		LogEvery:     100,
		Columns:      columns,
		ShardDir:     "shards",
		Fetcher:      DefaultFetcherConfig(),
	}
}

// Report is the outcome of a run.
type Report struct {
	RunID    string
	Keys     int
	Chunks   int
	Progress ProgressSnapshot
	Failures []WorkerFailure

	// LostChunks and LostKeys describe the chunks that did not complete.
	LostChunks []int
	LostKeys   int

	Merge    MergeResult
	Duration time.Duration
}

// Pipeline runs partition, fetch and merge for a key set.
type Pipeline struct {
	getter Getter
	config Config
	logger zerolog.Logger
}

// NewPipeline validates cfg and creates a pipeline fetching through getter.
func NewPipeline(getter Getter, cfg Config) (*Pipeline, error) {
	if getter == nil {
		return nil, fmt.Errorf("getter is required")
	}
	if len(cfg.Columns) == 0 {
		return nil, fmt.Errorf("at least one output column is required")
	}
	if cfg.ShardDir == "" {
		return nil, fmt.Errorf("shard dir is required")
	}
	if cfg.PoolSize < 1 {
		cfg.PoolSize = runtime.NumCPU()
	}
	if cfg.BatchSize < 1 {
		cfg.BatchSize = 100
	}

	return &Pipeline{
		getter: getter,
		config: cfg,
		logger: log.With().Str("component", "pipeline").Logger(),
	}, nil
}

// Run enriches keys and merges the results into output.
//
// The returned Report is filled in on every return path. The error is a
// *MergeError when the merge failed, wraps ErrChunksLost when the merge
// succeeded without some chunks, and is nil otherwise.
func (p *Pipeline) Run(ctx context.Context, keys []string, output string) (Report, error) {
	start := time.Now()

	runID := p.config.RunID
	if runID == "" {
		runID = uuid.NewString()
	}

	chunks := Partition(keys, p.config.TargetChunks)
	report := Report{RunID: runID, Keys: len(keys), Chunks: len(chunks)}

	p.logger.Info().
		Str("run_id", runID).
		Int("keys", len(keys)).
		Int("chunks", len(chunks)).
		Int("pool_size", p.config.PoolSize).
		Int("batch_size", p.config.BatchSize).
		Msg("Enrichment started")

	progress := NewProgress(p.config.LogEvery)
	progress.SetTotal(len(keys))
	fetcher := NewDetailFetcher(p.getter, p.config.Fetcher, progress)

	pool := NewPool(p.config.PoolSize, fetcher, WorkerConfig{
		RunID:     runID,
		ShardDir:  p.config.ShardDir,
		Columns:   p.config.Columns,
		BatchSize: p.config.BatchSize,
	})
	result := pool.RunAll(ctx, chunks)

	report.Progress = progress.Snapshot()
	report.Failures = result.Failures
	report.LostChunks = result.LostChunks()
	report.LostKeys = len(result.LostKeys())

	for _, f := range result.Failures {
		p.logger.Error().
			Err(f.Err).
			Int("chunk", f.Chunk).
			Int("worker_id", f.Worker.Slot).
			Int("lost_keys", len(f.Unprocessed)).
			Msg("Chunk did not complete")
	}

	merge, err := NewMerger(p.config.Columns, p.config.KeepShards).Merge(result.Shards, output)
	report.Merge = merge
	report.Duration = time.Since(start)
	if err != nil {
		p.logger.Error().Err(err).Msg("Merge failed - shards kept for a merge-only run")
		return report, err
	}
	p.removeShardDir()

	p.logger.Info().
		Str("run_id", runID).
		Int64("fetched", report.Progress.Fetched).
		Int64("succeeded", report.Progress.Succeeded).
		Int64("skipped", report.Progress.Skipped).
		Int("lost_chunks", len(report.LostChunks)).
		Int("rows", merge.Rows).
		Dur("duration", report.Duration).
		Msg("Enrichment finished")

	if len(result.Failures) > 0 {
		return report, fmt.Errorf("%w: %d of %d chunks (%d keys): %w",
			ErrChunksLost, len(result.Failures), len(chunks), report.LostKeys, result.Err())
	}
	return report, nil
}

// MergeLeftovers merges the shards found in the shard directory into output.
// It completes a run whose merge failed or was interrupted.
func (p *Pipeline) MergeLeftovers(output string) (MergeResult, error) {
	shards, err := DiscoverShards(p.config.ShardDir)
	if err != nil {
		return MergeResult{Output: output}, err
	}

	p.logger.Info().
		Str("shard_dir", p.config.ShardDir).
		Int("shards", len(shards)).
		Msg("Merging leftover shards")

	result, err := NewMerger(p.config.Columns, p.config.KeepShards).Merge(shards, output)
	if err != nil {
		return result, err
	}
	p.removeShardDir()
	return result, nil
}

// removeShardDir removes the shard directory once it is empty.
func (p *Pipeline) removeShardDir() {
	if p.config.KeepShards {
		return
	}
	if err := os.Remove(p.config.ShardDir); err != nil && !errors.Is(err, os.ErrNotExist) {
		p.logger.Debug().Err(err).Str("shard_dir", p.config.ShardDir).Msg("Shard dir not removed")
	}
}
