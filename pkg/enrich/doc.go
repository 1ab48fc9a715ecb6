// Package enrich fetches a detail record for every key of a key set and
// writes the results to one CSV file with a fixed column layout.
//
// A run has two phases:
//
//  1. Produce (parallel). Partition splits the keys into contiguous chunks.
//     A Pool of PoolSize goroutines takes chunks off a FIFO queue and runs one
//     Worker per chunk. The Worker fetches each key in order, buffers the
//     flattened records in a BatchWriter and flushes full batches to a shard
//     file it alone writes.
//  2. Merge (serial). After every worker has returned, the Merger streams the
//     existing output and all shards into a temporary file, renames it over
//     the output and only then deletes the shards.
//
// Failure handling follows the blast radius of each failure:
//
//   - A failed key (*FetchError) is logged and skipped. The chunk continues.
//   - A failed shard write (*ShardError) ends that worker. Its shard file is
//     removed and its keys are reported as lost. Other workers are unaffected.
//   - A failed merge (*MergeError) leaves the output and every shard as they
//     were, so the merge alone can be run again (see DiscoverShards).
//
// Example usage:
//
//	p, err := enrich.NewPipeline(apiClient, enrich.DefaultConfig(columns))
//	report, err := p.Run(ctx, keys, "hotspot_info_data.csv")
//	if errors.Is(err, enrich.ErrChunksLost) {
//		log.Warn().Ints("chunks", report.LostChunks).Msg("Some chunks were lost")
//	}
package enrich
