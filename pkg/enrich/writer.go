package enrich

import (
	"github.com/Sternrassler/helium-extractor/pkg/flatten"
)

// BatchWriter buffers records and writes them to a shard in batches of
// batchSize. Flush must be called once the chunk is done, or up to
// batchSize-1 records are never written.
type BatchWriter struct {
	shard     *Shard
	batchSize int
	buf       []flatten.Record
	written   int
}

// NewBatchWriter returns a BatchWriter for shard. batchSize < 1 is treated as 1.
func NewBatchWriter(shard *Shard, batchSize int) *BatchWriter {
	if batchSize < 1 {
		batchSize = 1
	}
	return &BatchWriter{
		shard:     shard,
		batchSize: batchSize,
		buf:       make([]flatten.Record, 0, batchSize),
	}
}

// Append buffers rec and flushes when the batch is full.
func (b *BatchWriter) Append(rec flatten.Record) error {
	b.buf = append(b.buf, rec)
	if len(b.buf) >= b.batchSize {
		return b.Flush()
	}
	return nil
}

// Flush writes the buffered records. On error the buffer is kept.
func (b *BatchWriter) Flush() error {
	if len(b.buf) == 0 {
		return nil
	}
	if err := b.shard.WriteBatch(b.buf); err != nil {
		return err
	}

	b.written += len(b.buf)
	shardRowsWrittenTotal.Add(float64(len(b.buf)))
	clear(b.buf)
	b.buf = b.buf[:0]
	return nil
}

// Written returns the number of records written to the shard.
func (b *BatchWriter) Written() int {
	return b.written
}

// Buffered returns the number of records waiting for the next flush.
func (b *BatchWriter) Buffered() int {
	return len(b.buf)
}
