package enrich

import (
	"fmt"
	"testing"

	"github.com/Sternrassler/helium-extractor/pkg/flatten"
)

func TestBatchWriter_FlushInvariant(t *testing.T) {
	tests := []struct {
		records   int
		batchSize int
	}{
		{records: 0, batchSize: 100},
		{records: 1, batchSize: 100},
		{records: 99, batchSize: 100},
		{records: 100, batchSize: 100},
		{records: 101, batchSize: 100},
		{records: 7, batchSize: 3},
		{records: 5, batchSize: 0},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprintf("%d records batch %d", tt.records, tt.batchSize), func(t *testing.T) {
			shard, err := CreateShard(t.TempDir(), "run", WorkerID{}, testColumns)
			if err != nil {
				t.Fatal(err)
			}
			bw := NewBatchWriter(shard, tt.batchSize)

			for i := 0; i < tt.records; i++ {
				if err := bw.Append(flatten.Record{"entity_key_str": fmt.Sprint(i)}); err != nil {
					t.Fatalf("Append() error = %v", err)
				}
				size := max(tt.batchSize, 1)
				if bw.Buffered() >= size {
					t.Fatalf("buffer holds %d records, batch size %d", bw.Buffered(), size)
				}
			}
			if err := bw.Flush(); err != nil {
				t.Fatalf("Flush() error = %v", err)
			}
			if err := bw.Flush(); err != nil {
				t.Fatalf("second Flush() error = %v", err)
			}
			if err := shard.Close(); err != nil {
				t.Fatal(err)
			}

			if bw.Written() != tt.records {
				t.Errorf("Written() = %d, want %d", bw.Written(), tt.records)
			}
			if bw.Buffered() != 0 {
				t.Errorf("Buffered() = %d after flush", bw.Buffered())
			}
			_, rows := readCSV(t, shard.Path())
			if len(rows) != tt.records {
				t.Fatalf("shard rows = %d, want %d", len(rows), tt.records)
			}
			for i, row := range rows {
				if row[0] != fmt.Sprint(i) {
					t.Fatalf("row %d key = %q, order not preserved", i, row[0])
				}
			}
		})
	}
}

func TestBatchWriter_FlushesWhenFull(t *testing.T) {
	shard, err := CreateShard(t.TempDir(), "run", WorkerID{}, testColumns)
	if err != nil {
		t.Fatal(err)
	}
	defer shard.Close()
	bw := NewBatchWriter(shard, 2)

	bw.Append(flatten.Record{"name": "a"})
	if shard.Rows() != 0 {
		t.Errorf("rows = %d before batch is full", shard.Rows())
	}
	bw.Append(flatten.Record{"name": "b"})
	if shard.Rows() != 2 {
		t.Errorf("rows = %d after batch is full, want 2", shard.Rows())
	}
}

func TestBatchWriter_ReindexesToColumns(t *testing.T) {
	shard, err := CreateShard(t.TempDir(), "run", WorkerID{}, testColumns)
	if err != nil {
		t.Fatal(err)
	}
	bw := NewBatchWriter(shard, 10)
	bw.Append(flatten.Record{"hotspot_infos.iot.lat": "1.5", "not_a_column": "x"})
	if err := bw.Flush(); err != nil {
		t.Fatal(err)
	}
	shard.Close()

	_, rows := readCSV(t, shard.Path())
	want := []string{"", "", "1.5"}
	if len(rows) != 1 || fmt.Sprint(rows[0]) != fmt.Sprint(want) {
		t.Errorf("rows = %v, want [%v]", rows, want)
	}
}

func TestBatchWriter_KeepsBufferOnError(t *testing.T) {
	shard, err := CreateShard(t.TempDir(), "run", WorkerID{}, testColumns)
	if err != nil {
		t.Fatal(err)
	}
	bw := NewBatchWriter(shard, 10)
	bw.Append(flatten.Record{"name": "a"})
	shard.Close()

	if err := bw.Flush(); err == nil {
		t.Fatal("Flush() on closed shard should fail")
	}
	if bw.Buffered() != 1 || bw.Written() != 0 {
		t.Errorf("Buffered() = %d Written() = %d, want 1, 0", bw.Buffered(), bw.Written())
	}
}
