package enrich

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"

	"github.com/Sternrassler/helium-extractor/pkg/csvfile"
	"github.com/Sternrassler/helium-extractor/pkg/flatten"
	"github.com/rs/zerolog/log"
)

// WorkerID identifies the worker that owns a shard: the pool slot it ran on
// and the chunk it processed. It is assigned at spawn time.
type WorkerID struct {
	Slot  int
	Chunk int
}

func (id WorkerID) String() string {
	return fmt.Sprintf("w%d-c%d", id.Slot, id.Chunk)
}

// ShardName returns the file name of the shard written by id during run.
func ShardName(runID string, id WorkerID) string {
	return fmt.Sprintf("%s-%s.csv", runID, id)
}

var shardNameRE = regexp.MustCompile(`^(.+)-w(\d+)-c(\d+)\.csv$`)

// ShardHandle describes a finished shard file.
type ShardHandle struct {
	Path   string
	RunID  string
	Worker WorkerID

	// Rows is the number of data rows, or -1 when unknown (discovered shards).
	Rows int

	// Processed is the number of chunk keys handled before the shard was
	// closed. It is less than the chunk length only for interrupted chunks.
	Processed int
}

// ShardError reports a shard file that could not be created or written.
// It is fatal to the worker owning the shard.
type ShardError struct {
	Op    string
	Path  string
	Chunk int
	Err   error
}

func (e *ShardError) Error() string {
	return fmt.Sprintf("shard %s (chunk %d) %s: %v", e.Path, e.Chunk, e.Op, e.Err)
}

func (e *ShardError) Unwrap() error {
	return e.Err
}

// Shard is an open shard file. It has a single writer and is not safe for
// concurrent use.
type Shard struct {
	path    string
	runID   string
	id      WorkerID
	columns []string
	file    *os.File
	writer  *csvfile.Writer
	rows    int
}

// CreateShard creates the shard file for id under dir and writes the header.
// An existing file of the same name is an error.
func CreateShard(dir, runID string, id WorkerID, columns []string) (*Shard, error) {
	path := filepath.Join(dir, ShardName(runID, id))

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, &ShardError{Op: "create", Path: path, Chunk: id.Chunk, Err: err}
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, &ShardError{Op: "create", Path: path, Chunk: id.Chunk, Err: err}
	}

	s := &Shard{
		path:    path,
		runID:   runID,
		id:      id,
		columns: columns,
		file:    f,
		writer:  csvfile.NewWriter(f),
	}

	if err := s.writer.Write(columns); err != nil {
		s.Remove()
		return nil, s.fail("write header", err)
	}
	if err := s.writer.Flush(); err != nil {
		s.Remove()
		return nil, s.fail("write header", err)
	}
	return s, nil
}

// Path returns the shard file path.
func (s *Shard) Path() string {
	return s.path
}

// Rows returns the number of data rows written so far.
func (s *Shard) Rows() int {
	return s.rows
}

// WriteBatch appends records, reindexed to the shard columns, and flushes
// them to the file.
func (s *Shard) WriteBatch(records []flatten.Record) error {
	if s.file == nil {
		return s.fail("write", os.ErrClosed)
	}
	for _, rec := range records {
		if err := s.writer.WriteRecord(s.columns, rec); err != nil {
			return s.fail("write", err)
		}
	}
	if err := s.writer.Flush(); err != nil {
		return s.fail("write", err)
	}
	s.rows += len(records)
	return nil
}

// Close syncs and closes the file. The shard becomes read-only input for the
// merger.
func (s *Shard) Close() error {
	if s.file == nil {
		return nil
	}
	f := s.file
	s.file = nil

	if err := f.Sync(); err != nil {
		f.Close()
		return s.fail("sync", err)
	}
	if err := f.Close(); err != nil {
		return s.fail("close", err)
	}
	return nil
}

// Remove closes the shard, if open, and deletes its file.
func (s *Shard) Remove() error {
	if s.file != nil {
		s.file.Close()
		s.file = nil
	}
	if err := os.Remove(s.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return s.fail("remove", err)
	}
	return nil
}

// Handle describes the shard for the merger.
func (s *Shard) Handle(processed int) ShardHandle {
	return ShardHandle{
		Path:      s.path,
		RunID:     s.runID,
		Worker:    s.id,
		Rows:      s.rows,
		Processed: processed,
	}
}

func (s *Shard) fail(op string, err error) error {
	return &ShardError{Op: op, Path: s.path, Chunk: s.id.Chunk, Err: err}
}

// DiscoverShards lists the shard files left in dir, ordered by run id and
// then chunk index. Files that do not look like shards are ignored. A missing
// directory holds no shards.
//
// Shards listed in a merge manifest whose output is in place were merged by
// a run that stopped before deleting them; they are deleted here instead of
// being returned.
func DiscoverShards(dir string) ([]ShardHandle, error) {
	entries, err := os.ReadDir(dir)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read shard dir: %w", err)
	}

	merged, err := mergedShards(dir)
	if err != nil {
		return nil, err
	}

	var handles []ShardHandle
	for _, e := range entries {
		if !e.Type().IsRegular() {
			continue
		}
		m := shardNameRE.FindStringSubmatch(e.Name())
		if m == nil {
			continue
		}
		if merged[e.Name()] {
			path := filepath.Join(dir, e.Name())
			if err := os.Remove(path); err != nil {
				return nil, fmt.Errorf("remove merged shard: %w", err)
			}
			log.Warn().Str("shard", path).Msg("Removed shard already merged by an earlier run")
			continue
		}
		slot, _ := strconv.Atoi(m[2])
		chunk, _ := strconv.Atoi(m[3])
		handles = append(handles, ShardHandle{
			Path:      filepath.Join(dir, e.Name()),
			RunID:     m[1],
			Worker:    WorkerID{Slot: slot, Chunk: chunk},
			Rows:      -1,
			Processed: -1,
		})
	}

	if merged != nil {
		if err := os.Remove(filepath.Join(dir, ManifestName)); err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("remove merge manifest: %w", err)
		}
	}

	sortShards(handles)
	return handles, nil
}

func sortShards(handles []ShardHandle) {
	sort.SliceStable(handles, func(i, j int) bool {
		a, b := handles[i], handles[j]
		if a.RunID != b.RunID {
			return a.RunID < b.RunID
		}
		if a.Worker.Chunk != b.Worker.Chunk {
			return a.Worker.Chunk < b.Worker.Chunk
		}
		return a.Path < b.Path
	})
}
