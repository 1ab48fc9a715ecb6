package enrich

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/Sternrassler/helium-extractor/pkg/csvfile"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// ErrEmptyShard is wrapped by a *MergeError for a shard file without a header.
var ErrEmptyShard = errors.New("shard has no header")

// MergeError reports the file that made a merge fail. The output and all
// shards are left as they were.
type MergeError struct {
	Path string
	Err  error
}

func (e *MergeError) Error() string {
	return fmt.Sprintf("merge %s: %v", e.Path, e.Err)
}

func (e *MergeError) Unwrap() error {
	return e.Err
}

// MergeResult summarizes a merge.
type MergeResult struct {
	Output       string
	Shards       int
	Rows         int // rows taken from shards
	ExistingRows int // rows carried over from the previous output
	Removed      int // shard files deleted after the output was replaced
	Duration     time.Duration
}

// Merger combines shard files into the final output.
type Merger struct {
	columns    []string
	keepShards bool
	logger     zerolog.Logger
}

// NewMerger creates a merger writing columns. With keepShards set, shard
// files are left in place after a successful merge.
func NewMerger(columns []string, keepShards bool) *Merger {
	return &Merger{
		columns:    columns,
		keepShards: keepShards,
		logger:     log.With().Str("component", "merger").Logger(),
	}
}

// Merge appends the rows of shards, in the given order, to output.
//
// The rows already in output and the shard rows are streamed into a
// temporary file next to output, reindexed to the merger columns. The file is
// synced and renamed over output; only then are the shards deleted. A
// manifest naming the shards is written to their directory before the rename
// and removed after the deletion, so DiscoverShards skips shards a crash left
// behind after the rename. If anything fails before the rename, the temporary
// file is removed and output and shards are untouched. An empty shard list is
// a no-op.
func (m *Merger) Merge(shards []ShardHandle, output string) (MergeResult, error) {
	start := time.Now()
	result := MergeResult{Output: output, Shards: len(shards)}
	if len(shards) == 0 {
		return result, nil
	}

	defer func() {
		mergeDuration.Observe(time.Since(start).Seconds())
	}()

	dir := filepath.Dir(output)
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(output)+".merge-*")
	if err != nil {
		return result, &MergeError{Path: output, Err: err}
	}
	tmpPath := tmp.Name()
	committed := false
	defer func() {
		if !committed {
			tmp.Close()
			os.Remove(tmpPath)
		}
	}()

	w := csvfile.NewWriter(tmp)
	if err := w.Write(m.columns); err != nil {
		return result, &MergeError{Path: tmpPath, Err: err}
	}

	result.ExistingRows, err = m.copyExisting(w, output)
	if err != nil {
		return result, &MergeError{Path: output, Err: err}
	}

	for _, sh := range shards {
		n, err := m.copyShard(w, sh.Path)
		if err != nil {
			m.logger.Error().Err(err).Str("shard", sh.Path).Msg("Malformed shard - merge aborted")
			return result, &MergeError{Path: sh.Path, Err: err}
		}
		result.Rows += n
	}

	if err := w.Flush(); err != nil {
		return result, &MergeError{Path: tmpPath, Err: err}
	}
	if err := tmp.Sync(); err != nil {
		return result, &MergeError{Path: tmpPath, Err: err}
	}
	if err := tmp.Close(); err != nil {
		return result, &MergeError{Path: tmpPath, Err: err}
	}

	info, err := os.Stat(tmpPath)
	if err != nil {
		return result, &MergeError{Path: tmpPath, Err: err}
	}
	manifests, err := writeManifests(shards, output, info.Size())
	if err != nil {
		return result, &MergeError{Path: output, Err: fmt.Errorf("write merge manifest: %w", err)}
	}

	if err := os.Rename(tmpPath, output); err != nil {
		removeManifests(manifests)
		return result, &MergeError{Path: output, Err: err}
	}
	committed = true
	syncDir(dir)

	mergeRowsTotal.Add(float64(result.Rows))

	if !m.keepShards {
		for _, sh := range shards {
			if err := os.Remove(sh.Path); err != nil && !errors.Is(err, os.ErrNotExist) {
				m.logger.Warn().Err(err).Str("shard", sh.Path).Msg("Failed to remove merged shard")
				continue
			}
			result.Removed++
		}
	}
	// Kept shards stay discoverable; shards that could not be removed stay listed.
	if m.keepShards || result.Removed == len(shards) {
		removeManifests(manifests)
	}

	result.Duration = time.Since(start)
	m.logger.Info().
		Str("output", output).
		Int("shards", result.Shards).
		Int("rows", result.Rows).
		Int("existing_rows", result.ExistingRows).
		Dur("duration", result.Duration).
		Msg("Merge complete")

	return result, nil
}

// copyExisting copies the rows of the current output, if any.
func (m *Merger) copyExisting(w *csvfile.Writer, output string) (int, error) {
	f, err := os.Open(output)
	if errors.Is(err, os.ErrNotExist) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	defer f.Close()

	n, _, err := m.copyRows(w, f)
	return n, err
}

func (m *Merger) copyShard(w *csvfile.Writer, path string) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	n, header, err := m.copyRows(w, f)
	if err != nil {
		return n, err
	}
	if header == nil {
		return 0, ErrEmptyShard
	}
	return n, nil
}

func (m *Merger) copyRows(w *csvfile.Writer, r io.Reader) (int, []string, error) {
	n := 0
	header, err := csvfile.StreamRemapped(r, m.columns, func(row []string) error {
		n++
		return w.Write(row)
	})
	return n, header, err
}

func syncDir(dir string) {
	d, err := os.Open(dir)
	if err != nil {
		return
	}
	d.Sync()
	d.Close()
}
