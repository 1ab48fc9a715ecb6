package enrich

import (
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"sort"
	"strings"
	"testing"
)

func TestMerger_Merge(t *testing.T) {
	dir := t.TempDir()
	output := filepath.Join(dir, "out.csv")

	shards := []ShardHandle{
		writeShardFile(t, dir, "run-w0-c0.csv", testColumns,
			[]string{"a", "n-a", "1"}, []string{"b", "n-b", "2"}),
		// a shard with a different column order is reindexed
		writeShardFile(t, dir, "run-w1-c1.csv", []string{"name", "entity_key_str"},
			[]string{"n-c", "c"}),
	}

	result, err := NewMerger(testColumns, false).Merge(shards, output)
	if err != nil {
		t.Fatalf("Merge() error = %v", err)
	}
	if result.Rows != 3 || result.Shards != 2 || result.Removed != 2 || result.ExistingRows != 0 {
		t.Errorf("result = %+v", result)
	}

	header, rows := readCSV(t, output)
	if !reflect.DeepEqual(header, testColumns) {
		t.Errorf("header = %v", header)
	}
	want := [][]string{{"a", "n-a", "1"}, {"b", "n-b", "2"}, {"c", "n-c", ""}}
	if !reflect.DeepEqual(rows, want) {
		t.Errorf("rows = %v, want %v", rows, want)
	}

	for _, sh := range shards {
		if _, err := os.Stat(sh.Path); !errors.Is(err, os.ErrNotExist) {
			t.Errorf("shard %s not removed", sh.Path)
		}
	}
}

func TestMerger_EmptyShardListIsNoOp(t *testing.T) {
	output := filepath.Join(t.TempDir(), "out.csv")

	result, err := NewMerger(testColumns, false).Merge(nil, output)
	if err != nil {
		t.Fatalf("Merge() error = %v", err)
	}
	if result.Rows != 0 {
		t.Errorf("result = %+v", result)
	}
	if _, err := os.Stat(output); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("output created for empty merge")
	}
}

func TestMerger_AppendsToExistingOutput(t *testing.T) {
	dir := t.TempDir()
	output := filepath.Join(dir, "out.csv")

	first := []ShardHandle{writeShardFile(t, dir, "r1-w0-c0.csv", testColumns, []string{"a", "", ""})}
	if _, err := NewMerger(testColumns, false).Merge(first, output); err != nil {
		t.Fatal(err)
	}

	second := []ShardHandle{writeShardFile(t, dir, "r2-w0-c0.csv", testColumns, []string{"b", "", ""})}
	result, err := NewMerger(testColumns, false).Merge(second, output)
	if err != nil {
		t.Fatal(err)
	}
	if result.ExistingRows != 1 || result.Rows != 1 {
		t.Errorf("result = %+v", result)
	}

	header, rows := readCSV(t, output)
	if !reflect.DeepEqual(header, testColumns) {
		t.Errorf("header = %v, want exactly one header row", header)
	}
	if got := firstColumn(rows); !reflect.DeepEqual(got, []string{"a", "b"}) {
		t.Errorf("rows = %v", got)
	}
}

func TestMerger_Idempotent(t *testing.T) {
	dir := t.TempDir()
	shards := []ShardHandle{
		writeShardFile(t, dir, "run-w0-c0.csv", testColumns, []string{"a", "1", ""}, []string{"b", "2", ""}),
		writeShardFile(t, dir, "run-w0-c1.csv", testColumns, []string{"c", "3", ""}),
	}
	merger := NewMerger(testColumns, true)

	out1 := filepath.Join(dir, "out1.csv")
	out2 := filepath.Join(dir, "out2.csv")
	if _, err := merger.Merge(shards, out1); err != nil {
		t.Fatal(err)
	}

	// reverse enumeration order: row multiset must not change
	reversed := []ShardHandle{shards[1], shards[0]}
	result, err := merger.Merge(reversed, out2)
	if err != nil {
		t.Fatal(err)
	}
	if result.Removed != 0 {
		t.Errorf("Removed = %d with keepShards", result.Removed)
	}

	_, rows1 := readCSV(t, out1)
	_, rows2 := readCSV(t, out2)
	if !reflect.DeepEqual(sortedRows(rows1), sortedRows(rows2)) {
		t.Errorf("merges differ: %v vs %v", rows1, rows2)
	}
}

func TestMerger_MalformedShardLeavesEverythingIntact(t *testing.T) {
	dir := t.TempDir()
	output := filepath.Join(dir, "out.csv")
	if err := os.WriteFile(output, []byte("\"entity_key_str\"\n\"old\"\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	before, _ := os.ReadFile(output)

	good := writeShardFile(t, dir, "run-w0-c0.csv", testColumns, []string{"a", "", ""})
	badPath := filepath.Join(dir, "run-w0-c1.csv")
	// ragged row
	if err := os.WriteFile(badPath, []byte("\"a\",\"b\"\n\"1\"\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	bad := ShardHandle{Path: badPath}

	_, err := NewMerger(testColumns, false).Merge([]ShardHandle{good, bad}, output)
	var me *MergeError
	if !errors.As(err, &me) {
		t.Fatalf("Merge() error = %v, want *MergeError", err)
	}
	if me.Path != badPath {
		t.Errorf("MergeError.Path = %q, want %q", me.Path, badPath)
	}

	after, _ := os.ReadFile(output)
	if string(after) != string(before) {
		t.Errorf("output changed by failed merge: %q", after)
	}
	for _, p := range []string{good.Path, badPath} {
		if _, err := os.Stat(p); err != nil {
			t.Errorf("shard %s removed by failed merge: %v", p, err)
		}
	}
	assertNoTempFiles(t, dir)
}

func TestMerger_EmptyShardFile(t *testing.T) {
	dir := t.TempDir()
	empty := filepath.Join(dir, "run-w0-c0.csv")
	if err := os.WriteFile(empty, nil, 0o644); err != nil {
		t.Fatal(err)
	}

	_, err := NewMerger(testColumns, false).Merge([]ShardHandle{{Path: empty}}, filepath.Join(dir, "out.csv"))
	if !errors.Is(err, ErrEmptyShard) {
		t.Errorf("Merge() error = %v, want ErrEmptyShard", err)
	}
}

func TestMerger_MissingShard(t *testing.T) {
	dir := t.TempDir()
	_, err := NewMerger(testColumns, false).Merge(
		[]ShardHandle{{Path: filepath.Join(dir, "gone.csv")}}, filepath.Join(dir, "out.csv"))
	if !errors.Is(err, os.ErrNotExist) {
		t.Errorf("Merge() error = %v, want os.ErrNotExist", err)
	}
	assertNoTempFiles(t, dir)
}

// A merge that failed before the rename can be repeated and produces the same
// rows as a clean run.
func TestMerger_RerunAfterFailedMerge(t *testing.T) {
	dir := t.TempDir()
	output := filepath.Join(dir, "out.csv")
	shards := []ShardHandle{
		writeShardFile(t, dir, "run-w0-c0.csv", testColumns, []string{"a", "", ""}, []string{"b", "", ""}),
		writeShardFile(t, dir, "run-w0-c1.csv", testColumns, []string{"c", "", ""}),
	}
	missing := ShardHandle{Path: filepath.Join(dir, "run-w0-c2.csv")}

	if _, err := NewMerger(testColumns, false).Merge(append(shards, missing), output); err == nil {
		t.Fatal("first merge should fail")
	}

	discovered, err := DiscoverShards(dir)
	if err != nil {
		t.Fatal(err)
	}
	result, err := NewMerger(testColumns, false).Merge(discovered, output)
	if err != nil {
		t.Fatalf("re-run Merge() error = %v", err)
	}
	if result.Rows != 3 {
		t.Errorf("rows = %d, want 3", result.Rows)
	}
	_, rows := readCSV(t, output)
	if len(rows) != 3 {
		t.Errorf("output rows = %d, want 3 (no duplicates)", len(rows))
	}
}

// A run that stopped after the output rename but before deleting its shards
// must not have them merged a second time.
func TestMergeLeftovers_AfterCrashBetweenRenameAndCleanup(t *testing.T) {
	dir := t.TempDir()
	shardDir := filepath.Join(dir, "shards")
	if err := os.Mkdir(shardDir, 0o755); err != nil {
		t.Fatal(err)
	}
	output := filepath.Join(dir, "out.csv")
	shards := []ShardHandle{
		writeShardFile(t, shardDir, "run-w0-c0.csv", testColumns, []string{"a", "", ""}, []string{"b", "", ""}),
		writeShardFile(t, shardDir, "run-w0-c1.csv", testColumns, []string{"c", "", ""}),
	}

	// keepShards leaves the state a crash after the rename would leave,
	// apart from the manifest, which is written back here.
	if _, err := NewMerger(testColumns, true).Merge(shards, output); err != nil {
		t.Fatal(err)
	}
	info, err := os.Stat(output)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := writeManifests(shards, output, info.Size()); err != nil {
		t.Fatal(err)
	}

	cfg := DefaultConfig(testColumns)
	cfg.ShardDir = shardDir
	p, err := NewPipeline(newFakeGetter(), cfg)
	if err != nil {
		t.Fatal(err)
	}
	result, err := p.MergeLeftovers(output)
	if err != nil {
		t.Fatalf("MergeLeftovers() error = %v", err)
	}
	if result.Shards != 0 || result.Rows != 0 {
		t.Errorf("result = %+v, want already merged shards skipped", result)
	}

	_, rows := readCSV(t, output)
	if len(rows) != 3 {
		t.Errorf("output rows = %d, want 3 (no duplicates)", len(rows))
	}
	for _, sh := range shards {
		if _, err := os.Stat(sh.Path); !errors.Is(err, os.ErrNotExist) {
			t.Errorf("merged shard %s not cleaned up", sh.Path)
		}
	}
	if _, err := os.Stat(filepath.Join(shardDir, ManifestName)); !errors.Is(err, os.ErrNotExist) {
		t.Error("manifest not removed")
	}
}

func TestDiscoverShards_StaleManifest(t *testing.T) {
	tests := []struct {
		name   string
		output func(t *testing.T, path string) int64
	}{
		{
			// crash before the rename: output has its old size
			name: "output not replaced",
			output: func(t *testing.T, path string) int64 {
				if err := os.WriteFile(path, []byte("\"entity_key_str\"\n"), 0o644); err != nil {
					t.Fatal(err)
				}
				return 999
			},
		},
		{
			name:   "output deleted",
			output: func(t *testing.T, path string) int64 { return 42 },
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := t.TempDir()
			output := filepath.Join(dir, "out.csv")
			sh := writeShardFile(t, dir, "run-w0-c0.csv", testColumns, []string{"a", "", ""})
			size := tt.output(t, output)
			if _, err := writeManifests([]ShardHandle{sh}, output, size); err != nil {
				t.Fatal(err)
			}

			found, err := DiscoverShards(dir)
			if err != nil {
				t.Fatalf("DiscoverShards() error = %v", err)
			}
			if len(found) != 1 || found[0].Path != sh.Path {
				t.Errorf("DiscoverShards() = %v, want the unmerged shard", found)
			}
			if _, err := os.Stat(filepath.Join(dir, ManifestName)); !errors.Is(err, os.ErrNotExist) {
				t.Error("stale manifest not removed")
			}
		})
	}
}

func TestMerger_RemovesManifest(t *testing.T) {
	dir := t.TempDir()
	sh := writeShardFile(t, dir, "run-w0-c0.csv", testColumns, []string{"a", "", ""})

	if _, err := NewMerger(testColumns, false).Merge([]ShardHandle{sh}, filepath.Join(dir, "out.csv")); err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(filepath.Join(dir, ManifestName)); !errors.Is(err, os.ErrNotExist) {
		t.Error("manifest left after a complete merge")
	}
}

func sortedRows(rows [][]string) []string {
	out := make([]string, len(rows))
	for i, r := range rows {
		out[i] = strings.Join(r, "\x00")
	}
	sort.Strings(out)
	return out
}

func assertNoTempFiles(t *testing.T, dir string) {
	t.Helper()
	matches, err := filepath.Glob(filepath.Join(dir, ".*.merge-*"))
	if err != nil {
		t.Fatal(err)
	}
	if len(matches) != 0 {
		t.Errorf("temporary merge files left behind: %v", matches)
	}
}
