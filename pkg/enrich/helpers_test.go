package enrich

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/Sternrassler/helium-extractor/pkg/csvfile"
)

var testColumns = []string{"entity_key_str", "name", "hotspot_infos.iot.lat"}

type fakeResponse struct {
	status int
	body   string
	err    error
}

// fakeGetter answers detail requests from a table. Keys without an entry get
// a small valid record.
type fakeGetter struct {
	mu        sync.Mutex
	responses map[string]fakeResponse
	calls     []string
}

func newFakeGetter() *fakeGetter {
	return &fakeGetter{responses: make(map[string]fakeResponse)}
}

func (g *fakeGetter) set(key string, r fakeResponse) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.responses[key] = r
}

func (g *fakeGetter) Get(ctx context.Context, target string) (*http.Response, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	key := strings.TrimPrefix(target, "hotspot/")

	g.mu.Lock()
	g.calls = append(g.calls, key)
	r, ok := g.responses[key]
	g.mu.Unlock()

	if !ok {
		r = fakeResponse{status: http.StatusOK, body: fmt.Sprintf(`{"entity_key_str":%q,"name":"n-%s","extra":1}`, key, key)}
	}
	if r.err != nil {
		return nil, r.err
	}
	return &http.Response{
		StatusCode: r.status,
		Header:     http.Header{},
		Body:       io.NopCloser(strings.NewReader(r.body)),
	}, nil
}

func (g *fakeGetter) callCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.calls)
}

func keysN(n int) []string {
	keys := make([]string, n)
	for i := range keys {
		keys[i] = fmt.Sprintf("k%04d", i)
	}
	return keys
}

// readCSV returns the header and rows of the file at path.
func readCSV(t *testing.T, path string) ([]string, [][]string) {
	t.Helper()
	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("open %s: %v", path, err)
	}
	defer f.Close()

	var rows [][]string
	header, err := csvfile.Stream(f, func(row []string) error {
		rows = append(rows, row)
		return nil
	})
	if err != nil {
		t.Fatalf("read %s: %v", path, err)
	}
	return header, rows
}

// writeShardFile writes a shard with the given rows directly.
func writeShardFile(t *testing.T, dir, name string, header []string, rows ...[]string) ShardHandle {
	t.Helper()
	path := filepath.Join(dir, name)
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	w := csvfile.NewWriter(f)
	if err := w.Write(header); err != nil {
		t.Fatal(err)
	}
	for _, r := range rows {
		if err := w.Write(r); err != nil {
			t.Fatal(err)
		}
	}
	if err := w.Flush(); err != nil {
		t.Fatal(err)
	}
	if err := f.Close(); err != nil {
		t.Fatal(err)
	}
	return ShardHandle{Path: path, Rows: len(rows)}
}

func firstColumn(rows [][]string) []string {
	out := make([]string, len(rows))
	for i, r := range rows {
		out[i] = r[0]
	}
	return out
}
