package enrich

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"sync"
	"testing"

	"github.com/Sternrassler/helium-extractor/pkg/client"
)

func TestDetailFetcher_Fetch(t *testing.T) {
	transportErr := errors.New("connection reset")

	tests := []struct {
		name       string
		resp       fakeResponse
		wantKind   FailureKind
		wantStatus int
		wantErr    error
	}{
		{
			name: "success",
			resp: fakeResponse{status: 200, body: `{"entity_key_str":"a","hotspot_infos":{"iot":{"lat":1.5}}}`},
		},
		{
			name:       "not found",
			resp:       fakeResponse{status: 404, body: `{"error":"not found"}`},
			wantKind:   FailureHTTPStatus,
			wantStatus: 404,
		},
		{
			name:       "server error after session retries",
			resp:       fakeResponse{status: 500},
			wantKind:   FailureHTTPStatus,
			wantStatus: 500,
		},
		{
			name:     "transport",
			resp:     fakeResponse{err: transportErr},
			wantKind: FailureTransport,
			wantErr:  transportErr,
		},
		{
			name:     "malformed json",
			resp:     fakeResponse{status: 200, body: `{"entity_key_str":`},
			wantKind: FailureNormalization,
		},
		{
			name:     "array instead of object",
			resp:     fakeResponse{status: 200, body: `[1,2]`},
			wantKind: FailureNormalization,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := newFakeGetter()
			g.set("a", tt.resp)
			f := NewDetailFetcher(g, DefaultFetcherConfig(), nil)

			rec, err := f.Fetch(context.Background(), "a")

			if tt.wantKind == 0 {
				if err != nil {
					t.Fatalf("Fetch() error = %v", err)
				}
				if rec["hotspot_infos.iot.lat"] != "1.5" {
					t.Errorf("record = %v", rec)
				}
				return
			}

			var fe *FetchError
			if !errors.As(err, &fe) {
				t.Fatalf("Fetch() error = %v, want *FetchError", err)
			}
			if fe.Kind != tt.wantKind {
				t.Errorf("Kind = %v, want %v", fe.Kind, tt.wantKind)
			}
			if fe.StatusCode != tt.wantStatus {
				t.Errorf("StatusCode = %d, want %d", fe.StatusCode, tt.wantStatus)
			}
			if fe.Key != "a" {
				t.Errorf("Key = %q", fe.Key)
			}
			if tt.wantErr != nil && !errors.Is(err, tt.wantErr) {
				t.Errorf("error %v does not wrap %v", err, tt.wantErr)
			}
			if rec != nil {
				t.Errorf("record = %v, want nil on failure", rec)
			}
			if g.callCount() != 1 {
				t.Errorf("calls = %d, fetcher must not retry", g.callCount())
			}
		})
	}
}

func TestDetailFetcher_BodyTooLarge(t *testing.T) {
	g := newFakeGetter()
	g.set("big", fakeResponse{status: 200, body: `{"name":"` + strings.Repeat("x", 100) + `"}`})

	f := NewDetailFetcher(g, FetcherConfig{MaxBodyBytes: 32}, nil)
	_, err := f.Fetch(context.Background(), "big")

	var fe *FetchError
	if !errors.As(err, &fe) || fe.Kind != FailureNormalization {
		t.Fatalf("error = %v, want normalization failure", err)
	}
	if !errors.Is(err, ErrBodyTooLarge) {
		t.Errorf("error = %v, want ErrBodyTooLarge", err)
	}
}

func TestDetailFetcher_Target(t *testing.T) {
	tests := []struct {
		template string
		key      string
		want     string
	}{
		{template: "hotspot/{key}", key: "abc", want: "hotspot/abc"},
		{template: "hotspot/{key}", key: "a/b c", want: "hotspot/a%2Fb%20c"},
		{template: "/v2/hotspot/{key}?full=1", key: "k", want: "/v2/hotspot/k?full=1"},
		{template: "hotspot/", key: "k", want: "hotspot/k"},
		{template: "hotspot", key: "k", want: "hotspot/k"},
	}

	for _, tt := range tests {
		f := NewDetailFetcher(newFakeGetter(), FetcherConfig{PathTemplate: tt.template}, nil)
		if got := f.Target(tt.key); got != tt.want {
			t.Errorf("Target(%q) with %q = %q, want %q", tt.key, tt.template, got, tt.want)
		}
	}
}

func TestFetchError_Error(t *testing.T) {
	statusErr := &FetchError{Kind: FailureHTTPStatus, Key: "k", StatusCode: 404}
	if got := statusErr.Error(); got != "fetch k: http status 404" {
		t.Errorf("Error() = %q", got)
	}

	transport := &FetchError{Kind: FailureTransport, Key: "k", Err: client.ErrRetryExhausted}
	if got := transport.Error(); !strings.Contains(got, "transport failure") {
		t.Errorf("Error() = %q", got)
	}
	if !errors.Is(transport, client.ErrRetryExhausted) {
		t.Error("FetchError should unwrap to the transport cause")
	}
}

func TestProgress_ConcurrentUpdates(t *testing.T) {
	g := newFakeGetter()
	g.set("bad", fakeResponse{status: http.StatusNotFound})
	progress := NewProgress(7)
	progress.SetTotal(800)
	f := NewDetailFetcher(g, DefaultFetcherConfig(), progress)

	const goroutines = 8
	const perGoroutine = 100

	var wg sync.WaitGroup
	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			for j := 0; j < perGoroutine; j++ {
				key := "good"
				if j%4 == 0 {
					key = "bad"
				}
				f.Fetch(context.Background(), key)
			}
		}(i)
	}
	wg.Wait()

	snap := progress.Snapshot()
	if snap.Fetched != goroutines*perGoroutine {
		t.Errorf("Fetched = %d, want %d", snap.Fetched, goroutines*perGoroutine)
	}
	if snap.Skipped != goroutines*perGoroutine/4 {
		t.Errorf("Skipped = %d, want %d", snap.Skipped, goroutines*perGoroutine/4)
	}
	if snap.Succeeded+snap.Skipped != snap.Fetched {
		t.Errorf("Succeeded %d + Skipped %d != Fetched %d", snap.Succeeded, snap.Skipped, snap.Fetched)
	}
	if f.Progress() != progress {
		t.Error("Progress() should return the shared counter")
	}
}

// cancelingGetter cancels the run while the request is in flight.
type cancelingGetter struct {
	cancel context.CancelFunc
}

func (g cancelingGetter) Get(ctx context.Context, target string) (*http.Response, error) {
	g.cancel()
	<-ctx.Done()
	return nil, ctx.Err()
}

func TestDetailFetcher_CancelledFetchNotCounted(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	progress := NewProgress(0)
	f := NewDetailFetcher(cancelingGetter{cancel: cancel}, DefaultFetcherConfig(), progress)

	_, err := f.Fetch(ctx, "k1")
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Fetch() error = %v, want context.Canceled", err)
	}

	snap := progress.Snapshot()
	if snap.Fetched != 0 || snap.Skipped != 0 || snap.Succeeded != 0 {
		t.Errorf("Snapshot() = %+v, want nothing counted for a cancelled fetch", snap)
	}
}

func TestFailureKind_String(t *testing.T) {
	kinds := map[FailureKind]string{
		FailureHTTPStatus:    "http_status",
		FailureTransport:     "transport",
		FailureNormalization: "normalization",
		FailureKind(0):       "unknown",
	}
	for k, want := range kinds {
		if got := k.String(); got != want {
			t.Errorf("%d.String() = %q, want %q", int(k), got, want)
		}
	}
}
