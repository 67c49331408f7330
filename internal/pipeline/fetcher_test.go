package pipeline

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

// segmentServer serves /seg{N}.ts with a per-index payload; latency and
// status can be overridden per index.
func segmentServer(t *testing.T, n int, latency map[int]time.Duration, status map[int]int) (*httptest.Server, *Playlist) {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		name := strings.TrimSuffix(strings.TrimPrefix(r.URL.Path, "/seg"), ".ts")
		idx, err := strconv.Atoi(name)
		if err != nil {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		if d, ok := latency[idx]; ok {
			time.Sleep(d)
		}
		if code, ok := status[idx]; ok {
			w.WriteHeader(code)
			return
		}
		fmt.Fprintf(w, "payload-%d", idx)
	}))

	pl := &Playlist{MediaURL: srv.URL + "/index.m3u8"}
	for i := 0; i < n; i++ {
		pl.Segments = append(pl.Segments, SegmentRef{
			SequenceIndex:   uint64(i),
			Locator:         fmt.Sprintf("%s/seg%d.ts", srv.URL, i),
			DurationSeconds: 4,
		})
	}
	return srv, pl
}

func TestFetcher_delivers_in_order_despite_latency(t *testing.T) {
	// Early segments are slow, late ones fast: completion order is the
	// reverse of playlist order.
	latency := map[int]time.Duration{
		0: 120 * time.Millisecond,
		1: 80 * time.Millisecond,
		2: 40 * time.Millisecond,
	}
	srv, pl := segmentServer(t, 6, latency, nil)
	defer srv.Close()

	f := NewFetcher(srv.Client(), Options{Concurrency: 6}, nil, nil)
	var got []uint64
	for res := range f.Fetch(context.Background(), pl) {
		if res.Err != nil {
			t.Fatalf("segment %d: %v", res.SequenceIndex, res.Err)
		}
		if want := fmt.Sprintf("payload-%d", res.SequenceIndex); string(res.Payload) != want {
			t.Errorf("segment %d: payload %q", res.SequenceIndex, res.Payload)
		}
		got = append(got, res.SequenceIndex)
	}

	if len(got) != 6 {
		t.Fatalf("expected 6 results, got %d", len(got))
	}
	for i, idx := range got {
		if idx != uint64(i) {
			t.Fatalf("out of order delivery: %v", got)
		}
	}
}

func TestFetcher_retries_transient_then_succeeds(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) <= 2 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Write([]byte("ok"))
	}))
	defer srv.Close()

	pl := &Playlist{Segments: []SegmentRef{{SequenceIndex: 0, Locator: srv.URL + "/seg0.ts"}}}
	f := NewFetcher(srv.Client(), Options{Concurrency: 1, MaxRetries: 3}, nil, nil)
	f.retryInterval = time.Millisecond

	var results []FetchResult
	for res := range f.Fetch(context.Background(), pl) {
		results = append(results, res)
	}

	if len(results) != 1 || results[0].Err != nil {
		t.Fatalf("expected one successful result, got %+v", results)
	}
	if string(results[0].Payload) != "ok" {
		t.Errorf("payload: %q", results[0].Payload)
	}
	if hits.Load() != 3 {
		t.Errorf("expected 3 attempts, got %d", hits.Load())
	}
}

func TestFetcher_permanent_failure_stops_in_order(t *testing.T) {
	// Segment 3 is a hard 404: indices 0..2 must be delivered, then a single
	// terminal error result for index 3, then the channel must close.
	srv, pl := segmentServer(t, 6, nil, map[int]int{3: http.StatusNotFound})
	defer srv.Close()

	f := NewFetcher(srv.Client(), Options{Concurrency: 4, MaxRetries: 2}, nil, nil)
	f.retryInterval = time.Millisecond

	var results []FetchResult
	for res := range f.Fetch(context.Background(), pl) {
		results = append(results, res)
	}

	if len(results) == 0 {
		t.Fatal("no results")
	}
	last := results[len(results)-1]
	if last.Err == nil {
		t.Fatal("expected terminal error result")
	}
	var fe *FetchError
	if !errors.As(last.Err, &fe) || fe.Kind != SegmentUnavailable || fe.Index != 3 {
		t.Fatalf("terminal error: got %v", last.Err)
	}
	for i, res := range results[:len(results)-1] {
		if res.Err != nil || res.SequenceIndex != uint64(i) {
			t.Fatalf("result %d: %+v", i, res)
		}
	}
	if len(results)-1 > 3 {
		t.Errorf("segments past the failure were delivered: %d", len(results)-1)
	}
}

func TestFetcher_failure_index_survives_slow_neighbors(t *testing.T) {
	// Segment 3 fails instantly with a hard 404 while lower-index segments
	// are still in flight. The cancellation that stops the pool aborts those
	// fetches; their aborts must not displace the real failure, and the
	// reported cause must be the segment's own error, not the cancellation.
	latency := map[int]time.Duration{1: 40 * time.Millisecond, 2: 60 * time.Millisecond}
	status := map[int]int{3: http.StatusNotFound}

	for run := 0; run < 20; run++ {
		srv, pl := segmentServer(t, 6, latency, status)

		f := NewFetcher(srv.Client(), Options{Concurrency: 4, MaxRetries: 1}, nil, nil)
		f.retryInterval = time.Millisecond

		var last FetchResult
		for res := range f.Fetch(context.Background(), pl) {
			last = res
		}
		srv.Close()

		var fe *FetchError
		if !errors.As(last.Err, &fe) || fe.Kind != SegmentUnavailable || fe.Index != 3 {
			t.Fatalf("run %d: terminal error: got %v, want SegmentUnavailable at index 3", run, last.Err)
		}
		if errors.Is(last.Err, context.Canceled) {
			t.Fatalf("run %d: failure cause is the pool cancellation: %v", run, last.Err)
		}
	}
}

func TestFetcher_retry_budget_exhausted(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	pl := &Playlist{Segments: []SegmentRef{{SequenceIndex: 0, Locator: srv.URL + "/seg0.ts"}}}
	f := NewFetcher(srv.Client(), Options{Concurrency: 1, MaxRetries: 2}, nil, nil)
	f.retryInterval = time.Millisecond

	var last FetchResult
	for res := range f.Fetch(context.Background(), pl) {
		last = res
	}

	var fe *FetchError
	if !errors.As(last.Err, &fe) || fe.Kind != SegmentUnavailable {
		t.Fatalf("expected SegmentUnavailable, got %v", last.Err)
	}
	// MaxRetries=2 means one initial attempt plus two retries.
	if hits.Load() != 3 {
		t.Errorf("expected 3 attempts, got %d", hits.Load())
	}
}

func TestFetcher_404_is_not_retried(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	pl := &Playlist{Segments: []SegmentRef{{SequenceIndex: 0, Locator: srv.URL + "/seg0.ts"}}}
	f := NewFetcher(srv.Client(), Options{Concurrency: 1, MaxRetries: 5}, nil, nil)
	f.retryInterval = time.Millisecond

	for range f.Fetch(context.Background(), pl) {
	}
	if hits.Load() != 1 {
		t.Errorf("404 should not be retried, got %d attempts", hits.Load())
	}
}

func TestFetcher_byterange_request(t *testing.T) {
	var gotRange string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotRange = r.Header.Get("Range")
		w.WriteHeader(http.StatusPartialContent)
		w.Write([]byte("chunk"))
	}))
	defer srv.Close()

	pl := &Playlist{Segments: []SegmentRef{{
		SequenceIndex: 0,
		Locator:       srv.URL + "/all.ts",
		ByteRange:     &ByteRange{Offset: 1000, Length: 500},
	}}}
	f := NewFetcher(srv.Client(), Options{Concurrency: 1}, nil, nil)

	var last FetchResult
	for res := range f.Fetch(context.Background(), pl) {
		last = res
	}
	if last.Err != nil {
		t.Fatalf("fetch: %v", last.Err)
	}
	if gotRange != "bytes=1000-1499" {
		t.Errorf("range header: got %q", gotRange)
	}
}

func TestFetcher_cancellation_closes_channel(t *testing.T) {
	latency := map[int]time.Duration{}
	for i := 0; i < 8; i++ {
		latency[i] = 200 * time.Millisecond
	}
	srv, pl := segmentServer(t, 8, latency, nil)
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	f := NewFetcher(srv.Client(), Options{Concurrency: 2}, nil, nil)
	ch := f.Fetch(ctx, pl)

	cancel()

	deadline := time.After(5 * time.Second)
	for {
		select {
		case _, ok := <-ch:
			if !ok {
				return
			}
		case <-deadline:
			t.Fatal("channel did not close after cancellation")
		}
	}
}

func TestFetcher_backpressure_bounds_inflight(t *testing.T) {
	// With the consumer stalled, at most Concurrency+WindowSlack segments may
	// be requested.
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.Write([]byte("x"))
	}))
	defer srv.Close()

	const n = 64
	pl := &Playlist{}
	for i := 0; i < n; i++ {
		pl.Segments = append(pl.Segments, SegmentRef{
			SequenceIndex: uint64(i),
			Locator:       fmt.Sprintf("%s/seg%d.ts", srv.URL, i),
		})
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	f := NewFetcher(srv.Client(), Options{Concurrency: 2, WindowSlack: 2}, nil, nil)
	ch := f.Fetch(ctx, pl)

	// Do not consume; give workers time to run as far as they can.
	time.Sleep(300 * time.Millisecond)

	if got := hits.Load(); got > 2+2 {
		t.Errorf("window exceeded: %d segments requested with consumer stalled", got)
	}

	cancel()
	for range ch {
	}
}
