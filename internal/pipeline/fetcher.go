package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v5"
	"golang.org/x/sync/errgroup"
)

// Stats receives pipeline-level counters. Implementations must be safe for
// concurrent use.
type Stats interface {
	SegmentFetched(bytes int64)
	SegmentRetried()
	PartDelivered()
}

// NopStats discards all counters.
type NopStats struct{}

func (NopStats) SegmentFetched(int64) {}
func (NopStats) SegmentRetried()      {}
func (NopStats) PartDelivered()       {}

// Fetcher retrieves segment payloads concurrently while delivering them
// strictly in playlist order.
type Fetcher struct {
	client *http.Client
	opts   Options
	sink   Sink
	stats  Stats

	// retryInterval is the initial backoff interval between attempts.
	retryInterval time.Duration
}

// NewFetcher returns a Fetcher using the given HTTP client; nil arguments
// fall back to http.DefaultClient, NopSink and NopStats.
func NewFetcher(client *http.Client, opts Options, sink Sink, stats Stats) *Fetcher {
	if client == nil {
		client = http.DefaultClient
	}
	if sink == nil {
		sink = NopSink
	}
	if stats == nil {
		stats = NopStats{}
	}
	return &Fetcher{
		client:        client,
		opts:          opts.withDefaults(),
		sink:          sink,
		stats:         stats,
		retryInterval: 500 * time.Millisecond,
	}
}

// Fetch produces the playlist's segments on the returned channel strictly in
// SequenceIndex order, regardless of completion order across workers. The
// sequence is finite and not restartable: after a permanent failure, one
// FetchResult carrying the error is emitted and the channel closes. The
// consumer must either drain the channel or cancel ctx.
func (f *Fetcher) Fetch(ctx context.Context, pl *Playlist) <-chan FetchResult {
	out := make(chan FetchResult)
	go func() {
		defer close(out)
		f.run(ctx, pl, out)
	}()
	return out
}

func (f *Fetcher) run(ctx context.Context, pl *Playlist, out chan<- FetchResult) {
	total := len(pl.Segments)
	if total == 0 {
		return
	}

	gctx, cancel := context.WithCancel(ctx)
	defer cancel()

	// The window bounds segments that are in flight or fetched but not yet
	// consumed downstream. A slot is taken before a fetch starts and
	// released only after the ordered result is handed over, so a slow
	// consumer stalls new fetches instead of growing the holding buffer.
	window := make(chan struct{}, f.opts.Concurrency+f.opts.WindowSlack)
	refs := make(chan SegmentRef)
	completions := make(chan FetchResult)

	g, wctx := errgroup.WithContext(gctx)

	g.Go(func() error {
		defer close(refs)
		for _, ref := range pl.Segments {
			select {
			case window <- struct{}{}:
			case <-wctx.Done():
				return wctx.Err()
			}
			select {
			case refs <- ref:
			case <-wctx.Done():
				return wctx.Err()
			}
		}
		return nil
	})

	for i := 0; i < f.opts.Concurrency; i++ {
		g.Go(func() error {
			for ref := range refs {
				payload, err := f.fetchSegment(wctx, ref)
				if err != nil && wctx.Err() != nil && errors.Is(err, wctx.Err()) {
					// The pool is shutting down; an aborted fetch is
					// not a verdict on this segment.
					return wctx.Err()
				}
				res := FetchResult{SequenceIndex: ref.SequenceIndex, Payload: payload, Err: err}
				select {
				case completions <- res:
				case <-wctx.Done():
					return wctx.Err()
				}
				if err != nil {
					// Stops the pool through wctx.
					return err
				}
			}
			return nil
		})
	}

	go func() {
		_ = g.Wait()
		close(completions)
	}()

	// Single ordered reader: buffer out-of-order completions and release
	// them only once every lower index has been released.
	pending := make(map[uint64][]byte)
	start := time.Now()
	var next uint64
	var done int
	var bytesFetched int64
	var failErr error
	var failIdx uint64
	var consumerGone bool

	flush := func() {
		for {
			if failErr != nil && next >= failIdx {
				return
			}
			payload, ok := pending[next]
			if !ok {
				return
			}
			delete(pending, next)
			select {
			case out <- FetchResult{SequenceIndex: next, Payload: payload}:
			case <-ctx.Done():
				consumerGone = true
				cancel()
				return
			}
			<-window
			next++
		}
	}

	for res := range completions {
		if res.Err != nil {
			if failErr == nil || res.SequenceIndex < failIdx {
				failErr, failIdx = res.Err, res.SequenceIndex
			}
			cancel()
			continue
		}
		done++
		bytesFetched += int64(len(res.Payload))
		f.stats.SegmentFetched(int64(len(res.Payload)))
		f.sink.Publish(Event{
			Phase:   PhaseFetching,
			Percent: done * 100 / total,
			Message: fetchMessage(done, total, bytesFetched, time.Since(start)),
		})
		pending[res.SequenceIndex] = res.Payload
		if !consumerGone {
			// Completed results below a recorded failure still go out in
			// order; flush stops short of the failing index.
			flush()
		}
	}

	if failErr == nil && ctx.Err() != nil {
		failErr, failIdx = ctx.Err(), next
	}
	if failErr == nil || consumerGone {
		return
	}
	var fe *FetchError
	if !errors.As(failErr, &fe) && errors.Is(failErr, context.DeadlineExceeded) {
		failErr = &FetchError{Kind: FetchTimeout, Index: failIdx, Err: failErr}
	}
	select {
	case out <- FetchResult{SequenceIndex: failIdx, Err: failErr}:
	case <-ctx.Done():
	}
}

// fetchSegment retrieves one segment, retrying transient failures with
// exponential backoff up to the configured budget.
func (f *Fetcher) fetchSegment(ctx context.Context, ref SegmentRef) ([]byte, error) {
	expo := backoff.NewExponentialBackOff()
	expo.InitialInterval = f.retryInterval

	attempt := 0
	op := func() ([]byte, error) {
		if attempt > 0 {
			f.stats.SegmentRetried()
		}
		attempt++
		payload, err := f.fetchOnce(ctx, ref)
		if err != nil && !isTransient(err) {
			return nil, backoff.Permanent(err)
		}
		return payload, err
	}

	payload, err := backoff.Retry(ctx, op,
		backoff.WithBackOff(expo),
		backoff.WithMaxTries(uint(f.opts.MaxRetries)+1),
	)
	if err != nil {
		return nil, &FetchError{Kind: SegmentUnavailable, Index: ref.SequenceIndex, Err: err}
	}
	return payload, nil
}

// fetchOnce performs a single request attempt under the per-segment timeout.
func (f *Fetcher) fetchOnce(ctx context.Context, ref SegmentRef) ([]byte, error) {
	rctx, cancel := context.WithTimeout(ctx, f.opts.SegmentTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(rctx, http.MethodGet, ref.Locator, nil)
	if err != nil {
		return nil, err
	}
	if br := ref.ByteRange; br != nil {
		req.Header.Set("Range", fmt.Sprintf("bytes=%d-%d", br.Offset, br.Offset+br.Length-1))
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusPartialContent {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return nil, &statusError{code: resp.StatusCode}
	}
	return io.ReadAll(resp.Body)
}

// statusError reports a non-success HTTP response.
type statusError struct {
	code int
}

func (e *statusError) Error() string {
	return fmt.Sprintf("unexpected status %d", e.code)
}

// isTransient decides whether a fetch attempt failure is worth retrying:
// 5xx and 429 statuses, timeouts and connection-level failures are; other
// 4xx statuses are not.
func isTransient(err error) bool {
	var se *statusError
	if errors.As(err, &se) {
		return se.code >= 500 || se.code == http.StatusTooManyRequests
	}
	// Network-level errors (resets, timeouts, DNS blips) are transient.
	return true
}
