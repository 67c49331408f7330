package pipeline

import (
	"fmt"
	"time"

	"github.com/dustin/go-humanize"
	"golang.org/x/time/rate"
)

// Phase names a pipeline stage for progress reporting.
type Phase string

const (
	PhaseResolving  Phase = "resolving"
	PhaseFetching   Phase = "fetching"
	PhaseAssembling Phase = "assembling"
	PhaseSplitting  Phase = "splitting"
	PhaseDelivering Phase = "delivering"
)

// Event is one progress update. Events for a job form an ordered stream;
// consumers may drop intermediate events but must not reorder them.
type Event struct {
	Phase   Phase  `json:"phase"`
	Percent int    `json:"percent"`
	Message string `json:"message"`
}

// Sink receives progress events. Publish must not block for long; the
// pipeline calls it inline between stages.
type Sink interface {
	Publish(Event)
}

// SinkFunc adapts a function to the Sink interface.
type SinkFunc func(Event)

// Publish implements Sink.
func (f SinkFunc) Publish(e Event) { f(e) }

// NopSink discards all events.
var NopSink Sink = SinkFunc(func(Event) {})

// ThrottledSink rate-limits the events forwarded to an underlying sink.
// Phase-boundary events (0% and 100%) always pass so consumers see every
// stage begin and end; intermediate events are dropped when they arrive
// faster than the configured interval.
type ThrottledSink struct {
	next Sink
	lim  *rate.Limiter
}

// NewThrottledSink wraps next, forwarding at most one intermediate event
// per interval.
func NewThrottledSink(next Sink, interval time.Duration) *ThrottledSink {
	return &ThrottledSink{
		next: next,
		lim:  rate.NewLimiter(rate.Every(interval), 1),
	}
}

// Publish implements Sink.
func (s *ThrottledSink) Publish(e Event) {
	if e.Percent == 0 || e.Percent >= 100 || s.lim.Allow() {
		s.next.Publish(e)
	}
}

// fetchMessage renders a human-readable fetch progress line.
func fetchMessage(done, total int, bytes int64, elapsed time.Duration) string {
	msg := fmt.Sprintf("downloaded segment %d/%d (%s)", done, total, humanize.Bytes(uint64(bytes)))
	if secs := elapsed.Seconds(); secs > 0.5 {
		msg += fmt.Sprintf(" at %s/s", humanize.Bytes(uint64(float64(bytes)/secs)))
	}
	return msg
}
