package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
)

// Pipeline runs playlist-to-file jobs. One Pipeline is safe for concurrent
// jobs: every Run owns its state and temp storage and shares nothing with
// other runs.
type Pipeline struct {
	opts   Options
	log    *slog.Logger
	stats  Stats
	client *http.Client
}

// New returns a Pipeline with the given options. log and stats may be nil.
func New(opts Options, log *slog.Logger, stats Stats) *Pipeline {
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	if stats == nil {
		stats = NopStats{}
	}
	return &Pipeline{
		opts:  opts.withDefaults(),
		log:   log,
		stats: stats,
		// Request lifetimes are bounded per-attempt by contexts, not by a
		// client-wide timeout that would cap large segment bodies.
		client: &http.Client{},
	}
}

// state is the per-job pipeline state: playlist, artifacts and temp storage.
// It is destroyed (and its temp dir removed) when Run returns.
type state struct {
	tempDir  string
	playlist *Playlist
	parts    []Artifact
}

// Run executes one job end to end: parse input, resolve, fetch, assemble,
// split and deliver. It returns the delivered artifacts, or the first error
// encountered; on any failure all temp storage for the job is removed and
// nothing is delivered beyond parts already handed over.
func (p *Pipeline) Run(ctx context.Context, input string, deliverer Deliverer, sink Sink) ([]Artifact, error) {
	if sink == nil {
		sink = NopSink
	}

	rawURL, displayName := ParseInput(input, time.Now())
	if !strings.HasPrefix(rawURL, "http://") && !strings.HasPrefix(rawURL, "https://") {
		return nil, &PlaylistError{Kind: PlaylistMalformed, URL: rawURL, Err: errors.New("input is not an absolute http(s) url")}
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	if p.opts.JobTimeout > 0 {
		var tcancel context.CancelFunc
		ctx, tcancel = context.WithTimeout(ctx, p.opts.JobTimeout)
		defer tcancel()
	}

	tempDir, err := os.MkdirTemp(p.opts.WorkDir, "hlsgrab-*")
	if err != nil {
		return nil, &AssemblyError{Kind: AssemblyIOFailure, Err: err}
	}
	st := &state{tempDir: tempDir}
	defer os.RemoveAll(st.tempDir)

	log := p.log.With(slog.String("url", rawURL), slog.String("name", displayName))
	log.Info("job started")

	sink.Publish(Event{Phase: PhaseResolving, Percent: 0, Message: "resolving playlist"})
	resolver := NewResolver(p.client, p.opts.VariantPolicy)
	st.playlist, err = resolver.Resolve(ctx, rawURL)
	if err != nil {
		log.Error("resolve failed", slog.String("error", err.Error()))
		return nil, err
	}
	sink.Publish(Event{
		Phase:   PhaseResolving,
		Percent: 100,
		Message: fmt.Sprintf("playlist resolved: %d segments, %s", len(st.playlist.Segments), fmtSeconds(st.playlist.TotalDuration)),
	})

	fetcher := NewFetcher(p.client, p.opts, sink, p.stats)
	results := fetcher.Fetch(ctx, st.playlist)

	assembler := NewAssembler(sink)
	artifact, err := assembler.Assemble(ctx, st.playlist, results, st.tempDir)
	if err != nil {
		log.Error("assembly failed", slog.String("error", err.Error()))
		return nil, err
	}
	log.Info("stream assembled", slog.Int64("size_bytes", artifact.SizeBytes))

	splitter := NewSplitter(sink)
	st.parts, err = splitter.Split(ctx, artifact, p.opts.MaxPartBytes)
	if err != nil {
		log.Error("split failed", slog.String("error", err.Error()))
		return nil, err
	}

	for i, part := range st.parts {
		sink.Publish(Event{
			Phase:   PhaseDelivering,
			Percent: i * 100 / len(st.parts),
			Message: fmt.Sprintf("delivering part %d/%d (%s)", part.PartIndex, part.PartCount, humanize.Bytes(uint64(part.SizeBytes))),
		})
		location, err := deliverer.Deliver(ctx, part, displayName)
		if err != nil {
			log.Error("delivery failed", slog.Int("part", part.PartIndex), slog.String("error", err.Error()))
			return nil, err
		}
		st.parts[i].Path = location
		p.stats.PartDelivered()
	}

	sink.Publish(Event{
		Phase:   PhaseDelivering,
		Percent: 100,
		Message: fmt.Sprintf("done: %d part(s) delivered", len(st.parts)),
	})
	log.Info("job finished", slog.Int("parts", len(st.parts)))
	return st.parts, nil
}

func fmtSeconds(secs float64) string {
	return time.Duration(secs * float64(time.Second)).Round(time.Second).String()
}
