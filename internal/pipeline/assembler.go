package pipeline

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"hlsgrab/internal/mpegts"
)

// assembledName is the container file name inside a job's temp directory.
const assembledName = "assembled.ts"

// Assembler concatenates ordered segment payloads into one continuous
// MPEG-TS file, rebasing timestamps across discontinuities.
type Assembler struct {
	sink Sink
}

// NewAssembler returns an Assembler reporting progress to sink (nil for none).
func NewAssembler(sink Sink) *Assembler {
	if sink == nil {
		sink = NopSink
	}
	return &Assembler{sink: sink}
}

// Assemble consumes results strictly in order and writes the joined
// container into dir. The results channel must deliver indices in playlist
// order (the Fetcher guarantees this). On any failure the partial output is
// removed; the caller is expected to cancel ctx so the producer unblocks.
func (a *Assembler) Assemble(ctx context.Context, pl *Playlist, results <-chan FetchResult, dir string) (*Artifact, error) {
	path := filepath.Join(dir, assembledName)
	out, err := os.Create(path)
	if err != nil {
		return nil, &AssemblyError{Kind: AssemblyIOFailure, Err: err}
	}
	abort := func(cause error) (*Artifact, error) {
		out.Close()
		os.Remove(path)
		return nil, cause
	}

	bw := bufio.NewWriterSize(out, 1<<20)
	remux := mpegts.NewRemuxer(bw)
	total := len(pl.Segments)
	consumed := 0

	a.sink.Publish(Event{Phase: PhaseAssembling, Percent: 0, Message: "assembling stream"})

	for {
		var res FetchResult
		var ok bool
		select {
		case res, ok = <-results:
		case <-ctx.Done():
			return abort(ctx.Err())
		}
		if !ok {
			break
		}
		if res.Err != nil {
			return abort(res.Err)
		}
		if int(res.SequenceIndex) >= total {
			return abort(fmt.Errorf("assemble: result index %d out of range", res.SequenceIndex))
		}

		ref := pl.Segments[res.SequenceIndex]
		if err := remux.WriteSegment(res.Payload, ref.Discontinuity); err != nil {
			if errors.Is(err, mpegts.ErrInvalidPacket) {
				return abort(&AssemblyError{Kind: CorruptSegment, Index: res.SequenceIndex, Err: err})
			}
			return abort(&AssemblyError{Kind: AssemblyIOFailure, Index: res.SequenceIndex, Err: err})
		}

		consumed++
		a.sink.Publish(Event{
			Phase:   PhaseAssembling,
			Percent: consumed * 100 / total,
			Message: fmt.Sprintf("joined segment %d/%d", consumed, total),
		})
	}

	if consumed != total {
		// Producer closed early without a terminal error result.
		return abort(fmt.Errorf("assemble: got %d of %d segments", consumed, total))
	}
	if err := bw.Flush(); err != nil {
		return abort(&AssemblyError{Kind: AssemblyIOFailure, Err: err})
	}
	if err := out.Close(); err != nil {
		os.Remove(path)
		return nil, &AssemblyError{Kind: AssemblyIOFailure, Err: err}
	}

	fi, err := os.Stat(path)
	if err != nil {
		return nil, &AssemblyError{Kind: AssemblyIOFailure, Err: err}
	}
	return &Artifact{Path: path, SizeBytes: fi.Size(), PartIndex: 1, PartCount: 1}, nil
}
