package pipeline

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"hlsgrab/internal/mpegts"
)

// Splitter cuts an oversized artifact into independently playable parts at
// container-safe boundaries.
type Splitter struct {
	sink Sink
}

// NewSplitter returns a Splitter reporting progress to sink (nil for none).
func NewSplitter(sink Sink) *Splitter {
	if sink == nil {
		sink = NopSink
	}
	return &Splitter{sink: sink}
}

// Split returns the input artifact unchanged when it fits maxPartBytes.
// Otherwise it cuts at the safe boundaries nearest to, but not exceeding,
// maxPartBytes per part; when no boundary fits a part's budget, the next
// boundary is used (at most one boundary unit of slack). Every part after
// the first is prefixed with the stream's PAT and PMT. The input file is
// removed after a successful split.
func (s *Splitter) Split(ctx context.Context, art *Artifact, maxPartBytes int64) ([]Artifact, error) {
	if art.SizeBytes <= maxPartBytes {
		one := *art
		one.PartIndex, one.PartCount = 1, 1
		return []Artifact{one}, nil
	}

	s.sink.Publish(Event{Phase: PhaseSplitting, Percent: 0, Message: "locating safe split points"})

	in, err := os.Open(art.Path)
	if err != nil {
		return nil, fmt.Errorf("split: %w", err)
	}
	defer in.Close()

	info, boundaries, err := mpegts.ScanStream(in)
	if err != nil {
		return nil, fmt.Errorf("split: scan: %w", err)
	}
	if len(boundaries) == 0 || info.PAT == nil || info.PMT == nil {
		return nil, &SplitError{Kind: NoSafeBoundary}
	}

	header := info.Header()
	cuts := planCuts(art.SizeBytes, maxPartBytes, int64(len(header)), boundaries)

	parts := make([]Artifact, 0, len(cuts))
	for i, start := range cuts {
		if err := ctx.Err(); err != nil {
			removeAll(parts)
			return nil, err
		}
		end := art.SizeBytes
		if i+1 < len(cuts) {
			end = cuts[i+1]
		}

		part, err := s.writePart(in, art.Path, i+1, start, end, header)
		if err != nil {
			removeAll(parts)
			return nil, err
		}
		parts = append(parts, part)

		s.sink.Publish(Event{
			Phase:   PhaseSplitting,
			Percent: (i + 1) * 100 / len(cuts),
			Message: fmt.Sprintf("wrote part %d/%d", i+1, len(cuts)),
		})
	}
	for i := range parts {
		parts[i].PartCount = len(parts)
	}

	os.Remove(art.Path)
	return parts, nil
}

// writePart writes one slice of the source stream, prefixing mid-stream
// parts with the program tables.
func (s *Splitter) writePart(in *os.File, srcPath string, index int, start, end int64, header []byte) (Artifact, error) {
	path := fmt.Sprintf("%s.part%02d.ts", strings.TrimSuffix(srcPath, ".ts"), index)
	out, err := os.Create(path)
	if err != nil {
		return Artifact{}, fmt.Errorf("split: %w", err)
	}

	var written int64
	if start > 0 {
		n, err := out.Write(header)
		if err != nil {
			out.Close()
			os.Remove(path)
			return Artifact{}, fmt.Errorf("split: %w", err)
		}
		written += int64(n)
	}

	n, err := io.Copy(out, io.NewSectionReader(in, start, end-start))
	written += n
	if err == nil {
		err = out.Close()
	} else {
		out.Close()
	}
	if err != nil {
		os.Remove(path)
		return Artifact{}, fmt.Errorf("split: %w", err)
	}

	return Artifact{Path: path, SizeBytes: written, PartIndex: index}, nil
}

// planCuts returns the start offset of every part. A part starting past
// offset zero pays headerLen of its budget for the prefixed program tables.
func planCuts(size, maxPartBytes, headerLen int64, boundaries []int64) []int64 {
	cuts := []int64{0}
	pos := int64(0)
	for {
		budget := maxPartBytes
		if pos > 0 {
			budget -= headerLen
		}
		if size-pos <= budget {
			return cuts
		}

		cut := int64(-1)
		for _, b := range boundaries {
			if b <= pos {
				continue
			}
			if b-pos > budget {
				break
			}
			cut = b
		}
		if cut < 0 {
			// No boundary fits the budget: accept one unit of slack.
			for _, b := range boundaries {
				if b > pos {
					cut = b
					break
				}
			}
			if cut < 0 {
				// No boundary ahead at all; the tail becomes one part.
				return cuts
			}
		}
		cuts = append(cuts, cut)
		pos = cut
	}
}

func removeAll(parts []Artifact) {
	for _, p := range parts {
		os.Remove(p.Path)
	}
}
