package pipeline

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"hlsgrab/internal/mpegts/tsbuild"
)

func writeArtifact(t *testing.T, data []byte) *Artifact {
	t.Helper()
	path := filepath.Join(t.TempDir(), "assembled.ts")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("write artifact: %v", err)
	}
	return &Artifact{Path: path, SizeBytes: int64(len(data)), PartIndex: 1, PartCount: 1}
}

func TestSplitter_small_artifact_untouched(t *testing.T) {
	data := tsbuild.GOPSegment(0, 2, 4)
	art := writeArtifact(t, data)

	parts, err := NewSplitter(nil).Split(context.Background(), art, int64(len(data)))
	if err != nil {
		t.Fatalf("Split: %v", err)
	}
	if len(parts) != 1 {
		t.Fatalf("expected 1 part, got %d", len(parts))
	}
	p := parts[0]
	if p.Path != art.Path || p.PartIndex != 1 || p.PartCount != 1 {
		t.Errorf("part: %+v", p)
	}
	if _, err := os.Stat(art.Path); err != nil {
		t.Errorf("original file should remain: %v", err)
	}
}

func TestSplitter_multi_part_at_keyframes(t *testing.T) {
	// 6 GOPs of 4 frames: PAT+PMT then 24 PES packets, keyframes every 4
	// packets. 26 packets = 4888 bytes, safe boundaries at bytes 376+752k.
	data := tsbuild.GOPSegment(0, 6, 4)
	art := writeArtifact(t, data)
	const maxPart = 2000

	parts, err := NewSplitter(nil).Split(context.Background(), art, maxPart)
	if err != nil {
		t.Fatalf("Split: %v", err)
	}
	if len(parts) != 3 {
		t.Fatalf("expected 3 parts, got %d", len(parts))
	}

	header := append(tsbuild.PAT(), tsbuild.PMT()...)
	var rejoined []byte
	for i, p := range parts {
		if p.SizeBytes > maxPart {
			t.Errorf("part %d exceeds limit: %d bytes", i+1, p.SizeBytes)
		}
		if p.PartIndex != i+1 || p.PartCount != 3 {
			t.Errorf("part %d numbering: %d/%d", i, p.PartIndex, p.PartCount)
		}
		body, err := os.ReadFile(p.Path)
		if err != nil {
			t.Fatalf("read part %d: %v", i+1, err)
		}
		if int64(len(body)) != p.SizeBytes {
			t.Errorf("part %d: SizeBytes %d, file is %d", i+1, p.SizeBytes, len(body))
		}
		if i > 0 {
			// Every mid-stream part must open with its own program tables.
			if !bytes.HasPrefix(body, header) {
				t.Fatalf("part %d does not start with PAT+PMT", i+1)
			}
			body = body[len(header):]
		}
		rejoined = append(rejoined, body...)
	}

	if !bytes.Equal(rejoined, data) {
		t.Error("parts minus injected tables do not reproduce the original stream")
	}
	if _, err := os.Stat(art.Path); !os.IsNotExist(err) {
		t.Error("original artifact should be removed after a split")
	}
}

func TestSplitter_slack_when_no_boundary_fits(t *testing.T) {
	// Two long GOPs: boundaries only at bytes 376 and 4136. With a 1000-byte
	// limit no boundary fits any mid-stream budget, so the splitter accepts
	// one boundary unit of slack rather than cutting mid-GOP.
	data := tsbuild.GOPSegment(0, 2, 20)
	art := writeArtifact(t, data)

	parts, err := NewSplitter(nil).Split(context.Background(), art, 1000)
	if err != nil {
		t.Fatalf("Split: %v", err)
	}
	if len(parts) < 2 {
		t.Fatalf("expected multiple parts, got %d", len(parts))
	}
	header := append(tsbuild.PAT(), tsbuild.PMT()...)
	for i, p := range parts[1:] {
		body, err := os.ReadFile(p.Path)
		if err != nil {
			t.Fatalf("read part: %v", err)
		}
		if !bytes.HasPrefix(body, header) {
			t.Errorf("part %d missing program tables", i+2)
		}
		// Slack parts still begin at an access point right after the tables.
		pkt := body[len(header):]
		if pid := uint16(pkt[1]&0x1F)<<8 | uint16(pkt[2]); pid != tsbuild.VideoPID {
			t.Errorf("part %d starts on pid 0x%04x, not media", i+2, pid)
		}
	}
}

func TestSplitter_no_safe_boundary(t *testing.T) {
	// Program tables only, no media: nothing to cut at.
	var data []byte
	for i := 0; i < 20; i++ {
		data = append(data, tsbuild.PAT()...)
		data = append(data, tsbuild.PMT()...)
	}
	art := writeArtifact(t, data)

	_, err := NewSplitter(nil).Split(context.Background(), art, 1000)
	var se *SplitError
	if !errors.As(err, &se) || se.Kind != NoSafeBoundary {
		t.Fatalf("expected NoSafeBoundary, got %v", err)
	}
}

func TestSplitter_missing_tables(t *testing.T) {
	// Media packets without PAT/PMT cannot produce playable parts.
	data := tsbuild.GOPSegment(0, 4, 4)[2*188:]
	art := writeArtifact(t, data)

	_, err := NewSplitter(nil).Split(context.Background(), art, 1000)
	var se *SplitError
	if !errors.As(err, &se) || se.Kind != NoSafeBoundary {
		t.Fatalf("expected NoSafeBoundary, got %v", err)
	}
}

func TestPlanCuts(t *testing.T) {
	boundaries := []int64{376, 1128, 1880, 2632, 3384, 4136}

	tests := []struct {
		name      string
		size      int64
		max       int64
		headerLen int64
		want      []int64
	}{
		{
			name: "fits in one part",
			size: 1500, max: 2000, headerLen: 376,
			want: []int64{0},
		},
		{
			name: "greedy furthest boundary",
			size: 4888, max: 2000, headerLen: 376,
			want: []int64{0, 1880, 3384},
		},
		{
			name: "header cost shrinks later budgets",
			size: 4888, max: 1200, headerLen: 376,
			// First part may reach 1128; later parts only have 824 of
			// budget, so each advances a single 752-byte GOP.
			want: []int64{0, 1128, 1880, 2632, 3384, 4136},
		},
		{
			name: "slack past budget",
			size: 4888, max: 300, headerLen: 376,
			want: []int64{0, 376, 1128, 1880, 2632, 3384, 4136},
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got := planCuts(tc.size, tc.max, tc.headerLen, boundaries)
			if len(got) != len(tc.want) {
				t.Fatalf("cuts: got %v, want %v", got, tc.want)
			}
			for i := range got {
				if got[i] != tc.want[i] {
					t.Fatalf("cuts: got %v, want %v", got, tc.want)
				}
			}
		})
	}
}
