package mpegts

import (
	"fmt"
	"io"
)

// frameGap is the timeline gap inserted at a discontinuity join, in 90 kHz
// ticks (one frame at 29.97 fps). It keeps the joined timeline strictly
// increasing without opening a visible hole.
const frameGap = 3003

// backwardsTolerance is how far a segment's first PTS may sit behind the
// running timeline before it counts as a timestamp reset. Segments start at
// access points, so genuine continuations never jump back more than a frame
// or two; one second is comfortably past any reorder jitter.
const backwardsTolerance = 90000

// Remuxer concatenates MPEG-TS segments into w while rebasing PCR, PTS and
// DTS values so the output presents a single monotonically increasing
// timeline. Codec payload bytes pass through untouched. Output is a pure
// function of the input segment sequence.
type Remuxer struct {
	w       io.Writer
	started bool
	offset  int64 // ticks added to the current segment's timestamps
	lastPTS int64 // highest rebased PTS written so far, un-wrapped
	written int64
	buf     [PacketSize]byte
}

// NewRemuxer returns a Remuxer writing the joined stream to w.
func NewRemuxer(w io.Writer) *Remuxer {
	return &Remuxer{w: w}
}

// BytesWritten returns the number of output bytes produced so far.
func (r *Remuxer) BytesWritten() int64 {
	return r.written
}

// WriteSegment appends one segment to the output. discontinuity marks a
// playlist-declared timeline reset; resets are also detected directly from
// the timestamps. Returns ErrInvalidPacket (wrapped) if data is not valid
// TS, or the underlying write error.
func (r *Remuxer) WriteSegment(data []byte, discontinuity bool) error {
	if err := Validate(data); err != nil {
		return err
	}

	if first, ok := firstPTS(data); ok {
		switch {
		case !r.started:
			// First segment keeps its native timeline.
			r.offset = 0
		case discontinuity || first+r.offset < r.lastPTS-backwardsTolerance:
			r.offset = r.lastPTS + frameGap - first
		}
	}

	for off := 0; off < len(data); off += PacketSize {
		pkt := r.buf[:]
		copy(pkt, data[off:off+PacketSize])
		r.rewritePacket(pkt)
		n, err := r.w.Write(pkt)
		r.written += int64(n)
		if err != nil {
			return fmt.Errorf("write packet: %w", err)
		}
	}

	r.started = true
	return nil
}

// rewritePacket rebases the packet's PCR and PES timestamps in place and
// clears any discontinuity indicator.
func (r *Remuxer) rewritePacket(pkt []byte) {
	clearDiscontinuity(pkt)

	if base, ok := pcrBase(pkt); ok {
		setPCRBase(pkt, base+r.offset)
	}

	if !payloadUnitStart(pkt) {
		return
	}
	payload := pkt[payloadOffset(pkt):]
	if !pesStart(payload) {
		return
	}
	if pts, _, ok, _ := pesTimestamps(payload); ok {
		if norm := pts + r.offset; norm > r.lastPTS {
			r.lastPTS = norm
		}
		shiftPESTimestamps(payload, r.offset)
	}
}

// firstPTS returns the first PES PTS found in a segment.
func firstPTS(data []byte) (int64, bool) {
	for off := 0; off < len(data); off += PacketSize {
		pkt := data[off : off+PacketSize]
		if !payloadUnitStart(pkt) {
			continue
		}
		payload := pkt[payloadOffset(pkt):]
		if !pesStart(payload) {
			continue
		}
		if pts, _, ok, _ := pesTimestamps(payload); ok {
			return pts, true
		}
	}
	return 0, false
}
