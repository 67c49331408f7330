// Package mpegts implements the packet-level MPEG-TS operations the
// pipeline needs: validating segment payloads, rebasing PCR/PTS/DTS
// timestamps during assembly, and locating container-safe split points.
// It never touches codec payloads; everything here is container surgery.
package mpegts

import (
	"errors"
	"fmt"
)

const (
	// PacketSize is the fixed MPEG-TS packet length in bytes.
	PacketSize = 188

	// SyncByte starts every valid TS packet.
	SyncByte = 0x47

	// TimestampModulus is the wrap point of 33-bit PTS/DTS/PCR-base values.
	TimestampModulus = int64(1) << 33
)

// ErrInvalidPacket reports data that is not a valid MPEG-TS packet stream.
var ErrInvalidPacket = errors.New("mpegts: invalid packet data")

// Validate checks that data is a whole number of TS packets, each starting
// with the sync byte.
func Validate(data []byte) error {
	if len(data) == 0 || len(data)%PacketSize != 0 {
		return fmt.Errorf("%w: length %d is not a multiple of %d", ErrInvalidPacket, len(data), PacketSize)
	}
	for off := 0; off < len(data); off += PacketSize {
		if data[off] != SyncByte {
			return fmt.Errorf("%w: missing sync byte at offset %d", ErrInvalidPacket, off)
		}
	}
	return nil
}

// pid returns the 13-bit packet identifier.
func pid(pkt []byte) uint16 {
	return uint16(pkt[1]&0x1F)<<8 | uint16(pkt[2])
}

// payloadUnitStart reports whether the payload_unit_start_indicator is set.
func payloadUnitStart(pkt []byte) bool {
	return pkt[1]&0x40 != 0
}

func hasAdaptation(pkt []byte) bool {
	return pkt[3]&0x20 != 0
}

func hasPayload(pkt []byte) bool {
	return pkt[3]&0x10 != 0
}

// payloadOffset returns the index of the first payload byte, or PacketSize
// if the packet carries no payload (or the adaptation field overruns).
func payloadOffset(pkt []byte) int {
	if !hasPayload(pkt) {
		return PacketSize
	}
	off := 4
	if hasAdaptation(pkt) {
		off += 1 + int(pkt[4])
	}
	if off > PacketSize {
		return PacketSize
	}
	return off
}

// adaptationFlags returns the adaptation field flags byte and whether the
// packet has a non-empty adaptation field.
func adaptationFlags(pkt []byte) (byte, bool) {
	if !hasAdaptation(pkt) || pkt[4] == 0 {
		return 0, false
	}
	return pkt[5], true
}

// randomAccess reports whether the adaptation field flags this packet as a
// random access point (a container-safe boundary).
func randomAccess(pkt []byte) bool {
	flags, ok := adaptationFlags(pkt)
	return ok && flags&0x40 != 0
}

// clearDiscontinuity drops the adaptation field discontinuity_indicator,
// if present. The assembler calls this after rebasing the timeline so the
// output no longer advertises a reset it has smoothed over.
func clearDiscontinuity(pkt []byte) {
	if _, ok := adaptationFlags(pkt); ok {
		pkt[5] &^= 0x80
	}
}

// pcrBase extracts the 33-bit PCR base, if the adaptation field carries one.
func pcrBase(pkt []byte) (int64, bool) {
	flags, ok := adaptationFlags(pkt)
	if !ok || flags&0x10 == 0 || pkt[4] < 7 {
		return 0, false
	}
	base := int64(pkt[6])<<25 | int64(pkt[7])<<17 | int64(pkt[8])<<9 |
		int64(pkt[9])<<1 | int64(pkt[10])>>7
	return base, true
}

// setPCRBase overwrites the 33-bit PCR base, preserving the 9-bit extension.
// Caller must have confirmed the packet carries a PCR.
func setPCRBase(pkt []byte, base int64) {
	base &= TimestampModulus - 1
	pkt[6] = byte(base >> 25)
	pkt[7] = byte(base >> 17)
	pkt[8] = byte(base >> 9)
	pkt[9] = byte(base >> 1)
	pkt[10] = byte(base<<7) | pkt[10]&0x7F
}

// pesStart reports whether the packet payload begins a PES packet with an
// optional header (i.e. a stream that can carry PTS/DTS).
func pesStart(payload []byte) bool {
	if len(payload) < 9 {
		return false
	}
	if payload[0] != 0 || payload[1] != 0 || payload[2] != 1 {
		return false
	}
	// '10' marker bits distinguish streams with an optional PES header.
	return payload[6]&0xC0 == 0x80
}

// videoStreamID reports whether the PES stream_id is a video stream.
func videoStreamID(id byte) bool {
	return id >= 0xE0 && id <= 0xEF
}

// pesTimestamps returns the PTS (and DTS, if present) from a PES header.
// Call only when pesStart returned true.
func pesTimestamps(payload []byte) (pts, dts int64, hasPTS, hasDTS bool) {
	flags := payload[7] >> 6
	if flags&0x2 == 0 || len(payload) < 14 {
		return 0, 0, false, false
	}
	pts = decodeTimestamp(payload[9:14])
	hasPTS = true
	if flags == 0x3 && len(payload) >= 19 {
		dts = decodeTimestamp(payload[14:19])
		hasDTS = true
	}
	return pts, dts, hasPTS, hasDTS
}

// shiftPESTimestamps adds delta (mod 2^33) to the PTS and DTS in a PES
// header, returning the rebased PTS. Call only when pesTimestamps reported
// a PTS.
func shiftPESTimestamps(payload []byte, delta int64) int64 {
	pts := wrapTimestamp(decodeTimestamp(payload[9:14]) + delta)
	encodeTimestamp(payload[9:14], pts)
	if payload[7]>>6 == 0x3 && len(payload) >= 19 {
		dts := wrapTimestamp(decodeTimestamp(payload[14:19]) + delta)
		encodeTimestamp(payload[14:19], dts)
	}
	return pts
}

// decodeTimestamp reads a marker-encoded 33-bit timestamp from 5 bytes.
func decodeTimestamp(b []byte) int64 {
	return int64(b[0]>>1&0x07)<<30 |
		int64(b[1])<<22 |
		int64(b[2]>>1)<<15 |
		int64(b[3])<<7 |
		int64(b[4])>>1
}

// encodeTimestamp writes a 33-bit timestamp into 5 bytes, keeping the
// 4-bit prefix (PTS/DTS indicator) already present in b[0].
func encodeTimestamp(b []byte, v int64) {
	v &= TimestampModulus - 1
	b[0] = b[0]&0xF0 | byte(v>>30)<<1 | 0x01
	b[1] = byte(v >> 22)
	b[2] = byte(v>>15)<<1 | 0x01
	b[3] = byte(v >> 7)
	b[4] = byte(v)<<1 | 0x01
}

// wrapTimestamp reduces v into the valid 33-bit timestamp range.
func wrapTimestamp(v int64) int64 {
	v %= TimestampModulus
	if v < 0 {
		v += TimestampModulus
	}
	return v
}
