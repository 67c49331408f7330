package mpegts

import (
	"bufio"
	"fmt"
	"io"
)

// StreamInfo captures the program tables needed to make a slice of a
// transport stream independently playable.
type StreamInfo struct {
	// PAT is the first program association table packet seen, verbatim.
	PAT []byte
	// PMT is the first program map table packet seen, verbatim.
	PMT []byte
	// PMTPID is the PID the PAT advertises for the program map table.
	PMTPID uint16
}

// Header returns the packets a mid-stream part must be prefixed with so a
// player can start decoding from it.
func (s StreamInfo) Header() []byte {
	out := make([]byte, 0, len(s.PAT)+len(s.PMT))
	out = append(out, s.PAT...)
	return append(out, s.PMT...)
}

// ScanStream reads a transport stream and returns its program tables plus
// the byte offsets of container-safe split boundaries, in ascending order.
//
// Boundaries are packets flagged as random access points in the adaptation
// field. Streams that never set the flag fall back to video PES starts that
// carry a PTS. An empty result means the stream has no safe boundaries.
func ScanStream(r io.Reader) (StreamInfo, []int64, error) {
	var (
		info      StreamInfo
		rai       []int64
		pesStarts []int64
		offset    int64
		pkt       [PacketSize]byte
	)

	br := bufio.NewReaderSize(r, 64*PacketSize)
	for {
		if _, err := io.ReadFull(br, pkt[:]); err != nil {
			if err == io.EOF {
				break
			}
			if err == io.ErrUnexpectedEOF {
				return info, nil, fmt.Errorf("%w: truncated packet at offset %d", ErrInvalidPacket, offset)
			}
			return info, nil, fmt.Errorf("read stream: %w", err)
		}
		if pkt[0] != SyncByte {
			return info, nil, fmt.Errorf("%w: missing sync byte at offset %d", ErrInvalidPacket, offset)
		}

		p := pid(pkt[:])
		switch {
		case p == 0 && payloadUnitStart(pkt[:]) && info.PAT == nil:
			pmtPID, err := parsePAT(pkt[:])
			if err != nil {
				return info, nil, err
			}
			info.PAT = append([]byte(nil), pkt[:]...)
			info.PMTPID = pmtPID
		case info.PAT != nil && p == info.PMTPID && payloadUnitStart(pkt[:]) && info.PMT == nil:
			info.PMT = append([]byte(nil), pkt[:]...)
		}

		if randomAccess(pkt[:]) {
			rai = append(rai, offset)
		} else if payloadUnitStart(pkt[:]) {
			payload := pkt[payloadOffset(pkt[:]):]
			if pesStart(payload) && videoStreamID(payload[3]) {
				if _, _, ok, _ := pesTimestamps(payload); ok {
					pesStarts = append(pesStarts, offset)
				}
			}
		}

		offset += PacketSize
	}

	if len(rai) > 0 {
		return info, rai, nil
	}
	return info, pesStarts, nil
}

// parsePAT extracts the program map PID of the first program listed in a
// program association table packet.
func parsePAT(pkt []byte) (uint16, error) {
	payload := pkt[payloadOffset(pkt):]
	if len(payload) < 1 {
		return 0, fmt.Errorf("%w: PAT packet has no payload", ErrInvalidPacket)
	}
	pointer := int(payload[0])
	if len(payload) < 1+pointer+8 {
		return 0, fmt.Errorf("%w: PAT section truncated", ErrInvalidPacket)
	}
	sec := payload[1+pointer:]
	if sec[0] != 0x00 {
		return 0, fmt.Errorf("%w: unexpected PAT table id %#x", ErrInvalidPacket, sec[0])
	}
	sectionLength := int(sec[1]&0x0F)<<8 | int(sec[2])
	end := 3 + sectionLength - 4 // exclude CRC
	if end > len(sec) {
		end = len(sec)
	}
	for i := 8; i+4 <= end; i += 4 {
		programNumber := uint16(sec[i])<<8 | uint16(sec[i+1])
		if programNumber == 0 {
			continue // network PID entry
		}
		return uint16(sec[i+2]&0x1F)<<8 | uint16(sec[i+3]), nil
	}
	return 0, fmt.Errorf("%w: PAT lists no programs", ErrInvalidPacket)
}
