// Package tsbuild constructs small but structurally valid MPEG-TS streams.
// It exists for tests across the repository: pipeline and mpegts tests need
// deterministic segments with known PIDs, timestamps and access points
// without shipping binary fixtures.
package tsbuild

// PID and timing defaults shared by the builders.
const (
	PMTPID   uint16 = 0x1000
	VideoPID uint16 = 0x0100

	// FrameDuration is one frame at 30 fps in 90 kHz ticks.
	FrameDuration int64 = 3000

	packetSize = 188
	syncByte   = 0x47
)

// Frame describes a single PES packet to synthesize.
type Frame struct {
	// PTS is the presentation timestamp in 90 kHz ticks.
	PTS int64
	// Key marks the frame as a random access point (adaptation field RAI
	// set, PCR carried).
	Key bool
}

// Segment builds a playable transport stream segment: PAT, PMT, then one
// 188-byte PES packet per frame on the video PID.
func Segment(frames ...Frame) []byte {
	out := make([]byte, 0, (2+len(frames))*packetSize)
	out = append(out, PAT()...)
	out = append(out, PMT()...)
	for i, f := range frames {
		out = append(out, pesPacket(f, byte(i))...)
	}
	return out
}

// GOPSegment builds a segment holding gops groups of frames each, every
// group led by a keyframe, starting at startPTS.
func GOPSegment(startPTS int64, gops, framesPerGOP int) []byte {
	frames := make([]Frame, 0, gops*framesPerGOP)
	pts := startPTS
	for g := 0; g < gops; g++ {
		for f := 0; f < framesPerGOP; f++ {
			frames = append(frames, Frame{PTS: pts, Key: f == 0})
			pts += FrameDuration
		}
	}
	return Segment(frames...)
}

// PAT builds a program association table packet advertising one program
// whose PMT lives on PMTPID.
func PAT() []byte {
	section := []byte{
		0x00,       // table_id
		0xB0, 0x0D, // section_syntax + length 13
		0x00, 0x01, // transport_stream_id
		0xC1,       // version 0, current_next
		0x00, 0x00, // section/last section number
		0x00, 0x01, // program_number 1
		0xE0 | byte(PMTPID>>8), byte(PMTPID & 0xFF), // program_map_PID
	}
	section = appendCRC(section)
	return tablePacket(0x0000, section)
}

// PMT builds a program map table packet declaring a single H.264 video
// stream on VideoPID, which also carries the PCR.
func PMT() []byte {
	section := []byte{
		0x02,       // table_id
		0xB0, 0x12, // section_syntax + length 18
		0x00, 0x01, // program_number
		0xC1,       // version 0, current_next
		0x00, 0x00, // section/last section number
		0xE0 | byte(VideoPID>>8), byte(VideoPID & 0xFF), // PCR_PID
		0xF0, 0x00, // program_info_length 0
		0x1B, // stream_type H.264
		0xE0 | byte(VideoPID>>8), byte(VideoPID & 0xFF), // elementary_PID
		0xF0, 0x00, // ES_info_length 0
	}
	section = appendCRC(section)
	return tablePacket(PMTPID, section)
}

// tablePacket wraps a PSI section in a single TS packet with a pointer
// field, padded with 0xFF.
func tablePacket(pid uint16, section []byte) []byte {
	pkt := make([]byte, packetSize)
	pkt[0] = syncByte
	pkt[1] = 0x40 | byte(pid>>8) // PUSI
	pkt[2] = byte(pid)
	pkt[3] = 0x10 // payload only, cc 0
	pkt[4] = 0x00 // pointer_field
	copy(pkt[5:], section)
	for i := 5 + len(section); i < packetSize; i++ {
		pkt[i] = 0xFF
	}
	return pkt
}

// pesPacket builds one TS packet holding a complete small PES packet with a
// PTS, stuffed to packet size through the adaptation field.
func pesPacket(f Frame, cc byte) []byte {
	pes := []byte{
		0x00, 0x00, 0x01, 0xE0, // start code, video stream id
		0x00, 0x00, // PES_packet_length 0 (unbounded, legal for video)
		0x80,       // marker bits
		0x80,       // PTS only
		0x05,       // header data length
		0, 0, 0, 0, 0, // PTS placeholder
		0xAA, 0xBB, 0xCC, 0xDD, // stand-in elementary data
	}
	encodePTS(pes[9:14], f.PTS)

	pkt := make([]byte, packetSize)
	pkt[0] = syncByte
	pkt[1] = 0x40 | byte(VideoPID>>8)
	pkt[2] = byte(VideoPID & 0xFF)
	pkt[3] = 0x30 | cc&0x0F // adaptation + payload

	afLen := packetSize - 5 - len(pes)
	pkt[4] = byte(afLen)
	for i := 5; i < 5+afLen; i++ {
		pkt[i] = 0xFF // stuffing
	}
	if afLen > 0 {
		var flags byte
		if f.Key {
			flags |= 0x40 // random_access_indicator
		}
		if f.Key && afLen >= 7 {
			flags |= 0x10 // PCR_flag
			encodePCR(pkt[6:12], f.PTS)
		}
		pkt[5] = flags
	}
	copy(pkt[5+afLen:], pes)
	return pkt
}

// encodePTS writes a marker-encoded 33-bit PTS with the '0010' prefix.
func encodePTS(b []byte, v int64) {
	v &= 1<<33 - 1
	b[0] = 0x20 | byte(v>>30)<<1 | 0x01
	b[1] = byte(v >> 22)
	b[2] = byte(v>>15)<<1 | 0x01
	b[3] = byte(v >> 7)
	b[4] = byte(v)<<1 | 0x01
}

// encodePCR writes a 6-byte PCR with the given 33-bit base and extension 0.
func encodePCR(b []byte, base int64) {
	base &= 1<<33 - 1
	b[0] = byte(base >> 25)
	b[1] = byte(base >> 17)
	b[2] = byte(base >> 9)
	b[3] = byte(base >> 1)
	b[4] = byte(base<<7) | 0x7E
	b[5] = 0x00
}

// appendCRC appends the MPEG-2 CRC32 of the section so far.
func appendCRC(section []byte) []byte {
	crc := uint32(0xFFFFFFFF)
	for _, b := range section {
		crc ^= uint32(b) << 24
		for i := 0; i < 8; i++ {
			if crc&0x80000000 != 0 {
				crc = crc<<1 ^ 0x04C11DB7
			} else {
				crc <<= 1
			}
		}
	}
	return append(section,
		byte(crc>>24), byte(crc>>16), byte(crc>>8), byte(crc))
}
