package mpegts

import "fmt"

// PES stream ids used when packetizing.
const (
	streamIDPrivate1 = 0xBD
	streamIDAudio    = 0xC0
	streamIDVideo    = 0xE0
)

// isPESPayload checks for the PES start code prefix (0x000001).
func isPESPayload(data []byte) bool {
	return len(data) >= 3 && data[0] == 0x00 && data[1] == 0x00 && data[2] == 0x01
}

// hasOptionalHeader reports whether a stream id carries the optional PES
// header. padding, private_stream_2, ECM, EMM, DSMCC, H.222.1 type E and the
// program stream directory do not.
func hasOptionalHeader(streamID uint8) bool {
	switch streamID {
	case 0xBE, 0xBF, 0xF0, 0xF1, 0xF2, 0xF8, 0xFF:
		return false
	}
	return true
}

// parsePES fills u from a reassembled PES packet.
func parsePES(payload []byte, u *Unit) error {
	if len(payload) < 6 {
		return fmt.Errorf("mpegts: PES packet too short (%d bytes)", len(payload))
	}
	if !isPESPayload(payload) {
		return fmt.Errorf("mpegts: invalid PES start code")
	}

	u.StreamID = payload[3]
	packetLength := int(payload[4])<<8 | int(payload[5])

	if !hasOptionalHeader(u.StreamID) {
		u.Data = payload[6:]
		if packetLength > 0 && 6+packetLength <= len(payload) {
			u.Data = payload[6 : 6+packetLength]
		}
		return nil
	}

	if len(payload) < 9 {
		return fmt.Errorf("mpegts: PES optional header too short")
	}
	// payload[7]: PTS_DTS_flags(2) ESCR(1) ES_rate(1) DSM_trick(1)
	// additional_copy(1) CRC(1) extension(1); payload[8]: header_data_length
	ptsDTS := payload[7] >> 6 & 0x03
	dataStart := 9 + int(payload[8])
	if dataStart > len(payload) {
		return fmt.Errorf("mpegts: PES header length %d exceeds packet", payload[8])
	}

	switch ptsDTS {
	case 2:
		if len(payload) >= 14 {
			u.PTS, u.HasPTS = decodeTimestamp(payload[9:14]), true
		}
	case 3:
		if len(payload) >= 19 {
			u.PTS, u.HasPTS = decodeTimestamp(payload[9:14]), true
			u.DTS, u.HasDTS = decodeTimestamp(payload[14:19]), true
		}
	}

	end := len(payload)
	if packetLength > 0 && 6+packetLength <= len(payload) {
		end = 6 + packetLength
	}
	u.Data = payload[dataStart:end]
	return nil
}

// decodeTimestamp extracts a 33-bit PTS/DTS from its 5-byte encoding.
func decodeTimestamp(b []byte) int64 {
	return int64(b[0]>>1&0x07)<<30 |
		int64(b[1])<<22 |
		int64(b[2]>>1&0x7F)<<15 |
		int64(b[3])<<7 |
		int64(b[4]>>1&0x7F)
}

// appendTimestamp appends the 5-byte encoding of ts with the given 4-bit
// prefix ('0010' PTS only, '0011' PTS with DTS, '0001' DTS).
func appendTimestamp(b []byte, prefix byte, ts int64) []byte {
	ts &= MaxTimestamp
	return append(b,
		prefix<<4|byte(ts>>29)&0x0E|0x01,
		byte(ts>>22),
		byte(ts>>14)&0xFE|0x01,
		byte(ts>>7),
		byte(ts<<1)&0xFE|0x01,
	)
}

// appendPESHeader appends the PES header for u. Video units, and any unit
// too large for the 16-bit length field, use the unbounded length of 0.
func appendPESHeader(b []byte, u *Unit) []byte {
	var opt []byte
	flags := byte(0)
	switch {
	case u.HasPTS && u.HasDTS && u.DTS != u.PTS:
		flags = 0xC0
		opt = appendTimestamp(opt, 0x03, u.PTS)
		opt = appendTimestamp(opt, 0x01, u.DTS)
	case u.HasPTS:
		flags = 0x80
		opt = appendTimestamp(opt, 0x02, u.PTS)
	}

	length := 3 + len(opt) + len(u.Data)
	if u.StreamID >= streamIDVideo && u.StreamID <= 0xEF || length > 0xFFFF {
		length = 0
	}

	dataAlignment := byte(0)
	if u.RandomAccess {
		dataAlignment = 0x04
	}

	b = append(b, 0x00, 0x00, 0x01, u.StreamID, byte(length>>8), byte(length),
		0x80|dataAlignment, flags, byte(len(opt)))
	return append(b, opt...)
}

// streamIDFor picks the PES stream id for a stream type.
func streamIDFor(streamType uint8) uint8 {
	switch {
	case IsVideo(streamType):
		return streamIDVideo
	case IsAudio(streamType) && streamType != StreamTypeAC3:
		return streamIDAudio
	default:
		return streamIDPrivate1
	}
}
