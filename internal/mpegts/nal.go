package mpegts

// H.264 and H.265 NAL unit types that start a decodable picture.
const (
	nalH264IDR    = 5
	nalH265BlaWLP = 16
	nalH265CraNut = 21
)

// IsRandomAccess reports whether a video PES payload holds a picture a
// decoder can start from: an IDR slice for H.264, or a BLA, IDR or CRA
// picture for H.265. Other stream types never match. It is used when the
// adaptation field does not set the random access indicator.
func IsRandomAccess(streamType uint8, data []byte) bool {
	switch streamType {
	case StreamTypeH264:
		return anyNAL(data, 1, func(hdr []byte) bool { return hdr[0]&0x1F == nalH264IDR })
	case StreamTypeH265:
		return anyNAL(data, 2, func(hdr []byte) bool {
			t := (hdr[0] >> 1) & 0x3F
			return t >= nalH265BlaWLP && t <= nalH265CraNut
		})
	}
	return false
}

// anyNAL scans an Annex B byte stream for 00 00 01 start codes (a 4-byte
// start code ends in the same three bytes) and reports whether match
// accepts the header of any NAL unit at least hdrLen bytes long.
func anyNAL(data []byte, hdrLen int, match func([]byte) bool) bool {
	n := len(data)
	for i := 0; i+2 < n; {
		if data[i] != 0 || data[i+1] != 0 {
			i++
			continue
		}
		if data[i+2] != 1 {
			i++
			continue
		}
		start := i + 3
		if start+hdrLen <= n && match(data[start:start+hdrLen]) {
			return true
		}
		i = start
	}
	return false
}
