// Package mpegts reads and writes MPEG-TS transport streams. The Demuxer
// discovers the program through PAT/PMT and reassembles PES units with their
// 90 kHz timestamps; the Muxer packetizes PES units back into 188-byte
// packets with periodic PAT/PMT and PCR.
package mpegts

// PacketSize is the size of one transport stream packet.
const PacketSize = 188

// ClockRate is the PES timestamp clock rate.
const ClockRate = 90000

// MaxTimestamp is the largest 33-bit PTS/DTS value.
const MaxTimestamp = 1<<33 - 1

const (
	syncByte = 0x47
	pidPAT   = 0x0000
	pidNull  = 0x1FFF
)

// Stream types from ISO/IEC 13818-1 table 2-34, plus the common
// registered private types.
const (
	StreamTypeMPEG1Video  uint8 = 0x01
	StreamTypeMPEG2Video  uint8 = 0x02
	StreamTypeMPEG1Audio  uint8 = 0x03
	StreamTypeMPEG2Audio  uint8 = 0x04
	StreamTypePrivateData uint8 = 0x06
	StreamTypeAAC         uint8 = 0x0F
	StreamTypeH264        uint8 = 0x1B
	StreamTypeH265        uint8 = 0x24
	StreamTypeAC3         uint8 = 0x81
	StreamTypeSCTE35      uint8 = 0x86
)

// IsVideo reports whether streamType carries video.
func IsVideo(streamType uint8) bool {
	switch streamType {
	case StreamTypeMPEG1Video, StreamTypeMPEG2Video, StreamTypeH264, StreamTypeH265:
		return true
	}
	return false
}

// IsAudio reports whether streamType carries audio.
func IsAudio(streamType uint8) bool {
	switch streamType {
	case StreamTypeMPEG1Audio, StreamTypeMPEG2Audio, StreamTypeAAC, StreamTypeAC3:
		return true
	}
	return false
}

// Packet is a parsed transport stream packet.
type Packet struct {
	Header  PacketHeader
	Payload []byte
}

// PacketHeader holds the header and adaptation field flags of a packet.
type PacketHeader struct {
	PID                       uint16
	ContinuityCounter         uint8
	HasAdaptationField        bool
	HasPayload                bool
	PayloadUnitStartIndicator bool
	TransportErrorIndicator   bool
	DiscontinuityIndicator    bool
	RandomAccessIndicator     bool
}

// Program is one PAT entry.
type Program struct {
	Number uint16
	PMTPID uint16
}

// ElementaryStream is one PMT entry.
type ElementaryStream struct {
	PID        uint16
	StreamType uint8
}

// ProgramMap is a parsed PMT.
type ProgramMap struct {
	ProgramNumber uint16
	PCRPID        uint16
	Streams       []ElementaryStream
}

// Stream returns the entry for pid, if the program carries it.
func (pm *ProgramMap) Stream(pid uint16) (ElementaryStream, bool) {
	for _, es := range pm.Streams {
		if es.PID == pid {
			return es, true
		}
	}
	return ElementaryStream{}, false
}

// Unit is one PES payload, the demuxer's output and the muxer's input.
// PTS and DTS are 90 kHz ticks and only meaningful when the matching Has
// flag is set.
type Unit struct {
	PID          uint16
	StreamType   uint8
	StreamID     uint8
	PTS          int64
	DTS          int64
	HasPTS       bool
	HasDTS       bool
	RandomAccess bool
	Data         []byte
}
