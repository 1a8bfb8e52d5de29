// Package media defines the packet and chunk types that flow through the
// tscast pipeline, from the source demuxer through the relay queue to the
// transport sender.
package media

import (
	"time"

	"github.com/nareix/joy4/av"
)

// MaxChunkSize is the default transport chunk size: 7 MPEG-TS packets
// (188 * 7), the standard SRT live-mode payload size.
const MaxChunkSize = 1316

// DefaultQueueCapacity is the default number of chunks the relay queue holds
// before it starts dropping. At 1316 bytes per chunk this absorbs roughly
// 1.3 MB of transport stall.
const DefaultQueueCapacity = 1024

// Kind classifies an elementary stream.
type Kind int

// Elementary stream kinds.
const (
	KindUnknown Kind = iota
	KindVideo
	KindAudio
	KindData
)

func (k Kind) String() string {
	switch k {
	case KindVideo:
		return "video"
	case KindAudio:
		return "audio"
	case KindData:
		return "data"
	default:
		return "unknown"
	}
}

// TimedPacket is one compressed access unit read from a source. PTS is the
// presentation timestamp relative to stream start; DTS is the decode
// timestamp and equals PTS for streams without reordering.
type TimedPacket struct {
	PTS      time.Duration
	DTS      time.Duration
	StreamID int
	Keyframe bool
	Payload  []byte
}

// StreamInfo describes one elementary stream of a source. Codec is set for
// sources demuxed by joy4 and carries the decoder configuration (SPS/PPS,
// AudioSpecificConfig). StreamType and PID are set for sources read from a
// raw MPEG-TS byte stream.
type StreamInfo struct {
	Index      int
	Kind       Kind
	Codec      av.CodecData
	StreamType uint8
	PID        uint16
}

// Chunk is a fixed-size slice of the repacketized byte stream. Data is owned
// by the chunk once produced and must not be modified.
type Chunk struct {
	Seq  uint64
	Data []byte
}
