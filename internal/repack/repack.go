// Package repack turns released packets into transport chunks. Each packet
// is muxed into a byte stream (MPEG-TS, or the bare payload) and the bytes
// are sliced into fixed-size chunks that are handed to a ChunkSink in
// order.
package repack

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"sync/atomic"

	"github.com/zsiec/tscast/internal/media"
)

// Format selects the byte stream the packets are muxed into.
type Format string

// Supported formats.
const (
	FormatMPEGTS Format = "mpegts"
	FormatRaw    Format = "raw"
)

// ParseFormat validates a format name.
func ParseFormat(s string) (Format, error) {
	switch Format(s) {
	case FormatMPEGTS, FormatRaw:
		return Format(s), nil
	}
	return "", fmt.Errorf("repack: unknown format %q (want mpegts or raw)", s)
}

// MuxError reports one packet that could not be muxed. The packet is
// skipped and the stream continues.
type MuxError struct {
	StreamID int
	Err      error
}

func (e *MuxError) Error() string {
	return fmt.Sprintf("repack: stream %d: %v", e.StreamID, e.Err)
}

func (e *MuxError) Unwrap() error { return e.Err }

// ChunkSink receives chunks in sequence order.
type ChunkSink interface {
	WriteChunk(c media.Chunk)
}

// ChunkSinkFunc adapts a function to ChunkSink.
type ChunkSinkFunc func(c media.Chunk)

// WriteChunk calls f(c).
func (f ChunkSinkFunc) WriteChunk(c media.Chunk) { f(c) }

// packetMuxer writes one packet's container representation to the
// packet buffer of the Repacketizer.
type packetMuxer interface {
	writePacket(pkt media.TimedPacket) error
}

// Stats are the repacketizer counters.
type Stats struct {
	Packets   int64 `json:"packets"`
	MuxErrors int64 `json:"muxErrors"`
	Chunks    int64 `json:"chunks"`
	Bytes     int64 `json:"bytes"`
}

// Repacketizer muxes packets and chunks the result. It is used by a single
// producer goroutine; Stats may be read concurrently.
type Repacketizer struct {
	format  Format
	mux     packetMuxer
	chunker *Chunker
	// pending holds the bytes of the packet being muxed. They reach the
	// chunker only once the muxer succeeded.
	pending bytes.Buffer

	packets   atomic.Int64
	muxErrors atomic.Int64
}

// New creates a Repacketizer for streams. chunkSize <= 0 selects
// media.MaxChunkSize. An error means the muxer could not be initialized
// for these streams, which is fatal to the cycle. Headers written during
// initialization leave with the first packet's chunks.
func New(format Format, streams []media.StreamInfo, sink ChunkSink, chunkSize int) (*Repacketizer, error) {
	r := &Repacketizer{
		format:  format,
		chunker: NewChunker(chunkSize, sink),
	}
	var err error
	switch format {
	case FormatRaw:
		r.mux = rawMuxer{w: &r.pending}
	case FormatMPEGTS, "":
		r.format = FormatMPEGTS
		if hasCodecData(streams) {
			r.mux, err = newAVTSMuxer(&r.pending, streams)
		} else {
			r.mux, err = newPESMuxer(&r.pending, streams)
		}
	default:
		err = fmt.Errorf("unknown format %q", format)
	}
	if err != nil {
		return nil, fmt.Errorf("repack: init %s muxer: %w", r.format, err)
	}
	return r, nil
}

// Format returns the output format.
func (r *Repacketizer) Format() Format { return r.format }

// Push muxes pkt and emits its chunks. The bytes of one packet are
// flushed before Push returns, so only the last chunk of a packet can be
// short. A packet the muxer rejects is dropped whole, even if the muxer
// failed after writing part of it, and reported as a *MuxError.
func (r *Repacketizer) Push(pkt media.TimedPacket) error {
	r.packets.Add(1)
	mark := r.pending.Len()
	if err := r.mux.writePacket(pkt); err != nil {
		r.pending.Truncate(mark)
		r.muxErrors.Add(1)
		var me *MuxError
		if errors.As(err, &me) {
			return me
		}
		return &MuxError{StreamID: pkt.StreamID, Err: err}
	}
	r.chunker.Write(r.pending.Bytes())
	r.pending.Reset()
	r.chunker.Flush()
	return nil
}

// Flush emits any buffered bytes as a final short chunk.
func (r *Repacketizer) Flush() {
	r.chunker.Write(r.pending.Bytes())
	r.pending.Reset()
	r.chunker.Flush()
}

// Stats returns a snapshot of the counters.
func (r *Repacketizer) Stats() Stats {
	return Stats{
		Packets:   r.packets.Load(),
		MuxErrors: r.muxErrors.Load(),
		Chunks:    r.chunker.chunks.Load(),
		Bytes:     r.chunker.bytes.Load(),
	}
}

func hasCodecData(streams []media.StreamInfo) bool {
	for _, s := range streams {
		if s.Codec != nil {
			return true
		}
	}
	return false
}

// rawMuxer passes payloads through unchanged.
type rawMuxer struct {
	w io.Writer
}

func (m rawMuxer) writePacket(pkt media.TimedPacket) error {
	_, err := m.w.Write(pkt.Payload)
	return err
}
