package repack

import (
	"sync/atomic"

	"github.com/zsiec/tscast/internal/media"
)

// Chunker is the io.Writer muxers write into. It slices the byte stream
// into chunks of exactly Size bytes, numbered from 0, and hands each to the
// sink as soon as it is full. Flush emits the remainder as a short chunk.
type Chunker struct {
	size int
	sink ChunkSink
	buf  []byte
	seq  uint64

	chunks atomic.Int64
	bytes  atomic.Int64
}

// NewChunker returns a Chunker emitting size-byte chunks to sink. size <= 0
// selects media.MaxChunkSize.
func NewChunker(size int, sink ChunkSink) *Chunker {
	if size <= 0 {
		size = media.MaxChunkSize
	}
	return &Chunker{size: size, sink: sink, buf: make([]byte, 0, 2*size)}
}

// Size returns the chunk size.
func (c *Chunker) Size() int { return c.size }

// Write buffers p and emits every complete chunk. It never fails.
func (c *Chunker) Write(p []byte) (int, error) {
	c.buf = append(c.buf, p...)
	off := 0
	for len(c.buf)-off >= c.size {
		c.emit(c.buf[off : off+c.size])
		off += c.size
	}
	if off > 0 {
		c.buf = append(c.buf[:0], c.buf[off:]...)
	}
	return len(p), nil
}

// Buffered returns the number of bytes waiting for a full chunk.
func (c *Chunker) Buffered() int { return len(c.buf) }

// Flush emits the buffered bytes, if any, as one short chunk.
func (c *Chunker) Flush() {
	if len(c.buf) > 0 {
		c.emit(c.buf)
		c.buf = c.buf[:0]
	}
}

func (c *Chunker) emit(b []byte) {
	data := make([]byte, len(b))
	copy(data, b)
	chunk := media.Chunk{Seq: c.seq, Data: data}
	c.seq++
	c.chunks.Add(1)
	c.bytes.Add(int64(len(data)))
	c.sink.WriteChunk(chunk)
}
