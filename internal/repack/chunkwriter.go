package repack

import (
	"log/slog"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"github.com/zsiec/tscast/internal/media"
	"github.com/zsiec/tscast/internal/relay"
)

// ChunkWriter is the ChunkSink that feeds a relay queue. Every chunk is
// offered with a non-blocking TryEnqueue; chunks the queue refuses are
// counted and otherwise forgotten.
type ChunkWriter struct {
	q   *relay.Queue
	log *slog.Logger

	dropLog rate.Sometimes

	accepted atomic.Int64
	dropped  atomic.Int64
	closed   atomic.Int64
}

// NewChunkWriter returns a ChunkWriter feeding q.
func NewChunkWriter(q *relay.Queue, log *slog.Logger) *ChunkWriter {
	if log == nil {
		log = slog.Default()
	}
	return &ChunkWriter{
		q:       q,
		log:     log.With("component", "chunk-writer"),
		dropLog: rate.Sometimes{First: 1, Interval: 5 * time.Second},
	}
}

// WriteChunk offers c to the queue. It never blocks.
func (w *ChunkWriter) WriteChunk(c media.Chunk) {
	switch w.q.TryEnqueue(c) {
	case relay.Accepted:
		w.accepted.Add(1)
	case relay.Dropped:
		n := w.dropped.Add(1)
		w.dropLog.Do(func() {
			w.log.Warn("relay queue full, dropping chunk",
				"seq", c.Seq, "dropped", n, "capacity", w.q.Cap())
		})
	case relay.Closed:
		w.closed.Add(1)
	}
}

// Accepted returns the number of chunks the queue took.
func (w *ChunkWriter) Accepted() int64 { return w.accepted.Load() }

// Dropped returns the number of chunks refused because the queue was full.
func (w *ChunkWriter) Dropped() int64 { return w.dropped.Load() }

// Discarded returns the number of chunks offered after the queue closed.
func (w *ChunkWriter) Discarded() int64 { return w.closed.Load() }
