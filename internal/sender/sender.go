// Package sender drains a relay queue into a transport connection, one
// chunk at a time and in queue order.
package sender

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"

	"github.com/zsiec/tscast/internal/relay"
	"github.com/zsiec/tscast/internal/transport"
)

// Sender is the consumer half of a cycle. Each chunk's Write returns
// before the next chunk is dequeued, so a stream never has more than one
// chunk in flight.
type Sender struct {
	q    *relay.Queue
	conn transport.Conn
	log  *slog.Logger

	chunks atomic.Int64
	bytes  atomic.Int64
}

// New creates a Sender writing chunks from q to conn.
func New(q *relay.Queue, conn transport.Conn, log *slog.Logger) *Sender {
	if log == nil {
		log = slog.Default()
	}
	return &Sender{
		q:    q,
		conn: conn,
		log:  log.With("component", "sender", "remote", conn.RemoteAddr()),
	}
}

// Run sends chunks until the queue is closed and drained, which returns
// nil. A failed write closes the queue and returns a *transport.Error.
// When ctx ends Run closes the connection to interrupt a pending write and
// returns ctx.Err().
func (s *Sender) Run(ctx context.Context) error {
	stop := context.AfterFunc(ctx, func() {
		s.conn.Close()
	})
	defer stop()

	for {
		c, err := s.q.Dequeue(ctx)
		if err != nil {
			if errors.Is(err, relay.ErrClosed) {
				s.log.Debug("queue drained", "chunks", s.chunks.Load())
				return nil
			}
			return err
		}

		if _, err := s.conn.Write(c.Data); err != nil {
			s.q.Close()
			if ctx.Err() != nil {
				return ctx.Err()
			}
			var te *transport.Error
			if !errors.As(err, &te) {
				te = &transport.Error{Op: "write", Addr: s.conn.RemoteAddr(), Err: err}
			}
			s.log.Warn("write failed", "seq", c.Seq, "error", err)
			return te
		}
		s.chunks.Add(1)
		s.bytes.Add(int64(len(c.Data)))
	}
}

// Chunks returns the number of chunks written.
func (s *Sender) Chunks() int64 { return s.chunks.Load() }

// Bytes returns the number of bytes written.
func (s *Sender) Bytes() int64 { return s.bytes.Load() }
