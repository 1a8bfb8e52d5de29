// Package receiver is the far end of a tscast stream: it reads chunks from
// a transport connection, counts them and optionally stores the payload.
package receiver

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/zsiec/tscast/internal/transport"
)

// Totals summarizes a received stream.
type Totals struct {
	Messages int64     `json:"messages"`
	Bytes    int64     `json:"bytes"`
	First    time.Time `json:"first"`
	Last     time.Time `json:"last"`
	// MaxDelay is the largest gap between a message's timestamp and its
	// arrival. It is only meaningful for protocols that carry the sender's
	// clock.
	MaxDelay time.Duration `json:"maxDelayNs"`
}

// Receiver drains one connection.
type Receiver struct {
	conn transport.Conn
	sink io.Writer
	log  *slog.Logger

	progress rate.Sometimes

	mu     sync.Mutex
	totals Totals
}

// New creates a Receiver reading from conn. sink may be nil.
func New(conn transport.Conn, sink io.Writer, log *slog.Logger) *Receiver {
	if log == nil {
		log = slog.Default()
	}
	return &Receiver{
		conn:     conn,
		sink:     sink,
		log:      log.With("component", "receiver", "remote", conn.RemoteAddr()),
		progress: rate.Sometimes{Interval: 5 * time.Second},
	}
}

// Run reads until the peer ends the stream, which returns nil. A
// cancelled ctx closes the connection and also returns nil. Read failures
// come back as *transport.Error; sink failures are wrapped.
func (r *Receiver) Run(ctx context.Context) (Totals, error) {
	stop := context.AfterFunc(ctx, func() { r.conn.Close() })
	defer stop()

	for {
		msg, err := r.conn.ReadMessage()
		if err != nil {
			t := r.Totals()
			switch {
			case errors.Is(err, io.EOF):
				r.log.Info("stream ended", "messages", t.Messages, "bytes", t.Bytes)
				return t, nil
			case ctx.Err() != nil:
				return t, nil
			}
			var te *transport.Error
			if !errors.As(err, &te) {
				te = &transport.Error{Op: "read", Addr: r.conn.RemoteAddr(), Err: err}
			}
			return t, te
		}

		now := time.Now()
		r.mu.Lock()
		r.totals.Messages++
		r.totals.Bytes += int64(len(msg.Data))
		if r.totals.First.IsZero() {
			r.totals.First = now
		}
		r.totals.Last = now
		if d := now.Sub(msg.Time); d > r.totals.MaxDelay {
			r.totals.MaxDelay = d
		}
		t := r.totals
		r.mu.Unlock()

		if r.sink != nil {
			if _, err := r.sink.Write(msg.Data); err != nil {
				return t, fmt.Errorf("receiver: write sink: %w", err)
			}
		}
		r.progress.Do(func() {
			r.log.Info("receiving", "messages", t.Messages, "bytes", t.Bytes)
		})
	}
}

// Totals returns the counters so far.
func (r *Receiver) Totals() Totals {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.totals
}
