package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	srtgo "github.com/zsiec/srtgo"
)

// srtReadBufferSize holds ten 1316-byte live-mode payloads.
const srtReadBufferSize = 1316 * 10

type srtListener struct {
	l    *srtgo.Listener
	addr string
}

func listenSRT(addr string, cfg Config) (*srtListener, error) {
	c := srtgo.DefaultConfig()
	c.Latency = cfg.Latency
	l, err := srtgo.Listen(addr, c)
	if err != nil {
		return nil, &Error{Op: "listen", Addr: addr, Err: err}
	}
	if cfg.AcceptStream != nil {
		accept := cfg.AcceptStream
		l.SetAcceptRejectFunc(func(req srtgo.ConnRequest) srtgo.RejectReason {
			if !accept(req.StreamID) {
				return srtgo.RejPeer
			}
			return 0
		})
	}
	return &srtListener{l: l, addr: addr}, nil
}

func (s *srtListener) Accept(ctx context.Context) (Conn, error) {
	stop := context.AfterFunc(ctx, func() { s.l.Close() })
	defer stop()

	c, err := s.l.Accept()
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, &Error{Op: "accept", Addr: s.addr, Err: err}
	}
	return newSRTConn(c), nil
}

func (s *srtListener) Close() error {
	s.l.Close()
	return nil
}

func (s *srtListener) Addr() string { return s.addr }

// dialSRT dials in caller mode. srtgo.Dial has no context, so the dial runs
// in its own goroutine bounded by the dial timeout; a connection that
// completes after the caller gave up is closed.
func dialSRT(ctx context.Context, addr string, cfg Config) (Conn, error) {
	type dialResult struct {
		conn *srtgo.Conn
		err  error
	}
	c := srtgo.DefaultConfig()
	c.Latency = cfg.Latency
	c.StreamID = cfg.StreamID

	ch := make(chan dialResult, 1)
	go func() {
		conn, err := srtgo.Dial(addr, c)
		ch <- dialResult{conn, err}
	}()

	timer := time.NewTimer(cfg.DialTimeout)
	defer timer.Stop()

	abandon := func() {
		go func() {
			if res := <-ch; res.conn != nil {
				res.conn.Close()
			}
		}()
	}

	select {
	case res := <-ch:
		if res.err != nil {
			return nil, &Error{Op: "dial", Addr: addr, Err: res.err}
		}
		return newSRTConn(res.conn), nil
	case <-timer.C:
		abandon()
		return nil, &Error{Op: "dial", Addr: addr, Err: fmt.Errorf("timed out after %s", cfg.DialTimeout)}
	case <-ctx.Done():
		abandon()
		return nil, ctx.Err()
	}
}

type srtConn struct {
	c      *srtgo.Conn
	remote string
	buf    []byte
}

func newSRTConn(c *srtgo.Conn) *srtConn {
	return &srtConn{
		c:      c,
		remote: c.RemoteAddr().String(),
		buf:    make([]byte, srtReadBufferSize),
	}
}

func (s *srtConn) Write(p []byte) (int, error) {
	n, err := s.c.Write(p)
	if err != nil {
		return n, &Error{Op: "write", Addr: s.remote, Err: err}
	}
	return n, nil
}

// ReadMessage returns one SRT message. Live mode carries no sender
// timestamp to the application, so Time is the arrival time.
func (s *srtConn) ReadMessage() (Message, error) {
	n, err := s.c.Read(s.buf)
	if err != nil {
		if errors.Is(err, io.EOF) {
			return Message{}, io.EOF
		}
		return Message{}, &Error{Op: "read", Addr: s.remote, Err: err}
	}
	data := make([]byte, n)
	copy(data, s.buf[:n])
	return Message{Time: time.Now(), Data: data}, nil
}

func (s *srtConn) Close() error {
	s.c.Close()
	return nil
}

func (s *srtConn) RemoteAddr() string { return s.remote }

func (s *srtConn) StreamID() string { return s.c.StreamID() }
