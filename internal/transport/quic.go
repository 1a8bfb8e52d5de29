package transport

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/quic-go/quic-go"
	"github.com/quic-go/quic-go/quicvarint"

	"github.com/zsiec/tscast/internal/certs"
)

// ALPN is the application protocol negotiated by QUIC peers.
const ALPN = "tscast"

const (
	quicIdleTimeout  = 30 * time.Second
	quicHelloTimeout = 5 * time.Second
	// quicCloseLinger bounds how long Close waits for the peer to consume
	// the final bytes of the send stream.
	quicCloseLinger = 2 * time.Second
	maxMessageSize  = 1 << 20
	maxStreamIDSize = 512
)

// Application error codes sent with CONNECTION_CLOSE.
const (
	quicCodeDone     quic.ApplicationErrorCode = 0
	quicCodeRejected quic.ApplicationErrorCode = 1
)

// On QUIC the dialer's first unidirectional stream is a hello carrying its
// stream id: varint(len) | id. Each direction's data then travels on one
// more unidirectional stream as frames of
// varint(unix micros) | varint(len) | payload.

type quicListener struct {
	ln     *quic.Listener
	accept func(string) bool
}

func listenQUIC(_ context.Context, addr string, cfg Config) (*quicListener, error) {
	tlsConf := cfg.TLS
	if tlsConf == nil {
		cert, err := certs.Generate(0)
		if err != nil {
			return nil, &Error{Op: "listen", Addr: addr, Err: err}
		}
		tlsConf = certs.ServerTLSConfig(cert, ALPN)
	}
	ln, err := quic.ListenAddr(addr, tlsConf, &quic.Config{MaxIdleTimeout: quicIdleTimeout})
	if err != nil {
		return nil, &Error{Op: "listen", Addr: addr, Err: err}
	}
	return &quicListener{ln: ln, accept: cfg.AcceptStream}, nil
}

func (l *quicListener) Accept(ctx context.Context) (Conn, error) {
	stop := context.AfterFunc(ctx, func() { l.ln.Close() })
	defer stop()

	for {
		qc, err := l.ln.Accept(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, &Error{Op: "accept", Addr: l.Addr(), Err: err}
		}

		streamID, err := readHello(ctx, qc)
		if err != nil {
			qc.CloseWithError(quicCodeRejected, "bad hello")
			continue
		}
		if l.accept != nil && !l.accept(streamID) {
			qc.CloseWithError(quicCodeRejected, "rejected")
			continue
		}
		return newQUICConn(qc, streamID), nil
	}
}

func (l *quicListener) Close() error { return l.ln.Close() }

func (l *quicListener) Addr() string { return l.ln.Addr().String() }

func readHello(ctx context.Context, qc quic.Connection) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, quicHelloTimeout)
	defer cancel()

	s, err := qc.AcceptUniStream(ctx)
	if err != nil {
		return "", err
	}
	r := bufio.NewReader(s)
	n, err := quicvarint.Read(r)
	if err != nil {
		return "", err
	}
	if n > maxStreamIDSize {
		return "", fmt.Errorf("stream id of %d bytes", n)
	}
	id := make([]byte, n)
	if _, err := io.ReadFull(r, id); err != nil {
		return "", err
	}
	return string(id), nil
}

func dialQUIC(ctx context.Context, addr string, cfg Config) (Conn, error) {
	tlsConf := cfg.TLS
	if tlsConf == nil {
		tlsConf = certs.ClientTLSConfig(cfg.Insecure, ALPN)
	}

	dialCtx, cancel := context.WithTimeout(ctx, cfg.DialTimeout)
	defer cancel()

	qc, err := quic.DialAddr(dialCtx, addr, tlsConf, &quic.Config{MaxIdleTimeout: quicIdleTimeout})
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, &Error{Op: "dial", Addr: addr, Err: err}
	}

	hello, err := qc.OpenUniStreamSync(dialCtx)
	if err == nil {
		buf := quicvarint.Append(nil, uint64(len(cfg.StreamID)))
		buf = append(buf, cfg.StreamID...)
		if _, err = hello.Write(buf); err == nil {
			err = hello.Close()
		}
	}
	if err != nil {
		qc.CloseWithError(quicCodeDone, "")
		return nil, &Error{Op: "dial", Addr: addr, Err: fmt.Errorf("hello: %w", err)}
	}
	return newQUICConn(qc, cfg.StreamID), nil
}

type quicConn struct {
	qc       quic.Connection
	streamID string
	remote   string

	mu      sync.Mutex
	send    quic.SendStream
	writing bool
	frame   []byte

	recv *bufio.Reader

	closeOnce sync.Once
}

func newQUICConn(qc quic.Connection, streamID string) *quicConn {
	return &quicConn{
		qc:       qc,
		streamID: streamID,
		remote:   qc.RemoteAddr().String(),
	}
}

func (c *quicConn) Write(p []byte) (int, error) {
	c.mu.Lock()
	send := c.send
	c.writing = true
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		c.writing = false
		c.mu.Unlock()
	}()

	if send == nil {
		s, err := c.qc.OpenUniStreamSync(c.qc.Context())
		if err != nil {
			return 0, &Error{Op: "write", Addr: c.remote, Err: err}
		}
		c.mu.Lock()
		c.send = s
		c.mu.Unlock()
		send = s
	}

	c.frame = quicvarint.Append(c.frame[:0], uint64(time.Now().UnixMicro()))
	c.frame = quicvarint.Append(c.frame, uint64(len(p)))
	c.frame = append(c.frame, p...)
	if _, err := send.Write(c.frame); err != nil {
		return 0, &Error{Op: "write", Addr: c.remote, Err: err}
	}
	return len(p), nil
}

func (c *quicConn) ReadMessage() (Message, error) {
	if c.recv == nil {
		s, err := c.qc.AcceptUniStream(c.qc.Context())
		if err != nil {
			return Message{}, c.readError(err)
		}
		c.recv = bufio.NewReader(s)
	}

	ts, err := quicvarint.Read(c.recv)
	if err != nil {
		return Message{}, c.readError(err)
	}
	n, err := quicvarint.Read(c.recv)
	if err != nil {
		return Message{}, c.readError(err)
	}
	if n > maxMessageSize {
		return Message{}, &Error{Op: "read", Addr: c.remote, Err: fmt.Errorf("message of %d bytes", n)}
	}
	data := make([]byte, n)
	if _, err := io.ReadFull(c.recv, data); err != nil {
		if errors.Is(err, io.EOF) {
			err = io.ErrUnexpectedEOF
		}
		return Message{}, &Error{Op: "read", Addr: c.remote, Err: err}
	}
	return Message{Time: time.UnixMicro(int64(ts)), Data: data}, nil
}

// readError maps a clean end of stream, or the peer closing the
// connection without an error, to io.EOF.
func (c *quicConn) readError(err error) error {
	if errors.Is(err, io.EOF) {
		return io.EOF
	}
	var appErr *quic.ApplicationError
	if errors.As(err, &appErr) && appErr.Remote && appErr.ErrorCode == quicCodeDone {
		return io.EOF
	}
	return &Error{Op: "read", Addr: c.remote, Err: err}
}

// Close finishes the send stream and closes the connection. When data was
// sent it first waits, up to quicCloseLinger, for the peer to close after
// reading it. A Close racing a pending Write aborts the connection at once.
func (c *quicConn) Close() error {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		send, writing := c.send, c.writing
		c.mu.Unlock()
		if send != nil && !writing {
			send.Close()
			select {
			case <-c.qc.Context().Done():
			case <-time.After(quicCloseLinger):
			}
		}
		c.qc.CloseWithError(quicCodeDone, "")
	})
	return nil
}

func (c *quicConn) RemoteAddr() string { return c.remote }

func (c *quicConn) StreamID() string { return c.streamID }
