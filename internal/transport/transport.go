// Package transport carries opaque byte messages between tscast peers.
// Two protocols are supported: SRT in live mode, which is the default, and
// QUIC with one unidirectional stream per direction.
//
// A Conn is used by at most one writer and one reader goroutine at a time.
// Close may be called from any goroutine and interrupts a pending Write or
// ReadMessage.
package transport

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"time"
)

// Protocol selects the wire protocol.
type Protocol string

// Supported protocols.
const (
	ProtocolSRT  Protocol = "srt"
	ProtocolQUIC Protocol = "quic"
)

// ParseProtocol validates a protocol name.
func ParseProtocol(s string) (Protocol, error) {
	switch Protocol(s) {
	case ProtocolSRT, ProtocolQUIC:
		return Protocol(s), nil
	}
	return "", fmt.Errorf("transport: unknown protocol %q (want srt or quic)", s)
}

// DefaultLatency is the SRT receiver latency (120ms).
const DefaultLatency = 120 * time.Millisecond

// DefaultDialTimeout bounds a single connection attempt.
const DefaultDialTimeout = 10 * time.Second

// Message is one received transport message. Time is the sender's
// timestamp when the protocol carries one, otherwise the arrival time.
type Message struct {
	Time time.Time
	Data []byte
}

// Conn is an established transport connection.
type Conn interface {
	// Write sends p as one message and returns once the transport has
	// accepted it.
	Write(p []byte) (int, error)
	// ReadMessage returns the next message, or io.EOF when the peer ended
	// the stream.
	ReadMessage() (Message, error)
	Close() error
	RemoteAddr() string
	// StreamID is the identifier the caller supplied when connecting.
	StreamID() string
}

// Listener accepts incoming connections.
type Listener interface {
	// Accept waits for the next connection. Cancelling ctx closes the
	// listener.
	Accept(ctx context.Context) (Conn, error)
	Close() error
	Addr() string
}

// Config holds connection parameters shared by both protocols.
type Config struct {
	// Latency is the SRT latency budget.
	Latency time.Duration
	// StreamID identifies the stream to the listener.
	StreamID string
	// DialTimeout bounds a single Dial.
	DialTimeout time.Duration
	// TLS overrides the QUIC TLS configuration. Listeners without one
	// use a freshly generated self-signed certificate.
	TLS *tls.Config
	// Insecure skips QUIC certificate verification when dialing.
	Insecure bool
	// AcceptStream, when set, decides whether a listener admits a peer by
	// its stream id.
	AcceptStream func(streamID string) bool
}

func (c Config) withDefaults() Config {
	if c.Latency <= 0 {
		c.Latency = DefaultLatency
	}
	if c.DialTimeout <= 0 {
		c.DialTimeout = DefaultDialTimeout
	}
	return c
}

// Error is a transport failure. It is fatal to the connection it
// happened on.
type Error struct {
	Op   string
	Addr string
	Err  error
}

func (e *Error) Error() string {
	if e.Addr == "" {
		return fmt.Sprintf("transport: %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("transport: %s %s: %v", e.Op, e.Addr, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// ErrRejected is returned when a listener refuses a peer.
var ErrRejected = errors.New("transport: connection rejected")

// Listen starts a listener for proto on addr.
func Listen(ctx context.Context, proto Protocol, addr string, cfg Config) (Listener, error) {
	cfg = cfg.withDefaults()
	switch proto {
	case ProtocolSRT, "":
		return listenSRT(addr, cfg)
	case ProtocolQUIC:
		return listenQUIC(ctx, addr, cfg)
	}
	return nil, &Error{Op: "listen", Addr: addr, Err: fmt.Errorf("unknown protocol %q", proto)}
}

// Dial connects to a listener at addr.
func Dial(ctx context.Context, proto Protocol, addr string, cfg Config) (Conn, error) {
	cfg = cfg.withDefaults()
	switch proto {
	case ProtocolSRT, "":
		return dialSRT(ctx, addr, cfg)
	case ProtocolQUIC:
		return dialQUIC(ctx, addr, cfg)
	}
	return nil, &Error{Op: "dial", Addr: addr, Err: fmt.Errorf("unknown protocol %q", proto)}
}

// Reader adapts a Conn into a byte stream by concatenating message
// payloads. Live MPEG-TS sources read through it.
type Reader struct {
	conn Conn
	buf  []byte
}

// NewReader returns a Reader over conn.
func NewReader(conn Conn) *Reader {
	return &Reader{conn: conn}
}

func (r *Reader) Read(p []byte) (int, error) {
	for len(r.buf) == 0 {
		msg, err := r.conn.ReadMessage()
		if err != nil {
			return 0, err
		}
		r.buf = msg.Data
	}
	n := copy(p, r.buf)
	r.buf = r.buf[n:]
	return n, nil
}
