// Package source opens media sources and yields their packets with
// presentation timestamps relative to the start of the stream.
//
// Container files (MP4, FLV, AAC) and RTMP/RTSP pulls are demuxed with joy4.
// MPEG-TS files, stdin ("-") and live srt:// or quic:// feeds are demuxed
// with the internal MPEG-TS demuxer, which keeps every elementary stream
// type the program carries.
package source

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"os"
	"path"
	"strings"

	"github.com/zsiec/tscast/internal/media"
	"github.com/zsiec/tscast/internal/transport"
)

// Source is an open packet source. ReadPacket returns io.EOF at the end of
// the stream, a *PacketError for a single bad packet (the next call
// continues), and a *SourceError when the source cannot continue. Close
// releases the underlying handle and unblocks a pending ReadPacket.
type Source interface {
	Streams() []media.StreamInfo
	ReadPacket(ctx context.Context) (media.TimedPacket, error)
	Close() error
	// Live reports whether the source is a live feed, whose end means the
	// upstream went away rather than the content ended.
	Live() bool
}

// ErrNoStreams is wrapped by SourceError when a container holds no stream
// that can be demuxed.
var ErrNoStreams = errors.New("source: no decodable streams")

// ErrExhausted is wrapped by SourceError when a one-shot input such as
// stdin has no bytes left to open. Reopening it cannot help.
var ErrExhausted = errors.New("source: input exhausted")

// SourceError reports a source that cannot be opened or read any further.
// It is fatal to the cycle that owns the source.
type SourceError struct {
	URI string
	Op  string
	Err error
}

func (e *SourceError) Error() string {
	return fmt.Sprintf("source: %s %s: %v", e.Op, e.URI, e.Err)
}

func (e *SourceError) Unwrap() error { return e.Err }

// PacketError reports one packet that could not be read. The source stays
// usable.
type PacketError struct {
	StreamID int
	Err      error
}

func (e *PacketError) Error() string {
	return fmt.Sprintf("source: stream %d: bad packet: %v", e.StreamID, e.Err)
}

func (e *PacketError) Unwrap() error { return e.Err }

type options struct {
	log       *slog.Logger
	transport transport.Config
	stdin     io.Reader
}

// Option configures Open.
type Option func(*options)

// WithLogger sets the logger. The default is slog.Default().
func WithLogger(log *slog.Logger) Option {
	return func(o *options) { o.log = log }
}

// WithTransport sets the connection parameters for srt:// and quic://
// sources. The URI's streamid query parameter overrides StreamID.
func WithTransport(cfg transport.Config) Option {
	return func(o *options) { o.transport = cfg }
}

// WithStdin replaces os.Stdin as the reader for the "-" source.
func WithStdin(r io.Reader) Option {
	return func(o *options) { o.stdin = r }
}

// Open opens uri. Failures are returned as *SourceError.
func Open(ctx context.Context, uri string, opts ...Option) (Source, error) {
	o := options{log: slog.Default(), stdin: os.Stdin}
	for _, opt := range opts {
		opt(&o)
	}
	log := o.log.With("component", "source", "uri", uri)

	var (
		src Source
		err error
	)
	switch kind := classify(uri); kind {
	case kindStdin:
		in := &countingReader{r: o.stdin}
		src, err = newTSSource(ctx, uri, in, nil, true, log)
		if errors.Is(err, ErrNoStreams) && in.n == 0 {
			err = &SourceError{URI: uri, Op: "open", Err: ErrExhausted}
		}
	case kindTransport:
		src, err = openTransport(ctx, uri, o, log)
	case kindTSFile:
		var f *os.File
		if f, err = os.Open(uri); err == nil {
			src, err = newTSSource(ctx, uri, f, f, false, log)
		}
	default:
		src, err = openAV(ctx, uri, kind == kindAVLive, log)
	}
	if err != nil {
		var se *SourceError
		if errors.As(err, &se) {
			return nil, err
		}
		return nil, &SourceError{URI: uri, Op: "open", Err: err}
	}
	log.Debug("opened", "streams", len(src.Streams()), "live", src.Live())
	return src, nil
}

type sourceKind int

const (
	kindAVFile sourceKind = iota
	kindAVLive
	kindTSFile
	kindStdin
	kindTransport
)

func classify(uri string) sourceKind {
	if uri == "-" {
		return kindStdin
	}
	if u, err := url.Parse(uri); err == nil && u.Scheme != "" && len(u.Scheme) > 1 {
		switch strings.ToLower(u.Scheme) {
		case "srt", "quic":
			return kindTransport
		case "rtmp", "rtsp":
			return kindAVLive
		}
	}
	switch strings.ToLower(path.Ext(uri)) {
	case ".ts", ".m2ts", ".mts":
		return kindTSFile
	}
	return kindAVFile
}

func openTransport(ctx context.Context, uri string, o options, log *slog.Logger) (Source, error) {
	u, err := url.Parse(uri)
	if err != nil {
		return nil, err
	}
	proto, err := transport.ParseProtocol(strings.ToLower(u.Scheme))
	if err != nil {
		return nil, err
	}
	cfg := o.transport
	if id := u.Query().Get("streamid"); id != "" {
		cfg.StreamID = id
	}
	conn, err := transport.Dial(ctx, proto, u.Host, cfg)
	if err != nil {
		return nil, err
	}
	log.Info("connected", "remote", conn.RemoteAddr(), "stream_id", cfg.StreamID)
	return newTSSource(ctx, uri, transport.NewReader(conn), conn, true, log)
}

// countingReader counts the bytes read through it.
type countingReader struct {
	r io.Reader
	n int64
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n += int64(n)
	return n, err
}
