// Package config builds the tscast command configuration from environment
// defaults and command-line flags. Flags win over the environment.
package config

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strconv"
	"time"

	"github.com/zsiec/tscast/internal/cycle"
	"github.com/zsiec/tscast/internal/media"
	"github.com/zsiec/tscast/internal/mpegts"
	"github.com/zsiec/tscast/internal/repack"
	"github.com/zsiec/tscast/internal/transport"
)

// MaxSRTPayload is the largest message SRT live mode carries.
const MaxSRTPayload = 1456

// Mode is the sub-command.
type Mode string

// Sub-commands.
const (
	ModeServe Mode = "serve"
	ModePush  Mode = "push"
	ModeRecv  Mode = "recv"
)

// Config is the full process configuration.
type Config struct {
	Mode Mode

	// Source is the media to stream: a file path, "-" for MPEG-TS on
	// stdin, or an rtmp://, rtsp://, srt:// or quic:// URL.
	Source string
	// Addr is the listen address for serve (and recv -listen) or the
	// destination for push and recv.
	Addr     string
	Listen   bool
	Protocol transport.Protocol
	StreamID string
	Latency  time.Duration
	Insecure bool

	ChunkSize     int
	QueueCapacity int
	Format        repack.Format

	Loop          bool
	Reconnect     bool
	RetryInterval time.Duration
	DialTimeout   time.Duration
	StatsInterval time.Duration
	MaxSessions   int

	APIAddr string
	// Output is where recv stores the received bytes; empty discards them.
	Output string
}

// Default returns the configuration with environment overrides applied.
func Default(mode Mode) (Config, error) {
	c := Config{
		Mode:     mode,
		Source:   envOr("TSCAST_SOURCE", ""),
		Addr:     envOr("TSCAST_ADDR", ":9000"),
		StreamID: envOr("TSCAST_STREAM_ID", ""),
		APIAddr:  envOr("TSCAST_API_ADDR", ""),
		Output:   envOr("TSCAST_OUTPUT", ""),
	}
	var errs []error
	add := func(err error) {
		if err != nil {
			errs = append(errs, err)
		}
	}
	var err error
	c.Protocol = transport.Protocol(envOr("TSCAST_PROTOCOL", string(transport.ProtocolSRT)))
	c.Format = repack.Format(envOr("TSCAST_FORMAT", string(repack.FormatMPEGTS)))
	c.Latency, err = envDuration("TSCAST_LATENCY", transport.DefaultLatency)
	add(err)
	c.ChunkSize, err = envInt("TSCAST_CHUNK_SIZE", media.MaxChunkSize)
	add(err)
	c.QueueCapacity, err = envInt("TSCAST_QUEUE_CAPACITY", media.DefaultQueueCapacity)
	add(err)
	c.Loop, err = envBool("TSCAST_LOOP", true)
	add(err)
	c.Reconnect, err = envBool("TSCAST_RECONNECT", true)
	add(err)
	c.RetryInterval, err = envDuration("TSCAST_RETRY_INTERVAL", cycle.DefaultRetryInterval)
	add(err)
	c.DialTimeout, err = envDuration("TSCAST_DIAL_TIMEOUT", transport.DefaultDialTimeout)
	add(err)
	c.StatsInterval, err = envDuration("TSCAST_STATS_INTERVAL", 10*time.Second)
	add(err)
	c.MaxSessions, err = envInt("TSCAST_MAX_SESSIONS", 16)
	add(err)
	c.Insecure, err = envBool("TSCAST_INSECURE", false)
	add(err)
	return c, errors.Join(errs...)
}

// Parse builds the configuration for mode from the environment and args.
// The first positional argument, if any, is the source for serve and push.
func Parse(mode Mode, args []string, output io.Writer) (Config, error) {
	c, err := Default(mode)
	if err != nil {
		return c, err
	}

	fs := flag.NewFlagSet("tscast "+string(mode), flag.ContinueOnError)
	if output != nil {
		fs.SetOutput(output)
	}
	proto := string(c.Protocol)
	format := string(c.Format)

	fs.StringVar(&c.Addr, "addr", c.Addr, "listen address (serve, recv -listen) or destination host:port")
	fs.StringVar(&proto, "protocol", proto, "transport protocol: srt or quic")
	fs.StringVar(&c.StreamID, "streamid", c.StreamID, "stream id sent when dialing")
	fs.DurationVar(&c.Latency, "latency", c.Latency, "SRT latency budget")
	fs.BoolVar(&c.Insecure, "insecure", c.Insecure, "skip QUIC certificate verification when dialing")
	fs.DurationVar(&c.DialTimeout, "dial-timeout", c.DialTimeout, "timeout of a single dial")
	fs.DurationVar(&c.RetryInterval, "retry", c.RetryInterval, "pause between retries")
	fs.BoolVar(&c.Reconnect, "reconnect", c.Reconnect, "reconnect and retry after errors")
	fs.StringVar(&c.APIAddr, "api", c.APIAddr, "HTTP status API address (empty disables)")
	fs.DurationVar(&c.StatsInterval, "stats", c.StatsInterval, "stats log interval (0 disables)")

	switch mode {
	case ModeServe, ModePush:
		fs.StringVar(&c.Source, "source", c.Source, "media source (file, -, rtmp://, rtsp://, srt://, quic://)")
		fs.StringVar(&format, "format", format, "output container: mpegts or raw")
		fs.IntVar(&c.ChunkSize, "chunk", c.ChunkSize, "transport chunk size in bytes")
		fs.IntVar(&c.QueueCapacity, "queue", c.QueueCapacity, "relay queue capacity in chunks")
		fs.BoolVar(&c.Loop, "loop", c.Loop, "restart file sources when they end")
		if mode == ModeServe {
			fs.IntVar(&c.MaxSessions, "max-sessions", c.MaxSessions, "maximum concurrent peers (0 = unlimited)")
		}
	case ModeRecv:
		fs.BoolVar(&c.Listen, "listen", c.Listen, "listen for the sender instead of dialing it")
		fs.StringVar(&c.Output, "o", c.Output, "write received bytes to this file (- for stdout)")
	default:
		return c, fmt.Errorf("config: unknown mode %q", mode)
	}

	if err := fs.Parse(args); err != nil {
		return c, err
	}
	if fs.NArg() > 0 && c.Source == "" && mode != ModeRecv {
		c.Source = fs.Arg(0)
	}
	c.Protocol = transport.Protocol(proto)
	c.Format = repack.Format(format)
	return c, c.Validate()
}

// Validate rejects configurations the pipeline cannot run with.
func (c Config) Validate() error {
	var errs []error
	if _, err := transport.ParseProtocol(string(c.Protocol)); err != nil {
		errs = append(errs, err)
	}
	if c.Addr == "" {
		errs = append(errs, errors.New("config: address is required"))
	}
	if c.Latency <= 0 {
		errs = append(errs, fmt.Errorf("config: latency must be positive, got %v", c.Latency))
	}
	if c.RetryInterval < 0 || c.DialTimeout < 0 || c.StatsInterval < 0 {
		errs = append(errs, errors.New("config: durations must not be negative"))
	}
	if c.Mode == ModeRecv {
		return errors.Join(errs...)
	}

	if c.Source == "" {
		errs = append(errs, errors.New("config: source is required"))
	}
	if _, err := repack.ParseFormat(string(c.Format)); err != nil {
		errs = append(errs, err)
	}
	if c.ChunkSize <= 0 {
		errs = append(errs, fmt.Errorf("config: chunk size must be positive, got %d", c.ChunkSize))
	}
	if c.Protocol == transport.ProtocolSRT && c.ChunkSize > MaxSRTPayload {
		errs = append(errs, fmt.Errorf("config: chunk size %d exceeds the SRT payload limit of %d", c.ChunkSize, MaxSRTPayload))
	}
	if c.Format == repack.FormatMPEGTS && c.ChunkSize%mpegts.PacketSize != 0 {
		errs = append(errs, fmt.Errorf("config: mpegts chunk size %d is not a multiple of %d", c.ChunkSize, mpegts.PacketSize))
	}
	if c.QueueCapacity < 1 {
		errs = append(errs, fmt.Errorf("config: queue capacity must be at least 1, got %d", c.QueueCapacity))
	}
	if c.MaxSessions < 0 {
		errs = append(errs, errors.New("config: max sessions must not be negative"))
	}
	return errors.Join(errs...)
}

// Transport returns the connection parameters.
func (c Config) Transport() transport.Config {
	return transport.Config{
		Latency:     c.Latency,
		StreamID:    c.StreamID,
		DialTimeout: c.DialTimeout,
		Insecure:    c.Insecure,
	}
}

// Cycle returns the controller settings.
func (c Config) Cycle() cycle.Config {
	return cycle.Config{
		Format:        c.Format,
		ChunkSize:     c.ChunkSize,
		QueueCapacity: c.QueueCapacity,
		Loop:          c.Loop,
		Reconnect:     c.Reconnect,
		RetryInterval: c.RetryInterval,
		StatsInterval: c.StatsInterval,
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback, fmt.Errorf("config: %s: %w", key, err)
	}
	return n, nil
}

func envBool(key string, fallback bool) (bool, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback, fmt.Errorf("config: %s: %w", key, err)
	}
	return b, nil
}

func envDuration(key string, fallback time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fallback, fmt.Errorf("config: %s: %w", key, err)
	}
	return d, nil
}
