package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/zsiec/tscast/internal/api"
	"github.com/zsiec/tscast/internal/certs"
	"github.com/zsiec/tscast/internal/config"
	"github.com/zsiec/tscast/internal/cycle"
	"github.com/zsiec/tscast/internal/receiver"
	"github.com/zsiec/tscast/internal/session"
	"github.com/zsiec/tscast/internal/source"
	"github.com/zsiec/tscast/internal/transport"
)

var version = "dev"

const usage = `usage: tscast <command> [flags]

commands:
  serve   listen and stream the source to every peer that connects
  push    dial a peer and stream the source to it
  recv    receive a stream and count or store it

run "tscast <command> -h" for the flags of a command.
`

func main() {
	level := slog.LevelInfo
	if os.Getenv("DEBUG") != "" {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}
	mode := config.Mode(os.Args[1])
	switch mode {
	case config.ModeServe, config.ModePush, config.ModeRecv:
	case "version", "-version", "--version":
		fmt.Println(version)
		return
	default:
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}

	cfg, err := config.Parse(mode, os.Args[2:], os.Stderr)
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return
		}
		slog.Error("invalid configuration", "error", err)
		os.Exit(2)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		slog.Info("received signal, shutting down", "signal", sig)
		cancel()
	}()

	slog.Info("tscast starting",
		"version", version,
		"mode", string(cfg.Mode),
		"protocol", string(cfg.Protocol),
		"addr", cfg.Addr,
		"source", cfg.Source,
	)

	switch cfg.Mode {
	case config.ModeServe:
		err = serve(ctx, cfg)
	case config.ModePush:
		err = push(ctx, cfg)
	case config.ModeRecv:
		err = recv(ctx, cfg)
	}
	if err != nil {
		slog.Error("tscast failed", "mode", string(cfg.Mode), "error", err)
		os.Exit(1)
	}
}

func openFunc(cfg config.Config) cycle.OpenFunc {
	return func(ctx context.Context) (source.Source, error) {
		return source.Open(ctx, cfg.Source,
			source.WithLogger(slog.Default()),
			source.WithTransport(cfg.Transport()),
		)
	}
}

func serve(ctx context.Context, cfg config.Config) error {
	mgr := session.NewManager(cfg.MaxSessions, nil)

	tcfg := cfg.Transport()
	tcfg.AcceptStream = func(streamID string) bool {
		return mgr.CanAccept(session.StreamKey(streamID))
	}

	var fingerprint string
	if cfg.Protocol == transport.ProtocolQUIC {
		cert, err := certs.Generate(14 * 24 * time.Hour)
		if err != nil {
			return fmt.Errorf("generate certificate: %w", err)
		}
		fingerprint = cert.FingerprintHex()
		tcfg.TLS = certs.ServerTLSConfig(cert, transport.ALPN)
		slog.Info("certificate generated",
			"fingerprint", fingerprint,
			"expires", cert.NotAfter.Format(time.RFC3339),
		)
	}

	l, err := transport.Listen(ctx, cfg.Protocol, cfg.Addr, tcfg)
	if err != nil {
		return err
	}
	defer l.Close()

	srv := session.NewServer(l, mgr, openFunc(cfg), cfg.Cycle(), nil)
	srv.Single = !cfg.Reconnect

	g, gctx := errgroup.WithContext(ctx)
	gctx, stop := context.WithCancel(gctx)
	defer stop()

	g.Go(func() error {
		defer stop()
		return srv.Serve(gctx)
	})
	if cfg.APIAddr != "" {
		apiSrv := api.NewServer(api.Config{
			Addr:            cfg.APIAddr,
			Version:         version,
			CertFingerprint: fingerprint,
			Sessions: func() []session.Info {
				var infos []session.Info
				for _, s := range mgr.List() {
					infos = append(infos, s.Info())
				}
				return infos
			},
		}, nil)
		g.Go(func() error { return apiSrv.Start(gctx) })
	}
	return g.Wait()
}

func push(ctx context.Context, cfg config.Config) error {
	connector := &cycle.DialConnector{
		Protocol:      cfg.Protocol,
		Addr:          cfg.Addr,
		Config:        cfg.Transport(),
		RetryInterval: cfg.RetryInterval,
	}
	if !cfg.Reconnect {
		connector.MaxAttempts = 1
	}
	ctrl := cycle.NewController(cfg.Cycle(), connector, openFunc(cfg))
	started := time.Now()

	g, gctx := errgroup.WithContext(ctx)
	gctx, stop := context.WithCancel(gctx)
	defer stop()

	g.Go(func() error {
		defer stop()
		state, err := ctrl.Run(gctx)
		st := ctrl.Stats()
		slog.Info("push finished",
			"state", state.Status.String(),
			"cycles", st.CyclesCompleted,
			"chunks_sent", st.ChunksSent,
			"chunks_dropped", st.ChunksDropped,
		)
		return err
	})
	if cfg.APIAddr != "" {
		key := session.StreamKey(cfg.StreamID)
		if key == "" {
			key = cfg.Addr
		}
		apiSrv := api.NewServer(api.Config{
			Addr:    cfg.APIAddr,
			Version: version,
			Sessions: func() []session.Info {
				return []session.Info{{
					Key:       key,
					Remote:    cfg.Addr,
					StartedAt: started,
					UptimeMs:  time.Since(started).Milliseconds(),
					Stats:     ctrl.Stats(),
				}}
			},
		}, nil)
		g.Go(func() error { return apiSrv.Start(gctx) })
	}
	return g.Wait()
}

func recv(ctx context.Context, cfg config.Config) error {
	var sink io.Writer
	switch cfg.Output {
	case "":
	case "-":
		sink = os.Stdout
	default:
		f, err := os.Create(cfg.Output)
		if err != nil {
			return fmt.Errorf("create output: %w", err)
		}
		defer f.Close()
		sink = f
	}

	var connector cycle.Connector
	if cfg.Listen {
		l, err := transport.Listen(ctx, cfg.Protocol, cfg.Addr, cfg.Transport())
		if err != nil {
			return err
		}
		defer l.Close()
		connector = &cycle.ListenerConnector{Listener: l}
	} else {
		d := &cycle.DialConnector{
			Protocol:      cfg.Protocol,
			Addr:          cfg.Addr,
			Config:        cfg.Transport(),
			RetryInterval: cfg.RetryInterval,
		}
		if !cfg.Reconnect {
			d.MaxAttempts = 1
		}
		connector = d
	}

	for {
		conn, err := connector.Connect(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		totals, err := receiver.New(conn, sink, nil).Run(ctx)
		conn.Close()
		slog.Info("receive finished",
			"messages", totals.Messages,
			"bytes", totals.Bytes,
			"max_delay", totals.MaxDelay,
			"error", err,
		)
		if ctx.Err() != nil {
			return nil
		}
		if !cfg.Reconnect {
			return err
		}
	}
}
