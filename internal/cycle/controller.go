// Package cycle runs the playback loop: it obtains a connection, streams a
// source to it through the pacing, repacketizing and relay stages, and
// decides after every cycle whether to loop, reconnect or stop.
package cycle

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/zsiec/tscast/internal/media"
	"github.com/zsiec/tscast/internal/pacing"
	"github.com/zsiec/tscast/internal/relay"
	"github.com/zsiec/tscast/internal/repack"
	"github.com/zsiec/tscast/internal/sender"
	"github.com/zsiec/tscast/internal/source"
	"github.com/zsiec/tscast/internal/transport"
)

// ErrSetup wraps failures to build a cycle's pipeline for an opened
// source. Retrying cannot fix them, so they end Run.
var ErrSetup = errors.New("cycle: pipeline setup failed")

// OpenFunc opens the source for one cycle.
type OpenFunc func(ctx context.Context) (source.Source, error)

// Config controls a Controller.
type Config struct {
	Format        repack.Format
	ChunkSize     int
	QueueCapacity int
	// Loop restarts a finite source from the beginning when it ends.
	Loop bool
	// Reconnect retries after errors: a lost connection is replaced by the
	// connector's next one, and a failed source is reopened.
	Reconnect     bool
	RetryInterval time.Duration
	// StatsInterval enables periodic stats logging.
	StatsInterval time.Duration
	// Clock defaults to pacing.RealClock.
	Clock pacing.Clock
	Log   *slog.Logger
}

// Controller drives cycles for one destination.
type Controller struct {
	cfg       Config
	connector Connector
	open      OpenFunc
	log       *slog.Logger

	warnLog rate.Sometimes

	mu    sync.Mutex
	state CycleState
	total Stats
	live  *pipeline
}

// NewController creates a Controller streaming sources from open to the
// connections supplied by connector.
func NewController(cfg Config, connector Connector, open OpenFunc) *Controller {
	if cfg.Log == nil {
		cfg.Log = slog.Default()
	}
	if cfg.QueueCapacity <= 0 {
		cfg.QueueCapacity = media.DefaultQueueCapacity
	}
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = media.MaxChunkSize
	}
	if cfg.RetryInterval <= 0 {
		cfg.RetryInterval = DefaultRetryInterval
	}
	if cfg.Format == "" {
		cfg.Format = repack.FormatMPEGTS
	}
	return &Controller{
		cfg:       cfg,
		connector: connector,
		open:      open,
		log:       cfg.Log.With("component", "cycle"),
		warnLog:   rate.Sometimes{First: 3, Interval: 5 * time.Second},
	}
}

// Run streams cycles until the loop policy says to stop or ctx ends. It
// returns the final state. Cancellation is a clean shutdown and returns a
// nil error; otherwise the error is the one that ended the last cycle.
func (c *Controller) Run(ctx context.Context) (CycleState, error) {
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	if c.cfg.StatsInterval > 0 {
		go c.logStats(runCtx)
	}

	var (
		state   = CycleState{Status: Listening}
		conn    transport.Conn
		lastErr error
	)
	defer func() {
		if conn != nil {
			conn.Close()
		}
	}()

	for {
		if conn == nil {
			state.Status = Listening
			c.setState(state)
			var err error
			conn, err = c.connector.Connect(ctx)
			if err != nil {
				if ctx.Err() != nil {
					return state, nil
				}
				state.Status = Errored
				c.setState(state)
				if errors.Is(err, ErrConnectorDone) && lastErr != nil {
					return state, lastErr
				}
				return state, err
			}
			state.Status = Connected
			c.setState(state)
			c.log.Info("peer connected", "remote", conn.RemoteAddr(), "stream_id", conn.StreamID())
		}

		var err error
		state, err = c.RunCycle(ctx, conn, state)
		c.setState(state)
		if ctx.Err() != nil {
			return state, nil
		}
		lastErr = err

		var te *transport.Error
		switch {
		case err == nil && !state.Live:
			if !c.cfg.Loop {
				return state, nil
			}
			c.log.Debug("looping source", "cycle", state.Index)
			state.Index++
			continue

		case err == nil:
			c.log.Info("live source ended", "cycle", state.Index)
			if !c.cfg.Reconnect {
				return state, nil
			}

		case errors.Is(err, source.ErrExhausted):
			c.log.Info("source exhausted", "cycle", state.Index)
			state.Status = Closed
			c.setState(state)
			return state, nil

		case errors.Is(err, ErrSetup):
			c.log.Error("cycle setup failed", "cycle", state.Index, "error", err)
			return state, err

		case errors.As(err, &te):
			c.log.Warn("connection lost", "cycle", state.Index, "error", err)
			conn.Close()
			conn = nil
			if !c.cfg.Reconnect {
				return state, err
			}

		default:
			c.log.Warn("cycle failed", "cycle", state.Index, "error", err)
			if !c.cfg.Reconnect {
				return state, err
			}
		}

		if err := sleep(ctx, c.cfg.RetryInterval); err != nil {
			return state, nil
		}
		state.Index++
	}
}

// RunCycle streams one pass of the source to conn. It opens the source,
// builds a fresh pipeline with new pacing state, and runs the producer
// (read, pace, repacketize, enqueue) and the sender concurrently. The
// cycle ends Closed when the source is exhausted and the queue drained or
// ctx was cancelled, and Errored with the first fatal error otherwise.
// conn is left open.
func (c *Controller) RunCycle(ctx context.Context, conn transport.Conn, state CycleState) (CycleState, error) {
	log := c.log.With("cycle", state.Index)

	src, err := c.open(ctx)
	if err != nil {
		state.Status = endStatus(ctx)
		return state, err
	}
	defer src.Close()
	state.Live = src.Live()

	q := relay.NewQueue(c.cfg.QueueCapacity)
	writer := repack.NewChunkWriter(q, c.cfg.Log)
	rp, err := repack.New(c.cfg.Format, src.Streams(), writer, c.cfg.ChunkSize)
	if err != nil {
		state.Status = Errored
		return state, fmt.Errorf("%w: %w", ErrSetup, err)
	}
	p := &pipeline{
		sched:  pacing.NewScheduler(c.cfg.Clock),
		rp:     rp,
		writer: writer,
		q:      q,
		snd:    sender.New(q, conn, c.cfg.Log),
	}
	c.begin(p)
	defer c.end(p)

	state.Status = Streaming
	c.setState(state)
	log.Info("streaming", "streams", len(src.Streams()), "live", state.Live, "format", string(rp.Format()))

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		defer q.Close()
		return c.produce(gctx, src, p, log)
	})
	// The sender watches the parent context so a producer failure still
	// lets it drain what was queued.
	g.Go(func() error {
		return p.snd.Run(ctx)
	})
	if err := g.Wait(); err != nil {
		state.Status = endStatus(ctx)
		return state, err
	}

	state.Status = Closed
	log.Info("cycle complete",
		"packets", p.sched.Released(),
		"chunks", p.snd.Chunks(),
		"dropped", writer.Dropped(),
	)
	return state, nil
}

// endStatus is the status of a cycle that stopped with an error: a
// cancelled cycle was shut down, anything else failed.
func endStatus(ctx context.Context) Status {
	if ctx.Err() != nil {
		return Closed
	}
	return Errored
}

// produce reads, paces and repacketizes packets until the source ends.
func (c *Controller) produce(ctx context.Context, src source.Source, p *pipeline, log *slog.Logger) error {
	stop := context.AfterFunc(ctx, func() { src.Close() })
	defer stop()

	for {
		pkt, err := src.ReadPacket(ctx)
		if err != nil {
			var pe *source.PacketError
			switch {
			case ctx.Err() != nil:
				return ctx.Err()
			case errors.Is(err, io.EOF):
				p.rp.Flush()
				return nil
			case errors.As(err, &pe):
				p.packetErrors.Add(1)
				c.warnLog.Do(func() {
					log.Warn("skipping unreadable packet", "stream", pe.StreamID, "error", pe.Err)
				})
				continue
			}
			return err
		}

		if _, err := p.sched.Release(ctx, pkt.PTS); err != nil {
			return err
		}
		if err := p.rp.Push(pkt); err != nil {
			var me *repack.MuxError
			if !errors.As(err, &me) {
				return err
			}
			c.warnLog.Do(func() {
				log.Warn("skipping packet the muxer rejected", "stream", me.StreamID, "error", me.Err)
			})
		}
	}
}

// Stats returns the counters summed over all cycles.
func (c *Controller) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := c.total
	if c.live != nil {
		c.live.addTo(&s)
		s.QueueLen = c.live.q.Len()
	}
	s.State = c.state.Status.String()
	s.Cycle = c.state.Index
	return s
}

// State returns the current cycle state.
func (c *Controller) State() CycleState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Controller) setState(s CycleState) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
}

func (c *Controller) begin(p *pipeline) {
	c.mu.Lock()
	c.live = p
	c.mu.Unlock()
}

func (c *Controller) end(p *pipeline) {
	c.mu.Lock()
	defer c.mu.Unlock()
	p.addTo(&c.total)
	c.total.CyclesCompleted++
	c.live = nil
}

func (c *Controller) logStats(ctx context.Context) {
	t := time.NewTicker(c.cfg.StatsInterval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			s := c.Stats()
			c.log.Info("stats",
				"state", s.State,
				"cycle", s.Cycle,
				"packets", s.PacketsReleased,
				"anomalies", s.TimingAnomalies,
				"chunks_sent", s.ChunksSent,
				"chunks_dropped", s.ChunksDropped,
				"bytes_sent", s.BytesSent,
				"queue", s.QueueLen,
			)
		}
	}
}
