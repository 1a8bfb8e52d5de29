package session

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"

	"github.com/zsiec/tscast/internal/cycle"
	"github.com/zsiec/tscast/internal/transport"
)

// Server accepts peers on a listener and streams to each of them with its
// own cycle controller.
type Server struct {
	listener transport.Listener
	mgr      *Manager
	open     cycle.OpenFunc
	cfg      cycle.Config
	log      *slog.Logger

	// Single makes Serve return when the first session ends.
	Single bool
}

// NewServer creates a Server. cfg is the template for every session's
// controller. If log is nil, slog.Default() is used.
func NewServer(l transport.Listener, mgr *Manager, open cycle.OpenFunc, cfg cycle.Config, log *slog.Logger) *Server {
	if log == nil {
		log = slog.Default()
	}
	cfg.Log = log
	return &Server{
		listener: l,
		mgr:      mgr,
		open:     open,
		cfg:      cfg,
		log:      log.With("component", "session-server"),
	}
}

// Serve accepts peers until ctx is cancelled, then waits for the running
// sessions to stop. With Single set it returns after the first session,
// with that session's error.
func (s *Server) Serve(ctx context.Context) error {
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		lastErr error
	)
	defer wg.Wait()
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	s.log.Info("listening", "addr", s.listener.Addr())
	for {
		conn, err := s.listener.Accept(ctx)
		if err != nil {
			if ctx.Err() != nil {
				mu.Lock()
				defer mu.Unlock()
				return lastErr
			}
			if errors.Is(err, transport.ErrRejected) {
				continue
			}
			return err
		}

		key := Key(conn)
		sess, ok := s.mgr.Create(key, conn.RemoteAddr())
		if !ok {
			conn.Close()
			continue
		}

		wg.Add(1)
		go func() {
			defer wg.Done()
			err := s.run(ctx, sess, conn)
			if s.Single {
				mu.Lock()
				lastErr = err
				mu.Unlock()
				cancel()
			}
		}()
	}
}

func (s *Server) run(ctx context.Context, sess *Session, conn transport.Conn) error {
	defer s.mgr.Remove(sess.Key)

	cfg := s.cfg
	cfg.Log = s.cfg.Log.With("session", sess.Key)
	ctrl := cycle.NewController(cfg, cycle.Once(conn), s.open)
	sess.attach(ctrl)

	state, err := ctrl.Run(ctx)
	st := ctrl.Stats()
	log := s.log.With("session", sess.Key)
	if err != nil {
		log.Warn("session ended with error", "state", state.Status.String(), "cycles", st.CyclesCompleted, "error", err)
		return err
	}
	log.Info("session ended", "state", state.Status.String(), "cycles", st.CyclesCompleted,
		"chunks_sent", st.ChunksSent, "bytes_sent", st.BytesSent)
	return nil
}

// Key identifies a peer by its stream key, or by its remote address when
// it sent no stream id.
func Key(conn transport.Conn) string {
	if k := StreamKey(conn.StreamID()); k != "" {
		return k
	}
	return conn.RemoteAddr()
}

// StreamKey strips a leading "/" and "live/" from a stream id.
func StreamKey(streamID string) string {
	streamID = strings.TrimPrefix(streamID, "/")
	return strings.TrimPrefix(streamID, "live/")
}
