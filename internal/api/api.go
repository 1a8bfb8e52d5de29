// Package api serves the tscast status endpoints.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/zsiec/tscast/internal/session"
)

// Config wires the API to the running process.
type Config struct {
	Addr string
	// Sessions lists the active sessions.
	Sessions func() []session.Info
	// CertFingerprint is the SHA-256 of the QUIC certificate, if any.
	CertFingerprint string
	Version         string
}

// Server is the HTTP status server.
type Server struct {
	cfg   Config
	log   *slog.Logger
	start time.Time
}

// NewServer creates a Server. If log is nil, slog.Default() is used.
func NewServer(cfg Config, log *slog.Logger) *Server {
	if log == nil {
		log = slog.Default()
	}
	return &Server{cfg: cfg, log: log.With("component", "api"), start: time.Now()}
}

// Handler returns the API routes.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/sessions", s.handleListSessions)
	mux.HandleFunc("GET /api/sessions/{key}", s.handleGetSession)
	mux.HandleFunc("GET /api/health", s.handleHealth)
	return corsMiddleware(mux)
}

// Start serves until ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.Addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		s.log.Info("API server listening", "addr", s.cfg.Addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("API server: %w", err)
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) sessions() []session.Info {
	var list []session.Info
	if s.cfg.Sessions != nil {
		list = s.cfg.Sessions()
	}
	if list == nil {
		list = make([]session.Info, 0)
	}
	return list
}

func (s *Server) handleListSessions(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.sessions())
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	key := r.PathValue("key")
	for _, info := range s.sessions() {
		if info.Key == key {
			writeJSON(w, http.StatusOK, info)
			return
		}
	}
	writeError(w, http.StatusNotFound, "session not found")
}

type healthResponse struct {
	Status          string `json:"status"`
	Version         string `json:"version,omitempty"`
	UptimeMs        int64  `json:"uptimeMs"`
	Sessions        int    `json:"sessions"`
	CertFingerprint string `json:"certFingerprint,omitempty"`
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, healthResponse{
		Status:          "ok",
		Version:         s.cfg.Version,
		UptimeMs:        time.Since(s.start).Milliseconds(),
		Sessions:        len(s.sessions()),
		CertFingerprint: s.cfg.CertFingerprint,
	})
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("encoding JSON response", "error", err)
	}
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}
