// Package session tracks the peers a tscast server is streaming to and
// runs one cycle controller per accepted connection.
package session

import (
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/zsiec/tscast/internal/cycle"
)

// Session is one connected peer.
type Session struct {
	Key       string
	Remote    string
	StartedAt time.Time

	mu   sync.Mutex
	ctrl *cycle.Controller
}

// Info is the JSON view of a session.
type Info struct {
	Key       string      `json:"key"`
	Remote    string      `json:"remote"`
	StartedAt time.Time   `json:"startedAt"`
	UptimeMs  int64       `json:"uptimeMs"`
	Stats     cycle.Stats `json:"stats"`
}

func (s *Session) attach(c *cycle.Controller) {
	s.mu.Lock()
	s.ctrl = c
	s.mu.Unlock()
}

// Info returns a snapshot of the session and its pipeline counters.
func (s *Session) Info() Info {
	info := Info{
		Key:       s.Key,
		Remote:    s.Remote,
		StartedAt: s.StartedAt,
		UptimeMs:  time.Since(s.StartedAt).Milliseconds(),
	}
	s.mu.Lock()
	c := s.ctrl
	s.mu.Unlock()
	if c != nil {
		info.Stats = c.Stats()
	}
	return info
}

// Manager is the registry of active sessions, keyed by stream id or
// remote address.
type Manager struct {
	log *slog.Logger
	max int

	mu       sync.RWMutex
	sessions map[string]*Session
}

// NewManager creates a Manager admitting at most max sessions; max <= 0
// means no limit. If log is nil, slog.Default() is used.
func NewManager(max int, log *slog.Logger) *Manager {
	if log == nil {
		log = slog.Default()
	}
	return &Manager{
		log:      log.With("component", "session-manager"),
		max:      max,
		sessions: make(map[string]*Session),
	}
}

// CanAccept reports whether a session with key would be admitted now.
func (m *Manager) CanAccept(key string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.admits(key)
}

func (m *Manager) admits(key string) bool {
	if _, ok := m.sessions[key]; ok {
		return false
	}
	return m.max <= 0 || len(m.sessions) < m.max
}

// Create registers a session. It returns nil and false when key is already
// streaming or the manager is full.
func (m *Manager) Create(key, remote string) (*Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.admits(key) {
		m.log.Warn("rejecting session", "key", key, "remote", remote, "active", len(m.sessions))
		return nil, false
	}
	s := &Session{Key: key, Remote: remote, StartedAt: time.Now()}
	m.sessions[key] = s
	m.log.Info("session created", "key", key, "remote", remote)
	return s, true
}

// Remove drops the session with key.
func (m *Manager) Remove(key string) {
	m.mu.Lock()
	_, ok := m.sessions[key]
	delete(m.sessions, key)
	m.mu.Unlock()

	if ok {
		m.log.Info("session removed", "key", key)
	}
}

// Get returns the session with key.
func (m *Manager) Get(key string) (*Session, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[key]
	return s, ok
}

// List returns the active sessions ordered by key.
func (m *Manager) List() []*Session {
	m.mu.RLock()
	list := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		list = append(list, s)
	}
	m.mu.RUnlock()

	sort.Slice(list, func(i, j int) bool { return list[i].Key < list[j].Key })
	return list
}

// Len returns the number of active sessions.
func (m *Manager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}
