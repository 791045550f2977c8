// Package session tracks live client sessions: identifiers, the outbound
// event queue, inbound rate limiting and close hooks.
package session

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"log/slog"
	"sync"

	"github.com/wilsonzlin/aero/proxy/chat-relay/internal/metrics"
	"github.com/wilsonzlin/aero/proxy/chat-relay/internal/ratelimit"
)

type Config struct {
	// MaxSessions caps concurrent sessions. Zero means unlimited.
	MaxSessions        int
	OutboundQueueBytes int
	// EventsPerSecond limits inbound events per session. Zero disables it.
	EventsPerSecond int

	Clock   ratelimit.Clock
	Logger  *slog.Logger
	Metrics *metrics.Metrics
}

type Manager struct {
	cfg Config

	mu       sync.Mutex
	sessions map[string]*Session
}

func NewManager(cfg Config) *Manager {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.OutboundQueueBytes <= 0 {
		cfg.OutboundQueueBytes = 1 << 20
	}
	return &Manager{
		cfg:      cfg,
		sessions: make(map[string]*Session),
	}
}

// Create allocates a session with a fresh random id.
func (m *Manager) Create() (*Session, error) {
	for attempt := 0; attempt < 3; attempt++ {
		id, err := newSessionID()
		if err != nil {
			return nil, err
		}

		m.mu.Lock()
		if m.cfg.MaxSessions > 0 && len(m.sessions) >= m.cfg.MaxSessions {
			m.mu.Unlock()
			m.cfg.Metrics.Inc(metrics.SessionsRejected)
			return nil, ErrTooManySessions
		}
		if _, taken := m.sessions[id]; taken {
			m.mu.Unlock()
			continue
		}
		sess := newSession(id, m.cfg, func() { m.remove(id) })
		m.sessions[id] = sess
		m.mu.Unlock()

		m.cfg.Metrics.SessionOpened()
		return sess, nil
	}
	return nil, errors.New("failed to allocate unique session id")
}

func (m *Manager) remove(id string) {
	m.mu.Lock()
	_, ok := m.sessions[id]
	delete(m.sessions, id)
	m.mu.Unlock()
	if ok {
		m.cfg.Metrics.SessionClosed()
	}
}

func (m *Manager) Active() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// CloseAll closes every live session, running their close hooks.
func (m *Manager) CloseAll() {
	m.mu.Lock()
	sessions := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		sessions = append(sessions, s)
	}
	m.mu.Unlock()

	for _, s := range sessions {
		s.Close()
	}
}

// sessionIDBytes is the entropy behind a session id. Ids are handed to the
// client in the ready event and appear in every session log line, so they
// must not be guessable.
const sessionIDBytes = 16

func newSessionID() (string, error) {
	id := make([]byte, sessionIDBytes)
	if _, err := rand.Read(id); err != nil {
		return "", err
	}
	return hex.EncodeToString(id), nil
}
