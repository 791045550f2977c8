package signaling

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/wilsonzlin/aero/proxy/chat-relay/internal/auth"
	"github.com/wilsonzlin/aero/proxy/chat-relay/internal/calls"
	"github.com/wilsonzlin/aero/proxy/chat-relay/internal/config"
	"github.com/wilsonzlin/aero/proxy/chat-relay/internal/groups"
	"github.com/wilsonzlin/aero/proxy/chat-relay/internal/messaging"
	"github.com/wilsonzlin/aero/proxy/chat-relay/internal/metrics"
	"github.com/wilsonzlin/aero/proxy/chat-relay/internal/origin"
	"github.com/wilsonzlin/aero/proxy/chat-relay/internal/presence"
	"github.com/wilsonzlin/aero/proxy/chat-relay/internal/session"
)

const (
	DefaultAuthTimeout     = 5 * time.Second
	DefaultIdleTimeout     = 60 * time.Second
	DefaultPingInterval    = 20 * time.Second
	DefaultMaxMessageBytes = 64 * 1024
)

// Config wires together the runtime dependencies for the session boundary.
type Config struct {
	Sessions *session.Manager
	Presence *presence.Registry
	Groups   *groups.Manager
	Router   *messaging.Router
	Calls    *calls.Service

	// Verifier is nil when AUTH_MODE=none.
	Verifier auth.Verifier
	AuthMode config.AuthMode

	// AllowedOrigins follows origin.IsAllowed: empty means same host only.
	AllowedOrigins []string

	AuthTimeout     time.Duration
	IdleTimeout     time.Duration
	PingInterval    time.Duration
	MaxMessageBytes int64

	Logger  *slog.Logger
	Metrics *metrics.Metrics
}

type Server struct {
	cfg      Config
	log      *slog.Logger
	upgrader websocket.Upgrader
}

func NewServer(cfg Config) *Server {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Sessions == nil {
		cfg.Sessions = session.NewManager(session.Config{Logger: cfg.Logger, Metrics: cfg.Metrics})
	}
	if cfg.AuthMode == "" {
		cfg.AuthMode = config.AuthModeNone
	}
	if cfg.AuthTimeout <= 0 {
		cfg.AuthTimeout = DefaultAuthTimeout
	}
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = DefaultIdleTimeout
	}
	if cfg.PingInterval <= 0 || cfg.PingInterval >= cfg.IdleTimeout {
		cfg.PingInterval = cfg.IdleTimeout / 3
	}
	if cfg.MaxMessageBytes <= 0 {
		cfg.MaxMessageBytes = DefaultMaxMessageBytes
	}

	s := &Server{cfg: cfg, log: cfg.Logger}
	s.upgrader = websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool {
			_, ok := origin.CheckRequest(r, s.cfg.AllowedOrigins)
			return ok
		},
	}
	return s
}

func (s *Server) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /ws", s.handleWebSocket)
}

// ActiveSessions reports the number of live connections.
func (s *Server) ActiveSessions() int {
	return s.cfg.Sessions.Active()
}

// Close ends every live session. Each connection still drains the events
// already queued for it before closing.
func (s *Server) Close() {
	s.cfg.Sessions.CloseAll()
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	sess, err := s.cfg.Sessions.Create()
	if err != nil {
		if errors.Is(err, session.ErrTooManySessions) {
			http.Error(w, "too many sessions", http.StatusServiceUnavailable)
			return
		}
		s.log.Error("allocate session", "err", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// The upgrader has already replied.
		sess.Close()
		return
	}

	sess.AddOnClose(func() { s.teardown(sess) })
	c := newConn(s, sess, ws)
	c.serve(r)
}

// teardown drops every trace of a session from presence and group state. It
// runs exactly once, from the session's close hook.
func (s *Server) teardown(sess *session.Session) {
	removed := s.cfg.Presence.Remove(sess.ID())
	s.cfg.Groups.LeaveAll(sess.ID())
	sess.Logger().Debug("session closed", "handles_removed", removed)
}
