package session

import (
	"log/slog"
	"sync"

	"github.com/wilsonzlin/aero/proxy/chat-relay/internal/event"
	"github.com/wilsonzlin/aero/proxy/chat-relay/internal/metrics"
	"github.com/wilsonzlin/aero/proxy/chat-relay/internal/ratelimit"
)

// Session is the transport-independent half of one client connection. It
// implements event.Sink; the transport drains NextFrame.
type Session struct {
	id      string
	logger  *slog.Logger
	metrics *metrics.Metrics
	queue   *outboundQueue
	limiter *ratelimit.EventLimiter

	mu      sync.Mutex
	closed  bool
	done    chan struct{}
	onClose func()
}

var _ event.Sink = (*Session)(nil)

func newSession(id string, cfg Config, onClose func()) *Session {
	return &Session{
		id:      id,
		logger:  cfg.Logger.With("session_id", id),
		metrics: cfg.Metrics,
		queue:   newOutboundQueue(cfg.OutboundQueueBytes),
		limiter: ratelimit.NewEventLimiter(cfg.Clock, cfg.EventsPerSecond, cfg.EventsPerSecond),
		done:    make(chan struct{}),
		onClose: onClose,
	}
}

func (s *Session) ID() string { return s.id }

// Logger returns a logger tagged with the session id.
func (s *Session) Logger() *slog.Logger { return s.logger }

// Emit encodes out and queues it for the transport. It never blocks.
func (s *Session) Emit(out event.Outbound) bool {
	frame, err := out.Marshal()
	if err != nil {
		s.logger.Error("encode outbound event", "type", out.Type, "err", err)
		return false
	}
	if s.queue.enqueue(frame) {
		return true
	}
	if !s.Closed() {
		s.metrics.Inc(metrics.OutboundDropped)
		s.logger.Warn("outbound queue full; dropping event", "type", out.Type)
	}
	return false
}

// NextFrame blocks until an encoded event is ready. It returns false once the
// session is closed and every queued frame has been handed out.
func (s *Session) NextFrame() ([]byte, bool) {
	return s.queue.dequeue()
}

// QueuedBytes reports the size of frames waiting for the transport.
func (s *Session) QueuedBytes() int {
	return s.queue.bytes()
}

// Allow applies the inbound event rate limit.
func (s *Session) Allow() bool {
	if s.limiter.Allow() {
		return true
	}
	s.metrics.Inc(metrics.RateLimited)
	return false
}

// Done is closed when the session closes.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

func (s *Session) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// AddOnClose registers fn to run when the session closes. Callbacks run in
// registration order. If the session is already closed fn runs immediately.
func (s *Session) AddOnClose(fn func()) {
	if fn == nil {
		return
	}
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		fn()
		return
	}
	prev := s.onClose
	s.onClose = func() {
		if prev != nil {
			prev()
		}
		fn()
	}
	s.mu.Unlock()
}

// Close is idempotent.
func (s *Session) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	onClose := s.onClose
	s.onClose = nil
	close(s.done)
	s.mu.Unlock()

	s.queue.close()
	if onClose != nil {
		onClose()
	}
}
