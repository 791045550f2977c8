// Package calls brokers call signaling between two sessions and keeps the
// call record lifecycle: initiated -> answered -> finished, initiated ->
// rejected, initiated -> finished.
//
// Every relay point looks the peer up by handle at that moment, so a client
// that reconnects under the same handle mid-negotiation still receives the
// next signaling event. Persistence never gates a relay: store errors are
// logged and counted and the event goes out regardless.
package calls

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/wilsonzlin/aero/proxy/chat-relay/internal/event"
	"github.com/wilsonzlin/aero/proxy/chat-relay/internal/identity"
	"github.com/wilsonzlin/aero/proxy/chat-relay/internal/metrics"
	"github.com/wilsonzlin/aero/proxy/chat-relay/internal/presence"
	"github.com/wilsonzlin/aero/proxy/chat-relay/internal/store"
)

const DefaultCreateTimeout = 5 * time.Second

// Submitter queues a persistence job. *persist.Queue implements it.
type Submitter interface {
	Submit(name string, fn func(ctx context.Context) error, attrs ...any) error
}

type Config struct {
	Presence *presence.Registry
	Resolver *identity.Resolver
	Calls    store.CallStore
	Persist  Submitter
	Logger   *slog.Logger
	Metrics  *metrics.Metrics
	Now      func() time.Time

	// CreateTimeout bounds the synchronous record creation in Initiate.
	CreateTimeout time.Duration
}

type Service struct {
	presence      *presence.Registry
	resolver      *identity.Resolver
	calls         store.CallStore
	persist       Submitter
	log           *slog.Logger
	metrics       *metrics.Metrics
	now           func() time.Time
	createTimeout time.Duration
}

func NewService(cfg Config) *Service {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.CreateTimeout <= 0 {
		cfg.CreateTimeout = DefaultCreateTimeout
	}
	return &Service{
		presence:      cfg.Presence,
		resolver:      cfg.Resolver,
		calls:         cfg.Calls,
		persist:       cfg.Persist,
		log:           cfg.Logger,
		metrics:       cfg.Metrics,
		now:           cfg.Now,
		createTimeout: cfg.CreateTimeout,
	}
}

// Initiate relays offer from caller to the session registered as toHandle
// and records a new call in the initiated state. The call id is included in
// the callMade event; it is empty when the record could not be created.
func (s *Service) Initiate(ctx context.Context, caller event.Sender, toHandle string, offer json.RawMessage) error {
	callee, ok := s.presence.Lookup(toHandle)
	if !ok {
		s.metrics.Inc(metrics.UserUnavailable)
		caller.Session.Emit(event.UserNotAvailable(fmt.Sprintf("%s is not online.", toHandle)))
		return fmt.Errorf("%w: %s", presence.ErrRecipientUnavailable, toHandle)
	}

	callID := s.createRecord(ctx, caller, callee)

	s.metrics.Inc(metrics.CallsInitiated)
	s.emit(callee.Session, event.CallMade(offer, caller.Handle, callID))
	s.log.Debug("call initiated", "call_id", callID, "caller", caller.Handle, "callee", callee.Handle)
	return nil
}

func (s *Service) createRecord(ctx context.Context, caller event.Sender, callee presence.Entry) string {
	if s.calls == nil {
		return ""
	}
	ctx, cancel := context.WithTimeout(ctx, s.createTimeout)
	defer cancel()

	callerID, err := s.accountID(ctx, caller.Handle, caller.AccountID)
	if err != nil {
		s.persistFailed("create_call", err, "caller", caller.Handle)
		return ""
	}
	calleeID, err := s.accountID(ctx, callee.Handle, callee.AccountID)
	if err != nil {
		s.persistFailed("create_call", err, "callee", callee.Handle)
		return ""
	}

	id, err := s.calls.CreateCall(ctx, store.CallRecord{
		CallerAccountID: callerID,
		CalleeAccountID: calleeID,
		Status:          store.CallInitiated,
		StartTime:       s.now(),
	})
	if err != nil {
		s.persistFailed("create_call", err, "caller", caller.Handle, "callee", callee.Handle)
		return ""
	}
	return id
}

// Answer relays answer to the caller's current session and moves the call
// from initiated to answered. Replays and answers to calls that are no longer
// initiated leave the record untouched.
func (s *Service) Answer(ctx context.Context, callee event.Sender, toHandle string, answer json.RawMessage, callID string) {
	if caller, ok := s.presence.Lookup(toHandle); ok {
		s.emit(caller.Session, event.AnswerMade(answer, callee.Handle))
	}
	s.metrics.Inc(metrics.CallsAnswered)
	s.transition(callID, store.CallAnswered, false)
}

// Reject notifies the caller's current session and moves the call from
// initiated to rejected. Rejecting an answered call changes nothing.
func (s *Service) Reject(ctx context.Context, callee event.Sender, toHandle, callID string) {
	if caller, ok := s.presence.Lookup(toHandle); ok {
		s.emit(caller.Session, event.CallEnded())
	}
	s.metrics.Inc(metrics.CallsRejected)
	s.transition(callID, store.CallRejected, true)
}

// RelayICECandidate forwards candidate to toHandle. It reports whether a
// session was found; absent recipients are ignored.
func (s *Service) RelayICECandidate(toHandle string, candidate json.RawMessage) bool {
	peer, ok := s.presence.Lookup(toHandle)
	if !ok {
		s.metrics.Inc(metrics.ICEDropped)
		return false
	}
	s.emit(peer.Session, event.ICECandidate(candidate))
	s.metrics.Inc(metrics.ICERelayed)
	return true
}

// End notifies the other party and finishes the latest open call between the
// two accounts. Having no open call is not an error.
func (s *Service) End(ctx context.Context, from event.Sender, toHandle string) {
	if peer, ok := s.presence.Lookup(toHandle); ok {
		s.emit(peer.Session, event.CallEnded())
	}
	s.metrics.Inc(metrics.CallsEnded)

	if s.calls == nil || s.persist == nil {
		return
	}
	at := s.now()
	s.submit("finish_call", func(ctx context.Context) error {
		a, err := s.accountID(ctx, from.Handle, from.AccountID)
		if err != nil {
			return err
		}
		b, err := s.accountID(ctx, toHandle, "")
		if err != nil {
			return err
		}
		id, ok, err := s.calls.FinishLatestCall(ctx, a, b, at)
		if err != nil {
			return err
		}
		if !ok {
			s.log.Debug("no open call to finish", "from", from.Handle, "to", toHandle)
			return nil
		}
		s.log.Debug("call finished", "call_id", id)
		return nil
	}, "from", from.Handle, "to", toHandle)
}

func (s *Service) transition(callID string, to store.CallStatus, setEnd bool) {
	if callID == "" || s.calls == nil || s.persist == nil {
		return
	}
	var end *time.Time
	if setEnd {
		t := s.now()
		end = &t
	}
	s.submit("transition_call", func(ctx context.Context) error {
		ok, err := s.calls.TransitionCall(ctx, callID, []store.CallStatus{store.CallInitiated}, to, end)
		if err != nil {
			return err
		}
		if !ok {
			s.metrics.Inc(metrics.CallTransitionIgnored)
			s.log.Debug("call transition ignored", "call_id", callID, "to", to)
		}
		return nil
	}, "call_id", callID, "to", string(to))
}

// accountID returns known when set, otherwise resolves handle.
func (s *Service) accountID(ctx context.Context, handle, known string) (string, error) {
	if known != "" {
		return known, nil
	}
	id, ok, err := s.resolver.Resolve(ctx, handle)
	if err != nil {
		return "", err
	}
	if !ok {
		return "", fmt.Errorf("no account for handle %q", handle)
	}
	return id, nil
}

// emit hands out to the peer's session. A full queue is counted by the
// session itself.
func (s *Service) emit(to event.Sink, out event.Outbound) {
	if !to.Emit(out) {
		s.log.Debug("call event not delivered", "type", out.Type, "session_id", to.ID())
	}
}

func (s *Service) submit(name string, fn func(ctx context.Context) error, attrs ...any) {
	if err := s.persist.Submit(name, fn, attrs...); err != nil {
		s.log.Debug("call update not persisted", append([]any{"job", name, "err", err}, attrs...)...)
	}
}

func (s *Service) persistFailed(op string, err error, attrs ...any) {
	s.metrics.Inc(metrics.PersistenceFailures)
	s.log.Warn("call record write failed", append([]any{"op", op, "err", err}, attrs...)...)
}
