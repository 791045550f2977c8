package signaling

import (
	"errors"
	"fmt"

	"github.com/wilsonzlin/aero/proxy/chat-relay/internal/event"
	"github.com/wilsonzlin/aero/proxy/chat-relay/internal/groups"
	"github.com/wilsonzlin/aero/proxy/chat-relay/internal/metrics"
	"github.com/wilsonzlin/aero/proxy/chat-relay/internal/presence"
)

var (
	errNotRegistered    = errors.New("session has not registered a handle")
	errIdentityMismatch = errors.New("handle does not match the authenticated identity")
)

// needsHandle lists events that act as the session's own registered handle.
var needsHandle = map[event.Type]bool{
	event.TypeSendGroupMessage: true,
	event.TypeCallUser:         true,
	event.TypeMakeAnswer:       true,
	event.TypeRejectCall:       true,
	event.TypeEndCall:          true,
}

func (c *conn) dispatch(in event.Inbound) {
	if needsHandle[in.Type] && c.handle == "" {
		c.malformed(in.Type, errNotRegistered)
		return
	}

	p := in.Payload
	switch in.Type {
	case event.TypeAuth:
		// Already authenticated, or auth is disabled.
		c.log.Debug("ignoring repeated auth event")

	case event.TypeRegister:
		accountID := p.AccountID
		if c.bound.Handle != "" {
			if presence.NormalizeHandle(p.Handle) != c.bound.Handle || (accountID != "" && accountID != c.bound.AccountID) {
				c.malformed(in.Type, errIdentityMismatch)
				return
			}
			accountID = c.bound.AccountID
		}
		c.register(p.Handle, accountID)

	case event.TypeJoinGroup:
		canonical, err := c.srv.cfg.Groups.Join(c.ctx, c.sess, p.GroupID)
		if err != nil {
			c.srv.cfg.Metrics.Inc(metrics.GroupJoinsInvalid)
			c.failed(in.Type, err, "group_id", p.GroupID)
			return
		}
		c.srv.cfg.Metrics.Inc(metrics.GroupJoins)
		c.sess.Emit(event.JoinGroupAck(canonical))

	case event.TypeSendPrivateMessage:
		if !c.mayActAs(p.FromHandle) {
			c.malformed(in.Type, errIdentityMismatch)
			return
		}
		err := c.srv.cfg.Router.RoutePrivate(c.ctx, c.sess, p.FromHandle, p.ToHandle, p.Body)
		c.failed(in.Type, err, "to_handle", p.ToHandle)

	case event.TypeSendGroupMessage:
		err := c.srv.cfg.Router.RouteGroup(c.ctx, c.sender(), p.GroupID, p.Body)
		c.failed(in.Type, err, "group_id", p.GroupID)

	case event.TypeStartPrivateChat:
		if !c.mayActAs(p.FromHandle) {
			c.malformed(in.Type, errIdentityMismatch)
			return
		}
		err := c.srv.cfg.Router.StartPrivateChat(c.sess, p.FromHandle, p.ToHandle)
		c.failed(in.Type, err, "to_handle", p.ToHandle)

	case event.TypeCallUser:
		err := c.srv.cfg.Calls.Initiate(c.ctx, c.sender(), p.ToHandle, p.Offer)
		c.failed(in.Type, err, "to_handle", p.ToHandle)

	case event.TypeMakeAnswer:
		c.srv.cfg.Calls.Answer(c.ctx, c.sender(), p.ToHandle, p.Answer, p.CallID)

	case event.TypeRejectCall:
		c.srv.cfg.Calls.Reject(c.ctx, c.sender(), p.ToHandle, p.CallID)

	case event.TypeICECandidate:
		c.srv.cfg.Calls.RelayICECandidate(p.ToHandle, p.Candidate)

	case event.TypeEndCall:
		c.srv.cfg.Calls.End(c.ctx, c.sender(), p.ToHandle)

	default:
		c.malformed(in.Type, fmt.Errorf("unhandled event type %q", in.Type))
	}
}

func (c *conn) register(handle, accountID string) {
	entry := c.srv.cfg.Presence.Register(handle, c.sess, accountID)
	c.handle, c.accountID = entry.Handle, entry.AccountID
	c.srv.cfg.Metrics.Inc(metrics.Registrations)
	c.log.Debug("registered", "handle", entry.Handle, "account_id", entry.AccountID)
}

// mayActAs reports whether the session may name handle as the sender. Only
// JWT-bound sessions are restricted.
func (c *conn) mayActAs(handle string) bool {
	return c.bound.Handle == "" || presence.NormalizeHandle(handle) == c.bound.Handle
}

func (c *conn) sender() event.Sender {
	return event.Sender{Session: c.sess, Handle: c.handle, AccountID: c.accountID}
}

func (c *conn) malformed(t event.Type, err error) {
	c.srv.cfg.Metrics.Inc(metrics.MalformedEvents)
	c.log.Debug("dropping malformed event", "type", t, "err", err)
}

// failed logs a component error. Unavailable recipients and unknown groups
// are expected and were already reported to the client where applicable.
func (c *conn) failed(t event.Type, err error, attrs ...any) {
	if err == nil {
		return
	}
	attrs = append([]any{"type", t, "err", err}, attrs...)
	if errors.Is(err, presence.ErrRecipientUnavailable) || errors.Is(err, groups.ErrInvalidGroup) {
		c.log.Debug("event not delivered", attrs...)
		return
	}
	c.log.Warn("event failed", attrs...)
}
