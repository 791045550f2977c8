// Package messaging routes private and group chat messages between sessions
// and hands them to the message store.
package messaging

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/wilsonzlin/aero/proxy/chat-relay/internal/event"
	"github.com/wilsonzlin/aero/proxy/chat-relay/internal/groups"
	"github.com/wilsonzlin/aero/proxy/chat-relay/internal/identity"
	"github.com/wilsonzlin/aero/proxy/chat-relay/internal/metrics"
	"github.com/wilsonzlin/aero/proxy/chat-relay/internal/persist"
	"github.com/wilsonzlin/aero/proxy/chat-relay/internal/presence"
	"github.com/wilsonzlin/aero/proxy/chat-relay/internal/store"
)

// Submitter queues a persistence job. *persist.Queue implements it.
type Submitter interface {
	Submit(name string, fn func(ctx context.Context) error, attrs ...any) error
}

var _ Submitter = (*persist.Queue)(nil)

type Config struct {
	Presence *presence.Registry
	Groups   *groups.Manager
	Resolver *identity.Resolver
	Messages store.MessageStore
	Persist  Submitter
	Logger   *slog.Logger
	Metrics  *metrics.Metrics
	Now      func() time.Time
}

type Router struct {
	presence *presence.Registry
	groups   *groups.Manager
	resolver *identity.Resolver
	messages store.MessageStore
	persist  Submitter
	log      *slog.Logger
	metrics  *metrics.Metrics
	now      func() time.Time
}

func NewRouter(cfg Config) *Router {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Router{
		presence: cfg.Presence,
		groups:   cfg.Groups,
		resolver: cfg.Resolver,
		messages: cfg.Messages,
		persist:  cfg.Persist,
		log:      cfg.Logger,
		metrics:  cfg.Metrics,
		now:      cfg.Now,
	}
}

func unavailableForChat(handle string) string {
	return fmt.Sprintf("%s is not available for chat.", handle)
}

// RoutePrivate delivers body from fromHandle to the session registered as
// toHandle. When nobody is registered under toHandle the sender gets a
// userNotAvailable event, nothing is stored, and ErrRecipientUnavailable is
// returned.
func (r *Router) RoutePrivate(ctx context.Context, from event.Sink, fromHandle, toHandle, body string) error {
	to, ok := r.presence.Lookup(toHandle)
	if !ok {
		r.metrics.Inc(metrics.UserUnavailable)
		from.Emit(event.UserNotAvailable(unavailableForChat(toHandle)))
		return fmt.Errorf("%w: %s", presence.ErrRecipientUnavailable, toHandle)
	}

	_ = to.Session.Emit(event.PrivateMessage(fromHandle, body))
	r.metrics.Inc(metrics.PrivateMessages)

	createdAt := r.now()
	r.submit("save_private_message", func(ctx context.Context) error {
		sender, ok, err := r.resolver.Resolve(ctx, fromHandle)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("unknown sender %q", fromHandle)
		}
		recipient, ok, err := r.resolver.Resolve(ctx, toHandle)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("unknown recipient %q", toHandle)
		}
		return r.messages.SaveMessage(ctx, store.Message{
			SenderAccountID:    sender,
			RecipientAccountID: recipient,
			Body:               body,
			CreatedAt:          createdAt,
		})
	}, "from_handle", fromHandle, "to_handle", toHandle)
	return nil
}

// RouteGroup fans body out to every session subscribed to groupID, the
// sender included when subscribed. The sender does not need to be a member.
func (r *Router) RouteGroup(ctx context.Context, from event.Sender, groupID, body string) error {
	canonical, err := r.groups.Resolve(ctx, groupID)
	if err != nil {
		return err
	}

	r.groups.Fanout(canonical, event.GroupMessage(canonical, body, from.Handle))
	r.metrics.Inc(metrics.GroupMessages)

	createdAt := r.now()
	r.submit("save_group_message", func(ctx context.Context) error {
		sender := from.AccountID
		if sender == "" {
			id, ok, err := r.resolver.Resolve(ctx, from.Handle)
			if err != nil {
				return err
			}
			if !ok {
				return fmt.Errorf("unknown sender %q", from.Handle)
			}
			sender = id
		}
		return r.messages.SaveMessage(ctx, store.Message{
			SenderAccountID:  sender,
			RecipientGroupID: canonical,
			Body:             body,
			CreatedAt:        createdAt,
		})
	}, "from_handle", from.Handle, "group_id", canonical)
	return nil
}

// StartPrivateChat tells both parties that a private conversation is open.
func (r *Router) StartPrivateChat(from event.Sink, fromHandle, toHandle string) error {
	to, ok := r.presence.Lookup(toHandle)
	if !ok {
		r.metrics.Inc(metrics.UserUnavailable)
		from.Emit(event.UserNotAvailable(unavailableForChat(toHandle)))
		return fmt.Errorf("%w: %s", presence.ErrRecipientUnavailable, toHandle)
	}
	from.Emit(event.PrivateChatStarted(to.Handle))
	to.Session.Emit(event.PrivateChatStarted(presence.NormalizeHandle(fromHandle)))
	r.metrics.Inc(metrics.PrivateChatsStarted)
	return nil
}

func (r *Router) submit(name string, fn func(ctx context.Context) error, attrs ...any) {
	if r.persist == nil || r.messages == nil {
		return
	}
	if err := r.persist.Submit(name, fn, attrs...); err != nil {
		r.log.Debug("message not persisted", append([]any{"job", name, "err", err}, attrs...)...)
	}
}
