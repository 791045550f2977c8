// Package presence tracks which session currently answers for each handle.
package presence

import (
	"errors"
	"strings"
	"sync"

	"github.com/wilsonzlin/aero/proxy/chat-relay/internal/event"
)

// ErrRecipientUnavailable is returned when a target handle has no live
// session.
var ErrRecipientUnavailable = errors.New("recipient unavailable")

// NormalizeHandle trims surrounding whitespace and lowercases h.
func NormalizeHandle(h string) string {
	return strings.ToLower(strings.TrimSpace(h))
}

type Entry struct {
	Handle    string
	Session   event.Sink
	AccountID string
}

// Registry maps normalized handles to sessions. Every read and write goes
// through the same mutex so a lookup never returns a stale or half-written
// entry.
type Registry struct {
	mu       sync.Mutex
	byHandle map[string]Entry
}

func NewRegistry() *Registry {
	return &Registry{byHandle: make(map[string]Entry)}
}

// Register upserts the entry for handle. A previous session registered under
// the same handle is replaced without notice.
func (r *Registry) Register(handle string, sess event.Sink, accountID string) Entry {
	e := Entry{Handle: NormalizeHandle(handle), Session: sess, AccountID: accountID}
	r.mu.Lock()
	r.byHandle[e.Handle] = e
	r.mu.Unlock()
	return e
}

func (r *Registry) Lookup(handle string) (Entry, bool) {
	key := NormalizeHandle(handle)
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.byHandle[key]
	return e, ok
}

// Remove deletes every entry still pointing at sessionID and returns how many
// were removed. Entries that a newer session has taken over are left alone.
func (r *Registry) Remove(sessionID string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for handle, e := range r.byHandle {
		if e.Session != nil && e.Session.ID() == sessionID {
			delete(r.byHandle, handle)
			n++
		}
	}
	return n
}

func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.byHandle)
}

