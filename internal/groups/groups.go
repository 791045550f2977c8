// Package groups tracks which sessions are subscribed to which group
// channels for the lifetime of the process.
package groups

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/wilsonzlin/aero/proxy/chat-relay/internal/event"
	"github.com/wilsonzlin/aero/proxy/chat-relay/internal/store"
)

var ErrInvalidGroup = errors.New("invalid group")

type Manager struct {
	groups store.GroupStore

	mu       sync.Mutex
	channels map[string]map[string]event.Sink // group id -> session id -> sink
	joined   map[string]map[string]struct{}   // session id -> group ids
}

func NewManager(groups store.GroupStore) *Manager {
	return &Manager{
		groups:   groups,
		channels: make(map[string]map[string]event.Sink),
		joined:   make(map[string]map[string]struct{}),
	}
}

// Resolve validates groupID against the group store and returns its
// canonical identifier.
func (m *Manager) Resolve(ctx context.Context, groupID string) (string, error) {
	canonical, err := m.groups.ResolveGroup(ctx, groupID)
	if errors.Is(err, store.ErrNotFound) {
		return "", fmt.Errorf("%w %q: %w", ErrInvalidGroup, groupID, err)
	}
	if err != nil {
		return "", fmt.Errorf("resolve group %q: %w", groupID, err)
	}
	return canonical, nil
}

// Join subscribes sess to the group and returns the canonical group id.
// Joining a group twice is a no-op.
func (m *Manager) Join(ctx context.Context, sess event.Sink, groupID string) (string, error) {
	canonical, err := m.Resolve(ctx, groupID)
	if err != nil {
		return "", err
	}

	id := sess.ID()
	m.mu.Lock()
	subs, ok := m.channels[canonical]
	if !ok {
		subs = make(map[string]event.Sink)
		m.channels[canonical] = subs
	}
	subs[id] = sess
	mine, ok := m.joined[id]
	if !ok {
		mine = make(map[string]struct{})
		m.joined[id] = mine
	}
	mine[canonical] = struct{}{}
	m.mu.Unlock()
	return canonical, nil
}

// Fanout emits out to every session subscribed to groupID and returns how
// many accepted it. Sessions that are gone are skipped.
func (m *Manager) Fanout(groupID string, out event.Outbound) int {
	m.mu.Lock()
	subs := make([]event.Sink, 0, len(m.channels[groupID]))
	for _, s := range m.channels[groupID] {
		subs = append(subs, s)
	}
	m.mu.Unlock()

	delivered := 0
	for _, s := range subs {
		if s.Emit(out) {
			delivered++
		}
	}
	return delivered
}

// LeaveAll drops sessionID from every channel it joined.
func (m *Manager) LeaveAll(sessionID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for groupID := range m.joined[sessionID] {
		subs := m.channels[groupID]
		delete(subs, sessionID)
		if len(subs) == 0 {
			delete(m.channels, groupID)
		}
	}
	delete(m.joined, sessionID)
}

func (m *Manager) IsMember(sessionID, groupID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.channels[groupID][sessionID]
	return ok
}

// Subscribers returns the session ids subscribed to groupID, sorted.
func (m *Manager) Subscribers(groupID string) []string {
	m.mu.Lock()
	out := make([]string, 0, len(m.channels[groupID]))
	for id := range m.channels[groupID] {
		out = append(out, id)
	}
	m.mu.Unlock()
	sort.Strings(out)
	return out
}
