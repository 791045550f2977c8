// Package eventtest provides an in-memory event.Sink for tests.
package eventtest

import (
	"sync"

	"github.com/wilsonzlin/aero/proxy/chat-relay/internal/event"
)

// Recorder is an event.Sink that keeps every emitted event.
type Recorder struct {
	id string

	mu     sync.Mutex
	events []event.Outbound
	closed bool
}

func NewRecorder(id string) *Recorder {
	return &Recorder{id: id}
}

func (r *Recorder) ID() string { return r.id }

func (r *Recorder) Emit(out event.Outbound) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return false
	}
	r.events = append(r.events, out)
	return true
}

// Close makes later Emit calls fail, like a session whose connection is gone.
func (r *Recorder) Close() {
	r.mu.Lock()
	r.closed = true
	r.mu.Unlock()
}

func (r *Recorder) Events() []event.Outbound {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]event.Outbound(nil), r.events...)
}

// OfType returns the recorded events with type t.
func (r *Recorder) OfType(t event.Type) []event.Outbound {
	var out []event.Outbound
	for _, e := range r.Events() {
		if e.Type == t {
			out = append(out, e)
		}
	}
	return out
}

func (r *Recorder) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.events)
}
