package presence

import (
	"fmt"
	"sync"
	"testing"

	"github.com/wilsonzlin/aero/proxy/chat-relay/internal/event/eventtest"
)

func TestRegistry_ReadYourWrite(t *testing.T) {
	r := NewRegistry()
	for _, h := range []string{"alice", "Bob", "  carol  ", "DAVE"} {
		s := eventtest.NewRecorder("s-" + h)
		r.Register(h, s, "acct-"+h)

		e, ok := r.Lookup(h)
		if !ok {
			t.Fatalf("Lookup(%q) missing", h)
		}
		if e.Session != s {
			t.Fatalf("Lookup(%q) session=%s, want %s", h, e.Session.ID(), s.ID())
		}
		if e.Handle != NormalizeHandle(h) {
			t.Fatalf("Handle=%q, want %q", e.Handle, NormalizeHandle(h))
		}
	}
}

func TestRegistry_LookupNormalizes(t *testing.T) {
	r := NewRegistry()
	s := eventtest.NewRecorder("s1")
	r.Register(" Alice ", s, "a1")

	e, ok := r.Lookup("ALICE")
	if !ok || e.Session != s || e.AccountID != "a1" {
		t.Fatalf("Lookup=%+v ok=%v", e, ok)
	}
}

func TestRegistry_LastRegistrationWins(t *testing.T) {
	r := NewRegistry()
	sessions := []*eventtest.Recorder{
		eventtest.NewRecorder("s1"),
		eventtest.NewRecorder("s2"),
		eventtest.NewRecorder("s3"),
	}
	for _, s := range sessions {
		r.Register("alice", s, "a1")
		e, _ := r.Lookup("alice")
		if e.Session != s {
			t.Fatalf("Lookup session=%s, want %s", e.Session.ID(), s.ID())
		}
	}
	if got := r.Len(); got != 1 {
		t.Fatalf("Len=%d, want 1", got)
	}
}

func TestRegistry_RemoveKeepsNewerSession(t *testing.T) {
	r := NewRegistry()
	old := eventtest.NewRecorder("old")
	cur := eventtest.NewRecorder("new")
	r.Register("alice", old, "a1")
	r.Register("alice", cur, "a1")

	if n := r.Remove(old.ID()); n != 0 {
		t.Fatalf("Remove(old)=%d, want 0", n)
	}
	if e, ok := r.Lookup("alice"); !ok || e.Session != cur {
		t.Fatalf("reconnected session lost: %+v ok=%v", e, ok)
	}

	if n := r.Remove(cur.ID()); n != 1 {
		t.Fatalf("Remove(new)=%d, want 1", n)
	}
	if _, ok := r.Lookup("alice"); ok {
		t.Fatalf("entry still present after Remove")
	}
	if n := r.Remove("missing"); n != 0 {
		t.Fatalf("Remove(missing)=%d, want 0", n)
	}
}

func TestRegistry_ConcurrentRegisterLookup(t *testing.T) {
	r := NewRegistry()
	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			h := fmt.Sprintf("user%d", i%4)
			s := eventtest.NewRecorder(fmt.Sprintf("s%d", i))
			r.Register(h, s, "")
			_, _ = r.Lookup(h)
			r.Remove(s.ID())
		}(i)
	}
	wg.Wait()
	if got := r.Len(); got != 0 {
		t.Fatalf("Len=%d after every session removed itself, want 0", got)
	}
}
