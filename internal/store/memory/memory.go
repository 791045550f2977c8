// Package memory is an in-process store used in dev mode and tests.
package memory

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/wilsonzlin/aero/proxy/chat-relay/internal/store"
)

type callEntry struct {
	rec store.CallRecord
	seq uint64
}

type Store struct {
	mu sync.Mutex

	accountsByHandle map[string]store.Account
	accountsByID     map[string]store.Account
	groups           map[string]string
	messages         []store.Message
	calls            map[string]*callEntry
	seq              uint64
}

var _ store.Store = (*Store)(nil)

func New() *Store {
	return &Store{
		accountsByHandle: make(map[string]store.Account),
		accountsByID:     make(map[string]store.Account),
		groups:           make(map[string]string),
		calls:            make(map[string]*callEntry),
	}
}

func normalize(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// AddAccount seeds an account. Account management belongs to the account
// service; this exists for dev mode and tests.
func (s *Store) AddAccount(id, handle string) {
	acct := store.Account{ID: id, Handle: normalize(handle)}
	s.mu.Lock()
	s.accountsByHandle[acct.Handle] = acct
	s.accountsByID[id] = acct
	s.mu.Unlock()
}

// AddGroup seeds a group with canonical identifier id.
func (s *Store) AddGroup(id string) {
	id = strings.TrimSpace(id)
	s.mu.Lock()
	s.groups[normalize(id)] = id
	s.mu.Unlock()
}

func (s *Store) FindAccountByHandle(_ context.Context, handle string) (store.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	acct, ok := s.accountsByHandle[normalize(handle)]
	if !ok {
		return store.Account{}, store.ErrNotFound
	}
	return acct, nil
}

func (s *Store) ResolveGroup(_ context.Context, groupID string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	canonical, ok := s.groups[normalize(groupID)]
	if !ok {
		return "", store.ErrNotFound
	}
	return canonical, nil
}

func (s *Store) SaveMessage(_ context.Context, m store.Message) error {
	if err := m.Validate(); err != nil {
		return err
	}
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	s.mu.Lock()
	s.messages = append(s.messages, m)
	s.mu.Unlock()
	return nil
}

// Messages returns a copy of every saved message in insertion order.
func (s *Store) Messages() []store.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]store.Message(nil), s.messages...)
}

func (s *Store) CreateCall(_ context.Context, rec store.CallRecord) (string, error) {
	if rec.CallerAccountID == "" || rec.CalleeAccountID == "" {
		return "", fmt.Errorf("create call: missing participant")
	}
	if rec.Status == "" {
		rec.Status = store.CallInitiated
	}
	rec.ID = uuid.NewString()

	s.mu.Lock()
	s.seq++
	s.calls[rec.ID] = &callEntry{rec: rec, seq: s.seq}
	s.mu.Unlock()
	return rec.ID, nil
}

func (s *Store) TransitionCall(_ context.Context, id string, from []store.CallStatus, to store.CallStatus, endTime *time.Time) (bool, error) {
	allowed := store.Allowed(from, to)

	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.calls[id]
	if !ok {
		return false, nil
	}
	for _, st := range allowed {
		if e.rec.Status == st {
			e.rec.Status = to
			if endTime != nil {
				t := *endTime
				e.rec.EndTime = &t
			}
			return true, nil
		}
	}
	return false, nil
}

func (s *Store) FinishLatestCall(_ context.Context, a, b string, at time.Time) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var latest *callEntry
	for _, e := range s.calls {
		if e.rec.Status != store.CallInitiated && e.rec.Status != store.CallAnswered {
			continue
		}
		between := (e.rec.CallerAccountID == a && e.rec.CalleeAccountID == b) ||
			(e.rec.CallerAccountID == b && e.rec.CalleeAccountID == a)
		if !between || e.rec.StartTime.After(at) {
			continue
		}
		if latest == nil ||
			e.rec.StartTime.After(latest.rec.StartTime) ||
			(e.rec.StartTime.Equal(latest.rec.StartTime) && e.seq > latest.seq) {
			latest = e
		}
	}
	if latest == nil {
		return "", false, nil
	}
	latest.rec.Status = store.CallFinished
	t := at
	latest.rec.EndTime = &t
	return latest.rec.ID, true, nil
}

func (s *Store) GetCall(_ context.Context, id string) (store.CallRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.calls[id]
	if !ok {
		return store.CallRecord{}, store.ErrNotFound
	}
	rec := e.rec
	if rec.EndTime != nil {
		t := *rec.EndTime
		rec.EndTime = &t
	}
	return rec, nil
}

func (s *Store) ListCallHistory(_ context.Context, accountID string) ([]store.CallHistoryEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries := make([]*callEntry, 0)
	for _, e := range s.calls {
		if e.rec.CallerAccountID == accountID || e.rec.CalleeAccountID == accountID {
			entries = append(entries, e)
		}
	}
	sort.Slice(entries, func(i, j int) bool {
		if !entries[i].rec.StartTime.Equal(entries[j].rec.StartTime) {
			return entries[i].rec.StartTime.After(entries[j].rec.StartTime)
		}
		return entries[i].seq > entries[j].seq
	})

	out := make([]store.CallHistoryEntry, 0, len(entries))
	for _, e := range entries {
		h := store.CallHistoryEntry{
			ID:        e.rec.ID,
			Caller:    store.Party{ID: e.rec.CallerAccountID, Username: s.accountsByID[e.rec.CallerAccountID].Handle},
			Callee:    store.Party{ID: e.rec.CalleeAccountID, Username: s.accountsByID[e.rec.CalleeAccountID].Handle},
			Status:    e.rec.Status,
			StartTime: e.rec.StartTime,
		}
		if e.rec.EndTime != nil {
			t := *e.rec.EndTime
			h.EndTime = &t
		}
		out = append(out, h)
	}
	return out, nil
}

func (s *Store) Close() error { return nil }
