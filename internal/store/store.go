// Package store defines the persistence collaborators the relay consumes:
// account lookup, group validation, message persistence and call records.
package store

import (
	"context"
	"errors"
	"time"
)

var (
	ErrNotFound       = errors.New("not found")
	ErrInvalidMessage = errors.New("invalid message")
)

type Account struct {
	ID     string
	Handle string
}

// Message is the durable form of a routed chat message. Exactly one of
// RecipientAccountID and RecipientGroupID is set.
type Message struct {
	ID                 string
	SenderAccountID    string
	RecipientAccountID string
	RecipientGroupID   string
	Body               string
	CreatedAt          time.Time
}

func (m Message) Validate() error {
	if m.SenderAccountID == "" {
		return errors.Join(ErrInvalidMessage, errors.New("missing sender"))
	}
	hasAccount := m.RecipientAccountID != ""
	hasGroup := m.RecipientGroupID != ""
	if hasAccount == hasGroup {
		return errors.Join(ErrInvalidMessage, errors.New("exactly one of recipient account or recipient group must be set"))
	}
	return nil
}

type CallStatus string

const (
	CallInitiated CallStatus = "initiated"
	CallAnswered  CallStatus = "answered"
	CallRejected  CallStatus = "rejected"
	CallFinished  CallStatus = "finished"
)

func (s CallStatus) Terminal() bool {
	return s == CallRejected || s == CallFinished
}

// CanTransition reports whether s -> to is an edge of the call lifecycle:
// initiated -> answered -> finished, initiated -> rejected, initiated -> finished.
func (s CallStatus) CanTransition(to CallStatus) bool {
	switch s {
	case CallInitiated:
		return to == CallAnswered || to == CallRejected || to == CallFinished
	case CallAnswered:
		return to == CallFinished
	default:
		return false
	}
}

type CallRecord struct {
	ID              string
	CallerAccountID string
	CalleeAccountID string
	Status          CallStatus
	StartTime       time.Time
	EndTime         *time.Time
}

type Party struct {
	ID       string `json:"id"`
	Username string `json:"username"`
}

// CallHistoryEntry is a CallRecord with both parties' usernames populated.
type CallHistoryEntry struct {
	ID        string     `json:"id"`
	Caller    Party      `json:"caller"`
	Callee    Party      `json:"callee"`
	Status    CallStatus `json:"status"`
	StartTime time.Time  `json:"startTime"`
	EndTime   *time.Time `json:"endTime,omitempty"`
}

type AccountStore interface {
	// FindAccountByHandle looks up an account by normalized handle. Unknown
	// handles return ErrNotFound.
	FindAccountByHandle(ctx context.Context, handle string) (Account, error)
}

type GroupStore interface {
	// ResolveGroup returns the canonical identifier for groupID, or ErrNotFound.
	ResolveGroup(ctx context.Context, groupID string) (string, error)
}

type MessageStore interface {
	SaveMessage(ctx context.Context, m Message) error
}

type CallStore interface {
	// CreateCall stores rec and returns the assigned call id.
	CreateCall(ctx context.Context, rec CallRecord) (string, error)
	// TransitionCall moves call id from one of the expected statuses to `to`.
	// It returns false, with no error, when the call is unknown or is not in
	// an expected status.
	TransitionCall(ctx context.Context, id string, from []CallStatus, to CallStatus, endTime *time.Time) (bool, error)
	// FinishLatestCall finishes the most recent initiated or answered call
	// between accounts a and b (in either direction) that started at or
	// before at. Calls started after at are left alone. ok is false when
	// there is no such call.
	FinishLatestCall(ctx context.Context, a, b string, at time.Time) (id string, ok bool, err error)
	GetCall(ctx context.Context, id string) (CallRecord, error)
	ListCallHistory(ctx context.Context, accountID string) ([]CallHistoryEntry, error)
}

// Store bundles every collaborator behind one handle.
type Store interface {
	AccountStore
	GroupStore
	MessageStore
	CallStore
	Close() error
}

func containsStatus(list []CallStatus, s CallStatus) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

// Allowed filters from down to the statuses that may legally move to `to`.
func Allowed(from []CallStatus, to CallStatus) []CallStatus {
	out := make([]CallStatus, 0, len(from))
	for _, s := range from {
		if s.CanTransition(to) && !containsStatus(out, s) {
			out = append(out, s)
		}
	}
	return out
}
