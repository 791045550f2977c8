package store

import (
	"errors"
	"testing"
	"time"
)

func TestMessageValidate(t *testing.T) {
	now := time.Now()
	cases := []struct {
		name string
		msg  Message
		ok   bool
	}{
		{"private", Message{SenderAccountID: "a", RecipientAccountID: "b", Body: "hi", CreatedAt: now}, true},
		{"group", Message{SenderAccountID: "a", RecipientGroupID: "g", Body: "hi", CreatedAt: now}, true},
		{"both", Message{SenderAccountID: "a", RecipientAccountID: "b", RecipientGroupID: "g"}, false},
		{"neither", Message{SenderAccountID: "a"}, false},
		{"no sender", Message{RecipientAccountID: "b"}, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.msg.Validate()
			if tc.ok && err != nil {
				t.Fatalf("Validate: %v", err)
			}
			if !tc.ok && !errors.Is(err, ErrInvalidMessage) {
				t.Fatalf("Validate err=%v, want ErrInvalidMessage", err)
			}
		})
	}
}

func TestCallStatusTransitions(t *testing.T) {
	all := []CallStatus{CallInitiated, CallAnswered, CallRejected, CallFinished}
	legal := map[[2]CallStatus]bool{
		{CallInitiated, CallAnswered}: true,
		{CallInitiated, CallRejected}: true,
		{CallInitiated, CallFinished}: true,
		{CallAnswered, CallFinished}:  true,
	}
	for _, from := range all {
		for _, to := range all {
			want := legal[[2]CallStatus{from, to}]
			if got := from.CanTransition(to); got != want {
				t.Fatalf("%s -> %s = %v, want %v", from, to, got, want)
			}
		}
	}
	if !CallRejected.Terminal() || !CallFinished.Terminal() || CallAnswered.Terminal() {
		t.Fatalf("unexpected Terminal() results")
	}
}

func TestAllowed(t *testing.T) {
	got := Allowed([]CallStatus{CallInitiated, CallAnswered, CallRejected, CallInitiated}, CallFinished)
	if len(got) != 2 || got[0] != CallInitiated || got[1] != CallAnswered {
		t.Fatalf("Allowed=%v", got)
	}
	if got := Allowed([]CallStatus{CallAnswered}, CallRejected); len(got) != 0 {
		t.Fatalf("Allowed=%v, want empty", got)
	}
}
