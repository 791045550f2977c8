package event

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
)

// ErrMalformed marks an inbound frame that must be dropped: bad JSON, an
// unknown type, an unexpected field, or a missing required field.
var ErrMalformed = errors.New("malformed event")

// Payload is the union of every inbound payload field. Which fields are
// required or permitted depends on the event type.
type Payload struct {
	Token  string `json:"token,omitempty"`
	APIKey string `json:"apiKey,omitempty"`

	AccountID  string `json:"accountId,omitempty"`
	Handle     string `json:"handle,omitempty"`
	GroupID    string `json:"groupId,omitempty"`
	FromHandle string `json:"fromHandle,omitempty"`
	ToHandle   string `json:"toHandle,omitempty"`
	Body       string `json:"body,omitempty"`
	CallID     string `json:"callId,omitempty"`

	Offer     json.RawMessage `json:"offer,omitempty"`
	Answer    json.RawMessage `json:"answer,omitempty"`
	Candidate json.RawMessage `json:"candidate,omitempty"`
}

type Inbound struct {
	Type    Type    `json:"type"`
	Payload Payload `json:"payload"`
}

type field uint16

const (
	fToken field = 1 << iota
	fAPIKey
	fAccountID
	fHandle
	fGroupID
	fFromHandle
	fToHandle
	fBody
	fCallID
	fOffer
	fAnswer
	fCandidate
)

var fieldNames = []struct {
	f    field
	name string
}{
	{fToken, "token"},
	{fAPIKey, "apiKey"},
	{fAccountID, "accountId"},
	{fHandle, "handle"},
	{fGroupID, "groupId"},
	{fFromHandle, "fromHandle"},
	{fToHandle, "toHandle"},
	{fBody, "body"},
	{fCallID, "callId"},
	{fOffer, "offer"},
	{fAnswer, "answer"},
	{fCandidate, "candidate"},
}

type rule struct {
	required field
	optional field
}

var rules = map[Type]rule{
	TypeAuth:               {optional: fToken | fAPIKey},
	TypeRegister:           {required: fHandle, optional: fAccountID},
	TypeJoinGroup:          {required: fGroupID},
	TypeSendPrivateMessage: {required: fFromHandle | fToHandle | fBody},
	TypeSendGroupMessage:   {required: fGroupID | fBody},
	TypeStartPrivateChat:   {required: fFromHandle | fToHandle},
	TypeCallUser:           {required: fToHandle | fOffer},
	TypeMakeAnswer:         {required: fToHandle | fAnswer, optional: fCallID},
	TypeRejectCall:         {required: fToHandle, optional: fCallID},
	TypeICECandidate:       {required: fToHandle | fCandidate},
	TypeEndCall:            {required: fToHandle},
}

func hasJSON(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	return len(trimmed) > 0 && !bytes.Equal(trimmed, []byte("null"))
}

func (p Payload) present() field {
	var f field
	set := func(ok bool, bit field) {
		if ok {
			f |= bit
		}
	}
	set(p.Token != "", fToken)
	set(p.APIKey != "", fAPIKey)
	set(p.AccountID != "", fAccountID)
	set(strings.TrimSpace(p.Handle) != "", fHandle)
	set(strings.TrimSpace(p.GroupID) != "", fGroupID)
	set(strings.TrimSpace(p.FromHandle) != "", fFromHandle)
	set(strings.TrimSpace(p.ToHandle) != "", fToHandle)
	set(p.Body != "", fBody)
	set(p.CallID != "", fCallID)
	set(hasJSON(p.Offer), fOffer)
	set(hasJSON(p.Answer), fAnswer)
	set(hasJSON(p.Candidate), fCandidate)
	return f
}

// Parse decodes one inbound frame. Any error wraps ErrMalformed.
func Parse(data []byte) (Inbound, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()

	var in Inbound
	if err := dec.Decode(&in); err != nil {
		return Inbound{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		return Inbound{}, fmt.Errorf("%w: unexpected trailing data", ErrMalformed)
	}
	if err := in.validate(); err != nil {
		return Inbound{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return in, nil
}

func (in Inbound) validate() error {
	r, ok := rules[in.Type]
	if !ok {
		return fmt.Errorf("unknown event type %q", in.Type)
	}
	got := in.Payload.present()
	for _, fn := range fieldNames {
		switch {
		case r.required&fn.f != 0 && got&fn.f == 0:
			return fmt.Errorf("%s event missing %s", in.Type, fn.name)
		case (r.required|r.optional)&fn.f == 0 && got&fn.f != 0:
			return fmt.Errorf("%s event has unexpected field %s", in.Type, fn.name)
		}
	}

	if in.Type == TypeAuth {
		p := in.Payload
		if p.APIKey == "" && p.Token == "" {
			return fmt.Errorf("auth event missing apiKey/token")
		}
		if p.APIKey != "" && p.Token != "" && p.APIKey != p.Token {
			return fmt.Errorf("auth event must not include both apiKey and token unless they match")
		}
	}
	return nil
}

// Credential returns the credential carried by an auth event.
func (in Inbound) Credential() string {
	if in.Payload.Token != "" {
		return in.Payload.Token
	}
	return in.Payload.APIKey
}
