// Package event defines the session event vocabulary exchanged over the
// WebSocket transport and the Sink through which components emit events.
//
// Each frame is one JSON envelope: {"type": "...", "payload": {...}}.
// Signaling payloads (offer, answer, candidate) are opaque JSON values that
// are relayed byte for byte.
package event

import "encoding/json"

type Type string

const (
	// Inbound.
	TypeAuth               Type = "auth"
	TypeRegister           Type = "register"
	TypeJoinGroup          Type = "joinGroup"
	TypeSendPrivateMessage Type = "sendPrivateMessage"
	TypeSendGroupMessage   Type = "sendGroupMessage"
	TypeStartPrivateChat   Type = "startPrivateChat"
	TypeCallUser           Type = "callUser"
	TypeMakeAnswer         Type = "makeAnswer"
	TypeRejectCall         Type = "rejectCall"
	TypeICECandidate       Type = "iceCandidate"
	TypeEndCall            Type = "endCall"

	// Outbound. joinGroup and iceCandidate are reused in both directions.
	TypeReady                 Type = "ready"
	TypeError                 Type = "error"
	TypeReceivePrivateMessage Type = "receivePrivateMessage"
	TypeReceiveGroupMessage   Type = "receiveGroupMessage"
	TypePrivateChatStarted    Type = "privateChatStarted"
	TypeCallMade              Type = "callMade"
	TypeAnswerMade            Type = "answerMade"
	TypeCallEnded             Type = "callEnded"
	TypeUserNotAvailable      Type = "userNotAvailable"
)

// Sink is the outbound side of one live session.
type Sink interface {
	ID() string
	// Emit queues out for delivery without blocking. It returns false when the
	// session is gone or its outbound queue is full; the event is dropped.
	Emit(out Outbound) bool
}

// Sender identifies the session an inbound event came from, together with
// the identity it registered.
type Sender struct {
	Session   Sink
	Handle    string
	AccountID string
}

type Outbound struct {
	Type    Type `json:"type"`
	Payload any  `json:"payload"`
}

func (o Outbound) Marshal() ([]byte, error) {
	return json.Marshal(o)
}

type ReadyPayload struct {
	SessionID string `json:"sessionId"`
}

type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type JoinGroupPayload struct {
	GroupID string `json:"groupId"`
}

type PrivateMessagePayload struct {
	FromHandle string `json:"fromHandle"`
	Body       string `json:"body"`
}

type GroupMessagePayload struct {
	GroupID    string `json:"groupId"`
	Body       string `json:"body"`
	FromHandle string `json:"fromHandle"`
}

type PrivateChatStartedPayload struct {
	WithHandle string `json:"withHandle"`
}

type CallMadePayload struct {
	Offer        json.RawMessage `json:"offer"`
	CallerHandle string          `json:"callerHandle"`
	CallID       string          `json:"callId"`
}

type AnswerMadePayload struct {
	Answer       json.RawMessage `json:"answer"`
	CalleeHandle string          `json:"calleeHandle"`
}

type ICECandidatePayload struct {
	Candidate json.RawMessage `json:"candidate"`
}

type CallEndedPayload struct{}

type UserNotAvailablePayload struct {
	Message string `json:"message"`
}

func Ready(sessionID string) Outbound {
	return Outbound{Type: TypeReady, Payload: ReadyPayload{SessionID: sessionID}}
}

func Error(code, message string) Outbound {
	return Outbound{Type: TypeError, Payload: ErrorPayload{Code: code, Message: message}}
}

func JoinGroupAck(groupID string) Outbound {
	return Outbound{Type: TypeJoinGroup, Payload: JoinGroupPayload{GroupID: groupID}}
}

func PrivateMessage(fromHandle, body string) Outbound {
	return Outbound{Type: TypeReceivePrivateMessage, Payload: PrivateMessagePayload{FromHandle: fromHandle, Body: body}}
}

func GroupMessage(groupID, body, fromHandle string) Outbound {
	return Outbound{Type: TypeReceiveGroupMessage, Payload: GroupMessagePayload{GroupID: groupID, Body: body, FromHandle: fromHandle}}
}

func PrivateChatStarted(withHandle string) Outbound {
	return Outbound{Type: TypePrivateChatStarted, Payload: PrivateChatStartedPayload{WithHandle: withHandle}}
}

func CallMade(offer json.RawMessage, callerHandle, callID string) Outbound {
	return Outbound{Type: TypeCallMade, Payload: CallMadePayload{Offer: offer, CallerHandle: callerHandle, CallID: callID}}
}

func AnswerMade(answer json.RawMessage, calleeHandle string) Outbound {
	return Outbound{Type: TypeAnswerMade, Payload: AnswerMadePayload{Answer: answer, CalleeHandle: calleeHandle}}
}

func ICECandidate(candidate json.RawMessage) Outbound {
	return Outbound{Type: TypeICECandidate, Payload: ICECandidatePayload{Candidate: candidate}}
}

func CallEnded() Outbound {
	return Outbound{Type: TypeCallEnded, Payload: CallEndedPayload{}}
}

func UserNotAvailable(message string) Outbound {
	return Outbound{Type: TypeUserNotAvailable, Payload: UserNotAvailablePayload{Message: message}}
}
