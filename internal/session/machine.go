package session

import (
	"encoding/json"
	"strings"

	"github.com/zulandar/huddle/internal/room"
)

// State is the lifecycle stage of a connection.
type State int

const (
	StateUnauthenticated State = iota
	StateAuthenticated
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateUnauthenticated:
		return "unauthenticated"
	case StateAuthenticated:
		return "authenticated"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Client event names.
const (
	EventJoinCandidate  = "joinCandidate"
	EventLeaveCandidate = "leaveCandidate"
	EventSendMessage    = "send_message"
	EventError          = "error"
)

// Error frame codes.
const (
	CodeUnauthenticated = "unauthenticated"
	CodeUnknownEvent    = "unknown_event"
	CodeInvalidPayload  = "invalid_payload"
	CodeEmptyBody       = "empty_body"
	CodeInvalid         = "invalid"
	CodePersistence     = "persistence"
)

// Input drives a transition.
type Input interface{ input() }

// Authenticated reports that the handshake credentials were accepted.
type Authenticated struct{ UserID string }

// AuthFailed reports that the handshake credentials were refused.
type AuthFailed struct{ Reason string }

// Inbound is one event frame read from the client.
type Inbound struct {
	Event string
	Data  json.RawMessage
}

// Closed reports that the transport is gone.
type Closed struct{}

func (Authenticated) input() {}
func (AuthFailed) input()    {}
func (Inbound) input()       {}
func (Closed) input()        {}

// Effect is work the runner performs after a transition.
type Effect interface{ effect() }

// Join adds the session to a room.
type Join struct{ Room room.ID }

// Leave removes the session from a room.
type Leave struct{ Room room.ID }

// PostMessage hands a message to the ingest pipeline with the session's
// user as sender.
type PostMessage struct {
	CandidateID string
	Content     string
	ClientKey   string
}

// Reply sends an error frame to the client. The session stays open.
type Reply struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Drop removes the session from every room.
type Drop struct{}

// Close shuts the transport.
type Close struct{ Reason string }

func (Join) effect()        {}
func (Leave) effect()       {}
func (PostMessage) effect() {}
func (Reply) effect()       {}
func (Drop) effect()        {}
func (Close) effect()       {}

type sendMessagePayload struct {
	CandidateID string `json:"candidateId"`
	Content     string `json:"content"`
	ClientKey   string `json:"clientKey"`
}

// Transition computes the next state and the effects to run. It has no
// side effects.
func Transition(s State, in Input) (State, []Effect) {
	if s == StateClosed {
		return StateClosed, nil
	}
	switch in := in.(type) {
	case Closed:
		return StateClosed, []Effect{Drop{}, Close{Reason: "connection closed"}}
	case AuthFailed:
		if s == StateUnauthenticated {
			return StateClosed, []Effect{Close{Reason: in.Reason}}
		}
		return s, nil
	case Authenticated:
		if s == StateUnauthenticated && in.UserID != "" {
			return StateAuthenticated, []Effect{Join{Room: room.User(in.UserID)}}
		}
		return s, nil
	case Inbound:
		if s != StateAuthenticated {
			return s, []Effect{Reply{Code: CodeUnauthenticated, Message: "not authenticated"}}
		}
		return s, inbound(in)
	}
	return s, nil
}

func inbound(in Inbound) []Effect {
	switch in.Event {
	case EventJoinCandidate, EventLeaveCandidate:
		id, ok := candidateID(in.Data)
		if !ok {
			return []Effect{Reply{Code: CodeInvalidPayload, Message: in.Event + " needs a candidate id"}}
		}
		if in.Event == EventJoinCandidate {
			return []Effect{Join{Room: room.Thread(id)}}
		}
		return []Effect{Leave{Room: room.Thread(id)}}

	case EventSendMessage:
		var p sendMessagePayload
		if err := json.Unmarshal(in.Data, &p); err != nil {
			return []Effect{Reply{Code: CodeInvalidPayload, Message: "send_message payload must be an object"}}
		}
		if strings.TrimSpace(p.CandidateID) == "" {
			return []Effect{Reply{Code: CodeInvalidPayload, Message: "candidateId is required"}}
		}
		if strings.TrimSpace(p.Content) == "" {
			return []Effect{Reply{Code: CodeEmptyBody, Message: "message content is empty"}}
		}
		return []Effect{PostMessage{CandidateID: p.CandidateID, Content: p.Content, ClientKey: p.ClientKey}}
	}
	return []Effect{Reply{Code: CodeUnknownEvent, Message: "unknown event " + in.Event}}
}

// candidateID accepts either a bare JSON string or {"candidateId": "..."}.
func candidateID(data json.RawMessage) (string, bool) {
	var id string
	if err := json.Unmarshal(data, &id); err != nil {
		var obj struct {
			CandidateID string `json:"candidateId"`
		}
		if err := json.Unmarshal(data, &obj); err != nil {
			return "", false
		}
		id = obj.CandidateID
	}
	id = strings.TrimSpace(id)
	return id, id != ""
}
