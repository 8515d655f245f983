package relay

import (
	"encoding/json"
	"errors"

	"private-chat/backend/internal/models"
)

// Event types on the wire
const (
	// client -> relay
	EventJoin        = "join"
	EventMessage     = "message"
	EventTypingStart = "typingStart"
	EventTypingStop  = "typingStop"
	EventPing        = "ping"

	// relay -> client
	EventJoined            = "joined"
	EventOnlineList        = "onlineList"
	EventReceived          = "received"
	EventUserTyping        = "userTyping"
	EventUserStoppedTyping = "userStoppedTyping"
	EventLeft              = "left"
	EventPong              = "pong"
	EventError             = "error"
)

var (
	ErrMalformedEvent = errors.New("malformed event")
	ErrNotJoined      = errors.New("connection has not joined")
)

// Envelope is the frame exchanged over the socket
type Envelope struct {
	Type    string          `json:"type"`
	Content json.RawMessage `json:"content,omitempty"`
}

// JoinedContent announces a participant on a connection
type JoinedContent struct {
	models.Participant
	ConnectionID string `json:"connectionId"`
}

// LeftContent announces that a joined connection went away
type LeftContent struct {
	ParticipantID string `json:"participantId"`
	DisplayName   string `json:"displayName"`
	ConnectionID  string `json:"connectionId"`
}

// ErrorContent is sent only to the connection that caused it
type ErrorContent struct {
	Message string `json:"message"`
}

// messageFields are the fields the relay requires before rebroadcasting a
// message. Everything else in the payload is forwarded untouched.
type messageFields struct {
	ID            string `json:"id"`
	ParticipantID string `json:"participantId"`
}

// typingFields are the fields required on typing notifications
type typingFields struct {
	ParticipantID string `json:"participantId"`
}

func encode(eventType string, content any) ([]byte, error) {
	var raw json.RawMessage
	if content != nil {
		b, err := json.Marshal(content)
		if err != nil {
			return nil, err
		}
		raw = b
	}
	return json.Marshal(Envelope{Type: eventType, Content: raw})
}

func decodeJoin(raw json.RawMessage) (models.Participant, error) {
	var p models.Participant
	if err := json.Unmarshal(raw, &p); err != nil {
		return p, ErrMalformedEvent
	}
	if !p.Valid() {
		return p, ErrMalformedEvent
	}
	return p, nil
}

func checkMessage(raw json.RawMessage) error {
	var f messageFields
	if err := json.Unmarshal(raw, &f); err != nil || f.ID == "" || f.ParticipantID == "" {
		return ErrMalformedEvent
	}
	return nil
}

func checkTyping(raw json.RawMessage) error {
	var f typingFields
	if err := json.Unmarshal(raw, &f); err != nil || f.ParticipantID == "" {
		return ErrMalformedEvent
	}
	return nil
}
