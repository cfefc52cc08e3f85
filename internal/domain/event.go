package domain

import (
	"encoding/json"
	"time"
)

// SessionEvent is one persisted, immutable record in a session's event log.
type SessionEvent struct {
	SessionID string          `json:"session_id"`
	Sequence  int64           `json:"sequence"`
	Channel   string          `json:"channel"`
	Type      string          `json:"type"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
}

// EventInput is an event emitted by a process before it has been sequenced.
type EventInput struct {
	Channel string
	Type    string
	Payload json.RawMessage
}

// NewEventInput marshals payload into an EventInput. Strings and byte
// slices are encoded as JSON strings.
func NewEventInput(channel, eventType string, payload interface{}) (EventInput, error) {
	ev := EventInput{Channel: channel, Type: eventType}
	if payload == nil {
		return ev, nil
	}
	switch p := payload.(type) {
	case json.RawMessage:
		ev.Payload = p
		return ev, nil
	case []byte:
		payload = string(p)
	}
	b, err := json.Marshal(payload)
	if err != nil {
		return ev, err
	}
	ev.Payload = b
	return ev, nil
}

// InputPayload is recorded on system:input for every accepted SendInput.
type InputPayload struct {
	Data string `json:"data"`
}

// StatusPayload is recorded on system:status transitions.
type StatusPayload struct {
	Status   SessionStatus `json:"status"`
	Reason   string        `json:"reason,omitempty"`
	ExitCode *int          `json:"exit_code,omitempty"`
}
