// Package protocol defines the WebSocket message protocol between attached
// clients and the dispatch server.
package protocol

import (
	"encoding/json"
	"errors"

	"github.com/xiaot623/gogo/dispatch/internal/domain"
)

// Message types from client to server
const (
	TypeInput     = "input"
	TypeOperation = "operation"
)

// Message types from server to client
const (
	TypeAttached        = "attached"
	TypeEvent           = "event"
	TypeReplay          = "replay"
	TypeStatus          = "status"
	TypeClosed          = "closed"
	TypeOperationResult = "operation_result"
	TypeError           = "error"
)

// BaseMessage contains common fields for all messages.
type BaseMessage struct {
	Type      string `json:"type"`
	Ts        int64  `json:"ts"`
	RequestID string `json:"request_id,omitempty"`
	SessionID string `json:"session_id,omitempty"`
}

// InputMessage is sent by a client to write to the session's process.
type InputMessage struct {
	BaseMessage
	Data string `json:"data"`
}

// OperationMessage is sent by a client to run an adapter operation.
type OperationMessage struct {
	BaseMessage
	Name   string            `json:"name"`
	Params []json.RawMessage `json:"params,omitempty"`
}

// AttachedMessage is the first message on a new attach stream.
type AttachedMessage struct {
	BaseMessage
	Status domain.SessionStatus `json:"status"`
	Live   bool                 `json:"live"`
	// History is the number of event messages that follow before live ones.
	History int `json:"history"`
}

// EventMessage carries one persisted event, historical or live.
type EventMessage struct {
	BaseMessage
	Event domain.SessionEvent `json:"event"`
}

// StatusMessage announces a status transition.
type StatusMessage struct {
	BaseMessage
	Status domain.SessionStatus `json:"status"`
}

// OperationResultMessage answers an OperationMessage.
type OperationResultMessage struct {
	BaseMessage
	Result interface{} `json:"result"`
}

// ErrorMessage is sent when a client request fails.
type ErrorMessage struct {
	BaseMessage
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Error codes
const (
	ErrorCodeInvalidMessage = "invalid_message"
	ErrorCodeNotFound       = "not_found"
	ErrorCodeNotActive      = "not_active"
	ErrorCodeInitializing   = "initializing"
	ErrorCodeUnsupported    = "unsupported"
	ErrorCodeDenied         = "denied"
	ErrorCodeInternalError  = "internal_error"
)

// ErrorCode maps a service error to its wire code.
func ErrorCode(err error) string {
	switch {
	case errors.Is(err, domain.ErrSessionNotFound):
		return ErrorCodeNotFound
	case errors.Is(err, domain.ErrSessionNotActive):
		return ErrorCodeNotActive
	case errors.Is(err, domain.ErrSessionInitializing):
		return ErrorCodeInitializing
	case errors.Is(err, domain.ErrInputUnsupported):
		return ErrorCodeUnsupported
	case errors.Is(err, domain.ErrPolicyDenied):
		return ErrorCodeDenied
	case errors.Is(err, domain.ErrInvalidArgument):
		return ErrorCodeInvalidMessage
	default:
		return ErrorCodeInternalError
	}
}
