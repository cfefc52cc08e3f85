// Package domain defines the core domain models for the dispatch service.
package domain

// SessionStatus represents the persisted status of a run session.
type SessionStatus string

const (
	SessionStatusCreated SessionStatus = "created"
	SessionStatusRunning SessionStatus = "running"
	SessionStatusStopped SessionStatus = "stopped"
	SessionStatusError   SessionStatus = "error"
)

// Valid reports whether s is a known status.
func (s SessionStatus) Valid() bool {
	switch s {
	case SessionStatusCreated, SessionStatusRunning, SessionStatusStopped, SessionStatusError:
		return true
	}
	return false
}

// Resumable reports whether a session in this status may be started again.
func (s SessionStatus) Resumable() bool {
	return s == SessionStatusStopped || s == SessionStatusError
}

// Channels are logical sub-streams within a session's event log.
const (
	ChannelPTYOutput    = "pty:output"
	ChannelAgentOutput  = "agent:output"
	ChannelSystemInput  = "system:input"
	ChannelSystemStatus = "system:status"
	ChannelSystemError  = "system:error"
)

// Event types used by the orchestrator itself.
const (
	EventTypeInput  = "input"
	EventTypeOutput = "output"
	EventTypeExit   = "exit"
	EventTypeDelta  = "delta"
	EventTypeDone   = "done"
	EventTypeError  = "error"
)
