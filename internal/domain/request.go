package domain

import "encoding/json"

// CreateSessionRequest carries the parameters for CreateSession.
type CreateSessionRequest struct {
	WorkspacePath string          `json:"workspace_path"`
	Meta          json.RawMessage `json:"meta,omitempty"`
	OwnerUserID   *string         `json:"owner_user_id,omitempty"`
}

// CreateSessionResponse is returned by CreateSession.
type CreateSessionResponse struct {
	SessionID string        `json:"session_id"`
	Status    SessionStatus `json:"status"`
}

// ResumeSessionResponse is returned by ResumeSession.
type ResumeSessionResponse struct {
	SessionID string         `json:"session_id"`
	Resumed   bool           `json:"resumed"`
	Reason    string         `json:"reason,omitempty"`
	Replayed  []SessionEvent `json:"replayed,omitempty"`
}

// Stats is an operational snapshot of the orchestrator.
type Stats struct {
	ActiveSessions int      `json:"active_sessions"`
	AdapterKinds   []string `json:"adapter_kinds"`
}

// ActiveSession describes one live session in this process.
type ActiveSession struct {
	SessionID    string `json:"session_id"`
	Kind         string `json:"kind"`
	Initializing bool   `json:"initializing"`
	NextSequence int64  `json:"next_sequence"`
}
