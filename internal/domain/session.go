package domain

import (
	"encoding/json"
	"time"
)

// RunSession is the persisted metadata of a long-lived interactive process.
type RunSession struct {
	SessionID     string          `json:"session_id"`
	Kind          string          `json:"kind"`
	WorkspacePath string          `json:"workspace_path,omitempty"`
	Meta          json.RawMessage `json:"meta,omitempty"`
	OwnerUserID   *string         `json:"owner_user_id,omitempty"`
	Status        SessionStatus   `json:"status"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

// Owner returns the owner id or the empty string.
func (s *RunSession) Owner() string {
	if s.OwnerUserID == nil {
		return ""
	}
	return *s.OwnerUserID
}
