// Package repository defines the storage interfaces and implementations.
package repository

import (
	"context"
	"encoding/json"

	"github.com/xiaot623/gogo/dispatch/internal/domain"
)

// SessionRepository persists run session metadata.
type SessionRepository interface {
	Create(ctx context.Context, session *domain.RunSession) error
	// FindByID returns nil, nil when the session does not exist.
	FindByID(ctx context.Context, sessionID string) (*domain.RunSession, error)
	UpdateStatus(ctx context.Context, sessionID string, status domain.SessionStatus) error
	// List returns sessions ordered by creation time. An empty kind lists all.
	List(ctx context.Context, kind string) ([]domain.RunSession, error)
}

// EventStore persists the append-only per-session event log.
type EventStore interface {
	Append(ctx context.Context, sessionID string, sequence int64, channel, eventType string, payload json.RawMessage) (*domain.SessionEvent, error)
	// GetSince returns events with sequence > afterSeq in ascending order.
	GetSince(ctx context.Context, sessionID string, afterSeq int64) ([]domain.SessionEvent, error)
	// GetNextSequence returns max(sequence)+1, or 0 for an empty log.
	GetNextSequence(ctx context.Context, sessionID string) (int64, error)
	DeleteForSession(ctx context.Context, sessionID string) error
}

// Store combines both repositories behind one handle.
type Store interface {
	SessionRepository
	EventStore

	Close() error
}
