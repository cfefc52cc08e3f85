package service

import (
	"context"
	"fmt"

	"github.com/xiaot623/gogo/dispatch/internal/adapter"
	"github.com/xiaot623/gogo/dispatch/internal/domain"
)

// AttachResult is what an observer needs to join a session.
type AttachResult struct {
	Session *domain.RunSession
	// Events holds every persisted event with sequence >= the requested start.
	Events []domain.SessionEvent
	// Process is nil when the session is not live in this process.
	Process adapter.Process
}

// AttachToSession returns the session, its history from fromSeq onwards
// and, if live here, its process handle.
func (s *Service) AttachToSession(ctx context.Context, sessionID string, fromSeq int64) (*AttachResult, error) {
	session, err := s.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if fromSeq < 0 {
		fromSeq = 0
	}
	events, err := s.recorder.GetEventsSince(ctx, sessionID, fromSeq-1)
	if err != nil {
		return nil, err
	}

	res := &AttachResult{Session: session, Events: events}
	if entry, ok := s.live.Get(sessionID); ok {
		res.Process = entry.Process()
	}
	return res, nil
}

// GetSession returns persisted session metadata.
func (s *Service) GetSession(ctx context.Context, sessionID string) (*domain.RunSession, error) {
	session, err := s.sessions.FindByID(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to get session: %w", err)
	}
	if session == nil {
		return nil, fmt.Errorf("%w: %s", domain.ErrSessionNotFound, sessionID)
	}
	return session, nil
}

// ListSessions lists persisted sessions, optionally of one kind.
func (s *Service) ListSessions(ctx context.Context, kind string) ([]domain.RunSession, error) {
	sessions, err := s.sessions.List(ctx, kind)
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	return sessions, nil
}

// GetEventsSince returns persisted events with sequence > afterSeq.
func (s *Service) GetEventsSince(ctx context.Context, sessionID string, afterSeq int64) ([]domain.SessionEvent, error) {
	if _, err := s.GetSession(ctx, sessionID); err != nil {
		return nil, err
	}
	return s.recorder.GetEventsSince(ctx, sessionID, afterSeq)
}

// GetStats returns the live session count and registered adapter kinds.
func (s *Service) GetStats() domain.Stats {
	return domain.Stats{
		ActiveSessions: s.live.Count(),
		AdapterKinds:   s.adapters.ListKinds(),
	}
}

// GetActiveSessions describes every live session in this process.
func (s *Service) GetActiveSessions() []domain.ActiveSession {
	entries := s.live.List()
	out := make([]domain.ActiveSession, 0, len(entries))
	for _, e := range entries {
		out = append(out, domain.ActiveSession{
			SessionID:    e.SessionID,
			Kind:         e.Kind,
			Initializing: e.Initializing(),
			NextSequence: e.NextSequence(),
		})
	}
	return out
}
