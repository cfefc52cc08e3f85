package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/sourcegraph/conc/pool"

	"github.com/xiaot623/gogo/dispatch/internal/domain"
	"github.com/xiaot623/gogo/dispatch/internal/live"
	"github.com/xiaot623/gogo/dispatch/internal/notify"
)

// CloseSession tears a session down. It never fails: every step is
// attempted, failures are logged, and calling it again is harmless.
func (s *Service) CloseSession(ctx context.Context, sessionID string) {
	ctx = context.WithoutCancel(ctx)
	var errs []error

	if entry, ok := s.live.Get(sessionID); ok {
		if proc := entry.Process(); proc != nil {
			if err := proc.Close(ctx); err != nil {
				errs = append(errs, fmt.Errorf("close process: %w", err))
			}
		}
	}
	if router := s.takeRouter(sessionID, nil); router != nil {
		router.requestClose()
	}
	s.live.Remove(sessionID)

	if err := s.setStatus(ctx, sessionID, domain.SessionStatusStopped); err != nil {
		errs = append(errs, err)
	}
	s.bus.Publish(notify.Notification{Topic: notify.TopicClosed, SessionID: sessionID, Status: domain.SessionStatusStopped})

	if len(errs) > 0 {
		s.logger.Warn("session closed with errors", "session_id", sessionID, "error", errors.Join(errs...))
		return
	}
	s.logger.Info("session closed", "session_id", sessionID)
}

// closeAfterExit closes a session whose process reported exit, unless the
// entry has been replaced or removed in the meantime.
func (s *Service) closeAfterExit(sessionID string, entry *live.Entry) {
	if cur, ok := s.live.Get(sessionID); !ok || cur != entry {
		return
	}
	s.logger.Info("process exited, closing session", "session_id", sessionID)
	s.CloseSession(context.Background(), sessionID)
}

// Shutdown closes every live session, a bounded number at a time.
func (s *Service) Shutdown(ctx context.Context) {
	entries := s.live.List()
	if len(entries) == 0 {
		return
	}

	limit := s.config.ShutdownConcurrency
	if limit <= 0 {
		limit = 1
	}
	p := pool.New().WithMaxGoroutines(limit)
	for _, e := range entries {
		sessionID := e.SessionID
		p.Go(func() {
			s.CloseSession(ctx, sessionID)
		})
	}
	p.Wait()
	s.logger.Info("shutdown sweep complete", "sessions", len(entries))
}

// ReconcileOrphans marks sessions persisted as running or created, but
// without a live entry in this process, as stopped so they can be resumed.
// It is meant to run once at startup.
func (s *Service) ReconcileOrphans(ctx context.Context) (int, error) {
	sessions, err := s.sessions.List(ctx, "")
	if err != nil {
		return 0, fmt.Errorf("failed to list sessions: %w", err)
	}

	n := 0
	for _, session := range sessions {
		if session.Status != domain.SessionStatusRunning && session.Status != domain.SessionStatusCreated {
			continue
		}
		if s.live.Has(session.SessionID) {
			continue
		}
		if err := s.setStatus(ctx, session.SessionID, domain.SessionStatusStopped); err != nil {
			s.logger.Warn("failed to reconcile orphaned session", "session_id", session.SessionID, "error", err)
			continue
		}
		n++
	}
	if n > 0 {
		s.logger.Info("reconciled orphaned sessions", "count", n)
	}
	return n, nil
}
