package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/xiaot623/gogo/dispatch/internal/adapter"
	"github.com/xiaot623/gogo/dispatch/internal/domain"
	"github.com/xiaot623/gogo/dispatch/internal/live"
	"github.com/xiaot623/gogo/dispatch/internal/notify"
	"github.com/xiaot623/gogo/dispatch/policy"
)

type startMode int

const (
	startCreate startMode = iota
	startResume
)

func (m startMode) String() string {
	if m == startResume {
		return "resume"
	}
	return "create"
}

// CreateSession persists a new session of the given kind, spawns its
// process and returns once the session is running.
func (s *Service) CreateSession(ctx context.Context, kind string, req domain.CreateSessionRequest) (*domain.CreateSessionResponse, error) {
	if kind == "" {
		return nil, fmt.Errorf("%w: kind is required", domain.ErrInvalidArgument)
	}

	now := time.Now()
	session := &domain.RunSession{
		SessionID:     uuid.New().String(),
		Kind:          kind,
		WorkspacePath: req.WorkspacePath,
		Meta:          req.Meta,
		OwnerUserID:   req.OwnerUserID,
		Status:        domain.SessionStatusCreated,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := s.admit(ctx, policy.ActionCreate, session, nil); err != nil {
		return nil, err
	}

	if err := s.sessions.Create(ctx, session); err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}
	logger := s.logger.With("session_id", session.SessionID, "kind", kind)

	a, err := s.adapters.Lookup(kind)
	if err != nil {
		if serr := s.setStatus(context.WithoutCancel(ctx), session.SessionID, domain.SessionStatusError); serr != nil {
			logger.Warn("failed to mark session errored", "error", serr)
		}
		return nil, err
	}

	if err := s.startProcess(ctx, session, a, startCreate, nil); err != nil {
		return nil, err
	}
	logger.Info("session created")

	return &domain.CreateSessionResponse{
		SessionID: session.SessionID,
		Status:    domain.SessionStatusRunning,
	}, nil
}

// ResumeSession starts a fresh process for a stopped or errored session.
// A session that is already running, here or elsewhere, is left alone and
// reported as not resumed.
func (s *Service) ResumeSession(ctx context.Context, sessionID string) (*domain.ResumeSessionResponse, error) {
	session, err := s.sessions.FindByID(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to get session: %w", err)
	}
	if session == nil {
		return nil, fmt.Errorf("%w: %s", domain.ErrSessionNotFound, sessionID)
	}

	notResumed := func(reason string) *domain.ResumeSessionResponse {
		return &domain.ResumeSessionResponse{SessionID: sessionID, Resumed: false, Reason: reason}
	}
	if !session.Status.Resumable() {
		return notResumed("already active: status is " + string(session.Status)), nil
	}
	if s.live.Has(sessionID) {
		return notResumed("already active in this process"), nil
	}

	if err := s.admit(ctx, policy.ActionResume, session, nil); err != nil {
		return nil, err
	}
	a, err := s.adapters.Lookup(session.Kind)
	if err != nil {
		return nil, err
	}

	history, err := s.recorder.GetLastEvents(ctx, sessionID, s.replayCount())
	if err != nil {
		return nil, err
	}

	// Observers get the prior context before anything the new process says.
	publishReplay := func() {
		for i := range history {
			s.bus.Publish(notify.Notification{
				Topic:     notify.TopicEventReplayed,
				SessionID: sessionID,
				Event:     &history[i],
			})
		}
	}
	if err := s.startProcess(ctx, session, a, startResume, publishReplay); err != nil {
		if errors.Is(err, live.ErrAlreadyLive) {
			return notResumed("already active in this process"), nil
		}
		return nil, err
	}
	s.logger.Info("session resumed", "session_id", sessionID, "kind", session.Kind, "replayed", len(history))

	return &domain.ResumeSessionResponse{
		SessionID: sessionID,
		Resumed:   true,
		Replayed:  history,
	}, nil
}

// startProcess seeds the live entry, invokes the adapter, marks the session
// running, flushes events buffered during initialization and marks the
// entry ready. beforeFlush, if set, runs just before the flush. Any failure
// after the entry exists triggers cleanup.
func (s *Service) startProcess(ctx context.Context, session *domain.RunSession, a adapter.Adapter, mode startMode, beforeFlush func()) error {
	id := session.SessionID

	next, err := s.recorder.GetNextSequence(ctx, id)
	if err != nil {
		return s.cleanupFailedStart(ctx, session, nil, nil, nil, mode, err)
	}

	entry, err := s.live.Start(id, session.Kind, next)
	if err != nil {
		return err
	}
	router := newEventRouter(s, entry)
	s.putRouter(id, router)

	proc, err := a.Create(ctx, adapter.CreateOptions{
		SessionID:     id,
		WorkspacePath: session.WorkspacePath,
		Meta:          session.Meta,
		OwnerUserID:   session.Owner(),
		Events:        router,
	})
	if err != nil {
		return s.cleanupFailedStart(ctx, session, entry, router, nil, mode, fmt.Errorf("adapter %q failed to create process: %w", session.Kind, err))
	}
	if err := s.live.SetProcess(id, proc); err != nil {
		return s.cleanupFailedStart(ctx, session, entry, router, proc, mode, err)
	}
	if err := s.setStatus(ctx, id, domain.SessionStatusRunning); err != nil {
		return s.cleanupFailedStart(ctx, session, entry, router, proc, mode, err)
	}
	if beforeFlush != nil {
		beforeFlush()
	}
	if err := router.flush(ctx); err != nil {
		return s.cleanupFailedStart(ctx, session, entry, router, proc, mode, fmt.Errorf("failed to flush initialization events: %w", err))
	}
	if err := s.live.MarkReady(id); err != nil {
		return s.cleanupFailedStart(ctx, session, entry, router, proc, mode, err)
	}
	if router.markReady() {
		go s.closeAfterExit(id, entry)
	}
	return nil
}

// cleanupFailedStart undoes a partial start. Every step is attempted even
// if earlier ones fail; their errors are logged and cause is returned.
//
// When the start failed because CloseSession ran concurrently, events
// already recorded stay and the session ends up stopped instead.
func (s *Service) cleanupFailedStart(ctx context.Context, session *domain.RunSession, entry *live.Entry, router *eventRouter, proc adapter.Process, mode startMode, cause error) error {
	ctx = context.WithoutCancel(ctx)
	id := session.SessionID
	var errs []error

	closed := router != nil && router.closeRequested.Load()
	if entry != nil {
		if cur, ok := s.live.Get(id); !ok || cur != entry {
			closed = true
		}
	}

	// CloseSession already closed a process it could see on the entry.
	if proc != nil && !(closed && entry.Process() == proc) {
		if err := proc.Close(ctx); err != nil {
			errs = append(errs, fmt.Errorf("close process: %w", err))
		}
	}
	if router != nil {
		router.discard()
		s.takeRouter(id, router)
	}
	if entry != nil {
		if cur, ok := s.live.Get(id); ok && cur == entry {
			s.live.Remove(id)
		}
		<-entry.Stopped()
	}

	logger := s.logger.With("session_id", id, "kind", session.Kind, "mode", mode.String())
	if closed {
		// The start may have marked the session running after the close.
		// A newer entry owns the status if one was started since.
		if !s.live.Has(id) {
			if err := s.setStatus(ctx, id, domain.SessionStatusStopped); err != nil {
				errs = append(errs, err)
			}
		}
		if len(errs) > 0 {
			logger.Warn("session closed while starting", "cause", cause, "error", errors.Join(errs...))
		} else {
			logger.Info("session closed while starting", "cause", cause)
		}
		return fmt.Errorf("%w: closed while starting", domain.ErrSessionNotActive)
	}

	if mode == startCreate {
		if err := s.events.DeleteForSession(ctx, id); err != nil {
			errs = append(errs, fmt.Errorf("delete partial events: %w", err))
		}
	}
	if err := s.setStatus(ctx, id, domain.SessionStatusError); err != nil {
		errs = append(errs, err)
	}

	if len(errs) > 0 {
		logger.Error("cleanup after failed start was incomplete", "cause", cause, "error", errors.Join(errs...))
	} else {
		logger.Warn("session failed to start", "error", cause)
	}
	return cause
}
