package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/xiaot623/gogo/dispatch/internal/adapter"
	"github.com/xiaot623/gogo/dispatch/internal/config"
	"github.com/xiaot623/gogo/dispatch/internal/domain"
	"github.com/xiaot623/gogo/dispatch/internal/live"
	"github.com/xiaot623/gogo/dispatch/internal/notify"
	"github.com/xiaot623/gogo/dispatch/internal/recorder"
	"github.com/xiaot623/gogo/dispatch/internal/repository"
	"github.com/xiaot623/gogo/dispatch/policy"
)

const defaultReplayCount = 10

// Admission decides whether a lifecycle action may proceed.
type Admission interface {
	Evaluate(ctx context.Context, input map[string]interface{}) (string, string, error)
}

// Service is the run session orchestrator. Transport handlers call into
// it only.
type Service struct {
	sessions repository.SessionRepository
	events   repository.EventStore
	recorder *recorder.Recorder
	live     *live.Registry
	adapters *adapter.Registry
	bus      *notify.Bus
	policy   Admission
	config   *config.Config
	logger   *slog.Logger

	mu      sync.Mutex
	routers map[string]*eventRouter
}

// New creates the orchestrator. store and adapters are required; bus,
// policyEngine and logger may be nil.
func New(store repository.Store, adapters *adapter.Registry, bus *notify.Bus, cfg *config.Config, policyEngine Admission, logger *slog.Logger) (*Service, error) {
	if store == nil {
		return nil, errors.New("service: store is required")
	}
	if adapters == nil {
		return nil, errors.New("service: adapter registry is required")
	}
	if cfg == nil {
		cfg = &config.Config{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	if bus == nil {
		bus = notify.NewBus(logger)
	}
	return &Service{
		sessions: store,
		events:   store,
		recorder: recorder.New(store, bus, logger),
		live:     live.NewRegistry(cfg.EventQueueSize, logger),
		adapters: adapters,
		bus:      bus,
		policy:   policyEngine,
		config:   cfg,
		logger:   logger,
		routers:  make(map[string]*eventRouter),
	}, nil
}

// Bus returns the notification bus observers subscribe to.
func (s *Service) Bus() *notify.Bus {
	return s.bus
}

func (s *Service) replayCount() int {
	if s.config.ResumeReplayCount > 0 {
		return s.config.ResumeReplayCount
	}
	return defaultReplayCount
}

// admit evaluates the admission policy for a lifecycle action.
func (s *Service) admit(ctx context.Context, action string, session *domain.RunSession, extra map[string]interface{}) error {
	if s.policy == nil {
		return nil
	}
	input := map[string]interface{}{
		"action":          action,
		"kind":            session.Kind,
		"session_id":      session.SessionID,
		"owner_user_id":   session.Owner(),
		"active_sessions": s.live.Count(),
		"max_sessions":    s.config.MaxSessions,
	}
	for k, v := range extra {
		input[k] = v
	}

	decision, reason, err := s.policy.Evaluate(ctx, input)
	if err != nil {
		return fmt.Errorf("failed to evaluate admission policy: %w", err)
	}
	if decision == policy.DecisionBlock {
		if reason == "" {
			reason = action + " blocked"
		}
		return fmt.Errorf("%w: %s", domain.ErrPolicyDenied, reason)
	}
	return nil
}

// setStatus persists a status transition and announces it.
func (s *Service) setStatus(ctx context.Context, sessionID string, status domain.SessionStatus) error {
	if err := s.sessions.UpdateStatus(ctx, sessionID, status); err != nil {
		return fmt.Errorf("failed to set status %s: %w", status, err)
	}
	s.bus.Publish(notify.Notification{Topic: notify.TopicStatus, SessionID: sessionID, Status: status})
	return nil
}

func (s *Service) putRouter(sessionID string, r *eventRouter) {
	s.mu.Lock()
	s.routers[sessionID] = r
	s.mu.Unlock()
}

// takeRouter removes and returns the router for sessionID. If want is
// non-nil, only that router is removed.
func (s *Service) takeRouter(sessionID string, want *eventRouter) *eventRouter {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.routers[sessionID]
	if !ok || (want != nil && r != want) {
		return nil
	}
	delete(s.routers, sessionID)
	return r
}
