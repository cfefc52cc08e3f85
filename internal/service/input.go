package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/xiaot623/gogo/dispatch/internal/adapter"
	"github.com/xiaot623/gogo/dispatch/internal/domain"
	"github.com/xiaot623/gogo/dispatch/internal/live"
	"github.com/xiaot623/gogo/dispatch/policy"
)

// activeEntry returns the ready live entry for sessionID.
func (s *Service) activeEntry(sessionID string) (*live.Entry, error) {
	entry, ok := s.live.Get(sessionID)
	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrSessionNotActive, sessionID)
	}
	if entry.Initializing() {
		return nil, fmt.Errorf("%w: %s", domain.ErrSessionInitializing, sessionID)
	}
	return entry, nil
}

// SendInput writes data to the session's process and records it on
// system:input once the write succeeded.
func (s *Service) SendInput(ctx context.Context, sessionID string, data string) error {
	entry, err := s.activeEntry(sessionID)
	if err != nil {
		return err
	}
	w, ok := entry.Process().(adapter.InputWriter)
	if !ok {
		return fmt.Errorf("%w: %s", domain.ErrInputUnsupported, sessionID)
	}
	if err := w.Input(ctx, data); err != nil {
		return fmt.Errorf("failed to write input: %w", err)
	}

	ev, err := domain.NewEventInput(domain.ChannelSystemInput, domain.EventTypeInput, domain.InputPayload{Data: data})
	if err != nil {
		return fmt.Errorf("failed to encode input event: %w", err)
	}
	err = s.live.Queue(sessionID, func(ctx context.Context) error {
		_, err := s.recorder.Record(ctx, sessionID, ev, entry)
		return err
	}).Wait(ctx)
	if err != nil {
		return fmt.Errorf("failed to record input: %w", err)
	}
	return nil
}

// PerformOperation dispatches an adapter-specific operation. Processes
// that do not implement the operation yield a nil result and no error.
func (s *Service) PerformOperation(ctx context.Context, sessionID, name string, params []json.RawMessage) (interface{}, error) {
	entry, err := s.activeEntry(sessionID)
	if err != nil {
		return nil, err
	}

	session := &domain.RunSession{SessionID: sessionID, Kind: entry.Kind}
	if err := s.admit(ctx, policy.ActionOperation, session, map[string]interface{}{"operation": name}); err != nil {
		return nil, err
	}

	op, ok := entry.Process().(adapter.Operator)
	if !ok {
		return nil, nil
	}
	result, err := op.PerformOperation(ctx, name, params)
	if errors.Is(err, adapter.ErrOperationUnsupported) {
		s.logger.Debug("unsupported operation", "session_id", sessionID, "operation", name)
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("operation %q failed: %w", name, err)
	}
	return result, nil
}
