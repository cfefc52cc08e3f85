// Package recorder persists session events with strictly increasing,
// gap-free per-session sequence numbers and announces every persisted
// record on the notification bus.
package recorder

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/xiaot623/gogo/dispatch/internal/domain"
	"github.com/xiaot623/gogo/dispatch/internal/notify"
	"github.com/xiaot623/gogo/dispatch/internal/repository"
)

// fallbackAttempts bounds retries when two writers race for the same
// storage-derived sequence on a non-live session.
const fallbackAttempts = 3

// SequenceSource hands out sequence numbers for a live session.
// ReserveSequence returns the current value and advances the counter;
// RollbackSequence resets the counter to a reserved value whose write failed.
type SequenceSource interface {
	ReserveSequence() int64
	RollbackSequence(seq int64)
}

// Recorder appends events to the event store.
type Recorder struct {
	store  repository.EventStore
	bus    *notify.Bus
	logger *slog.Logger
}

// New creates a recorder. bus may be nil.
func New(store repository.EventStore, bus *notify.Bus, logger *slog.Logger) *Recorder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Recorder{store: store, bus: bus, logger: logger}
}

// Record persists ev for sessionID. When src is non-nil the sequence comes
// from it and is rolled back if the append fails; otherwise the store is
// asked for the next sequence. Callers using a live source must serialize
// Record calls per session.
func (r *Recorder) Record(ctx context.Context, sessionID string, ev domain.EventInput, src SequenceSource) (*domain.SessionEvent, error) {
	if src != nil {
		seq := src.ReserveSequence()
		rec, err := r.store.Append(ctx, sessionID, seq, ev.Channel, ev.Type, ev.Payload)
		if err != nil {
			src.RollbackSequence(seq)
			return nil, fmt.Errorf("failed to append event %d for session %s: %w", seq, sessionID, err)
		}
		r.publish(rec)
		return rec, nil
	}

	var lastErr error
	for attempt := 0; attempt < fallbackAttempts; attempt++ {
		seq, err := r.store.GetNextSequence(ctx, sessionID)
		if err != nil {
			return nil, fmt.Errorf("failed to get next sequence for session %s: %w", sessionID, err)
		}
		rec, err := r.store.Append(ctx, sessionID, seq, ev.Channel, ev.Type, ev.Payload)
		if err == nil {
			r.publish(rec)
			return rec, nil
		}
		lastErr = fmt.Errorf("failed to append event %d for session %s: %w", seq, sessionID, err)
		if !errors.Is(err, repository.ErrDuplicateSequence) {
			break
		}
		r.logger.Debug("sequence race on non-live session, retrying", "session_id", sessionID, "sequence", seq)
	}
	return nil, lastErr
}

func (r *Recorder) publish(rec *domain.SessionEvent) {
	if r.bus != nil {
		r.bus.PublishEvent(rec)
	}
}

// GetEventsSince returns every event with sequence > afterSeq, ascending.
func (r *Recorder) GetEventsSince(ctx context.Context, sessionID string, afterSeq int64) ([]domain.SessionEvent, error) {
	events, err := r.store.GetSince(ctx, sessionID, afterSeq)
	if err != nil {
		return nil, fmt.Errorf("failed to get events for session %s: %w", sessionID, err)
	}
	return events, nil
}

// GetLastEvents returns up to n of the most recent events, ascending.
func (r *Recorder) GetLastEvents(ctx context.Context, sessionID string, n int) ([]domain.SessionEvent, error) {
	if n <= 0 {
		return nil, nil
	}
	next, err := r.GetNextSequence(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	after := next - int64(n) - 1
	if after < -1 {
		after = -1
	}
	return r.GetEventsSince(ctx, sessionID, after)
}

// GetNextSequence returns the sequence the next persisted event would get.
func (r *Recorder) GetNextSequence(ctx context.Context, sessionID string) (int64, error) {
	next, err := r.store.GetNextSequence(ctx, sessionID)
	if err != nil {
		return 0, fmt.Errorf("failed to get next sequence for session %s: %w", sessionID, err)
	}
	return next, nil
}
