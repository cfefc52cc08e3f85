package service

import (
	"context"
	"runtime/debug"
	"sync"
	"sync/atomic"

	"github.com/xiaot623/gogo/dispatch/internal/domain"
	"github.com/xiaot623/gogo/dispatch/internal/live"
)

// eventRouter is the Emitter handed to adapters. While the session is
// initializing, events are buffered in arrival order; afterwards each event
// becomes a record task on the session's serial executor.
type eventRouter struct {
	svc       *Service
	sessionID string
	entry     *live.Entry

	mu        sync.Mutex
	buffering bool
	buffer    []domain.EventInput
	closed    atomic.Bool

	// closeRequested is set when CloseSession tore the session down.
	closeRequested atomic.Bool

	// stateMu guards ready and exited. It is separate from mu because
	// record tasks take it on the executor goroutine.
	stateMu sync.Mutex
	ready   bool
	exited  bool
}

func newEventRouter(svc *Service, entry *live.Entry) *eventRouter {
	return &eventRouter{
		svc:       svc,
		sessionID: entry.SessionID,
		entry:     entry,
		buffering: true,
	}
}

// Emit implements adapter.Emitter.
func (r *eventRouter) Emit(ev domain.EventInput) {
	defer func() {
		if p := recover(); p != nil {
			r.svc.logger.Error("event routing panicked",
				"session_id", r.sessionID, "panic", p, "stack", string(debug.Stack()))
		}
	}()

	r.mu.Lock()
	defer r.mu.Unlock()

	switch {
	case r.closed.Load():
		r.svc.logger.Debug("dropping event for closed session",
			"session_id", r.sessionID, "channel", ev.Channel, "type", ev.Type)
	case r.buffering:
		r.buffer = append(r.buffer, ev)
	default:
		r.enqueue(ev)
	}
}

func (r *eventRouter) enqueue(ev domain.EventInput) *live.Pending {
	return r.svc.live.Queue(r.sessionID, r.recordTask(ev))
}

func (r *eventRouter) recordTask(ev domain.EventInput) live.Task {
	return func(ctx context.Context) error {
		if _, err := r.svc.recorder.Record(ctx, r.sessionID, ev, r.entry); err != nil {
			return err
		}
		if ev.Channel == domain.ChannelSystemStatus && ev.Type == domain.EventTypeExit {
			r.noteExit()
		}
		return nil
	}
}

// flush records buffered events in arrival order, waiting for each, until
// the buffer is empty; then live routing takes over.
func (r *eventRouter) flush(ctx context.Context) error {
	for {
		r.mu.Lock()
		if r.closed.Load() {
			r.mu.Unlock()
			return live.ErrEntryRemoved
		}
		if len(r.buffer) == 0 {
			r.buffering = false
			r.mu.Unlock()
			return nil
		}
		batch := r.buffer
		r.buffer = nil
		pending := make([]*live.Pending, 0, len(batch))
		for _, ev := range batch {
			pending = append(pending, r.enqueue(ev))
		}
		r.mu.Unlock()

		for _, p := range pending {
			if err := p.Wait(ctx); err != nil {
				return err
			}
		}
	}
}

// markReady records that the session finished starting and reports whether
// the process already exited in the meantime.
func (r *eventRouter) markReady() bool {
	r.stateMu.Lock()
	defer r.stateMu.Unlock()
	r.ready = true
	return r.exited
}

func (r *eventRouter) noteExit() {
	r.stateMu.Lock()
	r.exited = true
	ready := r.ready && !r.closed.Load()
	r.stateMu.Unlock()

	if ready {
		go r.svc.closeAfterExit(r.sessionID, r.entry)
	}
}

// requestClose marks the teardown as a close and stops routing. It must
// run before the live entry is removed so a start in progress sees it.
func (r *eventRouter) requestClose() {
	r.closeRequested.Store(true)
	r.discard()
}

// discard drops buffered events and stops routing.
func (r *eventRouter) discard() {
	r.mu.Lock()
	r.closed.Store(true)
	r.buffer = nil
	r.mu.Unlock()
}
