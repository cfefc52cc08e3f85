package live

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"

	"github.com/xiaot623/gogo/dispatch/internal/adapter"
)

// Task is a unit of work run on a session's serial executor.
type Task func(ctx context.Context) error

type queuedTask struct {
	fn     Task
	result chan error
}

// Entry is the in-memory state of one live session. The sequence counter
// and the process handle are only reachable through its methods.
type Entry struct {
	SessionID string
	Kind      string

	mu           sync.Mutex
	nextSeq      int64
	proc         adapter.Process
	initializing bool

	tasks    chan queuedTask
	done     chan struct{}
	stopped  chan struct{}
	stopOnce sync.Once
	ctx      context.Context
	cancel   context.CancelFunc
	logger   *slog.Logger
}

func newEntry(sessionID, kind string, nextSeq int64, queueSize int, logger *slog.Logger) *Entry {
	ctx, cancel := context.WithCancel(context.Background())
	e := &Entry{
		SessionID:    sessionID,
		Kind:         kind,
		nextSeq:      nextSeq,
		initializing: true,
		tasks:        make(chan queuedTask, queueSize),
		done:         make(chan struct{}),
		stopped:      make(chan struct{}),
		ctx:          ctx,
		cancel:       cancel,
		logger:       logger.With("session_id", sessionID, "kind", kind),
	}
	go e.run()
	return e
}

// run is the serial executor: one task at a time, in queue order.
func (e *Entry) run() {
	defer close(e.stopped)
	for {
		select {
		case <-e.done:
			return
		case t := <-e.tasks:
			select {
			case <-e.done:
				t.result <- ErrEntryRemoved
				return
			default:
			}
			t.result <- e.runTask(t.fn)
		}
	}
}

func (e *Entry) runTask(fn Task) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("queued task panicked: %v", r)
			e.logger.Error("queued task panicked", "panic", r, "stack", string(debug.Stack()))
		}
	}()
	if err = fn(e.ctx); err != nil {
		e.logger.Error("queued task failed", "error", err)
	}
	return err
}

func (e *Entry) enqueue(fn Task) *Pending {
	p := &Pending{result: make(chan error, 1), done: e.done}
	select {
	case <-e.done:
		p.result <- ErrEntryRemoved
		return p
	default:
	}
	select {
	case e.tasks <- queuedTask{fn: fn, result: p.result}:
	case <-e.done:
		p.result <- ErrEntryRemoved
	}
	return p
}

func (e *Entry) stop() {
	e.stopOnce.Do(func() {
		close(e.done)
		e.cancel()
	})
}

// ReserveSequence returns the next sequence number and advances the counter.
func (e *Entry) ReserveSequence() int64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	seq := e.nextSeq
	e.nextSeq++
	return seq
}

// RollbackSequence resets the counter to seq after a failed write.
func (e *Entry) RollbackSequence(seq int64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.nextSeq = seq
}

// NextSequence returns the counter without advancing it.
func (e *Entry) NextSequence() int64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.nextSeq
}

// Process returns the attached process handle, or nil.
func (e *Entry) Process() adapter.Process {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.proc
}

// Initializing reports whether the session is still being wired up.
func (e *Entry) Initializing() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.initializing
}

// Done is closed when the entry is removed.
func (e *Entry) Done() <-chan struct{} {
	return e.done
}

// Stopped is closed once the worker has returned, after any in-flight
// task finished.
func (e *Entry) Stopped() <-chan struct{} {
	return e.stopped
}

// Pending is the outcome of a queued task.
type Pending struct {
	result chan error
	done   <-chan struct{}
}

// Wait blocks until the task finished, the entry was removed or ctx ended.
func (p *Pending) Wait(ctx context.Context) error {
	select {
	case err := <-p.result:
		return err
	case <-p.done:
		select {
		case err := <-p.result:
			return err
		default:
			return ErrEntryRemoved
		}
	case <-ctx.Done():
		return ctx.Err()
	}
}
