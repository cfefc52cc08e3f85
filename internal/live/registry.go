// Package live tracks the sessions whose processes are running in this
// process and serializes all work against each of them.
package live

import (
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/xiaot623/gogo/dispatch/internal/adapter"
)

var (
	// ErrNotLive is returned for operations on a session with no entry.
	ErrNotLive = errors.New("session is not live")
	// ErrAlreadyLive is returned by Start for a session that already has an entry.
	ErrAlreadyLive = errors.New("session is already live")
	// ErrEntryRemoved is returned to waiters whose entry was removed before
	// their task ran.
	ErrEntryRemoved = errors.New("live entry removed")
)

// DefaultQueueSize bounds each session's pending task channel.
const DefaultQueueSize = 1024

// Registry is the table of live sessions.
type Registry struct {
	mu        sync.RWMutex
	entries   map[string]*Entry
	queueSize int
	logger    *slog.Logger
}

// NewRegistry creates an empty registry.
func NewRegistry(queueSize int, logger *slog.Logger) *Registry {
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		entries:   make(map[string]*Entry),
		queueSize: queueSize,
		logger:    logger,
	}
}

// Start creates an initializing entry whose counter begins at nextSeq.
func (r *Registry) Start(sessionID, kind string, nextSeq int64) (*Entry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.entries[sessionID]; exists {
		return nil, fmt.Errorf("%w: %s", ErrAlreadyLive, sessionID)
	}
	e := newEntry(sessionID, kind, nextSeq, r.queueSize, r.logger)
	r.entries[sessionID] = e
	return e, nil
}

// SetProcess attaches the process handle created by the adapter.
func (r *Registry) SetProcess(sessionID string, proc adapter.Process) error {
	e, ok := r.Get(sessionID)
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotLive, sessionID)
	}
	e.mu.Lock()
	e.proc = proc
	e.mu.Unlock()
	return nil
}

// MarkReady ends the initialization phase of an entry.
func (r *Registry) MarkReady(sessionID string) error {
	e, ok := r.Get(sessionID)
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotLive, sessionID)
	}
	e.mu.Lock()
	e.initializing = false
	e.mu.Unlock()
	return nil
}

// Queue appends task to the session's serial executor. The task starts
// after every previously queued task has finished, whatever its outcome.
func (r *Registry) Queue(sessionID string, task Task) *Pending {
	e, ok := r.Get(sessionID)
	if !ok {
		p := &Pending{result: make(chan error, 1)}
		p.result <- fmt.Errorf("%w: %s", ErrNotLive, sessionID)
		return p
	}
	return e.enqueue(task)
}

// Get returns the entry for sessionID.
func (r *Registry) Get(sessionID string) (*Entry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[sessionID]
	return e, ok
}

// Has reports whether sessionID is live.
func (r *Registry) Has(sessionID string) bool {
	_, ok := r.Get(sessionID)
	return ok
}

// Remove deletes the entry and stops its executor. Queued tasks that have
// not started are abandoned. Removing a missing session is a no-op.
func (r *Registry) Remove(sessionID string) *Entry {
	r.mu.Lock()
	e, ok := r.entries[sessionID]
	if ok {
		delete(r.entries, sessionID)
	}
	r.mu.Unlock()

	if !ok {
		return nil
	}
	e.stop()
	return e
}

// List returns a snapshot of live entries ordered by session id.
func (r *Registry) List() []*Entry {
	r.mu.RLock()
	entries := make([]*Entry, 0, len(r.entries))
	for _, e := range r.entries {
		entries = append(entries, e)
	}
	r.mu.RUnlock()

	sort.Slice(entries, func(i, j int) bool { return entries[i].SessionID < entries[j].SessionID })
	return entries
}

// Count returns the number of live sessions.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}
