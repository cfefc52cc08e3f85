// Package loopback provides the "echo" session kind: every input is written
// straight back as output. It needs no external process and is used for
// smoke tests and demos.
package loopback

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/xiaot623/gogo/dispatch/internal/adapter"
	"github.com/xiaot623/gogo/dispatch/internal/domain"
)

// Kind is the registry key for this adapter.
const Kind = "echo"

var errClosed = errors.New("loopback process closed")

// Adapter creates loopback processes.
type Adapter struct {
	// Banner, if set, is emitted once when a process starts.
	Banner string
}

// New creates a loopback adapter with the default banner.
func New() *Adapter {
	return &Adapter{Banner: "echo session ready\r\n"}
}

// Create implements adapter.Adapter.
func (a *Adapter) Create(_ context.Context, opts adapter.CreateOptions) (adapter.Process, error) {
	if opts.Events == nil {
		return nil, errors.New("loopback: event sink is required")
	}
	p := &Process{events: opts.Events, cols: 80, rows: 24}
	if a.Banner != "" {
		p.emit(a.Banner)
	}
	return p, nil
}

// Process is a running loopback session.
type Process struct {
	events adapter.Emitter

	mu     sync.Mutex
	closed bool
	cols   int
	rows   int
}

func (p *Process) emit(text string) {
	ev, err := domain.NewEventInput(domain.ChannelPTYOutput, domain.EventTypeOutput, text)
	if err != nil {
		return
	}
	p.events.Emit(ev)
}

// Input echoes data back as output.
func (p *Process) Input(_ context.Context, data string) error {
	p.mu.Lock()
	closed := p.closed
	p.mu.Unlock()
	if closed {
		return errClosed
	}
	p.emit(data)
	return nil
}

// PerformOperation supports "resize" with [cols, rows].
func (p *Process) PerformOperation(_ context.Context, name string, params []json.RawMessage) (interface{}, error) {
	if name != "resize" {
		return nil, adapter.ErrOperationUnsupported
	}
	if len(params) != 2 {
		return nil, fmt.Errorf("resize expects 2 params, got %d", len(params))
	}
	var cols, rows int
	if err := json.Unmarshal(params[0], &cols); err != nil {
		return nil, fmt.Errorf("invalid cols: %w", err)
	}
	if err := json.Unmarshal(params[1], &rows); err != nil {
		return nil, fmt.Errorf("invalid rows: %w", err)
	}

	p.mu.Lock()
	p.cols, p.rows = cols, rows
	p.mu.Unlock()
	return map[string]int{"cols": cols, "rows": rows}, nil
}

// Close marks the process closed. Further input is rejected.
func (p *Process) Close(context.Context) error {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()
	return nil
}
