// Package adapter defines the contract between the orchestrator and the
// process backends it drives, plus the kind-keyed registry of backends.
package adapter

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/xiaot623/gogo/dispatch/internal/domain"
)

// ErrOperationUnsupported is returned by Operator implementations for
// operation names they do not handle.
var ErrOperationUnsupported = errors.New("operation not supported")

// Emitter receives events from a running process. Emit never blocks past
// session teardown and never panics back into the adapter.
type Emitter interface {
	Emit(ev domain.EventInput)
}

// EmitterFunc adapts a function to Emitter.
type EmitterFunc func(ev domain.EventInput)

// Emit calls f(ev).
func (f EmitterFunc) Emit(ev domain.EventInput) { f(ev) }

// CreateOptions are handed to Adapter.Create for every new or resumed session.
type CreateOptions struct {
	SessionID     string
	WorkspacePath string
	Meta          json.RawMessage
	OwnerUserID   string
	Events        Emitter
}

// Adapter spawns processes of one kind.
type Adapter interface {
	Create(ctx context.Context, opts CreateOptions) (Process, error)
}

// Process is the handle to a spawned process.
type Process interface {
	Close(ctx context.Context) error
}

// InputWriter is implemented by processes that accept input.
type InputWriter interface {
	Input(ctx context.Context, data string) error
}

// Operator is implemented by processes with named extension operations,
// such as terminal resize.
type Operator interface {
	PerformOperation(ctx context.Context, name string, params []json.RawMessage) (interface{}, error)
}
