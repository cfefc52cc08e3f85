// Package agent provides the "agent" session kind. Each input becomes one
// invocation of a remote agent's /invoke endpoint; the streamed deltas are
// emitted on agent:output.
package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/xiaot623/gogo/dispatch/internal/adapter"
	"github.com/xiaot623/gogo/dispatch/internal/domain"
)

// Kind is the registry key for this adapter.
const Kind = "agent"

const pendingTurns = 16

// ErrBusy is returned by Input when too many turns are queued.
var ErrBusy = errors.New("agent: too many pending turns")

// Adapter connects sessions to an agent endpoint.
type Adapter struct {
	endpoint string
	client   *Client
	logger   *slog.Logger
}

// New creates an agent adapter for endpoint.
func New(endpoint string, client *Client, logger *slog.Logger) *Adapter {
	if client == nil {
		client = NewClient(0)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Adapter{endpoint: endpoint, client: client, logger: logger}
}

// Create starts the turn worker for a session.
func (a *Adapter) Create(_ context.Context, opts adapter.CreateOptions) (adapter.Process, error) {
	if a.endpoint == "" {
		return nil, errors.New("agent: endpoint is not configured")
	}
	if opts.Events == nil {
		return nil, errors.New("agent: event sink is required")
	}

	ctx, cancel := context.WithCancel(context.Background())
	p := &Process{
		adapter: a,
		opts:    opts,
		turns:   make(chan string, pendingTurns),
		ctx:     ctx,
		cancel:  cancel,
		done:    make(chan struct{}),
		logger:  a.logger.With("session_id", opts.SessionID),
	}
	go p.run()
	return p, nil
}

// Process is one agent session. Turns are invoked one after another.
type Process struct {
	adapter *Adapter
	opts    adapter.CreateOptions
	turns   chan string
	ctx     context.Context
	cancel  context.CancelFunc
	done    chan struct{}
	logger  *slog.Logger

	closeOnce sync.Once
}

// Input queues a turn.
func (p *Process) Input(_ context.Context, data string) error {
	select {
	case <-p.ctx.Done():
		return errors.New("agent: session closed")
	default:
	}
	select {
	case p.turns <- data:
		return nil
	default:
		return ErrBusy
	}
}

// Close cancels the in-flight turn and stops the worker.
func (p *Process) Close(ctx context.Context) error {
	p.closeOnce.Do(p.cancel)
	select {
	case <-p.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *Process) run() {
	defer close(p.done)
	for {
		select {
		case <-p.ctx.Done():
			return
		case input := <-p.turns:
			p.invoke(input)
		}
	}
}

func (p *Process) invoke(input string) {
	req := &InvokeRequest{
		SessionID:     p.opts.SessionID,
		TurnID:        uuid.New().String(),
		Input:         input,
		WorkspacePath: p.opts.WorkspacePath,
		Meta:          p.opts.Meta,
	}
	logger := p.logger.With("turn_id", req.TurnID)

	err := p.adapter.client.Invoke(p.ctx, p.adapter.endpoint, req, func(ev SSEEvent) error {
		return p.handle(ev)
	})
	if err != nil && p.ctx.Err() == nil {
		logger.Warn("agent invocation failed", "error", err)
		p.emit(domain.ChannelSystemError, domain.EventTypeError, ErrorData{Code: "invoke_failed", Message: err.Error()})
	}
}

func (p *Process) handle(ev SSEEvent) error {
	switch ev.Event {
	case "delta":
		var d DeltaData
		if err := json.Unmarshal([]byte(ev.Data), &d); err != nil {
			return fmt.Errorf("failed to parse delta event: %w", err)
		}
		p.emit(domain.ChannelAgentOutput, domain.EventTypeDelta, d)
	case "done":
		var d DoneData
		if ev.Data != "" {
			if err := json.Unmarshal([]byte(ev.Data), &d); err != nil {
				return fmt.Errorf("failed to parse done event: %w", err)
			}
		}
		p.emit(domain.ChannelAgentOutput, domain.EventTypeDone, d)
	case "error":
		var d ErrorData
		if err := json.Unmarshal([]byte(ev.Data), &d); err != nil {
			return fmt.Errorf("failed to parse error event: %w", err)
		}
		p.emit(domain.ChannelSystemError, domain.EventTypeError, d)
	default:
		p.logger.Debug("ignoring agent event", "event", ev.Event)
	}
	return nil
}

func (p *Process) emit(channel, eventType string, payload interface{}) {
	ev, err := domain.NewEventInput(channel, eventType, payload)
	if err != nil {
		p.logger.Warn("failed to encode agent event", "error", err)
		return
	}
	p.opts.Events.Emit(ev)
}
