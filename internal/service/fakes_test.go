package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/xiaot623/gogo/dispatch/internal/adapter"
	"github.com/xiaot623/gogo/dispatch/internal/config"
	"github.com/xiaot623/gogo/dispatch/internal/domain"
	"github.com/xiaot623/gogo/dispatch/internal/repository"
	"github.com/xiaot623/gogo/dispatch/tests/helpers"
)

type fakeProcess struct {
	events adapter.Emitter

	mu       sync.Mutex
	inputs   []string
	closed   int
	closeErr error
}

func (p *fakeProcess) Close(context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed++
	return p.closeErr
}

func (p *fakeProcess) Input(_ context.Context, data string) error {
	p.mu.Lock()
	p.inputs = append(p.inputs, data)
	p.mu.Unlock()
	return nil
}

func (p *fakeProcess) PerformOperation(_ context.Context, name string, params []json.RawMessage) (interface{}, error) {
	if name != "resize" {
		return nil, adapter.ErrOperationUnsupported
	}
	return map[string]int{"params": len(params)}, nil
}

func (p *fakeProcess) closeCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

// outputOnlyProcess has no input or operation surface.
type outputOnlyProcess struct{}

func (outputOnlyProcess) Close(context.Context) error { return nil }

type fakeAdapter struct {
	// initEvents are emitted synchronously inside Create.
	initEvents int
	createErr  error
	outputOnly bool
	onCreate   func(opts adapter.CreateOptions)

	mu      sync.Mutex
	creates int
	procs   []*fakeProcess
}

func (a *fakeAdapter) Create(_ context.Context, opts adapter.CreateOptions) (adapter.Process, error) {
	a.mu.Lock()
	a.creates++
	a.mu.Unlock()

	for i := 0; i < a.initEvents; i++ {
		opts.Events.Emit(textEvent(fmt.Sprintf("init-%d", i)))
	}
	if a.onCreate != nil {
		a.onCreate(opts)
	}
	if a.createErr != nil {
		return nil, a.createErr
	}
	if a.outputOnly {
		return outputOnlyProcess{}, nil
	}

	p := &fakeProcess{events: opts.Events}
	a.mu.Lock()
	a.procs = append(a.procs, p)
	a.mu.Unlock()
	return p, nil
}

func (a *fakeAdapter) createCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.creates
}

func (a *fakeAdapter) lastProcess() *fakeProcess {
	a.mu.Lock()
	defer a.mu.Unlock()
	if len(a.procs) == 0 {
		return nil
	}
	return a.procs[len(a.procs)-1]
}

func textEvent(text string) domain.EventInput {
	ev, _ := domain.NewEventInput(domain.ChannelPTYOutput, domain.EventTypeOutput, text)
	return ev
}

// faultyStore fails the next failAppends calls to Append. beforeAppend, if
// set, is called with the 1-based count of each Append before it runs.
type faultyStore struct {
	*repository.SQLiteStore

	mu           sync.Mutex
	failAppends  int
	appends      int
	beforeAppend func(n int)
}

func (f *faultyStore) failNext(n int) {
	f.mu.Lock()
	f.failAppends = n
	f.mu.Unlock()
}

func (f *faultyStore) Append(ctx context.Context, sessionID string, sequence int64, channel, eventType string, payload json.RawMessage) (*domain.SessionEvent, error) {
	f.mu.Lock()
	f.appends++
	n, hook := f.appends, f.beforeAppend
	f.mu.Unlock()
	if hook != nil {
		hook(n)
	}

	f.mu.Lock()
	if f.failAppends > 0 {
		f.failAppends--
		f.mu.Unlock()
		return nil, errors.New("storage unavailable")
	}
	f.mu.Unlock()
	return f.SQLiteStore.Append(ctx, sessionID, sequence, channel, eventType, payload)
}

type testEnv struct {
	svc      *Service
	store    *faultyStore
	adapters *adapter.Registry
}

func newTestEnv(t *testing.T, cfg *config.Config, policyEngine Admission) *testEnv {
	t.Helper()

	if cfg == nil {
		cfg = &config.Config{ResumeReplayCount: 10, ShutdownConcurrency: 4}
	}
	store := &faultyStore{SQLiteStore: helpers.NewTestSQLiteStore(t)}
	adapters := adapter.NewRegistry(nil)
	svc, err := New(store, adapters, nil, cfg, policyEngine, nil)
	require.NoError(t, err)

	t.Cleanup(func() { svc.Shutdown(context.Background()) })
	return &testEnv{svc: svc, store: store, adapters: adapters}
}

func (e *testEnv) events(t *testing.T, sessionID string) []domain.SessionEvent {
	t.Helper()
	events, err := e.svc.recorder.GetEventsSince(context.Background(), sessionID, -1)
	require.NoError(t, err)
	return events
}

func (e *testEnv) status(t *testing.T, sessionID string) domain.SessionStatus {
	t.Helper()
	session, err := e.svc.GetSession(context.Background(), sessionID)
	require.NoError(t, err)
	return session.Status
}

func payloadText(t *testing.T, ev domain.SessionEvent) string {
	t.Helper()
	var s string
	require.NoError(t, json.Unmarshal(ev.Payload, &s))
	return s
}

func requireGapFree(t *testing.T, events []domain.SessionEvent) {
	t.Helper()
	for i, ev := range events {
		require.Equal(t, int64(i), ev.Sequence, "sequence gap or duplicate at index %d", i)
	}
}
