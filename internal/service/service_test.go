package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xiaot623/gogo/dispatch/internal/adapter"
	"github.com/xiaot623/gogo/dispatch/internal/config"
	"github.com/xiaot623/gogo/dispatch/internal/domain"
	"github.com/xiaot623/gogo/dispatch/internal/notify"
	"github.com/xiaot623/gogo/dispatch/policy"
	"github.com/xiaot623/gogo/dispatch/tests/helpers"
)

func TestNewRequiresDependencies(t *testing.T) {
	_, err := New(nil, adapter.NewRegistry(nil), nil, nil, nil, nil)
	assert.Error(t, err)

	_, err = New(helpers.NewTestSQLiteStore(t), nil, nil, nil, nil, nil)
	assert.Error(t, err)
}

func TestCreateSessionPersistsEventsEmittedDuringCreate(t *testing.T) {
	env := newTestEnv(t, nil, nil)
	env.adapters.Register("echo", &fakeAdapter{initEvents: 3})

	resp, err := env.svc.CreateSession(context.Background(), "echo", domain.CreateSessionRequest{WorkspacePath: "/tmp"})
	require.NoError(t, err)
	assert.Equal(t, domain.SessionStatusRunning, resp.Status)
	assert.Equal(t, domain.SessionStatusRunning, env.status(t, resp.SessionID))

	events := env.events(t, resp.SessionID)
	require.Len(t, events, 3)
	requireGapFree(t, events)
	for i, ev := range events {
		assert.Equal(t, fmt.Sprintf("init-%d", i), payloadText(t, ev))
	}

	entry, ok := env.svc.live.Get(resp.SessionID)
	require.True(t, ok)
	assert.False(t, entry.Initializing())
	assert.Equal(t, int64(3), entry.NextSequence())
}

func TestCreateSessionAdapterFailureCleansUp(t *testing.T) {
	env := newTestEnv(t, nil, nil)
	env.adapters.Register("echo", &fakeAdapter{initEvents: 2, createErr: errors.New("spawn failed")})

	var statuses []domain.SessionStatus
	env.svc.Bus().Subscribe(notify.TopicStatus, "", func(n notify.Notification) {
		statuses = append(statuses, n.Status)
	})

	_, err := env.svc.CreateSession(context.Background(), "echo", domain.CreateSessionRequest{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "spawn failed")

	sessions, err := env.svc.ListSessions(context.Background(), "echo")
	require.NoError(t, err)
	require.Len(t, sessions, 1)
	id := sessions[0].SessionID

	assert.Equal(t, domain.SessionStatusError, sessions[0].Status)
	assert.False(t, env.svc.live.Has(id))
	assert.Empty(t, env.events(t, id))
	assert.Equal(t, []domain.SessionStatus{domain.SessionStatusError}, statuses)
	assert.Nil(t, env.svc.takeRouter(id, nil))
}

func TestCreateSessionUnknownKind(t *testing.T) {
	env := newTestEnv(t, nil, nil)

	_, err := env.svc.CreateSession(context.Background(), "missing", domain.CreateSessionRequest{})
	assert.True(t, errors.Is(err, domain.ErrAdapterNotFound))

	sessions, err := env.svc.ListSessions(context.Background(), "missing")
	require.NoError(t, err)
	require.Len(t, sessions, 1)
	assert.Equal(t, domain.SessionStatusError, sessions[0].Status)
}

func TestCreateSessionRequiresKind(t *testing.T) {
	env := newTestEnv(t, nil, nil)
	_, err := env.svc.CreateSession(context.Background(), "", domain.CreateSessionRequest{})
	assert.True(t, errors.Is(err, domain.ErrInvalidArgument))
}

func TestFlushFailureMarksSessionErrored(t *testing.T) {
	env := newTestEnv(t, nil, nil)
	fake := &fakeAdapter{initEvents: 2}
	env.adapters.Register("echo", fake)
	env.store.failNext(1)

	_, err := env.svc.CreateSession(context.Background(), "echo", domain.CreateSessionRequest{})
	require.Error(t, err)

	sessions, err := env.svc.ListSessions(context.Background(), "echo")
	require.NoError(t, err)
	require.Len(t, sessions, 1)
	assert.Equal(t, domain.SessionStatusError, sessions[0].Status)
	assert.False(t, env.svc.live.Has(sessions[0].SessionID))
	assert.Equal(t, 1, fake.lastProcess().closeCount())
	assert.Empty(t, env.events(t, sessions[0].SessionID))
}

func TestEventsKeepArrivalOrderAcrossInitialization(t *testing.T) {
	env := newTestEnv(t, nil, nil)

	const total = 200
	started := make(chan struct{})
	env.adapters.Register("echo", &fakeAdapter{
		onCreate: func(opts adapter.CreateOptions) {
			go func() {
				for i := 0; i < total; i++ {
					opts.Events.Emit(textEvent(fmt.Sprintf("%d", i)))
					if i == 10 {
						close(started)
					}
				}
			}()
			<-started
		},
	})

	resp, err := env.svc.CreateSession(context.Background(), "echo", domain.CreateSessionRequest{})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return len(env.events(t, resp.SessionID)) == total
	}, 5*time.Second, 10*time.Millisecond)

	events := env.events(t, resp.SessionID)
	requireGapFree(t, events)
	for i, ev := range events {
		assert.Equal(t, fmt.Sprintf("%d", i), payloadText(t, ev))
	}
}

func TestLiveAppendFailureReusesSequence(t *testing.T) {
	env := newTestEnv(t, nil, nil)
	fake := &fakeAdapter{initEvents: 1}
	env.adapters.Register("echo", fake)

	resp, err := env.svc.CreateSession(context.Background(), "echo", domain.CreateSessionRequest{})
	require.NoError(t, err)

	env.store.failNext(1)
	proc := fake.lastProcess()
	proc.events.Emit(textEvent("lost"))
	proc.events.Emit(textEvent("kept-1"))
	proc.events.Emit(textEvent("kept-2"))

	require.Eventually(t, func() bool {
		return len(env.events(t, resp.SessionID)) == 3
	}, 2*time.Second, 10*time.Millisecond)

	events := env.events(t, resp.SessionID)
	requireGapFree(t, events)
	assert.Equal(t, "kept-1", payloadText(t, events[1]))
	assert.Equal(t, "kept-2", payloadText(t, events[2]))
}

func TestSendInputRecordsConcurrentInputsWithoutCollision(t *testing.T) {
	env := newTestEnv(t, nil, nil)
	fake := &fakeAdapter{initEvents: 1}
	env.adapters.Register("echo", fake)

	resp, err := env.svc.CreateSession(context.Background(), "echo", domain.CreateSessionRequest{})
	require.NoError(t, err)

	var wg sync.WaitGroup
	errs := make(chan error, 2)
	for _, data := range []string{"ls\n", "pwd\n"} {
		wg.Add(1)
		go func(data string) {
			defer wg.Done()
			errs <- env.svc.SendInput(context.Background(), resp.SessionID, data)
		}(data)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	events := env.events(t, resp.SessionID)
	require.Len(t, events, 3)
	requireGapFree(t, events)

	var inputs []string
	for _, ev := range events[1:] {
		assert.Equal(t, domain.ChannelSystemInput, ev.Channel)
		var p domain.InputPayload
		require.NoError(t, json.Unmarshal(ev.Payload, &p))
		inputs = append(inputs, p.Data)
	}
	assert.ElementsMatch(t, []string{"ls\n", "pwd\n"}, inputs)
	assert.Len(t, fake.lastProcess().inputs, 2)
}

func TestSendInputErrors(t *testing.T) {
	env := newTestEnv(t, nil, nil)
	env.adapters.Register("quiet", &fakeAdapter{outputOnly: true})

	err := env.svc.SendInput(context.Background(), "nope", "x")
	assert.True(t, errors.Is(err, domain.ErrSessionNotActive))

	resp, err := env.svc.CreateSession(context.Background(), "quiet", domain.CreateSessionRequest{})
	require.NoError(t, err)
	err = env.svc.SendInput(context.Background(), resp.SessionID, "x")
	assert.True(t, errors.Is(err, domain.ErrInputUnsupported))

	helpers.SeedSession(t, env.store, "booting", "echo", domain.SessionStatusCreated)
	_, err = env.svc.live.Start("booting", "echo", 0)
	require.NoError(t, err)
	err = env.svc.SendInput(context.Background(), "booting", "x")
	assert.True(t, errors.Is(err, domain.ErrSessionInitializing))
}

func TestPerformOperation(t *testing.T) {
	env := newTestEnv(t, nil, nil)
	env.adapters.Register("echo", &fakeAdapter{})
	env.adapters.Register("quiet", &fakeAdapter{outputOnly: true})

	resp, err := env.svc.CreateSession(context.Background(), "echo", domain.CreateSessionRequest{})
	require.NoError(t, err)

	res, err := env.svc.PerformOperation(context.Background(), resp.SessionID, "resize",
		[]json.RawMessage{json.RawMessage(`120`), json.RawMessage(`40`)})
	require.NoError(t, err)
	assert.Equal(t, map[string]int{"params": 2}, res)

	res, err = env.svc.PerformOperation(context.Background(), resp.SessionID, "teleport", nil)
	require.NoError(t, err)
	assert.Nil(t, res)

	quiet, err := env.svc.CreateSession(context.Background(), "quiet", domain.CreateSessionRequest{})
	require.NoError(t, err)
	res, err = env.svc.PerformOperation(context.Background(), quiet.SessionID, "resize", nil)
	require.NoError(t, err)
	assert.Nil(t, res)

	_, err = env.svc.PerformOperation(context.Background(), "nope", "resize", nil)
	assert.True(t, errors.Is(err, domain.ErrSessionNotActive))
}

func TestCloseSessionIsIdempotent(t *testing.T) {
	env := newTestEnv(t, nil, nil)
	fake := &fakeAdapter{}
	env.adapters.Register("echo", fake)

	resp, err := env.svc.CreateSession(context.Background(), "echo", domain.CreateSessionRequest{})
	require.NoError(t, err)

	closed := 0
	env.svc.Bus().Subscribe(notify.TopicClosed, resp.SessionID, func(notify.Notification) { closed++ })

	assert.NotPanics(t, func() {
		env.svc.CloseSession(context.Background(), resp.SessionID)
		env.svc.CloseSession(context.Background(), resp.SessionID)
	})

	assert.Equal(t, domain.SessionStatusStopped, env.status(t, resp.SessionID))
	assert.False(t, env.svc.live.Has(resp.SessionID))
	assert.Equal(t, 1, fake.lastProcess().closeCount())
	assert.Equal(t, 2, closed)

	err = env.svc.SendInput(context.Background(), resp.SessionID, "x")
	assert.True(t, errors.Is(err, domain.ErrSessionNotActive))
}

func TestCloseDuringCreateKeepsRecordedEvents(t *testing.T) {
	env := newTestEnv(t, nil, nil)
	fake := &fakeAdapter{initEvents: 3}
	env.adapters.Register("echo", fake)

	blocked := make(chan struct{})
	release := make(chan struct{})
	env.store.beforeAppend = func(n int) {
		if n == 2 {
			close(blocked)
			<-release
		}
	}

	var mu sync.Mutex
	var published []int64
	var statuses []domain.SessionStatus
	env.svc.Bus().Subscribe(notify.TopicEventRecorded, "", func(n notify.Notification) {
		mu.Lock()
		published = append(published, n.Event.Sequence)
		mu.Unlock()
	})
	env.svc.Bus().Subscribe(notify.TopicStatus, "", func(n notify.Notification) {
		mu.Lock()
		statuses = append(statuses, n.Status)
		mu.Unlock()
	})

	type result struct {
		resp *domain.CreateSessionResponse
		err  error
	}
	done := make(chan result, 1)
	go func() {
		resp, err := env.svc.CreateSession(context.Background(), "echo", domain.CreateSessionRequest{})
		done <- result{resp, err}
	}()

	select {
	case <-blocked:
	case <-time.After(5 * time.Second):
		t.Fatal("flush never reached the second append")
	}
	sessions, err := env.svc.ListSessions(context.Background(), "echo")
	require.NoError(t, err)
	require.Len(t, sessions, 1)
	id := sessions[0].SessionID

	env.svc.CloseSession(context.Background(), id)
	close(release)

	var res result
	select {
	case res = <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("create did not return after close")
	}
	require.Error(t, res.err)
	assert.True(t, errors.Is(res.err, domain.ErrSessionNotActive))
	assert.Nil(t, res.resp)

	assert.Equal(t, domain.SessionStatusStopped, env.status(t, id))
	assert.False(t, env.svc.live.Has(id))
	assert.Equal(t, 1, fake.lastProcess().closeCount())

	events := env.events(t, id)
	require.NotEmpty(t, events)
	requireGapFree(t, events)

	mu.Lock()
	defer mu.Unlock()
	require.NotEmpty(t, published)
	for _, seq := range published {
		assert.Less(t, seq, int64(len(events)), "published event %d was not kept", seq)
	}
	assert.NotContains(t, statuses, domain.SessionStatusError)
	assert.Equal(t, domain.SessionStatusStopped, statuses[len(statuses)-1])

	res2, err := env.svc.ResumeSession(context.Background(), id)
	require.NoError(t, err)
	assert.True(t, res2.Resumed)
}

func TestCloseSessionSwallowsProcessErrors(t *testing.T) {
	env := newTestEnv(t, nil, nil)
	fake := &fakeAdapter{}
	env.adapters.Register("echo", fake)

	resp, err := env.svc.CreateSession(context.Background(), "echo", domain.CreateSessionRequest{})
	require.NoError(t, err)
	fake.lastProcess().closeErr = errors.New("already dead")

	env.svc.CloseSession(context.Background(), resp.SessionID)
	assert.Equal(t, domain.SessionStatusStopped, env.status(t, resp.SessionID))

	assert.NotPanics(t, func() { env.svc.CloseSession(context.Background(), "never-existed") })
}

func TestResumeGuardOnRunningStatus(t *testing.T) {
	env := newTestEnv(t, nil, nil)
	fake := &fakeAdapter{}
	env.adapters.Register("echo", fake)

	helpers.SeedSession(t, env.store, "elsewhere", "echo", domain.SessionStatusRunning)
	res, err := env.svc.ResumeSession(context.Background(), "elsewhere")
	require.NoError(t, err)
	assert.False(t, res.Resumed)
	assert.NotEmpty(t, res.Reason)
	assert.Equal(t, 0, fake.createCount())

	resp, err := env.svc.CreateSession(context.Background(), "echo", domain.CreateSessionRequest{})
	require.NoError(t, err)
	res, err = env.svc.ResumeSession(context.Background(), resp.SessionID)
	require.NoError(t, err)
	assert.False(t, res.Resumed)
	assert.Equal(t, 1, fake.createCount())
}

func TestResumeGuardOnLiveEntry(t *testing.T) {
	env := newTestEnv(t, nil, nil)
	fake := &fakeAdapter{}
	env.adapters.Register("echo", fake)

	helpers.SeedSession(t, env.store, "s1", "echo", domain.SessionStatusStopped)
	_, err := env.svc.live.Start("s1", "echo", 0)
	require.NoError(t, err)

	res, err := env.svc.ResumeSession(context.Background(), "s1")
	require.NoError(t, err)
	assert.False(t, res.Resumed)
	assert.Equal(t, "already active in this process", res.Reason)
	assert.Equal(t, 0, fake.createCount())
}

func TestResumeNotFound(t *testing.T) {
	env := newTestEnv(t, nil, nil)
	_, err := env.svc.ResumeSession(context.Background(), "nope")
	assert.True(t, errors.Is(err, domain.ErrSessionNotFound))
}

func TestResumeReplaysLastEvents(t *testing.T) {
	env := newTestEnv(t, nil, nil)
	fake := &fakeAdapter{initEvents: 2}
	env.adapters.Register("echo", fake)

	resp, err := env.svc.CreateSession(context.Background(), "echo", domain.CreateSessionRequest{})
	require.NoError(t, err)
	id := resp.SessionID

	for i := 0; i < 13; i++ {
		require.NoError(t, env.svc.SendInput(context.Background(), id, fmt.Sprintf("cmd-%d", i)))
	}
	env.svc.CloseSession(context.Background(), id)
	first := fake.lastProcess()

	var replayed []int64
	env.svc.Bus().Subscribe(notify.TopicEventReplayed, id, func(n notify.Notification) {
		replayed = append(replayed, n.Event.Sequence)
	})

	res, err := env.svc.ResumeSession(context.Background(), id)
	require.NoError(t, err)
	require.True(t, res.Resumed)
	assert.Equal(t, 2, fake.createCount())
	assert.NotSame(t, first, fake.lastProcess())
	assert.Equal(t, domain.SessionStatusRunning, env.status(t, id))

	want := []int64{5, 6, 7, 8, 9, 10, 11, 12, 13, 14}
	assert.Equal(t, want, replayed)
	require.Len(t, res.Replayed, 10)
	assert.Equal(t, int64(5), res.Replayed[0].Sequence)

	// The resumed process continues the same log.
	events := env.events(t, id)
	require.Len(t, events, 17)
	requireGapFree(t, events)
	assert.Equal(t, "init-0", payloadText(t, events[15]))
}

func TestResumeReplayPrecedesNewEvents(t *testing.T) {
	env := newTestEnv(t, nil, nil)
	fake := &fakeAdapter{initEvents: 2}
	env.adapters.Register("echo", fake)

	resp, err := env.svc.CreateSession(context.Background(), "echo", domain.CreateSessionRequest{})
	require.NoError(t, err)
	id := resp.SessionID
	env.svc.CloseSession(context.Background(), id)

	var mu sync.Mutex
	var order []string
	env.svc.Bus().Subscribe(notify.TopicEventReplayed, id, func(n notify.Notification) {
		mu.Lock()
		order = append(order, fmt.Sprintf("replay-%d", n.Event.Sequence))
		mu.Unlock()
	})
	env.svc.Bus().Subscribe(notify.TopicEventRecorded, id, func(n notify.Notification) {
		mu.Lock()
		order = append(order, fmt.Sprintf("event-%d", n.Event.Sequence))
		mu.Unlock()
	})

	res, err := env.svc.ResumeSession(context.Background(), id)
	require.NoError(t, err)
	require.True(t, res.Resumed)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"replay-0", "replay-1", "event-2", "event-3"}, order)
}

func TestResumeAfterErrorRetries(t *testing.T) {
	env := newTestEnv(t, nil, nil)
	fake := &fakeAdapter{createErr: errors.New("boom")}
	env.adapters.Register("echo", fake)

	_, err := env.svc.CreateSession(context.Background(), "echo", domain.CreateSessionRequest{})
	require.Error(t, err)
	sessions, err := env.svc.ListSessions(context.Background(), "echo")
	require.NoError(t, err)
	id := sessions[0].SessionID

	env.adapters.Register("echo", &fakeAdapter{initEvents: 1})
	res, err := env.svc.ResumeSession(context.Background(), id)
	require.NoError(t, err)
	assert.True(t, res.Resumed)
	assert.Equal(t, domain.SessionStatusRunning, env.status(t, id))
}

func TestAttachReturnsCompleteHistory(t *testing.T) {
	env := newTestEnv(t, nil, nil)
	env.adapters.Register("echo", &fakeAdapter{initEvents: 4})

	resp, err := env.svc.CreateSession(context.Background(), "echo", domain.CreateSessionRequest{})
	require.NoError(t, err)
	require.NoError(t, env.svc.SendInput(context.Background(), resp.SessionID, "x"))

	res, err := env.svc.AttachToSession(context.Background(), resp.SessionID, 0)
	require.NoError(t, err)
	assert.Equal(t, resp.SessionID, res.Session.SessionID)
	require.Len(t, res.Events, 5)
	requireGapFree(t, res.Events)
	assert.NotNil(t, res.Process)

	partial, err := env.svc.AttachToSession(context.Background(), resp.SessionID, 3)
	require.NoError(t, err)
	require.Len(t, partial.Events, 2)
	assert.Equal(t, int64(3), partial.Events[0].Sequence)

	env.svc.CloseSession(context.Background(), resp.SessionID)
	res, err = env.svc.AttachToSession(context.Background(), resp.SessionID, 0)
	require.NoError(t, err)
	assert.Nil(t, res.Process)
	assert.Len(t, res.Events, 5)

	_, err = env.svc.AttachToSession(context.Background(), "nope", 0)
	assert.True(t, errors.Is(err, domain.ErrSessionNotFound))
}

func TestProcessExitClosesSession(t *testing.T) {
	env := newTestEnv(t, nil, nil)
	fake := &fakeAdapter{}
	env.adapters.Register("echo", fake)

	resp, err := env.svc.CreateSession(context.Background(), "echo", domain.CreateSessionRequest{})
	require.NoError(t, err)

	exit, err := domain.NewEventInput(domain.ChannelSystemStatus, domain.EventTypeExit, domain.StatusPayload{Status: domain.SessionStatusStopped})
	require.NoError(t, err)
	fake.lastProcess().events.Emit(exit)

	require.Eventually(t, func() bool {
		return !env.svc.live.Has(resp.SessionID) && env.status(t, resp.SessionID) == domain.SessionStatusStopped
	}, 2*time.Second, 10*time.Millisecond)
}

func TestProcessExitDuringInitializationClosesAfterStart(t *testing.T) {
	env := newTestEnv(t, nil, nil)
	env.adapters.Register("echo", &fakeAdapter{
		onCreate: func(opts adapter.CreateOptions) {
			exit, _ := domain.NewEventInput(domain.ChannelSystemStatus, domain.EventTypeExit, nil)
			opts.Events.Emit(exit)
		},
	})

	resp, err := env.svc.CreateSession(context.Background(), "echo", domain.CreateSessionRequest{})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return !env.svc.live.Has(resp.SessionID) && env.status(t, resp.SessionID) == domain.SessionStatusStopped
	}, 2*time.Second, 10*time.Millisecond)
	assert.Len(t, env.events(t, resp.SessionID), 1)
}

func TestReconcileOrphans(t *testing.T) {
	env := newTestEnv(t, nil, nil)
	env.adapters.Register("echo", &fakeAdapter{})

	helpers.SeedSession(t, env.store, "orphan-running", "echo", domain.SessionStatusRunning)
	helpers.SeedSession(t, env.store, "orphan-created", "echo", domain.SessionStatusCreated)
	helpers.SeedSession(t, env.store, "stopped", "echo", domain.SessionStatusStopped)
	live, err := env.svc.CreateSession(context.Background(), "echo", domain.CreateSessionRequest{})
	require.NoError(t, err)

	n, err := env.svc.ReconcileOrphans(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, domain.SessionStatusStopped, env.status(t, "orphan-running"))
	assert.Equal(t, domain.SessionStatusStopped, env.status(t, "orphan-created"))
	assert.Equal(t, domain.SessionStatusRunning, env.status(t, live.SessionID))
}

func TestShutdownClosesEveryLiveSession(t *testing.T) {
	env := newTestEnv(t, &config.Config{ShutdownConcurrency: 2}, nil)
	env.adapters.Register("echo", &fakeAdapter{})

	var ids []string
	for i := 0; i < 5; i++ {
		resp, err := env.svc.CreateSession(context.Background(), "echo", domain.CreateSessionRequest{})
		require.NoError(t, err)
		ids = append(ids, resp.SessionID)
	}
	assert.Len(t, env.svc.GetActiveSessions(), 5)

	env.svc.Shutdown(context.Background())

	assert.Equal(t, 0, env.svc.GetStats().ActiveSessions)
	for _, id := range ids {
		assert.Equal(t, domain.SessionStatusStopped, env.status(t, id))
	}
}

func TestPolicyBlocksCreateAtCapacity(t *testing.T) {
	engine, err := policy.NewEngine(context.Background(), policy.DefaultPolicy)
	require.NoError(t, err)
	env := newTestEnv(t, &config.Config{MaxSessions: 1}, engine)
	env.adapters.Register("echo", &fakeAdapter{})

	_, err = env.svc.CreateSession(context.Background(), "echo", domain.CreateSessionRequest{})
	require.NoError(t, err)

	_, err = env.svc.CreateSession(context.Background(), "echo", domain.CreateSessionRequest{})
	assert.True(t, errors.Is(err, domain.ErrPolicyDenied))

	sessions, err := env.svc.ListSessions(context.Background(), "")
	require.NoError(t, err)
	assert.Len(t, sessions, 1)
}

func TestStats(t *testing.T) {
	env := newTestEnv(t, nil, nil)
	env.adapters.Register("terminal", &fakeAdapter{})
	env.adapters.Register("echo", &fakeAdapter{initEvents: 2})

	resp, err := env.svc.CreateSession(context.Background(), "echo", domain.CreateSessionRequest{})
	require.NoError(t, err)

	stats := env.svc.GetStats()
	assert.Equal(t, 1, stats.ActiveSessions)
	assert.Equal(t, []string{"echo", "terminal"}, stats.AdapterKinds)

	active := env.svc.GetActiveSessions()
	require.Len(t, active, 1)
	assert.Equal(t, domain.ActiveSession{SessionID: resp.SessionID, Kind: "echo", NextSequence: 2}, active[0])
}
