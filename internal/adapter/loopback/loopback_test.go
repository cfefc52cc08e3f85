package loopback

import (
	"context"
	"encoding/json"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xiaot623/gogo/dispatch/internal/adapter"
	"github.com/xiaot623/gogo/dispatch/internal/domain"
)

type sink struct {
	mu     sync.Mutex
	events []domain.EventInput
}

func (s *sink) Emit(ev domain.EventInput) {
	s.mu.Lock()
	s.events = append(s.events, ev)
	s.mu.Unlock()
}

func (s *sink) texts(t *testing.T) []string {
	t.Helper()
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.events))
	for _, ev := range s.events {
		var text string
		require.NoError(t, json.Unmarshal(ev.Payload, &text))
		out = append(out, text)
	}
	return out
}

func TestCreateEmitsBannerAndEchoesInput(t *testing.T) {
	s := &sink{}
	proc, err := New().Create(context.Background(), adapter.CreateOptions{SessionID: "s1", Events: s})
	require.NoError(t, err)

	w, ok := proc.(adapter.InputWriter)
	require.True(t, ok)
	require.NoError(t, w.Input(context.Background(), "hello\n"))

	assert.Equal(t, []string{"echo session ready\r\n", "hello\n"}, s.texts(t))
	assert.Equal(t, domain.ChannelPTYOutput, s.events[1].Channel)
}

func TestCreateRequiresSink(t *testing.T) {
	_, err := New().Create(context.Background(), adapter.CreateOptions{SessionID: "s1"})
	assert.Error(t, err)
}

func TestResize(t *testing.T) {
	proc, err := (&Adapter{}).Create(context.Background(), adapter.CreateOptions{Events: &sink{}})
	require.NoError(t, err)
	op := proc.(adapter.Operator)

	res, err := op.PerformOperation(context.Background(), "resize", []json.RawMessage{json.RawMessage("120"), json.RawMessage("40")})
	require.NoError(t, err)
	assert.Equal(t, map[string]int{"cols": 120, "rows": 40}, res)

	_, err = op.PerformOperation(context.Background(), "resize", nil)
	assert.Error(t, err)

	_, err = op.PerformOperation(context.Background(), "zoom", nil)
	assert.ErrorIs(t, err, adapter.ErrOperationUnsupported)
}

func TestInputAfterClose(t *testing.T) {
	s := &sink{}
	proc, err := (&Adapter{}).Create(context.Background(), adapter.CreateOptions{Events: s})
	require.NoError(t, err)

	require.NoError(t, proc.Close(context.Background()))
	require.NoError(t, proc.Close(context.Background()))
	assert.Error(t, proc.(adapter.InputWriter).Input(context.Background(), "x"))
	assert.Empty(t, s.texts(t))
}
