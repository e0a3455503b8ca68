package eventbus

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func waitFor(t *testing.T, fn func() bool) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if fn() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	require.Fail(t, "condition not met before deadline")
}

func TestBus_DeliversToRegisteredHandler(t *testing.T) {
	b := New()
	defer b.Close()

	var got atomic.Value
	b.On(AgentCall, func(_ context.Context, e Event) bool {
		got.Store(e)
		return true
	})

	evt := NewAgentCallEvent("a1", "loop-1", "researcher", 1)
	require.NoError(t, b.Emit(context.Background(), evt))

	waitFor(t, func() bool { return got.Load() != nil })
	assert.Equal(t, evt, got.Load())
}

func TestBus_DedupDropsRepeatedEventID(t *testing.T) {
	b := New()
	defer b.Close()

	var calls int32
	b.On(AgentCall, func(_ context.Context, _ Event) bool {
		atomic.AddInt32(&calls, 1)
		return true
	})

	evt := NewAgentCallEvent("a1", "loop-1", "researcher", 1)
	require.NoError(t, b.Emit(context.Background(), evt))
	require.NoError(t, b.Emit(context.Background(), evt))

	time.Sleep(20 * time.Millisecond)
	assert.EqualValues(t, 1, atomic.LoadInt32(&calls))
}

func TestBus_HandlerPanicDoesNotStopDelivery(t *testing.T) {
	b := New(WithErrorHandler(func(EventType, any) {}))
	defer b.Close()

	var secondCalled atomic.Bool
	b.On(ToolExecutionStart, func(context.Context, Event) bool {
		panic("boom")
	})
	b.On(ToolExecutionStart, func(context.Context, Event) bool {
		secondCalled.Store(true)
		return true
	})

	evt := NewToolExecutionStartEvent("a1", "loop-1", "call-1", "search", nil, 2)
	require.NoError(t, b.Emit(context.Background(), evt))

	waitFor(t, secondCalled.Load)
}

func TestBus_HandlerReturningFalseAutoUnregisters(t *testing.T) {
	b := New()
	defer b.Close()

	var calls int32
	b.On(UserMessage, func(context.Context, Event) bool {
		atomic.AddInt32(&calls, 1)
		return false
	})

	for i := 0; i < 2; i++ {
		evt := &UserMessageEvent{baseEvent: newBase("a1", "loop-1", indexedID(i), int64(i))}
		require.NoError(t, b.Emit(context.Background(), evt))
	}

	time.Sleep(20 * time.Millisecond)
	assert.EqualValues(t, 1, atomic.LoadInt32(&calls))
}

func indexedID(i int) string {
	if i == 0 {
		return "msg-0"
	}
	return "msg-1"
}

func indexedLoopID(i int) string {
	return "loop-" + string(rune('a'+i))
}

func TestBus_ConcurrentRegisterThenEmit(t *testing.T) {
	b := New()
	defer b.Close()

	var wg sync.WaitGroup
	var total int32
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			b.On(AgentCall, func(context.Context, Event) bool {
				atomic.AddInt32(&total, 1)
				return true
			})
		}(i)
	}
	wg.Wait()

	for i := 0; i < 5; i++ {
		evt := NewAgentCallEvent("a1", indexedLoopID(i), "researcher", int64(100+i))
		require.NoError(t, b.Emit(context.Background(), evt))
	}

	waitFor(t, func() bool { return atomic.LoadInt32(&total) == 40 })
}

func TestSubscription_CloseIsIdempotent(t *testing.T) {
	b := New()
	defer b.Close()

	sub := b.On(AgentCall, func(context.Context, Event) bool { return true })
	sub.Close()
	assert.NotPanics(t, func() { sub.Close() })
}

func TestBus_EmitAfterCloseReturnsError(t *testing.T) {
	b := New()
	b.Close()

	err := b.Emit(context.Background(), NewAgentCallEvent("a1", "loop-1", "researcher", 1))
	assert.Error(t, err)
}
