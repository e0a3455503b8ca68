package textstream_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/liteagent-dev/liteagent/textstream"
)

func TestTextStream_AwaitCompleteMatchesDeltas(t *testing.T) {
	s := textstream.NewTextStream("s1")
	deltas := []string{"Hel", "lo, ", "world"}
	for _, d := range deltas {
		require.NoError(t, s.Append(d))
	}
	s.Complete()

	got, err := s.AwaitComplete(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "Hello, world", got)
}

func TestTextStream_AppendAfterCompleteFails(t *testing.T) {
	s := textstream.NewTextStream("s2")
	s.Complete()
	assert.ErrorIs(t, s.Append("x"), textstream.ErrAlreadyComplete)
	assert.ErrorIs(t, s.Set("x"), textstream.ErrAlreadyComplete)
}

func TestTextStream_CompleteIsIdempotent(t *testing.T) {
	s := textstream.NewTextStream("s3")
	require.NoError(t, s.Append("a"))
	s.Complete()
	s.Complete() // second call is a documented no-op, must not panic
	assert.True(t, s.IsComplete())
	assert.Equal(t, "a", s.Get())
}

func TestTextStream_LateSubscriberReplaysPriorDeltas(t *testing.T) {
	s := textstream.NewTextStream("s4")
	require.NoError(t, s.Append("a"))
	require.NoError(t, s.Append("b"))
	require.NoError(t, s.Append("c"))

	cur := s.Subscribe()
	defer cur.Close()

	select {
	case first := <-cur.C():
		assert.Equal(t, "abc", first)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for replay")
	}
}

func TestTextStream_ConcurrentSubscribersDoNotInterfere(t *testing.T) {
	s := textstream.NewTextStream("s5")
	cur1 := s.Subscribe()
	cur2 := s.Subscribe()
	defer cur1.Close()
	defer cur2.Close()

	require.NoError(t, s.Append("x"))

	for _, cur := range []*textstream.Cursor{cur1, cur2} {
		select {
		case v := <-cur.C():
			assert.Contains(t, []string{"", "x"}, v)
		case <-time.After(time.Second):
			t.Fatal("timed out")
		}
	}
}

func TestTextStream_SubscribeClosesOnCompletion(t *testing.T) {
	s := textstream.NewTextStream("s6")
	cur := s.Subscribe()
	defer cur.Close()

	require.NoError(t, s.Append("done"))
	s.Complete()

	deadline := time.After(2 * time.Second)
	var last string
	for {
		select {
		case v, ok := <-cur.C():
			if !ok {
				assert.Equal(t, "done", last)
				return
			}
			last = v
		case <-deadline:
			t.Fatal("timed out waiting for channel close")
		}
	}
}

func TestToolUseStream_AccumulatesRawJSON(t *testing.T) {
	s := textstream.NewToolUseStream("call_1", "add")
	require.NoError(t, s.Append(`{"a":`))
	require.NoError(t, s.Append(`2,"b":3}`))
	s.Complete()

	got, err := s.AwaitComplete(context.Background())
	require.NoError(t, err)
	assert.Equal(t, `{"a":2,"b":3}`, got)
	assert.Equal(t, "add", s.Name)
}
