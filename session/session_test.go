package session_test

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/liteagent-dev/liteagent/agent"
	"github.com/liteagent-dev/liteagent/eventbus"
	"github.com/liteagent-dev/liteagent/model"
	"github.com/liteagent-dev/liteagent/provider"
	"github.com/liteagent-dev/liteagent/session"
	"github.com/liteagent-dev/liteagent/textstream"
	"github.com/liteagent-dev/liteagent/tool"
)

type scriptedStream struct {
	msgs []*model.AssistantMessage
	i    int
}

func (s *scriptedStream) Next(context.Context) (*model.AssistantMessage, bool, error) {
	if s.i >= len(s.msgs) {
		return nil, false, nil
	}
	m := s.msgs[s.i]
	s.i++
	return m, true, nil
}

func (s *scriptedStream) Close() error { return nil }

type scriptedProvider struct {
	turns [][]*model.AssistantMessage
	reqs  []*provider.Request
}

func (p *scriptedProvider) Complete(_ context.Context, req *provider.Request) (provider.Stream, error) {
	p.reqs = append(p.reqs, req)
	if len(p.turns) == 0 {
		return &scriptedStream{}, nil
	}
	turn := p.turns[0]
	p.turns = p.turns[1:]
	return &scriptedStream{msgs: turn}, nil
}

func textTurn(text string) []*model.AssistantMessage {
	ts := textstream.NewTextStream("s-" + text)
	_ = ts.Append(text)
	ts.Complete()
	return []*model.AssistantMessage{{Content: ts}}
}

func TestSession_AccumulatesHistoryAcrossCalls(t *testing.T) {
	p := &scriptedProvider{turns: [][]*model.AssistantMessage{textTurn("Hi there!"), textTurn("I'm well, thanks.")}}
	a, err := agent.New(agent.Config{Name: "chat", Provider: p, Bus: eventbus.New()})
	require.NoError(t, err)

	s := session.New(a)

	res1, err := s.Call(context.Background(), agent.Text("Hello"))
	require.NoError(t, err)
	assert.Equal(t, "Hi there!", res1.FinalText)

	res2, err := s.Call(context.Background(), agent.Text("How are you?"))
	require.NoError(t, err)
	assert.Equal(t, "I'm well, thanks.", res2.FinalText)

	// The second provider call must have seen the first turn's user and
	// assistant messages in its history.
	require.Len(t, p.reqs, 2)
	var sawFirstUser, sawFirstAssistant bool
	for _, m := range p.reqs[1].Messages {
		if m.Role == model.RoleUser {
			for _, c := range m.User.Content {
				if tc, ok := c.(model.TextContent); ok && tc.Text == "Hello" {
					sawFirstUser = true
				}
			}
		}
		if m.Role == model.RoleAssistant {
			if tv, ok := m.Assistant.Content.(model.TextValue); ok && tv.Text == "Hi there!" {
				sawFirstAssistant = true
			}
		}
	}
	assert.True(t, sawFirstUser)
	assert.True(t, sawFirstAssistant)
}

func TestSession_CoalescesAssistantTextBlocksIntoOneEntry(t *testing.T) {
	ts1 := textstream.NewTextStream("block-1")
	_ = ts1.Append("Hello, ")
	ts1.Complete()
	ts2 := textstream.NewTextStream("block-2")
	_ = ts2.Append("world.")
	ts2.Complete()

	p := &scriptedProvider{turns: [][]*model.AssistantMessage{
		{{Content: ts1}, {Content: ts2}},
	}}
	a, err := agent.New(agent.Config{Name: "chat", Provider: p, Bus: eventbus.New()})
	require.NoError(t, err)

	s := session.New(a)
	_, err = s.Call(context.Background(), agent.Text("hi"))
	require.NoError(t, err)

	hist := s.History()
	var assistantEntries int
	for _, m := range hist {
		if m.Role == model.RoleAssistant {
			assistantEntries++
			tv, ok := m.Assistant.Content.(model.TextValue)
			require.True(t, ok)
			assert.Equal(t, "Hello, world.", tv.Text)
		}
	}
	assert.Equal(t, 1, assistantEntries)
}

func toolCallTurn(toolUseID, name string, args any) []*model.AssistantMessage {
	raw, _ := json.Marshal(args)
	tus := textstream.NewToolUseStream(toolUseID, name)
	_ = tus.Append(string(raw))
	tus.Complete()
	return []*model.AssistantMessage{
		{Content: tus},
		{Content: model.ToolUse{ToolUseID: toolUseID, Name: name, Arguments: raw}},
	}
}

func TestSession_SecondCallAfterToolUseDoesNotLeakLiveStream(t *testing.T) {
	echo, err := tool.New("echo", "echoes its input",
		json.RawMessage(`{"type":"object","properties":{"msg":{"type":"string"}},"required":["msg"],"additionalProperties":false}`),
		func(_ context.Context, args json.RawMessage) (any, error) {
			var in struct{ Msg string }
			if err := json.Unmarshal(args, &in); err != nil {
				return nil, err
			}
			return in.Msg, nil
		})
	require.NoError(t, err)

	p := &scriptedProvider{turns: [][]*model.AssistantMessage{
		toolCallTurn("call-1", "echo", map[string]string{"msg": "hi"}),
		textTurn("done"),
		textTurn("still here"),
	}}
	a, err := agent.New(agent.Config{Name: "chat", Provider: p, Bus: eventbus.New(), Tools: []*tool.Tool{echo}})
	require.NoError(t, err)

	s := session.New(a)
	res1, err := s.Call(context.Background(), agent.Text("echo hi"))
	require.NoError(t, err)
	assert.Equal(t, "done", res1.FinalText)

	// A second call re-sends the buffered history as this call's seed;
	// if commit had kept the live *textstream.ToolUseStream placeholder
	// instead of dropping it, it would now be replayed into a provider
	// request's history.
	res2, err := s.Call(context.Background(), agent.Text("anything else?"))
	require.NoError(t, err)
	assert.Equal(t, "still here", res2.FinalText)

	for _, m := range s.History() {
		if m.Role == model.RoleAssistant {
			_, isStream := m.Assistant.Content.(*textstream.ToolUseStream)
			assert.False(t, isStream, "ToolUseStream placeholder must not be committed to session history")
		}
	}
}

func TestSession_ResetClearsBuffer(t *testing.T) {
	p := &scriptedProvider{turns: [][]*model.AssistantMessage{textTurn("ok")}}
	a, err := agent.New(agent.Config{Name: "chat", Provider: p, Bus: eventbus.New()})
	require.NoError(t, err)

	s := session.New(a)
	_, err = s.Call(context.Background(), agent.Text("hi"))
	require.NoError(t, err)
	assert.NotEmpty(t, s.History())

	s.Reset()
	assert.Empty(t, s.History())
}
