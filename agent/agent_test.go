package agent_test

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/liteagent-dev/liteagent/agent"
	"github.com/liteagent-dev/liteagent/eventbus"
	"github.com/liteagent-dev/liteagent/model"
	"github.com/liteagent-dev/liteagent/provider"
	"github.com/liteagent-dev/liteagent/telemetry"
	"github.com/liteagent-dev/liteagent/textstream"
	"github.com/liteagent-dev/liteagent/tool"
)

// scriptedStream replays a fixed slice of assistant messages. Unlike
// providers/anthropic and providers/openai, which yield a text/tool-use
// accumulator as soon as its block starts and complete it later, the
// scripted accumulators are expected to already be complete by the time
// they're handed to Next.
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

// scriptedProvider yields one pre-built turn per call to Complete, in
// order. Calling Complete more times than there are turns returns an
// immediately empty stream, mirroring a model that has nothing left to
// say.
type scriptedProvider struct {
	mu    sync.Mutex
	turns [][]*model.AssistantMessage
	reqs  []*provider.Request
}

func (p *scriptedProvider) Complete(_ context.Context, req *provider.Request) (provider.Stream, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
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

func newTestAgent(t *testing.T, p *scriptedProvider, extra func(*agent.Config)) *agent.Agent {
	t.Helper()
	cfg := agent.Config{
		Name:     "tester",
		Provider: p,
		Bus:      eventbus.New(),
	}
	if extra != nil {
		extra(&cfg)
	}
	a, err := agent.New(cfg)
	require.NoError(t, err)
	return a
}

func TestAgent_SimpleTextNoTools(t *testing.T) {
	p := &scriptedProvider{turns: [][]*model.AssistantMessage{textTurn("OK")}}
	a := newTestAgent(t, p, nil)

	res, err := a.Call(context.Background(), agent.Text("Say exactly: OK"))
	require.NoError(t, err)
	assert.Equal(t, "OK", res.FinalText)
	assert.Len(t, p.reqs, 1)
}

func TestAgent_SingleToolCall(t *testing.T) {
	add, err := tool.New("add", "adds two integers",
		json.RawMessage(`{"type":"object","properties":{"a":{"type":"integer"},"b":{"type":"integer"}},"required":["a","b"],"additionalProperties":false}`),
		func(_ context.Context, args json.RawMessage) (any, error) {
			var in struct{ A, B int }
			if err := json.Unmarshal(args, &in); err != nil {
				return nil, err
			}
			return in.A + in.B, nil
		})
	require.NoError(t, err)

	p := &scriptedProvider{turns: [][]*model.AssistantMessage{
		toolCallTurn("call-1", "add", map[string]int{"a": 2, "b": 3}),
		textTurn("The answer is 5"),
	}}
	a := newTestAgent(t, p, func(c *agent.Config) { c.Tools = []*tool.Tool{add} })

	res, err := a.Call(context.Background(), agent.Text("What is 2+3 using the add tool?"))
	require.NoError(t, err)
	assert.Contains(t, res.FinalText, "5")

	// Second provider call must see the tool result in history, not the
	// live ToolUseStream placeholder.
	require.Len(t, p.reqs, 2)
	var sawToolResult bool
	for _, m := range p.reqs[1].Messages {
		if m.Role == model.RoleTool {
			sawToolResult = true
			assert.Equal(t, "call-1", m.Tool.ToolUseID)
		}
		if m.Role == model.RoleAssistant {
			_, isStream := m.Assistant.Content.(*textstream.ToolUseStream)
			assert.False(t, isStream, "ToolUseStream placeholder must not leak into provider history")
		}
	}
	assert.True(t, sawToolResult)
}

func TestAgent_UnknownToolIsFatal(t *testing.T) {
	p := &scriptedProvider{turns: [][]*model.AssistantMessage{
		toolCallTurn("call-1", "does_not_exist", map[string]int{}),
	}}
	a := newTestAgent(t, p, nil)

	_, err := a.Call(context.Background(), agent.Text("hi"))
	assert.ErrorIs(t, err, agent.ErrUnknownTool)
}

func TestAgent_ParallelToolsBothExecuted(t *testing.T) {
	var calledA, calledB bool
	var mu sync.Mutex
	getA, err := tool.New("get_a", "returns A", json.RawMessage(`{"type":"object","properties":{},"required":[],"additionalProperties":false}`),
		func(context.Context, json.RawMessage) (any, error) {
			mu.Lock()
			calledA = true
			mu.Unlock()
			return "A", nil
		})
	require.NoError(t, err)
	getB, err := tool.New("get_b", "returns B", json.RawMessage(`{"type":"object","properties":{},"required":[],"additionalProperties":false}`),
		func(context.Context, json.RawMessage) (any, error) {
			mu.Lock()
			calledB = true
			mu.Unlock()
			return "B", nil
		})
	require.NoError(t, err)

	turn1 := append(toolCallTurn("call-a", "get_a", map[string]any{}), toolCallTurn("call-b", "get_b", map[string]any{})...)
	p := &scriptedProvider{turns: [][]*model.AssistantMessage{turn1, textTurn("A and B")}}
	a := newTestAgent(t, p, func(c *agent.Config) { c.Tools = []*tool.Tool{getA, getB} })

	res, err := a.Call(context.Background(), agent.Text("Call both tools then report."))
	require.NoError(t, err)
	assert.True(t, calledA)
	assert.True(t, calledB)
	assert.Contains(t, res.FinalText, "A and B")
}

func TestAgent_EagerToolPrecedesFirstProviderCall(t *testing.T) {
	clock, err := tool.New("clock", "current time", json.RawMessage(`{"type":"object","properties":{},"required":[],"additionalProperties":false}`),
		func(context.Context, json.RawMessage) (any, error) { return "2025-01-01T00:00:00Z", nil })
	require.NoError(t, err)
	clock = clock.WithEager()

	p := &scriptedProvider{turns: [][]*model.AssistantMessage{textTurn("It's 2025.")}}
	a := newTestAgent(t, p, func(c *agent.Config) { c.Tools = []*tool.Tool{clock} })

	st, err := a.Run(context.Background(), agent.Text("What time is it?"))
	require.NoError(t, err)

	var msgs []model.Message
	for {
		m, ok, err := st.Next(context.Background())
		require.NoError(t, err)
		if !ok {
			break
		}
		msgs = append(msgs, m)
	}

	// seed order: system, then the eager tool's (assistant tool-use, tool
	// result) pair, then the user turn.
	require.True(t, len(msgs) >= 4)
	assert.Equal(t, model.RoleSystem, msgs[0].Role)
	assert.Equal(t, model.RoleAssistant, msgs[1].Role)
	assert.Equal(t, model.RoleTool, msgs[2].Role)
	assert.Equal(t, model.RoleUser, msgs[3].Role)
}

func TestAgent_StructuredOutput(t *testing.T) {
	raw := json.RawMessage(`{"n":4,"even":true}`)
	p := &scriptedProvider{turns: [][]*model.AssistantMessage{
		{{Content: model.StructuredValue{Value: map[string]any{"n": 4.0, "even": true}}}},
	}}
	a := newTestAgent(t, p, func(c *agent.Config) {
		c.RespondAs = &provider.ResponseSchema{Schema: raw}
	})

	res, err := a.Call(context.Background(), agent.Text("n=4"))
	require.NoError(t, err)
	require.NotEmpty(t, res.Structured)

	type out struct {
		N    int  `json:"n"`
		Even bool `json:"even"`
	}
	got, err := agent.DecodeStructured[out](res)
	require.NoError(t, err)
	assert.Equal(t, 4, got.N)
	assert.True(t, got.Even)
}

func TestAgent_SubAgentDispatch(t *testing.T) {
	mathProvider := &scriptedProvider{turns: [][]*model.AssistantMessage{textTurn("4")}}
	math := newTestAgent(t, mathProvider, func(c *agent.Config) {
		c.Name = "math"
		c.Signature = []agent.Param{{Name: "expr", Type: agent.ParamString, Required: true}}
	})

	coordProvider := &scriptedProvider{turns: [][]*model.AssistantMessage{
		toolCallTurn("dispatch-1", "math_redirection", map[string]string{"expr": "2+2"}),
		textTurn("math says 4"),
	}}
	coordinator := newTestAgent(t, coordProvider, func(c *agent.Config) {
		c.Name = "coordinator"
		c.Team = []*agent.Agent{math}
	})

	res, err := coordinator.Call(context.Background(), agent.Text("Delegate '2+2' to math"))
	require.NoError(t, err)
	assert.Contains(t, res.FinalText, "4")
}

func TestAgent_InputGuardRejectsBeforeProviderCall(t *testing.T) {
	p := &scriptedProvider{turns: [][]*model.AssistantMessage{textTurn("should not run")}}
	guard := rejectingInputGuard{}
	a := newTestAgent(t, p, func(c *agent.Config) { c.InputGuards = []agent.InputGuard{guard} })

	_, err := a.Call(context.Background(), agent.Text("bad input"))
	assert.Error(t, err)
	assert.Empty(t, p.reqs)
}

type rejectingInputGuard struct{}

func (rejectingInputGuard) ValidateInput(context.Context, string) (string, error) {
	return "", assert.AnError
}

func textTurnWithUsage(text string, usage *model.TokenUsage) []*model.AssistantMessage {
	turn := textTurn(text)
	turn[0].Usage = usage
	return turn
}

// recordingMetrics captures every gauge recorded so tests can assert the
// loop actually surfaced TokenUsage instead of discarding it.
type recordingMetrics struct {
	mu     sync.Mutex
	gauges []string
}

func (m *recordingMetrics) IncCounter(string, float64, ...string)        {}
func (m *recordingMetrics) RecordTimer(string, time.Duration, ...string) {}
func (m *recordingMetrics) RecordGauge(name string, _ float64, _ ...string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.gauges = append(m.gauges, name)
}

// recordingTracer counts spans started and ended, without depending on a
// real OTel exporter.
type recordingTracer struct {
	mu      sync.Mutex
	started int
	ended   int
}

type recordingSpan struct{ t *recordingTracer }

func (t *recordingTracer) Start(ctx context.Context, _ string, _ ...trace.SpanStartOption) (context.Context, telemetry.Span) {
	t.mu.Lock()
	t.started++
	t.mu.Unlock()
	return ctx, &recordingSpan{t: t}
}

func (s *recordingSpan) End(...trace.SpanEndOption) {
	s.t.mu.Lock()
	s.t.ended++
	s.t.mu.Unlock()
}
func (s *recordingSpan) AddEvent(string, ...any)                 {}
func (s *recordingSpan) SetStatus(codes.Code, string)            {}
func (s *recordingSpan) RecordError(error, ...trace.EventOption) {}

func TestAgent_RecordsTokenUsageThroughMetrics(t *testing.T) {
	p := &scriptedProvider{turns: [][]*model.AssistantMessage{
		textTurnWithUsage("hi", &model.TokenUsage{InputTokens: 10, OutputTokens: 5}),
	}}
	metrics := &recordingMetrics{}
	a := newTestAgent(t, p, func(c *agent.Config) { c.Metrics = metrics })

	_, err := a.Call(context.Background(), agent.Text("hello"))
	require.NoError(t, err)

	metrics.mu.Lock()
	defer metrics.mu.Unlock()
	assert.Contains(t, metrics.gauges, "liteagent.tokens.input")
	assert.Contains(t, metrics.gauges, "liteagent.tokens.output")
}

func TestAgent_WrapsEachProviderTurnInASpan(t *testing.T) {
	p := &scriptedProvider{turns: [][]*model.AssistantMessage{
		toolCallTurn("call-1", "noop", map[string]any{}),
		textTurn("done"),
	}}
	noop, err := tool.New("noop", "does nothing", json.RawMessage(`{"type":"object","properties":{},"additionalProperties":false}`),
		func(context.Context, json.RawMessage) (any, error) { return "ok", nil })
	require.NoError(t, err)

	tracer := &recordingTracer{}
	a := newTestAgent(t, p, func(c *agent.Config) {
		c.Tools = []*tool.Tool{noop}
		c.Tracer = tracer
	})

	_, err = a.Call(context.Background(), agent.Text("use the tool"))
	require.NoError(t, err)

	tracer.mu.Lock()
	defer tracer.mu.Unlock()
	assert.Equal(t, 2, tracer.started, "one span per provider turn")
	assert.Equal(t, tracer.started, tracer.ended)
}
