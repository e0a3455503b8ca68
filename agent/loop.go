package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"

	"go.opentelemetry.io/otel/codes"

	"github.com/liteagent-dev/liteagent/eventbus"
	"github.com/liteagent-dev/liteagent/model"
	"github.com/liteagent-dev/liteagent/provider"
	"github.com/liteagent-dev/liteagent/textstream"
	"github.com/liteagent-dev/liteagent/tool"
)

// Run starts a loop invocation and returns immediately with a Stream the
// caller drains. Input validation via Config.InputGuards happens here, not
// in Call, so both streaming and non-streaming callers get it; only
// output validation is Call-only, since it requires the materialized
// final text.
func (a *Agent) Run(ctx context.Context, input Input) (*Stream, error) {
	if len(a.cfg.InputGuards) > 0 {
		text := firstText(input)
		for _, g := range a.cfg.InputGuards {
			validated, err := g.ValidateInput(ctx, text)
			if err != nil {
				return nil, err
			}
			text = validated
		}
		input = withFirstText(input, text)
	}

	loopID := input.LoopID
	if loopID == "" {
		loopID = newLoopID()
	}
	st := newStream(loopID)
	go func() {
		res, err := a.runLoop(ctx, loopID, input, st.ch)
		st.finish(res, err)
	}()
	return st, nil
}

// Call drains Run's Stream to completion and, if Config.OutputGuards are
// set, validates the final text before returning.
func (a *Agent) Call(ctx context.Context, input Input) (*Result, error) {
	st, err := a.Run(ctx, input)
	if err != nil {
		return nil, err
	}
	for {
		_, ok, nerr := st.Next(ctx)
		if nerr != nil {
			return nil, nerr
		}
		if !ok {
			break
		}
	}
	res, err := st.Result()
	if err != nil {
		return nil, err
	}
	if len(a.cfg.OutputGuards) > 0 {
		text := res.FinalText
		for _, g := range a.cfg.OutputGuards {
			validated, gerr := g.ValidateOutput(ctx, text)
			if gerr != nil {
				return nil, gerr
			}
			text = validated
		}
		res.FinalText = text
	}
	return res, nil
}

func (a *Agent) runLoop(ctx context.Context, loopID string, input Input, out chan model.Message) (*Result, error) {
	a.emit(ctx, eventbus.NewAgentCallEvent(a.id, loopID, a.cfg.Name, nowMillis()))

	seed := make([]model.Message, 0, 4)
	sys := model.NewSystemMessage(loopID, a.renderSystemPrompt())
	seed = append(seed, sys)
	a.emit(ctx, eventbus.NewSystemMessageEvent(a.id, sys, nowMillis()))

	for _, pair := range a.runEagerTools(ctx, loopID) {
		seed = append(seed, pair)
	}

	seed = append(seed, input.History...)

	user := a.buildUserMessage(loopID, input)
	seed = append(seed, user)
	a.emit(ctx, eventbus.NewUserMessageEvent(a.id, user, nowMillis()))

	for _, msg := range seed {
		forward(ctx, out, msg)
	}

	messages := append([]model.Message(nil), seed...)
	var appended []model.Message
	retries := a.cfg.StructuredRetries
	respondName := a.respondToolName()

	for {
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("%w: %w", ErrCanceled, ctx.Err())
		default:
		}

		turnCtx, span := a.cfg.Tracer.Start(ctx, "liteagent.agent.turn")
		req := a.buildRequest(messages)
		ps, err := a.cfg.Provider.Complete(turnCtx, req)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			span.End()
			return nil, fmt.Errorf("agent %q: provider call: %w", a.cfg.Name, err)
		}

		turn, toolUses, respondValue, finalText, usage, cerr := a.consumeProviderStream(turnCtx, loopID, ps, out, respondName)
		_ = ps.Close()
		if cerr != nil {
			span.RecordError(cerr)
			span.SetStatus(codes.Error, cerr.Error())
			span.End()
			return nil, cerr
		}
		span.End()
		a.recordUsage(usage)
		messages = append(messages, materializeHistory(turn)...)
		appended = append(appended, turn...)

		if respondValue != nil {
			return &Result{LoopID: loopID, Messages: appended, Structured: respondValue}, nil
		}

		if len(toolUses) == 0 {
			if a.cfg.RespondAs != nil {
				parsed, perr := coerceStructured(finalText)
				if perr == nil {
					return &Result{LoopID: loopID, Messages: appended, Structured: parsed}, nil
				}
				if retries > 0 {
					retries--
					corrective := model.NewUserMessage(loopID, model.TextContent{
						Text: "Your previous response did not match the required JSON schema. Respond again with only valid JSON matching the schema.",
					})
					messages = append(messages, corrective)
					appended = append(appended, corrective)
					forward(ctx, out, corrective)
					continue
				}
				return nil, fmt.Errorf("%w: %v", ErrStructuredOutput, perr)
			}
			return &Result{LoopID: loopID, Messages: appended, FinalText: finalText}, nil
		}

		for _, tu := range toolUses {
			if _, ok := a.toolByName[tu.Name]; !ok {
				return nil, fmt.Errorf("%w: %s", ErrUnknownTool, tu.Name)
			}
		}

		toolMsgs := a.executeTools(ctx, loopID, toolUses, out)
		messages = append(messages, toolMsgs...)
		appended = append(appended, toolMsgs...)
	}
}

// consumeProviderStream drains one provider turn, forwarding each message
// to out as soon as it arrives and spawning a watcher goroutine per
// streaming content block to relay its mutations onto the event bus. Once
// the provider stream ends it returns after every watcher has observed its
// block's completion; on a stream error it returns at once, without
// waiting for the watchers.
func (a *Agent) consumeProviderStream(
	ctx context.Context,
	loopID string,
	ps provider.Stream,
	out chan model.Message,
	respondName string,
) (turn []model.Message, toolUses []model.ToolUse, respondValue json.RawMessage, finalText string, usage *model.TokenUsage, err error) {
	var wg sync.WaitGroup
	var textMu sync.Mutex
	type slot struct {
		idx  int
		text string
	}
	var slots []slot
	nextIdx := 0
	var counter int64

	for {
		msg, ok, nerr := ps.Next(ctx)
		if nerr != nil {
			err = fmt.Errorf("agent %q: provider stream: %w", a.cfg.Name, nerr)
			return
		}
		if !ok {
			break
		}
		if msg.Usage != nil {
			usage = msg.Usage
		}

		switch c := msg.Content.(type) {
		case *textstream.TextStream:
			wrapped := model.NewAssistantMessage(loopID, c.StreamID, model.AssistantMessage{Content: c, Usage: msg.Usage})
			forward(ctx, out, wrapped)
			turn = append(turn, wrapped)

			idx := nextIdx
			nextIdx++
			wg.Add(1)
			go func(ts *textstream.TextStream, idx int) {
				defer wg.Done()
				final := a.watchText(ctx, loopID, ts, &counter)
				textMu.Lock()
				slots = append(slots, slot{idx: idx, text: final})
				textMu.Unlock()
			}(c, idx)

		case *textstream.ToolUseStream:
			wrapped := model.NewAssistantMessage(loopID, c.ToolUseID, model.AssistantMessage{Content: c, Usage: msg.Usage})
			forward(ctx, out, wrapped)
			turn = append(turn, wrapped)

			wg.Add(1)
			go func(tus *textstream.ToolUseStream) {
				defer wg.Done()
				a.watchToolUse(ctx, loopID, tus, &counter)
			}(c)

		case model.ToolUse:
			isRespond := respondName != "" && c.Name == respondName && a.cfg.RespondAs != nil
			wrapped := model.NewAssistantMessage(loopID, c.ToolUseID, model.AssistantMessage{Content: c, Usage: msg.Usage})
			forward(ctx, out, wrapped)
			turn = append(turn, wrapped)
			a.emit(ctx, eventbus.NewToolRequestCompleteEvent(a.id, loopID, c, nowMillis()))
			if isRespond {
				respondValue = append([]byte(nil), c.Arguments...)
				continue
			}
			toolUses = append(toolUses, c)

		case model.StructuredValue:
			data, merr := json.Marshal(c.Value)
			if merr == nil {
				respondValue = data
			}
			wrapped := model.NewAssistantMessage(loopID, loopID, model.AssistantMessage{Content: c, Usage: msg.Usage})
			forward(ctx, out, wrapped)
			turn = append(turn, wrapped)
		}
	}

	wg.Wait()
	sort.Slice(slots, func(i, j int) bool { return slots[i].idx < slots[j].idx })
	for _, s := range slots {
		finalText += s.text
	}
	return
}

func (a *Agent) watchText(ctx context.Context, loopID string, ts *textstream.TextStream, counter *int64) string {
	cur := ts.Subscribe()
	defer cur.Close()
	var final string
	for {
		select {
		case val, ok := <-cur.C():
			if !ok {
				msg := model.NewAssistantMessage(loopID, ts.StreamID, model.AssistantMessage{Content: ts})
				a.emit(ctx, eventbus.NewAssistantMessageCompleteEvent(a.id, msg, nowMillis()))
				return final
			}
			final = val
			id := fmt.Sprintf("%s#%d", ts.StreamID, atomic.AddInt64(counter, 1))
			a.emit(ctx, eventbus.NewAssistantMessagePartialEvent(a.id, loopID, ts.StreamID, val, id, nowMillis()))
		case <-ctx.Done():
			return final
		}
	}
}

func (a *Agent) watchToolUse(ctx context.Context, loopID string, tus *textstream.ToolUseStream, counter *int64) {
	cur := tus.Subscribe()
	defer cur.Close()
	for {
		select {
		case val, ok := <-cur.C():
			if !ok {
				return
			}
			id := fmt.Sprintf("%s#%d", tus.ToolUseID, atomic.AddInt64(counter, 1))
			a.emit(ctx, eventbus.NewToolRequestPartialEvent(a.id, loopID, tus.ToolUseID, tus.Name, val, id, nowMillis()))
		case <-ctx.Done():
			return
		}
	}
}

// materializeHistory adapts one provider turn's observable messages into
// the shape fed back to the next provider call: completed TextStreams are
// materialized into model.TextValue so wire encoders never see a live
// accumulator, and ToolUseStream placeholder messages are dropped — each
// is superseded by the terminal model.ToolUse message the same turn
// always yields for it, and carrying both would be redundant history a
// provider adapter cannot encode.
func materializeHistory(turn []model.Message) []model.Message {
	out := make([]model.Message, 0, len(turn))
	for _, m := range turn {
		if m.Role == model.RoleAssistant && m.Assistant != nil {
			switch c := m.Assistant.Content.(type) {
			case *textstream.ToolUseStream:
				continue
			case *textstream.TextStream:
				cp := *m.Assistant
				cp.Content = model.TextValue{Text: c.Get()}
				m.Assistant = &cp
			}
		}
		out = append(out, m)
	}
	return out
}

// recordUsage surfaces one turn's token accounting through the configured
// Metrics recorder (a no-op unless Config.Metrics was set), tagged by
// agent name so a multi-agent process can attribute consumption.
func (a *Agent) recordUsage(usage *model.TokenUsage) {
	if usage == nil {
		return
	}
	tags := []string{"agent", a.cfg.Name}
	a.cfg.Metrics.RecordGauge("liteagent.tokens.input", float64(usage.InputTokens), tags...)
	a.cfg.Metrics.RecordGauge("liteagent.tokens.output", float64(usage.OutputTokens), tags...)
	a.cfg.Metrics.RecordGauge("liteagent.tokens.cache_read", float64(usage.CacheReadTokens), tags...)
	a.cfg.Metrics.RecordGauge("liteagent.tokens.cache_write", float64(usage.CacheWriteTokens), tags...)
}

func coerceStructured(text string) (json.RawMessage, error) {
	var v any
	if err := json.Unmarshal([]byte(text), &v); err != nil {
		return nil, err
	}
	return json.RawMessage(text), nil
}

func (a *Agent) buildRequest(messages []model.Message) *provider.Request {
	return &provider.Request{
		Messages:    messages,
		Tools:       provider.ToolDefinitionsFrom(a.allTools),
		ToolChoice:  a.cfg.ToolChoice,
		RespondAs:   a.cfg.RespondAs,
		Model:       a.cfg.Model,
		MaxTokens:   a.cfg.MaxTokens,
		Temperature: a.cfg.Temperature,
		Extra:       a.cfg.Extra,
	}
}

func (a *Agent) buildUserMessage(loopID string, input Input) model.Message {
	if len(input.Content) > 0 {
		return model.NewUserMessage(loopID, input.Content...)
	}
	if len(input.Args) > 0 {
		text := a.cfg.UserPromptTemplate
		if text != "" {
			text = renderTemplate(text, argsToStrings(input.Args))
		} else {
			text = fmt.Sprintf("%v", input.Args)
		}
		return model.NewUserMessage(loopID, model.TextContent{Text: text})
	}
	return model.NewUserMessage(loopID)
}

func (a *Agent) runEagerTools(ctx context.Context, loopID string) []model.Message {
	var msgs []model.Message
	for _, t := range a.eagerTools {
		toolUseID := newLoopID()
		args := json.RawMessage(`{}`)

		a.emit(ctx, eventbus.NewToolExecutionStartEvent(a.id, loopID, toolUseID, t.Name, args, nowMillis()))
		result, err := t.Handler(withDispatch(ctx, a.id, toolUseID), args)

		var tm model.ToolMessage
		if err != nil {
			ee := tool.FromError(err)
			tm = model.ToolMessage{ToolUseID: toolUseID, ToolName: t.Name, Arguments: args, IsError: true, Content: ee}
			a.emit(ctx, eventbus.NewToolExecutionErrorEvent(a.id, loopID, toolUseID, t.Name, ee, nowMillis()))
		} else {
			tm = model.ToolMessage{ToolUseID: toolUseID, ToolName: t.Name, Arguments: args, Content: result}
			a.emit(ctx, eventbus.NewToolExecutionCompleteEvent(a.id, loopID, toolUseID, t.Name, result, nowMillis()))
		}

		assistantMsg := model.NewAssistantMessage(loopID, toolUseID, model.AssistantMessage{
			Content: model.ToolUse{ToolUseID: toolUseID, Name: t.Name, Arguments: args},
		})
		a.emit(ctx, eventbus.NewAssistantMessageCompleteEvent(a.id, assistantMsg, nowMillis()))
		toolMsg := model.NewToolMessage(loopID, tm)

		msgs = append(msgs, assistantMsg, toolMsg)
	}
	return msgs
}

func (a *Agent) executeTools(ctx context.Context, loopID string, uses []model.ToolUse, out chan model.Message) []model.Message {
	results := make([]model.ToolMessage, len(uses))
	var wg sync.WaitGroup
	for i, tu := range uses {
		wg.Add(1)
		go func(i int, tu model.ToolUse) {
			defer wg.Done()
			results[i] = a.runTool(ctx, loopID, tu)
		}(i, tu)
	}
	wg.Wait()

	msgs := make([]model.Message, 0, len(uses))
	for _, tm := range results {
		m := model.NewToolMessage(loopID, tm)
		forward(ctx, out, m)
		msgs = append(msgs, m)
	}
	return msgs
}

func (a *Agent) runTool(ctx context.Context, loopID string, tu model.ToolUse) model.ToolMessage {
	t := a.toolByName[tu.Name]

	a.emit(ctx, eventbus.NewToolExecutionStartEvent(a.id, loopID, tu.ToolUseID, tu.Name, tu.Arguments, nowMillis()))

	if verr := t.Validate(tu.Arguments); verr != nil {
		tm := model.ToolMessage{ToolUseID: tu.ToolUseID, ToolName: tu.Name, Arguments: tu.Arguments, IsError: true, Content: verr.Error()}
		a.finishToolEvent(ctx, loopID, tu, tm, tool.NewExecutionError(verr.Error()))
		return tm
	}

	result, err := t.Handler(withDispatch(ctx, a.id, tu.ToolUseID), tu.Arguments)
	if err != nil {
		ee := tool.FromError(err)
		tm := model.ToolMessage{ToolUseID: tu.ToolUseID, ToolName: tu.Name, Arguments: tu.Arguments, IsError: true, Content: ee}
		a.finishToolEvent(ctx, loopID, tu, tm, ee)
		return tm
	}

	tm := model.ToolMessage{ToolUseID: tu.ToolUseID, ToolName: tu.Name, Arguments: tu.Arguments, Content: result}
	a.finishToolEvent(ctx, loopID, tu, tm, nil)
	return tm
}

func (a *Agent) finishToolEvent(ctx context.Context, loopID string, tu model.ToolUse, tm model.ToolMessage, execErr *tool.ExecutionError) {
	if _, isDispatch := a.dispatchAgents[tu.Name]; isDispatch {
		a.emit(ctx, eventbus.NewTeamDispatchFinishedEvent(a.id, loopID, tu.ToolUseID, tm, nowMillis()))
		return
	}
	if execErr != nil {
		a.emit(ctx, eventbus.NewToolExecutionErrorEvent(a.id, loopID, tu.ToolUseID, tu.Name, execErr, nowMillis()))
		return
	}
	a.emit(ctx, eventbus.NewToolExecutionCompleteEvent(a.id, loopID, tu.ToolUseID, tu.Name, tm.Content, nowMillis()))
}

func firstText(input Input) string {
	for _, c := range input.Content {
		if tc, ok := c.(model.TextContent); ok {
			return tc.Text
		}
	}
	if v, ok := input.Args["prompt"]; ok {
		return fmt.Sprintf("%v", v)
	}
	return ""
}

func withFirstText(input Input, text string) Input {
	for i, c := range input.Content {
		if _, ok := c.(model.TextContent); ok {
			input.Content[i] = model.TextContent{Text: text}
			return input
		}
	}
	if _, ok := input.Args["prompt"]; ok {
		args := make(map[string]any, len(input.Args))
		for k, v := range input.Args {
			args[k] = v
		}
		args["prompt"] = text
		input.Args = args
		return input
	}
	if len(input.Content) == 0 && len(input.Args) == 0 && text != "" {
		input.Content = []model.UserContent{model.TextContent{Text: text}}
	}
	return input
}
