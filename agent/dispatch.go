package agent

import (
	"context"
	"encoding/json"
	"time"

	"github.com/liteagent-dev/liteagent/eventbus"
	"github.com/liteagent-dev/liteagent/model"
	"github.com/liteagent-dev/liteagent/tool"
)

type ctxKey int

const (
	ctxKeyToolUseID ctxKey = iota
	ctxKeyParentAgentID
)

func withDispatch(ctx context.Context, parentAgentID, toolUseID string) context.Context {
	ctx = context.WithValue(ctx, ctxKeyToolUseID, toolUseID)
	ctx = context.WithValue(ctx, ctxKeyParentAgentID, parentAgentID)
	return ctx
}

func toolUseIDFrom(ctx context.Context) string {
	v, _ := ctx.Value(ctxKeyToolUseID).(string)
	return v
}

func parentAgentIDFrom(ctx context.Context) string {
	v, _ := ctx.Value(ctxKeyParentAgentID).(string)
	return v
}

// dispatchHandler returns the tool.Handler a teammate's dispatcher tool
// invokes: it runs a as a fresh sub-loop whose loop id equals the parent's
// tool_use_id, relays every message the sub-loop produces onto the shared
// bus as TeamDispatchPartialEvent so observers can render nested
// conversation without subscribing to the sub-loop id directly, and
// returns the sub-loop's final text (or structured value) as the tool
// result.
func (a *Agent) dispatchHandler() tool.Handler {
	return func(ctx context.Context, arguments json.RawMessage) (any, error) {
		toolUseID := toolUseIDFrom(ctx)
		if toolUseID == "" {
			toolUseID = newLoopID()
		}
		parentAgentID := parentAgentIDFrom(ctx)

		input, err := dispatchInput(a.cfg.Signature, arguments)
		if err != nil {
			return nil, tool.NewExecutionError("invalid redirection arguments: " + err.Error())
		}
		input.LoopID = toolUseID

		st, err := a.Run(ctx, input)
		if err != nil {
			return nil, tool.FromError(err)
		}
		for {
			msg, ok, nerr := st.Next(ctx)
			if nerr != nil {
				return nil, tool.FromError(nerr)
			}
			if !ok {
				break
			}
			a.emit(ctx, eventbus.NewTeamDispatchPartialEvent(parentAgentID, toolUseID, msg, nowMillis()))
		}
		res, err := st.Result()
		if err != nil {
			return nil, tool.FromError(err)
		}

		var out any = res.FinalText
		if len(res.Structured) > 0 {
			var v any
			if jerr := json.Unmarshal(res.Structured, &v); jerr == nil {
				out = v
			}
		}
		finalMsg := model.NewAssistantMessage(toolUseID, toolUseID, model.AssistantMessage{
			Content: model.StructuredValue{Value: out},
		})
		a.emit(ctx, eventbus.NewTeamDispatchCompleteEvent(parentAgentID, toolUseID, finalMsg, nowMillis()))
		return out, nil
	}
}

func dispatchInput(sig []Param, arguments json.RawMessage) (Input, error) {
	var raw map[string]any
	if len(arguments) > 0 {
		if err := json.Unmarshal(arguments, &raw); err != nil {
			return Input{}, err
		}
	}
	if len(sig) == 0 {
		prompt, _ := raw["prompt"].(string)
		return Text(prompt), nil
	}
	args := make(map[string]any, len(sig))
	for _, p := range sig {
		if v, ok := raw[p.Name]; ok {
			args[p.Name] = v
		}
	}
	return WithArgs(args), nil
}

func (a *Agent) emit(ctx context.Context, ev eventbus.Event) {
	if a.cfg.Bus == nil {
		return
	}
	if err := a.cfg.Bus.Emit(ctx, ev); err != nil {
		a.cfg.Logger.Warn(ctx, "agent: failed to emit event", "type", ev.Type(), "error", err)
	}
}

func nowMillis() int64 { return time.Now().UnixMilli() }
