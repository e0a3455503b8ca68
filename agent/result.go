package agent

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/liteagent-dev/liteagent/model"
)

// Result is the materialized outcome of one completed agent loop.
type Result struct {
	LoopID string
	// Messages holds every assistant/tool message appended during this
	// loop, in the order the provider produced them, across every
	// recursive turn.
	Messages []model.Message
	// FinalText is the last assistant turn's text when no RespondAs
	// contract is configured.
	FinalText string
	// Structured carries the parsed respond_as value as raw JSON when a
	// RespondAs contract resolved successfully.
	Structured json.RawMessage
}

// DecodeStructured unmarshals res.Structured into T. It returns an error
// if res has no structured value.
func DecodeStructured[T any](res *Result) (T, error) {
	var out T
	if len(res.Structured) == 0 {
		return out, fmt.Errorf("agent: result has no structured value")
	}
	if err := json.Unmarshal(res.Structured, &out); err != nil {
		return out, fmt.Errorf("agent: decode structured value: %w", err)
	}
	return out, nil
}

// RunTyped runs a to completion and decodes its structured result into T.
// a's Config must declare RespondAs matching T's shape.
func RunTyped[T any](ctx context.Context, a *Agent, input Input) (T, error) {
	var zero T
	res, err := a.Call(ctx, input)
	if err != nil {
		return zero, err
	}
	return DecodeStructured[T](res)
}
