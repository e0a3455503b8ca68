// Package tool defines the callable unit the agent loop dispatches to:
// named, typed, JSON-schema-validated tools, including the eager-invocation
// flag and the structured execution-error shape tool handlers use to
// report failures without panicking the loop.
package tool

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

type (
	// Handler invokes a tool with already-validated, parsed arguments and
	// returns a JSON-compatible result or an *ExecutionError.
	Handler func(ctx context.Context, arguments json.RawMessage) (any, error)

	// Tool is a named, typed, callable unit with a strict JSON Schema input
	// contract.
	Tool struct {
		// Name is the identifier the model uses to request this tool.
		Name string
		// Description is surfaced to the model to decide when to call the tool.
		Description string
		// RawSchema is the strict JSON Schema document (draft 2020-12) sent to
		// the provider and used to compile Schema.
		RawSchema json.RawMessage
		// Schema is the compiled form of RawSchema, used to validate parsed
		// tool-call arguments before Handler runs.
		Schema *jsonschema.Schema
		// Handler executes the tool.
		Handler Handler
		// Eager tools are invoked once before the first provider call of
		// every agent loop.
		Eager bool
		// Emoji is a short, human-facing tag for UIs rendering tool activity.
		Emoji string
	}
)

// New compiles rawSchema (after normalizing it via Strict) and returns a
// Tool bound to handler. rawSchema must be a JSON Schema object document;
// New fails if it does not compile.
func New(name, description string, rawSchema json.RawMessage, handler Handler) (*Tool, error) {
	strict, err := Strict(rawSchema)
	if err != nil {
		return nil, fmt.Errorf("tool %q: normalize schema: %w", name, err)
	}
	schema, err := compile(name, strict)
	if err != nil {
		return nil, fmt.Errorf("tool %q: compile schema: %w", name, err)
	}
	return &Tool{
		Name:        name,
		Description: description,
		RawSchema:   strict,
		Schema:      schema,
		Handler:     handler,
	}, nil
}

// WithEager returns a shallow copy of t flagged as eager.
func (t *Tool) WithEager() *Tool {
	cp := *t
	cp.Eager = true
	return &cp
}

// WithEmoji returns a shallow copy of t carrying the given emoji tag.
func (t *Tool) WithEmoji(emoji string) *Tool {
	cp := *t
	cp.Emoji = emoji
	return &cp
}

func compile(name string, rawSchema json.RawMessage) (*jsonschema.Schema, error) {
	doc, err := jsonschema.UnmarshalJSON(jsonReader(rawSchema))
	if err != nil {
		return nil, err
	}
	url := "mem://tool/" + name
	c := jsonschema.NewCompiler()
	if err := c.AddResource(url, doc); err != nil {
		return nil, err
	}
	return c.Compile(url)
}

// Validate parses arguments as JSON and validates the result against the
// tool's compiled schema, surfacing a *SchemaViolation on failure.
func (t *Tool) Validate(arguments json.RawMessage) error {
	var v any
	if err := json.Unmarshal(arguments, &v); err != nil {
		return &SchemaViolation{Tool: t.Name, Err: err}
	}
	if t.Schema == nil {
		return nil
	}
	if err := t.Schema.Validate(v); err != nil {
		return &SchemaViolation{Tool: t.Name, Err: err}
	}
	return nil
}
