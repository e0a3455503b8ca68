// Package provider defines the abstract contract every language-model
// provider adapter must satisfy: a single streaming operation that turns a
// message history, tool set, and optional structured output declaration
// into a lazy sequence of assistant messages. Concrete wire codecs live in
// providers/anthropic and providers/openai; this package only specifies
// the contract.
package provider

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/liteagent-dev/liteagent/model"
	"github.com/liteagent-dev/liteagent/tool"
)

type (
	// Provider exposes a single streaming completion operation.
	Provider interface {
		// Complete begins a provider turn and returns a Stream of
		// AssistantMessage values. Implementations must yield
		// AssistantMessage content only, and must complete any in-flight
		// TextStream/ToolUseStream on every exit path including errors.
		Complete(ctx context.Context, req *Request) (Stream, error)
	}

	// Stream is a pull iterator over a provider's streamed reply.
	// Next returns (nil, io.EOF)-equivalent via the ok return being false
	// once the underlying model indicates stop.
	Stream interface {
		// Next blocks until the next AssistantMessage is available, the
		// stream ends (ok=false, err=nil), or an error occurs.
		Next(ctx context.Context) (msg *model.AssistantMessage, ok bool, err error)
		// Close releases any resources held by the stream. Safe to call
		// multiple times.
		Close() error
	}

	// Request captures one completion call's inputs.
	Request struct {
		// Messages is the ordered transcript for this call.
		Messages []model.Message
		// Tools lists the tool definitions available to the model this turn.
		Tools []ToolDefinition
		// ToolChoice optionally constrains tool-use behavior.
		ToolChoice *ToolChoice
		// RespondAs, when non-nil, instructs the provider to produce a JSON
		// value matching the declared schema instead of free text.
		RespondAs *ResponseSchema
		// Model is the provider-specific model identifier; empty means the
		// adapter's configured default.
		Model string
		// MaxTokens caps output tokens when supported.
		MaxTokens int
		// Temperature controls sampling when supported.
		Temperature float64
		// Extra carries additional provider-specific parameters not
		// otherwise represented by this struct.
		Extra map[string]any
	}

	// ToolDefinition is the wire-level shape of a tool.Tool handed to a
	// provider: name, description, and the tool's strict JSON Schema.
	ToolDefinition struct {
		Name        string
		Description string
		InputSchema json.RawMessage
	}

	// ToolChoiceMode selects how a provider should use tools for a request.
	ToolChoiceMode string

	// ToolChoice configures tool-use behavior. When Mode is
	// ToolChoiceModeTool, Name must match one of the Request's tool
	// definitions.
	ToolChoice struct {
		Mode ToolChoiceMode
		Name string
	}

	// ResponseSchema declares a structured output contract: a name (for
	// providers that require one) and a JSON Schema the final output must
	// satisfy.
	ResponseSchema struct {
		Name   string
		Schema json.RawMessage
	}
)

// DefaultRespondAsName is the tool name an adapter falls back to when a
// Request's RespondAs declares no Name of its own. Adapters that implement
// structured output by forcing a tool call (Anthropic) and the agent loop
// that recognizes the resulting ToolUse as a final value rather than an
// ordinary dispatch both resolve an empty RespondAs.Name to this constant,
// so the two sides never drift apart on the literal.
const DefaultRespondAsName = "respond"

const (
	// ToolChoiceAuto lets the provider decide whether to call a tool.
	ToolChoiceAuto ToolChoiceMode = "auto"
	// ToolChoiceNone disables tool use for this request.
	ToolChoiceNone ToolChoiceMode = "none"
	// ToolChoiceRequired forces the provider to call some tool.
	ToolChoiceRequired ToolChoiceMode = "required"
	// ToolChoiceTool forces the provider to call the tool named in
	// ToolChoice.Name.
	ToolChoiceTool ToolChoiceMode = "tool"
)

// ErrTransport is wrapped by adapters to report network/protocol failures.
// Transport errors are fatal to the current loop and propagate to the
// caller.
var ErrTransport = errors.New("provider: transport error")

// ErrRateLimited is wrapped by adapters when the provider signals
// throttling; providers/ratelimit uses this to decide whether to back off.
var ErrRateLimited = errors.New("provider: rate limited")

// ToolDefinitionsFrom converts a slice of tool.Tool into the wire-level
// ToolDefinition shape a Request carries.
func ToolDefinitionsFrom(tools []*tool.Tool) []ToolDefinition {
	defs := make([]ToolDefinition, len(tools))
	for i, t := range tools {
		defs[i] = ToolDefinition{Name: t.Name, Description: t.Description, InputSchema: t.RawSchema}
	}
	return defs
}
