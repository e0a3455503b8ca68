// Package agent implements the streaming tool-calling loop: one Agent
// wraps a provider.Provider, a tool registry, an optional team of
// sub-agents dispatched as synthesized tools, and an optional structured
// output contract, and drives them through repeated provider turns until
// the model stops requesting tools.
package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/liteagent-dev/liteagent/eventbus"
	"github.com/liteagent-dev/liteagent/provider"
	"github.com/liteagent-dev/liteagent/telemetry"
	"github.com/liteagent-dev/liteagent/tool"
)

const defaultSystemPromptTemplate = "You are {{name}}. {{description}}\n\n" +
	"Available tools: {{tools}}\nTeammates: {{team}}"

// InputGuard validates (and may rewrite) the text of a user turn before
// the agent loop begins. A guardrail.Validator satisfies this interface
// structurally; the agent package never imports guardrail, avoiding an
// import cycle.
type InputGuard interface {
	ValidateInput(ctx context.Context, text string) (string, error)
}

// Config describes one agent: its identity, its provider binding, the
// tools and teammates it can call, and the optional structured-output
// contract it enforces.
type Config struct {
	Name        string
	Description string

	// SystemPromptTemplate supports {{name}}, {{description}}, {{tools}},
	// and {{team}} substitutions. Defaults to a minimal template if empty.
	SystemPromptTemplate string
	// UserPromptTemplate, when set, renders Input.Args via {{key}}
	// substitution into the turn's user message text.
	UserPromptTemplate string
	// Signature declares the keyword arguments UserPromptTemplate expects
	// and the schema a sub-agent dispatcher tool exposes for this agent
	// when it appears on a teammate's Team. A nil Signature defaults the
	// dispatcher schema to a single required "prompt" string field.
	Signature []Param

	Provider provider.Provider
	Bus      eventbus.Bus
	Logger   telemetry.Logger
	// Metrics records per-turn token usage (see recordUsage in loop.go).
	// Defaults to a no-op recorder.
	Metrics telemetry.Metrics
	// Tracer wraps each provider turn in a span. Defaults to a no-op
	// tracer.
	Tracer telemetry.Tracer

	Tools []*tool.Tool
	Team  []*Agent

	// RespondAs, when set, declares a structured output contract: the
	// loop stops as soon as the provider yields a value matching it
	// rather than recursing on further tool calls.
	RespondAs *provider.ResponseSchema
	// StructuredRetries bounds how many times the loop re-prompts the
	// model after a RespondAs coercion failure. Defaults to 1.
	StructuredRetries int

	ToolChoice  *provider.ToolChoice
	Model       string
	MaxTokens   int
	Temperature float64
	Extra       map[string]any

	InputGuards  []InputGuard
	OutputGuards []OutputGuard
}

// OutputGuard validates (and may rewrite) the final text of a non-streaming
// invocation's result.
type OutputGuard interface {
	ValidateOutput(ctx context.Context, text string) (string, error)
}

// Agent is a constructed, ready-to-run instance of Config: its tool index
// (own tools plus one dispatcher tool per teammate) is precomputed once at
// New so the loop never rebuilds it per call.
type Agent struct {
	cfg Config
	id  string

	allTools       []*tool.Tool
	toolByName     map[string]*tool.Tool
	eagerTools     []*tool.Tool
	dispatchAgents map[string]*Agent
}

// New validates cfg and builds an Agent, synthesizing one dispatcher tool
// per teammate in cfg.Team.
func New(cfg Config) (*Agent, error) {
	if cfg.Name == "" {
		return nil, fmt.Errorf("agent: name is required")
	}
	if cfg.Provider == nil {
		return nil, fmt.Errorf("agent %q: provider is required", cfg.Name)
	}
	if cfg.Bus == nil {
		return nil, fmt.Errorf("agent %q: event bus is required", cfg.Name)
	}
	if cfg.SystemPromptTemplate == "" {
		cfg.SystemPromptTemplate = defaultSystemPromptTemplate
	}
	if cfg.StructuredRetries <= 0 {
		cfg.StructuredRetries = 1
	}
	if cfg.Logger == nil {
		cfg.Logger = telemetry.NoopLogger{}
	}
	if cfg.Metrics == nil {
		cfg.Metrics = telemetry.NoopMetrics{}
	}
	if cfg.Tracer == nil {
		cfg.Tracer = telemetry.NoopTracer{}
	}

	a := &Agent{
		cfg:            cfg,
		id:             cfg.Name,
		toolByName:     make(map[string]*tool.Tool, len(cfg.Tools)+len(cfg.Team)),
		dispatchAgents: make(map[string]*Agent, len(cfg.Team)),
	}

	all := append([]*tool.Tool(nil), cfg.Tools...)
	for _, mate := range cfg.Team {
		dt, err := mate.AsTool()
		if err != nil {
			return nil, fmt.Errorf("agent %q: team member %q: %w", cfg.Name, mate.cfg.Name, err)
		}
		all = append(all, dt)
		a.dispatchAgents[dt.Name] = mate
	}
	for _, t := range all {
		if _, dup := a.toolByName[t.Name]; dup {
			return nil, fmt.Errorf("agent %q: duplicate tool name %q", cfg.Name, t.Name)
		}
		a.toolByName[t.Name] = t
		if t.Eager {
			a.eagerTools = append(a.eagerTools, t)
		}
	}
	a.allTools = all
	return a, nil
}

// AsTool synthesizes a dispatcher tool that redirects a call to a, naming
// it "<agent_name>_redirection" and deriving its input schema from a's
// declared Signature (or a single required "prompt" string field when
// Signature is empty).
func (a *Agent) AsTool() (*tool.Tool, error) {
	schema, err := dispatcherSchema(a.cfg.Signature)
	if err != nil {
		return nil, err
	}
	name := a.cfg.Name + "_redirection"
	description := a.cfg.Description
	if description == "" {
		description = fmt.Sprintf("Delegate a task to %s.", a.cfg.Name)
	}
	return tool.New(name, description, schema, a.dispatchHandler())
}

// WithGuards returns a shallow copy of a with input/output guards appended
// to any it already carries. guardrail.Wrap uses this to compose a
// Guardrail onto an existing Agent without mutating it.
func (a *Agent) WithGuards(in []InputGuard, out []OutputGuard) *Agent {
	cp := *a
	cp.cfg.InputGuards = append(append([]InputGuard(nil), a.cfg.InputGuards...), in...)
	cp.cfg.OutputGuards = append(append([]OutputGuard(nil), a.cfg.OutputGuards...), out...)
	return &cp
}

// Name returns the agent's configured name.
func (a *Agent) Name() string { return a.cfg.Name }

func dispatcherSchema(sig []Param) (json.RawMessage, error) {
	if len(sig) == 0 {
		doc := map[string]any{
			"type": "object",
			"properties": map[string]any{
				"prompt": map[string]any{"type": "string"},
			},
			"required":             []any{"prompt"},
			"additionalProperties": false,
		}
		return json.Marshal(doc)
	}
	props := map[string]any{}
	required := make([]any, 0, len(sig))
	for _, p := range sig {
		props[p.Name] = map[string]any{"type": string(p.Type), "description": p.Description}
		required = append(required, p.Name)
	}
	doc := map[string]any{
		"type":                 "object",
		"properties":           props,
		"required":             required,
		"additionalProperties": false,
	}
	return json.Marshal(doc)
}

func (a *Agent) renderSystemPrompt() string {
	toolNames := make([]string, 0, len(a.allTools))
	for _, t := range a.allTools {
		toolNames = append(toolNames, t.Name)
	}
	teamNames := make([]string, 0, len(a.cfg.Team))
	for _, mate := range a.cfg.Team {
		teamNames = append(teamNames, mate.cfg.Name)
	}
	r := strings.NewReplacer(
		"{{name}}", a.cfg.Name,
		"{{description}}", a.cfg.Description,
		"{{tools}}", strings.Join(toolNames, ", "),
		"{{team}}", strings.Join(teamNames, ", "),
	)
	return r.Replace(a.cfg.SystemPromptTemplate)
}

func (a *Agent) respondToolName() string {
	if a.cfg.RespondAs == nil {
		return ""
	}
	if a.cfg.RespondAs.Name != "" {
		return a.cfg.RespondAs.Name
	}
	return provider.DefaultRespondAsName
}

func newLoopID() string { return uuid.NewString() }
