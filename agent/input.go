package agent

import (
	"fmt"
	"sort"
	"strings"

	"github.com/liteagent-dev/liteagent/model"
)

// ParamType names the JSON Schema primitive a declared Param accepts.
type ParamType string

const (
	ParamString ParamType = "string"
	ParamInt    ParamType = "integer"
	ParamNumber ParamType = "number"
	ParamBool   ParamType = "boolean"
)

// Param declares one keyword argument an agent's user-prompt template
// binds, used both to render {{name}}-style substitutions and to derive
// the JSON Schema a sub-agent dispatcher tool exposes for this agent when
// it is placed on a teammate's Team.
type Param struct {
	Name        string
	Type        ParamType
	Description string
	Required    bool
}

// Input is what a caller hands to Agent.Run or Agent.Call. Exactly one of
// Content or Args is normally populated: Content for direct multi-modal
// content blocks, Args for keyword arguments rendered through the agent's
// UserPromptTemplate. History carries prior-turn messages a Session
// maintains across calls; direct callers invoking a fresh loop leave it
// nil.
type Input struct {
	// LoopID, when non-empty, is inherited rather than freshly minted —
	// used by a sub-agent dispatch to set the child loop's id equal to the
	// dispatching tool_use_id.
	LoopID string
	// Content is direct user content for this turn.
	Content []model.UserContent
	// Args binds keyword arguments for UserPromptTemplate rendering.
	Args map[string]any
	// History is prior conversation the loop should prepend before this
	// turn's user message, supplied by session.Session across calls.
	History []model.Message
}

// Text builds an Input carrying a single text content block.
func Text(s string) Input {
	return Input{Content: []model.UserContent{model.TextContent{Text: s}}}
}

// WithArgs builds an Input carrying keyword arguments for UserPromptTemplate
// rendering.
func WithArgs(args map[string]any) Input {
	return Input{Args: args}
}

// renderTemplate performs literal {{key}} substitution, not Go's
// text/template dotted syntax, matching the placeholder grammar agent
// system and user prompts use throughout this runtime.
func renderTemplate(tmpl string, values map[string]string) string {
	if tmpl == "" || len(values) == 0 {
		return tmpl
	}
	pairs := make([]string, 0, len(values)*2)
	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		pairs = append(pairs, "{{"+k+"}}", values[k])
	}
	return strings.NewReplacer(pairs...).Replace(tmpl)
}

func argsToStrings(args map[string]any) map[string]string {
	out := make(map[string]string, len(args))
	for k, v := range args {
		out[k] = fmt.Sprint(v)
	}
	return out
}
