// Package guardrail implements the agent's input/output interception
// contract: a pair of validators wrapping an agent invocation that may
// rewrite (redact) text or reject it outright. Only the contract and a
// handful of general-purpose validators live here — specific detection
// pattern libraries (PII regexes, topic keyword lists) are an external
// collaborator's concern, not this package's.
package guardrail

import (
	"context"
	"fmt"

	"github.com/liteagent-dev/liteagent/agent"
)

// InputViolation is returned by a Validator's ValidateInput when a user
// turn is rejected outright. The agent surfaces it to the caller; no
// provider call is made.
type InputViolation struct {
	Guard  string
	Reason string
}

func (e *InputViolation) Error() string {
	return fmt.Sprintf("guardrail %q rejected input: %s", e.Guard, e.Reason)
}

// OutputViolation is returned by a Validator's ValidateOutput when a
// materialized final reply is rejected outright. Only Agent.Call observes
// this — streaming invocations skip output validation entirely, since
// buffering the whole reply to validate it would defeat streaming.
type OutputViolation struct {
	Guard  string
	Reason string
}

func (e *OutputViolation) Error() string {
	return fmt.Sprintf("guardrail %q rejected output: %s", e.Guard, e.Reason)
}

// Validator is the full guardrail contract: a pair of validators that may
// rewrite text (e.g. redaction) or reject it (InputViolation /
// OutputViolation). A concrete guard that only cares about one side
// embeds PassInput or PassOutput to satisfy the other half as a no-op.
type Validator interface {
	ValidateInput(ctx context.Context, text string) (string, error)
	ValidateOutput(ctx context.Context, text string) (string, error)
}

// PassInput is embedded by guards that only validate output; its
// ValidateInput is a pass-through no-op.
type PassInput struct{}

// ValidateInput returns text unchanged.
func (PassInput) ValidateInput(_ context.Context, text string) (string, error) { return text, nil }

// PassOutput is embedded by guards that only validate input; its
// ValidateOutput is a pass-through no-op.
type PassOutput struct{}

// ValidateOutput returns text unchanged.
func (PassOutput) ValidateOutput(_ context.Context, text string) (string, error) { return text, nil }

// Wrap composes one or more Validators onto a, returning a new Agent (a is
// not mutated) whose Run/Call apply every validator's ValidateInput before
// the first provider call and, for Call only, every validator's
// ValidateOutput after the final reply is materialized, in the order
// given.
func Wrap(a *agent.Agent, guards ...Validator) *agent.Agent {
	ins := make([]agent.InputGuard, len(guards))
	outs := make([]agent.OutputGuard, len(guards))
	for i, g := range guards {
		ins[i] = g
		outs[i] = g
	}
	return a.WithGuards(ins, outs)
}
