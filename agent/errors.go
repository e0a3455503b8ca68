package agent

import "errors"

// ErrUnknownTool is returned when a provider requests a tool name absent
// from the agent's tool index. The loop treats this as fatal rather than
// silently ignoring the call.
var ErrUnknownTool = errors.New("agent: unknown tool requested by provider")

// ErrCanceled is returned when ctx is canceled mid-loop, wrapping the
// context error so callers can still inspect it via errors.Is(err,
// context.Canceled) or context.DeadlineExceeded.
var ErrCanceled = errors.New("agent: loop canceled")

// ErrStructuredOutput is returned when a declared respond_as value could
// not be coerced from the provider's final output after exhausting
// Config.StructuredRetries.
var ErrStructuredOutput = errors.New("agent: could not coerce structured output")
