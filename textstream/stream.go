package textstream

import "context"

// TextStream is the streaming, append-only text value holding assistant
// reply text accumulated token-by-token by a provider adapter and observed
// by the agent loop, session, and any number of external subscribers.
type TextStream struct {
	StreamID string
	acc      *accumulator
}

// NewTextStream creates an empty TextStream identified by streamID.
func NewTextStream(streamID string) *TextStream {
	return &TextStream{StreamID: streamID, acc: newAccumulator()}
}

func (*TextStream) isAssistantContent() {}

// Append adds delta to the stream. Returns ErrAlreadyComplete if the stream
// was already completed.
func (s *TextStream) Append(delta string) error { return s.acc.append(delta) }

// Set replaces the accumulated text outright, for providers that deliver
// cumulative snapshots rather than deltas.
func (s *TextStream) Set(full string) error { return s.acc.set(full) }

// Complete marks the stream finished. Idempotent.
func (s *TextStream) Complete() { s.acc.markComplete() }

// Get returns the current snapshot without blocking.
func (s *TextStream) Get() string {
	val, _ := s.acc.get()
	return val
}

// IsComplete reports whether the stream has been completed.
func (s *TextStream) IsComplete() bool {
	_, done := s.acc.get()
	return done
}

// AwaitComplete blocks until the stream completes and returns the final
// string.
func (s *TextStream) AwaitComplete(ctx context.Context) (string, error) {
	return s.acc.awaitComplete(ctx)
}

// Subscribe returns a Cursor yielding the current snapshot as its first
// value (a full replay for late joiners), then a new snapshot on every
// subsequent mutation, then closes its channel on completion.
func (s *TextStream) Subscribe() *Cursor { return subscribe(s.acc) }

// ToolUseStream accumulates the raw JSON text of a tool call's arguments as
// a provider streams them token-by-token. Completion signals that the
// accumulated text is now parsable JSON.
type ToolUseStream struct {
	ToolUseID string
	Name      string
	acc       *accumulator
}

// NewToolUseStream creates an empty ToolUseStream for the named tool.
func NewToolUseStream(toolUseID, name string) *ToolUseStream {
	return &ToolUseStream{ToolUseID: toolUseID, Name: name, acc: newAccumulator()}
}

func (*ToolUseStream) isAssistantContent() {}

// Append adds a raw JSON fragment to the accumulated argument text.
func (s *ToolUseStream) Append(delta string) error { return s.acc.append(delta) }

// Set replaces the accumulated argument text outright.
func (s *ToolUseStream) Set(full string) error { return s.acc.set(full) }

// Complete marks the argument text finished (parsable as JSON). Idempotent.
func (s *ToolUseStream) Complete() { s.acc.markComplete() }

// Get returns the current raw JSON snapshot without blocking.
func (s *ToolUseStream) Get() string {
	val, _ := s.acc.get()
	return val
}

// AwaitComplete blocks until the argument text completes and returns it.
func (s *ToolUseStream) AwaitComplete(ctx context.Context) (string, error) {
	return s.acc.awaitComplete(ctx)
}

// Subscribe returns a Cursor over the raw JSON fragments, replay-then-live,
// exactly like TextStream.Subscribe.
func (s *ToolUseStream) Subscribe() *Cursor { return subscribe(s.acc) }
