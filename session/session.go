// Package session wraps an Agent with a mutable conversation buffer,
// giving a caller a chat-style API on top of the otherwise stateless agent
// loop: each call synthesizes a user turn, runs the agent against the full
// prior history, and folds everything the loop produced (save the system
// prompt) back into the buffer for the next call.
package session

import (
	"context"
	"sync"

	"github.com/liteagent-dev/liteagent/agent"
	"github.com/liteagent-dev/liteagent/model"
	"github.com/liteagent-dev/liteagent/textstream"
)

// Session accumulates conversation history across repeated calls to one
// Agent. It is safe for concurrent use; concurrent calls observe a
// consistent snapshot of history but may interleave their appends in
// either order, matching the event bus's "no global ordering across
// loops" guarantee.
type Session struct {
	agent *agent.Agent

	mu      sync.Mutex
	history []model.Message
}

// New creates an empty Session over a.
func New(a *agent.Agent) *Session {
	return &Session{agent: a}
}

// History returns a snapshot of the accumulated conversation buffer.
func (s *Session) History() []model.Message {
	return s.snapshot()
}

// Reset clears the buffer back to empty.
func (s *Session) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.history = nil
}

func (s *Session) snapshot() []model.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]model.Message(nil), s.history...)
}

// Stream is the live message sequence one Session.Run call produces. It
// wraps an *agent.Stream, forwarding every message unchanged to the caller
// while also collecting it for the session's buffer commit once the
// stream is drained to completion. Messages that are simply the replayed
// history this call was seeded with are recognized by ID and excluded from
// the commit, so a conversation's history never grows by re-appending
// itself on every subsequent call.
type Stream struct {
	inner   *agent.Stream
	session *Session
	seeded  []model.Message
	seedIdx int
	turn    []model.Message
}

// LoopID returns the underlying loop's correlation id.
func (st *Stream) LoopID() string { return st.inner.LoopID() }

// Next proxies to the underlying agent.Stream. Once the stream ends
// (ok=false, err=nil), the messages observed during this call — every one
// except the system prompt and the replayed seed history — are committed
// to the session buffer, with every assistant text block from the loop
// coalesced into a single entry.
func (st *Stream) Next(ctx context.Context) (model.Message, bool, error) {
	msg, ok, err := st.inner.Next(ctx)
	if err != nil {
		return msg, ok, err
	}
	if !ok {
		st.session.commit(st.turn)
		return msg, ok, nil
	}
	switch {
	case msg.Role == model.RoleSystem:
	case st.seedIdx < len(st.seeded) && msg.ID == st.seeded[st.seedIdx].ID:
		st.seedIdx++
	default:
		st.turn = append(st.turn, msg)
	}
	return msg, ok, nil
}

// Result blocks until the loop finishes and returns its Result, exactly
// like agent.Stream.Result.
func (st *Stream) Result() (*agent.Result, error) { return st.inner.Result() }

// Run synthesizes a user turn from input, seeds it with the session's
// accumulated history, and starts a loop. Output guardrails configured on
// the underlying agent do not apply here, only input guardrails — per the
// guardrail contract, output validation requires a materialized result,
// which agent.Agent.Call provides. Session.Call drains this Run and so
// does not apply output guardrails either.
func (s *Session) Run(ctx context.Context, input agent.Input) (*Stream, error) {
	seeded := s.snapshot()
	input.History = seeded
	inner, err := s.agent.Run(ctx, input)
	if err != nil {
		return nil, err
	}
	return &Stream{inner: inner, session: s, seeded: seeded}, nil
}

// Call drains Run to completion and returns the loop's Result.
func (s *Session) Call(ctx context.Context, input agent.Input) (*agent.Result, error) {
	st, err := s.Run(ctx, input)
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
	return st.Result()
}

// commit folds one loop's non-system messages into the buffer, merging
// every assistant text-stream block of the loop into a single
// model.TextValue entry, placed where the loop's first text block
// appeared, so that a reply split across several provider messages reads
// back as one assistant turn. Text blocks separated by tool calls are
// merged into that same entry too.
func (s *Session) commit(turn []model.Message) {
	if len(turn) == 0 {
		return
	}
	merged := make([]model.Message, 0, len(turn))
	textIdx := -1
	for _, m := range turn {
		if m.Role == model.RoleAssistant && m.Assistant != nil {
			switch ts := m.Assistant.Content.(type) {
			case *textstream.TextStream:
				text := ts.Get()
				if textIdx == -1 {
					nm := model.NewAssistantMessage(m.LoopID, ts.StreamID, model.AssistantMessage{Content: model.TextValue{Text: text}})
					merged = append(merged, nm)
					textIdx = len(merged) - 1
				} else {
					cur := merged[textIdx].Assistant.Content.(model.TextValue)
					merged[textIdx].Assistant.Content = model.TextValue{Text: cur.Text + text}
				}
				continue
			case *textstream.ToolUseStream:
				// Dropped, same as agent.materializeHistory: the terminal
				// model.ToolUse message the same turn always yields for this
				// stream supersedes it, and a provider encoder can't
				// represent a live accumulator in history anyway.
				continue
			}
		}
		merged = append(merged, m)
	}

	s.mu.Lock()
	s.history = append(s.history, merged...)
	s.mu.Unlock()
}
