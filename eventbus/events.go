package eventbus

import (
	"encoding/json"

	"github.com/liteagent-dev/liteagent/model"
	"github.com/liteagent-dev/liteagent/tool"
)

// EventType identifies the concrete shape of an Event so subscribers can
// filter without a type switch and the bus can index handlers by type.
type EventType string

const (
	// AgentCall fires once when an agent loop invocation begins.
	AgentCall EventType = "agent_call"
	// SystemMessage fires when the rendered system prompt is attached to
	// the loop's history.
	SystemMessage EventType = "system_message"
	// UserMessage fires when the caller's input is appended to history.
	UserMessage EventType = "user_message"
	// AssistantMessagePartial fires every time an assistant TextStream
	// mutates. ToolUseStream mutations fire ToolRequestPartial instead.
	AssistantMessagePartial EventType = "assistant_message_partial"
	// AssistantMessageComplete fires once a streaming assistant content
	// block (or a non-streaming terminal message) is complete.
	AssistantMessageComplete EventType = "assistant_message_complete"
	// ToolRequestPartial fires on every mutation of a tool call's
	// argument accumulator, before it is parsable.
	ToolRequestPartial EventType = "tool_request_partial"
	// ToolRequestComplete fires once a tool call's arguments have parsed
	// into a well-formed model.ToolUse.
	ToolRequestComplete EventType = "tool_request_complete"
	// ToolExecutionStart fires when the loop invokes a tool handler.
	ToolExecutionStart EventType = "tool_execution_start"
	// ToolExecutionComplete fires when a tool handler returns a result.
	ToolExecutionComplete EventType = "tool_execution_complete"
	// ToolExecutionError fires when a tool handler fails.
	ToolExecutionError EventType = "tool_execution_error"
	// TeamDispatchPartial fires on every streamed message produced by a
	// sub-agent invoked as a tool, tagged with the sub-loop id.
	TeamDispatchPartial EventType = "team_dispatch_partial"
	// TeamDispatchComplete fires when a sub-agent dispatch produces its
	// terminal message.
	TeamDispatchComplete EventType = "team_dispatch_complete"
	// TeamDispatchFinished fires when the parent ToolMessage for a
	// sub-agent dispatch has been appended to the parent's history.
	TeamDispatchFinished EventType = "team_dispatch_finished"
)

type (
	// Event is the interface every published event satisfies. Handlers
	// type-switch on the concrete value to reach event-specific fields;
	// Type, LoopID, and ID are used by the bus itself for routing and
	// dedup.
	Event interface {
		// Type reports the concrete event shape.
		Type() EventType
		// AgentID identifies the agent that produced the event.
		AgentID() string
		// LoopID correlates the event to one agent loop invocation. A
		// sub-agent dispatch carries its own sub-loop id.
		LoopID() string
		// Timestamp is the Unix timestamp in milliseconds the event was
		// constructed.
		Timestamp() int64
		// ID is a stable identifier used by the bus to dedup delivery of
		// (Type, ID) pairs.
		ID() string
	}

	// baseEvent holds the fields common to every concrete event and
	// implements the shared accessors via embedding.
	baseEvent struct {
		agentID   string
		loopID    string
		timestamp int64
		id        string
	}

	// AgentCallEvent fires when an agent loop invocation begins.
	AgentCallEvent struct {
		baseEvent
		// AgentName is the human-facing name of the invoked agent.
		AgentName string
	}

	// SystemMessageEvent carries the rendered system prompt appended to
	// history.
	SystemMessageEvent struct {
		baseEvent
		Message model.Message
	}

	// UserMessageEvent carries the caller's input appended to history.
	UserMessageEvent struct {
		baseEvent
		Message model.Message
	}

	// AssistantMessagePartialEvent carries a snapshot of a still-streaming
	// assistant content block.
	AssistantMessagePartialEvent struct {
		baseEvent
		// StreamID identifies the TextStream that mutated.
		StreamID string
		// Snapshot is the accumulated text at the time of the mutation.
		Snapshot string
	}

	// AssistantMessageCompleteEvent fires once an assistant content block
	// finishes accumulating.
	AssistantMessageCompleteEvent struct {
		baseEvent
		Message model.Message
	}

	// ToolRequestPartialEvent mirrors AssistantMessagePartialEvent for a
	// tool call's argument accumulator specifically.
	ToolRequestPartialEvent struct {
		baseEvent
		ToolUseID string
		ToolName  string
		Snapshot  string
	}

	// ToolRequestCompleteEvent fires once a tool call's arguments parse
	// into a well-formed model.ToolUse.
	ToolRequestCompleteEvent struct {
		baseEvent
		ToolUse model.ToolUse
	}

	// ToolExecutionStartEvent fires immediately before a tool handler
	// runs.
	ToolExecutionStartEvent struct {
		baseEvent
		ToolUseID string
		ToolName  string
		Arguments json.RawMessage
	}

	// ToolExecutionCompleteEvent fires when a tool handler returns a
	// result.
	ToolExecutionCompleteEvent struct {
		baseEvent
		ToolUseID string
		ToolName  string
		Result    any
	}

	// ToolExecutionErrorEvent fires when a tool handler fails. Error is
	// never nil.
	ToolExecutionErrorEvent struct {
		baseEvent
		ToolUseID string
		ToolName  string
		Error     *tool.ExecutionError
	}

	// TeamDispatchPartialEvent relays a streamed message produced by a
	// sub-agent, tagged with the sub-loop id so UIs can render a nested
	// conversation without flattening it into the parent's stream.
	TeamDispatchPartialEvent struct {
		baseEvent
		// ParentToolUseID is the tool-use id of the dispatch that started
		// the sub-loop; it equals the sub-loop's LoopID.
		ParentToolUseID string
		Message         model.Message
	}

	// TeamDispatchCompleteEvent fires when a sub-agent dispatch produces
	// its terminal message.
	TeamDispatchCompleteEvent struct {
		baseEvent
		ParentToolUseID string
		Message         model.Message
	}

	// TeamDispatchFinishedEvent fires once the parent ToolMessage
	// representing a sub-agent's final output has been appended to the
	// parent loop's history.
	TeamDispatchFinishedEvent struct {
		baseEvent
		ParentToolUseID string
		ToolMessage     model.ToolMessage
	}
)

func (e baseEvent) AgentID() string   { return e.agentID }
func (e baseEvent) LoopID() string    { return e.loopID }
func (e baseEvent) Timestamp() int64  { return e.timestamp }
func (e baseEvent) ID() string        { return e.id }

func (*AgentCallEvent) Type() EventType                 { return AgentCall }
func (*SystemMessageEvent) Type() EventType              { return SystemMessage }
func (*UserMessageEvent) Type() EventType                { return UserMessage }
func (*AssistantMessagePartialEvent) Type() EventType    { return AssistantMessagePartial }
func (*AssistantMessageCompleteEvent) Type() EventType   { return AssistantMessageComplete }
func (*ToolRequestPartialEvent) Type() EventType         { return ToolRequestPartial }
func (*ToolRequestCompleteEvent) Type() EventType        { return ToolRequestComplete }
func (*ToolExecutionStartEvent) Type() EventType         { return ToolExecutionStart }
func (*ToolExecutionCompleteEvent) Type() EventType      { return ToolExecutionComplete }
func (*ToolExecutionErrorEvent) Type() EventType         { return ToolExecutionError }
func (*TeamDispatchPartialEvent) Type() EventType        { return TeamDispatchPartial }
func (*TeamDispatchCompleteEvent) Type() EventType       { return TeamDispatchComplete }
func (*TeamDispatchFinishedEvent) Type() EventType       { return TeamDispatchFinished }

// newBase builds a baseEvent stamped with now (milliseconds since epoch,
// supplied by the caller since this package never calls time.Now directly
// in constructors that need to be deterministic in tests).
func newBase(agentID, loopID, id string, now int64) baseEvent {
	return baseEvent{agentID: agentID, loopID: loopID, id: id, timestamp: now}
}

// NewAgentCallEvent constructs an AgentCallEvent.
func NewAgentCallEvent(agentID, loopID, agentName string, now int64) *AgentCallEvent {
	return &AgentCallEvent{baseEvent: newBase(agentID, loopID, loopID, now), AgentName: agentName}
}

// NewSystemMessageEvent constructs a SystemMessageEvent from msg.
func NewSystemMessageEvent(agentID string, msg model.Message, now int64) *SystemMessageEvent {
	return &SystemMessageEvent{baseEvent: newBase(agentID, msg.LoopID, msg.ID, now), Message: msg}
}

// NewUserMessageEvent constructs a UserMessageEvent from msg.
func NewUserMessageEvent(agentID string, msg model.Message, now int64) *UserMessageEvent {
	return &UserMessageEvent{baseEvent: newBase(agentID, msg.LoopID, msg.ID, now), Message: msg}
}

// NewAssistantMessagePartialEvent constructs an AssistantMessagePartialEvent.
// id should be unique per mutation (for example streamID plus a monotonic
// counter) so dedup does not collapse distinct deltas.
func NewAssistantMessagePartialEvent(agentID, loopID, streamID, snapshot, id string, now int64) *AssistantMessagePartialEvent {
	return &AssistantMessagePartialEvent{
		baseEvent: newBase(agentID, loopID, id, now),
		StreamID:  streamID,
		Snapshot:  snapshot,
	}
}

// NewAssistantMessageCompleteEvent constructs an AssistantMessageCompleteEvent.
func NewAssistantMessageCompleteEvent(agentID string, msg model.Message, now int64) *AssistantMessageCompleteEvent {
	return &AssistantMessageCompleteEvent{baseEvent: newBase(agentID, msg.LoopID, msg.ID, now), Message: msg}
}

// NewToolRequestPartialEvent constructs a ToolRequestPartialEvent.
func NewToolRequestPartialEvent(agentID, loopID, toolUseID, toolName, snapshot, id string, now int64) *ToolRequestPartialEvent {
	return &ToolRequestPartialEvent{
		baseEvent: newBase(agentID, loopID, id, now),
		ToolUseID: toolUseID,
		ToolName:  toolName,
		Snapshot:  snapshot,
	}
}

// NewToolRequestCompleteEvent constructs a ToolRequestCompleteEvent.
func NewToolRequestCompleteEvent(agentID, loopID string, tu model.ToolUse, now int64) *ToolRequestCompleteEvent {
	return &ToolRequestCompleteEvent{baseEvent: newBase(agentID, loopID, tu.ToolUseID, now), ToolUse: tu}
}

// NewToolExecutionStartEvent constructs a ToolExecutionStartEvent.
func NewToolExecutionStartEvent(agentID, loopID, toolUseID, toolName string, args json.RawMessage, now int64) *ToolExecutionStartEvent {
	return &ToolExecutionStartEvent{
		baseEvent: newBase(agentID, loopID, toolUseID, now),
		ToolUseID: toolUseID,
		ToolName:  toolName,
		Arguments: args,
	}
}

// NewToolExecutionCompleteEvent constructs a ToolExecutionCompleteEvent.
func NewToolExecutionCompleteEvent(agentID, loopID, toolUseID, toolName string, result any, now int64) *ToolExecutionCompleteEvent {
	return &ToolExecutionCompleteEvent{
		baseEvent: newBase(agentID, loopID, toolUseID, now),
		ToolUseID: toolUseID,
		ToolName:  toolName,
		Result:    result,
	}
}

// NewToolExecutionErrorEvent constructs a ToolExecutionErrorEvent.
func NewToolExecutionErrorEvent(agentID, loopID, toolUseID, toolName string, err *tool.ExecutionError, now int64) *ToolExecutionErrorEvent {
	return &ToolExecutionErrorEvent{
		baseEvent: newBase(agentID, loopID, toolUseID, now),
		ToolUseID: toolUseID,
		ToolName:  toolName,
		Error:     err,
	}
}

// NewTeamDispatchPartialEvent constructs a TeamDispatchPartialEvent.
func NewTeamDispatchPartialEvent(agentID, parentToolUseID string, msg model.Message, now int64) *TeamDispatchPartialEvent {
	return &TeamDispatchPartialEvent{
		baseEvent:       newBase(agentID, msg.LoopID, msg.ID, now),
		ParentToolUseID: parentToolUseID,
		Message:         msg,
	}
}

// NewTeamDispatchCompleteEvent constructs a TeamDispatchCompleteEvent.
func NewTeamDispatchCompleteEvent(agentID, parentToolUseID string, msg model.Message, now int64) *TeamDispatchCompleteEvent {
	return &TeamDispatchCompleteEvent{
		baseEvent:       newBase(agentID, msg.LoopID, msg.ID, now),
		ParentToolUseID: parentToolUseID,
		Message:         msg,
	}
}

// NewTeamDispatchFinishedEvent constructs a TeamDispatchFinishedEvent.
func NewTeamDispatchFinishedEvent(agentID, loopID, parentToolUseID string, tm model.ToolMessage, now int64) *TeamDispatchFinishedEvent {
	return &TeamDispatchFinishedEvent{
		baseEvent:       newBase(agentID, loopID, parentToolUseID, now),
		ParentToolUseID: parentToolUseID,
		ToolMessage:     tm,
	}
}
