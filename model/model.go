// Package model defines the provider-agnostic message and content types
// shared by the agent loop, the event bus, and provider adapters. Messages
// are a tagged union over Role; content is modeled as concrete types rather
// than flattened strings so that streaming, tool calls, and structured
// output survive the trip between the provider and the caller without loss
// of shape.
package model

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
)

// Role identifies the speaker of a Message.
type Role string

const (
	// RoleSystem identifies the system prompt message.
	RoleSystem Role = "system"
	// RoleUser identifies a message authored by the caller.
	RoleUser Role = "user"
	// RoleAssistant identifies a message produced by the model.
	RoleAssistant Role = "assistant"
	// RoleTool identifies a tool result message appended to history.
	RoleTool Role = "tool"
)

type (
	// Message is a tagged union over Role. Exactly one of the role-specific
	// fields is populated, matching the Role value. LoopID correlates the
	// message to one invocation of the agent loop; ID is a stable,
	// content-derived identifier used by the event bus for dedup.
	Message struct {
		Role   Role
		LoopID string
		ID     string

		System    *SystemMessage
		User      *UserMessage
		Assistant *AssistantMessage
		Tool      *ToolMessage
	}

	// SystemMessage carries the rendered system prompt.
	SystemMessage struct {
		Content string
	}

	// UserMessage carries one or more content blocks authored by the caller.
	UserMessage struct {
		Content []UserContent
	}

	// UserContent is implemented by TextContent, the Image variants, and
	// CacheCheckpoint.
	UserContent interface{ isUserContent() }

	// TextContent is a plain text block within a UserMessage.
	TextContent struct{ Text string }

	// Image is implemented by ImageURL, ImageBase64, and ImageLocalPath.
	Image interface {
		UserContent
		isImage()
	}

	// ImageURL references image bytes by URL.
	ImageURL struct{ URL string }

	// ImageBase64 embeds image bytes inline.
	ImageBase64 struct {
		Data      string
		MediaType string
	}

	// ImageLocalPath references image bytes on the local filesystem. Provider
	// adapters are responsible for reading and encoding the file; the
	// runtime never reads local paths itself.
	ImageLocalPath struct{ Path string }

	// AssistantMessage carries the model's reply. Content is one of
	// *textstream.TextStream, *textstream.ToolUseStream, ToolUse,
	// StructuredValue, or TextValue (see textstream and the AssistantContent
	// marker interface below).
	AssistantMessage struct {
		Content AssistantContent
		Usage   *TokenUsage
	}

	// AssistantContent is implemented by the streaming and terminal content
	// shapes a provider can attach to an AssistantMessage.
	AssistantContent interface{ isAssistantContent() }

	// ToolUse is the completed, parsed form of a tool call: a name and
	// well-formed JSON arguments.
	ToolUse struct {
		ToolUseID string
		Name      string
		Arguments json.RawMessage
	}

	// StructuredValue carries the parsed result of a declared respond_as
	// type once the provider's terminal output has been coerced into it.
	StructuredValue struct {
		Value any
	}

	// TextValue carries assistant reply text that has already been
	// materialized to a plain string, as opposed to a live *textstream.
	// TextStream still accumulating. Session uses it to coalesce every
	// text block produced during one loop into a single buffer entry.
	TextValue struct {
		Text string
	}

	// ToolMessage carries a tool's result (or execution error) back into the
	// conversation, keyed to the ToolUse that requested it.
	ToolMessage struct {
		ToolUseID string
		ToolName  string
		Arguments json.RawMessage
		Content   any
		IsError   bool
	}

	// TokenUsage reports token consumption for one provider call.
	TokenUsage struct {
		InputTokens      int
		OutputTokens     int
		CacheReadTokens  int
		CacheWriteTokens int
	}

	// CacheCheckpoint marks a cache boundary following the preceding content
	// block in a UserMessage. Provider adapters that support prompt caching
	// (for example Anthropic) translate it into their native cache-breakpoint
	// directive, applied to the block immediately before the checkpoint;
	// adapters that do not support caching ignore it.
	CacheCheckpoint struct{}
)

func (TextContent) isUserContent()    {}
func (ImageURL) isUserContent()       {}
func (ImageURL) isImage()             {}
func (ImageBase64) isUserContent()    {}
func (ImageBase64) isImage()          {}
func (ImageLocalPath) isUserContent() {}
func (ImageLocalPath) isImage()       {}
func (CacheCheckpoint) isUserContent() {}

func (ToolUse) isAssistantContent()         {}
func (StructuredValue) isAssistantContent() {}
func (TextValue) isAssistantContent()       {}

// NewSystemMessage builds a Message wrapping a SystemMessage.
func NewSystemMessage(loopID, content string) Message {
	m := Message{Role: RoleSystem, LoopID: loopID, System: &SystemMessage{Content: content}}
	m.ID = deriveID(RoleSystem, content)
	return m
}

// NewUserMessage builds a Message wrapping a UserMessage.
func NewUserMessage(loopID string, content ...UserContent) Message {
	m := Message{Role: RoleUser, LoopID: loopID, User: &UserMessage{Content: content}}
	m.ID = deriveID(RoleUser, fmt.Sprintf("%v", content))
	return m
}

// NewToolMessage builds a Message wrapping a ToolMessage.
func NewToolMessage(loopID string, tm ToolMessage) Message {
	m := Message{Role: RoleTool, LoopID: loopID, Tool: &tm}
	m.ID = deriveID(RoleTool, tm.ToolUseID)
	return m
}

// NewAssistantMessage builds a Message wrapping an AssistantMessage whose ID
// is derived from a caller-supplied discriminator (typically a stream ID or
// tool-use ID, since assistant content is not yet materialized as a string
// when the message is first observed).
func NewAssistantMessage(loopID, discriminator string, am AssistantMessage) Message {
	m := Message{Role: RoleAssistant, LoopID: loopID, Assistant: &am}
	m.ID = deriveID(RoleAssistant, discriminator)
	return m
}

func deriveID(role Role, content string) string {
	sum := sha256.Sum256([]byte(string(role) + "\x00" + content))
	return hex.EncodeToString(sum[:16])
}
