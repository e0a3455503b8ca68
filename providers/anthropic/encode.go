package anthropic

import (
	"encoding/json"
	"errors"
	"fmt"

	sdk "github.com/anthropics/anthropic-sdk-go"

	"github.com/liteagent-dev/liteagent/model"
	"github.com/liteagent-dev/liteagent/provider"
)

func encodeMessages(msgs []model.Message) ([]sdk.MessageParam, []sdk.TextBlockParam, error) {
	conversation := make([]sdk.MessageParam, 0, len(msgs))
	system := make([]sdk.TextBlockParam, 0, len(msgs))

	for _, m := range msgs {
		switch m.Role {
		case model.RoleSystem:
			if m.System != nil && m.System.Content != "" {
				system = append(system, sdk.TextBlockParam{Text: m.System.Content})
			}
		case model.RoleUser:
			blocks, err := encodeUserContent(m.User)
			if err != nil {
				return nil, nil, err
			}
			if len(blocks) > 0 {
				conversation = append(conversation, sdk.NewUserMessage(blocks...))
			}
		case model.RoleAssistant:
			block, err := encodeAssistantContent(m.Assistant)
			if err != nil {
				return nil, nil, err
			}
			if block != nil {
				conversation = append(conversation, sdk.NewAssistantMessage(*block))
			}
		case model.RoleTool:
			if m.Tool == nil {
				continue
			}
			conversation = append(conversation, sdk.NewUserMessage(encodeToolResult(*m.Tool)))
		default:
			return nil, nil, fmt.Errorf("anthropic: unsupported message role %q", m.Role)
		}
	}
	if len(conversation) == 0 {
		return nil, nil, errors.New("anthropic: at least one user/assistant message is required")
	}
	return conversation, system, nil
}

func encodeUserContent(u *model.UserMessage) ([]sdk.ContentBlockParamUnion, error) {
	if u == nil {
		return nil, nil
	}
	blocks := make([]sdk.ContentBlockParamUnion, 0, len(u.Content))
	for _, c := range u.Content {
		switch v := c.(type) {
		case model.TextContent:
			if v.Text != "" {
				blocks = append(blocks, sdk.NewTextBlock(v.Text))
			}
		case model.CacheCheckpoint:
			if len(blocks) > 0 {
				applyCacheCheckpoint(&blocks[len(blocks)-1])
			}
		case model.Image:
			return nil, fmt.Errorf("anthropic: image content (%T) is not wired for this adapter", v)
		default:
			return nil, fmt.Errorf("anthropic: unsupported user content %T", c)
		}
	}
	return blocks, nil
}

// applyCacheCheckpoint marks block with an ephemeral cache breakpoint,
// Anthropic's mechanism for prompt caching. Only the text-block shape is
// handled since that is the only block encodeUserContent currently emits.
func applyCacheCheckpoint(block *sdk.ContentBlockParamUnion) {
	if block.OfText != nil {
		block.OfText.CacheControl = sdk.CacheControlEphemeralParam{TTL: sdk.CacheControlEphemeralTTLTTL5m}
	}
}

func encodeAssistantContent(a *model.AssistantMessage) (*sdk.ContentBlockParamUnion, error) {
	if a == nil {
		return nil, nil
	}
	switch v := a.Content.(type) {
	case model.ToolUse:
		var args any
		if len(v.Arguments) > 0 {
			if err := json.Unmarshal(v.Arguments, &args); err != nil {
				return nil, fmt.Errorf("anthropic: tool_use arguments: %w", err)
			}
		}
		b := sdk.NewToolUseBlock(v.ToolUseID, args, v.Name)
		return &b, nil
	case model.TextValue:
		b := sdk.NewTextBlock(v.Text)
		return &b, nil
	default:
		return nil, fmt.Errorf("anthropic: unsupported assistant content %T in history", a.Content)
	}
}

func encodeToolResult(tm model.ToolMessage) sdk.ContentBlockParamUnion {
	var content string
	switch c := tm.Content.(type) {
	case nil:
		content = ""
	case string:
		content = c
	case []byte:
		content = string(c)
	default:
		if data, err := json.Marshal(c); err == nil {
			content = string(data)
		}
	}
	return sdk.NewToolResultBlock(tm.ToolUseID, content, tm.IsError)
}

func encodeTools(defs []provider.ToolDefinition) ([]sdk.ToolUnionParam, map[string]string, map[string]string, error) {
	if len(defs) == 0 {
		return nil, map[string]string{}, map[string]string{}, nil
	}
	toolList := make([]sdk.ToolUnionParam, 0, len(defs))
	canonToSan := make(map[string]string, len(defs))
	sanToCanon := make(map[string]string, len(defs))

	for _, def := range defs {
		if def.Name == "" {
			continue
		}
		sanitized := sanitizeToolName(def.Name)
		if prev, ok := sanToCanon[sanitized]; ok && prev != def.Name {
			return nil, nil, nil, fmt.Errorf("anthropic: tool name %q sanitizes to %q which collides with %q", def.Name, sanitized, prev)
		}
		sanToCanon[sanitized] = def.Name
		canonToSan[def.Name] = sanitized

		schema, err := toolInputSchema(def.InputSchema)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("anthropic: tool %q schema: %w", def.Name, err)
		}
		u := sdk.ToolUnionParamOfTool(schema, sanitized)
		if u.OfTool != nil {
			u.OfTool.Description = sdk.String(def.Description)
		}
		toolList = append(toolList, u)
	}
	return toolList, canonToSan, sanToCanon, nil
}

func toolInputSchema(schema json.RawMessage) (sdk.ToolInputSchemaParam, error) {
	if len(schema) == 0 {
		return sdk.ToolInputSchemaParam{}, nil
	}
	var m map[string]any
	if err := json.Unmarshal(schema, &m); err != nil {
		return sdk.ToolInputSchemaParam{}, err
	}
	return sdk.ToolInputSchemaParam{ExtraFields: m}, nil
}

func encodeToolChoice(choice *provider.ToolChoice, canonToProv map[string]string) (sdk.ToolChoiceUnionParam, error) {
	if choice == nil {
		return sdk.ToolChoiceUnionParam{}, nil
	}
	switch choice.Mode {
	case "", provider.ToolChoiceAuto:
		return sdk.ToolChoiceUnionParam{}, nil
	case provider.ToolChoiceNone:
		none := sdk.NewToolChoiceNoneParam()
		return sdk.ToolChoiceUnionParam{OfNone: &none}, nil
	case provider.ToolChoiceRequired:
		return sdk.ToolChoiceUnionParam{OfAny: &sdk.ToolChoiceAnyParam{}}, nil
	case provider.ToolChoiceTool:
		if choice.Name == "" {
			return sdk.ToolChoiceUnionParam{}, errors.New("anthropic: tool choice mode \"tool\" requires a tool name")
		}
		sanitized, ok := canonToProv[choice.Name]
		if !ok || sanitized == "" {
			return sdk.ToolChoiceUnionParam{}, fmt.Errorf("anthropic: tool choice name %q does not match any tool", choice.Name)
		}
		return sdk.ToolChoiceParamOfTool(sanitized), nil
	default:
		return sdk.ToolChoiceUnionParam{}, fmt.Errorf("anthropic: unsupported tool choice mode %q", choice.Mode)
	}
}

// sanitizeToolName maps a tool identifier to characters allowed by
// Anthropic's tool naming constraints, replacing any disallowed rune with
// '_'.
func sanitizeToolName(in string) string {
	if isProviderSafeToolName(in) {
		return in
	}
	out := make([]rune, 0, len(in))
	for _, r := range in {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') || r == '_' || r == '-' {
			out = append(out, r)
		} else {
			out = append(out, '_')
		}
	}
	return string(out)
}

func isProviderSafeToolName(name string) bool {
	if name == "" || len(name) > 64 {
		return false
	}
	for _, r := range name {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') || r == '_' || r == '-' {
			continue
		}
		return false
	}
	return true
}
