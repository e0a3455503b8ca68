package openai

import (
	"encoding/json"
	"errors"
	"fmt"

	sdk "github.com/openai/openai-go"

	"github.com/liteagent-dev/liteagent/model"
	"github.com/liteagent-dev/liteagent/provider"
)

func encodeMessages(msgs []model.Message) ([]sdk.ChatCompletionMessageParamUnion, error) {
	out := make([]sdk.ChatCompletionMessageParamUnion, 0, len(msgs))
	for _, m := range msgs {
		switch m.Role {
		case model.RoleSystem:
			content := ""
			if m.System != nil {
				content = m.System.Content
			}
			out = append(out, sdk.SystemMessage(content))
		case model.RoleUser:
			text, err := encodeUserText(m.User)
			if err != nil {
				return nil, err
			}
			out = append(out, sdk.UserMessage(text))
		case model.RoleAssistant:
			msg, err := encodeAssistant(m.Assistant)
			if err != nil {
				return nil, err
			}
			out = append(out, msg)
		case model.RoleTool:
			if m.Tool == nil {
				continue
			}
			content := toolResultText(m.Tool.Content)
			out = append(out, sdk.ToolMessage(content, m.Tool.ToolUseID))
		default:
			return nil, fmt.Errorf("openai: unsupported message role %q", m.Role)
		}
	}
	if len(out) == 0 {
		return nil, errors.New("openai: at least one message is required")
	}
	return out, nil
}

func encodeUserText(u *model.UserMessage) (string, error) {
	if u == nil {
		return "", nil
	}
	var text string
	for _, c := range u.Content {
		switch v := c.(type) {
		case model.TextContent:
			text += v.Text
		case model.CacheCheckpoint:
			// OpenAI has no client-directed cache-breakpoint API; caching is
			// automatic on their side, so the checkpoint is a no-op here.
		case model.Image:
			return "", fmt.Errorf("openai: image content (%T) is not wired for this adapter", v)
		default:
			return "", fmt.Errorf("openai: unsupported user content %T", c)
		}
	}
	return text, nil
}

func encodeAssistant(a *model.AssistantMessage) (sdk.ChatCompletionMessageParamUnion, error) {
	if a == nil {
		return sdk.AssistantMessage(""), nil
	}
	switch v := a.Content.(type) {
	case model.ToolUse:
		var asst sdk.ChatCompletionAssistantMessageParam
		fn := sdk.ChatCompletionMessageFunctionToolCallParam{
			ID: v.ToolUseID,
			Function: sdk.ChatCompletionMessageFunctionToolCallFunctionParam{
				Name:      v.Name,
				Arguments: string(v.Arguments),
			},
		}
		asst.ToolCalls = append(asst.ToolCalls, sdk.ChatCompletionMessageToolCallUnionParam{OfFunction: &fn})
		return sdk.ChatCompletionMessageParamUnion{OfAssistant: &asst}, nil
	case model.TextValue:
		return sdk.AssistantMessage(v.Text), nil
	default:
		return sdk.ChatCompletionMessageParamUnion{}, fmt.Errorf("openai: unsupported assistant content %T in history", a.Content)
	}
}

func toolResultText(content any) string {
	switch c := content.(type) {
	case nil:
		return ""
	case string:
		return c
	case []byte:
		return string(c)
	default:
		if data, err := json.Marshal(c); err == nil {
			return string(data)
		}
		return ""
	}
}

func encodeTools(defs []provider.ToolDefinition) ([]sdk.ChatCompletionToolUnionParam, map[string]string, map[string]string, error) {
	if len(defs) == 0 {
		return nil, map[string]string{}, map[string]string{}, nil
	}
	out := make([]sdk.ChatCompletionToolUnionParam, 0, len(defs))
	canonToProv := make(map[string]string, len(defs))
	provToCanon := make(map[string]string, len(defs))
	for _, def := range defs {
		if def.Name == "" {
			continue
		}
		var params map[string]any
		if len(def.InputSchema) > 0 {
			if err := json.Unmarshal(def.InputSchema, &params); err != nil {
				return nil, nil, nil, fmt.Errorf("openai: tool %q schema: %w", def.Name, err)
			}
		}
		fd := sdk.FunctionDefinitionParam{
			Name:        def.Name,
			Description: sdk.String(def.Description),
			Parameters:  params,
		}
		out = append(out, sdk.ChatCompletionFunctionTool(fd))
		canonToProv[def.Name] = def.Name
		provToCanon[def.Name] = def.Name
	}
	return out, canonToProv, provToCanon, nil
}

// encodeResponseFormat builds a strict JSON-schema response_format directive
// instructing the model to emit output matching respondAs.Schema, mirroring
// the original Python provider's `response_format=respond_as` (oai.py).
func encodeResponseFormat(respondAs *provider.ResponseSchema) (sdk.ChatCompletionNewParamsResponseFormatUnion, error) {
	name := respondAs.Name
	if name == "" {
		name = provider.DefaultRespondAsName
	}
	var schema map[string]any
	if len(respondAs.Schema) > 0 {
		if err := json.Unmarshal(respondAs.Schema, &schema); err != nil {
			return sdk.ChatCompletionNewParamsResponseFormatUnion{}, fmt.Errorf("openai: response schema: %w", err)
		}
	}
	return sdk.ChatCompletionNewParamsResponseFormatUnion{
		OfJSONSchema: &sdk.ResponseFormatJSONSchemaParam{
			JSONSchema: sdk.ResponseFormatJSONSchemaJSONSchemaParam{
				Name:   name,
				Schema: schema,
				Strict: sdk.Bool(true),
			},
		},
	}, nil
}

func encodeToolChoice(choice *provider.ToolChoice, canonToProv map[string]string) (sdk.ChatCompletionToolChoiceOptionUnionParam, error) {
	if choice == nil {
		return sdk.ChatCompletionToolChoiceOptionUnionParam{}, nil
	}
	switch choice.Mode {
	case "", provider.ToolChoiceAuto:
		return sdk.ChatCompletionToolChoiceOptionUnionParam{OfAuto: sdk.String("auto")}, nil
	case provider.ToolChoiceNone:
		return sdk.ChatCompletionToolChoiceOptionUnionParam{OfAuto: sdk.String("none")}, nil
	case provider.ToolChoiceRequired:
		return sdk.ChatCompletionToolChoiceOptionUnionParam{OfAuto: sdk.String("required")}, nil
	case provider.ToolChoiceTool:
		if choice.Name == "" {
			return sdk.ChatCompletionToolChoiceOptionUnionParam{}, errors.New("openai: tool choice mode \"tool\" requires a tool name")
		}
		sanitized, ok := canonToProv[choice.Name]
		if !ok {
			return sdk.ChatCompletionToolChoiceOptionUnionParam{}, fmt.Errorf("openai: tool choice name %q does not match any tool", choice.Name)
		}
		return sdk.ChatCompletionToolChoiceOptionUnionParam{
			OfFunctionToolChoice: &sdk.ChatCompletionNamedToolChoiceParam{
				Function: sdk.ChatCompletionNamedToolChoiceFunctionParam{Name: sanitized},
			},
		}, nil
	default:
		return sdk.ChatCompletionToolChoiceOptionUnionParam{}, fmt.Errorf("openai: unsupported tool choice mode %q", choice.Mode)
	}
}
