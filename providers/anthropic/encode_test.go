package anthropic

import (
	"testing"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/liteagent-dev/liteagent/model"
	"github.com/liteagent-dev/liteagent/provider"
)

func TestEncodeMessages_SplitsSystemFromConversation(t *testing.T) {
	msgs := []model.Message{
		model.NewSystemMessage("loop-1", "be terse"),
		model.NewUserMessage("loop-1", model.TextContent{Text: "hello"}),
	}
	conversation, system, err := encodeMessages(msgs)
	require.NoError(t, err)
	assert.Len(t, system, 1)
	assert.Equal(t, "be terse", system[0].Text)
	assert.Len(t, conversation, 1)
}

func TestEncodeMessages_RequiresAtLeastOneConversationMessage(t *testing.T) {
	msgs := []model.Message{model.NewSystemMessage("loop-1", "be terse")}
	_, _, err := encodeMessages(msgs)
	assert.Error(t, err)
}

func TestEncodeMessages_MaterializedTextValueEncodesAsTextBlock(t *testing.T) {
	msgs := []model.Message{
		model.NewUserMessage("loop-1", model.TextContent{Text: "hi"}),
		model.NewAssistantMessage("loop-1", "s1", model.AssistantMessage{Content: model.TextValue{Text: "hello there"}}),
	}
	conversation, _, err := encodeMessages(msgs)
	require.NoError(t, err)
	assert.Len(t, conversation, 2)
}

func TestEncodeTools_MapsSanitizedNameBackToCanonical(t *testing.T) {
	defs := []provider.ToolDefinition{
		{Name: "search.web", Description: "search the web", InputSchema: []byte(`{"type":"object"}`)},
	}
	toolParams, canonToSan, sanToCanon, err := encodeTools(defs)
	require.NoError(t, err)
	assert.Len(t, toolParams, 1)
	sanitized := canonToSan["search.web"]
	assert.Equal(t, "search.web", sanToCanon[sanitized])
}

func TestEncodeToolChoice_ToolModeRequiresKnownName(t *testing.T) {
	canonToProv := map[string]string{"search": "search"}
	_, err := encodeToolChoice(&provider.ToolChoice{Mode: provider.ToolChoiceTool, Name: "missing"}, canonToProv)
	assert.Error(t, err)

	choice, err := encodeToolChoice(&provider.ToolChoice{Mode: provider.ToolChoiceTool, Name: "search"}, canonToProv)
	require.NoError(t, err)
	require.NotNil(t, choice.OfTool)
}

func TestSanitizeToolName_ReplacesDisallowedRunes(t *testing.T) {
	assert.Equal(t, "a_b", sanitizeToolName("a.b"))
	assert.Equal(t, "search_web", sanitizeToolName("search.web"))
}

func TestEncodeUserContent_CacheCheckpointMarksPrecedingTextBlock(t *testing.T) {
	blocks, err := encodeUserContent(&model.UserMessage{Content: []model.UserContent{
		model.TextContent{Text: "long context to cache"},
		model.CacheCheckpoint{},
	}})
	require.NoError(t, err)
	require.Len(t, blocks, 1)
	require.NotNil(t, blocks[0].OfText)
	assert.Equal(t, sdk.CacheControlEphemeralTTLTTL5m, blocks[0].OfText.CacheControl.TTL)
}

func TestEncodeUserContent_LeadingCacheCheckpointIsIgnored(t *testing.T) {
	blocks, err := encodeUserContent(&model.UserMessage{Content: []model.UserContent{
		model.CacheCheckpoint{},
		model.TextContent{Text: "hi"},
	}})
	require.NoError(t, err)
	require.Len(t, blocks, 1)
	assert.Equal(t, sdk.CacheControlEphemeralParam{}, blocks[0].OfText.CacheControl)
}
