package tool_test

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/liteagent-dev/liteagent/tool"
)

type addArgs struct {
	A int `json:"a"`
	B int `json:"b"`
}

func TestNew_StrictSchemaForcesRequiredAndNoAdditionalProperties(t *testing.T) {
	raw, err := tool.SchemaOf[addArgs]()
	require.NoError(t, err)

	add, err := tool.New("add", "adds two integers", raw, func(_ context.Context, args json.RawMessage) (any, error) {
		var a addArgs
		if err := json.Unmarshal(args, &a); err != nil {
			return nil, err
		}
		return a.A + a.B, nil
	})
	require.NoError(t, err)

	var doc map[string]any
	require.NoError(t, json.Unmarshal(add.RawSchema, &doc))
	assert.Equal(t, false, doc["additionalProperties"])
	assert.ElementsMatch(t, []any{"a", "b"}, doc["required"])
	_, hasDefault := doc["default"]
	assert.False(t, hasDefault)
}

func TestValidate_RejectsArgumentsViolatingSchema(t *testing.T) {
	raw, err := tool.SchemaOf[addArgs]()
	require.NoError(t, err)
	add, err := tool.New("add", "adds two integers", raw, nil)
	require.NoError(t, err)

	err = add.Validate(json.RawMessage(`{"a":1}`))
	require.Error(t, err)
	var violation *tool.SchemaViolation
	assert.ErrorAs(t, err, &violation)
}

func TestValidate_AcceptsWellFormedArguments(t *testing.T) {
	raw, err := tool.SchemaOf[addArgs]()
	require.NoError(t, err)
	add, err := tool.New("add", "adds two integers", raw, nil)
	require.NoError(t, err)

	assert.NoError(t, add.Validate(json.RawMessage(`{"a":2,"b":3}`)))
}

func TestExecutionError_FromErrorPreservesChain(t *testing.T) {
	inner := tool.NewExecutionError("rate limited")
	inner.ShouldRetry = tool.RetryYes
	wrapped := tool.FromError(inner)
	assert.Same(t, inner, wrapped)
}
