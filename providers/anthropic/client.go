// Package anthropic implements provider.Provider on top of the Anthropic
// Claude Messages API, translating liteagent requests into
// github.com/anthropics/anthropic-sdk-go calls and adapting streamed
// events back into model.AssistantMessage values carrying
// textstream.TextStream/ToolUseStream content.
package anthropic

import (
	"context"
	"errors"
	"fmt"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/anthropics/anthropic-sdk-go/packages/ssestream"

	"github.com/liteagent-dev/liteagent/provider"
)

type (
	// MessagesClient captures the subset of the Anthropic SDK used by the
	// adapter, satisfied by *sdk.MessageService, so tests can substitute a
	// fake.
	MessagesClient interface {
		NewStreaming(ctx context.Context, body sdk.MessageNewParams, opts ...option.RequestOption) *ssestream.Stream[sdk.MessageStreamEventUnion]
	}

	// Options configures the adapter's defaults.
	Options struct {
		// DefaultModel is used when Request.Model is empty.
		DefaultModel string
		// MaxTokens is the completion cap used when Request.MaxTokens is zero.
		MaxTokens int
		// Temperature is used when Request.Temperature is zero.
		Temperature float64
	}

	// Client implements provider.Provider on top of Anthropic Claude
	// Messages.
	Client struct {
		msg          MessagesClient
		defaultModel string
		maxTok       int
		temp         float64
	}
)

// New builds a Client from an Anthropic Messages client and options.
func New(msg MessagesClient, opts Options) (*Client, error) {
	if msg == nil {
		return nil, errors.New("anthropic: messages client is required")
	}
	if opts.DefaultModel == "" {
		return nil, errors.New("anthropic: default model identifier is required")
	}
	return &Client{
		msg:          msg,
		defaultModel: opts.DefaultModel,
		maxTok:       opts.MaxTokens,
		temp:         opts.Temperature,
	}, nil
}

// NewFromAPIKey constructs a Client using the default Anthropic HTTP
// client, reading ANTHROPIC_API_KEY semantics from option.WithAPIKey.
func NewFromAPIKey(apiKey, defaultModel string) (*Client, error) {
	if apiKey == "" {
		return nil, errors.New("anthropic: api key is required")
	}
	ac := sdk.NewClient(option.WithAPIKey(apiKey))
	return New(&ac.Messages, Options{DefaultModel: defaultModel})
}

// Complete opens a streaming Messages call and returns a provider.Stream
// adapting Anthropic's SSE events into model.AssistantMessage values.
func (c *Client) Complete(ctx context.Context, req *provider.Request) (provider.Stream, error) {
	params, nameMap, err := c.prepareRequest(req)
	if err != nil {
		return nil, err
	}
	stream := c.msg.NewStreaming(ctx, *params)
	if err := stream.Err(); err != nil {
		return nil, translateErr("messages.stream", err)
	}
	return newStream(ctx, stream, nameMap), nil
}

func (c *Client) prepareRequest(req *provider.Request) (*sdk.MessageNewParams, map[string]string, error) {
	if len(req.Messages) == 0 {
		return nil, nil, errors.New("anthropic: messages are required")
	}
	modelID := req.Model
	if modelID == "" {
		modelID = c.defaultModel
	}
	toolParams, canonToProv, provToCanon, err := encodeTools(req.Tools)
	if err != nil {
		return nil, nil, err
	}
	msgs, system, err := encodeMessages(req.Messages)
	if err != nil {
		return nil, nil, err
	}
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = c.maxTok
	}
	if maxTokens <= 0 {
		return nil, nil, errors.New("anthropic: max_tokens must be positive")
	}
	params := sdk.MessageNewParams{
		MaxTokens: int64(maxTokens),
		Messages:  msgs,
		Model:     sdk.Model(modelID),
	}
	if len(system) > 0 {
		params.System = system
	}
	if len(toolParams) > 0 {
		params.Tools = toolParams
	}
	temp := req.Temperature
	if temp <= 0 {
		temp = c.temp
	}
	if temp > 0 {
		params.Temperature = sdk.Float(temp)
	}
	if req.ToolChoice != nil {
		tc, err := encodeToolChoice(req.ToolChoice, canonToProv)
		if err != nil {
			return nil, nil, err
		}
		params.ToolChoice = tc
	}
	if req.RespondAs != nil {
		schema, err := toolInputSchema(req.RespondAs.Schema)
		if err != nil {
			return nil, nil, fmt.Errorf("anthropic: response schema: %w", err)
		}
		name := req.RespondAs.Name
		if name == "" {
			name = provider.DefaultRespondAsName
		}
		u := sdk.ToolUnionParamOfTool(schema, name)
		params.Tools = append(params.Tools, u)
		params.ToolChoice = sdk.ToolChoiceParamOfTool(name)
		provToCanon[name] = name
		canonToProv[name] = name
	}
	return &params, provToCanon, nil
}

func translateErr(op string, err error) error {
	if err == nil {
		return nil
	}
	kind := provider.ErrorKindUnknown
	retryable := false
	cause := provider.ErrTransport
	var apiErr *sdk.Error
	if errors.As(err, &apiErr) {
		switch apiErr.StatusCode {
		case 401, 403:
			kind = provider.ErrorKindAuth
		case 400, 404, 422:
			kind = provider.ErrorKindInvalidRequest
		case 429:
			kind = provider.ErrorKindRateLimited
			retryable = true
			cause = provider.ErrRateLimited
		default:
			if apiErr.StatusCode >= 500 {
				kind = provider.ErrorKindUnavailable
				retryable = true
			}
		}
		return provider.NewError("anthropic", op, apiErr.StatusCode, kind, "", apiErr.Error(), "", retryable, cause)
	}
	return provider.NewError("anthropic", op, 0, kind, "", err.Error(), "", retryable, cause)
}
