// Package openai implements provider.Provider on top of the OpenAI Chat
// Completions API via the official github.com/openai/openai-go SDK,
// grounded on the streaming chat-completions adapter pattern used
// elsewhere in the retrieved corpus (message/tool encoding, streaming
// delta accumulation, tool-call index tracking).
package openai

import (
	"context"
	"errors"

	sdk "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/packages/ssestream"

	"github.com/liteagent-dev/liteagent/provider"
)

type (
	// CompletionsClient captures the subset of the OpenAI SDK used by the
	// adapter, satisfied by sdk.Client.Chat.Completions.
	CompletionsClient interface {
		NewStreaming(ctx context.Context, body sdk.ChatCompletionNewParams, opts ...option.RequestOption) *ssestream.Stream[sdk.ChatCompletionChunk]
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

	// Client implements provider.Provider on top of OpenAI Chat Completions.
	Client struct {
		chat         CompletionsClient
		defaultModel string
		maxTok       int
		temp         float64
	}
)

// New builds a Client from an OpenAI chat completions client and options.
func New(chat CompletionsClient, opts Options) (*Client, error) {
	if chat == nil {
		return nil, errors.New("openai: completions client is required")
	}
	if opts.DefaultModel == "" {
		return nil, errors.New("openai: default model identifier is required")
	}
	return &Client{
		chat:         chat,
		defaultModel: opts.DefaultModel,
		maxTok:       opts.MaxTokens,
		temp:         opts.Temperature,
	}, nil
}

// NewFromAPIKey constructs a Client using the default OpenAI HTTP client.
func NewFromAPIKey(apiKey, defaultModel string) (*Client, error) {
	if apiKey == "" {
		return nil, errors.New("openai: api key is required")
	}
	c := sdk.NewClient(option.WithAPIKey(apiKey))
	return New(&c.Chat.Completions, Options{DefaultModel: defaultModel})
}

// Complete opens a streaming Chat Completions call and returns a
// provider.Stream adapting delta chunks into model.AssistantMessage values.
func (c *Client) Complete(ctx context.Context, req *provider.Request) (provider.Stream, error) {
	params, nameMap, err := c.prepareRequest(req)
	if err != nil {
		return nil, err
	}
	s := c.chat.NewStreaming(ctx, *params)
	if err := s.Err(); err != nil {
		return nil, translateErr("chat.completions.stream", err)
	}
	return newStream(ctx, s, nameMap), nil
}

func (c *Client) prepareRequest(req *provider.Request) (*sdk.ChatCompletionNewParams, map[string]string, error) {
	if len(req.Messages) == 0 {
		return nil, nil, errors.New("openai: messages are required")
	}
	modelID := req.Model
	if modelID == "" {
		modelID = c.defaultModel
	}
	messages, err := encodeMessages(req.Messages)
	if err != nil {
		return nil, nil, err
	}
	tools, canonToProv, provToCanon, err := encodeTools(req.Tools)
	if err != nil {
		return nil, nil, err
	}
	params := &sdk.ChatCompletionNewParams{
		Model:    sdk.ChatModel(modelID),
		Messages: messages,
	}
	if len(tools) > 0 {
		params.Tools = tools
	}
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = c.maxTok
	}
	if maxTokens > 0 {
		params.MaxCompletionTokens = sdk.Int(int64(maxTokens))
	}
	temp := req.Temperature
	if temp <= 0 {
		temp = c.temp
	}
	if temp > 0 {
		params.Temperature = sdk.Float(temp)
	}
	params.StreamOptions.IncludeUsage = sdk.Bool(true)
	if req.ToolChoice != nil {
		tc, err := encodeToolChoice(req.ToolChoice, canonToProv)
		if err != nil {
			return nil, nil, err
		}
		params.ToolChoice = tc
	}
	if req.RespondAs != nil {
		rf, err := encodeResponseFormat(req.RespondAs)
		if err != nil {
			return nil, nil, err
		}
		params.ResponseFormat = rf
	}
	return params, provToCanon, nil
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
		return provider.NewError("openai", op, apiErr.StatusCode, kind, "", apiErr.Error(), "", retryable, cause)
	}
	return provider.NewError("openai", op, 0, kind, "", err.Error(), "", retryable, cause)
}
