package openai

import (
	"context"
	"encoding/json"
	"sync"

	sdk "github.com/openai/openai-go"
	"github.com/openai/openai-go/packages/ssestream"

	"github.com/liteagent-dev/liteagent/model"
	"github.com/liteagent-dev/liteagent/provider"
	"github.com/liteagent-dev/liteagent/textstream"
)

// stream adapts an OpenAI Chat Completions SSE stream to provider.Stream.
// Unlike Anthropic's explicit content-block-start/stop events, OpenAI
// identifies each tool call and the single text reply by index within
// chunk.Choices[0].Delta; this adapter opens one TextStream the first time
// text content appears, and one ToolUseStream per tool-call index the
// first time that index appears, closing every open stream once the
// provider reports a finish_reason or the underlying SSE stream ends.
type stream struct {
	ctx    context.Context
	cancel context.CancelFunc
	sse    *ssestream.Stream[sdk.ChatCompletionChunk]

	out chan *model.AssistantMessage

	mu       sync.Mutex
	err      error
	errIsSet bool
}

func newStream(ctx context.Context, sse *ssestream.Stream[sdk.ChatCompletionChunk], nameMap map[string]string) *stream {
	cctx, cancel := context.WithCancel(ctx)
	s := &stream{
		ctx:    cctx,
		cancel: cancel,
		sse:    sse,
		out:    make(chan *model.AssistantMessage, 8),
	}
	go s.run(nameMap)
	return s
}

func (s *stream) Next(ctx context.Context) (*model.AssistantMessage, bool, error) {
	select {
	case msg, ok := <-s.out:
		if ok {
			return msg, true, nil
		}
		return nil, false, s.getErr()
	case <-ctx.Done():
		return nil, false, ctx.Err()
	}
}

func (s *stream) Close() error {
	s.cancel()
	if s.sse == nil {
		return nil
	}
	return s.sse.Close()
}

func (s *stream) setErr(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.errIsSet {
		return
	}
	s.errIsSet = true
	s.err = err
}

func (s *stream) getErr() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func (s *stream) run(nameMap map[string]string) {
	defer close(s.out)
	defer func() {
		if s.sse != nil {
			_ = s.sse.Close()
		}
	}()

	var text *textstream.TextStream
	toolCalls := make(map[int64]*textstream.ToolUseStream)
	defer func() {
		if text != nil {
			text.Complete()
		}
		for _, tus := range toolCalls {
			tus.Complete()
		}
	}()
	var lastMsg *model.AssistantMessage
	var usage model.TokenUsage

	closeOpen := func() bool {
		if text != nil {
			text.Complete()
			text = nil
		}
		for idx, tus := range toolCalls {
			tus.Complete()
			delete(toolCalls, idx)
			tu := model.ToolUse{
				ToolUseID: tus.ToolUseID,
				Name:      tus.Name,
				Arguments: json.RawMessage(tus.Get()),
			}
			if !s.emit(&model.AssistantMessage{Content: tu}) {
				return false
			}
		}
		return true
	}

	for {
		select {
		case <-s.ctx.Done():
			s.setErr(s.ctx.Err())
			return
		default:
		}
		if !s.sse.Next() {
			if !closeOpen() {
				return
			}
			if err := s.sse.Err(); err != nil {
				s.setErr(translateErr("chat.completions.stream", err))
			}
			return
		}
		chunk := s.sse.Current()
		if chunk.Usage.PromptTokens != 0 || chunk.Usage.CompletionTokens != 0 {
			usage = model.TokenUsage{
				InputTokens:  int(chunk.Usage.PromptTokens),
				OutputTokens: int(chunk.Usage.CompletionTokens),
			}
			if lastMsg != nil {
				u := usage
				lastMsg.Usage = &u
			}
		}
		if len(chunk.Choices) == 0 {
			continue
		}
		choice := chunk.Choices[0]
		delta := choice.Delta

		if delta.Content != "" {
			if text == nil {
				text = textstream.NewTextStream("message")
				msg := &model.AssistantMessage{Content: text}
				lastMsg = msg
				if !s.emit(msg) {
					return
				}
			}
			_ = text.Append(delta.Content)
		}

		for _, tc := range delta.ToolCalls {
			tus := toolCalls[tc.Index]
			if tus == nil {
				name := tc.Function.Name
				if canonical, ok := nameMap[name]; ok {
					name = canonical
				}
				tus = textstream.NewToolUseStream(tc.ID, name)
				toolCalls[tc.Index] = tus
				msg := &model.AssistantMessage{Content: tus}
				lastMsg = msg
				if !s.emit(msg) {
					return
				}
			}
			if tc.Function.Arguments != "" {
				_ = tus.Append(tc.Function.Arguments)
			}
		}

		if choice.FinishReason != "" {
			if !closeOpen() {
				return
			}
		}
	}
}

func (s *stream) emit(msg *model.AssistantMessage) bool {
	select {
	case s.out <- msg:
		return true
	case <-s.ctx.Done():
		s.setErr(s.ctx.Err())
		return false
	}
}

var _ provider.Stream = (*stream)(nil)
