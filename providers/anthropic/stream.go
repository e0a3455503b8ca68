package anthropic

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/packages/ssestream"

	"github.com/liteagent-dev/liteagent/model"
	"github.com/liteagent-dev/liteagent/provider"
	"github.com/liteagent-dev/liteagent/textstream"
)

// stream adapts an Anthropic Messages SSE stream to provider.Stream. Each
// content block start produces one model.AssistantMessage immediately,
// carrying a TextStream or ToolUseStream that is filled in by later delta
// events and closed on the block's stop event; callers that want the whole
// turn can simply await each stream's completion.
type stream struct {
	ctx    context.Context
	cancel context.CancelFunc
	sse    *ssestream.Stream[sdk.MessageStreamEventUnion]

	out chan *model.AssistantMessage

	mu       sync.Mutex
	err      error
	errIsSet bool
}

func newStream(ctx context.Context, sse *ssestream.Stream[sdk.MessageStreamEventUnion], nameMap map[string]string) *stream {
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

type blockState struct {
	text    *textstream.TextStream
	toolUse *textstream.ToolUseStream
}

func (s *stream) run(nameMap map[string]string) {
	defer close(s.out)
	defer func() {
		if s.sse != nil {
			_ = s.sse.Close()
		}
	}()

	blocks := make(map[int]*blockState)
	defer func() {
		for _, bs := range blocks {
			if bs.text != nil {
				bs.text.Complete()
			}
			if bs.toolUse != nil {
				bs.toolUse.Complete()
			}
		}
	}()
	var usage model.TokenUsage
	var lastMsg *model.AssistantMessage

	for {
		select {
		case <-s.ctx.Done():
			s.setErr(s.ctx.Err())
			return
		default:
		}
		if !s.sse.Next() {
			if err := s.sse.Err(); err != nil {
				s.setErr(translateErr("messages.stream", err))
			}
			return
		}
		event := s.sse.Current()
		switch ev := event.AsAny().(type) {
		case sdk.MessageStartEvent:
			blocks = make(map[int]*blockState)

		case sdk.ContentBlockStartEvent:
			idx := int(ev.Index)
			switch block := ev.ContentBlock.AsAny().(type) {
			case sdk.TextBlock:
				ts := textstream.NewTextStream(fmt.Sprintf("block-%d", idx))
				blocks[idx] = &blockState{text: ts}
				msg := &model.AssistantMessage{Content: ts}
				lastMsg = msg
				if !s.emit(msg) {
					return
				}
			case sdk.ToolUseBlock:
				if block.ID == "" || block.Name == "" {
					s.setErr(fmt.Errorf("anthropic stream: tool_use block missing id or name"))
					return
				}
				name := block.Name
				if canonical, ok := nameMap[name]; ok {
					name = canonical
				}
				tus := textstream.NewToolUseStream(block.ID, name)
				blocks[idx] = &blockState{toolUse: tus}
				msg := &model.AssistantMessage{Content: tus}
				lastMsg = msg
				if !s.emit(msg) {
					return
				}
			}

		case sdk.ContentBlockDeltaEvent:
			idx := int(ev.Index)
			bs := blocks[idx]
			if bs == nil {
				continue
			}
			switch delta := ev.Delta.AsAny().(type) {
			case sdk.TextDelta:
				if delta.Text != "" && bs.text != nil {
					_ = bs.text.Append(delta.Text)
				}
			case sdk.InputJSONDelta:
				if delta.PartialJSON != "" && bs.toolUse != nil {
					_ = bs.toolUse.Append(delta.PartialJSON)
				}
			}

		case sdk.ContentBlockStopEvent:
			idx := int(ev.Index)
			if bs := blocks[idx]; bs != nil {
				if bs.text != nil {
					bs.text.Complete()
				}
				if bs.toolUse != nil {
					if strings.TrimSpace(bs.toolUse.Get()) == "" {
						_ = bs.toolUse.Set("{}")
					}
					bs.toolUse.Complete()
					tu := model.ToolUse{
						ToolUseID: bs.toolUse.ToolUseID,
						Name:      bs.toolUse.Name,
						Arguments: json.RawMessage(bs.toolUse.Get()),
					}
					if !s.emit(&model.AssistantMessage{Content: tu}) {
						return
					}
				}
				delete(blocks, idx)
			}

		case sdk.MessageDeltaEvent:
			usage = model.TokenUsage{
				InputTokens:      int(ev.Usage.InputTokens),
				OutputTokens:     int(ev.Usage.OutputTokens),
				CacheReadTokens:  int(ev.Usage.CacheReadInputTokens),
				CacheWriteTokens: int(ev.Usage.CacheCreationInputTokens),
			}
			if lastMsg != nil {
				u := usage
				lastMsg.Usage = &u
			}

		case sdk.MessageStopEvent:
			return
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
