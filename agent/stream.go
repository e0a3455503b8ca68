package agent

import (
	"context"
	"sync"

	"github.com/liteagent-dev/liteagent/model"
)

// Stream is the live sequence of messages one Agent.Run invocation
// produces: every seed message (system, eager-tool pairs, the new user
// turn) followed by each assistant/tool message the loop appends as
// provider turns and tool calls complete. Draining a Stream to its end and
// calling Result is equivalent to Agent.Call.
type Stream struct {
	loopID string
	ch     chan model.Message

	mu     sync.Mutex
	done   chan struct{}
	result *Result
	err    error
}

func newStream(loopID string) *Stream {
	return &Stream{
		loopID: loopID,
		ch:     make(chan model.Message, 16),
		done:   make(chan struct{}),
	}
}

// LoopID returns the correlation id shared by every message and event this
// invocation produces.
func (s *Stream) LoopID() string { return s.loopID }

// Next blocks until the next message is available, the stream ends
// (ok=false), or ctx is done.
func (s *Stream) Next(ctx context.Context) (model.Message, bool, error) {
	select {
	case msg, ok := <-s.ch:
		if ok {
			return msg, true, nil
		}
		return model.Message{}, false, s.getErr()
	case <-ctx.Done():
		return model.Message{}, false, ctx.Err()
	}
}

// Result blocks until the loop finishes and returns its final Result, or
// the error that ended it. Valid to call only after Next has returned
// ok=false, or concurrently — it waits on the same completion signal.
func (s *Stream) Result() (*Result, error) {
	<-s.done
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.result, s.err
}

func (s *Stream) getErr() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func (s *Stream) finish(res *Result, err error) {
	s.mu.Lock()
	s.result, s.err = res, err
	s.mu.Unlock()
	close(s.ch)
	close(s.done)
}

func forward(ctx context.Context, ch chan<- model.Message, msg model.Message) {
	select {
	case ch <- msg:
	case <-ctx.Done():
	}
}
