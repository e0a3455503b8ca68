// Package eventbus is a process-local, typed publish/subscribe mechanism
// tying the agent loop, session layer, and external observers together.
// Handlers are indexed by EventType, delivery runs on a single internal
// dispatcher goroutine draining a bounded queue, duplicate (EventType, ID)
// pairs are dropped, and a handler that panics is recovered rather than
// stopping delivery to the remaining handlers.
package eventbus

import (
	"context"
	"fmt"
	"sync"
)

type (
	// Handler reacts to one published Event. It returns false to
	// auto-unregister itself (for example, a UI widget detaching when its
	// view is disposed); any other return value, including a panic
	// recovered by the bus, leaves the subscription active.
	Handler func(ctx context.Context, event Event) bool

	// Subscription represents an active registration on a Bus. Close is
	// idempotent and safe to call concurrently with Emit.
	Subscription interface {
		Close()
	}

	// Bus is the typed pub-sub registry described above.
	Bus interface {
		// On registers handler for events of exactly eventType, invoked in
		// registration order on the bus's dispatcher goroutine.
		On(eventType EventType, handler Handler) Subscription
		// Emit enqueues event for dispatch, unless (event.Type(), event.ID())
		// was already seen, in which case it is silently dropped. Emit never
		// blocks on handler execution; it blocks only if the internal queue
		// is full.
		Emit(ctx context.Context, event Event) error
		// Close stops the dispatcher goroutine. Pending queued events are
		// dropped. Close is idempotent.
		Close()
	}

	bus struct {
		mu   sync.Mutex
		subs map[EventType][]*subscription
		dedu *dedupSet

		queue  chan queuedEvent
		done   chan struct{}
		closed bool
		once   sync.Once

		// onHandlerError, when set, is invoked with the recovered panic value
		// of a handler. Defaults to a no-op; tests and callers that want
		// visibility can override it via WithErrorHandler.
		onHandlerError func(eventType EventType, r any)
	}

	subscription struct {
		bus       *bus
		eventType EventType
		handler   Handler
		once      sync.Once
	}

	queuedEvent struct {
		ctx   context.Context
		event Event
	}
)

const defaultQueueSize = 256

// Option configures a Bus constructed by New.
type Option func(*bus)

// WithDedupCapacity overrides the default 1000-entry dedup set size.
func WithDedupCapacity(n int) Option {
	return func(b *bus) { b.dedu = newDedupSet(n) }
}

// WithQueueSize overrides the default bounded queue capacity.
func WithQueueSize(n int) Option {
	return func(b *bus) {
		if n > 0 {
			b.queue = make(chan queuedEvent, n)
		}
	}
}

// WithErrorHandler installs a callback invoked whenever a handler panics.
// Errors returned by a Handler are not possible by construction (Handler
// returns bool); this hook exists solely for panic observability.
func WithErrorHandler(f func(eventType EventType, recovered any)) Option {
	return func(b *bus) { b.onHandlerError = f }
}

// New constructs a ready-to-use Bus and starts its dispatcher goroutine.
// Callers should call Close when the bus is no longer needed to release
// the goroutine.
func New(opts ...Option) Bus {
	b := &bus{
		subs:           make(map[EventType][]*subscription),
		dedu:           newDedupSet(1000),
		queue:          make(chan queuedEvent, defaultQueueSize),
		done:           make(chan struct{}),
		onHandlerError: func(EventType, any) {},
	}
	for _, opt := range opts {
		opt(b)
	}
	go b.dispatch()
	return b
}

func (b *bus) On(eventType EventType, handler Handler) Subscription {
	sub := &subscription{bus: b, eventType: eventType, handler: handler}
	b.mu.Lock()
	b.subs[eventType] = append(b.subs[eventType], sub)
	b.mu.Unlock()
	return sub
}

func (b *bus) Emit(ctx context.Context, event Event) error {
	if event == nil {
		return fmt.Errorf("eventbus: event is required")
	}
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return fmt.Errorf("eventbus: bus is closed")
	}
	dup := b.dedu.seen(event.Type(), event.ID())
	b.mu.Unlock()
	if dup {
		return nil
	}
	select {
	case b.queue <- queuedEvent{ctx: ctx, event: event}:
		return nil
	case <-b.done:
		return fmt.Errorf("eventbus: bus is closed")
	}
}

func (b *bus) Close() {
	b.once.Do(func() {
		b.mu.Lock()
		b.closed = true
		b.mu.Unlock()
		close(b.done)
	})
}

// dispatch drains the queue on its own goroutine and fans each event out to
// the handlers registered for its type, in registration order. A snapshot
// of the subscriber slice is taken under lock before iteration so
// registration/unregistration during dispatch never races with delivery.
func (b *bus) dispatch() {
	for {
		select {
		case qe := <-b.queue:
			b.deliver(qe)
		case <-b.done:
			return
		}
	}
}

func (b *bus) deliver(qe queuedEvent) {
	b.mu.Lock()
	subs := append([]*subscription(nil), b.subs[qe.event.Type()]...)
	b.mu.Unlock()

	for _, sub := range subs {
		if !b.invoke(sub, qe) {
			sub.Close()
		}
	}
}

// invoke calls sub's handler, recovering a panic into the bus's error
// handler so one misbehaving handler never stops delivery to the rest.
func (b *bus) invoke(sub *subscription, qe queuedEvent) (keep bool) {
	keep = true
	defer func() {
		if r := recover(); r != nil {
			b.onHandlerError(qe.event.Type(), r)
			keep = true
		}
	}()
	ctx := qe.ctx
	if ctx == nil {
		ctx = context.Background()
	}
	keep = sub.handler(ctx, qe.event)
	return keep
}

func (b *bus) unregister(sub *subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()
	list := b.subs[sub.eventType]
	for i, s := range list {
		if s == sub {
			b.subs[sub.eventType] = append(list[:i:i], list[i+1:]...)
			break
		}
	}
}

// Close removes s from its bus. Idempotent and safe for concurrent use.
func (s *subscription) Close() {
	s.once.Do(func() { s.bus.unregister(s) })
}
