// Package textstream implements an append-only, multi-consumer accumulator:
// a scoped text value shared between one producer (a provider adapter) and
// N consumers (the agent loop, UI renderers, session observers). Two
// concrete streams are built on the same accumulator: TextStream for
// assistant reply text and ToolUseStream for raw tool-call argument JSON
// being produced token by token.
package textstream

import (
	"context"
	"errors"
	"sync"
)

// ErrAlreadyComplete is returned by Append/Set once a stream has been
// completed. Mutating a completed stream is a programming error.
var ErrAlreadyComplete = errors.New("textstream: stream already complete")

// accumulator is the shared append-only primitive backing TextStream and
// ToolUseStream. It keeps an immutable snapshot plus a version counter;
// each subscriber tracks its own cursor so concurrent consumers never
// interfere with one another.
type accumulator struct {
	mu       sync.Mutex
	value    string
	complete bool
	version  uint64
	waiters  map[chan struct{}]struct{}
}

func newAccumulator() *accumulator {
	return &accumulator{waiters: make(map[chan struct{}]struct{})}
}

// append adds delta to the accumulated value. It fails with
// ErrAlreadyComplete if the accumulator has already been completed.
func (a *accumulator) append(delta string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.complete {
		return ErrAlreadyComplete
	}
	a.value += delta
	a.version++
	a.wake()
	return nil
}

// set replaces the accumulated value outright, used when a producer only
// has cumulative snapshots to offer rather than deltas.
func (a *accumulator) set(full string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.complete {
		return ErrAlreadyComplete
	}
	a.value = full
	a.version++
	a.wake()
	return nil
}

// markComplete marks the accumulator finished. It is idempotent: completing an
// already-complete accumulator is a no-op.
func (a *accumulator) markComplete() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.complete {
		return
	}
	a.complete = true
	a.version++
	a.wake()
}

func (a *accumulator) get() (string, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.value, a.complete
}

// wake must be called with a.mu held. It notifies every waiter channel and
// clears the waiter set; waiters re-register after observing a new version.
func (a *accumulator) wake() {
	for ch := range a.waiters {
		close(ch)
	}
	a.waiters = make(map[chan struct{}]struct{})
}

// awaitChange blocks until the accumulator's version advances past
// since, or until it completes, or until ctx is done. It returns the
// current value, completion flag, and version.
func (a *accumulator) awaitChange(ctx context.Context, since uint64) (string, bool, uint64, error) {
	for {
		a.mu.Lock()
		if a.version != since || a.complete {
			val, done, ver := a.value, a.complete, a.version
			a.mu.Unlock()
			return val, done, ver, nil
		}
		ch := make(chan struct{})
		a.waiters[ch] = struct{}{}
		a.mu.Unlock()
		select {
		case <-ch:
		case <-ctx.Done():
			return "", false, since, ctx.Err()
		}
	}
}

// awaitComplete blocks until the accumulator is marked complete and returns
// the final value.
func (a *accumulator) awaitComplete(ctx context.Context) (string, error) {
	for {
		val, done, ver, err := a.awaitChange(ctx, ^uint64(0))
		if err != nil {
			return "", err
		}
		if done {
			return val, nil
		}
		_ = ver
	}
}

// Cursor is a private, per-consumer subscription handle returned by
// Subscribe. Late joiners receive a full replay of everything accumulated
// so far as their first value, then track live updates; the channel is
// closed once the underlying stream completes.
type Cursor struct {
	ch     chan string
	cancel func()
}

// C returns the channel of snapshots for this cursor.
func (c *Cursor) C() <-chan string { return c.ch }

// Close stops delivery to this cursor. Safe to call multiple times.
func (c *Cursor) Close() { c.cancel() }

func subscribe(a *accumulator) *Cursor {
	ch := make(chan string, 1)
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		defer close(ch)
		var since uint64
		// Replay: emit the current snapshot immediately, even if it is the
		// empty string, so a late joiner's first observed value equals the
		// sum of deltas appended so far.
		val, done, ver, err := a.awaitChange(ctx, ^uint64(1))
		if err != nil {
			return
		}
		since = ver
		select {
		case ch <- val:
		case <-ctx.Done():
			return
		}
		if done {
			return
		}
		for {
			val, done, ver, err := a.awaitChange(ctx, since)
			if err != nil {
				return
			}
			since = ver
			select {
			case ch <- val:
			case <-ctx.Done():
				return
			}
			if done {
				return
			}
		}
	}()
	return &Cursor{ch: ch, cancel: cancel}
}
