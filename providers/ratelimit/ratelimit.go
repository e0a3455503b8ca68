// Package ratelimit provides an adaptive token-bucket decorator for
// provider.Provider: it estimates the token cost of each request, blocks
// callers until capacity is available, and backs off its effective
// tokens-per-minute budget when the wrapped provider reports rate
// limiting, recovering gradually otherwise (an AIMD strategy).
package ratelimit

import (
	"context"
	"errors"
	"sync"

	"golang.org/x/time/rate"

	"github.com/liteagent-dev/liteagent/model"
	"github.com/liteagent-dev/liteagent/provider"
)

type (
	// Limiter applies an AIMD-style adaptive token bucket on top of a
	// provider.Provider. It is process-local: construct one instance per
	// process and wrap the underlying provider with Wrap before
	// passing it to the agent loop.
	Limiter struct {
		mu sync.Mutex

		limiter *rate.Limiter

		currentTPM float64
		minTPM     float64
		maxTPM     float64

		recoveryRate float64
	}

	limitedProvider struct {
		next provider.Provider
		lim  *Limiter
	}
)

// New constructs a Limiter configured with an initial tokens-per-minute
// budget and an upper bound. When maxTPM is zero or less than initialTPM,
// it is clamped to initialTPM.
func New(initialTPM, maxTPM float64) *Limiter {
	if initialTPM <= 0 {
		initialTPM = 60000
	}
	if maxTPM <= 0 || maxTPM < initialTPM {
		maxTPM = initialTPM
	}
	minTPM := initialTPM * 0.1
	if minTPM < 1 {
		minTPM = 1
	}
	recoveryRate := initialTPM * 0.05
	if recoveryRate < 1 {
		recoveryRate = 1
	}
	return &Limiter{
		limiter:      rate.NewLimiter(rate.Limit(initialTPM/60.0), int(initialTPM)),
		currentTPM:   initialTPM,
		minTPM:       minTPM,
		maxTPM:       maxTPM,
		recoveryRate: recoveryRate,
	}
}

// Wrap returns a provider.Provider that enforces l's adaptive limit before
// delegating to next.
func (l *Limiter) Wrap(next provider.Provider) provider.Provider {
	if next == nil {
		return nil
	}
	return &limitedProvider{next: next, lim: l}
}

// Complete enforces the limiter before delegating to the wrapped provider,
// then adjusts the budget based on whether the call was rate limited.
func (p *limitedProvider) Complete(ctx context.Context, req *provider.Request) (provider.Stream, error) {
	if err := p.lim.wait(ctx, req); err != nil {
		return nil, err
	}
	s, err := p.next.Complete(ctx, req)
	p.lim.observe(err)
	return s, err
}

func (l *Limiter) wait(ctx context.Context, req *provider.Request) error {
	return l.limiter.WaitN(ctx, estimateTokens(req))
}

func (l *Limiter) observe(err error) {
	if err == nil {
		l.probe()
		return
	}
	if errors.Is(err, provider.ErrRateLimited) {
		l.backoff()
	}
}

func (l *Limiter) backoff() {
	l.mu.Lock()
	defer l.mu.Unlock()
	newTPM := l.currentTPM * 0.5
	if newTPM < l.minTPM {
		newTPM = l.minTPM
	}
	if newTPM == l.currentTPM {
		return
	}
	l.currentTPM = newTPM
	l.limiter.SetLimit(rate.Limit(newTPM / 60.0))
	l.limiter.SetBurst(int(newTPM))
}

func (l *Limiter) probe() {
	l.mu.Lock()
	defer l.mu.Unlock()
	newTPM := l.currentTPM + l.recoveryRate
	if newTPM > l.maxTPM {
		newTPM = l.maxTPM
	}
	if newTPM == l.currentTPM {
		return
	}
	l.currentTPM = newTPM
	l.limiter.SetLimit(rate.Limit(newTPM / 60.0))
	l.limiter.SetBurst(int(newTPM))
}

// CurrentTPM reports the limiter's current effective tokens-per-minute
// budget, for observability.
func (l *Limiter) CurrentTPM() float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.currentTPM
}

// estimateTokens computes a cheap heuristic for the number of tokens in the
// request transcript: characters in text content and string tool results,
// converted to tokens at a fixed ratio, plus a fixed buffer for system
// prompts and provider framing.
func estimateTokens(req *provider.Request) int {
	charCount := 0
	for _, m := range req.Messages {
		switch {
		case m.System != nil:
			charCount += len(m.System.Content)
		case m.User != nil:
			for _, c := range m.User.Content {
				if t, ok := c.(model.TextContent); ok {
					charCount += len(t.Text)
				}
			}
		case m.Tool != nil:
			if s, ok := m.Tool.Content.(string); ok {
				charCount += len(s)
			}
		}
	}
	if charCount <= 0 {
		return 500
	}
	tokens := charCount/3 + 500
	if tokens < 1 {
		tokens = 1
	}
	return tokens
}

var _ provider.Provider = (*limitedProvider)(nil)
