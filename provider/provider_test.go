package provider_test

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/liteagent-dev/liteagent/provider"
)

func TestError_UnwrapReachesCause(t *testing.T) {
	err := provider.NewError("anthropic", "messages.stream", 429, provider.ErrorKindRateLimited,
		"rate_limit_error", "too many requests", "req_123", true, provider.ErrRateLimited)

	assert.ErrorIs(t, err, provider.ErrRateLimited)

	var pe *provider.Error
	assert.True(t, errors.As(err, &pe))
	assert.Equal(t, "anthropic", pe.Provider())
	assert.Equal(t, provider.ErrorKindRateLimited, pe.Kind())
	assert.True(t, pe.Retryable())
}

func TestNewError_PanicsWithoutProviderOrKind(t *testing.T) {
	assert.Panics(t, func() {
		provider.NewError("", "op", 0, provider.ErrorKindUnknown, "", "", "", false, nil)
	})
	assert.Panics(t, func() {
		provider.NewError("anthropic", "op", 0, "", "", "", "", false, nil)
	})
}

func TestAsError_FindsWrappedProviderError(t *testing.T) {
	base := provider.NewError("openai", "chat.completions", 500, provider.ErrorKindUnavailable,
		"", "server error", "", true, provider.ErrTransport)
	wrapped := errors.Join(errors.New("request failed"), base)

	found, ok := provider.AsError(wrapped)
	assert.True(t, ok)
	assert.Same(t, base, found)
}
