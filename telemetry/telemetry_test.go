package telemetry

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNoopLogger_NeverPanics(t *testing.T) {
	l := NewNoopLogger()
	assert.NotPanics(t, func() {
		l.Debug(context.Background(), "debug", "k", "v")
		l.Info(context.Background(), "info")
		l.Warn(context.Background(), "warn")
		l.Error(context.Background(), "error", "err", assert.AnError)
	})
}

func TestNoopTracer_StartReturnsUsableSpan(t *testing.T) {
	tr := NewNoopTracer()
	ctx, span := tr.Start(context.Background(), "op")
	assert.NotNil(t, ctx)
	assert.NotPanics(t, func() {
		span.AddEvent("e")
		span.End()
	})
}

func TestNoopMetrics_NeverPanics(t *testing.T) {
	m := NewNoopMetrics()
	assert.NotPanics(t, func() {
		m.IncCounter("c", 1, "k", "v")
		m.RecordGauge("g", 1.5)
	})
}
