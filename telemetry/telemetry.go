// Package telemetry defines the structured logging, metrics, and tracing
// interfaces the agent loop and its supporting packages depend on, kept
// deliberately small so tests can supply lightweight stubs without pulling
// in a concrete backend.
package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

type (
	// Logger captures structured logging used throughout the runtime.
	Logger interface {
		Debug(ctx context.Context, msg string, keyvals ...any)
		Info(ctx context.Context, msg string, keyvals ...any)
		Warn(ctx context.Context, msg string, keyvals ...any)
		Error(ctx context.Context, msg string, keyvals ...any)
	}

	// Metrics exposes counter and histogram helpers for runtime
	// instrumentation.
	Metrics interface {
		IncCounter(name string, value float64, tags ...string)
		RecordTimer(name string, duration time.Duration, tags ...string)
		RecordGauge(name string, value float64, tags ...string)
	}

	// Tracer abstracts span creation so runtime code stays agnostic of the
	// underlying OpenTelemetry SDK configuration.
	Tracer interface {
		Start(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, Span)
	}

	// Span represents an in-flight tracing span.
	Span interface {
		End(opts ...trace.SpanEndOption)
		AddEvent(name string, attrs ...any)
		SetStatus(code codes.Code, description string)
		RecordError(err error, opts ...trace.EventOption)
	}

	// ToolTelemetry groups observability metadata about one tool
	// execution. No event type in eventbus carries it, and the agent loop
	// does not fill it in.
	ToolTelemetry struct {
		// DurationMs is the wall-clock execution time in milliseconds.
		DurationMs int64
		// Model identifies which model produced the call that requested
		// this tool, when known.
		Model string
		// Extra holds tool-specific metadata not captured by the fields
		// above.
		Extra map[string]any
	}
)
