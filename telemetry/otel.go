package telemetry

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

type (
	// OTelLogger emits structured log records via log/slog, annotated with
	// the active span's trace and span IDs when the context carries one so
	// logs and traces can be correlated in a backend that ingests both.
	OTelLogger struct {
		slog *slog.Logger
	}

	// OTelMetrics delegates counter/timer/gauge recording to an OTEL
	// meter obtained from the global MeterProvider.
	OTelMetrics struct {
		counters   map[string]metric.Float64Counter
		histograms map[string]metric.Float64Histogram
		gauges     map[string]metric.Float64Gauge
		meter      metric.Meter
	}

	// OTelTracer delegates span creation to an OTEL tracer obtained from
	// the global TracerProvider.
	OTelTracer struct {
		tracer trace.Tracer
	}

	otelSpan struct {
		span trace.Span
	}
)

// NewOTelLogger constructs a Logger backed by log/slog with the given base
// logger (defaults to slog.Default() when nil).
func NewOTelLogger(base *slog.Logger) Logger {
	if base == nil {
		base = slog.Default()
	}
	return &OTelLogger{slog: base}
}

// NewOTelMetrics constructs a Metrics recorder backed by the global OTEL
// MeterProvider, under the given instrumentation name.
func NewOTelMetrics(instrumentationName string) Metrics {
	return &OTelMetrics{
		meter:      otel.Meter(instrumentationName),
		counters:   make(map[string]metric.Float64Counter),
		histograms: make(map[string]metric.Float64Histogram),
		gauges:     make(map[string]metric.Float64Gauge),
	}
}

// NewOTelTracer constructs a Tracer backed by the global OTEL
// TracerProvider, under the given instrumentation name.
func NewOTelTracer(instrumentationName string) Tracer {
	return &OTelTracer{tracer: otel.Tracer(instrumentationName)}
}

func (l *OTelLogger) log(ctx context.Context, level slog.Level, msg string, keyvals ...any) {
	args := keyvals
	if span := trace.SpanContextFromContext(ctx); span.IsValid() {
		args = append(append([]any{}, keyvals...), "trace_id", span.TraceID().String(), "span_id", span.SpanID().String())
	}
	l.slog.Log(ctx, level, msg, args...)
}

func (l *OTelLogger) Debug(ctx context.Context, msg string, keyvals ...any) { l.log(ctx, slog.LevelDebug, msg, keyvals...) }
func (l *OTelLogger) Info(ctx context.Context, msg string, keyvals ...any)  { l.log(ctx, slog.LevelInfo, msg, keyvals...) }
func (l *OTelLogger) Warn(ctx context.Context, msg string, keyvals ...any)  { l.log(ctx, slog.LevelWarn, msg, keyvals...) }
func (l *OTelLogger) Error(ctx context.Context, msg string, keyvals ...any) { l.log(ctx, slog.LevelError, msg, keyvals...) }

func (m *OTelMetrics) IncCounter(name string, value float64, tags ...string) {
	c, ok := m.counters[name]
	if !ok {
		var err error
		c, err = m.meter.Float64Counter(name)
		if err != nil {
			return
		}
		m.counters[name] = c
	}
	c.Add(context.Background(), value, metric.WithAttributes(tagsToAttrs(tags)...))
}

func (m *OTelMetrics) RecordTimer(name string, duration time.Duration, tags ...string) {
	h, ok := m.histograms[name]
	if !ok {
		var err error
		h, err = m.meter.Float64Histogram(name, metric.WithUnit("ms"))
		if err != nil {
			return
		}
		m.histograms[name] = h
	}
	h.Record(context.Background(), float64(duration.Milliseconds()), metric.WithAttributes(tagsToAttrs(tags)...))
}

func (m *OTelMetrics) RecordGauge(name string, value float64, tags ...string) {
	g, ok := m.gauges[name]
	if !ok {
		var err error
		g, err = m.meter.Float64Gauge(name)
		if err != nil {
			return
		}
		m.gauges[name] = g
	}
	g.Record(context.Background(), value, metric.WithAttributes(tagsToAttrs(tags)...))
}

func tagsToAttrs(tags []string) []attribute.KeyValue {
	attrs := make([]attribute.KeyValue, 0, len(tags)/2)
	for i := 0; i+1 < len(tags); i += 2 {
		attrs = append(attrs, attribute.String(tags[i], tags[i+1]))
	}
	return attrs
}

func (t *OTelTracer) Start(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, Span) {
	ctx, span := t.tracer.Start(ctx, name, opts...)
	return ctx, &otelSpan{span: span}
}

func (s *otelSpan) End(opts ...trace.SpanEndOption) { s.span.End(opts...) }
func (s *otelSpan) AddEvent(name string, attrs ...any) {
	kvs := make([]attribute.KeyValue, 0, len(attrs)/2)
	for i := 0; i+1 < len(attrs); i += 2 {
		if k, ok := attrs[i].(string); ok {
			kvs = append(kvs, attribute.String(k, toString(attrs[i+1])))
		}
	}
	s.span.AddEvent(name, trace.WithAttributes(kvs...))
}
func (s *otelSpan) SetStatus(code codes.Code, description string)  { s.span.SetStatus(code, description) }
func (s *otelSpan) RecordError(err error, opts ...trace.EventOption) { s.span.RecordError(err, opts...) }

func toString(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprint(v)
}
