package telemetry

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/voxlane/maestro/core"
)

// Tracer implements core.Telemetry on an OpenTelemetry tracer. Metrics
// recorded through RecordMetric are forwarded to the provided core.Metrics
// as histograms.
type Tracer struct {
	tracer  trace.Tracer
	metrics core.Metrics
}

// NewTracer wraps an OpenTelemetry tracer. metrics may be nil.
func NewTracer(tracer trace.Tracer, metrics core.Metrics) *Tracer {
	if metrics == nil {
		metrics = &core.NoOpMetrics{}
	}
	return &Tracer{tracer: tracer, metrics: metrics}
}

// StartSpan starts a span and returns it behind the core.Span interface.
func (t *Tracer) StartSpan(ctx context.Context, name string) (context.Context, core.Span) {
	ctx, span := t.tracer.Start(ctx, name)
	return ctx, &otelSpan{span: span}
}

// RecordMetric records a histogram observation.
func (t *Tracer) RecordMetric(name string, value float64, labels map[string]string) {
	t.metrics.Histogram(name, value, labels)
}

type otelSpan struct {
	span trace.Span
}

func (s *otelSpan) End() {
	s.span.End()
}

func (s *otelSpan) SetAttribute(key string, value interface{}) {
	switch v := value.(type) {
	case string:
		s.span.SetAttributes(attribute.String(key, v))
	case bool:
		s.span.SetAttributes(attribute.Bool(key, v))
	case int:
		s.span.SetAttributes(attribute.Int(key, v))
	case int64:
		s.span.SetAttributes(attribute.Int64(key, v))
	case float64:
		s.span.SetAttributes(attribute.Float64(key, v))
	default:
		s.span.SetAttributes(attribute.String(key, fmt.Sprintf("%v", v)))
	}
}

func (s *otelSpan) RecordError(err error) {
	if err == nil {
		return
	}
	s.span.RecordError(err)
	s.span.SetStatus(codes.Error, err.Error())
}
