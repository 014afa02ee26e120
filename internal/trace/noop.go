package trace

import (
	"context"

	otrace "go.opentelemetry.io/otel/trace"
)

// NewNoopTracer returns a Tracer backed by otel's no-op implementation, for
// tests and hosts that run without an exporter configured.
func NewNoopTracer() Tracer {
	return NewTracer(otrace.NewNoopTracerProvider().Tracer("pluginrt/noop"))
}
