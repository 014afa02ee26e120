// Package trace implements the per-invocation Trace Context (spec.md §3):
// traceId, spanId, an optional parentSpanId, accumulating attributes, and an
// append-only event log. It is backed by a real go.opentelemetry.io/otel
// trace.Span rather than a hand-rolled struct, following the span-wrapper
// pattern in tombee-conductor's internal/tracing/workflow.go, generalized
// from workflow/step spans to one span per handler invocation.
package trace

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	otrace "go.opentelemetry.io/otel/trace"
)

// Context is the handler-facing trace value attached to every invocation.
type Context struct {
	span   otrace.Span
	events []Event
}

// Event is one append-only entry in the trace's event log.
type Event struct {
	Name  string
	Attrs map[string]any
}

// Tracer is the minimal surface the runner needs to start a root span per
// invocation; production wiring supplies otel's global tracer, tests supply
// a no-op one.
type Tracer interface {
	Start(ctx context.Context, name string, attrs map[string]any) (context.Context, *Context)
}

type otelTracer struct {
	tracer otrace.Tracer
}

// NewTracer wraps an otel trace.Tracer (e.g. from
// otel.Tracer("pluginrt/runner")) as a Tracer.
func NewTracer(t otrace.Tracer) Tracer {
	return &otelTracer{tracer: t}
}

func (t *otelTracer) Start(ctx context.Context, name string, attrs map[string]any) (context.Context, *Context) {
	ctx, span := t.tracer.Start(ctx, name, otrace.WithAttributes(toOtelAttrs(attrs)...))
	return ctx, &Context{span: span}
}

// TraceID returns the invocation's trace identifier.
func (c *Context) TraceID() string {
	if c == nil || c.span == nil {
		return ""
	}
	return c.span.SpanContext().TraceID().String()
}

// SpanID returns the invocation's span identifier.
func (c *Context) SpanID() string {
	if c == nil || c.span == nil {
		return ""
	}
	return c.span.SpanContext().SpanID().String()
}

// SetAttributes merges attrs into the span's attribute set. Attributes
// accumulate across calls (spec.md §3: "Attributes accumulate").
func (c *Context) SetAttributes(attrs map[string]any) {
	if c == nil || c.span == nil {
		return
	}
	c.span.SetAttributes(toOtelAttrs(attrs)...)
}

// AddEvent appends a timestamped event to the trace's event log (spec.md
// §3: "events are append-only").
func (c *Context) AddEvent(name string, attrs map[string]any) {
	if c == nil {
		return
	}
	c.events = append(c.events, Event{Name: name, Attrs: attrs})
	if c.span != nil {
		c.span.AddEvent(name, otrace.WithAttributes(toOtelAttrs(attrs)...))
	}
}

// Events returns the accumulated event log.
func (c *Context) Events() []Event {
	if c == nil {
		return nil
	}
	return c.events
}

// End closes the underlying span, recording err on it as an error event if
// non-nil; the span status is not set.
func (c *Context) End(err error) {
	if c == nil || c.span == nil {
		return
	}
	if err != nil {
		c.span.RecordError(err)
	}
	c.span.End()
}

func toOtelAttrs(attrs map[string]any) []attribute.KeyValue {
	out := make([]attribute.KeyValue, 0, len(attrs))
	for k, v := range attrs {
		switch val := v.(type) {
		case string:
			out = append(out, attribute.String(k, val))
		case int:
			out = append(out, attribute.Int(k, val))
		case int64:
			out = append(out, attribute.Int64(k, val))
		case float64:
			out = append(out, attribute.Float64(k, val))
		case bool:
			out = append(out, attribute.Bool(k, val))
		default:
			out = append(out, attribute.String(k, fmt.Sprintf("%v", val)))
		}
	}
	return out
}
