package observe

import (
	"context"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Span attributes of an analysis cycle.
const (
	AttrEntryID    = attribute.Key("cuecard.entry.id")
	AttrWindowSize = attribute.Key("cuecard.window.size")
	AttrOutcome    = attribute.Key("cuecard.cycle.outcome")
)

const scope = "github.com/MrWong99/cuecard"

// Tracer is Cuecard's tracer on the global provider. It follows
// [otel.SetTracerProvider] calls made after it was first used.
func Tracer() trace.Tracer {
	return otel.Tracer(scope)
}

// StartSpan is shorthand for Tracer().Start.
func StartSpan(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	return Tracer().Start(ctx, name, opts...)
}

// StartCycleSpan starts the span of one analysis cycle triggered by entryID
// over a window of n transcript entries.
func StartCycleSpan(ctx context.Context, entryID string, n int) (context.Context, trace.Span) {
	return StartSpan(ctx, "copilot.analyze", trace.WithAttributes(
		AttrEntryID.String(entryID),
		AttrWindowSize.Int(n),
	))
}

// EndSpan tags span with outcome, marks it failed when err is non-nil and
// ends it.
func EndSpan(span trace.Span, outcome string, err error) {
	span.SetAttributes(AttrOutcome.String(outcome))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

// CorrelationID is the hex trace ID carried by ctx, or "" outside a trace.
func CorrelationID(ctx context.Context) string {
	if sc := trace.SpanContextFromContext(ctx); sc.HasTraceID() {
		return sc.TraceID().String()
	}
	return ""
}

// Detach returns a context that carries the span of ctx but none of its
// deadline or cancellation. Analysis cycles started by a request outlive it
// yet stay attached to its trace.
func Detach(ctx context.Context) context.Context {
	return trace.ContextWithSpanContext(context.Background(), trace.SpanContextFromContext(ctx))
}

// Logger is the default logger with trace_id and span_id attached when ctx
// carries a span.
func Logger(ctx context.Context) *slog.Logger {
	sc := trace.SpanContextFromContext(ctx)
	if !sc.HasTraceID() {
		return slog.Default()
	}
	return slog.Default().With("trace_id", sc.TraceID().String(), "span_id", sc.SpanID().String())
}
