package observe

import (
	"context"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

// tracerScope is the instrumentation scope for spans emitted by this module.
const tracerScope = "github.com/fastworkflow/fastworkflow"

// StartSpan opens a span on the globally registered tracer provider and
// returns the derived context. The caller must end the span.
func StartSpan(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	return otel.Tracer(tracerScope).Start(ctx, name, opts...)
}

// CorrelationID reports the hex trace ID of the active span, or the empty
// string when ctx carries none. The trace ID is what clients see in the
// X-Correlation-ID response header, so one value ties a client report to the
// server access log and the spans of the turn that produced it.
func CorrelationID(ctx context.Context) string {
	if sc := trace.SpanContextFromContext(ctx); sc.HasTraceID() {
		return sc.TraceID().String()
	}
	return ""
}

// Logger binds the default logger to the active span's trace and span IDs so
// per-turn log lines can be filtered by correlation ID. Without an active
// span it returns [slog.Default] unchanged.
func Logger(ctx context.Context) *slog.Logger {
	sc := trace.SpanContextFromContext(ctx)
	if !sc.HasTraceID() {
		return slog.Default()
	}
	return slog.Default().With(
		slog.String("trace_id", sc.TraceID().String()),
		slog.String("span_id", sc.SpanID().String()),
	)
}
