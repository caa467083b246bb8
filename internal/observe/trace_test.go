package observe

import (
	"bytes"
	"context"
	"encoding/hex"
	"log/slog"
	"strings"
	"testing"

	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

// installTracer registers an in-memory tracer provider as the global one for
// the duration of the test and returns its exporter.
func installTracer(t *testing.T) *tracetest.InMemoryExporter {
	t.Helper()
	exp := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exp))
	prev := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	t.Cleanup(func() {
		otel.SetTracerProvider(prev)
		_ = tp.Shutdown(context.Background())
	})
	return exp
}

// captureLog points slog.Default at a buffer for the duration of the test.
func captureLog(t *testing.T) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	prev := slog.Default()
	slog.SetDefault(slog.New(slog.NewTextHandler(&buf, nil)))
	t.Cleanup(func() { slog.SetDefault(prev) })
	return &buf
}

func TestStartSpan_RecordsNamedSpan(t *testing.T) {
	exp := installTracer(t)

	ctx, span := StartSpan(context.Background(), "resolve intent")
	if CorrelationID(ctx) == "" {
		t.Fatal("started span has no trace ID")
	}
	span.End()

	spans := exp.GetSpans()
	if len(spans) != 1 {
		t.Fatalf("recorded %d spans, want 1", len(spans))
	}
	if spans[0].Name != "resolve intent" {
		t.Errorf("span name = %q, want %q", spans[0].Name, "resolve intent")
	}
}

func TestCorrelationID_EmptyWithoutSpan(t *testing.T) {
	if got := CorrelationID(context.Background()); got != "" {
		t.Errorf("CorrelationID without a span = %q, want empty", got)
	}
}

func TestCorrelationID_IsHexTraceID(t *testing.T) {
	installTracer(t)

	ctx, span := StartSpan(context.Background(), "extract parameters")
	defer span.End()

	cid := CorrelationID(ctx)
	if len(cid) != 32 {
		t.Fatalf("correlation ID %q has length %d, want 32", cid, len(cid))
	}
	if _, err := hex.DecodeString(cid); err != nil {
		t.Errorf("correlation ID %q is not hex: %v", cid, err)
	}
}

func TestCorrelationID_DistinctPerTurn(t *testing.T) {
	installTracer(t)

	seen := make(map[string]struct{}, 64)
	for range 64 {
		ctx, span := StartSpan(context.Background(), "turn")
		id := CorrelationID(ctx)
		span.End()
		if _, dup := seen[id]; dup {
			t.Fatalf("trace ID %s issued twice", id)
		}
		seen[id] = struct{}{}
	}
}

func TestLogger_BindsTraceAndSpanIDs(t *testing.T) {
	installTracer(t)
	buf := captureLog(t)

	ctx, span := StartSpan(context.Background(), "dispatch")
	defer span.End()
	Logger(ctx).Info("handler invoked")

	out := buf.String()
	for _, key := range []string{"trace_id=", "span_id="} {
		if !strings.Contains(out, key) {
			t.Errorf("log line missing %s: %s", key, out)
		}
	}
}

func TestLogger_PlainWithoutSpan(t *testing.T) {
	buf := captureLog(t)

	Logger(context.Background()).Info("startup")

	if out := buf.String(); strings.Contains(out, "trace_id") {
		t.Errorf("log line should carry no trace_id without a span: %s", out)
	}
}
