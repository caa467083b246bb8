// Package observe provides application-wide observability primitives for
// fastWorkflow: OpenTelemetry metrics, distributed tracing, structured
// logging, and HTTP middleware that ties them together.
//
// Metrics are recorded through the OpenTelemetry Metrics API. A Prometheus
// exporter bridge is available via [InitProvider] so that metrics can still be
// scraped via the standard /metrics endpoint. A package-level default
// [Metrics] instance ([DefaultMetrics]) is provided for convenience; tests
// should use [NewMetrics] with a custom [metric.MeterProvider] to avoid
// cross-test pollution.
package observe

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all fastWorkflow
// metrics.
const meterName = "github.com/fastworkflow/fastworkflow"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use; the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// --- Latency histograms ---

	// StageDuration tracks time spent in one pipeline stage per turn. Use
	// with attribute: attribute.String("stage", ...)
	StageDuration metric.Float64Histogram

	// ExtractionDuration tracks parameter extraction latency per command.
	ExtractionDuration metric.Float64Histogram

	// ToolExecutionDuration tracks agent and MCP tool execution latency.
	ToolExecutionDuration metric.Float64Histogram

	// --- Counters ---

	// IntentResolutions counts intent classifications. Use with attributes:
	//   attribute.String("method", ...), attribute.String("outcome", ...)
	IntentResolutions metric.Int64Counter

	// PredictionVotes counts fanned-out majority-vote model predictions.
	PredictionVotes metric.Int64Counter

	// Turns counts completed conversation turns. Use with attribute:
	//   attribute.String("status", ...)
	Turns metric.Int64Counter

	// ConversationRotations counts new_conversation rotations.
	ConversationRotations metric.Int64Counter

	// ProviderRequests counts provider API calls. Use with attributes:
	//   attribute.String("provider", ...), attribute.String("kind", ...), attribute.String("status", ...)
	ProviderRequests metric.Int64Counter

	// ToolCalls counts tool invocations. Use with attributes:
	//   attribute.String("tool", ...), attribute.String("status", ...)
	ToolCalls metric.Int64Counter

	// --- Error counters ---

	// ProviderErrors counts provider errors. Use with attributes:
	//   attribute.String("provider", ...), attribute.String("kind", ...)
	ProviderErrors metric.Int64Counter

	// --- Gauges ---

	// ActiveSessions tracks the number of live per-user runtimes.
	ActiveSessions metric.Int64UpDownCounter

	// QueuedInvocations tracks invocations waiting on a per-user turn gate.
	QueuedInvocations metric.Int64UpDownCounter

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks HTTP request processing time. Use with attributes:
	//   attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds) sized for
// turns that may include one or more model calls.
var latencyBuckets = []float64{
	0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	// Histograms.
	if met.StageDuration, err = m.Float64Histogram("fastworkflow.pipeline.stage.duration",
		metric.WithDescription("Time spent in one pipeline stage, by stage."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.ExtractionDuration, err = m.Float64Histogram("fastworkflow.extraction.duration",
		metric.WithDescription("Parameter extraction latency by command."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.ToolExecutionDuration, err = m.Float64Histogram("fastworkflow.tool_execution.duration",
		metric.WithDescription("Latency of agent and MCP tool execution."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}

	// Counters.
	if met.IntentResolutions, err = m.Int64Counter("fastworkflow.intent.resolutions",
		metric.WithDescription("Total intent classifications by resolution method and outcome."),
	); err != nil {
		return nil, err
	}
	if met.PredictionVotes, err = m.Int64Counter("fastworkflow.intent.prediction_votes",
		metric.WithDescription("Total fanned-out majority-vote model predictions."),
	); err != nil {
		return nil, err
	}
	if met.Turns, err = m.Int64Counter("fastworkflow.turns",
		metric.WithDescription("Total completed conversation turns by status."),
	); err != nil {
		return nil, err
	}
	if met.ConversationRotations, err = m.Int64Counter("fastworkflow.conversation.rotations",
		metric.WithDescription("Total conversation rotations."),
	); err != nil {
		return nil, err
	}
	if met.ProviderRequests, err = m.Int64Counter("fastworkflow.provider.requests",
		metric.WithDescription("Model and embedding API requests by provider, kind, and status."),
	); err != nil {
		return nil, err
	}
	if met.ToolCalls, err = m.Int64Counter("fastworkflow.tool.calls",
		metric.WithDescription("Tool invocations by tool name and status."),
	); err != nil {
		return nil, err
	}

	// Error counters.
	if met.ProviderErrors, err = m.Int64Counter("fastworkflow.provider.errors",
		metric.WithDescription("Provider failures by provider and kind."),
	); err != nil {
		return nil, err
	}

	// Gauges (UpDownCounters).
	if met.ActiveSessions, err = m.Int64UpDownCounter("fastworkflow.active_sessions",
		metric.WithDescription("Number of live per-user session runtimes."),
	); err != nil {
		return nil, err
	}
	if met.QueuedInvocations, err = m.Int64UpDownCounter("fastworkflow.queued_invocations",
		metric.WithDescription("Invocations waiting on a per-user turn gate."),
	); err != nil {
		return nil, err
	}

	// HTTP middleware histogram.
	if met.HTTPRequestDuration, err = m.Float64Histogram("fastworkflow.http.request.duration",
		metric.WithDescription("API request latency by method and path."),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}

	return met, nil
}

// defaultMetrics is the lazily-initialised package-level Metrics instance.
var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns the package-level [Metrics] instance, creating it on
// first call using [otel.GetMeterProvider]. Subsequent calls return the same
// pointer. Panics if instrument creation fails (should not happen with the
// global provider).
func DefaultMetrics() *Metrics {
	defaultMetricsOnce.Do(func() {
		var err error
		defaultMetrics, err = NewMetrics(otel.GetMeterProvider())
		if err != nil {
			panic("observe: failed to create default metrics: " + err.Error())
		}
	})
	return defaultMetrics
}

// Attr is a convenience alias for [attribute.String] to reduce verbosity at
// call sites.
func Attr(key, value string) attribute.KeyValue {
	return attribute.String(key, value)
}

// RecordStageDuration records the time one pipeline stage took. Nil-safe so
// components can run without metrics in tests.
func (m *Metrics) RecordStageDuration(ctx context.Context, stage string, d time.Duration) {
	if m == nil {
		return
	}
	m.StageDuration.Record(ctx, d.Seconds(),
		metric.WithAttributes(attribute.String("stage", stage)),
	)
}

// RecordIntentResolution records one intent classification outcome.
func (m *Metrics) RecordIntentResolution(ctx context.Context, method, outcome string) {
	if m == nil {
		return
	}
	m.IntentResolutions.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("method", method),
			attribute.String("outcome", outcome),
		),
	)
}

// RecordTurn records a completed turn with its status ("ok", "error",
// "timeout").
func (m *Metrics) RecordTurn(ctx context.Context, status string) {
	if m == nil {
		return
	}
	m.Turns.Add(ctx, 1, metric.WithAttributes(attribute.String("status", status)))
}

// RecordRotation records a conversation rotation.
func (m *Metrics) RecordRotation(ctx context.Context) {
	if m == nil {
		return
	}
	m.ConversationRotations.Add(ctx, 1)
}

// AddActiveSessions moves the live-runtime gauge by delta.
func (m *Metrics) AddActiveSessions(ctx context.Context, delta int64) {
	if m == nil {
		return
	}
	m.ActiveSessions.Add(ctx, delta)
}

// RecordProviderRequest is a convenience method that records a provider
// request counter increment with the standard attribute set.
func (m *Metrics) RecordProviderRequest(ctx context.Context, provider, kind, status string) {
	if m == nil {
		return
	}
	m.ProviderRequests.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("kind", kind),
			attribute.String("status", status),
		),
	)
}

// RecordToolCall is a convenience method that records a tool call counter
// increment with the standard attribute set.
func (m *Metrics) RecordToolCall(ctx context.Context, tool, status string) {
	if m == nil {
		return
	}
	m.ToolCalls.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("tool", tool),
			attribute.String("status", status),
		),
	)
}

// RecordProviderError is a convenience method that records a provider error
// counter increment.
func (m *Metrics) RecordProviderError(ctx context.Context, provider, kind string) {
	if m == nil {
		return
	}
	m.ProviderErrors.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("kind", kind),
		),
	)
}
