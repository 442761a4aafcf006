// Package observe provides the observability primitives shared by every
// wordhoard component: OpenTelemetry metrics, tracing, trace-aware logging,
// and the HTTP middleware that ties them together.
//
// Metrics are recorded through the OpenTelemetry Metrics API and exported in
// Prometheus format by [InitProvider]; [MetricsHandler] serves them. A
// package-level [Metrics] instance ([DefaultMetrics]) is provided for
// convenience; tests should use [NewMetrics] with their own
// [metric.MeterProvider] to avoid cross-test pollution.
package observe

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope for all wordhoard metrics.
const meterName = "github.com/MrWong99/wordhoard"

// Metrics holds the OpenTelemetry instruments for the application. The
// underlying OTel types handle their own synchronisation.
type Metrics struct {
	// --- Latency histograms ---

	// EmbeddingDuration tracks embedding computation latency. Attributes:
	//   function ("meaning", "ngram"), mode ("source", "query")
	EmbeddingDuration metric.Float64Histogram

	// StoreDuration tracks catalog and vector-index call latency. Attributes:
	//   store ("catalog", "vector_index"), op
	StoreDuration metric.Float64Histogram

	// ToolExecutionDuration tracks MCP tool execution latency.
	ToolExecutionDuration metric.Float64Histogram

	// --- Counters ---

	// SearchRequests counts searches. Attributes: mode, status
	SearchRequests metric.Int64Counter

	// SearchFallbacks counts semantic or fused searches served by exact
	// matching because the vector path failed. Attribute: mode
	SearchFallbacks metric.Int64Counter

	// ConsistencyErrors counts words committed to the catalog whose vector
	// row could not be written.
	ConsistencyErrors metric.Int64Counter

	// ReconcileWords counts words handled by reconciliation. Attribute:
	//   status ("repaired", "failed")
	ReconcileWords metric.Int64Counter

	// ProviderRequests counts embedding provider calls. Attributes:
	//   provider, kind, status
	ProviderRequests metric.Int64Counter

	// ProviderErrors counts embedding provider errors. Attributes:
	//   provider, kind
	ProviderErrors metric.Int64Counter

	// ToolCalls counts MCP tool invocations. Attributes: tool, status
	ToolCalls metric.Int64Counter

	// --- Gauges ---

	// PendingIndex tracks words known to be missing from the vector index
	// and waiting for reconciliation.
	PendingIndex metric.Int64UpDownCounter

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks HTTP request processing time. Attributes:
	//   method, path (the matched route pattern)
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets are histogram boundaries in seconds, spanning in-process
// n-gram hashing up to remote model calls near their timeout.
var latencyBuckets = []float64{
	0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10,
}

// NewMetrics creates all instruments on mp.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	if met.EmbeddingDuration, err = m.Float64Histogram("wordhoard.embedding.duration",
		metric.WithDescription("Latency of embedding computations by function and mode."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.StoreDuration, err = m.Float64Histogram("wordhoard.store.duration",
		metric.WithDescription("Latency of catalog and vector index operations."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.ToolExecutionDuration, err = m.Float64Histogram("wordhoard.tool_execution.duration",
		metric.WithDescription("Latency of MCP tool execution."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}

	if met.SearchRequests, err = m.Int64Counter("wordhoard.search.requests",
		metric.WithDescription("Total word searches by mode and status."),
	); err != nil {
		return nil, err
	}
	if met.SearchFallbacks, err = m.Int64Counter("wordhoard.search.fallbacks",
		metric.WithDescription("Searches degraded to exact matching by requested mode."),
	); err != nil {
		return nil, err
	}
	if met.ConsistencyErrors, err = m.Int64Counter("wordhoard.consistency.errors",
		metric.WithDescription("Words committed to the catalog but missing from the vector index."),
	); err != nil {
		return nil, err
	}
	if met.ReconcileWords, err = m.Int64Counter("wordhoard.reconcile.words",
		metric.WithDescription("Words processed by index reconciliation by status."),
	); err != nil {
		return nil, err
	}
	if met.ProviderRequests, err = m.Int64Counter("wordhoard.provider.requests",
		metric.WithDescription("Total provider API requests by provider, kind, and status."),
	); err != nil {
		return nil, err
	}
	if met.ProviderErrors, err = m.Int64Counter("wordhoard.provider.errors",
		metric.WithDescription("Total provider errors by provider and kind."),
	); err != nil {
		return nil, err
	}
	if met.ToolCalls, err = m.Int64Counter("wordhoard.tool.calls",
		metric.WithDescription("Total tool invocations by tool name and status."),
	); err != nil {
		return nil, err
	}

	if met.PendingIndex, err = m.Int64UpDownCounter("wordhoard.index.pending",
		metric.WithDescription("Words waiting for their vector row to be written."),
	); err != nil {
		return nil, err
	}

	if met.HTTPRequestDuration, err = m.Float64Histogram("wordhoard.http.request.duration",
		metric.WithDescription("HTTP request latency by method and route."),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}

	return met, nil
}

var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns the package-level [Metrics] instance, created on
// first call from [otel.GetMeterProvider]. It panics if instrument creation
// fails, which does not happen with the global provider.
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

// Attr is shorthand for [attribute.String].
func Attr(key, value string) attribute.KeyValue {
	return attribute.String(key, value)
}

// RecordEmbedding records the latency of one embedding batch.
func (m *Metrics) RecordEmbedding(ctx context.Context, function, mode string, d time.Duration) {
	m.EmbeddingDuration.Record(ctx, d.Seconds(),
		metric.WithAttributes(
			attribute.String("function", function),
			attribute.String("mode", mode),
		),
	)
}

// RecordStore records the latency of one store operation.
func (m *Metrics) RecordStore(ctx context.Context, store, op string, d time.Duration) {
	m.StoreDuration.Record(ctx, d.Seconds(),
		metric.WithAttributes(
			attribute.String("store", store),
			attribute.String("op", op),
		),
	)
}

// RecordSearch counts one search request.
func (m *Metrics) RecordSearch(ctx context.Context, mode, status string) {
	m.SearchRequests.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("mode", mode),
			attribute.String("status", status),
		),
	)
}

// RecordFallback counts one search degraded to exact matching.
func (m *Metrics) RecordFallback(ctx context.Context, mode string) {
	m.SearchFallbacks.Add(ctx, 1, metric.WithAttributes(attribute.String("mode", mode)))
}

// RecordConsistencyError counts one word left without a vector row and marks
// it pending.
func (m *Metrics) RecordConsistencyError(ctx context.Context) {
	m.ConsistencyErrors.Add(ctx, 1)
	m.PendingIndex.Add(ctx, 1)
}

// RecordReconcile counts words handled by one reconciliation pass. Repaired
// words are removed from the pending gauge.
func (m *Metrics) RecordReconcile(ctx context.Context, repaired, failed int) {
	if repaired > 0 {
		m.ReconcileWords.Add(ctx, int64(repaired), metric.WithAttributes(attribute.String("status", "repaired")))
		m.PendingIndex.Add(ctx, -int64(repaired))
	}
	if failed > 0 {
		m.ReconcileWords.Add(ctx, int64(failed), metric.WithAttributes(attribute.String("status", "failed")))
	}
}

// RecordProviderRequest counts one provider call.
func (m *Metrics) RecordProviderRequest(ctx context.Context, provider, kind, status string) {
	m.ProviderRequests.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("kind", kind),
			attribute.String("status", status),
		),
	)
}

// RecordProviderError counts one provider error.
func (m *Metrics) RecordProviderError(ctx context.Context, provider, kind string) {
	m.ProviderErrors.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("kind", kind),
		),
	)
}

// RecordToolCall counts one tool invocation and records its latency.
func (m *Metrics) RecordToolCall(ctx context.Context, tool, status string, d time.Duration) {
	m.ToolCalls.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("tool", tool),
			attribute.String("status", status),
		),
	)
	m.ToolExecutionDuration.Record(ctx, d.Seconds(),
		metric.WithAttributes(attribute.String("tool", tool)),
	)
}
