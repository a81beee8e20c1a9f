// Package observe provides application-wide observability primitives for
// Radiodash: OpenTelemetry metrics, distributed tracing, structured logging,
// and HTTP middleware that ties them together.
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

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all Radiodash metrics.
const meterName = "github.com/zeri-fi/radiodash"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use — the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// --- Latency histograms ---

	// PollDuration tracks one call-list refresh cycle, REST fetch included.
	PollDuration metric.Float64Histogram

	// FollowUpDuration tracks follow-up chat answer latency.
	FollowUpDuration metric.Float64Histogram

	// AnalyticsDuration tracks spending-plan computation latency, LLM call
	// included.
	AnalyticsDuration metric.Float64Histogram

	// --- Counters ---

	// ProviderRequests counts outbound provider API calls. Use with attributes:
	//   attribute.String("provider", ...), attribute.String("kind", ...), attribute.String("status", ...)
	ProviderRequests metric.Int64Counter

	// ProviderErrors counts provider errors. Use with attributes:
	//   attribute.String("provider", ...), attribute.String("kind", ...)
	ProviderErrors metric.Int64Counter

	// LiveUpdates counts live-transcription updates applied to panel state.
	// Use with attribute: attribute.String("source", "call"|"realtime").
	LiveUpdates metric.Int64Counter

	// --- Gauges ---

	// ActiveCallSockets tracks open per-call WebSocket connections.
	ActiveCallSockets metric.Int64UpDownCounter

	// GatewayConnections tracks live calls attached to the inbound gateway.
	GatewayConnections metric.Int64UpDownCounter

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks HTTP request processing time. Use with attributes:
	//   attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds) sized for
// network round trips up to a full poll cycle.
var latencyBuckets = []float64{
	0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	// Histograms.
	if met.PollDuration, err = m.Float64Histogram("radiodash.transcripts.poll.duration",
		metric.WithDescription("Latency of one call-list refresh cycle."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.FollowUpDuration, err = m.Float64Histogram("radiodash.followup.duration",
		metric.WithDescription("Latency of follow-up chat answers."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.AnalyticsDuration, err = m.Float64Histogram("radiodash.analytics.duration",
		metric.WithDescription("Latency of spending-plan computation."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}

	// Counters.
	if met.ProviderRequests, err = m.Int64Counter("radiodash.provider.requests",
		metric.WithDescription("Total provider API requests by provider, kind, and status."),
	); err != nil {
		return nil, err
	}
	if met.ProviderErrors, err = m.Int64Counter("radiodash.provider.errors",
		metric.WithDescription("Total provider errors by provider and kind."),
	); err != nil {
		return nil, err
	}
	if met.LiveUpdates, err = m.Int64Counter("radiodash.transcripts.live_updates",
		metric.WithDescription("Total live-transcription updates applied, by source socket."),
	); err != nil {
		return nil, err
	}

	// Gauges (UpDownCounters).
	if met.ActiveCallSockets, err = m.Int64UpDownCounter("radiodash.transcripts.active_call_sockets",
		metric.WithDescription("Number of open per-call WebSocket connections."),
	); err != nil {
		return nil, err
	}
	if met.GatewayConnections, err = m.Int64UpDownCounter("radiodash.gateway.connections",
		metric.WithDescription("Number of live calls attached to the gateway."),
	); err != nil {
		return nil, err
	}

	// HTTP middleware histogram.
	if met.HTTPRequestDuration, err = m.Float64Histogram("radiodash.http.request.duration",
		metric.WithDescription("HTTP request latency by method and path."),
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

// RecordProviderRequest is a convenience method that records a provider
// request counter increment with the standard attribute set.
func (m *Metrics) RecordProviderRequest(ctx context.Context, provider, kind, status string) {
	m.ProviderRequests.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("kind", kind),
			attribute.String("status", status),
		),
	)
}

// RecordProviderError is a convenience method that records a provider error
// counter increment.
func (m *Metrics) RecordProviderError(ctx context.Context, provider, kind string) {
	m.ProviderErrors.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("kind", kind),
		),
	)
}

// RecordLiveUpdate is a convenience method that records a live-transcription
// update with its source socket.
func (m *Metrics) RecordLiveUpdate(ctx context.Context, source string) {
	m.LiveUpdates.Add(ctx, 1,
		metric.WithAttributes(attribute.String("source", source)),
	)
}
