// Package observe provides application-wide observability primitives for
// snitch: OpenTelemetry metrics, distributed tracing, structured logging, and
// HTTP middleware that ties them together.
//
// Metrics are recorded through the OpenTelemetry Metrics API. A Prometheus
// exporter bridge is available via [InitProvider] so that metrics can be
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

// meterName is the instrumentation scope name used for all snitch metrics.
const meterName = "github.com/aisnitch/snitch"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use; the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// --- Voice pipeline ---

	// ChunksSent counts capture blocks accepted by the transport.
	ChunksSent metric.Int64Counter

	// ChunksDropped counts capture blocks the transport rejected. Use with
	// attribute.String("reason", ...).
	ChunksDropped metric.Int64Counter

	// DecodeFailures counts inbound audio chunks dropped as malformed. Use
	// with attribute.String("stage", "wire"|"pcm").
	DecodeFailures metric.Int64Counter

	// Interruptions counts server-signalled barge-ins.
	Interruptions metric.Int64Counter

	// ActiveSessions tracks the number of live voice sessions.
	ActiveSessions metric.Int64UpDownCounter

	// PlaybackBacklog records how far the playback cursor runs ahead of the
	// output clock when a chunk is scheduled.
	PlaybackBacklog metric.Float64Histogram

	// --- Analysis ---

	// AnalysisDuration tracks content-analysis latency. Use with
	// attribute.String("kind", "text"|"link"|"media"|"frame").
	AnalysisDuration metric.Float64Histogram

	// --- Error counters ---

	// ProviderErrors counts provider errors. Use with attributes:
	//   attribute.String("provider", ...), attribute.String("kind", ...)
	ProviderErrors metric.Int64Counter

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks HTTP request processing time. Use with attributes:
	//   attribute.String("method", ...), attribute.String("route", ...),
	//   attribute.String("status", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds) for remote
// model calls.
var latencyBuckets = []float64{
	0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 20, 30,
}

// backlogBuckets covers a few milliseconds up to several seconds of queued
// speech.
var backlogBuckets = []float64{
	0, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	// Voice counters.
	if met.ChunksSent, err = m.Int64Counter("snitch.voice.chunks_sent",
		metric.WithDescription("Capture blocks accepted by the live transport."),
	); err != nil {
		return nil, err
	}
	if met.ChunksDropped, err = m.Int64Counter("snitch.voice.chunks_dropped",
		metric.WithDescription("Capture blocks dropped before reaching the live transport."),
	); err != nil {
		return nil, err
	}
	if met.DecodeFailures, err = m.Int64Counter("snitch.voice.decode_failures",
		metric.WithDescription("Inbound audio chunks dropped because they could not be decoded."),
	); err != nil {
		return nil, err
	}
	if met.Interruptions, err = m.Int64Counter("snitch.voice.interruptions",
		metric.WithDescription("Server-signalled interruptions of model speech."),
	); err != nil {
		return nil, err
	}
	if met.ActiveSessions, err = m.Int64UpDownCounter("snitch.voice.active_sessions",
		metric.WithDescription("Number of live voice sessions."),
	); err != nil {
		return nil, err
	}
	if met.PlaybackBacklog, err = m.Float64Histogram("snitch.voice.playback_backlog",
		metric.WithDescription("Scheduled but unplayed model speech at enqueue time."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(backlogBuckets...),
	); err != nil {
		return nil, err
	}

	// Analysis.
	if met.AnalysisDuration, err = m.Float64Histogram("snitch.analysis.duration",
		metric.WithDescription("Latency of content analysis by kind."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}

	// Error counters.
	if met.ProviderErrors, err = m.Int64Counter("snitch.provider.errors",
		metric.WithDescription("Total provider errors by provider and kind."),
	); err != nil {
		return nil, err
	}

	// HTTP middleware histogram.
	if met.HTTPRequestDuration, err = m.Float64Histogram("snitch.http.request.duration",
		metric.WithDescription("HTTP request latency by method, route and status."),
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

// RecordChunkDropped records a dropped capture block.
func (m *Metrics) RecordChunkDropped(ctx context.Context, reason string) {
	m.ChunksDropped.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", reason)))
}

// RecordDecodeFailure records an inbound chunk dropped at the given stage.
func (m *Metrics) RecordDecodeFailure(ctx context.Context, stage string) {
	m.DecodeFailures.Add(ctx, 1, metric.WithAttributes(attribute.String("stage", stage)))
}

// RecordAnalysis records the latency of one analysis call.
func (m *Metrics) RecordAnalysis(ctx context.Context, kind string, d time.Duration) {
	m.AnalysisDuration.Record(ctx, d.Seconds(), metric.WithAttributes(attribute.String("kind", kind)))
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
