// Package observe provides application-wide observability primitives for
// Vocalis: OpenTelemetry metrics, distributed tracing, structured logging,
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
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all Vocalis metrics.
const meterName = "github.com/vocalis-ai/vocalis"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use — the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// --- Latency histograms ---

	// GenerationDuration tracks reply generation latency from trigger to
	// final token.
	GenerationDuration metric.Float64Histogram

	// FirstTokenDuration tracks the latency from trigger to first reply
	// token.
	FirstTokenDuration metric.Float64Histogram

	// --- Counters ---

	// FramesProcessed counts audio frames run through the pipeline.
	FramesProcessed metric.Int64Counter

	// VADEvents counts voice-activity classifications. Use with attribute:
	//   attribute.String("event", ...)
	VADEvents metric.Int64Counter

	// Interruptions counts replies preempted by user speech.
	Interruptions metric.Int64Counter

	// Replies counts completed assistant replies.
	Replies metric.Int64Counter

	// --- Error counters ---

	// ProviderErrors counts provider errors. Use with attributes:
	//   attribute.String("provider", ...), attribute.String("kind", ...)
	ProviderErrors metric.Int64Counter

	// PersistenceErrors counts failed exchange saves.
	PersistenceErrors metric.Int64Counter

	// --- Gauges ---

	// ActiveSessions tracks the number of live conversations.
	ActiveSessions metric.Int64UpDownCounter

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks HTTP request processing time. Use with attributes:
	//   attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds) optimised
// for voice-pipeline latencies.
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
	if met.GenerationDuration, err = m.Float64Histogram("vocalis.generation.duration",
		metric.WithDescription("Latency of reply generation from trigger to final token."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.FirstTokenDuration, err = m.Float64Histogram("vocalis.generation.first_token.duration",
		metric.WithDescription("Latency from trigger to first reply token."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}

	// Counters.
	if met.FramesProcessed, err = m.Int64Counter("vocalis.frames.processed",
		metric.WithDescription("Total audio frames processed by the pipeline."),
	); err != nil {
		return nil, err
	}
	if met.VADEvents, err = m.Int64Counter("vocalis.vad.events",
		metric.WithDescription("Total voice-activity classifications by event."),
	); err != nil {
		return nil, err
	}
	if met.Interruptions, err = m.Int64Counter("vocalis.interruptions",
		metric.WithDescription("Total replies preempted by user speech."),
	); err != nil {
		return nil, err
	}
	if met.Replies, err = m.Int64Counter("vocalis.replies",
		metric.WithDescription("Total completed assistant replies."),
	); err != nil {
		return nil, err
	}

	// Error counters.
	if met.ProviderErrors, err = m.Int64Counter("vocalis.provider.errors",
		metric.WithDescription("Total provider errors by provider and kind."),
	); err != nil {
		return nil, err
	}
	if met.PersistenceErrors, err = m.Int64Counter("vocalis.persistence.errors",
		metric.WithDescription("Total failed exchange saves."),
	); err != nil {
		return nil, err
	}

	// Gauges (UpDownCounters).
	if met.ActiveSessions, err = m.Int64UpDownCounter("vocalis.active_sessions",
		metric.WithDescription("Number of live conversations."),
	); err != nil {
		return nil, err
	}

	// HTTP middleware histogram.
	if met.HTTPRequestDuration, err = m.Float64Histogram("vocalis.http.request.duration",
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

// RecordFrame records one processed audio frame together with its VAD
// classification.
func (m *Metrics) RecordFrame(ctx context.Context, vadEvent string) {
	m.FramesProcessed.Add(ctx, 1)
	m.VADEvents.Add(ctx, 1,
		metric.WithAttributes(attribute.String("event", vadEvent)),
	)
}

// RecordInterruption records one preempted reply.
func (m *Metrics) RecordInterruption(ctx context.Context) {
	m.Interruptions.Add(ctx, 1)
}

// RecordReply records a completed reply with its latency profile.
func (m *Metrics) RecordReply(ctx context.Context, total, firstToken time.Duration) {
	m.Replies.Add(ctx, 1)
	m.GenerationDuration.Record(ctx, total.Seconds())
	if firstToken > 0 {
		m.FirstTokenDuration.Record(ctx, firstToken.Seconds())
	}
}

// RecordProviderError records a provider error counter increment.
func (m *Metrics) RecordProviderError(ctx context.Context, provider, kind string) {
	m.ProviderErrors.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("kind", kind),
		),
	)
}

// RecordPersistenceError records a failed exchange save.
func (m *Metrics) RecordPersistenceError(ctx context.Context) {
	m.PersistenceErrors.Add(ctx, 1)
}
