// Package observe provides application-wide observability primitives for
// Bedside: OpenTelemetry metrics, distributed tracing, and trace-aware
// structured logging.
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

// meterName is the instrumentation scope name used for all Bedside metrics.
const meterName = "github.com/vireomed/bedside"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use, the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// --- Latency histograms ---

	// EmpathyEvalDuration tracks end-to-end empathy judge latency, from
	// trigger to parsed scores.
	EmpathyEvalDuration metric.Float64Histogram

	// DiagnosisEvalDuration tracks diagnosis verdict latency, including the
	// embedding and retrieval steps.
	DiagnosisEvalDuration metric.Float64Histogram

	// JudgeDuration tracks raw judge-model completion latency. Use with
	// attribute: attribute.String("pipeline", ...)
	JudgeDuration metric.Float64Histogram

	// --- Counters ---

	// Turns counts conversation turns persisted. Use with attribute:
	//   attribute.String("role", "user"|"assistant")
	Turns metric.Int64Counter

	// Evaluations counts evaluation runs. Use with attributes:
	//   attribute.String("pipeline", ...), attribute.String("status", ...)
	Evaluations metric.Int64Counter

	// AudioChunks counts audio chunks forwarded upstream.
	AudioChunks metric.Int64Counter

	// --- Error counters ---

	// StreamErrors counts upstream stream failures. Use with attribute:
	//   attribute.String("kind", ...)
	StreamErrors metric.Int64Counter

	// StoreErrors counts persistence failures. Use with attribute:
	//   attribute.String("op", ...)
	StoreErrors metric.Int64Counter

	// --- Gauges ---

	// ActiveSessions tracks the number of live patient sessions.
	ActiveSessions metric.Int64UpDownCounter
}

// latencyBuckets defines histogram bucket boundaries (in seconds) sized for
// judge-model and retrieval latencies.
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
	if met.EmpathyEvalDuration, err = m.Float64Histogram("bedside.empathy_eval.duration",
		metric.WithDescription("End-to-end empathy evaluation latency."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.DiagnosisEvalDuration, err = m.Float64Histogram("bedside.diagnosis_eval.duration",
		metric.WithDescription("End-to-end diagnosis verdict latency."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.JudgeDuration, err = m.Float64Histogram("bedside.judge.duration",
		metric.WithDescription("Raw judge-model completion latency by pipeline."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}

	// Counters.
	if met.Turns, err = m.Int64Counter("bedside.turns",
		metric.WithDescription("Total conversation turns persisted by role."),
	); err != nil {
		return nil, err
	}
	if met.Evaluations, err = m.Int64Counter("bedside.evaluations",
		metric.WithDescription("Total evaluation runs by pipeline and status."),
	); err != nil {
		return nil, err
	}
	if met.AudioChunks, err = m.Int64Counter("bedside.audio.chunks",
		metric.WithDescription("Total audio chunks forwarded upstream."),
	); err != nil {
		return nil, err
	}

	// Error counters.
	if met.StreamErrors, err = m.Int64Counter("bedside.stream.errors",
		metric.WithDescription("Total upstream stream failures by kind."),
	); err != nil {
		return nil, err
	}
	if met.StoreErrors, err = m.Int64Counter("bedside.store.errors",
		metric.WithDescription("Total persistence failures by operation."),
	); err != nil {
		return nil, err
	}

	// Gauges (UpDownCounters).
	if met.ActiveSessions, err = m.Int64UpDownCounter("bedside.active_sessions",
		metric.WithDescription("Number of live patient sessions."),
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

// RecordTurn records one persisted conversation turn.
func (m *Metrics) RecordTurn(ctx context.Context, role string) {
	m.Turns.Add(ctx, 1,
		metric.WithAttributes(attribute.String("role", role)),
	)
}

// RecordEvaluation records one evaluation run outcome.
func (m *Metrics) RecordEvaluation(ctx context.Context, pipeline, status string) {
	m.Evaluations.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("pipeline", pipeline),
			attribute.String("status", status),
		),
	)
}

// RecordStreamError records one upstream stream failure.
func (m *Metrics) RecordStreamError(ctx context.Context, kind string) {
	m.StreamErrors.Add(ctx, 1,
		metric.WithAttributes(attribute.String("kind", kind)),
	)
}

// RecordStoreError records one persistence failure.
func (m *Metrics) RecordStoreError(ctx context.Context, op string) {
	m.StoreErrors.Add(ctx, 1,
		metric.WithAttributes(attribute.String("op", op)),
	)
}
