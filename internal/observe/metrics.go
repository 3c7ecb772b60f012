// Package observe provides application-wide observability primitives for
// dispatchd: OpenTelemetry metrics, distributed tracing, structured logging,
// and the SDK wiring that ties them together.
//
// Metrics are recorded through the OpenTelemetry Metrics API. A Prometheus
// exporter bridge is available via [InitTelemetry] so that metrics can still be
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

// meterName is the instrumentation scope name used for all dispatchd metrics.
const meterName = "github.com/telawney/dispatchd"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use — the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// --- Latency histograms ---

	// ClassificationDuration tracks end-to-end transcript classification
	// latency, from LLM submission to record availability.
	ClassificationDuration metric.Float64Histogram

	// SessionDuration tracks total voice session duration, from connect to
	// teardown.
	SessionDuration metric.Float64Histogram

	// --- Counters ---

	// Utterances counts transcript turns by speaker. Use with attribute:
	//   attribute.String("role", ...)
	Utterances metric.Int64Counter

	// Classifications counts pipeline runs by outcome. Use with attribute:
	//   attribute.String("outcome", ...) — "ok", "fallback", or "no_data"
	Classifications metric.Int64Counter

	// StoreInserts counts record store inserts by status. Use with attribute:
	//   attribute.String("status", ...) — "ok" or "error"
	StoreInserts metric.Int64Counter

	// StopSignals counts observed stop requests by source. Use with attribute:
	//   attribute.String("source", ...) — "marker", "cancel", or "stream_error"
	StopSignals metric.Int64Counter

	// --- Gauges ---

	// ActiveSessions tracks the number of live voice sessions.
	ActiveSessions metric.Int64UpDownCounter
}

// latencyBuckets defines histogram bucket boundaries (in seconds) sized for
// LLM round-trips and call durations.
var latencyBuckets = []float64{
	0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	// Histograms.
	if met.ClassificationDuration, err = m.Float64Histogram("dispatchd.classification.duration",
		metric.WithDescription("Latency of transcript classification."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.SessionDuration, err = m.Float64Histogram("dispatchd.session.duration",
		metric.WithDescription("Total voice session duration."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}

	// Counters.
	if met.Utterances, err = m.Int64Counter("dispatchd.utterances",
		metric.WithDescription("Total transcript turns by speaker role."),
	); err != nil {
		return nil, err
	}
	if met.Classifications, err = m.Int64Counter("dispatchd.classifications",
		metric.WithDescription("Total classification runs by outcome."),
	); err != nil {
		return nil, err
	}
	if met.StoreInserts, err = m.Int64Counter("dispatchd.store.inserts",
		metric.WithDescription("Total record store inserts by status."),
	); err != nil {
		return nil, err
	}
	if met.StopSignals, err = m.Int64Counter("dispatchd.stop_signals",
		metric.WithDescription("Total observed session stop requests by source."),
	); err != nil {
		return nil, err
	}

	// Gauges (UpDownCounters).
	if met.ActiveSessions, err = m.Int64UpDownCounter("dispatchd.active_sessions",
		metric.WithDescription("Number of live voice sessions."),
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

// RecordUtterance records a transcript turn for the given speaker role.
func (m *Metrics) RecordUtterance(ctx context.Context, role string) {
	m.Utterances.Add(ctx, 1,
		metric.WithAttributes(attribute.String("role", role)),
	)
}

// RecordClassification records a pipeline run with the given outcome.
func (m *Metrics) RecordClassification(ctx context.Context, outcome string) {
	m.Classifications.Add(ctx, 1,
		metric.WithAttributes(attribute.String("outcome", outcome)),
	)
}

// RecordStoreInsert records a record store insert with the given status.
func (m *Metrics) RecordStoreInsert(ctx context.Context, status string) {
	m.StoreInserts.Add(ctx, 1,
		metric.WithAttributes(attribute.String("status", status)),
	)
}

// RecordStopSignal records an observed stop request from the given source.
func (m *Metrics) RecordStopSignal(ctx context.Context, source string) {
	m.StopSignals.Add(ctx, 1,
		metric.WithAttributes(attribute.String("source", source)),
	)
}
