// Package observe is the telemetry layer of the transcription service:
// OpenTelemetry metric instruments for the pipeline, request tracing with
// trace-derived correlation IDs, and the HTTP middleware that records both.
//
// [InitProvider] installs the global providers and bridges metrics to a
// Prometheus exporter for the /metrics endpoint. Production code records
// against [DefaultMetrics]; tests pass their own [metric.MeterProvider] to
// [NewMetrics] so collected values stay isolated per test.
package observe

import (
	"context"
	"errors"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all LyraScribe metrics.
const meterName = "github.com/lyrascribe/lyrascribe"

// Metrics bundles every instrument the pipeline records against. Fields are
// OTel instruments and therefore safe for concurrent use.
type Metrics struct {
	// --- Latency histograms ---

	// StageDuration tracks per-pipeline-stage latency. Use with attribute:
	//   attribute.String("stage", ...)
	StageDuration metric.Float64Histogram

	// JobDuration tracks end-to-end job processing time.
	JobDuration metric.Float64Histogram

	// FetchDuration tracks remote media download latency.
	FetchDuration metric.Float64Histogram

	// --- Counters ---

	// JobsSubmitted counts admitted jobs. Use with attributes:
	//   attribute.String("provider", ...), attribute.String("model", ...)
	JobsSubmitted metric.Int64Counter

	// JobsFinished counts terminal transitions. Use with attribute:
	//   attribute.String("status", ...) // "completed" or "failed"
	JobsFinished metric.Int64Counter

	// TranscriptionSplits counts recursive splits taken during transcription.
	TranscriptionSplits metric.Int64Counter

	// TokensUsed counts model tokens. Use with attributes:
	//   attribute.String("model", ...), attribute.String("task", ...)
	TokensUsed metric.Int64Counter

	// ProviderErrors counts adapter errors. Use with attributes:
	//   attribute.String("provider", ...), attribute.String("kind", ...)
	ProviderErrors metric.Int64Counter

	// --- Gauges ---

	// ActiveJobs tracks jobs currently inside the worker pipeline.
	ActiveJobs metric.Int64UpDownCounter

	// ActiveSessions tracks open websocket sessions.
	ActiveSessions metric.Int64UpDownCounter

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks HTTP request processing time. Use with attributes:
	//   attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// stageBuckets defines histogram bucket boundaries (in seconds) sized for
// transcription workloads, which run from sub-second stages to multi-minute
// model calls.
var stageBuckets = []float64{
	0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 300, 600,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	meter := mp.Meter(meterName)
	var errs []error

	seconds := func(name, desc string, opts ...metric.Float64HistogramOption) metric.Float64Histogram {
		opts = append(opts, metric.WithDescription(desc), metric.WithUnit("s"))
		h, err := meter.Float64Histogram(name, opts...)
		errs = append(errs, err)
		return h
	}
	counter := func(name, desc string) metric.Int64Counter {
		c, err := meter.Int64Counter(name, metric.WithDescription(desc))
		errs = append(errs, err)
		return c
	}
	gauge := func(name, desc string) metric.Int64UpDownCounter {
		g, err := meter.Int64UpDownCounter(name, metric.WithDescription(desc))
		errs = append(errs, err)
		return g
	}
	pipelineBuckets := metric.WithExplicitBucketBoundaries(stageBuckets...)

	met := &Metrics{
		StageDuration: seconds("lyrascribe.stage.duration",
			"Latency of one pipeline stage.", pipelineBuckets),
		JobDuration: seconds("lyrascribe.job.duration",
			"End-to-end job processing time.", pipelineBuckets),
		FetchDuration: seconds("lyrascribe.fetch.duration",
			"Latency of remote media downloads.", pipelineBuckets),

		JobsSubmitted: counter("lyrascribe.jobs.submitted",
			"Total admitted jobs by provider and model."),
		JobsFinished: counter("lyrascribe.jobs.finished",
			"Total terminal job transitions by status."),
		TranscriptionSplits: counter("lyrascribe.transcription.splits",
			"Total recursive splits during transcription."),
		TokensUsed: counter("lyrascribe.tokens.used",
			"Total model tokens by model and task."),
		ProviderErrors: counter("lyrascribe.provider.errors",
			"Total provider errors by provider and kind."),

		ActiveJobs: gauge("lyrascribe.active_jobs",
			"Jobs currently inside the worker pipeline."),
		ActiveSessions: gauge("lyrascribe.active_sessions",
			"Open websocket sessions."),

		HTTPRequestDuration: seconds("lyrascribe.http.request.duration",
			"HTTP request latency by method and path."),
	}
	if err := errors.Join(errs...); err != nil {
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

// RecordStage records one stage latency sample.
func (m *Metrics) RecordStage(ctx context.Context, stage string, seconds float64) {
	m.StageDuration.Record(ctx, seconds,
		metric.WithAttributes(attribute.String("stage", stage)),
	)
}

// RecordJobFinished records a terminal job transition.
func (m *Metrics) RecordJobFinished(ctx context.Context, status string, seconds float64) {
	m.JobsFinished.Add(ctx, 1,
		metric.WithAttributes(attribute.String("status", status)),
	)
	m.JobDuration.Record(ctx, seconds)
}

// RecordTokens records token usage for one accounted task.
func (m *Metrics) RecordTokens(ctx context.Context, model, task string, tokens int64) {
	m.TokensUsed.Add(ctx, tokens,
		metric.WithAttributes(
			attribute.String("model", model),
			attribute.String("task", task),
		),
	)
}

// RecordProviderError records an adapter error.
func (m *Metrics) RecordProviderError(ctx context.Context, provider, kind string) {
	m.ProviderErrors.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("kind", kind),
		),
	)
}
