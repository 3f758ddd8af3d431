// Package observe provides application-wide observability primitives for
// Se-alyze: OpenTelemetry metrics, tracing, trace-aware logging, and the HTTP
// middleware that ties them together.
//
// Metrics are recorded through the OpenTelemetry Metrics API. [InitProvider]
// bridges them to a Prometheus exporter so they can be scraped from /metrics.
// A package-level [DefaultMetrics] instance is provided for convenience; tests
// should use [NewMetrics] with their own [metric.MeterProvider].
package observe

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all Se-alyze metrics.
const meterName = "github.com/androsja/Se-alyze"

// Metrics holds all OpenTelemetry instruments for the application.
// All fields are safe for concurrent use.
type Metrics struct {
	// --- Latency histograms ---

	// ClassifierDuration tracks sequence classifier latency per window.
	ClassifierDuration metric.Float64Histogram

	// GenerationDuration tracks the whole sentence-generation chain.
	GenerationDuration metric.Float64Histogram

	// ProviderDuration tracks a single text-generation backend attempt. Use
	// with attribute.String("provider", ...).
	ProviderDuration metric.Float64Histogram

	// SpeechDuration tracks text-to-speech synthesis until the first audio.
	SpeechDuration metric.Float64Histogram

	// --- Counters ---

	// FramesReceived counts landmark frames accepted from trackers.
	FramesReceived metric.Int64Counter

	// FramesDropped counts frames discarded by the drop-oldest queue.
	FramesDropped metric.Int64Counter

	// FramesInvalid counts tracker messages that failed to decode or validate.
	FramesInvalid metric.Int64Counter

	// Classifications counts full windows by outcome
	// ("classified", "cold", "error").
	Classifications metric.Int64Counter

	// WordsCommitted counts words appended to the sentence buffer.
	WordsCommitted metric.Int64Counter

	// Sessions counts debounce session transitions by outcome
	// ("started", "restarted", "expedited", "cancelled", "finalized").
	Sessions metric.Int64Counter

	// Sentences counts spoken sentences by source ("provider", "raw").
	Sentences metric.Int64Counter

	// ProviderRequests counts backend calls. Use with attributes provider,
	// kind and status.
	ProviderRequests metric.Int64Counter

	// ProviderErrors counts backend failures. Use with attributes provider
	// and kind.
	ProviderErrors metric.Int64Counter

	// --- Gauges ---

	// ActiveTrackers tracks connected landmark ingest streams.
	ActiveTrackers metric.Int64UpDownCounter

	// ActiveObservers tracks connected state-stream subscribers.
	ActiveObservers metric.Int64UpDownCounter

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks HTTP request processing time. Use with
	// attributes method and path.
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries in seconds, spanning a
// fast classifier call up to a slow remote generation request.
var latencyBuckets = []float64{
	0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10,
}

// NewMetrics creates a fully initialised [Metrics] using mp.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	histograms := []struct {
		dst  *metric.Float64Histogram
		name string
		desc string
	}{
		{&met.ClassifierDuration, "sealyze.classifier.duration", "Latency of sequence classification per window."},
		{&met.GenerationDuration, "sealyze.generation.duration", "Latency of the sentence-generation chain."},
		{&met.ProviderDuration, "sealyze.provider.duration", "Latency of a single text-generation backend attempt."},
		{&met.SpeechDuration, "sealyze.speech.duration", "Latency of speech synthesis until first audio."},
	}
	for _, h := range histograms {
		if *h.dst, err = m.Float64Histogram(h.name,
			metric.WithDescription(h.desc),
			metric.WithUnit("s"),
			metric.WithExplicitBucketBoundaries(latencyBuckets...),
		); err != nil {
			return nil, err
		}
	}

	counters := []struct {
		dst  *metric.Int64Counter
		name string
		desc string
	}{
		{&met.FramesReceived, "sealyze.frames.received", "Total landmark frames received."},
		{&met.FramesDropped, "sealyze.frames.dropped", "Total landmark frames dropped under backpressure."},
		{&met.FramesInvalid, "sealyze.frames.invalid", "Total landmark messages rejected as malformed."},
		{&met.Classifications, "sealyze.classifications", "Total full windows by outcome."},
		{&met.WordsCommitted, "sealyze.words.committed", "Total words committed to the sentence buffer."},
		{&met.Sessions, "sealyze.sessions", "Total debounce session transitions by outcome."},
		{&met.Sentences, "sealyze.sentences", "Total spoken sentences by source."},
		{&met.ProviderRequests, "sealyze.provider.requests", "Total provider requests by provider, kind, and status."},
		{&met.ProviderErrors, "sealyze.provider.errors", "Total provider errors by provider and kind."},
	}
	for _, c := range counters {
		if *c.dst, err = m.Int64Counter(c.name, metric.WithDescription(c.desc)); err != nil {
			return nil, err
		}
	}

	if met.ActiveTrackers, err = m.Int64UpDownCounter("sealyze.active_trackers",
		metric.WithDescription("Number of connected landmark ingest streams."),
	); err != nil {
		return nil, err
	}
	if met.ActiveObservers, err = m.Int64UpDownCounter("sealyze.active_observers",
		metric.WithDescription("Number of connected state-stream observers."),
	); err != nil {
		return nil, err
	}

	if met.HTTPRequestDuration, err = m.Float64Histogram("sealyze.http.request.duration",
		metric.WithDescription("HTTP request latency by method and path."),
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

// DefaultMetrics returns the package-level [Metrics] instance, creating it on
// first call from [otel.GetMeterProvider]. Panics if instrument creation
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

// Attr is a convenience alias for [attribute.String].
func Attr(key, value string) attribute.KeyValue {
	return attribute.String(key, value)
}

// RecordProviderRequest increments the provider request counter.
func (m *Metrics) RecordProviderRequest(ctx context.Context, provider, kind, status string) {
	m.ProviderRequests.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("kind", kind),
			attribute.String("status", status),
		),
	)
}

// RecordProviderError increments the provider error counter.
func (m *Metrics) RecordProviderError(ctx context.Context, provider, kind string) {
	m.ProviderErrors.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("kind", kind),
		),
	)
}

// RecordClassification increments the classification counter for outcome.
func (m *Metrics) RecordClassification(ctx context.Context, outcome string) {
	m.Classifications.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}

// RecordSession increments the session counter for outcome.
func (m *Metrics) RecordSession(ctx context.Context, outcome string) {
	m.Sessions.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}

// RecordSentence increments the spoken sentence counter for source.
func (m *Metrics) RecordSentence(ctx context.Context, source string) {
	m.Sentences.Add(ctx, 1, metric.WithAttributes(attribute.String("source", source)))
}
