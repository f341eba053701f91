// Package observe provides observability primitives for talktome:
// OpenTelemetry metrics, tracing helpers, and the HTTP middleware used by the
// diagnostics listener.
//
// Metrics are recorded through the OpenTelemetry Metrics API. A Prometheus
// exporter bridge is set up by [InitProvider] so the diagnostics listener can
// serve a standard /metrics endpoint. A package-level default [Metrics]
// instance ([DefaultMetrics]) is provided for convenience; tests should use
// [NewMetrics] with a custom [metric.MeterProvider] to avoid cross-test
// pollution.
package observe

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all talktome metrics.
const meterName = "github.com/MrWong99/talktome"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use; the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// CallDuration tracks wall-clock duration of completed calls.
	CallDuration metric.Float64Histogram

	// CallUtterances tracks the number of utterances per completed call.
	CallUtterances metric.Int64Histogram

	// ActiveCalls tracks the number of calls currently in progress. With a
	// single-call manager this is 0 or 1, but the instrument stays an
	// UpDownCounter so dashboards see increments and decrements pair up.
	ActiveCalls metric.Int64UpDownCounter

	// Utterances counts recorded utterances. Use with attribute:
	//   attribute.String("speaker", ...)
	Utterances metric.Int64Counter

	// DroppedChunks counts captured audio chunks discarded because
	// transcription could not keep up.
	DroppedChunks metric.Int64Counter

	// ReplacedUtterances counts finished user utterances discarded because a
	// newer one arrived before the agent consumed the previous.
	ReplacedUtterances metric.Int64Counter

	// WaitTimeouts counts turns where no user utterance arrived within the
	// transcript timeout.
	WaitTimeouts metric.Int64Counter

	// HTTPRequestDuration tracks diagnostics HTTP request processing time.
	// Use with attributes:
	//   attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// callDurationBuckets defines histogram boundaries (in seconds) sized for
// phone calls, which run from a few seconds to tens of minutes.
var callDurationBuckets = []float64{
	5, 15, 30, 60, 120, 300, 600, 1200, 1800, 3600,
}

// utteranceCountBuckets defines histogram boundaries for utterances per call.
var utteranceCountBuckets = []float64{
	2, 4, 8, 16, 32, 64, 128,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	if met.CallDuration, err = m.Float64Histogram("talktome.call.duration",
		metric.WithDescription("Wall-clock duration of completed calls."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(callDurationBuckets...),
	); err != nil {
		return nil, err
	}
	if met.CallUtterances, err = m.Int64Histogram("talktome.call.utterances",
		metric.WithDescription("Utterances recorded per completed call."),
		metric.WithExplicitBucketBoundaries(utteranceCountBuckets...),
	); err != nil {
		return nil, err
	}

	if met.ActiveCalls, err = m.Int64UpDownCounter("talktome.calls.active",
		metric.WithDescription("Number of calls currently in progress."),
	); err != nil {
		return nil, err
	}

	if met.Utterances, err = m.Int64Counter("talktome.utterances",
		metric.WithDescription("Total utterances recorded, by speaker."),
	); err != nil {
		return nil, err
	}
	if met.DroppedChunks, err = m.Int64Counter("talktome.capture.dropped_chunks",
		metric.WithDescription("Audio chunks discarded because transcription fell behind."),
	); err != nil {
		return nil, err
	}
	if met.ReplacedUtterances, err = m.Int64Counter("talktome.mailbox.replaced_utterances",
		metric.WithDescription("User utterances discarded because a newer one arrived unconsumed."),
	); err != nil {
		return nil, err
	}
	if met.WaitTimeouts, err = m.Int64Counter("talktome.wait.timeouts",
		metric.WithDescription("Turns where no user utterance arrived within the transcript timeout."),
	); err != nil {
		return nil, err
	}

	if met.HTTPRequestDuration, err = m.Float64Histogram("talktome.http.request.duration",
		metric.WithDescription("Diagnostics HTTP request latency by method and path."),
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

// RecordUtterance records an utterance counter increment with the speaker
// attribute.
func (m *Metrics) RecordUtterance(ctx context.Context, speaker string) {
	m.Utterances.Add(ctx, 1,
		metric.WithAttributes(attribute.String("speaker", speaker)),
	)
}
