// Package observe provides application-wide observability primitives:
// OpenTelemetry metrics, utterance tracing, trace-aware logging, and HTTP
// middleware that ties them together.
//
// Metrics are recorded through the OpenTelemetry Metrics API and exported
// for Prometheus by [InitProvider]. Tests should use [NewMetrics] with a
// custom [metric.MeterProvider] to avoid cross-test pollution.
package observe

import (
	"context"
	"errors"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metrics holds the instruments of the recognizer. All fields are safe for
// concurrent use.
type Metrics struct {
	// DecodeDuration is the engine wall time per utterance, by search and kind.
	DecodeDuration metric.Float64Histogram
	// RealTimeFactor is decode time over audio duration per utterance.
	RealTimeFactor metric.Float64Histogram
	// Utterances counts finished utterances by search, kind and result
	// ("hypothesis" or "empty").
	Utterances metric.Int64Counter
	// FramesSearched counts frames scored by the engine, by search.
	FramesSearched metric.Int64Counter
	// SearchActivations counts search switches, by search and kind.
	SearchActivations metric.Int64Counter
	// EndpointerTransitions counts "speech_start" and "speech_end", by type.
	EndpointerTransitions metric.Int64Counter
	// StoreWrites counts transcript writes by driver and status.
	StoreWrites metric.Int64Counter
	// ActiveStreams is the number of connected streaming clients.
	ActiveStreams metric.Int64UpDownCounter
	// HTTPRequestDuration is request latency by method and route.
	HTTPRequestDuration metric.Float64Histogram
}

// Histogram boundaries: decode latency in seconds, and real-time factor.
var (
	latencyBuckets = []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10}
	rtfBuckets     = []float64{0.05, 0.1, 0.2, 0.3, 0.5, 0.75, 1, 1.5, 2, 4}
)

// NewMetrics creates every instrument on mp. Tests pass a provider with a
// manual reader; production code uses [DefaultMetrics].
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	meter := mp.Meter(scope)
	var errs []error
	keep := func(err error) { errs = append(errs, err) }

	histogram := func(name, desc, unit string, buckets []float64) metric.Float64Histogram {
		opts := []metric.Float64HistogramOption{metric.WithDescription(desc)}
		if unit != "" {
			opts = append(opts, metric.WithUnit(unit))
		}
		if buckets != nil {
			opts = append(opts, metric.WithExplicitBucketBoundaries(buckets...))
		}
		h, err := meter.Float64Histogram(name, opts...)
		keep(err)
		return h
	}
	counter := func(name, desc string) metric.Int64Counter {
		c, err := meter.Int64Counter(name, metric.WithDescription(desc))
		keep(err)
		return c
	}

	m := &Metrics{
		DecodeDuration:        histogram("sphinx.decode.duration", "Engine wall time per utterance.", "s", latencyBuckets),
		RealTimeFactor:        histogram("sphinx.decode.rtf", "Decode time divided by audio duration per utterance.", "", rtfBuckets),
		Utterances:            counter("sphinx.utterances", "Finished utterances by search, kind and result."),
		FramesSearched:        counter("sphinx.frames.searched", "Frames scored by the recognition engine."),
		SearchActivations:     counter("sphinx.search.activations", "Search activations by search and kind."),
		EndpointerTransitions: counter("sphinx.endpointer.transitions", "Speech start and end transitions."),
		StoreWrites:           counter("sphinx.store.writes", "Transcript store writes by driver and status."),
		HTTPRequestDuration:   histogram("sphinx.http.request.duration", "HTTP request latency by method and route.", "s", nil),
	}
	streams, err := meter.Int64UpDownCounter("sphinx.active_streams",
		metric.WithDescription("Connected streaming clients."))
	keep(err)
	m.ActiveStreams = streams

	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	return m, nil
}

var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns the process-wide [Metrics] on the global meter
// provider, created on first use.
func DefaultMetrics() *Metrics {
	defaultMetricsOnce.Do(func() {
		var err error
		defaultMetrics, err = NewMetrics(otel.GetMeterProvider())
		if err != nil {
			panic("observe: default metrics: " + err.Error())
		}
	})
	return defaultMetrics
}

// Attr is shorthand for [attribute.String].
func Attr(key, value string) attribute.KeyValue {
	return attribute.String(key, value)
}

// RecordTransition counts an endpointer transition.
func (m *Metrics) RecordTransition(ctx context.Context, typ string) {
	m.EndpointerTransitions.Add(ctx, 1, metric.WithAttributes(attribute.String("type", typ)))
}

// RecordStoreWrite counts a transcript write.
func (m *Metrics) RecordStoreWrite(ctx context.Context, driver, status string) {
	m.StoreWrites.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("driver", driver),
			attribute.String("status", status),
		),
	)
}
