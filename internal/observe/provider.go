package observe

import (
	"context"
	"errors"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	promexporter "go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/propagation"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.39.0"
)

// ProviderConfig configures the OpenTelemetry SDK providers.
type ProviderConfig struct {
	// ServiceName defaults to "sphinx".
	ServiceName    string
	ServiceVersion string

	// TraceExporter receives finished spans in batches. Without one, spans
	// are still created (trace ids reach logs and response headers) but go
	// nowhere.
	TraceExporter sdktrace.SpanExporter

	// SampleRatio is the fraction of new traces sampled, in (0, 1].
	// Zero samples everything. Traces continued from a caller follow the
	// caller's decision.
	SampleRatio float64
}

// Provider is the installed telemetry pipeline.
type Provider struct {
	// MetricsHandler serves the Prometheus text exposition of all metrics.
	MetricsHandler http.Handler

	meters *sdkmetric.MeterProvider
	tracer *sdktrace.TracerProvider
}

// InitProvider installs global meter and tracer providers and the W3C trace
// context propagator. Metrics go to a Prometheus registry of their own,
// served by [Provider.MetricsHandler].
//
// Call [Provider.Shutdown] before exiting to flush pending spans.
func InitProvider(ctx context.Context, cfg ProviderConfig) (*Provider, error) {
	name := cfg.ServiceName
	if name == "" {
		name = "sphinx"
	}
	res, err := resource.Merge(resource.Default(), resource.NewWithAttributes(
		semconv.SchemaURL,
		semconv.ServiceName(name),
		semconv.ServiceVersion(cfg.ServiceVersion),
	))
	if err != nil {
		return nil, err
	}

	reg := prometheus.NewRegistry()
	exporter, err := promexporter.New(promexporter.WithRegisterer(reg))
	if err != nil {
		return nil, err
	}
	p := &Provider{
		MetricsHandler: promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
		meters:         sdkmetric.NewMeterProvider(sdkmetric.WithResource(res), sdkmetric.WithReader(exporter)),
		tracer:         sdktrace.NewTracerProvider(tracerOptions(res, cfg)...),
	}

	otel.SetMeterProvider(p.meters)
	otel.SetTracerProvider(p.tracer)
	otel.SetTextMapPropagator(propagation.TraceContext{})
	return p, nil
}

func tracerOptions(res *resource.Resource, cfg ProviderConfig) []sdktrace.TracerProviderOption {
	ratio := cfg.SampleRatio
	if ratio <= 0 || ratio > 1 {
		ratio = 1
	}
	opts := []sdktrace.TracerProviderOption{
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(ratio))),
	}
	if cfg.TraceExporter != nil {
		opts = append(opts, sdktrace.WithBatcher(cfg.TraceExporter))
	}
	return opts
}

// Shutdown flushes spans and stops both providers.
func (p *Provider) Shutdown(ctx context.Context) error {
	return errors.Join(p.tracer.Shutdown(ctx), p.meters.Shutdown(ctx))
}
