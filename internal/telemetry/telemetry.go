// Package telemetry bootstraps the OpenTelemetry tracer and meter
// providers used by the controller and the demo command, and exposes the
// activation-lifecycle span and metric helpers built on top of them.
package telemetry

import (
	"context"
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	otelprometheus "go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/propagation"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.28.0"
	"go.opentelemetry.io/otel/trace"
)

const instrumentationName = "licensekit"

// Options configures the tracer and meter providers.
type Options struct {
	ServiceName   string
	TraceToStdout bool
	// Registerer is the Prometheus registerer the metrics exporter feeds.
	// Defaults to prometheus.DefaultRegisterer. Tests that construct more
	// than one Providers in the same process should pass a fresh
	// prometheus.NewRegistry() here to avoid colliding on the default
	// registry's duplicate-collector check.
	Registerer prometheus.Registerer
}

// Providers holds the bootstrapped tracer and meter, plus the Prometheus
// HTTP handler for scraping.
type Providers struct {
	TracerProvider *sdktrace.TracerProvider
	MeterProvider  *sdkmetric.MeterProvider
	Tracer         trace.Tracer
	Meter          metric.Meter
	PrometheusHTTP http.Handler
}

// Init creates the tracer and meter providers and registers them
// globally, the same bootstrap shape used throughout this codebase.
func Init(opts Options) (*Providers, error) {
	res, err := resource.New(context.Background(),
		resource.WithSchemaURL(semconv.SchemaURL),
		resource.WithAttributes(
			semconv.ServiceName(opts.ServiceName),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("telemetry: failed to create resource: %w", err)
	}

	providers := &Providers{}

	if opts.TraceToStdout {
		exporter, err := stdouttrace.New(stdouttrace.WithPrettyPrint())
		if err != nil {
			return nil, fmt.Errorf("telemetry: failed to create trace exporter: %w", err)
		}

		tp := sdktrace.NewTracerProvider(
			sdktrace.WithBatcher(exporter),
			sdktrace.WithResource(res),
		)
		providers.TracerProvider = tp
		providers.Tracer = tp.Tracer(instrumentationName)
		otel.SetTracerProvider(tp)
	} else {
		providers.Tracer = otel.Tracer(instrumentationName)
	}

	registerer := opts.Registerer
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	exporter, err := otelprometheus.New(otelprometheus.WithRegisterer(registerer))
	if err != nil {
		return nil, fmt.Errorf("telemetry: failed to create prometheus exporter: %w", err)
	}

	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(exporter),
	)
	providers.MeterProvider = mp
	providers.Meter = mp.Meter(instrumentationName)
	if gatherer, ok := registerer.(prometheus.Gatherer); ok {
		providers.PrometheusHTTP = promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
	} else {
		providers.PrometheusHTTP = promhttp.Handler()
	}
	otel.SetMeterProvider(mp)

	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	return providers, nil
}

// Shutdown flushes and stops the tracer and meter providers.
func (p *Providers) Shutdown(ctx context.Context) error {
	if p.TracerProvider != nil {
		if err := p.TracerProvider.Shutdown(ctx); err != nil {
			return fmt.Errorf("telemetry: tracer shutdown: %w", err)
		}
	}
	if p.MeterProvider != nil {
		if err := p.MeterProvider.Shutdown(ctx); err != nil {
			return fmt.Errorf("telemetry: meter shutdown: %w", err)
		}
	}
	return nil
}

// TraceIDFromContext extracts the active span's trace id, or "" if none.
func TraceIDFromContext(ctx context.Context) string {
	spanCtx := trace.SpanContextFromContext(ctx)
	if spanCtx.IsValid() {
		return spanCtx.TraceID().String()
	}
	return ""
}

// RecordError records err on the current span, if one is recording.
func RecordError(ctx context.Context, err error) {
	span := trace.SpanFromContext(ctx)
	if !span.IsRecording() {
		return
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}

// AddSpanEvent adds a named event with string attributes to the current
// span, if one is recording.
func AddSpanEvent(ctx context.Context, name string, attrs map[string]string) {
	span := trace.SpanFromContext(ctx)
	if !span.IsRecording() {
		return
	}
	kvs := make([]attribute.KeyValue, 0, len(attrs))
	for k, v := range attrs {
		kvs = append(kvs, attribute.String(k, v))
	}
	span.AddEvent(name, trace.WithAttributes(kvs...))
}
