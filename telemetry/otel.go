package telemetry

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/nexusmind/orchestrator/core"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/stdout/stdoutmetric"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/propagation"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

// OTelProvider implements core.Telemetry with OpenTelemetry tracing and
// metrics. Traces export via OTLP/gRPC when an endpoint is configured, or
// stdout otherwise; the meter pipeline always exports via a stdout periodic
// reader, since this repo has no metrics backend of its own to point a gRPC
// metric exporter at (see DESIGN.md).
type OTelProvider struct {
	tracer         trace.Tracer
	meter          metric.Meter
	traceProvider  *sdktrace.TracerProvider
	metricProvider *sdkmetric.MeterProvider
	metrics        *MetricInstruments
	shutdownOnce   sync.Once
	shutdown       bool
	mu             sync.RWMutex
}

// NewOTelProvider creates a provider exporting spans via OTLP/gRPC to endpoint.
// An empty endpoint falls back to a stdout exporter, which is convenient for
// local development and for tests that want to assert on emitted spans without
// standing up a collector.
func NewOTelProvider(serviceName, endpoint string) (*OTelProvider, error) {
	logger := GetLogger()

	if serviceName == "" {
		return nil, fmt.Errorf("service name cannot be empty")
	}

	res := resource.NewWithAttributes(
		"https://opentelemetry.io/schemas/1.17.0",
		attribute.String("service.name", serviceName),
		attribute.String("service.version", "1.0.0"),
	)

	var exporter sdktrace.SpanExporter
	var err error

	if endpoint == "" {
		logger.Debug("no OTLP endpoint configured, using stdout exporter", nil)
		exporter, err = stdouttrace.New(stdouttrace.WithPrettyPrint())
	} else {
		logger.Debug("creating OTLP/gRPC trace exporter", map[string]interface{}{"endpoint": endpoint})
		exporter, err = otlptracegrpc.New(context.Background(),
			otlptracegrpc.WithEndpoint(endpoint),
			otlptracegrpc.WithInsecure(),
		)
	}
	if err != nil {
		return nil, fmt.Errorf("creating trace exporter: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
	)

	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.TraceContext{})

	metricExporter, err := stdoutmetric.New()
	if err != nil {
		return nil, fmt.Errorf("creating metric exporter: %w", err)
	}
	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(metricExporter, sdkmetric.WithInterval(30*time.Second))),
		sdkmetric.WithResource(res),
	)
	otel.SetMeterProvider(mp)
	meter := mp.Meter("orchestrator")

	return &OTelProvider{
		tracer:         tp.Tracer("orchestrator"),
		meter:          meter,
		traceProvider:  tp,
		metricProvider: mp,
		metrics:        NewMetricInstruments(meter),
	}, nil
}

func (o *OTelProvider) StartSpan(ctx context.Context, name string) (context.Context, core.Span) {
	o.mu.RLock()
	if o.shutdown {
		o.mu.RUnlock()
		return ctx, core.NoOpSpan{}
	}
	o.mu.RUnlock()

	if o.tracer == nil {
		return ctx, core.NoOpSpan{}
	}
	ctx, span := o.tracer.Start(ctx, name)
	return ctx, &otelSpan{span: span}
}

// RecordMetric routes value to a counter or histogram instrument depending
// on the metric name (durations get a histogram, everything else
// accumulates as a counter), creating the instrument lazily on first use.
func (o *OTelProvider) RecordMetric(name string, value float64, labels map[string]string) {
	o.mu.RLock()
	shutdown := o.shutdown
	o.mu.RUnlock()
	if shutdown || o.metrics == nil {
		return
	}

	attrs := make([]attribute.KeyValue, 0, len(labels))
	for k, v := range labels {
		attrs = append(attrs, attribute.String(k, v))
	}

	ctx := context.Background()
	if isDurationMetric(name) {
		_ = o.metrics.RecordHistogram(ctx, name, value, metric.WithAttributes(attrs...))
		return
	}
	_ = o.metrics.RecordCounter(ctx, name, int64(value), metric.WithAttributes(attrs...))
}

func (o *OTelProvider) Shutdown(ctx context.Context) (shutdownErr error) {
	o.shutdownOnce.Do(func() {
		o.mu.Lock()
		o.shutdown = true
		o.mu.Unlock()
		if o.traceProvider != nil {
			shutdownErr = o.traceProvider.Shutdown(ctx)
		}
		if o.metricProvider != nil {
			if err := o.metricProvider.Shutdown(ctx); err != nil && shutdownErr == nil {
				shutdownErr = err
			}
		}
	})
	return shutdownErr
}

type otelSpan struct {
	span trace.Span
}

func (s *otelSpan) End() { s.span.End() }

func (s *otelSpan) SetAttribute(key string, value interface{}) {
	switch v := value.(type) {
	case string:
		s.span.SetAttributes(attribute.String(key, v))
	case int:
		s.span.SetAttributes(attribute.Int(key, v))
	case int64:
		s.span.SetAttributes(attribute.Int64(key, v))
	case float64:
		s.span.SetAttributes(attribute.Float64(key, v))
	case bool:
		s.span.SetAttributes(attribute.Bool(key, v))
	default:
		s.span.SetAttributes(attribute.String(key, fmt.Sprintf("%v", v)))
	}
}

func (s *otelSpan) RecordError(err error) {
	if err == nil {
		return
	}
	s.span.RecordError(err)
}

// EndpointFromEnv resolves the collector endpoint the way the rest of this
// stack resolves configuration: an explicit env var, or empty (stdout).
// Exported so cmd/server can pass it straight to NewOTelProvider.
func EndpointFromEnv() string {
	return strings.TrimSpace(os.Getenv("ORCH_OTEL_ENDPOINT"))
}
