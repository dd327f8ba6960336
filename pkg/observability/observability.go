// Package observability provides OpenTelemetry tracing and metrics for
// the engine surface. The pure compiler is never instrumented — spans
// and counters live at the engine call boundary, where IO and
// persistence happen.
package observability

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/propagation"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
)

// Config configures the OpenTelemetry providers.
type Config struct {
	ServiceName    string
	ServiceVersion string
	Environment    string
	OTLPEndpoint   string // gRPC endpoint, e.g. "localhost:4317"
	BatchTimeout   time.Duration
	Enabled        bool
	Insecure       bool
}

// DefaultConfig returns development defaults.
func DefaultConfig() *Config {
	return &Config{
		ServiceName:    "verity-core",
		ServiceVersion: "1.0.0",
		Environment:    "development",
		OTLPEndpoint:   "localhost:4317",
		BatchTimeout:   5 * time.Second,
		Enabled:        false,
	}
}

// Provider manages trace and metric providers plus the engine's
// instruments.
type Provider struct {
	config         *Config
	tracerProvider *sdktrace.TracerProvider
	meterProvider  *sdkmetric.MeterProvider
	tracer         trace.Tracer
	meter          metric.Meter
	logger         *slog.Logger

	compileCounter  metric.Int64Counter
	errorCounter    metric.Int64Counter
	compileDuration metric.Float64Histogram
	signalCounter   metric.Int64Counter
}

// New creates a provider. With Enabled false it degrades to no-op
// instruments so callers never branch.
func New(ctx context.Context, config *Config) (*Provider, error) {
	if config == nil {
		config = DefaultConfig()
	}
	p := &Provider{
		config: config,
		logger: slog.Default().With("component", "observability"),
		tracer: otel.Tracer("verity"),
		meter:  otel.Meter("verity"),
	}

	if !config.Enabled {
		p.logger.InfoContext(ctx, "observability disabled")
		return p, p.initInstruments()
	}

	res, err := resource.Merge(
		resource.Default(),
		resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceName(config.ServiceName),
			semconv.ServiceVersion(config.ServiceVersion),
			semconv.DeploymentEnvironment(config.Environment),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("observability: resource: %w", err)
	}

	traceOpts := []otlptracegrpc.Option{otlptracegrpc.WithEndpoint(config.OTLPEndpoint)}
	metricOpts := []otlpmetricgrpc.Option{otlpmetricgrpc.WithEndpoint(config.OTLPEndpoint)}
	if config.Insecure {
		traceOpts = append(traceOpts, otlptracegrpc.WithInsecure())
		metricOpts = append(metricOpts, otlpmetricgrpc.WithInsecure())
	}

	traceExporter, err := otlptracegrpc.New(ctx, traceOpts...)
	if err != nil {
		return nil, fmt.Errorf("observability: trace exporter: %w", err)
	}
	p.tracerProvider = sdktrace.NewTracerProvider(
		sdktrace.WithResource(res),
		sdktrace.WithBatcher(traceExporter, sdktrace.WithBatchTimeout(config.BatchTimeout)),
	)
	otel.SetTracerProvider(p.tracerProvider)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{}, propagation.Baggage{}))

	metricExporter, err := otlpmetricgrpc.New(ctx, metricOpts...)
	if err != nil {
		return nil, fmt.Errorf("observability: metric exporter: %w", err)
	}
	p.meterProvider = sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(metricExporter)),
	)
	otel.SetMeterProvider(p.meterProvider)

	p.tracer = otel.Tracer("verity")
	p.meter = otel.Meter("verity")
	return p, p.initInstruments()
}

func (p *Provider) initInstruments() error {
	var err error
	if p.compileCounter, err = p.meter.Int64Counter("verity.compiles",
		metric.WithDescription("Truth compiles attempted")); err != nil {
		return err
	}
	if p.errorCounter, err = p.meter.Int64Counter("verity.compile_errors",
		metric.WithDescription("Truth compiles failed")); err != nil {
		return err
	}
	if p.compileDuration, err = p.meter.Float64Histogram("verity.compile_duration_seconds",
		metric.WithDescription("Truth compile wall time")); err != nil {
		return err
	}
	if p.signalCounter, err = p.meter.Int64Counter("verity.signals_appended",
		metric.WithDescription("Signals appended to the log")); err != nil {
		return err
	}
	return nil
}

// StartSpan opens a span for one engine operation.
func (p *Provider) StartSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return p.tracer.Start(ctx, name, trace.WithAttributes(attrs...))
}

// RecordCompile records one compile outcome.
func (p *Provider) RecordCompile(ctx context.Context, claimType string, seconds float64, err error) {
	attrs := metric.WithAttributes(attribute.String("claim_type", claimType))
	p.compileCounter.Add(ctx, 1, attrs)
	p.compileDuration.Record(ctx, seconds, attrs)
	if err != nil {
		p.errorCounter.Add(ctx, 1, attrs)
	}
}

// RecordSignal records one append.
func (p *Provider) RecordSignal(ctx context.Context, signalType string) {
	p.signalCounter.Add(ctx, 1, metric.WithAttributes(attribute.String("signal_type", signalType)))
}

// Shutdown flushes exporters.
func (p *Provider) Shutdown(ctx context.Context) error {
	if p.tracerProvider != nil {
		if err := p.tracerProvider.Shutdown(ctx); err != nil {
			return err
		}
	}
	if p.meterProvider != nil {
		return p.meterProvider.Shutdown(ctx)
	}
	return nil
}
