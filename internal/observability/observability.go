// Package observability wires OpenTelemetry tracing and metrics for the
// gateway. A missing OTEL_EXPORTER_OTLP_ENDPOINT is not fatal: this
// module is meant to run standalone without a collector, so it falls
// back to no-op providers instead of refusing to start.
package observability

import (
	"context"
	"os"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/metric"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"
)

const (
	serviceName    = "mcp-gateway"
	serviceVersion = "0.1.0"
)

// ShutdownFunc flushes and closes a provider.
type ShutdownFunc func(context.Context) error

func noopShutdown(context.Context) error { return nil }

// Setup returns a tracer and meter for the gateway. When
// OTEL_EXPORTER_OTLP_ENDPOINT is unset, it returns no-op providers
// rather than failing, so the gateway can run without a collector.
func Setup(ctx context.Context) (trace.Tracer, metric.Meter, ShutdownFunc, ShutdownFunc, error) {
	endpoint := strings.TrimSpace(os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"))
	if endpoint == "" {
		return tracenoop.NewTracerProvider().Tracer(serviceName),
			metricnoop.NewMeterProvider().Meter(serviceName),
			noopShutdown, noopShutdown, nil
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceName(serviceName),
			semconv.ServiceVersion(serviceVersion),
		),
	)
	if err != nil {
		return nil, nil, nil, nil, err
	}

	traceExporter, err := otlptracegrpc.New(ctx, otlptracegrpc.WithEndpoint(endpoint), otlptracegrpc.WithInsecure())
	if err != nil {
		return nil, nil, nil, nil, err
	}
	traceProvider := sdktrace.NewTracerProvider(
		sdktrace.WithResource(res),
		sdktrace.WithBatcher(traceExporter),
	)
	otel.SetTracerProvider(traceProvider)

	metricExporter, err := otlpmetricgrpc.New(ctx, otlpmetricgrpc.WithEndpoint(endpoint), otlpmetricgrpc.WithInsecure())
	if err != nil {
		return nil, nil, nil, nil, err
	}
	metricReader := sdkmetric.NewPeriodicReader(metricExporter)
	metricProvider := sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(metricReader),
	)
	otel.SetMeterProvider(metricProvider)

	tracer := otel.Tracer(serviceName)
	meter := otel.Meter(serviceName)

	return tracer, meter, traceProvider.Shutdown, metricProvider.Shutdown, nil
}

// Metrics groups the gateway's counters and histograms covering
// dispatch volume and latency, handshake failures, risk-gate decisions,
// and confirmation outcomes.
type Metrics struct {
	Dispatches          metric.Int64Counter
	DispatchLatency     metric.Int64Histogram
	HandshakeFailures   metric.Int64Counter
	RiskGateDecisions   metric.Int64Counter
	ConfirmationOutcome metric.Int64Counter
}

// NewMetrics registers the gateway's instruments against meter.
func NewMetrics(meter metric.Meter) (*Metrics, error) {
	dispatches, err := meter.Int64Counter(
		"mcpgateway.dispatch.count",
		metric.WithDescription("Total dispatches routed to backends"),
	)
	if err != nil {
		return nil, err
	}
	latency, err := meter.Int64Histogram(
		"mcpgateway.dispatch.latency",
		metric.WithDescription("Dispatch latency"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, err
	}
	handshakeFailures, err := meter.Int64Counter(
		"mcpgateway.handshake.failures",
		metric.WithDescription("Initialization handshake failures"),
	)
	if err != nil {
		return nil, err
	}
	riskGateDecisions, err := meter.Int64Counter(
		"mcpgateway.riskgate.decisions",
		metric.WithDescription("Risk gate decisions by level and outcome"),
	)
	if err != nil {
		return nil, err
	}
	confirmationOutcome, err := meter.Int64Counter(
		"mcpgateway.confirmations.outcomes",
		metric.WithDescription("Confirmation resolutions by outcome"),
	)
	if err != nil {
		return nil, err
	}

	return &Metrics{
		Dispatches:          dispatches,
		DispatchLatency:     latency,
		HandshakeFailures:   handshakeFailures,
		RiskGateDecisions:   riskGateDecisions,
		ConfirmationOutcome: confirmationOutcome,
	}, nil
}
