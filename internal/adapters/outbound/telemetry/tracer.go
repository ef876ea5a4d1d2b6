// Package telemetry sets up OpenTelemetry tracing and metrics for the loan
// workflow.
//
// Traces go to an OTLP gRPC collector when an endpoint is configured, or to
// stderr when Stdout is set; otherwise the global no-op provider stays in
// place. Metrics are exported over OTLP gRPC only.
//
// Usage:
//
//	shutdown, err := telemetry.InitTracer(ctx, telemetry.TracerConfig{
//	    ServiceName:  "aave-loan",
//	    OTLPEndpoint: "localhost:4317",
//	})
//	defer shutdown(ctx)
//
// The returned shutdown function flushes pending spans. Tests pass an
// in-memory exporter through TracerConfig.Exporter.
package telemetry

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	"go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.37.0"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

// TracerConfig holds configuration for the tracer.
type TracerConfig struct {
	// ServiceName is the name of the service (e.g., "aave-loan").
	ServiceName string

	// ServiceVersion is the version of the service.
	ServiceVersion string

	// Environment is the deployment environment (e.g., "development", "mainnet").
	Environment string

	// OTLPEndpoint is the OTLP gRPC collector endpoint (e.g., "localhost:4317").
	OTLPEndpoint string

	// Stdout exports spans to stderr when no OTLP endpoint is set.
	Stdout bool

	// SampleRate is the sampling rate (0.0 to 1.0). Default is 1.0 (sample everything).
	SampleRate float64

	// Exporter replaces the OTLP and stdout exporters, e.g. with an
	// in-memory exporter from sdk/trace/tracetest.
	Exporter trace.SpanExporter
}

// TracerConfigDefaults returns default configuration.
func TracerConfigDefaults() TracerConfig {
	return TracerConfig{
		ServiceName:    "aave-loan",
		ServiceVersion: "0.1.0",
		Environment:    "development",
		SampleRate:     1.0,
	}
}

func newResource(serviceName, serviceVersion, environment string) (*resource.Resource, error) {
	res, err := resource.Merge(
		resource.Default(),
		resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceName(serviceName),
			semconv.ServiceVersion(serviceVersion),
			semconv.DeploymentEnvironmentName(environment),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}
	return res, nil
}

// InitTracer installs a global tracer provider and the W3C trace-context
// propagator. The returned shutdown flushes pending spans and closes the
// collector connection.
func InitTracer(ctx context.Context, config TracerConfig) (shutdown func(context.Context) error, err error) {
	exporter, closeConn, err := spanExporter(ctx, config)
	if err != nil {
		return nil, err
	}
	if exporter == nil {
		return func(context.Context) error { return nil }, nil
	}

	defaults := TracerConfigDefaults()
	if config.ServiceName == "" {
		config.ServiceName = defaults.ServiceName
	}
	if config.SampleRate == 0 {
		config.SampleRate = defaults.SampleRate
	}

	res, err := newResource(config.ServiceName, config.ServiceVersion, config.Environment)
	if err != nil {
		return nil, errors.Join(err, closeConn())
	}

	tp := trace.NewTracerProvider(
		trace.WithBatcher(exporter, trace.WithBatchTimeout(5*time.Second)),
		trace.WithResource(res),
		trace.WithSampler(sampler(config.SampleRate)),
	)
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	return func(ctx context.Context) error {
		return errors.Join(tp.Shutdown(ctx), closeConn())
	}, nil
}

// spanExporter picks the exporter for config. A nil exporter means tracing
// stays disabled. closeConn is never nil.
func spanExporter(ctx context.Context, config TracerConfig) (exporter trace.SpanExporter, closeConn func() error, err error) {
	closeConn = func() error { return nil }
	switch {
	case config.Exporter != nil:
		return config.Exporter, closeConn, nil

	case config.OTLPEndpoint != "":
		conn, err := grpc.NewClient(
			config.OTLPEndpoint,
			grpc.WithTransportCredentials(insecure.NewCredentials()),
		)
		if err != nil {
			return nil, closeConn, fmt.Errorf("failed to create gRPC connection: %w", err)
		}
		exporter, err := otlptracegrpc.New(ctx, otlptracegrpc.WithGRPCConn(conn))
		if err != nil {
			return nil, closeConn, errors.Join(fmt.Errorf("failed to create OTLP exporter: %w", err), conn.Close())
		}
		return exporter, conn.Close, nil

	case config.Stdout:
		exporter, err := stdouttrace.New(stdouttrace.WithWriter(os.Stderr), stdouttrace.WithPrettyPrint())
		if err != nil {
			return nil, closeConn, fmt.Errorf("failed to create stdout exporter: %w", err)
		}
		return exporter, closeConn, nil
	}
	return nil, closeConn, nil
}

func sampler(rate float64) trace.Sampler {
	switch {
	case rate >= 1.0:
		return trace.AlwaysSample()
	case rate <= 0:
		return trace.NeverSample()
	default:
		return trace.TraceIDRatioBased(rate)
	}
}
