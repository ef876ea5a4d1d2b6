package telemetry

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/sdk/metric"
)

// MetricConfig holds configuration for the metrics.
type MetricConfig struct {
	ServiceName    string
	ServiceVersion string
	Environment    string

	// OTLPEndpoint is the OTLP gRPC endpoint. Empty keeps the no-op provider
	// unless Reader is set.
	OTLPEndpoint string

	// ExportInterval is how often metrics are pushed. Defaults to 15s.
	ExportInterval time.Duration

	// Reader replaces the OTLP exporter, e.g. with a metric.ManualReader.
	Reader metric.Reader
}

// InitMetrics installs a global meter provider. Shutdown pushes the last
// readings; a single workflow run usually ends before the first interval.
func InitMetrics(ctx context.Context, config MetricConfig) (shutdown func(context.Context) error, err error) {
	reader, err := metricReader(ctx, config)
	if err != nil {
		return nil, err
	}
	if reader == nil {
		return func(context.Context) error { return nil }, nil
	}

	if config.ServiceName == "" {
		config.ServiceName = TracerConfigDefaults().ServiceName
	}
	res, err := newResource(config.ServiceName, config.ServiceVersion, config.Environment)
	if err != nil {
		return nil, err
	}

	provider := metric.NewMeterProvider(metric.WithResource(res), metric.WithReader(reader))
	otel.SetMeterProvider(provider)
	return provider.Shutdown, nil
}

func metricReader(ctx context.Context, config MetricConfig) (metric.Reader, error) {
	if config.Reader != nil {
		return config.Reader, nil
	}
	if config.OTLPEndpoint == "" {
		return nil, nil
	}

	exporter, err := otlpmetricgrpc.New(ctx,
		otlpmetricgrpc.WithEndpoint(config.OTLPEndpoint),
		otlpmetricgrpc.WithInsecure(),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create OTLP metric exporter: %w", err)
	}

	interval := config.ExportInterval
	if interval <= 0 {
		interval = 15 * time.Second
	}
	return metric.NewPeriodicReader(exporter, metric.WithInterval(interval)), nil
}
