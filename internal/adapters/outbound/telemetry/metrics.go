package telemetry

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/archon-research/aave-loan/internal/domain/entity"
	"github.com/archon-research/aave-loan/internal/ports/outbound"
)

// Compile-time check that Metrics implements outbound.MetricsRecorder
var _ outbound.MetricsRecorder = (*Metrics)(nil)

// Metrics implements the MetricsRecorder interface using OpenTelemetry.
type Metrics struct {
	stepLatency metric.Float64Histogram
	runLatency  metric.Float64Histogram
	runs        metric.Int64Counter
}

// NewMetrics creates a recorder on the global meter provider.
// meterName should typically be the package name or service name.
func NewMetrics(meterName string) (*Metrics, error) {
	return NewMetricsWithProvider(otel.GetMeterProvider(), meterName)
}

// NewMetricsWithProvider creates a recorder on provider.
func NewMetricsWithProvider(provider metric.MeterProvider, meterName string) (*Metrics, error) {
	meter := provider.Meter(meterName)

	stepLatency, err := meter.Float64Histogram(
		"loan_step_duration_seconds",
		metric.WithDescription("Time taken by one loan workflow transition, including confirmation"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create loan_step_duration_seconds histogram: %w", err)
	}

	runLatency, err := meter.Float64Histogram(
		"loan_run_duration_seconds",
		metric.WithDescription("Time taken by a full loan workflow run"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create loan_run_duration_seconds histogram: %w", err)
	}

	runs, err := meter.Int64Counter(
		"loan_runs_total",
		metric.WithDescription("Total number of loan workflow runs by final state"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create loan_runs_total counter: %w", err)
	}

	return &Metrics{
		stepLatency: stepLatency,
		runLatency:  runLatency,
		runs:        runs,
	}, nil
}

// RecordStep records the duration of a transition that ended in state to.
func (m *Metrics) RecordStep(ctx context.Context, to entity.WorkflowState, duration time.Duration, status string) {
	m.stepLatency.Record(ctx, duration.Seconds(), metric.WithAttributes(
		attribute.String("state", to.String()),
		attribute.String("status", status),
	))
}

// RecordRun counts a finished run and records its duration.
func (m *Metrics) RecordRun(ctx context.Context, final entity.WorkflowState, duration time.Duration) {
	attrs := metric.WithAttributes(attribute.String("state", final.String()))
	m.runs.Add(ctx, 1, attrs)
	m.runLatency.Record(ctx, duration.Seconds(), attrs)
}
