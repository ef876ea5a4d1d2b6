// Package outbound defines the outbound port interfaces.
package outbound

import (
	"context"
	"time"

	"github.com/archon-research/aave-loan/internal/domain/entity"
)

// MetricsRecorder provides an interface for recording workflow metrics.
// This allows the service layer to record metrics without depending on
// specific telemetry implementations.
type MetricsRecorder interface {
	// RecordStep records the latency of a single transition that ended in state to.
	RecordStep(ctx context.Context, to entity.WorkflowState, duration time.Duration, status string)

	// RecordRun records a finished run and the state it ended in.
	RecordRun(ctx context.Context, final entity.WorkflowState, duration time.Duration)
}
