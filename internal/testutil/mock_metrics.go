package testutil

import (
	"context"
	"sync"
	"time"

	"github.com/archon-research/aave-loan/internal/domain/entity"
	"github.com/archon-research/aave-loan/internal/ports/outbound"
)

var _ outbound.MetricsRecorder = (*MockMetricsRecorder)(nil)

// StepRecord is one RecordStep call.
type StepRecord struct {
	To     entity.WorkflowState
	Status string
}

// MockMetricsRecorder records metric calls for assertions.
type MockMetricsRecorder struct {
	mu    sync.Mutex
	Steps []StepRecord
	Runs  []entity.WorkflowState
}

func (m *MockMetricsRecorder) RecordStep(_ context.Context, to entity.WorkflowState, _ time.Duration, status string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Steps = append(m.Steps, StepRecord{To: to, Status: status})
}

func (m *MockMetricsRecorder) RecordRun(_ context.Context, final entity.WorkflowState, _ time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Runs = append(m.Runs, final)
}
