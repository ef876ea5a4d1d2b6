package outbound

import (
	"context"
	"time"

	"github.com/archon-research/aave-loan/internal/domain/entity"
)

// WorkflowEvent is published on every loan workflow state transition.
type WorkflowEvent struct {
	// RunID identifies one workflow run.
	RunID string `json:"runId"`

	// Account is the acting address.
	Account string `json:"account"`

	// From is the state the transition started in.
	From entity.WorkflowState `json:"from"`

	// To is the state reached. Failed transitions carry entity.StateFailed.
	To entity.WorkflowState `json:"to"`

	// TxHash is the hash of the confirmed transaction, if the step sent one.
	TxHash string `json:"txHash,omitempty"`

	// Amount is the token amount moved by the step, in smallest units.
	Amount string `json:"amount,omitempty"`

	// Error is the failure message for transitions into Failed.
	Error string `json:"error,omitempty"`

	// Reason is the raw revert reason, when one was recovered.
	Reason string `json:"reason,omitempty"`

	// OccurredAt is when the transition completed.
	OccurredAt time.Time `json:"occurredAt"`
}

// EventSink publishes workflow events.
type EventSink interface {
	// Publish publishes a workflow event.
	Publish(ctx context.Context, event WorkflowEvent) error

	// Close closes the sink and releases any resources.
	Close() error
}
