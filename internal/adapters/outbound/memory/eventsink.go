// Package memory provides an in-memory EventSink.
//
// It is the default sink when no SNS topic is configured and the sink used
// by the workflow tests.
package memory

import (
	"context"
	"sync"

	"github.com/archon-research/aave-loan/internal/domain/entity"
	"github.com/archon-research/aave-loan/internal/ports/outbound"
)

// Compile-time check that EventSink implements outbound.EventSink
var _ outbound.EventSink = (*EventSink)(nil)

// EventSink records workflow events in publish order.
type EventSink struct {
	mu       sync.RWMutex
	events   []outbound.WorkflowEvent
	capacity int
	closed   bool
	watchers []func(outbound.WorkflowEvent)
}

// NewEventSink creates an unbounded sink.
func NewEventSink() *EventSink {
	return NewBoundedEventSink(0)
}

// NewBoundedEventSink creates a sink that keeps at most capacity events,
// discarding the oldest first. A non-positive capacity means unbounded.
func NewBoundedEventSink(capacity int) *EventSink {
	return &EventSink{capacity: capacity}
}

// Publish records the event and notifies watchers. Events published after
// Close are dropped.
func (s *EventSink) Publish(_ context.Context, event outbound.WorkflowEvent) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.events = append(s.events, event)
	if s.capacity > 0 && len(s.events) > s.capacity {
		s.events = s.events[len(s.events)-s.capacity:]
	}
	watchers := s.watchers
	s.mu.Unlock()

	for _, fn := range watchers {
		fn(event)
	}
	return nil
}

// Close stops recording. Recorded events stay readable.
func (s *EventSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// Watch registers fn to be called after every recorded event.
func (s *EventSink) Watch(fn func(outbound.WorkflowEvent)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.watchers = append(s.watchers, fn)
}

// Events returns a copy of every recorded event.
func (s *EventSink) Events() []outbound.WorkflowEvent {
	return s.filter(func(outbound.WorkflowEvent) bool { return true })
}

// Run returns the events of one run.
func (s *EventSink) Run(runID string) []outbound.WorkflowEvent {
	return s.filter(func(e outbound.WorkflowEvent) bool { return e.RunID == runID })
}

// Failures returns the transitions that ended in Failed.
func (s *EventSink) Failures() []outbound.WorkflowEvent {
	return s.filter(func(e outbound.WorkflowEvent) bool { return e.To == entity.StateFailed })
}

// States returns the state reached by each recorded event.
func (s *EventSink) States() []entity.WorkflowState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	states := make([]entity.WorkflowState, len(s.events))
	for i, e := range s.events {
		states[i] = e.To
	}
	return states
}

// Len returns the number of recorded events.
func (s *EventSink) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.events)
}

// Reset discards every recorded event.
func (s *EventSink) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = nil
}

func (s *EventSink) filter(keep func(outbound.WorkflowEvent) bool) []outbound.WorkflowEvent {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []outbound.WorkflowEvent
	for _, e := range s.events {
		if keep(e) {
			out = append(out, e)
		}
	}
	return out
}
