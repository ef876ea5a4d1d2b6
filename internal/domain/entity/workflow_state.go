package entity

// WorkflowState is a state of the loan workflow.
type WorkflowState string

const (
	StateIdle      WorkflowState = "Idle"
	StateDeposited WorkflowState = "Deposited"
	StateQueried1  WorkflowState = "Queried1"
	StatePlanned   WorkflowState = "Planned"
	StateBorrowed  WorkflowState = "Borrowed"
	StateQueried2  WorkflowState = "Queried2"
	StateRepaid    WorkflowState = "Repaid"
	StateQueried3  WorkflowState = "Queried3"
	StateDone      WorkflowState = "Done"
	StateFailed    WorkflowState = "Failed"
)

var validWorkflowStates = map[WorkflowState]bool{
	StateIdle:      true,
	StateDeposited: true,
	StateQueried1:  true,
	StatePlanned:   true,
	StateBorrowed:  true,
	StateQueried2:  true,
	StateRepaid:    true,
	StateQueried3:  true,
	StateDone:      true,
	StateFailed:    true,
}

// IsValid returns true if the state is known.
func (s WorkflowState) IsValid() bool {
	return validWorkflowStates[s]
}

// IsTerminal returns true for Done and Failed.
func (s WorkflowState) IsTerminal() bool {
	return s == StateDone || s == StateFailed
}

func (s WorkflowState) String() string {
	return string(s)
}
