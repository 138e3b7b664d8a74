// Package models provides data structures and state management for Iron Condor positions.
package models

import "fmt"

// PositionStatus represents the lifecycle status of a position
type PositionStatus string

const (
	StatusOpen   PositionStatus = "open"   // Position opened, counted against the session
	StatusClosed PositionStatus = "closed" // Position closed, P&L realized
)

// Transition conditions
const (
	ConditionPositionClosed = "position_closed"
)

// StateTransition defines valid state transitions
type StateTransition struct {
	From        PositionStatus
	To          PositionStatus
	Condition   string
	Description string
}

// ValidTransitions is the full lifecycle. Closed is terminal.
var ValidTransitions = []StateTransition{
	{StatusOpen, StatusClosed, ConditionPositionClosed, "Position closed by request"},
}

// StateMachine manages position status transitions
type StateMachine struct {
	currentState PositionStatus
}

// NewStateMachine creates a state machine for a freshly opened position
func NewStateMachine() *StateMachine {
	return NewStateMachineFromState(StatusOpen)
}

// NewStateMachineFromState rebuilds a state machine from a persisted status.
// Unknown statuses are treated as open.
func NewStateMachineFromState(status PositionStatus) *StateMachine {
	if !status.Valid() {
		status = StatusOpen
	}
	return &StateMachine{currentState: status}
}

// Valid returns true if the status is one of the defined constants
func (s PositionStatus) Valid() bool {
	switch s {
	case StatusOpen, StatusClosed:
		return true
	default:
		return false
	}
}

// GetCurrentState returns the current state
func (sm *StateMachine) GetCurrentState() PositionStatus {
	return sm.currentState
}

// IsValidTransition checks if a transition is valid
func (sm *StateMachine) IsValidTransition(to PositionStatus, condition string) error {
	for _, transition := range ValidTransitions {
		if transition.From == sm.currentState && transition.To == to && transition.Condition == condition {
			return nil
		}
	}
	return fmt.Errorf("invalid transition from %s to %s with condition '%s'",
		sm.currentState, to, condition)
}

// Transition moves to a new state
func (sm *StateMachine) Transition(to PositionStatus, condition string) error {
	if err := sm.IsValidTransition(to, condition); err != nil {
		return err
	}

	sm.currentState = to
	return nil
}

// IsTerminal reports whether no further transitions are possible
func (sm *StateMachine) IsTerminal() bool {
	for _, transition := range ValidTransitions {
		if transition.From == sm.currentState {
			return false
		}
	}
	return true
}
