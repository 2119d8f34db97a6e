package types

import (
	"fmt"
	"strings"
)

// TaskState represents the lifecycle state of a task
type TaskState string

const (
	TaskStateUnconfigured TaskState = "UNCONFIGURED"
	TaskStateUnassigned   TaskState = "UNASSIGNED"
	TaskStateAssigned     TaskState = "ASSIGNED"
	TaskStateCompleted    TaskState = "COMPLETED"
	TaskStateCancelled    TaskState = "CANCELLED"
	TaskStateTerminated   TaskState = "TERMINATED"
)

// AllTaskStates returns all valid task states
func AllTaskStates() []TaskState {
	return []TaskState{
		TaskStateUnconfigured,
		TaskStateUnassigned,
		TaskStateAssigned,
		TaskStateCompleted,
		TaskStateCancelled,
		TaskStateTerminated,
	}
}

// IsValid checks if the task state is valid
func (s TaskState) IsValid() bool {
	switch s {
	case TaskStateUnconfigured,
		TaskStateUnassigned,
		TaskStateAssigned,
		TaskStateCompleted,
		TaskStateCancelled,
		TaskStateTerminated:
		return true
	default:
		return false
	}
}

// IsActive reports whether the task is open for work (and for reconfiguration).
func (s TaskState) IsActive() bool {
	return s == TaskStateUnassigned || s == TaskStateAssigned
}

// IsTerminal reports whether no user-driven transition can leave the state.
func (s TaskState) IsTerminal() bool {
	return s == TaskStateCompleted || s == TaskStateTerminated
}

// CanTransitionTo checks the transition table of the task lifecycle.
func (s TaskState) CanTransitionTo(next TaskState) bool {
	for _, allowed := range taskTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

var taskTransitions = map[TaskState][]TaskState{
	TaskStateUnconfigured: {TaskStateUnassigned, TaskStateAssigned},
	TaskStateUnassigned:   {TaskStateAssigned, TaskStateCancelled, TaskStateTerminated},
	TaskStateAssigned:     {TaskStateAssigned, TaskStateUnassigned, TaskStateCompleted, TaskStateCancelled, TaskStateTerminated},
	TaskStateCompleted:    {TaskStateTerminated},
	TaskStateCancelled:    {TaskStateTerminated},
}

// String returns the string representation of the task state
func (s TaskState) String() string {
	return string(s)
}

// ParseTaskState parses a string into a TaskState
func ParseTaskState(s string) (TaskState, error) {
	state := TaskState(s)
	if !state.IsValid() {
		return "", fmt.Errorf("invalid task state: %s", s)
	}
	return state, nil
}

// TerminationReason records why a task reached TERMINATED
type TerminationReason string

const (
	TerminationReasonCompleted TerminationReason = "COMPLETED"
	TerminationReasonCancelled TerminationReason = "CANCELLED"
	TerminationReasonDeleted   TerminationReason = "DELETED"
)

// IsValid checks if the termination reason is valid
func (r TerminationReason) IsValid() bool {
	switch r {
	case TerminationReasonCompleted,
		TerminationReasonCancelled,
		TerminationReasonDeleted:
		return true
	default:
		return false
	}
}

// String returns the string representation of the termination reason
func (r TerminationReason) String() string {
	return string(r)
}

// ParseTerminationReason parses a string into a TerminationReason.
// Lower case input ("cancelled") is accepted since the workflow engine sends it that way.
func ParseTerminationReason(s string) (TerminationReason, error) {
	reason := TerminationReason(strings.ToUpper(s))
	if !reason.IsValid() {
		return "", fmt.Errorf("invalid termination reason: %s", s)
	}
	return reason, nil
}
