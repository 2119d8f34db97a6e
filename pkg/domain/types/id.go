package types

import (
	"regexp"

	"github.com/m-mizutani/goerr/v2"
)

var idPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_.:-]*$`)

// TaskID is the opaque identifier of a task
type TaskID string

// Validate checks if the TaskID is usable as a storage key
func (id TaskID) Validate() error {
	if id == "" {
		return goerr.New("task ID cannot be empty")
	}
	if !idPattern.MatchString(string(id)) {
		return goerr.New("task ID contains invalid characters", goerr.V("id", id))
	}
	return nil
}

// String returns the string representation of TaskID
func (id TaskID) String() string {
	return string(id)
}

// CaseID identifies the case a task belongs to
type CaseID string

// Validate checks if the CaseID is valid
func (id CaseID) Validate() error {
	if id == "" {
		return goerr.New("case ID cannot be empty")
	}
	if !idPattern.MatchString(string(id)) {
		return goerr.New("case ID contains invalid characters", goerr.V("id", id))
	}
	return nil
}

// String returns the string representation of CaseID
func (id CaseID) String() string {
	return string(id)
}

// ActorID identifies a user or service principal
type ActorID string

// String returns the string representation of ActorID
func (id ActorID) String() string {
	return string(id)
}
