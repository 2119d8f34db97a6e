package types

import "fmt"

// OperationName identifies a batch task operation
type OperationName string

const (
	OperationMarkToReconfigure  OperationName = "MARK_TO_RECONFIGURE"
	OperationExecuteReconfigure OperationName = "EXECUTE_RECONFIGURE"
	OperationUpdateSearchIndex  OperationName = "UPDATE_SEARCH_INDEX"
)

// AllOperationNames returns all supported batch operations
func AllOperationNames() []OperationName {
	return []OperationName{
		OperationMarkToReconfigure,
		OperationExecuteReconfigure,
		OperationUpdateSearchIndex,
	}
}

// IsValid checks if the operation name is valid
func (o OperationName) IsValid() bool {
	switch o {
	case OperationMarkToReconfigure,
		OperationExecuteReconfigure,
		OperationUpdateSearchIndex:
		return true
	default:
		return false
	}
}

// String returns the string representation of the operation name
func (o OperationName) String() string {
	return string(o)
}

// ParseOperationName parses a string into an OperationName
func ParseOperationName(s string) (OperationName, error) {
	o := OperationName(s)
	if !o.IsValid() {
		return "", fmt.Errorf("invalid operation name: %s", s)
	}
	return o, nil
}

// FilterKey is a task attribute a batch operation can filter on
type FilterKey string

const (
	FilterKeyCaseID                 FilterKey = "case_id"
	FilterKeyState                  FilterKey = "state"
	FilterKeyReconfigureRequestTime FilterKey = "reconfigure_request_time"
)

// IsValid checks if the filter key is supported
func (k FilterKey) IsValid() bool {
	switch k {
	case FilterKeyCaseID, FilterKeyState, FilterKeyReconfigureRequestTime:
		return true
	default:
		return false
	}
}

// String returns the string representation of the filter key
func (k FilterKey) String() string {
	return string(k)
}

// FilterOperator is the comparison applied by a task filter
type FilterOperator string

const (
	FilterOperatorIn     FilterOperator = "IN"
	FilterOperatorBefore FilterOperator = "BEFORE"
	FilterOperatorAfter  FilterOperator = "AFTER"
)

// IsValid checks if the filter operator is valid
func (o FilterOperator) IsValid() bool {
	switch o {
	case FilterOperatorIn, FilterOperatorBefore, FilterOperatorAfter:
		return true
	default:
		return false
	}
}

// SupportedBy reports whether the operator can be used with the given key
func (o FilterOperator) SupportedBy(key FilterKey) bool {
	switch key {
	case FilterKeyCaseID, FilterKeyState:
		return o == FilterOperatorIn
	case FilterKeyReconfigureRequestTime:
		return o == FilterOperatorBefore || o == FilterOperatorAfter
	default:
		return false
	}
}

// String returns the string representation of the filter operator
func (o FilterOperator) String() string {
	return string(o)
}
