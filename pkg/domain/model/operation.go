package model

import (
	"time"

	"github.com/google/uuid"
	"github.com/m-mizutani/goerr/v2"
	"github.com/secmon-lab/docket/pkg/domain/types"
)

const (
	DefaultMaxConcurrency = 5
	DefaultTimeoutSeconds = 120
)

// TaskOperation is a batch operation request
type TaskOperation struct {
	Name           types.OperationName
	RunID          string
	MaxConcurrency int
	TimeoutSeconds int
	Filters        []TaskFilter
}

// TaskFilter is a single predicate of a batch operation
type TaskFilter struct {
	Key      types.FilterKey
	Values   []string
	Operator types.FilterOperator
}

// Normalize fills defaults for missing run id and limits
func (op *TaskOperation) Normalize() {
	if op.RunID == "" {
		op.RunID = uuid.New().String()
	}
	if op.MaxConcurrency <= 0 {
		op.MaxConcurrency = DefaultMaxConcurrency
	}
	if op.TimeoutSeconds <= 0 {
		op.TimeoutSeconds = DefaultTimeoutSeconds
	}
}

// Timeout returns the overall budget of the batch
func (op *TaskOperation) Timeout() time.Duration {
	return time.Duration(op.TimeoutSeconds) * time.Second
}

// Validate checks the operation name and every filter
func (op *TaskOperation) Validate() error {
	if !op.Name.IsValid() {
		return goerr.Wrap(ErrConstraintViolation, "unknown operation", goerr.V(OperationKey, op.Name))
	}
	for _, f := range op.Filters {
		if err := f.Validate(); err != nil {
			return goerr.Wrap(err, "invalid filter", goerr.V(OperationKey, op.Name))
		}
	}
	return nil
}

// Validate checks key/operator compatibility and value syntax
func (f TaskFilter) Validate() error {
	if !f.Key.IsValid() {
		return goerr.Wrap(ErrConstraintViolation, "unsupported filter key", goerr.V(FilterKeyKey, f.Key))
	}
	if !f.Operator.SupportedBy(f.Key) {
		return goerr.Wrap(ErrConstraintViolation, "unsupported filter operator",
			goerr.V(FilterKeyKey, f.Key), goerr.V("operator", f.Operator))
	}
	if len(f.Values) == 0 {
		return goerr.Wrap(ErrConstraintViolation, "filter has no values", goerr.V(FilterKeyKey, f.Key))
	}

	switch f.Key {
	case types.FilterKeyState:
		for _, v := range f.Values {
			if _, err := types.ParseTaskState(v); err != nil {
				return goerr.Wrap(ErrConstraintViolation, "invalid state value",
					goerr.V(FilterKeyKey, f.Key), goerr.V("value", v))
			}
		}
	case types.FilterKeyReconfigureRequestTime:
		if len(f.Values) != 1 {
			return goerr.Wrap(ErrConstraintViolation, "time filter takes exactly one value", goerr.V(FilterKeyKey, f.Key))
		}
		if _, err := time.Parse(time.RFC3339, f.Values[0]); err != nil {
			return goerr.Wrap(ErrConstraintViolation, "invalid time value",
				goerr.V(FilterKeyKey, f.Key), goerr.V("value", f.Values[0]))
		}
	}
	return nil
}

// Time returns the parsed value of a time filter in UTC
func (f TaskFilter) Time() (time.Time, error) {
	if len(f.Values) != 1 {
		return time.Time{}, goerr.Wrap(ErrConstraintViolation, "time filter takes exactly one value", goerr.V(FilterKeyKey, f.Key))
	}
	ts, err := time.Parse(time.RFC3339, f.Values[0])
	if err != nil {
		return time.Time{}, goerr.Wrap(ErrConstraintViolation, "invalid time value",
			goerr.V(FilterKeyKey, f.Key), goerr.V("value", f.Values[0]))
	}
	return ts.UTC(), nil
}

// OperationResult summarises a batch run
type OperationResult struct {
	RunID         string
	Operation     types.OperationName
	Matched       int
	Succeeded     int
	Skipped       int
	Failed        int
	FailedTaskIDs []types.TaskID
	StartedAt     time.Time
	FinishedAt    time.Time
}
