package model

import "errors"

// Sentinel errors shared by every layer. Callers wrap them with goerr and test with errors.Is.
var (
	ErrNotFound               = errors.New("not found")
	ErrForbidden              = errors.New("forbidden")
	ErrUnauthenticated        = errors.New("unauthenticated")
	ErrIllegalStateTransition = errors.New("illegal state transition")
	ErrConfiguration          = errors.New("task configuration failed")
	ErrExternalGateway        = errors.New("external gateway failure")
	ErrTaskComplete           = errors.New("task could not be completed")
	ErrConstraintViolation    = errors.New("constraint violation")
	ErrStorageUnavailable     = errors.New("storage unavailable")
	ErrVersionConflict        = errors.New("version conflict")
)

// Context keys for error values
const (
	TaskIDKey     = "task_id"
	CaseIDKey     = "case_id"
	ActorIDKey    = "actor_id"
	FromStateKey  = "from_state"
	ToStateKey    = "to_state"
	VersionKey    = "version"
	RoleNameKey   = "role_name"
	FilterKeyKey  = "filter_key"
	OperationKey  = "operation"
	StatusCodeKey = "status_code"
	URLKey        = "url"
)
