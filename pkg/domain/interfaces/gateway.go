package interfaces

import (
	"context"
	"time"

	"github.com/secmon-lab/docket/pkg/domain/model"
	"github.com/secmon-lab/docket/pkg/domain/types"
)

// RoleAssignmentSource resolves the role assignments an actor holds
type RoleAssignmentSource interface {
	GetRoleAssignments(ctx context.Context, actorID types.ActorID) ([]*model.RoleAssignment, error)
}

// WorkflowEngine is the external process engine tasks are mirrored in
type WorkflowEngine interface {
	// SignalComplete tells the engine the task has been completed
	SignalComplete(ctx context.Context, taskID types.TaskID) error

	// SignalCancel escalates a cancellation. A task the engine no longer knows
	// wraps model.ErrNotFound.
	SignalCancel(ctx context.Context, taskID types.TaskID, reason string) error

	// GetHistoryVariable reads a process variable recorded for the task.
	// Returns "", false, nil when the variable does not exist.
	GetHistoryVariable(ctx context.Context, taskID types.TaskID, name string) (string, bool, error)
}

// ConfigurationRequest carries what the configuration rules are evaluated against
type ConfigurationRequest struct {
	TaskID       types.TaskID
	TaskType     string
	Jurisdiction string
	CaseTypeID   string
	CaseID       types.CaseID
	Now          time.Time
	EventParams  map[string]string
}

// TaskConfigurationProvider computes permissions, dates and classification for a task
type TaskConfigurationProvider interface {
	EvaluateConfiguration(ctx context.Context, req ConfigurationRequest) (*model.TaskConfiguration, error)
}

// OperationReporter receives the summary of every finished batch run
type OperationReporter interface {
	Report(ctx context.Context, result *model.OperationResult) error
}

// RoleAssignmentQuerier finds assignments of any actor holding one of the roles and
// reaching the task. Sources implementing it enable auto-assignment.
type RoleAssignmentQuerier interface {
	QueryRoleAssignments(ctx context.Context, roleNames []string, target model.TaskTarget) ([]*model.RoleAssignment, error)
}
