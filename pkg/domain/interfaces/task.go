package interfaces

import (
	"context"

	"github.com/secmon-lab/docket/pkg/domain/model"
	"github.com/secmon-lab/docket/pkg/domain/types"
)

// TaskRepository stores tasks with optimistic concurrency on Task.Version
type TaskRepository interface {
	// Create stores a new task with Version 1. It fails with model.ErrVersionConflict
	// when a task with the same ID exists.
	Create(ctx context.Context, task *model.Task) (*model.Task, error)

	// Get retrieves a task by ID, wrapping model.ErrNotFound when absent
	Get(ctx context.Context, id types.TaskID) (*model.Task, error)

	// Save replaces the stored task if its version still equals task.Version and
	// returns the stored copy with the incremented version. A stale version fails
	// with model.ErrVersionConflict, a missing task with model.ErrNotFound.
	Save(ctx context.Context, task *model.Task) (*model.Task, error)

	// Find returns tasks matching every option, ordered by ID
	Find(ctx context.Context, opts ...FindTaskOption) ([]*model.Task, error)

	// FindByCaseID returns every task of the case regardless of state
	FindByCaseID(ctx context.Context, caseID types.CaseID) ([]*model.Task, error)

	// DeleteByCaseID removes every task of the case and returns how many rows
	// were removed. Zero rows is not an error.
	DeleteByCaseID(ctx context.Context, caseID types.CaseID) (int, error)
}
