package usecase

import (
	"context"

	"github.com/m-mizutani/goerr/v2"
	"github.com/secmon-lab/docket/pkg/domain/interfaces"
	"github.com/secmon-lab/docket/pkg/domain/model"
	"github.com/secmon-lab/docket/pkg/domain/types"
	"github.com/secmon-lab/docket/pkg/utils/logging"
)

// canWork reports whether actor may be the assignee of task
func (a *authorizer) canWork(ctx context.Context, actor types.ActorID, task *model.Task) (bool, error) {
	sc, err := a.constraintsFor(ctx, actor)
	if err != nil {
		return false, err
	}
	return sc.Authorize(task.RolePermissions, requireAssignee, task.Target()).Granted, nil
}

// autoAssign gives an unassigned task to the first actor, by role priority then
// actor id, holding an auto-assignable role and able to work the task. It reports
// whether the task was assigned. Sources that cannot be queried never assign.
func (a *authorizer) autoAssign(ctx context.Context, task *model.Task) (bool, error) {
	if task.State != types.TaskStateUnassigned {
		return false, nil
	}
	querier, ok := a.roles.(interfaces.RoleAssignmentQuerier)
	if !ok {
		return false, nil
	}

	tried := map[types.ActorID]bool{}
	for _, row := range task.AutoAssignableRoles() {
		candidates, err := querier.QueryRoleAssignments(ctx, []string{row.RoleName}, task.Target())
		if err != nil {
			return false, goerr.Wrap(err, "failed to query auto-assignment candidates",
				goerr.V(model.TaskIDKey, task.ID), goerr.V(model.RoleNameKey, row.RoleName))
		}

		for _, ra := range candidates {
			if ra.ActorID == "" || tried[ra.ActorID] {
				continue
			}
			tried[ra.ActorID] = true

			ok, err := a.canWork(ctx, ra.ActorID, task)
			if err != nil {
				return false, err
			}
			if !ok {
				continue
			}

			if err := task.Assign(a.now(), model.SystemActor, ra.ActorID, model.TaskActionAutoAssign); err != nil {
				return false, err
			}
			logging.From(ctx).Info("task auto-assigned",
				"task_id", task.ID, "assignee", ra.ActorID, "role_name", row.RoleName)
			return true, nil
		}
	}
	return false, nil
}
