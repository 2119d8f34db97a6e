package usecase

import (
	"context"
	"errors"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"github.com/secmon-lab/docket/pkg/domain/access"
	"github.com/secmon-lab/docket/pkg/domain/interfaces"
	"github.com/secmon-lab/docket/pkg/domain/model"
	"github.com/secmon-lab/docket/pkg/domain/model/auth"
	"github.com/secmon-lab/docket/pkg/domain/types"
)

// Permission requirements of task operations
var (
	requireRead     = types.Require(types.PermissionRead)
	requireClaim    = types.AnyPermission(types.PermissionOwn, types.PermissionExecute)
	requireManage   = types.Require(types.PermissionManage)
	requireAssign   = types.AnyPermission(types.PermissionAssign, types.PermissionManage)
	requireCancel   = types.AnyPermission(types.PermissionCancel, types.PermissionManage)
	requireAssignee = types.AnyPermission(types.PermissionOwn, types.PermissionExecute)
	// completing as the assignee
	requireCompleteOwn = types.AnyPermission(
		types.PermissionOwn,
		types.PermissionExecute,
		types.PermissionCompleteOwn,
		types.PermissionComplete,
		types.PermissionManage,
	)
	// completing someone else's task
	requireCompleteOther = types.Require(types.PermissionManage)
)

// caller is the resolved identity and access scope of a request
type caller struct {
	token       *auth.Token
	constraints *access.SearchConstraints
}

func (c *caller) actor() types.ActorID {
	return c.token.Sub
}

type authorizer struct {
	roles interfaces.RoleAssignmentSource
	now   func() time.Time
}

func newAuthorizer(roles interfaces.RoleAssignmentSource, now func() time.Time) *authorizer {
	return &authorizer{roles: roles, now: now}
}

// identify resolves the caller token without loading role assignments
func (a *authorizer) identify(ctx context.Context) (*auth.Token, error) {
	token, err := auth.TokenFromContext(ctx)
	if err != nil {
		return nil, goerr.Wrap(errors.Join(model.ErrUnauthenticated, err), "caller is not identified")
	}
	if token.IsExpired() {
		return nil, goerr.Wrap(model.ErrUnauthenticated, "caller token expired", goerr.V(model.ActorIDKey, token.Sub))
	}
	return token, nil
}

// resolve identifies the caller and loads their role assignments
func (a *authorizer) resolve(ctx context.Context) (*caller, error) {
	token, err := a.identify(ctx)
	if err != nil {
		return nil, err
	}
	sc, err := a.constraintsFor(ctx, token.Sub)
	if err != nil {
		return nil, err
	}
	return &caller{token: token, constraints: sc}, nil
}

func (a *authorizer) constraintsFor(ctx context.Context, actorID types.ActorID) (*access.SearchConstraints, error) {
	if a.roles == nil {
		return access.BuildSearchConstraints(a.now(), nil), nil
	}
	assignments, err := a.roles.GetRoleAssignments(ctx, actorID)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to get role assignments", goerr.V(model.ActorIDKey, actorID))
	}
	return access.BuildSearchConstraints(a.now(), assignments), nil
}

// require fails with model.ErrForbidden unless the caller satisfies req on task
func (a *authorizer) require(c *caller, task *model.Task, req types.PermissionRequirement) (access.Decision, error) {
	d := c.constraints.Authorize(task.RolePermissions, req, task.Target())
	if !d.Granted {
		return d, goerr.Wrap(model.ErrForbidden, "permission denied",
			goerr.V(model.TaskIDKey, task.ID),
			goerr.V(model.ActorIDKey, c.actor()),
			goerr.V(RequirementKey, req.String()))
	}
	return d, nil
}
