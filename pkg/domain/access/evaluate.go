package access

import (
	"slices"
	"time"

	"github.com/secmon-lab/docket/pkg/domain/model"
	"github.com/secmon-lab/docket/pkg/domain/types"
)

// Decision is the outcome of a permission check
type Decision struct {
	Granted bool
	// MatchedRole is the role whose row satisfied the requirement on its own,
	// or the first contributing role when only the union did
	MatchedRole string
	Permissions types.PermissionSet
}

// Evaluate decides whether the assignments satisfy req on a task described by
// target and its permission rows. It never fails: no match is a denial.
func Evaluate(now time.Time, assignments []*model.RoleAssignment, perms []model.TaskRolePermission, req types.PermissionRequirement, target model.TaskTarget) Decision {
	return BuildSearchConstraints(now, assignments).Authorize(perms, req, target)
}

// Authorize unions the permission flags of every clause that reaches the task and
// tests the requirement against the union. An exclusion reaching the task removes
// clauses of its own role and every STANDARD or CHALLENGED clause.
func (sc *SearchConstraints) Authorize(perms []model.TaskRolePermission, req types.PermissionRequirement, target model.TaskTarget) Decision {
	excludedRoles := map[string]bool{}
	suppressBroad := false
	for _, ex := range sc.Exclusions {
		if ex.Reaches(target) {
			excludedRoles[ex.RoleName] = true
			suppressBroad = true
		}
	}

	var (
		union       types.PermissionSet
		firstRole   string
		matchedRole string
	)
	for _, c := range sc.Clauses {
		if excludedRoles[c.RoleName] {
			continue
		}
		if suppressBroad && c.GrantType.IsSuppressedByExclusion() {
			continue
		}
		row, ok := rowFor(perms, c.RoleName)
		if !ok || !clauseGrants(c, row, target) {
			continue
		}

		union = union.Union(row.Permissions)
		if firstRole == "" {
			firstRole = c.RoleName
		}
		if matchedRole == "" && req.SatisfiedBy(row.Permissions) {
			matchedRole = c.RoleName
		}
	}

	if !req.SatisfiedBy(union) {
		return Decision{Permissions: union}
	}
	if matchedRole == "" {
		matchedRole = firstRole
	}
	return Decision{Granted: true, MatchedRole: matchedRole, Permissions: union}
}

// PermissionsOn returns the union of flags the caller holds on the task
func (sc *SearchConstraints) PermissionsOn(task *model.Task) types.PermissionSet {
	return sc.Authorize(task.RolePermissions, types.PermissionRequirement{}, task.Target()).Permissions
}

func clauseGrants(c ScopeClause, row model.TaskRolePermission, target model.TaskTarget) bool {
	if !c.Classification.Covers(target.Classification) {
		return false
	}
	if !c.Reaches(target) {
		return false
	}
	if len(row.Authorizations) > 0 && !intersects(row.Authorizations, c.Authorisations) {
		return false
	}
	if len(c.WorkTypes) > 0 && !slices.Contains(c.WorkTypes, target.WorkType) {
		return false
	}
	return true
}

func rowFor(perms []model.TaskRolePermission, roleName string) (model.TaskRolePermission, bool) {
	for _, p := range perms {
		if p.RoleName == roleName {
			return p, true
		}
	}
	return model.TaskRolePermission{}, false
}

func intersects(a, b []string) bool {
	for _, v := range a {
		if slices.Contains(b, v) {
			return true
		}
	}
	return false
}
