package access

import (
	"github.com/secmon-lab/docket/pkg/domain/model"
	"github.com/secmon-lab/docket/pkg/domain/types"
)

// ScopeMatcher decides whether a scope clause reaches a task
type ScopeMatcher interface {
	MatchScope(clause ScopeClause, target model.TaskTarget) bool
}

var scopeMatchers = map[types.RoleType]ScopeMatcher{
	types.RoleTypeOrganisation: organisationMatcher{},
	types.RoleTypeCase:         caseMatcher{},
	types.RoleTypeRestricted:   restrictedMatcher{},
}

// MatcherFor returns the scope matcher of a role type
func MatcherFor(roleType types.RoleType) (ScopeMatcher, bool) {
	m, ok := scopeMatchers[roleType]
	return m, ok
}

// organisationMatcher treats every absent attribute as a wildcard
type organisationMatcher struct{}

func (organisationMatcher) MatchScope(c ScopeClause, target model.TaskTarget) bool {
	return optionalEqual(c.Jurisdiction, target.Jurisdiction) &&
		optionalEqual(c.CaseTypeID, target.CaseTypeID) &&
		optionalEqual(c.Region, target.Region) &&
		optionalEqual(c.BaseLocation, target.Location) &&
		optionalEqual(string(c.CaseID), string(target.CaseID))
}

// caseMatcher requires a caseId equal to the task's
type caseMatcher struct{}

func (caseMatcher) MatchScope(c ScopeClause, target model.TaskTarget) bool {
	if c.CaseID == "" || c.CaseID != target.CaseID {
		return false
	}
	return organisationMatcher{}.MatchScope(c, target)
}

// restrictedMatcher requires both jurisdiction and caseId to be stated and equal
type restrictedMatcher struct{}

func (restrictedMatcher) MatchScope(c ScopeClause, target model.TaskTarget) bool {
	if c.Jurisdiction == "" || c.Jurisdiction != target.Jurisdiction {
		return false
	}
	if c.CaseID == "" || c.CaseID != target.CaseID {
		return false
	}
	return organisationMatcher{}.MatchScope(c, target)
}

func optionalEqual(want, got string) bool {
	return want == "" || want == got
}
