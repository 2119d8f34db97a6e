package access

import (
	"slices"
	"sort"
	"strings"
	"time"

	"github.com/secmon-lab/docket/pkg/domain/model"
	"github.com/secmon-lab/docket/pkg/domain/types"
)

// ScopeClause is one normalised role assignment. A caller sees a task when any
// clause reaches it and no exclusion clause does.
type ScopeClause struct {
	RoleName       string
	RoleType       types.RoleType
	GrantType      types.GrantType
	Classification types.SecurityClassification
	Jurisdiction   string
	CaseTypeID     string
	CaseID         types.CaseID
	Region         string
	BaseLocation   string
	WorkTypes      []string
	Authorisations []string
}

func clauseFrom(ra *model.RoleAssignment) ScopeClause {
	c := ScopeClause{
		RoleName:       ra.RoleName,
		RoleType:       ra.RoleType,
		GrantType:      ra.GrantType,
		Classification: ra.Classification,
		WorkTypes:      ra.WorkTypes(),
		Authorisations: slices.Clone(ra.Authorisations),
	}
	c.Jurisdiction, _ = ra.Attribute(model.AttrJurisdiction)
	c.CaseTypeID, _ = ra.Attribute(model.AttrCaseType)
	caseID, _ := ra.Attribute(model.AttrCaseID)
	c.CaseID = types.CaseID(caseID)
	c.Region, _ = ra.Attribute(model.AttrRegion)
	c.BaseLocation, _ = ra.Attribute(model.AttrBaseLocation)
	sort.Strings(c.WorkTypes)
	sort.Strings(c.Authorisations)
	return c
}

// key identifies clauses that differ at most in classification
func (c ScopeClause) key() string {
	return strings.Join([]string{
		c.RoleName,
		string(c.RoleType),
		string(c.GrantType),
		c.Jurisdiction,
		c.CaseTypeID,
		string(c.CaseID),
		c.Region,
		c.BaseLocation,
		strings.Join(c.WorkTypes, ","),
		strings.Join(c.Authorisations, ","),
	}, "\x1f")
}

// Reaches reports whether the clause scope covers the task, ignoring classification
func (c ScopeClause) Reaches(target model.TaskTarget) bool {
	m, ok := MatcherFor(c.RoleType)
	if !ok {
		return false
	}
	return m.MatchScope(c, target)
}

// SearchConstraints is the normalised view of a caller's active role assignments
type SearchConstraints struct {
	Clauses    []ScopeClause
	Exclusions []ScopeClause
}

// BuildSearchConstraints keeps assignments active at now, splits EXCLUDED grants
// off as exclusions and merges clauses that only differ in classification,
// keeping the highest one.
func BuildSearchConstraints(now time.Time, assignments []*model.RoleAssignment) *SearchConstraints {
	sc := &SearchConstraints{}
	index := map[string]int{}
	excluded := map[string]bool{}

	for _, ra := range assignments {
		if ra == nil || !ra.IsActive(now) || !ra.RoleType.IsValid() {
			continue
		}
		c := clauseFrom(ra)
		k := c.key()

		if ra.GrantType.IsNegative() {
			if !excluded[k] {
				excluded[k] = true
				sc.Exclusions = append(sc.Exclusions, c)
			}
			continue
		}

		if i, ok := index[k]; ok {
			sc.Clauses[i].Classification = sc.Clauses[i].Classification.Max(c.Classification)
			continue
		}
		index[k] = len(sc.Clauses)
		sc.Clauses = append(sc.Clauses, c)
	}
	return sc
}

// IsEmpty reports whether the caller can see nothing at all
func (sc *SearchConstraints) IsEmpty() bool {
	return len(sc.Clauses) == 0
}

// AllowedJurisdictions lists the jurisdictions a search may be restricted to.
// ok is false when some clause spans every jurisdiction and no restriction applies.
func (sc *SearchConstraints) AllowedJurisdictions() (jurisdictions []string, ok bool) {
	set := map[string]struct{}{}
	for _, c := range sc.Clauses {
		if c.Jurisdiction == "" {
			return nil, false
		}
		set[c.Jurisdiction] = struct{}{}
	}
	return sortedKeys(set), true
}

// AllowedCaseIDs lists the cases reachable through case scoped clauses
func (sc *SearchConstraints) AllowedCaseIDs() []types.CaseID {
	set := map[string]struct{}{}
	for _, c := range sc.Clauses {
		if c.CaseID != "" {
			set[string(c.CaseID)] = struct{}{}
		}
	}
	return toCaseIDs(sortedKeys(set))
}

// ExcludedCaseIDs lists the cases named by exclusion clauses
func (sc *SearchConstraints) ExcludedCaseIDs() []types.CaseID {
	set := map[string]struct{}{}
	for _, c := range sc.Exclusions {
		if c.CaseID != "" {
			set[string(c.CaseID)] = struct{}{}
		}
	}
	return toCaseIDs(sortedKeys(set))
}

// HighestClassification is the most sensitive level any clause is cleared for.
// Tasks above it can never be visible.
func (sc *SearchConstraints) HighestClassification() types.SecurityClassification {
	var highest types.SecurityClassification
	for _, c := range sc.Clauses {
		highest = highest.Max(c.Classification)
	}
	return highest
}

// WorkTypes lists the work types searches may be restricted to. ok is false when
// a clause is not restricted by work type.
func (sc *SearchConstraints) WorkTypes() (workTypes []string, ok bool) {
	set := map[string]struct{}{}
	for _, c := range sc.Clauses {
		if len(c.WorkTypes) == 0 {
			return nil, false
		}
		for _, w := range c.WorkTypes {
			set[w] = struct{}{}
		}
	}
	return sortedKeys(set), true
}

// Matches reports whether the task satisfies the requirement for this caller
func (sc *SearchConstraints) Matches(task *model.Task, req types.PermissionRequirement) bool {
	return sc.Authorize(task.RolePermissions, req, task.Target()).Granted
}

func sortedKeys(set map[string]struct{}) []string {
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func toCaseIDs(in []string) []types.CaseID {
	out := make([]types.CaseID, len(in))
	for i, v := range in {
		out[i] = types.CaseID(v)
	}
	return out
}
