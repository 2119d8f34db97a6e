package types

import (
	"fmt"
	"strings"
)

// PermissionType is a single task permission flag
type PermissionType string

const (
	PermissionRead        PermissionType = "Read"
	PermissionOwn         PermissionType = "Own"
	PermissionManage      PermissionType = "Manage"
	PermissionExecute     PermissionType = "Execute"
	PermissionCancel      PermissionType = "Cancel"
	PermissionComplete    PermissionType = "Complete"
	PermissionCompleteOwn PermissionType = "CompleteOwn"
	PermissionAssign      PermissionType = "Assign"
)

var permissionBits = map[PermissionType]PermissionSet{
	PermissionRead:        1 << 0,
	PermissionOwn:         1 << 1,
	PermissionManage:      1 << 2,
	PermissionExecute:     1 << 3,
	PermissionCancel:      1 << 4,
	PermissionComplete:    1 << 5,
	PermissionCompleteOwn: 1 << 6,
	PermissionAssign:      1 << 7,
}

// AllPermissionTypes returns every permission flag in bit order
func AllPermissionTypes() []PermissionType {
	return []PermissionType{
		PermissionRead,
		PermissionOwn,
		PermissionManage,
		PermissionExecute,
		PermissionCancel,
		PermissionComplete,
		PermissionCompleteOwn,
		PermissionAssign,
	}
}

// IsValid checks if the permission type is valid
func (p PermissionType) IsValid() bool {
	_, ok := permissionBits[p]
	return ok
}

// String returns the string representation of the permission type
func (p PermissionType) String() string {
	return string(p)
}

// ParsePermissionType parses a permission name, ignoring case and underscores
// so that "complete_own", "COMPLETE_OWN" and "CompleteOwn" are equivalent.
func ParsePermissionType(s string) (PermissionType, error) {
	key := strings.ToLower(strings.ReplaceAll(s, "_", ""))
	for _, p := range AllPermissionTypes() {
		if strings.ToLower(string(p)) == key {
			return p, nil
		}
	}
	return "", fmt.Errorf("invalid permission type: %s", s)
}

// PermissionSet is a bit set of PermissionType flags
type PermissionSet uint16

// NewPermissionSet builds a set from the given flags
func NewPermissionSet(perms ...PermissionType) PermissionSet {
	var s PermissionSet
	for _, p := range perms {
		s |= permissionBits[p]
	}
	return s
}

// Has reports whether p is in the set
func (s PermissionSet) Has(p PermissionType) bool {
	bit, ok := permissionBits[p]
	return ok && s&bit != 0
}

// Union returns the union of both sets
func (s PermissionSet) Union(other PermissionSet) PermissionSet {
	return s | other
}

// Intersects reports whether both sets share a flag
func (s PermissionSet) Intersects(other PermissionSet) bool {
	return s&other != 0
}

// IsEmpty reports whether no flag is set
func (s PermissionSet) IsEmpty() bool {
	return s == 0
}

// Types lists the flags in the set in bit order
func (s PermissionSet) Types() []PermissionType {
	var out []PermissionType
	for _, p := range AllPermissionTypes() {
		if s.Has(p) {
			out = append(out, p)
		}
	}
	return out
}

// String returns flags joined by "," for logs
func (s PermissionSet) String() string {
	types := s.Types()
	parts := make([]string, len(types))
	for i, p := range types {
		parts[i] = string(p)
	}
	return strings.Join(parts, ",")
}

type requirementKind int

const (
	requireSingle requirementKind = iota
	requireAny
	requireAll
)

// PermissionRequirement is the permission (or combination) an operation demands.
// The zero value is unsatisfiable.
type PermissionRequirement struct {
	kind       requirementKind
	permission PermissionType
	children   []PermissionRequirement
}

// Require demands a single permission
func Require(p PermissionType) PermissionRequirement {
	return PermissionRequirement{kind: requireSingle, permission: p}
}

// AnyOf is satisfied when at least one child requirement is
func AnyOf(reqs ...PermissionRequirement) PermissionRequirement {
	return PermissionRequirement{kind: requireAny, children: reqs}
}

// AllOf is satisfied when every child requirement is
func AllOf(reqs ...PermissionRequirement) PermissionRequirement {
	return PermissionRequirement{kind: requireAll, children: reqs}
}

// AnyPermission is shorthand for AnyOf over single permissions
func AnyPermission(perms ...PermissionType) PermissionRequirement {
	reqs := make([]PermissionRequirement, len(perms))
	for i, p := range perms {
		reqs[i] = Require(p)
	}
	return AnyOf(reqs...)
}

// SatisfiedBy evaluates the requirement against a granted permission set
func (r PermissionRequirement) SatisfiedBy(granted PermissionSet) bool {
	switch r.kind {
	case requireSingle:
		return granted.Has(r.permission)
	case requireAny:
		for _, c := range r.children {
			if c.SatisfiedBy(granted) {
				return true
			}
		}
		return false
	case requireAll:
		if len(r.children) == 0 {
			return false
		}
		for _, c := range r.children {
			if !c.SatisfiedBy(granted) {
				return false
			}
		}
		return true
	default:
		return false
	}
}

// Permissions returns every flag mentioned anywhere in the requirement
func (r PermissionRequirement) Permissions() PermissionSet {
	if r.kind == requireSingle {
		return NewPermissionSet(r.permission)
	}
	var s PermissionSet
	for _, c := range r.children {
		s = s.Union(c.Permissions())
	}
	return s
}

// String renders the requirement, e.g. "(Own OR Manage)"
func (r PermissionRequirement) String() string {
	switch r.kind {
	case requireSingle:
		return string(r.permission)
	case requireAny, requireAll:
		sep := " OR "
		if r.kind == requireAll {
			sep = " AND "
		}
		parts := make([]string, len(r.children))
		for i, c := range r.children {
			parts[i] = c.String()
		}
		return "(" + strings.Join(parts, sep) + ")"
	default:
		return "()"
	}
}
