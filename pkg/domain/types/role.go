package types

import "fmt"

// RoleType is the scoping family of a role assignment
type RoleType string

const (
	RoleTypeOrganisation RoleType = "ORGANISATION"
	RoleTypeCase         RoleType = "CASE"
	RoleTypeRestricted   RoleType = "RESTRICTED"
)

// IsValid checks if the role type is valid
func (t RoleType) IsValid() bool {
	switch t {
	case RoleTypeOrganisation, RoleTypeCase, RoleTypeRestricted:
		return true
	default:
		return false
	}
}

// String returns the string representation of the role type
func (t RoleType) String() string {
	return string(t)
}

// ParseRoleType parses a string into a RoleType
func ParseRoleType(s string) (RoleType, error) {
	t := RoleType(s)
	if !t.IsValid() {
		return "", fmt.Errorf("invalid role type: %s", s)
	}
	return t, nil
}

// GrantType is the scoping strength of a role assignment
type GrantType string

const (
	GrantTypeStandard   GrantType = "STANDARD"
	GrantTypeSpecific   GrantType = "SPECIFIC"
	GrantTypeChallenged GrantType = "CHALLENGED"
	GrantTypeExcluded   GrantType = "EXCLUDED"
	GrantTypeBasic      GrantType = "BASIC"
)

// IsValid checks if the grant type is valid
func (g GrantType) IsValid() bool {
	switch g {
	case GrantTypeStandard,
		GrantTypeSpecific,
		GrantTypeChallenged,
		GrantTypeExcluded,
		GrantTypeBasic:
		return true
	default:
		return false
	}
}

// IsNegative reports whether the grant revokes access instead of granting it
func (g GrantType) IsNegative() bool {
	return g == GrantTypeExcluded
}

// IsSuppressedByExclusion reports whether a matching EXCLUDED grant cancels this grant.
// Broad grants (STANDARD, CHALLENGED) are cancelled; targeted ones survive.
func (g GrantType) IsSuppressedByExclusion() bool {
	return g == GrantTypeStandard || g == GrantTypeChallenged
}

// String returns the string representation of the grant type
func (g GrantType) String() string {
	return string(g)
}

// ParseGrantType parses a string into a GrantType
func ParseGrantType(s string) (GrantType, error) {
	g := GrantType(s)
	if !g.IsValid() {
		return "", fmt.Errorf("invalid grant type: %s", s)
	}
	return g, nil
}

// RoleCategory groups roles by the kind of staff holding them
type RoleCategory string

const (
	RoleCategoryJudicial        RoleCategory = "JUDICIAL"
	RoleCategoryLegalOperations RoleCategory = "LEGAL_OPERATIONS"
	RoleCategoryAdmin           RoleCategory = "ADMIN"
	RoleCategoryCTSC            RoleCategory = "CTSC"
)

// IsValid checks if the role category is valid. Empty is allowed and means uncategorised.
func (c RoleCategory) IsValid() bool {
	switch c {
	case "", RoleCategoryJudicial, RoleCategoryLegalOperations, RoleCategoryAdmin, RoleCategoryCTSC:
		return true
	default:
		return false
	}
}

// String returns the string representation of the role category
func (c RoleCategory) String() string {
	return string(c)
}
