package model

import (
	"slices"
	"strings"
	"time"

	"github.com/secmon-lab/docket/pkg/domain/types"
)

// Role assignment attribute keys
const (
	AttrJurisdiction = "jurisdiction"
	AttrCaseType     = "caseType"
	AttrCaseID       = "caseId"
	AttrRegion       = "region"
	AttrBaseLocation = "baseLocation"
	AttrWorkTypes    = "workTypes"
)

// RoleAssignment is an externally issued grant of a role to an actor
type RoleAssignment struct {
	ID             string
	ActorID        types.ActorID
	RoleName       string
	RoleType       types.RoleType
	Classification types.SecurityClassification
	GrantType      types.GrantType
	RoleCategory   types.RoleCategory
	Attributes     map[string]string
	Authorisations []string
	BeginTime      *time.Time
	EndTime        *time.Time
}

// IsActive reports whether now falls within [BeginTime, EndTime]. Nil bounds are open.
func (ra *RoleAssignment) IsActive(now time.Time) bool {
	if ra.BeginTime != nil && now.Before(*ra.BeginTime) {
		return false
	}
	if ra.EndTime != nil && now.After(*ra.EndTime) {
		return false
	}
	return true
}

// Attribute returns the trimmed attribute value and whether it is present and non-empty
func (ra *RoleAssignment) Attribute(key string) (string, bool) {
	v, ok := ra.Attributes[key]
	v = strings.TrimSpace(v)
	return v, ok && v != ""
}

// WorkTypes returns the comma separated workTypes attribute as a list
func (ra *RoleAssignment) WorkTypes() []string {
	raw, ok := ra.Attribute(AttrWorkTypes)
	if !ok {
		return nil
	}
	var out []string
	for _, w := range strings.Split(raw, ",") {
		if w = strings.TrimSpace(w); w != "" {
			out = append(out, w)
		}
	}
	return out
}

// HasAuthorisation reports whether any of the given authorisations is held
func (ra *RoleAssignment) HasAuthorisation(auths []string) bool {
	for _, a := range auths {
		if slices.Contains(ra.Authorisations, a) {
			return true
		}
	}
	return false
}
