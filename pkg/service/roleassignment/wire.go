package roleassignment

import (
	"time"

	"github.com/m-mizutani/goerr/v2"
	"github.com/secmon-lab/docket/pkg/domain/model"
	"github.com/secmon-lab/docket/pkg/domain/types"
)

// assignment is the role assignment representation shared by the HTTP API and the static file
type assignment struct {
	ID             string            `json:"id" toml:"id"`
	ActorID        string            `json:"actorId" toml:"actor_id"`
	RoleName       string            `json:"roleName" toml:"role_name"`
	RoleType       string            `json:"roleType" toml:"role_type"`
	Classification string            `json:"classification" toml:"classification"`
	GrantType      string            `json:"grantType" toml:"grant_type"`
	RoleCategory   string            `json:"roleCategory" toml:"role_category"`
	Attributes     map[string]string `json:"attributes" toml:"attributes"`
	Authorisations []string          `json:"authorisations" toml:"authorisations"`
	BeginTime      *time.Time        `json:"beginTime" toml:"begin_time"`
	EndTime        *time.Time        `json:"endTime" toml:"end_time"`
}

type queryResponse struct {
	RoleAssignmentResponse []assignment `json:"roleAssignmentResponse"`
}

func (a assignment) toModel() (*model.RoleAssignment, error) {
	roleType, err := types.ParseRoleType(a.RoleType)
	if err != nil {
		return nil, goerr.Wrap(err, "invalid role type", goerr.V("id", a.ID), goerr.V(model.RoleNameKey, a.RoleName))
	}
	classification, err := types.ParseSecurityClassification(a.Classification)
	if err != nil {
		return nil, goerr.Wrap(err, "invalid classification", goerr.V("id", a.ID), goerr.V(model.RoleNameKey, a.RoleName))
	}
	grantType, err := types.ParseGrantType(a.GrantType)
	if err != nil {
		return nil, goerr.Wrap(err, "invalid grant type", goerr.V("id", a.ID), goerr.V(model.RoleNameKey, a.RoleName))
	}
	category := types.RoleCategory(a.RoleCategory)
	if !category.IsValid() {
		return nil, goerr.New("invalid role category", goerr.V("id", a.ID), goerr.V("role_category", a.RoleCategory))
	}
	if a.RoleName == "" {
		return nil, goerr.New("role name is required", goerr.V("id", a.ID))
	}

	return &model.RoleAssignment{
		ID:             a.ID,
		ActorID:        types.ActorID(a.ActorID),
		RoleName:       a.RoleName,
		RoleType:       roleType,
		Classification: classification,
		GrantType:      grantType,
		RoleCategory:   category,
		Attributes:     a.Attributes,
		Authorisations: a.Authorisations,
		BeginTime:      utcPtr(a.BeginTime),
		EndTime:        utcPtr(a.EndTime),
	}, nil
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := t.UTC()
	return &v
}
