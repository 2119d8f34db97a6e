package roleassignment

import (
	"context"
	"os"
	"sort"

	"github.com/m-mizutani/goerr/v2"
	"github.com/pelletier/go-toml/v2"
	"github.com/secmon-lab/docket/pkg/domain/interfaces"
	"github.com/secmon-lab/docket/pkg/domain/model"
	"github.com/secmon-lab/docket/pkg/domain/types"
)

type staticFile struct {
	Assignments []assignment `toml:"assignment"`
}

// StaticSource serves role assignments loaded from a TOML file. Intended for
// development and for deployments without a role assignment service.
type StaticSource struct {
	byActor map[types.ActorID][]*model.RoleAssignment
}

var (
	_ interfaces.RoleAssignmentSource  = &StaticSource{}
	_ interfaces.RoleAssignmentQuerier = &StaticSource{}
)

// LoadStatic reads the TOML file at path
func LoadStatic(path string) (*StaticSource, error) {
	// #nosec G304 -- path comes from CLI flag
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to read role assignment file", goerr.V("path", path))
	}
	src, err := ParseStatic(data)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to load role assignment file", goerr.V("path", path))
	}
	return src, nil
}

// ParseStatic parses TOML role assignments
func ParseStatic(data []byte) (*StaticSource, error) {
	var file staticFile
	if err := toml.Unmarshal(data, &file); err != nil {
		return nil, goerr.Wrap(err, "failed to parse role assignments")
	}

	src := &StaticSource{byActor: make(map[types.ActorID][]*model.RoleAssignment)}
	seen := make(map[string]bool)
	for i, a := range file.Assignments {
		if a.ActorID == "" {
			return nil, goerr.New("actor_id is required", goerr.V("index", i))
		}
		if a.ID == "" {
			a.ID = a.ActorID + "/" + a.RoleName
		}
		if seen[a.ID] {
			return nil, goerr.New("duplicate role assignment id", goerr.V("id", a.ID))
		}
		seen[a.ID] = true

		ra, err := a.toModel()
		if err != nil {
			return nil, goerr.Wrap(err, "invalid role assignment", goerr.V("index", i))
		}
		src.byActor[ra.ActorID] = append(src.byActor[ra.ActorID], ra)
	}
	return src, nil
}

// Count returns the number of loaded assignments
func (s *StaticSource) Count() int {
	n := 0
	for _, list := range s.byActor {
		n += len(list)
	}
	return n
}

func (s *StaticSource) GetRoleAssignments(ctx context.Context, actorID types.ActorID) ([]*model.RoleAssignment, error) {
	list := s.byActor[actorID]
	out := make([]*model.RoleAssignment, len(list))
	copy(out, list)
	return out, nil
}

// QueryRoleAssignments returns assignments of any actor holding one of roleNames in
// the task's jurisdiction. Scope and validity are left to the permission model.
func (s *StaticSource) QueryRoleAssignments(ctx context.Context, roleNames []string, target model.TaskTarget) ([]*model.RoleAssignment, error) {
	wanted := make(map[string]bool, len(roleNames))
	for _, n := range roleNames {
		wanted[n] = true
	}

	var out []*model.RoleAssignment
	for _, list := range s.byActor {
		for _, ra := range list {
			if !wanted[ra.RoleName] {
				continue
			}
			if j, ok := ra.Attribute(model.AttrJurisdiction); ok && j != target.Jurisdiction {
				continue
			}
			out = append(out, ra)
		}
	}
	sortByActor(out)
	return out, nil
}

func sortByActor(list []*model.RoleAssignment) {
	sort.SliceStable(list, func(i, j int) bool {
		if list[i].ActorID != list[j].ActorID {
			return list[i].ActorID < list[j].ActorID
		}
		return list[i].ID < list[j].ID
	})
}
