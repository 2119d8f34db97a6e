package roleassignment

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"github.com/secmon-lab/docket/pkg/domain/interfaces"
	"github.com/secmon-lab/docket/pkg/domain/model"
	"github.com/secmon-lab/docket/pkg/domain/types"
	"github.com/secmon-lab/docket/pkg/service/gateway"
	"github.com/secmon-lab/docket/pkg/utils/logging"
)

// Client reads role assignments from the role assignment service
type Client struct {
	caller *gateway.Caller
}

var (
	_ interfaces.RoleAssignmentSource  = &Client{}
	_ interfaces.RoleAssignmentQuerier = &Client{}
)

func NewClient(caller *gateway.Caller) *Client {
	return &Client{caller: caller}
}

// GetRoleAssignments returns every assignment of the actor. Assignments the service
// returns in a shape this service does not understand are skipped.
func (c *Client) GetRoleAssignments(ctx context.Context, actorID types.ActorID) ([]*model.RoleAssignment, error) {
	resp, err := c.caller.Do(ctx, gateway.Request{
		Method: http.MethodGet,
		Path:   "/am/role-assignments/actors/" + url.PathEscape(string(actorID)),
	})
	if err != nil {
		if errors.Is(err, model.ErrNotFound) {
			return nil, nil
		}
		return nil, goerr.Wrap(err, "failed to get role assignments", goerr.V(model.ActorIDKey, actorID))
	}

	var body queryResponse
	if err := resp.Decode(&body); err != nil {
		return nil, goerr.Wrap(errors.Join(model.ErrExternalGateway, err), "invalid role assignment response",
			goerr.V(model.ActorIDKey, actorID))
	}

	out := make([]*model.RoleAssignment, 0, len(body.RoleAssignmentResponse))
	for _, a := range body.RoleAssignmentResponse {
		ra, err := a.toModel()
		if err != nil {
			logging.From(ctx).Warn("skipping malformed role assignment",
				"actor_id", actorID, "assignment_id", a.ID, "error", err.Error())
			continue
		}
		out = append(out, ra)
	}
	return out, nil
}

type queryRequest struct {
	QueryRequests []queryItem `json:"queryRequests"`
}

type queryItem struct {
	RoleName   []string            `json:"roleName"`
	ValidAt    time.Time           `json:"validAt"`
	Attributes map[string][]string `json:"attributes,omitempty"`
}

// QueryRoleAssignments asks the service for assignments of any actor holding one of
// roleNames in the task's jurisdiction
func (c *Client) QueryRoleAssignments(ctx context.Context, roleNames []string, target model.TaskTarget) ([]*model.RoleAssignment, error) {
	item := queryItem{
		RoleName: roleNames,
		ValidAt:  time.Now().UTC(),
	}
	if target.Jurisdiction != "" {
		item.Attributes = map[string][]string{model.AttrJurisdiction: {target.Jurisdiction}}
	}

	resp, err := c.caller.Do(ctx, gateway.Request{
		Method: http.MethodPost,
		Path:   "/am/role-assignments/query",
		Body:   queryRequest{QueryRequests: []queryItem{item}},
	})
	if err != nil {
		if errors.Is(err, model.ErrNotFound) {
			return nil, nil
		}
		return nil, goerr.Wrap(err, "failed to query role assignments", goerr.V("role_names", roleNames))
	}

	var body queryResponse
	if err := resp.Decode(&body); err != nil {
		return nil, goerr.Wrap(errors.Join(model.ErrExternalGateway, err), "invalid role assignment query response")
	}

	out := make([]*model.RoleAssignment, 0, len(body.RoleAssignmentResponse))
	for _, a := range body.RoleAssignmentResponse {
		ra, err := a.toModel()
		if err != nil {
			logging.From(ctx).Warn("skipping malformed role assignment", "assignment_id", a.ID, "error", err.Error())
			continue
		}
		out = append(out, ra)
	}
	sortByActor(out)
	return out, nil
}
