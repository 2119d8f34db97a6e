package roleassignment_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/m-mizutani/gt"
	"github.com/secmon-lab/docket/pkg/domain/model"
	"github.com/secmon-lab/docket/pkg/domain/types"
	"github.com/secmon-lab/docket/pkg/service/gateway"
	"github.com/secmon-lab/docket/pkg/service/roleassignment"
)

const staticAssignments = `
[[assignment]]
actor_id = "user-1"
role_name = "tribunal-caseworker"
role_type = "ORGANISATION"
classification = "PUBLIC"
grant_type = "STANDARD"
role_category = "LEGAL_OPERATIONS"
authorisations = ["IAC"]
begin_time = 2024-01-01T00:00:00Z
[assignment.attributes]
jurisdiction = "IA"
region = "1"

[[assignment]]
actor_id = "user-1"
role_name = "case-manager"
role_type = "CASE"
classification = "RESTRICTED"
grant_type = "SPECIFIC"
[assignment.attributes]
jurisdiction = "IA"
caseId = "1623278362431003"
`

func TestParseStatic(t *testing.T) {
	src, err := roleassignment.ParseStatic([]byte(staticAssignments))
	gt.NoError(t, err).Required()
	gt.Value(t, src.Count()).Equal(2)

	list, err := src.GetRoleAssignments(context.Background(), "user-1")
	gt.NoError(t, err).Required()
	gt.Array(t, list).Length(2)
	gt.Value(t, list[0].RoleType).Equal(types.RoleTypeOrganisation)
	gt.Value(t, list[0].RoleCategory).Equal(types.RoleCategoryLegalOperations)
	gt.Value(t, list[0].Attributes[model.AttrJurisdiction]).Equal("IA")
	gt.Value(t, list[0].BeginTime).NotNil()
	gt.Value(t, list[1].Classification).Equal(types.ClassificationRestricted)
	gt.Value(t, list[1].GrantType).Equal(types.GrantTypeSpecific)

	none, err := src.GetRoleAssignments(context.Background(), "user-2")
	gt.NoError(t, err).Required()
	gt.Array(t, none).Length(0)
}

func TestParseStaticRejectsInvalid(t *testing.T) {
	testCases := map[string]string{
		"bad grant type": `
[[assignment]]
actor_id = "u"
role_name = "r"
role_type = "ORGANISATION"
classification = "PUBLIC"
grant_type = "SOMETIMES"
`,
		"missing actor": `
[[assignment]]
role_name = "r"
role_type = "ORGANISATION"
classification = "PUBLIC"
grant_type = "STANDARD"
`,
		"bad classification": `
[[assignment]]
actor_id = "u"
role_name = "r"
role_type = "ORGANISATION"
classification = "SECRET"
grant_type = "STANDARD"
`,
	}

	for name, data := range testCases {
		t.Run(name, func(t *testing.T) {
			_, err := roleassignment.ParseStatic([]byte(data))
			gt.Error(t, err)
		})
	}
}

func TestClientGetRoleAssignments(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gt.Value(t, r.URL.Path).Equal("/am/role-assignments/actors/user-1")
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"roleAssignmentResponse":[
			{"id":"a1","actorId":"user-1","roleName":"judge","roleType":"ORGANISATION","classification":"PRIVATE","grantType":"STANDARD","roleCategory":"JUDICIAL","attributes":{"jurisdiction":"IA"},"beginTime":"2024-01-01T00:00:00Z"},
			{"id":"a2","actorId":"user-1","roleName":"odd","roleType":"UNKNOWN","classification":"PUBLIC","grantType":"STANDARD"}
		]}`))
	}))
	t.Cleanup(srv.Close)

	client := roleassignment.NewClient(gateway.New("role-assignment", srv.URL))
	list, err := client.GetRoleAssignments(context.Background(), "user-1")
	gt.NoError(t, err).Required()
	gt.Array(t, list).Length(1)
	gt.Value(t, list[0].RoleName).Equal("judge")
	gt.Value(t, list[0].Classification).Equal(types.ClassificationPrivate)
}

func TestClientNotFoundMeansNoAssignments(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	t.Cleanup(srv.Close)

	client := roleassignment.NewClient(gateway.New("role-assignment", srv.URL))
	list, err := client.GetRoleAssignments(context.Background(), "user-1")
	gt.NoError(t, err).Required()
	gt.Array(t, list).Length(0)
}

type countingSource struct {
	calls atomic.Int32
	err   error
}

func (s *countingSource) GetRoleAssignments(ctx context.Context, actorID types.ActorID) ([]*model.RoleAssignment, error) {
	s.calls.Add(1)
	if s.err != nil {
		return nil, s.err
	}
	return []*model.RoleAssignment{{ID: "a1", ActorID: actorID, RoleName: "judge"}}, nil
}

func TestCachedSource(t *testing.T) {
	src := &countingSource{}
	cached := roleassignment.NewCached(src, roleassignment.WithCacheTTL(time.Minute))
	ctx := context.Background()

	for range 3 {
		list, err := cached.GetRoleAssignments(ctx, "user-1")
		gt.NoError(t, err).Required()
		gt.Array(t, list).Length(1)
	}
	gt.Value(t, src.calls.Load()).Equal(int32(1))

	cached.Invalidate("user-1")
	_, err := cached.GetRoleAssignments(ctx, "user-1")
	gt.NoError(t, err).Required()
	gt.Value(t, src.calls.Load()).Equal(int32(2))
}

func TestCachedSourceDoesNotCacheFailures(t *testing.T) {
	src := &countingSource{err: errors.New("unavailable")}
	cached := roleassignment.NewCached(src)
	ctx := context.Background()

	_, err := cached.GetRoleAssignments(ctx, "user-1")
	gt.Error(t, err)
	_, err = cached.GetRoleAssignments(ctx, "user-1")
	gt.Error(t, err)
	gt.Value(t, src.calls.Load()).Equal(int32(2))
}

func TestStaticQueryRoleAssignments(t *testing.T) {
	src, err := roleassignment.ParseStatic([]byte(staticAssignments + `
[[assignment]]
actor_id = "user-0"
role_name = "tribunal-caseworker"
role_type = "ORGANISATION"
classification = "PUBLIC"
grant_type = "STANDARD"
[assignment.attributes]
jurisdiction = "SSCS"
`))
	gt.NoError(t, err).Required()

	list, err := src.QueryRoleAssignments(context.Background(),
		[]string{"tribunal-caseworker"}, model.TaskTarget{Jurisdiction: "IA"})
	gt.NoError(t, err).Required()
	gt.Array(t, list).Length(1)
	gt.Value(t, list[0].ActorID).Equal(types.ActorID("user-1"))
}

func TestClientQueryRoleAssignments(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gt.Value(t, r.Method).Equal(http.MethodPost)
		gt.Value(t, r.URL.Path).Equal("/am/role-assignments/query")
		_, _ = w.Write([]byte(`{"roleAssignmentResponse":[
			{"id":"b","actorId":"user-2","roleName":"judge","roleType":"ORGANISATION","classification":"PUBLIC","grantType":"STANDARD"},
			{"id":"a","actorId":"user-1","roleName":"judge","roleType":"ORGANISATION","classification":"PUBLIC","grantType":"STANDARD"}
		]}`))
	}))
	t.Cleanup(srv.Close)

	client := roleassignment.NewClient(gateway.New("role-assignment", srv.URL))
	list, err := client.QueryRoleAssignments(context.Background(), []string{"judge"}, model.TaskTarget{Jurisdiction: "IA"})
	gt.NoError(t, err).Required()
	gt.Array(t, list).Length(2)
	gt.Value(t, list[0].ActorID).Equal(types.ActorID("user-1"))
}
