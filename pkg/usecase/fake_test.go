package usecase_test

import (
	"context"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/secmon-lab/docket/pkg/domain/interfaces"
	"github.com/secmon-lab/docket/pkg/domain/model"
	"github.com/secmon-lab/docket/pkg/domain/model/auth"
	"github.com/secmon-lab/docket/pkg/domain/types"
)

var testStart = time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)

const (
	roleCaseworker = "tribunal-caseworker"
	roleSenior     = "senior-tribunal-caseworker"
	roleJudge      = "judge"
)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: testStart}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type fakeRoles struct {
	mu      sync.Mutex
	byActor map[types.ActorID][]*model.RoleAssignment
}

func newFakeRoles() *fakeRoles {
	return &fakeRoles{byActor: map[types.ActorID][]*model.RoleAssignment{}}
}

func (f *fakeRoles) grant(actor types.ActorID, roleName, jurisdiction string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.byActor[actor] = append(f.byActor[actor], &model.RoleAssignment{
		ID:             string(actor) + "-" + roleName,
		ActorID:        actor,
		RoleName:       roleName,
		RoleType:       types.RoleTypeOrganisation,
		Classification: types.ClassificationPublic,
		GrantType:      types.GrantTypeStandard,
		Attributes:     map[string]string{model.AttrJurisdiction: jurisdiction},
	})
}

func (f *fakeRoles) revoke(actor types.ActorID) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.byActor, actor)
}

func (f *fakeRoles) GetRoleAssignments(ctx context.Context, actorID types.ActorID) ([]*model.RoleAssignment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return slices.Clone(f.byActor[actorID]), nil
}

func (f *fakeRoles) QueryRoleAssignments(ctx context.Context, roleNames []string, target model.TaskTarget) ([]*model.RoleAssignment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*model.RoleAssignment
	for _, list := range f.byActor {
		for _, ra := range list {
			if slices.Contains(roleNames, ra.RoleName) {
				out = append(out, ra)
			}
		}
	}
	slices.SortFunc(out, func(a, b *model.RoleAssignment) int {
		return strings.Compare(string(a.ActorID), string(b.ActorID))
	})
	return out, nil
}

var _ interfaces.RoleAssignmentQuerier = &fakeRoles{}

type fakeEngine struct {
	mu          sync.Mutex
	completeErr error
	cancelErr   error
	completed   []types.TaskID
	cancelled   []types.TaskID
}

func (f *fakeEngine) SignalComplete(ctx context.Context, taskID types.TaskID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.completeErr != nil {
		return f.completeErr
	}
	f.completed = append(f.completed, taskID)
	return nil
}

func (f *fakeEngine) SignalCancel(ctx context.Context, taskID types.TaskID, reason string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cancelled = append(f.cancelled, taskID)
	return f.cancelErr
}

func (f *fakeEngine) GetHistoryVariable(ctx context.Context, taskID types.TaskID, name string) (string, bool, error) {
	return "", false, nil
}

// fakeConfig grants caseworkers read/own/complete_own and seniors manage. It
// records how many evaluations run at once.
type fakeConfig struct {
	mu             sync.Mutex
	autoAssignable bool
	caseworkerPerm types.PermissionSet
	delay          time.Duration
	err            error

	inflight    atomic.Int32
	maxInflight atomic.Int32
	calls       atomic.Int32
}

func newFakeConfig() *fakeConfig {
	return &fakeConfig{
		caseworkerPerm: types.NewPermissionSet(types.PermissionRead, types.PermissionOwn, types.PermissionCompleteOwn),
	}
}

func (f *fakeConfig) setCaseworkerPermissions(p types.PermissionSet) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.caseworkerPerm = p
}

func (f *fakeConfig) EvaluateConfiguration(ctx context.Context, req interfaces.ConfigurationRequest) (*model.TaskConfiguration, error) {
	f.calls.Add(1)
	n := f.inflight.Add(1)
	defer f.inflight.Add(-1)
	for {
		m := f.maxInflight.Load()
		if n <= m || f.maxInflight.CompareAndSwap(m, n) {
			break
		}
	}
	if f.delay > 0 {
		time.Sleep(f.delay)
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	return &model.TaskConfiguration{
		Name:                   "Review the appeal",
		WorkType:               "routine_work",
		RoleCategory:           types.RoleCategoryLegalOperations,
		SecurityClassification: types.ClassificationPublic,
		MajorPriority:          5000,
		MinorPriority:          500,
		RolePermissions: []model.TaskRolePermission{
			{
				RoleName:       roleCaseworker,
				Permissions:    f.caseworkerPerm,
				AutoAssignable: f.autoAssignable,
			},
			{
				RoleName:    roleSenior,
				Permissions: types.NewPermissionSet(types.PermissionRead, types.PermissionManage, types.PermissionAssign, types.PermissionCancel),
			},
			{
				RoleName:    roleJudge,
				Permissions: types.NewPermissionSet(types.PermissionRead),
			},
		},
	}, nil
}

type fakeReporter struct {
	results chan *model.OperationResult
}

func newFakeReporter() *fakeReporter {
	return &fakeReporter{results: make(chan *model.OperationResult, 8)}
}

func (f *fakeReporter) Report(ctx context.Context, result *model.OperationResult) error {
	f.results <- result
	return nil
}

func asUser(actor types.ActorID) context.Context {
	return auth.ContextWithToken(context.Background(), auth.NewToken(actor, string(actor)))
}

func asService() context.Context {
	return auth.ContextWithToken(context.Background(), auth.NewServiceToken("case-event-handler"))
}
