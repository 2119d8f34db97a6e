package usecase

import (
	"context"
	"errors"
	"slices"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"github.com/secmon-lab/docket/pkg/domain/access"
	"github.com/secmon-lab/docket/pkg/domain/interfaces"
	"github.com/secmon-lab/docket/pkg/domain/model"
	"github.com/secmon-lab/docket/pkg/domain/types"
	"github.com/secmon-lab/docket/pkg/utils/errutil"
	"github.com/secmon-lab/docket/pkg/utils/logging"
)

const (
	defaultSearchLimit = 50
	maxSearchLimit     = 500
)

type TaskUseCase struct {
	repo   interfaces.Repository
	authz  *authorizer
	engine interfaces.WorkflowEngine
	config interfaces.TaskConfigurationProvider
	now    func() time.Time
}

func NewTaskUseCase(repo interfaces.Repository, authz *authorizer, engine interfaces.WorkflowEngine, config interfaces.TaskConfigurationProvider, now func() time.Time) *TaskUseCase {
	return &TaskUseCase{
		repo:   repo,
		authz:  authz,
		engine: engine,
		config: config,
		now:    now,
	}
}

// InitiateTaskInput describes a task raised by a case event
type InitiateTaskInput struct {
	TaskID               types.TaskID // generated when empty
	TaskType             string
	Name                 string
	CaseID               types.CaseID
	Jurisdiction         string
	CaseTypeID           string
	DueDateTime          *time.Time
	AdditionalProperties map[string]string
}

func (in *InitiateTaskInput) validate() error {
	if in.TaskID != "" {
		if err := in.TaskID.Validate(); err != nil {
			return goerr.Wrap(errors.Join(model.ErrConstraintViolation, err), "invalid task id")
		}
	}
	if err := in.CaseID.Validate(); err != nil {
		return goerr.Wrap(errors.Join(model.ErrConstraintViolation, err), "invalid case id")
	}
	if in.TaskType == "" {
		return goerr.Wrap(model.ErrConstraintViolation, "task type is required", goerr.V(model.CaseIDKey, in.CaseID))
	}
	if in.Jurisdiction == "" {
		return goerr.Wrap(model.ErrConstraintViolation, "jurisdiction is required", goerr.V(model.CaseIDKey, in.CaseID))
	}
	if in.CaseTypeID == "" {
		return goerr.Wrap(model.ErrConstraintViolation, "case type is required", goerr.V(model.CaseIDKey, in.CaseID))
	}
	return nil
}

// InitiateTask creates a task and configures it straight away. A task that cannot
// be configured is not stored.
func (uc *TaskUseCase) InitiateTask(ctx context.Context, in InitiateTaskInput) (*model.Task, error) {
	token, err := uc.authz.identify(ctx)
	if err != nil {
		return nil, err
	}
	if err := in.validate(); err != nil {
		return nil, err
	}

	now := uc.now()
	task := &model.Task{
		ID:                     in.TaskID,
		Name:                   in.Name,
		TaskType:               in.TaskType,
		State:                  types.TaskStateUnconfigured,
		Jurisdiction:           in.Jurisdiction,
		CaseID:                 in.CaseID,
		CaseTypeID:             in.CaseTypeID,
		SecurityClassification: types.ClassificationPublic,
		DueDateTime:            in.DueDateTime,
		AdditionalProperties:   in.AdditionalProperties,
		Created:                now,
		LastUpdatedTimestamp:   now,
		LastUpdatedUser:        token.Sub,
		LastUpdatedAction:      model.TaskActionInitiate,
	}
	if task.ID == "" {
		task.ID = model.NewTaskID()
	}

	cfg, err := uc.evaluate(ctx, task, now)
	if err != nil {
		return nil, err
	}
	if err := task.Configure(now, cfg); err != nil {
		return nil, err
	}

	if _, err := uc.authz.autoAssign(ctx, task); err != nil {
		// the task stays in the pool and can still be claimed
		errutil.Warn(ctx, err, "auto-assignment failed", "task_id", task.ID)
	}

	created, err := uc.repo.Task().Create(ctx, task)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to create task", goerr.V(model.TaskIDKey, task.ID))
	}

	logging.From(ctx).Info("task initiated",
		"task_id", created.ID,
		"case_id", created.CaseID,
		"state", created.State,
		"assignee", created.Assignee)
	return created, nil
}

func (uc *TaskUseCase) evaluate(ctx context.Context, task *model.Task, now time.Time) (*model.TaskConfiguration, error) {
	return evaluateConfiguration(ctx, uc.config, task, now)
}

func evaluateConfiguration(ctx context.Context, provider interfaces.TaskConfigurationProvider, task *model.Task, now time.Time) (*model.TaskConfiguration, error) {
	if provider == nil {
		return nil, goerr.Wrap(model.ErrConfiguration, "no configuration provider", goerr.V(model.TaskIDKey, task.ID))
	}
	cfg, err := provider.EvaluateConfiguration(ctx, interfaces.ConfigurationRequest{
		TaskID:       task.ID,
		TaskType:     task.TaskType,
		Jurisdiction: task.Jurisdiction,
		CaseTypeID:   task.CaseTypeID,
		CaseID:       task.CaseID,
		Now:          now,
		EventParams:  task.AdditionalProperties,
	})
	if err != nil {
		if !errors.Is(err, model.ErrConfiguration) {
			err = errors.Join(model.ErrConfiguration, err)
		}
		return nil, goerr.Wrap(err, "failed to evaluate task configuration", goerr.V(model.TaskIDKey, task.ID))
	}
	return cfg, nil
}

// GetTask returns the task and the permissions the caller holds on it
func (uc *TaskUseCase) GetTask(ctx context.Context, id types.TaskID) (*model.Task, types.PermissionSet, error) {
	c, task, err := uc.load(ctx, id)
	if err != nil {
		return nil, 0, err
	}
	d, err := uc.authz.require(c, task, requireRead)
	if err != nil {
		return nil, 0, err
	}
	return task, d.Permissions, nil
}

// GetTaskRoles returns the permission snapshot of the task
func (uc *TaskUseCase) GetTaskRoles(ctx context.Context, id types.TaskID) ([]model.TaskRolePermission, error) {
	c, task, err := uc.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if _, err := uc.authz.require(c, task, requireRead); err != nil {
		return nil, err
	}
	return task.RolePermissions, nil
}

// ClaimTask assigns the task to the caller
func (uc *TaskUseCase) ClaimTask(ctx context.Context, id types.TaskID) (*model.Task, error) {
	c, task, err := uc.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if _, err := uc.authz.require(c, task, requireClaim); err != nil {
		return nil, err
	}
	if task.State == types.TaskStateAssigned {
		if task.Assignee == c.actor() {
			return task, nil
		}
		return nil, goerr.Wrap(model.ErrIllegalStateTransition, "task is already assigned",
			goerr.V(model.TaskIDKey, task.ID), goerr.V(AssigneeKey, task.Assignee))
	}

	next := task.Clone()
	if err := next.Assign(uc.now(), c.actor(), c.actor(), model.TaskActionClaim); err != nil {
		return nil, err
	}
	return uc.save(ctx, next)
}

// UnclaimTask returns an assigned task to the pool. The assignee may always do
// so; anybody else needs MANAGE.
func (uc *TaskUseCase) UnclaimTask(ctx context.Context, id types.TaskID) (*model.Task, error) {
	c, task, err := uc.load(ctx, id)
	if err != nil {
		return nil, err
	}
	req := requireManage
	if task.Assignee != "" && task.Assignee == c.actor() {
		req = requireRead
	}
	if _, err := uc.authz.require(c, task, req); err != nil {
		return nil, err
	}

	next := task.Clone()
	if err := next.Unassign(uc.now(), c.actor(), model.TaskActionUnclaim); err != nil {
		return nil, err
	}
	return uc.save(ctx, next)
}

// AssignTask gives the task to assignee, who must be able to work it
func (uc *TaskUseCase) AssignTask(ctx context.Context, id types.TaskID, assignee types.ActorID) (*model.Task, error) {
	if assignee == "" {
		return nil, goerr.Wrap(model.ErrConstraintViolation, "assignee is required", goerr.V(model.TaskIDKey, id))
	}
	c, task, err := uc.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if _, err := uc.authz.require(c, task, requireAssign); err != nil {
		return nil, err
	}

	ok, err := uc.authz.canWork(ctx, assignee, task)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, goerr.Wrap(model.ErrForbidden, "assignee cannot work the task",
			goerr.V(model.TaskIDKey, task.ID), goerr.V(AssigneeKey, assignee))
	}

	next := task.Clone()
	if err := next.Assign(uc.now(), c.actor(), assignee, model.TaskActionAssign); err != nil {
		return nil, err
	}
	return uc.save(ctx, next)
}

// CompleteTask completes the task after the workflow engine accepted the
// completion. When the engine refuses, the stored task is left as it was.
func (uc *TaskUseCase) CompleteTask(ctx context.Context, id types.TaskID) (*model.Task, error) {
	c, task, err := uc.load(ctx, id)
	if err != nil {
		return nil, err
	}
	req := requireCompleteOther
	if task.Assignee != "" && task.Assignee == c.actor() {
		req = requireCompleteOwn
	}
	if _, err := uc.authz.require(c, task, req); err != nil {
		return nil, err
	}

	next := task.Clone()
	if err := next.Complete(uc.now(), c.actor()); err != nil {
		return nil, err
	}

	if uc.engine != nil {
		if err := uc.engine.SignalComplete(ctx, task.ID); err != nil {
			return nil, goerr.Wrap(errors.Join(model.ErrTaskComplete, err), "workflow engine rejected completion",
				goerr.V(model.TaskIDKey, task.ID))
		}
	}
	return uc.save(ctx, next)
}

// CancelTask cancels the task and escalates the cancellation to the workflow
// engine. A process the engine no longer knows counts as cancelled.
func (uc *TaskUseCase) CancelTask(ctx context.Context, id types.TaskID, reason string) (*model.Task, error) {
	c, task, err := uc.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if _, err := uc.authz.require(c, task, requireCancel); err != nil {
		return nil, err
	}

	now := uc.now()
	next := task.Clone()
	if err := next.Cancel(now, c.actor()); err != nil {
		return nil, err
	}
	if err := next.Terminate(now, c.actor(), types.TerminationReasonCancelled); err != nil {
		return nil, err
	}

	if uc.engine != nil {
		if err := uc.engine.SignalCancel(ctx, task.ID, reason); err != nil {
			if !errors.Is(err, model.ErrNotFound) {
				return nil, goerr.Wrap(err, "failed to escalate cancellation", goerr.V(model.TaskIDKey, task.ID))
			}
			logging.From(ctx).Info("process already gone in workflow engine", "task_id", task.ID)
		}
	}
	return uc.save(ctx, next)
}

// TerminateTask ends the task without notifying the workflow engine. Services may
// always terminate; people need MANAGE.
func (uc *TaskUseCase) TerminateTask(ctx context.Context, id types.TaskID, reason types.TerminationReason) (*model.Task, error) {
	token, err := uc.authz.identify(ctx)
	if err != nil {
		return nil, err
	}

	var task *model.Task
	if token.IsService() {
		task, err = uc.get(ctx, id)
		if err != nil {
			return nil, err
		}
	} else {
		var c *caller
		c, task, err = uc.load(ctx, id)
		if err != nil {
			return nil, err
		}
		if _, err := uc.authz.require(c, task, requireManage); err != nil {
			return nil, err
		}
	}

	next := task.Clone()
	if err := next.Terminate(uc.now(), token.Sub, reason); err != nil {
		return nil, err
	}
	return uc.save(ctx, next)
}

// SearchTasksInput narrows a search. Empty fields do not restrict.
type SearchTasksInput struct {
	Jurisdictions []string
	CaseIDs       []types.CaseID
	States        []types.TaskState
	WorkTypes     []string
	Assignee      types.ActorID
	Offset        int
	Limit         int
}

type SearchTasksResult struct {
	Tasks []*model.Task
	Total int
}

// SearchTasks returns the tasks the caller can read. Restrictions derived from
// the caller's role assignments are pushed down to the repository; every
// candidate is then checked for READ before paging.
func (uc *TaskUseCase) SearchTasks(ctx context.Context, in SearchTasksInput) (*SearchTasksResult, error) {
	c, err := uc.authz.resolve(ctx)
	if err != nil {
		return nil, err
	}
	if in.Offset < 0 {
		return nil, goerr.Wrap(model.ErrConstraintViolation, "offset must not be negative", goerr.V("offset", in.Offset))
	}
	limit := in.Limit
	if limit <= 0 {
		limit = defaultSearchLimit
	}
	limit = min(limit, maxSearchLimit)

	sc := c.constraints
	if sc.IsEmpty() {
		return &SearchTasksResult{}, nil
	}

	jurisdictions := in.Jurisdictions
	if allowed, ok := sc.AllowedJurisdictions(); ok {
		jurisdictions = intersectOrAll(jurisdictions, allowed)
		if len(jurisdictions) == 0 {
			return &SearchTasksResult{}, nil
		}
	}

	var opts []interfaces.FindTaskOption
	if len(jurisdictions) > 0 {
		opts = append(opts, interfaces.WithJurisdictions(jurisdictions...))
	}
	if len(in.CaseIDs) > 0 {
		opts = append(opts, interfaces.WithCaseIDs(in.CaseIDs...))
	}
	if len(in.States) > 0 {
		opts = append(opts, interfaces.WithStates(in.States...))
	}

	candidates, err := uc.repo.Task().Find(ctx, opts...)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to search tasks")
	}

	visible := filterVisible(candidates, sc, in)
	result := &SearchTasksResult{Total: len(visible)}
	if in.Offset < len(visible) {
		end := min(in.Offset+limit, len(visible))
		result.Tasks = visible[in.Offset:end]
	}
	return result, nil
}

func filterVisible(candidates []*model.Task, sc *access.SearchConstraints, in SearchTasksInput) []*model.Task {
	highest := sc.HighestClassification()
	workTypes, restrictWork := sc.WorkTypes()

	var out []*model.Task
	for _, t := range candidates {
		if !highest.Covers(t.SecurityClassification) {
			continue
		}
		if restrictWork && !slices.Contains(workTypes, t.WorkType) {
			continue
		}
		if len(in.WorkTypes) > 0 && !slices.Contains(in.WorkTypes, t.WorkType) {
			continue
		}
		if in.Assignee != "" && t.Assignee != in.Assignee {
			continue
		}
		if !sc.Matches(t, requireRead) {
			continue
		}
		out = append(out, t)
	}
	return out
}

// intersectOrAll returns allowed when requested is empty, otherwise the values of
// requested that are also allowed
func intersectOrAll(requested, allowed []string) []string {
	if len(requested) == 0 {
		return allowed
	}
	var out []string
	for _, v := range requested {
		if slices.Contains(allowed, v) {
			out = append(out, v)
		}
	}
	return out
}

func (uc *TaskUseCase) get(ctx context.Context, id types.TaskID) (*model.Task, error) {
	task, err := uc.repo.Task().Get(ctx, id)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to get task", goerr.V(model.TaskIDKey, id))
	}
	return task, nil
}

// load resolves the caller and reads the task
func (uc *TaskUseCase) load(ctx context.Context, id types.TaskID) (*caller, *model.Task, error) {
	c, err := uc.authz.resolve(ctx)
	if err != nil {
		return nil, nil, err
	}
	task, err := uc.get(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	return c, task, nil
}

func (uc *TaskUseCase) save(ctx context.Context, task *model.Task) (*model.Task, error) {
	saved, err := uc.repo.Task().Save(ctx, task)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to save task",
			goerr.V(model.TaskIDKey, task.ID), goerr.V(model.VersionKey, task.Version))
	}
	logging.From(ctx).Info("task updated",
		"task_id", saved.ID,
		"action", saved.LastUpdatedAction,
		"state", saved.State,
		"actor", saved.LastUpdatedUser)
	return saved, nil
}
