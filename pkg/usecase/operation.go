package usecase

import (
	"context"
	"errors"
	"slices"
	"sync"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"github.com/secmon-lab/docket/pkg/domain/interfaces"
	"github.com/secmon-lab/docket/pkg/domain/model"
	"github.com/secmon-lab/docket/pkg/domain/types"
	"github.com/secmon-lab/docket/pkg/utils/async"
	"github.com/secmon-lab/docket/pkg/utils/errutil"
	"github.com/secmon-lab/docket/pkg/utils/logging"
	"golang.org/x/sync/errgroup"
)

type OperationUseCase struct {
	repo     interfaces.Repository
	authz    *authorizer
	config   interfaces.TaskConfigurationProvider
	reporter interfaces.OperationReporter
	now      func() time.Time
}

func NewOperationUseCase(repo interfaces.Repository, authz *authorizer, config interfaces.TaskConfigurationProvider, reporter interfaces.OperationReporter, now func() time.Time) *OperationUseCase {
	return &OperationUseCase{
		repo:     repo,
		authz:    authz,
		config:   config,
		reporter: reporter,
		now:      now,
	}
}

type outcome int

const (
	outcomeSucceeded outcome = iota
	outcomeSkipped
)

// taskFunc applies one operation to one task
type taskFunc func(ctx context.Context, task *model.Task) (outcome, error)

// PerformOperation runs a batch operation. Only services may run operations.
func (uc *OperationUseCase) PerformOperation(ctx context.Context, op *model.TaskOperation) (*model.OperationResult, error) {
	if err := uc.requireService(ctx); err != nil {
		return nil, err
	}
	if op == nil {
		return nil, goerr.Wrap(model.ErrConstraintViolation, "operation is required")
	}
	op.Normalize()
	if err := op.Validate(); err != nil {
		return nil, err
	}

	f, err := parseFilters(op.Filters)
	if err != nil {
		return nil, err
	}

	ctx = logging.With(ctx, logging.From(ctx).With("run_id", op.RunID, "operation", op.Name))

	var result *model.OperationResult
	switch op.Name {
	case types.OperationMarkToReconfigure:
		result, err = uc.markToReconfigure(ctx, op, f)
	case types.OperationExecuteReconfigure:
		result, err = uc.executeReconfigure(ctx, op, f)
	case types.OperationUpdateSearchIndex:
		result, err = uc.updateSearchIndex(ctx, op, f)
	default:
		return nil, goerr.Wrap(model.ErrConstraintViolation, "unknown operation", goerr.V(model.OperationKey, op.Name))
	}
	if err != nil {
		return nil, err
	}

	logging.From(ctx).Info("operation finished",
		"matched", result.Matched,
		"succeeded", result.Succeeded,
		"skipped", result.Skipped,
		"failed", result.Failed,
		"duration", result.FinishedAt.Sub(result.StartedAt))

	if uc.reporter != nil {
		reported := *result
		async.Dispatch(ctx, func(ctx context.Context) error {
			if err := uc.reporter.Report(ctx, &reported); err != nil {
				return goerr.Wrap(err, "failed to report operation", goerr.V(RunIDKey, reported.RunID))
			}
			return nil
		})
	}

	return result, nil
}

// DeleteByCase removes every task of a case. Deleting a case without tasks succeeds.
func (uc *OperationUseCase) DeleteByCase(ctx context.Context, caseID types.CaseID) (int, error) {
	if err := uc.requireService(ctx); err != nil {
		return 0, err
	}
	if err := caseID.Validate(); err != nil {
		return 0, goerr.Wrap(errors.Join(model.ErrConstraintViolation, err), "invalid case id")
	}

	n, err := uc.repo.Task().DeleteByCaseID(ctx, caseID)
	if err != nil {
		return 0, goerr.Wrap(err, "failed to delete tasks of case", goerr.V(model.CaseIDKey, caseID))
	}
	logging.From(ctx).Info("tasks of case deleted", "case_id", caseID, "deleted", n)
	return n, nil
}

func (uc *OperationUseCase) requireService(ctx context.Context) error {
	token, err := uc.authz.identify(ctx)
	if err != nil {
		return err
	}
	if !token.IsService() {
		return goerr.Wrap(model.ErrForbidden, "operation requires a service caller", goerr.V(model.ActorIDKey, token.Sub))
	}
	return nil
}

func (uc *OperationUseCase) markToReconfigure(ctx context.Context, op *model.TaskOperation, f *operationFilter) (*model.OperationResult, error) {
	if len(f.caseIDs) == 0 {
		return nil, goerr.Wrap(model.ErrConstraintViolation, "marking requires a case_id filter", goerr.V(model.OperationKey, op.Name))
	}

	opts := append(f.options(activeStates(f.states)...), interfaces.WithReconfigureMarked(false))
	return uc.run(ctx, op, opts, func(ctx context.Context, task *model.Task) (outcome, error) {
		next := task.Clone()
		if !next.MarkForReconfiguration(uc.now()) {
			return outcomeSkipped, nil
		}
		if _, err := uc.repo.Task().Save(ctx, next); err != nil {
			return 0, err
		}
		return outcomeSucceeded, nil
	})
}

func (uc *OperationUseCase) executeReconfigure(ctx context.Context, op *model.TaskOperation, f *operationFilter) (*model.OperationResult, error) {
	// markers set after the run started are left for the next run
	cutoff := uc.now()
	if f.before != nil && f.before.Before(cutoff) {
		cutoff = *f.before
	}

	opts := f.options(activeStates(f.states)...)
	if f.after != nil {
		opts = append(opts, interfaces.WithRequestedAfter(*f.after))
	}
	opts = append(opts, interfaces.WithRequestedBefore(cutoff))
	return uc.run(ctx, op, opts, func(ctx context.Context, candidate *model.Task) (outcome, error) {
		task, err := uc.repo.Task().Get(ctx, candidate.ID)
		if err != nil {
			if errors.Is(err, model.ErrNotFound) {
				return outcomeSkipped, nil
			}
			return 0, err
		}
		if !task.IsReconfigurationDue(cutoff) {
			return outcomeSkipped, nil
		}

		now := uc.now()
		cfg, err := evaluateConfiguration(ctx, uc.config, task, now)
		if err != nil {
			return 0, err
		}

		next := task.Clone()
		if err := next.Reconfigure(now, cutoff, cfg); err != nil {
			return 0, err
		}
		if err := uc.recheckAssignee(ctx, now, next); err != nil {
			return 0, err
		}

		if _, err := uc.repo.Task().Save(ctx, next); err != nil {
			return 0, err
		}
		return outcomeSucceeded, nil
	})
}

// recheckAssignee returns the task to the pool when the assignee lost the right
// to work it under the new permissions, then tries auto-assignment
func (uc *OperationUseCase) recheckAssignee(ctx context.Context, now time.Time, task *model.Task) error {
	if task.State == types.TaskStateAssigned {
		ok, err := uc.authz.canWork(ctx, task.Assignee, task)
		if err != nil {
			return err
		}
		if ok {
			return nil
		}
		logging.From(ctx).Info("assignee lost access after reconfiguration",
			"task_id", task.ID, "assignee", task.Assignee)
		if err := task.Unassign(now, model.SystemActor, model.TaskActionUnassign); err != nil {
			return err
		}
	}

	if _, err := uc.authz.autoAssign(ctx, task); err != nil {
		errutil.Warn(ctx, err, "auto-assignment failed", "task_id", task.ID)
	}
	return nil
}

func (uc *OperationUseCase) updateSearchIndex(ctx context.Context, op *model.TaskOperation, f *operationFilter) (*model.OperationResult, error) {
	opts := append(f.options(f.states...), f.timeOptions()...)
	opts = append(opts, interfaces.WithIndexed(false))
	return uc.run(ctx, op, opts, func(ctx context.Context, task *model.Task) (outcome, error) {
		next := task.Clone()
		if !next.MarkIndexed(uc.now()) {
			return outcomeSkipped, nil
		}
		if _, err := uc.repo.Task().Save(ctx, next); err != nil {
			return 0, err
		}
		return outcomeSucceeded, nil
	})
}

// run finds the matching tasks and applies fn to each with at most
// MaxConcurrency tasks in flight. A version conflict means a concurrent run
// already handled the task. Tasks not reached before the timeout are counted
// as failed and keep their state.
func (uc *OperationUseCase) run(ctx context.Context, op *model.TaskOperation, opts []interfaces.FindTaskOption, fn taskFunc) (*model.OperationResult, error) {
	result := &model.OperationResult{
		RunID:     op.RunID,
		Operation: op.Name,
		StartedAt: uc.now(),
	}

	tasks, err := uc.repo.Task().Find(ctx, opts...)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to find tasks for operation", goerr.V(RunIDKey, op.RunID))
	}
	tasks = uniqueTasks(tasks)
	result.Matched = len(tasks)

	ctx, cancel := context.WithTimeout(ctx, op.Timeout())
	defer cancel()

	var (
		mu sync.Mutex
		eg errgroup.Group
	)
	eg.SetLimit(op.MaxConcurrency)

	record := func(task *model.Task, out outcome, err error) {
		mu.Lock()
		defer mu.Unlock()
		switch {
		case err == nil && out == outcomeSkipped:
			result.Skipped++
		case err == nil:
			result.Succeeded++
		case errors.Is(err, model.ErrVersionConflict):
			result.Skipped++
		default:
			result.Failed++
			result.FailedTaskIDs = append(result.FailedTaskIDs, task.ID)
		}
	}

	for _, task := range tasks {
		eg.Go(func() error {
			if err := ctx.Err(); err != nil {
				record(task, 0, goerr.Wrap(err, "operation timed out before task was processed"))
				return nil
			}
			out, err := fn(ctx, task)
			if err != nil && !errors.Is(err, model.ErrVersionConflict) {
				errutil.Warn(ctx, err, "task operation failed", "task_id", task.ID)
			}
			record(task, out, err)
			return nil
		})
	}
	_ = eg.Wait()

	if ctx.Err() != nil {
		logging.From(ctx).Warn("operation hit its timeout", "timeout", op.Timeout())
	}

	slices.Sort(result.FailedTaskIDs)
	result.FinishedAt = uc.now()
	return result, nil
}

func uniqueTasks(tasks []*model.Task) []*model.Task {
	seen := make(map[types.TaskID]struct{}, len(tasks))
	out := make([]*model.Task, 0, len(tasks))
	for _, t := range tasks {
		if _, ok := seen[t.ID]; ok {
			continue
		}
		seen[t.ID] = struct{}{}
		out = append(out, t)
	}
	return out
}

// activeStates narrows requested states to the ones reconfiguration applies to
func activeStates(requested []types.TaskState) []types.TaskState {
	active := []types.TaskState{types.TaskStateUnassigned, types.TaskStateAssigned}
	if len(requested) == 0 {
		return active
	}
	var out []types.TaskState
	for _, s := range requested {
		if s.IsActive() {
			out = append(out, s)
		}
	}
	if len(out) == 0 {
		// nothing requested is active; match no state at all
		return []types.TaskState{types.TaskStateUnconfigured}
	}
	return out
}

// operationFilter is the parsed form of operation filters
type operationFilter struct {
	caseIDs []types.CaseID
	states  []types.TaskState
	before  *time.Time
	after   *time.Time
}

func parseFilters(filters []model.TaskFilter) (*operationFilter, error) {
	f := &operationFilter{}
	for _, tf := range filters {
		switch tf.Key {
		case types.FilterKeyCaseID:
			for _, v := range tf.Values {
				f.caseIDs = append(f.caseIDs, types.CaseID(v))
			}
		case types.FilterKeyState:
			for _, v := range tf.Values {
				s, err := types.ParseTaskState(v)
				if err != nil {
					return nil, goerr.Wrap(errors.Join(model.ErrConstraintViolation, err), "invalid state filter")
				}
				f.states = append(f.states, s)
			}
		case types.FilterKeyReconfigureRequestTime:
			ts, err := tf.Time()
			if err != nil {
				return nil, err
			}
			if tf.Operator == types.FilterOperatorBefore {
				f.before = &ts
			} else {
				f.after = &ts
			}
		}
	}
	return f, nil
}

func (f *operationFilter) options(states ...types.TaskState) []interfaces.FindTaskOption {
	var opts []interfaces.FindTaskOption
	if len(f.caseIDs) > 0 {
		opts = append(opts, interfaces.WithCaseIDs(f.caseIDs...))
	}
	if len(states) > 0 {
		opts = append(opts, interfaces.WithStates(states...))
	}
	return opts
}

// timeOptions restricts to marked tasks within the requested marker window
func (f *operationFilter) timeOptions() []interfaces.FindTaskOption {
	var opts []interfaces.FindTaskOption
	if f.before != nil {
		opts = append(opts, interfaces.WithRequestedBefore(*f.before))
	}
	if f.after != nil {
		opts = append(opts, interfaces.WithRequestedAfter(*f.after))
	}
	return opts
}
