package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"github.com/secmon-lab/docket/pkg/domain/interfaces"
	"github.com/secmon-lab/docket/pkg/domain/model"
	"github.com/secmon-lab/docket/pkg/domain/types"
)

type taskRepository struct {
	mu    sync.RWMutex
	tasks map[types.TaskID]*model.Task
}

func newTaskRepository() *taskRepository {
	return &taskRepository{
		tasks: make(map[types.TaskID]*model.Task),
	}
}

func (r *taskRepository) Create(ctx context.Context, task *model.Task) (*model.Task, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.tasks[task.ID]; exists {
		return nil, goerr.Wrap(model.ErrVersionConflict, "task already exists", goerr.V(model.TaskIDKey, task.ID))
	}

	created := task.Clone()
	created.Version = 1
	if created.Created.IsZero() {
		created.Created = time.Now().UTC()
	}
	r.tasks[created.ID] = created
	return created.Clone(), nil
}

func (r *taskRepository) Get(ctx context.Context, id types.TaskID) (*model.Task, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	t, exists := r.tasks[id]
	if !exists {
		return nil, goerr.Wrap(model.ErrNotFound, "task not found", goerr.V(model.TaskIDKey, id))
	}
	return t.Clone(), nil
}

func (r *taskRepository) Save(ctx context.Context, task *model.Task) (*model.Task, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	existing, exists := r.tasks[task.ID]
	if !exists {
		return nil, goerr.Wrap(model.ErrNotFound, "task not found", goerr.V(model.TaskIDKey, task.ID))
	}
	if existing.Version != task.Version {
		return nil, goerr.Wrap(model.ErrVersionConflict, "task was modified concurrently",
			goerr.V(model.TaskIDKey, task.ID),
			goerr.V(model.VersionKey, task.Version),
			goerr.V("stored_version", existing.Version))
	}

	saved := task.Clone()
	saved.Version = existing.Version + 1
	saved.Created = existing.Created
	r.tasks[saved.ID] = saved
	return saved.Clone(), nil
}

func (r *taskRepository) Find(ctx context.Context, opts ...interfaces.FindTaskOption) ([]*model.Task, error) {
	cfg := interfaces.BuildFindTaskConfig(opts...)

	r.mu.RLock()
	defer r.mu.RUnlock()

	var tasks []*model.Task
	for _, t := range r.tasks {
		if cfg.Match(t) {
			tasks = append(tasks, t.Clone())
		}
	}
	sortByID(tasks)

	if cfg.Limit() > 0 && len(tasks) > cfg.Limit() {
		tasks = tasks[:cfg.Limit()]
	}
	return tasks, nil
}

func (r *taskRepository) FindByCaseID(ctx context.Context, caseID types.CaseID) ([]*model.Task, error) {
	return r.Find(ctx, interfaces.WithCaseIDs(caseID))
}

func (r *taskRepository) DeleteByCaseID(ctx context.Context, caseID types.CaseID) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	deleted := 0
	for id, t := range r.tasks {
		if t.CaseID == caseID {
			delete(r.tasks, id)
			deleted++
		}
	}
	return deleted, nil
}

func sortByID(tasks []*model.Task) {
	sort.Slice(tasks, func(i, j int) bool {
		return tasks[i].ID < tasks[j].ID
	})
}
