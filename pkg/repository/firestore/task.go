package firestore

import (
	"context"
	"errors"
	"sort"
	"time"

	"cloud.google.com/go/firestore"
	"github.com/m-mizutani/goerr/v2"
	"github.com/secmon-lab/docket/pkg/domain/interfaces"
	"github.com/secmon-lab/docket/pkg/domain/model"
	"github.com/secmon-lab/docket/pkg/domain/types"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// maxInValues is the Firestore limit of values in an "in" filter
const maxInValues = 30

type taskRepository struct {
	client           *firestore.Client
	collectionPrefix string
}

func newTaskRepository(client *firestore.Client) *taskRepository {
	return &taskRepository{
		client:           client,
		collectionPrefix: "",
	}
}

func (r *taskRepository) tasksCollection() string {
	if r.collectionPrefix != "" {
		return r.collectionPrefix + "_tasks"
	}
	return "tasks"
}

type rolePermissionDoc struct {
	RoleName           string   `firestore:"role_name"`
	Permissions        []string `firestore:"permissions"`
	Authorizations     []string `firestore:"authorizations"`
	RoleCategory       string   `firestore:"role_category"`
	AutoAssignable     bool     `firestore:"auto_assignable"`
	AssignmentPriority int      `firestore:"assignment_priority"`
}

type taskDoc struct {
	ID                      string              `firestore:"id"`
	Name                    string              `firestore:"name"`
	TaskType                string              `firestore:"task_type"`
	State                   string              `firestore:"state"`
	TerminationReason       string              `firestore:"termination_reason"`
	Jurisdiction            string              `firestore:"jurisdiction"`
	Region                  string              `firestore:"region"`
	Location                string              `firestore:"location"`
	CaseID                  string              `firestore:"case_id"`
	CaseTypeID              string              `firestore:"case_type_id"`
	CaseCategory            string              `firestore:"case_category"`
	WorkType                string              `firestore:"work_type"`
	RoleCategory            string              `firestore:"role_category"`
	SecurityClassification  string              `firestore:"security_classification"`
	DueDateTime             *time.Time          `firestore:"due_date_time"`
	PriorityDate            *time.Time          `firestore:"priority_date"`
	MajorPriority           int                 `firestore:"major_priority"`
	MinorPriority           int                 `firestore:"minor_priority"`
	Assignee                string              `firestore:"assignee"`
	AutoAssigned            bool                `firestore:"auto_assigned"`
	NumberOfReassignments   int                 `firestore:"number_of_reassignments"`
	ReconfigureRequestTime  *time.Time          `firestore:"reconfigure_request_time"`
	LastReconfigurationTime *time.Time          `firestore:"last_reconfiguration_time"`
	Indexed                 bool                `firestore:"indexed"`
	AdditionalProperties    map[string]string   `firestore:"additional_properties"`
	RolePermissions         []rolePermissionDoc `firestore:"role_permissions"`
	Version                 int64               `firestore:"version"`
	Created                 time.Time           `firestore:"created"`
	LastUpdatedTimestamp    time.Time           `firestore:"last_updated_timestamp"`
	LastUpdatedUser         string              `firestore:"last_updated_user"`
	LastUpdatedAction       string              `firestore:"last_updated_action"`
}

func toDoc(t *model.Task) *taskDoc {
	perms := make([]rolePermissionDoc, len(t.RolePermissions))
	for i, p := range t.RolePermissions {
		names := make([]string, 0, 8)
		for _, pt := range p.Permissions.Types() {
			names = append(names, pt.String())
		}
		perms[i] = rolePermissionDoc{
			RoleName:           p.RoleName,
			Permissions:        names,
			Authorizations:     p.Authorizations,
			RoleCategory:       string(p.RoleCategory),
			AutoAssignable:     p.AutoAssignable,
			AssignmentPriority: p.AssignmentPriority,
		}
	}

	return &taskDoc{
		ID:                      string(t.ID),
		Name:                    t.Name,
		TaskType:                t.TaskType,
		State:                   string(t.State),
		TerminationReason:       string(t.TerminationReason),
		Jurisdiction:            t.Jurisdiction,
		Region:                  t.Region,
		Location:                t.Location,
		CaseID:                  string(t.CaseID),
		CaseTypeID:              t.CaseTypeID,
		CaseCategory:            t.CaseCategory,
		WorkType:                t.WorkType,
		RoleCategory:            string(t.RoleCategory),
		SecurityClassification:  string(t.SecurityClassification),
		DueDateTime:             t.DueDateTime,
		PriorityDate:            t.PriorityDate,
		MajorPriority:           t.MajorPriority,
		MinorPriority:           t.MinorPriority,
		Assignee:                string(t.Assignee),
		AutoAssigned:            t.AutoAssigned,
		NumberOfReassignments:   t.NumberOfReassignments,
		ReconfigureRequestTime:  t.ReconfigureRequestTime,
		LastReconfigurationTime: t.LastReconfigurationTime,
		Indexed:                 t.Indexed,
		AdditionalProperties:    t.AdditionalProperties,
		RolePermissions:         perms,
		Version:                 t.Version,
		Created:                 t.Created,
		LastUpdatedTimestamp:    t.LastUpdatedTimestamp,
		LastUpdatedUser:         string(t.LastUpdatedUser),
		LastUpdatedAction:       string(t.LastUpdatedAction),
	}
}

func (d *taskDoc) toModel() *model.Task {
	perms := make([]model.TaskRolePermission, len(d.RolePermissions))
	for i, p := range d.RolePermissions {
		var set types.PermissionSet
		for _, name := range p.Permissions {
			if pt, err := types.ParsePermissionType(name); err == nil {
				set = set.Union(types.NewPermissionSet(pt))
			}
		}
		perms[i] = model.TaskRolePermission{
			RoleName:           p.RoleName,
			Permissions:        set,
			Authorizations:     p.Authorizations,
			RoleCategory:       types.RoleCategory(p.RoleCategory),
			AutoAssignable:     p.AutoAssignable,
			AssignmentPriority: p.AssignmentPriority,
		}
	}

	return &model.Task{
		ID:                      types.TaskID(d.ID),
		Name:                    d.Name,
		TaskType:                d.TaskType,
		State:                   types.TaskState(d.State),
		TerminationReason:       types.TerminationReason(d.TerminationReason),
		Jurisdiction:            d.Jurisdiction,
		Region:                  d.Region,
		Location:                d.Location,
		CaseID:                  types.CaseID(d.CaseID),
		CaseTypeID:              d.CaseTypeID,
		CaseCategory:            d.CaseCategory,
		WorkType:                d.WorkType,
		RoleCategory:            types.RoleCategory(d.RoleCategory),
		SecurityClassification:  types.SecurityClassification(d.SecurityClassification),
		DueDateTime:             utc(d.DueDateTime),
		PriorityDate:            utc(d.PriorityDate),
		MajorPriority:           d.MajorPriority,
		MinorPriority:           d.MinorPriority,
		Assignee:                types.ActorID(d.Assignee),
		AutoAssigned:            d.AutoAssigned,
		NumberOfReassignments:   d.NumberOfReassignments,
		ReconfigureRequestTime:  utc(d.ReconfigureRequestTime),
		LastReconfigurationTime: utc(d.LastReconfigurationTime),
		Indexed:                 d.Indexed,
		AdditionalProperties:    d.AdditionalProperties,
		RolePermissions:         perms,
		Version:                 d.Version,
		Created:                 d.Created.UTC(),
		LastUpdatedTimestamp:    d.LastUpdatedTimestamp.UTC(),
		LastUpdatedUser:         types.ActorID(d.LastUpdatedUser),
		LastUpdatedAction:       model.TaskAction(d.LastUpdatedAction),
	}
}

// utc normalises timestamps read back from Firestore, which returns local time
func utc(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := t.UTC()
	return &v
}

func storageError(err error, msg string, opts ...goerr.Option) error {
	switch status.Code(err) {
	case codes.Unavailable, codes.DeadlineExceeded, codes.ResourceExhausted:
		return goerr.Wrap(errors.Join(model.ErrStorageUnavailable, err), msg, opts...)
	default:
		return goerr.Wrap(err, msg, opts...)
	}
}

func (r *taskRepository) Create(ctx context.Context, task *model.Task) (*model.Task, error) {
	created := task.Clone()
	created.Version = 1
	if created.Created.IsZero() {
		created.Created = time.Now().UTC()
	}

	docRef := r.client.Collection(r.tasksCollection()).Doc(string(created.ID))
	if _, err := docRef.Create(ctx, toDoc(created)); err != nil {
		if status.Code(err) == codes.AlreadyExists {
			return nil, goerr.Wrap(model.ErrVersionConflict, "task already exists", goerr.V(model.TaskIDKey, created.ID))
		}
		return nil, storageError(err, "failed to create task", goerr.V(model.TaskIDKey, created.ID))
	}

	return created, nil
}

func (r *taskRepository) Get(ctx context.Context, id types.TaskID) (*model.Task, error) {
	docSnap, err := r.client.Collection(r.tasksCollection()).Doc(string(id)).Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return nil, goerr.Wrap(model.ErrNotFound, "task not found", goerr.V(model.TaskIDKey, id))
		}
		return nil, storageError(err, "failed to get task", goerr.V(model.TaskIDKey, id))
	}

	var d taskDoc
	if err := docSnap.DataTo(&d); err != nil {
		return nil, goerr.Wrap(err, "failed to decode task", goerr.V(model.TaskIDKey, id))
	}
	return d.toModel(), nil
}

func (r *taskRepository) Save(ctx context.Context, task *model.Task) (*model.Task, error) {
	docRef := r.client.Collection(r.tasksCollection()).Doc(string(task.ID))
	saved := task.Clone()
	saved.Version = task.Version + 1

	err := r.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		docSnap, err := tx.Get(docRef)
		if err != nil {
			if status.Code(err) == codes.NotFound {
				return goerr.Wrap(model.ErrNotFound, "task not found", goerr.V(model.TaskIDKey, task.ID))
			}
			return storageError(err, "failed to get task", goerr.V(model.TaskIDKey, task.ID))
		}

		stored, err := docSnap.DataAt("version")
		if err != nil {
			return goerr.Wrap(err, "failed to get task version", goerr.V(model.TaskIDKey, task.ID))
		}
		if v, ok := stored.(int64); !ok || v != task.Version {
			return goerr.Wrap(model.ErrVersionConflict, "task was modified concurrently",
				goerr.V(model.TaskIDKey, task.ID), goerr.V(model.VersionKey, task.Version), goerr.V("stored_version", stored))
		}

		return tx.Set(docRef, toDoc(saved))
	})
	if err != nil {
		if errors.Is(err, model.ErrNotFound) || errors.Is(err, model.ErrVersionConflict) {
			return nil, err
		}
		return nil, storageError(err, "failed to save task", goerr.V(model.TaskIDKey, task.ID))
	}

	return saved, nil
}

func (r *taskRepository) Find(ctx context.Context, opts ...interfaces.FindTaskOption) ([]*model.Task, error) {
	cfg := interfaces.BuildFindTaskConfig(opts...)

	// Firestore cannot combine every predicate in one query, so the most selective
	// one is pushed down and the rest is applied with cfg.Match.
	query := r.client.Collection(r.tasksCollection()).Query
	switch {
	case len(cfg.CaseIDs()) > 0 && len(cfg.CaseIDs()) <= maxInValues:
		ids := make([]string, len(cfg.CaseIDs()))
		for i, id := range cfg.CaseIDs() {
			ids[i] = string(id)
		}
		query = query.Where("case_id", "in", ids)
	case cfg.RequestedBefore() != nil:
		query = query.Where("reconfigure_request_time", "<=", *cfg.RequestedBefore())
	case cfg.RequestedAfter() != nil:
		query = query.Where("reconfigure_request_time", ">=", *cfg.RequestedAfter())
	case len(cfg.States()) > 0 && len(cfg.States()) <= maxInValues:
		states := make([]string, len(cfg.States()))
		for i, s := range cfg.States() {
			states[i] = string(s)
		}
		query = query.Where("state", "in", states)
	case cfg.Indexed() != nil:
		query = query.Where("indexed", "==", *cfg.Indexed())
	}

	iter := query.Documents(ctx)
	defer iter.Stop()

	var tasks []*model.Task
	for {
		docSnap, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, storageError(err, "failed to iterate tasks")
		}

		var d taskDoc
		if err := docSnap.DataTo(&d); err != nil {
			return nil, goerr.Wrap(err, "failed to decode task", goerr.V("doc_id", docSnap.Ref.ID))
		}
		t := d.toModel()
		if cfg.Match(t) {
			tasks = append(tasks, t)
		}
	}

	sort.Slice(tasks, func(i, j int) bool {
		return tasks[i].ID < tasks[j].ID
	})
	if cfg.Limit() > 0 && len(tasks) > cfg.Limit() {
		tasks = tasks[:cfg.Limit()]
	}
	return tasks, nil
}

func (r *taskRepository) FindByCaseID(ctx context.Context, caseID types.CaseID) ([]*model.Task, error) {
	return r.Find(ctx, interfaces.WithCaseIDs(caseID))
}

func (r *taskRepository) DeleteByCaseID(ctx context.Context, caseID types.CaseID) (int, error) {
	const batchSize = 500
	totalDeleted := 0

	for {
		query := r.client.Collection(r.tasksCollection()).
			Where("case_id", "==", string(caseID)).
			Limit(batchSize)

		iter := query.Documents(ctx)
		bulkWriter := r.client.BulkWriter(ctx)
		count := 0

		for {
			doc, err := iter.Next()
			if err == iterator.Done {
				break
			}
			if err != nil {
				iter.Stop()
				bulkWriter.End()
				return totalDeleted, storageError(err, "failed to iterate tasks for deletion", goerr.V(model.CaseIDKey, caseID))
			}

			if _, err := bulkWriter.Delete(doc.Ref); err != nil {
				iter.Stop()
				bulkWriter.End()
				return totalDeleted, storageError(err, "failed to delete task", goerr.V(model.CaseIDKey, caseID))
			}
			count++
		}
		iter.Stop()
		bulkWriter.End()

		if count == 0 {
			break
		}
		totalDeleted += count

		if count < batchSize {
			break
		}
	}

	return totalDeleted, nil
}
