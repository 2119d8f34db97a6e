package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"strings"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"github.com/secmon-lab/docket/pkg/domain/interfaces"
	"github.com/secmon-lab/docket/pkg/domain/model"
	"github.com/secmon-lab/docket/pkg/domain/types"
)

type taskRepository struct {
	db *sql.DB
}

// taskBody is the JSON document stored in tasks.body. Role permissions live in
// their own table.
type taskBody struct {
	ID                      types.TaskID                 `json:"id"`
	Name                    string                       `json:"name"`
	TaskType                string                       `json:"task_type"`
	State                   types.TaskState              `json:"state"`
	TerminationReason       types.TerminationReason      `json:"termination_reason,omitempty"`
	Jurisdiction            string                       `json:"jurisdiction"`
	Region                  string                       `json:"region,omitempty"`
	Location                string                       `json:"location,omitempty"`
	CaseID                  types.CaseID                 `json:"case_id"`
	CaseTypeID              string                       `json:"case_type_id"`
	CaseCategory            string                       `json:"case_category,omitempty"`
	WorkType                string                       `json:"work_type,omitempty"`
	RoleCategory            types.RoleCategory           `json:"role_category,omitempty"`
	SecurityClassification  types.SecurityClassification `json:"security_classification"`
	DueDateTime             *time.Time                   `json:"due_date_time,omitempty"`
	PriorityDate            *time.Time                   `json:"priority_date,omitempty"`
	MajorPriority           int                          `json:"major_priority"`
	MinorPriority           int                          `json:"minor_priority"`
	Assignee                types.ActorID                `json:"assignee,omitempty"`
	AutoAssigned            bool                         `json:"auto_assigned"`
	NumberOfReassignments   int                          `json:"number_of_reassignments"`
	ReconfigureRequestTime  *time.Time                   `json:"reconfigure_request_time,omitempty"`
	LastReconfigurationTime *time.Time                   `json:"last_reconfiguration_time,omitempty"`
	Indexed                 bool                         `json:"indexed"`
	AdditionalProperties    map[string]string            `json:"additional_properties,omitempty"`
	Created                 time.Time                    `json:"created"`
	LastUpdatedTimestamp    time.Time                    `json:"last_updated_timestamp"`
	LastUpdatedUser         types.ActorID                `json:"last_updated_user,omitempty"`
	LastUpdatedAction       model.TaskAction             `json:"last_updated_action,omitempty"`
}

func toBody(t *model.Task) taskBody {
	return taskBody{
		ID:                      t.ID,
		Name:                    t.Name,
		TaskType:                t.TaskType,
		State:                   t.State,
		TerminationReason:       t.TerminationReason,
		Jurisdiction:            t.Jurisdiction,
		Region:                  t.Region,
		Location:                t.Location,
		CaseID:                  t.CaseID,
		CaseTypeID:              t.CaseTypeID,
		CaseCategory:            t.CaseCategory,
		WorkType:                t.WorkType,
		RoleCategory:            t.RoleCategory,
		SecurityClassification:  t.SecurityClassification,
		DueDateTime:             t.DueDateTime,
		PriorityDate:            t.PriorityDate,
		MajorPriority:           t.MajorPriority,
		MinorPriority:           t.MinorPriority,
		Assignee:                t.Assignee,
		AutoAssigned:            t.AutoAssigned,
		NumberOfReassignments:   t.NumberOfReassignments,
		ReconfigureRequestTime:  t.ReconfigureRequestTime,
		LastReconfigurationTime: t.LastReconfigurationTime,
		Indexed:                 t.Indexed,
		AdditionalProperties:    t.AdditionalProperties,
		Created:                 t.Created,
		LastUpdatedTimestamp:    t.LastUpdatedTimestamp,
		LastUpdatedUser:         t.LastUpdatedUser,
		LastUpdatedAction:       t.LastUpdatedAction,
	}
}

func (b taskBody) toModel(version int64) *model.Task {
	return &model.Task{
		ID:                      b.ID,
		Name:                    b.Name,
		TaskType:                b.TaskType,
		State:                   b.State,
		TerminationReason:       b.TerminationReason,
		Jurisdiction:            b.Jurisdiction,
		Region:                  b.Region,
		Location:                b.Location,
		CaseID:                  b.CaseID,
		CaseTypeID:              b.CaseTypeID,
		CaseCategory:            b.CaseCategory,
		WorkType:                b.WorkType,
		RoleCategory:            b.RoleCategory,
		SecurityClassification:  b.SecurityClassification,
		DueDateTime:             b.DueDateTime,
		PriorityDate:            b.PriorityDate,
		MajorPriority:           b.MajorPriority,
		MinorPriority:           b.MinorPriority,
		Assignee:                b.Assignee,
		AutoAssigned:            b.AutoAssigned,
		NumberOfReassignments:   b.NumberOfReassignments,
		ReconfigureRequestTime:  b.ReconfigureRequestTime,
		LastReconfigurationTime: b.LastReconfigurationTime,
		Indexed:                 b.Indexed,
		AdditionalProperties:    b.AdditionalProperties,
		Version:                 version,
		Created:                 b.Created,
		LastUpdatedTimestamp:    b.LastUpdatedTimestamp,
		LastUpdatedUser:         b.LastUpdatedUser,
		LastUpdatedAction:       b.LastUpdatedAction,
	}
}

// unixNano keeps marker comparisons numeric so BEFORE/AFTER filters can be pushed down
func unixNano(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC().UnixNano()
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func (r *taskRepository) Create(ctx context.Context, task *model.Task) (*model.Task, error) {
	created := task.Clone()
	created.Version = 1
	if created.Created.IsZero() {
		created.Created = time.Now().UTC()
	}

	body, err := json.Marshal(toBody(created))
	if err != nil {
		return nil, goerr.Wrap(err, "failed to encode task", goerr.V(model.TaskIDKey, task.ID))
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, unavailable(err, "failed to begin transaction")
	}
	defer func() { _ = tx.Rollback() }()

	var exists int
	err = tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM tasks WHERE id = ?`, string(created.ID)).Scan(&exists)
	if err != nil {
		return nil, unavailable(err, "failed to check task", goerr.V(model.TaskIDKey, created.ID))
	}
	if exists > 0 {
		return nil, goerr.Wrap(model.ErrVersionConflict, "task already exists", goerr.V(model.TaskIDKey, created.ID))
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO tasks (id, case_id, jurisdiction, state, reconfigure_request_time, indexed, version, body)
		VALUES (?,?,?,?,?,?,?,?)`,
		string(created.ID), string(created.CaseID), created.Jurisdiction, string(created.State),
		unixNano(created.ReconfigureRequestTime), boolInt(created.Indexed), created.Version, string(body))
	if err != nil {
		return nil, unavailable(err, "failed to insert task", goerr.V(model.TaskIDKey, created.ID))
	}
	if err := insertPermissions(ctx, tx, created); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, unavailable(err, "failed to commit task", goerr.V(model.TaskIDKey, created.ID))
	}

	return created.Clone(), nil
}

func (r *taskRepository) Get(ctx context.Context, id types.TaskID) (*model.Task, error) {
	tasks, err := r.query(ctx, `SELECT id, version, body FROM tasks WHERE id = ?`, string(id))
	if err != nil {
		return nil, err
	}
	if len(tasks) == 0 {
		return nil, goerr.Wrap(model.ErrNotFound, "task not found", goerr.V(model.TaskIDKey, id))
	}
	return tasks[0], nil
}

func (r *taskRepository) Save(ctx context.Context, task *model.Task) (*model.Task, error) {
	saved := task.Clone()
	saved.Version = task.Version + 1

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, unavailable(err, "failed to begin transaction")
	}
	defer func() { _ = tx.Rollback() }()

	var stored int64
	err = tx.QueryRowContext(ctx, `SELECT version FROM tasks WHERE id = ?`, string(task.ID)).Scan(&stored)
	if err == sql.ErrNoRows {
		return nil, goerr.Wrap(model.ErrNotFound, "task not found", goerr.V(model.TaskIDKey, task.ID))
	}
	if err != nil {
		return nil, unavailable(err, "failed to read task version", goerr.V(model.TaskIDKey, task.ID))
	}
	if stored != task.Version {
		return nil, goerr.Wrap(model.ErrVersionConflict, "task was modified concurrently",
			goerr.V(model.TaskIDKey, task.ID), goerr.V(model.VersionKey, task.Version), goerr.V("stored_version", stored))
	}

	body, err := json.Marshal(toBody(saved))
	if err != nil {
		return nil, goerr.Wrap(err, "failed to encode task", goerr.V(model.TaskIDKey, task.ID))
	}

	res, err := tx.ExecContext(ctx, `
		UPDATE tasks SET case_id = ?, jurisdiction = ?, state = ?, reconfigure_request_time = ?,
			indexed = ?, version = ?, body = ?
		WHERE id = ? AND version = ?`,
		string(saved.CaseID), saved.Jurisdiction, string(saved.State), unixNano(saved.ReconfigureRequestTime),
		boolInt(saved.Indexed), saved.Version, string(body), string(saved.ID), task.Version)
	if err != nil {
		return nil, unavailable(err, "failed to update task", goerr.V(model.TaskIDKey, task.ID))
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, unavailable(err, "failed to read affected rows", goerr.V(model.TaskIDKey, task.ID))
	}
	if n == 0 {
		return nil, goerr.Wrap(model.ErrVersionConflict, "task was modified concurrently",
			goerr.V(model.TaskIDKey, task.ID), goerr.V(model.VersionKey, task.Version))
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM task_role_permissions WHERE task_id = ?`, string(saved.ID)); err != nil {
		return nil, unavailable(err, "failed to replace role permissions", goerr.V(model.TaskIDKey, task.ID))
	}
	if err := insertPermissions(ctx, tx, saved); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, unavailable(err, "failed to commit task", goerr.V(model.TaskIDKey, task.ID))
	}

	return saved.Clone(), nil
}

func (r *taskRepository) Find(ctx context.Context, opts ...interfaces.FindTaskOption) ([]*model.Task, error) {
	cfg := interfaces.BuildFindTaskConfig(opts...)

	var (
		where []string
		args  []any
	)
	if ids := cfg.CaseIDs(); len(ids) > 0 {
		where = append(where, "case_id IN ("+placeholders(len(ids))+")")
		for _, id := range ids {
			args = append(args, string(id))
		}
	}
	if states := cfg.States(); len(states) > 0 {
		where = append(where, "state IN ("+placeholders(len(states))+")")
		for _, s := range states {
			args = append(args, string(s))
		}
	}
	if js := cfg.Jurisdictions(); len(js) > 0 {
		where = append(where, "jurisdiction IN ("+placeholders(len(js))+")")
		for _, j := range js {
			args = append(args, j)
		}
	}
	if m := cfg.Marked(); m != nil {
		if *m {
			where = append(where, "reconfigure_request_time IS NOT NULL")
		} else {
			where = append(where, "reconfigure_request_time IS NULL")
		}
	}
	if b := cfg.RequestedBefore(); b != nil {
		where = append(where, "reconfigure_request_time <= ?")
		args = append(args, b.UnixNano())
	}
	if a := cfg.RequestedAfter(); a != nil {
		where = append(where, "reconfigure_request_time >= ?")
		args = append(args, a.UnixNano())
	}
	if ix := cfg.Indexed(); ix != nil {
		where = append(where, "indexed = ?")
		args = append(args, boolInt(*ix))
	}

	q := `SELECT id, version, body FROM tasks`
	if len(where) > 0 {
		q += " WHERE " + strings.Join(where, " AND ")
	}
	q += " ORDER BY id"
	if cfg.Limit() > 0 {
		q += " LIMIT ?"
		args = append(args, cfg.Limit())
	}

	return r.query(ctx, q, args...)
}

func (r *taskRepository) FindByCaseID(ctx context.Context, caseID types.CaseID) ([]*model.Task, error) {
	return r.Find(ctx, interfaces.WithCaseIDs(caseID))
}

func (r *taskRepository) DeleteByCaseID(ctx context.Context, caseID types.CaseID) (int, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, unavailable(err, "failed to begin transaction")
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx, `
		DELETE FROM task_role_permissions
		WHERE task_id IN (SELECT id FROM tasks WHERE case_id = ?)`, string(caseID))
	if err != nil {
		return 0, unavailable(err, "failed to delete role permissions", goerr.V(model.CaseIDKey, caseID))
	}
	res, err := tx.ExecContext(ctx, `DELETE FROM tasks WHERE case_id = ?`, string(caseID))
	if err != nil {
		return 0, unavailable(err, "failed to delete tasks", goerr.V(model.CaseIDKey, caseID))
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, unavailable(err, "failed to read affected rows", goerr.V(model.CaseIDKey, caseID))
	}
	if err := tx.Commit(); err != nil {
		return 0, unavailable(err, "failed to commit delete", goerr.V(model.CaseIDKey, caseID))
	}
	return int(n), nil
}

func (r *taskRepository) query(ctx context.Context, q string, args ...any) ([]*model.Task, error) {
	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, unavailable(err, "failed to query tasks")
	}
	defer rows.Close()

	var (
		tasks []*model.Task
		ids   []any
	)
	for rows.Next() {
		var (
			id      string
			version int64
			body    string
		)
		if err := rows.Scan(&id, &version, &body); err != nil {
			return nil, goerr.Wrap(err, "failed to scan task")
		}
		var b taskBody
		if err := json.Unmarshal([]byte(body), &b); err != nil {
			return nil, goerr.Wrap(err, "failed to decode task", goerr.V(model.TaskIDKey, id))
		}
		tasks = append(tasks, b.toModel(version))
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable(err, "failed to iterate tasks")
	}
	if len(tasks) == 0 {
		return nil, nil
	}

	perms, err := r.loadPermissions(ctx, ids)
	if err != nil {
		return nil, err
	}
	for _, t := range tasks {
		t.RolePermissions = perms[t.ID]
	}
	return tasks, nil
}

func (r *taskRepository) loadPermissions(ctx context.Context, ids []any) (map[types.TaskID][]model.TaskRolePermission, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT task_id, role_name, permissions, authorizations, role_category, auto_assignable, assignment_priority
		FROM task_role_permissions WHERE task_id IN (`+placeholders(len(ids))+`)
		ORDER BY task_id, role_name`, ids...)
	if err != nil {
		return nil, unavailable(err, "failed to query role permissions")
	}
	defer rows.Close()

	out := map[types.TaskID][]model.TaskRolePermission{}
	for rows.Next() {
		var (
			taskID         string
			p              model.TaskRolePermission
			perms          int64
			authorizations string
			roleCategory   string
			autoAssignable int
		)
		if err := rows.Scan(&taskID, &p.RoleName, &perms, &authorizations, &roleCategory, &autoAssignable, &p.AssignmentPriority); err != nil {
			return nil, goerr.Wrap(err, "failed to scan role permission")
		}
		if err := json.Unmarshal([]byte(authorizations), &p.Authorizations); err != nil {
			return nil, goerr.Wrap(err, "failed to decode authorizations", goerr.V(model.TaskIDKey, taskID))
		}
		p.Permissions = types.PermissionSet(perms)
		p.RoleCategory = types.RoleCategory(roleCategory)
		p.AutoAssignable = autoAssignable != 0
		out[types.TaskID(taskID)] = append(out[types.TaskID(taskID)], p)
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable(err, "failed to iterate role permissions")
	}
	return out, nil
}

func insertPermissions(ctx context.Context, tx *sql.Tx, t *model.Task) error {
	for _, p := range t.RolePermissions {
		auths := p.Authorizations
		if auths == nil {
			auths = []string{}
		}
		raw, err := json.Marshal(auths)
		if err != nil {
			return goerr.Wrap(err, "failed to encode authorizations", goerr.V(model.RoleNameKey, p.RoleName))
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO task_role_permissions
				(task_id, role_name, permissions, authorizations, role_category, auto_assignable, assignment_priority)
			VALUES (?,?,?,?,?,?,?)`,
			string(t.ID), p.RoleName, int64(p.Permissions), string(raw), string(p.RoleCategory), boolInt(p.AutoAssignable), p.AssignmentPriority)
		if err != nil {
			return unavailable(err, "failed to insert role permission",
				goerr.V(model.TaskIDKey, t.ID), goerr.V(model.RoleNameKey, p.RoleName))
		}
	}
	return nil
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}
