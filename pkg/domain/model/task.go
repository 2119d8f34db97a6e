package model

import (
	"maps"
	"slices"
	"time"

	"github.com/google/uuid"
	"github.com/m-mizutani/goerr/v2"
	"github.com/secmon-lab/docket/pkg/domain/types"
)

// TaskAction is recorded in LastUpdatedAction by every mutation
type TaskAction string

const (
	TaskActionInitiate               TaskAction = "Initiate"
	TaskActionConfigure              TaskAction = "Configure"
	TaskActionAutoAssign             TaskAction = "AutoAssign"
	TaskActionClaim                  TaskAction = "Claim"
	TaskActionUnclaim                TaskAction = "Unclaim"
	TaskActionAssign                 TaskAction = "Assign"
	TaskActionUnassign               TaskAction = "Unassign"
	TaskActionComplete               TaskAction = "Complete"
	TaskActionCancel                 TaskAction = "Cancel"
	TaskActionTerminate              TaskAction = "Terminate"
	TaskActionMarkForReconfiguration TaskAction = "MarkForReconfiguration"
	TaskActionReconfigure            TaskAction = "Reconfigure"
	TaskActionUpdateSearchIndex      TaskAction = "UpdateSearchIndex"
)

// SystemActor is recorded as LastUpdatedUser for mutations without a human caller
const SystemActor types.ActorID = "system"

// Task is a unit of case work
type Task struct {
	ID                      types.TaskID
	Name                    string
	TaskType                string
	State                   types.TaskState
	TerminationReason       types.TerminationReason
	Jurisdiction            string
	Region                  string
	Location                string
	CaseID                  types.CaseID
	CaseTypeID              string
	CaseCategory            string
	WorkType                string
	RoleCategory            types.RoleCategory
	SecurityClassification  types.SecurityClassification
	DueDateTime             *time.Time
	PriorityDate            *time.Time
	MajorPriority           int
	MinorPriority           int
	Assignee                types.ActorID // empty means unassigned
	AutoAssigned            bool
	NumberOfReassignments   int
	ReconfigureRequestTime  *time.Time
	LastReconfigurationTime *time.Time
	Indexed                 bool
	AdditionalProperties    map[string]string
	RolePermissions         []TaskRolePermission
	Version                 int64

	Created              time.Time
	LastUpdatedTimestamp time.Time
	LastUpdatedUser      types.ActorID
	LastUpdatedAction    TaskAction
}

// NewTaskID generates a fresh task identifier
func NewTaskID() types.TaskID {
	return types.TaskID(uuid.New().String())
}

// TaskRolePermission is the permission snapshot one role holds on one task
type TaskRolePermission struct {
	RoleName           string
	Permissions        types.PermissionSet
	Authorizations     []string
	RoleCategory       types.RoleCategory
	AutoAssignable     bool
	AssignmentPriority int
}

// Target returns the attributes the permission model matches role assignments against
func (t *Task) Target() TaskTarget {
	return TaskTarget{
		Jurisdiction:   t.Jurisdiction,
		CaseTypeID:     t.CaseTypeID,
		CaseID:         t.CaseID,
		Region:         t.Region,
		Location:       t.Location,
		WorkType:       t.WorkType,
		Classification: t.SecurityClassification,
	}
}

// TaskTarget is the scoping view of a task used for access decisions
type TaskTarget struct {
	Jurisdiction   string
	CaseTypeID     string
	CaseID         types.CaseID
	Region         string
	Location       string
	WorkType       string
	Classification types.SecurityClassification
}

// Clone returns a deep copy. State transitions are applied to clones so that a
// failed operation never leaves a half-mutated task behind.
func (t *Task) Clone() *Task {
	if t == nil {
		return nil
	}
	c := *t
	c.DueDateTime = cloneTime(t.DueDateTime)
	c.PriorityDate = cloneTime(t.PriorityDate)
	c.ReconfigureRequestTime = cloneTime(t.ReconfigureRequestTime)
	c.LastReconfigurationTime = cloneTime(t.LastReconfigurationTime)
	c.AdditionalProperties = maps.Clone(t.AdditionalProperties)
	if t.RolePermissions != nil {
		c.RolePermissions = make([]TaskRolePermission, len(t.RolePermissions))
		for i, p := range t.RolePermissions {
			p.Authorizations = slices.Clone(p.Authorizations)
			c.RolePermissions[i] = p
		}
	}
	return &c
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

// PermissionFor returns the snapshot row of the given role, if any
func (t *Task) PermissionFor(roleName string) (TaskRolePermission, bool) {
	for _, p := range t.RolePermissions {
		if p.RoleName == roleName {
			return p, true
		}
	}
	return TaskRolePermission{}, false
}

// IsReconfigurationDue reports whether the task is active and its marker is set at or before cutoff
func (t *Task) IsReconfigurationDue(cutoff time.Time) bool {
	return t.State.IsActive() && t.ReconfigureRequestTime != nil && !t.ReconfigureRequestTime.After(cutoff)
}

func (t *Task) stamp(now time.Time, actor types.ActorID, action TaskAction) {
	t.LastUpdatedTimestamp = now.UTC()
	t.LastUpdatedUser = actor
	t.LastUpdatedAction = action
}

// setState is the only place State is assigned after creation
func (t *Task) setState(next types.TaskState) error {
	if !t.State.CanTransitionTo(next) {
		return goerr.Wrap(ErrIllegalStateTransition, "transition not allowed",
			goerr.V(TaskIDKey, t.ID),
			goerr.V(FromStateKey, t.State),
			goerr.V(ToStateKey, next))
	}
	t.State = next
	if !next.IsActive() {
		t.ReconfigureRequestTime = nil
	}
	return nil
}

// Configure applies the first configuration to an UNCONFIGURED task. The task lands in
// ASSIGNED when the configuration names an assignee, otherwise UNASSIGNED.
func (t *Task) Configure(now time.Time, cfg *TaskConfiguration) error {
	if t.State != types.TaskStateUnconfigured {
		return goerr.Wrap(ErrIllegalStateTransition, "task is already configured",
			goerr.V(TaskIDKey, t.ID), goerr.V(FromStateKey, t.State))
	}
	if cfg == nil {
		return goerr.Wrap(ErrConfiguration, "configuration is missing", goerr.V(TaskIDKey, t.ID))
	}
	if err := cfg.Validate(); err != nil {
		return goerr.Wrap(err, "invalid task configuration", goerr.V(TaskIDKey, t.ID))
	}

	next := types.TaskStateUnassigned
	if cfg.Assignee != "" {
		next = types.TaskStateAssigned
	}
	if err := t.setState(next); err != nil {
		return err
	}
	cfg.applyTo(t)
	if cfg.Assignee != "" {
		t.Assignee = cfg.Assignee
		t.AutoAssigned = true
	}
	t.stamp(now, SystemActor, TaskActionConfigure)
	return nil
}

// Assign gives the task to assignee. Assigning to a different person while
// ASSIGNED counts as a reassignment.
func (t *Task) Assign(now time.Time, actor, assignee types.ActorID, action TaskAction) error {
	if assignee == "" {
		return goerr.Wrap(ErrConstraintViolation, "assignee is required", goerr.V(TaskIDKey, t.ID))
	}
	if t.State == types.TaskStateUnconfigured {
		return goerr.Wrap(ErrIllegalStateTransition, "task is not configured yet",
			goerr.V(TaskIDKey, t.ID), goerr.V(FromStateKey, t.State), goerr.V(ToStateKey, types.TaskStateAssigned))
	}
	prev := t.Assignee
	if err := t.setState(types.TaskStateAssigned); err != nil {
		return err
	}
	if prev != "" && prev != assignee {
		t.NumberOfReassignments++
	}
	t.Assignee = assignee
	t.AutoAssigned = action == TaskActionAutoAssign
	t.stamp(now, actor, action)
	return nil
}

// Unassign returns an ASSIGNED task to the pool
func (t *Task) Unassign(now time.Time, actor types.ActorID, action TaskAction) error {
	if err := t.setState(types.TaskStateUnassigned); err != nil {
		return err
	}
	t.Assignee = ""
	t.AutoAssigned = false
	t.stamp(now, actor, action)
	return nil
}

// Complete moves an ASSIGNED task to COMPLETED
func (t *Task) Complete(now time.Time, actor types.ActorID) error {
	if t.Assignee == "" {
		return goerr.Wrap(ErrIllegalStateTransition, "task has no assignee",
			goerr.V(TaskIDKey, t.ID), goerr.V(FromStateKey, t.State), goerr.V(ToStateKey, types.TaskStateCompleted))
	}
	if err := t.setState(types.TaskStateCompleted); err != nil {
		return err
	}
	t.stamp(now, actor, TaskActionComplete)
	return nil
}

// Cancel moves an active task to CANCELLED
func (t *Task) Cancel(now time.Time, actor types.ActorID) error {
	if err := t.setState(types.TaskStateCancelled); err != nil {
		return err
	}
	t.stamp(now, actor, TaskActionCancel)
	return nil
}

// Terminate ends the task with a reason. COMPLETED tasks accept only the
// COMPLETED and DELETED reasons.
func (t *Task) Terminate(now time.Time, actor types.ActorID, reason types.TerminationReason) error {
	if !reason.IsValid() {
		return goerr.Wrap(ErrConstraintViolation, "invalid termination reason",
			goerr.V(TaskIDKey, t.ID), goerr.V("reason", reason))
	}
	if t.State == types.TaskStateCompleted && reason == types.TerminationReasonCancelled {
		return goerr.Wrap(ErrIllegalStateTransition, "completed task cannot be terminated as cancelled",
			goerr.V(TaskIDKey, t.ID), goerr.V(FromStateKey, t.State), goerr.V(ToStateKey, types.TaskStateTerminated))
	}
	if err := t.setState(types.TaskStateTerminated); err != nil {
		return err
	}
	t.TerminationReason = reason
	t.stamp(now, actor, TaskActionTerminate)
	return nil
}

// MarkForReconfiguration sets the reconfigure marker on an active task. It
// returns false without touching the task when it is not active or already marked.
func (t *Task) MarkForReconfiguration(now time.Time) bool {
	if !t.State.IsActive() || t.ReconfigureRequestTime != nil {
		return false
	}
	ts := now.UTC()
	t.ReconfigureRequestTime = &ts
	t.stamp(now, SystemActor, TaskActionMarkForReconfiguration)
	return true
}

// Reconfigure replaces the configured attributes and the permission snapshot of a
// task whose marker is at or before cutoff, then clears the marker. cutoff must not
// be later than now.
func (t *Task) Reconfigure(now, cutoff time.Time, cfg *TaskConfiguration) error {
	if cutoff.After(now) {
		cutoff = now
	}
	if !t.IsReconfigurationDue(cutoff) {
		return goerr.Wrap(ErrIllegalStateTransition, "task is not due for reconfiguration",
			goerr.V(TaskIDKey, t.ID), goerr.V(FromStateKey, t.State))
	}
	if cfg == nil {
		return goerr.Wrap(ErrConfiguration, "configuration is missing", goerr.V(TaskIDKey, t.ID))
	}
	if err := cfg.Validate(); err != nil {
		return goerr.Wrap(err, "invalid task configuration", goerr.V(TaskIDKey, t.ID))
	}
	cfg.applyTo(t)
	ts := now.UTC()
	t.ReconfigureRequestTime = nil
	t.LastReconfigurationTime = &ts
	t.stamp(now, SystemActor, TaskActionReconfigure)
	return nil
}

// MarkIndexed flags the task as visible to search
func (t *Task) MarkIndexed(now time.Time) bool {
	if t.Indexed {
		return false
	}
	t.Indexed = true
	t.stamp(now, SystemActor, TaskActionUpdateSearchIndex)
	return true
}

// TaskConfiguration is the outcome of evaluating configuration rules for a task
type TaskConfiguration struct {
	Name                   string
	WorkType               string
	RoleCategory           types.RoleCategory
	Region                 string
	Location               string
	CaseCategory           string
	SecurityClassification types.SecurityClassification
	DueDateTime            *time.Time
	PriorityDate           *time.Time
	MajorPriority          int
	MinorPriority          int
	RolePermissions        []TaskRolePermission
	// Assignee is only honoured on first configuration
	Assignee types.ActorID
}

// Validate checks the attributes a configured task cannot do without. An empty
// classification keeps the task's current one.
func (c *TaskConfiguration) Validate() error {
	if len(c.RolePermissions) == 0 {
		return goerr.Wrap(ErrConfiguration, "configuration has no role permissions")
	}
	for _, row := range c.RolePermissions {
		if row.RoleName == "" {
			return goerr.Wrap(ErrConfiguration, "role permission without role name")
		}
	}
	if c.SecurityClassification != "" && !c.SecurityClassification.IsValid() {
		return goerr.Wrap(ErrConfiguration, "invalid security classification",
			goerr.V("security_classification", c.SecurityClassification))
	}
	return nil
}

func (c *TaskConfiguration) applyTo(t *Task) {
	if c.Name != "" {
		t.Name = c.Name
	}
	if c.WorkType != "" {
		t.WorkType = c.WorkType
	}
	if c.RoleCategory != "" {
		t.RoleCategory = c.RoleCategory
	}
	if c.Region != "" {
		t.Region = c.Region
	}
	if c.Location != "" {
		t.Location = c.Location
	}
	if c.CaseCategory != "" {
		t.CaseCategory = c.CaseCategory
	}
	if c.SecurityClassification != "" {
		t.SecurityClassification = c.SecurityClassification
	}
	if c.DueDateTime != nil {
		t.DueDateTime = cloneTime(c.DueDateTime)
	}
	if c.PriorityDate != nil {
		t.PriorityDate = cloneTime(c.PriorityDate)
	}
	if c.MajorPriority != 0 {
		t.MajorPriority = c.MajorPriority
	}
	if c.MinorPriority != 0 {
		t.MinorPriority = c.MinorPriority
	}
	perms := make([]TaskRolePermission, len(c.RolePermissions))
	for i, p := range c.RolePermissions {
		p.Authorizations = slices.Clone(p.Authorizations)
		perms[i] = p
	}
	t.RolePermissions = perms
}

// AutoAssignableRoles lists auto-assignable rows ordered by AssignmentPriority (lower first)
func (t *Task) AutoAssignableRoles() []TaskRolePermission {
	var out []TaskRolePermission
	for _, p := range t.RolePermissions {
		if p.AutoAssignable {
			out = append(out, p)
		}
	}
	slices.SortStableFunc(out, func(a, b TaskRolePermission) int {
		return a.AssignmentPriority - b.AssignmentPriority
	})
	return out
}
