package http

import (
	"time"

	"github.com/secmon-lab/docket/pkg/domain/model"
	"github.com/secmon-lab/docket/pkg/domain/types"
)

type taskResponse struct {
	ID                      string            `json:"id"`
	Name                    string            `json:"name"`
	Type                    string            `json:"type"`
	State                   string            `json:"task_state"`
	TerminationReason       string            `json:"termination_reason,omitempty"`
	Jurisdiction            string            `json:"jurisdiction"`
	Region                  string            `json:"region,omitempty"`
	Location                string            `json:"location,omitempty"`
	CaseID                  string            `json:"case_id"`
	CaseTypeID              string            `json:"case_type_id"`
	CaseCategory            string            `json:"case_category,omitempty"`
	WorkType                string            `json:"work_type_id,omitempty"`
	RoleCategory            string            `json:"role_category,omitempty"`
	SecurityClassification  string            `json:"security_classification"`
	DueDate                 *time.Time        `json:"due_date,omitempty"`
	PriorityDate            *time.Time        `json:"priority_date,omitempty"`
	MajorPriority           int               `json:"major_priority"`
	MinorPriority           int               `json:"minor_priority"`
	Assignee                string            `json:"assignee,omitempty"`
	AutoAssigned            bool              `json:"auto_assigned"`
	NumberOfReassignments   int               `json:"number_of_reassignments"`
	ReconfigureRequestTime  *time.Time        `json:"reconfigure_request_time,omitempty"`
	LastReconfigurationTime *time.Time        `json:"last_reconfiguration_time,omitempty"`
	AdditionalProperties    map[string]string `json:"additional_properties,omitempty"`
	Permissions             []string          `json:"permissions,omitempty"`
	Created                 time.Time         `json:"created"`
	LastUpdatedTimestamp    time.Time         `json:"last_updated_timestamp"`
	LastUpdatedUser         string            `json:"last_updated_user"`
	LastUpdatedAction       string            `json:"last_updated_action"`
	Version                 int64             `json:"version"`
}

func toTaskResponse(t *model.Task) taskResponse {
	return taskResponse{
		ID:                      string(t.ID),
		Name:                    t.Name,
		Type:                    t.TaskType,
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
		DueDate:                 t.DueDateTime,
		PriorityDate:            t.PriorityDate,
		MajorPriority:           t.MajorPriority,
		MinorPriority:           t.MinorPriority,
		Assignee:                string(t.Assignee),
		AutoAssigned:            t.AutoAssigned,
		NumberOfReassignments:   t.NumberOfReassignments,
		ReconfigureRequestTime:  t.ReconfigureRequestTime,
		LastReconfigurationTime: t.LastReconfigurationTime,
		AdditionalProperties:    t.AdditionalProperties,
		Created:                 t.Created,
		LastUpdatedTimestamp:    t.LastUpdatedTimestamp,
		LastUpdatedUser:         string(t.LastUpdatedUser),
		LastUpdatedAction:       string(t.LastUpdatedAction),
		Version:                 t.Version,
	}
}

func permissionNames(p types.PermissionSet) []string {
	var out []string
	for _, t := range p.Types() {
		out = append(out, string(t))
	}
	return out
}

type taskRoleResponse struct {
	RoleName           string   `json:"role_name"`
	RoleCategory       string   `json:"role_category,omitempty"`
	Permissions        []string `json:"permissions"`
	Authorisations     []string `json:"authorisations,omitempty"`
	AutoAssignable     bool     `json:"auto_assignable"`
	AssignmentPriority int      `json:"assignment_priority"`
}

func toTaskRoleResponse(p model.TaskRolePermission) taskRoleResponse {
	return taskRoleResponse{
		RoleName:           p.RoleName,
		RoleCategory:       string(p.RoleCategory),
		Permissions:        permissionNames(p.Permissions),
		Authorisations:     p.Authorizations,
		AutoAssignable:     p.AutoAssignable,
		AssignmentPriority: p.AssignmentPriority,
	}
}

type initiateRequest struct {
	Type                 string            `json:"type"`
	Name                 string            `json:"name"`
	CaseID               string            `json:"case_id"`
	Jurisdiction         string            `json:"jurisdiction"`
	CaseTypeID           string            `json:"case_type_id"`
	DueDate              *time.Time        `json:"due_date"`
	AdditionalProperties map[string]string `json:"additional_properties"`
}

type assignRequest struct {
	UserID string `json:"user_id"`
}

type cancelRequest struct {
	Reason string `json:"reason"`
}

type terminateRequest struct {
	TerminateInfo struct {
		TerminateReason string `json:"terminate_reason"`
	} `json:"terminate_info"`
}

type deleteRequest struct {
	CaseRef string `json:"case_ref"`
}

type deleteResponse struct {
	Deleted int `json:"deleted"`
}

type searchRequest struct {
	Jurisdictions []string `json:"jurisdiction"`
	CaseIDs       []string `json:"case_id"`
	States        []string `json:"state"`
	WorkTypes     []string `json:"work_type"`
	Assignee      string   `json:"assignee"`
	FirstResult   int      `json:"first_result"`
	MaxResults    int      `json:"max_results"`
}

type searchResponse struct {
	Tasks        []taskResponse `json:"tasks"`
	TotalRecords int            `json:"total_records"`
}

type operationRequest struct {
	Operation struct {
		Name           string `json:"name"`
		RunID          string `json:"run_id"`
		MaxConcurrency int    `json:"max_concurrency"`
		TimeoutSeconds int    `json:"timeout_seconds"`
	} `json:"operation"`
	TaskFilter []struct {
		Key      string   `json:"key"`
		Values   []string `json:"values"`
		Operator string   `json:"operator"`
	} `json:"task_filter"`
}

func (req *operationRequest) toModel() *model.TaskOperation {
	op := &model.TaskOperation{
		Name:           types.OperationName(req.Operation.Name),
		RunID:          req.Operation.RunID,
		MaxConcurrency: req.Operation.MaxConcurrency,
		TimeoutSeconds: req.Operation.TimeoutSeconds,
	}
	for _, f := range req.TaskFilter {
		op.Filters = append(op.Filters, model.TaskFilter{
			Key:      types.FilterKey(f.Key),
			Values:   f.Values,
			Operator: types.FilterOperator(f.Operator),
		})
	}
	return op
}

type operationResponse struct {
	RunID         string    `json:"run_id"`
	Operation     string    `json:"operation"`
	Matched       int       `json:"matched"`
	Succeeded     int       `json:"succeeded"`
	Skipped       int       `json:"skipped"`
	Failed        int       `json:"failed"`
	FailedTaskIDs []string  `json:"failed_task_ids,omitempty"`
	StartedAt     time.Time `json:"started_at"`
	FinishedAt    time.Time `json:"finished_at"`
}

func toOperationResponse(r *model.OperationResult) operationResponse {
	resp := operationResponse{
		RunID:      r.RunID,
		Operation:  string(r.Operation),
		Matched:    r.Matched,
		Succeeded:  r.Succeeded,
		Skipped:    r.Skipped,
		Failed:     r.Failed,
		StartedAt:  r.StartedAt,
		FinishedAt: r.FinishedAt,
	}
	for _, id := range r.FailedTaskIDs {
		resp.FailedTaskIDs = append(resp.FailedTaskIDs, string(id))
	}
	return resp
}
