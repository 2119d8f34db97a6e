package http

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/m-mizutani/goerr/v2"
	"github.com/secmon-lab/docket/pkg/domain/model"
	"github.com/secmon-lab/docket/pkg/domain/types"
	"github.com/secmon-lab/docket/pkg/usecase"
)

func taskID(r *http.Request) types.TaskID {
	return types.TaskID(chi.URLParam(r, "taskID"))
}

// decodeBody reads a JSON body into v. An empty body leaves v untouched when
// optional is set.
func decodeBody(r *http.Request, v any, optional bool) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	if err := dec.Decode(v); err != nil {
		if optional && errors.Is(err, io.EOF) {
			return nil
		}
		return goerr.Wrap(errors.Join(model.ErrConstraintViolation, err), "invalid request body")
	}
	return nil
}

func (s *Server) writeTask(w http.ResponseWriter, r *http.Request, status int, task *model.Task, err error) {
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, r, status, map[string]taskResponse{"task": toTaskResponse(task)})
}

func (s *Server) initiateTask(w http.ResponseWriter, r *http.Request) {
	var req initiateRequest
	if err := decodeBody(r, &req, false); err != nil {
		writeError(w, r, err)
		return
	}

	task, err := s.task.InitiateTask(r.Context(), usecase.InitiateTaskInput{
		TaskID:               taskID(r),
		TaskType:             req.Type,
		Name:                 req.Name,
		CaseID:               types.CaseID(req.CaseID),
		Jurisdiction:         req.Jurisdiction,
		CaseTypeID:           req.CaseTypeID,
		DueDateTime:          req.DueDate,
		AdditionalProperties: req.AdditionalProperties,
	})
	s.writeTask(w, r, http.StatusCreated, task, err)
}

func (s *Server) getTask(w http.ResponseWriter, r *http.Request) {
	task, perms, err := s.task.GetTask(r.Context(), taskID(r))
	if err != nil {
		writeError(w, r, err)
		return
	}
	resp := toTaskResponse(task)
	resp.Permissions = permissionNames(perms)
	writeJSON(w, r, http.StatusOK, map[string]taskResponse{"task": resp})
}

func (s *Server) getTaskRoles(w http.ResponseWriter, r *http.Request) {
	roles, err := s.task.GetTaskRoles(r.Context(), taskID(r))
	if err != nil {
		writeError(w, r, err)
		return
	}
	resp := make([]taskRoleResponse, len(roles))
	for i, p := range roles {
		resp[i] = toTaskRoleResponse(p)
	}
	writeJSON(w, r, http.StatusOK, map[string][]taskRoleResponse{"roles": resp})
}

func (s *Server) claimTask(w http.ResponseWriter, r *http.Request) {
	task, err := s.task.ClaimTask(r.Context(), taskID(r))
	s.writeTask(w, r, http.StatusOK, task, err)
}

func (s *Server) unclaimTask(w http.ResponseWriter, r *http.Request) {
	task, err := s.task.UnclaimTask(r.Context(), taskID(r))
	s.writeTask(w, r, http.StatusOK, task, err)
}

func (s *Server) assignTask(w http.ResponseWriter, r *http.Request) {
	var req assignRequest
	if err := decodeBody(r, &req, false); err != nil {
		writeError(w, r, err)
		return
	}
	task, err := s.task.AssignTask(r.Context(), taskID(r), types.ActorID(req.UserID))
	s.writeTask(w, r, http.StatusOK, task, err)
}

func (s *Server) completeTask(w http.ResponseWriter, r *http.Request) {
	task, err := s.task.CompleteTask(r.Context(), taskID(r))
	s.writeTask(w, r, http.StatusOK, task, err)
}

func (s *Server) cancelTask(w http.ResponseWriter, r *http.Request) {
	var req cancelRequest
	if err := decodeBody(r, &req, true); err != nil {
		writeError(w, r, err)
		return
	}
	task, err := s.task.CancelTask(r.Context(), taskID(r), req.Reason)
	s.writeTask(w, r, http.StatusOK, task, err)
}

func (s *Server) terminateTask(w http.ResponseWriter, r *http.Request) {
	var req terminateRequest
	if err := decodeBody(r, &req, false); err != nil {
		writeError(w, r, err)
		return
	}
	reason, err := types.ParseTerminationReason(req.TerminateInfo.TerminateReason)
	if err != nil {
		writeError(w, r, goerr.Wrap(errors.Join(model.ErrConstraintViolation, err), "invalid termination reason"))
		return
	}
	task, err := s.task.TerminateTask(r.Context(), taskID(r), reason)
	s.writeTask(w, r, http.StatusOK, task, err)
}

func (s *Server) searchTasks(w http.ResponseWriter, r *http.Request) {
	var req searchRequest
	if err := decodeBody(r, &req, true); err != nil {
		writeError(w, r, err)
		return
	}

	in := usecase.SearchTasksInput{
		Jurisdictions: req.Jurisdictions,
		WorkTypes:     req.WorkTypes,
		Assignee:      types.ActorID(req.Assignee),
		Offset:        req.FirstResult,
		Limit:         req.MaxResults,
	}
	for _, id := range req.CaseIDs {
		in.CaseIDs = append(in.CaseIDs, types.CaseID(id))
	}
	for _, v := range req.States {
		state, err := types.ParseTaskState(v)
		if err != nil {
			writeError(w, r, goerr.Wrap(errors.Join(model.ErrConstraintViolation, err), "invalid state"))
			return
		}
		in.States = append(in.States, state)
	}

	result, err := s.task.SearchTasks(r.Context(), in)
	if err != nil {
		writeError(w, r, err)
		return
	}
	resp := searchResponse{
		Tasks:        make([]taskResponse, len(result.Tasks)),
		TotalRecords: result.Total,
	}
	for i, t := range result.Tasks {
		resp.Tasks[i] = toTaskResponse(t)
	}
	writeJSON(w, r, http.StatusOK, resp)
}

func (s *Server) deleteTasks(w http.ResponseWriter, r *http.Request) {
	var req deleteRequest
	if err := decodeBody(r, &req, false); err != nil {
		writeError(w, r, err)
		return
	}
	n, err := s.operation.DeleteByCase(r.Context(), types.CaseID(req.CaseRef))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, deleteResponse{Deleted: n})
}

func (s *Server) performOperation(w http.ResponseWriter, r *http.Request) {
	var req operationRequest
	if err := decodeBody(r, &req, false); err != nil {
		writeError(w, r, err)
		return
	}
	result, err := s.operation.PerformOperation(r.Context(), req.toModel())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, toOperationResponse(result))
}
