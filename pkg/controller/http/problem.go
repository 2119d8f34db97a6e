package http

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/secmon-lab/docket/pkg/domain/model"
	"github.com/secmon-lab/docket/pkg/utils/errutil"
	"github.com/secmon-lab/docket/pkg/utils/logging"
)

const problemTypePrefix = "urn:docket:problem:"

// problem is the error body of every failed request
type problem struct {
	Type   string `json:"type"`
	Title  string `json:"title"`
	Status int    `json:"status"`
	Detail string `json:"detail,omitempty"`
}

type problemKind struct {
	target error
	name   string
	title  string
	status int
}

// problemKinds is checked in order; the first sentinel found in the chain wins
var problemKinds = []problemKind{
	{model.ErrUnauthenticated, "unauthenticated", "Unauthenticated", http.StatusUnauthorized},
	{model.ErrForbidden, "forbidden", "Forbidden", http.StatusForbidden},
	{model.ErrTaskComplete, "task-not-completed", "Task could not be completed", http.StatusBadGateway},
	{model.ErrNotFound, "resource-not-found", "Resource not found", http.StatusNotFound},
	{model.ErrIllegalStateTransition, "task-state-conflict", "Task state conflict", http.StatusConflict},
	{model.ErrVersionConflict, "task-version-conflict", "Task was modified concurrently", http.StatusConflict},
	{model.ErrConstraintViolation, "constraint-violation", "Constraint violation", http.StatusBadRequest},
	{model.ErrConfiguration, "configuration-failed", "Task configuration failed", http.StatusBadRequest},
	{model.ErrExternalGateway, "downstream-dependency-error", "Downstream dependency error", http.StatusBadGateway},
	{model.ErrStorageUnavailable, "service-unavailable", "Service unavailable", http.StatusServiceUnavailable},
}

func problemFor(err error) problem {
	for _, k := range problemKinds {
		if errors.Is(err, k.target) {
			p := problem{
				Type:   problemTypePrefix + k.name,
				Title:  k.title,
				Status: k.status,
			}
			if k.status < http.StatusInternalServerError {
				p.Detail = err.Error()
			}
			return p
		}
	}
	return problem{
		Type:   problemTypePrefix + "internal-error",
		Title:  "Internal server error",
		Status: http.StatusInternalServerError,
	}
}

// writeError maps err to its problem body. Server side failures are reported
// through errutil; client errors are logged at info level.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	p := problemFor(err)
	if p.Status >= http.StatusInternalServerError {
		_ = errutil.Handle(r.Context(), err, "request failed")
	} else {
		logging.From(r.Context()).Info("request rejected", "status", p.Status, "error", err.Error())
	}

	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(p.Status)
	if encErr := json.NewEncoder(w).Encode(p); encErr != nil {
		logging.From(r.Context()).Warn("failed to write problem", "error", encErr.Error())
	}
}
