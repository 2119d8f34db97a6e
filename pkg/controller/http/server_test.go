package http_test

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/m-mizutani/gt"
	httpctrl "github.com/secmon-lab/docket/pkg/controller/http"
	"github.com/secmon-lab/docket/pkg/repository/memory"
	"github.com/secmon-lab/docket/pkg/service/gateway"
	"github.com/secmon-lab/docket/pkg/service/roleassignment"
	"github.com/secmon-lab/docket/pkg/service/taskconfig"
	"github.com/secmon-lab/docket/pkg/service/workflow"
	"github.com/secmon-lab/docket/pkg/usecase"
)

const testRules = `
[[rule]]
jurisdiction = "IA"
name = "Review the appeal"
work_type = "routine_work"

[[rule.permission]]
role_name = "tribunal-caseworker"
permissions = ["Read", "Own", "CompleteOwn"]

[[rule.permission]]
role_name = "senior-tribunal-caseworker"
permissions = ["Read", "Manage", "Assign", "Cancel"]
`

const testAssignments = `
[[assignment]]
actor_id = "alice"
role_name = "tribunal-caseworker"
role_type = "ORGANISATION"
classification = "PUBLIC"
grant_type = "STANDARD"
[assignment.attributes]
jurisdiction = "IA"

[[assignment]]
actor_id = "bob"
role_name = "tribunal-caseworker"
role_type = "ORGANISATION"
classification = "PUBLIC"
grant_type = "STANDARD"
[assignment.attributes]
jurisdiction = "IA"

[[assignment]]
actor_id = "anonymous"
role_name = "senior-tribunal-caseworker"
role_type = "ORGANISATION"
classification = "PUBLIC"
grant_type = "STANDARD"
[assignment.attributes]
jurisdiction = "IA"
`

// engineStub records workflow engine calls and answers with a fixed status
type engineStub struct {
	mu     sync.Mutex
	status int
	paths  []string
}

func (e *engineStub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.paths = append(e.paths, r.URL.Path)
	w.WriteHeader(e.status)
}

func (e *engineStub) setStatus(code int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.status = code
}

func (e *engineStub) calls() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]string(nil), e.paths...)
}

type testServer struct {
	handler http.Handler
	engine  *engineStub
}

func newTestServer(t *testing.T, auth usecase.AuthUseCaseInterface) *testServer {
	t.Helper()

	provider, err := taskconfig.Parse([]byte(testRules))
	gt.NoError(t, err).Required()
	roles, err := roleassignment.ParseStatic([]byte(testAssignments))
	gt.NoError(t, err).Required()

	engine := &engineStub{status: http.StatusNoContent}
	engineSrv := httptest.NewServer(engine)
	t.Cleanup(engineSrv.Close)

	caller := gateway.New("workflow", engineSrv.URL, gateway.WithRetryPolicy(gateway.RetryPolicy{
		MaxAttempts:    2,
		InitialBackoff: time.Millisecond,
		Multiplier:     1,
		MaxBackoff:     time.Millisecond,
		Retryable:      gateway.RetryServerErrors,
	}))

	uc := usecase.New(memory.New(),
		usecase.WithRoleAssignments(roles),
		usecase.WithConfigurationProvider(provider),
		usecase.WithWorkflowEngine(workflow.New(caller)),
		usecase.WithAuth(auth),
	)
	return &testServer{handler: httpctrl.New(uc), engine: engine}
}

type call struct {
	method  string
	path    string
	body    any
	user    string // Authorization header
	service string // ServiceAuthorization header
}

func (s *testServer) do(t *testing.T, c call) *httptest.ResponseRecorder {
	t.Helper()
	var body bytes.Buffer
	if c.body != nil {
		gt.NoError(t, json.NewEncoder(&body).Encode(c.body)).Required()
	}
	req := httptest.NewRequest(c.method, c.path, &body)
	req.Header.Set("Content-Type", "application/json")
	if c.user != "" {
		req.Header.Set("Authorization", "Bearer "+c.user)
	}
	if c.service != "" {
		req.Header.Set("ServiceAuthorization", "Bearer "+c.service)
	}
	w := httptest.NewRecorder()
	s.handler.ServeHTTP(w, req)
	return w
}

type problemBody struct {
	Type   string `json:"type"`
	Title  string `json:"title"`
	Status int    `json:"status"`
	Detail string `json:"detail"`
}

func decodeProblem(t *testing.T, w *httptest.ResponseRecorder) problemBody {
	t.Helper()
	gt.Value(t, w.Header().Get("Content-Type")).Equal("application/problem+json")
	var p problemBody
	gt.NoError(t, json.Unmarshal(w.Body.Bytes(), &p)).Required()
	return p
}

type taskBody struct {
	Task struct {
		ID          string   `json:"id"`
		State       string   `json:"task_state"`
		Assignee    string   `json:"assignee"`
		Reason      string   `json:"termination_reason"`
		Permissions []string `json:"permissions"`
	} `json:"task"`
}

func decodeTask(t *testing.T, w *httptest.ResponseRecorder) taskBody {
	t.Helper()
	var b taskBody
	gt.NoError(t, json.Unmarshal(w.Body.Bytes(), &b)).Required()
	return b
}

func initiation(caseID string) map[string]any {
	return map[string]any{
		"type":         "reviewTheAppeal",
		"case_id":      caseID,
		"jurisdiction": "IA",
		"case_type_id": "Asylum",
	}
}

func TestServer_TaskLifecycle(t *testing.T) {
	s := newTestServer(t, usecase.NewNoAuthnUseCase("", ""))

	w := s.do(t, call{method: http.MethodPost, path: "/task/task-1/initiation", body: initiation("1623278362431003"), service: "s2s"})
	gt.Value(t, w.Code).Equal(http.StatusCreated)
	gt.Value(t, decodeTask(t, w).Task.State).Equal("UNASSIGNED")

	t.Run("get returns permissions of caller", func(t *testing.T) {
		w := s.do(t, call{method: http.MethodGet, path: "/task/task-1"})
		gt.Value(t, w.Code).Equal(http.StatusOK)
		body := decodeTask(t, w)
		gt.Value(t, body.Task.ID).Equal("task-1")
		gt.Value(t, body.Task.Permissions).Equal([]string{"Read", "Manage", "Cancel", "Assign"})
	})

	t.Run("roles", func(t *testing.T) {
		w := s.do(t, call{method: http.MethodGet, path: "/task/task-1/roles"})
		gt.Value(t, w.Code).Equal(http.StatusOK)
		var body struct {
			Roles []struct {
				RoleName string `json:"role_name"`
			} `json:"roles"`
		}
		gt.NoError(t, json.Unmarshal(w.Body.Bytes(), &body)).Required()
		gt.Array(t, body.Roles).Length(2)
	})

	t.Run("unknown task is 404", func(t *testing.T) {
		w := s.do(t, call{method: http.MethodGet, path: "/task/no-such-task"})
		gt.Value(t, w.Code).Equal(http.StatusNotFound)
		p := decodeProblem(t, w)
		gt.Value(t, p.Type).Equal("urn:docket:problem:resource-not-found")
		gt.Value(t, p.Status).Equal(http.StatusNotFound)
	})

	t.Run("claim without own is 403", func(t *testing.T) {
		w := s.do(t, call{method: http.MethodPost, path: "/task/task-1/claim"})
		gt.Value(t, w.Code).Equal(http.StatusForbidden)
		gt.Value(t, decodeProblem(t, w).Type).Equal("urn:docket:problem:forbidden")
	})

	t.Run("assign to caseworker", func(t *testing.T) {
		w := s.do(t, call{method: http.MethodPost, path: "/task/task-1/assign", body: map[string]string{"user_id": "alice"}})
		gt.Value(t, w.Code).Equal(http.StatusOK)
		gt.Value(t, decodeTask(t, w).Task.Assignee).Equal("alice")
	})

	t.Run("complete with engine failure is 502 and task stays assigned", func(t *testing.T) {
		s.engine.setStatus(http.StatusInternalServerError)
		w := s.do(t, call{method: http.MethodPost, path: "/task/task-1/complete"})
		gt.Value(t, w.Code).Equal(http.StatusBadGateway)
		gt.Value(t, decodeProblem(t, w).Type).Equal("urn:docket:problem:task-not-completed")

		w = s.do(t, call{method: http.MethodGet, path: "/task/task-1"})
		gt.Value(t, decodeTask(t, w).Task.State).Equal("ASSIGNED")
		s.engine.setStatus(http.StatusNoContent)
	})

	t.Run("complete", func(t *testing.T) {
		w := s.do(t, call{method: http.MethodPost, path: "/task/task-1/complete"})
		gt.Value(t, w.Code).Equal(http.StatusOK)
		gt.Value(t, decodeTask(t, w).Task.State).Equal("COMPLETED")
	})

	t.Run("cancel after complete is 409", func(t *testing.T) {
		w := s.do(t, call{method: http.MethodPost, path: "/task/task-1/cancel"})
		gt.Value(t, w.Code).Equal(http.StatusConflict)
		gt.Value(t, decodeProblem(t, w).Type).Equal("urn:docket:problem:task-state-conflict")
	})

	t.Run("terminate by service", func(t *testing.T) {
		w := s.do(t, call{
			method:  http.MethodDelete,
			path:    "/task/task-1",
			body:    map[string]any{"terminate_info": map[string]string{"terminate_reason": "completed"}},
			service: "s2s",
		})
		gt.Value(t, w.Code).Equal(http.StatusOK)
		body := decodeTask(t, w)
		gt.Value(t, body.Task.State).Equal("TERMINATED")
		gt.Value(t, body.Task.Reason).Equal("COMPLETED")
	})

	t.Run("engine saw the completions", func(t *testing.T) {
		calls := s.engine.calls()
		gt.Bool(t, len(calls) >= 2).True()
		gt.Value(t, calls[len(calls)-1]).Equal("/task/task-1/complete")
	})
}

func TestServer_CancelWithEngine404(t *testing.T) {
	s := newTestServer(t, usecase.NewNoAuthnUseCase("", ""))
	w := s.do(t, call{method: http.MethodPost, path: "/task/task-2/initiation", body: initiation("1623278362431003"), service: "s2s"})
	gt.Value(t, w.Code).Equal(http.StatusCreated)

	s.engine.setStatus(http.StatusNotFound)
	w = s.do(t, call{method: http.MethodPost, path: "/task/task-2/cancel", body: map[string]string{"reason": "withdrawn"}})
	gt.Value(t, w.Code).Equal(http.StatusOK)
	body := decodeTask(t, w)
	gt.Value(t, body.Task.State).Equal("TERMINATED")
	gt.Value(t, body.Task.Reason).Equal("CANCELLED")
}

func TestServer_SearchAndOperations(t *testing.T) {
	s := newTestServer(t, usecase.NewNoAuthnUseCase("", ""))
	for _, id := range []string{"a", "b", "c"} {
		w := s.do(t, call{method: http.MethodPost, path: "/task/" + id + "/initiation", body: initiation("1623278362431003"), service: "s2s"})
		gt.Value(t, w.Code).Equal(http.StatusCreated)
	}

	t.Run("search pages", func(t *testing.T) {
		w := s.do(t, call{method: http.MethodPost, path: "/task", body: map[string]any{"max_results": 2}})
		gt.Value(t, w.Code).Equal(http.StatusOK)
		var body struct {
			Tasks []struct {
				ID string `json:"id"`
			} `json:"tasks"`
			Total int `json:"total_records"`
		}
		gt.NoError(t, json.Unmarshal(w.Body.Bytes(), &body)).Required()
		gt.Value(t, body.Total).Equal(3)
		gt.Array(t, body.Tasks).Length(2)
		gt.Value(t, body.Tasks[0].ID).Equal("a")
	})

	t.Run("invalid state is 400", func(t *testing.T) {
		w := s.do(t, call{method: http.MethodPost, path: "/task", body: map[string]any{"state": []string{"OPEN"}}})
		gt.Value(t, w.Code).Equal(http.StatusBadRequest)
		gt.Value(t, decodeProblem(t, w).Type).Equal("urn:docket:problem:constraint-violation")
	})

	t.Run("operation needs service caller", func(t *testing.T) {
		w := s.do(t, call{method: http.MethodPost, path: "/task/operation", body: map[string]any{
			"operation": map[string]any{"name": "MARK_TO_RECONFIGURE"},
		}})
		gt.Value(t, w.Code).Equal(http.StatusForbidden)
	})

	t.Run("mark to reconfigure", func(t *testing.T) {
		w := s.do(t, call{method: http.MethodPost, path: "/task/operation", service: "s2s", body: map[string]any{
			"operation": map[string]any{"name": "MARK_TO_RECONFIGURE", "run_id": "run-1"},
			"task_filter": []map[string]any{
				{"key": "case_id", "operator": "IN", "values": []string{"1623278362431003"}},
			},
		}})
		gt.Value(t, w.Code).Equal(http.StatusOK)
		var body struct {
			RunID     string `json:"run_id"`
			Succeeded int    `json:"succeeded"`
		}
		gt.NoError(t, json.Unmarshal(w.Body.Bytes(), &body)).Required()
		gt.Value(t, body.RunID).Equal("run-1")
		gt.Value(t, body.Succeeded).Equal(3)
	})

	t.Run("delete by case", func(t *testing.T) {
		w := s.do(t, call{method: http.MethodPost, path: "/task/delete", service: "s2s", body: map[string]string{"case_ref": "1623278362431003"}})
		gt.Value(t, w.Code).Equal(http.StatusOK)
		gt.Value(t, strings.TrimSpace(w.Body.String())).Equal(`{"deleted":3}`)
	})

	t.Run("malformed body is 400", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/task/delete", strings.NewReader("{"))
		req.Header.Set("ServiceAuthorization", "Bearer s2s")
		w := httptest.NewRecorder()
		s.handler.ServeHTTP(w, req)
		gt.Value(t, w.Code).Equal(http.StatusBadRequest)
	})
}

func TestServer_Authentication(t *testing.T) {
	auth, err := usecase.NewAuthUseCase(t.Context(), "", usecase.WithUserSecret([]byte("user-secret-user-secret-user-secret!")))
	gt.NoError(t, err).Required()
	s := newTestServer(t, auth)

	t.Run("missing token is 401", func(t *testing.T) {
		w := s.do(t, call{method: http.MethodGet, path: "/task/x"})
		gt.Value(t, w.Code).Equal(http.StatusUnauthorized)
		gt.Value(t, decodeProblem(t, w).Type).Equal("urn:docket:problem:unauthenticated")
	})

	t.Run("garbage token is 401", func(t *testing.T) {
		w := s.do(t, call{method: http.MethodGet, path: "/task/x", user: "not-a-jwt"})
		gt.Value(t, w.Code).Equal(http.StatusUnauthorized)
	})

	t.Run("service tokens disabled is 401", func(t *testing.T) {
		w := s.do(t, call{method: http.MethodPost, path: "/task/delete", service: "s2s", body: map[string]string{"case_ref": "1"}})
		gt.Value(t, w.Code).Equal(http.StatusUnauthorized)
	})

	t.Run("health needs no token", func(t *testing.T) {
		w := s.do(t, call{method: http.MethodGet, path: "/health"})
		gt.Value(t, w.Code).Equal(http.StatusOK)
	})
}
