package workflow_test

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/m-mizutani/gt"
	"github.com/secmon-lab/docket/pkg/domain/model"
	"github.com/secmon-lab/docket/pkg/service/gateway"
	"github.com/secmon-lab/docket/pkg/service/workflow"
)

type recorded struct {
	method string
	path   string
	body   map[string]any
}

func newEngine(t *testing.T, status int, response string) (*workflow.Client, *[]recorded) {
	t.Helper()
	var calls []recorded
	var mu sync.Mutex
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, _ := io.ReadAll(r.Body)
		var body map[string]any
		_ = json.Unmarshal(raw, &body)
		mu.Lock()
		calls = append(calls, recorded{method: r.Method, path: r.URL.Path, body: body})
		mu.Unlock()
		w.WriteHeader(status)
		_, _ = w.Write([]byte(response))
	}))
	t.Cleanup(srv.Close)

	caller := gateway.New("workflow", srv.URL, gateway.WithRetryPolicy(gateway.RetryPolicy{
		MaxAttempts:    2,
		InitialBackoff: time.Millisecond,
		Multiplier:     1,
		MaxBackoff:     time.Millisecond,
	}))
	return workflow.New(caller), &calls
}

func TestSignalComplete(t *testing.T) {
	client, calls := newEngine(t, http.StatusNoContent, "")

	gt.NoError(t, client.SignalComplete(context.Background(), "task-1")).Required()
	gt.Array(t, *calls).Length(1)
	gt.Value(t, (*calls)[0].method).Equal(http.MethodPost)
	gt.Value(t, (*calls)[0].path).Equal("/task/task-1/complete")
}

func TestSignalCancel(t *testing.T) {
	client, calls := newEngine(t, http.StatusNoContent, "")

	gt.NoError(t, client.SignalCancel(context.Background(), "task-1", "case closed")).Required()
	gt.Array(t, *calls).Length(1)
	gt.Value(t, (*calls)[0].path).Equal("/task/task-1/bpmnEscalation")
	gt.Value(t, (*calls)[0].body["escalationCode"]).Equal(any(workflow.CancellationEscalationCode))
}

func TestSignalCancelNotFound(t *testing.T) {
	client, calls := newEngine(t, http.StatusNotFound, `{"type":"RestException"}`)

	err := client.SignalCancel(context.Background(), "task-1", "")
	gt.Error(t, err).Is(model.ErrNotFound)
	gt.Array(t, *calls).Length(1)
}

func TestSignalCompleteServerError(t *testing.T) {
	client, calls := newEngine(t, http.StatusInternalServerError, "")

	err := client.SignalComplete(context.Background(), "task-1")
	gt.Error(t, err).Is(model.ErrExternalGateway)
	gt.Array(t, *calls).Length(2)
}

func TestGetHistoryVariable(t *testing.T) {
	client, calls := newEngine(t, http.StatusOK, `[{"name":"cancellationProcess","value":"CASE_EVENT_CANCELLATION"}]`)

	value, ok, err := client.GetHistoryVariable(context.Background(), "task-1", "cancellationProcess")
	gt.NoError(t, err).Required()
	gt.Bool(t, ok).True()
	gt.Value(t, value).Equal("CASE_EVENT_CANCELLATION")
	gt.Value(t, (*calls)[0].path).Equal("/history/variable-instance")
	gt.Value(t, (*calls)[0].body["variableName"]).Equal(any("cancellationProcess"))
}

func TestGetHistoryVariableMissing(t *testing.T) {
	client, _ := newEngine(t, http.StatusOK, `[]`)

	_, ok, err := client.GetHistoryVariable(context.Background(), "task-1", "cancellationProcess")
	gt.NoError(t, err).Required()
	gt.Bool(t, ok).False()
}
