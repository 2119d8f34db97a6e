package workflow

import (
	"context"
	"errors"
	"net/http"
	"net/url"

	"github.com/m-mizutani/goerr/v2"
	"github.com/secmon-lab/docket/pkg/domain/interfaces"
	"github.com/secmon-lab/docket/pkg/domain/model"
	"github.com/secmon-lab/docket/pkg/domain/types"
	"github.com/secmon-lab/docket/pkg/service/gateway"
)

// CancellationEscalationCode is the BPMN escalation raised when a task is cancelled
const CancellationEscalationCode = "wa-esc-cancellation"

// Client talks to the workflow engine REST API
type Client struct {
	caller *gateway.Caller
}

var _ interfaces.WorkflowEngine = &Client{}

// New creates a client using caller for transport
func New(caller *gateway.Caller) *Client {
	return &Client{caller: caller}
}

// SignalComplete completes the engine task
func (c *Client) SignalComplete(ctx context.Context, taskID types.TaskID) error {
	_, err := c.caller.Do(ctx, gateway.Request{
		Method: http.MethodPost,
		Path:   "/task/" + url.PathEscape(string(taskID)) + "/complete",
		Body:   map[string]any{},
	})
	if err != nil {
		return goerr.Wrap(err, "failed to complete task in workflow engine", goerr.V(model.TaskIDKey, taskID))
	}
	return nil
}

type escalationRequest struct {
	EscalationCode string                   `json:"escalationCode"`
	Variables      map[string]variableValue `json:"variables,omitempty"`
}

type variableValue struct {
	Value any    `json:"value"`
	Type  string `json:"type,omitempty"`
}

// SignalCancel raises the cancellation escalation on the engine task
func (c *Client) SignalCancel(ctx context.Context, taskID types.TaskID, reason string) error {
	body := escalationRequest{EscalationCode: CancellationEscalationCode}
	if reason != "" {
		body.Variables = map[string]variableValue{
			"cancellationReason": {Value: reason, Type: "String"},
		}
	}

	_, err := c.caller.Do(ctx, gateway.Request{
		Method: http.MethodPost,
		Path:   "/task/" + url.PathEscape(string(taskID)) + "/bpmnEscalation",
		Body:   body,
	})
	if err != nil {
		return goerr.Wrap(err, "failed to cancel task in workflow engine", goerr.V(model.TaskIDKey, taskID))
	}
	return nil
}

type historyVariableQuery struct {
	VariableName string   `json:"variableName"`
	TaskIDIn     []string `json:"taskIdIn"`
}

type historyVariable struct {
	Name  string `json:"name"`
	Value any    `json:"value"`
}

// GetHistoryVariable reads a variable recorded for the task in the engine history
func (c *Client) GetHistoryVariable(ctx context.Context, taskID types.TaskID, name string) (string, bool, error) {
	resp, err := c.caller.Do(ctx, gateway.Request{
		Method: http.MethodPost,
		Path:   "/history/variable-instance",
		Body: historyVariableQuery{
			VariableName: name,
			TaskIDIn:     []string{string(taskID)},
		},
	})
	if err != nil {
		if errors.Is(err, model.ErrNotFound) {
			return "", false, nil
		}
		return "", false, goerr.Wrap(err, "failed to read history variable",
			goerr.V(model.TaskIDKey, taskID), goerr.V("name", name))
	}

	var vars []historyVariable
	if err := resp.Decode(&vars); err != nil {
		return "", false, goerr.Wrap(errors.Join(model.ErrExternalGateway, err), "invalid history variable response",
			goerr.V(model.TaskIDKey, taskID))
	}
	for _, v := range vars {
		if v.Name != name || v.Value == nil {
			continue
		}
		if s, ok := v.Value.(string); ok {
			return s, true, nil
		}
		return "", false, goerr.New("history variable is not a string",
			goerr.V(model.TaskIDKey, taskID), goerr.V("name", name))
	}
	return "", false, nil
}
