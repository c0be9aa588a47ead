package clients

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/lyzr/agentflow/common/engine"
	"github.com/lyzr/agentflow/common/workflow"
)

// APIClient talks to the workflow API service. The remote runner and
// service-to-service callers go through it instead of hand-rolling
// requests.
type APIClient struct {
	baseURL string
	http    *HTTPClient
	logger  Logger
}

// NewAPIClient creates an API client for the service at baseURL
func NewAPIClient(baseURL string, logger Logger) *APIClient {
	httpClient := &http.Client{
		Timeout: 30 * time.Second,
	}

	return &APIClient{
		baseURL: baseURL,
		http:    NewHTTPClient(httpClient, logger),
		logger:  logger,
	}
}

// ExecuteRequest is the wire form of a workflow execution request
type ExecuteRequest struct {
	Nodes       []workflow.Node `json:"nodes"`
	Edges       []workflow.Edge `json:"edges"`
	Context     interface{}     `json:"context,omitempty"`
	StartNodeID string          `json:"startNodeId,omitempty"`
	WorkflowID  string          `json:"workflowId,omitempty"`
}

// AsyncAccepted is the response to a successful async dispatch
type AsyncAccepted struct {
	ExecutionID string `json:"executionId"`
	WorkflowID  string `json:"workflowId,omitempty"`
	Status      string `json:"status"`
}

// ExecuteWorkflow runs a workflow synchronously and returns the result
func (c *APIClient) ExecuteWorkflow(ctx context.Context, req ExecuteRequest) (*engine.Result, error) {
	var result engine.Result
	if err := c.postJSON(ctx, "/execute-workflow", req, http.StatusOK, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// ExecuteWorkflowAsync dispatches a workflow for background execution
func (c *APIClient) ExecuteWorkflowAsync(ctx context.Context, req ExecuteRequest) (*AsyncAccepted, error) {
	var accepted AsyncAccepted
	if err := c.postJSON(ctx, "/execute-workflow-async", req, http.StatusAccepted, &accepted); err != nil {
		return nil, err
	}
	return &accepted, nil
}

// TriggerWorkflow starts a stored workflow by ID. The API key must be
// in ctx via WithAPIKey.
func (c *APIClient) TriggerWorkflow(ctx context.Context, workflowID string, input interface{}) (*AsyncAccepted, error) {
	body := map[string]interface{}{}
	if input != nil {
		body["input"] = input
	}

	var accepted AsyncAccepted
	path := fmt.Sprintf("/workflows/%s/trigger", workflowID)
	if err := c.postJSON(ctx, path, body, http.StatusAccepted, &accepted); err != nil {
		return nil, err
	}
	return &accepted, nil
}

// GetExecutionStatus fetches the progress record for an execution.
// Returns found=false when the record is gone or never existed.
func (c *APIClient) GetExecutionStatus(ctx context.Context, executionID string) (*workflow.ExecutionState, bool, error) {
	url := fmt.Sprintf("%s/execution/%s/status", c.baseURL, executionID)
	resp, err := c.http.DoRequest(ctx, "GET", url, nil)
	if err != nil {
		return nil, false, fmt.Errorf("failed to fetch execution status: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, false, nil
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, false, fmt.Errorf("status request failed: status=%d, body=%s", resp.StatusCode, string(body))
	}

	var state workflow.ExecutionState
	if err := json.NewDecoder(resp.Body).Decode(&state); err != nil {
		return nil, false, fmt.Errorf("failed to decode execution status: %w", err)
	}
	return &state, true, nil
}

// WaitForCompletion polls an execution until it reaches a terminal
// status or ctx is done.
func (c *APIClient) WaitForCompletion(ctx context.Context, executionID string, pollEvery time.Duration) (*workflow.ExecutionState, error) {
	if pollEvery <= 0 {
		pollEvery = 500 * time.Millisecond
	}

	ticker := time.NewTicker(pollEvery)
	defer ticker.Stop()

	for {
		state, found, err := c.GetExecutionStatus(ctx, executionID)
		if err != nil {
			return nil, err
		}
		if found {
			switch state.Status {
			case workflow.ExecutionCompleted, workflow.ExecutionFailed:
				return state, nil
			}
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

func (c *APIClient) postJSON(ctx context.Context, path string, payload interface{}, wantStatus int, out interface{}) error {
	encoded, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to encode request: %w", err)
	}

	resp, err := c.http.DoRequest(ctx, "POST", c.baseURL+path, bytes.NewReader(encoded))
	if err != nil {
		return fmt.Errorf("request to %s failed: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != wantStatus {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("%s failed: status=%d, body=%s", path, resp.StatusCode, string(body))
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode %s response: %w", path, err)
	}
	return nil
}
