package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/lyzr/agentflow/cmd/orchestrator/service"
	"github.com/lyzr/agentflow/common/middleware"
	"github.com/lyzr/agentflow/common/models"
	"github.com/lyzr/agentflow/common/repository"
	"github.com/lyzr/agentflow/common/workflow"
)

// ExecutionHandler serves node and workflow execution requests
type ExecutionHandler struct {
	executions *service.ExecutionService
}

// NewExecutionHandler creates a new execution handler
func NewExecutionHandler(executions *service.ExecutionService) *ExecutionHandler {
	return &ExecutionHandler{executions: executions}
}

// ExecuteNodeRequest is a single-node execution request
type ExecuteNodeRequest struct {
	Node    *workflow.Node    `json:"node"`
	Context *workflow.Context `json:"context"`
}

// ExecuteWorkflowRequest is an ad-hoc graph execution request
type ExecuteWorkflowRequest struct {
	Nodes       []workflow.Node   `json:"nodes"`
	Edges       []workflow.Edge   `json:"edges"`
	Context     *workflow.Context `json:"context"`
	StartNodeID string            `json:"startNodeId"`
}

// ExecuteAsyncRequest extends the sync request with an optional stored
// workflow id for history tracking
type ExecuteAsyncRequest struct {
	ExecuteWorkflowRequest
	WorkflowID string `json:"workflowId"`
}

// ExecuteNode runs one node through its driver
// POST /execute-node
func (h *ExecutionHandler) ExecuteNode(c echo.Context) error {
	var req ExecuteNodeRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, errorBody("invalid request body"))
	}

	resp, err := h.executions.ExecuteNode(c.Request().Context(), req.Node, req.Context)
	if err != nil {
		return mapServiceError(c, err)
	}
	return c.JSON(http.StatusOK, resp)
}

// ExecuteWorkflow walks a graph synchronously. Failed executions come
// back as 400 with the partial trace in the body.
// POST /execute-workflow
func (h *ExecutionHandler) ExecuteWorkflow(c echo.Context) error {
	var req ExecuteWorkflowRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, errorBody("invalid request body"))
	}

	g := &workflow.Graph{Nodes: req.Nodes, Edges: req.Edges}
	result := h.executions.ExecuteSync(c.Request().Context(), g, req.Context, req.StartNodeID)
	if result.Status != workflow.StatusOK {
		return c.JSON(http.StatusBadRequest, result)
	}
	return c.JSON(http.StatusOK, result)
}

// ExecuteWorkflowAsync queues a graph for background execution
// POST /execute-workflow-async
func (h *ExecutionHandler) ExecuteWorkflowAsync(c echo.Context) error {
	var req ExecuteAsyncRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, errorBody("invalid request body"))
	}

	task := &models.ExecutionTask{
		WorkflowID:  req.WorkflowID,
		Nodes:       req.Nodes,
		Edges:       req.Edges,
		Context:     req.Context,
		StartNodeID: req.StartNodeID,
	}
	execID, err := h.executions.Dispatch(c.Request().Context(), clientKey(c), task)
	if err != nil {
		return mapServiceError(c, err)
	}

	return c.JSON(http.StatusAccepted, map[string]string{
		"executionId": execID,
		"status":      "started",
	})
}

// GetExecutionStatus returns the cached progress record
// GET /execution/:id/status
func (h *ExecutionHandler) GetExecutionStatus(c echo.Context) error {
	state, found, err := h.executions.Status(c.Request().Context(), c.Param("id"))
	if err != nil {
		return c.JSON(http.StatusInternalServerError, errorBody("failed to read execution status"))
	}
	if !found {
		return c.JSON(http.StatusNotFound, map[string]string{"status": "not_found"})
	}
	return c.JSON(http.StatusOK, state)
}

// clientKey returns the rate limit identity resolved by the middleware,
// falling back to the remote address.
func clientKey(c echo.Context) string {
	if key, ok := c.Get(middleware.ClientKeyContextKey).(string); ok && key != "" {
		return key
	}
	return c.RealIP()
}

func errorBody(msg string) map[string]string {
	return map[string]string{"error": msg}
}

// mapServiceError converts service-layer errors into HTTP responses
func mapServiceError(c echo.Context, err error) error {
	var vErr *service.ValidationError
	if errors.As(err, &vErr) {
		return c.JSON(http.StatusBadRequest, errorBody(vErr.Message))
	}

	var rlErr *service.RateLimitError
	if errors.As(err, &rlErr) {
		c.Response().Header().Set("Retry-After", strconv.FormatInt(rlErr.RetryAfterSeconds, 10))
		return c.JSON(http.StatusTooManyRequests, map[string]interface{}{
			"error":   "rate_limit_exceeded",
			"message": rlErr.Error(),
			"details": map[string]interface{}{
				"tier":                string(rlErr.Tier),
				"limit":               rlErr.Limit,
				"retry_after_seconds": rlErr.RetryAfterSeconds,
			},
		})
	}

	switch {
	case errors.Is(err, service.ErrNoWorkers):
		return c.JSON(http.StatusServiceUnavailable, errorBody("no live workers available"))
	case errors.Is(err, service.ErrStorageUnavailable):
		return c.JSON(http.StatusServiceUnavailable, errorBody("workflow storage not configured"))
	case errors.Is(err, service.ErrInvalidAPIKey):
		return c.JSON(http.StatusForbidden, errorBody("Invalid API key"))
	case errors.Is(err, repository.ErrNotFound):
		return c.JSON(http.StatusNotFound, errorBody("workflow not found"))
	}

	return c.JSON(http.StatusInternalServerError, errorBody(err.Error()))
}
