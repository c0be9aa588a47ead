package handlers

import (
	"io"
	"net/http"
	"strconv"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/lyzr/agentflow/cmd/orchestrator/service"
	"github.com/lyzr/agentflow/common/models"
)

// WorkflowHandler serves stored workflow CRUD and trigger requests
type WorkflowHandler struct {
	workflows  *service.WorkflowService
	executions *service.ExecutionService
}

// NewWorkflowHandler creates a new workflow handler
func NewWorkflowHandler(workflows *service.WorkflowService, executions *service.ExecutionService) *WorkflowHandler {
	return &WorkflowHandler{workflows: workflows, executions: executions}
}

// TriggerRequest carries the optional initial context for a trigger
type TriggerRequest struct {
	Input  interface{}            `json:"input"`
	Params map[string]interface{} `json:"params"`
}

// CreateWorkflow stores a new workflow definition. The response is the
// only place the generated api_key is ever revealed.
// POST /workflows
func (h *WorkflowHandler) CreateWorkflow(c echo.Context) error {
	var req service.CreateWorkflowRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, errorBody("invalid request body"))
	}

	wf, err := h.workflows.Create(c.Request().Context(), &req)
	if err != nil {
		return mapServiceError(c, err)
	}

	return c.JSON(http.StatusCreated, struct {
		*models.Workflow
		APIKey string `json:"api_key"`
	}{wf, wf.APIKey})
}

// GetWorkflow returns a stored workflow by id
// GET /workflows/:id
func (h *WorkflowHandler) GetWorkflow(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return c.JSON(http.StatusBadRequest, errorBody("invalid workflow id"))
	}

	wf, err := h.workflows.Get(c.Request().Context(), id)
	if err != nil {
		return mapServiceError(c, err)
	}
	return c.JSON(http.StatusOK, wf)
}

// ListWorkflows returns stored workflows, newest first
// GET /workflows
func (h *WorkflowHandler) ListWorkflows(c echo.Context) error {
	limit := 0
	if raw := c.QueryParam("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil {
			limit = n
		}
	}

	list, err := h.workflows.List(c.Request().Context(), limit)
	if err != nil {
		return mapServiceError(c, err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"workflows": list,
		"count":     len(list),
	})
}

// DeleteWorkflow removes a stored workflow
// DELETE /workflows/:id
func (h *WorkflowHandler) DeleteWorkflow(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return c.JSON(http.StatusBadRequest, errorBody("invalid workflow id"))
	}

	if err := h.workflows.Delete(c.Request().Context(), id); err != nil {
		return mapServiceError(c, err)
	}
	return c.JSON(http.StatusOK, map[string]string{"status": "deleted"})
}

// PatchWorkflow applies a JSON Patch document to the editable fields of
// a stored workflow. The body is the raw patch array, not an object, so
// it is read directly instead of bound.
// PATCH /workflows/:id
func (h *WorkflowHandler) PatchWorkflow(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return c.JSON(http.StatusBadRequest, errorBody("invalid workflow id"))
	}

	body, err := io.ReadAll(c.Request().Body)
	if err != nil || len(body) == 0 {
		return c.JSON(http.StatusBadRequest, errorBody("patch document required"))
	}

	wf, err := h.workflows.Patch(c.Request().Context(), id, body)
	if err != nil {
		return mapServiceError(c, err)
	}
	return c.JSON(http.StatusOK, wf)
}

// TriggerWorkflow starts an async execution of a stored workflow. The
// caller authenticates with the workflow's own api key.
// POST /workflows/:id/trigger
func (h *WorkflowHandler) TriggerWorkflow(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return c.JSON(http.StatusBadRequest, errorBody("invalid workflow id"))
	}

	apiKey := c.Request().Header.Get("X-API-Key")
	if apiKey == "" {
		return c.JSON(http.StatusUnauthorized, errorBody("API key required"))
	}

	var req TriggerRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, errorBody("invalid request body"))
	}

	execID, err := h.workflows.Trigger(c.Request().Context(), id, apiKey, req.Input, req.Params, clientKey(c))
	if err != nil {
		return mapServiceError(c, err)
	}

	return c.JSON(http.StatusAccepted, map[string]string{
		"executionId": execID,
		"workflowId":  id.String(),
		"status":      "started",
	})
}

// ListWorkflowExecutions returns the execution history of a workflow
// GET /workflows/:id/executions
func (h *WorkflowHandler) ListWorkflowExecutions(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return c.JSON(http.StatusBadRequest, errorBody("invalid workflow id"))
	}

	limit := 0
	if raw := c.QueryParam("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil {
			limit = n
		}
	}

	list, err := h.executions.HistoryByWorkflow(c.Request().Context(), id, limit)
	if err != nil {
		return mapServiceError(c, err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"executions": list,
		"count":      len(list),
	})
}
