package routes

import (
	"github.com/labstack/echo/v4"

	"github.com/lyzr/agentflow/cmd/orchestrator/handlers"
)

// RegisterExecutionRoutes wires the ad-hoc execution endpoints
func RegisterExecutionRoutes(e *echo.Echo, h *handlers.ExecutionHandler) {
	e.POST("/execute-node", h.ExecuteNode)
	e.POST("/execute-workflow", h.ExecuteWorkflow)
	e.POST("/execute-workflow-async", h.ExecuteWorkflowAsync)
	e.GET("/execution/:id/status", h.GetExecutionStatus)
}

// RegisterWorkflowRoutes wires the stored workflow endpoints
func RegisterWorkflowRoutes(e *echo.Echo, h *handlers.WorkflowHandler) {
	g := e.Group("/workflows")
	g.POST("", h.CreateWorkflow)
	g.GET("", h.ListWorkflows)
	g.GET("/:id", h.GetWorkflow)
	g.DELETE("/:id", h.DeleteWorkflow)
	g.PATCH("/:id", h.PatchWorkflow)
	g.POST("/:id/trigger", h.TriggerWorkflow)
	g.GET("/:id/executions", h.ListWorkflowExecutions)
}
