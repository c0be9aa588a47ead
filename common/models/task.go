package models

import "github.com/lyzr/agentflow/common/workflow"

// ExecutionTask is the queue message for one async workflow execution.
// The dispatcher fills ExecutionID before enqueueing; runners treat the
// payload as self-contained and never reach back to the API service.
type ExecutionTask struct {
	ExecutionID string            `json:"executionId"`
	WorkflowID  string            `json:"workflowId,omitempty"`
	Nodes       []workflow.Node   `json:"nodes"`
	Edges       []workflow.Edge   `json:"edges"`
	Context     *workflow.Context `json:"context,omitempty"`
	StartNodeID string            `json:"startNodeId,omitempty"`
}

// Graph assembles the task's node and edge lists into a graph
func (t *ExecutionTask) Graph() *workflow.Graph {
	return &workflow.Graph{Nodes: t.Nodes, Edges: t.Edges}
}
