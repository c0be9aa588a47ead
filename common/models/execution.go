package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// WorkflowExecution represents one run of a workflow graph
// Maps to: workflow_executions table
type WorkflowExecution struct {
	// Execution ID (UUID v4, same value used in the status cache key)
	ID uuid.UUID `db:"id" json:"id"`

	// Stored workflow this run came from; nil for ad-hoc graph submissions
	WorkflowID *uuid.UUID `db:"workflow_id" json:"workflow_id,omitempty"`

	// One of "running", "completed", "error"
	Status string `db:"status" json:"status"`

	// Final output once the run completes (JSONB)
	Result json.RawMessage `db:"result" json:"result,omitempty"`

	// Error message for failed runs
	Error *string `db:"error" json:"error,omitempty"`

	StartedAt   time.Time  `db:"started_at" json:"started_at"`
	CompletedAt *time.Time `db:"completed_at" json:"completed_at,omitempty"`
}

// IsTerminal reports whether the execution reached a final status
func (e *WorkflowExecution) IsTerminal() bool {
	return e.Status == "completed" || e.Status == "error"
}
