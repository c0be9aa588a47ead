package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/lyzr/agentflow/common/db"
	"github.com/lyzr/agentflow/common/models"
	"github.com/lyzr/agentflow/common/workflow"
)

// ExecutionRepository handles database operations for execution history
type ExecutionRepository struct {
	db *db.DB
}

// NewExecutionRepository creates a new execution repository
func NewExecutionRepository(database *db.DB) *ExecutionRepository {
	return &ExecutionRepository{db: database}
}

// EnsureSchema creates the workflow_executions table if it does not exist
func (r *ExecutionRepository) EnsureSchema(ctx context.Context) error {
	query := `
		CREATE TABLE IF NOT EXISTS workflow_executions (
			id UUID PRIMARY KEY,
			workflow_id UUID REFERENCES workflows(id) ON DELETE SET NULL,
			status TEXT NOT NULL,
			result JSONB,
			error TEXT,
			started_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			completed_at TIMESTAMPTZ
		)
	`

	if _, err := r.db.Exec(ctx, query); err != nil {
		return fmt.Errorf("failed to ensure workflow_executions schema: %w", err)
	}

	index := `
		CREATE INDEX IF NOT EXISTS idx_workflow_executions_workflow
		ON workflow_executions (workflow_id, started_at DESC)
	`
	if _, err := r.db.Exec(ctx, index); err != nil {
		return fmt.Errorf("failed to ensure workflow_executions index: %w", err)
	}

	return nil
}

// Create inserts a new execution row in running state
func (r *ExecutionRepository) Create(ctx context.Context, exec *models.WorkflowExecution) error {
	query := `
		INSERT INTO workflow_executions (id, workflow_id, status, started_at)
		VALUES ($1, $2, $3, $4)
	`

	_, err := r.db.Exec(
		ctx,
		query,
		exec.ID,
		exec.WorkflowID,
		exec.Status,
		exec.StartedAt,
	)

	if err != nil {
		return fmt.Errorf("failed to create execution: %w", err)
	}

	return nil
}

// Finish records the terminal state of an execution
func (r *ExecutionRepository) Finish(ctx context.Context, exec *models.WorkflowExecution) error {
	query := `
		UPDATE workflow_executions
		SET status = $2, result = $3, error = $4, completed_at = $5
		WHERE id = $1
	`

	tag, err := r.db.Exec(
		ctx,
		query,
		exec.ID,
		exec.Status,
		exec.Result,
		exec.Error,
		exec.CompletedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to finish execution: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("execution %s: %w", exec.ID, ErrNotFound)
	}

	return nil
}

// ListStaleRunning returns executions still marked running that started
// before the cutoff. Candidates for the reaper; whether a row is truly
// dead is decided against the progress cache, not here.
func (r *ExecutionRepository) ListStaleRunning(ctx context.Context, cutoff time.Time, limit int) ([]*models.WorkflowExecution, error) {
	query := `
		SELECT id, workflow_id, status, result, error, started_at, completed_at
		FROM workflow_executions
		WHERE status = $1 AND started_at < $2
		ORDER BY started_at
		LIMIT $3
	`

	rows, err := r.db.Query(ctx, query, workflow.ExecutionRunning, cutoff, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list stale executions: %w", err)
	}
	defer rows.Close()

	return scanExecutions(rows)
}

// GetByID retrieves an execution by its ID
func (r *ExecutionRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.WorkflowExecution, error) {
	query := `
		SELECT id, workflow_id, status, result, error, started_at, completed_at
		FROM workflow_executions
		WHERE id = $1
	`

	exec := &models.WorkflowExecution{}
	err := r.db.QueryRow(ctx, query, id).Scan(
		&exec.ID,
		&exec.WorkflowID,
		&exec.Status,
		&exec.Result,
		&exec.Error,
		&exec.StartedAt,
		&exec.CompletedAt,
	)

	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("execution %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get execution: %w", err)
	}

	return exec, nil
}

// ListByWorkflow retrieves recent executions of one workflow
func (r *ExecutionRepository) ListByWorkflow(ctx context.Context, workflowID uuid.UUID, limit int) ([]*models.WorkflowExecution, error) {
	query := `
		SELECT id, workflow_id, status, result, error, started_at, completed_at
		FROM workflow_executions
		WHERE workflow_id = $1
		ORDER BY started_at DESC
		LIMIT $2
	`

	rows, err := r.db.Query(ctx, query, workflowID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list executions: %w", err)
	}
	defer rows.Close()

	return scanExecutions(rows)
}

// ListRecent retrieves the most recent executions across all workflows
func (r *ExecutionRepository) ListRecent(ctx context.Context, limit int) ([]*models.WorkflowExecution, error) {
	query := `
		SELECT id, workflow_id, status, result, error, started_at, completed_at
		FROM workflow_executions
		ORDER BY started_at DESC
		LIMIT $1
	`

	rows, err := r.db.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list recent executions: %w", err)
	}
	defer rows.Close()

	return scanExecutions(rows)
}

func scanExecutions(rows pgx.Rows) ([]*models.WorkflowExecution, error) {
	var executions []*models.WorkflowExecution
	for rows.Next() {
		exec := &models.WorkflowExecution{}
		err := rows.Scan(
			&exec.ID,
			&exec.WorkflowID,
			&exec.Status,
			&exec.Result,
			&exec.Error,
			&exec.StartedAt,
			&exec.CompletedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan execution: %w", err)
		}
		executions = append(executions, exec)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating executions: %w", err)
	}

	return executions, nil
}
