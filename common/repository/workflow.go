package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/lyzr/agentflow/common/db"
	"github.com/lyzr/agentflow/common/models"
)

// ErrNotFound is returned when a requested row does not exist
var ErrNotFound = errors.New("not found")

// WorkflowRepository handles database operations for stored workflows
type WorkflowRepository struct {
	db *db.DB
}

// NewWorkflowRepository creates a new workflow repository
func NewWorkflowRepository(database *db.DB) *WorkflowRepository {
	return &WorkflowRepository{db: database}
}

// EnsureSchema creates the workflows table if it does not exist
func (r *WorkflowRepository) EnsureSchema(ctx context.Context) error {
	query := `
		CREATE TABLE IF NOT EXISTS workflows (
			id UUID PRIMARY KEY,
			name TEXT NOT NULL,
			description TEXT,
			nodes JSONB NOT NULL DEFAULT '[]',
			edges JSONB NOT NULL DEFAULT '[]',
			api_key TEXT NOT NULL DEFAULT '',
			is_active BOOLEAN NOT NULL DEFAULT TRUE,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)
	`

	if _, err := r.db.Exec(ctx, query); err != nil {
		return fmt.Errorf("failed to ensure workflows schema: %w", err)
	}
	return nil
}

// Create inserts a new workflow
func (r *WorkflowRepository) Create(ctx context.Context, wf *models.Workflow) error {
	query := `
		INSERT INTO workflows (id, name, description, nodes, edges, api_key, is_active, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`

	_, err := r.db.Exec(
		ctx,
		query,
		wf.ID,
		wf.Name,
		wf.Description,
		wf.Nodes,
		wf.Edges,
		wf.APIKey,
		wf.IsActive,
		wf.CreatedAt,
		wf.UpdatedAt,
	)

	if err != nil {
		return fmt.Errorf("failed to create workflow: %w", err)
	}

	return nil
}

// GetByID retrieves a workflow by its ID
func (r *WorkflowRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.Workflow, error) {
	query := `
		SELECT id, name, description, nodes, edges, api_key, is_active, created_at, updated_at
		FROM workflows
		WHERE id = $1
	`

	wf := &models.Workflow{}
	err := r.db.QueryRow(ctx, query, id).Scan(
		&wf.ID,
		&wf.Name,
		&wf.Description,
		&wf.Nodes,
		&wf.Edges,
		&wf.APIKey,
		&wf.IsActive,
		&wf.CreatedAt,
		&wf.UpdatedAt,
	)

	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("workflow %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get workflow: %w", err)
	}

	return wf, nil
}

// Update rewrites the mutable fields of a workflow
func (r *WorkflowRepository) Update(ctx context.Context, wf *models.Workflow) error {
	query := `
		UPDATE workflows
		SET name = $2, description = $3, nodes = $4, edges = $5, api_key = $6, is_active = $7, updated_at = now()
		WHERE id = $1
	`

	tag, err := r.db.Exec(
		ctx,
		query,
		wf.ID,
		wf.Name,
		wf.Description,
		wf.Nodes,
		wf.Edges,
		wf.APIKey,
		wf.IsActive,
	)
	if err != nil {
		return fmt.Errorf("failed to update workflow: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("workflow %s: %w", wf.ID, ErrNotFound)
	}

	return nil
}

// Delete removes a workflow
func (r *WorkflowRepository) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := r.db.Exec(ctx, `DELETE FROM workflows WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete workflow: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("workflow %s: %w", id, ErrNotFound)
	}

	return nil
}

// List retrieves workflows ordered by most recently updated
func (r *WorkflowRepository) List(ctx context.Context, limit int) ([]*models.Workflow, error) {
	query := `
		SELECT id, name, description, nodes, edges, api_key, is_active, created_at, updated_at
		FROM workflows
		ORDER BY updated_at DESC
		LIMIT $1
	`

	rows, err := r.db.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list workflows: %w", err)
	}
	defer rows.Close()

	var workflows []*models.Workflow
	for rows.Next() {
		wf := &models.Workflow{}
		err := rows.Scan(
			&wf.ID,
			&wf.Name,
			&wf.Description,
			&wf.Nodes,
			&wf.Edges,
			&wf.APIKey,
			&wf.IsActive,
			&wf.CreatedAt,
			&wf.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan workflow: %w", err)
		}
		workflows = append(workflows, wf)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating workflows: %w", err)
	}

	return workflows, nil
}
