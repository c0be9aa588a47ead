package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/lyzr/agentflow/common/workflow"
)

// Workflow represents a stored workflow definition
// Maps to: workflows table
type Workflow struct {
	// Unique workflow ID
	ID uuid.UUID `db:"id" json:"id"`

	// Human-readable name
	Name string `db:"name" json:"name"`

	// Optional description
	Description *string `db:"description" json:"description,omitempty"`

	// Node and edge lists as submitted (JSONB)
	Nodes json.RawMessage `db:"nodes" json:"nodes"`
	Edges json.RawMessage `db:"edges" json:"edges"`

	// API key required by the trigger endpoint
	APIKey string `db:"api_key" json:"-"`

	// Inactive workflows cannot be triggered
	IsActive bool `db:"is_active" json:"is_active"`

	// Audit fields
	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

// Graph decodes the stored node and edge lists into a workflow graph
func (w *Workflow) Graph() (*workflow.Graph, error) {
	var g workflow.Graph
	if len(w.Nodes) > 0 {
		if err := json.Unmarshal(w.Nodes, &g.Nodes); err != nil {
			return nil, err
		}
	}
	if len(w.Edges) > 0 {
		if err := json.Unmarshal(w.Edges, &g.Edges); err != nil {
			return nil, err
		}
	}
	return &g, nil
}
