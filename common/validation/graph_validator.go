package validation

import (
	"fmt"

	"github.com/lyzr/agentflow/common/workflow"
)

// GraphValidator checks workflow graphs before they are executed or stored
type GraphValidator struct{}

// NewGraphValidator creates a new graph validator
func NewGraphValidator() *GraphValidator {
	return &GraphValidator{}
}

// Validate enforces the structural invariants: at least one node, unique
// non-empty node ids, a type on every node, and edges that reference
// extant nodes.
func (v *GraphValidator) Validate(g *workflow.Graph) error {
	if g == nil || len(g.Nodes) == 0 {
		return fmt.Errorf("graph validation failed: workflow must contain at least one node")
	}

	seen := make(map[string]bool, len(g.Nodes))
	for i, node := range g.Nodes {
		if node.ID == "" {
			return fmt.Errorf("graph validation failed: node %d has no id", i)
		}
		if node.Type == "" {
			return fmt.Errorf("graph validation failed: node '%s' has no type", node.ID)
		}
		if seen[node.ID] {
			return fmt.Errorf("graph validation failed: duplicate node id '%s'", node.ID)
		}
		seen[node.ID] = true
	}

	for i, edge := range g.Edges {
		if edge.Source == "" || edge.Target == "" {
			return fmt.Errorf("graph validation failed: edge %d is missing source or target", i)
		}
		if !seen[edge.Source] {
			return fmt.Errorf("graph validation failed: edge %d references unknown source node '%s'", i, edge.Source)
		}
		if !seen[edge.Target] {
			return fmt.Errorf("graph validation failed: edge %d references unknown target node '%s'", i, edge.Target)
		}
	}

	return nil
}
