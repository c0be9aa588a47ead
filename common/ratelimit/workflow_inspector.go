package ratelimit

import "github.com/lyzr/agentflow/common/workflow"

// WorkflowTier represents the rate limit tier based on workflow complexity
type WorkflowTier string

const (
	TierSimple   WorkflowTier = "simple"   // No agent nodes
	TierStandard WorkflowTier = "standard" // 1-2 agent nodes
	TierHeavy    WorkflowTier = "heavy"    // 3+ agent nodes
)

// WorkflowProfile contains analysis of a workflow's complexity
type WorkflowProfile struct {
	Tier          WorkflowTier // Determined tier
	AgentCount    int          // Number of agent nodes
	HasAgentNodes bool         // Whether workflow has any agents
	TotalNodes    int          // Total node count
}

// InspectWorkflow analyzes a workflow graph and determines its complexity
// tier. Agent nodes are the expensive ones (each implies LLM calls), so
// the tier is a function of how many the graph carries.
func InspectWorkflow(graph *workflow.Graph) WorkflowProfile {
	profile := WorkflowProfile{
		Tier:          TierSimple,
		AgentCount:    0,
		HasAgentNodes: false,
		TotalNodes:    0,
	}

	if graph == nil {
		return profile
	}

	profile.TotalNodes = len(graph.Nodes)
	for _, node := range graph.Nodes {
		if workflow.IsAgentType(node.Type) {
			profile.AgentCount++
			profile.HasAgentNodes = true
		}
	}

	profile.Tier = determineTier(profile.AgentCount)
	return profile
}

// determineTier returns the appropriate tier based on agent count
func determineTier(agentCount int) WorkflowTier {
	switch {
	case agentCount == 0:
		return TierSimple
	case agentCount <= 2:
		return TierStandard
	default: // 3+
		return TierHeavy
	}
}

// String returns a human-readable description of the tier
func (t WorkflowTier) String() string {
	switch t {
	case TierSimple:
		return "simple"
	case TierStandard:
		return "standard"
	case TierHeavy:
		return "heavy"
	default:
		return "unknown"
	}
}
