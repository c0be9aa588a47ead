package ratelimit

import (
	"strings"
	"testing"

	"github.com/lyzr/agentflow/common/workflow"
)

func graphWithTypes(types ...string) *workflow.Graph {
	g := &workflow.Graph{}
	for i, typ := range types {
		g.Nodes = append(g.Nodes, workflow.Node{ID: string(rune('a' + i)), Type: typ})
	}
	return g
}

func TestInspectWorkflowTiers(t *testing.T) {
	cases := []struct {
		name   string
		graph  *workflow.Graph
		tier   WorkflowTier
		agents int
	}{
		{"nil graph", nil, TierSimple, 0},
		{"no agents", graphWithTypes("input", "text_transform", "output"), TierSimple, 0},
		{"one agent", graphWithTypes("input", "openai_agent", "output"), TierStandard, 1},
		{"two agents", graphWithTypes("claude_agent", "ollama_agent"), TierStandard, 2},
		{"three agents", graphWithTypes("openai_agent", "claude_agent", "ollama_agent"), TierHeavy, 3},
		{"bare agent type counts", graphWithTypes("agent", "agent", "agent", "agent"), TierHeavy, 4},
		{"memory and tool are not agents", graphWithTypes("memory", "tool", "webhook"), TierSimple, 0},
	}
	for _, tc := range cases {
		profile := InspectWorkflow(tc.graph)
		if profile.Tier != tc.tier {
			t.Errorf("%s: tier %q, want %q", tc.name, profile.Tier, tc.tier)
		}
		if profile.AgentCount != tc.agents {
			t.Errorf("%s: agent count %d, want %d", tc.name, profile.AgentCount, tc.agents)
		}
		if profile.HasAgentNodes != (tc.agents > 0) {
			t.Errorf("%s: HasAgentNodes %v with %d agents", tc.name, profile.HasAgentNodes, tc.agents)
		}
	}

	profile := InspectWorkflow(graphWithTypes("input", "openai_agent", "output"))
	if profile.TotalNodes != 3 {
		t.Errorf("expected total node count 3, got %d", profile.TotalNodes)
	}
}

func TestTierBudgets(t *testing.T) {
	cases := []struct {
		tier   WorkflowTier
		limit  int64
		window int
	}{
		{TierSimple, 100, 60},
		{TierStandard, 20, 60},
		{TierHeavy, 5, 60},
	}
	for _, tc := range cases {
		if got := GetLimitForTier(tc.tier); got != tc.limit {
			t.Errorf("%s limit %d, want %d", tc.tier, got, tc.limit)
		}
		if got := GetWindowForTier(tc.tier); got != tc.window {
			t.Errorf("%s window %d, want %d", tc.tier, got, tc.window)
		}
	}

	// Unknown tiers get the most conservative budget.
	if got := GetLimitForTier(WorkflowTier("mystery")); got != 5 {
		t.Errorf("unknown tier limit %d, want heavy budget", got)
	}
	if got := GetWindowForTier(WorkflowTier("mystery")); got != 60 {
		t.Errorf("unknown tier window %d, want heavy window", got)
	}
}

func TestTierString(t *testing.T) {
	for tier, want := range map[WorkflowTier]string{
		TierSimple:            "simple",
		TierStandard:          "standard",
		TierHeavy:             "heavy",
		WorkflowTier("other"): "unknown",
	} {
		if got := tier.String(); got != want {
			t.Errorf("String(%q) = %q, want %q", string(tier), got, want)
		}
	}
}

func TestDecodeScriptReply(t *testing.T) {
	result, err := decodeScriptReply([]interface{}{int64(1), int64(3), int64(20), int64(0)})
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if !result.Allowed || result.CurrentCount != 3 || result.Limit != 20 || result.RetryAfterSeconds != 0 {
		t.Errorf("unexpected result: %+v", result)
	}

	result, err = decodeScriptReply([]interface{}{int64(0), int64(21), int64(20), int64(42)})
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if result.Allowed {
		t.Error("expected denial")
	}
	if result.RetryAfterSeconds != 42 {
		t.Errorf("retry after %d, want 42", result.RetryAfterSeconds)
	}

	for _, bad := range []interface{}{
		"not an array",
		[]interface{}{int64(1), int64(2)},
		[]interface{}{int64(1), "two", int64(3), int64(4)},
	} {
		if _, err := decodeScriptReply(bad); err == nil {
			t.Errorf("expected decode error for %v", bad)
		} else if !strings.Contains(err.Error(), "rate limit script reply") {
			t.Errorf("unexpected error for %v: %v", bad, err)
		}
	}
}

func TestRateLimitScriptEmbedded(t *testing.T) {
	for _, marker := range []string{"INCR", "EXPIRE", "TTL"} {
		if !strings.Contains(rateLimitScript, marker) {
			t.Errorf("embedded script missing %q", marker)
		}
	}
}
