package engine

import "github.com/lyzr/agentflow/common/workflow"

// preferredHandles are the explicit data-flow handle ids a plain node's
// outgoing edge may carry.
var preferredHandles = map[string]bool{
	"s":       true,
	"out":     true,
	"write":   true,
	"default": true,
}

// controlEdges returns the node's outgoing edges whose targets take part in
// control flow. Edges into memory and tool nodes are side channels consumed
// by the context builder and never walked.
func controlEdges(idx *workflow.Index, nodeID string) []*workflow.Edge {
	var outs []*workflow.Edge
	for _, e := range idx.Outgoing(nodeID) {
		target, ok := idx.Node(e.Target)
		if !ok {
			continue
		}
		if workflow.IsSideChannelType(target.Type) {
			continue
		}
		outs = append(outs, e)
	}
	return outs
}

// selectNext picks the node to walk to after the given node produced the
// given result.
//
// Routing nodes (router, condition, json_validator when it routed) follow
// the edge whose sourceHandle matches result.route, falling back to the
// first control edge. Loop heads follow the matching handle with no
// fallback. Everything else prefers an explicit data-flow handle, then
// ranks ambiguous targets by type priority, then takes the first edge.
func selectNext(idx *workflow.Index, node *workflow.Node, resp workflow.DriverResponse) (*workflow.Node, *workflow.Edge) {
	outs := controlEdges(idx, node.ID)
	if len(outs) == 0 {
		return nil, nil
	}

	switch {
	case node.Type == "router" || node.Type == "condition":
		return routeEdge(idx, resp.Route, outs, true)
	case node.Type == "json_validator" && resp.Route != "":
		return routeEdge(idx, resp.Route, outs, true)
	case node.Type == "loop" || node.Type == "for_each":
		return routeEdge(idx, resp.Route, outs, false)
	}
	return preferredEdge(idx, outs)
}

// routeEdge matches result.route against edge sourceHandles.
func routeEdge(idx *workflow.Index, route string, outs []*workflow.Edge, fallbackFirst bool) (*workflow.Node, *workflow.Edge) {
	if route != "" {
		for _, e := range outs {
			if e.SourceHandle != route {
				continue
			}
			if n, ok := idx.Node(e.Target); ok {
				return n, e
			}
		}
	}
	if fallbackFirst {
		if n, ok := idx.Node(outs[0].Target); ok {
			return n, outs[0]
		}
	}
	return nil, nil
}

// preferredEdge resolves a plain node's next edge.
func preferredEdge(idx *workflow.Index, outs []*workflow.Edge) (*workflow.Node, *workflow.Edge) {
	var chosen *workflow.Edge
	for _, e := range outs {
		if preferredHandles[e.SourceHandle] {
			chosen = e
			break
		}
	}

	if chosen == nil && len(outs) > 1 {
		chosen = outs[0]
		best := targetPriority(idx, chosen)
		for _, e := range outs[1:] {
			if p := targetPriority(idx, e); p > best {
				chosen, best = e, p
			}
		}
	}
	if chosen == nil {
		chosen = outs[0]
	}

	n, ok := idx.Node(chosen.Target)
	if !ok {
		return nil, nil
	}
	return n, chosen
}

func targetPriority(idx *workflow.Index, e *workflow.Edge) int {
	target, ok := idx.Node(e.Target)
	if !ok {
		return 0
	}
	return workflow.TypePriority(target.Type)
}
