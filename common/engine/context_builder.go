package engine

import (
	"context"

	"github.com/lyzr/agentflow/common/memstore"
	"github.com/lyzr/agentflow/common/workflow"
)

// agentContext assembles the enriched context an agent node executes
// against. It scans every edge incident to the node, in either direction:
// memory neighbors contribute their stored value under knowledge[key] plus
// a writable memory spec, tool neighbors become callable tool specs. The
// returned context is a clone; the enrichment never leaks into the walk.
//
// Returns the context plus the memory and tool node ids consumed, for the
// trace entry.
func (k *Kernel) agentContext(ctx context.Context, node *workflow.Node, wctx *workflow.Context, g *workflow.Graph, idx *workflow.Index) (*workflow.Context, []string, []string) {
	enriched := wctx.Clone()
	usedMemory := []string{}
	usedTools := []string{}

	knowledge := map[string]interface{}{}
	var toolSpecs []workflow.ToolSpec
	toolNodes := map[string]workflow.Node{}
	var memSpecs []workflow.MemorySpec
	memNodes := map[string]workflow.Node{}

	for i := range g.Edges {
		e := &g.Edges[i]
		otherID := ""
		switch node.ID {
		case e.Source:
			otherID = e.Target
		case e.Target:
			otherID = e.Source
		}
		if otherID == "" {
			continue
		}
		other, ok := idx.Node(otherID)
		if !ok {
			continue
		}

		switch other.Type {
		case "memory":
			key := other.DataString("key", "memory")
			namespace := other.DataString("namespace", "")
			if namespace == "" {
				namespace = "default"
			}
			val, err := k.store.Get(ctx, memstore.Key(namespace, key))
			if err != nil && k.log != nil {
				k.log.Debug("knowledge read failed", "node", other.ID, "error", err)
			}
			knowledge[key] = val
			usedMemory = append(usedMemory, other.ID)
			memSpecs = append(memSpecs, workflow.MemorySpec{NodeID: other.ID, Key: key, Namespace: namespace})
			memNodes[other.ID] = *other

		case "tool":
			name := other.DataString("label", "")
			if name == "" {
				name = "Tool " + other.ID
			}
			var arg interface{}
			if other.Data != nil {
				arg = other.Data["arg"]
			}
			toolSpecs = append(toolSpecs, workflow.ToolSpec{
				NodeID:    other.ID,
				Name:      name,
				Operation: other.DataString("operation", ""),
				Arg:       arg,
			})
			toolNodes[other.ID] = *other
			usedTools = append(usedTools, other.ID)
		}
	}

	if len(knowledge) > 0 {
		enriched.Knowledge = knowledge
	}
	if len(toolSpecs) > 0 {
		enriched.AgentTools = toolSpecs
		enriched.AgentToolNodes = toolNodes
	}
	if len(memSpecs) > 0 {
		enriched.AgentMemoryNodes = memSpecs
		enriched.AgentMemoryNodeMap = memNodes
	}
	return enriched, usedMemory, usedTools
}
