package drivers

import (
	"context"
	"fmt"

	"github.com/lyzr/agentflow/common/workflow"
)

// bodyStepBudget bounds a single loop-body walk.
const bodyStepBudget = 100

// bodyWalker runs the inline sub-graph between a loop head's body handle
// and its exit target. It mirrors the kernel's propagation rules but stays
// deliberately simpler: the next node is always the first outgoing edge,
// and a returned state replaces the iteration state instead of merging.
type bodyWalker struct {
	reg *Registry
	log Logger
}

// run walks from startID until it reaches stopID, an output or loop_end
// node, a dead end, or the step budget. It mutates wctx (the iteration
// context) and returns the final input value.
func (w *bodyWalker) run(ctx context.Context, startID, stopID string, wctx *workflow.Context) (interface{}, error) {
	idx := workflow.NewIndex(wctx.Graph)
	currentID := startID

	for steps := 0; currentID != "" && steps < bodyStepBudget; steps++ {
		if stopID != "" && currentID == stopID {
			break
		}
		node, ok := idx.Node(currentID)
		if !ok {
			if w.log != nil {
				w.log.Warn("loop body node not found", "node", currentID)
			}
			break
		}
		if node.Type == "output" || node.Type == "loop_end" {
			break
		}

		result := w.reg.Execute(ctx, node.Type, node, wctx)
		if result.Status != workflow.StatusOK {
			msg := result.Error
			if msg == "" {
				msg = "node execution failed"
			}
			return nil, fmt.Errorf("Node %s failed: %s", currentID, msg)
		}
		if result.HasOutput() {
			wctx.Input = result.Output
		}
		if result.State != nil {
			wctx.State = result.State
		}

		out := idx.Outgoing(currentID)
		if len(out) == 0 {
			break
		}
		currentID = out[0].Target
	}

	return wctx.Input, nil
}

// findHandleEdge locates the outgoing edge published on a named source
// handle ("body" or "exit" on loop heads).
func findHandleEdge(g *workflow.Graph, sourceID, handle string) *workflow.Edge {
	for i := range g.Edges {
		e := &g.Edges[i]
		if e.Source == sourceID && e.SourceHandle == handle {
			return e
		}
	}
	return nil
}
