package drivers

import (
	"context"

	"github.com/lyzr/agentflow/common/workflow"
)

// maxLoopIterations caps counter loops.
const maxLoopIterations = 10000

// LoopDriver runs a counter-based loop. The node publishes two source
// handles: "body" points at the first node of the loop body, "exit" at the
// continuation after the loop. Each iteration sub-walks the body inline
// with the counter exposed in the context extras; with pass_through the
// body output chains into the next iteration, otherwise per-iteration
// outputs are collected into a list.
type LoopDriver struct {
	reg *Registry
	log Logger
}

// NewLoopDriver creates a loop driver that dispatches body nodes through reg.
func NewLoopDriver(reg *Registry, log Logger) *LoopDriver {
	return &LoopDriver{reg: reg, log: log}
}

func (*LoopDriver) Type() string { return "loop" }

func (d *LoopDriver) Execute(ctx context.Context, node *workflow.Node, wctx *workflow.Context) workflow.DriverResponse {
	iterations := node.DataInt("iterations", 1)
	counterVar := node.DataString("counter_var", "i")
	startFrom := node.DataInt("start_from", 0)
	passThrough := node.DataBool("pass_through", true)

	if iterations < 0 {
		return workflow.ErrorResponse("Iterations must be non-negative")
	}
	if iterations > maxLoopIterations {
		return workflow.ErrorResponse("Iterations cannot exceed 10,000")
	}
	if wctx.Graph == nil {
		return workflow.ErrorResponse("Loop requires the workflow graph in context")
	}

	bodyEdge := findHandleEdge(wctx.Graph, node.ID, "body")
	exitEdge := findHandleEdge(wctx.Graph, node.ID, "exit")
	if bodyEdge == nil {
		if d.log != nil {
			d.log.Warn("loop has no body edge, passing through", "node", node.ID)
		}
		r := workflow.OKResponse(wctx.Input)
		r.Route = "exit"
		return r
	}
	stopID := ""
	if exitEdge != nil {
		stopID = exitEdge.Target
	}

	walker := &bodyWalker{reg: d.reg, log: d.log}
	result := wctx.Input
	var results []interface{}

	for i := startFrom; i < startFrom+iterations; i++ {
		iterCtx := wctx.Clone()
		if passThrough {
			iterCtx.Input = result
		}
		extras := iterCtx.EnsureExtras()
		extras[counterVar] = i
		extras["loop_index"] = i - startFrom
		extras["loop_counter"] = i
		extras["loop_total"] = iterations
		extras["is_first"] = i == startFrom
		extras["is_last"] = i == startFrom+iterations-1

		out, err := walker.run(ctx, bodyEdge.Target, stopID, iterCtx)
		if err != nil {
			resp := workflow.ErrorResponse("Loop iteration %d failed: %v", i, err)
			resp = resp.WithExtra("iteration", i)
			if passThrough {
				return resp.WithExtra("partial_results", result)
			}
			return resp.WithExtra("partial_results", results)
		}

		if passThrough {
			result = out
		} else {
			results = append(results, out)
		}
	}

	var output interface{}
	if passThrough {
		output = result
	} else {
		if results == nil {
			results = []interface{}{}
		}
		output = results
	}

	r := workflow.OKResponse(output)
	r.Route = "exit"
	return r.WithExtra("iterations", iterations)
}
