package drivers

import (
	"context"
	"encoding/json"

	"github.com/lyzr/agentflow/common/workflow"
)

// ForEachDriver iterates the flowing input as a list, sub-walking the
// "body" handle once per item with the item exposed as the iteration
// input and under item_var in the extras. Same dual-handle convention as
// LoopDriver.
//
// A JSON string input is decoded first when it parses as a list; any other
// non-list input is treated as a single item.
type ForEachDriver struct {
	reg *Registry
	log Logger
}

// NewForEachDriver creates a for-each driver that dispatches body nodes
// through reg.
func NewForEachDriver(reg *Registry, log Logger) *ForEachDriver {
	return &ForEachDriver{reg: reg, log: log}
}

func (*ForEachDriver) Type() string { return "for_each" }

func (d *ForEachDriver) Execute(ctx context.Context, node *workflow.Node, wctx *workflow.Context) workflow.DriverResponse {
	itemVar := node.DataString("item_var", "item")
	collectResults := node.DataBool("collect_results", true)
	maxIterations := node.DataInt("max_iterations", 1000)

	if wctx.Graph == nil {
		return workflow.ErrorResponse("For Each requires the workflow graph in context")
	}

	bodyEdge := findHandleEdge(wctx.Graph, node.ID, "body")
	exitEdge := findHandleEdge(wctx.Graph, node.ID, "exit")
	if bodyEdge == nil {
		if d.log != nil {
			d.log.Warn("for_each has no body edge, passing through", "node", node.ID)
		}
		r := workflow.OKResponse(wctx.Input)
		r.Route = "exit"
		return r
	}
	stopID := ""
	if exitEdge != nil {
		stopID = exitEdge.Target
	}

	items := iterationItems(wctx.Input)
	if maxIterations >= 0 && len(items) > maxIterations {
		items = items[:maxIterations]
	}

	walker := &bodyWalker{reg: d.reg, log: d.log}
	results := []interface{}{}
	total := len(items)

	for i, item := range items {
		iterCtx := wctx.Clone()
		iterCtx.Input = item
		extras := iterCtx.EnsureExtras()
		extras[itemVar] = item
		extras["loop_index"] = i
		extras["loop_total"] = total
		extras["is_first"] = i == 0
		extras["is_last"] = i == total-1

		out, err := walker.run(ctx, bodyEdge.Target, stopID, iterCtx)
		if err != nil {
			resp := workflow.ErrorResponse("Loop iteration %d failed: %v", i, err)
			return resp.WithExtra("iteration", i).WithExtra("partial_results", results)
		}
		if collectResults {
			results = append(results, out)
		}
	}

	var output interface{}
	if collectResults {
		output = results
	} else {
		output = wctx.Input
	}

	r := workflow.OKResponse(output)
	r.Route = "exit"
	return r.WithExtra("iterations", len(results))
}

// iterationItems coerces the input into the list to iterate.
func iterationItems(input interface{}) []interface{} {
	switch t := input.(type) {
	case nil:
		return nil
	case []interface{}:
		return t
	case string:
		var decoded []interface{}
		if err := json.Unmarshal([]byte(t), &decoded); err == nil {
			return decoded
		}
		return []interface{}{t}
	default:
		return []interface{}{t}
	}
}
