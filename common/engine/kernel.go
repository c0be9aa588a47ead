package engine

import (
	"context"

	"github.com/lyzr/agentflow/common/drivers"
	"github.com/lyzr/agentflow/common/memstore"
	"github.com/lyzr/agentflow/common/workflow"
)

// Result is what an execution hands back to its caller.
type Result struct {
	Status      string                `json:"status"`
	Final       interface{}           `json:"final"`
	Trace       []workflow.TraceEntry `json:"trace"`
	Steps       int                   `json:"steps"`
	StartNodeID string                `json:"startNodeId,omitempty"`
	Error       string                `json:"error,omitempty"`
}

// Options tune a single execution.
type Options struct {
	// StartNodeID forces the start node instead of resolving one.
	StartNodeID string
	// MaxSteps overrides the step budget; 0 means the graph default of
	// len(nodes)+len(edges)+10.
	MaxSteps int
}

// Kernel is the sequential graph walker. It is stateless across
// executions and safe to share; per-execution state lives on the stack of
// Execute.
type Kernel struct {
	reg   *drivers.Registry
	store memstore.Store
	hooks Hooks
	log   drivers.Logger
}

// New creates a kernel. A nil hooks falls back to NopHooks.
func New(reg *drivers.Registry, store memstore.Store, hooks Hooks, log drivers.Logger) *Kernel {
	if hooks == nil {
		hooks = NopHooks{}
	}
	return &Kernel{reg: reg, store: store, hooks: hooks, log: log}
}

// Execute walks the graph from the resolved start node until it reaches an
// output node, runs out of edges, or exhausts the step budget.
//
// Per step: dispatch the node's driver, propagate state and output into the
// context, pick the next edge, record a trace entry. A parallel result
// hands off to the branch coordinator and resumes at the join node. Output
// values double as the running final value; an explicit final overrides it.
func (k *Kernel) Execute(ctx context.Context, g *workflow.Graph, wctx *workflow.Context, opts Options) Result {
	if g == nil || len(g.Nodes) == 0 {
		return Result{Status: workflow.StatusError, Error: "nodes are required", Trace: []workflow.TraceEntry{}}
	}
	if wctx == nil {
		wctx = workflow.NewContext()
	}
	wctx.EnsureState()
	wctx.Graph = g

	idx := workflow.NewIndex(g)
	start := resolveStart(g, idx, opts.StartNodeID)
	if start != nil {
		seedInput(start, wctx)
	}
	k.hooks.OnExecutionStart(g, opts.StartNodeID)

	maxSteps := opts.MaxSteps
	if maxSteps <= 0 {
		maxSteps = g.MaxSteps()
	}

	current := start
	steps := 0
	trace := []workflow.TraceEntry{}
	completed := []string{}
	var final interface{}

	for current != nil && steps < maxSteps {
		steps++
		node := current
		k.hooks.OnNodeStart(node, steps)

		stepCtx := wctx
		usedMemory, usedTools := []string(nil), []string(nil)
		if workflow.IsAgentType(node.Type) {
			stepCtx, usedMemory, usedTools = k.agentContext(ctx, node, wctx, g, idx)
		}
		inputSeen := stepCtx.Input

		resp := k.reg.Execute(ctx, node.Type, node, stepCtx)

		if resp.Status != workflow.StatusOK {
			if !node.ContinueOnError() {
				trace = append(trace, traceEntry(node, resp, nil, nil, usedMemory, usedTools, inputSeen))
				msg := resp.Error
				if msg == "" {
					msg = "node execution failed"
				}
				k.hooks.OnExecutionError(msg, trace, completed)
				return Result{
					Status:      workflow.StatusError,
					Error:       msg,
					Trace:       trace,
					Steps:       steps,
					StartNodeID: start.ID,
				}
			}
			resp = softenError(resp, inputSeen)
		}

		var next *workflow.Node
		if resp.Parallel {
			results, branchTrace := k.runParallel(ctx, node, wctx, g, idx)
			trace = append(trace, branchTrace...)
			steps += len(branchTrace)
			wctx.ParallelResults = results
			next = findJoin(idx, node)
			trace = append(trace, traceEntry(node, resp, nil, next, usedMemory, usedTools, inputSeen))
		} else {
			if resp.State != nil {
				mergeState(wctx.EnsureState(), resp.State)
			}
			if resp.HasOutput() {
				wctx.Input = resp.Output
				final = resp.Output
			}
			if resp.HasFinal() {
				final = resp.Final
			}
			var edge *workflow.Edge
			next, edge = selectNext(idx, node, resp)
			trace = append(trace, traceEntry(node, resp, edge, next, usedMemory, usedTools, inputSeen))
		}

		completed = append(completed, node.ID)
		k.hooks.OnNodeComplete(node, resp, completed, trace, steps)

		if node.Type == "output" {
			break
		}
		current = next
	}

	k.hooks.OnExecutionComplete(final, trace, completed, steps)

	startID := ""
	if start != nil {
		startID = start.ID
	}
	return Result{
		Status:      workflow.StatusOK,
		Final:       final,
		Trace:       trace,
		Steps:       steps,
		StartNodeID: startID,
	}
}

// resolveStart picks the start node: explicit id, first input node, first
// node without incoming edges, first node. In that order.
func resolveStart(g *workflow.Graph, idx *workflow.Index, startID string) *workflow.Node {
	if startID != "" {
		if n, ok := idx.Node(startID); ok {
			return n
		}
	}
	for i := range g.Nodes {
		if g.Nodes[i].Type == "input" {
			return &g.Nodes[i]
		}
	}
	for i := range g.Nodes {
		if idx.IncomingCount(g.Nodes[i].ID) == 0 {
			return &g.Nodes[i]
		}
	}
	return &g.Nodes[0]
}

// seedInput fills an empty context input from an input start node's
// configured value.
func seedInput(start *workflow.Node, wctx *workflow.Context) {
	if start.Type != "input" {
		return
	}
	if !workflow.IsEmptyValue(wctx.Input) {
		return
	}
	if start.Data == nil {
		return
	}
	if v, ok := start.Data["value"]; ok && v != nil {
		wctx.Input = v
	}
}

// softenError converts a hard driver error on an opted-in node into a
// pass-through soft error.
func softenError(resp workflow.DriverResponse, input interface{}) workflow.DriverResponse {
	soft := resp
	soft.Status = workflow.StatusOK
	soft.HadError = true
	soft.SetOutput(input)
	return soft
}

func mergeState(dst, src map[string]interface{}) {
	for key, v := range src {
		dst[key] = v
	}
}

func traceEntry(node *workflow.Node, resp workflow.DriverResponse, edge *workflow.Edge, next *workflow.Node, usedMemory, usedTools []string, input interface{}) workflow.TraceEntry {
	entry := workflow.TraceEntry{
		NodeID:  node.ID,
		Type:    node.Type,
		Result:  resp,
		Context: workflow.TraceContext{Input: input},
	}
	if edge != nil {
		entry.EdgeID = edge.ID
	}
	if next != nil {
		entry.NextNodeID = next.ID
	}
	if workflow.IsAgentType(node.Type) {
		entry.UsedMemory = usedMemory
		entry.UsedTools = usedTools
	}
	return entry
}
