// Package engine walks workflow graphs: it resolves a start node, steps
// through the graph dispatching drivers, assembles agent contexts from
// side-channel neighbors, fans parallel branches out onto goroutines and
// reports progress through hooks.
package engine

import "github.com/lyzr/agentflow/common/workflow"

// Hooks receives execution lifecycle callbacks from the kernel. The base
// kernel calls them inline on the walking goroutine, so implementations
// must be fast or hand off; PollingReporter hands off to an owner
// goroutine. Branch status callbacks may arrive from branch goroutines.
type Hooks interface {
	OnExecutionStart(g *workflow.Graph, startNodeID string)
	OnNodeStart(node *workflow.Node, step int)
	OnNodeComplete(node *workflow.Node, result workflow.DriverResponse, completed []string, trace []workflow.TraceEntry, step int)
	OnBranchStatus(branchID, status string)
	OnExecutionError(errMsg string, trace []workflow.TraceEntry, completed []string)
	OnExecutionComplete(final interface{}, trace []workflow.TraceEntry, completed []string, steps int)
}

// NopHooks is the no-op base. Embed it to override a subset.
type NopHooks struct{}

func (NopHooks) OnExecutionStart(*workflow.Graph, string) {}

func (NopHooks) OnNodeStart(*workflow.Node, int) {}

func (NopHooks) OnNodeComplete(*workflow.Node, workflow.DriverResponse, []string, []workflow.TraceEntry, int) {
}

func (NopHooks) OnBranchStatus(string, string) {}

func (NopHooks) OnExecutionError(string, []workflow.TraceEntry, []string) {}

func (NopHooks) OnExecutionComplete(interface{}, []workflow.TraceEntry, []string, int) {}
