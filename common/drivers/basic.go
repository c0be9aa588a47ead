package drivers

import (
	"context"

	"github.com/lyzr/agentflow/common/workflow"
)

// InputDriver passes the execution input through untouched. It exists so
// graphs can anchor their entry point on an explicit node.
type InputDriver struct{}

func (InputDriver) Type() string { return "input" }

func (InputDriver) Execute(_ context.Context, _ *workflow.Node, wctx *workflow.Context) workflow.DriverResponse {
	return workflow.OKResponse(wctx.Input)
}

// OutputDriver marks the current input as the workflow's final value.
// The kernel halts after an output node.
type OutputDriver struct{}

func (OutputDriver) Type() string { return "output" }

func (OutputDriver) Execute(_ context.Context, _ *workflow.Node, wctx *workflow.Context) workflow.DriverResponse {
	r := workflow.DriverResponse{Status: workflow.StatusOK}
	r.SetFinal(wctx.Input)
	return r
}

// RouterDriver picks the yes or no path from the context's condition flag.
type RouterDriver struct{}

func (RouterDriver) Type() string { return "router" }

func (RouterDriver) Execute(_ context.Context, _ *workflow.Node, wctx *workflow.Context) workflow.DriverResponse {
	route := "no"
	if wctx.Condition {
		route = "yes"
	}
	return workflow.DriverResponse{Status: workflow.StatusOK, Route: route}
}

// ParallelDriver signals the kernel to fan out. The input passes through
// unchanged so every branch starts from the same value; the kernel handles
// cloning contexts and collecting results for the join node.
type ParallelDriver struct{}

func (ParallelDriver) Type() string { return "parallel" }

func (ParallelDriver) Execute(_ context.Context, _ *workflow.Node, wctx *workflow.Context) workflow.DriverResponse {
	r := workflow.OKResponse(wctx.Input)
	r.Parallel = true
	return r
}
