package drivers

import (
	"context"
	"strings"

	"github.com/lyzr/agentflow/common/workflow"
)

// ToolDriver runs the small built-in operations a tool node can be
// configured with. Unrecognized operations echo the call params, which
// keeps agent function-call round trips observable end to end.
type ToolDriver struct{}

func (ToolDriver) Type() string { return "tool" }

func (ToolDriver) Execute(_ context.Context, node *workflow.Node, wctx *workflow.Context) workflow.DriverResponse {
	operation := node.DataString("operation", "echo")
	arg := node.DataString("arg", "")
	label := node.DataString("label", "Tool")

	var out interface{}
	input, isString := wctx.Input.(string)
	switch {
	case operation == "uppercase" && isString:
		out = strings.ToUpper(input)
	case operation == "lowercase" && isString:
		out = strings.ToLower(input)
	case operation == "append" && isString:
		out = input + arg
	default:
		params := wctx.Params
		if params == nil {
			params = map[string]interface{}{}
		}
		out = map[string]interface{}{"echo": params}
	}

	return workflow.OKResponse(out).WithExtra("tool", label)
}
