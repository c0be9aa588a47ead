package drivers

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/lyzr/agentflow/common/workflow"
)

// JoinDriver merges the branch results a parallel fan-out produced. The
// kernel populates context.parallel_results in branch order before the
// join node runs.
//
// merge_strategy selects how results combine:
//
//	list    all results in order, nested lists flattened one level (default)
//	concat  string concatenation
//	join    string concatenation with a separator
//	first   first branch result
//	last    last branch result
//	merge   shallow map merge, later branches win
type JoinDriver struct{}

func (JoinDriver) Type() string { return "join" }

func (JoinDriver) Execute(_ context.Context, node *workflow.Node, wctx *workflow.Context) workflow.DriverResponse {
	strategy := node.DataString("merge_strategy", "list")
	separator := node.DataString("separator", ",")
	return workflow.OKResponse(mergeResults(wctx.ParallelResults, strategy, separator))
}

func mergeResults(results []interface{}, strategy, separator string) interface{} {
	if len(results) == 0 {
		return nil
	}

	switch strategy {
	case "first":
		return results[0]

	case "last":
		return results[len(results)-1]

	case "concat":
		var b strings.Builder
		for _, r := range results {
			b.WriteString(stringify(r))
		}
		return b.String()

	case "join":
		parts := make([]string, len(results))
		for i, r := range results {
			parts[i] = stringify(r)
		}
		return strings.Join(parts, separator)

	case "merge":
		merged := make(map[string]interface{})
		for _, r := range results {
			if m, ok := r.(map[string]interface{}); ok {
				for k, v := range m {
					merged[k] = v
				}
			}
		}
		return merged

	default: // list
		out := make([]interface{}, 0, len(results))
		for _, r := range results {
			if nested, ok := r.([]interface{}); ok {
				out = append(out, nested...)
			} else {
				out = append(out, r)
			}
		}
		return out
	}
}

// stringify renders a value for string merges and prompts. nil becomes
// empty, structured values render as JSON.
func stringify(v interface{}) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	default:
		if b, err := json.Marshal(v); err == nil {
			return string(b)
		}
		return fmt.Sprintf("%v", t)
	}
}
