package drivers

import (
	"context"
	"regexp"
	"strings"
	"sync"

	"github.com/google/cel-go/cel"

	"github.com/lyzr/agentflow/common/workflow"
)

// ConditionDriver evaluates a sandboxed expression against the context and
// routes to "yes" or "no". Expressions are written in a friendly surface
// syntax ("input contains 'urgent'", "state.count >= 3 and params.tier ==
// 'premium'") that is rewritten to CEL before compilation.
//
// An empty expression routes to "no". Evaluation failures also route to
// "no" with an error recorded in the response; the run keeps going either
// way.
type ConditionDriver struct {
	cache map[string]cel.Program
	mu    sync.RWMutex
}

// NewConditionDriver creates a condition driver with a compiled-program cache.
func NewConditionDriver() *ConditionDriver {
	return &ConditionDriver{cache: make(map[string]cel.Program)}
}

func (*ConditionDriver) Type() string { return "condition" }

func (d *ConditionDriver) Execute(_ context.Context, node *workflow.Node, wctx *workflow.Context) workflow.DriverResponse {
	expression := node.DataString("expression", "")
	if expression == "" {
		// No expression, default to "no"
		return workflow.DriverResponse{Status: workflow.StatusOK, Route: "no"}
	}

	result, err := d.evaluate(expression, wctx)
	if err != nil {
		r := workflow.DriverResponse{Status: workflow.StatusOK, Route: "no"}
		r.Error = "Expression evaluation failed: " + err.Error()
		return r
	}

	route := "no"
	if result {
		route = "yes"
	}
	return workflow.DriverResponse{Status: workflow.StatusOK, Route: route}
}

func (d *ConditionDriver) evaluate(expression string, wctx *workflow.Context) (bool, error) {
	prg, err := d.program(preprocessExpression(expression))
	if err != nil {
		return false, err
	}

	state := wctx.State
	if state == nil {
		state = map[string]interface{}{}
	}
	params := wctx.Params
	if params == nil {
		params = map[string]interface{}{}
	}

	out, _, err := prg.Eval(map[string]interface{}{
		"input":  wctx.Input,
		"state":  state,
		"params": params,
	})
	if err != nil {
		return false, err
	}
	return truthy(out.Value()), nil
}

// program returns a compiled CEL program, caching by source so hot
// conditions compile once per process.
func (d *ConditionDriver) program(src string) (cel.Program, error) {
	d.mu.RLock()
	prg, exists := d.cache[src]
	d.mu.RUnlock()
	if exists {
		return prg, nil
	}

	// Cross-type comparisons matter because JSON decoding yields float64
	// while expression literals are ints.
	env, err := cel.NewEnv(
		cel.Variable("input", cel.DynType),
		cel.Variable("state", cel.MapType(cel.StringType, cel.DynType)),
		cel.Variable("params", cel.MapType(cel.StringType, cel.DynType)),
		cel.CrossTypeNumericComparisons(true),
	)
	if err != nil {
		return nil, err
	}
	ast, issues := env.Compile(src)
	if issues != nil && issues.Err() != nil {
		return nil, issues.Err()
	}
	prg, err = env.Program(ast)
	if err != nil {
		return nil, err
	}

	d.mu.Lock()
	d.cache[src] = prg
	d.mu.Unlock()
	return prg, nil
}

var (
	containsRe   = regexp.MustCompile(`(\w+(?:\.\w+)*)\s+contains\s+(["'])(.*?)(["'])`)
	startswithRe = regexp.MustCompile(`(\w+(?:\.\w+)*)\s+startswith\s+(["'])(.*?)(["'])`)
	endswithRe   = regexp.MustCompile(`(\w+(?:\.\w+)*)\s+endswith\s+(["'])(.*?)(["'])`)

	andRe   = regexp.MustCompile(`\band\b`)
	orRe    = regexp.MustCompile(`\bor\b`)
	notRe   = regexp.MustCompile(`\bnot\s+`)
	trueRe  = regexp.MustCompile(`\bTrue\b`)
	falseRe = regexp.MustCompile(`\bFalse\b`)
	noneRe  = regexp.MustCompile(`\bNone\b`)
	lenRe   = regexp.MustCompile(`\blen\s*\(`)
	strRe   = regexp.MustCompile(`\bstr\s*\(`)
	floatRe = regexp.MustCompile(`\bfloat\s*\(`)
)

// preprocessExpression rewrites the friendly surface syntax to CEL. The
// infix string operators are rewritten first so their quoted argument is
// captured intact; keyword rewrites then skip over string literals.
func preprocessExpression(expr string) string {
	expr = containsRe.ReplaceAllString(expr, `$1.contains($2$3$4)`)
	expr = startswithRe.ReplaceAllString(expr, `$1.startsWith($2$3$4)`)
	expr = endswithRe.ReplaceAllString(expr, `$1.endsWith($2$3$4)`)

	return mapOutsideStrings(expr, func(seg string) string {
		seg = andRe.ReplaceAllString(seg, "&&")
		seg = orRe.ReplaceAllString(seg, "||")
		seg = notRe.ReplaceAllString(seg, "!")
		seg = trueRe.ReplaceAllString(seg, "true")
		seg = falseRe.ReplaceAllString(seg, "false")
		seg = noneRe.ReplaceAllString(seg, "null")
		seg = lenRe.ReplaceAllString(seg, "size(")
		seg = strRe.ReplaceAllString(seg, "string(")
		seg = floatRe.ReplaceAllString(seg, "double(")
		return seg
	})
}

// mapOutsideStrings applies f to every segment of expr that lies outside
// single- or double-quoted string literals; the literals themselves are
// copied through verbatim.
func mapOutsideStrings(expr string, f func(string) string) string {
	var b strings.Builder
	start := 0
	for i := 0; i < len(expr); i++ {
		c := expr[i]
		if c != '"' && c != '\'' {
			continue
		}
		b.WriteString(f(expr[start:i]))
		j := i + 1
		for j < len(expr) {
			if expr[j] == '\\' {
				j += 2
				continue
			}
			if expr[j] == c {
				j++
				break
			}
			j++
		}
		b.WriteString(expr[i:j])
		i = j - 1
		start = j
	}
	b.WriteString(f(expr[start:]))
	return b.String()
}

// truthy coerces an evaluation result to a boolean the way dynamically
// typed condition languages do: empty strings, zero numbers and empty
// collections are false.
func truthy(v interface{}) bool {
	switch t := v.(type) {
	case nil:
		return false
	case bool:
		return t
	case string:
		return t != ""
	case int64:
		return t != 0
	case uint64:
		return t != 0
	case float64:
		return t != 0
	case []interface{}:
		return len(t) > 0
	case map[string]interface{}:
		return len(t) > 0
	default:
		return true
	}
}
