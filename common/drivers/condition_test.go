package drivers

import (
	"context"
	"strings"
	"testing"

	"github.com/lyzr/agentflow/common/workflow"
)

func evalCondition(t *testing.T, d *ConditionDriver, expression string, wctx *workflow.Context) workflow.DriverResponse {
	t.Helper()
	node := &workflow.Node{ID: "c1", Type: "condition", Data: map[string]interface{}{
		"expression": expression,
	}}
	return d.Execute(context.Background(), node, wctx)
}

func TestConditionRoutes(t *testing.T) {
	d := NewConditionDriver()

	wctx := workflow.NewContext()
	wctx.Input = "this is urgent please"
	wctx.State = map[string]interface{}{"count": float64(5), "active": true}
	wctx.Params = map[string]interface{}{"tier": "premium"}

	cases := []struct {
		expr string
		want string
	}{
		{`input contains 'urgent'`, "yes"},
		{`input contains 'calm'`, "no"},
		{`input startswith 'this'`, "yes"},
		{`input endswith 'please'`, "yes"},
		{`state.count >= 3`, "yes"},
		{`state.count > 10`, "no"},
		{`params.tier == 'premium'`, "yes"},
		{`state.active and state.count >= 3`, "yes"},
		{`state.count > 10 or params.tier == 'premium'`, "yes"},
		{`not state.active`, "no"},
		{`len(input) > 3`, "yes"},
		{`input contains 'urgent' and params.tier == 'premium'`, "yes"},
	}
	for _, tc := range cases {
		resp := evalCondition(t, d, tc.expr, wctx)
		if resp.Status != workflow.StatusOK {
			t.Errorf("%s: unexpected status %q (%s)", tc.expr, resp.Status, resp.Error)
			continue
		}
		if resp.Error != "" {
			t.Errorf("%s: unexpected error %q", tc.expr, resp.Error)
		}
		if resp.Route != tc.want {
			t.Errorf("%s: route %q, want %q", tc.expr, resp.Route, tc.want)
		}
	}
}

func TestConditionEmptyExpressionRoutesNo(t *testing.T) {
	d := NewConditionDriver()
	node := &workflow.Node{ID: "c1", Type: "condition"}

	resp := d.Execute(context.Background(), node, workflow.NewContext())
	if resp.Status != workflow.StatusOK || resp.Route != "no" {
		t.Fatalf("expected ok/no, got %q/%q", resp.Status, resp.Route)
	}
	if resp.Error != "" {
		t.Errorf("empty expression should not report an error, got %q", resp.Error)
	}
}

func TestConditionMalformedExpressionRoutesNoWithError(t *testing.T) {
	d := NewConditionDriver()
	wctx := workflow.NewContext()
	wctx.Input = "x"

	resp := evalCondition(t, d, `input >>>`, wctx)
	if resp.Status != workflow.StatusOK {
		t.Fatalf("malformed expression must not abort, got status %q", resp.Status)
	}
	if resp.Route != "no" {
		t.Errorf("expected no route, got %q", resp.Route)
	}
	if !strings.HasPrefix(resp.Error, "Expression evaluation failed:") {
		t.Errorf("expected evaluation failure message, got %q", resp.Error)
	}
}

func TestConditionTruthinessCoercion(t *testing.T) {
	d := NewConditionDriver()

	wctx := workflow.NewContext()
	wctx.Input = "abc"
	if resp := evalCondition(t, d, `input`, wctx); resp.Route != "yes" {
		t.Errorf("non-empty string should be truthy, got %q", resp.Route)
	}

	wctx.Input = ""
	if resp := evalCondition(t, d, `input`, wctx); resp.Route != "no" {
		t.Errorf("empty string should be falsy, got %q", resp.Route)
	}

	wctx.Input = float64(0)
	if resp := evalCondition(t, d, `input`, wctx); resp.Route != "no" {
		t.Errorf("zero should be falsy, got %q", resp.Route)
	}
}

func TestConditionKeywordsInsideStringsSurvive(t *testing.T) {
	d := NewConditionDriver()
	wctx := workflow.NewContext()
	wctx.Input = "fish and chips"

	resp := evalCondition(t, d, `input contains 'and chips'`, wctx)
	if resp.Error != "" {
		t.Fatalf("literal containing keywords mangled: %q", resp.Error)
	}
	if resp.Route != "yes" {
		t.Errorf("expected yes, got %q", resp.Route)
	}
}

func TestPreprocessExpression(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{`input contains 'x'`, `input.contains('x')`},
		{`input startswith "a" and input endswith "z"`, `input.startsWith("a") && input.endsWith("z")`},
		{`not state.done or params.force`, `!state.done || params.force`},
		{`len(input) > 2`, `size(input) > 2`},
		{`state.flag == True`, `state.flag == true`},
		{`state.missing == None`, `state.missing == null`},
	}
	for _, tc := range cases {
		if got := preprocessExpression(tc.in); got != tc.want {
			t.Errorf("preprocess(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestConditionCachesPrograms(t *testing.T) {
	d := NewConditionDriver()
	wctx := workflow.NewContext()
	wctx.Input = "hello"

	for i := 0; i < 3; i++ {
		if resp := evalCondition(t, d, `input contains 'ell'`, wctx); resp.Route != "yes" {
			t.Fatalf("iteration %d: route %q", i, resp.Route)
		}
	}
	if len(d.cache) != 1 {
		t.Errorf("expected one cached program, got %d", len(d.cache))
	}
}
