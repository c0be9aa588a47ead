package drivers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/lyzr/agentflow/common/workflow"
)

// JSONValidatorDriver validates the flowing input against a JSON Schema
// from node data. Validation never hard-fails the walk: the response is
// always ok with "valid" and "errors" extras, and when route_on_validation
// is set the node routes to "valid" or "invalid" like a router would.
type JSONValidatorDriver struct{}

func (JSONValidatorDriver) Type() string { return "json_validator" }

func (JSONValidatorDriver) Execute(_ context.Context, node *workflow.Node, wctx *workflow.Context) workflow.DriverResponse {
	routeOn := node.DataBool("route_on_validation", false)

	decoded := wctx.Input
	if s, ok := wctx.Input.(string); ok {
		if err := json.Unmarshal([]byte(s), &decoded); err != nil {
			return validationResult(wctx.Input, false, []string{fmt.Sprintf("Invalid JSON input: %v", err)}, routeOn)
		}
	}

	schemaSrc, err := schemaSource(node)
	if err != nil {
		return validationResult(wctx.Input, false, []string{fmt.Sprintf("Invalid JSON schema: %v", err)}, routeOn)
	}
	schema, err := jsonschema.CompileString("schema.json", schemaSrc)
	if err != nil {
		return validationResult(wctx.Input, false, []string{fmt.Sprintf("Invalid JSON schema: %v", err)}, routeOn)
	}

	if err := schema.Validate(decoded); err != nil {
		return validationResult(wctx.Input, false, []string{formatValidationError(err)}, routeOn)
	}
	return validationResult(wctx.Input, true, []string{}, routeOn)
}

func schemaSource(node *workflow.Node) (string, error) {
	raw := dataValue(node, "schema")
	switch t := raw.(type) {
	case nil:
		return "{}", nil
	case string:
		return t, nil
	default:
		b, err := json.Marshal(t)
		if err != nil {
			return "", err
		}
		return string(b), nil
	}
}

func validationResult(input interface{}, valid bool, errs []string, routeOn bool) workflow.DriverResponse {
	r := workflow.OKResponse(input).WithExtra("valid", valid).WithExtra("errors", errs)
	if routeOn {
		if valid {
			r.Route = "valid"
		} else {
			r.Route = "invalid"
		}
	}
	return r
}

// formatValidationError reports the deepest cause as "<path>: <message>"
// with dotted instance paths, or "root" for top-level failures.
func formatValidationError(err error) string {
	var ve *jsonschema.ValidationError
	if !errors.As(err, &ve) {
		return fmt.Sprintf("Validation error: %v", err)
	}
	leaf := ve
	for len(leaf.Causes) > 0 {
		leaf = leaf.Causes[0]
	}
	path := strings.ReplaceAll(strings.TrimPrefix(leaf.InstanceLocation, "/"), "/", ".")
	if path == "" {
		path = "root"
	}
	return fmt.Sprintf("%s: %s", path, leaf.Message)
}
