package validation

import (
	"fmt"
	"strings"

	"github.com/lyzr/agentflow/common/workflow"
)

// maxAgentNodesPerPatch bounds how many agent nodes one patch may add.
// Each agent node implies recurring LLM spend.
const maxAgentNodesPerPatch = 5

// patchableRoots are the document fields a patch may touch. The
// editable view of a stored workflow is {name, description, nodes,
// edges}; everything else (id, api_key, timestamps) is off limits.
var patchableRoots = map[string]bool{
	"name":        true,
	"description": true,
	"nodes":       true,
	"edges":       true,
}

// PatchValidator screens RFC 6902 operations before they are applied
// to a stored workflow. It rejects shapes that would corrupt the
// definition; graph-level validation runs afterwards on the patched
// result.
type PatchValidator struct{}

// NewPatchValidator creates a new patch validator
func NewPatchValidator() *PatchValidator {
	return &PatchValidator{}
}

// ValidateOperations checks every operation in the patch document
func (v *PatchValidator) ValidateOperations(operations []map[string]interface{}) error {
	agentAdds := 0

	for i, op := range operations {
		if err := v.validateOperation(op, i); err != nil {
			return err
		}
		if isAgentNodeAdd(op) {
			agentAdds++
		}
	}

	if agentAdds > maxAgentNodesPerPatch {
		return fmt.Errorf("patch adds %d agent nodes, limit is %d per patch", agentAdds, maxAgentNodesPerPatch)
	}
	return nil
}

func (v *PatchValidator) validateOperation(op map[string]interface{}, index int) error {
	kind, ok := op["op"].(string)
	if !ok {
		return fmt.Errorf("operation %d: missing or invalid 'op' field", index)
	}
	path, ok := op["path"].(string)
	if !ok {
		return fmt.Errorf("operation %d: missing or invalid 'path' field", index)
	}
	if !patchableRoots[pathRoot(path)] {
		return fmt.Errorf("operation %d: path %q is outside the editable fields", index, path)
	}

	switch kind {
	case "add", "replace":
		value, ok := op["value"]
		if !ok {
			return fmt.Errorf("operation %d: 'value' required for %s", index, kind)
		}
		if isNodeEntryPath(path) {
			return v.validateNodeValue(value, index)
		}
		return nil

	case "remove":
		return nil

	default:
		return fmt.Errorf("operation %d: unsupported op %q", index, kind)
	}
}

// validateNodeValue checks the shape of a node being added or replaced
func (v *PatchValidator) validateNodeValue(value interface{}, index int) error {
	node, ok := value.(map[string]interface{})
	if !ok {
		return fmt.Errorf("operation %d: node value must be an object, got %T", index, value)
	}

	if _, ok := node["id"].(string); !ok {
		return fmt.Errorf("operation %d: node needs a string 'id'", index)
	}
	if _, ok := node["type"].(string); !ok {
		return fmt.Errorf("operation %d: node needs a string 'type'", index)
	}

	if data, exists := node["data"]; exists {
		if _, ok := data.(map[string]interface{}); !ok {
			return fmt.Errorf("operation %d: node 'data' must be an object, got %T", index, data)
		}
	}
	return nil
}

// pathRoot extracts the first segment of a JSON pointer
func pathRoot(path string) string {
	trimmed := strings.TrimPrefix(path, "/")
	if i := strings.IndexByte(trimmed, '/'); i >= 0 {
		return trimmed[:i]
	}
	return trimmed
}

// isNodeEntryPath matches paths that target a whole node entry
// (/nodes/- or /nodes/<index>), not a field inside one.
func isNodeEntryPath(path string) bool {
	rest, ok := strings.CutPrefix(path, "/nodes/")
	if !ok {
		return false
	}
	return rest != "" && !strings.Contains(rest, "/")
}

// isAgentNodeAdd reports whether op appends an agent node
func isAgentNodeAdd(op map[string]interface{}) bool {
	if kind, _ := op["op"].(string); kind != "add" {
		return false
	}
	path, _ := op["path"].(string)
	if !isNodeEntryPath(path) {
		return false
	}
	node, ok := op["value"].(map[string]interface{})
	if !ok {
		return false
	}
	nodeType, _ := node["type"].(string)
	return workflow.IsAgentType(nodeType)
}
