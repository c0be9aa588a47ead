package workflow

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
)

// Node is a single typed node in a workflow graph. Data carries the
// type-specific configuration (model name, expression, operation, etc.)
// and is treated as immutable during an execution.
type Node struct {
	ID   string                 `json:"id"`
	Type string                 `json:"type"`
	Data map[string]interface{} `json:"data,omitempty"`
}

// Edge connects two nodes. SourceHandle and TargetHandle discriminate
// multi-output/input ports (e.g. yes/no on routers, body/exit on loops).
type Edge struct {
	ID           string `json:"id,omitempty"`
	Source       string `json:"source"`
	Target       string `json:"target"`
	SourceHandle string `json:"sourceHandle,omitempty"`
	TargetHandle string `json:"targetHandle,omitempty"`
}

// Graph is a directed graph of typed nodes. No acyclicity is required;
// cycle protection is step-budget based.
type Graph struct {
	Nodes []Node `json:"nodes"`
	Edges []Edge `json:"edges"`
}

// UnmarshalJSON accepts numeric or string node ids and normalizes them
// to their decimal string form, matching what graph editors emit.
func (n *Node) UnmarshalJSON(b []byte) error {
	var raw struct {
		ID   interface{}            `json:"id"`
		Type string                 `json:"type"`
		Data map[string]interface{} `json:"data"`
	}
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	n.ID = stringID(raw.ID)
	n.Type = raw.Type
	n.Data = raw.Data
	return nil
}

// UnmarshalJSON normalizes edge ids and endpoints the same way node ids are.
func (e *Edge) UnmarshalJSON(b []byte) error {
	var raw struct {
		ID           interface{} `json:"id"`
		Source       interface{} `json:"source"`
		Target       interface{} `json:"target"`
		SourceHandle string      `json:"sourceHandle"`
		TargetHandle string      `json:"targetHandle"`
	}
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	e.ID = stringID(raw.ID)
	e.Source = stringID(raw.Source)
	e.Target = stringID(raw.Target)
	e.SourceHandle = raw.SourceHandle
	e.TargetHandle = raw.TargetHandle
	return nil
}

func stringID(v interface{}) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case float64:
		if t == math.Trunc(t) && math.Abs(t) < 1e15 {
			return strconv.FormatInt(int64(t), 10)
		}
		return strconv.FormatFloat(t, 'f', -1, 64)
	case json.Number:
		return t.String()
	default:
		return fmt.Sprintf("%v", t)
	}
}

// DataString reads a string value from node data, with a default.
func (n *Node) DataString(key, def string) string {
	if n.Data == nil {
		return def
	}
	if v, ok := n.Data[key].(string); ok {
		return v
	}
	return def
}

// DataInt reads an integer value from node data, tolerating JSON numbers
// and numeric strings.
func (n *Node) DataInt(key string, def int) int {
	if n.Data == nil {
		return def
	}
	switch v := n.Data[key].(type) {
	case float64:
		return int(v)
	case int:
		return v
	case string:
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}

// DataFloat reads a float value from node data.
func (n *Node) DataFloat(key string, def float64) float64 {
	if n.Data == nil {
		return def
	}
	switch v := n.Data[key].(type) {
	case float64:
		return v
	case int:
		return float64(v)
	case string:
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

// DataBool reads a boolean value from node data.
func (n *Node) DataBool(key string, def bool) bool {
	if n.Data == nil {
		return def
	}
	if v, ok := n.Data[key].(bool); ok {
		return v
	}
	return def
}

// ContinueOnError reports whether the node opts into soft-error handling.
func (n *Node) ContinueOnError() bool {
	return n.DataBool("continue_on_error", false)
}

var agentTypes = map[string]bool{
	"agent":        true,
	"openai_agent": true,
	"claude_agent": true,
	"ollama_agent": true,
}

// IsAgentType reports whether the type string selects an agent driver.
func IsAgentType(nodeType string) bool {
	return agentTypes[nodeType]
}

// IsSideChannelType reports whether nodes of this type are consumed by the
// context builder instead of being walked as control flow.
func IsSideChannelType(nodeType string) bool {
	return nodeType == "memory" || nodeType == "tool"
}

// TypePriority ranks node types for ambiguous edge selection. Agents win,
// outputs lose.
func TypePriority(nodeType string) int {
	switch {
	case IsAgentType(nodeType):
		return 9
	case nodeType == "router":
		return 8
	case nodeType == "memory":
		return 7
	case nodeType == "output":
		return 1
	default:
		return 5
	}
}

// Index is a read-only lookup structure derived from a graph: node by id,
// outgoing edges by source, and incoming-edge counts by target.
type Index struct {
	nodes    map[string]*Node
	outgoing map[string][]*Edge
	incoming map[string]int
}

// NewIndex builds the lookup maps for a graph. Later duplicates of a node
// id are ignored so lookups stay deterministic; Validate catches the
// duplication itself.
func NewIndex(g *Graph) *Index {
	idx := &Index{
		nodes:    make(map[string]*Node, len(g.Nodes)),
		outgoing: make(map[string][]*Edge, len(g.Nodes)),
		incoming: make(map[string]int, len(g.Nodes)),
	}
	for i := range g.Nodes {
		n := &g.Nodes[i]
		if _, exists := idx.nodes[n.ID]; !exists {
			idx.nodes[n.ID] = n
		}
	}
	for i := range g.Edges {
		e := &g.Edges[i]
		idx.outgoing[e.Source] = append(idx.outgoing[e.Source], e)
		idx.incoming[e.Target]++
	}
	return idx
}

// Node returns the node with the given id.
func (idx *Index) Node(id string) (*Node, bool) {
	n, ok := idx.nodes[id]
	return n, ok
}

// Outgoing returns all edges whose source is the given node, in graph order.
func (idx *Index) Outgoing(id string) []*Edge {
	return idx.outgoing[id]
}

// IncomingCount returns the number of edges targeting the given node.
func (idx *Index) IncomingCount(id string) int {
	return idx.incoming[id]
}

// MaxSteps is the default step budget for walking a graph.
func (g *Graph) MaxSteps() int {
	return len(g.Nodes) + len(g.Edges) + 10
}
