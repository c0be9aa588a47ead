package workflow

import "encoding/json"

// ToolSpec describes a tool node connected to an agent, in the shape agent
// drivers expose to the LLM.
type ToolSpec struct {
	NodeID    string      `json:"nodeId"`
	Name      string      `json:"name"`
	Operation string      `json:"operation,omitempty"`
	Arg       interface{} `json:"arg,omitempty"`
}

// MemorySpec describes a memory node connected to an agent.
type MemorySpec struct {
	NodeID    string `json:"nodeId"`
	Key       string `json:"key"`
	Namespace string `json:"namespace"`
}

// Context is the mutable per-execution state threaded through the kernel.
// Input and State carry data between nodes; the agent_* fields are filled
// by the context builder for agent nodes only. Extras holds driver-specific
// keys (loop counters and the like) and is flattened into the JSON object.
//
// Graph is injected by the kernel before driver dispatch so sub-walking
// drivers (loop, for_each) can see the topology; it never crosses the wire.
type Context struct {
	Input              interface{}            `json:"input"`
	Params             map[string]interface{} `json:"params,omitempty"`
	Condition          bool                   `json:"condition,omitempty"`
	State              map[string]interface{} `json:"state,omitempty"`
	ParallelResults    []interface{}          `json:"parallel_results,omitempty"`
	Knowledge          map[string]interface{} `json:"knowledge,omitempty"`
	AgentTools         []ToolSpec             `json:"agent_tools,omitempty"`
	AgentToolNodes     map[string]Node        `json:"agent_tool_nodes,omitempty"`
	AgentMemoryNodes   []MemorySpec           `json:"agent_memory_nodes,omitempty"`
	AgentMemoryNodeMap map[string]Node        `json:"agent_memory_node_map,omitempty"`

	Extras map[string]interface{} `json:"-"`
	Graph  *Graph                 `json:"-"`
}

// NewContext returns an empty context with an initialized state map.
func NewContext() *Context {
	return &Context{State: make(map[string]interface{})}
}

// EnsureState initializes the state map if needed and returns it.
func (c *Context) EnsureState() map[string]interface{} {
	if c.State == nil {
		c.State = make(map[string]interface{})
	}
	return c.State
}

// EnsureExtras initializes the extras map if needed and returns it.
func (c *Context) EnsureExtras() map[string]interface{} {
	if c.Extras == nil {
		c.Extras = make(map[string]interface{})
	}
	return c.Extras
}

// Clone returns a shallow copy: top-level fields are copied, nested maps
// stay shared. Extras gets its own map so callers can add keys without
// leaking them into the parent.
func (c *Context) Clone() *Context {
	cp := *c
	if c.Extras != nil {
		cp.Extras = make(map[string]interface{}, len(c.Extras))
		for k, v := range c.Extras {
			cp.Extras[k] = v
		}
	}
	return &cp
}

// BranchCopy returns an independent context for a parallel branch: the
// top level is copied like Clone, but State is deep-copied so branches
// never share mutable state with the parent or each other.
func (c *Context) BranchCopy() *Context {
	cp := c.Clone()
	cp.ParallelResults = nil
	if c.State != nil {
		cp.State = deepCopyMap(c.State)
	}
	return cp
}

func deepCopyMap(m map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(m))
	for k, v := range m {
		out[k] = deepCopyValue(v)
	}
	return out
}

func deepCopyValue(v interface{}) interface{} {
	switch t := v.(type) {
	case map[string]interface{}:
		return deepCopyMap(t)
	case []interface{}:
		out := make([]interface{}, len(t))
		for i, item := range t {
			out[i] = deepCopyValue(item)
		}
		return out
	default:
		return t
	}
}

// IsEmptyValue mirrors the truthiness test used to decide whether an input
// still needs seeding: nil, empty string, empty list or empty map.
func IsEmptyValue(v interface{}) bool {
	switch t := v.(type) {
	case nil:
		return true
	case string:
		return t == ""
	case []interface{}:
		return len(t) == 0
	case map[string]interface{}:
		return len(t) == 0
	default:
		return false
	}
}

// contextKeys are the first-class fields; anything else lands in Extras.
var contextKeys = map[string]bool{
	"input":                 true,
	"params":                true,
	"condition":             true,
	"state":                 true,
	"parallel_results":      true,
	"knowledge":             true,
	"agent_tools":           true,
	"agent_tool_nodes":      true,
	"agent_memory_nodes":    true,
	"agent_memory_node_map": true,
}

type contextAlias Context

// UnmarshalJSON decodes the typed fields and collects unknown keys into
// Extras so driver-specific context values survive the HTTP and queue
// boundaries.
func (c *Context) UnmarshalJSON(b []byte) error {
	var alias contextAlias
	if err := json.Unmarshal(b, &alias); err != nil {
		return err
	}
	*c = Context(alias)

	var raw map[string]json.RawMessage
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	for k, v := range raw {
		if contextKeys[k] {
			continue
		}
		var val interface{}
		if err := json.Unmarshal(v, &val); err != nil {
			return err
		}
		if c.Extras == nil {
			c.Extras = make(map[string]interface{})
		}
		c.Extras[k] = val
	}
	return nil
}

// MarshalJSON flattens Extras into the top-level object. First-class
// fields win on key collisions.
func (c *Context) MarshalJSON() ([]byte, error) {
	m := make(map[string]interface{}, len(c.Extras)+10)
	for k, v := range c.Extras {
		if contextKeys[k] {
			continue
		}
		m[k] = v
	}
	m["input"] = c.Input
	if c.Params != nil {
		m["params"] = c.Params
	}
	if c.Condition {
		m["condition"] = c.Condition
	}
	if c.State != nil {
		m["state"] = c.State
	}
	if c.ParallelResults != nil {
		m["parallel_results"] = c.ParallelResults
	}
	if c.Knowledge != nil {
		m["knowledge"] = c.Knowledge
	}
	if c.AgentTools != nil {
		m["agent_tools"] = c.AgentTools
	}
	if c.AgentToolNodes != nil {
		m["agent_tool_nodes"] = c.AgentToolNodes
	}
	if c.AgentMemoryNodes != nil {
		m["agent_memory_nodes"] = c.AgentMemoryNodes
	}
	if c.AgentMemoryNodeMap != nil {
		m["agent_memory_node_map"] = c.AgentMemoryNodeMap
	}
	return json.Marshal(m)
}
