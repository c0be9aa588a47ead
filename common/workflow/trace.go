package workflow

// TraceContext is the slice of the execution context recorded per step.
type TraceContext struct {
	Input interface{} `json:"input"`
}

// TraceEntry records one kernel step: which node ran, what it returned,
// which edge was taken and where the walk went next. UsedMemory and
// UsedTools list the side-channel node ids an agent step consumed.
type TraceEntry struct {
	NodeID     string         `json:"nodeId"`
	Type       string         `json:"type"`
	Result     DriverResponse `json:"result"`
	Context    TraceContext   `json:"context"`
	EdgeID     string         `json:"edgeId,omitempty"`
	NextNodeID string         `json:"nextNodeId,omitempty"`
	UsedMemory []string       `json:"usedMemory,omitempty"`
	UsedTools  []string       `json:"usedTools,omitempty"`
}
