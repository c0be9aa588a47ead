package workflow

// Execution statuses as seen by polling clients.
const (
	ExecutionRunning   = "running"
	ExecutionCompleted = "completed"
	ExecutionFailed    = "error"
)

// Parallel branch statuses.
const (
	BranchQueued  = "queued"
	BranchRunning = "running"
	BranchOK      = "ok"
	BranchError   = "error"
)

// ExecutionState is the progress record kept in the shared cache under
// execution_<id> while an asynchronous execution runs, and the terminal
// snapshot afterwards until the TTL expires.
type ExecutionState struct {
	Status         string            `json:"status"`
	CurrentNodeID  string            `json:"currentNodeId,omitempty"`
	CompletedNodes []string          `json:"completedNodes"`
	ErrorNodes     []string          `json:"errorNodes"`
	Trace          []TraceEntry      `json:"trace"`
	Steps          int               `json:"steps"`
	Final          interface{}       `json:"final,omitempty"`
	Error          string            `json:"error,omitempty"`
	Timestamp      float64           `json:"timestamp"`
	ParallelStatus map[string]string `json:"parallelStatus,omitempty"`
	TotalNodes     int               `json:"totalNodes,omitempty"`
	StartNodeID    string            `json:"startNodeId,omitempty"`
}

// NewExecutionState returns a fresh running record.
func NewExecutionState() *ExecutionState {
	return &ExecutionState{
		Status:         ExecutionRunning,
		CompletedNodes: []string{},
		ErrorNodes:     []string{},
		Trace:          []TraceEntry{},
	}
}
