package engine

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"time"

	"github.com/lyzr/agentflow/common/cache"
	"github.com/lyzr/agentflow/common/drivers"
	"github.com/lyzr/agentflow/common/workflow"
)

const (
	executionKeyPrefix = "execution_"
	executionTTL       = 300 * time.Second
	eventChannelPrefix = "execution.events."

	cacheWriteTimeout = 5 * time.Second
)

// ExecutionKey is the cache key holding an execution's progress record.
func ExecutionKey(executionID string) string {
	return executionKeyPrefix + executionID
}

// EventChannel is the pub/sub channel carrying an execution's lifecycle
// events.
func EventChannel(executionID string) string {
	return eventChannelPrefix + executionID
}

// EventChannelPattern matches every execution's event channel. Fanout
// consumers PSUBSCRIBE to it.
const EventChannelPattern = eventChannelPrefix + "*"

// ExecutionIDFromChannel recovers the execution id from an event channel
// name. Returns "" for names outside the event namespace.
func ExecutionIDFromChannel(channel string) string {
	if !strings.HasPrefix(channel, eventChannelPrefix) {
		return ""
	}
	return channel[len(eventChannelPrefix):]
}

// Publisher pushes lifecycle events to interested consumers. The redis
// client satisfies it; a nil publisher disables events.
type Publisher interface {
	Publish(ctx context.Context, channel string, payload []byte) error
}

// PollingReporter persists ExecutionState to the shared cache so clients
// can poll GET /execution/<id>/status, and mirrors node lifecycle events
// onto a pub/sub channel.
//
// All state mutations funnel through one owner goroutine fed by a channel,
// so read-modify-write cycles never interleave even when branch goroutines
// report concurrently. Non-terminal hook calls are fire-and-forget; each
// carries a full snapshot, so a dropped update is superseded by the next
// one. Terminal writes block until the cache write lands.
type PollingReporter struct {
	executionID string
	cache       cache.Cache
	pub         Publisher
	log         drivers.Logger

	mu      sync.Mutex
	closed  bool
	updates chan reporterUpdate
	done    chan struct{}
}

type reporterUpdate struct {
	apply func(*workflow.ExecutionState)
	ack   chan struct{}
}

// NewPollingReporter starts the owner goroutine. Callers must Close the
// reporter once the execution is finished to flush pending updates.
func NewPollingReporter(executionID string, c cache.Cache, pub Publisher, log drivers.Logger) *PollingReporter {
	r := &PollingReporter{
		executionID: executionID,
		cache:       c,
		pub:         pub,
		log:         log,
		updates:     make(chan reporterUpdate, 64),
		done:        make(chan struct{}),
	}
	go r.run()
	return r
}

func (r *PollingReporter) run() {
	defer close(r.done)
	state := workflow.NewExecutionState()
	for u := range r.updates {
		u.apply(state)
		state.Timestamp = float64(time.Now().UnixNano()) / 1e9
		r.write(state)
		if u.ack != nil {
			close(u.ack)
		}
	}
}

func (r *PollingReporter) write(state *workflow.ExecutionState) {
	b, err := json.Marshal(state)
	if err != nil {
		if r.log != nil {
			r.log.Error("marshal execution state failed", "execution", r.executionID, "error", err)
		}
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), cacheWriteTimeout)
	defer cancel()
	if err := r.cache.Set(ctx, ExecutionKey(r.executionID), b, executionTTL); err != nil && r.log != nil {
		r.log.Warn("progress cache write failed", "execution", r.executionID, "error", err)
	}
}

// enqueue hands an update to the owner goroutine. Best-effort updates are
// dropped when the queue is full or the reporter is closed; terminal
// updates block until applied and written.
func (r *PollingReporter) enqueue(apply func(*workflow.ExecutionState), terminal bool) {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	if !terminal {
		select {
		case r.updates <- reporterUpdate{apply: apply}:
		default:
		}
		r.mu.Unlock()
		return
	}
	ack := make(chan struct{})
	r.updates <- reporterUpdate{apply: apply, ack: ack}
	r.mu.Unlock()
	<-ack
}

// Close stops the owner goroutine after draining pending updates. Hook
// calls arriving afterwards (a straggling branch goroutine) are dropped.
func (r *PollingReporter) Close() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true
	close(r.updates)
	r.mu.Unlock()
	<-r.done
}

func (r *PollingReporter) publishEvent(event string, fields map[string]interface{}) {
	if r.pub == nil {
		return
	}
	payload := map[string]interface{}{
		"type":        event,
		"executionId": r.executionID,
		"timestamp":   float64(time.Now().UnixNano()) / 1e9,
	}
	for k, v := range fields {
		payload[k] = v
	}
	b, err := json.Marshal(payload)
	if err != nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), cacheWriteTimeout)
	defer cancel()
	// best effort; pollers never depend on events
	_ = r.pub.Publish(ctx, EventChannel(r.executionID), b)
}

func (r *PollingReporter) OnExecutionStart(g *workflow.Graph, startNodeID string) {
	total := len(g.Nodes)
	r.enqueue(func(s *workflow.ExecutionState) {
		s.Status = workflow.ExecutionRunning
		s.TotalNodes = total
		s.CurrentNodeID = ""
		s.CompletedNodes = []string{}
		s.ErrorNodes = []string{}
		s.Trace = []workflow.TraceEntry{}
		s.StartNodeID = startNodeID
	}, false)
	r.publishEvent("execution_start", map[string]interface{}{"totalNodes": total})
}

func (r *PollingReporter) OnNodeStart(node *workflow.Node, step int) {
	nodeID := node.ID
	r.enqueue(func(s *workflow.ExecutionState) {
		s.CurrentNodeID = nodeID
		s.Steps = step
	}, false)
	r.publishEvent("node_start", map[string]interface{}{"nodeId": nodeID, "step": step})
}

func (r *PollingReporter) OnNodeComplete(node *workflow.Node, result workflow.DriverResponse, completed []string, trace []workflow.TraceEntry, step int) {
	nodeID := node.ID
	hadError := result.HadError
	completedCopy := append([]string(nil), completed...)
	traceCopy := append([]workflow.TraceEntry(nil), trace...)
	r.enqueue(func(s *workflow.ExecutionState) {
		if hadError && !containsID(s.ErrorNodes, nodeID) {
			s.ErrorNodes = append(s.ErrorNodes, nodeID)
		}
		s.CurrentNodeID = ""
		s.CompletedNodes = completedCopy
		s.Trace = traceCopy
		s.Steps = step
	}, false)
	r.publishEvent("node_complete", map[string]interface{}{"nodeId": nodeID, "step": step, "hadError": hadError})
}

func (r *PollingReporter) OnBranchStatus(branchID, status string) {
	r.enqueue(func(s *workflow.ExecutionState) {
		if s.ParallelStatus == nil {
			s.ParallelStatus = make(map[string]string)
		}
		s.ParallelStatus[branchID] = status
	}, false)
}

func (r *PollingReporter) OnExecutionError(errMsg string, trace []workflow.TraceEntry, completed []string) {
	completedCopy := append([]string(nil), completed...)
	traceCopy := append([]workflow.TraceEntry(nil), trace...)
	r.enqueue(func(s *workflow.ExecutionState) {
		s.Status = workflow.ExecutionFailed
		s.Error = errMsg
		s.CurrentNodeID = ""
		s.ErrorNodes = completedCopy
		s.Trace = traceCopy
	}, true)
	r.publishEvent("execution_error", map[string]interface{}{"error": errMsg})
}

func (r *PollingReporter) OnExecutionComplete(final interface{}, trace []workflow.TraceEntry, completed []string, steps int) {
	completedCopy := append([]string(nil), completed...)
	traceCopy := append([]workflow.TraceEntry(nil), trace...)
	r.enqueue(func(s *workflow.ExecutionState) {
		s.Status = workflow.ExecutionCompleted
		s.Final = final
		s.CurrentNodeID = ""
		s.CompletedNodes = completedCopy
		s.Trace = traceCopy
		s.Steps = steps
	}, true)
	r.publishEvent("execution_complete", map[string]interface{}{"steps": steps})
}

// LoadExecutionState reads an execution's progress record from the cache.
func LoadExecutionState(ctx context.Context, c cache.Cache, executionID string) (*workflow.ExecutionState, bool, error) {
	b, ok, err := c.Get(ctx, ExecutionKey(executionID))
	if err != nil || !ok {
		return nil, false, err
	}
	var state workflow.ExecutionState
	if err := json.Unmarshal(b, &state); err != nil {
		return nil, false, err
	}
	return &state, true, nil
}

func containsID(list []string, id string) bool {
	for _, v := range list {
		if v == id {
			return true
		}
	}
	return false
}
