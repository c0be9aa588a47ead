package engine

import (
	"context"
	"encoding/json"
	"reflect"
	"sync"
	"testing"
	"time"

	"github.com/lyzr/agentflow/common/workflow"
)

type fakeCache struct {
	mu      sync.Mutex
	data    map[string][]byte
	lastTTL time.Duration
	sets    int
}

func newFakeCache() *fakeCache {
	return &fakeCache{data: make(map[string][]byte)}
}

func (c *fakeCache) Get(_ context.Context, key string) ([]byte, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	b, ok := c.data[key]
	if !ok {
		return nil, false, nil
	}
	return append([]byte(nil), b...), true, nil
}

func (c *fakeCache) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.data[key] = append([]byte(nil), value...)
	c.lastTTL = ttl
	c.sets++
	return nil
}

func (c *fakeCache) Delete(_ context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.data, key)
	return nil
}

func (c *fakeCache) Close() error { return nil }

func (c *fakeCache) setCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sets
}

func (c *fakeCache) ttl() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastTTL
}

type fakePublisher struct {
	mu       sync.Mutex
	channels []string
	payloads [][]byte
}

func (p *fakePublisher) Publish(_ context.Context, channel string, payload []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.channels = append(p.channels, channel)
	p.payloads = append(p.payloads, append([]byte(nil), payload...))
	return nil
}

func (p *fakePublisher) eventTypes(t *testing.T) []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	var types []string
	for _, b := range p.payloads {
		var m map[string]interface{}
		if err := json.Unmarshal(b, &m); err != nil {
			t.Fatalf("bad event payload: %v", err)
		}
		typ, _ := m["type"].(string)
		types = append(types, typ)
	}
	return types
}

func loadState(t *testing.T, c *fakeCache, id string) *workflow.ExecutionState {
	t.Helper()
	state, ok, err := LoadExecutionState(context.Background(), c, id)
	if err != nil {
		t.Fatalf("load state: %v", err)
	}
	if !ok {
		t.Fatalf("no cached state for %s", id)
	}
	return state
}

func okResult() workflow.DriverResponse {
	return workflow.DriverResponse{Status: workflow.StatusOK}
}

func softErrResult() workflow.DriverResponse {
	return workflow.DriverResponse{Status: workflow.StatusOK, HadError: true}
}

func TestReporterRecordsLifecycle(t *testing.T) {
	fc := newFakeCache()
	r := NewPollingReporter("exec-1", fc, nil, testLogger{t})
	defer r.Close()

	g := &workflow.Graph{Nodes: []workflow.Node{
		{ID: "in", Type: "input"},
		{ID: "out", Type: "output"},
	}}
	trace := []workflow.TraceEntry{{NodeID: "in", Type: "input"}}
	fullTrace := append(trace, workflow.TraceEntry{NodeID: "out", Type: "output"})

	r.OnExecutionStart(g, "req-start")
	r.OnNodeStart(&g.Nodes[0], 1)
	r.OnNodeComplete(&g.Nodes[0], okResult(), []string{"in"}, trace, 1)
	r.OnNodeStart(&g.Nodes[1], 2)
	r.OnNodeComplete(&g.Nodes[1], okResult(), []string{"in", "out"}, fullTrace, 2)
	r.OnExecutionComplete("done", fullTrace, []string{"in", "out"}, 2)

	state := loadState(t, fc, "exec-1")
	if state.Status != workflow.ExecutionCompleted {
		t.Fatalf("expected completed, got %q", state.Status)
	}
	if state.Final != "done" || state.Steps != 2 {
		t.Errorf("unexpected final snapshot: final=%v steps=%d", state.Final, state.Steps)
	}
	if !reflect.DeepEqual(state.CompletedNodes, []string{"in", "out"}) {
		t.Errorf("unexpected completed nodes: %v", state.CompletedNodes)
	}
	if len(state.Trace) != 2 {
		t.Errorf("expected 2 trace entries, got %d", len(state.Trace))
	}
	if state.TotalNodes != 2 {
		t.Errorf("expected total nodes from the graph, got %d", state.TotalNodes)
	}
	if state.StartNodeID != "req-start" {
		t.Errorf("expected the requested start id recorded, got %q", state.StartNodeID)
	}
	if state.CurrentNodeID != "" {
		t.Errorf("expected current node cleared at the end, got %q", state.CurrentNodeID)
	}
	if state.Timestamp <= 0 {
		t.Errorf("expected a write timestamp, got %v", state.Timestamp)
	}
	if fc.ttl() != executionTTL {
		t.Errorf("expected records written with the execution TTL, got %v", fc.ttl())
	}
}

func TestReporterAccumulatesSoftErrorNodes(t *testing.T) {
	fc := newFakeCache()
	r := NewPollingReporter("exec-2", fc, nil, testLogger{t})
	defer r.Close()

	g := &workflow.Graph{Nodes: []workflow.Node{
		{ID: "a", Type: "emit"},
		{ID: "b", Type: "emit"},
	}}

	r.OnExecutionStart(g, "")
	r.OnNodeComplete(&g.Nodes[0], softErrResult(), []string{"a"}, nil, 1)
	r.OnNodeComplete(&g.Nodes[1], okResult(), []string{"a", "b"}, nil, 2)
	r.OnNodeComplete(&g.Nodes[0], softErrResult(), []string{"a", "b", "a"}, nil, 3)
	r.OnExecutionComplete(nil, nil, []string{"a", "b", "a"}, 3)

	state := loadState(t, fc, "exec-2")
	if state.Status != workflow.ExecutionCompleted {
		t.Fatalf("expected completed, got %q", state.Status)
	}
	if !reflect.DeepEqual(state.ErrorNodes, []string{"a"}) {
		t.Errorf("expected deduplicated soft-error nodes, got %v", state.ErrorNodes)
	}
}

func TestReporterErrorSnapshotsCompletedAsErrorNodes(t *testing.T) {
	fc := newFakeCache()
	r := NewPollingReporter("exec-3", fc, nil, testLogger{t})
	defer r.Close()

	g := &workflow.Graph{Nodes: []workflow.Node{
		{ID: "a", Type: "emit"},
		{ID: "f", Type: "fail"},
	}}
	trace := []workflow.TraceEntry{{NodeID: "a"}, {NodeID: "f"}}

	r.OnExecutionStart(g, "")
	r.OnNodeStart(&g.Nodes[0], 1)
	r.OnNodeComplete(&g.Nodes[0], okResult(), []string{"a"}, trace[:1], 1)
	r.OnNodeStart(&g.Nodes[1], 2)
	r.OnExecutionError("exploded", trace, []string{"a"})

	state := loadState(t, fc, "exec-3")
	if state.Status != workflow.ExecutionFailed {
		t.Fatalf("expected error status, got %q", state.Status)
	}
	if state.Error != "exploded" {
		t.Errorf("unexpected error message: %q", state.Error)
	}
	if !reflect.DeepEqual(state.ErrorNodes, []string{"a"}) {
		t.Errorf("expected error nodes mirroring completed nodes, got %v", state.ErrorNodes)
	}
	if state.CurrentNodeID != "" {
		t.Errorf("expected current node cleared on failure, got %q", state.CurrentNodeID)
	}
	if len(state.Trace) != 2 {
		t.Errorf("expected the failing trace persisted, got %d entries", len(state.Trace))
	}
}

func TestReporterTracksBranchStatuses(t *testing.T) {
	fc := newFakeCache()
	r := NewPollingReporter("exec-4", fc, nil, testLogger{t})
	defer r.Close()

	g := &workflow.Graph{Nodes: []workflow.Node{{ID: "p", Type: "parallel"}}}

	r.OnExecutionStart(g, "")
	r.OnBranchStatus("p_branch_0", workflow.BranchQueued)
	r.OnBranchStatus("p_branch_0", workflow.BranchRunning)
	r.OnBranchStatus("p_branch_0", workflow.BranchOK)
	r.OnBranchStatus("p_branch_1", workflow.BranchQueued)
	r.OnBranchStatus("p_branch_1", workflow.BranchError)
	r.OnExecutionComplete(nil, nil, nil, 3)

	state := loadState(t, fc, "exec-4")
	want := map[string]string{"p_branch_0": workflow.BranchOK, "p_branch_1": workflow.BranchError}
	if !reflect.DeepEqual(state.ParallelStatus, want) {
		t.Errorf("unexpected branch statuses: %v", state.ParallelStatus)
	}
}

func TestReporterCloseDropsLateHooks(t *testing.T) {
	fc := newFakeCache()
	r := NewPollingReporter("exec-5", fc, nil, testLogger{t})

	g := &workflow.Graph{Nodes: []workflow.Node{{ID: "a", Type: "emit"}}}
	r.OnExecutionStart(g, "")
	r.OnExecutionComplete("x", nil, []string{"a"}, 1)
	r.Close()
	r.Close()

	writes := fc.setCount()
	r.OnNodeStart(&g.Nodes[0], 9)
	r.OnBranchStatus("p_branch_0", workflow.BranchOK)
	r.OnExecutionError("late", nil, nil)

	if fc.setCount() != writes {
		t.Errorf("expected no writes after close, got %d extra", fc.setCount()-writes)
	}
	state := loadState(t, fc, "exec-5")
	if state.Status != workflow.ExecutionCompleted || state.Final != "x" {
		t.Errorf("expected the terminal snapshot preserved, got %+v", state)
	}
}

func TestReporterPublishesEvents(t *testing.T) {
	fc := newFakeCache()
	pub := &fakePublisher{}
	r := NewPollingReporter("exec-6", fc, pub, testLogger{t})

	g := &workflow.Graph{Nodes: []workflow.Node{{ID: "a", Type: "emit"}}}
	r.OnExecutionStart(g, "")
	r.OnNodeStart(&g.Nodes[0], 1)
	r.OnExecutionComplete(nil, nil, nil, 1)
	r.Close()

	for _, ch := range pub.channels {
		if ch != "execution.events.exec-6" {
			t.Errorf("unexpected event channel %q", ch)
		}
	}
	want := []string{"execution_start", "node_start", "execution_complete"}
	if got := pub.eventTypes(t); !reflect.DeepEqual(got, want) {
		t.Errorf("unexpected event sequence: %v", got)
	}
}

func TestLoadExecutionStateMissing(t *testing.T) {
	state, ok, err := LoadExecutionState(context.Background(), newFakeCache(), "nope")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ok || state != nil {
		t.Errorf("expected a miss, got %v", state)
	}
	if ExecutionKey("nope") != "execution_nope" {
		t.Errorf("unexpected key format: %q", ExecutionKey("nope"))
	}
}
