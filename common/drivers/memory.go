package drivers

import (
	"context"

	"github.com/lyzr/agentflow/common/memstore"
	"github.com/lyzr/agentflow/common/workflow"
)

// MemoryDriver persists a value into the shared memory store and mirrors
// it into the workflow state so downstream nodes can read it without a
// store round-trip. The value passes through as output.
type MemoryDriver struct {
	store memstore.Store
	log   Logger
}

// NewMemoryDriver creates a memory driver backed by the given store.
func NewMemoryDriver(store memstore.Store, log Logger) *MemoryDriver {
	return &MemoryDriver{store: store, log: log}
}

func (*MemoryDriver) Type() string { return "memory" }

func (d *MemoryDriver) Execute(ctx context.Context, node *workflow.Node, wctx *workflow.Context) workflow.DriverResponse {
	key := node.DataString("key", "memory")
	namespace := node.DataString("namespace", "")
	if namespace == "" {
		namespace = "default"
	}
	storeKey := memstore.Key(namespace, key)

	// An explicit "value" in the context wins over the flowing input.
	value := wctx.Input
	if v, ok := wctx.Extras["value"]; ok {
		value = v
	}

	previous, err := d.store.Get(ctx, storeKey)
	if err != nil && d.log != nil {
		d.log.Warn("memory read failed", "key", storeKey, "error", err)
	}
	if err := d.store.Set(ctx, storeKey, value); err != nil {
		return workflow.ErrorResponse("memory write failed: %v", err)
	}

	state := wctx.EnsureState()
	state[key] = value

	resp := workflow.OKResponse(value)
	resp.State = state
	return resp.WithExtra("previous", previous).WithExtra("stored", value)
}
