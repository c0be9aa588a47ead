package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/lyzr/agentflow/common/workflow"
)

const (
	// branchStepBudget bounds a single parallel branch walk.
	branchStepBudget = 50

	// branchJoinTimeout bounds the wait for all branches of one fan-out.
	branchJoinTimeout = 300 * time.Second
)

type branchOutcome struct {
	result interface{}
	trace  []workflow.TraceEntry
	err    error
}

// runParallel fans the parallel node's control edges out onto goroutines,
// one branch per edge, each with an independent context (state deep-copied
// so branches never share mutation; the memory store is the only
// cross-branch channel). It waits for all branches up to the join timeout
// and returns per-branch results in branch-edge order plus the merged
// branch trace entries, also in branch order.
//
// A failed branch contributes nil to the results; its error lands in the
// trace and the branch status. Branches still running when the timeout
// fires are marked failed.
func (k *Kernel) runParallel(ctx context.Context, pnode *workflow.Node, wctx *workflow.Context, g *workflow.Graph, idx *workflow.Index) ([]interface{}, []workflow.TraceEntry) {
	branchEdges := controlEdges(idx, pnode.ID)
	if len(branchEdges) == 0 {
		return []interface{}{}, nil
	}

	type branchRun struct {
		id   string
		done chan branchOutcome
	}
	runs := make([]branchRun, len(branchEdges))

	for i, edge := range branchEdges {
		branchID := fmt.Sprintf("%s_branch_%d", pnode.ID, i)
		runs[i] = branchRun{id: branchID, done: make(chan branchOutcome, 1)}

		head, ok := idx.Node(edge.Target)
		if !ok {
			runs[i].done <- branchOutcome{err: fmt.Errorf("branch head %s not found", edge.Target)}
			k.hooks.OnBranchStatus(branchID, workflow.BranchError)
			continue
		}

		k.hooks.OnBranchStatus(branchID, workflow.BranchQueued)
		bctx := wctx.BranchCopy()

		go func(run branchRun, head *workflow.Node, bctx *workflow.Context) {
			defer func() {
				if rec := recover(); rec != nil {
					k.hooks.OnBranchStatus(run.id, workflow.BranchError)
					run.done <- branchOutcome{err: fmt.Errorf("%v", rec)}
				}
			}()
			k.hooks.OnBranchStatus(run.id, workflow.BranchRunning)
			out, entries, err := k.runBranch(ctx, head, bctx, g, idx)
			if err != nil {
				k.hooks.OnBranchStatus(run.id, workflow.BranchError)
			} else {
				k.hooks.OnBranchStatus(run.id, workflow.BranchOK)
			}
			run.done <- branchOutcome{result: out, trace: entries, err: err}
		}(runs[i], head, bctx)
	}

	deadline := time.NewTimer(branchJoinTimeout)
	defer deadline.Stop()

	outcomes := make([]branchOutcome, len(runs))
	expired := false
	for i := range runs {
		if expired {
			outcomes[i] = branchOutcome{err: errors.New("branch timed out")}
			k.hooks.OnBranchStatus(runs[i].id, workflow.BranchError)
			continue
		}
		select {
		case o := <-runs[i].done:
			outcomes[i] = o
		case <-deadline.C:
			expired = true
			outcomes[i] = branchOutcome{err: errors.New("branch timed out")}
			k.hooks.OnBranchStatus(runs[i].id, workflow.BranchError)
		case <-ctx.Done():
			expired = true
			outcomes[i] = branchOutcome{err: ctx.Err()}
			k.hooks.OnBranchStatus(runs[i].id, workflow.BranchError)
		}
	}

	results := make([]interface{}, len(outcomes))
	var merged []workflow.TraceEntry
	for i, o := range outcomes {
		merged = append(merged, o.trace...)
		if o.err != nil {
			if k.log != nil {
				k.log.Warn("parallel branch failed", "parallel", pnode.ID, "branch", runs[i].id, "error", o.err)
			}
			results[i] = nil
			continue
		}
		results[i] = o.result
	}
	return results, merged
}

// runBranch is the reduced kernel a branch goroutine runs: same step rules
// as Execute, but it stops at a join node (executed later by the outer
// walk, with every branch's output in hand), at an output node, or at a
// dead end. No per-node hooks fire inside a branch.
func (k *Kernel) runBranch(ctx context.Context, start *workflow.Node, bctx *workflow.Context, g *workflow.Graph, idx *workflow.Index) (interface{}, []workflow.TraceEntry, error) {
	current := start
	steps := 0
	var entries []workflow.TraceEntry
	var finalOut interface{}

	for current != nil && steps < branchStepBudget {
		steps++
		node := current

		if node.Type == "join" {
			break
		}

		stepCtx := bctx
		usedMemory, usedTools := []string(nil), []string(nil)
		if workflow.IsAgentType(node.Type) {
			stepCtx, usedMemory, usedTools = k.agentContext(ctx, node, bctx, g, idx)
		}
		inputSeen := stepCtx.Input

		resp := k.reg.Execute(ctx, node.Type, node, stepCtx)
		if resp.Status != workflow.StatusOK {
			if !node.ContinueOnError() {
				entries = append(entries, traceEntry(node, resp, nil, nil, usedMemory, usedTools, inputSeen))
				msg := resp.Error
				if msg == "" {
					msg = "node execution failed"
				}
				return nil, entries, errors.New(msg)
			}
			resp = softenError(resp, inputSeen)
		}

		if resp.State != nil {
			mergeState(bctx.EnsureState(), resp.State)
		}
		if resp.HasOutput() {
			bctx.Input = resp.Output
			finalOut = resp.Output
		}
		if resp.HasFinal() {
			finalOut = resp.Final
		}

		next, edge := selectNext(idx, node, resp)
		entries = append(entries, traceEntry(node, resp, edge, next, usedMemory, usedTools, inputSeen))

		if next == nil || node.Type == "output" {
			break
		}
		current = next
	}

	return finalOut, entries, nil
}

// findJoin locates the join node a fan-out converges on: a branch head
// that is itself a join, else the first join one edge past a branch head.
// Deeper joins are not searched; a fan-out without a reachable join simply
// ends the walk after its branches.
func findJoin(idx *workflow.Index, pnode *workflow.Node) *workflow.Node {
	for _, edge := range idx.Outgoing(pnode.ID) {
		target, ok := idx.Node(edge.Target)
		if !ok {
			continue
		}
		if target.Type == "join" {
			return target
		}
		for _, nextEdge := range idx.Outgoing(target.ID) {
			if nt, ok := idx.Node(nextEdge.Target); ok && nt.Type == "join" {
				return nt
			}
		}
	}
	return nil
}
