package raft

import (
	"github.com/kartikbazzad/raftauction/pkg/logger"
)

// applyLoop is the dedicated apply goroutine. lastApplied is owned
// exclusively here, never touched by the mutex-guarded RPC-handling
// critical path. It drains applyCh, walks lastApplied up to the last-seen
// commitIndex, and applies each entry to the state machine, resolving any
// leader-local pending command waiting on that index.
func (n *Node) applyLoop() {
	defer n.wg.Done()
	for {
		select {
		case <-n.stopCh:
			return
		case <-n.applyCh:
			n.drainApply()
		}
	}
}

func (n *Node) drainApply() {
	for {
		n.mu.Lock()
		if n.lastApplied >= n.commitIndex {
			n.mu.Unlock()
			return
		}
		idx := n.lastApplied + 1
		entry, ok := n.store.Get(idx)
		n.mu.Unlock()
		if !ok {
			// the entry was truncated out from under us by a conflicting
			// leader before we got to apply it; nothing to do but stop.
			return
		}

		result := n.fsm.Apply(entry)

		n.mu.Lock()
		n.lastApplied = idx
		n.metrics.entryApplied()
		pc, hasPending := n.pending[idx]
		if hasPending {
			delete(n.pending, idx)
		}
		n.mu.Unlock()

		if hasPending && !pc.resolved {
			pc.resolved = true
			select {
			case pc.resultCh <- ApplyOutcome{Value: result}:
			default:
			}
		}

		logger.Debug("raft: applied entry", "node", n.id, "index", idx)
	}
}
