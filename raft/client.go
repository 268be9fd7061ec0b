package raft

import (
	"context"

	"github.com/kartikbazzad/raftauction/wire"
)

// Submit accepts a client command for replication. It appends the command
// to this node's log if — and only if — this node is currently LEADER,
// then blocks until the entry commits and is applied, ctx is done, or this
// node steps down before that happens.
//
// The three client-visible failure kinds are distinguished via
// ErrorKind(err): "NOT_LEADER" (hint on ClientError.LeaderHint), "DEPOSED",
// "TIMEOUT".
func (n *Node) Submit(ctx context.Context, cmd []byte) (ApplyOutcome, error) {
	n.mu.Lock()
	if n.stopped {
		n.mu.Unlock()
		return ApplyOutcome{}, ErrDeposed
	}
	if n.role != Leader {
		hint := n.currentLeader
		n.mu.Unlock()
		return ApplyOutcome{}, errNotLeader(hint)
	}

	term := n.store.CurrentTerm()
	idx := n.store.LastIndex() + 1
	entry := wire.LogEntry{Term: term, Index: uint64(idx), Command: cmd}
	if err := n.store.Append(entry); err != nil {
		n.mu.Unlock()
		return ApplyOutcome{}, err
	}

	resultCh := make(chan ApplyOutcome, 1)
	n.pending[idx] = &pendingCommand{resultCh: resultCh}

	if len(n.peerIDs) == 0 {
		n.updateCommitIndexLocked()
	} else {
		for _, p := range n.peerIDs {
			if n.matchIndex[p] == idx-1 {
				// this peer was already caught up: push the new entry now
				// instead of waiting for its heartbeat-timeout to fire.
				peer := p
				n.resetHeartbeatTimerLocked(peer)
				n.submitSendLocked(func() { n.sendAppendEntriesTo(peer, term) })
			}
		}
	}
	n.mu.Unlock()

	select {
	case outcome := <-resultCh:
		return outcome, outcome.Err
	case <-ctx.Done():
		n.mu.Lock()
		if pc, ok := n.pending[idx]; ok && !pc.resolved {
			pc.resolved = true
			delete(n.pending, idx)
		}
		n.mu.Unlock()
		return ApplyOutcome{}, ErrTimeout
	}
}
