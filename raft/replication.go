package raft

import (
	"errors"
	"sort"

	"github.com/kartikbazzad/raftauction/pkg/logger"
	"github.com/kartikbazzad/raftauction/wire"
)

// ErrSnapshotNotImplemented is returned by InstallSnapshot. Log compaction
// is future work: wire.OpSnapshot/SnapshotRequest/SnapshotReply are
// reserved on the wire, but no node ever sends one yet.
var ErrSnapshotNotImplemented = errors.New("raft: InstallSnapshot not implemented")

// InstallSnapshot handles an incoming Snapshot RPC. Always rejects.
func (n *Node) InstallSnapshot(args wire.SnapshotRequest) (wire.SnapshotReply, error) {
	n.mu.Lock()
	term := n.store.CurrentTerm()
	n.mu.Unlock()
	return wire.SnapshotReply{SenderID: n.id, Term: term}, ErrSnapshotNotImplemented
}

// AppendEntries handles an incoming AppendEntries RPC: a prevLogIndex/
// prevLogTerm consistency check followed by a conflict truncate-then-append
// loop. lastIndex is computed as prevLogIndex+len(entries) up front, before
// it is used anywhere. The apply step is a signal to the dedicated apply
// goroutine rather than a synchronous fsm.Apply call.
func (n *Node) AppendEntries(args wire.AppendEntriesRequest) wire.AppendEntriesReply {
	n.mu.Lock()
	defer n.mu.Unlock()

	currentTerm := n.store.CurrentTerm()
	if args.Term < currentTerm {
		return wire.AppendEntriesReply{SenderID: n.id, Term: currentTerm, IsResponse: true, Success: false, MatchIndex: n.commitIndex}
	}

	if args.Term > currentTerm {
		n.stepDownLocked(args.Term)
		currentTerm = args.Term
	} else if n.role == Candidate {
		// A peer became leader for this term while we were also a candidate:
		// concede without bumping the term.
		n.role = Follower
		n.electionTimer.cancel()
		for _, t := range n.heartbeatTimers {
			t.cancel()
		}
		n.metrics.setRole(n.id, Follower)
	}

	n.currentLeader = args.LeaderID
	n.resetLeaderTimerLocked()

	if args.PrevLogIndex >= 0 {
		t, ok := n.store.TermAt(args.PrevLogIndex)
		if !ok || t != args.PrevLogTerm {
			return wire.AppendEntriesReply{SenderID: n.id, Term: currentTerm, IsResponse: true, Success: false, MatchIndex: n.commitIndex}
		}
	}

	for i, newEntry := range args.Entries {
		idx := args.PrevLogIndex + int64(i) + 1
		existing, ok := n.store.Get(idx)
		switch {
		case !ok:
			if err := n.store.Append(newEntry); err != nil {
				logger.Error("raft: append entry", "node", n.id, "index", idx, "err", err)
			}
		case existing.Term != newEntry.Term:
			// A leader never overwrites its own log; this node is a follower
			// reconciling a conflicting suffix.
			if err := n.store.TruncateFrom(idx); err != nil {
				logger.Error("raft: truncate log", "node", n.id, "index", idx, "err", err)
			}
			n.abandonPendingFromLocked(idx)
			if err := n.store.Append(newEntry); err != nil {
				logger.Error("raft: append entry", "node", n.id, "index", idx, "err", err)
			}
		default:
			// identical entry already present: a harmless retransmit
		}
	}

	lastIndex := args.PrevLogIndex + int64(len(args.Entries))

	// Capping at lastIndex instead of taking args.LeaderCommit outright only
	// advances commitIndex over entries this call actually appended; that's
	// safe here because sendAppendEntriesTo always ships the leader's full
	// log tail, so lastIndex is never behind the leader's own commitIndex at
	// send time. A transport that reordered or split that tail could commit
	// a follower past an entry it never received, so this falls apart the
	// day AppendEntries RPCs stop carrying the whole suffix.
	if args.LeaderCommit > n.commitIndex {
		if args.LeaderCommit < lastIndex {
			n.commitIndex = args.LeaderCommit
		} else {
			n.commitIndex = lastIndex
		}
		n.metrics.setCommitIndex(n.commitIndex)
		n.signalApply()
	}

	return wire.AppendEntriesReply{SenderID: n.id, Term: currentTerm, IsResponse: true, Success: true, MatchIndex: lastIndex}
}

// abandonPendingFromLocked resolves any leader-local pending command whose
// log index is being truncated away with ErrDeposed (design note §9: "or on
// log truncation"). Caller must hold n.mu.
func (n *Node) abandonPendingFromLocked(fromIndex int64) {
	for idx, pc := range n.pending {
		if idx < fromIndex || pc.resolved {
			continue
		}
		pc.resolved = true
		select {
		case pc.resultCh <- ApplyOutcome{Err: ErrDeposed}:
		default:
		}
		delete(n.pending, idx)
	}
}

// sendAppendEntriesTo sends one AppendEntries RPC to peer, carrying every
// entry from nextIndex[peer] onward (or none, for a pure heartbeat). Split
// into a per-peer send so the heartbeat-timeout can re-drive exactly the
// peer that is behind instead of re-broadcasting to everyone.
func (n *Node) sendAppendEntriesTo(peer wire.NodeId, term uint64) {
	n.mu.Lock()
	if n.stopped || n.role != Leader || n.store.CurrentTerm() != term {
		n.mu.Unlock()
		return
	}
	addr, ok := n.peerAddrs[peer]
	if !ok {
		n.mu.Unlock()
		return
	}
	nextIdx := n.nextIndex[peer]
	prevLogIndex := nextIdx - 1
	var prevLogTerm uint64
	if prevLogIndex >= 0 {
		prevLogTerm, _ = n.store.TermAt(prevLogIndex)
	}
	entries := n.store.Slice(nextIdx)
	leaderCommit := n.commitIndex
	n.mu.Unlock()

	args := wire.AppendEntriesRequest{
		SenderID:     n.id,
		Term:         term,
		LeaderID:     n.id,
		PrevLogIndex: prevLogIndex,
		PrevLogTerm:  prevLogTerm,
		Entries:      entries,
		LeaderCommit: leaderCommit,
	}

	reply, err := n.transport.SendAppendEntries(addr, args)
	if err != nil {
		return // the heartbeat-timeout will retry this peer
	}

	n.mu.Lock()
	defer n.mu.Unlock()
	n.handleAppendEntriesReplyLocked(peer, term, reply)
}

func (n *Node) handleAppendEntriesReplyLocked(peer wire.NodeId, term uint64, reply wire.AppendEntriesReply) {
	if n.stopped || n.role != Leader || n.store.CurrentTerm() != term {
		return // replication round is obsolete
	}
	if reply.Term > n.store.CurrentTerm() {
		n.stepDownLocked(reply.Term)
		return
	}

	if reply.Success {
		if reply.MatchIndex > n.matchIndex[peer] {
			n.matchIndex[peer] = reply.MatchIndex
		}
		n.nextIndex[peer] = reply.MatchIndex + 1
		n.updateCommitIndexLocked()

		if n.store.LastIndex() >= n.nextIndex[peer] {
			// peer is still behind: push the rest immediately instead of
			// waiting for the next heartbeat-timeout.
			peerID := peer
			n.resetHeartbeatTimerLocked(peerID)
			n.submitSendLocked(func() { n.sendAppendEntriesTo(peerID, term) })
		}
		return
	}

	if n.nextIndex[peer] > 0 {
		n.nextIndex[peer]--
	}
	peerID := peer
	n.submitSendLocked(func() { n.sendAppendEntriesTo(peerID, term) })
}

// updateCommitIndexLocked advances commitIndex to the highest index
// replicated to a majority of nodes whose entry's term equals the leader's
// current term — an entry from a prior term is never committed by
// replica count alone. Uses a sorted-matchIndex median, the standard Raft
// formulation. Caller must hold n.mu.
func (n *Node) updateCommitIndexLocked() {
	if n.role != Leader {
		return
	}
	match := make([]int64, 0, len(n.peerIDs)+1)
	match = append(match, n.store.LastIndex()) // the leader's own log is always fully matched
	for _, p := range n.peerIDs {
		match = append(match, n.matchIndex[p])
	}
	sort.Slice(match, func(i, j int) bool { return match[i] > match[j] })

	clusterSize := len(n.peerIDs) + 1
	N := match[clusterSize/2]
	currentTerm := n.store.CurrentTerm()
	for N > n.commitIndex {
		t, ok := n.store.TermAt(N)
		if ok && t == currentTerm {
			n.commitIndex = N
			n.metrics.setCommitIndex(N)
			n.signalApply()
			break
		}
		N--
	}
}
