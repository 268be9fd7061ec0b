package raft

import (
	"time"

	"github.com/kartikbazzad/raftauction/pkg/logger"
	"github.com/kartikbazzad/raftauction/wire"
)

// RequestVote handles an incoming RequestVote RPC: stale/higher-term
// checks, a log-up-to-date comparison, and a durable vote grant via
// store.SetTermAndVote.
func (n *Node) RequestVote(args wire.RequestVoteRequest) wire.RequestVoteReply {
	n.mu.Lock()
	defer n.mu.Unlock()

	currentTerm := n.store.CurrentTerm()
	if args.Term < currentTerm {
		return wire.RequestVoteReply{SenderID: n.id, Term: currentTerm, IsResponse: true, VoteGranted: false}
	}
	if args.Term > currentTerm {
		n.stepDownLocked(args.Term)
		currentTerm = args.Term
	}

	votedFor := n.store.VotedFor()
	lastIdx := n.store.LastIndex()
	lastTerm := n.store.LastTerm()

	upToDate := args.LastLogTerm > lastTerm ||
		(args.LastLogTerm == lastTerm && args.LastLogIndex >= lastIdx)

	granted := false
	if (votedFor == "" || votedFor == string(args.CandidateID)) && upToDate {
		if err := n.store.SetTermAndVote(currentTerm, string(args.CandidateID)); err != nil {
			logger.Error("raft: persist vote", "node", n.id, "err", err)
		} else {
			granted = true
			n.resetLeaderTimerLocked() // granting a vote counts as hearing from a legitimate candidate
		}
	}

	return wire.RequestVoteReply{SenderID: n.id, Term: currentTerm, IsResponse: true, VoteGranted: granted}
}

// onLeaderTimeout fires when a follower (or candidate) has heard nothing
// from a leader within its leader-timeout.
func (n *Node) onLeaderTimeout() {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.stopped || n.role == Leader {
		return
	}
	n.startElectionLocked()
}

// onElectionTimeout fires when a candidate's own election-timeout expires
// without reaching a decision: start a new election at a higher term.
func (n *Node) onElectionTimeout() {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.stopped || n.role != Candidate {
		return
	}
	n.startElectionLocked()
}

// startElectionLocked transitions this node to CANDIDATE at term+1, votes
// for itself, and broadcasts RequestVote to every peer. Caller must hold
// n.mu.
func (n *Node) startElectionLocked() {
	if !n.lastElectionAt.IsZero() {
		floor := time.Duration(n.cfg.MinElectionDelayMs) * time.Millisecond
		if since := time.Since(n.lastElectionAt); since < floor {
			// Floor on election frequency: elections started inside the delay
			// are ignored — just re-arm the timer that fired.
			if n.role == Candidate {
				n.resetElectionTimerLocked()
			} else {
				n.resetLeaderTimerLocked()
			}
			return
		}
	}
	n.lastElectionAt = time.Now()

	term := n.store.CurrentTerm() + 1
	if err := n.store.SetTermAndVote(term, string(n.id)); err != nil {
		logger.Error("raft: persist candidacy", "node", n.id, "err", err)
		return
	}

	n.role = Candidate
	n.currentLeader = ""
	n.votesGathered = 1 // votes for self
	n.electionTimer.cancel()
	n.resetElectionTimerLocked()
	for _, p := range n.peerIDs {
		n.resetHeartbeatTimerLocked(p)
	}
	n.metrics.setRole(n.id, Candidate)
	n.metrics.setTerm(term)
	n.metrics.electionStarted()

	if n.hasMajorityLocked(n.votesGathered) {
		// single-node cluster becomes leader on its own vote.
		n.becomeLeaderLocked()
		return
	}

	lastIdx := n.store.LastIndex()
	lastTerm := n.store.LastTerm()
	peers := append([]wire.NodeId(nil), n.peerIDs...)
	for _, p := range peers {
		peer := p
		n.submitSendLocked(func() { n.sendRequestVoteTo(peer, term, lastIdx, lastTerm) })
	}
}

// onHeartbeatTimeout fires per-peer on the bounded heartbeat-timeout: a
// leader re-sends AppendEntries, a candidate re-solicits an unresponsive
// voter.
func (n *Node) onHeartbeatTimeout(peer wire.NodeId) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.stopped {
		return
	}
	switch n.role {
	case Candidate:
		n.resetHeartbeatTimerLocked(peer)
		term := n.store.CurrentTerm()
		lastIdx := n.store.LastIndex()
		lastTerm := n.store.LastTerm()
		n.submitSendLocked(func() { n.sendRequestVoteTo(peer, term, lastIdx, lastTerm) })
	case Leader:
		n.resetHeartbeatTimerLocked(peer)
		term := n.store.CurrentTerm()
		n.submitSendLocked(func() { n.sendAppendEntriesTo(peer, term) })
	default:
		// follower: no heartbeat timers are armed
	}
}

func (n *Node) sendRequestVoteTo(peer wire.NodeId, term uint64, lastIdx int64, lastTerm uint64) {
	addr, ok := n.peerAddrs[peer]
	if !ok {
		return
	}
	args := wire.RequestVoteRequest{
		SenderID:     n.id,
		Term:         term,
		CandidateID:  n.id,
		LastLogIndex: lastIdx,
		LastLogTerm:  lastTerm,
	}
	reply, err := n.transport.SendRequestVote(addr, args)
	if err != nil {
		return // the heartbeat-timeout will retry this peer
	}

	n.mu.Lock()
	defer n.mu.Unlock()
	if n.stopped || n.role != Candidate || n.store.CurrentTerm() != term {
		return // election is obsolete: role or term has moved on
	}
	if reply.Term > n.store.CurrentTerm() {
		n.stepDownLocked(reply.Term)
		return
	}
	if reply.VoteGranted {
		n.votesGathered++
		if n.hasMajorityLocked(n.votesGathered) {
			n.becomeLeaderLocked()
		}
	}
}

// becomeLeaderLocked transitions CANDIDATE -> LEADER on reaching a majority
// of votes. Caller must hold n.mu.
func (n *Node) becomeLeaderLocked() {
	if n.role == Leader {
		return
	}
	n.role = Leader
	n.currentLeader = n.id
	n.electionTimer.cancel()

	lastIdx := n.store.LastIndex()
	for _, p := range n.peerIDs {
		n.nextIndex[p] = lastIdx + 1
		n.matchIndex[p] = -1
	}

	n.metrics.setRole(n.id, Leader)
	logger.Info("raft: became leader", "node", n.id, "term", n.store.CurrentTerm())

	term := n.store.CurrentTerm()
	for _, p := range n.peerIDs {
		peer := p
		n.resetHeartbeatTimerLocked(peer)
		n.submitSendLocked(func() { n.sendAppendEntriesTo(peer, term) })
	}

	if len(n.peerIDs) == 0 {
		n.updateCommitIndexLocked()
	}
}

// hasMajorityLocked reports whether count nodes (votes, including self)
// form a strict majority of the cluster. Caller must hold n.mu.
func (n *Node) hasMajorityLocked(count int) bool {
	clusterSize := len(n.peerIDs) + 1
	return count > clusterSize/2
}

func (n *Node) submitSendLocked(fn func()) {
	if err := n.sendPool.Submit(fn); err != nil {
		logger.Warn("raft: send pool submit failed", "node", n.id, "err", err)
	}
}
