// Package raft implements the Raft consensus algorithm: per-node
// follower/candidate/leader state machine, log replication, leader
// election, and the contract by which client commands are accepted,
// replicated, and applied to a pluggable state machine.
//
// It manages:
//   - **Leader Election**: selecting a cluster leader.
//   - **Log Replication**: ensuring all nodes match the leader's log.
//   - **Safety**: guaranteeing committed entries are never lost.
package raft

import (
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/panjf2000/ants/v2"

	"github.com/kartikbazzad/raftauction/pkg/logger"
	"github.com/kartikbazzad/raftauction/store"
	"github.com/kartikbazzad/raftauction/wire"
)

// State represents the current role of the Raft node.
type State int

const (
	Follower  State = iota // passive, responds to requests
	Candidate              // active, seeking votes for leadership
	Leader                 // active, manages replication
)

func (s State) String() string {
	switch s {
	case Follower:
		return "Follower"
	case Candidate:
		return "Candidate"
	case Leader:
		return "Leader"
	}
	return "Unknown"
}

// Config holds configuration parameters for a Raft Node.
type Config struct {
	ID wire.NodeId

	// Peers maps peerAddress -> NodeId, fixed at startup. An entry whose
	// NodeId equals ID (this node itself) is ignored by NewNode.
	Peers map[string]wire.NodeId

	MinLeaderTimeoutMs   int
	MaxLeaderTimeoutMs   int
	MinElectionTimeoutMs int
	MaxElectionTimeoutMs int
	MinElectionDelayMs   int
	HeartbeatTimeoutMs   int

	// SendPoolSize bounds the worker pool used to dispatch outbound peer
	// RPCs.
	SendPoolSize int

	// RandomSeed seeds this node's timeout jitter explicitly, so tests are
	// reproducible. Zero picks a seed derived from the node id and the
	// current time.
	RandomSeed int64
}

// DefaultConfig returns sane defaults for a node named id with the given
// peerAddress->NodeId mapping.
func DefaultConfig(id wire.NodeId, peers map[string]wire.NodeId) Config {
	return Config{
		ID:                   id,
		Peers:                peers,
		MinLeaderTimeoutMs:   150,
		MaxLeaderTimeoutMs:   300,
		MinElectionTimeoutMs: 150,
		MaxElectionTimeoutMs: 300,
		MinElectionDelayMs:   50,
		HeartbeatTimeoutMs:   50,
		SendPoolSize:         16,
	}
}

// RPCClient sends Raft RPCs to a peer, addressed by the peer's dial
// address (the key space of Config.Peers).
type RPCClient interface {
	SendRequestVote(addr string, args wire.RequestVoteRequest) (wire.RequestVoteReply, error)
	SendAppendEntries(addr string, args wire.AppendEntriesRequest) (wire.AppendEntriesReply, error)
}

// StateMachine applies a committed log entry to the external application
// state. It is the only component permitted to touch that state, and must
// be deterministic across replicas given identical committed prefixes.
type StateMachine interface {
	Apply(entry wire.LogEntry) interface{}
}

// pendingCommand is the leader-local sidecar coupling a log index to the
// client awaiting its result. It is never serialized on the wire.
type pendingCommand struct {
	resultCh chan ApplyOutcome
	resolved bool
}

// ApplyOutcome is delivered to a client once its command's log entry is
// applied, or the pending command is abandoned (role loss, truncation).
type ApplyOutcome struct {
	Value interface{}
	Err   error // set to ErrDeposed when the leader loses leadership before commit
}

// Node is a single participant in the Raft cluster.
type Node struct {
	mu sync.Mutex

	id        wire.NodeId
	peerAddrs map[wire.NodeId]string // NodeId -> dial address, excludes self
	peerIDs   []wire.NodeId          // stable iteration order, excludes self
	cfg       Config

	store     *store.Store
	fsm       StateMachine
	transport RPCClient

	rngMu sync.Mutex
	rng   *rand.Rand

	role          State
	currentLeader wire.NodeId

	commitIndex int64 // -1 when nothing committed yet
	lastApplied int64 // owned by the apply goroutine; raft loop never writes it

	votesGathered  int
	lastElectionAt time.Time

	nextIndex  map[wire.NodeId]int64
	matchIndex map[wire.NodeId]int64

	pending map[int64]*pendingCommand

	leaderTimer     *timer
	electionTimer   *timer
	heartbeatTimers map[wire.NodeId]*timer

	applyCh chan struct{}
	stopCh  chan struct{}
	stopped bool
	wg      sync.WaitGroup

	sendPool *ants.Pool

	metrics *metricsSet
}

// NewNode creates a new Raft node. st must already be Open; the node takes
// ownership of advancing it but not of closing it.
func NewNode(cfg Config, st *store.Store, transport RPCClient, fsm StateMachine) (*Node, error) {
	seed := cfg.RandomSeed
	if seed == 0 {
		seed = time.Now().UnixNano() ^ int64(hashString(cfg.ID))
	}

	pool, err := ants.NewPool(intMax(cfg.SendPoolSize, 1), ants.WithPanicHandler(func(v interface{}) {
		logger.Error("raft: send worker panic", "node", cfg.ID, "panic", v)
	}))
	if err != nil {
		return nil, fmt.Errorf("raft: create send pool: %w", err)
	}

	n := &Node{
		id:              cfg.ID,
		peerAddrs:       make(map[wire.NodeId]string, len(cfg.Peers)),
		cfg:             cfg,
		store:           st,
		fsm:             fsm,
		transport:       transport,
		rng:             rand.New(rand.NewSource(seed)),
		role:            Follower,
		commitIndex:     -1,
		lastApplied:     -1,
		nextIndex:       make(map[wire.NodeId]int64),
		matchIndex:      make(map[wire.NodeId]int64),
		pending:         make(map[int64]*pendingCommand),
		leaderTimer:     newTimer(),
		electionTimer:   newTimer(),
		heartbeatTimers: make(map[wire.NodeId]*timer),
		applyCh:         make(chan struct{}, 1),
		stopCh:          make(chan struct{}),
		sendPool:        pool,
		metrics:         newMetricsSet(cfg.ID),
	}

	for addr, id := range cfg.Peers {
		if id == cfg.ID {
			continue
		}
		n.peerAddrs[id] = addr
		n.peerIDs = append(n.peerIDs, id)
		n.heartbeatTimers[id] = newTimer()
	}

	return n, nil
}

// Start begins the node's timers and its apply goroutine. A node starts as
// a follower with its leader-timeout armed.
func (n *Node) Start() {
	n.mu.Lock()
	n.resetLeaderTimerLocked()
	n.mu.Unlock()

	n.wg.Add(1)
	go n.applyLoop()

	logger.Info("raft: node started", "node", n.id, "peers", len(n.peerIDs))
}

// Stop halts all timers and the apply goroutine.
func (n *Node) Stop() {
	n.mu.Lock()
	if n.stopped {
		n.mu.Unlock()
		return
	}
	n.stopped = true
	n.leaderTimer.cancel()
	n.electionTimer.cancel()
	for _, t := range n.heartbeatTimers {
		t.cancel()
	}
	n.abandonPendingLocked(ErrDeposed)
	n.mu.Unlock()

	close(n.stopCh)
	n.wg.Wait()
	n.sendPool.Release()
}

// State returns the node's current role and term — read-only introspection
// for tests and metrics.
func (n *Node) State() (State, uint64) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.role, n.store.CurrentTerm()
}

// Leader returns the NodeId this node currently believes is leader, or ""
// if unknown.
func (n *Node) Leader() wire.NodeId {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.currentLeader
}

func (n *Node) randDuration(minMs, maxMs int) time.Duration {
	n.rngMu.Lock()
	defer n.rngMu.Unlock()
	if maxMs <= minMs {
		return time.Duration(minMs) * time.Millisecond
	}
	return time.Duration(minMs+n.rng.Intn(maxMs-minMs)) * time.Millisecond
}

// resetLeaderTimerLocked arms the follower/candidate leader-timeout.
// Caller must hold n.mu.
func (n *Node) resetLeaderTimerLocked() {
	d := n.randDuration(n.cfg.MinLeaderTimeoutMs, n.cfg.MaxLeaderTimeoutMs)
	n.leaderTimer.reset(d, n.onLeaderTimeout)
}

// resetElectionTimerLocked arms the candidate-only election-timeout.
// Caller must hold n.mu.
func (n *Node) resetElectionTimerLocked() {
	d := n.randDuration(n.cfg.MinElectionTimeoutMs, n.cfg.MaxElectionTimeoutMs)
	n.electionTimer.reset(d, n.onElectionTimeout)
}

func (n *Node) resetHeartbeatTimerLocked(peer wire.NodeId) {
	d := time.Duration(n.cfg.HeartbeatTimeoutMs) * time.Millisecond
	t := n.heartbeatTimers[peer]
	t.reset(d, func() { n.onHeartbeatTimeout(peer) })
}

// stepDownLocked implements the universal rule: on observing a higher
// term, become FOLLOWER, adopt the term, clear the vote, clear the known
// leader, cancel election/heartbeat timers, and reset the leader-timeout.
// Caller must hold n.mu.
func (n *Node) stepDownLocked(term uint64) {
	if err := n.store.SetTermAndVote(term, ""); err != nil {
		logger.Error("raft: persist step-down term", "node", n.id, "err", err)
	}
	wasLeader := n.role == Leader
	n.role = Follower
	n.currentLeader = ""
	n.electionTimer.cancel()
	for _, t := range n.heartbeatTimers {
		t.cancel()
	}
	n.resetLeaderTimerLocked()
	if wasLeader {
		n.abandonPendingLocked(ErrDeposed)
	}
	n.metrics.setRole(n.id, n.role)
	n.metrics.setTerm(term)
}

func (n *Node) abandonPendingLocked(err error) {
	for idx, pc := range n.pending {
		if pc.resolved {
			continue
		}
		pc.resolved = true
		select {
		case pc.resultCh <- ApplyOutcome{Err: err}:
		default:
		}
		delete(n.pending, idx)
	}
}

func (n *Node) signalApply() {
	select {
	case n.applyCh <- struct{}{}:
	default:
	}
}

func intMax(a, b int) int {
	if a > b {
		return a
	}
	return b
}

func hashString(s string) uint32 {
	var h uint32 = 2166136261
	for i := 0; i < len(s); i++ {
		h ^= uint32(s[i])
		h *= 16777619
	}
	return h
}
