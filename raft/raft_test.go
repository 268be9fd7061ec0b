package raft

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/kartikbazzad/raftauction/store"
	"github.com/kartikbazzad/raftauction/wire"
)

// mockRPC dispatches RPCs directly to an in-process Node by address,
// skipping the network entirely.
type mockRPC struct {
	mu    sync.RWMutex
	nodes map[string]*Node
}

func newMockRPC() *mockRPC {
	return &mockRPC{nodes: make(map[string]*Node)}
}

func (m *mockRPC) register(addr string, n *Node) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nodes[addr] = n
}

func (m *mockRPC) SendRequestVote(addr string, args wire.RequestVoteRequest) (wire.RequestVoteReply, error) {
	m.mu.RLock()
	p, ok := m.nodes[addr]
	m.mu.RUnlock()
	if !ok {
		return wire.RequestVoteReply{}, fmt.Errorf("mockRPC: no node at %s", addr)
	}
	return p.RequestVote(args), nil
}

func (m *mockRPC) SendAppendEntries(addr string, args wire.AppendEntriesRequest) (wire.AppendEntriesReply, error) {
	m.mu.RLock()
	p, ok := m.nodes[addr]
	m.mu.RUnlock()
	if !ok {
		return wire.AppendEntriesReply{}, fmt.Errorf("mockRPC: no node at %s", addr)
	}
	return p.AppendEntries(args), nil
}

// mockFSM records applied commands in order, for assertions on replication
// order across a cluster.
type mockFSM struct {
	mu      sync.Mutex
	applied []string
}

func (m *mockFSM) Apply(entry wire.LogEntry) interface{} {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.applied = append(m.applied, string(entry.Command))
	return len(m.applied)
}

func (m *mockFSM) snapshot() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.applied))
	copy(out, m.applied)
	return out
}

type testCluster struct {
	nodes []*Node
	fsms  []*mockFSM
	rpc   *mockRPC
}

func (c *testCluster) stop() {
	for _, n := range c.nodes {
		n.Stop()
	}
}

func (c *testCluster) leader() *Node {
	for _, n := range c.nodes {
		role, _ := n.State()
		if role == Leader {
			return n
		}
	}
	return nil
}

func (c *testCluster) leaders() int {
	count := 0
	for _, n := range c.nodes {
		role, _ := n.State()
		if role == Leader {
			count++
		}
	}
	return count
}

func createCluster(t *testing.T, n int) *testCluster {
	t.Helper()
	dir := t.TempDir()

	addrs := make([]string, n)
	for i := 0; i < n; i++ {
		addrs[i] = fmt.Sprintf("node%d", i)
	}

	rpc := newMockRPC()
	c := &testCluster{rpc: rpc}

	for i := 0; i < n; i++ {
		peers := make(map[string]wire.NodeId, n-1)
		for j := 0; j < n; j++ {
			if j == i {
				continue
			}
			peers[addrs[j]] = addrs[j]
		}

		cfg := DefaultConfig(addrs[i], peers)
		cfg.RandomSeed = int64(i + 1)

		st, err := store.Open(filepath.Join(dir, fmt.Sprintf("node%d.db", i)))
		if err != nil {
			t.Fatalf("open store: %v", err)
		}
		t.Cleanup(func() { st.Close() })

		fsm := &mockFSM{}
		node, err := NewNode(cfg, st, rpc, fsm)
		if err != nil {
			t.Fatalf("new node: %v", err)
		}

		rpc.register(addrs[i], node)
		c.nodes = append(c.nodes, node)
		c.fsms = append(c.fsms, fsm)
	}

	return c
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) bool {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(10 * time.Millisecond)
	}
	return cond()
}

func TestLeaderElection(t *testing.T) {
	c := createCluster(t, 3)
	defer c.stop()

	for _, n := range c.nodes {
		n.Start()
	}

	if !waitFor(t, time.Second, func() bool { return c.leaders() == 1 }) {
		t.Fatalf("expected exactly 1 leader, got %d", c.leaders())
	}
}

func TestSingleNodeClusterSelfElects(t *testing.T) {
	c := createCluster(t, 1)
	defer c.stop()
	c.nodes[0].Start()

	if !waitFor(t, time.Second, func() bool { return c.leaders() == 1 }) {
		t.Fatal("single-node cluster never became leader")
	}
}

func TestLogReplication(t *testing.T) {
	c := createCluster(t, 3)
	defer c.stop()
	for _, n := range c.nodes {
		n.Start()
	}

	if !waitFor(t, time.Second, func() bool { return c.leader() != nil }) {
		t.Fatal("no leader elected")
	}
	leader := c.leader()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	outcome, err := leader.Submit(ctx, []byte("cmd1"))
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if outcome.Value != 1 {
		t.Errorf("expected applied-entry count 1, got %v", outcome.Value)
	}

	for i, fsm := range c.fsms {
		if !waitFor(t, time.Second, func() bool {
			applied := fsm.snapshot()
			return len(applied) == 1 && applied[0] == "cmd1"
		}) {
			t.Errorf("node %d never applied cmd1", i)
		}
	}
}

func TestSubmitRejectedByFollower(t *testing.T) {
	c := createCluster(t, 3)
	defer c.stop()
	for _, n := range c.nodes {
		n.Start()
	}

	if !waitFor(t, time.Second, func() bool { return c.leader() != nil }) {
		t.Fatal("no leader elected")
	}
	leader := c.leader()

	var follower *Node
	for _, n := range c.nodes {
		if n != leader {
			follower = n
			break
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	_, err := follower.Submit(ctx, []byte("cmd1"))
	if ErrorKind(err) != "NOT_LEADER" {
		t.Fatalf("expected NOT_LEADER, got %v", err)
	}
}

func TestLeaderFailover(t *testing.T) {
	c := createCluster(t, 3)
	defer c.stop()
	for _, n := range c.nodes {
		n.Start()
	}

	if !waitFor(t, time.Second, func() bool { return c.leader() != nil }) {
		t.Fatal("no leader elected")
	}
	first := c.leader()
	first.Stop()

	if !waitFor(t, 2*time.Second, func() bool {
		l := c.leader()
		return l != nil && l != first
	}) {
		t.Fatal("no new leader elected after failover")
	}
}

func TestStaleLeaderStepsDown(t *testing.T) {
	c := createCluster(t, 3)
	defer c.stop()
	for _, n := range c.nodes {
		n.Start()
	}

	if !waitFor(t, time.Second, func() bool { return c.leader() != nil }) {
		t.Fatal("no leader elected")
	}
	leader := c.leader()
	_, term := leader.State()

	reply := leader.AppendEntries(wire.AppendEntriesRequest{
		SenderID:     "outsider",
		Term:         term + 5,
		LeaderID:     "outsider",
		PrevLogIndex: -1,
		LeaderCommit: -1,
	})

	if !reply.Success {
		t.Fatalf("expected the stale leader to accept the higher-term heartbeat, got %+v", reply)
	}

	role, newTerm := leader.State()
	if role != Follower {
		t.Errorf("expected stale leader to step down to Follower, got %v", role)
	}
	if newTerm != term+5 {
		t.Errorf("expected term to adopt %d, got %d", term+5, newTerm)
	}
}

func TestSplitVoteEventuallyResolves(t *testing.T) {
	// Five nodes with distinct timer jitter seeds start at the same moment,
	// so an early round may split the vote; the election-timeout's re-roll
	// each round must let the cluster converge on a single leader.
	c := createCluster(t, 5)
	defer c.stop()
	for _, n := range c.nodes {
		n.Start()
	}

	if !waitFor(t, 3*time.Second, func() bool { return c.leaders() == 1 }) {
		t.Fatalf("cluster never converged on a single leader, got %d", c.leaders())
	}
}
