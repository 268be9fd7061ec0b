package wire

import "encoding/json"

// NodeId is an opaque stable identifier for a cluster member.
type NodeId = string

// LogEntry is a single replicated command in the Raft log. The client
// callback a caller attaches to a submitted entry is leader-local and
// deliberately not part of this wire type — see raft.pendingCommand.
type LogEntry struct {
	Term    uint64 `json:"term"` // term when the entry was appended by the leader
	Index   uint64 `json:"idx"`  // monotonic log index
	Command []byte `json:"cmd"`  // JSON-encoded executor.Command
}

// RequestVoteRequest is sent by a candidate to gather votes. Every envelope
// carries senderId/term/isResponse so a single framing handles requests and
// replies alike.
type RequestVoteRequest struct {
	SenderID     NodeId `json:"sender_id"`
	Term         uint64 `json:"term"`
	IsResponse   bool   `json:"is_response"`
	CandidateID  NodeId `json:"candidate_id"`
	LastLogIndex int64  `json:"last_log_index"`
	LastLogTerm  uint64 `json:"last_log_term"`
}

// RequestVoteReply answers a RequestVoteRequest.
type RequestVoteReply struct {
	SenderID    NodeId `json:"sender_id"`
	Term        uint64 `json:"term"`
	IsResponse  bool   `json:"is_response"`
	VoteGranted bool   `json:"vote_granted"`
}

// AppendEntriesRequest replicates log entries / serves as a heartbeat.
type AppendEntriesRequest struct {
	SenderID     NodeId     `json:"sender_id"`
	Term         uint64     `json:"term"`
	IsResponse   bool       `json:"is_response"`
	LeaderID     NodeId     `json:"leader_id"`
	PrevLogIndex int64      `json:"prev_log_index"`
	PrevLogTerm  uint64     `json:"prev_log_term"`
	Entries      []LogEntry `json:"entries"`
	LeaderCommit int64      `json:"leader_commit"`
}

// AppendEntriesReply answers an AppendEntriesRequest. MatchIndex is the
// highest index the follower has matched with the leader; -1 means
// "matched nothing" (empty log).
type AppendEntriesReply struct {
	SenderID   NodeId `json:"sender_id"`
	Term       uint64 `json:"term"`
	IsResponse bool   `json:"is_response"`
	Success    bool   `json:"success"`
	MatchIndex int64  `json:"match_index"`
}

// SnapshotRequest and SnapshotReply are declared for the reserved Snapshot
// RPC family but are not implemented; see raft.Node.InstallSnapshot.
type SnapshotRequest struct {
	SenderID NodeId `json:"sender_id"`
	Term     uint64 `json:"term"`
}

type SnapshotReply struct {
	SenderID NodeId `json:"sender_id"`
	Term     uint64 `json:"term"`
}

// ClientSubmitRequest is the client command interface, carried over the
// same header framing as the RPC families but outside the three Raft RPC
// families above.
type ClientSubmitRequest struct {
	CommandType string          `json:"command_type"`
	Args        json.RawMessage `json:"args"`
}

// ClientSubmitReply answers a ClientSubmitRequest. ErrorKind is "" on
// success, one of the Raft client errors "NOT_LEADER", "DEPOSED",
// "TIMEOUT", or one of the listener's own kinds "RATE_LIMITED",
// "INVALID_ARGS", "EXECUTOR_ERROR", "INTERNAL".
type ClientSubmitReply struct {
	OK         bool            `json:"ok"`
	Result     json.RawMessage `json:"result,omitempty"`
	ErrorKind  string          `json:"error_kind,omitempty"`
	LeaderHint NodeId          `json:"leader_hint,omitempty"`
}

// ErrorEnvelope is the body of an OpError message: a transport-level
// failure unrelated to any particular RPC reply shape (malformed request,
// unmarshalable body).
type ErrorEnvelope struct {
	Message string `json:"message"`
}
