package raft

import (
	"fmt"
	"net"
	"time"

	"github.com/kartikbazzad/raftauction/pkg/logger"
	"github.com/kartikbazzad/raftauction/wire"
)

// TCPTransport implements RPCClient over the wire package's length-prefixed
// JSON framing: a short-lived dial-send-read-close connection per RPC,
// since Raft RPCs are small and infrequent enough that connection pooling
// isn't worth the complexity.
type TCPTransport struct {
	Timeout time.Duration
}

// NewTCPTransport returns a transport with a timeout tight enough that a
// down peer doesn't stall a heartbeat-timeout cycle.
func NewTCPTransport() *TCPTransport {
	return &TCPTransport{Timeout: 1 * time.Second}
}

func (t *TCPTransport) SendRequestVote(addr string, args wire.RequestVoteRequest) (wire.RequestVoteReply, error) {
	conn, err := net.DialTimeout("tcp", addr, t.Timeout)
	if err != nil {
		return wire.RequestVoteReply{}, err
	}
	defer conn.Close()
	conn.SetDeadline(time.Now().Add(t.Timeout))

	if err := wire.WriteMessage(conn, wire.OpRequestVote, args); err != nil {
		return wire.RequestVoteReply{}, err
	}

	header, err := wire.ReadHeader(conn)
	if err != nil {
		return wire.RequestVoteReply{}, err
	}
	if header.OpCode == wire.OpError {
		var envelope wire.ErrorEnvelope
		wire.ReadBody(conn, header.Length, &envelope)
		return wire.RequestVoteReply{}, fmt.Errorf("raft: peer %s: %s", addr, envelope.Message)
	}

	var reply wire.RequestVoteReply
	if err := wire.ReadBody(conn, header.Length, &reply); err != nil {
		return wire.RequestVoteReply{}, err
	}
	return reply, nil
}

func (t *TCPTransport) SendAppendEntries(addr string, args wire.AppendEntriesRequest) (wire.AppendEntriesReply, error) {
	conn, err := net.DialTimeout("tcp", addr, t.Timeout)
	if err != nil {
		return wire.AppendEntriesReply{}, err
	}
	defer conn.Close()
	conn.SetDeadline(time.Now().Add(t.Timeout))

	if err := wire.WriteMessage(conn, wire.OpAppendEntries, args); err != nil {
		return wire.AppendEntriesReply{}, err
	}

	header, err := wire.ReadHeader(conn)
	if err != nil {
		return wire.AppendEntriesReply{}, err
	}
	if header.OpCode == wire.OpError {
		var envelope wire.ErrorEnvelope
		wire.ReadBody(conn, header.Length, &envelope)
		return wire.AppendEntriesReply{}, fmt.Errorf("raft: peer %s: %s", addr, envelope.Message)
	}

	var reply wire.AppendEntriesReply
	if err := wire.ReadBody(conn, header.Length, &reply); err != nil {
		return wire.AppendEntriesReply{}, err
	}
	return reply, nil
}

// RPCServer listens for inbound Raft RPCs and dispatches them to a Node.
// Grounded on the same framing the client-facing listener in cmd/raftauctiond
// uses, kept as a small standalone type so tests can run it against an
// ephemeral port without pulling in the daemon's config/cobra wiring.
type RPCServer struct {
	node     *Node
	listener net.Listener
}

// NewRPCServer binds addr and returns a server ready to Serve.
func NewRPCServer(addr string, node *Node) (*RPCServer, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("raft: listen %s: %w", addr, err)
	}
	return &RPCServer{node: node, listener: ln}, nil
}

// Addr returns the bound address, useful when addr was ":0".
func (s *RPCServer) Addr() string {
	return s.listener.Addr().String()
}

// Serve accepts connections until Close is called.
func (s *RPCServer) Serve() error {
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			return err
		}
		go s.handleConn(conn)
	}
}

// Close stops accepting new connections.
func (s *RPCServer) Close() error {
	return s.listener.Close()
}

func (s *RPCServer) handleConn(conn net.Conn) {
	defer conn.Close()
	conn.SetDeadline(time.Now().Add(5 * time.Second))

	header, err := wire.ReadHeader(conn)
	if err != nil {
		return
	}

	switch header.OpCode {
	case wire.OpRequestVote:
		var req wire.RequestVoteRequest
		if err := wire.ReadBody(conn, header.Length, &req); err != nil {
			logger.Warn("raft: malformed RequestVote", "node", s.node.id, "err", err)
			writeError(conn, err)
			return
		}
		reply := s.node.RequestVote(req)
		wire.WriteMessage(conn, wire.OpReply, reply)
	case wire.OpAppendEntries:
		var req wire.AppendEntriesRequest
		if err := wire.ReadBody(conn, header.Length, &req); err != nil {
			logger.Warn("raft: malformed AppendEntries", "node", s.node.id, "err", err)
			writeError(conn, err)
			return
		}
		reply := s.node.AppendEntries(req)
		wire.WriteMessage(conn, wire.OpReply, reply)
	case wire.OpSnapshot:
		var req wire.SnapshotRequest
		if err := wire.ReadBody(conn, header.Length, &req); err != nil {
			logger.Warn("raft: malformed Snapshot request", "node", s.node.id, "err", err)
			writeError(conn, err)
			return
		}
		reply, err := s.node.InstallSnapshot(req)
		if err != nil {
			writeError(conn, err)
			return
		}
		wire.WriteMessage(conn, wire.OpReply, reply)
	default:
		logger.Warn("raft: unknown rpc opcode", "node", s.node.id, "opcode", header.OpCode)
		writeError(conn, fmt.Errorf("unknown opcode %d", header.OpCode))
	}
}

func writeError(conn net.Conn, err error) {
	wire.WriteMessage(conn, wire.OpError, wire.ErrorEnvelope{Message: err.Error()})
}
