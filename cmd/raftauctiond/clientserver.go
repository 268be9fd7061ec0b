package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/kartikbazzad/raftauction/executor"
	"github.com/kartikbazzad/raftauction/pkg/logger"
	"github.com/kartikbazzad/raftauction/raft"
	"github.com/kartikbazzad/raftauction/wire"
)

// clientServer accepts client command submissions framed with the wire
// package's OpClientSubmit/OpClientReply opcodes. Each caller address is
// rate-limited with golang.org/x/time/rate so one noisy client can't
// starve the node's send pool.
type clientServer struct {
	node     *raft.Node
	listener net.Listener

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

func newClientServer(addr string, node *raft.Node) (*clientServer, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("listen %s: %w", addr, err)
	}
	return &clientServer{
		node:     node,
		listener: ln,
		limiters: make(map[string]*rate.Limiter),
	}, nil
}

func (s *clientServer) serve() error {
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			return err
		}
		go s.handleConn(conn)
	}
}

func (s *clientServer) close() error {
	return s.listener.Close()
}

func (s *clientServer) limiterFor(addr string) *rate.Limiter {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.limiters[addr]
	if !ok {
		l = rate.NewLimiter(rate.Every(10*time.Millisecond), 20) // 100/s, burst 20
		s.limiters[addr] = l
	}
	return l
}

func (s *clientServer) handleConn(conn net.Conn) {
	defer conn.Close()

	host, _, _ := net.SplitHostPort(conn.RemoteAddr().String())
	limiter := s.limiterFor(host)

	for {
		header, err := wire.ReadHeader(conn)
		if err != nil {
			return
		}
		if header.OpCode != wire.OpClientSubmit {
			writeClientError(conn, fmt.Errorf("unexpected opcode %d", header.OpCode))
			return
		}

		var req wire.ClientSubmitRequest
		if err := wire.ReadBody(conn, header.Length, &req); err != nil {
			writeClientError(conn, err)
			return
		}

		if !limiter.Allow() {
			wire.WriteMessage(conn, wire.OpClientReply, wire.ClientSubmitReply{ErrorKind: "RATE_LIMITED"})
			continue
		}

		reply := s.submit(conn, req)
		if err := wire.WriteMessage(conn, wire.OpClientReply, reply); err != nil {
			return
		}
	}
}

func (s *clientServer) submit(conn net.Conn, req wire.ClientSubmitRequest) wire.ClientSubmitReply {
	if err := executor.ValidateArgs(req.CommandType, req.Args); err != nil {
		return wire.ClientSubmitReply{ErrorKind: "INVALID_ARGS"}
	}

	cmd := executor.Command{
		Kind:      req.CommandType,
		Args:      req.Args,
		AppliedAt: time.Now().UnixMilli(),
	}
	encoded, err := json.Marshal(cmd)
	if err != nil {
		return wire.ClientSubmitReply{ErrorKind: "INVALID_ARGS"}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	outcome, err := s.node.Submit(ctx, encoded)
	if err != nil {
		kind := raft.ErrorKind(err)
		hint := wire.NodeId("")
		if ce, ok := err.(*raft.ClientError); ok {
			hint = ce.LeaderHint
		}
		logger.Warn("raftauctiond: submit rejected", "kind", req.CommandType, "err_kind", kind)
		return wire.ClientSubmitReply{ErrorKind: kind, LeaderHint: hint}
	}

	result, ok := outcome.Value.(executor.Result)
	if !ok {
		return wire.ClientSubmitReply{ErrorKind: "INTERNAL"}
	}
	if !result.OK {
		raw, _ := json.Marshal(result)
		return wire.ClientSubmitReply{ErrorKind: "EXECUTOR_ERROR", Result: raw}
	}
	raw, _ := json.Marshal(result)
	return wire.ClientSubmitReply{OK: true, Result: raw}
}

func writeClientError(conn net.Conn, err error) {
	wire.WriteMessage(conn, wire.OpError, wire.ErrorEnvelope{Message: err.Error()})
}
