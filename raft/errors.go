package raft

import (
	"net/http"

	apperrors "github.com/kartikbazzad/raftauction/pkg/errors"
	"github.com/kartikbazzad/raftauction/wire"
)

// ClientError is the client-visible error surfaced by Node.Submit. Kind is
// one of "NOT_LEADER", "DEPOSED", "TIMEOUT". Submit also returns the
// store's own error, not a ClientError, when appending the entry to the
// local log fails. LeaderHint is only meaningful for NOT_LEADER.
type ClientError struct {
	*apperrors.AppError
	Kind       string
	LeaderHint wire.NodeId
}

func newClientError(kind string, leaderHint wire.NodeId) *ClientError {
	code := http.StatusInternalServerError
	switch kind {
	case "NOT_LEADER":
		code = http.StatusTemporaryRedirect
	case "DEPOSED":
		code = http.StatusGone
	case "TIMEOUT":
		code = http.StatusRequestTimeout
	}
	return &ClientError{
		AppError:   apperrors.New(code, kind, nil),
		Kind:       kind,
		LeaderHint: leaderHint,
	}
}

// ErrDeposed means the accepting leader lost leadership before the
// command's log entry committed.
var ErrDeposed = newClientError("DEPOSED", "")

// ErrTimeout means the command was accepted but did not commit before the
// caller's deadline.
var ErrTimeout = newClientError("TIMEOUT", "")

// errNotLeader means this node is not the leader; hint names the node this
// one currently believes is leader (possibly "" if unknown).
func errNotLeader(hint wire.NodeId) *ClientError {
	return newClientError("NOT_LEADER", hint)
}

// ErrorKind returns the short string used for ClientSubmitReply.ErrorKind,
// or "" if err is not a *ClientError.
func ErrorKind(err error) string {
	if ce, ok := err.(*ClientError); ok {
		return ce.Kind
	}
	return ""
}
