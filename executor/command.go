// Package executor implements the relational auction/bidding state machine
// as a pluggable collaborator of the Raft core (raft.StateMachine). It is
// backed by its own SQLite database, independent of the raft log's store,
// so the two can live on different volumes.
package executor

import "encoding/json"

// Command is the application-level payload carried inside a
// wire.LogEntry.Command. AppliedAt is stamped by the receiving node's
// client listener before the command is submitted to the log (not read
// from the wall clock at apply time) so every replica applies an identical
// command deterministically.
type Command struct {
	Kind      string          `json:"kind"`
	Args      json.RawMessage `json:"args"`
	AppliedAt int64           `json:"applied_at"`
}

// Recognized command kinds. New kinds can be added to the executor's
// kind switch in Executor.Apply without touching the raft package.
const (
	KindNewUser      = "NEW_USER"
	KindNewAuction   = "NEW_AUCTION"
	KindNewBid       = "NEW_BID"
	KindCloseAuction = "CLOSE_AUCTION"
)

// Result is what Executor.Apply returns for every command, success or
// failure. Executor errors never cause the log entry to be rejected or
// rolled back — they are just routed back to the client.
type Result struct {
	OK    bool        `json:"ok"`
	Value interface{} `json:"value,omitempty"`
	Err   string      `json:"err,omitempty"`
}

func ok(v interface{}) Result  { return Result{OK: true, Value: v} }
func fail(err error) Result    { return Result{OK: false, Err: err.Error()} }
func failMsg(msg string) Result { return Result{OK: false, Err: msg} }
