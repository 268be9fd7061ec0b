package store

// Schema for the durable Raft state. raft_state holds the two scalar
// persistent fields; raft_log holds the append-only, rewritable-suffix
// log. Both are created idempotently on every Open.
const schemaSQL = `
CREATE TABLE IF NOT EXISTS raft_state (
	id INTEGER PRIMARY KEY CHECK (id = 0),
	current_term INTEGER NOT NULL,
	voted_for TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS raft_log (
	idx INTEGER PRIMARY KEY,
	term INTEGER NOT NULL,
	command BLOB NOT NULL
);
`
