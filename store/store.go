// Package store implements the durable backing for a Raft node's
// persistent state: currentTerm, votedFor, and the replicated log.
//
// Every mutating call commits a SQLite transaction before returning, so a
// vote grant or log append is durable before any outgoing RPC that depends
// on it can be sent.
//
// An in-process slice mirrors the raft_log table so reads (Get, LastIndex,
// TermAt, Slice) are O(1)/O(k) without a round trip to SQLite; the cache is
// rebuilt from the table in Open, which is how a restarted node recovers
// its log.
package store

import (
	"database/sql"
	"fmt"
	"sync"

	_ "modernc.org/sqlite"

	"github.com/kartikbazzad/raftauction/wire"
)

// Store is the durable backing for one Raft node's persistent state.
type Store struct {
	mu sync.RWMutex
	db *sql.DB

	currentTerm uint64
	votedFor    string

	// log is an index-addressed cache of raft_log. log[i].Index == i for
	// all i < len(log); the log is contiguous from index 0, with -1 used
	// as the sentinel last-index when the log is empty.
	log []wire.LogEntry
}

// Open opens (creating if necessary) the SQLite-backed store at path and
// loads any persisted state into memory.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=synchronous(FULL)")
	if err != nil {
		return nil, fmt.Errorf("store: open %s: %w", path, err)
	}
	db.SetMaxOpenConns(1) // single-writer; avoids SQLITE_BUSY across goroutines

	if _, err := db.Exec(schemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: create schema: %w", err)
	}

	s := &Store{db: db}
	if err := s.load(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) load() error {
	row := s.db.QueryRow(`SELECT current_term, voted_for FROM raft_state WHERE id = 0`)
	var term uint64
	var votedFor string
	switch err := row.Scan(&term, &votedFor); err {
	case nil:
		s.currentTerm, s.votedFor = term, votedFor
	case sql.ErrNoRows:
		if _, err := s.db.Exec(`INSERT INTO raft_state (id, current_term, voted_for) VALUES (0, 0, '')`); err != nil {
			return fmt.Errorf("store: seed raft_state: %w", err)
		}
	default:
		return fmt.Errorf("store: load raft_state: %w", err)
	}

	rows, err := s.db.Query(`SELECT idx, term, command FROM raft_log ORDER BY idx ASC`)
	if err != nil {
		return fmt.Errorf("store: load raft_log: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var e wire.LogEntry
		if err := rows.Scan(&e.Index, &e.Term, &e.Command); err != nil {
			return fmt.Errorf("store: scan raft_log row: %w", err)
		}
		s.log = append(s.log, e)
	}
	return rows.Err()
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// CurrentTerm returns the durable currentTerm.
func (s *Store) CurrentTerm() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.currentTerm
}

// VotedFor returns the durable votedFor, "" meaning none.
func (s *Store) VotedFor() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.votedFor
}

// SetTermAndVote durably sets currentTerm and votedFor together — used both
// when stepping up to candidate (vote for self) and when stepping down on a
// higher term (clear the vote), so the two fields are never torn across a
// crash.
func (s *Store) SetTermAndVote(term uint64, votedFor string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.db.Exec(`UPDATE raft_state SET current_term = ?, voted_for = ? WHERE id = 0`, term, votedFor); err != nil {
		return fmt.Errorf("store: persist term/vote: %w", err)
	}
	s.currentTerm, s.votedFor = term, votedFor
	return nil
}

// Append adds entry to the end of the log. Callers must ensure entry.Index
// == LastIndex()+1 (the leader never appends out of order; a follower
// truncates first via TruncateFrom).
func (s *Store) Append(entry wire.LogEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.db.Exec(`INSERT INTO raft_log (idx, term, command) VALUES (?, ?, ?)`,
		entry.Index, entry.Term, entry.Command); err != nil {
		return fmt.Errorf("store: append entry %d: %w", entry.Index, err)
	}
	s.log = append(s.log, entry)
	return nil
}

// TruncateFrom deletes the entry at index and all entries after it. Only
// followers reconciling with a leader call this; the leader never
// truncates its own log.
func (s *Store) TruncateFrom(index int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if index < 0 || index >= int64(len(s.log)) {
		return nil
	}
	if _, err := s.db.Exec(`DELETE FROM raft_log WHERE idx >= ?`, index); err != nil {
		return fmt.Errorf("store: truncate from %d: %w", index, err)
	}
	s.log = s.log[:index]
	return nil
}

// Get returns the entry at index, if present.
func (s *Store) Get(index int64) (wire.LogEntry, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if index < 0 || index >= int64(len(s.log)) {
		return wire.LogEntry{}, false
	}
	return s.log[index], true
}

// TermAt returns the term of the entry at index, if present.
func (s *Store) TermAt(index int64) (uint64, bool) {
	e, ok := s.Get(index)
	if !ok {
		return 0, false
	}
	return e.Term, true
}

// LastIndex returns the index of the last log entry, or -1 if empty.
func (s *Store) LastIndex() int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return int64(len(s.log)) - 1
}

// LastTerm returns the term of the last log entry, or 0 if empty.
func (s *Store) LastTerm() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if len(s.log) == 0 {
		return 0
	}
	return s.log[len(s.log)-1].Term
}

// Slice returns a copy of the entries at index >= fromIndex, in order.
func (s *Store) Slice(fromIndex int64) []wire.LogEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if fromIndex < 0 {
		fromIndex = 0
	}
	if fromIndex >= int64(len(s.log)) {
		return nil
	}
	out := make([]wire.LogEntry, len(s.log)-int(fromIndex))
	copy(out, s.log[fromIndex:])
	return out
}
