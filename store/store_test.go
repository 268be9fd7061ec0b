package store

import (
	"path/filepath"
	"testing"

	"github.com/kartikbazzad/raftauction/wire"
)

func TestAppendGetTruncate(t *testing.T) {
	path := filepath.Join(t.TempDir(), "raft.db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer s.Close()

	if s.LastIndex() != -1 || s.LastTerm() != 0 {
		t.Fatalf("empty log should report lastIndex=-1, lastTerm=0; got %d, %d", s.LastIndex(), s.LastTerm())
	}

	entries := []wire.LogEntry{
		{Term: 1, Index: 0, Command: []byte("a")},
		{Term: 1, Index: 1, Command: []byte("b")},
		{Term: 2, Index: 2, Command: []byte("c")},
	}
	for _, e := range entries {
		if err := s.Append(e); err != nil {
			t.Fatalf("Append(%d): %v", e.Index, err)
		}
	}

	if got := s.LastIndex(); got != 2 {
		t.Fatalf("LastIndex = %d, want 2", got)
	}
	if got := s.LastTerm(); got != 2 {
		t.Fatalf("LastTerm = %d, want 2", got)
	}

	e, ok := s.Get(1)
	if !ok || string(e.Command) != "b" {
		t.Fatalf("Get(1) = %+v, %v", e, ok)
	}

	if err := s.TruncateFrom(1); err != nil {
		t.Fatalf("TruncateFrom: %v", err)
	}
	if got := s.LastIndex(); got != 0 {
		t.Fatalf("LastIndex after truncate = %d, want 0", got)
	}
	if _, ok := s.Get(1); ok {
		t.Fatal("entry at index 1 should be gone after truncate")
	}
}

func TestRestartRecovery(t *testing.T) {
	path := filepath.Join(t.TempDir(), "raft.db")

	s1, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := s1.SetTermAndVote(4, "nodeB"); err != nil {
		t.Fatalf("SetTermAndVote: %v", err)
	}
	if err := s1.Append(wire.LogEntry{Term: 4, Index: 0, Command: []byte("x")}); err != nil {
		t.Fatalf("Append: %v", err)
	}
	if err := s1.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	s2, err := Open(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer s2.Close()

	if s2.CurrentTerm() != 4 || s2.VotedFor() != "nodeB" {
		t.Fatalf("recovered term/vote = %d/%q, want 4/nodeB", s2.CurrentTerm(), s2.VotedFor())
	}
	if s2.LastIndex() != 0 {
		t.Fatalf("recovered LastIndex = %d, want 0", s2.LastIndex())
	}
	e, ok := s2.Get(0)
	if !ok || string(e.Command) != "x" {
		t.Fatalf("recovered entry = %+v, %v", e, ok)
	}
}

func TestSliceFromIndex(t *testing.T) {
	path := filepath.Join(t.TempDir(), "raft.db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer s.Close()

	for i := uint64(0); i < 5; i++ {
		if err := s.Append(wire.LogEntry{Term: 1, Index: i}); err != nil {
			t.Fatalf("Append(%d): %v", i, err)
		}
	}

	got := s.Slice(3)
	if len(got) != 2 || got[0].Index != 3 || got[1].Index != 4 {
		t.Fatalf("Slice(3) = %+v", got)
	}

	if got := s.Slice(10); got != nil {
		t.Fatalf("Slice(10) = %+v, want nil", got)
	}
}
