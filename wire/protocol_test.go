package wire

import (
	"bytes"
	"reflect"
	"testing"
)

func TestWriteReadRoundTrip(t *testing.T) {
	req := AppendEntriesRequest{
		SenderID:     "nodeA",
		Term:         7,
		LeaderID:     "nodeA",
		PrevLogIndex: 2,
		PrevLogTerm:  6,
		Entries: []LogEntry{
			{Term: 7, Index: 3, Command: []byte(`{"kind":"NEW_BID"}`)},
		},
		LeaderCommit: 1,
	}

	var buf bytes.Buffer
	if err := WriteMessage(&buf, OpAppendEntries, req); err != nil {
		t.Fatalf("WriteMessage: %v", err)
	}

	header, err := ReadHeader(&buf)
	if err != nil {
		t.Fatalf("ReadHeader: %v", err)
	}
	if header.OpCode != OpAppendEntries {
		t.Fatalf("opcode = %v, want %v", header.OpCode, OpAppendEntries)
	}

	var got AppendEntriesRequest
	if err := ReadBody(&buf, header.Length, &got); err != nil {
		t.Fatalf("ReadBody: %v", err)
	}

	if !reflect.DeepEqual(req, got) {
		t.Fatalf("round trip mismatch:\n got  %+v\n want %+v", got, req)
	}
}

func TestReadHeaderShortBuffer(t *testing.T) {
	var buf bytes.Buffer
	buf.WriteByte(byte(OpRequestVote))
	if _, err := ReadHeader(&buf); err == nil {
		t.Fatal("expected error reading a truncated header")
	}
}

func TestWriteMessageNilBody(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteMessage(&buf, OpError, nil); err != nil {
		t.Fatalf("WriteMessage: %v", err)
	}
	header, err := ReadHeader(&buf)
	if err != nil {
		t.Fatalf("ReadHeader: %v", err)
	}
	if header.Length != 0 {
		t.Fatalf("length = %d, want 0", header.Length)
	}
}
