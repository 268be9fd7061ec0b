// Package wire defines the binary network protocol for raftauction.
//
// Protocol Format:
//
//	[Header (5 bytes)] + [Body (JSON)]
//
// Header:
//   - OpCode (1 byte): Operation type (RequestVote, AppendEntries, ...)
//   - Length (4 bytes): Uint32 Big-Endian size of Body
//
// Body:
//   - JSON encoded payload corresponding to the OpCode.
package wire

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
)

// OpCode defines the operation type for the wire protocol.
type OpCode uint8

const (
	// Raft consensus RPCs.
	OpRequestVote   OpCode = 12
	OpAppendEntries OpCode = 13
	// OpSnapshot is reserved for the future snapshot/log-compaction family;
	// the core declares it but does not implement it yet.
	OpSnapshot OpCode = 15

	// Generic envelope kinds.
	OpReply OpCode = 10
	OpError OpCode = 11

	// Client command submission channel. Distinct from the three RPC
	// families above: this carries application commands from a client to
	// whichever node it dialed, not peer-to-peer Raft traffic.
	OpClientSubmit OpCode = 30
	OpClientReply  OpCode = 31
)

// Header is the fixed-size message header (5 bytes).
type Header struct {
	OpCode OpCode
	Length uint32 // Length of the JSON body
}

const HeaderSize = 5

// WriteMessage writes a message (OpCode + Body) to the writer.
func WriteMessage(w io.Writer, op OpCode, body interface{}) error {
	var bodyBytes []byte
	var err error
	if body != nil {
		bodyBytes, err = json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal body: %w", err)
		}
	}

	if _, err := w.Write([]byte{byte(op)}); err != nil {
		return err
	}
	lenBuf := make([]byte, 4)
	binary.BigEndian.PutUint32(lenBuf, uint32(len(bodyBytes)))
	if _, err := w.Write(lenBuf); err != nil {
		return err
	}
	if len(bodyBytes) > 0 {
		if _, err := w.Write(bodyBytes); err != nil {
			return err
		}
	}
	return nil
}

// ReadHeader reads and decodes the message header.
func ReadHeader(r io.Reader) (Header, error) {
	buf := make([]byte, HeaderSize)
	if _, err := io.ReadFull(r, buf); err != nil {
		return Header{}, err
	}
	return Header{
		OpCode: OpCode(buf[0]),
		Length: binary.BigEndian.Uint32(buf[1:]),
	}, nil
}

// ReadBody reads the body into the provided value.
func ReadBody(r io.Reader, length uint32, v interface{}) error {
	if length == 0 {
		return nil
	}
	lr := io.LimitReader(r, int64(length))
	decoder := json.NewDecoder(lr)
	return decoder.Decode(v)
}
