// Command raftauctionctl is an interactive REPL client for submitting
// auction commands to a raftauction node — the human-facing surface this
// repo builds in place of an HTTP/websocket gateway.
package main

import (
	"encoding/json"
	"fmt"
	"io"
	"net"
	"os"
	"strings"
	"time"

	"github.com/peterh/liner"

	"github.com/kartikbazzad/raftauction/wire"
)

func main() {
	addr := "127.0.0.1:7100"
	if len(os.Args) > 1 {
		addr = os.Args[1]
	}

	line := liner.NewLiner()
	defer line.Close()
	line.SetCtrlCAborts(true)

	fmt.Printf("raftauctionctl connected to %s (Ctrl-D to exit)\n", addr)
	fmt.Println("usage: <KIND> <json args>   e.g. NEW_USER {\"username\":\"alice\",\"password\":\"pw\"}")

	for {
		input, err := line.Prompt("raftauction> ")
		if err == liner.ErrPromptAborted || err == io.EOF {
			fmt.Println("bye")
			return
		}
		if err != nil {
			fmt.Fprintln(os.Stderr, "read error:", err)
			return
		}
		input = strings.TrimSpace(input)
		if input == "" {
			continue
		}
		line.AppendHistory(input)

		kind, args, err := parseInput(input)
		if err != nil {
			fmt.Fprintln(os.Stderr, "parse error:", err)
			continue
		}

		reply, err := submit(addr, kind, args)
		if err != nil {
			fmt.Fprintln(os.Stderr, "submit error:", err)
			continue
		}
		printReply(reply)
	}
}

func parseInput(input string) (string, json.RawMessage, error) {
	parts := strings.SplitN(input, " ", 2)
	kind := parts[0]
	argsStr := "{}"
	if len(parts) == 2 {
		argsStr = strings.TrimSpace(parts[1])
	}
	var raw json.RawMessage
	if err := json.Unmarshal([]byte(argsStr), &raw); err != nil {
		return "", nil, fmt.Errorf("invalid json args: %w", err)
	}
	return kind, raw, nil
}

func submit(addr, kind string, args json.RawMessage) (wire.ClientSubmitReply, error) {
	conn, err := net.DialTimeout("tcp", addr, 2*time.Second)
	if err != nil {
		return wire.ClientSubmitReply{}, err
	}
	defer conn.Close()
	conn.SetDeadline(time.Now().Add(5 * time.Second))

	req := wire.ClientSubmitRequest{CommandType: kind, Args: args}
	if err := wire.WriteMessage(conn, wire.OpClientSubmit, req); err != nil {
		return wire.ClientSubmitReply{}, err
	}

	header, err := wire.ReadHeader(conn)
	if err != nil {
		return wire.ClientSubmitReply{}, err
	}
	if header.OpCode == wire.OpError {
		var envelope wire.ErrorEnvelope
		wire.ReadBody(conn, header.Length, &envelope)
		return wire.ClientSubmitReply{}, fmt.Errorf("server error: %s", envelope.Message)
	}

	var reply wire.ClientSubmitReply
	if err := wire.ReadBody(conn, header.Length, &reply); err != nil {
		return wire.ClientSubmitReply{}, err
	}
	return reply, nil
}

func printReply(reply wire.ClientSubmitReply) {
	if reply.ErrorKind != "" {
		fmt.Printf("ERROR %s", reply.ErrorKind)
		if reply.LeaderHint != "" {
			fmt.Printf(" (leader hint: %s)", reply.LeaderHint)
		}
		if len(reply.Result) > 0 {
			fmt.Printf(" %s", string(reply.Result))
		}
		fmt.Println()
		return
	}
	fmt.Printf("OK %s\n", string(reply.Result))
}
