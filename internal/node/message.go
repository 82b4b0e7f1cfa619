// Package node runs addressed processes. Each process owns an inbox that a
// single goroutine drains, so a handler never sees two messages at once.
// Processes talk only by sending messages to addresses, either on this node
// or, through a Remote, on another one.
package node

import (
	"fmt"
	"strings"
)

// Address names one process on one node.
type Address struct {
	Node    string `msgpack:"node"`
	Process string `msgpack:"process"`
}

func (a Address) String() string {
	return a.Process + "@" + a.Node
}

// IsZero reports whether a is the empty address.
func (a Address) IsZero() bool {
	return a.Node == "" && a.Process == ""
}

// ParseAddress parses the "process@node" form produced by String.
func ParseAddress(s string) (Address, error) {
	proc, nodeID, ok := strings.Cut(s, "@")
	if !ok || proc == "" || nodeID == "" {
		return Address{}, fmt.Errorf("malformed address %q", s)
	}
	return Address{Node: nodeID, Process: proc}, nil
}

// Kind tags the payload carried in Body.
type Kind string

// Message is the unit exchanged between processes and, unchanged, between
// nodes. Body holds the encoded structured payload; Blob carries raw bytes
// next to it so large binary data is never encoded twice.
type Message struct {
	Source      Address `msgpack:"source"`
	Target      Address `msgpack:"target"`
	Kind        Kind    `msgpack:"kind"`
	Body        []byte  `msgpack:"body"`
	Blob        []byte  `msgpack:"blob"`
	ExpectReply bool    `msgpack:"expect_reply"`

	reply chan *Message
}

// Reply answers a message sent with Request. resp is addressed back to the
// requester. It reports false if no reply is expected or one was already sent.
func (m *Message) Reply(resp *Message) bool {
	if m.reply == nil {
		return false
	}
	resp.Source = m.Target
	resp.Target = m.Source
	resp.ExpectReply = false

	select {
	case m.reply <- resp:
		return true
	default:
		return false
	}
}
