// Package protocol defines the payloads exchanged between orchestrators,
// between transfer agents, and between the console and its orchestrator.
//
// Payloads are msgpack encoded into node.Message.Body and decoded exactly
// once, at the receiving process, into one of two closed sets: OrchestratorMsg
// for orchestrator inboxes and AgentMsg for agent inboxes. Replies are
// decoded with DecodeAs.
package protocol

import (
	"fmt"

	"github.com/dmitrijs2005/peervault/internal/common"
	"github.com/dmitrijs2005/peervault/internal/node"
	"github.com/vmihailenco/msgpack"
)

const (
	KindBackupRequest          node.Kind = "backup_request"
	KindBackupRequestResponse  node.Kind = "backup_request_response"
	KindBackupRetrieve         node.Kind = "backup_retrieve"
	KindBackupRetrieveResponse node.Kind = "backup_retrieve_response"

	KindAgentStart  node.Kind = "agent_start"
	KindChunk       node.Kind = "chunk"
	KindAgentStatus node.Kind = "agent_status"

	KindUIBackup   node.Kind = "ui_backup"
	KindUIRetrieve node.Kind = "ui_retrieve"
	KindUIDecrypt  node.Kind = "ui_decrypt"
	KindUIStatus   node.Kind = "ui_status"
	KindUIImport   node.Kind = "ui_import"
	KindUIExport   node.Kind = "ui_export"
	KindUIResult   node.Kind = "ui_result"
)

// OrchestratorProcess is the well-known process name of every node's orchestrator.
const OrchestratorProcess = "orchestrator"

// Payload is any message body.
type Payload interface {
	Kind() node.Kind
}

// OrchestratorMsg is a payload an orchestrator inbox accepts.
type OrchestratorMsg interface {
	Payload
	orchestratorMsg()
}

// AgentMsg is a payload a transfer agent inbox accepts.
type AgentMsg interface {
	Payload
	agentMsg()
}

// New encodes p into a message from -> to. blob travels next to the body.
func New(from, to node.Address, p Payload, blob []byte) (*node.Message, error) {
	body, err := msgpack.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", p.Kind(), err)
	}
	return &node.Message{
		Source: from,
		Target: to,
		Kind:   p.Kind(),
		Body:   body,
		Blob:   blob,
	}, nil
}

// Reply encodes p as the answer to req.
func Reply(req *node.Message, p Payload) error {
	resp, err := New(req.Target, req.Source, p, nil)
	if err != nil {
		return err
	}
	req.Reply(resp)
	return nil
}

func decode[T Payload](msg *node.Message) (T, error) {
	var v T
	if err := msgpack.Unmarshal(msg.Body, &v); err != nil {
		return v, fmt.Errorf("decode %s: %w", msg.Kind, err)
	}
	return v, nil
}

// DecodeAs decodes a reply of the expected kind.
func DecodeAs[T Payload](msg *node.Message) (T, error) {
	var zero T
	if msg.Kind != zero.Kind() {
		return zero, fmt.Errorf("%w: got %q, want %q", common.ErrUnexpectedMessage, msg.Kind, zero.Kind())
	}
	return decode[T](msg)
}

// DecodeOrchestrator decodes a message arriving at an orchestrator.
func DecodeOrchestrator(msg *node.Message) (OrchestratorMsg, error) {
	switch msg.Kind {
	case KindBackupRequest:
		return decode[BackupRequest](msg)
	case KindBackupRetrieve:
		return decode[BackupRetrieve](msg)
	case KindAgentStatus:
		return decode[AgentStatus](msg)
	case KindUIBackup:
		return decode[UIBackup](msg)
	case KindUIRetrieve:
		return decode[UIRetrieve](msg)
	case KindUIDecrypt:
		return decode[UIDecrypt](msg)
	case KindUIStatus:
		return decode[UIStatus](msg)
	case KindUIImport:
		return decode[UIImport](msg)
	case KindUIExport:
		return decode[UIExport](msg)
	}
	return nil, fmt.Errorf("%w: %q for orchestrator", common.ErrUnexpectedMessage, msg.Kind)
}

// DecodeAgent decodes a message arriving at a transfer agent.
func DecodeAgent(msg *node.Message) (AgentMsg, error) {
	switch msg.Kind {
	case KindAgentStart:
		return decode[AgentStart](msg)
	case KindChunk:
		return decode[Chunk](msg)
	}
	return nil, fmt.Errorf("%w: %q for agent", common.ErrUnexpectedMessage, msg.Kind)
}
