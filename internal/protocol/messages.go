package protocol

import (
	"time"

	"github.com/dmitrijs2005/peervault/internal/node"
)

// BackupRequest asks a peer to store our backup. Size is a hint only.
type BackupRequest struct {
	Size uint64 `msgpack:"size"`
}

// BackupRequestResponse confirms with the receiving agent's address or
// declines with a reason.
type BackupRequestResponse struct {
	Accepted bool         `msgpack:"accepted"`
	Agent    node.Address `msgpack:"agent"`
	Reason   string       `msgpack:"reason,omitempty"`
}

// BackupRetrieve asks a peer to stream our stored backup to Agent.
type BackupRetrieve struct {
	Agent node.Address `msgpack:"agent"`
}

// BackupRetrieveResponse carries when the peer last accepted a backup from
// us, nil if never.
type BackupRetrieveResponse struct {
	LastBackup *time.Time `msgpack:"last_backup"`
	Declined   bool       `msgpack:"declined,omitempty"`
	Reason     string     `msgpack:"reason,omitempty"`
}

// AgentStart tells a freshly spawned agent to begin its job.
type AgentStart struct{}

// Chunk is one piece of a transfer. The payload is the message blob. Done
// with an empty Tag ends the whole transfer; a non-empty Error on that
// terminal chunk means the sender gave up.
type Chunk struct {
	Tag   string `msgpack:"tag"`
	Done  bool   `msgpack:"done"`
	Error string `msgpack:"error,omitempty"`
}

// AgentStatus is sent by an agent to its owner when it finishes.
type AgentStatus struct {
	Done  bool   `msgpack:"done"`
	Error string `msgpack:"error,omitempty"`
}

// UIBackup starts a backup of the documents to Node.
type UIBackup struct {
	Node   string `msgpack:"node"`
	Secret string `msgpack:"secret"`
}

// UIRetrieve fetches our backup from Node into quarantine.
type UIRetrieve struct {
	Node string `msgpack:"node"`
}

// UIDecrypt restores the quarantined backup into the documents.
type UIDecrypt struct {
	Secret string `msgpack:"secret"`
}

// UIStatus asks for the bookkeeping.
type UIStatus struct{}

// UIImport writes documents into the document root.
type UIImport struct {
	Docs map[string][]byte `msgpack:"docs"`
}

// UIExport reads the whole document root.
type UIExport struct{}

// Status is the console's view of the bookkeeping.
type Status struct {
	Node              string               `msgpack:"node"`
	Served            map[string]time.Time `msgpack:"served"`
	Provider          string               `msgpack:"provider,omitempty"`
	LastBackupAt      *time.Time           `msgpack:"last_backup_at"`
	LastRetrieveAt    *time.Time           `msgpack:"last_retrieve_at"`
	RetrievedBackupAt *time.Time           `msgpack:"retrieved_backup_at"`
	ActiveAgent       string               `msgpack:"active_agent,omitempty"`
}

// UIResult answers every UI request. Error is empty on success; Code names
// the sentinel behind Error when there is one.
type UIResult struct {
	Error  string            `msgpack:"error,omitempty"`
	Code   string            `msgpack:"code,omitempty"`
	Status *Status           `msgpack:"status,omitempty"`
	Docs   map[string][]byte `msgpack:"docs,omitempty"`
}

func (BackupRequest) Kind() node.Kind          { return KindBackupRequest }
func (BackupRequestResponse) Kind() node.Kind  { return KindBackupRequestResponse }
func (BackupRetrieve) Kind() node.Kind         { return KindBackupRetrieve }
func (BackupRetrieveResponse) Kind() node.Kind { return KindBackupRetrieveResponse }
func (AgentStart) Kind() node.Kind             { return KindAgentStart }
func (Chunk) Kind() node.Kind                  { return KindChunk }
func (AgentStatus) Kind() node.Kind            { return KindAgentStatus }
func (UIBackup) Kind() node.Kind               { return KindUIBackup }
func (UIRetrieve) Kind() node.Kind             { return KindUIRetrieve }
func (UIDecrypt) Kind() node.Kind              { return KindUIDecrypt }
func (UIStatus) Kind() node.Kind               { return KindUIStatus }
func (UIImport) Kind() node.Kind               { return KindUIImport }
func (UIExport) Kind() node.Kind               { return KindUIExport }
func (UIResult) Kind() node.Kind               { return KindUIResult }

func (BackupRequest) orchestratorMsg()  {}
func (BackupRetrieve) orchestratorMsg() {}
func (AgentStatus) orchestratorMsg()    {}
func (UIBackup) orchestratorMsg()       {}
func (UIRetrieve) orchestratorMsg()     {}
func (UIDecrypt) orchestratorMsg()      {}
func (UIStatus) orchestratorMsg()       {}
func (UIImport) orchestratorMsg()       {}
func (UIExport) orchestratorMsg()       {}

func (AgentStart) agentMsg() {}
func (Chunk) agentMsg()      {}
