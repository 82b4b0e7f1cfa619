// Package backup implements the orchestrator: the per-node process that
// negotiates backups and retrievals with peers, owns at most one transfer
// agent at a time, keeps the bookkeeping and restores retrieved backups.
//
// The orchestrator handles one message at a time on its inbox, so its state
// needs no locking. Console commands reach it as UI messages, see Client.
package backup

import (
	"context"
	"errors"
	"fmt"
	"path"
	"time"

	"github.com/dmitrijs2005/peervault/internal/common"
	"github.com/dmitrijs2005/peervault/internal/filex"
	"github.com/dmitrijs2005/peervault/internal/logging"
	"github.com/dmitrijs2005/peervault/internal/node"
	"github.com/dmitrijs2005/peervault/internal/protocol"
	"github.com/dmitrijs2005/peervault/internal/transfer"
)

// Runtime is the part of node.Runtime the orchestrator uses.
type Runtime interface {
	transfer.Runtime
	Request(ctx context.Context, msg *node.Message) (*node.Message, error)
	Stop(addr node.Address)
}

// Operation names what the active transfer is doing.
type Operation string

const (
	OpBackup        Operation = "backup"         // sending our documents to a provider
	OpStore         Operation = "store"          // receiving a client's backup
	OpRetrieve      Operation = "retrieve"       // receiving our backup into quarantine
	OpServeRetrieve Operation = "serve-retrieve" // sending a client's backup back
)

// Event reports a finished transfer.
type Event struct {
	Op    Operation
	Peer  string
	Agent node.Address
	Err   error
}

type Options struct {
	// RequestTimeout bounds each round trip to a peer or to a local agent.
	RequestTimeout time.Duration
	Agent          transfer.Options
	// Policy decides on incoming backup requests. Nil accepts everything.
	Policy Policy
	// Mirror, when set, receives every client backup stored successfully.
	Mirror Mirror
	// Observer is called on the orchestrator goroutine and must not block.
	Observer func(Event)
}

type activeTransfer struct {
	agent node.Address
	op    Operation
	peer  string
}

type Orchestrator struct {
	rt     Runtime
	self   node.Address
	store  filex.Store
	state  StateStore
	opts   Options
	logger logging.Logger
	now    func() time.Time

	book   *Bookkeeping
	active *activeTransfer
}

func New(rt Runtime, store filex.Store, state StateStore, opts Options, l logging.Logger) *Orchestrator {
	if opts.Policy == nil {
		opts.Policy = AcceptAll{}
	}
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = 10 * time.Second
	}
	return &Orchestrator{
		rt:     rt,
		self:   rt.Address(protocol.OrchestratorProcess),
		store:  store,
		state:  state,
		opts:   opts,
		logger: l.With("module", "orchestrator"),
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// Start loads the bookkeeping and spawns the orchestrator process. A secret
// left pending by a crash is discarded.
func (o *Orchestrator) Start(ctx context.Context) (node.Address, error) {
	book, err := o.state.Load(ctx)
	if err != nil {
		return node.Address{}, err
	}
	o.book = book

	if o.book.PendingSecret != "" {
		o.logger.Warn(ctx, "discarding secret left by an unfinished backup request")
		o.book.PendingSecret = ""
		if err := o.save(ctx); err != nil {
			return node.Address{}, err
		}
	}

	return o.rt.Spawn(protocol.OrchestratorProcess, o)
}

func (o *Orchestrator) HandleMessage(ctx context.Context, msg *node.Message) error {
	m, err := protocol.DecodeOrchestrator(msg)
	if err != nil {
		return err
	}

	switch m := m.(type) {
	case protocol.BackupRequest:
		return protocol.Reply(msg, o.onBackupRequest(ctx, msg.Source.Node, m))
	case protocol.BackupRetrieve:
		return protocol.Reply(msg, o.onBackupRetrieve(ctx, msg.Source.Node, m))
	case protocol.AgentStatus:
		if msg.Source.Node != o.self.Node {
			return fmt.Errorf("%w: agent status from %s", common.ErrUnexpectedMessage, msg.Source)
		}
		o.onAgentDone(ctx, msg.Source, m)
		return nil
	}

	if msg.Source.Node != o.self.Node {
		err := fmt.Errorf("%w: console command %s from %s", common.ErrUnexpectedMessage, msg.Kind, msg.Source)
		if rerr := protocol.Reply(msg, uiResult(err)); rerr != nil {
			return rerr
		}
		return err
	}
	return protocol.Reply(msg, o.handleUI(ctx, m))
}

func (o *Orchestrator) handleUI(ctx context.Context, m protocol.OrchestratorMsg) protocol.UIResult {
	var (
		res protocol.UIResult
		err error
	)

	switch m := m.(type) {
	case protocol.UIBackup:
		err = o.beginBackup(ctx, m.Node, m.Secret)
	case protocol.UIRetrieve:
		err = o.beginRetrieve(ctx, m.Node)
	case protocol.UIDecrypt:
		err = o.decrypt(ctx, m.Secret)
	case protocol.UIStatus:
		st := o.status()
		res.Status = &st
	case protocol.UIImport:
		err = o.importDocs(ctx, m.Docs)
	case protocol.UIExport:
		res.Docs, err = o.exportDocs(ctx)
	default:
		err = fmt.Errorf("%w: %s", common.ErrUnexpectedMessage, m.Kind())
	}

	if err != nil {
		o.logger.Error(ctx, "command failed", "command", m.Kind(), "error", err)
		return uiResult(err)
	}
	return res
}

// onAgentDone frees the slot when the reporting agent is the active one.
// Reports from agents we already gave up on are ignored.
func (o *Orchestrator) onAgentDone(ctx context.Context, from node.Address, st protocol.AgentStatus) {
	if o.active == nil || o.active.agent != from {
		o.logger.Warn(ctx, "ignoring status from inactive agent", "agent", from.String(), "error", st.Error)
		return
	}
	done := *o.active
	o.active = nil

	var err error
	if st.Error != "" {
		err = errors.New(st.Error)
	}

	if err == nil {
		switch done.op {
		case OpRetrieve:
			now := o.now()
			o.book.LastRetrieveAt = &now
			err = o.save(ctx)
		case OpStore:
			if o.opts.Mirror != nil {
				err = o.mirror(ctx, done.peer)
			}
		}
	}

	if err != nil {
		o.logger.Error(ctx, "transfer failed", "op", done.op, "peer", done.peer, "error", err)
	} else {
		o.logger.Info(ctx, "transfer finished", "op", done.op, "peer", done.peer)
	}

	if o.opts.Observer != nil {
		o.opts.Observer(Event{Op: done.op, Peer: done.peer, Agent: done.agent, Err: err})
	}
}

func (o *Orchestrator) mirror(ctx context.Context, client string) error {
	ctx, cancel := context.WithTimeout(ctx, 10*o.opts.RequestTimeout)
	defer cancel()

	if err := o.opts.Mirror.Mirror(ctx, client, path.Join(common.StorageDir, client)); err != nil {
		return fmt.Errorf("mirror %s: %w", client, err)
	}
	return nil
}

func (o *Orchestrator) status() protocol.Status {
	st := protocol.Status{
		Node:              o.self.Node,
		Served:            make(map[string]time.Time, len(o.book.Served)),
		Provider:          o.book.Provider,
		LastBackupAt:      o.book.LastBackupAt,
		LastRetrieveAt:    o.book.LastRetrieveAt,
		RetrievedBackupAt: o.book.RetrievedBackupAt,
	}
	for k, v := range o.book.Served {
		st.Served[k] = v
	}
	if o.active != nil {
		st.ActiveAgent = o.active.agent.String()
	}
	return st
}

// claim takes the transfer slot for agent.
func (o *Orchestrator) claim(agent node.Address, op Operation, peer string) error {
	if o.active != nil {
		return common.ErrBusy
	}
	o.active = &activeTransfer{agent: agent, op: op, peer: peer}
	return nil
}

// abort frees the slot held by agent and stops it.
func (o *Orchestrator) abort(agent node.Address) {
	if o.active != nil && o.active.agent == agent {
		o.active = nil
	}
	o.rt.Stop(agent)
}

func (o *Orchestrator) spawnAgent(job transfer.Job) (node.Address, error) {
	return transfer.Spawn(o.rt, o.self, job, o.store, o.opts.Agent, o.logger)
}

// startReceiver starts a receiving agent and waits until its destination
// is prepared.
func (o *Orchestrator) startReceiver(ctx context.Context, agent node.Address) error {
	resp, err := o.request(ctx, agent, protocol.AgentStart{})
	if err != nil {
		return fmt.Errorf("start receiver: %w", err)
	}
	ack, err := protocol.DecodeAs[protocol.AgentStatus](resp)
	if err != nil {
		return err
	}
	if ack.Error != "" {
		return fmt.Errorf("start receiver: %s", ack.Error)
	}
	return nil
}

func (o *Orchestrator) startSender(ctx context.Context, agent node.Address) error {
	msg, err := protocol.New(o.self, agent, protocol.AgentStart{}, nil)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, o.opts.RequestTimeout)
	defer cancel()
	if err := o.rt.Send(ctx, msg); err != nil {
		return fmt.Errorf("start sender: %w", err)
	}
	return nil
}

func (o *Orchestrator) request(ctx context.Context, to node.Address, p protocol.Payload) (*node.Message, error) {
	msg, err := protocol.New(o.self, to, p, nil)
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(ctx, o.opts.RequestTimeout)
	defer cancel()
	return o.rt.Request(ctx, msg)
}

func (o *Orchestrator) save(ctx context.Context) error {
	if err := o.state.Save(ctx, o.book); err != nil {
		return fmt.Errorf("save bookkeeping: %w", err)
	}
	return nil
}

func peerOrchestrator(peer string) node.Address {
	return node.Address{Node: peer, Process: protocol.OrchestratorProcess}
}

// clientDir is where a client's backup is stored. The client id must be a
// single path segment.
func clientDir(client string) (string, error) {
	if client == "" || client == "." || client == ".." || path.Base(client) != client {
		return "", fmt.Errorf("invalid node id %q", client)
	}
	return path.Join(common.StorageDir, client), nil
}
