// Package transfer implements transfer agents: short-lived processes that
// either stream a directory out as chunks (sender) or rebuild a directory
// from chunks (receiver). An agent does exactly one job and then exits,
// reporting to the process that spawned it.
package transfer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/dmitrijs2005/peervault/internal/common"
	"github.com/dmitrijs2005/peervault/internal/filex"
	"github.com/dmitrijs2005/peervault/internal/logging"
	"github.com/dmitrijs2005/peervault/internal/node"
	"github.com/dmitrijs2005/peervault/internal/protocol"
	"github.com/google/uuid"
)

// Role is what an agent does for its whole life.
type Role int

const (
	RoleSender Role = iota + 1
	RoleReceiver
)

func (r Role) String() string {
	switch r {
	case RoleSender:
		return "sender"
	case RoleReceiver:
		return "receiver"
	}
	return fmt.Sprintf("role(%d)", int(r))
}

// Job describes the single transfer an agent performs.
type Job struct {
	Role Role
	// Root is the store directory to send from or receive into.
	Root string
	// Target is the receiving agent. Sender only.
	Target node.Address
	// Secret enables content and name encryption. Sender only; empty means
	// names are taken verbatim from the last path segment.
	Secret string
}

// Runtime is the part of node.Runtime agents use.
type Runtime interface {
	Address(name string) node.Address
	Spawn(name string, h node.Handler, opts ...node.SpawnOption) (node.Address, error)
	Send(ctx context.Context, msg *node.Message) error
}

// Options tune agent timing.
type Options struct {
	// SendTimeout bounds each outgoing message.
	SendTimeout time.Duration
	// IdleTimeout retires an agent that hears nothing for this long.
	IdleTimeout time.Duration
}

type Agent struct {
	job    Job
	self   node.Address
	owner  node.Address
	rt     Runtime
	store  filex.Store
	opts   Options
	logger logging.Logger

	started bool

	// receiver state
	curTag string
	cur    io.WriteCloser

	files int
	bytes int64
}

// Spawn starts an agent for job owned by owner. The agent waits for an
// AgentStart message before doing anything.
func Spawn(rt Runtime, owner node.Address, job Job, store filex.Store, opts Options, l logging.Logger) (node.Address, error) {
	if job.Role != RoleSender && job.Role != RoleReceiver {
		return node.Address{}, fmt.Errorf("spawn agent: invalid role %v", job.Role)
	}
	if job.Role == RoleSender && job.Target.IsZero() {
		return node.Address{}, errors.New("spawn agent: sender without target")
	}

	name := "agent-" + uuid.NewString()
	a := &Agent{
		job:    job,
		self:   rt.Address(name),
		owner:  owner,
		rt:     rt,
		store:  store,
		opts:   opts,
		logger: l.With("module", "agent", "agent", name, "role", job.Role.String()),
	}

	var spawnOpts []node.SpawnOption
	if opts.IdleTimeout > 0 {
		spawnOpts = append(spawnOpts, node.WithIdleTimeout(opts.IdleTimeout))
	}
	return rt.Spawn(name, a, spawnOpts...)
}

func (a *Agent) HandleMessage(ctx context.Context, msg *node.Message) error {
	m, err := protocol.DecodeAgent(msg)
	if err != nil {
		return err
	}

	switch m := m.(type) {
	case protocol.AgentStart:
		if a.started {
			return fmt.Errorf("%w: agent already started", common.ErrUnexpectedMessage)
		}
		a.started = true
		a.logger.Info(ctx, "agent started", "root", a.job.Root)

		if a.job.Role == RoleSender {
			return a.finish(ctx, a.send(ctx))
		}

		err := a.prepare(ctx)
		ack := protocol.AgentStatus{}
		if err != nil {
			ack.Error = err.Error()
		}
		if rerr := protocol.Reply(msg, ack); rerr != nil {
			a.logger.Error(ctx, "start ack failed", "error", rerr)
		}
		if err != nil {
			return a.finish(ctx, err)
		}
		return nil

	case protocol.Chunk:
		if a.job.Role != RoleReceiver || !a.started {
			return fmt.Errorf("%w: chunk for %s agent (started=%v)", common.ErrUnexpectedMessage, a.job.Role, a.started)
		}
		if m.Done {
			if m.Error != "" {
				return a.finish(ctx, fmt.Errorf("%w: %s", common.ErrSenderFailed, m.Error))
			}
			return a.finish(ctx, nil)
		}
		if err := a.write(ctx, m.Tag, msg.Blob); err != nil {
			return a.finish(ctx, err)
		}
		return nil
	}

	return fmt.Errorf("%w: %s", common.ErrUnexpectedMessage, msg.Kind)
}

// Idle retires an agent whose peer went silent.
func (a *Agent) Idle(ctx context.Context) error {
	return a.finish(ctx, common.ErrStalled)
}

// finish closes any open file, reports to the owner and ends the process.
func (a *Agent) finish(ctx context.Context, cause error) error {
	if a.cur != nil {
		if err := a.cur.Close(); err != nil && cause == nil {
			cause = err
		}
		a.cur = nil
	}

	status := protocol.AgentStatus{Done: true}
	if cause != nil {
		status.Error = cause.Error()
		a.logger.Error(ctx, "agent failed", "error", cause, "files", a.files, "bytes", a.bytes)
	} else {
		a.logger.Info(ctx, "agent done", "files", a.files, "bytes", a.bytes)
	}

	if cause != nil && a.job.Role == RoleSender {
		a.abortTarget(ctx, cause)
	}
	if err := a.sendTo(ctx, a.owner, status, nil); err != nil {
		a.logger.Error(ctx, "report to owner failed", "owner", a.owner.String(), "error", err)
	}
	return node.Exit(cause)
}

// abortTarget ends the transfer at the receiving agent with cause. Failures
// are only logged.
func (a *Agent) abortTarget(ctx context.Context, cause error) {
	if err := a.sendTo(ctx, a.job.Target, protocol.Chunk{Done: true, Error: cause.Error()}, nil); err != nil {
		a.logger.Warn(ctx, "abort notice to target failed", "target", a.job.Target.String(), "error", err)
	}
}

func (a *Agent) sendTo(ctx context.Context, to node.Address, p protocol.Payload, blob []byte) error {
	msg, err := protocol.New(a.self, to, p, blob)
	if err != nil {
		return err
	}
	if a.opts.SendTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, a.opts.SendTimeout)
		defer cancel()
	}
	return a.rt.Send(ctx, msg)
}
