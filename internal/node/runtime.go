package node

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/dmitrijs2005/peervault/internal/common"
	"github.com/dmitrijs2005/peervault/internal/logging"
)

// DefaultInboxSize bounds how many messages may wait for a process before
// senders block.
const DefaultInboxSize = 64

// Handler processes one message at a time. Returning an error created by
// Exit stops the process; any other error is logged and the process keeps
// running.
type Handler interface {
	HandleMessage(ctx context.Context, msg *Message) error
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, msg *Message) error

func (f HandlerFunc) HandleMessage(ctx context.Context, msg *Message) error {
	return f(ctx, msg)
}

// Idler is implemented by handlers spawned with WithIdleTimeout. Idle is
// called from the process goroutine when the inbox stayed empty that long.
type Idler interface {
	Idle(ctx context.Context) error
}

// Remote delivers messages addressed to other nodes. For messages with
// ExpectReply set it returns the reply.
type Remote interface {
	Deliver(ctx context.Context, msg *Message) (*Message, error)
}

// SpawnOption tunes a single process.
type SpawnOption func(*process)

// WithIdleTimeout makes the runtime call the handler's Idle method after d
// without messages.
func WithIdleTimeout(d time.Duration) SpawnOption {
	return func(p *process) { p.idle = d }
}

type process struct {
	addr     Address
	inbox    chan *Message
	stop     chan struct{}
	stopOnce sync.Once
	done     chan struct{}
	idle     time.Duration
}

// Runtime hosts the processes of one node.
type Runtime struct {
	nodeID    string
	logger    logging.Logger
	inboxSize int

	mu     sync.RWMutex
	procs  map[string]*process
	remote Remote

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewRuntime creates the runtime for node nodeID.
func NewRuntime(nodeID string, l logging.Logger) *Runtime {
	ctx, cancel := context.WithCancel(context.Background())
	return &Runtime{
		nodeID:    nodeID,
		logger:    l.With("module", "runtime", "node", nodeID),
		inboxSize: DefaultInboxSize,
		procs:     make(map[string]*process),
		ctx:       ctx,
		cancel:    cancel,
	}
}

// NodeID returns the identity of the node this runtime serves.
func (r *Runtime) NodeID() string {
	return r.nodeID
}

// Address returns the address process name has on this node.
func (r *Runtime) Address(name string) Address {
	return Address{Node: r.nodeID, Process: name}
}

// SetRemote installs the delivery path for other nodes.
func (r *Runtime) SetRemote(remote Remote) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.remote = remote
}

// Spawn starts a process named name running h.
func (r *Runtime) Spawn(name string, h Handler, opts ...SpawnOption) (Address, error) {
	p := &process{
		addr:  r.Address(name),
		inbox: make(chan *Message, r.inboxSize),
		stop:  make(chan struct{}),
		done:  make(chan struct{}),
	}
	for _, o := range opts {
		o(p)
	}

	r.mu.Lock()
	if r.ctx.Err() != nil {
		r.mu.Unlock()
		return Address{}, fmt.Errorf("spawn %s: runtime closed", name)
	}
	if _, ok := r.procs[name]; ok {
		r.mu.Unlock()
		return Address{}, fmt.Errorf("spawn %s: %w", name, ErrAlreadyExists)
	}
	r.procs[name] = p
	r.wg.Add(1)
	r.mu.Unlock()

	go r.run(p, h)

	return p.addr, nil
}

func (r *Runtime) run(p *process, h Handler) {
	defer r.wg.Done()
	defer close(p.done)
	defer r.remove(p)

	var idle <-chan time.Time
	var timer *time.Timer
	if p.idle > 0 {
		timer = time.NewTimer(p.idle)
		defer timer.Stop()
		idle = timer.C
	}

	for {
		var err error

		select {
		case <-r.ctx.Done():
			return
		case <-p.stop:
			return
		case msg := <-p.inbox:
			err = h.HandleMessage(r.ctx, msg)
		case <-idle:
			if idler, ok := h.(Idler); ok {
				err = idler.Idle(r.ctx)
			}
		}

		if err != nil {
			var ex *exitError
			if errors.As(err, &ex) {
				if ex.cause != nil {
					r.logger.Warn(r.ctx, "process exited with error", "process", p.addr.Process, "error", ex.cause)
				}
				return
			}
			r.logger.Error(r.ctx, "message handling failed", "process", p.addr.Process, "error", err)
		}

		if timer != nil {
			timer.Reset(p.idle)
		}
	}
}

func (r *Runtime) remove(p *process) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.procs[p.addr.Process] == p {
		delete(r.procs, p.addr.Process)
	}
}

func (r *Runtime) lookup(name string) *process {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.procs[name]
}

// Stop ends a local process without waiting for it. Messages still queued
// for it are dropped.
func (r *Runtime) Stop(addr Address) {
	if addr.Node != r.nodeID {
		return
	}
	if p := r.lookup(addr.Process); p != nil {
		p.stopOnce.Do(func() { close(p.stop) })
	}
}

// Exited returns a channel closed once the process is gone. For unknown
// addresses the channel is already closed.
func (r *Runtime) Exited(addr Address) <-chan struct{} {
	if addr.Node == r.nodeID {
		if p := r.lookup(addr.Process); p != nil {
			return p.done
		}
	}
	ch := make(chan struct{})
	close(ch)
	return ch
}

// Send delivers msg without waiting for an answer. It fails synchronously
// when the target cannot be reached.
func (r *Runtime) Send(ctx context.Context, msg *Message) error {
	msg.ExpectReply = false
	_, err := r.route(ctx, msg)
	return err
}

// Request delivers msg and waits for the reply until ctx expires.
func (r *Runtime) Request(ctx context.Context, msg *Message) (*Message, error) {
	msg.ExpectReply = true
	return r.route(ctx, msg)
}

func (r *Runtime) route(ctx context.Context, msg *Message) (*Message, error) {
	if msg.Target.Node == r.nodeID {
		return r.Deliver(ctx, msg)
	}

	r.mu.RLock()
	remote := r.remote
	r.mu.RUnlock()
	if remote == nil {
		return nil, fmt.Errorf("%s: %w", msg.Target, ErrNotFound)
	}
	return remote.Deliver(ctx, msg)
}

// Deliver hands msg to a process of this node. It is the entry point for
// messages arriving from other nodes.
func (r *Runtime) Deliver(ctx context.Context, msg *Message) (*Message, error) {
	if msg.Target.Node != r.nodeID {
		return nil, fmt.Errorf("%s: %w", msg.Target, ErrNotFound)
	}
	p := r.lookup(msg.Target.Process)
	if p == nil {
		return nil, fmt.Errorf("%s: %w", msg.Target, ErrNotFound)
	}

	if msg.ExpectReply {
		msg.reply = make(chan *Message, 1)
	}

	select {
	case p.inbox <- msg:
	case <-p.done:
		return nil, fmt.Errorf("%s: %w", msg.Target, ErrNotFound)
	case <-ctx.Done():
		return nil, timeoutErr(ctx)
	}

	if !msg.ExpectReply {
		return nil, nil
	}

	select {
	case resp := <-msg.reply:
		return resp, nil
	case <-p.done:
		select {
		case resp := <-msg.reply:
			return resp, nil
		default:
			return nil, fmt.Errorf("%s: %w", msg.Target, ErrNoReply)
		}
	case <-ctx.Done():
		return nil, timeoutErr(ctx)
	}
}

func timeoutErr(ctx context.Context) error {
	return fmt.Errorf("%w: %v", common.ErrTimeout, ctx.Err())
}

// Close stops every process and waits for them to finish.
func (r *Runtime) Close() {
	r.mu.Lock()
	r.cancel()
	r.mu.Unlock()
	r.wg.Wait()
}
