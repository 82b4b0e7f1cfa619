package backup

import (
	"context"
	"errors"
	"fmt"
	"path"
	"sync"
	"testing"
	"time"

	"github.com/dmitrijs2005/peervault/internal/common"
	"github.com/dmitrijs2005/peervault/internal/cryptox"
	"github.com/dmitrijs2005/peervault/internal/filex"
	"github.com/dmitrijs2005/peervault/internal/logging"
	"github.com/dmitrijs2005/peervault/internal/node"
	"github.com/dmitrijs2005/peervault/internal/protocol"
	"github.com/dmitrijs2005/peervault/internal/snapshot"
	"github.com/dmitrijs2005/peervault/internal/transfer"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vmihailenco/msgpack"
)

// memState persists bookkeeping the way RepositoryStore does, in memory.
type memState struct {
	mu      sync.Mutex
	raw     []byte
	secrets []string
}

func (s *memState) Load(context.Context) (*Bookkeeping, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	b := newBookkeeping()
	if s.raw != nil {
		if err := msgpack.Unmarshal(s.raw, b); err != nil {
			return nil, err
		}
	}
	if b.Served == nil {
		b.Served = make(map[string]time.Time)
	}
	return b, nil
}

func (s *memState) Save(_ context.Context, b *Bookkeeping) error {
	raw, err := msgpack.Marshal(b)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.secrets = append(s.secrets, b.PendingSecret)
	s.raw = raw
	return nil
}

func (s *memState) savedSecrets() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.secrets...)
}

// network routes messages between runtimes of one test.
type network struct {
	mu    sync.RWMutex
	nodes map[string]*node.Runtime
}

func newNetwork() *network {
	return &network{nodes: make(map[string]*node.Runtime)}
}

func (n *network) join(t *testing.T, id string) *node.Runtime {
	t.Helper()
	rt := node.NewRuntime(id, logging.Discard())
	rt.SetRemote(n)
	t.Cleanup(rt.Close)

	n.mu.Lock()
	n.nodes[id] = rt
	n.mu.Unlock()
	return rt
}

func (n *network) Deliver(ctx context.Context, msg *node.Message) (*node.Message, error) {
	n.mu.RLock()
	rt, ok := n.nodes[msg.Target.Node]
	n.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%s: %w", msg.Target.Node, common.ErrUnknownPeer)
	}
	return rt.Deliver(ctx, msg)
}

type peer struct {
	id     string
	rt     *node.Runtime
	store  *filex.DiskStore
	state  *memState
	client *Client
	events chan Event
}

func newPeer(t *testing.T, net *network, id string, opts Options) *peer {
	t.Helper()

	store, err := filex.NewDiskStore(t.TempDir())
	require.NoError(t, err)

	p := &peer{
		id:     id,
		rt:     net.join(t, id),
		store:  store,
		state:  &memState{},
		events: make(chan Event, 16),
	}
	if opts.RequestTimeout == 0 {
		opts.RequestTimeout = 2 * time.Second
	}
	opts.Observer = func(e Event) { p.events <- e }

	o := New(p.rt, store, p.state, opts, logging.Discard())
	_, err = o.Start(context.Background())
	require.NoError(t, err)

	p.client = NewClient(p.rt)
	return p
}

func (p *peer) await(t *testing.T, op Operation) Event {
	t.Helper()
	select {
	case e := <-p.events:
		require.Equal(t, op, e.Op, "unexpected event on %s: %+v", p.id, e)
		return e
	case <-time.After(5 * time.Second):
		t.Fatalf("%s: no %s event", p.id, op)
	}
	return Event{}
}

func (p *peer) export(t *testing.T) map[string]string {
	t.Helper()
	docs, err := p.client.Export(ctxT(t))
	require.NoError(t, err)
	return asStrings(docs)
}

func (p *peer) status(t *testing.T) protocol.Status {
	t.Helper()
	st, err := p.client.Status(ctxT(t))
	require.NoError(t, err)
	return st
}

func ctxT(t *testing.T) context.Context {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func asStrings(docs map[string][]byte) map[string]string {
	out := make(map[string]string, len(docs))
	for k, v := range docs {
		out[k] = string(v)
	}
	return out
}

func sampleDocs() map[string][]byte {
	return map[string][]byte{
		"a.txt":            []byte("alpha"),
		"sub/b.txt":        []byte("bravo"),
		"sub/deeper/c.bin": make([]byte, 3*cryptox.ChunkSize+17),
		"sub/deeper/empty": {},
	}
}

func TestBackupRetrieveDecrypt_RoundTrip(t *testing.T) {
	net := newNetwork()
	alice := newPeer(t, net, "alice", Options{})
	bob := newPeer(t, net, "bob", Options{})

	pw1 := cryptox.DeriveSecret([]byte("pw1"))
	pw2 := cryptox.DeriveSecret([]byte("pw2"))

	original := sampleDocs()
	require.NoError(t, alice.client.Import(ctxT(t), original))

	require.NoError(t, alice.client.Backup(ctxT(t), "bob", pw1))
	require.NoError(t, alice.await(t, OpBackup).Err)
	stored := bob.await(t, OpStore)
	require.NoError(t, stored.Err)
	assert.Equal(t, "alice", stored.Peer)

	// the provider only ever sees ciphertext names
	names, err := snapshot.FlattenLight(ctxT(t), bob.store, path.Join(common.StorageDir, "alice"))
	require.NoError(t, err)
	assert.Len(t, names, len(original))
	for _, n := range names {
		assert.NotContains(t, original, n)
	}

	// the secret was persisted while the request was open, then cleared
	secrets := alice.state.savedSecrets()
	assert.Contains(t, secrets, pw1)
	assert.Equal(t, "", secrets[len(secrets)-1])

	ast := alice.status(t)
	assert.Equal(t, "bob", ast.Provider)
	require.NotNil(t, ast.LastBackupAt)
	assert.Empty(t, ast.ActiveAgent)

	bst := bob.status(t)
	served, ok := bst.Served["alice"]
	require.True(t, ok)

	// lose the documents
	require.NoError(t, alice.store.RemoveAll(ctxT(t), common.DocumentsDir))
	require.NoError(t, alice.client.Import(ctxT(t), map[string][]byte{"a.txt": []byte("changed")}))

	require.NoError(t, alice.client.Retrieve(ctxT(t), "bob"))
	require.NoError(t, alice.await(t, OpRetrieve).Err)
	require.NoError(t, bob.await(t, OpServeRetrieve).Err)

	ast = alice.status(t)
	require.NotNil(t, ast.RetrievedBackupAt)
	assert.True(t, served.Equal(*ast.RetrievedBackupAt))
	require.NotNil(t, ast.LastRetrieveAt)

	// wrong password leaves the documents alone
	err = alice.client.Decrypt(ctxT(t), pw2)
	require.Error(t, err)
	assert.ErrorIs(t, err, cryptox.ErrDecryptionFailed)
	assert.Equal(t, map[string]string{"a.txt": "changed"}, alice.export(t))
	_, err = alice.store.Stat(ctxT(t), common.StagingDir)
	assert.Error(t, err, "staging must be cleaned up")

	require.NoError(t, alice.client.Decrypt(ctxT(t), pw1))
	assert.Equal(t, asStrings(original), alice.export(t))
}

func TestDecrypt_NothingRetrieved(t *testing.T) {
	net := newNetwork()
	alice := newPeer(t, net, "alice", Options{})

	err := alice.client.Decrypt(ctxT(t), "secret")
	assert.ErrorIs(t, err, common.ErrNoBackup)
}

func TestRetrieve_FromProviderWithoutBackup(t *testing.T) {
	net := newNetwork()
	alice := newPeer(t, net, "alice", Options{})
	newPeer(t, net, "bob", Options{})

	require.NoError(t, alice.client.Retrieve(ctxT(t), "bob"))
	require.NoError(t, alice.await(t, OpRetrieve).Err)

	st := alice.status(t)
	assert.Nil(t, st.RetrievedBackupAt)
	assert.ErrorIs(t, alice.client.Decrypt(ctxT(t), "secret"), common.ErrNoBackup)
}

func TestBackup_UnknownPeerClearsSecret(t *testing.T) {
	net := newNetwork()
	alice := newPeer(t, net, "alice", Options{})

	err := alice.client.Backup(ctxT(t), "nobody", "secret")
	assert.ErrorIs(t, err, common.ErrUnknownPeer)

	secrets := alice.state.savedSecrets()
	require.NotEmpty(t, secrets)
	assert.Equal(t, "", secrets[len(secrets)-1])
	assert.Empty(t, alice.status(t).Provider)
}

func TestBackup_ToSelfRefused(t *testing.T) {
	net := newNetwork()
	alice := newPeer(t, net, "alice", Options{})

	err := alice.client.Backup(ctxT(t), "alice", "secret")
	assert.ErrorIs(t, err, common.ErrUnknownPeer)
	assert.Empty(t, alice.state.savedSecrets())
}

type denyPolicy struct{}

func (denyPolicy) Accept(context.Context, string, uint64) error {
	return errors.New("no room")
}

func TestBackup_DeclinedByPolicy(t *testing.T) {
	net := newNetwork()
	alice := newPeer(t, net, "alice", Options{})
	bob := newPeer(t, net, "bob", Options{Policy: denyPolicy{}})

	err := alice.client.Backup(ctxT(t), "bob", "secret")
	assert.ErrorIs(t, err, common.ErrDeclined)
	assert.Contains(t, err.Error(), "no room")

	secrets := alice.state.savedSecrets()
	assert.Equal(t, []string{"secret", ""}, secrets)
	assert.Empty(t, bob.status(t).Served)
}

// stallingClient asks target to store a backup and then never sends a
// chunk, keeping the target's slot busy until its agent goes idle.
func stallingClient(t *testing.T, net *network, id, target string) {
	t.Helper()
	rt := net.join(t, id)

	msg, err := protocol.New(rt.Address("orchestrator"), peerOrchestrator(target), protocol.BackupRequest{Size: 1}, nil)
	require.NoError(t, err)
	resp, err := rt.Request(ctxT(t), msg)
	require.NoError(t, err)
	r, err := protocol.DecodeAs[protocol.BackupRequestResponse](resp)
	require.NoError(t, err)
	require.True(t, r.Accepted, r.Reason)
}

func TestBusy_ProviderDeclinesAndSlotFreesOnStall(t *testing.T) {
	net := newNetwork()
	alice := newPeer(t, net, "alice", Options{})
	bob := newPeer(t, net, "bob", Options{Agent: transfer.Options{IdleTimeout: time.Second}})

	stallingClient(t, net, "carol", "bob")
	assert.NotEmpty(t, bob.status(t).ActiveAgent)

	err := alice.client.Backup(ctxT(t), "bob", "secret")
	assert.ErrorIs(t, err, common.ErrDeclined)
	assert.Contains(t, err.Error(), "busy")
	assert.Equal(t, "", alice.state.savedSecrets()[len(alice.state.savedSecrets())-1])

	ev := bob.await(t, OpStore)
	assert.Equal(t, "carol", ev.Peer)
	require.Error(t, ev.Err)
	assert.Contains(t, ev.Err.Error(), common.ErrStalled.Error())
	assert.Empty(t, bob.status(t).ActiveAgent)
}

func TestBusy_LocalCommandsRejected(t *testing.T) {
	net := newNetwork()
	alice := newPeer(t, net, "alice", Options{Agent: transfer.Options{IdleTimeout: time.Second}})

	// a provider that accepts the retrieve but never streams
	carol := net.join(t, "carol")
	_, err := carol.Spawn(protocol.OrchestratorProcess, node.HandlerFunc(func(_ context.Context, msg *node.Message) error {
		return protocol.Reply(msg, protocol.BackupRetrieveResponse{})
	}))
	require.NoError(t, err)

	require.NoError(t, alice.client.Retrieve(ctxT(t), "carol"))
	assert.NotEmpty(t, alice.status(t).ActiveAgent)

	assert.ErrorIs(t, alice.client.Backup(ctxT(t), "bob", "secret"), common.ErrBusy)
	assert.ErrorIs(t, alice.client.Retrieve(ctxT(t), "carol"), common.ErrBusy)
	assert.ErrorIs(t, alice.client.Decrypt(ctxT(t), "secret"), common.ErrBusy)
	assert.ErrorIs(t, alice.client.Import(ctxT(t), map[string][]byte{"x": nil}), common.ErrBusy)

	_, err = alice.client.Export(ctxT(t))
	assert.NoError(t, err, "export is read only")

	ev := alice.await(t, OpRetrieve)
	require.Error(t, ev.Err)
	assert.Nil(t, alice.status(t).LastRetrieveAt)
}

func TestRetrieve_DeclinedFreesSlot(t *testing.T) {
	net := newNetwork()
	alice := newPeer(t, net, "alice", Options{})

	carol := net.join(t, "carol")
	_, err := carol.Spawn(protocol.OrchestratorProcess, node.HandlerFunc(func(_ context.Context, msg *node.Message) error {
		return protocol.Reply(msg, protocol.BackupRetrieveResponse{Declined: true, Reason: "busy"})
	}))
	require.NoError(t, err)

	err = alice.client.Retrieve(ctxT(t), "carol")
	assert.ErrorIs(t, err, common.ErrDeclined)
	assert.Empty(t, alice.status(t).ActiveAgent)
}

func TestConsoleCommandsFromRemoteRejected(t *testing.T) {
	net := newNetwork()
	newPeer(t, net, "bob", Options{})
	mallory := net.join(t, "mallory")

	msg, err := protocol.New(mallory.Address("console"), peerOrchestrator("bob"), protocol.UIExport{}, nil)
	require.NoError(t, err)
	resp, err := mallory.Request(ctxT(t), msg)
	require.NoError(t, err)

	res, err := protocol.DecodeAs[protocol.UIResult](resp)
	require.NoError(t, err)
	assert.NotEmpty(t, res.Error)
	assert.Nil(t, res.Docs)
}

type recordingMirror struct {
	mu    sync.Mutex
	calls []string
}

func (m *recordingMirror) Mirror(_ context.Context, client, dir string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, client+"="+dir)
	return nil
}

func TestStore_MirrorsFinishedBackup(t *testing.T) {
	net := newNetwork()
	alice := newPeer(t, net, "alice", Options{})
	mirror := &recordingMirror{}
	bob := newPeer(t, net, "bob", Options{Mirror: mirror})

	require.NoError(t, alice.client.Import(ctxT(t), map[string][]byte{"a": []byte("1")}))
	require.NoError(t, alice.client.Backup(ctxT(t), "bob", "secret"))
	require.NoError(t, bob.await(t, OpStore).Err)

	mirror.mu.Lock()
	defer mirror.mu.Unlock()
	assert.Equal(t, []string{"alice=encrypted_storage/alice"}, mirror.calls)
}

func TestStart_DiscardsPendingSecret(t *testing.T) {
	ctx := context.Background()
	state := &memState{}
	b := newBookkeeping()
	b.PendingSecret = "left over"
	b.Provider = "bob"
	require.NoError(t, state.Save(ctx, b))

	rt := node.NewRuntime("alice", logging.Discard())
	t.Cleanup(rt.Close)
	store, err := filex.NewDiskStore(t.TempDir())
	require.NoError(t, err)

	_, err = New(rt, store, state, Options{}, logging.Discard()).Start(ctx)
	require.NoError(t, err)

	got, err := state.Load(ctx)
	require.NoError(t, err)
	assert.Empty(t, got.PendingSecret)
	assert.Equal(t, "bob", got.Provider)
}

func TestOnAgentDone_IgnoresStaleAgents(t *testing.T) {
	rt := node.NewRuntime("alice", logging.Discard())
	t.Cleanup(rt.Close)
	store, err := filex.NewDiskStore(t.TempDir())
	require.NoError(t, err)

	var events []Event
	o := New(rt, store, &memState{}, Options{Observer: func(e Event) { events = append(events, e) }}, logging.Discard())
	o.book = newBookkeeping()

	ctx := context.Background()
	current := rt.Address("agent-current")
	stale := rt.Address("agent-stale")

	o.onAgentDone(ctx, stale, protocol.AgentStatus{Done: true})
	assert.Empty(t, events)

	require.NoError(t, o.claim(current, OpRetrieve, "bob"))
	o.onAgentDone(ctx, stale, protocol.AgentStatus{Done: true})
	assert.Empty(t, events)
	require.NotNil(t, o.active)

	o.onAgentDone(ctx, current, protocol.AgentStatus{Done: true})
	require.Len(t, events, 1)
	assert.Equal(t, OpRetrieve, events[0].Op)
	assert.Nil(t, o.active)
	assert.NotNil(t, o.book.LastRetrieveAt)
}

func TestClaim_SingleSlot(t *testing.T) {
	rt := node.NewRuntime("alice", logging.Discard())
	t.Cleanup(rt.Close)
	o := New(rt, nil, &memState{}, Options{}, logging.Discard())

	a := rt.Address("agent-a")
	require.NoError(t, o.claim(a, OpBackup, "bob"))
	assert.ErrorIs(t, o.claim(rt.Address("agent-b"), OpStore, "carol"), common.ErrBusy)

	o.abort(rt.Address("agent-b"))
	assert.NotNil(t, o.active, "abort of another agent keeps the slot")
	o.abort(a)
	assert.Nil(t, o.active)
}

func TestClientDir(t *testing.T) {
	for _, bad := range []string{"", ".", "..", "a/b", "../x"} {
		_, err := clientDir(bad)
		assert.Error(t, err, bad)
	}
	dir, err := clientDir("alice")
	require.NoError(t, err)
	assert.Equal(t, "encrypted_storage/alice", dir)
}
