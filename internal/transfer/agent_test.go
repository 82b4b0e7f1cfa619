package transfer

import (
	"bytes"
	"context"
	"errors"
	"path"
	"testing"
	"time"

	"github.com/dmitrijs2005/peervault/internal/common"
	"github.com/dmitrijs2005/peervault/internal/cryptox"
	"github.com/dmitrijs2005/peervault/internal/filex"
	"github.com/dmitrijs2005/peervault/internal/logging"
	"github.com/dmitrijs2005/peervault/internal/node"
	"github.com/dmitrijs2005/peervault/internal/protocol"
	"github.com/dmitrijs2005/peervault/internal/snapshot"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type harness struct {
	rt       *node.Runtime
	store    *filex.DiskStore
	owner    node.Address
	statuses chan ownerReport
	seen     map[node.Address]protocol.AgentStatus
}

type ownerReport struct {
	from   node.Address
	status protocol.AgentStatus
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	store, err := filex.NewDiskStore(t.TempDir())
	require.NoError(t, err)

	rt := node.NewRuntime("alice", logging.Discard())
	t.Cleanup(rt.Close)

	h := &harness{
		rt:       rt,
		store:    store,
		statuses: make(chan ownerReport, 8),
		seen:     make(map[node.Address]protocol.AgentStatus),
	}
	h.owner, err = rt.Spawn("owner", node.HandlerFunc(func(_ context.Context, msg *node.Message) error {
		st, err := protocol.DecodeAs[protocol.AgentStatus](msg)
		if err != nil {
			return err
		}
		h.statuses <- ownerReport{from: msg.Source, status: st}
		return nil
	}))
	require.NoError(t, err)
	return h
}

func (h *harness) spawn(t *testing.T, job Job, opts Options) node.Address {
	t.Helper()
	addr, err := Spawn(h.rt, h.owner, job, h.store, opts, logging.Discard())
	require.NoError(t, err)
	return addr
}

func (h *harness) start(t *testing.T, agent node.Address, wait bool) {
	t.Helper()
	msg, err := protocol.New(h.owner, agent, protocol.AgentStart{}, nil)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if !wait {
		require.NoError(t, h.rt.Send(ctx, msg))
		return
	}
	resp, err := h.rt.Request(ctx, msg)
	require.NoError(t, err)
	ack, err := protocol.DecodeAs[protocol.AgentStatus](resp)
	require.NoError(t, err)
	require.Empty(t, ack.Error)
}

func (h *harness) report(t *testing.T, from node.Address) protocol.AgentStatus {
	t.Helper()
	deadline := time.After(5 * time.Second)
	for {
		if st, ok := h.seen[from]; ok {
			return st
		}
		select {
		case r := <-h.statuses:
			h.seen[r.from] = r.status
		case <-deadline:
			t.Fatalf("no status from %s", from)
		}
	}
}

func (h *harness) seed(t *testing.T, files map[string][]byte) {
	t.Helper()
	require.NoError(t, snapshot.Import(context.Background(), h.store, "files", files))
}

func decryptFile(t *testing.T, data []byte, secret string) []byte {
	t.Helper()
	var out bytes.Buffer
	off := 0
	for _, n := range cryptox.ChunkLengths(int64(len(data)), cryptox.EncryptedChunkSize) {
		plain, err := cryptox.Decrypt(data[off:off+n], secret)
		require.NoError(t, err)
		out.Write(plain)
		off += n
	}
	return out.Bytes()
}

func sampleTree() map[string][]byte {
	big := bytes.Repeat([]byte("0123456789abcdef"), 600) // 9600 bytes, three chunks
	return map[string][]byte{
		"notes/big.txt":   big,
		"notes/deep/a.md": []byte("hello"),
		"empty.txt":       {},
		"other/empty.txt": []byte("same leaf name, different dir"),
	}
}

func TestSenderToReceiver_Encrypted(t *testing.T) {
	h := newHarness(t)
	tree := sampleTree()
	h.seed(t, tree)

	recv := h.spawn(t, Job{Role: RoleReceiver, Root: "encrypted_storage/alice"}, Options{})
	h.start(t, recv, true)

	send := h.spawn(t, Job{Role: RoleSender, Root: "files", Target: recv, Secret: "pw1"}, Options{})
	h.start(t, send, false)

	assert.Empty(t, h.report(t, send).Error)
	assert.Empty(t, h.report(t, recv).Error)

	stored, err := snapshot.FlattenFull(context.Background(), h.store, "encrypted_storage/alice")
	require.NoError(t, err)
	require.Len(t, stored, len(tree))

	got := make(map[string][]byte)
	for name, data := range stored {
		assert.NotContains(t, name, "/")
		rel, err := cryptox.DecryptName(name, "pw1")
		require.NoError(t, err)
		got[rel] = decryptFile(t, data, "pw1")
	}
	assert.Equal(t, len(tree), len(got))
	for rel, want := range tree {
		assert.True(t, bytes.Equal(want, got[rel]), rel)
	}
	assert.Len(t, stored[mustFind(t, stored, "empty.txt")], cryptox.Overhead)
}

func mustFind(t *testing.T, stored map[string][]byte, rel string) string {
	t.Helper()
	for name := range stored {
		if r, err := cryptox.DecryptName(name, "pw1"); err == nil && r == rel {
			return name
		}
	}
	t.Fatalf("%s not stored", rel)
	return ""
}

func TestSenderToReceiver_VerbatimNames(t *testing.T) {
	h := newHarness(t)
	h.seed(t, map[string][]byte{"tokA": []byte("aaa"), "tokB": {}})

	recv := h.spawn(t, Job{Role: RoleReceiver, Root: "retrieved"}, Options{})
	h.start(t, recv, true)
	send := h.spawn(t, Job{Role: RoleSender, Root: "files", Target: recv}, Options{})
	h.start(t, send, false)

	assert.Empty(t, h.report(t, recv).Error)

	got, err := snapshot.FlattenFull(context.Background(), h.store, "retrieved")
	require.NoError(t, err)
	assert.Equal(t, map[string][]byte{"tokA": []byte("aaa"), "tokB": {}}, got)
}

func TestSender_EmptyRootSendsOnlyTerminal(t *testing.T) {
	h := newHarness(t)

	recv := h.spawn(t, Job{Role: RoleReceiver, Root: "retrieved"}, Options{})
	h.start(t, recv, true)
	send := h.spawn(t, Job{Role: RoleSender, Root: "encrypted_storage/nobody", Target: recv}, Options{})
	h.start(t, send, false)

	assert.Empty(t, h.report(t, send).Error)
	assert.Empty(t, h.report(t, recv).Error)

	got, err := snapshot.FlattenLight(context.Background(), h.store, "retrieved")
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestReceiver_WipesDestinationOnStart(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	require.NoError(t, snapshot.Import(ctx, h.store, "dest", map[string][]byte{"stale": []byte("old")}))

	recv := h.spawn(t, Job{Role: RoleReceiver, Root: "dest"}, Options{})
	h.start(t, recv, true)

	got, err := snapshot.FlattenLight(ctx, h.store, "dest")
	require.NoError(t, err)
	assert.Empty(t, got)
	h.rt.Stop(recv)
}

func TestSender_UnroutableTargetReportsError(t *testing.T) {
	h := newHarness(t)
	h.seed(t, map[string][]byte{"a.txt": []byte("a")})

	send := h.spawn(t, Job{Role: RoleSender, Root: "files", Target: h.rt.Address("ghost")}, Options{})
	h.start(t, send, false)

	st := h.report(t, send)
	assert.True(t, st.Done)
	assert.Contains(t, st.Error, node.ErrNotFound.Error())
}

// brokenStore fails to open one path, after the files before it were sent.
type brokenStore struct {
	*filex.DiskStore
	bad string
}

var errUnreadable = errors.New("unreadable")

func (s brokenStore) Open(ctx context.Context, p string) (filex.Reader, error) {
	if p == s.bad {
		return nil, errUnreadable
	}
	return s.DiskStore.Open(ctx, p)
}

func TestSender_FailureAbortsReceiverPromptly(t *testing.T) {
	h := newHarness(t)
	h.seed(t, map[string][]byte{"a.txt": []byte("a"), "b.txt": []byte("b")})

	recv := h.spawn(t, Job{Role: RoleReceiver, Root: "dest"}, Options{IdleTimeout: time.Minute})
	h.start(t, recv, true)

	store := brokenStore{DiskStore: h.store, bad: "files/b.txt"}
	send, err := Spawn(h.rt, h.owner, Job{Role: RoleSender, Root: "files", Target: recv}, store, Options{}, logging.Discard())
	require.NoError(t, err)

	began := time.Now()
	h.start(t, send, false)

	assert.Contains(t, h.report(t, send).Error, errUnreadable.Error())

	st := h.report(t, recv)
	assert.True(t, st.Done)
	assert.Contains(t, st.Error, common.ErrSenderFailed.Error())
	assert.Contains(t, st.Error, errUnreadable.Error())
	assert.Less(t, time.Since(began), 5*time.Second)

	select {
	case <-h.rt.Exited(recv):
	case <-time.After(2 * time.Second):
		t.Fatal("receiver still running after the sender gave up")
	}
}

func TestReceiver_RejectsEscapingTag(t *testing.T) {
	h := newHarness(t)
	recv := h.spawn(t, Job{Role: RoleReceiver, Root: "dest"}, Options{})
	h.start(t, recv, true)

	msg, err := protocol.New(h.owner, recv, protocol.Chunk{Tag: "../files/evil"}, []byte("x"))
	require.NoError(t, err)
	require.NoError(t, h.rt.Send(context.Background(), msg))

	st := h.report(t, recv)
	assert.Contains(t, st.Error, snapshot.ErrInvalidPath.Error())

	_, err = h.store.Stat(context.Background(), path.Join("files", "evil"))
	assert.Error(t, err)
}

func TestReceiver_IdleTimeoutReportsStalled(t *testing.T) {
	h := newHarness(t)
	recv := h.spawn(t, Job{Role: RoleReceiver, Root: "dest"}, Options{IdleTimeout: 30 * time.Millisecond})
	h.start(t, recv, true)

	st := h.report(t, recv)
	assert.Equal(t, common.ErrStalled.Error(), st.Error)
}

func TestSender_IgnoresChunks(t *testing.T) {
	a := &Agent{job: Job{Role: RoleSender}}
	msg := mustMsg(t, node.Address{Node: "alice", Process: "x"}, node.Address{Node: "alice", Process: "y"}, protocol.Chunk{Tag: "x"})

	err := a.HandleMessage(context.Background(), msg)
	assert.ErrorIs(t, err, common.ErrUnexpectedMessage)
}

func TestSpawn_Validation(t *testing.T) {
	h := newHarness(t)

	_, err := Spawn(h.rt, h.owner, Job{Role: RoleSender, Root: "files"}, h.store, Options{}, logging.Discard())
	assert.Error(t, err)
	_, err = Spawn(h.rt, h.owner, Job{Root: "files"}, h.store, Options{}, logging.Discard())
	assert.Error(t, err)
}

func mustMsg(t *testing.T, from, to node.Address, p protocol.Payload) *node.Message {
	t.Helper()
	msg, err := protocol.New(from, to, p, nil)
	require.NoError(t, err)
	return msg
}
