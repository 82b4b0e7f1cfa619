package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/dmitrijs2005/peervault/internal/backup"
	"github.com/dmitrijs2005/peervault/internal/common"
	"github.com/dmitrijs2005/peervault/internal/cryptox"
	"github.com/dmitrijs2005/peervault/internal/protocol"
	"github.com/fatih/color"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeCommands struct {
	secret   string
	provider string
	docs     map[string][]byte
	status   protocol.Status
	err      error
}

func (f *fakeCommands) Backup(_ context.Context, provider, secret string) error {
	f.provider, f.secret = provider, secret
	return f.err
}

func (f *fakeCommands) Retrieve(_ context.Context, provider string) error {
	f.provider = provider
	return f.err
}

func (f *fakeCommands) Decrypt(_ context.Context, secret string) error {
	f.secret = secret
	return f.err
}

func (f *fakeCommands) Status(context.Context) (protocol.Status, error) { return f.status, f.err }

func (f *fakeCommands) Import(_ context.Context, docs map[string][]byte) error {
	f.docs = docs
	return f.err
}

func (f *fakeCommands) Export(context.Context) (map[string][]byte, error) { return f.docs, f.err }

type fakeNetwork struct {
	peers map[string]string
	down  map[string]bool
}

func (f fakeNetwork) Peers() map[string]string { return f.peers }

func (f fakeNetwork) Ping(_ context.Context, id string) error {
	if f.down[id] {
		return common.ErrUnavailable
	}
	return nil
}

func newTestConsole(t *testing.T, cmds *fakeCommands, net Network) (*Console, *bytes.Buffer) {
	t.Helper()
	color.NoColor = true
	var out bytes.Buffer
	return NewConsole("alice", cmds, net, time.Second, &out), &out
}

func stubPasswords(t *testing.T, answers ...string) {
	t.Helper()
	old := readPassword
	t.Cleanup(func() { readPassword = old })
	readPassword = func(int) ([]byte, error) {
		if len(answers) == 0 {
			return nil, errors.New("no more input")
		}
		a := answers[0]
		answers = answers[1:]
		return []byte(a), nil
	}
}

func TestConsole_BackupDerivesSecret(t *testing.T) {
	cmds := &fakeCommands{}
	c, out := newTestConsole(t, cmds, nil)
	stubPasswords(t, "pw1", "pw1")

	require.NoError(t, c.Backup(context.Background(), "bob"))
	assert.Equal(t, "bob", cmds.provider)
	assert.Equal(t, cryptox.DeriveSecret([]byte("pw1")), cmds.secret)
	assert.NotContains(t, out.String(), "pw1")
	assert.Contains(t, out.String(), "backup to bob started")
}

func TestConsole_BackupPasswordMismatch(t *testing.T) {
	cmds := &fakeCommands{}
	c, _ := newTestConsole(t, cmds, nil)
	stubPasswords(t, "pw1", "pw2")

	assert.ErrorIs(t, c.Backup(context.Background(), "bob"), errPasswordMismatch)
	assert.Empty(t, cmds.provider)
}

func TestConsole_DecryptAsksOnce(t *testing.T) {
	cmds := &fakeCommands{}
	c, out := newTestConsole(t, cmds, nil)
	stubPasswords(t, "pw1")

	require.NoError(t, c.Decrypt(context.Background()))
	assert.Equal(t, cryptox.DeriveSecret([]byte("pw1")), cmds.secret)
	assert.Contains(t, out.String(), "documents restored")
}

func TestConsole_EmptyPasswordRefused(t *testing.T) {
	c, _ := newTestConsole(t, &fakeCommands{}, nil)
	stubPasswords(t, "")
	assert.Error(t, c.Decrypt(context.Background()))
}

func TestConsole_Status(t *testing.T) {
	at := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)
	cmds := &fakeCommands{status: protocol.Status{
		Node:         "alice",
		Provider:     "bob",
		LastBackupAt: &at,
		Served:       map[string]time.Time{"carol": at},
		ActiveAgent:  "agent-1@alice",
	}}
	c, out := newTestConsole(t, cmds, nil)

	require.NoError(t, c.Status(context.Background()))
	s := out.String()
	assert.Contains(t, s, "backed up to:      bob")
	assert.Contains(t, s, "storing for:       carol")
	assert.Contains(t, s, "retrieved backup:  never")
	assert.Contains(t, s, "transfer running:  agent-1@alice")
}

func TestConsole_Peers(t *testing.T) {
	c, out := newTestConsole(t, &fakeCommands{}, fakeNetwork{
		peers: map[string]string{"bob": "127.0.0.1:7701", "carol": "127.0.0.1:7702"},
		down:  map[string]bool{"carol": true},
	})

	require.NoError(t, c.Peers(context.Background()))
	assert.Regexp(t, `bob\s+127.0.0.1:7701\s+online`, out.String())
	assert.Regexp(t, `carol\s+127.0.0.1:7702\s+offline`, out.String())
}

func TestConsole_ImportExport(t *testing.T) {
	dir := t.TempDir()
	in := filepath.Join(dir, "in.json")
	raw, err := json.Marshal(map[string][]byte{"notes/a.txt": []byte("hello")})
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(in, raw, 0o600))

	cmds := &fakeCommands{}
	c, _ := newTestConsole(t, cmds, nil)

	require.NoError(t, c.Import(context.Background(), in))
	assert.Equal(t, map[string][]byte{"notes/a.txt": []byte("hello")}, cmds.docs)

	outPath := filepath.Join(dir, "out.json")
	require.NoError(t, c.Export(context.Background(), outPath))

	var got map[string][]byte
	data, err := os.ReadFile(outPath)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(data, &got))
	assert.Equal(t, cmds.docs, got)

	require.NoError(t, os.WriteFile(in, []byte("not json"), 0o600))
	assert.Error(t, c.Import(context.Background(), in))
}

func TestConsole_NotifyAndErrors(t *testing.T) {
	cmds := &fakeCommands{err: common.ErrBusy}
	c, out := newTestConsole(t, cmds, nil)

	assert.ErrorIs(t, c.Retrieve(context.Background(), "bob"), common.ErrBusy)

	c.Notify(backup.Event{Op: backup.OpRetrieve, Peer: "bob"})
	c.Notify(backup.Event{Op: backup.OpStore, Peer: "carol", Err: common.ErrStalled})
	assert.Contains(t, out.String(), "retrieve with bob finished")
	assert.Contains(t, out.String(), "store with carol failed: transfer stalled")
}

func TestConsole_Run(t *testing.T) {
	cmds := &fakeCommands{status: protocol.Status{Node: "alice"}}
	c, out := newTestConsole(t, cmds, nil)

	c.Run(context.Background(), bytes.NewBufferString("status\nexit\n"))
	assert.Contains(t, out.String(), "peervault node alice")
	assert.Contains(t, out.String(), "node:              alice")
}
