package cli

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/dmitrijs2005/peervault/internal/backup"
	"github.com/dmitrijs2005/peervault/internal/protocol"
	"github.com/fatih/color"
)

var (
	okColor   = color.New(color.FgGreen)
	failColor = color.New(color.FgRed)
	infoColor = color.New(color.FgCyan)
)

// Commands is what the console asks of the local orchestrator.
type Commands interface {
	Backup(ctx context.Context, provider, secret string) error
	Retrieve(ctx context.Context, provider string) error
	Decrypt(ctx context.Context, secret string) error
	Status(ctx context.Context) (protocol.Status, error)
	Import(ctx context.Context, docs map[string][]byte) error
	Export(ctx context.Context) (map[string][]byte, error)
}

// Network lists and probes peers.
type Network interface {
	Peers() map[string]string
	Ping(ctx context.Context, nodeID string) error
}

type Console struct {
	node     string
	commands Commands
	network  Network
	timeout  time.Duration

	mu  sync.Mutex
	out io.Writer
}

// NewConsole builds a console for node. Every command is bounded by timeout.
func NewConsole(node string, c Commands, n Network, timeout time.Duration, out io.Writer) *Console {
	return &Console{node: node, commands: c, network: n, timeout: timeout, out: out}
}

// Run blocks on the REPL until in is exhausted, the user quits or ctx ends.
func (c *Console) Run(ctx context.Context, in io.Reader) {
	fmt.Fprintf(c.out, "peervault node %s (type 'help' for commands)\n", c.node)
	runREPL(ctx, c, func() string { return c.node }, bufio.NewScanner(in), c.writer())
}

// Notify prints a finished transfer. It is safe to call from any goroutine.
func (c *Console) Notify(e backup.Event) {
	w := c.writer()
	if e.Err != nil {
		failColor.Fprintf(w, "\n%s with %s failed: %v\n", e.Op, e.Peer, e.Err)
		return
	}
	okColor.Fprintf(w, "\n%s with %s finished\n", e.Op, e.Peer)
}

func (c *Console) writer() io.Writer {
	return lockedWriter{mu: &c.mu, w: c.out}
}

type lockedWriter struct {
	mu *sync.Mutex
	w  io.Writer
}

func (l lockedWriter) Write(p []byte) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.w.Write(p)
}

func (c *Console) bound(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, c.timeout)
}

func (c *Console) Status(ctx context.Context) error {
	ctx, cancel := c.bound(ctx)
	defer cancel()

	st, err := c.commands.Status(ctx)
	if err != nil {
		return err
	}

	w := c.writer()
	fmt.Fprintf(w, "node:              %s\n", st.Node)
	if st.Provider != "" {
		fmt.Fprintf(w, "backed up to:      %s at %s\n", st.Provider, stamp(st.LastBackupAt))
	} else {
		fmt.Fprintln(w, "backed up to:      never")
	}
	fmt.Fprintf(w, "retrieved backup:  %s (fetched %s)\n", stamp(st.RetrievedBackupAt), stamp(st.LastRetrieveAt))

	clients := make([]string, 0, len(st.Served))
	for id := range st.Served {
		clients = append(clients, id)
	}
	sort.Strings(clients)
	for _, id := range clients {
		t := st.Served[id]
		fmt.Fprintf(w, "storing for:       %s since %s\n", id, stamp(&t))
	}
	if st.ActiveAgent != "" {
		infoColor.Fprintf(w, "transfer running:  %s\n", st.ActiveAgent)
	}
	return nil
}

func stamp(t *time.Time) string {
	if t == nil {
		return "never"
	}
	return t.Local().Format(time.DateTime)
}

func (c *Console) Peers(ctx context.Context) error {
	peers := c.network.Peers()
	ids := make([]string, 0, len(peers))
	for id := range peers {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	w := c.writer()
	if len(ids) == 0 {
		fmt.Fprintln(w, "no peers configured")
		return nil
	}
	for _, id := range ids {
		pctx, cancel := context.WithTimeout(ctx, 3*time.Second)
		err := c.network.Ping(pctx, id)
		cancel()
		if err != nil {
			failColor.Fprintf(w, "%-12s %-24s offline (%v)\n", id, peers[id], err)
			continue
		}
		okColor.Fprintf(w, "%-12s %-24s online\n", id, peers[id])
	}
	return nil
}

func (c *Console) Backup(ctx context.Context, peer string) error {
	secret, err := readSecret(c.writer(), true)
	if err != nil {
		return err
	}

	ctx, cancel := c.bound(ctx)
	defer cancel()
	if err := c.commands.Backup(ctx, peer, secret); err != nil {
		return err
	}
	infoColor.Fprintf(c.writer(), "backup to %s started\n", peer)
	return nil
}

func (c *Console) Retrieve(ctx context.Context, peer string) error {
	ctx, cancel := c.bound(ctx)
	defer cancel()
	if err := c.commands.Retrieve(ctx, peer); err != nil {
		return err
	}
	infoColor.Fprintf(c.writer(), "retrieve from %s started\n", peer)
	return nil
}

func (c *Console) Decrypt(ctx context.Context) error {
	secret, err := readSecret(c.writer(), false)
	if err != nil {
		return err
	}

	ctx, cancel := c.bound(ctx)
	defer cancel()
	if err := c.commands.Decrypt(ctx, secret); err != nil {
		return err
	}
	okColor.Fprintln(c.writer(), "documents restored")
	return nil
}

func (c *Console) Import(ctx context.Context, path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	var docs map[string][]byte
	if err := json.Unmarshal(raw, &docs); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}

	ctx, cancel := c.bound(ctx)
	defer cancel()
	if err := c.commands.Import(ctx, docs); err != nil {
		return err
	}
	okColor.Fprintf(c.writer(), "imported %d documents\n", len(docs))
	return nil
}

func (c *Console) Export(ctx context.Context, path string) error {
	ctx, cancel := c.bound(ctx)
	defer cancel()

	docs, err := c.commands.Export(ctx)
	if err != nil {
		return err
	}
	raw, err := json.MarshalIndent(docs, "", "  ")
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, raw, 0o600); err != nil {
		return err
	}
	okColor.Fprintf(c.writer(), "exported %d documents to %s\n", len(docs), path)
	return nil
}
