package app

import (
	"bytes"
	"context"
	"log/slog"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/dmitrijs2005/peervault/internal/config"
	"github.com/dmitrijs2005/peervault/internal/logging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	c := &config.Config{}
	c.LoadDefaults()
	c.NodeID = "alice"
	c.ListenAddr = "127.0.0.1:0"
	c.DataDir = filepath.Join(t.TempDir(), "data")
	c.Peers = map[string]string{"bob": "127.0.0.1:1"}
	c.RequestTimeout = time.Second
	c.CommandTimeout = time.Second
	return c
}

func TestNewApp_CreatesDataDirAndDatabase(t *testing.T) {
	c := testConfig(t)

	a, err := newApp(context.Background(), c, logging.Discard(), strings.NewReader(""), &bytes.Buffer{})
	require.NoError(t, err)
	t.Cleanup(func() { a.close(context.Background()) })

	assert.DirExists(t, c.DataDir)
	assert.FileExists(t, c.DSN())
	require.NoError(t, a.db.PingContext(context.Background()))
}

func TestNewApp_WarnsAboutDefaultSecret(t *testing.T) {
	tests := []struct {
		name   string
		secret string
		warn   bool
	}{
		{"built-in secret", config.DefaultNetworkSecret, true},
		{"configured secret", "operator-secret", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := testConfig(t)
			c.NetworkSecret = tt.secret

			var logs bytes.Buffer
			l := logging.NewSlogLogger(slog.New(slog.NewJSONHandler(&logs, nil)))
			a, err := newApp(context.Background(), c, l, strings.NewReader(""), &bytes.Buffer{})
			require.NoError(t, err)
			t.Cleanup(func() { a.close(context.Background()) })

			if tt.warn {
				assert.Contains(t, logs.String(), "built-in network secret")
			} else {
				assert.NotContains(t, logs.String(), "built-in network secret")
			}
		})
	}
}

func TestNewApp_BadDatabase(t *testing.T) {
	c := testConfig(t)
	c.DatabaseDSN = filepath.Join(t.TempDir(), "missing", "dir", "x.db")

	_, err := newApp(context.Background(), c, logging.Discard(), strings.NewReader(""), &bytes.Buffer{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "db init error")
}

func TestRun_ConsoleExitStopsNode(t *testing.T) {
	c := testConfig(t)
	out := &bytes.Buffer{}

	a, err := newApp(context.Background(), c, logging.Discard(), strings.NewReader("status\nexit\n"), out)
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() { done <- a.Run(context.Background()) }()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("node did not stop after the console exited")
	}
	assert.Contains(t, out.String(), "alice")
}

func TestRun_HeadlessStopsOnCancel(t *testing.T) {
	c := testConfig(t)
	c.Headless = true

	a, err := newApp(context.Background(), c, logging.Discard(), strings.NewReader(""), &bytes.Buffer{})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.Run(ctx) }()

	time.Sleep(100 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("headless node ignored cancellation")
	}
}

func TestRun_ListenFailure(t *testing.T) {
	c := testConfig(t)
	c.Headless = true
	c.ListenAddr = "256.0.0.1:99999"

	a, err := newApp(context.Background(), c, logging.Discard(), strings.NewReader(""), &bytes.Buffer{})
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() { done <- a.Run(context.Background()) }()

	select {
	case err := <-done:
		require.Error(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("listen failure did not stop the node")
	}
}
