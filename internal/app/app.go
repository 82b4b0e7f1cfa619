// Package app wires a node together: storage, bookkeeping database, process
// runtime, gRPC transport, orchestrator and console.
package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/dmitrijs2005/peervault/internal/backup"
	"github.com/dmitrijs2005/peervault/internal/cli"
	"github.com/dmitrijs2005/peervault/internal/config"
	"github.com/dmitrijs2005/peervault/internal/filex"
	"github.com/dmitrijs2005/peervault/internal/logging"
	"github.com/dmitrijs2005/peervault/internal/node"
	"github.com/dmitrijs2005/peervault/internal/repositories/repomanager"
	"github.com/dmitrijs2005/peervault/internal/transfer"
	"github.com/dmitrijs2005/peervault/internal/transport"
)

type App struct {
	config  *config.Config
	logger  logging.Logger
	db      *sql.DB
	rt      *node.Runtime
	client  *transport.GRPCClient
	server  *transport.GRPCServer
	orch    *backup.Orchestrator
	console *cli.Console
	stdin   io.Reader
}

// NewApp builds every component from c. Nothing runs until Run.
func NewApp(ctx context.Context, c *config.Config) (*App, error) {
	logger := logging.New(c.LogFile, slog.LevelInfo)
	return newApp(ctx, c, logger, os.Stdin, os.Stdout)
}

func newApp(ctx context.Context, c *config.Config, logger logging.Logger, stdin io.Reader, stdout io.Writer) (*App, error) {
	store, err := filex.NewDiskStore(c.DataDir)
	if err != nil {
		return nil, fmt.Errorf("data dir: %w", err)
	}

	db, m, err := repomanager.Open(ctx, c.DSN())
	if err != nil {
		return nil, fmt.Errorf("db init error: %w", err)
	}

	if c.DefaultSecretInUse() {
		logger.Warn(ctx, "using the built-in network secret; any unconfigured node can impersonate a peer, set -s or PEERVAULT_NETWORK_SECRET")
	}

	rt := node.NewRuntime(c.NodeID, logger)

	client := transport.NewGRPCClient(c.NodeID, c.Peers, c.NetworkSecret)
	client.SetTokenTTL(c.TokenTTL)
	rt.SetRemote(client)

	server := transport.NewGRPCServer(c.ListenAddr, logger, rt, c.NetworkSecret)

	var policy backup.Policy = backup.AcceptAll{}
	if c.MinFreeSpace > 0 {
		policy = backup.NewFreeSpacePolicy(store.Root(), c.MinFreeSpace)
	}

	var mirror backup.Mirror
	if c.S3Bucket != "" {
		s3c, err := backup.NewS3Client(ctx, backup.S3Config{
			Bucket:    c.S3Bucket,
			Prefix:    c.S3Prefix,
			Region:    c.S3Region,
			Endpoint:  c.S3BaseEndpoint,
			AccessKey: c.S3AccessKey,
			SecretKey: c.S3SecretKey,
		})
		if err != nil {
			_ = db.Close()
			return nil, err
		}
		mirror = backup.NewS3Mirror(s3c, store, c.S3Bucket, c.S3Prefix)
	}

	console := cli.NewConsole(c.NodeID, backup.NewClient(rt), client, c.CommandTimeout, stdout)

	orch := backup.New(rt, store, backup.NewRepositoryStore(db, m), backup.Options{
		RequestTimeout: c.RequestTimeout,
		Agent: transfer.Options{
			SendTimeout: c.RequestTimeout,
			IdleTimeout: c.AgentIdleTimeout,
		},
		Policy:   policy,
		Mirror:   mirror,
		Observer: console.Notify,
	}, logger)

	return &App{
		config:  c,
		logger:  logger,
		db:      db,
		rt:      rt,
		client:  client,
		server:  server,
		orch:    orch,
		console: console,
		stdin:   stdin,
	}, nil
}

func (app *App) initSignalHandler(cancelFunc context.CancelFunc) {
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)

	go func() {
		<-sigs
		cancelFunc()
	}()
}

// Run serves peers and, unless headless, the console. It returns when the
// console exits, a signal arrives or the gRPC server fails.
func (app *App) Run(ctx context.Context) error {
	ctx, cancelFunc := context.WithCancel(ctx)
	defer cancelFunc()
	defer app.close(ctx)

	app.initSignalHandler(cancelFunc)

	app.logger.Info(ctx, "Starting node...", "node", app.config.NodeID, "peers", app.config.Peers.String())

	if _, err := app.orch.Start(ctx); err != nil {
		return fmt.Errorf("start orchestrator: %w", err)
	}

	var (
		wg      sync.WaitGroup
		srvErr  error
		errOnce sync.Once
	)

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := app.server.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			app.logger.Error(ctx, err.Error())
			errOnce.Do(func() { srvErr = err })
			cancelFunc()
		}
	}()

	if !app.config.Headless {
		go func() {
			app.console.Run(ctx, app.stdin)
			cancelFunc()
		}()
	}

	<-ctx.Done()
	wg.Wait()
	return srvErr
}

func (app *App) close(ctx context.Context) {
	app.rt.Close()
	if err := app.client.Close(); err != nil {
		app.logger.Warn(ctx, "closing peer connections", "error", err)
	}
	if err := app.db.Close(); err != nil {
		app.logger.Warn(ctx, "closing database", "error", err)
	}
	app.logger.Info(ctx, "node stopped")
}
