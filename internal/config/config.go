// Package config builds the node configuration from, in increasing order of
// precedence: defaults, a .env file and PEERVAULT_* environment variables, an
// optional JSON file (-c) and command-line flags.
package config

import (
	"os"
	"path/filepath"
	"time"

	"github.com/dmitrijs2005/peervault/internal/flagx"
)

// Config holds runtime settings for a node.
//
// Fields:
//   - NodeID: this node's identity; also the JWT subject it presents to peers.
//   - ListenAddr: bind address of the node-to-node gRPC endpoint.
//   - DataDir: root of the documents, staging, storage and quarantine dirs.
//   - DatabaseDSN: bookkeeping database. Empty means a SQLite file in DataDir;
//     a postgres:// DSN selects PostgreSQL.
//   - NetworkSecret: HMAC key shared by all nodes for node tokens.
//   - Peers: node id to address.
//   - RequestTimeout: bound for every request/response round trip.
//   - AgentIdleTimeout: a transfer agent that hears nothing this long gives up.
//   - CommandTimeout: bound for one console command.
//   - TokenTTL: validity of the node tokens we mint.
//   - MinFreeSpace: bytes to keep free when accepting backups; 0 accepts all.
//   - LogFile: rotate logs into this file instead of stderr.
//   - Headless: run without the console, until a signal arrives.
//   - S3*: optional mirror of stored client backups. Empty bucket disables it.
type Config struct {
	NodeID           string
	ListenAddr       string
	DataDir          string
	DatabaseDSN      string
	NetworkSecret    string
	Peers            flagx.Peers
	RequestTimeout   time.Duration
	AgentIdleTimeout time.Duration
	CommandTimeout   time.Duration
	TokenTTL         time.Duration
	MinFreeSpace     uint64
	LogFile          string
	Headless         bool
	S3Bucket         string
	S3Prefix         string
	S3Region         string
	S3BaseEndpoint   string
	S3AccessKey      string
	S3SecretKey      string
}

// DefaultNetworkSecret is only fit for a single-machine test network.
const DefaultNetworkSecret = "peervault-dev-secret"

// LoadDefaults populates Config with development defaults.
// NOTE: the network secret must be overridden outside a test network.
func (c *Config) LoadDefaults() {
	c.NodeID = "node"
	c.ListenAddr = ":7700"
	c.DataDir = "data"
	c.DatabaseDSN = ""
	c.NetworkSecret = DefaultNetworkSecret
	c.Peers = flagx.Peers{}
	c.RequestTimeout = 10 * time.Second
	c.AgentIdleTimeout = time.Minute
	c.CommandTimeout = 10 * time.Minute
	c.TokenTTL = 5 * time.Minute
	c.MinFreeSpace = 0
	c.LogFile = ""
	c.S3Region = "us-east-1"
}

// LoadConfig builds the configuration from the process environment and
// os.Args. Malformed input panics.
func LoadConfig() *Config {
	return Load(os.Args[1:])
}

// Load is LoadConfig over explicit arguments.
func Load(args []string) *Config {
	cfg := &Config{}
	cfg.LoadDefaults()
	parseEnv(cfg)
	parseJson(cfg, args)
	parseFlags(cfg, args)
	cfg.finalize()
	return cfg
}

// DSN returns the effective database DSN.
// DefaultSecretInUse reports whether the node would talk to peers using
// DefaultNetworkSecret, which any other unconfigured node also accepts.
func (c *Config) DefaultSecretInUse() bool {
	return c.NetworkSecret == DefaultNetworkSecret && len(c.Peers) > 0
}

func (c *Config) DSN() string {
	if c.DatabaseDSN != "" {
		return c.DatabaseDSN
	}
	return filepath.Join(c.DataDir, "peervault.db")
}

func (c *Config) finalize() {
	if c.Peers == nil {
		c.Peers = flagx.Peers{}
	}
	delete(c.Peers, c.NodeID)
}
