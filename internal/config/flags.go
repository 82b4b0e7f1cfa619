package config

import (
	"flag"

	"github.com/dmitrijs2005/peervault/internal/flagx"
)

// parseFlags overlays command-line flags onto config.
//
// Supported flags:
//
//	-n string     node id
//	-a string     gRPC listen address (e.g. ":7700")
//	-D string     data directory
//	-d string     database DSN (SQLite path or postgres:// URL)
//	-s string     network secret
//	-p id=addr    peer, repeatable, or comma separated
//	-t duration   request timeout
//	-i duration   agent idle timeout
//	-T duration   console command timeout
//	-m uint       bytes to keep free when accepting backups
//	-l string     log file
//	-H            run without the console
//	-b string     S3 mirror bucket
//	-x string     S3 key prefix
//	-g string     S3 region
//	-e string     S3 base endpoint
//	-u string     S3 access key
//	-k string     S3 secret key
//
// Flags not listed are ignored, so -c and the console's own flags can share
// the command line.
func parseFlags(config *Config, args []string) {
	args = flagx.FilterArgs(args, []string{
		"-n", "-a", "-D", "-d", "-s", "-p", "-t", "-i", "-T", "-m", "-l", "-H",
		"-b", "-x", "-g", "-e", "-u", "-k",
	})

	fs := flag.NewFlagSet("main", flag.ContinueOnError)

	fs.StringVar(&config.NodeID, "n", config.NodeID, "node id")
	fs.StringVar(&config.ListenAddr, "a", config.ListenAddr, "address and port to listen on")
	fs.StringVar(&config.DataDir, "D", config.DataDir, "data directory")
	fs.StringVar(&config.DatabaseDSN, "d", config.DatabaseDSN, "database DSN")
	fs.StringVar(&config.NetworkSecret, "s", config.NetworkSecret, "network secret")

	if config.Peers == nil {
		config.Peers = flagx.Peers{}
	}
	fs.Var(config.Peers, "p", "peer as id=host:port")

	fs.DurationVar(&config.RequestTimeout, "t", config.RequestTimeout, "request timeout")
	fs.DurationVar(&config.AgentIdleTimeout, "i", config.AgentIdleTimeout, "agent idle timeout")
	fs.DurationVar(&config.CommandTimeout, "T", config.CommandTimeout, "console command timeout")
	fs.Uint64Var(&config.MinFreeSpace, "m", config.MinFreeSpace, "bytes to keep free")
	fs.StringVar(&config.LogFile, "l", config.LogFile, "log file")
	fs.BoolVar(&config.Headless, "H", config.Headless, "run without the console")

	fs.StringVar(&config.S3Bucket, "b", config.S3Bucket, "S3 mirror bucket")
	fs.StringVar(&config.S3Prefix, "x", config.S3Prefix, "S3 key prefix")
	fs.StringVar(&config.S3Region, "g", config.S3Region, "S3 region")
	fs.StringVar(&config.S3BaseEndpoint, "e", config.S3BaseEndpoint, "S3 base endpoint")
	fs.StringVar(&config.S3AccessKey, "u", config.S3AccessKey, "S3 access key")
	fs.StringVar(&config.S3SecretKey, "k", config.S3SecretKey, "S3 secret key")

	if err := fs.Parse(args); err != nil {
		panic(err)
	}
}
