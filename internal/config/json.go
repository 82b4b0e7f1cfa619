package config

import (
	"encoding/json"
	"os"

	"github.com/dmitrijs2005/peervault/internal/flagx"
	"github.com/dmitrijs2005/peervault/internal/timex"
)

// JsonConfig is the shape of the -c file. Durations accept "10s" or integer
// nanoseconds. Only fields present in the file override earlier layers.
type JsonConfig struct {
	NodeID           string            `json:"node_id"`
	ListenAddr       string            `json:"listen_addr"`
	DataDir          string            `json:"data_dir"`
	DatabaseDSN      string            `json:"database_dsn"`
	NetworkSecret    string            `json:"network_secret"`
	Peers            map[string]string `json:"peers"`
	RequestTimeout   *timex.Duration   `json:"request_timeout"`
	AgentIdleTimeout *timex.Duration   `json:"agent_idle_timeout"`
	CommandTimeout   *timex.Duration   `json:"command_timeout"`
	TokenTTL         *timex.Duration   `json:"token_ttl"`
	MinFreeSpace     *uint64           `json:"min_free_space"`
	LogFile          string            `json:"log_file"`
	Headless         *bool             `json:"headless"`
	S3Bucket         string            `json:"s3_bucket"`
	S3Prefix         string            `json:"s3_prefix"`
	S3Region         string            `json:"s3_region"`
	S3BaseEndpoint   string            `json:"s3_base_endpoint"`
	S3AccessKey      string            `json:"s3_access_key"`
	S3SecretKey      string            `json:"s3_secret_key"`
}

// parseJson loads the file named by -c/-config, if any, into config. An
// unreadable or malformed file panics.
func parseJson(config *Config, args []string) {
	path := flagx.ConfigFile(args)
	if path == "" {
		return
	}

	file, err := os.ReadFile(path)
	if err != nil {
		panic(err)
	}

	c := &JsonConfig{}
	if err := json.Unmarshal(file, c); err != nil {
		panic(err)
	}

	set := func(dst *string, v string) {
		if v != "" {
			*dst = v
		}
	}
	set(&config.NodeID, c.NodeID)
	set(&config.ListenAddr, c.ListenAddr)
	set(&config.DataDir, c.DataDir)
	set(&config.DatabaseDSN, c.DatabaseDSN)
	set(&config.NetworkSecret, c.NetworkSecret)
	set(&config.LogFile, c.LogFile)
	set(&config.S3Bucket, c.S3Bucket)
	set(&config.S3Prefix, c.S3Prefix)
	set(&config.S3Region, c.S3Region)
	set(&config.S3BaseEndpoint, c.S3BaseEndpoint)
	set(&config.S3AccessKey, c.S3AccessKey)
	set(&config.S3SecretKey, c.S3SecretKey)

	if c.RequestTimeout != nil {
		config.RequestTimeout = c.RequestTimeout.Duration
	}
	if c.AgentIdleTimeout != nil {
		config.AgentIdleTimeout = c.AgentIdleTimeout.Duration
	}
	if c.CommandTimeout != nil {
		config.CommandTimeout = c.CommandTimeout.Duration
	}
	if c.TokenTTL != nil {
		config.TokenTTL = c.TokenTTL.Duration
	}
	if c.MinFreeSpace != nil {
		config.MinFreeSpace = *c.MinFreeSpace
	}
	if c.Headless != nil {
		config.Headless = *c.Headless
	}
	if c.Peers != nil {
		config.Peers = flagx.Peers(c.Peers)
	}
}
