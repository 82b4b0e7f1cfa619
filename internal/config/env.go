package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/dmitrijs2005/peervault/internal/flagx"
	"github.com/joho/godotenv"
)

const envPrefix = "PEERVAULT_"

// envFile is loaded before reading the environment. A missing file is fine;
// variables already set in the environment win over the file.
var envFile = ".env"

// parseEnv overlays PEERVAULT_* variables onto config.
//
// Recognised variables: NODE_ID, LISTEN_ADDR, DATA_DIR, DATABASE_DSN,
// NETWORK_SECRET, PEERS, REQUEST_TIMEOUT, AGENT_IDLE_TIMEOUT,
// COMMAND_TIMEOUT, TOKEN_TTL, MIN_FREE_SPACE, LOG_FILE, HEADLESS, S3_BUCKET,
// S3_PREFIX, S3_REGION, S3_BASE_ENDPOINT, S3_ACCESS_KEY, S3_SECRET_KEY.
func parseEnv(config *Config) {
	if _, err := os.Stat(envFile); err == nil {
		if err := godotenv.Load(envFile); err != nil {
			panic(err)
		}
	}

	str := func(name string, dst *string) {
		if v, ok := os.LookupEnv(envPrefix + name); ok {
			*dst = v
		}
	}
	dur := func(name string, dst *time.Duration) {
		if v, ok := os.LookupEnv(envPrefix + name); ok {
			d, err := time.ParseDuration(v)
			if err != nil {
				panic(fmt.Errorf("%s%s: %w", envPrefix, name, err))
			}
			*dst = d
		}
	}

	str("NODE_ID", &config.NodeID)
	str("LISTEN_ADDR", &config.ListenAddr)
	str("DATA_DIR", &config.DataDir)
	str("DATABASE_DSN", &config.DatabaseDSN)
	str("NETWORK_SECRET", &config.NetworkSecret)
	str("LOG_FILE", &config.LogFile)
	str("S3_BUCKET", &config.S3Bucket)
	str("S3_PREFIX", &config.S3Prefix)
	str("S3_REGION", &config.S3Region)
	str("S3_BASE_ENDPOINT", &config.S3BaseEndpoint)
	str("S3_ACCESS_KEY", &config.S3AccessKey)
	str("S3_SECRET_KEY", &config.S3SecretKey)

	dur("REQUEST_TIMEOUT", &config.RequestTimeout)
	dur("AGENT_IDLE_TIMEOUT", &config.AgentIdleTimeout)
	dur("COMMAND_TIMEOUT", &config.CommandTimeout)
	dur("TOKEN_TTL", &config.TokenTTL)

	if v, ok := os.LookupEnv(envPrefix + "MIN_FREE_SPACE"); ok {
		n, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			panic(fmt.Errorf("%sMIN_FREE_SPACE: %w", envPrefix, err))
		}
		config.MinFreeSpace = n
	}

	if v, ok := os.LookupEnv(envPrefix + "HEADLESS"); ok {
		b, err := strconv.ParseBool(v)
		if err != nil {
			panic(fmt.Errorf("%sHEADLESS: %w", envPrefix, err))
		}
		config.Headless = b
	}

	if v, ok := os.LookupEnv(envPrefix + "PEERS"); ok {
		peers, err := flagx.ParsePeers(v)
		if err != nil {
			panic(fmt.Errorf("%sPEERS: %w", envPrefix, err))
		}
		config.Peers = peers
	}
}
