package config

import (
	"flag"
	"os"
	"runtime"
	"time"
)

// ServerConfig holds configuration for the relaybusd server binary.
type ServerConfig struct {
	Addr                 string
	LogLevel             string
	OutDir               string
	MaxServerMemoryBytes int64
	ServerWorkers        int
}

// ClientConfig holds configuration for the relaybus client binary.
type ClientConfig struct {
	ServerAddr           string
	LogLevel             string
	UserID               string
	HeartbeatInterval    time.Duration
	ReconnectInterval    time.Duration
	MaxReconnectAttempts int
	MaxConcurrentFiles   int
	ChunkRetryBudget     int
	ChunkRetryBackoff    time.Duration
}

// ParseServerConfig parses server configuration from flags and
// environment variables. Flags take precedence over environment.
func ParseServerConfig() ServerConfig {
	return parseServerConfigWithFlagSet(flag.CommandLine, os.Args[1:])
}

func parseServerConfigWithFlagSet(fs *flag.FlagSet, args []string) ServerConfig {
	workers := runtime.NumCPU()
	if workers < 4 {
		workers = 4
	}
	cfg := ServerConfig{
		Addr:                 ":7700",
		LogLevel:             "info",
		OutDir:               "./received",
		MaxServerMemoryBytes: 104857600,
		ServerWorkers:        workers,
	}

	if addr := os.Getenv("RELAYBUS_ADDR"); addr != "" {
		cfg.Addr = addr
	}
	if logLevel := os.Getenv("RELAYBUS_LOG_LEVEL"); logLevel != "" {
		cfg.LogLevel = logLevel
	}
	if outDir := os.Getenv("RELAYBUS_OUT_DIR"); outDir != "" {
		cfg.OutDir = outDir
	}

	fs.StringVar(&cfg.Addr, "addr", cfg.Addr, "bus listen address")
	fs.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "log level (debug, info, warn, error)")
	fs.StringVar(&cfg.OutDir, "out-dir", cfg.OutDir, "directory finalised transfers are written to")
	fs.Int64Var(&cfg.MaxServerMemoryBytes, "max-memory", cfg.MaxServerMemoryBytes, "admission-control memory budget in bytes")
	fs.IntVar(&cfg.ServerWorkers, "workers", cfg.ServerWorkers, "server-side chunk worker pool size")
	fs.Parse(args)

	if cfg.ServerWorkers < 4 {
		cfg.ServerWorkers = 4
	}
	return cfg
}

// ParseClientConfig parses client configuration from flags and
// environment variables. Flags take precedence over environment.
func ParseClientConfig() ClientConfig {
	return parseClientConfigWithFlagSet(flag.CommandLine, os.Args[1:])
}

func parseClientConfigWithFlagSet(fs *flag.FlagSet, args []string) ClientConfig {
	cfg := ClientConfig{
		ServerAddr:           "ws://localhost:7700",
		LogLevel:             "info",
		UserID:               "anonymous",
		HeartbeatInterval:    3 * time.Second,
		ReconnectInterval:    5 * time.Second,
		MaxReconnectAttempts: 10,
		MaxConcurrentFiles:   100,
		ChunkRetryBudget:     10,
		ChunkRetryBackoff:    2 * time.Second,
	}

	if serverAddr := os.Getenv("RELAYBUS_SERVER_ADDR"); serverAddr != "" {
		cfg.ServerAddr = serverAddr
	}
	if logLevel := os.Getenv("RELAYBUS_LOG_LEVEL"); logLevel != "" {
		cfg.LogLevel = logLevel
	}
	if userID := os.Getenv("RELAYBUS_USER_ID"); userID != "" {
		cfg.UserID = userID
	}

	fs.StringVar(&cfg.ServerAddr, "server-addr", cfg.ServerAddr, "bus server address")
	fs.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "log level (debug, info, warn, error)")
	fs.StringVar(&cfg.UserID, "user-id", cfg.UserID, "user identifier attached to sent chunks")
	fs.DurationVar(&cfg.HeartbeatInterval, "heartbeat-interval", cfg.HeartbeatInterval, "connection supervisor heartbeat interval")
	fs.DurationVar(&cfg.ReconnectInterval, "reconnect-interval", cfg.ReconnectInterval, "delay between reconnect attempts")
	fs.IntVar(&cfg.MaxReconnectAttempts, "max-reconnect-attempts", cfg.MaxReconnectAttempts, "reconnect attempts before giving up")
	fs.IntVar(&cfg.MaxConcurrentFiles, "max-concurrent-files", cfg.MaxConcurrentFiles, "max files sent concurrently")
	fs.IntVar(&cfg.ChunkRetryBudget, "chunk-retry-budget", cfg.ChunkRetryBudget, "per-chunk send retry budget")
	fs.DurationVar(&cfg.ChunkRetryBackoff, "chunk-retry-backoff", cfg.ChunkRetryBackoff, "delay between chunk send retries")
	fs.Parse(args)

	return cfg
}
