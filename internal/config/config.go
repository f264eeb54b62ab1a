package config

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Config holds all environment-based configuration for boardsync.
type Config struct {
	// Remote authority endpoints. SyncURL is the websocket event channel,
	// AuthorityURL the REST API serving authoritative records.
	SyncURL      string `env:"SYNC_URL"`
	AuthorityURL string `env:"AUTHORITY_URL"`

	// Device name this client identifies as. Defaults to system hostname.
	DeviceName string `env:"DEVICE_NAME"`

	// Connection manager tuning.
	BaseDelay         time.Duration `env:"RECONNECT_BASE_DELAY" envDefault:"1s"`
	MaxDelay          time.Duration `env:"RECONNECT_MAX_DELAY" envDefault:"30s"`
	ReconnectLimit    int           `env:"RECONNECT_LIMIT" envDefault:"10"`
	HeartbeatInterval time.Duration `env:"HEARTBEAT_INTERVAL" envDefault:"30s"`

	// Orchestrator tuning.
	MaxConcurrentSyncs int           `env:"MAX_CONCURRENT_SYNCS" envDefault:"3"`
	RetryAttempts      int           `env:"RETRY_ATTEMPTS" envDefault:"3"`
	RetryDelay         time.Duration `env:"RETRY_DELAY" envDefault:"1s"`

	// Default conflict resolution policy: local, remote, merge, or manual.
	// Per-resource overrides come from the policy rules file.
	ConflictPolicy string `env:"CONFLICT_POLICY" envDefault:"manual"`
	PolicyFile     string `env:"POLICY_FILE"`

	// State database location. Defaults to ~/.boardsync/state.db.
	StateDBPath string `env:"STATE_DB_PATH"`

	// Directory watched for pending data changes dropped by collaborators.
	// Empty disables the spool watcher.
	SpoolDir string `env:"SPOOL_DIR"`

	// MCP admin server settings.
	EnableMCP     bool   `env:"ENABLE_MCP" envDefault:"false"`
	MCPListenAddr string `env:"MCP_LISTEN_ADDR" envDefault:":8090"`

	// Environment controls log format; LogLevel overrides the default level.
	Environment string `env:"ENVIRONMENT" envDefault:"development"`
	LogLevel    string `env:"LOG_LEVEL" envDefault:""`
}

// warnInsecureEnvFile checks whether the .env file (if present) has
// overly permissive permissions. On Unix systems, group or world
// readable files risk exposing credentials to other users.
func warnInsecureEnvFile() {
	if runtime.GOOS == "windows" {
		return
	}

	info, err := os.Stat(".env")
	if err != nil {
		return // file does not exist, nothing to check
	}

	mode := info.Mode().Perm()
	if mode&0o077 != 0 {
		log.Printf("WARNING: .env file has insecure permissions %04o; recommended 0600", mode)
	}
}

// Load reads configuration from environment variables.
// It first attempts to load a .env file if present, then parses env vars.
func Load() (*Config, error) {
	_ = godotenv.Load()

	warnInsecureEnvFile()

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	if cfg.DeviceName == "" {
		hostname, err := os.Hostname()
		if err != nil || hostname == "" {
			hostname = "boardsync"
		}

		cfg.DeviceName = hostname
	}

	if cfg.StateDBPath == "" {
		path, err := defaultDBPath()
		if err != nil {
			return nil, err
		}

		cfg.StateDBPath = path
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	// Resolve file paths to absolute at startup so downstream code is
	// insensitive to working-directory changes.
	for _, p := range []*string{&cfg.StateDBPath, &cfg.SpoolDir, &cfg.PolicyFile} {
		if *p == "" {
			continue
		}

		abs, err := filepath.Abs(*p)
		if err != nil {
			return nil, fmt.Errorf("resolving %q to absolute path: %w", *p, err)
		}

		*p = abs
	}

	return cfg, nil
}

func (c *Config) validate() error {
	if c.SyncURL == "" {
		return fmt.Errorf("SYNC_URL is required")
	}

	if c.AuthorityURL == "" {
		return fmt.Errorf("AUTHORITY_URL is required")
	}

	switch c.ConflictPolicy {
	case "local", "remote", "merge", "manual":
	default:
		return fmt.Errorf("CONFLICT_POLICY must be one of local, remote, merge, manual (got %q)", c.ConflictPolicy)
	}

	if c.ReconnectLimit < 1 {
		return fmt.Errorf("RECONNECT_LIMIT must be at least 1")
	}

	if c.MaxConcurrentSyncs < 1 {
		return fmt.Errorf("MAX_CONCURRENT_SYNCS must be at least 1")
	}

	if c.RetryAttempts < 1 {
		return fmt.Errorf("RETRY_ATTEMPTS must be at least 1")
	}

	if c.BaseDelay <= 0 || c.MaxDelay <= 0 || c.RetryDelay <= 0 {
		return fmt.Errorf("delays must be positive")
	}

	if c.MaxDelay < c.BaseDelay {
		return fmt.Errorf("RECONNECT_MAX_DELAY must be >= RECONNECT_BASE_DELAY")
	}

	return nil
}

// IsProduction returns true when the environment is set to production.
func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}

func defaultDBPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("determining home directory: %w", err)
	}

	return filepath.Join(home, ".boardsync", "state.db"), nil
}
