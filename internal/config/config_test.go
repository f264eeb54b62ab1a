package config

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// clearConfigEnv unsets all config env vars so tests start clean.
func clearConfigEnv(t *testing.T) {
	t.Helper()

	for _, key := range []string{
		"SYNC_URL",
		"AUTHORITY_URL",
		"DEVICE_NAME",
		"RECONNECT_BASE_DELAY",
		"RECONNECT_MAX_DELAY",
		"RECONNECT_LIMIT",
		"HEARTBEAT_INTERVAL",
		"MAX_CONCURRENT_SYNCS",
		"RETRY_ATTEMPTS",
		"RETRY_DELAY",
		"CONFLICT_POLICY",
		"POLICY_FILE",
		"STATE_DB_PATH",
		"SPOOL_DIR",
		"ENABLE_MCP",
		"MCP_LISTEN_ADDR",
		"ENVIRONMENT",
		"LOG_LEVEL",
	} {
		t.Setenv(key, "")
		os.Unsetenv(key)
	}
}

// setMinimalEnv sets the required env vars.
func setMinimalEnv(t *testing.T) {
	t.Helper()
	t.Setenv("SYNC_URL", "wss://sync.example.com/channel")
	t.Setenv("AUTHORITY_URL", "https://api.example.com")
}

func TestLoad_Defaults(t *testing.T) {
	clearConfigEnv(t)
	setMinimalEnv(t)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "wss://sync.example.com/channel", cfg.SyncURL)
	assert.Equal(t, "https://api.example.com", cfg.AuthorityURL)
	assert.Equal(t, time.Second, cfg.BaseDelay)
	assert.Equal(t, 30*time.Second, cfg.MaxDelay)
	assert.Equal(t, 10, cfg.ReconnectLimit)
	assert.Equal(t, 30*time.Second, cfg.HeartbeatInterval)
	assert.Equal(t, 3, cfg.MaxConcurrentSyncs)
	assert.Equal(t, 3, cfg.RetryAttempts)
	assert.Equal(t, time.Second, cfg.RetryDelay)
	assert.Equal(t, "manual", cfg.ConflictPolicy)
	assert.False(t, cfg.EnableMCP)
	assert.NotEmpty(t, cfg.DeviceName)
	assert.NotEmpty(t, cfg.StateDBPath)
}

func TestLoad_MissingSyncURL(t *testing.T) {
	clearConfigEnv(t)
	t.Setenv("AUTHORITY_URL", "https://api.example.com")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "SYNC_URL")
}

func TestLoad_MissingAuthorityURL(t *testing.T) {
	clearConfigEnv(t)
	t.Setenv("SYNC_URL", "wss://sync.example.com/channel")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "AUTHORITY_URL")
}

func TestLoad_InvalidPolicy(t *testing.T) {
	clearConfigEnv(t)
	setMinimalEnv(t)
	t.Setenv("CONFLICT_POLICY", "ask-nicely")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "CONFLICT_POLICY")
}

func TestLoad_ValidPolicies(t *testing.T) {
	for _, policy := range []string{"local", "remote", "merge", "manual"} {
		clearConfigEnv(t)
		setMinimalEnv(t)
		t.Setenv("CONFLICT_POLICY", policy)

		cfg, err := Load()
		require.NoError(t, err, "policy %q should be accepted", policy)
		assert.Equal(t, policy, cfg.ConflictPolicy)
	}
}

func TestLoad_MaxDelayBelowBaseDelay(t *testing.T) {
	clearConfigEnv(t)
	setMinimalEnv(t)
	t.Setenv("RECONNECT_BASE_DELAY", "10s")
	t.Setenv("RECONNECT_MAX_DELAY", "5s")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "RECONNECT_MAX_DELAY")
}

func TestLoad_ZeroConcurrency(t *testing.T) {
	clearConfigEnv(t)
	setMinimalEnv(t)
	t.Setenv("MAX_CONCURRENT_SYNCS", "0")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "MAX_CONCURRENT_SYNCS")
}

func TestLoad_SpoolDirResolvedAbsolute(t *testing.T) {
	clearConfigEnv(t)
	setMinimalEnv(t)
	t.Setenv("SPOOL_DIR", "spool")

	cfg, err := Load()
	require.NoError(t, err)
	assert.True(t, len(cfg.SpoolDir) > len("spool"))
	assert.NotEqual(t, "spool", cfg.SpoolDir)
}

func TestLoad_DeviceNameOverride(t *testing.T) {
	clearConfigEnv(t)
	setMinimalEnv(t)
	t.Setenv("DEVICE_NAME", "kiosk-7")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "kiosk-7", cfg.DeviceName)
}

func TestIsProduction(t *testing.T) {
	cfg := &Config{Environment: "production"}
	assert.True(t, cfg.IsProduction())

	cfg.Environment = "development"
	assert.False(t, cfg.IsProduction())
}
