package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iged-project/iged/internal/model"
)

func TestLoad_DefaultsWhenMissing(t *testing.T) {
	dir := t.TempDir()
	cfg, err := Load(dir)
	require.NoError(t, err)

	assert.Equal(t, dir, cfg.DataDir)
	assert.Equal(t, filepath.Join(dir, "agents"), cfg.AgentsDir)
	assert.Equal(t, filepath.Join(dir, "memory.enc"), cfg.Memory.File)
	assert.Equal(t, 60, cfg.Orchestrator.TaskTimeoutSec)
	assert.Equal(t, "@every 30s", cfg.Watchdog.Schedule)
	assert.False(t, cfg.Memory.AllowPlaintextLegacy)
}

func TestLoad_FileOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	content := `
orchestrator:
  task_timeout_sec: 5
memory:
  allow_plaintext_legacy: true
agents:
  remote_control:
    allowed_commands: [uptime, df]
`
	require.NoError(t, os.WriteFile(Path(dir), []byte(content), 0o600))

	cfg, err := Load(dir)
	require.NoError(t, err)
	assert.Equal(t, 5, cfg.Orchestrator.TaskTimeoutSec)
	assert.Equal(t, 1000, cfg.Orchestrator.MaxQueue)
	assert.True(t, cfg.Memory.AllowPlaintextLegacy)
	assert.Equal(t, []string{"uptime", "df"}, cfg.Agents.RemoteControl.AllowedCommands)
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(Path(dir), []byte("admin:\n  addr: 127.0.0.1:9000\n"), 0o600))
	t.Setenv("IGED_ADMIN_ADDR", "127.0.0.1:9100")
	t.Setenv("IGED_LOGGING_LEVEL", "debug")

	cfg, err := Load(dir)
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:9100", cfg.Admin.Addr)
	assert.Equal(t, "debug", cfg.Logging.Level)
}

func TestLoad_InvalidValues(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(Path(dir), []byte("memory:\n  key_source: vault\nlogging:\n  format: xml\n"), 0o600))

	_, err := Load(dir)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "key_source")
	assert.Contains(t, err.Error(), "logging.format")
}

func TestLoad_MalformedYAML(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(Path(dir), []byte("orchestrator: [unclosed\n"), 0o600))
	_, err := Load(dir)
	assert.Error(t, err)
}

func TestSaveThenLoad(t *testing.T) {
	dir := t.TempDir()
	cfg := model.DefaultConfig()
	cfg.Voice.Enabled = false
	cfg.WebAuthn.RPOrigins = []string{"https://iged.local"}
	require.NoError(t, Save(Path(dir), cfg))

	info, err := os.Stat(Path(dir))
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	got, err := Load(dir)
	require.NoError(t, err)
	assert.False(t, got.Voice.Enabled)
	assert.Equal(t, []string{"https://iged.local"}, got.WebAuthn.RPOrigins)
}
