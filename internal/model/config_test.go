package model

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, 100, cfg.Orchestrator.CompletedWindow)
	assert.Equal(t, "@every 30s", cfg.Watchdog.Schedule)
	assert.Equal(t, 600, cfg.WebAuthn.SessionTTLSec)
	assert.False(t, cfg.Memory.AllowPlaintextLegacy, "plaintext fallback must be opt-in")
	assert.Empty(t, cfg.Agents.RemoteControl.AllowedCommands)
}

func TestConfigResolve(t *testing.T) {
	cfg := DefaultConfig()
	cfg.DataDir = "/var/lib/iged"
	cfg.OutputDir = "/tmp/out"

	r := cfg.Resolve()
	assert.Equal(t, filepath.Join("/var/lib/iged", "agents"), r.AgentsDir)
	assert.Equal(t, "/tmp/out", r.OutputDir)
	assert.Equal(t, filepath.Join("/var/lib/iged", "memory.enc"), r.Memory.File)
	assert.Equal(t, filepath.Join("/var/lib/iged", "inbox"), r.Voice.InboxDir)
	// original untouched
	assert.Equal(t, "agents", cfg.AgentsDir)
}

func TestConfigTimeouts(t *testing.T) {
	var cfg Config
	assert.Equal(t, 60*time.Second, cfg.TaskTimeout())
	assert.Equal(t, 10*time.Second, cfg.ShutdownTimeout())

	cfg.Orchestrator.TaskTimeoutSec = 5
	cfg.Daemon.ShutdownTimeoutSec = 2
	assert.Equal(t, 5*time.Second, cfg.TaskTimeout())
	assert.Equal(t, 2*time.Second, cfg.ShutdownTimeout())
}
