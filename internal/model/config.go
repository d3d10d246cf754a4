// Package model defines IGED's configuration, task records and memory entries.
package model

import (
	"path/filepath"
	"time"
)

type Config struct {
	DataDir      string             `yaml:"data_dir" mapstructure:"data_dir"`
	AgentsDir    string             `yaml:"agents_dir" mapstructure:"agents_dir"`
	PluginsDir   string             `yaml:"plugins_dir" mapstructure:"plugins_dir"`
	OutputDir    string             `yaml:"output_dir" mapstructure:"output_dir"`
	Orchestrator OrchestratorConfig `yaml:"orchestrator" mapstructure:"orchestrator"`
	Memory       MemoryConfig       `yaml:"memory" mapstructure:"memory"`
	Admin        AdminConfig        `yaml:"admin" mapstructure:"admin"`
	Voice        VoiceConfig        `yaml:"voice" mapstructure:"voice"`
	Watchdog     WatchdogConfig     `yaml:"watchdog" mapstructure:"watchdog"`
	WebAuthn     WebAuthnConfig     `yaml:"webauthn" mapstructure:"webauthn"`
	Logging      LoggingConfig      `yaml:"logging" mapstructure:"logging"`
	Agents       AgentsConfig       `yaml:"agents" mapstructure:"agents"`
	Daemon       DaemonConfig       `yaml:"daemon" mapstructure:"daemon"`
}

type OrchestratorConfig struct {
	TaskTimeoutSec  int    `yaml:"task_timeout_sec" mapstructure:"task_timeout_sec"`
	MaxQueue        int    `yaml:"max_queue" mapstructure:"max_queue"`
	CompletedWindow int    `yaml:"completed_window" mapstructure:"completed_window"`
	HistoryDB       string `yaml:"history_db" mapstructure:"history_db"`
}

type MemoryConfig struct {
	File                 string `yaml:"file" mapstructure:"file"`
	KeyFile              string `yaml:"key_file" mapstructure:"key_file"`
	KeySource            string `yaml:"key_source" mapstructure:"key_source"` // file | keyring
	PassphraseEnv        string `yaml:"passphrase_env" mapstructure:"passphrase_env"`
	AllowPlaintextLegacy bool   `yaml:"allow_plaintext_legacy" mapstructure:"allow_plaintext_legacy"`
}

type AdminConfig struct {
	Enabled bool   `yaml:"enabled" mapstructure:"enabled"`
	Addr    string `yaml:"addr" mapstructure:"addr"`
}

type VoiceConfig struct {
	Enabled  bool   `yaml:"enabled" mapstructure:"enabled"`
	InboxDir string `yaml:"inbox_dir" mapstructure:"inbox_dir"`
}

type WatchdogConfig struct {
	Enabled       bool    `yaml:"enabled" mapstructure:"enabled"`
	Schedule      string  `yaml:"schedule" mapstructure:"schedule"`
	MinFreeDiskMB uint64  `yaml:"min_free_disk_mb" mapstructure:"min_free_disk_mb"`
	MaxHeapMB     uint64  `yaml:"max_heap_mb" mapstructure:"max_heap_mb"`
	MinSuccessPct float64 `yaml:"min_success_pct" mapstructure:"min_success_pct"`
	DesktopNotify bool    `yaml:"desktop_notify" mapstructure:"desktop_notify"`
}

type WebAuthnConfig struct {
	Addr            string   `yaml:"addr" mapstructure:"addr"`
	RPID            string   `yaml:"rp_id" mapstructure:"rp_id"`
	RPName          string   `yaml:"rp_name" mapstructure:"rp_name"`
	RPOrigins       []string `yaml:"rp_origins" mapstructure:"rp_origins"`
	CredentialsFile string   `yaml:"credentials_file" mapstructure:"credentials_file"`
	SessionTTLSec   int      `yaml:"session_ttl_sec" mapstructure:"session_ttl_sec"`
}

type LoggingConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"` // console | json
	File   bool   `yaml:"file" mapstructure:"file"`
}

type AgentsConfig struct {
	RemoteControl RemoteControlConfig `yaml:"remote_control" mapstructure:"remote_control"`
	SecOps        SecOpsConfig        `yaml:"secops" mapstructure:"secops"`
}

type RemoteControlConfig struct {
	AllowedCommands []string `yaml:"allowed_commands" mapstructure:"allowed_commands"`
}

type SecOpsConfig struct {
	Ports         []int `yaml:"ports" mapstructure:"ports"`
	DialTimeoutMs int   `yaml:"dial_timeout_ms" mapstructure:"dial_timeout_ms"`
}

type DaemonConfig struct {
	ShutdownTimeoutSec int `yaml:"shutdown_timeout_sec" mapstructure:"shutdown_timeout_sec"`
}

// DefaultConfig returns the configuration used when no file is present.
// Relative directories are resolved against DataDir by Resolve.
func DefaultConfig() Config {
	return Config{
		DataDir:    ".iged",
		AgentsDir:  "agents",
		PluginsDir: "plugins",
		OutputDir:  "output",
		Orchestrator: OrchestratorConfig{
			TaskTimeoutSec:  60,
			MaxQueue:        1000,
			CompletedWindow: 100,
			HistoryDB:       "history.db",
		},
		Memory: MemoryConfig{
			File:      "memory.enc",
			KeyFile:   "memory.key",
			KeySource: "file",
		},
		Admin: AdminConfig{
			Enabled: true,
			Addr:    "127.0.0.1:8080",
		},
		Voice: VoiceConfig{
			Enabled:  true,
			InboxDir: "inbox",
		},
		Watchdog: WatchdogConfig{
			Enabled:       true,
			Schedule:      "@every 30s",
			MinFreeDiskMB: 1024,
			MaxHeapMB:     512,
			MinSuccessPct: 80,
		},
		WebAuthn: WebAuthnConfig{
			Addr:            "127.0.0.1:5000",
			RPID:            "localhost",
			RPName:          "IGED",
			RPOrigins:       []string{"http://localhost:5000"},
			CredentialsFile: "webauthn_credentials.json",
			SessionTTLSec:   600,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "console",
		},
		Agents: AgentsConfig{
			SecOps: SecOpsConfig{
				Ports:         []int{21, 22, 23, 25, 53, 80, 110, 143, 443, 3306, 5432, 8080},
				DialTimeoutMs: 800,
			},
		},
		Daemon: DaemonConfig{
			ShutdownTimeoutSec: 10,
		},
	}
}

// Resolve returns a copy with every relative path joined onto DataDir.
func (c Config) Resolve() Config {
	r := c
	join := func(p string) string {
		if p == "" || filepath.IsAbs(p) {
			return p
		}
		return filepath.Join(c.DataDir, p)
	}
	r.AgentsDir = join(c.AgentsDir)
	r.PluginsDir = join(c.PluginsDir)
	r.OutputDir = join(c.OutputDir)
	r.Orchestrator.HistoryDB = join(c.Orchestrator.HistoryDB)
	r.Memory.File = join(c.Memory.File)
	r.Memory.KeyFile = join(c.Memory.KeyFile)
	r.Voice.InboxDir = join(c.Voice.InboxDir)
	r.WebAuthn.CredentialsFile = join(c.WebAuthn.CredentialsFile)
	return r
}

func (c Config) TaskTimeout() time.Duration {
	if c.Orchestrator.TaskTimeoutSec <= 0 {
		return 60 * time.Second
	}
	return time.Duration(c.Orchestrator.TaskTimeoutSec) * time.Second
}

func (c Config) ShutdownTimeout() time.Duration {
	if c.Daemon.ShutdownTimeoutSec <= 0 {
		return 10 * time.Second
	}
	return time.Duration(c.Daemon.ShutdownTimeoutSec) * time.Second
}

func (c Config) LogsDir() string    { return filepath.Join(c.DataDir, "logs") }
func (c Config) ExportsDir() string { return filepath.Join(c.DataDir, "exports") }
func (c Config) LockFile() string   { return filepath.Join(c.DataDir, "iged.lock") }
