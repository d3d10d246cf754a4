// Package setup scaffolds an IGED data directory.
package setup

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/iged-project/iged/internal/agent"
	"github.com/iged-project/iged/internal/agent/builtin"
	"github.com/iged-project/iged/internal/config"
	"github.com/iged-project/iged/internal/model"
	"github.com/iged-project/iged/internal/secret"
)

// Result describes what Run created.
type Result struct {
	DataDir    string
	ConfigPath string
	Dirs       []string
	Manifests  []string
}

// Run initializes dataDir: directory layout, default config and one manifest
// per built-in agent and plugin. An existing config is left alone unless
// force is set; existing manifests are never overwritten.
func Run(dataDir string, force bool) (Result, error) {
	abs, err := filepath.Abs(dataDir)
	if err != nil {
		return Result{}, fmt.Errorf("resolve data dir: %w", err)
	}
	res := Result{DataDir: abs, ConfigPath: config.Path(abs)}

	if _, err := os.Stat(res.ConfigPath); err == nil && !force {
		return res, fmt.Errorf("%s already exists (use --force to overwrite)", res.ConfigPath)
	}

	cfg := model.DefaultConfig()
	cfg.DataDir = ""
	resolved := cfg
	resolved.DataDir = abs
	resolved = resolved.Resolve()

	for _, d := range dirsOf(resolved) {
		if err := os.MkdirAll(d, 0o700); err != nil {
			return res, fmt.Errorf("create directory %s: %w", d, err)
		}
		res.Dirs = append(res.Dirs, d)
	}

	if err := config.Save(res.ConfigPath, cfg); err != nil {
		return res, fmt.Errorf("write config: %w", err)
	}

	for _, entry := range builtin.AgentEntries {
		path := filepath.Join(resolved.AgentsDir, entry, agent.ManifestFile)
		written, err := writeManifest(path, entry)
		if err != nil {
			return res, err
		}
		if written {
			res.Manifests = append(res.Manifests, path)
		}
	}
	for _, entry := range builtin.PluginEntries {
		path := filepath.Join(resolved.PluginsDir, entry+".yaml")
		written, err := writeManifest(path, entry)
		if err != nil {
			return res, err
		}
		if written {
			res.Manifests = append(res.Manifests, path)
		}
	}
	return res, nil
}

func dirsOf(cfg model.Config) []string {
	return []string{
		cfg.DataDir,
		cfg.AgentsDir,
		cfg.PluginsDir,
		cfg.OutputDir,
		cfg.Voice.InboxDir,
		cfg.ExportsDir(),
		cfg.LogsDir(),
	}
}

func writeManifest(path, entry string) (bool, error) {
	if _, err := os.Stat(path); err == nil {
		return false, nil
	}
	m := agent.Manifest{Entry: entry, Description: builtin.Descriptions[entry]}
	if err := agent.WriteManifest(path, m); err != nil {
		return false, fmt.Errorf("write manifest %s: %w", path, err)
	}
	return true, nil
}

// Check inspects a resolved config for problems worth telling the user
// about before starting. It never modifies anything.
func Check(cfg model.Config) []string {
	var warnings []string
	for _, d := range dirsOf(cfg) {
		info, err := os.Stat(d)
		switch {
		case errors.Is(err, os.ErrNotExist):
			warnings = append(warnings, fmt.Sprintf("directory %s does not exist (run iged init)", d))
		case err != nil:
			warnings = append(warnings, fmt.Sprintf("cannot stat %s: %v", d, err))
		case !info.IsDir():
			warnings = append(warnings, fmt.Sprintf("%s is not a directory", d))
		}
	}

	if cfg.Memory.KeySource == secret.SourceFile || cfg.Memory.KeySource == "" {
		open, err := secret.KeyFileTooOpen(cfg.Memory.KeyFile)
		switch {
		case errors.Is(err, os.ErrNotExist):
		case err != nil:
			warnings = append(warnings, fmt.Sprintf("cannot stat key file: %v", err))
		case open:
			warnings = append(warnings, fmt.Sprintf("key file %s is readable by other users; chmod 600 it", cfg.Memory.KeyFile))
		}
	}

	if cfg.Memory.AllowPlaintextLegacy {
		warnings = append(warnings, "memory.allow_plaintext_legacy is enabled; unencrypted memory files will be accepted")
	}
	if cfg.Memory.PassphraseEnv != "" && os.Getenv(cfg.Memory.PassphraseEnv) == "" {
		warnings = append(warnings, fmt.Sprintf("memory.passphrase_env names %s but it is not set", cfg.Memory.PassphraseEnv))
	}
	return warnings
}
