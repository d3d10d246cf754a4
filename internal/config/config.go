// Package config loads IGED's configuration from <data>/config.yaml with
// IGED_* environment overrides on top of model.DefaultConfig.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
	yamlv3 "gopkg.in/yaml.v3"

	"github.com/iged-project/iged/internal/fsutil"
	"github.com/iged-project/iged/internal/model"
)

const (
	FileName  = "config.yaml"
	EnvPrefix = "IGED"
)

// Path returns the config file location for a data directory.
func Path(dataDir string) string {
	return filepath.Join(dataDir, FileName)
}

// Load reads dataDir/config.yaml if it exists. Environment variables such
// as IGED_ORCHESTRATOR_TASK_TIMEOUT_SEC override file values. The returned
// config has DataDir set to dataDir and all relative paths resolved.
func Load(dataDir string) (model.Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Seeding viper with the full default document makes every key known,
	// which AutomaticEnv needs for Unmarshal to see env overrides.
	defaults, err := yamlv3.Marshal(model.DefaultConfig())
	if err != nil {
		return model.Config{}, fmt.Errorf("encode defaults: %w", err)
	}
	if err := v.ReadConfig(bytes.NewReader(defaults)); err != nil {
		return model.Config{}, fmt.Errorf("load defaults: %w", err)
	}

	path := Path(dataDir)
	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
	case err != nil:
		return model.Config{}, fmt.Errorf("read config %s: %w", path, err)
	default:
		if err := v.MergeConfig(bytes.NewReader(data)); err != nil {
			return model.Config{}, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	var cfg model.Config
	if err := v.Unmarshal(&cfg); err != nil {
		return model.Config{}, fmt.Errorf("decode config: %w", err)
	}
	if dataDir != "" {
		cfg.DataDir = dataDir
	}
	if err := Validate(cfg); err != nil {
		return model.Config{}, err
	}
	return cfg.Resolve(), nil
}

// Validate rejects values the daemon cannot run with.
func Validate(cfg model.Config) error {
	var errs []error
	if cfg.Orchestrator.TaskTimeoutSec < 0 {
		errs = append(errs, fmt.Errorf("orchestrator.task_timeout_sec must be >= 0, got %d", cfg.Orchestrator.TaskTimeoutSec))
	}
	if cfg.Orchestrator.MaxQueue < 0 {
		errs = append(errs, fmt.Errorf("orchestrator.max_queue must be >= 0, got %d", cfg.Orchestrator.MaxQueue))
	}
	switch cfg.Memory.KeySource {
	case "", "file", "keyring":
	default:
		errs = append(errs, fmt.Errorf("memory.key_source must be file or keyring, got %q", cfg.Memory.KeySource))
	}
	switch strings.ToLower(cfg.Logging.Format) {
	case "", "console", "json":
	default:
		errs = append(errs, fmt.Errorf("logging.format must be console or json, got %q", cfg.Logging.Format))
	}
	if cfg.Watchdog.MinSuccessPct < 0 || cfg.Watchdog.MinSuccessPct > 100 {
		errs = append(errs, fmt.Errorf("watchdog.min_success_pct must be within [0,100], got %v", cfg.Watchdog.MinSuccessPct))
	}
	return errors.Join(errs...)
}

// Save writes cfg atomically as YAML. Paths are written as given, so pass
// an unresolved config to keep them relative to the data directory.
func Save(path string, cfg model.Config) error {
	return fsutil.WriteYAML(path, cfg, 0o600)
}
