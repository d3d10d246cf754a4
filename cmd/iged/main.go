// Command iged runs and controls the IGED assistant daemon.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/fatih/color"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	_ "github.com/iged-project/iged/internal/agent/builtin"
	"github.com/iged-project/iged/internal/config"
	"github.com/iged-project/iged/internal/logging"
	"github.com/iged-project/iged/internal/model"
	"github.com/iged-project/iged/internal/status"
)

var version = "1.0.0"

const (
	dataDirEnv = "IGED_DATA_DIR"
	dirName    = ".iged"
)

var (
	dataDir    string
	logLevel   string
	apiTimeout time.Duration
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		color.New(color.FgRed).Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "iged",
		Short: "IGED - local assistant that routes commands to agents",
		Long: `IGED parses natural-language commands, routes them to loaded agents
and keeps an encrypted log of everything it did.

Start the daemon:      iged run
Initialize data dir:   iged init
Send a command:        iged submit "scan ports on 127.0.0.1"`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().StringVarP(&dataDir, "data-dir", "d", "", "data directory (default $IGED_DATA_DIR, nearest .iged, or ~/.iged)")
	root.PersistentFlags().StringVar(&logLevel, "log-level", "", "override logging.level")
	root.PersistentFlags().DurationVar(&apiTimeout, "timeout", status.DefaultTimeout, "admin API request timeout")

	root.AddCommand(
		runCmd(),
		initCmd(),
		statusCmd(),
		healthCmd(),
		parseCmd(),
		submitCmd(),
		taskCmd(),
		agentsCmd(),
		pluginCmd(),
		voiceCmd(),
		memoryCmd(),
		historyCmd(),
		webauthnCmd(),
		&cobra.Command{
			Use:   "version",
			Short: "Print version information",
			Run: func(cmd *cobra.Command, _ []string) {
				fmt.Fprintf(cmd.OutOrStdout(), "iged %s\n", version)
			},
		},
	)

	return root
}

// resolveDataDir picks the flag, then the environment, then the nearest
// .iged directory above the working directory, then ~/.iged.
func resolveDataDir() string {
	if dataDir != "" {
		return dataDir
	}
	if env := os.Getenv(dataDirEnv); env != "" {
		return env
	}
	if found := findDataDir(); found != "" {
		return found
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return dirName
	}
	return filepath.Join(home, dirName)
}

func findDataDir() string {
	dir, err := os.Getwd()
	if err != nil {
		return ""
	}
	for {
		candidate := filepath.Join(dir, dirName)
		if _, err := os.Stat(config.Path(candidate)); err == nil {
			return candidate
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return ""
		}
		dir = parent
	}
}

func loadConfig() (model.Config, error) {
	dir, err := filepath.Abs(resolveDataDir())
	if err != nil {
		return model.Config{}, err
	}
	cfg, err := config.Load(dir)
	if err != nil {
		return model.Config{}, err
	}
	if logLevel != "" {
		cfg.Logging.Level = logLevel
	}
	return cfg, nil
}

func newLogger(cfg model.Config, w io.Writer) (zerolog.Logger, io.Closer, error) {
	return logging.New(cfg.Logging, cfg.LogsDir(), w)
}

// apiClient loads the config and returns a client for its admin server.
func apiClient() (*status.Client, model.Config, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, cfg, err
	}
	if !cfg.Admin.Enabled {
		return nil, cfg, errors.New("admin server is disabled in config; commands that talk to the daemon need admin.enabled")
	}
	return status.NewClient(cfg.Admin.Addr, apiTimeout), cfg, nil
}

func commandContext(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	return context.WithTimeout(cmd.Context(), 10*apiTimeout)
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

var (
	okColor   = color.New(color.FgGreen)
	warnColor = color.New(color.FgYellow)
	dimColor  = color.New(color.Faint)
)
