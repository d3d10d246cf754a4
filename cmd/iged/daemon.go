package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/iged-project/iged/internal/daemon"
	"github.com/iged-project/iged/internal/setup"
	"github.com/iged-project/iged/internal/status"
)

func runCmd() *cobra.Command {
	var (
		console   string
		noAdmin   bool
		noWatch   bool
		adminAddr string
	)
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Start the daemon in the foreground",
		Long: `Start the orchestrator, memory engine, voice inbox, watchdog and admin
server. With a terminal on stdin an IGED> console is attached; leaving the
console stops the daemon.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			if noAdmin {
				cfg.Admin.Enabled = false
			}
			if adminAddr != "" {
				cfg.Admin.Addr = adminAddr
			}
			if noWatch {
				cfg.Watchdog.Enabled = false
			}

			interactive, err := consoleMode(console)
			if err != nil {
				return err
			}

			log, closer, err := newLogger(cfg, os.Stderr)
			if err != nil {
				return err
			}
			defer closer.Close()

			for _, w := range setup.Check(cfg) {
				log.Warn().Msg(w)
			}

			d := daemon.New(cfg, log, daemon.Options{
				Version:     version,
				Interactive: interactive,
				In:          os.Stdin,
				Out:         cmd.OutOrStdout(),
			})
			return d.Run(cmd.Context())
		},
	}
	cmd.Flags().StringVar(&console, "console", "auto", "attach the IGED> console: auto, on or off")
	cmd.Flags().BoolVar(&noAdmin, "no-admin", false, "do not start the admin HTTP server")
	cmd.Flags().StringVar(&adminAddr, "admin-addr", "", "override admin.addr")
	cmd.Flags().BoolVar(&noWatch, "no-watchdog", false, "disable periodic health checks")
	return cmd
}

func consoleMode(v string) (bool, error) {
	switch v {
	case "auto", "":
		return term.IsTerminal(int(os.Stdin.Fd())), nil
	case "on", "true":
		return true, nil
	case "off", "false":
		return false, nil
	default:
		return false, fmt.Errorf("--console must be auto, on or off, got %q", v)
	}
}

func initCmd() *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "init [dir]",
		Short: "Create the data directory, default config and built-in manifests",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dir := resolveDataDir()
			if len(args) == 1 {
				dir = args[0]
			}
			res, err := setup.Run(dir, force)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			okColor.Fprintf(out, "Initialized IGED in %s\n", res.DataDir)
			fmt.Fprintf(out, "  config:    %s\n", res.ConfigPath)
			fmt.Fprintf(out, "  manifests: %d written\n", len(res.Manifests))
			return nil
		},
	}
	cmd.Flags().BoolVarP(&force, "force", "f", false, "overwrite an existing config.yaml")
	return cmd
}

func statusCmd() *cobra.Command {
	var jsonOutput, check bool
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show daemon status",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			var c *status.Client
			if cfg.Admin.Enabled {
				c = status.NewClient(cfg.Admin.Addr, apiTimeout)
			}
			if err := status.Run(cmd.Context(), cmd.OutOrStdout(), cfg, c, jsonOutput); err != nil {
				return err
			}
			if check && !jsonOutput {
				warnings := setup.Check(cfg)
				if len(warnings) == 0 {
					okColor.Fprintln(cmd.OutOrStdout(), "\nConfiguration: ok")
				}
				for _, w := range warnings {
					warnColor.Fprintf(cmd.OutOrStdout(), "warning: %s\n", w)
				}
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "print JSON")
	cmd.Flags().BoolVar(&check, "check", false, "also check the data directory for problems")
	return cmd
}
