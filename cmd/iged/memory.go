package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/iged-project/iged/internal/daemon"
	"github.com/iged-project/iged/internal/lock"
	"github.com/iged-project/iged/internal/model"
)

func memoryCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "memory",
		Short: "Inspect and manage the encrypted memory log",
	}

	var limit int
	var jsonOutput bool
	list := &cobra.Command{
		Use:   "list",
		Short: "Show the most recent entries",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			c, _, err := apiClient()
			if err != nil {
				return err
			}
			ctx, cancel := commandContext(cmd)
			defer cancel()
			entries, err := c.Memory(ctx, limit)
			if err != nil {
				return err
			}
			return printEntries(cmd, entries, jsonOutput)
		},
	}
	list.Flags().IntVarP(&limit, "limit", "n", 50, "maximum entries")
	list.Flags().BoolVar(&jsonOutput, "json", false, "print JSON")

	var searchLimit int
	search := &cobra.Command{
		Use:   "search <query...>",
		Short: "Case-insensitive search over commands, results and agents",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, _, err := apiClient()
			if err != nil {
				return err
			}
			ctx, cancel := commandContext(cmd)
			defer cancel()
			entries, err := c.SearchMemory(ctx, strings.Join(args, " "), searchLimit)
			if err != nil {
				return err
			}
			return printEntries(cmd, entries, jsonOutput)
		},
	}
	search.Flags().IntVarP(&searchLimit, "limit", "n", 20, "maximum entries")
	search.Flags().BoolVar(&jsonOutput, "json", false, "print JSON")

	stats := &cobra.Command{
		Use:   "stats",
		Short: "Print memory statistics",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			c, _, err := apiClient()
			if err != nil {
				return err
			}
			ctx, cancel := commandContext(cmd)
			defer cancel()
			st, err := c.MemoryStats(ctx)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), st)
		},
	}

	var yes bool
	clearCmd := &cobra.Command{
		Use:   "clear",
		Short: "Delete every entry",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if !yes {
				return fmt.Errorf("refusing to clear memory without --yes")
			}
			c, _, err := apiClient()
			if err != nil {
				return err
			}
			ctx, cancel := commandContext(cmd)
			defer cancel()
			if err := c.ClearMemory(ctx); err != nil {
				return err
			}
			okColor.Fprintln(cmd.OutOrStdout(), "Memory cleared")
			return nil
		},
	}
	clearCmd.Flags().BoolVarP(&yes, "yes", "y", false, "confirm")

	del := &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete one entry",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, _, err := apiClient()
			if err != nil {
				return err
			}
			ctx, cancel := commandContext(cmd)
			defer cancel()
			if err := c.DeleteMemory(ctx, args[0]); err != nil {
				return err
			}
			okColor.Fprintf(cmd.OutOrStdout(), "Deleted %s\n", args[0])
			return nil
		},
	}

	export := &cobra.Command{
		Use:   "export [filename]",
		Short: "Write a plaintext JSON export into the exports directory",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, _, err := apiClient()
			if err != nil {
				return err
			}
			ctx, cancel := commandContext(cmd)
			defer cancel()
			name := ""
			if len(args) == 1 {
				name = args[0]
			}
			path, n, err := c.ExportMemory(ctx, name)
			if err != nil {
				return err
			}
			okColor.Fprintf(cmd.OutOrStdout(), "Exported %d entries to %s\n", n, path)
			warnColor.Fprintln(cmd.OutOrStdout(), "The export is not encrypted.")
			return nil
		},
	}

	importCmd := &cobra.Command{
		Use:   "import <file>",
		Short: "Append entries from a JSON export (daemon must be stopped)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			n, err := importOffline(cfg, args[0])
			if err != nil {
				return err
			}
			okColor.Fprintf(cmd.OutOrStdout(), "Imported %d entries\n", n)
			return nil
		},
	}

	cmd.AddCommand(list, search, stats, clearCmd, del, export, importCmd)
	return cmd
}

// importOffline takes the daemon lock so the log is never written by two
// processes at once.
func importOffline(cfg model.Config, path string) (int, error) {
	if err := os.MkdirAll(cfg.DataDir, 0o700); err != nil {
		return 0, err
	}
	fl := lock.NewFileLock(cfg.LockFile())
	if err := fl.TryLock(); err != nil {
		return 0, fmt.Errorf("daemon appears to be running, stop it first: %w", err)
	}
	defer fl.Unlock()

	mem, err := daemon.OpenMemory(cfg, zerolog.Nop())
	if err != nil {
		return 0, err
	}
	return mem.Import(path)
}

func printEntries(cmd *cobra.Command, entries []model.MemoryEntry, jsonOutput bool) error {
	if jsonOutput {
		return printJSON(cmd.OutOrStdout(), entries)
	}
	out := cmd.OutOrStdout()
	if len(entries) == 0 {
		fmt.Fprintln(out, "No entries")
		return nil
	}
	for _, e := range entries {
		mark := okColor.Sprint("ok  ")
		if !e.Success {
			mark = warnColor.Sprint("fail")
		}
		fmt.Fprintf(out, "%s  %s  %-20s  %s\n", e.Timestamp.Local().Format("2006-01-02 15:04:05"), mark, e.Agent, truncate(e.Command, 60))
		dimColor.Fprintf(out, "    %s  %s\n", e.ID, truncate(strings.ReplaceAll(e.Result, "\n", " "), 80))
	}
	return nil
}
