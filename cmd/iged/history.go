package main

import (
	"fmt"
	"sort"
	"time"

	"github.com/spf13/cobra"

	"github.com/iged-project/iged/internal/history"
	"github.com/iged-project/iged/internal/model"
)

func historyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Query the archive of finished tasks",
	}

	var limit int
	var jsonOutput bool
	list := &cobra.Command{
		Use:   "list",
		Short: "Show recently archived tasks",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			store, err := openHistory()
			if err != nil {
				return err
			}
			defer store.Close()
			tasks, err := store.Recent(cmd.Context(), limit)
			if err != nil {
				return err
			}
			if jsonOutput {
				return printJSON(cmd.OutOrStdout(), tasks)
			}
			out := cmd.OutOrStdout()
			for _, t := range tasks {
				finished := ""
				if t.CompletedAt != nil {
					finished = t.CompletedAt.Local().Format("2006-01-02 15:04:05")
				}
				fmt.Fprintf(out, "%-19s  %-36s  %-10s  %-20s  %s\n", finished, t.ID, t.Status, t.Agent, truncate(t.Command, 40))
			}
			return nil
		},
	}
	list.Flags().IntVarP(&limit, "limit", "n", 20, "maximum tasks")
	list.Flags().BoolVar(&jsonOutput, "json", false, "print JSON")

	show := &cobra.Command{
		Use:   "show <id>",
		Short: "Print one archived task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openHistory()
			if err != nil {
				return err
			}
			defer store.Close()
			t, err := store.Get(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), t)
		},
	}

	stats := &cobra.Command{
		Use:   "stats",
		Short: "Count archived tasks by status",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			store, err := openHistory()
			if err != nil {
				return err
			}
			defer store.Close()
			counts, err := store.CountByStatus(cmd.Context())
			if err != nil {
				return err
			}
			statuses := make([]model.TaskStatus, 0, len(counts))
			for s := range counts {
				statuses = append(statuses, s)
			}
			sort.Slice(statuses, func(i, j int) bool { return statuses[i] < statuses[j] })
			out := cmd.OutOrStdout()
			total := 0
			for _, s := range statuses {
				fmt.Fprintf(out, "%-10s  %d\n", s, counts[s])
				total += counts[s]
			}
			fmt.Fprintf(out, "%-10s  %d\n", "total", total)
			return nil
		},
	}

	var olderThan time.Duration
	prune := &cobra.Command{
		Use:   "prune",
		Short: "Delete archived tasks that finished before a cutoff",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if olderThan <= 0 {
				return fmt.Errorf("--older-than must be positive")
			}
			store, err := openHistory()
			if err != nil {
				return err
			}
			defer store.Close()
			n, err := store.Prune(cmd.Context(), time.Now().Add(-olderThan))
			if err != nil {
				return err
			}
			okColor.Fprintf(cmd.OutOrStdout(), "Pruned %d tasks\n", n)
			return nil
		},
	}
	prune.Flags().DurationVar(&olderThan, "older-than", 30*24*time.Hour, "age cutoff")

	cmd.AddCommand(list, show, stats, prune)
	return cmd
}

func openHistory() (*history.Store, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	return history.Open(cfg.Orchestrator.HistoryDB)
}
