package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/iged-project/iged/internal/model"
	"github.com/iged-project/iged/internal/parser"
)

func parseCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "parse <command...>",
		Short: "Show how a command would be parsed, without running it",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			parsed := parser.New().Parse(strings.Join(args, " "))
			return printJSON(cmd.OutOrStdout(), parsed)
		},
	}
}

func submitCmd() *cobra.Command {
	var (
		taskType string
		target   string
		wait     bool
	)
	cmd := &cobra.Command{
		Use:   "submit <command...>",
		Short: "Queue a command on the running daemon",
		Long: `Queue a command. Without --type the text goes through the parser, as if
typed at the console. With --type the task is routed by type directly.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, _, err := apiClient()
			if err != nil {
				return err
			}
			ctx, cancel := commandContext(cmd)
			defer cancel()

			text := strings.Join(args, " ")
			var id string
			if taskType == "" {
				q, err := c.Execute(ctx, text)
				if err != nil {
					return err
				}
				id = q.TaskID
			} else {
				id, err = c.Submit(ctx, model.TaskInput{Type: taskType, Command: text, Target: target, Source: "cli"})
				if err != nil {
					return err
				}
			}
			out := cmd.OutOrStdout()
			okColor.Fprintf(out, "Queued task %s\n", id)
			if !wait {
				return nil
			}
			t, err := c.WaitTask(ctx, id, 250*time.Millisecond)
			if err != nil {
				return err
			}
			printTask(cmd, t)
			return nil
		},
	}
	cmd.Flags().StringVarP(&taskType, "type", "t", "", "task type (security, codegen, network, data, remote, advanced_security)")
	cmd.Flags().StringVar(&target, "target", "", "task target")
	cmd.Flags().BoolVarP(&wait, "wait", "w", false, "wait for the task to finish and print its result")
	return cmd
}

func printTask(cmd *cobra.Command, t model.Task) {
	out := cmd.OutOrStdout()
	c := okColor
	if t.Status != model.TaskStatusCompleted {
		c = warnColor
	}
	c.Fprintf(out, "%s  %s", t.ID, t.Status)
	fmt.Fprintf(out, "  agent=%s\n", t.Agent)
	if t.Output != "" {
		fmt.Fprintln(out, t.Output)
	}
	if t.Error != "" {
		retry := ""
		if t.Retryable {
			retry = " (retryable)"
		}
		warnColor.Fprintf(out, "error: %s%s\n", t.Error, retry)
	}
}

func taskCmd() *cobra.Command {
	var jsonOutput bool
	cmd := &cobra.Command{
		Use:   "task [id]",
		Short: "Show one task, or list queued, active and recent tasks",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, _, err := apiClient()
			if err != nil {
				return err
			}
			ctx, cancel := commandContext(cmd)
			defer cancel()

			if len(args) == 1 {
				t, err := c.Task(ctx, args[0])
				if err != nil {
					return err
				}
				if jsonOutput {
					return printJSON(cmd.OutOrStdout(), t)
				}
				printTask(cmd, t)
				return nil
			}

			list, err := c.Tasks(ctx)
			if err != nil {
				return err
			}
			if jsonOutput {
				return printJSON(cmd.OutOrStdout(), list)
			}
			out := cmd.OutOrStdout()
			for _, group := range []struct {
				name  string
				tasks []model.Task
			}{
				{"Queued", list.Queued},
				{"Active", list.Active},
				{"Completed", list.Completed},
			} {
				fmt.Fprintf(out, "%s (%d)\n", group.name, len(group.tasks))
				for _, t := range group.tasks {
					fmt.Fprintf(out, "  %-36s  %-10s  %-20s  %s\n", t.ID, t.Status, t.Agent, truncate(t.Command, 40))
				}
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "print JSON")
	return cmd
}

func agentsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "agents",
		Short: "List loaded agents, plugins and load failures",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			c, _, err := apiClient()
			if err != nil {
				return err
			}
			ctx, cancel := commandContext(cmd)
			defer cancel()
			inv, err := c.Agents(ctx)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Agents (%d)\n", len(inv.Agents))
			for _, name := range inv.Agents {
				st := inv.AgentStatus[name]
				fmt.Fprintf(out, "  %-22s  ", name)
				dimColor.Fprintf(out, "%s\n", st.Description)
			}
			fmt.Fprintf(out, "Plugins (%d)\n", len(inv.Plugins))
			for _, name := range inv.Plugins {
				st := inv.PluginStatus[name]
				fmt.Fprintf(out, "  %-22s  ", name)
				dimColor.Fprintf(out, "%s\n", st.Description)
			}
			for _, f := range inv.LoadFailures {
				warnColor.Fprintf(out, "failed %s %s: %s\n", f.Kind, f.Name, f.Error)
			}
			return nil
		},
	}
}

func pluginCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "plugin",
		Short: "Run plugins on the daemon",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "run <name> [input...]",
		Short: "Run a plugin synchronously and print its output",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, _, err := apiClient()
			if err != nil {
				return err
			}
			ctx, cancel := commandContext(cmd)
			defer cancel()
			out, err := c.RunPlugin(ctx, args[0], strings.Join(args[1:], " "))
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), out)
			return nil
		},
	})
	return cmd
}

func voiceCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "voice",
		Short: "Control the transcript inbox",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "toggle",
		Short: "Start or stop listening on the inbox",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			c, _, err := apiClient()
			if err != nil {
				return err
			}
			ctx, cancel := commandContext(cmd)
			defer cancel()
			listening, err := c.ToggleVoice(ctx)
			if err != nil {
				return err
			}
			if listening {
				okColor.Fprintln(cmd.OutOrStdout(), "Voice started")
			} else {
				fmt.Fprintln(cmd.OutOrStdout(), "Voice stopped")
			}
			return nil
		},
	})
	return cmd
}

func healthCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Print the daemon health report",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			c, _, err := apiClient()
			if err != nil {
				return err
			}
			ctx, cancel := commandContext(cmd)
			defer cancel()
			raw, err := c.Health(ctx)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), raw)
		},
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}
