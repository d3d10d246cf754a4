// Package status reports on a running IGED daemon through its admin API.
package status

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/iged-project/iged/internal/lock"
	"github.com/iged-project/iged/internal/model"
)

type Snapshot struct {
	Daemon DaemonStatus `json:"daemon"`
	Report *Report      `json:"status,omitempty"`
	Error  string       `json:"error,omitempty"`
}

type DaemonStatus struct {
	Running bool   `json:"running"`
	PID     int    `json:"pid,omitempty"`
	Admin   string `json:"admin,omitempty"`
}

// Collect reads the lock file for the daemon pid and, when admin is enabled,
// asks the admin server for its status. An unreachable server with a held
// lock still reports the daemon as running.
func Collect(ctx context.Context, cfg model.Config, c *Client) Snapshot {
	var s Snapshot
	if pid, err := lock.ReadPID(cfg.LockFile()); err == nil {
		s.Daemon.PID = pid
		s.Daemon.Running = true
	}
	if !cfg.Admin.Enabled || c == nil {
		return s
	}
	s.Daemon.Admin = c.BaseURL()
	r, err := c.Status(ctx)
	if err != nil {
		s.Error = err.Error()
		return s
	}
	s.Daemon.Running = true
	s.Report = &r
	return s
}

// Run collects a snapshot and writes it to w.
func Run(ctx context.Context, w io.Writer, cfg model.Config, c *Client, jsonOutput bool) error {
	s := Collect(ctx, cfg, c)
	if jsonOutput {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(s)
	}
	Print(w, s)
	return nil
}

func Print(w io.Writer, s Snapshot) {
	switch {
	case s.Daemon.Running && s.Daemon.PID > 0:
		fmt.Fprintf(w, "Daemon: running (pid %d)\n", s.Daemon.PID)
	case s.Daemon.Running:
		fmt.Fprintln(w, "Daemon: running")
	default:
		fmt.Fprintln(w, "Daemon: stopped")
	}
	if s.Error != "" {
		fmt.Fprintf(w, "Admin:  unreachable at %s (%s)\n", s.Daemon.Admin, s.Error)
	}
	r := s.Report
	if r == nil {
		return
	}
	fmt.Fprintf(w, "Admin:  %s (version %s, up %s)\n", s.Daemon.Admin, r.Version, uptime(r.UptimeSeconds))

	if o := r.Orchestrator; o != nil {
		fmt.Fprintf(w, "\nTasks: %d queued, %d active, %d completed (%d processed, %d errors)\n",
			o.Queued, o.Active, o.Completed, o.Statistics.TasksProcessed, o.Statistics.ErrorsEncountered)

		names := make([]string, 0, len(o.Agents))
		for n := range o.Agents {
			names = append(names, n)
		}
		sort.Strings(names)
		if len(names) > 0 {
			fmt.Fprintln(w, "\nAgents:")
			for _, n := range names {
				a := o.Agents[n]
				fmt.Fprintf(w, "  %-22s  processed=%-5d  running=%d\n", n, a.TasksProcessed, a.Running)
			}
		} else {
			fmt.Fprintln(w, "\nAgents: none")
		}
		for _, f := range o.LoadFailures {
			fmt.Fprintf(w, "  failed %s %s: %s\n", f.Kind, f.Name, f.Error)
		}
	}
	if m := r.Memory; m != nil {
		fmt.Fprintf(w, "\nMemory: %d entries, %.1f%% success, %d in last 24h\n",
			m.TotalEntries, m.SuccessRate, m.RecentEntries24h)
	}
	if v := r.Voice; v != nil {
		state := "stopped"
		if v.Listening {
			state = "listening"
		}
		fmt.Fprintf(w, "Voice:  %s (%d processed, %d rejected)\n", state, v.Processed, v.Rejected)
	}
}

func uptime(sec float64) string {
	s := int64(sec)
	var b strings.Builder
	if d := s / 86400; d > 0 {
		fmt.Fprintf(&b, "%dd", d)
	}
	fmt.Fprintf(&b, "%02dh%02dm%02ds", (s%86400)/3600, (s%3600)/60, s%60)
	return b.String()
}
