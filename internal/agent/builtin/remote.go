package builtin

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"

	"github.com/rs/zerolog"

	"github.com/iged-project/iged/internal/agent"
)

const maxRemoteOutput = 64 << 10

// remoteControl runs local commands whose program name is on the
// configured allowlist. An empty allowlist refuses everything.
type remoteControl struct {
	allowed map[string]bool
	log     zerolog.Logger
}

func newRemoteControl(env agent.Env) (agent.Agent, error) {
	allowed := map[string]bool{}
	for _, c := range env.Config.RemoteControl.AllowedCommands {
		if c = strings.TrimSpace(c); c != "" {
			allowed[c] = true
		}
	}
	return &remoteControl{allowed: allowed, log: env.Logger}, nil
}

func (r *remoteControl) Name() string { return EntryRemoteControl }

func (r *remoteControl) Run(ctx context.Context, req agent.Request) (agent.Result, error) {
	line := stringParam(req, "exec")
	if line == "" {
		line = req.Target
	}
	args := strings.Fields(line)
	if len(args) == 0 {
		return agent.Result{Success: false, Output: "remote_control: no command given"}, nil
	}
	if !r.allowed[args[0]] {
		r.log.Warn().Str("command", args[0]).Msg("refused command not on allowlist")
		return agent.Result{
			Success: false,
			Output:  fmt.Sprintf("remote_control: command %q is not allowed", args[0]),
		}, nil
	}

	cmd := exec.CommandContext(ctx, args[0], args[1:]...)
	var out bytes.Buffer
	cmd.Stdout = &limitedWriter{w: &out, n: maxRemoteOutput}
	cmd.Stderr = cmd.Stdout
	err := cmd.Run()
	if ctx.Err() != nil {
		return agent.Result{}, ctx.Err()
	}
	exitCode := 0
	if err != nil {
		ee, ok := err.(*exec.ExitError)
		if !ok {
			return agent.Result{}, fmt.Errorf("run %s: %w", args[0], err)
		}
		exitCode = ee.ExitCode()
	}
	return agent.Result{
		Success: exitCode == 0,
		Output:  strings.TrimSpace(out.String()),
		Data:    map[string]any{"command": args, "exit_code": exitCode},
	}, nil
}

type limitedWriter struct {
	w *bytes.Buffer
	n int
}

func (l *limitedWriter) Write(p []byte) (int, error) {
	if rem := l.n - l.w.Len(); rem > 0 {
		if len(p) > rem {
			l.w.Write(p[:rem])
		} else {
			l.w.Write(p)
		}
	}
	return len(p), nil
}
