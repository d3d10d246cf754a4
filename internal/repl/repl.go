// Package repl is the interactive command prompt. Lines are parsed and queued
// exactly like voice transcripts.
package repl

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"github.com/chzyer/readline"
	"github.com/fatih/color"
	"golang.org/x/term"

	"github.com/iged-project/iged/internal/orchestrator"
	"github.com/iged-project/iged/internal/voice"
)

const (
	Prompt = "IGED> "
	Source = "cli"
)

type Processor interface {
	ProcessText(text, source string) (voice.Result, error)
}

type StatusSource interface {
	Status() orchestrator.Status
	Health() orchestrator.Health
}

type Deps struct {
	Processor    Processor
	Orchestrator StatusSource
}

type Options struct {
	In          io.Reader
	Out         io.Writer
	HistoryFile string
}

type REPL struct {
	deps Deps
	opts Options

	ok, warn, bad, dim *color.Color
}

func New(deps Deps, opts Options) *REPL {
	if opts.In == nil {
		opts.In = os.Stdin
	}
	if opts.Out == nil {
		opts.Out = os.Stdout
	}
	r := &REPL{
		deps: deps,
		opts: opts,
		ok:   color.New(color.FgGreen),
		warn: color.New(color.FgYellow),
		bad:  color.New(color.FgRed, color.Bold),
		dim:  color.New(color.FgCyan),
	}
	if !isTerminal(opts.Out) {
		for _, c := range []*color.Color{r.ok, r.warn, r.bad, r.dim} {
			c.DisableColor()
		}
	}
	return r
}

func isTerminal(v any) bool {
	f, ok := v.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

// lineReader hides the difference between readline on a terminal and a
// plain scanner on pipes.
type lineReader interface {
	ReadLine() (string, error)
	Close() error
}

type rlReader struct{ rl *readline.Instance }

func (r rlReader) ReadLine() (string, error) {
	line, err := r.rl.Readline()
	if errors.Is(err, readline.ErrInterrupt) {
		if line == "" {
			return "", io.EOF
		}
		return "", nil
	}
	return line, err
}

func (r rlReader) Close() error { return r.rl.Close() }

type scanReader struct{ sc *bufio.Scanner }

func (s scanReader) ReadLine() (string, error) {
	if s.sc.Scan() {
		return s.sc.Text(), nil
	}
	if err := s.sc.Err(); err != nil {
		return "", err
	}
	return "", io.EOF
}

func (scanReader) Close() error { return nil }

func (r *REPL) reader() (lineReader, error) {
	if f, ok := r.opts.In.(*os.File); ok && isTerminal(f) {
		rl, err := readline.NewEx(&readline.Config{
			Prompt:            Prompt,
			HistoryFile:       r.opts.HistoryFile,
			InterruptPrompt:   "^C",
			EOFPrompt:         "exit",
			HistorySearchFold: true,
			Stdin:             readline.NewCancelableStdin(f),
			Stdout:            r.opts.Out,
		})
		if err != nil {
			return nil, fmt.Errorf("initialize readline: %w", err)
		}
		return rlReader{rl: rl}, nil
	}
	return scanReader{sc: bufio.NewScanner(r.opts.In)}, nil
}

type readResult struct {
	line string
	err  error
}

// Run reads lines until quit, end of input or ctx cancellation.
func (r *REPL) Run(ctx context.Context) error {
	lr, err := r.reader()
	if err != nil {
		return err
	}
	_, interactive := lr.(rlReader)
	defer lr.Close()

	r.banner()
	lines := make(chan readResult)
	next := make(chan struct{}, 1)
	go func() {
		defer close(lines)
		for range next {
			if !interactive {
				fmt.Fprint(r.opts.Out, Prompt)
			}
			line, err := lr.ReadLine()
			select {
			case lines <- readResult{line, err}:
			case <-ctx.Done():
				return
			}
			if err != nil {
				return
			}
		}
	}()
	defer close(next)

	for {
		next <- struct{}{}
		var res readResult
		select {
		case <-ctx.Done():
			return nil
		case got, ok := <-lines:
			if !ok {
				return nil
			}
			res = got
		}
		if res.err != nil {
			if errors.Is(res.err, io.EOF) {
				fmt.Fprintln(r.opts.Out)
				r.ok.Fprintln(r.opts.Out, "Goodbye!")
				return nil
			}
			return fmt.Errorf("read input: %w", res.err)
		}
		if quit := r.Handle(res.line); quit {
			r.ok.Fprintln(r.opts.Out, "Goodbye!")
			return nil
		}
	}
}

func (r *REPL) banner() {
	r.dim.Fprintln(r.opts.Out, "IGED command console")
	fmt.Fprintln(r.opts.Out, "Type a command, 'help' for examples, or 'quit' to leave.")
}

// Handle executes one input line and reports whether the session should end.
func (r *REPL) Handle(line string) bool {
	line = strings.TrimSpace(line)
	switch strings.ToLower(line) {
	case "":
		return false
	case "quit", "exit", "q":
		return true
	case "help":
		r.help()
		return false
	case "status":
		r.status()
		return false
	}

	if r.deps.Processor == nil {
		r.bad.Fprintln(r.opts.Out, "command processing is not available")
		return false
	}
	res, err := r.deps.Processor.ProcessText(line, Source)
	if err != nil {
		r.bad.Fprintf(r.opts.Out, "Error: %v\n", err)
		return false
	}
	r.ok.Fprintf(r.opts.Out, "Queued task %s", res.TaskID)
	fmt.Fprintf(r.opts.Out, " (agent %s, confidence %.2f)\n", agentOf(res), res.Parsed.Confidence)
	return false
}

func agentOf(res voice.Result) string {
	if res.Parsed.Agent != "" {
		return res.Parsed.Agent
	}
	return "keyword routing"
}

func (r *REPL) help() {
	r.dim.Fprintln(r.opts.Out, "Examples:")
	for _, ex := range []string{
		"create a flask web app",
		"scan ports on 127.0.0.1",
		"analyze data in report.csv",
		"monitor network traffic",
		"execute command uptime",
	} {
		fmt.Fprintf(r.opts.Out, "  %s\n", ex)
	}
	r.dim.Fprintln(r.opts.Out, "Built-in: help, status, quit")
}

func (r *REPL) status() {
	if r.deps.Orchestrator == nil {
		r.warn.Fprintln(r.opts.Out, "orchestrator not available")
		return
	}
	st := r.deps.Orchestrator.Status()
	h := r.deps.Orchestrator.Health()
	state := r.ok.Sprint("running")
	if !st.Running {
		state = r.bad.Sprint("stopped")
	}
	fmt.Fprintf(r.opts.Out, "Orchestrator: %s, health %s (%.0f%%)\n", state, h.Status, h.HealthPct)
	fmt.Fprintf(r.opts.Out, "Tasks: %d queued, %d active, %d completed, %d processed, %d errors\n",
		st.Queued, st.Active, st.Completed, st.Statistics.TasksProcessed, st.Statistics.ErrorsEncountered)

	names := make([]string, 0, len(st.Agents))
	for name := range st.Agents {
		names = append(names, name)
	}
	sort.Strings(names)
	fmt.Fprintf(r.opts.Out, "Agents (%d): %s\n", len(names), strings.Join(names, ", "))
	for _, f := range st.LoadFailures {
		r.warn.Fprintf(r.opts.Out, "  failed %s %s: %s\n", f.Kind, f.Name, f.Error)
	}
}
