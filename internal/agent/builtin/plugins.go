package builtin

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/iged-project/iged/internal/agent"
	"github.com/iged-project/iged/internal/sysinfo"
)

type helloWorld struct{}

func newHelloWorld(agent.Env) (agent.Plugin, error) { return helloWorld{}, nil }

func (helloWorld) Name() string { return EntryHelloWorld }

func (helloWorld) Execute(_ context.Context, input string) (string, error) {
	if input = strings.TrimSpace(input); input == "" {
		input = "World"
	}
	return fmt.Sprintf("Hello, %s! This is the Hello World plugin speaking.", input), nil
}

type systemInfo struct {
	diskPath string
}

func newSystemInfo(env agent.Env) (agent.Plugin, error) {
	p := env.OutputDir
	if p == "" {
		p = os.TempDir()
	}
	return systemInfo{diskPath: p}, nil
}

func (systemInfo) Name() string { return EntrySystemInfo }

// Execute returns JSON. Input selects a section: basic, runtime, disk or
// empty for all of them.
func (s systemInfo) Execute(ctx context.Context, input string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	section := strings.ToLower(strings.TrimSpace(input))
	info := map[string]any{}
	want := func(name string) bool { return section == "" || section == "all" || section == name }

	known := false
	if want("basic") {
		known = true
		info["basic"] = map[string]any{"hostname": sysinfo.Hostname()}
	}
	if want("runtime") {
		known = true
		info["runtime"] = sysinfo.Runtime()
	}
	if want("disk") {
		known = true
		d, err := sysinfo.Disk(s.diskPath)
		if err != nil {
			info["disk"] = map[string]any{"error": err.Error()}
		} else {
			info["disk"] = d
		}
	}
	if !known {
		return "", fmt.Errorf("unknown info type %q", section)
	}
	out, err := json.MarshalIndent(info, "", "  ")
	if err != nil {
		return "", err
	}
	return string(out), nil
}
