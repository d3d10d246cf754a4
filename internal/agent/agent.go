// Package agent defines the agent and plugin contracts, the process-wide
// registry implementations add themselves to, and the manifest-driven loader
// that turns the agents/ and plugins/ directories into live handles.
package agent

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/iged-project/iged/internal/model"
)

// Request is the work handed to an agent.
type Request struct {
	TaskID     string
	Type       string
	Command    string
	Target     string
	Parameters map[string]any
}

// Result is what an agent reports back. Success=false is a handled failure;
// a returned error means the agent itself broke.
type Result struct {
	Success bool
	Output  string
	Data    map[string]any
}

type Agent interface {
	Name() string
	Run(ctx context.Context, req Request) (Result, error)
}

type Plugin interface {
	Name() string
	Execute(ctx context.Context, input string) (string, error)
}

// Env is passed to factories when the loader instantiates an implementation.
type Env struct {
	OutputDir string
	Config    model.AgentsConfig
	Logger    zerolog.Logger
}

type AgentFactory func(Env) (Agent, error)

type PluginFactory func(Env) (Plugin, error)

// AgentHandle is a loaded agent under the name it was discovered as.
type AgentHandle struct {
	Name        string
	Description string
	Agent       Agent
}

type PluginHandle struct {
	Name        string
	Description string
	Plugin      Plugin
}
