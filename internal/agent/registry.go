package agent

import (
	"errors"
	"fmt"
	"regexp"
	"sort"
	"sync"
)

// ErrDuplicate is the panic value wrapped when an entry is registered twice.
var ErrDuplicate = errors.New("agent: duplicate registration")

// validEntryName permits only alphanumeric, underscore, and hyphen characters.
var validEntryName = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)

// Registry maps entry names to factories. Implementations register from
// init(); the loader resolves manifest entries against it.
type Registry struct {
	mu      sync.RWMutex
	agents  map[string]AgentFactory
	plugins map[string]PluginFactory
}

func NewRegistry() *Registry {
	return &Registry{
		agents:  make(map[string]AgentFactory),
		plugins: make(map[string]PluginFactory),
	}
}

// Default is the process-wide registry used by RegisterAgent and RegisterPlugin.
var Default = NewRegistry()

// RegisterAgent adds an agent factory to Default. It panics if entry is
// invalid, f is nil, or entry is already taken.
func RegisterAgent(entry string, f AgentFactory) { Default.RegisterAgent(entry, f) }

// RegisterPlugin adds a plugin factory to Default with the same rules as
// RegisterAgent.
func RegisterPlugin(entry string, f PluginFactory) { Default.RegisterPlugin(entry, f) }

func (r *Registry) RegisterAgent(entry string, f AgentFactory) {
	mustValid(entry, f == nil)
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, dup := r.agents[entry]; dup {
		panic(fmt.Errorf("%w: agent %q", ErrDuplicate, entry))
	}
	r.agents[entry] = f
}

func (r *Registry) RegisterPlugin(entry string, f PluginFactory) {
	mustValid(entry, f == nil)
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, dup := r.plugins[entry]; dup {
		panic(fmt.Errorf("%w: plugin %q", ErrDuplicate, entry))
	}
	r.plugins[entry] = f
}

func mustValid(entry string, nilFactory bool) {
	if !validEntryName.MatchString(entry) {
		panic(fmt.Sprintf("agent: invalid entry name %q", entry))
	}
	if nilFactory {
		panic(fmt.Sprintf("agent: nil factory for %q", entry))
	}
}

func (r *Registry) agentFactory(entry string) (AgentFactory, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	f, ok := r.agents[entry]
	return f, ok
}

func (r *Registry) pluginFactory(entry string) (PluginFactory, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	f, ok := r.plugins[entry]
	return f, ok
}

// Agents returns the registered agent entry names, sorted.
func (r *Registry) Agents() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return sortedKeys(r.agents)
}

func (r *Registry) Plugins() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return sortedKeys(r.plugins)
}

func sortedKeys[V any](m map[string]V) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
