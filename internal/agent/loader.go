package agent

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"
)

const ManifestFile = "agent.yaml"

var (
	// ErrNoEntryPoint means a candidate has no manifest or an empty entry.
	ErrNoEntryPoint = errors.New("no entry point")
	// ErrUnknownEntry means the manifest names an entry nobody registered.
	ErrUnknownEntry = errors.New("entry not registered")
	// ErrDuplicateName means an earlier candidate already took the name.
	ErrDuplicateName = errors.New("name already loaded")
)

// Manifest describes one agent directory or plugin file.
type Manifest struct {
	Entry string `yaml:"entry"`
	// Name overrides the directory or file stem as the handle name.
	Name        string `yaml:"name,omitempty"`
	Description string `yaml:"description,omitempty"`
	Enabled     *bool  `yaml:"enabled,omitempty"`
}

func (m Manifest) enabled() bool { return m.Enabled == nil || *m.Enabled }

func (m Manifest) handleName(fallback string) string {
	if m.Name != "" {
		return m.Name
	}
	return fallback
}

// LoadFailure records why one candidate could not be loaded.
type LoadFailure struct {
	Name string `json:"name"`
	Kind string `json:"kind"` // agent | plugin
	Err  error  `json:"-"`
}

func (f LoadFailure) Error() string {
	return fmt.Sprintf("%s %q: %v", f.Kind, f.Name, f.Err)
}

func (f LoadFailure) Unwrap() error { return f.Err }

// Report is the outcome of a directory scan.
type Report struct {
	Agents   []AgentHandle
	Plugins  []PluginHandle
	Failures []LoadFailure
}

type Loader struct {
	reg *Registry
	env Env
	log zerolog.Logger
}

func NewLoader(reg *Registry, env Env) *Loader {
	if reg == nil {
		reg = Default
	}
	return &Loader{
		reg: reg,
		env: env,
		log: env.Logger.With().Str("component", "loader").Logger(),
	}
}

// Load scans both directories. A missing directory yields no candidates.
func (l *Loader) Load(agentsDir, pluginsDir string) (Report, error) {
	var rep Report
	agents, failures, err := l.LoadAgents(agentsDir)
	if err != nil {
		return rep, err
	}
	rep.Agents = agents
	rep.Failures = append(rep.Failures, failures...)

	plugins, failures, err := l.LoadPlugins(pluginsDir)
	if err != nil {
		return rep, err
	}
	rep.Plugins = plugins
	rep.Failures = append(rep.Failures, failures...)
	return rep, nil
}

// LoadAgents treats every visible subdirectory of dir as an agent candidate.
// One bad candidate never stops the scan.
func (l *Loader) LoadAgents(dir string) ([]AgentHandle, []LoadFailure, error) {
	entries, err := readDir(dir)
	if err != nil {
		return nil, nil, err
	}
	var (
		handles  []AgentHandle
		failures []LoadFailure
		seen     = map[string]bool{}
	)
	for _, de := range entries {
		name := de.Name()
		if !de.IsDir() || skipName(name) {
			continue
		}
		h, err := l.loadAgent(filepath.Join(dir, name), name)
		if err == nil && seen[h.Name] {
			err = fmt.Errorf("%w: %q", ErrDuplicateName, h.Name)
		}
		if errors.Is(err, errDisabled) {
			l.log.Info().Str("agent", name).Msg("agent disabled by manifest")
			continue
		}
		if err != nil {
			l.log.Warn().Err(err).Str("agent", name).Msg("skipping agent")
			failures = append(failures, LoadFailure{Name: name, Kind: "agent", Err: err})
			continue
		}
		l.log.Info().Str("agent", h.Name).Str("dir", name).Msg("agent loaded")
		seen[h.Name] = true
		handles = append(handles, h)
	}
	return handles, failures, nil
}

var errDisabled = errors.New("disabled")

func (l *Loader) loadAgent(dir, name string) (AgentHandle, error) {
	m, err := readManifest(filepath.Join(dir, ManifestFile))
	if err != nil {
		return AgentHandle{}, err
	}
	if !m.enabled() {
		return AgentHandle{}, errDisabled
	}
	f, ok := l.reg.agentFactory(m.Entry)
	if !ok {
		return AgentHandle{}, fmt.Errorf("%w: %q", ErrUnknownEntry, m.Entry)
	}
	a, err := instantiate(func() (Agent, error) { return f(l.env) })
	if err != nil {
		return AgentHandle{}, err
	}
	return AgentHandle{Name: m.handleName(name), Description: m.Description, Agent: a}, nil
}

// LoadPlugins treats every visible *.yaml file directly under dir as a plugin
// manifest; the file stem is the plugin name unless the manifest sets one.
func (l *Loader) LoadPlugins(dir string) ([]PluginHandle, []LoadFailure, error) {
	entries, err := readDir(dir)
	if err != nil {
		return nil, nil, err
	}
	var (
		handles  []PluginHandle
		failures []LoadFailure
		seen     = map[string]bool{}
	)
	for _, de := range entries {
		file := de.Name()
		ext := filepath.Ext(file)
		if de.IsDir() || skipName(file) || (ext != ".yaml" && ext != ".yml") {
			continue
		}
		name := strings.TrimSuffix(file, ext)
		h, err := l.loadPlugin(filepath.Join(dir, file), name)
		if err == nil && seen[h.Name] {
			err = fmt.Errorf("%w: %q", ErrDuplicateName, h.Name)
		}
		if errors.Is(err, errDisabled) {
			l.log.Info().Str("plugin", name).Msg("plugin disabled by manifest")
			continue
		}
		if err != nil {
			l.log.Warn().Err(err).Str("plugin", name).Msg("skipping plugin")
			failures = append(failures, LoadFailure{Name: name, Kind: "plugin", Err: err})
			continue
		}
		l.log.Info().Str("plugin", h.Name).Msg("plugin loaded")
		seen[h.Name] = true
		handles = append(handles, h)
	}
	return handles, failures, nil
}

func (l *Loader) loadPlugin(path, name string) (PluginHandle, error) {
	m, err := readManifest(path)
	if err != nil {
		return PluginHandle{}, err
	}
	if !m.enabled() {
		return PluginHandle{}, errDisabled
	}
	f, ok := l.reg.pluginFactory(m.Entry)
	if !ok {
		return PluginHandle{}, fmt.Errorf("%w: %q", ErrUnknownEntry, m.Entry)
	}
	p, err := instantiate(func() (Plugin, error) { return f(l.env) })
	if err != nil {
		return PluginHandle{}, err
	}
	return PluginHandle{Name: m.handleName(name), Description: m.Description, Plugin: p}, nil
}

// instantiate runs a factory, turning panics and nil results into errors.
func instantiate[T any](f func() (T, error)) (v T, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("factory panicked: %v", r)
		}
	}()
	v, err = f()
	if err != nil {
		return v, fmt.Errorf("factory: %w", err)
	}
	if any(v) == nil {
		return v, errors.New("factory returned nil")
	}
	return v, nil
}

func readManifest(path string) (Manifest, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return Manifest{}, fmt.Errorf("%w: %s missing", ErrNoEntryPoint, filepath.Base(path))
	}
	if err != nil {
		return Manifest{}, fmt.Errorf("read manifest: %w", err)
	}
	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return Manifest{}, fmt.Errorf("parse manifest: %w", err)
	}
	m.Entry = strings.TrimSpace(m.Entry)
	if m.Entry == "" {
		return Manifest{}, fmt.Errorf("%w: manifest has no entry", ErrNoEntryPoint)
	}
	return m, nil
}

func readDir(dir string) ([]os.DirEntry, error) {
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", dir, err)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })
	return entries, nil
}

func skipName(name string) bool {
	return strings.HasPrefix(name, ".") || strings.HasPrefix(name, "_")
}

// WriteManifest writes a manifest file, used by setup to scaffold
// directories.
func WriteManifest(path string, m Manifest) error {
	data, err := yaml.Marshal(m)
	if err != nil {
		return fmt.Errorf("marshal manifest: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create manifest dir: %w", err)
	}
	return os.WriteFile(path, data, 0o644)
}
