package agent

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubAgent struct{ name string }

func (s stubAgent) Name() string { return s.name }
func (s stubAgent) Run(context.Context, Request) (Result, error) {
	return Result{Success: true, Output: s.name}, nil
}

type stubPlugin struct{ name string }

func (s stubPlugin) Name() string { return s.name }
func (s stubPlugin) Execute(_ context.Context, in string) (string, error) {
	return s.name + ":" + in, nil
}

func testRegistry() *Registry {
	reg := NewRegistry()
	reg.RegisterAgent("stub", func(Env) (Agent, error) { return stubAgent{name: "stub"}, nil })
	reg.RegisterAgent("broken", func(Env) (Agent, error) { return nil, errors.New("boom") })
	reg.RegisterAgent("panicky", func(Env) (Agent, error) { panic("bad init") })
	reg.RegisterPlugin("echo", func(Env) (Plugin, error) { return stubPlugin{name: "echo"}, nil })
	return reg
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func TestLoadAgents(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "alpha", ManifestFile), "entry: stub\ndescription: first\n")
	writeFile(t, filepath.Join(dir, "bravo", ManifestFile), "entry: stub\n")
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "no_entry"), 0o755))
	writeFile(t, filepath.Join(dir, "empty_entry", ManifestFile), "description: x\n")
	writeFile(t, filepath.Join(dir, "unknown", ManifestFile), "entry: ghost\n")
	writeFile(t, filepath.Join(dir, "factory_err", ManifestFile), "entry: broken\n")
	writeFile(t, filepath.Join(dir, "factory_panic", ManifestFile), "entry: panicky\n")
	writeFile(t, filepath.Join(dir, "off", ManifestFile), "entry: stub\nenabled: false\n")
	writeFile(t, filepath.Join(dir, "_template", ManifestFile), "entry: stub\n")
	writeFile(t, filepath.Join(dir, "README.md"), "not a dir")

	l := NewLoader(testRegistry(), Env{Logger: zerolog.Nop()})
	handles, failures, err := l.LoadAgents(dir)
	require.NoError(t, err)

	require.Len(t, handles, 2)
	assert.Equal(t, "alpha", handles[0].Name)
	assert.Equal(t, "first", handles[0].Description)
	assert.Equal(t, "bravo", handles[1].Name)

	byName := map[string]error{}
	for _, f := range failures {
		assert.Equal(t, "agent", f.Kind)
		byName[f.Name] = f.Err
	}
	require.Len(t, byName, 5)
	assert.ErrorIs(t, byName["no_entry"], ErrNoEntryPoint)
	assert.ErrorIs(t, byName["empty_entry"], ErrNoEntryPoint)
	assert.ErrorIs(t, byName["unknown"], ErrUnknownEntry)
	assert.ErrorContains(t, byName["factory_err"], "boom")
	assert.ErrorContains(t, byName["factory_panic"], "panicked")
}

func TestLoad_ManifestNameOverridesDirectory(t *testing.T) {
	agents := t.TempDir()
	writeFile(t, filepath.Join(agents, "a_dir", ManifestFile), "entry: stub\nname: secops\n")
	writeFile(t, filepath.Join(agents, "b_dir", ManifestFile), "entry: stub\nname: secops\n")
	plugins := t.TempDir()
	writeFile(t, filepath.Join(plugins, "hello-v2.yaml"), "entry: echo\nname: hello_world\n")

	l := NewLoader(testRegistry(), Env{Logger: zerolog.Nop()})
	rep, err := l.Load(agents, plugins)
	require.NoError(t, err)

	require.Len(t, rep.Agents, 1)
	assert.Equal(t, "secops", rep.Agents[0].Name)
	require.Len(t, rep.Failures, 1)
	assert.Equal(t, "b_dir", rep.Failures[0].Name)
	assert.ErrorIs(t, rep.Failures[0].Err, ErrDuplicateName)

	require.Len(t, rep.Plugins, 1)
	assert.Equal(t, "hello_world", rep.Plugins[0].Name)
}

func TestLoadPlugins(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "echo.yaml"), "entry: echo\n")
	writeFile(t, filepath.Join(dir, "other.yml"), "entry: echo\n")
	writeFile(t, filepath.Join(dir, "missing.yaml"), "entry: nope\n")
	writeFile(t, filepath.Join(dir, "bad.yaml"), "entry: [unterminated\n")
	writeFile(t, filepath.Join(dir, "notes.txt"), "ignored")
	writeFile(t, filepath.Join(dir, "_draft.yaml"), "entry: echo\n")

	l := NewLoader(testRegistry(), Env{Logger: zerolog.Nop()})
	handles, failures, err := l.LoadPlugins(dir)
	require.NoError(t, err)

	require.Len(t, handles, 2)
	assert.Equal(t, "echo", handles[0].Name)
	assert.Equal(t, "other", handles[1].Name)
	out, err := handles[0].Plugin.Execute(context.Background(), "hi")
	require.NoError(t, err)
	assert.Equal(t, "echo:hi", out)

	require.Len(t, failures, 2)
	assert.Equal(t, "bad", failures[0].Name)
	assert.Equal(t, "missing", failures[1].Name)
	assert.ErrorIs(t, failures[1], ErrUnknownEntry)
}

func TestLoad_MissingDirectories(t *testing.T) {
	l := NewLoader(testRegistry(), Env{Logger: zerolog.Nop()})
	rep, err := l.Load(filepath.Join(t.TempDir(), "none"), filepath.Join(t.TempDir(), "none"))
	require.NoError(t, err)
	assert.Empty(t, rep.Agents)
	assert.Empty(t, rep.Plugins)
	assert.Empty(t, rep.Failures)
}

func TestWriteManifest_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "secops", ManifestFile)
	require.NoError(t, WriteManifest(path, Manifest{Entry: "stub", Description: "d"}))

	m, err := readManifest(path)
	require.NoError(t, err)
	assert.Equal(t, "stub", m.Entry)
	assert.True(t, m.enabled())
}
