package daemon

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iged-project/iged/internal/agent"
	"github.com/iged-project/iged/internal/lock"
	"github.com/iged-project/iged/internal/model"
)

type echoAgent struct{}

func (echoAgent) Name() string { return "echo" }
func (echoAgent) Run(_ context.Context, req agent.Request) (agent.Result, error) {
	return agent.Result{Success: true, Output: "echo: " + req.Command}, nil
}

func testConfig(t *testing.T) model.Config {
	t.Helper()
	cfg := model.DefaultConfig()
	cfg.DataDir = t.TempDir()
	cfg.Admin.Addr = "127.0.0.1:0"
	cfg.Watchdog.Schedule = "@every 1h"
	cfg.Daemon.ShutdownTimeoutSec = 5
	cfg = cfg.Resolve()

	require.NoError(t, agent.WriteManifest(filepath.Join(cfg.AgentsDir, "secops", agent.ManifestFile),
		agent.Manifest{Entry: "echo"}))
	require.NoError(t, agent.WriteManifest(filepath.Join(cfg.AgentsDir, "broken", agent.ManifestFile),
		agent.Manifest{Entry: "missing"}))
	return cfg
}

func testRegistry() *agent.Registry {
	reg := agent.NewRegistry()
	reg.RegisterAgent("echo", func(agent.Env) (agent.Agent, error) { return echoAgent{}, nil })
	return reg
}

// blockAgent holds every task until its context is cancelled.
type blockAgent struct{ started chan<- string }

func (blockAgent) Name() string { return "block" }
func (a blockAgent) Run(ctx context.Context, req agent.Request) (agent.Result, error) {
	a.started <- req.TaskID
	<-ctx.Done()
	return agent.Result{}, ctx.Err()
}

func startDaemon(t *testing.T, cfg model.Config) (*Daemon, context.CancelFunc, <-chan error) {
	t.Helper()
	return startDaemonWith(t, cfg, testRegistry())
}

func startDaemonWith(t *testing.T, cfg model.Config, reg *agent.Registry) (*Daemon, context.CancelFunc, <-chan error) {
	t.Helper()
	d := New(cfg, zerolog.Nop(), Options{Version: "test", Registry: reg})
	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- d.Run(ctx) }()
	select {
	case <-d.Ready():
	case err := <-errCh:
		cancel()
		t.Fatalf("daemon exited early: %v", err)
	case <-time.After(5 * time.Second):
		cancel()
		t.Fatal("daemon not ready")
	}
	return d, cancel, errCh
}

func waitStopped(t *testing.T, errCh <-chan error) {
	t.Helper()
	select {
	case err := <-errCh:
		require.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("daemon did not stop")
	}
}

func TestRun_ProcessesTasksAndShutsDownCleanly(t *testing.T) {
	cfg := testConfig(t)
	d, cancel, errCh := startDaemon(t, cfg)

	pid, err := lock.ReadPID(cfg.LockFile())
	require.NoError(t, err)
	assert.Equal(t, os.Getpid(), pid)

	orch := d.Orchestrator()
	assert.Equal(t, []string{"secops"}, orch.AvailableAgents())
	require.Len(t, orch.LoadFailures(), 1)
	assert.Equal(t, "broken", orch.LoadFailures()[0].Name)

	id, err := orch.Submit(model.TaskInput{Type: "security", Command: "scan 10.0.0.5 for vulnerabilities"})
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		task, err := orch.Task(id)
		return err == nil && task.Status == model.TaskStatusCompleted
	}, 5*time.Second, 20*time.Millisecond)

	mfs, err := d.Metrics().Gather()
	require.NoError(t, err)
	assert.NotEmpty(t, mfs)

	cancel()
	waitStopped(t, errCh)

	_, err = os.Stat(cfg.LockFile())
	assert.True(t, os.IsNotExist(err), "lock file released")
	_, err = os.Stat(filepath.Join(cfg.LogsDir(), JournalFile))
	assert.NoError(t, err, "event journal written")

	var shutdown bool
	for _, e := range d.Memory().Recent(10) {
		if e.Command == "system_shutdown" {
			shutdown = true
		}
	}
	assert.True(t, shutdown, "shutdown summary recorded")
}

func TestShutdown_AbandonsInFlightTaskBeforeReleasingLock(t *testing.T) {
	cfg := testConfig(t)
	cfg.Orchestrator.TaskTimeoutSec = 60
	cfg.Daemon.ShutdownTimeoutSec = 1
	require.NoError(t, agent.WriteManifest(filepath.Join(cfg.AgentsDir, "remote_control", agent.ManifestFile),
		agent.Manifest{Entry: "block"}))

	started := make(chan string, 1)
	reg := testRegistry()
	reg.RegisterAgent("block", func(agent.Env) (agent.Agent, error) { return blockAgent{started: started}, nil })
	d, cancel, errCh := startDaemonWith(t, cfg, reg)
	orch := d.Orchestrator()

	slow, err := orch.Submit(model.TaskInput{Type: "remote", Command: "hang"})
	require.NoError(t, err)
	select {
	case <-started:
	case <-time.After(5 * time.Second):
		t.Fatal("blocking agent never started")
	}
	queued, err := orch.Submit(model.TaskInput{Type: "security", Command: "scan"})
	require.NoError(t, err)

	begin := time.Now()
	cancel()
	waitStopped(t, errCh)
	assert.Less(t, time.Since(begin), 5*time.Second)

	for _, id := range []string{slow, queued} {
		task, err := orch.Task(id)
		require.NoError(t, err)
		assert.Equal(t, model.TaskStatusError, task.Status, "task %s", id)
		assert.True(t, task.Retryable)
	}

	// nothing writes the memory log once the lock is free
	fl := lock.NewFileLock(cfg.LockFile())
	require.NoError(t, fl.TryLock())
	defer fl.Unlock()
	n := d.Memory().Len()
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, n, d.Memory().Len())

	var commands []string
	for _, e := range d.Memory().Recent(10) {
		commands = append(commands, e.Command)
	}
	assert.Contains(t, commands, "system_shutdown")
	assert.Contains(t, commands, "hang")
}

func TestRun_SecondInstanceIsRejected(t *testing.T) {
	cfg := testConfig(t)
	_, cancel, errCh := startDaemon(t, cfg)
	defer func() {
		cancel()
		waitStopped(t, errCh)
	}()

	second := New(cfg, zerolog.Nop(), Options{Registry: testRegistry()})
	err := second.Run(context.Background())
	assert.ErrorIs(t, err, lock.ErrLocked)
}

func TestRun_InitFailureReleasesLock(t *testing.T) {
	cfg := testConfig(t)
	cfg.Watchdog.Schedule = "not a schedule"

	d := New(cfg, zerolog.Nop(), Options{Registry: testRegistry()})
	err := d.Run(context.Background())
	require.Error(t, err)

	_, statErr := os.Stat(cfg.LockFile())
	assert.True(t, os.IsNotExist(statErr))
}

func TestRun_ConsoleQuitStopsDaemon(t *testing.T) {
	cfg := testConfig(t)
	cfg.Admin.Enabled = false
	d := New(cfg, zerolog.Nop(), Options{
		Registry:    testRegistry(),
		Interactive: true,
		In:          strings.NewReader("status\nquit\n"),
		Out:         io.Discard,
	})
	errCh := make(chan error, 1)
	go func() { errCh <- d.Run(context.Background()) }()
	waitStopped(t, errCh)
}
