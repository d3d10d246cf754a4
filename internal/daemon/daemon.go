// Package daemon wires every IGED component together and owns the process
// lifecycle: single-instance lock, ordered start, signal handling and
// ordered shutdown.
package daemon

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/iged-project/iged/internal/admin"
	"github.com/iged-project/iged/internal/agent"
	"github.com/iged-project/iged/internal/events"
	"github.com/iged-project/iged/internal/history"
	"github.com/iged-project/iged/internal/lock"
	"github.com/iged-project/iged/internal/memory"
	"github.com/iged-project/iged/internal/model"
	"github.com/iged-project/iged/internal/notify"
	"github.com/iged-project/iged/internal/orchestrator"
	"github.com/iged-project/iged/internal/parser"
	"github.com/iged-project/iged/internal/repl"
	"github.com/iged-project/iged/internal/secret"
	"github.com/iged-project/iged/internal/voice"
	"github.com/iged-project/iged/internal/watchdog"
)

const (
	JournalFile   = "events.jsonl"
	busBufferSize = 256
)

type Options struct {
	Version string
	// Interactive runs the command console on In/Out; leaving it ends the
	// daemon.
	Interactive bool
	In          io.Reader
	Out         io.Writer
	// Registry defaults to agent.Default.
	Registry *agent.Registry
}

// Daemon is the running IGED process.
type Daemon struct {
	cfg  model.Config
	opts Options
	log  zerolog.Logger

	fileLock *lock.FileLock
	metrics  *prometheus.Registry
	bus      *events.Bus
	journal  *events.Journal
	detach   func()
	memory   *memory.Engine
	history  *history.Store
	orch     *orchestrator.Orchestrator
	voice    *voice.Pipeline
	watchdog *watchdog.Watchdog
	admin    *admin.Server

	ready    chan struct{}
	shutdown sync.Once
	exit     func(code int)
}

// New prepares a daemon for cfg. Nothing is opened until Run.
func New(cfg model.Config, log zerolog.Logger, opts Options) *Daemon {
	return &Daemon{
		cfg:      cfg,
		opts:     opts,
		log:      log.With().Str("component", "daemon").Logger(),
		fileLock: lock.NewFileLock(cfg.LockFile()),
		ready:    make(chan struct{}),
		exit:     os.Exit,
	}
}

// Run starts every component and blocks until ctx is cancelled, a signal
// arrives, the console is closed or a server fails.
func (d *Daemon) Run(ctx context.Context) error {
	if err := d.fileLock.TryLock(); err != nil {
		return fmt.Errorf("daemon lock: %w", err)
	}
	d.log.Info().Int("pid", os.Getpid()).Str("data_dir", d.cfg.DataDir).Msg("daemon starting")

	if err := d.init(); err != nil {
		d.Shutdown()
		return err
	}

	ctx, stopSignals := d.watchSignals(ctx)
	defer stopSignals()
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	// the worker outlives ctx so Shutdown can drain it in order
	if err := d.orch.Start(context.WithoutCancel(ctx)); err != nil {
		d.Shutdown()
		return fmt.Errorf("start orchestrator: %w", err)
	}
	if err := d.voice.Start(ctx); err != nil {
		d.log.Warn().Err(err).Msg("voice inbox unavailable, continuing without it")
	}
	if d.watchdog != nil {
		d.watchdog.Start(ctx)
	}

	g, gctx := errgroup.WithContext(ctx)
	if d.admin != nil {
		g.Go(func() error { return d.admin.Run(gctx, d.cfg.ShutdownTimeout()) })
	}
	if d.opts.Interactive {
		console := repl.New(repl.Deps{Processor: d.voice, Orchestrator: d.orch}, repl.Options{
			In:          d.opts.In,
			Out:         d.opts.Out,
			HistoryFile: filepath.Join(d.cfg.DataDir, ".iged_history"),
		})
		g.Go(func() error {
			defer cancel()
			return console.Run(gctx)
		})
	}
	g.Go(func() error {
		<-gctx.Done()
		return nil
	})
	d.log.Info().Bool("admin", d.admin != nil).Bool("interactive", d.opts.Interactive).Msg("daemon ready")
	close(d.ready)

	err := g.Wait()
	d.Shutdown()
	return err
}

// init opens components in dependency order: key, memory, history, loader,
// orchestrator, voice, watchdog, admin.
func (d *Daemon) init() error {
	cfg := d.cfg
	for _, dir := range []string{cfg.DataDir, cfg.LogsDir(), cfg.ExportsDir(), cfg.OutputDir} {
		if dir == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return fmt.Errorf("ensure dir %s: %w", dir, err)
		}
	}

	d.metrics = prometheus.NewRegistry()
	d.metrics.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	d.bus = events.NewBus(busBufferSize, d.log)
	journal, err := events.NewJournal(filepath.Join(cfg.LogsDir(), JournalFile), 0, 0)
	if err != nil {
		return fmt.Errorf("open event journal: %w", err)
	}
	d.journal = journal
	d.detach = journal.Attach(d.bus, func(err error) {
		d.log.Warn().Err(err).Msg("event journal write failed")
	})

	d.memory, err = OpenMemory(cfg, d.log)
	if err != nil {
		return err
	}

	d.history, err = history.Open(cfg.Orchestrator.HistoryDB)
	if err != nil {
		return fmt.Errorf("open task history: %w", err)
	}

	loader := agent.NewLoader(d.opts.Registry, agent.Env{
		OutputDir: cfg.OutputDir,
		Config:    cfg.Agents,
		Logger:    d.log,
	})
	report, err := loader.Load(cfg.AgentsDir, cfg.PluginsDir)
	if err != nil {
		return fmt.Errorf("load agents: %w", err)
	}
	for _, f := range report.Failures {
		d.log.Warn().Str("kind", f.Kind).Str("name", f.Name).Err(f.Err).Msg("load failed")
	}

	d.orch = orchestrator.New(orchestrator.Deps{
		Agents:       report.Agents,
		Plugins:      report.Plugins,
		LoadFailures: report.Failures,
		Logger:       d.log,
		Bus:          d.bus,
		Metrics:      orchestrator.MustNewMetrics(d.metrics),
		History:      d.history,
		Memory:       d.memory,
	}, orchestrator.OptionsFromConfig(cfg))

	d.voice = voice.New(voice.Deps{
		Parser:    parser.New(),
		Submitter: d.orch,
		Memory:    d.memory,
		Bus:       d.bus,
		Logger:    d.log,
	}, cfg.Voice.InboxDir, cfg.Voice.Enabled)

	if cfg.Watchdog.Enabled {
		deps := watchdog.Deps{
			Orchestrator: d.orch,
			Memory:       d.memory,
			Bus:          d.bus,
			Logger:       d.log,
		}
		if cfg.Watchdog.DesktopNotify {
			deps.Notifier = notify.NewDesktop()
		}
		d.watchdog, err = watchdog.New(deps, watchdog.OptionsFromConfig(cfg))
		if err != nil {
			return err
		}
	}

	if cfg.Admin.Enabled {
		deps := admin.Deps{
			Orchestrator: d.orch,
			Memory:       d.memory,
			Voice:        d.voice,
			Events:       d.bus,
			Gatherer:     d.metrics,
			Logger:       d.log,
		}
		if d.watchdog != nil {
			deps.Watchdog = d.watchdog
		}
		d.admin = admin.New(deps, admin.Options{
			Addr:       cfg.Admin.Addr,
			ExportsDir: cfg.ExportsDir(),
			Version:    d.opts.Version,
		})
	}
	return nil
}

// OpenMemory loads the memory key named by cfg and opens the encrypted log.
// A key that cannot be loaded is fatal; the log is never opened unencrypted.
func OpenMemory(cfg model.Config, log zerolog.Logger) (*memory.Engine, error) {
	pass := ""
	if cfg.Memory.PassphraseEnv != "" {
		pass = os.Getenv(cfg.Memory.PassphraseEnv)
	}
	key, err := secret.LoadOrCreateKey(secret.KeyOptions{
		Source:     cfg.Memory.KeySource,
		KeyFile:    cfg.Memory.KeyFile,
		Passphrase: pass,
	})
	if err != nil {
		return nil, fmt.Errorf("load memory key: %w", err)
	}
	cipher, err := secret.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("init cipher: %w", err)
	}
	mem, err := memory.Open(cfg.Memory.File, cipher, memory.Options{
		AllowPlaintextLegacy: cfg.Memory.AllowPlaintextLegacy,
		Logger:               log,
	})
	if err != nil {
		return nil, fmt.Errorf("open memory: %w", err)
	}
	return mem, nil
}

// watchSignals cancels the returned context on the first SIGINT or SIGTERM.
// A second signal exits immediately.
func (d *Daemon) watchSignals(parent context.Context) (context.Context, func()) {
	ctx, cancel := context.WithCancel(parent)
	sigCh := make(chan os.Signal, 2)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)
	stopped := make(chan struct{})

	go func() {
		select {
		case sig := <-sigCh:
			d.log.Info().Str("signal", sig.String()).Msg("initiating graceful shutdown")
			cancel()
		case <-stopped:
			return
		}
		select {
		case <-sigCh:
			d.log.Warn().Msg("received second signal, forcing exit")
			d.exit(1)
		case <-stopped:
		}
	}()

	var once sync.Once
	return ctx, func() {
		once.Do(func() {
			signal.Stop(sigCh)
			close(stopped)
			cancel()
		})
	}
}

// Shutdown stops producers first, then the worker, then storage, and finally
// releases the lock. Safe to call more than once.
func (d *Daemon) Shutdown() {
	d.shutdown.Do(func() {
		d.log.Info().Msg("shutdown started")
		timeout := d.cfg.ShutdownTimeout()
		stopCtx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()

		if d.voice != nil {
			d.voice.Stop()
		}
		if d.watchdog != nil {
			d.watchdog.Stop()
		}
		// the worker must be gone before storage closes and the lock is released
		if d.orch != nil {
			d.orch.StopContext(stopCtx)
		}
		if stopCtx.Err() != nil {
			d.log.Warn().Dur("timeout", timeout).Msg("shutdown deadline reached, in-flight task abandoned")
		}

		if d.detach != nil {
			d.detach()
		}
		if d.bus != nil {
			d.bus.Close()
		}
		var errs []error
		if d.journal != nil {
			errs = append(errs, d.journal.Close())
		}
		if d.history != nil {
			errs = append(errs, d.history.Close())
		}
		if err := errors.Join(errs...); err != nil {
			d.log.Error().Err(err).Msg("close storage")
		}
		if err := d.fileLock.Unlock(); err != nil {
			d.log.Warn().Err(err).Msg("release lock")
		}
		d.log.Info().Msg("daemon stopped")
	})
}

// Ready is closed once every component has started.
func (d *Daemon) Ready() <-chan struct{} { return d.ready }

// Orchestrator, Memory and Metrics are valid after Ready is closed.
func (d *Daemon) Orchestrator() *orchestrator.Orchestrator { return d.orch }
func (d *Daemon) Memory() *memory.Engine                   { return d.memory }
func (d *Daemon) Metrics() prometheus.Gatherer             { return d.metrics }
