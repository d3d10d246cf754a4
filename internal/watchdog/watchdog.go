// Package watchdog runs periodic health checks over the orchestrator, the
// memory log and the host, and keeps the latest report.
package watchdog

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"github.com/iged-project/iged/internal/events"
	"github.com/iged-project/iged/internal/memory"
	"github.com/iged-project/iged/internal/model"
	"github.com/iged-project/iged/internal/orchestrator"
	"github.com/iged-project/iged/internal/sysinfo"
)

type Severity string

const (
	SeverityOK       Severity = "ok"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

var severityRank = map[Severity]int{SeverityOK: 0, SeverityWarning: 1, SeverityCritical: 2}

type Check struct {
	Name     string   `json:"name"`
	Severity Severity `json:"severity"`
	Message  string   `json:"message"`
	Value    float64  `json:"value"`
}

type Report struct {
	Time     time.Time `json:"time"`
	Status   Severity  `json:"status"`
	Checks   []Check   `json:"checks"`
	Duration string    `json:"duration"`
}

type HealthSource interface {
	Health() orchestrator.Health
}

type StatsSource interface {
	Statistics() memory.Statistics
}

// Notifier is told when the overall status changes.
type Notifier interface {
	Notify(title, message string) error
}

type Deps struct {
	Orchestrator HealthSource
	Memory       StatsSource
	Bus          events.Publisher
	Notifier     Notifier
	Logger       zerolog.Logger
}

type Options struct {
	Schedule      string
	DiskPath      string
	MinFreeDiskMB uint64
	MaxHeapMB     uint64
	MinSuccessPct float64
}

// OptionsFromConfig maps the watchdog config section; disk checks target the
// data directory.
func OptionsFromConfig(cfg model.Config) Options {
	return Options{
		Schedule:      cfg.Watchdog.Schedule,
		DiskPath:      cfg.DataDir,
		MinFreeDiskMB: cfg.Watchdog.MinFreeDiskMB,
		MaxHeapMB:     cfg.Watchdog.MaxHeapMB,
		MinSuccessPct: cfg.Watchdog.MinSuccessPct,
	}
}

type Watchdog struct {
	deps Deps
	opts Options
	log  zerolog.Logger
	cron *cron.Cron

	disk    func(string) (sysinfo.DiskUsage, error)
	runtime func() sysinfo.RuntimeStats
	now     func() time.Time

	mu     sync.RWMutex
	latest *Report

	stopOnce sync.Once
}

// specParser accepts standard five-field specs and descriptors such as
// "@every 30s".
var specParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// New validates the schedule and registers the check job. Nothing runs until
// Start.
func New(deps Deps, opts Options) (*Watchdog, error) {
	if opts.Schedule == "" {
		opts.Schedule = "@every 30s"
	}
	if opts.DiskPath == "" {
		opts.DiskPath = "."
	}
	w := &Watchdog{
		deps:    deps,
		opts:    opts,
		log:     deps.Logger.With().Str("component", "watchdog").Logger(),
		disk:    sysinfo.Disk,
		runtime: sysinfo.Runtime,
		now:     time.Now,
	}
	w.cron = cron.New(
		cron.WithParser(specParser),
		cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)),
	)
	if _, err := w.cron.AddFunc(opts.Schedule, func() { w.RunOnce() }); err != nil {
		return nil, fmt.Errorf("watchdog schedule %q: %w", opts.Schedule, err)
	}
	return w, nil
}

// Start runs one check immediately, then follows the schedule until ctx is
// cancelled or Stop is called.
func (w *Watchdog) Start(ctx context.Context) {
	w.RunOnce()
	w.cron.Start()
	w.log.Info().Str("schedule", w.opts.Schedule).Msg("watchdog started")
	go func() {
		<-ctx.Done()
		w.Stop()
	}()
}

// Stop waits for a running check to finish. Safe to call more than once.
func (w *Watchdog) Stop() {
	w.stopOnce.Do(func() {
		<-w.cron.Stop().Done()
		w.log.Info().Msg("watchdog stopped")
	})
}

// Latest returns the most recent report, if any check has run.
func (w *Watchdog) Latest() (Report, bool) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	if w.latest == nil {
		return Report{}, false
	}
	r := *w.latest
	r.Checks = append([]Check(nil), w.latest.Checks...)
	return r, true
}

// RunOnce performs every check, stores and returns the report.
func (w *Watchdog) RunOnce() Report {
	start := w.now()
	var checks []Check
	if w.deps.Orchestrator != nil {
		checks = append(checks, w.checkComponents())
	}
	checks = append(checks, w.checkHeap(), w.checkDisk())
	if w.deps.Memory != nil {
		checks = append(checks, w.checkSuccessRate())
	}

	r := Report{Time: start, Status: SeverityOK, Checks: checks}
	for _, c := range checks {
		if severityRank[c.Severity] > severityRank[r.Status] {
			r.Status = c.Severity
		}
		switch c.Severity {
		case SeverityWarning:
			w.log.Warn().Str("check", c.Name).Float64("value", c.Value).Msg(c.Message)
		case SeverityCritical:
			w.log.Error().Str("check", c.Name).Float64("value", c.Value).Msg(c.Message)
		}
	}
	r.Duration = w.now().Sub(start).String()

	w.mu.Lock()
	prev := SeverityOK
	if w.latest != nil {
		prev = w.latest.Status
	}
	w.latest = &r
	w.mu.Unlock()

	if r.Status != prev {
		w.notify(r)
	}

	if w.deps.Bus != nil {
		failing := []string{}
		for _, c := range checks {
			if c.Severity != SeverityOK {
				failing = append(failing, c.Name)
			}
		}
		w.deps.Bus.Publish(events.EventWatchdog, map[string]any{"status": string(r.Status), "failing": failing})
	}
	w.log.Debug().Str("status", string(r.Status)).Msg("watchdog report")
	return r
}

func (w *Watchdog) notify(r Report) {
	if w.deps.Notifier == nil {
		return
	}
	msg := "all checks passing"
	var parts []string
	for _, c := range r.Checks {
		if c.Severity != SeverityOK {
			parts = append(parts, c.Message)
		}
	}
	if len(parts) > 0 {
		msg = strings.Join(parts, "; ")
	}
	if err := w.deps.Notifier.Notify("IGED watchdog: "+string(r.Status), msg); err != nil {
		w.log.Debug().Err(err).Msg("desktop notification failed")
	}
}

func (w *Watchdog) checkComponents() Check {
	h := w.deps.Orchestrator.Health()
	c := Check{Name: "components", Value: h.HealthPct}
	switch h.Status {
	case model.HealthExcellent, model.HealthGood:
		c.Severity = SeverityOK
		c.Message = fmt.Sprintf("component health %s (%.0f%%)", h.Status, h.HealthPct)
	case model.HealthWarning:
		c.Severity = SeverityWarning
		c.Message = fmt.Sprintf("component health degraded: %.0f%% of agents loaded", h.HealthPct)
	default:
		c.Severity = SeverityCritical
		c.Message = fmt.Sprintf("component health critical: %.0f%% of agents loaded", h.HealthPct)
	}
	if !h.Running && c.Severity == SeverityOK {
		c.Severity = SeverityWarning
		c.Message = "orchestrator worker is not running"
	}
	return c
}

func (w *Watchdog) checkHeap() Check {
	rt := w.runtime()
	heap := rt.HeapMB()
	c := Check{Name: "heap", Value: float64(heap), Severity: SeverityOK,
		Message: fmt.Sprintf("heap %d MB, %d goroutines", heap, rt.Goroutines)}
	if w.opts.MaxHeapMB > 0 && heap > w.opts.MaxHeapMB {
		c.Severity = SeverityWarning
		c.Message = fmt.Sprintf("high heap usage: %d MB exceeds %d MB", heap, w.opts.MaxHeapMB)
	}
	return c
}

func (w *Watchdog) checkDisk() Check {
	d, err := w.disk(w.opts.DiskPath)
	if err != nil {
		return Check{Name: "disk", Severity: SeverityWarning, Message: err.Error()}
	}
	free := d.FreeMB()
	c := Check{Name: "disk", Value: float64(free), Severity: SeverityOK,
		Message: fmt.Sprintf("%d MB free (%.1f%% used)", free, d.UsedPct)}
	switch {
	case w.opts.MinFreeDiskMB > 0 && free < w.opts.MinFreeDiskMB:
		c.Severity = SeverityCritical
		c.Message = fmt.Sprintf("low disk space: %d MB free, need %d MB", free, w.opts.MinFreeDiskMB)
	case d.UsedPct > 95:
		c.Severity = SeverityWarning
		c.Message = fmt.Sprintf("disk almost full: %.1f%% used", d.UsedPct)
	}
	return c
}

func (w *Watchdog) checkSuccessRate() Check {
	st := w.deps.Memory.Statistics()
	c := Check{Name: "success_rate", Value: st.SuccessRate, Severity: SeverityOK}
	if st.TotalEntries == 0 {
		c.Message = "no recorded tasks yet"
		return c
	}
	c.Message = fmt.Sprintf("%.1f%% of %d recorded tasks succeeded", st.SuccessRate, st.TotalEntries)
	if st.SuccessRate < w.opts.MinSuccessPct {
		c.Severity = SeverityWarning
		c.Message = fmt.Sprintf("low success rate: %.1f%% below %.0f%%", st.SuccessRate, w.opts.MinSuccessPct)
	}
	return c
}
