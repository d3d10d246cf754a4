// Package orchestrator accepts tasks, routes each one to a single loaded
// agent and runs them one at a time on a dedicated worker goroutine.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/iged-project/iged/internal/agent"
	"github.com/iged-project/iged/internal/events"
	"github.com/iged-project/iged/internal/model"
	"github.com/iged-project/iged/internal/parser"
)

var (
	ErrQueueFull      = errors.New("task queue is full")
	ErrNotRunning     = errors.New("orchestrator is not running")
	ErrTaskTimeout    = errors.New("task timed out")
	ErrUnknownPlugin  = errors.New("unknown plugin")
	ErrTaskNotFound   = errors.New("task not found")
	ErrInvalidCommand = errors.New("invalid command")
	ErrAbandoned      = errors.New("task abandoned at shutdown")
)

// IsRetryable reports whether resubmitting the same work may succeed.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrTaskTimeout) || errors.Is(err, ErrQueueFull) || errors.Is(err, ErrAbandoned)
}

// Recorder is the subset of the memory engine the orchestrator writes to.
type Recorder interface {
	AddEntry(command, result, agent string, success bool, metadata map[string]any) (string, error)
}

// Archiver receives tasks evicted from the completed window.
type Archiver interface {
	Archive(ctx context.Context, t model.Task) error
	Get(ctx context.Context, id string) (model.Task, error)
}

type Deps struct {
	Agents       []agent.AgentHandle
	Plugins      []agent.PluginHandle
	LoadFailures []agent.LoadFailure
	Logger       zerolog.Logger
	Bus          events.Publisher
	Metrics      *Metrics
	History      Archiver
	Memory       Recorder
}

type Options struct {
	TaskTimeout     time.Duration
	MaxQueue        int // 0 means unbounded
	CompletedWindow int
	Now             func() time.Time
}

const (
	defaultTaskTimeout     = 60 * time.Second
	defaultCompletedWindow = 100
	defaultMaxQueue        = 1000
)

// OptionsFromConfig maps the orchestrator config section onto Options.
func OptionsFromConfig(cfg model.Config) Options {
	return Options{
		TaskTimeout:     cfg.TaskTimeout(),
		MaxQueue:        cfg.Orchestrator.MaxQueue,
		CompletedWindow: cfg.Orchestrator.CompletedWindow,
	}
}

type lifecycle int

const (
	stateNew lifecycle = iota
	stateRunning
	stateStopped
)

type Orchestrator struct {
	opts    Options
	log     zerolog.Logger
	bus     events.Publisher
	metrics *Metrics
	history Archiver
	memory  Recorder

	agents   map[string]agent.AgentHandle
	plugins  map[string]agent.PluginHandle
	failures []FailureInfo

	mu          sync.Mutex
	state       lifecycle
	startedAt   time.Time
	queue       []*model.Task
	active      map[string]*model.Task
	completed   []*model.Task
	agentStat   map[string]*model.AgentStatus
	pluginStat  map[string]*model.PluginStatus
	processed   int
	errorsCount int

	wake     chan struct{}
	stop     chan struct{}
	abort    chan struct{}
	done     chan struct{}
	stopOnce sync.Once
	taskCtx  context.Context
}

// FailureInfo is a load failure in a form that survives JSON encoding.
type FailureInfo struct {
	Name  string `json:"name"`
	Kind  string `json:"kind"`
	Error string `json:"error"`
}

func New(deps Deps, opts Options) *Orchestrator {
	if opts.TaskTimeout <= 0 {
		opts.TaskTimeout = defaultTaskTimeout
	}
	if opts.CompletedWindow <= 0 {
		opts.CompletedWindow = defaultCompletedWindow
	}
	if opts.MaxQueue < 0 {
		opts.MaxQueue = defaultMaxQueue
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	o := &Orchestrator{
		opts:       opts,
		log:        deps.Logger.With().Str("component", "orchestrator").Logger(),
		bus:        deps.Bus,
		metrics:    deps.Metrics,
		history:    deps.History,
		memory:     deps.Memory,
		agents:     make(map[string]agent.AgentHandle, len(deps.Agents)),
		plugins:    make(map[string]agent.PluginHandle, len(deps.Plugins)),
		active:     make(map[string]*model.Task),
		agentStat:  make(map[string]*model.AgentStatus, len(deps.Agents)),
		pluginStat: make(map[string]*model.PluginStatus, len(deps.Plugins)),
		wake:       make(chan struct{}, 1),
		stop:       make(chan struct{}),
		abort:      make(chan struct{}),
		done:       make(chan struct{}),
		taskCtx:    context.Background(),
	}
	for _, h := range deps.Agents {
		o.agents[h.Name] = h
		o.agentStat[h.Name] = &model.AgentStatus{Name: h.Name, Description: h.Description, Loaded: true}
	}
	for _, h := range deps.Plugins {
		o.plugins[h.Name] = h
		o.pluginStat[h.Name] = &model.PluginStatus{Name: h.Name, Description: h.Description, Loaded: true}
	}
	for _, f := range deps.LoadFailures {
		fi := FailureInfo{Name: f.Name, Kind: f.Kind}
		if f.Err != nil {
			fi.Error = f.Err.Error()
		}
		o.failures = append(o.failures, fi)
	}
	return o
}

// Start launches the worker. Tasks submitted before Start stay queued until
// it runs. Cancelling ctx lets the in-flight task finish, then stops the
// worker, fails the queue and rejects further submissions. The shutdown
// summary is only written by Stop.
func (o *Orchestrator) Start(ctx context.Context) error {
	o.mu.Lock()
	switch o.state {
	case stateRunning:
		o.mu.Unlock()
		return errors.New("orchestrator already started")
	case stateStopped:
		o.mu.Unlock()
		return ErrNotRunning
	}
	o.state = stateRunning
	o.startedAt = o.opts.Now()
	// agents run to their own deadline even when the caller's ctx is cancelled
	o.taskCtx = context.WithoutCancel(ctx)
	pending := len(o.queue)
	o.mu.Unlock()

	o.announceLoaded()
	if pending > 0 {
		o.signal()
	}

	go o.worker(ctx)
	o.log.Info().
		Int("agents", len(o.agents)).
		Int("plugins", len(o.plugins)).
		Int("load_failures", len(o.failures)).
		Dur("task_timeout", o.opts.TaskTimeout).
		Msg("orchestrator started")
	return nil
}

func (o *Orchestrator) announceLoaded() {
	for _, name := range o.AvailableAgents() {
		o.publish(events.EventAgentLoaded, map[string]any{"agent": name})
	}
	for _, name := range o.AvailablePlugins() {
		o.publish(events.EventPluginLoaded, map[string]any{"plugin": name})
	}
	for _, f := range o.failures {
		o.publish(events.EventLoadFailed, map[string]any{"name": f.Name, "kind": f.Kind, "error": f.Error})
	}
}

// Stop ends the worker after its in-flight task (bounded by the task
// timeout), fails whatever is still queued and writes a shutdown summary to
// memory. Calling Stop more than once is safe.
func (o *Orchestrator) Stop() {
	o.StopContext(context.Background())
}

// StopContext is Stop with a deadline for the in-flight task. When ctx is
// done first the task is abandoned with ErrAbandoned. Either way the worker
// has exited and the summary is written when StopContext returns.
func (o *Orchestrator) StopContext(ctx context.Context) {
	o.stopOnce.Do(func() {
		o.mu.Lock()
		started := o.state != stateNew
		o.state = stateStopped
		o.mu.Unlock()

		close(o.stop)
		if started {
			select {
			case <-o.done:
			case <-ctx.Done():
				o.log.Warn().Msg("stop deadline reached, abandoning in-flight task")
				close(o.abort)
				<-o.done
			}
		}
		o.abandonQueued()

		st := o.Status()
		o.log.Info().
			Int("tasks_processed", st.Statistics.TasksProcessed).
			Int("errors", st.Statistics.ErrorsEncountered).
			Msg("orchestrator stopped")
		if o.memory != nil {
			summary := fmt.Sprintf("Orchestrator shutdown: %d tasks processed, %d errors, uptime %.0fs",
				st.Statistics.TasksProcessed, st.Statistics.ErrorsEncountered, st.Statistics.UptimeSeconds)
			meta := map[string]any{
				"tasks_processed":    st.Statistics.TasksProcessed,
				"errors_encountered": st.Statistics.ErrorsEncountered,
				"agents_loaded":      st.Statistics.AgentsLoaded,
				"plugins_loaded":     st.Statistics.PluginsLoaded,
				"uptime_seconds":     st.Statistics.UptimeSeconds,
			}
			if _, err := o.memory.AddEntry("system_shutdown", summary, "orchestrator", true, meta); err != nil {
				o.log.Error().Err(err).Msg("record shutdown statistics")
			}
		}
	})
}

// abandonQueued moves tasks the worker never reached to status error.
func (o *Orchestrator) abandonQueued() {
	o.mu.Lock()
	queued := o.queue
	o.queue = nil
	now := o.opts.Now()
	var finished []model.Task
	var evicted []model.Task
	for _, t := range queued {
		o.transition(t, model.TaskStatusError)
		t.CompletedAt = &now
		t.Error = "orchestrator stopped before the task ran"
		t.Retryable = true
		evicted = append(evicted, o.complete(t)...)
		finished = append(finished, t.Clone())
	}
	o.metrics.setQueueDepth(0)
	o.mu.Unlock()

	for _, t := range finished {
		o.metrics.taskFinished("", string(t.Status), 0)
		o.publish(events.EventTaskCompleted, taskEventData(t))
	}
	o.archive(evicted)
}

// Submit queues a task and returns its id without waiting for it to run.
// The agent is resolved here so an unroutable task is rejected up front.
func (o *Orchestrator) Submit(in model.TaskInput) (string, error) {
	agentName, err := o.resolve(in)
	if err != nil {
		o.metrics.taskUnroutable()
		return "", err
	}

	o.mu.Lock()
	if o.state == stateStopped {
		o.mu.Unlock()
		return "", ErrNotRunning
	}
	if o.opts.MaxQueue > 0 && len(o.queue) >= o.opts.MaxQueue {
		o.mu.Unlock()
		return "", fmt.Errorf("%w (%d queued)", ErrQueueFull, o.opts.MaxQueue)
	}
	t := &model.Task{
		ID:         model.NewTaskID(),
		Type:       in.Type,
		Command:    in.Command,
		Agent:      agentName,
		Target:     in.Target,
		Parameters: in.Parameters,
		Source:     in.Source,
		Status:     model.TaskStatusQueued,
		CreatedAt:  o.opts.Now(),
	}
	o.queue = append(o.queue, t)
	o.metrics.taskSubmitted(len(o.queue))
	snapshot := t.Clone()
	o.mu.Unlock()

	o.signal()
	o.publish(events.EventTaskSubmitted, taskEventData(snapshot))
	o.log.Debug().Str("task_id", t.ID).Str("agent", agentName).Str("type", in.Type).Msg("task queued")
	return t.ID, nil
}

func (o *Orchestrator) resolve(in model.TaskInput) (string, error) {
	name := in.Agent
	if name == "" {
		var err error
		name, err = Route(in.Type, in.Command)
		if err != nil {
			return "", err
		}
	}
	if _, ok := o.agents[name]; !ok {
		return "", fmt.Errorf("%w: agent %q is not loaded", ErrNoRoute, name)
	}
	return name, nil
}

// ExecuteCommand submits a parsed command. Parse errors are rejected; an
// unmatched command is still submitted and routed by keyword.
func (o *Orchestrator) ExecuteCommand(cmd parser.ParsedCommand) (string, error) {
	in, err := TaskInputFor(cmd, "command")
	if err != nil {
		return "", err
	}
	return o.Submit(in)
}

// TaskInputFor converts a parsed command into a task submission tagged with
// source.
func TaskInputFor(cmd parser.ParsedCommand, source string) (model.TaskInput, error) {
	if cmd.Outcome == parser.OutcomeError {
		return model.TaskInput{}, fmt.Errorf("%w: %s", ErrInvalidCommand, cmd.Error)
	}
	params := make(map[string]any, len(cmd.Parameters)+2)
	for k, v := range cmd.Parameters {
		params[k] = v
	}
	params["action"] = cmd.Action
	params["confidence"] = cmd.Confidence
	return model.TaskInput{
		Type:       cmd.TaskType,
		Command:    cmd.OriginalText,
		Target:     cmd.Target,
		Parameters: params,
		Source:     source,
	}, nil
}

func (o *Orchestrator) signal() {
	select {
	case o.wake <- struct{}{}:
	default:
	}
}

func (o *Orchestrator) worker(ctx context.Context) {
	defer close(o.done)
	for {
		t, ok := o.next(ctx)
		if !ok {
			break
		}
		o.execute(t)
	}
	if ctx.Err() == nil {
		return
	}
	o.mu.Lock()
	o.state = stateStopped
	o.mu.Unlock()
	o.abandonQueued()
	o.log.Info().Msg("orchestrator worker stopped by context")
}

// next blocks until a task is queued or the worker is told to stop.
func (o *Orchestrator) next(ctx context.Context) (*model.Task, bool) {
	for {
		select {
		case <-o.stop:
			return nil, false
		case <-ctx.Done():
			return nil, false
		default:
		}

		o.mu.Lock()
		if len(o.queue) > 0 {
			t := o.queue[0]
			o.queue[0] = nil
			o.queue = o.queue[1:]
			o.metrics.setQueueDepth(len(o.queue))
			o.mu.Unlock()
			return t, true
		}
		o.mu.Unlock()

		select {
		case <-o.wake:
		case <-o.stop:
			return nil, false
		case <-ctx.Done():
			return nil, false
		}
	}
}

type runOutcome struct {
	result agent.Result
	err    error
}

func (o *Orchestrator) execute(t *model.Task) {
	h := o.agents[t.Agent]
	now := o.opts.Now()

	o.mu.Lock()
	o.transition(t, model.TaskStatusProcessing)
	t.StartedAt = &now
	o.active[t.ID] = t
	st := o.agentStat[t.Agent]
	st.Running++
	st.LastActivity = &now
	started := t.Clone()
	o.mu.Unlock()

	o.publish(events.EventTaskStarted, taskEventData(started))
	o.log.Info().Str("task_id", t.ID).Str("agent", t.Agent).Msg("processing task")

	req := agent.Request{
		TaskID:     started.ID,
		Type:       started.Type,
		Command:    started.Command,
		Target:     started.Target,
		Parameters: started.Parameters,
	}
	ctx, cancel := context.WithTimeout(o.taskCtx, o.opts.TaskTimeout)
	defer cancel()

	out := make(chan runOutcome, 1)
	go func() {
		defer func() {
			o.mu.Lock()
			st.Running--
			o.mu.Unlock()
		}()
		out <- o.runAgent(ctx, h, req)
	}()

	var res runOutcome
	select {
	case res = <-out:
	case <-ctx.Done():
		res = runOutcome{err: fmt.Errorf("%w after %s", ErrTaskTimeout, o.opts.TaskTimeout)}
		o.log.Warn().Str("task_id", t.ID).Str("agent", t.Agent).Msg("agent exceeded task timeout, abandoning")
	case <-o.abort:
		res = runOutcome{err: ErrAbandoned}
		o.log.Warn().Str("task_id", t.ID).Str("agent", t.Agent).Msg("orchestrator stopping, abandoning task")
	}
	o.finish(t, res)
}

func (o *Orchestrator) runAgent(ctx context.Context, h agent.AgentHandle, req agent.Request) (out runOutcome) {
	defer func() {
		if r := recover(); r != nil {
			out = runOutcome{err: fmt.Errorf("agent %s panicked: %v", h.Name, r)}
		}
	}()
	res, err := h.Agent.Run(ctx, req)
	return runOutcome{result: res, err: err}
}

func (o *Orchestrator) finish(t *model.Task, res runOutcome) {
	now := o.opts.Now()

	o.mu.Lock()
	status := model.TaskStatusCompleted
	switch {
	case res.err != nil:
		status = model.TaskStatusError
		t.Error = res.err.Error()
		t.Retryable = IsRetryable(res.err)
	case !res.result.Success:
		status = model.TaskStatusFailed
		t.Error = res.result.Output
	}
	o.transition(t, status)
	t.CompletedAt = &now
	t.Output = res.result.Output
	t.Data = res.result.Data

	delete(o.active, t.ID)
	evicted := o.complete(t)

	st := o.agentStat[t.Agent]
	st.TasksProcessed++
	o.processed++
	if status == model.TaskStatusError {
		st.Errors++
		o.errorsCount++
	}
	done := t.Clone()
	o.mu.Unlock()

	o.metrics.taskFinished(done.Agent, string(done.Status), done.Duration())
	o.publish(events.EventTaskCompleted, taskEventData(done))
	if status == model.TaskStatusError {
		o.publish(events.EventError, map[string]any{"task_id": done.ID, "agent": done.Agent, "error": done.Error})
		o.log.Error().Str("task_id", done.ID).Str("agent", done.Agent).Str("error", done.Error).Msg("task failed with error")
	} else {
		o.log.Info().Str("task_id", done.ID).Str("status", string(done.Status)).Dur("took", done.Duration()).Msg("task finished")
	}

	o.record(done)
	o.archive(evicted)
}

// complete appends t to the completed window and returns the tasks pushed
// out of it. Caller holds o.mu.
func (o *Orchestrator) complete(t *model.Task) []model.Task {
	o.completed = append(o.completed, t)
	var evicted []model.Task
	for len(o.completed) > o.opts.CompletedWindow {
		evicted = append(evicted, o.completed[0].Clone())
		o.completed[0] = nil
		o.completed = o.completed[1:]
	}
	return evicted
}

// transition applies a validated status change. Caller holds o.mu.
func (o *Orchestrator) transition(t *model.Task, to model.TaskStatus) {
	if err := model.ValidateTaskTransition(t.Status, to); err != nil {
		o.log.Error().Err(err).Str("task_id", t.ID).Msg("status transition rejected")
		return
	}
	t.Status = to
}

func (o *Orchestrator) record(t model.Task) {
	if o.memory == nil {
		return
	}
	result := t.Output
	if t.Error != "" && t.Status != model.TaskStatusCompleted {
		result = t.Error
	}
	meta := map[string]any{
		"task_id":     t.ID,
		"type":        t.Type,
		"status":      string(t.Status),
		"duration_ms": t.Duration().Milliseconds(),
	}
	if t.Source != "" {
		meta["source"] = t.Source
	}
	if _, err := o.memory.AddEntry(t.Command, result, t.Agent, t.Status == model.TaskStatusCompleted, meta); err != nil {
		o.log.Error().Err(err).Str("task_id", t.ID).Msg("record task in memory")
	}
}

func (o *Orchestrator) archive(tasks []model.Task) {
	if o.history == nil || len(tasks) == 0 {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	for _, t := range tasks {
		if err := o.history.Archive(ctx, t); err != nil {
			o.log.Error().Err(err).Str("task_id", t.ID).Msg("archive task")
		}
	}
}

func (o *Orchestrator) publish(et events.EventType, data map[string]any) {
	if o.bus == nil {
		return
	}
	o.bus.Publish(et, data)
}

func taskEventData(t model.Task) map[string]any {
	d := map[string]any{
		"task_id": t.ID,
		"type":    t.Type,
		"agent":   t.Agent,
		"status":  string(t.Status),
	}
	if t.Error != "" {
		d["error"] = t.Error
	}
	return d
}

// RunPlugin executes a plugin synchronously, bounded by the task timeout.
func (o *Orchestrator) RunPlugin(ctx context.Context, name, input string) (string, error) {
	h, ok := o.plugins[name]
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownPlugin, name)
	}
	now := o.opts.Now()
	o.mu.Lock()
	st := o.pluginStat[name]
	st.Active = true
	st.LastUsed = &now
	st.UsageCount++
	o.mu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, o.opts.TaskTimeout)
	defer cancel()

	type pluginOutcome struct {
		out string
		err error
	}
	ch := make(chan pluginOutcome, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				ch <- pluginOutcome{err: fmt.Errorf("plugin %s panicked: %v", name, r)}
			}
			o.mu.Lock()
			st.Active = false
			o.mu.Unlock()
		}()
		out, err := h.Plugin.Execute(ctx, input)
		ch <- pluginOutcome{out: out, err: err}
	}()

	var res pluginOutcome
	select {
	case res = <-ch:
	case <-ctx.Done():
		res.err = fmt.Errorf("%w: plugin %s: %v", ErrTaskTimeout, name, ctx.Err())
	}

	o.metrics.pluginRun(name, res.err)
	data := map[string]any{"plugin": name, "success": res.err == nil}
	if res.err != nil {
		data["error"] = res.err.Error()
	}
	o.publish(events.EventPluginRun, data)
	return res.out, res.err
}

// Task looks a task up in the queue, the active set, the completed window
// and finally the history archive.
func (o *Orchestrator) Task(id string) (model.Task, error) {
	o.mu.Lock()
	for _, t := range o.queue {
		if t.ID == id {
			c := t.Clone()
			o.mu.Unlock()
			return c, nil
		}
	}
	if t, ok := o.active[id]; ok {
		c := t.Clone()
		o.mu.Unlock()
		return c, nil
	}
	for i := len(o.completed) - 1; i >= 0; i-- {
		if o.completed[i].ID == id {
			c := o.completed[i].Clone()
			o.mu.Unlock()
			return c, nil
		}
	}
	o.mu.Unlock()

	if o.history != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		t, err := o.history.Get(ctx, id)
		if err == nil {
			return t, nil
		}
		o.log.Debug().Err(err).Str("task_id", id).Msg("history lookup")
	}
	return model.Task{}, fmt.Errorf("%w: %s", ErrTaskNotFound, id)
}

// TaskList is a point-in-time copy of every in-memory task.
type TaskList struct {
	Queued    []model.Task `json:"queued"`
	Active    []model.Task `json:"active"`
	Completed []model.Task `json:"completed"`
}

// Tasks returns queued tasks in FIFO order, active tasks, and the completed
// window newest first.
func (o *Orchestrator) Tasks() TaskList {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := TaskList{
		Queued:    make([]model.Task, 0, len(o.queue)),
		Active:    make([]model.Task, 0, len(o.active)),
		Completed: make([]model.Task, 0, len(o.completed)),
	}
	for _, t := range o.queue {
		out.Queued = append(out.Queued, t.Clone())
	}
	for _, t := range o.active {
		out.Active = append(out.Active, t.Clone())
	}
	sort.Slice(out.Active, func(i, j int) bool { return out.Active[i].CreatedAt.Before(out.Active[j].CreatedAt) })
	for i := len(o.completed) - 1; i >= 0; i-- {
		out.Completed = append(out.Completed, o.completed[i].Clone())
	}
	return out
}

type Statistics struct {
	TasksProcessed    int     `json:"tasks_processed"`
	ErrorsEncountered int     `json:"errors_encountered"`
	AgentsLoaded      int     `json:"agents_loaded"`
	PluginsLoaded     int     `json:"plugins_loaded"`
	UptimeSeconds     float64 `json:"uptime_seconds"`
}

type Status struct {
	Running      bool                          `json:"running"`
	StartedAt    *time.Time                    `json:"started_at,omitempty"`
	Statistics   Statistics                    `json:"statistics"`
	Queued       int                           `json:"queued_tasks"`
	Active       int                           `json:"active_tasks"`
	Completed    int                           `json:"completed_tasks"`
	Agents       map[string]model.AgentStatus  `json:"agents"`
	Plugins      map[string]model.PluginStatus `json:"plugins"`
	LoadFailures []FailureInfo                 `json:"load_failures"`
}

func (o *Orchestrator) Status() Status {
	o.mu.Lock()
	defer o.mu.Unlock()
	st := Status{
		Running:   o.state == stateRunning,
		Queued:    len(o.queue),
		Active:    len(o.active),
		Completed: len(o.completed),
		Agents:    make(map[string]model.AgentStatus, len(o.agentStat)),
		Plugins:   make(map[string]model.PluginStatus, len(o.pluginStat)),
		Statistics: Statistics{
			TasksProcessed:    o.processed,
			ErrorsEncountered: o.errorsCount,
			AgentsLoaded:      len(o.agents),
			PluginsLoaded:     len(o.plugins),
		},
		LoadFailures: append([]FailureInfo{}, o.failures...),
	}
	if !o.startedAt.IsZero() {
		started := o.startedAt
		st.StartedAt = &started
		st.Statistics.UptimeSeconds = o.opts.Now().Sub(started).Seconds()
	}
	for name, s := range o.agentStat {
		c := *s
		if s.LastActivity != nil {
			ts := *s.LastActivity
			c.LastActivity = &ts
		}
		st.Agents[name] = c
	}
	for name, s := range o.pluginStat {
		c := *s
		if s.LastUsed != nil {
			ts := *s.LastUsed
			c.LastUsed = &ts
		}
		st.Plugins[name] = c
	}
	return st
}

type Health struct {
	Status       model.HealthLevel `json:"status"`
	HealthPct    float64           `json:"health_percentage"`
	LoadedAgents int               `json:"loaded_agents"`
	FailedAgents int               `json:"failed_agents"`
	Running      bool              `json:"running"`
}

// Health scores the share of agent candidates that loaded. With no
// candidates at all the score is zero.
func (o *Orchestrator) Health() Health {
	failed := 0
	for _, f := range o.failures {
		if f.Kind == "agent" {
			failed++
		}
	}
	loaded := len(o.agents)
	pct := 0.0
	if total := loaded + failed; total > 0 {
		pct = float64(loaded) / float64(total) * 100
	}
	o.mu.Lock()
	running := o.state == stateRunning
	o.mu.Unlock()
	return Health{
		Status:       model.HealthLevelFor(pct),
		HealthPct:    pct,
		LoadedAgents: loaded,
		FailedAgents: failed,
		Running:      running,
	}
}

func (o *Orchestrator) AvailableAgents() []string {
	names := make([]string, 0, len(o.agents))
	for name := range o.agents {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (o *Orchestrator) AvailablePlugins() []string {
	names := make([]string, 0, len(o.plugins))
	for name := range o.plugins {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (o *Orchestrator) LoadFailures() []FailureInfo {
	return append([]FailureInfo{}, o.failures...)
}
