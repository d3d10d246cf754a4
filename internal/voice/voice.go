// Package voice turns transcripts into orchestrator tasks. Speech-to-text
// runs outside IGED: a recognizer drops each utterance as a .txt file into
// the inbox directory, and the pipeline parses and submits it.
package voice

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"

	"github.com/iged-project/iged/internal/events"
	"github.com/iged-project/iged/internal/model"
	"github.com/iged-project/iged/internal/orchestrator"
	"github.com/iged-project/iged/internal/parser"
)

// TranscriptExt is the suffix of files the inbox watcher consumes. Writers
// should create the file under another name and rename it into place.
const TranscriptExt = ".txt"

const memoryAgent = "voice_pipeline"

type Submitter interface {
	Submit(in model.TaskInput) (string, error)
}

type Recorder interface {
	AddEntry(command, result, agent string, success bool, metadata map[string]any) (string, error)
}

type Deps struct {
	Parser    *parser.Parser
	Submitter Submitter
	Memory    Recorder
	Bus       events.Publisher
	Logger    zerolog.Logger
}

// Result is the outcome of one transcript.
type Result struct {
	Parsed parser.ParsedCommand `json:"parsed"`
	TaskID string               `json:"task_id,omitempty"`
}

type Status struct {
	Listening bool   `json:"listening"`
	Watching  bool   `json:"watching"`
	Inbox     string `json:"inbox"`
	Processed int64  `json:"processed"`
	Rejected  int64  `json:"rejected"`
}

type Pipeline struct {
	parser    *parser.Parser
	submitter Submitter
	memory    Recorder
	bus       events.Publisher
	log       zerolog.Logger
	inbox     string

	listening atomic.Bool
	processed atomic.Int64
	rejected  atomic.Int64

	mu      sync.Mutex // guards watcher and done
	watcher *fsnotify.Watcher
	done    chan struct{}

	consumeMu sync.Mutex
}

// New returns a pipeline for inbox. listen sets the initial listening state.
func New(deps Deps, inbox string, listen bool) *Pipeline {
	p := deps.Parser
	if p == nil {
		p = parser.New()
	}
	pl := &Pipeline{
		parser:    p,
		submitter: deps.Submitter,
		memory:    deps.Memory,
		bus:       deps.Bus,
		log:       deps.Logger.With().Str("component", "voice").Logger(),
		inbox:     inbox,
	}
	pl.listening.Store(listen)
	return pl
}

// ProcessText parses text and submits it. The returned Result always carries
// the parse record, even when submission fails.
func (p *Pipeline) ProcessText(text, source string) (Result, error) {
	cmd := p.parser.Parse(text)
	res := Result{Parsed: cmd}

	in, err := orchestrator.TaskInputFor(cmd, source)
	if err != nil {
		p.rejected.Add(1)
		return res, err
	}
	id, err := p.submitter.Submit(in)
	if err != nil {
		p.rejected.Add(1)
		return res, err
	}
	res.TaskID = id
	p.processed.Add(1)

	if p.bus != nil {
		p.bus.Publish(events.EventVoiceCommand, map[string]any{
			"text":       cmd.OriginalText,
			"task_id":    id,
			"confidence": cmd.Confidence,
			"source":     source,
		})
	}
	if p.memory != nil {
		meta := map[string]any{"confidence": cmd.Confidence, "task_id": id, "source": source}
		if _, err := p.memory.AddEntry(cmd.OriginalText, "Voice command queued", memoryAgent, true, meta); err != nil {
			p.log.Error().Err(err).Msg("record voice command")
		}
	}
	p.log.Info().Str("task_id", id).Str("source", source).Float64("confidence", cmd.Confidence).Msg("command queued")
	return res, nil
}

// Start watches the inbox until ctx is cancelled or Stop is called.
// Transcripts already waiting are processed first when listening.
func (p *Pipeline) Start(ctx context.Context) error {
	if err := os.MkdirAll(p.inbox, 0o700); err != nil {
		return fmt.Errorf("create voice inbox: %w", err)
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create fsnotify watcher: %w", err)
	}
	if err := w.Add(p.inbox); err != nil {
		w.Close()
		return fmt.Errorf("watch %s: %w", p.inbox, err)
	}

	p.mu.Lock()
	if p.watcher != nil {
		p.mu.Unlock()
		w.Close()
		return errors.New("voice pipeline already started")
	}
	p.watcher = w
	p.done = make(chan struct{})
	p.mu.Unlock()

	if p.listening.Load() {
		p.scanInbox()
	}
	go p.loop(ctx, w)
	p.log.Info().Str("inbox", p.inbox).Bool("listening", p.listening.Load()).Msg("voice pipeline started")
	return nil
}

func (p *Pipeline) loop(ctx context.Context, w *fsnotify.Watcher) {
	defer close(p.done)
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-w.Events:
			if !ok {
				return
			}
			if event.Has(fsnotify.Create) || event.Has(fsnotify.Write) {
				p.log.Debug().Str("op", event.Op.String()).Str("file", event.Name).Msg("fsnotify event")
				if p.listening.Load() {
					p.consume(event.Name)
				}
			}
		case err, ok := <-w.Errors:
			if !ok {
				return
			}
			p.log.Error().Err(err).Msg("fsnotify error")
		}
	}
}

// Stop closes the watcher and waits for the event loop to exit.
func (p *Pipeline) Stop() {
	p.mu.Lock()
	w, done := p.watcher, p.done
	p.watcher = nil
	p.mu.Unlock()
	if w == nil {
		return
	}
	w.Close()
	<-done
	p.log.Info().Msg("voice pipeline stopped")
}

// Toggle flips listening and returns the new state. Turning listening on
// drains transcripts that arrived while it was off.
func (p *Pipeline) Toggle() bool {
	for {
		cur := p.listening.Load()
		if p.listening.CompareAndSwap(cur, !cur) {
			if !cur {
				p.mu.Lock()
				watching := p.watcher != nil
				p.mu.Unlock()
				if watching {
					go p.scanInbox()
				}
			}
			p.log.Info().Bool("listening", !cur).Msg("voice listening toggled")
			return !cur
		}
	}
}

func (p *Pipeline) Status() Status {
	p.mu.Lock()
	watching := p.watcher != nil
	p.mu.Unlock()
	return Status{
		Listening: p.listening.Load(),
		Watching:  watching,
		Inbox:     p.inbox,
		Processed: p.processed.Load(),
		Rejected:  p.rejected.Load(),
	}
}

func (p *Pipeline) scanInbox() {
	entries, err := os.ReadDir(p.inbox)
	if err != nil {
		p.log.Error().Err(err).Msg("scan voice inbox")
		return
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir() {
			names = append(names, e.Name())
		}
	}
	// oldest-first by name; recognizers are expected to use sortable names
	sort.Strings(names)
	for _, n := range names {
		p.consume(filepath.Join(p.inbox, n))
	}
}

// consume processes and removes one transcript file. Files that vanish
// between the event and the read were already consumed.
func (p *Pipeline) consume(path string) {
	if !strings.HasSuffix(path, TranscriptExt) || strings.HasPrefix(filepath.Base(path), ".") {
		return
	}
	p.consumeMu.Lock()
	defer p.consumeMu.Unlock()

	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return
	}
	if err != nil {
		p.log.Error().Err(err).Str("file", path).Msg("read transcript")
		return
	}
	text := strings.TrimSpace(string(data))
	if text == "" {
		// created but not yet written; the write event brings it back
		return
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		p.log.Error().Err(err).Str("file", path).Msg("remove transcript")
		return
	}
	if _, err := p.ProcessText(text, "voice"); err != nil {
		p.log.Warn().Err(err).Str("text", text).Msg("voice command not queued")
	}
}
