// Package events carries orchestrator events to in-process subscribers and
// journals them to disk.
package events

import (
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// EventType names an orchestrator event.
type EventType string

const (
	EventTaskSubmitted EventType = "task_submitted"
	EventTaskStarted   EventType = "task_started"
	EventTaskCompleted EventType = "task_completed"
	EventAgentLoaded   EventType = "agent_loaded"
	EventPluginLoaded  EventType = "plugin_loaded"
	EventPluginRun     EventType = "plugin_run"
	EventLoadFailed    EventType = "load_failed"
	EventError         EventType = "error_occurred"
	EventVoiceCommand  EventType = "voice_command"
	EventWatchdog      EventType = "watchdog_report"
)

// allEvents is the subscription key for SubscribeAll.
const allEvents EventType = "*"

type Event struct {
	Type      EventType      `json:"type"`
	Timestamp time.Time      `json:"timestamp"`
	Data      map[string]any `json:"data,omitempty"`
}

type Subscriber func(Event)

// Publisher is the narrow interface producers depend on.
type Publisher interface {
	Publish(eventType EventType, data map[string]any)
}

// Bus is a non-blocking publish/subscribe hub. Each subscriber has its own
// buffered channel and goroutine; when a subscriber's buffer is full the
// event is dropped for that subscriber only.
type Bus struct {
	mu          sync.RWMutex
	subscribers map[EventType][]chan Event
	bufferSize  int
	closed      bool
	log         zerolog.Logger
}

func NewBus(bufferSize int, log zerolog.Logger) *Bus {
	if bufferSize <= 0 {
		bufferSize = 100
	}
	return &Bus{
		subscribers: make(map[EventType][]chan Event),
		bufferSize:  bufferSize,
		log:         log.With().Str("component", "events").Logger(),
	}
}

// Subscribe registers fn for one event type and returns an unsubscribe func.
func (b *Bus) Subscribe(eventType EventType, fn Subscriber) func() {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch := make(chan Event, b.bufferSize)
	if b.closed {
		close(ch)
		return func() {}
	}
	b.subscribers[eventType] = append(b.subscribers[eventType], ch)

	go func() {
		for event := range ch {
			b.deliver(fn, event)
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			subs := b.subscribers[eventType]
			for i, subCh := range subs {
				if subCh == ch {
					b.subscribers[eventType] = append(subs[:i], subs[i+1:]...)
					close(ch)
					break
				}
			}
		})
	}
}

// SubscribeAll registers fn for every event type.
func (b *Bus) SubscribeAll(fn Subscriber) func() {
	return b.Subscribe(allEvents, fn)
}

func (b *Bus) deliver(fn Subscriber, event Event) {
	defer func() {
		if r := recover(); r != nil {
			b.log.Error().Interface("panic", r).Str("event", string(event.Type)).Msg("subscriber panicked")
		}
	}()
	fn(event)
}

// Publish never blocks.
func (b *Bus) Publish(eventType EventType, data map[string]any) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return
	}

	event := Event{
		Type:      eventType,
		Timestamp: time.Now().UTC(),
		Data:      data,
	}
	for _, key := range []EventType{eventType, allEvents} {
		for _, ch := range b.subscribers[key] {
			select {
			case ch <- event:
			default:
				b.log.Debug().Str("event", string(eventType)).Msg("subscriber buffer full, event dropped")
			}
		}
	}
}

// Close closes all subscriber channels. Later publishes are ignored.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for eventType, subs := range b.subscribers {
		for _, ch := range subs {
			close(ch)
		}
		delete(b.subscribers, eventType)
	}
}
