package events

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBus_PublishSubscribe(t *testing.T) {
	bus := NewBus(10, zerolog.Nop())
	defer bus.Close()

	var mu sync.Mutex
	var received []Event
	unsub := bus.Subscribe(EventTaskStarted, func(e Event) {
		mu.Lock()
		received = append(received, e)
		mu.Unlock()
	})
	defer unsub()

	bus.Publish(EventTaskStarted, map[string]any{"task_id": "task_123"})
	bus.Publish(EventTaskCompleted, map[string]any{"task_id": "other"})

	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(received) == 1
	}, time.Second, 5*time.Millisecond)

	// give a wrongly routed event time to arrive
	time.Sleep(20 * time.Millisecond)
	mu.Lock()
	defer mu.Unlock()
	require.Len(t, received, 1)
	assert.Equal(t, EventTaskStarted, received[0].Type)
	assert.Equal(t, "task_123", received[0].Data["task_id"])
	assert.False(t, received[0].Timestamp.IsZero())
}

func TestBus_SubscribeAll(t *testing.T) {
	bus := NewBus(10, zerolog.Nop())
	defer bus.Close()

	var count atomic.Int32
	unsub := bus.SubscribeAll(func(Event) { count.Add(1) })
	defer unsub()

	bus.Publish(EventTaskSubmitted, nil)
	bus.Publish(EventAgentLoaded, nil)
	bus.Publish(EventError, nil)

	assert.Eventually(t, func() bool { return count.Load() == 3 }, time.Second, 5*time.Millisecond)
}

func TestBus_NonBlocking(t *testing.T) {
	bus := NewBus(1, zerolog.Nop())
	defer bus.Close()

	block := make(chan struct{})
	unsub := bus.Subscribe(EventTaskStarted, func(Event) { <-block })
	defer func() {
		close(block)
		unsub()
	}()

	done := make(chan struct{})
	go func() {
		for i := 0; i < 100; i++ {
			bus.Publish(EventTaskStarted, nil)
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Publish blocked on a slow subscriber")
	}
}

func TestBus_Unsubscribe(t *testing.T) {
	bus := NewBus(10, zerolog.Nop())
	defer bus.Close()

	var count atomic.Int32
	unsub := bus.Subscribe(EventTaskStarted, func(Event) { count.Add(1) })

	bus.Publish(EventTaskStarted, nil)
	assert.Eventually(t, func() bool { return count.Load() == 1 }, time.Second, 5*time.Millisecond)

	unsub()
	unsub() // idempotent
	bus.Publish(EventTaskStarted, nil)
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, int32(1), count.Load())
}

func TestBus_PanicRecovery(t *testing.T) {
	bus := NewBus(10, zerolog.Nop())
	defer bus.Close()

	var count atomic.Int32
	unsub := bus.Subscribe(EventTaskStarted, func(e Event) {
		count.Add(1)
		if e.Data["panic"] == true {
			panic("subscriber failure")
		}
	})
	defer unsub()

	bus.Publish(EventTaskStarted, map[string]any{"panic": true})
	bus.Publish(EventTaskStarted, map[string]any{"panic": false})

	assert.Eventually(t, func() bool { return count.Load() == 2 }, time.Second, 5*time.Millisecond)
}

func TestBus_PublishAfterClose(t *testing.T) {
	bus := NewBus(10, zerolog.Nop())
	bus.Close()
	bus.Close()

	assert.NotPanics(t, func() {
		bus.Publish(EventTaskStarted, nil)
		unsub := bus.Subscribe(EventTaskStarted, func(Event) {})
		unsub()
	})
}
