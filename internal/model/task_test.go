package model

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestTaskClone_DoesNotShareMaps(t *testing.T) {
	start := time.Now()
	orig := Task{
		ID:         "t1",
		Parameters: map[string]any{"port": 22},
		Data:       map[string]any{"open": true},
		StartedAt:  &start,
	}
	c := orig.Clone()
	c.Parameters["port"] = 80
	c.Data["open"] = false
	*c.StartedAt = start.Add(time.Hour)

	assert.Equal(t, 22, orig.Parameters["port"])
	assert.Equal(t, true, orig.Data["open"])
	assert.Equal(t, start, *orig.StartedAt)
}

func TestTaskDuration(t *testing.T) {
	start := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	end := start.Add(1500 * time.Millisecond)

	assert.Zero(t, Task{}.Duration())
	assert.Zero(t, Task{StartedAt: &start}.Duration())
	assert.Equal(t, 1500*time.Millisecond, Task{StartedAt: &start, CompletedAt: &end}.Duration())
}
