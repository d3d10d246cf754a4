package history

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iged-project/iged/internal/model"
)

func finishedTask(id string, status model.TaskStatus, done time.Time) model.Task {
	start := done.Add(-time.Second)
	return model.Task{
		ID:          id,
		Type:        "security",
		Command:     "scan ports on 10.0.0.5",
		Agent:       "secops",
		Status:      status,
		CreatedAt:   start.Add(-time.Second),
		StartedAt:   &start,
		CompletedAt: &done,
		Output:      "ok",
		Parameters:  map[string]any{"port": 22},
	}
}

func TestArchiveAndGet(t *testing.T) {
	s, err := Open(filepath.Join(t.TempDir(), "history.db"))
	require.NoError(t, err)
	defer s.Close()
	ctx := context.Background()

	now := time.Now().UTC().Truncate(time.Millisecond)
	require.NoError(t, s.Archive(ctx, finishedTask("a", model.TaskStatusCompleted, now)))

	got, err := s.Get(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, "secops", got.Agent)
	assert.Equal(t, model.TaskStatusCompleted, got.Status)
	assert.Equal(t, float64(22), got.Parameters["port"])
	require.NotNil(t, got.CompletedAt)
	assert.True(t, now.Equal(*got.CompletedAt))

	_, err = s.Get(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestArchive_RejectsNonTerminal(t *testing.T) {
	s, err := Open(":memory:")
	require.NoError(t, err)
	defer s.Close()

	task := finishedTask("q", model.TaskStatusQueued, time.Now())
	assert.Error(t, s.Archive(context.Background(), task))
}

func TestRecentCountPrune(t *testing.T) {
	s, err := Open(":memory:")
	require.NoError(t, err)
	defer s.Close()
	ctx := context.Background()

	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, s.Archive(ctx, finishedTask("old", model.TaskStatusFailed, base)))
	require.NoError(t, s.Archive(ctx, finishedTask("mid", model.TaskStatusCompleted, base.Add(time.Hour))))
	require.NoError(t, s.Archive(ctx, finishedTask("new", model.TaskStatusError, base.Add(2*time.Hour))))
	// re-archiving replaces
	require.NoError(t, s.Archive(ctx, finishedTask("new", model.TaskStatusCompleted, base.Add(2*time.Hour))))

	recent, err := s.Recent(ctx, 2)
	require.NoError(t, err)
	require.Len(t, recent, 2)
	assert.Equal(t, "new", recent[0].ID)
	assert.Equal(t, "mid", recent[1].ID)

	counts, err := s.CountByStatus(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[model.TaskStatus]int{model.TaskStatusCompleted: 2, model.TaskStatusFailed: 1}, counts)

	n, err := s.Prune(ctx, base.Add(30*time.Minute))
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	_, err = s.Get(ctx, "old")
	assert.ErrorIs(t, err, ErrNotFound)
}
