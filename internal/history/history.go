// Package history archives finished tasks that have aged out of the
// orchestrator's in-memory completed window.
package history

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/iged-project/iged/internal/model"
)

var ErrNotFound = errors.New("history: task not found")

type Store struct {
	db *sql.DB
}

// Open creates or opens the archive database at path. Use ":memory:" for
// a throwaway store.
func Open(path string) (*Store, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
			return nil, fmt.Errorf("create history dir: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open history db: %w", err)
	}
	// one connection keeps :memory: databases shared and serializes writers
	db.SetMaxOpenConns(1)

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate history db: %w", err)
	}
	return s, nil
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS tasks (
		id           TEXT PRIMARY KEY,
		type         TEXT NOT NULL,
		command      TEXT NOT NULL,
		agent        TEXT NOT NULL DEFAULT '',
		status       TEXT NOT NULL,
		created_at   DATETIME NOT NULL,
		started_at   DATETIME,
		completed_at DATETIME,
		output       TEXT NOT NULL DEFAULT '',
		error        TEXT NOT NULL DEFAULT '',
		retryable    INTEGER NOT NULL DEFAULT 0,
		record       TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_tasks_status ON tasks(status);
	CREATE INDEX IF NOT EXISTS idx_tasks_completed ON tasks(completed_at);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Archive stores a terminal task. Re-archiving the same id replaces it.
func (s *Store) Archive(ctx context.Context, t model.Task) error {
	if !model.IsTaskTerminal(t.Status) {
		return fmt.Errorf("history: task %s is not terminal (status %q)", t.ID, t.Status)
	}
	record, err := json.Marshal(t)
	if err != nil {
		return fmt.Errorf("history: encode task: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO tasks
			(id, type, command, agent, status, created_at, started_at, completed_at, output, error, retryable, record)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.ID, t.Type, t.Command, t.Agent, string(t.Status),
		t.CreatedAt.UTC(), nullTime(t.StartedAt), nullTime(t.CompletedAt),
		t.Output, t.Error, t.Retryable, string(record),
	)
	if err != nil {
		return fmt.Errorf("history: insert task %s: %w", t.ID, err)
	}
	return nil
}

func (s *Store) Get(ctx context.Context, id string) (model.Task, error) {
	var record string
	err := s.db.QueryRowContext(ctx, `SELECT record FROM tasks WHERE id = ?`, id).Scan(&record)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Task{}, ErrNotFound
	}
	if err != nil {
		return model.Task{}, fmt.Errorf("history: get %s: %w", id, err)
	}
	var t model.Task
	if err := json.Unmarshal([]byte(record), &t); err != nil {
		return model.Task{}, fmt.Errorf("history: decode %s: %w", id, err)
	}
	return t, nil
}

// Recent returns up to limit archived tasks, newest completion first.
func (s *Store) Recent(ctx context.Context, limit int) ([]model.Task, error) {
	if limit <= 0 {
		return []model.Task{}, nil
	}
	rows, err := s.db.QueryContext(ctx, `SELECT record FROM tasks ORDER BY completed_at DESC, id LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("history: query recent: %w", err)
	}
	defer rows.Close()

	out := []model.Task{}
	for rows.Next() {
		var record string
		if err := rows.Scan(&record); err != nil {
			return nil, fmt.Errorf("history: scan: %w", err)
		}
		var t model.Task
		if err := json.Unmarshal([]byte(record), &t); err != nil {
			return nil, fmt.Errorf("history: decode: %w", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// CountByStatus returns archived task counts keyed by status.
func (s *Store) CountByStatus(ctx context.Context) (map[model.TaskStatus]int, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT status, COUNT(*) FROM tasks GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("history: count: %w", err)
	}
	defer rows.Close()

	out := map[model.TaskStatus]int{}
	for rows.Next() {
		var (
			status string
			n      int
		)
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("history: scan count: %w", err)
		}
		out[model.TaskStatus(status)] = n
	}
	return out, rows.Err()
}

// Prune deletes archived tasks completed before cutoff.
func (s *Store) Prune(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM tasks WHERE completed_at < ?`, cutoff.UTC())
	if err != nil {
		return 0, fmt.Errorf("history: prune: %w", err)
	}
	return res.RowsAffected()
}

func (s *Store) Close() error {
	return s.db.Close()
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t.UTC(), Valid: true}
}
