package status

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/iged-project/iged/internal/model"
)

const statusBody = `{
  "system": "IGED",
  "version": "1.2.3",
  "uptime_seconds": 3725,
  "orchestrator": {
    "running": true,
    "statistics": {"tasks_processed": 4, "errors_encountered": 1},
    "queued_tasks": 2,
    "active_tasks": 1,
    "completed_tasks": 4,
    "agents": {"secops": {"name": "secops", "loaded": true, "tasks_processed": 3}},
    "load_failures": [{"name": "broken", "kind": "agent", "error": "no entry point"}]
  },
  "memory": {"total_entries": 10, "success_rate": 90, "recent_entries_24h": 3},
  "voice": {"listening": true, "processed": 5, "rejected": 1}
}`

func newAPI(t *testing.T) (*httptest.Server, *[]string) {
	t.Helper()
	var seen []string
	mux := http.NewServeMux()
	mux.HandleFunc("/api/status", func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, statusBody)
	})
	mux.HandleFunc("/api/tasks", func(w http.ResponseWriter, r *http.Request) {
		var in model.TaskInput
		json.NewDecoder(r.Body).Decode(&in)
		seen = append(seen, r.Method+" "+in.Type+" "+in.Command)
		w.WriteHeader(http.StatusAccepted)
		io.WriteString(w, `{"task_id":"task-1","status":"queued"}`)
	})
	polls := 0
	mux.HandleFunc("/api/tasks/task-1", func(w http.ResponseWriter, r *http.Request) {
		polls++
		st := "queued"
		if polls > 2 {
			st = "completed"
		}
		io.WriteString(w, `{"id":"task-1","status":"`+st+`","output":"done"}`)
	})
	mux.HandleFunc("/api/tasks/missing", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		io.WriteString(w, `{"error":"task not found: missing"}`)
	})
	mux.HandleFunc("/api/execute", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		io.WriteString(w, `{"error":"task queue is full","retryable":true}`)
	})
	mux.HandleFunc("/api/memory/search", func(w http.ResponseWriter, r *http.Request) {
		seen = append(seen, "search "+r.URL.Query().Get("q")+" "+r.URL.Query().Get("limit"))
		io.WriteString(w, `{"entries":[{"id":"m1","command":"scan ports"}],"query":"scan"}`)
	})
	mux.HandleFunc("/api/memory/export", func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `{"filename":"/data/exports/x.json","entries":7}`)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv, &seen
}

func testConfig(t *testing.T) model.Config {
	cfg := model.DefaultConfig()
	cfg.DataDir = t.TempDir()
	return cfg.Resolve()
}

func TestCollect_RunningDaemon(t *testing.T) {
	srv, _ := newAPI(t)
	cfg := testConfig(t)
	if err := os.WriteFile(cfg.LockFile(), []byte("4242\n"), 0o600); err != nil {
		t.Fatal(err)
	}

	s := Collect(context.Background(), cfg, NewClient(srv.URL, time.Second))
	if !s.Daemon.Running || s.Daemon.PID != 4242 {
		t.Fatalf("daemon = %+v", s.Daemon)
	}
	if s.Report == nil || s.Report.Orchestrator == nil {
		t.Fatalf("missing report: %+v", s)
	}
	if s.Report.Orchestrator.Queued != 2 {
		t.Errorf("queued = %d, want 2", s.Report.Orchestrator.Queued)
	}

	var out bytes.Buffer
	Print(&out, s)
	for _, want := range []string{
		"Daemon: running (pid 4242)",
		"version 1.2.3, up 01h02m05s",
		"2 queued, 1 active, 4 completed",
		"secops",
		"failed agent broken: no entry point",
		"Memory: 10 entries, 90.0% success",
		"Voice:  listening (5 processed, 1 rejected)",
	} {
		if !strings.Contains(out.String(), want) {
			t.Errorf("output missing %q:\n%s", want, out.String())
		}
	}
}

func TestCollect_StoppedDaemon(t *testing.T) {
	cfg := testConfig(t)
	// nothing listens on this port once the server is closed
	srv := httptest.NewServer(http.NotFoundHandler())
	addr := srv.URL
	srv.Close()

	s := Collect(context.Background(), cfg, NewClient(addr, time.Second))
	if s.Daemon.Running {
		t.Fatal("expected stopped daemon")
	}
	if s.Error == "" {
		t.Error("expected connection error")
	}

	var out bytes.Buffer
	if err := Run(context.Background(), &out, cfg, NewClient(addr, time.Second), true); err != nil {
		t.Fatalf("Run: %v", err)
	}
	var decoded Snapshot
	if err := json.Unmarshal(out.Bytes(), &decoded); err != nil {
		t.Fatalf("json output: %v\n%s", err, out.String())
	}
	if decoded.Daemon.Running {
		t.Error("json reports running")
	}
}

func TestCollect_AdminDisabled(t *testing.T) {
	cfg := testConfig(t)
	cfg.Admin.Enabled = false
	s := Collect(context.Background(), cfg, nil)
	if s.Daemon.Running || s.Report != nil || s.Error != "" {
		t.Fatalf("unexpected snapshot: %+v", s)
	}
}

func TestClient_SubmitAndWait(t *testing.T) {
	srv, seen := newAPI(t)
	c := NewClient(strings.TrimPrefix(srv.URL, "http://"), time.Second)

	id, err := c.Submit(context.Background(), model.TaskInput{Type: "security", Command: "scan"})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if id != "task-1" {
		t.Fatalf("id = %q", id)
	}
	if len(*seen) != 1 || (*seen)[0] != "POST security scan" {
		t.Errorf("request = %v", *seen)
	}

	task, err := c.WaitTask(context.Background(), id, 5*time.Millisecond)
	if err != nil {
		t.Fatalf("WaitTask: %v", err)
	}
	if task.Status != model.TaskStatusCompleted || task.Output != "done" {
		t.Errorf("task = %+v", task)
	}
}

func TestClient_Errors(t *testing.T) {
	srv, _ := newAPI(t)
	c := NewClient(srv.URL+"/", time.Second)

	_, err := c.Task(context.Background(), "missing")
	if !IsNotFound(err) {
		t.Fatalf("expected not found, got %v", err)
	}
	if !strings.Contains(err.Error(), "task not found") {
		t.Errorf("message lost: %v", err)
	}

	_, err = c.Execute(context.Background(), "scan ports")
	apiErr, ok := err.(*APIError)
	if !ok {
		t.Fatalf("expected *APIError, got %T", err)
	}
	if apiErr.StatusCode != http.StatusTooManyRequests || !apiErr.Retryable {
		t.Errorf("apiErr = %+v", apiErr)
	}
}

func TestClient_MemoryCalls(t *testing.T) {
	srv, seen := newAPI(t)
	c := NewClient(srv.URL, time.Second)

	entries, err := c.SearchMemory(context.Background(), "scan ports", 5)
	if err != nil {
		t.Fatalf("SearchMemory: %v", err)
	}
	if len(entries) != 1 || entries[0].ID != "m1" {
		t.Errorf("entries = %+v", entries)
	}
	if (*seen)[0] != "search scan ports 5" {
		t.Errorf("query = %q", (*seen)[0])
	}

	path, n, err := c.ExportMemory(context.Background(), "")
	if err != nil {
		t.Fatalf("ExportMemory: %v", err)
	}
	if path != "/data/exports/x.json" || n != 7 {
		t.Errorf("export = %s, %d", path, n)
	}
}
