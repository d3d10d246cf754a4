package status

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/iged-project/iged/internal/memory"
	"github.com/iged-project/iged/internal/model"
	"github.com/iged-project/iged/internal/orchestrator"
)

const DefaultTimeout = 5 * time.Second

// APIError is a non-2xx answer from the admin API.
type APIError struct {
	StatusCode int
	Message    string
	Retryable  bool
}

func (e *APIError) Error() string {
	return fmt.Sprintf("admin api: %d %s", e.StatusCode, e.Message)
}

// IsNotFound reports whether err is a 404 from the admin API.
func IsNotFound(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound
}

// Client talks to a running daemon's admin server.
type Client struct {
	base string
	http *http.Client
}

// NewClient accepts either a host:port or a full base URL.
func NewClient(addr string, timeout time.Duration) *Client {
	base := strings.TrimRight(addr, "/")
	if !strings.Contains(base, "://") {
		base = "http://" + base
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Client{base: base, http: &http.Client{Timeout: timeout}}
}

func (c *Client) BaseURL() string { return c.base }

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		rd = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, rd)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 16<<20))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var e struct {
			Error     string `json:"error"`
			Retryable bool   `json:"retryable"`
		}
		msg := strings.TrimSpace(string(data))
		if json.Unmarshal(data, &e) == nil && e.Error != "" {
			msg = e.Error
		}
		return &APIError{StatusCode: resp.StatusCode, Message: msg, Retryable: e.Retryable}
	}
	if out == nil {
		return nil
	}
	if raw, ok := out.(*json.RawMessage); ok {
		*raw = append((*raw)[:0], data...)
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// Report mirrors GET /api/status.
type Report struct {
	Timestamp     time.Time            `json:"timestamp"`
	System        string               `json:"system"`
	Version       string               `json:"version"`
	UptimeSeconds float64              `json:"uptime_seconds"`
	Orchestrator  *orchestrator.Status `json:"orchestrator,omitempty"`
	Memory        *memory.Statistics   `json:"memory,omitempty"`
	Voice         *VoiceStatus         `json:"voice,omitempty"`
}

type VoiceStatus struct {
	Listening bool   `json:"listening"`
	Watching  bool   `json:"watching"`
	Inbox     string `json:"inbox"`
	Processed int64  `json:"processed"`
	Rejected  int64  `json:"rejected"`
}

func (c *Client) Status(ctx context.Context) (Report, error) {
	var r Report
	err := c.do(ctx, http.MethodGet, "/api/status", nil, &r)
	return r, err
}

func (c *Client) Health(ctx context.Context) (json.RawMessage, error) {
	var raw json.RawMessage
	err := c.do(ctx, http.MethodGet, "/api/health", nil, &raw)
	return raw, err
}

// Queued is the answer to a submitted command or task.
type Queued struct {
	TaskID  string          `json:"task_id"`
	Message string          `json:"message,omitempty"`
	Parsed  json.RawMessage `json:"parsed,omitempty"`
}

// Execute parses and queues a natural-language command.
func (c *Client) Execute(ctx context.Context, command string) (Queued, error) {
	var q Queued
	err := c.do(ctx, http.MethodPost, "/api/execute", map[string]string{"command": command}, &q)
	return q, err
}

// Submit queues a structured task.
func (c *Client) Submit(ctx context.Context, in model.TaskInput) (string, error) {
	var q Queued
	if err := c.do(ctx, http.MethodPost, "/api/tasks", in, &q); err != nil {
		return "", err
	}
	return q.TaskID, nil
}

func (c *Client) Task(ctx context.Context, id string) (model.Task, error) {
	var t model.Task
	err := c.do(ctx, http.MethodGet, "/api/tasks/"+url.PathEscape(id), nil, &t)
	return t, err
}

func (c *Client) Tasks(ctx context.Context) (orchestrator.TaskList, error) {
	var l orchestrator.TaskList
	err := c.do(ctx, http.MethodGet, "/api/tasks", nil, &l)
	return l, err
}

// WaitTask polls until the task reaches a terminal status.
func (c *Client) WaitTask(ctx context.Context, id string, every time.Duration) (model.Task, error) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		t, err := c.Task(ctx, id)
		if err != nil {
			return t, err
		}
		if model.IsTaskTerminal(t.Status) {
			return t, nil
		}
		select {
		case <-ctx.Done():
			return t, ctx.Err()
		case <-ticker.C:
		}
	}
}

func (c *Client) Parse(ctx context.Context, command string) (json.RawMessage, error) {
	var raw json.RawMessage
	err := c.do(ctx, http.MethodPost, "/api/parse", map[string]string{"command": command}, &raw)
	return raw, err
}

// Inventory mirrors GET /api/agents.
type Inventory struct {
	Agents       []string                      `json:"agents"`
	Plugins      []string                      `json:"plugins"`
	LoadFailures []orchestrator.FailureInfo    `json:"load_failures"`
	AgentStatus  map[string]model.AgentStatus  `json:"agent_status"`
	PluginStatus map[string]model.PluginStatus `json:"plugin_status"`
}

func (c *Client) Agents(ctx context.Context) (Inventory, error) {
	var inv Inventory
	err := c.do(ctx, http.MethodGet, "/api/agents", nil, &inv)
	return inv, err
}

func (c *Client) RunPlugin(ctx context.Context, name, input string) (string, error) {
	var out struct {
		Output string `json:"output"`
	}
	err := c.do(ctx, http.MethodPost, "/api/plugins/"+url.PathEscape(name)+"/run",
		map[string]string{"input": input}, &out)
	return out.Output, err
}

// ToggleVoice flips inbox listening and returns the new state.
func (c *Client) ToggleVoice(ctx context.Context) (bool, error) {
	var out struct {
		Listening bool `json:"listening"`
	}
	err := c.do(ctx, http.MethodPost, "/api/voice/toggle", nil, &out)
	return out.Listening, err
}

func (c *Client) Memory(ctx context.Context, limit int) ([]model.MemoryEntry, error) {
	var out struct {
		Entries []model.MemoryEntry `json:"entries"`
	}
	err := c.do(ctx, http.MethodGet, "/api/memory?limit="+strconv.Itoa(limit), nil, &out)
	return out.Entries, err
}

func (c *Client) SearchMemory(ctx context.Context, query string, limit int) ([]model.MemoryEntry, error) {
	var out struct {
		Entries []model.MemoryEntry `json:"entries"`
	}
	q := url.Values{"q": {query}, "limit": {strconv.Itoa(limit)}}
	err := c.do(ctx, http.MethodGet, "/api/memory/search?"+q.Encode(), nil, &out)
	return out.Entries, err
}

func (c *Client) MemoryStats(ctx context.Context) (memory.Statistics, error) {
	var st memory.Statistics
	err := c.do(ctx, http.MethodGet, "/api/memory/stats", nil, &st)
	return st, err
}

func (c *Client) ClearMemory(ctx context.Context) error {
	return c.do(ctx, http.MethodPost, "/api/memory/clear", nil, nil)
}

func (c *Client) DeleteMemory(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, "/api/memory/"+url.PathEscape(id), nil, nil)
}

// ExportMemory asks the daemon to write a plaintext export into its exports
// directory and returns the written path and entry count.
func (c *Client) ExportMemory(ctx context.Context, filename string) (string, int, error) {
	var out struct {
		Filename string `json:"filename"`
		Entries  int    `json:"entries"`
	}
	var body any
	if filename != "" {
		body = map[string]string{"filename": filename}
	}
	err := c.do(ctx, http.MethodPost, "/api/memory/export", body, &out)
	return out.Filename, out.Entries, err
}
