package model

import "time"

// TaskInput is what callers hand to the orchestrator.
type TaskInput struct {
	Type       string         `json:"type"`
	Command    string         `json:"command"`
	Agent      string         `json:"agent,omitempty"`
	Target     string         `json:"target,omitempty"`
	Parameters map[string]any `json:"parameters,omitempty"`
	Source     string         `json:"source,omitempty"`
}

// Task is a unit of work routed to exactly one agent.
type Task struct {
	ID          string         `json:"id"`
	Type        string         `json:"type"`
	Command     string         `json:"command"`
	Agent       string         `json:"agent,omitempty"`
	Target      string         `json:"target,omitempty"`
	Parameters  map[string]any `json:"parameters,omitempty"`
	Source      string         `json:"source,omitempty"`
	Status      TaskStatus     `json:"status"`
	CreatedAt   time.Time      `json:"created_at"`
	StartedAt   *time.Time     `json:"started_at,omitempty"`
	CompletedAt *time.Time     `json:"completed_at,omitempty"`
	Output      string         `json:"output,omitempty"`
	Data        map[string]any `json:"data,omitempty"`
	Error       string         `json:"error,omitempty"`
	Retryable   bool           `json:"retryable,omitempty"`
}

// Clone returns a copy whose maps and time pointers are not shared.
func (t Task) Clone() Task {
	c := t
	if t.Parameters != nil {
		c.Parameters = make(map[string]any, len(t.Parameters))
		for k, v := range t.Parameters {
			c.Parameters[k] = v
		}
	}
	if t.Data != nil {
		c.Data = make(map[string]any, len(t.Data))
		for k, v := range t.Data {
			c.Data[k] = v
		}
	}
	if t.StartedAt != nil {
		ts := *t.StartedAt
		c.StartedAt = &ts
	}
	if t.CompletedAt != nil {
		ts := *t.CompletedAt
		c.CompletedAt = &ts
	}
	return c
}

// Duration is zero until the task has both started and finished.
func (t Task) Duration() time.Duration {
	if t.StartedAt == nil || t.CompletedAt == nil {
		return 0
	}
	return t.CompletedAt.Sub(*t.StartedAt)
}

// AgentStatus is the orchestrator's bookkeeping for one loaded agent.
type AgentStatus struct {
	Name           string     `json:"name"`
	Description    string     `json:"description,omitempty"`
	Loaded         bool       `json:"loaded"`
	Running        int        `json:"running"`
	LastActivity   *time.Time `json:"last_activity,omitempty"`
	TasksProcessed int        `json:"tasks_processed"`
	Errors         int        `json:"errors"`
}

// PluginStatus is the orchestrator's bookkeeping for one loaded plugin.
type PluginStatus struct {
	Name        string     `json:"name"`
	Description string     `json:"description,omitempty"`
	Loaded      bool       `json:"loaded"`
	Active      bool       `json:"active"`
	LastUsed    *time.Time `json:"last_used,omitempty"`
	UsageCount  int        `json:"usage_count"`
}

// MemoryEntry is one record of the encrypted memory log.
type MemoryEntry struct {
	ID        string         `json:"id"`
	Timestamp time.Time      `json:"timestamp"`
	Command   string         `json:"command"`
	Result    string         `json:"result"`
	Agent     string         `json:"agent"`
	Success   bool           `json:"success"`
	Metadata  map[string]any `json:"metadata"`
}
