package memory

import (
	"os"
	"time"
)

type Statistics struct {
	TotalEntries     int            `json:"total_entries"`
	SuccessfulTasks  int            `json:"successful_tasks"`
	FailedTasks      int            `json:"failed_tasks"`
	SuccessRate      float64        `json:"success_rate"`
	AgentUsage       map[string]int `json:"agent_usage"`
	RecentEntries24h int            `json:"recent_entries_24h"`
	FileSizeBytes    int64          `json:"file_size_bytes"`
	LegacyPlaintext  bool           `json:"legacy_plaintext"`
}

type Health struct {
	Status        string `json:"status"`
	FileExists    bool   `json:"file_exists"`
	FileSizeBytes int64  `json:"file_size_bytes"`
	EntryCount    int    `json:"entry_count"`
	Encrypted     bool   `json:"encrypted"`
}

// Statistics summarizes the log. SuccessRate is a percentage.
func (e *Engine) Statistics() Statistics {
	e.mu.RLock()
	defer e.mu.RUnlock()

	st := Statistics{
		TotalEntries:    len(e.entries),
		AgentUsage:      map[string]int{},
		LegacyPlaintext: e.legacy,
	}
	cutoff := e.now().Add(-24 * time.Hour)
	for _, en := range e.entries {
		if en.Success {
			st.SuccessfulTasks++
		} else {
			st.FailedTasks++
		}
		st.AgentUsage[en.Agent]++
		if en.Timestamp.After(cutoff) {
			st.RecentEntries24h++
		}
	}
	if st.TotalEntries > 0 {
		st.SuccessRate = float64(st.SuccessfulTasks) / float64(st.TotalEntries) * 100
	}
	if info, err := os.Stat(e.path); err == nil {
		st.FileSizeBytes = info.Size()
	}
	return st
}

func (e *Engine) Health() Health {
	e.mu.RLock()
	defer e.mu.RUnlock()

	h := Health{Status: "healthy", EntryCount: len(e.entries), Encrypted: !e.legacy}
	if info, err := os.Stat(e.path); err == nil {
		h.FileExists = true
		h.FileSizeBytes = info.Size()
	}
	if e.legacy {
		h.Status = "degraded"
	}
	return h
}
