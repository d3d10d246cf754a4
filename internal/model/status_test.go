package model

import "testing"

func TestIsTaskTerminal(t *testing.T) {
	tests := []struct {
		status   TaskStatus
		terminal bool
	}{
		{TaskStatusQueued, false},
		{TaskStatusProcessing, false},
		{TaskStatusCompleted, true},
		{TaskStatusFailed, true},
		{TaskStatusError, true},
	}
	for _, tt := range tests {
		t.Run(string(tt.status), func(t *testing.T) {
			if got := IsTaskTerminal(tt.status); got != tt.terminal {
				t.Errorf("IsTaskTerminal(%q) = %v, want %v", tt.status, got, tt.terminal)
			}
		})
	}
}

func TestValidateTaskTransition(t *testing.T) {
	tests := []struct {
		name    string
		from    TaskStatus
		to      TaskStatus
		wantErr bool
	}{
		{"queued to processing", TaskStatusQueued, TaskStatusProcessing, false},
		{"queued to error", TaskStatusQueued, TaskStatusError, false},
		{"processing to completed", TaskStatusProcessing, TaskStatusCompleted, false},
		{"processing to failed", TaskStatusProcessing, TaskStatusFailed, false},
		{"processing to error", TaskStatusProcessing, TaskStatusError, false},
		{"queued to completed", TaskStatusQueued, TaskStatusCompleted, true},
		{"processing to queued", TaskStatusProcessing, TaskStatusQueued, true},
		{"completed to processing", TaskStatusCompleted, TaskStatusProcessing, true},
		{"error to queued", TaskStatusError, TaskStatusQueued, true},
		{"unknown from", TaskStatus("bogus"), TaskStatusProcessing, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateTaskTransition(tt.from, tt.to)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateTaskTransition(%q, %q) error = %v, wantErr %v", tt.from, tt.to, err, tt.wantErr)
			}
		})
	}
}

func TestHealthLevelFor(t *testing.T) {
	tests := []struct {
		pct  float64
		want HealthLevel
	}{
		{100, HealthExcellent},
		{90, HealthExcellent},
		{89.9, HealthGood},
		{70, HealthGood},
		{69, HealthWarning},
		{50, HealthWarning},
		{49.99, HealthCritical},
		{0, HealthCritical},
	}
	for _, tt := range tests {
		if got := HealthLevelFor(tt.pct); got != tt.want {
			t.Errorf("HealthLevelFor(%v) = %q, want %q", tt.pct, got, tt.want)
		}
	}
}
