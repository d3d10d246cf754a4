package model

import "fmt"

// TaskStatus is the lifecycle state of an orchestrator task.
type TaskStatus string

const (
	TaskStatusQueued     TaskStatus = "queued"
	TaskStatusProcessing TaskStatus = "processing"
	TaskStatusCompleted  TaskStatus = "completed"
	TaskStatusFailed     TaskStatus = "failed"
	TaskStatusError      TaskStatus = "error"
)

var terminalTaskStatuses = map[TaskStatus]bool{
	TaskStatusCompleted: true,
	TaskStatusFailed:    true,
	TaskStatusError:     true,
}

// queued → processing → completed|failed|error.
// queued → error covers tasks still queued when the worker stops.
var validTaskTransitions = map[TaskStatus]map[TaskStatus]bool{
	TaskStatusQueued: {
		TaskStatusProcessing: true,
		TaskStatusError:      true,
	},
	TaskStatusProcessing: {
		TaskStatusCompleted: true,
		TaskStatusFailed:    true,
		TaskStatusError:     true,
	},
}

func IsTaskTerminal(s TaskStatus) bool {
	return terminalTaskStatuses[s]
}

func ValidateTaskTransition(from, to TaskStatus) error {
	if IsTaskTerminal(from) {
		return fmt.Errorf("cannot transition from terminal status %q", from)
	}
	allowed, ok := validTaskTransitions[from]
	if !ok {
		return fmt.Errorf("unknown status %q", from)
	}
	if !allowed[to] {
		return fmt.Errorf("invalid task transition: %q → %q", from, to)
	}
	return nil
}

// HealthLevel buckets the ratio of healthy agents.
type HealthLevel string

const (
	HealthExcellent HealthLevel = "excellent"
	HealthGood      HealthLevel = "good"
	HealthWarning   HealthLevel = "warning"
	HealthCritical  HealthLevel = "critical"
)

// HealthLevelFor maps a percentage in [0,100] to its bucket.
func HealthLevelFor(pct float64) HealthLevel {
	switch {
	case pct >= 90:
		return HealthExcellent
	case pct >= 70:
		return HealthGood
	case pct >= 50:
		return HealthWarning
	default:
		return HealthCritical
	}
}
