package model

import (
	"regexp"
	"strings"

	"github.com/google/uuid"
)

var entryIDRegex = regexp.MustCompile(`^[0-9a-f]{8}$`)

// NewTaskID returns a random UUID string.
func NewTaskID() string {
	return uuid.NewString()
}

// ValidateTaskID reports whether id parses as a UUID.
func ValidateTaskID(id string) bool {
	_, err := uuid.Parse(id)
	return err == nil
}

// NewEntryID returns a short memory entry id: the first 8 hex chars of a UUID.
// Callers must check for collisions against existing entries.
func NewEntryID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
}

func ValidateEntryID(id string) bool {
	return entryIDRegex.MatchString(id)
}
