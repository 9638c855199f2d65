package models

import (
	"regexp"
	"strings"

	"github.com/google/uuid"
)

// Identifier shapes. Execution ids are "exec_" + 12 hex chars (length
// 17); team ids are "ht_" + 9 hex chars (length 12). Lookups with a
// malformed id are treated as not-found without touching the store.
var (
	executionIDPattern = regexp.MustCompile(`^exec_[0-9a-f]{12}$`)
	teamIDPattern      = regexp.MustCompile(`^ht_[0-9a-f]{9}$`)
)

func hexTail(n int) string {
	return strings.ReplaceAll(uuid.New().String(), "-", "")[:n]
}

// NewExecutionID generates a fresh execution id.
func NewExecutionID() string {
	return "exec_" + hexTail(12)
}

// NewTeamID generates a fresh team id.
func NewTeamID() string {
	return "ht_" + hexTail(9)
}

// ValidExecutionID reports whether id has the execution id shape.
func ValidExecutionID(id string) bool {
	return executionIDPattern.MatchString(id)
}

// ValidTeamID reports whether id has the team id shape.
func ValidTeamID(id string) bool {
	return teamIDPattern.MatchString(id)
}
