package models

import "time"

// ExecutionStatus represents the lifecycle state of an execution.
type ExecutionStatus string

const (
	ExecutionPending   ExecutionStatus = "pending"
	ExecutionRunning   ExecutionStatus = "running"
	ExecutionPaused    ExecutionStatus = "paused"
	ExecutionCompleted ExecutionStatus = "completed"
	ExecutionFailed    ExecutionStatus = "failed"
)

// ValidExecutionStatuses is the closed set accepted by status filters.
var ValidExecutionStatuses = map[ExecutionStatus]bool{
	ExecutionPending:   true,
	ExecutionRunning:   true,
	ExecutionPaused:    true,
	ExecutionCompleted: true,
	ExecutionFailed:    true,
}

// Terminal reports whether the status is a terminal state.
func (s ExecutionStatus) Terminal() bool {
	return s == ExecutionCompleted || s == ExecutionFailed
}

// TeamStatus represents the lifecycle state of a single sub-team within an
// execution. skipped marks teams whose prerequisite chain was broken by an
// upstream failure; they never start.
type TeamStatus string

const (
	TeamPending   TeamStatus = "pending"
	TeamRunning   TeamStatus = "running"
	TeamCompleted TeamStatus = "completed"
	TeamFailed    TeamStatus = "failed"
	TeamSkipped   TeamStatus = "skipped"
)

// ExecutionContext carries the immutable identity of one execution.
type ExecutionContext struct {
	ExecutionID   string          `json:"execution_id"`
	TeamID        string          `json:"team_id"`
	Config        ExecutionConfig `json:"config"`
	StartedAt     time.Time       `json:"started_at"`
	CurrentTeamID string          `json:"current_team_id,omitempty"`
}

// TeamState is the per-sub-team runtime slot persisted inside ExecutionState.
type TeamState struct {
	Next            string     `json:"next,omitempty"`
	TeamID          string     `json:"team_id"`
	DependenciesMet bool       `json:"dependencies_met"`
	Status          TeamStatus `json:"status"`
	CurrentWorker   string     `json:"current_worker,omitempty"`
}

// ExecutionState is the full persisted state of one execution, keyed by
// execution id in the state store. Mutated only by the engine; each mutation
// bumps UpdatedAt.
type ExecutionState struct {
	ExecutionID string                `json:"execution_id"`
	TeamID      string                `json:"team_id"`
	Status      ExecutionStatus       `json:"status"`
	Context     ExecutionContext      `json:"context"`
	Events      []ExecutionEvent      `json:"events"`
	TeamStates  map[string]TeamState  `json:"team_states"`
	TeamResults map[string]TeamResult `json:"team_results"`
	Summary     *ExecutionSummary     `json:"summary,omitempty"`
	Errors      []ErrorInfo           `json:"errors"`
	Metrics     ExecutionMetrics      `json:"metrics"`
	CreatedAt   time.Time             `json:"created_at"`
	UpdatedAt   time.Time             `json:"updated_at"`
}

// NewExecutionState builds the initial state persisted at execution start:
// empty event list, empty team states/results/errors, zeroed metrics.
func NewExecutionState(executionID, teamID string, execCtx ExecutionContext) *ExecutionState {
	now := time.Now().UTC()
	return &ExecutionState{
		ExecutionID: executionID,
		TeamID:      teamID,
		Status:      ExecutionPending,
		Context:     execCtx,
		Events:      []ExecutionEvent{},
		TeamStates:  map[string]TeamState{},
		TeamResults: map[string]TeamResult{},
		Errors:      []ErrorInfo{},
		Metrics:     ExecutionMetrics{},
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}
