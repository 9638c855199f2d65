package models

import (
	"fmt"
	"time"
)

// Event types published by the execution engine.
const (
	EventExecutionStarted   = "execution_started"
	EventTeamStarted        = "team_started"
	EventSupervisorRouting  = "supervisor_routing"
	EventAgentStarted       = "agent_started"
	EventAgentProgress      = "agent_progress"
	EventAgentCompleted     = "agent_completed"
	EventAgentError         = "agent_error"
	EventTeamCompleted      = "team_completed"
	EventWarning            = "warning"
	EventExecutionCompleted = "execution_completed"
	EventStreamError        = "stream_error"
)

// SourceType identifies which layer produced an event.
type SourceType string

const (
	SourceSystem     SourceType = "system"
	SourceSupervisor SourceType = "supervisor"
	SourceAgent      SourceType = "agent"
)

// ValidSourceTypes is the closed set accepted by event validation.
var ValidSourceTypes = map[SourceType]bool{
	SourceSystem:     true,
	SourceSupervisor: true,
	SourceAgent:      true,
}

// ExecutionEvent is a single lifecycle event for one execution.
// Events are immutable once published. Optional fields are set only when
// meaningful for the event type; JSON marshalling omits the rest.
type ExecutionEvent struct {
	Timestamp      time.Time  `json:"timestamp"`
	EventType      string     `json:"event_type"`
	SourceType     SourceType `json:"source_type"`
	ExecutionID    string     `json:"execution_id"`
	TeamID         string     `json:"team_id,omitempty"`
	SupervisorID   string     `json:"supervisor_id,omitempty"`
	SupervisorName string     `json:"supervisor_name,omitempty"`
	WorkerID       string     `json:"worker_id,omitempty"`
	WorkerName     string     `json:"worker_name,omitempty"`
	Content        string     `json:"content,omitempty"`
	Action         string     `json:"action,omitempty"`
	Status         string     `json:"status,omitempty"`
	Progress       *int       `json:"progress,omitempty"`
	Result         string     `json:"result,omitempty"`
	SelectedTeam   string     `json:"selected_team,omitempty"`
	SelectedAgent  string     `json:"selected_agent,omitempty"`
}

// Validate checks the event invariants: known source type, execution id set,
// progress in [0, 100] when present.
func (e *ExecutionEvent) Validate() error {
	if !ValidSourceTypes[e.SourceType] {
		return NewValidationError("source_type", fmt.Sprintf("unknown source type %q", e.SourceType))
	}
	if e.ExecutionID == "" {
		return NewValidationError("execution_id", "execution id is required")
	}
	if e.EventType == "" {
		return NewValidationError("event_type", "event type is required")
	}
	if e.Progress != nil && (*e.Progress < 0 || *e.Progress > 100) {
		return NewValidationError("progress", "progress must be in [0, 100]")
	}
	return nil
}

// Clone returns a copy of the event. Subscribers receive copies so a
// published event can never be mutated after the fact.
func (e *ExecutionEvent) Clone() *ExecutionEvent {
	c := *e
	if e.Progress != nil {
		p := *e.Progress
		c.Progress = &p
	}
	return &c
}
