package bus

import (
	"time"

	"github.com/covey-team/covey/pkg/models"
)

// Event constructors. Each fixes the source type and fills the
// well-known fields for its event type; callers publish the result and
// may also persist it.

// ExecutionStarted builds the execution_started system event.
func ExecutionStarted(executionID, teamID string) *models.ExecutionEvent {
	return &models.ExecutionEvent{
		Timestamp:   time.Now().UTC(),
		EventType:   models.EventExecutionStarted,
		SourceType:  models.SourceSystem,
		ExecutionID: executionID,
		TeamID:      teamID,
		Status:      string(models.ExecutionRunning),
	}
}

// TeamStarted builds a team_started system event for one sub-team.
func TeamStarted(executionID, teamID string) *models.ExecutionEvent {
	return &models.ExecutionEvent{
		Timestamp:   time.Now().UTC(),
		EventType:   models.EventTeamStarted,
		SourceType:  models.SourceSystem,
		ExecutionID: executionID,
		TeamID:      teamID,
		Status:      string(models.TeamRunning),
	}
}

// SupervisorRouting builds the supervisor's worker selection event.
func SupervisorRouting(executionID, teamID, supervisorName, selectedAgent, reasoning string) *models.ExecutionEvent {
	return &models.ExecutionEvent{
		Timestamp:      time.Now().UTC(),
		EventType:      models.EventSupervisorRouting,
		SourceType:     models.SourceSupervisor,
		ExecutionID:    executionID,
		TeamID:         teamID,
		SupervisorID:   teamID + ":supervisor",
		SupervisorName: supervisorName,
		SelectedAgent:  selectedAgent,
		Content:        reasoning,
		Action:         "route",
	}
}

// AgentStarted builds an agent_started event for one worker.
func AgentStarted(executionID, teamID, workerID, workerName string) *models.ExecutionEvent {
	return &models.ExecutionEvent{
		Timestamp:   time.Now().UTC(),
		EventType:   models.EventAgentStarted,
		SourceType:  models.SourceAgent,
		ExecutionID: executionID,
		TeamID:      teamID,
		WorkerID:    workerID,
		WorkerName:  workerName,
		Status:      string(models.TeamRunning),
	}
}

// AgentProgress builds an agent_progress event with progress in [0, 100].
func AgentProgress(executionID, teamID, workerID string, progress int, content string) *models.ExecutionEvent {
	return &models.ExecutionEvent{
		Timestamp:   time.Now().UTC(),
		EventType:   models.EventAgentProgress,
		SourceType:  models.SourceAgent,
		ExecutionID: executionID,
		TeamID:      teamID,
		WorkerID:    workerID,
		Progress:    &progress,
		Content:     content,
	}
}

// AgentCompleted builds an agent_completed event with the worker's
// result text.
func AgentCompleted(executionID, teamID, workerID, workerName, result string) *models.ExecutionEvent {
	return &models.ExecutionEvent{
		Timestamp:   time.Now().UTC(),
		EventType:   models.EventAgentCompleted,
		SourceType:  models.SourceAgent,
		ExecutionID: executionID,
		TeamID:      teamID,
		WorkerID:    workerID,
		WorkerName:  workerName,
		Status:      string(models.TeamCompleted),
		Result:      result,
	}
}

// AgentError builds an agent_error event.
func AgentError(executionID, teamID, workerID, workerName, message string) *models.ExecutionEvent {
	return &models.ExecutionEvent{
		Timestamp:   time.Now().UTC(),
		EventType:   models.EventAgentError,
		SourceType:  models.SourceAgent,
		ExecutionID: executionID,
		TeamID:      teamID,
		WorkerID:    workerID,
		WorkerName:  workerName,
		Status:      string(models.TeamFailed),
		Content:     message,
	}
}

// TeamCompleted builds a team_completed system event with the
// sub-team's terminal status.
func TeamCompleted(executionID, teamID string, status models.TeamStatus) *models.ExecutionEvent {
	return &models.ExecutionEvent{
		Timestamp:   time.Now().UTC(),
		EventType:   models.EventTeamCompleted,
		SourceType:  models.SourceSystem,
		ExecutionID: executionID,
		TeamID:      teamID,
		Status:      string(status),
	}
}

// Warning builds a non-fatal warning event (for example a routing
// fallback).
func Warning(executionID, teamID, message string) *models.ExecutionEvent {
	return &models.ExecutionEvent{
		Timestamp:   time.Now().UTC(),
		EventType:   models.EventWarning,
		SourceType:  models.SourceSystem,
		ExecutionID: executionID,
		TeamID:      teamID,
		Content:     message,
	}
}

// ExecutionCompleted builds the terminal execution_completed event.
func ExecutionCompleted(executionID string, status models.ExecutionStatus, result string) *models.ExecutionEvent {
	return &models.ExecutionEvent{
		Timestamp:   time.Now().UTC(),
		EventType:   models.EventExecutionCompleted,
		SourceType:  models.SourceSystem,
		ExecutionID: executionID,
		Status:      string(status),
		Result:      result,
	}
}
