// Package results turns persisted execution state into the
// StandardizedOutput served to clients, and renders it as JSON, XML, or
// Markdown. The formatter is pure over its input: it never mutates the
// store.
package results

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/covey-team/covey/pkg/models"
	"github.com/covey-team/covey/pkg/store"
)

// Heuristic cost constants used when the runner did not supply exact
// counters.
const (
	tokensPerWorkerExecution   = 100
	tokensPerSupervisorRouting = 50
)

// Collect reads the execution state and produces its StandardizedOutput.
// Returns store.ErrNotFound when the id has no persisted state.
func Collect(ctx context.Context, st store.StateStore, executionID string) (*models.StandardizedOutput, error) {
	state, err := st.Get(ctx, executionID)
	if err != nil {
		return nil, fmt.Errorf("read execution state: %w", err)
	}
	if state == nil {
		return nil, store.ErrNotFound
	}
	return FromState(state), nil
}

// FromState derives the StandardizedOutput from one state snapshot.
func FromState(state *models.ExecutionState) *models.StandardizedOutput {
	teamResults := state.TeamResults
	if teamResults == nil {
		teamResults = map[string]models.TeamResult{}
	}
	errs := state.Errors
	if errs == nil {
		errs = []models.ErrorInfo{}
	}

	return &models.StandardizedOutput{
		ExecutionID: state.ExecutionID,
		Summary:     deriveSummary(state),
		TeamResults: teamResults,
		Errors:      errs,
		Metrics:     computeMetrics(state),
	}
}

// deriveSummary rolls the per-team statuses up into an overall status
// and time bounds. A terminal execution status is authoritative: a
// cancelled execution is failed even when no individual team failed.
func deriveSummary(state *models.ExecutionState) models.ExecutionSummary {
	status := overallStatus(state.TeamResults)
	if state.Status.Terminal() {
		status = string(state.Status)
	}

	startedAt := state.Context.StartedAt
	if startedAt.IsZero() && len(state.Events) > 0 {
		startedAt = state.Events[0].Timestamp
	}

	var completedAt *time.Time
	if at, ok := completionTime(state.Events); ok {
		completedAt = &at
	}

	var duration *float64
	if completedAt != nil && !startedAt.IsZero() {
		d := completedAt.Sub(startedAt).Seconds()
		duration = &d
	}

	return models.ExecutionSummary{
		Status:               status,
		StartedAt:            startedAt,
		CompletedAt:          completedAt,
		TotalDurationSeconds: duration,
		TeamsExecuted:        len(state.TeamResults),
		AgentsInvolved:       agentsInvolved(state),
	}
}

// overallStatus is completed iff every team completed, failed when any
// team failed, running otherwise, pending when there are no teams.
func overallStatus(teamResults map[string]models.TeamResult) string {
	if len(teamResults) == 0 {
		return string(models.ExecutionPending)
	}
	allCompleted := true
	for _, tr := range teamResults {
		switch tr.Status {
		case models.TeamFailed:
			return string(models.ExecutionFailed)
		case models.TeamCompleted:
		default:
			allCompleted = false
		}
	}
	if allCompleted {
		return string(models.ExecutionCompleted)
	}
	return string(models.ExecutionRunning)
}

// completionTime is the execution_completed timestamp when present,
// otherwise the latest terminal team_completed event.
func completionTime(events []models.ExecutionEvent) (time.Time, bool) {
	var latestTerminal time.Time
	found := false
	for i := range events {
		evt := &events[i]
		if evt.EventType == models.EventExecutionCompleted {
			return evt.Timestamp, true
		}
		if evt.EventType == models.EventTeamCompleted {
			s := models.TeamStatus(evt.Status)
			if s == models.TeamCompleted || s == models.TeamFailed || s == models.TeamSkipped {
				if evt.Timestamp.After(latestTerminal) {
					latestTerminal = evt.Timestamp
					found = true
				}
			}
		}
	}
	return latestTerminal, found
}

func agentsInvolved(state *models.ExecutionState) int {
	ids := make(map[string]bool)
	for _, tr := range state.TeamResults {
		for workerID := range tr.WorkerResults {
			ids[workerID] = true
		}
	}
	for i := range state.Events {
		if state.Events[i].WorkerID != "" {
			ids[state.Events[i].WorkerID] = true
		}
	}
	return len(ids)
}

// computeMetrics prefers the exact counters accumulated by the engine
// and falls back to event-derived estimates when they are absent.
func computeMetrics(state *models.ExecutionState) models.ExecutionMetrics {
	workerExecutions := 0
	routings := 0
	starts := make(map[string]time.Time)
	var responseTimes []float64

	for i := range state.Events {
		evt := &state.Events[i]
		switch evt.EventType {
		case models.EventSupervisorRouting:
			routings++
		case models.EventAgentStarted:
			starts[evt.WorkerID] = evt.Timestamp
		case models.EventAgentCompleted:
			workerExecutions++
			if at, ok := starts[evt.WorkerID]; ok {
				responseTimes = append(responseTimes, evt.Timestamp.Sub(at).Seconds())
				delete(starts, evt.WorkerID)
			}
		}
	}

	tokens := state.Metrics.TotalTokensUsed
	if tokens == 0 {
		outputLen := 0
		for _, tr := range state.TeamResults {
			outputLen += len(tr.Output)
		}
		tokens = workerExecutions*tokensPerWorkerExecution +
			routings*tokensPerSupervisorRouting +
			int(math.Ceil(float64(outputLen)/4))
	}

	apiCalls := state.Metrics.APICallsMade
	if apiCalls == 0 {
		apiCalls = workerExecutions + routings
	}

	completed := 0
	for _, tr := range state.TeamResults {
		if tr.Status == models.TeamCompleted {
			completed++
		}
	}
	rate := 0.0
	if n := len(state.TeamResults); n > 0 {
		rate = float64(completed) / float64(n)
	}

	avg := 0.0
	if len(responseTimes) > 0 {
		sum := 0.0
		for _, rt := range responseTimes {
			sum += rt
		}
		avg = sum / float64(len(responseTimes))
	}

	return models.ExecutionMetrics{
		TotalTokensUsed:     tokens,
		APICallsMade:        apiCalls,
		SuccessRate:         rate,
		AvgResponseTimeSecs: avg,
	}
}
