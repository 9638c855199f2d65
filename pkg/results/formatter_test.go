package results

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/covey-team/covey/pkg/models"
	"github.com/covey-team/covey/pkg/store"
)

var base = time.Date(2026, 8, 24, 10, 0, 0, 0, time.UTC)

func event(eventType string, at time.Time, workerID string) models.ExecutionEvent {
	return models.ExecutionEvent{
		Timestamp:   at,
		EventType:   eventType,
		SourceType:  models.SourceSystem,
		ExecutionID: "exec_0123456789ab",
		WorkerID:    workerID,
	}
}

func completedState() *models.ExecutionState {
	done := base.Add(30 * time.Second)
	return &models.ExecutionState{
		ExecutionID: "exec_0123456789ab",
		TeamID:      "ht_0a1b2c3d4",
		Status:      models.ExecutionCompleted,
		Context: models.ExecutionContext{
			ExecutionID: "exec_0123456789ab",
			TeamID:      "ht_0a1b2c3d4",
			StartedAt:   base,
		},
		Events: []models.ExecutionEvent{
			event(models.EventExecutionStarted, base, ""),
			event(models.EventSupervisorRouting, base.Add(time.Second), ""),
			event(models.EventAgentStarted, base.Add(2*time.Second), "w1"),
			event(models.EventAgentCompleted, base.Add(12*time.Second), "w1"),
			event(models.EventSupervisorRouting, base.Add(13*time.Second), ""),
			event(models.EventAgentStarted, base.Add(14*time.Second), "w2"),
			event(models.EventAgentCompleted, base.Add(18*time.Second), "w2"),
			event(models.EventExecutionCompleted, done, ""),
		},
		TeamResults: map[string]models.TeamResult{
			"research": {Status: models.TeamCompleted, Output: "findings: 1234", DurationSeconds: 12},
			"writing":  {Status: models.TeamCompleted, Output: "report", DurationSeconds: 5},
		},
		Errors: []models.ErrorInfo{},
	}
}

func TestFromStateCompletedExecution(t *testing.T) {
	out := FromState(completedState())

	assert.Equal(t, "exec_0123456789ab", out.ExecutionID)
	assert.Equal(t, string(models.ExecutionCompleted), out.Summary.Status)
	assert.Equal(t, base, out.Summary.StartedAt)
	require.NotNil(t, out.Summary.CompletedAt)
	assert.Equal(t, base.Add(30*time.Second), *out.Summary.CompletedAt)
	require.NotNil(t, out.Summary.TotalDurationSeconds)
	assert.Equal(t, 30.0, *out.Summary.TotalDurationSeconds)
	assert.Equal(t, 2, out.Summary.TeamsExecuted)
	assert.Equal(t, 2, out.Summary.AgentsInvolved)
	assert.Equal(t, 1.0, out.Metrics.SuccessRate)

	// Response times: w1 took 10s, w2 took 4s.
	assert.InDelta(t, 7.0, out.Metrics.AvgResponseTimeSecs, 0.001)
}

func TestMetricsEstimatesWhenNoExactCounters(t *testing.T) {
	state := completedState()
	state.Metrics = models.ExecutionMetrics{}

	out := FromState(state)

	// 2 worker executions, 2 routings, 20 output chars.
	assert.Equal(t, 2*100+2*50+5, out.Metrics.TotalTokensUsed)
	assert.Equal(t, 4, out.Metrics.APICallsMade)
}

func TestMetricsPrefersExactCounters(t *testing.T) {
	state := completedState()
	state.Metrics = models.ExecutionMetrics{TotalTokensUsed: 4321, APICallsMade: 9}

	out := FromState(state)
	assert.Equal(t, 4321, out.Metrics.TotalTokensUsed)
	assert.Equal(t, 9, out.Metrics.APICallsMade)
}

func TestOverallStatusDerivation(t *testing.T) {
	tests := []struct {
		name     string
		statuses []models.TeamStatus
		want     string
	}{
		{"empty is pending", nil, "pending"},
		{"all completed", []models.TeamStatus{models.TeamCompleted, models.TeamCompleted}, "completed"},
		{"any failed wins", []models.TeamStatus{models.TeamCompleted, models.TeamFailed}, "failed"},
		{"skipped without failure is running", []models.TeamStatus{models.TeamCompleted, models.TeamSkipped}, "running"},
		{"still running", []models.TeamStatus{models.TeamCompleted, models.TeamRunning}, "running"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			trs := map[string]models.TeamResult{}
			for i, s := range tt.statuses {
				trs[string(rune('a'+i))] = models.TeamResult{Status: s}
			}
			assert.Equal(t, tt.want, overallStatus(trs))
		})
	}
}

func TestCompletionTimeFallsBackToTerminalTeamEvent(t *testing.T) {
	state := completedState()
	// Drop execution_completed; latest terminal team event should win.
	state.Events = state.Events[:len(state.Events)-1]
	teamDone := event(models.EventTeamCompleted, base.Add(20*time.Second), "")
	teamDone.Status = string(models.TeamCompleted)
	state.Events = append(state.Events, teamDone)

	out := FromState(state)
	require.NotNil(t, out.Summary.CompletedAt)
	assert.Equal(t, base.Add(20*time.Second), *out.Summary.CompletedAt)
}

func TestStartedAtFallsBackToEarliestEvent(t *testing.T) {
	state := completedState()
	state.Context.StartedAt = time.Time{}

	out := FromState(state)
	assert.Equal(t, base, out.Summary.StartedAt)
}

func TestCollectNotFound(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	st, err := store.NewRedisStore(store.Options{Client: client, Prefix: "resultstest"})
	require.NoError(t, err)
	defer st.Close()

	_, err = Collect(context.Background(), st, "exec_0123456789ab")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestCollectRoundTrip(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	st, err := store.NewRedisStore(store.Options{Client: client, Prefix: "resultstest"})
	require.NoError(t, err)
	defer st.Close()

	ctx := context.Background()
	require.NoError(t, st.Create(ctx, "exec_0123456789ab", "ht_0a1b2c3d4", models.ExecutionContext{
		ExecutionID: "exec_0123456789ab",
		TeamID:      "ht_0a1b2c3d4",
		StartedAt:   base,
	}))
	require.NoError(t, st.UpdateTeamResult(ctx, "exec_0123456789ab", "research",
		models.TeamResult{Status: models.TeamCompleted, Output: "findings"}))

	out, err := Collect(ctx, st, "exec_0123456789ab")
	require.NoError(t, err)
	assert.Equal(t, "findings", out.TeamResults["research"].Output)
	assert.Equal(t, string(models.ExecutionCompleted), out.Summary.Status)
}
