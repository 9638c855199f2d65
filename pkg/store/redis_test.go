package store

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/covey-team/covey/pkg/models"
)

func newTestStore(t *testing.T) (*RedisStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	s, err := NewRedisStore(Options{
		Client:      client,
		Prefix:      "coveytest",
		TTL:         time.Hour,
		LockTTL:     time.Second,
		LockRetries: 3,
		LockBackoff: 5 * time.Millisecond,
	})
	require.NoError(t, err)
	return s, mr
}

func testContext(executionID string) models.ExecutionContext {
	return models.ExecutionContext{
		ExecutionID: executionID,
		TeamID:      "ht_0a1b2c3d4",
		Config:      models.ExecutionConfig{StreamEvents: true, MaxParallelTeams: 1},
		StartedAt:   time.Now().UTC(),
	}
}

func TestNewRedisStoreRequiresClient(t *testing.T) {
	_, err := NewRedisStore(Options{})
	assert.ErrorIs(t, err, ErrNotInitialized)
}

func TestCreateThenGetRoundTrip(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	execCtx := testContext("exec_abc123def456")
	require.NoError(t, s.Create(ctx, "exec_abc123def456", "ht_0a1b2c3d4", execCtx))

	state, err := s.Get(ctx, "exec_abc123def456")
	require.NoError(t, err)
	require.NotNil(t, state)
	assert.Equal(t, "exec_abc123def456", state.ExecutionID)
	assert.Equal(t, "ht_0a1b2c3d4", state.TeamID)
	assert.Equal(t, models.ExecutionPending, state.Status)
	assert.Equal(t, execCtx.Config, state.Context.Config)
	assert.Empty(t, state.Events)
	assert.Empty(t, state.Errors)
	assert.False(t, state.UpdatedAt.Before(state.CreatedAt))
}

func TestCreateDuplicateFails(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Create(ctx, "exec_abc123def456", "ht_0a1b2c3d4", testContext("exec_abc123def456")))
	err := s.Create(ctx, "exec_abc123def456", "ht_0a1b2c3d4", testContext("exec_abc123def456"))
	assert.ErrorIs(t, err, ErrAlreadyExists)
}

func TestGetAbsentReturnsNilNil(t *testing.T) {
	s, _ := newTestStore(t)
	state, err := s.Get(context.Background(), "exec_000000000000")
	assert.NoError(t, err)
	assert.Nil(t, state)
}

func TestMutatorsBumpUpdatedAt(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()
	const id = "exec_abc123def456"

	require.NoError(t, s.Create(ctx, id, "ht_0a1b2c3d4", testContext(id)))
	before, err := s.Get(ctx, id)
	require.NoError(t, err)

	time.Sleep(2 * time.Millisecond)
	require.NoError(t, s.UpdateStatus(ctx, id, models.ExecutionRunning))

	after, err := s.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, models.ExecutionRunning, after.Status)
	assert.True(t, after.UpdatedAt.After(before.UpdatedAt))
	assert.False(t, after.UpdatedAt.Before(after.CreatedAt))
}

func TestAddEventPreservesOrder(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()
	const id = "exec_abc123def456"

	require.NoError(t, s.Create(ctx, id, "ht_0a1b2c3d4", testContext(id)))
	for _, et := range []string{models.EventExecutionStarted, models.EventTeamStarted, models.EventAgentStarted} {
		require.NoError(t, s.AddEvent(ctx, id, models.ExecutionEvent{
			Timestamp:   time.Now().UTC(),
			EventType:   et,
			SourceType:  models.SourceSystem,
			ExecutionID: id,
		}))
	}

	state, err := s.Get(ctx, id)
	require.NoError(t, err)
	require.Len(t, state.Events, 3)
	assert.Equal(t, models.EventExecutionStarted, state.Events[0].EventType)
	assert.Equal(t, models.EventTeamStarted, state.Events[1].EventType)
	assert.Equal(t, models.EventAgentStarted, state.Events[2].EventType)
}

func TestTeamStateAndResultMutators(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()
	const id = "exec_abc123def456"

	require.NoError(t, s.Create(ctx, id, "ht_0a1b2c3d4", testContext(id)))
	require.NoError(t, s.UpdateTeamState(ctx, id, "research", models.TeamState{
		TeamID: "research", Status: models.TeamRunning, DependenciesMet: true,
	}))
	require.NoError(t, s.UpdateTeamResult(ctx, id, "research", models.TeamResult{
		Status: models.TeamCompleted, Output: "done", DurationSeconds: 1.5,
	}))
	require.NoError(t, s.UpdateSummary(ctx, id, models.ExecutionSummary{
		Status: "completed", StartedAt: time.Now().UTC(), TeamsExecuted: 1,
	}))
	require.NoError(t, s.AddError(ctx, id, models.NewErrorInfo("worker-failed", "boom")))
	require.NoError(t, s.UpdateMetrics(ctx, id, models.ExecutionMetrics{TotalTokensUsed: 100, APICallsMade: 2, SuccessRate: 1}))

	state, err := s.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, models.TeamRunning, state.TeamStates["research"].Status)
	assert.Equal(t, "done", state.TeamResults["research"].Output)
	require.NotNil(t, state.Summary)
	assert.Equal(t, 1, state.Summary.TeamsExecuted)
	require.Len(t, state.Errors, 1)
	assert.Equal(t, "worker-failed", state.Errors[0].Code)
	assert.Equal(t, 100, state.Metrics.TotalTokensUsed)
}

func TestMutateAbsentReturnsNotFound(t *testing.T) {
	s, _ := newTestStore(t)
	err := s.UpdateStatus(context.Background(), "exec_000000000000", models.ExecutionRunning)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestLockContention(t *testing.T) {
	s, mr := newTestStore(t)
	ctx := context.Background()
	const id = "exec_abc123def456"

	require.NoError(t, s.Create(ctx, id, "ht_0a1b2c3d4", testContext(id)))

	// Simulate a lock held by another owner; all retries should fail.
	require.NoError(t, mr.Set("coveytest:lock:"+id, "someone-else"))
	err := s.UpdateStatus(ctx, id, models.ExecutionRunning)
	assert.ErrorIs(t, err, ErrLockFailed)

	// Releasing the foreign lock lets mutation proceed again.
	mr.Del("coveytest:lock:" + id)
	assert.NoError(t, s.UpdateStatus(ctx, id, models.ExecutionRunning))
}

func TestLockReleasedAfterMutation(t *testing.T) {
	s, mr := newTestStore(t)
	ctx := context.Background()
	const id = "exec_abc123def456"

	require.NoError(t, s.Create(ctx, id, "ht_0a1b2c3d4", testContext(id)))
	require.NoError(t, s.UpdateStatus(ctx, id, models.ExecutionRunning))
	assert.False(t, mr.Exists("coveytest:lock:"+id))
}

func TestTTLResetOnWrite(t *testing.T) {
	s, mr := newTestStore(t)
	ctx := context.Background()
	const id = "exec_abc123def456"

	require.NoError(t, s.Create(ctx, id, "ht_0a1b2c3d4", testContext(id)))
	mr.FastForward(30 * time.Minute)

	require.NoError(t, s.UpdateStatus(ctx, id, models.ExecutionRunning))
	mr.FastForward(45 * time.Minute)

	// 75 minutes after create but only 45 after last write: still present.
	state, err := s.Get(ctx, id)
	require.NoError(t, err)
	assert.NotNil(t, state)

	mr.FastForward(20 * time.Minute)
	state, err = s.Get(ctx, id)
	require.NoError(t, err)
	assert.Nil(t, state)
}

func TestListFilters(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	ids := []string{"exec_aaaaaaaaaaaa", "exec_bbbbbbbbbbbb", "exec_cccccccccccc"}
	for i, id := range ids {
		teamID := "ht_0a1b2c3d4"
		if i == 2 {
			teamID = "ht_ffffffff0"
		}
		require.NoError(t, s.Create(ctx, id, teamID, testContext(id)))
	}
	require.NoError(t, s.UpdateStatus(ctx, ids[0], models.ExecutionCompleted))

	all, err := s.List(ctx, ListFilter{})
	require.NoError(t, err)
	assert.ElementsMatch(t, ids, all)

	byTeam, err := s.List(ctx, ListFilter{TeamID: "ht_ffffffff0"})
	require.NoError(t, err)
	assert.Equal(t, []string{"exec_cccccccccccc"}, byTeam)

	byStatus, err := s.List(ctx, ListFilter{Status: models.ExecutionCompleted})
	require.NoError(t, err)
	assert.Equal(t, []string{"exec_aaaaaaaaaaaa"}, byStatus)

	limited, err := s.List(ctx, ListFilter{Limit: 2})
	require.NoError(t, err)
	assert.Len(t, limited, 2)
}

func TestDelete(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()
	const id = "exec_abc123def456"

	require.NoError(t, s.Create(ctx, id, "ht_0a1b2c3d4", testContext(id)))
	require.NoError(t, s.Delete(ctx, id))

	state, err := s.Get(ctx, id)
	require.NoError(t, err)
	assert.Nil(t, state)

	// Deleting an absent key is not an error.
	assert.NoError(t, s.Delete(ctx, id))
}
