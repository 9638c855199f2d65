package agent

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/covey-team/covey/pkg/models"
)

func workerReq(id, name string) WorkerRequest {
	return WorkerRequest{
		ExecutionID: "exec_aaaaaaaaaaaa",
		TeamID:      "research",
		Worker:      models.WorkerConfig{ID: id, Name: name},
		Task:        "summarize findings",
	}
}

func TestStubRunnerDefaultOutcome(t *testing.T) {
	s := &StubRunner{}

	out, err := s.RunWorker(context.Background(), workerReq("w1", "Analyst"))
	require.NoError(t, err)
	assert.Equal(t, models.TeamCompleted, out.Status)
	assert.Contains(t, out.Output, "Analyst")
	assert.Equal(t, 120, out.Tokens.TotalTokens)
	assert.Equal(t, 1, out.APICalls)
	require.Len(t, s.Runs(), 1)
}

func TestStubRunnerScriptedOutcomeAndError(t *testing.T) {
	infra := errors.New("provider unreachable")
	s := &StubRunner{
		Outcomes: map[string]*WorkerOutcome{
			"w1": {Status: models.TeamFailed, Err: errors.New("bad response")},
		},
		Errors: map[string]error{"w2": infra},
	}

	out, err := s.RunWorker(context.Background(), workerReq("w1", "Analyst"))
	require.NoError(t, err)
	assert.Equal(t, models.TeamFailed, out.Status)

	_, err = s.RunWorker(context.Background(), workerReq("w2", "Writer"))
	assert.ErrorIs(t, err, infra)
}

func TestStubRunnerHonorsCancellation(t *testing.T) {
	s := &StubRunner{Delay: time.Minute}
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() {
		_, err := s.RunWorker(ctx, workerReq("w1", "Analyst"))
		done <- err
	}()

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("RunWorker did not return on cancellation")
	}
}

func TestStubRouterDefaultsToFirstWorker(t *testing.T) {
	s := &StubRouter{}
	decision, err := s.SelectWorker(context.Background(), RoutingRequest{
		TeamID: "research",
		Workers: []models.WorkerConfig{
			{ID: "w1", Name: "Analyst"},
			{ID: "w2", Name: "Writer"},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, "Analyst", decision.WorkerName)
	assert.NotEmpty(t, decision.Reasoning)
}

func TestStubRouterScriptedChoice(t *testing.T) {
	s := &StubRouter{Choices: map[string]string{"research": "Writer"}}
	decision, err := s.SelectWorker(context.Background(), RoutingRequest{
		TeamID:  "research",
		Workers: []models.WorkerConfig{{ID: "w1", Name: "Analyst"}, {ID: "w2", Name: "Writer"}},
	})
	require.NoError(t, err)
	assert.Equal(t, "Writer", decision.WorkerName)
	require.Len(t, s.Requests(), 1)
}

func TestTokenUsageAdd(t *testing.T) {
	u := TokenUsage{InputTokens: 10, OutputTokens: 5, TotalTokens: 15}
	u.Add(TokenUsage{InputTokens: 1, OutputTokens: 2, TotalTokens: 3})
	assert.Equal(t, TokenUsage{InputTokens: 11, OutputTokens: 7, TotalTokens: 18}, u)
}
