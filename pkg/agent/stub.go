package agent

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/covey-team/covey/pkg/models"
)

// StubRunner returns deterministic worker outcomes without touching any
// LLM provider. Outcomes and errors can be scripted per worker id;
// unscripted workers succeed with a generated output.
type StubRunner struct {
	// Outcomes maps worker id to a fixed outcome.
	Outcomes map[string]*WorkerOutcome
	// Errors maps worker id to an infrastructure error returned instead
	// of an outcome.
	Errors map[string]error
	// Delay is honored before returning, respecting ctx cancellation.
	Delay time.Duration

	mu   sync.Mutex
	runs []WorkerRequest
}

// RunWorker implements Runner.
func (s *StubRunner) RunWorker(ctx context.Context, req WorkerRequest) (*WorkerOutcome, error) {
	s.mu.Lock()
	s.runs = append(s.runs, req)
	s.mu.Unlock()

	if s.Delay > 0 {
		select {
		case <-time.After(s.Delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if err, ok := s.Errors[req.Worker.ID]; ok {
		return nil, err
	}
	if out, ok := s.Outcomes[req.Worker.ID]; ok {
		return out, nil
	}
	return &WorkerOutcome{
		Status:   models.TeamCompleted,
		Output:   fmt.Sprintf("[stub] worker %q completed: %s", req.Worker.Name, req.Task),
		Tokens:   TokenUsage{InputTokens: 80, OutputTokens: 40, TotalTokens: 120},
		APICalls: 1,
	}, nil
}

// Runs returns the requests seen so far, in call order.
func (s *StubRunner) Runs() []WorkerRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]WorkerRequest, len(s.runs))
	copy(out, s.runs)
	return out
}

// StubRouter makes scripted routing decisions. Choices maps team id to
// the worker name to select; unscripted teams get the first roster
// worker.
type StubRouter struct {
	Choices map[string]string
	// Err, when set, is returned from every SelectWorker call.
	Err error

	mu       sync.Mutex
	requests []RoutingRequest
}

// SelectWorker implements Router.
func (s *StubRouter) SelectWorker(_ context.Context, req RoutingRequest) (*RoutingDecision, error) {
	s.mu.Lock()
	s.requests = append(s.requests, req)
	s.mu.Unlock()

	if s.Err != nil {
		return nil, s.Err
	}

	name, ok := s.Choices[req.TeamID]
	if !ok && len(req.Workers) > 0 {
		name = req.Workers[0].Name
	}
	return &RoutingDecision{
		WorkerName: name,
		Reasoning:  fmt.Sprintf("[stub] selected %q for team %q", name, req.TeamID),
		Tokens:     TokenUsage{InputTokens: 40, OutputTokens: 10, TotalTokens: 50},
		APICalls:   1,
	}, nil
}

// Requests returns the routing requests seen so far, in call order.
func (s *StubRouter) Requests() []RoutingRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]RoutingRequest, len(s.requests))
	copy(out, s.requests)
	return out
}
