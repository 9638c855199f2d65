// Package agent defines the collaborator interfaces the execution
// engine drives: a Runner that executes one worker's task and a Router
// that makes a supervisor's worker selection. Implementations wrap LLM
// provider clients; the stubs in this package back tests and dry runs.
package agent

import (
	"context"

	"github.com/covey-team/covey/pkg/models"
	"github.com/covey-team/covey/pkg/tools"
)

// TokenUsage aggregates token consumption across the LLM calls made for
// one operation.
type TokenUsage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
	TotalTokens  int `json:"total_tokens"`
}

// Add accumulates another usage into this one.
func (u *TokenUsage) Add(other TokenUsage) {
	u.InputTokens += other.InputTokens
	u.OutputTokens += other.OutputTokens
	u.TotalTokens += other.TotalTokens
}

// WorkerRequest carries everything a Runner needs to execute one worker.
type WorkerRequest struct {
	ExecutionID string
	TeamID      string
	Worker      models.WorkerConfig
	// Task is the work item assigned by the supervisor.
	Task string
	// Upstream maps sub-team id to that team's output, for every
	// dependency that completed before this team started.
	Upstream map[string]string
	// Tools is the runner the worker may call tools through. Nil when
	// the worker has no tools configured.
	Tools tools.Runner
}

// WorkerOutcome is returned by Runner.RunWorker.
// A worker-level failure (bad LLM response, tool errors) is reported via
// Status and Err with a nil error from RunWorker; RunWorker itself only
// errors when no meaningful outcome exists.
type WorkerOutcome struct {
	Status    models.TeamStatus
	Output    string
	ToolsUsed []string
	Tokens    TokenUsage
	APICalls  int
	Err       error
}

// Runner executes a single worker's task.
type Runner interface {
	RunWorker(ctx context.Context, req WorkerRequest) (*WorkerOutcome, error)
}

// RoutingRequest carries a supervisor's routing decision inputs.
type RoutingRequest struct {
	ExecutionID string
	TeamID      string
	Supervisor  models.SupervisorConfig
	Task        string
	Workers     []models.WorkerConfig
}

// RoutingDecision is a supervisor's worker selection. WorkerName must
// be the name of one roster worker; the engine applies its fallback
// chain when it is not.
type RoutingDecision struct {
	WorkerName string
	Reasoning  string
	Tokens     TokenUsage
	APICalls   int
}

// Router makes supervisor routing decisions.
type Router interface {
	SelectWorker(ctx context.Context, req RoutingRequest) (*RoutingDecision, error)
}
