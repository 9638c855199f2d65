package models

import "time"

// WorkerResult is the recorded outcome of one worker execution.
type WorkerResult struct {
	Status    TeamStatus        `json:"status"`
	Output    string            `json:"output,omitempty"`
	ToolsUsed []string          `json:"tools_used,omitempty"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// TeamResult aggregates the outcome of one sub-team.
type TeamResult struct {
	Status          TeamStatus              `json:"status"`
	DurationSeconds float64                 `json:"duration_seconds"`
	WorkerResults   map[string]WorkerResult `json:"worker_results,omitempty"`
	Output          string                  `json:"output,omitempty"`
}

// ErrorInfo records a single recoverable or terminal error during execution.
type ErrorInfo struct {
	Code      string            `json:"code"`
	Message   string            `json:"message"`
	Timestamp time.Time         `json:"timestamp"`
	Context   map[string]string `json:"context,omitempty"`
}

// Well-known ErrorInfo codes recorded by the engine.
const (
	ErrorCodeCancelled        = "cancelled"
	ErrorCodeTimeout          = "timeout"
	ErrorCodeBudgetExhausted  = "budget-exhausted"
	ErrorCodeWorkerFailed     = "worker-failed"
	ErrorCodeRoutingFallback  = "routing-fallback"
	ErrorCodeStateUnavailable = "state-unavailable"
)

// NewErrorInfo builds an ErrorInfo stamped with the current time.
func NewErrorInfo(code, message string) ErrorInfo {
	return ErrorInfo{
		Code:      code,
		Message:   message,
		Timestamp: time.Now().UTC(),
	}
}

// ExecutionMetrics holds aggregate usage numbers for one execution.
type ExecutionMetrics struct {
	TotalTokensUsed     int     `json:"total_tokens_used"`
	APICallsMade        int     `json:"api_calls_made"`
	SuccessRate         float64 `json:"success_rate"`
	AvgResponseTimeSecs float64 `json:"avg_response_time_seconds"`
}

// ExecutionSummary is the top-level rollup of one execution.
type ExecutionSummary struct {
	Status               string     `json:"status"`
	StartedAt            time.Time  `json:"started_at"`
	CompletedAt          *time.Time `json:"completed_at,omitempty"`
	TotalDurationSeconds *float64   `json:"total_duration_seconds,omitempty"`
	TeamsExecuted        int        `json:"teams_executed"`
	AgentsInvolved       int        `json:"agents_involved"`
}

// StandardizedOutput is the final result shape served to clients and fed to
// the template engine.
type StandardizedOutput struct {
	ExecutionID string                `json:"execution_id"`
	Summary     ExecutionSummary      `json:"summary"`
	TeamResults map[string]TeamResult `json:"team_results"`
	Errors      []ErrorInfo           `json:"errors"`
	Metrics     ExecutionMetrics      `json:"metrics"`
}
