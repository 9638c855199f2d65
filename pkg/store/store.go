// Package store persists per-execution state durably, keyed by execution id.
// Mutations are serialized per execution by a token-checked distributed lock
// so a single shared backend can serve many orchestrator checkpoints safely.
package store

import (
	"context"
	"errors"

	"github.com/covey-team/covey/pkg/models"
)

// Sentinel errors returned by state store operations.
var (
	// ErrNotInitialized is returned when the store has no backend client.
	ErrNotInitialized = errors.New("state store not initialized")

	// ErrNotFound is returned when the execution id has no persisted state.
	ErrNotFound = errors.New("execution state not found")

	// ErrAlreadyExists is returned by Create when the key is already present.
	ErrAlreadyExists = errors.New("execution state already exists")

	// ErrLockFailed is returned when the distributed lock could not be
	// acquired within the retry budget.
	ErrLockFailed = errors.New("failed to acquire execution lock")

	// ErrSerialization is returned when state cannot be encoded or decoded.
	ErrSerialization = errors.New("state serialization failed")

	// ErrBackendUnavailable is returned when the backend rejects an operation.
	ErrBackendUnavailable = errors.New("state store backend unavailable")
)

// ListFilter narrows a List call. Zero values match everything.
type ListFilter struct {
	TeamID string
	Status models.ExecutionStatus
	Limit  int
}

// StateStore is the durable persistence contract for ExecutionState.
//
// All mutating operations run their read-modify-write under a distributed
// lock scoped to the execution id and bump UpdatedAt. Reads do not lock and
// may observe a prior consistent snapshot.
type StateStore interface {
	// Create establishes the initial state for an execution. Fails with
	// ErrAlreadyExists if the key is present.
	Create(ctx context.Context, executionID, teamID string, execCtx models.ExecutionContext) error

	// Get reads the entire state. Returns (nil, nil) when absent.
	Get(ctx context.Context, executionID string) (*models.ExecutionState, error)

	// UpdateStatus sets the execution status.
	UpdateStatus(ctx context.Context, executionID string, status models.ExecutionStatus) error

	// AddEvent appends one event to the ordered event list.
	AddEvent(ctx context.Context, executionID string, event models.ExecutionEvent) error

	// UpdateTeamState replaces the runtime slot for one sub-team.
	UpdateTeamState(ctx context.Context, executionID, teamID string, state models.TeamState) error

	// UpdateTeamResult replaces the result for one sub-team.
	UpdateTeamResult(ctx context.Context, executionID, teamID string, result models.TeamResult) error

	// UpdateSummary sets the execution summary.
	UpdateSummary(ctx context.Context, executionID string, summary models.ExecutionSummary) error

	// AddError appends one ErrorInfo to the error list.
	AddError(ctx context.Context, executionID string, errInfo models.ErrorInfo) error

	// UpdateMetrics replaces the execution metrics.
	UpdateMetrics(ctx context.Context, executionID string, metrics models.ExecutionMetrics) error

	// List enumerates execution ids matching the filter. The scan is
	// bounded and not required to be consistent across concurrent inserts.
	List(ctx context.Context, filter ListFilter) ([]string, error)

	// Delete removes the key. Deleting an absent key is not an error.
	Delete(ctx context.Context, executionID string) error

	// Ping verifies backend connectivity.
	Ping(ctx context.Context) error

	// Close releases backend resources.
	Close() error
}
