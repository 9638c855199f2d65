package engine

import (
	"context"
	"sync"
	"time"

	"github.com/covey-team/covey/pkg/models"
)

// Session is the in-memory handle for one running (or recently
// finished) execution. The persisted ExecutionState in the store is the
// durable record; the session only tracks what this process needs for
// scheduling and cancellation.
type Session struct {
	executionID string
	teamID      string
	startedAt   time.Time
	cancel      context.CancelFunc
	done        chan struct{}

	mu            sync.Mutex
	status        models.ExecutionStatus
	stopRequested bool
	completedAt   time.Time
}

func newSession(executionID, teamID string, cancel context.CancelFunc) *Session {
	return &Session{
		executionID: executionID,
		teamID:      teamID,
		startedAt:   time.Now().UTC(),
		cancel:      cancel,
		done:        make(chan struct{}),
		status:      models.ExecutionPending,
	}
}

// ExecutionID returns the session's execution id.
func (s *Session) ExecutionID() string {
	return s.executionID
}

// TeamID returns the team definition id this session executes.
func (s *Session) TeamID() string {
	return s.teamID
}

// StartedAt returns when the session was created.
func (s *Session) StartedAt() time.Time {
	return s.startedAt
}

// Status returns the session's current status.
func (s *Session) Status() models.ExecutionStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// CompletedAt returns when the session reached a terminal status, and
// whether it has.
func (s *Session) CompletedAt() (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.completedAt, !s.completedAt.IsZero()
}

// Done is closed when the session reaches a terminal status.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// requestStop flags the session for termination. Graceful stops let the
// in-flight worker call finish and are honored at the next checkpoint;
// hard stops cancel the session context immediately.
func (s *Session) requestStop(graceful bool) {
	s.mu.Lock()
	s.stopRequested = true
	s.mu.Unlock()
	if !graceful {
		s.cancel()
	}
}

func (s *Session) stopping() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stopRequested
}

func (s *Session) setStatus(status models.ExecutionStatus) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.status = status
}

// markTerminal records the terminal status, wakes Done waiters, and
// releases the session context so its deadline timer does not linger.
func (s *Session) markTerminal(status models.ExecutionStatus) {
	s.mu.Lock()
	alreadyTerminal := !s.completedAt.IsZero()
	if !alreadyTerminal {
		s.status = status
		s.completedAt = time.Now().UTC()
	}
	s.mu.Unlock()

	if !alreadyTerminal {
		close(s.done)
	}
	s.cancel()
}
