// Package engine schedules execution sessions. It owns the registry of
// live sessions, spawns one orchestration goroutine per execution, and
// drives the supervisor/worker collaborators along the team's
// dependency order.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/covey-team/covey/pkg/agent"
	"github.com/covey-team/covey/pkg/bus"
	"github.com/covey-team/covey/pkg/metrics"
	"github.com/covey-team/covey/pkg/models"
	"github.com/covey-team/covey/pkg/store"
	"github.com/covey-team/covey/pkg/team"
)

// ErrTooManySessions is returned by Start when the concurrent session
// cap is reached.
var ErrTooManySessions = errors.New("too many concurrent sessions")

// Defaults for Config fields.
const (
	DefaultMaxConcurrentSessions = 50
	DefaultSessionRetention      = 1 * time.Hour
	DefaultShutdownTimeout       = 30 * time.Second
	DefaultProgressInterval      = 5 * time.Second
)

// Config bounds the engine.
type Config struct {
	// MaxConcurrentSessions caps non-terminal sessions in the registry.
	MaxConcurrentSessions int `yaml:"max_concurrent_sessions"`
	// SessionRetention is how long terminal sessions stay in the
	// registry before CleanupCompleted purges them. Store cleanup is
	// independent (TTL).
	SessionRetention time.Duration `yaml:"session_retention"`
	// ShutdownTimeout bounds how long Shutdown waits for sessions.
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	// ProgressInterval is the cadence of agent_progress events while a
	// worker call is in flight.
	ProgressInterval time.Duration `yaml:"progress_interval"`
}

func (c Config) withDefaults() Config {
	if c.MaxConcurrentSessions <= 0 {
		c.MaxConcurrentSessions = DefaultMaxConcurrentSessions
	}
	if c.SessionRetention <= 0 {
		c.SessionRetention = DefaultSessionRetention
	}
	if c.ShutdownTimeout <= 0 {
		c.ShutdownTimeout = DefaultShutdownTimeout
	}
	if c.ProgressInterval <= 0 {
		c.ProgressInterval = DefaultProgressInterval
	}
	return c
}

// Stats is a point-in-time snapshot of engine activity.
type Stats struct {
	ActiveSessions  int   `json:"active_sessions"`
	TotalStarted    int64 `json:"total_started"`
	TotalCompleted  int64 `json:"total_completed"`
	TotalFailed     int64 `json:"total_failed"`
	RegistrySize    int   `json:"registry_size"`
	MaxConcurrent   int   `json:"max_concurrent"`
	RetentionWindow string `json:"retention_window"`
}

// Engine schedules sessions against injected collaborators.
type Engine struct {
	cfg    Config
	store  store.StateStore
	bus    *bus.Bus
	runner agent.Runner
	router agent.Router

	mu             sync.Mutex
	sessions       map[string]*Session
	totalStarted   int64
	totalCompleted int64
	totalFailed    int64

	wg sync.WaitGroup
}

// New creates an Engine.
func New(cfg Config, st store.StateStore, eventBus *bus.Bus, runner agent.Runner, router agent.Router) *Engine {
	return &Engine{
		cfg:      cfg.withDefaults(),
		store:    st,
		bus:      eventBus,
		runner:   runner,
		router:   router,
		sessions: make(map[string]*Session),
	}
}

// Start allocates an execution id, persists the initial state, and
// spawns the orchestration goroutine. It returns the session handle
// immediately; progress is observable via the bus and the store.
func (e *Engine) Start(ctx context.Context, built *team.BuiltTeam, execCfg models.ExecutionConfig) (*Session, error) {
	if err := execCfg.Validate(); err != nil {
		return nil, err
	}

	e.mu.Lock()
	active := 0
	for _, s := range e.sessions {
		if !s.Status().Terminal() {
			active++
		}
	}
	if active >= e.cfg.MaxConcurrentSessions {
		e.mu.Unlock()
		return nil, ErrTooManySessions
	}
	e.mu.Unlock()

	executionID := models.NewExecutionID()
	execCtx := models.ExecutionContext{
		ExecutionID: executionID,
		TeamID:      built.TeamID,
		Config:      execCfg,
		StartedAt:   time.Now().UTC(),
	}
	if err := e.store.Create(ctx, executionID, built.TeamID, execCtx); err != nil {
		return nil, fmt.Errorf("create execution state: %w", err)
	}

	// The session outlives the caller's request, so its context hangs
	// off Background, bounded only by the team's global time budget.
	sessionCtx := context.Background()
	var cancel context.CancelFunc
	if secs := built.Spec.Global.MaxExecutionTimeSeconds; secs > 0 {
		sessionCtx, cancel = context.WithTimeout(sessionCtx, time.Duration(secs)*time.Second)
	} else {
		sessionCtx, cancel = context.WithCancel(sessionCtx)
	}

	s := newSession(executionID, built.TeamID, cancel)

	e.mu.Lock()
	e.sessions[executionID] = s
	e.totalStarted++
	e.mu.Unlock()
	metrics.SessionsStarted.Inc()
	metrics.ActiveSessions.Inc()

	slog.Info("Execution session started",
		"execution_id", executionID,
		"team_id", built.TeamID,
		"sub_teams", len(built.Order))

	e.wg.Add(1)
	o := &orchestration{
		eng:       e,
		session:   s,
		built:     built,
		execCfg:   execCfg,
		completed: make(map[string]bool),
		outputs:   make(map[string]string),
	}
	go o.run(sessionCtx)

	return s, nil
}

// GetSession returns the session handle if this process knows the id.
func (e *Engine) GetSession(executionID string) (*Session, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	s, ok := e.sessions[executionID]
	return s, ok
}

// ListActive returns the ids of non-terminal sessions.
func (e *Engine) ListActive() []string {
	e.mu.Lock()
	defer e.mu.Unlock()

	ids := make([]string, 0, len(e.sessions))
	for id, s := range e.sessions {
		if !s.Status().Terminal() {
			ids = append(ids, id)
		}
	}
	return ids
}

// Stop requests cancellation of a session. Returns false when the id is
// unknown to this process. Graceful stops honor the in-flight worker
// call; hard stops cancel it.
func (e *Engine) Stop(executionID string, graceful bool) bool {
	s, ok := e.GetSession(executionID)
	if !ok {
		return false
	}
	if s.Status().Terminal() {
		return true
	}
	slog.Info("Stop requested", "execution_id", executionID, "graceful", graceful)
	s.requestStop(graceful)
	return true
}

// CleanupCompleted purges terminal sessions older than the retention
// window from the registry and returns how many were removed.
func (e *Engine) CleanupCompleted() int {
	cutoff := time.Now().Add(-e.cfg.SessionRetention)

	e.mu.Lock()
	defer e.mu.Unlock()

	removed := 0
	for id, s := range e.sessions {
		if at, ok := s.CompletedAt(); ok && at.Before(cutoff) {
			delete(e.sessions, id)
			removed++
		}
	}
	if removed > 0 {
		slog.Debug("Session registry cleanup", "removed", removed, "remaining", len(e.sessions))
	}
	return removed
}

// Shutdown cancels every active session and waits, bounded by the
// shutdown timeout, for all orchestration goroutines to finish.
func (e *Engine) Shutdown(ctx context.Context) error {
	e.mu.Lock()
	for _, s := range e.sessions {
		if !s.Status().Terminal() {
			s.requestStop(false)
		}
	}
	e.mu.Unlock()

	done := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-time.After(e.cfg.ShutdownTimeout):
		return fmt.Errorf("engine shutdown timed out after %s", e.cfg.ShutdownTimeout)
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stats returns a snapshot of engine activity.
func (e *Engine) Stats() Stats {
	e.mu.Lock()
	defer e.mu.Unlock()

	active := 0
	for _, s := range e.sessions {
		if !s.Status().Terminal() {
			active++
		}
	}
	return Stats{
		ActiveSessions:  active,
		TotalStarted:    e.totalStarted,
		TotalCompleted:  e.totalCompleted,
		TotalFailed:     e.totalFailed,
		RegistrySize:    len(e.sessions),
		MaxConcurrent:   e.cfg.MaxConcurrentSessions,
		RetentionWindow: e.cfg.SessionRetention.String(),
	}
}

// recordTerminal updates counters when a session finishes.
func (e *Engine) recordTerminal(status models.ExecutionStatus) {
	e.mu.Lock()
	if status == models.ExecutionCompleted {
		e.totalCompleted++
	} else {
		e.totalFailed++
	}
	e.mu.Unlock()

	metrics.ActiveSessions.Dec()
	metrics.SessionsCompleted.WithLabelValues(string(status)).Inc()
}
