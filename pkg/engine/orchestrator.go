package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/covey-team/covey/pkg/agent"
	"github.com/covey-team/covey/pkg/bus"
	"github.com/covey-team/covey/pkg/metrics"
	"github.com/covey-team/covey/pkg/models"
	"github.com/covey-team/covey/pkg/team"
	"github.com/covey-team/covey/pkg/tools"
)

// storeOpTimeout bounds each persistence call. Persistence runs on a
// context detached from session cancellation so terminal state still
// lands after a stop.
const storeOpTimeout = 5 * time.Second

var errStateUnavailable = errors.New("state store unavailable")

// orchestration is the per-session run state. One goroutine owns it.
type orchestration struct {
	eng     *Engine
	session *Session
	built   *team.BuiltTeam
	execCfg models.ExecutionConfig

	// storeFailed marks one tolerated persistence failure; a second
	// consecutive failure aborts the session.
	storeFailed bool

	tokens   agent.TokenUsage
	apiCalls int

	completed map[string]bool
	outputs   map[string]string
}

// run is the orchestration loop for one session.
func (o *orchestration) run(ctx context.Context) {
	defer o.eng.wg.Done()

	execID := o.session.ExecutionID()

	o.session.setStatus(models.ExecutionRunning)
	if err := o.persist(func(pctx context.Context) error {
		return o.eng.store.UpdateStatus(pctx, execID, models.ExecutionRunning)
	}); err != nil {
		o.finish(models.ExecutionFailed, ptr(models.NewErrorInfo(models.ErrorCodeStateUnavailable, err.Error())))
		return
	}
	o.emit(bus.ExecutionStarted(execID, o.session.TeamID()))

	finalOutput := ""
	for _, teamID := range o.built.Order {
		if err := o.checkStop(ctx); err != nil {
			o.finish(models.ExecutionFailed, ptr(stopError(ctx, err)))
			return
		}

		st := o.built.SubTeam(teamID)

		if !o.prerequisitesMet(teamID) {
			o.skipTeam(teamID)
			continue
		}

		o.setTeamState(teamID, models.TeamState{TeamID: teamID, Next: o.nextTeam(teamID), DependenciesMet: true, Status: models.TeamRunning})
		o.emit(bus.TeamStarted(execID, teamID))

		result, err := o.runTeam(ctx, teamID, st)
		if err != nil {
			// Cancellation or persistent store failure mid-team.
			if errors.Is(err, errStateUnavailable) {
				o.finish(models.ExecutionFailed, ptr(models.NewErrorInfo(models.ErrorCodeStateUnavailable, err.Error())))
			} else {
				o.finish(models.ExecutionFailed, ptr(stopError(ctx, err)))
			}
			return
		}

		o.setTeamState(teamID, models.TeamState{TeamID: teamID, Next: o.nextTeam(teamID), DependenciesMet: true, Status: result.Status})
		if err := o.persist(func(pctx context.Context) error {
			return o.eng.store.UpdateTeamResult(pctx, execID, teamID, *result)
		}); err != nil {
			o.finish(models.ExecutionFailed, ptr(models.NewErrorInfo(models.ErrorCodeStateUnavailable, err.Error())))
			return
		}
		o.emit(bus.TeamCompleted(execID, teamID, result.Status))

		if result.Status == models.TeamCompleted {
			o.completed[teamID] = true
			o.outputs[teamID] = result.Output
			finalOutput = result.Output
		}
	}

	status := models.ExecutionCompleted
	if len(o.completed) != len(o.built.Order) {
		status = models.ExecutionFailed
	}
	o.finishWithResult(status, nil, finalOutput)
}

// runTeam executes one sub-team: routing iterations up to the
// supervisor's budget, stopping on the first successful worker. A nil
// error with a failed result means the team exhausted its budget; a
// non-nil error aborts the whole session.
func (o *orchestration) runTeam(ctx context.Context, teamID string, st *models.SubTeam) (*models.TeamResult, error) {
	execID := o.session.ExecutionID()
	start := time.Now()
	workerResults := make(map[string]models.WorkerResult)

	maxIterations := st.Supervisor.MaxIterations
	if maxIterations <= 0 {
		maxIterations = 1
	}

	for iteration := 0; iteration < maxIterations; iteration++ {
		if err := o.checkStop(ctx); err != nil {
			return nil, err
		}

		worker, reasoning := o.route(ctx, teamID, st)
		o.emit(bus.SupervisorRouting(execID, teamID, supervisorName(st), worker.Name, reasoning))

		o.setTeamState(teamID, models.TeamState{
			TeamID:          teamID,
			Next:            o.nextTeam(teamID),
			DependenciesMet: true,
			Status:          models.TeamRunning,
			CurrentWorker:   worker.ID,
		})
		o.emit(bus.AgentStarted(execID, teamID, worker.ID, worker.Name))

		outcome, err := o.invokeWorker(ctx, teamID, worker)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			// Infrastructure failure of one worker call is recoverable;
			// the next iteration may route elsewhere.
			o.recordError(models.NewErrorInfo(models.ErrorCodeWorkerFailed,
				fmt.Sprintf("worker %q in team %q: %v", worker.ID, teamID, err)))
			o.emit(bus.AgentError(execID, teamID, worker.ID, worker.Name, err.Error()))
			workerResults[worker.ID] = models.WorkerResult{Status: models.TeamFailed, Output: err.Error()}
			continue
		}

		o.tokens.Add(outcome.Tokens)
		o.apiCalls += outcome.APICalls

		workerResults[worker.ID] = models.WorkerResult{
			Status:    outcome.Status,
			Output:    outcome.Output,
			ToolsUsed: outcome.ToolsUsed,
		}

		if outcome.Status == models.TeamCompleted {
			o.emit(bus.AgentCompleted(execID, teamID, worker.ID, worker.Name, outcome.Output))
			return &models.TeamResult{
				Status:          models.TeamCompleted,
				DurationSeconds: time.Since(start).Seconds(),
				WorkerResults:   workerResults,
				Output:          outcome.Output,
			}, nil
		}

		message := "worker reported failure"
		if outcome.Err != nil {
			message = outcome.Err.Error()
		}
		o.recordError(models.NewErrorInfo(models.ErrorCodeWorkerFailed,
			fmt.Sprintf("worker %q in team %q: %s", worker.ID, teamID, message)))
		o.emit(bus.AgentError(execID, teamID, worker.ID, worker.Name, message))
	}

	o.recordError(models.NewErrorInfo(models.ErrorCodeBudgetExhausted,
		fmt.Sprintf("team %q exhausted its iteration budget (%d)", teamID, maxIterations)))
	return &models.TeamResult{
		Status:          models.TeamFailed,
		DurationSeconds: time.Since(start).Seconds(),
		WorkerResults:   workerResults,
	}, nil
}

// route asks the supervisor router for a worker and applies the
// fallback chain: exact roster match, then closest lexical match, then
// the first worker with a warning.
func (o *orchestration) route(ctx context.Context, teamID string, st *models.SubTeam) (models.WorkerConfig, string) {
	execID := o.session.ExecutionID()

	decision, err := o.eng.router.SelectWorker(ctx, agent.RoutingRequest{
		ExecutionID: execID,
		TeamID:      teamID,
		Supervisor:  st.Supervisor,
		Task:        st.Supervisor.UserPrompt,
		Workers:     st.Workers,
	})
	if err != nil {
		worker := st.Workers[0]
		o.recordError(models.NewErrorInfo(models.ErrorCodeRoutingFallback,
			fmt.Sprintf("supervisor routing failed for team %q: %v", teamID, err)))
		o.emit(bus.Warning(execID, teamID,
			fmt.Sprintf("supervisor routing failed, defaulting to worker %q: %v", worker.Name, err)))
		return worker, "routing failed, defaulted to first worker"
	}

	o.tokens.Add(decision.Tokens)
	o.apiCalls += decision.APICalls

	worker, fallback := resolveWorker(decision.WorkerName, st.Workers)
	if fallback {
		o.recordError(models.NewErrorInfo(models.ErrorCodeRoutingFallback,
			fmt.Sprintf("supervisor selected unknown worker %q in team %q, using %q", decision.WorkerName, teamID, worker.Name)))
		o.emit(bus.Warning(execID, teamID,
			fmt.Sprintf("supervisor selected unknown worker %q, using %q", decision.WorkerName, worker.Name)))
	}
	return worker, decision.Reasoning
}

// invokeWorker runs one worker call with a progress ticker alongside.
func (o *orchestration) invokeWorker(ctx context.Context, teamID string, worker models.WorkerConfig) (*agent.WorkerOutcome, error) {
	execID := o.session.ExecutionID()

	var toolRunner tools.Runner
	if rt := o.built.Workers[teamID][worker.ID]; rt != nil {
		toolRunner = rt.Tools
	}

	stopProgress := make(chan struct{})
	go func() {
		ticker := time.NewTicker(o.eng.cfg.ProgressInterval)
		defer ticker.Stop()
		progress := 0
		for {
			select {
			case <-ticker.C:
				if progress < 90 {
					progress += 10
				}
				evt := bus.AgentProgress(execID, teamID, worker.ID, progress, "working")
				if err := o.eng.bus.Publish(evt); err != nil {
					slog.Warn("Progress publish failed", "execution_id", execID, "error", err)
				}
			case <-stopProgress:
				return
			case <-ctx.Done():
				return
			}
		}
	}()
	defer close(stopProgress)

	upstream := make(map[string]string, len(o.outputs))
	for id, out := range o.outputs {
		upstream[id] = out
	}

	return o.eng.runner.RunWorker(ctx, agent.WorkerRequest{
		ExecutionID: execID,
		TeamID:      teamID,
		Worker:      worker,
		Task:        worker.UserPrompt,
		Upstream:    upstream,
		Tools:       toolRunner,
	})
}

// nextTeam returns the sub-team scheduled after teamID in the
// execution order, or "" for the last one.
func (o *orchestration) nextTeam(teamID string) string {
	for i, id := range o.built.Order {
		if id == teamID && i+1 < len(o.built.Order) {
			return o.built.Order[i+1]
		}
	}
	return ""
}

// prerequisitesMet reports whether every dependency of teamID completed.
func (o *orchestration) prerequisitesMet(teamID string) bool {
	for _, dep := range o.built.Graph[teamID] {
		if !o.completed[dep] {
			return false
		}
	}
	return true
}

// skipTeam marks a team whose prerequisite chain was broken. It never
// runs; its status is skipped, distinct from failed.
func (o *orchestration) skipTeam(teamID string) {
	execID := o.session.ExecutionID()
	slog.Info("Skipping sub-team, prerequisites not met", "execution_id", execID, "team_id", teamID)

	o.setTeamState(teamID, models.TeamState{TeamID: teamID, Next: o.nextTeam(teamID), Status: models.TeamSkipped})
	_ = o.persist(func(pctx context.Context) error {
		return o.eng.store.UpdateTeamResult(pctx, execID, teamID, models.TeamResult{Status: models.TeamSkipped})
	})
	o.emit(bus.TeamCompleted(execID, teamID, models.TeamSkipped))
}

// finish terminates the session with no final output.
func (o *orchestration) finish(status models.ExecutionStatus, errInfo *models.ErrorInfo) {
	o.finishWithResult(status, errInfo, "")
}

// finishWithResult persists summary, metrics, and terminal status, then
// publishes execution_completed. Persistence failures here are logged
// but do not mask the terminal event.
func (o *orchestration) finishWithResult(status models.ExecutionStatus, errInfo *models.ErrorInfo, result string) {
	execID := o.session.ExecutionID()

	if errInfo != nil {
		o.recordError(*errInfo)
	}

	summary := o.summary(status)
	execMetrics := o.executionMetrics()

	_ = o.persist(func(pctx context.Context) error {
		return o.eng.store.UpdateSummary(pctx, execID, summary)
	})
	_ = o.persist(func(pctx context.Context) error {
		return o.eng.store.UpdateMetrics(pctx, execID, execMetrics)
	})
	_ = o.persist(func(pctx context.Context) error {
		return o.eng.store.UpdateStatus(pctx, execID, status)
	})

	o.emit(bus.ExecutionCompleted(execID, status, result))
	o.session.markTerminal(status)
	o.eng.recordTerminal(status)

	slog.Info("Execution session finished",
		"execution_id", execID,
		"status", status,
		"teams_completed", len(o.completed),
		"teams_total", len(o.built.Order))
}

func (o *orchestration) summary(status models.ExecutionStatus) models.ExecutionSummary {
	now := time.Now().UTC()
	duration := now.Sub(o.session.StartedAt()).Seconds()

	agents := 0
	for _, st := range o.built.Spec.SubTeams {
		agents += len(st.Workers)
	}

	return models.ExecutionSummary{
		Status:               string(status),
		StartedAt:            o.session.StartedAt(),
		CompletedAt:          &now,
		TotalDurationSeconds: &duration,
		TeamsExecuted:        len(o.built.Order),
		AgentsInvolved:       agents,
	}
}

func (o *orchestration) executionMetrics() models.ExecutionMetrics {
	total := len(o.built.Order)
	rate := 0.0
	if total > 0 {
		rate = float64(len(o.completed)) / float64(total)
	}
	return models.ExecutionMetrics{
		TotalTokensUsed: o.tokens.TotalTokens,
		APICallsMade:    o.apiCalls,
		SuccessRate:     rate,
	}
}

// emit publishes the event and appends it to the persisted event list.
// A persistence failure here follows the retry-then-abort policy via
// the storeFailed flag; abort is surfaced at the next persist call.
func (o *orchestration) emit(event *models.ExecutionEvent) {
	if err := o.eng.bus.Publish(event); err != nil {
		slog.Warn("Event publish failed", "execution_id", event.ExecutionID, "event_type", event.EventType, "error", err)
	}
	_ = o.persist(func(pctx context.Context) error {
		return o.eng.store.AddEvent(pctx, event.ExecutionID, *event)
	})
}

func (o *orchestration) recordError(errInfo models.ErrorInfo) {
	_ = o.persist(func(pctx context.Context) error {
		return o.eng.store.AddError(pctx, o.session.ExecutionID(), errInfo)
	})
}

func (o *orchestration) setTeamState(teamID string, state models.TeamState) {
	_ = o.persist(func(pctx context.Context) error {
		return o.eng.store.UpdateTeamState(pctx, o.session.ExecutionID(), teamID, state)
	})
}

// persist runs one store mutation on a detached, bounded context. One
// consecutive failure is tolerated and retried implicitly by the next
// checkpoint; a second consecutive failure returns errStateUnavailable.
func (o *orchestration) persist(fn func(ctx context.Context) error) error {
	pctx, cancel := context.WithTimeout(context.Background(), storeOpTimeout)
	defer cancel()

	if err := fn(pctx); err != nil {
		metrics.StoreErrors.WithLabelValues("mutation").Inc()
		if o.storeFailed {
			return fmt.Errorf("%w: %v", errStateUnavailable, err)
		}
		o.storeFailed = true
		slog.Warn("State store mutation failed, will retry at next checkpoint",
			"execution_id", o.session.ExecutionID(), "error", err)
		return nil
	}
	o.storeFailed = false
	return nil
}

// checkStop returns an error when the session was asked to stop or its
// context expired.
func (o *orchestration) checkStop(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if o.session.stopping() {
		return context.Canceled
	}
	return nil
}

// stopError maps a cancellation cause to its ErrorInfo.
func stopError(ctx context.Context, err error) models.ErrorInfo {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return models.NewErrorInfo(models.ErrorCodeTimeout, "execution exceeded its time budget")
	}
	return models.NewErrorInfo(models.ErrorCodeCancelled, "execution cancelled")
}

// resolveWorker applies the roster fallback chain. fallback is true
// when the selection was not an exact (case-insensitive) match.
func resolveWorker(name string, roster []models.WorkerConfig) (models.WorkerConfig, bool) {
	for _, w := range roster {
		if w.Name == name {
			return w, false
		}
	}
	lower := strings.ToLower(name)
	for _, w := range roster {
		if strings.ToLower(w.Name) == lower {
			return w, false
		}
	}

	// Closest lexical match by longest shared prefix.
	best := -1
	bestScore := 0
	for i, w := range roster {
		score := sharedPrefixLen(lower, strings.ToLower(w.Name))
		if score > bestScore {
			bestScore = score
			best = i
		}
	}
	if best >= 0 {
		return roster[best], true
	}
	return roster[0], true
}

func sharedPrefixLen(a, b string) int {
	n := 0
	for n < len(a) && n < len(b) && a[n] == b[n] {
		n++
	}
	return n
}

func supervisorName(st *models.SubTeam) string {
	return st.Name + " Supervisor"
}

func ptr(e models.ErrorInfo) *models.ErrorInfo {
	return &e
}
