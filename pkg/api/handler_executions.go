package api

import (
	"fmt"
	"net/http"
	"sort"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/covey-team/covey/pkg/models"
	"github.com/covey-team/covey/pkg/store"
)

// Pagination bounds for the list endpoint. listScanLimit caps the
// backend scan and therefore total_count; pages beyond it are empty.
const (
	defaultPageSize = 10
	maxPageSize     = 100
	listScanLimit   = 1000
)

// getExecution handles GET /api/v1/executions/:execution_id. A
// malformed id is a 404 without touching the store.
func (s *Server) getExecution(c *gin.Context) {
	executionID := c.Param("execution_id")
	if !models.ValidExecutionID(executionID) {
		respondNotFound(c, CodeExecutionNotFound, fmt.Sprintf("execution %q not found", executionID))
		return
	}

	state, err := s.store.Get(c.Request.Context(), executionID)
	if err != nil {
		respondError(c, http.StatusInternalServerError, CodeStoreUnavailable, err.Error())
		return
	}
	if state == nil {
		respondNotFound(c, CodeExecutionNotFound, fmt.Sprintf("execution %q not found", executionID))
		return
	}

	totalTeams := len(state.TeamStates)
	if registered, ok := s.teams.Get(state.TeamID); ok {
		totalTeams = len(registered.Spec.SubTeams)
	}

	completed := 0
	currentTeam := ""
	for teamID, ts := range state.TeamStates {
		switch ts.Status {
		case models.TeamCompleted, models.TeamFailed, models.TeamSkipped:
			completed++
		case models.TeamRunning:
			currentTeam = teamID
		}
	}

	progress := 0
	if totalTeams > 0 {
		progress = completed * 100 / totalTeams
	}
	if state.Status == models.ExecutionCompleted {
		progress = 100
	}

	data := gin.H{
		"execution_id":    state.ExecutionID,
		"team_id":         state.TeamID,
		"status":          state.Status,
		"started_at":      state.Context.StartedAt.UTC().Format(time.RFC3339),
		"progress":        progress,
		"current_team":    currentTeam,
		"teams_completed": completed,
		"total_teams":     totalTeams,
	}

	if state.Status.Terminal() {
		data["completed_at"] = state.UpdatedAt.UTC().Format(time.RFC3339)
		data["duration"] = state.UpdatedAt.Sub(state.Context.StartedAt).Seconds()
	} else {
		estimated := state.Context.StartedAt.Add(time.Duration(s.opts.EstimatedSecondsPerTeam*totalTeams) * time.Second)
		data["estimated_completion"] = estimated.UTC().Format(time.RFC3339)
	}

	respondOK(c, http.StatusOK, "execution status", data)
}

// stopExecution handles DELETE /api/v1/executions/:execution_id.
func (s *Server) stopExecution(c *gin.Context) {
	executionID := c.Param("execution_id")
	if !models.ValidExecutionID(executionID) {
		respondNotFound(c, CodeExecutionNotFound, fmt.Sprintf("execution %q not found", executionID))
		return
	}

	graceful := true
	if raw := c.Query("graceful"); raw != "" {
		parsed, err := strconv.ParseBool(raw)
		if err != nil {
			respondError(c, http.StatusBadRequest, CodeValidationError, fmt.Sprintf("invalid graceful flag %q", raw))
			return
		}
		graceful = parsed
	}

	if !s.engine.Stop(executionID, graceful) {
		respondNotFound(c, CodeExecutionNotFound, fmt.Sprintf("execution %q not found", executionID))
		return
	}

	respondOK(c, http.StatusOK, "stop requested", gin.H{
		"execution_id": executionID,
		"graceful":     graceful,
	})
}

// listExecutions handles GET /api/v1/executions with pagination.
func (s *Server) listExecutions(c *gin.Context) {
	filter := store.ListFilter{TeamID: c.Query("team_id"), Limit: listScanLimit}

	if raw := c.Query("execution_status"); raw != "" {
		status := models.ExecutionStatus(raw)
		if !models.ValidExecutionStatuses[status] {
			respondError(c, http.StatusBadRequest, CodeInvalidStatusFilter, fmt.Sprintf("unknown execution status %q", raw))
			return
		}
		filter.Status = status
	}

	page := intQuery(c, "page", 1)
	if page < 1 {
		page = 1
	}
	pageSize := intQuery(c, "page_size", defaultPageSize)
	if pageSize < 1 {
		pageSize = 1
	}
	if pageSize > maxPageSize {
		pageSize = maxPageSize
	}

	ids, err := s.store.List(c.Request.Context(), filter)
	if err != nil {
		respondError(c, http.StatusInternalServerError, CodeStoreUnavailable, err.Error())
		return
	}
	sort.Strings(ids)

	totalCount := len(ids)
	start := (page - 1) * pageSize
	if start > totalCount {
		start = totalCount
	}
	end := start + pageSize
	if end > totalCount {
		end = totalCount
	}

	items := make([]gin.H, 0, end-start)
	for _, id := range ids[start:end] {
		state, err := s.store.Get(c.Request.Context(), id)
		if err != nil || state == nil {
			continue
		}
		items = append(items, gin.H{
			"execution_id": state.ExecutionID,
			"team_id":      state.TeamID,
			"status":       state.Status,
			"created_at":   state.CreatedAt.UTC().Format(time.RFC3339),
			"updated_at":   state.UpdatedAt.UTC().Format(time.RFC3339),
		})
	}

	respondOK(c, http.StatusOK, "executions", gin.H{
		"executions":  items,
		"total_count": totalCount,
		"page":        page,
		"page_size":   pageSize,
	})
}

func intQuery(c *gin.Context, name string, fallback int) int {
	raw := c.Query(name)
	if raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return n
}
