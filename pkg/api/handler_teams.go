package api

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/covey-team/covey/pkg/engine"
	"github.com/covey-team/covey/pkg/models"
	"github.com/covey-team/covey/pkg/team"
)

// createTeam handles POST /api/v1/hierarchical-teams. The definition is
// validated and built atomically; only a successful build is registered.
func (s *Server) createTeam(c *gin.Context) {
	var spec models.HierarchicalTeam
	if err := c.ShouldBindJSON(&spec); err != nil {
		respondError(c, http.StatusBadRequest, CodeValidationError, fmt.Sprintf("invalid team definition: %v", err))
		return
	}

	built, err := s.builder.Build(models.NewTeamID(), &spec)
	if err != nil {
		if errors.Is(err, team.ErrTeamBuild) {
			respondError(c, http.StatusBadRequest, CodeTeamBuildError, err.Error())
			return
		}
		respondError(c, http.StatusInternalServerError, CodeInternalError, err.Error())
		return
	}

	s.teams.Register(&spec, built)
	slog.Info("Team registered", "team_id", built.TeamID, "name", spec.Name, "sub_teams", len(spec.SubTeams))

	respondOK(c, http.StatusOK, "team created", gin.H{
		"team_id":         built.TeamID,
		"name":            spec.Name,
		"sub_teams":       len(spec.SubTeams),
		"execution_order": built.Order,
	})
}

type executeRequest struct {
	ExecutionConfig *models.ExecutionConfig `json:"execution_config"`
}

// executeTeam handles POST /api/v1/hierarchical-teams/:team_id/execute.
// Responds 202: the execution runs asynchronously and is observable via
// the stream and status endpoints.
func (s *Server) executeTeam(c *gin.Context) {
	teamID := c.Param("team_id")
	if !models.ValidTeamID(teamID) {
		respondNotFound(c, CodeTeamNotFound, fmt.Sprintf("team %q not found", teamID))
		return
	}
	registered, ok := s.teams.Get(teamID)
	if !ok {
		respondNotFound(c, CodeTeamNotFound, fmt.Sprintf("team %q not found", teamID))
		return
	}

	// An absent body means default execution settings.
	var req executeRequest
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		respondError(c, http.StatusBadRequest, CodeValidationError, fmt.Sprintf("invalid request body: %v", err))
		return
	}
	execCfg := models.ExecutionConfig{StreamEvents: true, SaveIntermediateResults: true, MaxParallelTeams: 1}
	if req.ExecutionConfig != nil {
		execCfg = *req.ExecutionConfig
	}
	if err := execCfg.Validate(); err != nil {
		respondError(c, http.StatusBadRequest, CodeValidationError, err.Error())
		return
	}

	session, err := s.engine.Start(c.Request.Context(), registered.Built, execCfg)
	if err != nil {
		if models.IsValidationError(err) {
			respondError(c, http.StatusBadRequest, CodeValidationError, err.Error())
			return
		}
		if errors.Is(err, engine.ErrTooManySessions) {
			respondError(c, http.StatusInternalServerError, CodeSpawnFailed, err.Error())
			return
		}
		respondError(c, http.StatusInternalServerError, CodeSpawnFailed, fmt.Sprintf("failed to start execution: %v", err))
		return
	}

	estimated := s.opts.EstimatedSecondsPerTeam * len(registered.Built.Order)
	respondOK(c, http.StatusAccepted, "execution started", gin.H{
		"execution_id":       session.ExecutionID(),
		"team_id":            teamID,
		"status":             "started",
		"started_at":         session.StartedAt().UTC().Format(time.RFC3339),
		"stream_url":         fmt.Sprintf("/api/v1/executions/%s/stream", session.ExecutionID()),
		"estimated_duration": estimated,
	})
}
