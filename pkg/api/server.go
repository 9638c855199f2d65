// Package api exposes the orchestrator over HTTP: team registration,
// execution lifecycle, SSE event streaming, and result retrieval. All
// JSON responses use the {success, code, message, data?} envelope.
package api

import (
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/covey-team/covey/pkg/bus"
	"github.com/covey-team/covey/pkg/engine"
	"github.com/covey-team/covey/pkg/store"
	"github.com/covey-team/covey/pkg/team"
)

// Options tunes the HTTP surface.
type Options struct {
	// AllowedOrigins for CORS; empty allows all origins.
	AllowedOrigins []string
	// HeartbeatInterval is the SSE comment-frame cadence.
	HeartbeatInterval time.Duration
	// EstimatedSecondsPerTeam feeds the estimated_duration hint on the
	// execute response.
	EstimatedSecondsPerTeam int
}

func (o Options) withDefaults() Options {
	if o.HeartbeatInterval <= 0 {
		o.HeartbeatInterval = 30 * time.Second
	}
	if o.EstimatedSecondsPerTeam <= 0 {
		o.EstimatedSecondsPerTeam = 30
	}
	return o
}

// Server wires the HTTP handlers to the orchestrator collaborators.
type Server struct {
	opts    Options
	store   store.StateStore
	bus     *bus.Bus
	engine  *engine.Engine
	builder *team.Builder
	teams   *TeamRegistry
}

// NewServer creates a Server.
func NewServer(opts Options, st store.StateStore, eventBus *bus.Bus, eng *engine.Engine, builder *team.Builder) *Server {
	return &Server{
		opts:    opts.withDefaults(),
		store:   st,
		bus:     eventBus,
		engine:  eng,
		builder: builder,
		teams:   NewTeamRegistry(),
	}
}

// Routes builds the gin handler tree.
func (s *Server) Routes() *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())

	corsCfg := cors.DefaultConfig()
	if len(s.opts.AllowedOrigins) > 0 {
		corsCfg.AllowOrigins = s.opts.AllowedOrigins
	} else {
		corsCfg.AllowAllOrigins = true
	}
	corsCfg.AllowMethods = []string{"GET", "POST", "DELETE", "OPTIONS"}
	corsCfg.AllowHeaders = []string{"Origin", "Content-Type", "Accept", "Cache-Control"}
	router.Use(cors.New(corsCfg))

	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := router.Group("/api/v1")
	{
		v1.POST("/hierarchical-teams", s.createTeam)
		v1.POST("/hierarchical-teams/:team_id/execute", s.executeTeam)

		v1.GET("/executions/health", s.health)
		v1.GET("/executions", s.listExecutions)
		v1.GET("/executions/:execution_id", s.getExecution)
		v1.DELETE("/executions/:execution_id", s.stopExecution)
		v1.GET("/executions/:execution_id/stream", s.streamExecution)
		v1.GET("/executions/:execution_id/results", s.getResults)
		v1.POST("/executions/:execution_id/results/format", s.formatResults)
	}

	return router
}

// health reports process liveness plus backend and bus status.
func (s *Server) health(c *gin.Context) {
	storeStatus := "healthy"
	if err := s.store.Ping(c.Request.Context()); err != nil {
		storeStatus = "unavailable"
	}

	respondOK(c, http.StatusOK, "healthy", gin.H{
		"status":           "healthy",
		"state_store":      storeStatus,
		"bus":              s.bus.Stats(),
		"engine":           s.engine.Stats(),
		"registered_teams": s.teams.Len(),
	})
}
