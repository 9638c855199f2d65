package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/covey-team/covey/pkg/agent"
	"github.com/covey-team/covey/pkg/bus"
	"github.com/covey-team/covey/pkg/engine"
	"github.com/covey-team/covey/pkg/keys"
	"github.com/covey-team/covey/pkg/models"
	"github.com/covey-team/covey/pkg/store"
	"github.com/covey-team/covey/pkg/team"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type apiHarness struct {
	router *gin.Engine
	store  store.StateStore
	engine *engine.Engine
	bus    *bus.Bus
}

func newAPIHarness(t *testing.T, runner agent.Runner, router agent.Router) *apiHarness {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	st, err := store.NewRedisStore(store.Options{
		Client:      client,
		Prefix:      "apitest",
		LockTTL:     time.Second,
		LockRetries: 3,
		LockBackoff: 5 * time.Millisecond,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	eventBus := bus.New(bus.Config{})
	t.Cleanup(eventBus.Stop)

	eng := engine.New(engine.Config{}, st, eventBus, runner, router)
	builder := team.NewBuilder(&keys.StaticProvider{Creds: keys.Credentials{APIKey: "k"}}, nil)

	srv := NewServer(Options{HeartbeatInterval: time.Minute}, st, eventBus, eng, builder)
	return &apiHarness{router: srv.Routes(), store: st, engine: eng, bus: eventBus}
}

func testLLM() models.LLMConfig {
	return models.LLMConfig{Provider: models.ProviderOpenAI, Model: "gpt-4o", TimeoutSeconds: 60}
}

func teamDefinition() map[string]any {
	spec := models.HierarchicalTeam{
		Name: "Research Pipeline",
		TopSupervisor: models.SupervisorConfig{
			LLM: testLLM(), SystemPrompt: "coordinate", UserPrompt: "run", MaxIterations: 3,
		},
		SubTeams: []models.SubTeam{
			{
				ID:   "research",
				Name: "Research",
				Supervisor: models.SupervisorConfig{
					LLM: testLLM(), SystemPrompt: "route", UserPrompt: "research machine learning trends", MaxIterations: 2,
				},
				Workers: []models.WorkerConfig{
					{ID: "w1", Name: "Analyst", LLM: testLLM(), SystemPrompt: "a", UserPrompt: "analyze", MaxIterations: 2},
				},
			},
			{
				ID:   "writing",
				Name: "Writing",
				Supervisor: models.SupervisorConfig{
					LLM: testLLM(), SystemPrompt: "route", UserPrompt: "write the report", MaxIterations: 2,
				},
				Workers: []models.WorkerConfig{
					{ID: "w2", Name: "Writer", LLM: testLLM(), SystemPrompt: "w", UserPrompt: "write", MaxIterations: 2},
				},
			},
		},
		Dependencies: map[string][]string{"writing": {"research"}},
	}
	raw, _ := json.Marshal(spec)
	var out map[string]any
	_ = json.Unmarshal(raw, &out)
	return out
}

func (h *apiHarness) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	h.router.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) (Envelope, map[string]any) {
	t.Helper()
	var env Envelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
	data, _ := env.Data.(map[string]any)
	return env, data
}

func (h *apiHarness) createTeam(t *testing.T) string {
	t.Helper()
	rec := h.do(t, http.MethodPost, "/api/v1/hierarchical-teams", teamDefinition())
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	_, data := decode(t, rec)
	teamID, _ := data["team_id"].(string)
	require.True(t, models.ValidTeamID(teamID))
	return teamID
}

func (h *apiHarness) execute(t *testing.T, teamID string) string {
	t.Helper()
	rec := h.do(t, http.MethodPost, "/api/v1/hierarchical-teams/"+teamID+"/execute", nil)
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
	_, data := decode(t, rec)
	executionID, _ := data["execution_id"].(string)
	require.True(t, models.ValidExecutionID(executionID))
	return executionID
}

func (h *apiHarness) waitTerminal(t *testing.T, executionID string) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		state, err := h.store.Get(context.Background(), executionID)
		require.NoError(t, err)
		if state != nil && state.Status.Terminal() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("execution %s did not reach a terminal status", executionID)
}

func TestCreateTeam(t *testing.T) {
	h := newAPIHarness(t, &agent.StubRunner{}, &agent.StubRouter{})

	rec := h.do(t, http.MethodPost, "/api/v1/hierarchical-teams", teamDefinition())
	require.Equal(t, http.StatusOK, rec.Code)

	env, data := decode(t, rec)
	assert.True(t, env.Success)
	assert.Equal(t, CodeOK, env.Code)
	assert.Equal(t, "Research Pipeline", data["name"])
	assert.Equal(t, float64(2), data["sub_teams"])
	assert.Equal(t, []any{"research", "writing"}, data["execution_order"])
}

func TestCreateTeamRejectsMalformedJSON(t *testing.T) {
	h := newAPIHarness(t, &agent.StubRunner{}, &agent.StubRouter{})

	req := httptest.NewRequest(http.MethodPost, "/api/v1/hierarchical-teams", bytes.NewReader([]byte("{not json")))
	rec := httptest.NewRecorder()
	h.router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusBadRequest, rec.Code)
	env, _ := decode(t, rec)
	assert.False(t, env.Success)
	assert.Equal(t, CodeValidationError, env.Code)
}

func TestCreateTeamRejectsDependencyCycle(t *testing.T) {
	h := newAPIHarness(t, &agent.StubRunner{}, &agent.StubRouter{})

	def := teamDefinition()
	def["dependencies"] = map[string]any{
		"writing":  []any{"research"},
		"research": []any{"writing"},
	}

	rec := h.do(t, http.MethodPost, "/api/v1/hierarchical-teams", def)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	env, _ := decode(t, rec)
	assert.Equal(t, CodeTeamBuildError, env.Code)
}

func TestExecuteUnknownTeam(t *testing.T) {
	h := newAPIHarness(t, &agent.StubRunner{}, &agent.StubRouter{})

	// Well-formed id that was never registered.
	rec := h.do(t, http.MethodPost, "/api/v1/hierarchical-teams/ht_0a1b2c3d4/execute", nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
	env, _ := decode(t, rec)
	assert.Equal(t, CodeTeamNotFound, env.Code)

	// Malformed id is also a 404.
	rec = h.do(t, http.MethodPost, "/api/v1/hierarchical-teams/bogus/execute", nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestExecuteReturnsAcceptedWithStreamURL(t *testing.T) {
	h := newAPIHarness(t, &agent.StubRunner{}, &agent.StubRouter{})
	teamID := h.createTeam(t)

	rec := h.do(t, http.MethodPost, "/api/v1/hierarchical-teams/"+teamID+"/execute", nil)
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())

	_, data := decode(t, rec)
	executionID := data["execution_id"].(string)
	assert.Equal(t, "started", data["status"])
	assert.Equal(t, teamID, data["team_id"])
	assert.Equal(t, fmt.Sprintf("/api/v1/executions/%s/stream", executionID), data["stream_url"])
	assert.Equal(t, float64(60), data["estimated_duration"])

	h.waitTerminal(t, executionID)
}

func TestExecuteRejectsInvalidConfig(t *testing.T) {
	h := newAPIHarness(t, &agent.StubRunner{}, &agent.StubRouter{})
	teamID := h.createTeam(t)

	body := map[string]any{"execution_config": map[string]any{"max_parallel_teams": 0}}
	rec := h.do(t, http.MethodPost, "/api/v1/hierarchical-teams/"+teamID+"/execute", body)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	env, _ := decode(t, rec)
	assert.Equal(t, CodeValidationError, env.Code)
}

func TestGetExecutionStatus(t *testing.T) {
	h := newAPIHarness(t, &agent.StubRunner{}, &agent.StubRouter{})
	teamID := h.createTeam(t)
	executionID := h.execute(t, teamID)
	h.waitTerminal(t, executionID)

	rec := h.do(t, http.MethodGet, "/api/v1/executions/"+executionID, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	_, data := decode(t, rec)
	assert.Equal(t, executionID, data["execution_id"])
	assert.Equal(t, teamID, data["team_id"])
	assert.Equal(t, string(models.ExecutionCompleted), data["status"])
	assert.Equal(t, float64(100), data["progress"])
	assert.Equal(t, float64(2), data["teams_completed"])
	assert.Equal(t, float64(2), data["total_teams"])
	assert.Contains(t, data, "completed_at")
	assert.Contains(t, data, "duration")
}

func TestGetExecutionNotFound(t *testing.T) {
	h := newAPIHarness(t, &agent.StubRunner{}, &agent.StubRouter{})

	for _, id := range []string{"exec_0123456789ab", "not-an-id"} {
		rec := h.do(t, http.MethodGet, "/api/v1/executions/"+id, nil)
		require.Equal(t, http.StatusNotFound, rec.Code)
		env, _ := decode(t, rec)
		assert.Equal(t, CodeExecutionNotFound, env.Code)
	}
}

func TestStopExecution(t *testing.T) {
	runner := &agent.StubRunner{Delay: time.Minute}
	h := newAPIHarness(t, runner, &agent.StubRouter{})
	teamID := h.createTeam(t)
	executionID := h.execute(t, teamID)

	time.Sleep(50 * time.Millisecond)
	rec := h.do(t, http.MethodDelete, "/api/v1/executions/"+executionID+"?graceful=false", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	_, data := decode(t, rec)
	assert.Equal(t, executionID, data["execution_id"])
	assert.Equal(t, false, data["graceful"])

	h.waitTerminal(t, executionID)
}

func TestGracefulStopSurfacesCancellationInResults(t *testing.T) {
	// The in-flight worker call finishes; the next checkpoint observes
	// the stop request and fails the session with a cancellation error.
	runner := &agent.StubRunner{Delay: 300 * time.Millisecond}
	h := newAPIHarness(t, runner, &agent.StubRouter{})
	teamID := h.createTeam(t)
	executionID := h.execute(t, teamID)

	rec := h.do(t, http.MethodDelete, "/api/v1/executions/"+executionID+"?graceful=true", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	h.waitTerminal(t, executionID)

	rec = h.do(t, http.MethodGet, "/api/v1/executions/"+executionID+"/results", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	_, data := decode(t, rec)
	summary := data["summary"].(map[string]any)
	assert.Equal(t, string(models.ExecutionFailed), summary["status"])

	cancelled := false
	for _, raw := range data["errors"].([]any) {
		if e, ok := raw.(map[string]any); ok && e["code"] == models.ErrorCodeCancelled {
			cancelled = true
		}
	}
	assert.True(t, cancelled, "cancellation must appear in the error list")
}

func TestStopUnknownExecution(t *testing.T) {
	h := newAPIHarness(t, &agent.StubRunner{}, &agent.StubRouter{})

	rec := h.do(t, http.MethodDelete, "/api/v1/executions/exec_0123456789ab", nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
	env, _ := decode(t, rec)
	assert.Equal(t, CodeExecutionNotFound, env.Code)
}

func TestListExecutions(t *testing.T) {
	h := newAPIHarness(t, &agent.StubRunner{}, &agent.StubRouter{})
	teamID := h.createTeam(t)
	executionID := h.execute(t, teamID)
	h.waitTerminal(t, executionID)

	rec := h.do(t, http.MethodGet, "/api/v1/executions?team_id="+teamID, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	_, data := decode(t, rec)
	assert.Equal(t, float64(1), data["total_count"])
	assert.Equal(t, float64(1), data["page"])
	assert.Equal(t, float64(10), data["page_size"])

	items := data["executions"].([]any)
	require.Len(t, items, 1)
	first := items[0].(map[string]any)
	assert.Equal(t, executionID, first["execution_id"])
	assert.Equal(t, teamID, first["team_id"])
}

func TestListExecutionsScansPastDefaultStoreLimit(t *testing.T) {
	h := newAPIHarness(t, &agent.StubRunner{}, &agent.StubRouter{})

	for i := 0; i < 120; i++ {
		id := models.NewExecutionID()
		require.NoError(t, h.store.Create(context.Background(), id, "ht_0a1b2c3d4",
			models.ExecutionContext{ExecutionID: id, TeamID: "ht_0a1b2c3d4", StartedAt: time.Now().UTC()}))
	}

	rec := h.do(t, http.MethodGet, "/api/v1/executions?page=2&page_size=100", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	_, data := decode(t, rec)
	assert.Equal(t, float64(120), data["total_count"])
	assert.Len(t, data["executions"], 20)
}

func TestListExecutionsRejectsInvalidStatus(t *testing.T) {
	h := newAPIHarness(t, &agent.StubRunner{}, &agent.StubRouter{})

	rec := h.do(t, http.MethodGet, "/api/v1/executions?execution_status=bogus", nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	env, _ := decode(t, rec)
	assert.Equal(t, CodeInvalidStatusFilter, env.Code)
}

func TestListExecutionsClampsPagination(t *testing.T) {
	h := newAPIHarness(t, &agent.StubRunner{}, &agent.StubRouter{})

	rec := h.do(t, http.MethodGet, "/api/v1/executions?page=-3&page_size=9999", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	_, data := decode(t, rec)
	assert.Equal(t, float64(1), data["page"])
	assert.Equal(t, float64(100), data["page_size"])
}

func TestGetResultsJSON(t *testing.T) {
	h := newAPIHarness(t, &agent.StubRunner{}, &agent.StubRouter{})
	teamID := h.createTeam(t)
	executionID := h.execute(t, teamID)
	h.waitTerminal(t, executionID)

	rec := h.do(t, http.MethodGet, "/api/v1/executions/"+executionID+"/results", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	env, data := decode(t, rec)
	assert.True(t, env.Success)
	assert.Equal(t, executionID, data["execution_id"])
	assert.Contains(t, data, "summary")
	assert.Contains(t, data, "team_results")
}

func TestGetResultsRawFormats(t *testing.T) {
	h := newAPIHarness(t, &agent.StubRunner{}, &agent.StubRouter{})
	teamID := h.createTeam(t)
	executionID := h.execute(t, teamID)
	h.waitTerminal(t, executionID)

	rec := h.do(t, http.MethodGet, "/api/v1/executions/"+executionID+"/results?format=markdown", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Type"), "text/markdown")
	assert.Contains(t, rec.Body.String(), executionID)

	rec = h.do(t, http.MethodGet, "/api/v1/executions/"+executionID+"/results?format=xml", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Type"), "application/xml")
	assert.Contains(t, rec.Body.String(), "<execution_id>"+executionID+"</execution_id>")
}

func TestGetResultsRejectsUnknownFormat(t *testing.T) {
	h := newAPIHarness(t, &agent.StubRunner{}, &agent.StubRouter{})
	teamID := h.createTeam(t)
	executionID := h.execute(t, teamID)
	h.waitTerminal(t, executionID)

	rec := h.do(t, http.MethodGet, "/api/v1/executions/"+executionID+"/results?format=yaml", nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	env, _ := decode(t, rec)
	assert.Equal(t, CodeInvalidFormat, env.Code)
}

func TestGetResultsBeforeCompletion(t *testing.T) {
	runner := &agent.StubRunner{Delay: time.Minute}
	h := newAPIHarness(t, runner, &agent.StubRouter{})
	teamID := h.createTeam(t)
	executionID := h.execute(t, teamID)
	t.Cleanup(func() { h.engine.Stop(executionID, false) })

	time.Sleep(50 * time.Millisecond)
	rec := h.do(t, http.MethodGet, "/api/v1/executions/"+executionID+"/results", nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	env, _ := decode(t, rec)
	assert.Equal(t, CodeExecutionNotCompleted, env.Code)
}

func TestFormatResults(t *testing.T) {
	runner := &agent.StubRunner{
		Outcomes: map[string]*agent.WorkerOutcome{
			"w1": {Status: models.TeamCompleted, Output: "The study covers machine learning and 深度学习 advances.", APICalls: 1},
			"w2": {Status: models.TeamCompleted, Output: "Report ready.", APICalls: 1},
		},
	}
	h := newAPIHarness(t, runner, &agent.StubRouter{})
	teamID := h.createTeam(t)
	executionID := h.execute(t, teamID)
	h.waitTerminal(t, executionID)

	body := map[string]any{
		"output_template":  map[string]any{"title": "Report", "body": "{summary}"},
		"extraction_rules": map[string]string{"summary": "summarize the findings"},
	}
	rec := h.do(t, http.MethodPost, "/api/v1/executions/"+executionID+"/results/format", body)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	_, data := decode(t, rec)
	formatted := data["formatted_output"].(map[string]any)
	assert.Equal(t, "Report", formatted["title"])
	assert.NotContains(t, formatted["body"], "{summary}")
}

func TestFormatResultsValidation(t *testing.T) {
	h := newAPIHarness(t, &agent.StubRunner{}, &agent.StubRouter{})
	teamID := h.createTeam(t)
	executionID := h.execute(t, teamID)
	h.waitTerminal(t, executionID)

	cases := []struct {
		name string
		body map[string]any
		code string
	}{
		{
			name: "missing template",
			body: map[string]any{"extraction_rules": map[string]string{"summary": "summarize"}},
			code: CodeMissingTemplate,
		},
		{
			name: "missing rules",
			body: map[string]any{"output_template": map[string]any{"title": "{summary}"}},
			code: CodeMissingRules,
		},
		{
			name: "empty template",
			body: map[string]any{
				"output_template":  map[string]any{},
				"extraction_rules": map[string]string{"summary": "summarize"},
			},
			code: CodeInvalidTemplate,
		},
		{
			name: "empty rules",
			body: map[string]any{
				"output_template":  map[string]any{"title": "{summary}"},
				"extraction_rules": map[string]string{},
			},
			code: CodeInvalidRules,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := h.do(t, http.MethodPost, "/api/v1/executions/"+executionID+"/results/format", tc.body)
			require.Equal(t, http.StatusBadRequest, rec.Code, rec.Body.String())
			env, _ := decode(t, rec)
			assert.Equal(t, tc.code, env.Code)
		})
	}
}

func TestStreamReplaysCompletedExecution(t *testing.T) {
	h := newAPIHarness(t, &agent.StubRunner{}, &agent.StubRouter{})
	teamID := h.createTeam(t)
	executionID := h.execute(t, teamID)
	h.waitTerminal(t, executionID)

	rec := h.do(t, http.MethodGet, "/api/v1/executions/"+executionID+"/stream", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Type"), "text/event-stream")

	body := rec.Body.String()
	assert.Contains(t, body, "event: execution_started\n")
	assert.Contains(t, body, "event: team_completed\n")
	assert.Contains(t, body, "event: execution_completed\n")
	assert.Contains(t, body, executionID)
}

func TestStreamServesTerminalExecutionAfterBufferEviction(t *testing.T) {
	// With the in-memory buffer gone, the durable event trail still
	// closes the stream with an execution_completed frame.
	h := newAPIHarness(t, &agent.StubRunner{}, &agent.StubRouter{})
	teamID := h.createTeam(t)
	executionID := h.execute(t, teamID)
	h.waitTerminal(t, executionID)
	h.bus.DropBuffer(executionID)

	rec := h.do(t, http.MethodGet, "/api/v1/executions/"+executionID+"/stream", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	body := rec.Body.String()
	assert.Contains(t, body, "event: execution_started\n")
	assert.Contains(t, body, "event: execution_completed\n")
	assert.NotContains(t, body, "event: stream_error\n")
}

func TestStreamEmitsErrorFrameWhenBusStops(t *testing.T) {
	runner := &agent.StubRunner{Delay: time.Minute}
	h := newAPIHarness(t, runner, &agent.StubRouter{})
	teamID := h.createTeam(t)
	executionID := h.execute(t, teamID)
	t.Cleanup(func() { h.engine.Stop(executionID, false) })

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/v1/executions/"+executionID+"/stream", nil)
	done := make(chan struct{})
	go func() {
		h.router.ServeHTTP(rec, req)
		close(done)
	}()

	time.Sleep(100 * time.Millisecond)
	h.bus.Stop()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("stream did not close after bus stop")
	}
	assert.Contains(t, rec.Body.String(), "event: stream_error\n")
}

func TestStreamUnknownExecution(t *testing.T) {
	h := newAPIHarness(t, &agent.StubRunner{}, &agent.StubRouter{})

	rec := h.do(t, http.MethodGet, "/api/v1/executions/exec_0123456789ab/stream", nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHealth(t *testing.T) {
	h := newAPIHarness(t, &agent.StubRunner{}, &agent.StubRouter{})
	h.createTeam(t)

	rec := h.do(t, http.MethodGet, "/api/v1/executions/health", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	_, data := decode(t, rec)
	assert.Equal(t, "healthy", data["status"])
	assert.Equal(t, "healthy", data["state_store"])
	assert.Equal(t, float64(1), data["registered_teams"])
}
