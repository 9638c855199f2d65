package api

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/covey-team/covey/pkg/models"
	"github.com/covey-team/covey/pkg/results"
	"github.com/covey-team/covey/pkg/template"
)

// getResults handles GET /api/v1/executions/:execution_id/results.
// JSON results ride in the envelope; xml and markdown are returned raw
// with their own content type.
func (s *Server) getResults(c *gin.Context) {
	executionID := c.Param("execution_id")
	if !models.ValidExecutionID(executionID) {
		respondNotFound(c, CodeExecutionNotFound, fmt.Sprintf("execution %q not found", executionID))
		return
	}

	format, err := results.ParseFormat(c.Query("format"))
	if err != nil {
		respondError(c, http.StatusBadRequest, CodeInvalidFormat, err.Error())
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
	if !state.Status.Terminal() {
		respondError(c, http.StatusBadRequest, CodeExecutionNotCompleted,
			fmt.Sprintf("execution %q is %s; results are available once it completes", executionID, state.Status))
		return
	}

	out := results.FromState(state)

	if format == results.FormatJSON {
		respondOK(c, http.StatusOK, "execution results", out)
		return
	}

	rendered, err := results.Render(out, format)
	if err != nil {
		respondError(c, http.StatusInternalServerError, CodeInternalError, err.Error())
		return
	}
	switch format {
	case results.FormatXML:
		c.Data(http.StatusOK, "application/xml; charset=utf-8", []byte(rendered))
	case results.FormatMarkdown:
		c.Data(http.StatusOK, "text/markdown; charset=utf-8", []byte(rendered))
	}
}

type formatRequest struct {
	OutputTemplate  map[string]any    `json:"output_template"`
	ExtractionRules map[string]string `json:"extraction_rules"`
}

// formatResults handles POST /api/v1/executions/:execution_id/results/format.
func (s *Server) formatResults(c *gin.Context) {
	executionID := c.Param("execution_id")
	if !models.ValidExecutionID(executionID) {
		respondNotFound(c, CodeExecutionNotFound, fmt.Sprintf("execution %q not found", executionID))
		return
	}

	var req formatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, CodeValidationError, fmt.Sprintf("invalid request body: %v", err))
		return
	}
	if req.OutputTemplate == nil {
		respondError(c, http.StatusBadRequest, CodeMissingTemplate, "output_template is required")
		return
	}
	if req.ExtractionRules == nil {
		respondError(c, http.StatusBadRequest, CodeMissingRules, "extraction_rules is required")
		return
	}
	if _, err := template.Parse(req.OutputTemplate); err != nil {
		respondError(c, http.StatusBadRequest, CodeInvalidTemplate, err.Error())
		return
	}
	if err := template.ValidateRules(req.ExtractionRules); err != nil {
		respondError(c, http.StatusBadRequest, CodeInvalidRules, err.Error())
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
	if !state.Status.Terminal() {
		respondError(c, http.StatusBadRequest, CodeExecutionNotCompleted,
			fmt.Sprintf("execution %q is %s; results are available once it completes", executionID, state.Status))
		return
	}

	formatted, err := template.Format(req.OutputTemplate, req.ExtractionRules, results.FromState(state))
	if err != nil {
		switch {
		case errors.Is(err, template.ErrInvalidTemplate):
			respondError(c, http.StatusBadRequest, CodeInvalidTemplate, err.Error())
		case errors.Is(err, template.ErrInvalidRules):
			respondError(c, http.StatusBadRequest, CodeInvalidRules, err.Error())
		default:
			respondError(c, http.StatusInternalServerError, CodeExtractionError, err.Error())
		}
		return
	}

	respondOK(c, http.StatusOK, "results formatted", gin.H{
		"execution_id":     executionID,
		"formatted_output": formatted,
	})
}
