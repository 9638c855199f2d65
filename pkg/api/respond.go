package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// Stable error codes carried in the response envelope.
const (
	CodeOK                    = "OK"
	CodeValidationError       = "VALIDATION_ERROR"
	CodeTeamBuildError        = "TEAM_BUILD_ERROR"
	CodeTeamNotFound          = "TEAM_NOT_FOUND"
	CodeExecutionNotFound     = "EXECUTION_NOT_FOUND"
	CodeExecutionNotCompleted = "EXECUTION_NOT_COMPLETED"
	CodeInvalidStatusFilter   = "INVALID_STATUS_FILTER"
	CodeInvalidFormat         = "INVALID_FORMAT"
	CodeMissingTemplate       = "MISSING_TEMPLATE"
	CodeMissingRules          = "MISSING_RULES"
	CodeInvalidTemplate       = "INVALID_TEMPLATE"
	CodeInvalidRules          = "INVALID_RULES"
	CodeExtractionError       = "EXTRACTION_ERROR"
	CodeStoreUnavailable      = "STORE_UNAVAILABLE"
	CodeInternalError         = "INTERNAL_ERROR"
	CodeSpawnFailed           = "SPAWN_FAILED"
)

// Envelope is the uniform JSON response shape.
type Envelope struct {
	Success bool   `json:"success"`
	Code    string `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

func respondOK(c *gin.Context, status int, message string, data any) {
	c.JSON(status, Envelope{Success: true, Code: CodeOK, Message: message, Data: data})
}

func respondError(c *gin.Context, status int, code, message string) {
	c.JSON(status, Envelope{Success: false, Code: code, Message: message})
}

func respondNotFound(c *gin.Context, code, message string) {
	respondError(c, http.StatusNotFound, code, message)
}
