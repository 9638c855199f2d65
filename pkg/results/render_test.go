package results

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/covey-team/covey/pkg/models"
)

func TestParseFormat(t *testing.T) {
	for input, want := range map[string]Format{
		"":         FormatJSON,
		"json":     FormatJSON,
		"JSON":     FormatJSON,
		"xml":      FormatXML,
		"markdown": FormatMarkdown,
	} {
		got, err := ParseFormat(input)
		require.NoError(t, err, "input %q", input)
		assert.Equal(t, want, got)
	}

	_, err := ParseFormat("yaml")
	assert.ErrorIs(t, err, ErrInvalidFormat)
}

func TestRenderJSONRoundTrips(t *testing.T) {
	out := FromState(completedState())

	rendered, err := Render(out, FormatJSON)
	require.NoError(t, err)

	var decoded models.StandardizedOutput
	require.NoError(t, json.Unmarshal([]byte(rendered), &decoded))
	assert.Equal(t, out.ExecutionID, decoded.ExecutionID)
	assert.Equal(t, out.Summary.Status, decoded.Summary.Status)
	assert.Len(t, decoded.TeamResults, 2)
}

func TestRenderXML(t *testing.T) {
	out := FromState(completedState())
	out.TeamResults["research"] = models.TeamResult{
		Status: models.TeamCompleted,
		Output: `findings with <angle> & "quotes"`,
	}

	rendered, err := Render(out, FormatXML)
	require.NoError(t, err)

	assert.Contains(t, rendered, `<?xml version="1.0" encoding="UTF-8"?>`)
	assert.Contains(t, rendered, "<execution_id>exec_0123456789ab</execution_id>")
	assert.Contains(t, rendered, `<team id="research">`)
	assert.Contains(t, rendered, "&lt;angle&gt; &amp; &quot;quotes&quot;")
	assert.Contains(t, rendered, "<success_rate>1.00</success_rate>")
	assert.NotContains(t, rendered, "<errors>")
}

func TestRenderMarkdown(t *testing.T) {
	out := FromState(completedState())
	out.Errors = []models.ErrorInfo{
		models.NewErrorInfo(models.ErrorCodeRoutingFallback, "defaulted to first worker"),
	}

	rendered, err := Render(out, FormatMarkdown)
	require.NoError(t, err)

	assert.Contains(t, rendered, "# Execution Report: exec_0123456789ab")
	assert.Contains(t, rendered, "| research | completed |")
	assert.Contains(t, rendered, "### writing")
	assert.Contains(t, rendered, "`routing-fallback`: defaulted to first worker")
	assert.Contains(t, rendered, "**Success rate**: 100%")
}

func TestRenderUnknownFormat(t *testing.T) {
	_, err := Render(FromState(completedState()), Format("pdf"))
	assert.ErrorIs(t, err, ErrInvalidFormat)
}
