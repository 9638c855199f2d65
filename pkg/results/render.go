package results

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/covey-team/covey/pkg/models"
)

// ErrInvalidFormat is returned for an unrecognized render format.
var ErrInvalidFormat = errors.New("invalid result format")

// Format names the supported renderings of a StandardizedOutput.
type Format string

const (
	FormatJSON     Format = "json"
	FormatXML      Format = "xml"
	FormatMarkdown Format = "markdown"
)

// ParseFormat validates a format string. Empty defaults to JSON.
func ParseFormat(s string) (Format, error) {
	switch Format(strings.ToLower(s)) {
	case "", FormatJSON:
		return FormatJSON, nil
	case FormatXML:
		return FormatXML, nil
	case FormatMarkdown:
		return FormatMarkdown, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidFormat, s)
	}
}

// Render serializes the output in the requested format.
func Render(out *models.StandardizedOutput, format Format) (string, error) {
	switch format {
	case FormatJSON:
		return renderJSON(out)
	case FormatXML:
		return renderXML(out), nil
	case FormatMarkdown:
		return renderMarkdown(out), nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidFormat, format)
	}
}

func renderJSON(out *models.StandardizedOutput) (string, error) {
	data, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return "", fmt.Errorf("encode results: %w", err)
	}
	return string(data), nil
}

// renderXML builds the document by hand: the output contains maps,
// which encoding/xml cannot marshal.
func renderXML(out *models.StandardizedOutput) string {
	var b strings.Builder
	b.WriteString(`<?xml version="1.0" encoding="UTF-8"?>` + "\n")
	b.WriteString("<execution_result>\n")
	fmt.Fprintf(&b, "  <execution_id>%s</execution_id>\n", xmlEscape(out.ExecutionID))

	b.WriteString("  <summary>\n")
	fmt.Fprintf(&b, "    <status>%s</status>\n", xmlEscape(out.Summary.Status))
	fmt.Fprintf(&b, "    <started_at>%s</started_at>\n", out.Summary.StartedAt.UTC().Format("2006-01-02T15:04:05Z"))
	if out.Summary.CompletedAt != nil {
		fmt.Fprintf(&b, "    <completed_at>%s</completed_at>\n", out.Summary.CompletedAt.UTC().Format("2006-01-02T15:04:05Z"))
	}
	if out.Summary.TotalDurationSeconds != nil {
		fmt.Fprintf(&b, "    <total_duration_seconds>%.2f</total_duration_seconds>\n", *out.Summary.TotalDurationSeconds)
	}
	fmt.Fprintf(&b, "    <teams_executed>%d</teams_executed>\n", out.Summary.TeamsExecuted)
	fmt.Fprintf(&b, "    <agents_involved>%d</agents_involved>\n", out.Summary.AgentsInvolved)
	b.WriteString("  </summary>\n")

	b.WriteString("  <team_results>\n")
	for _, teamID := range sortedTeamIDs(out.TeamResults) {
		tr := out.TeamResults[teamID]
		fmt.Fprintf(&b, "    <team id=%q>\n", xmlEscape(teamID))
		fmt.Fprintf(&b, "      <status>%s</status>\n", tr.Status)
		fmt.Fprintf(&b, "      <duration_seconds>%.2f</duration_seconds>\n", tr.DurationSeconds)
		if tr.Output != "" {
			fmt.Fprintf(&b, "      <output>%s</output>\n", xmlEscape(tr.Output))
		}
		b.WriteString("    </team>\n")
	}
	b.WriteString("  </team_results>\n")

	if len(out.Errors) > 0 {
		b.WriteString("  <errors>\n")
		for _, e := range out.Errors {
			fmt.Fprintf(&b, "    <error code=%q>%s</error>\n", xmlEscape(e.Code), xmlEscape(e.Message))
		}
		b.WriteString("  </errors>\n")
	}

	b.WriteString("  <metrics>\n")
	fmt.Fprintf(&b, "    <total_tokens_used>%d</total_tokens_used>\n", out.Metrics.TotalTokensUsed)
	fmt.Fprintf(&b, "    <api_calls_made>%d</api_calls_made>\n", out.Metrics.APICallsMade)
	fmt.Fprintf(&b, "    <success_rate>%.2f</success_rate>\n", out.Metrics.SuccessRate)
	fmt.Fprintf(&b, "    <avg_response_time_seconds>%.2f</avg_response_time_seconds>\n", out.Metrics.AvgResponseTimeSecs)
	b.WriteString("  </metrics>\n")

	b.WriteString("</execution_result>\n")
	return b.String()
}

func renderMarkdown(out *models.StandardizedOutput) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# Execution Report: %s\n\n", out.ExecutionID)

	b.WriteString("## Summary\n\n")
	fmt.Fprintf(&b, "- **Status**: %s\n", out.Summary.Status)
	fmt.Fprintf(&b, "- **Started**: %s\n", out.Summary.StartedAt.UTC().Format("2006-01-02T15:04:05Z"))
	if out.Summary.CompletedAt != nil {
		fmt.Fprintf(&b, "- **Completed**: %s\n", out.Summary.CompletedAt.UTC().Format("2006-01-02T15:04:05Z"))
	}
	if out.Summary.TotalDurationSeconds != nil {
		fmt.Fprintf(&b, "- **Duration**: %.2fs\n", *out.Summary.TotalDurationSeconds)
	}
	fmt.Fprintf(&b, "- **Teams executed**: %d\n", out.Summary.TeamsExecuted)
	fmt.Fprintf(&b, "- **Agents involved**: %d\n", out.Summary.AgentsInvolved)

	b.WriteString("\n## Team Results\n\n")
	b.WriteString("| Team | Status | Duration |\n")
	b.WriteString("|------|--------|----------|\n")
	for _, teamID := range sortedTeamIDs(out.TeamResults) {
		tr := out.TeamResults[teamID]
		fmt.Fprintf(&b, "| %s | %s | %.2fs |\n", teamID, tr.Status, tr.DurationSeconds)
	}

	for _, teamID := range sortedTeamIDs(out.TeamResults) {
		tr := out.TeamResults[teamID]
		if tr.Output == "" {
			continue
		}
		fmt.Fprintf(&b, "\n### %s\n\n%s\n", teamID, tr.Output)
	}

	if len(out.Errors) > 0 {
		b.WriteString("\n## Errors\n\n")
		for _, e := range out.Errors {
			fmt.Fprintf(&b, "- `%s`: %s\n", e.Code, e.Message)
		}
	}

	b.WriteString("\n## Metrics\n\n")
	fmt.Fprintf(&b, "- **Tokens used**: %d\n", out.Metrics.TotalTokensUsed)
	fmt.Fprintf(&b, "- **API calls**: %d\n", out.Metrics.APICallsMade)
	fmt.Fprintf(&b, "- **Success rate**: %.0f%%\n", out.Metrics.SuccessRate*100)
	fmt.Fprintf(&b, "- **Avg response time**: %.2fs\n", out.Metrics.AvgResponseTimeSecs)

	return b.String()
}

func sortedTeamIDs(teamResults map[string]models.TeamResult) []string {
	ids := make([]string, 0, len(teamResults))
	for id := range teamResults {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

var xmlReplacer = strings.NewReplacer(
	"&", "&amp;",
	"<", "&lt;",
	">", "&gt;",
	`"`, "&quot;",
)

func xmlEscape(s string) string {
	return xmlReplacer.Replace(s)
}
