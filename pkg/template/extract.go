package template

import (
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/covey-team/covey/pkg/models"
)

// Rule-kind trigger phrases. A rule matches the first kind whose
// triggers appear in its text; the fallback derives a value from the
// summary fields.
var (
	summaryTriggers        = []string{"summary", "summarize", "摘要", "executive"}
	technologyTriggers     = []string{"key technologies", "key technology", "technologies", "关键技术"}
	trendTriggers          = []string{"trend", "趋势"}
	challengeTriggers      = []string{"challenge", "挑战"}
	recommendationTriggers = []string{"recommendation", "recommend", "建议"}
	sourceTriggers         = []string{"data source", "source", "来源"}
	methodologyTriggers    = []string{"methodology", "method", "方法"}
)

// technologyLexicon is the fixed term list scanned for technology
// extraction, in both English and Chinese.
var technologyLexicon = []string{
	"artificial intelligence", "machine learning", "deep learning",
	"neural network", "large language model", "natural language processing",
	"computer vision", "blockchain", "cloud computing", "edge computing",
	"quantum computing", "kubernetes", "microservices", "5g", "iot",
	"人工智能", "机器学习", "深度学习", "神经网络", "大语言模型",
	"自然语言处理", "计算机视觉", "区块链", "云计算", "边缘计算", "量子计算",
}

// technologyPatterns matches lexicon terms case-insensitively on the
// original text, so match offsets stay valid even when Unicode case
// folding changes byte lengths.
var technologyPatterns = func() []*regexp.Regexp {
	patterns := make([]*regexp.Regexp, len(technologyLexicon))
	for i, term := range technologyLexicon {
		patterns[i] = regexp.MustCompile(`(?i)` + regexp.QuoteMeta(term))
	}
	return patterns
}()

// Selection keyword sets for the sentence-scanning kinds.
var (
	trendKeywords          = []string{"trend", "growing", "increasing", "emerging", "rising", "shift", "趋势", "增长", "兴起"}
	challengeKeywords      = []string{"challenge", "difficult", "risk", "barrier", "limitation", "concern", "挑战", "困难", "风险"}
	recommendationKeywords = []string{"recommend", "should", "suggest", "advise", "propose", "建议", "应该", "推荐"}
	sourceKeywords         = []string{"source", "dataset", "database", "report", "survey", "study", "来源", "数据集", "报告"}
	methodologyKeywords    = []string{"method", "approach", "analysis", "framework", "process", "technique", "方法", "分析", "框架"}
)

const (
	defaultTechnologyLimit = 5
	fallbackOutputClip     = 200
)

var digitsPattern = regexp.MustCompile(`\d+`)

// Extract applies each rule's heuristic matcher to the output. Failures
// are caught per field: the value becomes a readable placeholder string
// so the overall formatting still succeeds.
func Extract(rules map[string]string, out *models.StandardizedOutput) map[string]any {
	values := make(map[string]any, len(rules))
	for name, rule := range rules {
		value, err := extractField(rule, out)
		if err != nil {
			values[name] = fmt.Sprintf("[Failed to extract %s: %v]", name, err)
			continue
		}
		values[name] = value
	}
	return values
}

func extractField(rule string, out *models.StandardizedOutput) (any, error) {
	if out == nil {
		return nil, errors.New("no execution output available")
	}
	lower := strings.ToLower(rule)

	switch {
	case containsAny(lower, summaryTriggers):
		return extractSummary(out, limitFromRule(rule, 0)), nil
	case containsAny(lower, technologyTriggers):
		return extractTechnologies(out, limitFromRule(rule, defaultTechnologyLimit)), nil
	case containsAny(lower, trendTriggers):
		return extractSentences(out, trendKeywords, limitFromRule(rule, 0)), nil
	case containsAny(lower, challengeTriggers):
		return extractSentences(out, challengeKeywords, limitFromRule(rule, 0)), nil
	case containsAny(lower, recommendationTriggers):
		return extractSentences(out, recommendationKeywords, limitFromRule(rule, 0)), nil
	case containsAny(lower, sourceTriggers):
		return extractSentences(out, sourceKeywords, limitFromRule(rule, 0)), nil
	case containsAny(lower, methodologyTriggers):
		return extractSentences(out, methodologyKeywords, limitFromRule(rule, 0)), nil
	default:
		return fallbackValue(out), nil
	}
}

func containsAny(text string, triggers []string) bool {
	for _, trigger := range triggers {
		if strings.Contains(text, trigger) {
			return true
		}
	}
	return false
}

// limitFromRule parses the first integer in the rule text.
func limitFromRule(rule string, fallback int) int {
	if m := digitsPattern.FindString(rule); m != "" {
		if n, err := strconv.Atoi(m); err == nil && n > 0 {
			return n
		}
	}
	return fallback
}

// extractSummary concatenates the team outputs and clips to the rule's
// character bound. Clipping counts runes so CJK text is not split.
func extractSummary(out *models.StandardizedOutput, limit int) string {
	var parts []string
	for _, teamID := range sortedTeams(out) {
		if text := strings.TrimSpace(out.TeamResults[teamID].Output); text != "" {
			parts = append(parts, text)
		}
	}
	joined := strings.Join(parts, " ")
	if limit > 0 {
		runes := []rune(joined)
		if len(runes) > limit {
			joined = string(runes[:limit])
		}
	}
	return joined
}

// extractTechnologies scans the outputs for lexicon terms and returns
// the first limit matches in order of appearance.
func extractTechnologies(out *models.StandardizedOutput, limit int) []string {
	type hit struct {
		start, end int
		term       string
	}

	seen := make(map[string]bool)
	matches := []string{}
	for _, teamID := range sortedTeams(out) {
		text := out.TeamResults[teamID].Output

		var hits []hit
		for i, term := range technologyLexicon {
			if seen[term] {
				continue
			}
			if loc := technologyPatterns[i].FindStringIndex(text); loc != nil {
				hits = append(hits, hit{start: loc[0], end: loc[1], term: term})
			}
		}
		sort.Slice(hits, func(i, j int) bool { return hits[i].start < hits[j].start })

		for _, h := range hits {
			if limit > 0 && len(matches) >= limit {
				return matches
			}
			seen[h.term] = true
			// Preserve the original casing from the output text.
			matches = append(matches, text[h.start:h.end])
		}
	}
	return matches
}

// extractSentences selects the output sentences containing any of the
// keywords, deduplicated, honoring a numeric limit when given.
func extractSentences(out *models.StandardizedOutput, keywords []string, limit int) []string {
	seen := make(map[string]bool)
	matches := []string{}

	for _, teamID := range sortedTeams(out) {
		for _, sentence := range splitSentences(out.TeamResults[teamID].Output) {
			lower := strings.ToLower(sentence)
			if !containsAny(lower, keywords) || seen[sentence] {
				continue
			}
			seen[sentence] = true
			matches = append(matches, sentence)
			if limit > 0 && len(matches) >= limit {
				return matches
			}
		}
	}
	return matches
}

var sentenceSplitter = regexp.MustCompile(`[.!?。！？\n;；]+`)

func splitSentences(text string) []string {
	var sentences []string
	for _, raw := range sentenceSplitter.Split(text, -1) {
		if s := strings.TrimSpace(raw); s != "" {
			sentences = append(sentences, s)
		}
	}
	return sentences
}

// fallbackValue is used when no matcher recognizes the rule: overall
// status, total duration when known, and the first non-empty team
// output truncated.
func fallbackValue(out *models.StandardizedOutput) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Status: %s", out.Summary.Status)
	if out.Summary.TotalDurationSeconds != nil {
		fmt.Fprintf(&b, ". Duration: %.1fs", *out.Summary.TotalDurationSeconds)
	}
	for _, teamID := range sortedTeams(out) {
		text := strings.TrimSpace(out.TeamResults[teamID].Output)
		if text == "" {
			continue
		}
		runes := []rune(text)
		if len(runes) > fallbackOutputClip {
			text = string(runes[:fallbackOutputClip]) + "..."
		}
		fmt.Fprintf(&b, ". %s", text)
		break
	}
	return b.String()
}

func sortedTeams(out *models.StandardizedOutput) []string {
	ids := make([]string, 0, len(out.TeamResults))
	for id := range out.TeamResults {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
