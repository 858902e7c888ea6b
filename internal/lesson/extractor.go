// Package lesson extracts insights from an agent's free-text reasoning.
//
// This is a bounded heuristic, not a semantic parser: an ordered list of
// pattern/confidence pairs is tried and the best match wins, with a
// last-sentence fallback when nothing matches. Confidence is advisory only
// and must never gate control flow.
package lesson

import (
	"regexp"
	"strings"
)

// Extracted is a lesson with its confidence and the pattern that produced it.
type Extracted struct {
	Insight    string
	Confidence float64 // 0.0 - 1.0, advisory
	Pattern    string  // empty when nothing matched
}

const maxInsightLen = 200

type lessonPattern struct {
	re         *regexp.Regexp
	confidence float64
	name       string
}

// Patterns ordered by specificity; more specific means higher confidence.
var lessonPatterns = []lessonPattern{
	// High confidence: explicit realizations
	{regexp.MustCompile(`(?im)I (?:now )?(?:realize|understand|see) (?:that |now )?(.+?)(?:\.|$)`), 0.9, "realization"},
	{regexp.MustCompile(`(?im)(?:The )?(?:root )?(?:cause|issue|problem|bug|error) (?:is|was|seems to be) (.+?)(?:\.|$)`), 0.9, "root_cause"},
	{regexp.MustCompile(`(?im)(?:This|That) (?:means|indicates|suggests|implies) (.+?)(?:\.|$)`), 0.85, "implication"},

	// Medium confidence: conclusions
	{regexp.MustCompile(`(?im)(?:The )?(?:solution|fix|answer) (?:is|was|requires) (.+?)(?:\.|$)`), 0.8, "solution"},
	{regexp.MustCompile(`(?im)(?:So|Therefore|Thus|Hence),? (.+?)(?:\.|$)`), 0.75, "conclusion"},
	{regexp.MustCompile(`(?im)(?:It )?(?:turns out|appears) (?:that )?(.+?)(?:\.|$)`), 0.75, "discovery"},

	// Medium confidence: observations
	{regexp.MustCompile(`(?im)(?:I )?(?:notice|noticed|found|discovered) (?:that )?(.+?)(?:\.|$)`), 0.7, "observation"},
	{regexp.MustCompile(`(?im)(?:Looking at|After examining|Upon inspection)[^,]*,? (.+?)(?:\.|$)`), 0.65, "inspection"},

	// Lower confidence: warnings/errors
	{regexp.MustCompile(`(?im)(?:The )?(?:test|build|lint|check) (?:fails|failed|errors?) (?:because|due to|with) (.+?)(?:\.|$)`), 0.6, "failure_reason"},
	{regexp.MustCompile(`(?im)(?:Error|Warning|Issue): (.+?)(?:\.|$)`), 0.5, "error_message"},
}

var approachPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?im)(?:I )?(?:tried|attempted|changed|modified|updated|added|removed|fixed|refactored) (.+?)(?:\.|$)`),
	regexp.MustCompile(`(?im)(?:Let me |I'll |I will |Going to )(.+?)(?:\.|$)`),
	regexp.MustCompile(`(?im)(?:The )?(?:change|modification|update|fix) (?:I made |was )(.+?)(?:\.|$)`),
}

var fillerPrefixes = []*regexp.Regexp{
	regexp.MustCompile(`(?i)^(?:I think |I believe |It seems |Perhaps |Maybe |Probably )`),
	regexp.MustCompile(`(?i)^(?:we need to |we should |we must |we have to )`),
	regexp.MustCompile(`(?i)^(?:you need to |you should |you must |you have to )`),
}

// Extract returns the key insight from a response, or a fallback summary.
func Extract(response string) Extracted {
	if strings.TrimSpace(response) == "" {
		return Extracted{Insight: "No response to analyze", Confidence: 0.0}
	}

	var best *Extracted
	for _, p := range lessonPatterns {
		m := p.re.FindStringSubmatch(response)
		if m == nil {
			continue
		}
		insight := cleanInsight(m[1])
		if len(insight) <= 10 {
			continue
		}
		if best == nil || p.confidence > best.Confidence {
			best = &Extracted{Insight: insight, Confidence: p.confidence, Pattern: p.name}
		}
	}
	if best != nil {
		return *best
	}

	return Extracted{Insight: fallbackLesson(response), Confidence: 0.3, Pattern: "fallback"}
}

// ExtractApproach returns an action-oriented statement of what was attempted.
func ExtractApproach(response string) string {
	for _, re := range approachPatterns {
		m := re.FindStringSubmatch(response)
		if m == nil {
			continue
		}
		approach := cleanInsight(m[1])
		if len(approach) > 10 {
			return approach
		}
	}
	return "Attempted fix (details unclear)"
}

func cleanInsight(insight string) string {
	insight = strings.Trim(strings.TrimSpace(insight), `"'`)

	for _, re := range fillerPrefixes {
		insight = re.ReplaceAllString(insight, "")
	}

	if insight != "" {
		insight = strings.ToUpper(insight[:1]) + insight[1:]
	}
	if len(insight) > maxInsightLen {
		insight = insight[:maxInsightLen-3] + "..."
	}
	return insight
}

var sentenceRe = regexp.MustCompile(`[^.!?]+[.!?]?`)

// fallbackLesson extracts the last substantive sentence of the last non-code
// paragraph.
func fallbackLesson(response string) string {
	var paragraphs []string
	for _, p := range strings.Split(response, "\n\n") {
		if strings.TrimSpace(p) != "" {
			paragraphs = append(paragraphs, strings.TrimSpace(p))
		}
	}
	if len(paragraphs) == 0 {
		return "Unable to extract lesson"
	}

	last := paragraphs[len(paragraphs)-1]
	if strings.HasPrefix(last, "```") && len(paragraphs) > 1 {
		last = paragraphs[len(paragraphs)-2]
	}

	var sentences []string
	for _, s := range sentenceRe.FindAllString(last, -1) {
		s = strings.TrimSpace(s)
		if len(s) > 20 {
			sentences = append(sentences, s)
		}
	}
	if len(sentences) > 0 {
		return cleanInsight(sentences[len(sentences)-1])
	}

	if len(last) > maxInsightLen {
		last = last[:maxInsightLen]
	}
	return cleanInsight(last)
}

// failureClass maps a category to the output keywords that indicate it.
type failureClass struct {
	category string
	keywords []string
}

var failureClasses = []failureClass{
	{"syntax_error", []string{"syntaxerror", "unexpected token", "parsing error"}},
	{"type_error", []string{"typeerror", "type mismatch", "cannot read property", "undefined is not"}},
	{"import_error", []string{"cannot find module", "module not found", "importerror", "no module named"}},
	{"test_failure", []string{"fail", "expected", "received", "assertion", "test failed"}},
	{"lint_error", []string{"eslint", "lint", "prettier", "formatting"}},
	{"build_error", []string{"build failed", "compilation error", "cannot compile"}},
	{"runtime_error", []string{"runtime error", "exception", "crash", "segfault"}},
	{"timeout", []string{"timeout", "timed out", "exceeded"}},
	{"permission_error", []string{"permission denied", "access denied", "eacces"}},
}

// ClassifyFailure returns a coarse category for an error output.
func ClassifyFailure(errorOutput string) string {
	lower := strings.ToLower(errorOutput)
	for _, fc := range failureClasses {
		for _, kw := range fc.keywords {
			if strings.Contains(lower, kw) {
				return fc.category
			}
		}
	}
	return "unknown_error"
}

var errorIndicators = []string{"error", "fail", "expected", "received", "cannot", "undefined", "null"}

// SummarizeError returns the most relevant line of an error output,
// truncated to maxLen.
func SummarizeError(errorOutput string, maxLen int) string {
	if strings.TrimSpace(errorOutput) == "" {
		return "No error output"
	}
	if maxLen <= 3 {
		maxLen = 150
	}

	lines := strings.Split(strings.TrimSpace(errorOutput), "\n")

	for _, line := range lines {
		lower := strings.ToLower(line)
		for _, ind := range errorIndicators {
			if strings.Contains(lower, ind) {
				return truncate(strings.TrimSpace(line), maxLen)
			}
		}
	}

	for _, line := range lines {
		if strings.TrimSpace(line) != "" {
			return truncate(strings.TrimSpace(line), maxLen)
		}
	}

	return "Error details unavailable"
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen-3] + "..."
}
