// Package candidate implements the post-run candidate extractor (spec §4.7):
// answer/context composition, tag derivation, secret redaction, and a
// confidence score, all as pure functions over a completed RunOutcome.
//
// Secret detection is grounded on the masking-pattern table used elsewhere
// in this stack for scrubbing tool output before it is persisted: named
// regexes, checked in order, each carrying its own placeholder.
package candidate

import (
	"regexp"
	"strings"

	"github.com/haricheung/memexcli/internal/types"
)

// secretPattern is one named, orderable redaction rule.
type secretPattern struct {
	name        string
	re          *regexp.Regexp
	placeholder string
	strictBlock bool // if true, a match anywhere vetoes the whole candidate
}

// secretPatterns mirrors the shape (name, pattern, placeholder) of this
// stack's existing masking-pattern table, narrowed to the handful of secret
// classes worth strict-blocking a memory write over.
var secretPatterns = []secretPattern{
	{
		name:        "aws_secret_key",
		re:          regexp.MustCompile(`(?i)aws[_-]?secret[_-]?access[_-]?key["']?\s*[:=]\s*["']?([A-Za-z0-9/+=]{40})["']?`),
		placeholder: "[REDACTED_AWS_SECRET]",
		strictBlock: true,
	},
	{
		name:        "private_key_block",
		re:          regexp.MustCompile(`(?s)-----BEGIN [A-Z ]+PRIVATE KEY-----.*?-----END [A-Z ]+PRIVATE KEY-----`),
		placeholder: "[REDACTED_PRIVATE_KEY]",
		strictBlock: true,
	},
	{
		name:        "github_token",
		re:          regexp.MustCompile(`gh[pousr]_[A-Za-z0-9_]{36,255}`),
		placeholder: "[REDACTED_GITHUB_TOKEN]",
		strictBlock: true,
	},
	{
		name:        "slack_token",
		re:          regexp.MustCompile(`xox[baprs]-[A-Za-z0-9-]{10,72}`),
		placeholder: "[REDACTED_SLACK_TOKEN]",
		strictBlock: true,
	},
	{
		name:        "generic_api_key",
		re:          regexp.MustCompile(`(?i)(?:api[_-]?key|apikey)["']?\s*[:=]\s*["']?([A-Za-z0-9_\-]{20,})["']?`),
		placeholder: "[REDACTED_API_KEY]",
		strictBlock: false,
	},
	{
		name:        "bearer_token",
		re:          regexp.MustCompile(`(?i)bearer\s+[A-Za-z0-9_\-\.]{20,}`),
		placeholder: "[REDACTED_BEARER_TOKEN]",
		strictBlock: false,
	},
}

// Extract builds a CandidateDraft from a completed RunOutcome. query is the
// original Run.Query; the draft's Answer and Context come from the
// backend's terminal stdout, truncated head+tail the same way long tool
// output is elsewhere in this stack.
func Extract(query string, outcome types.RunOutcome) types.CandidateDraft {
	answer := redact(strings.TrimSpace(outcome.StdoutTail))
	context := redact(headTail(buildContext(outcome), 2000))

	return types.CandidateDraft{
		Query:      query,
		Answer:     answer,
		Context:    context,
		Tags:       deriveTags(query, outcome),
		Confidence: confidence(outcome),
	}
}

// buildContext summarizes the tool calls that produced the answer, giving a
// reader enough to judge whether the answer is trustworthy without storing
// the full transcript.
func buildContext(outcome types.RunOutcome) string {
	var b strings.Builder
	for _, te := range outcome.ToolEvents {
		if te.Kind != types.ToolEventResult {
			continue
		}
		b.WriteString(string(te.Name))
		b.WriteString(": ")
		b.WriteString(string(te.Status))
		b.WriteString("\n")
	}
	return b.String()
}

// deriveTags pulls tag candidates from the query's longer words, the same
// heuristic used elsewhere in this stack for tagging memory entries from
// free-text intent.
func deriveTags(query string, outcome types.RunOutcome) []string {
	seen := make(map[string]bool)
	var tags []string
	for _, word := range strings.Fields(query) {
		w := strings.ToLower(strings.Trim(word, ".,;:!?\"'"))
		if len(w) < 4 || seen[w] {
			continue
		}
		seen[w] = true
		tags = append(tags, w)
	}
	for _, te := range outcome.ToolEvents {
		name := strings.ToLower(string(te.Name))
		if name == "" || seen[name] {
			continue
		}
		seen[name] = true
		tags = append(tags, name)
	}
	return tags
}

// confidence starts from the spec's 0.5 baseline and adjusts for signals
// available in the RunOutcome: a clean exit and tool activity raise it, a
// very short answer (more likely a fragment than a real result) lowers it.
func confidence(outcome types.RunOutcome) float64 {
	c := 0.5
	if outcome.ExitCode == 0 {
		c += 0.2
	}
	if len(outcome.ToolEvents) > 0 {
		c += 0.1
	}
	if len(outcome.UsedQAIDs) > 0 {
		c += 0.05
	}
	if len(strings.TrimSpace(outcome.StdoutTail)) < 20 {
		c -= 0.2
	}
	if c < 0 {
		c = 0
	}
	if c > 1 {
		c = 1
	}
	return c
}

// ContainsSecret reports whether any strict-block pattern matches either
// string, used by the gatekeeper to veto a candidate write outright rather
// than rely on the placeholder substitution already applied by Extract.
func ContainsSecret(answer, context string) bool {
	for _, p := range secretPatterns {
		if !p.strictBlock {
			continue
		}
		if p.re.MatchString(answer) || p.re.MatchString(context) {
			return true
		}
	}
	return false
}

// IsTrivial reports whether answer is too short or empty to be worth
// persisting as a memory candidate.
func IsTrivial(answer string) bool {
	return len(strings.TrimSpace(answer)) < 3
}

// redact replaces every secret-pattern match in s with its placeholder. The
// gatekeeper separately vetoes the whole write via ContainsSecret when a
// strict-block pattern matches — redact runs regardless so a non-vetoed
// draft never carries a raw secret in a non-strict field.
func redact(s string) string {
	for _, p := range secretPatterns {
		s = p.re.ReplaceAllString(s, p.placeholder)
	}
	return s
}

// headTail returns up to maxLen characters of s, preserving both ends —
// useful when the relevant content could be either the first tool call or
// the final result line.
func headTail(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	head := maxLen / 3
	tail := maxLen - head
	return s[:head] + "\n...[middle truncated]...\n" + s[len(s)-tail:]
}
