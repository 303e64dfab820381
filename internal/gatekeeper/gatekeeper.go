// Package gatekeeper implements the post-run gatekeeper (spec §4.6): a pure
// function of (matches, run_outcome, tool_events, config) with no I/O,
// modeled directly on this codebase's existing pattern of running every
// deterministic hard predicate before any softer signal is consulted.
package gatekeeper

import (
	"fmt"

	"github.com/haricheung/memexcli/internal/candidate"
	"github.com/haricheung/memexcli/internal/types"
)

// Config holds the thresholds the gatekeeper's predicates consult.
type Config struct {
	MinConfidence     float64
	StrongTrust       float64
	MinLevelInject    types.ValidationLevel
	SkipIfTop1ScoreGE float64
}

// DefaultConfig matches the thresholds named in spec §4.6.
func DefaultConfig() Config {
	return Config{
		MinConfidence:     0.45,
		StrongTrust:       0.85,
		MinLevelInject:    types.LevelL2,
		SkipIfTop1ScoreGE: 0.95,
	}
}

// Decide computes the Decision for a completed Run. matches is the full
// search-result vector (not just what was injected) so predicate 6 — "no
// existing match has a strong signal" — can be evaluated against everything
// that was available, not only what was shown.
func Decide(matches []types.QARecord, outcome types.RunOutcome, draft *types.CandidateDraft, cfg Config) types.Decision {
	var reasons []string

	shown := toSet(outcome.ShownQAIDs)
	used := toSet(outcome.UsedQAIDs)

	hitRefs := hitRefsFor(shown, used)
	reasons = append(reasons, fmt.Sprintf("hit_refs: %d qa_id(s) shown or used", len(hitRefs)))

	validatePlans := validatePlansFor(outcome)
	reasons = append(reasons, fmt.Sprintf("validate_plans: %d plan(s)", len(validatePlans)))

	shouldWrite, whyNot := shouldWriteCandidate(matches, outcome, draft, cfg)
	reasons = append(reasons, whyNot...)

	return types.Decision{
		HitRefs:              hitRefs,
		ValidatePlans:        validatePlans,
		ShouldWriteCandidate: shouldWrite,
		Reasons:              reasons,
	}
}

func toSet(ids []string) map[string]bool {
	m := make(map[string]bool, len(ids))
	for _, id := range ids {
		m[id] = true
	}
	return m
}

// hitRefsFor builds the union of shown ∪ used qa_ids, at most one entry per
// qa_id (spec §4.6, invariant "each qa_id appears at most once").
func hitRefsFor(shown, used map[string]bool) []types.HitRef {
	all := make(map[string]bool, len(shown)+len(used))
	for id := range shown {
		all[id] = true
	}
	for id := range used {
		all[id] = true
	}
	refs := make([]types.HitRef, 0, len(all))
	for id := range all {
		refs = append(refs, types.HitRef{QAID: id, Shown: shown[id], Used: used[id]})
	}
	return refs
}

// classify maps (exit_code, tool_events) to pass/partial/fail per §4.6's
// table: exit 0 is pass; non-zero with a majority of ok tool events is
// partial; otherwise fail (including the empty-tool_events §9 open question,
// resolved here as fail).
func classify(outcome types.RunOutcome) types.ValidationResult {
	if outcome.ExitCode == 0 {
		return types.ValidationPass
	}
	if len(outcome.ToolEvents) == 0 {
		return types.ValidationFail
	}
	ok := 0
	for _, te := range outcome.ToolEvents {
		if te.Status == types.ToolStatusOK {
			ok++
		}
	}
	if ok*2 > len(outcome.ToolEvents) {
		return types.ValidationPartial
	}
	return types.ValidationFail
}

// validatePlansFor builds one plan per chosen qa_id: used_qa_ids if
// non-empty, else the single top injected item if any, else empty.
func validatePlansFor(outcome types.RunOutcome) []types.ValidatePlan {
	result := classify(outcome)
	notes := fmt.Sprintf("exit_code=%d duration_ms=%d result=%s", outcome.ExitCode, outcome.DurationMs, result)

	var chosen []string
	if len(outcome.UsedQAIDs) > 0 {
		chosen = outcome.UsedQAIDs
	} else if len(outcome.ShownQAIDs) > 0 {
		chosen = outcome.ShownQAIDs[:1]
	}

	plans := make([]types.ValidatePlan, 0, len(chosen))
	for _, id := range chosen {
		plans = append(plans, types.ValidatePlan{QAID: id, Result: result, Notes: notes})
	}
	return plans
}

// shouldWriteCandidate evaluates every predicate in §4.6's truth table in
// order, recording a reason for each, and short-circuits on the first
// failing hard predicate (exit_code, tool_events) to avoid running the
// candidate extractor needlessly.
func shouldWriteCandidate(matches []types.QARecord, outcome types.RunOutcome, draft *types.CandidateDraft, cfg Config) (bool, []string) {
	var reasons []string

	if outcome.ExitCode != 0 {
		return false, append(reasons, "should_write_candidate=false: exit_code != 0")
	}
	reasons = append(reasons, "predicate 1 ok: exit_code == 0")

	if len(outcome.ToolEvents) == 0 {
		return false, append(reasons, "should_write_candidate=false: tool_events is empty")
	}
	reasons = append(reasons, "predicate 2 ok: tool_events non-empty")

	if draft == nil || draft.Confidence < cfg.MinConfidence {
		return false, append(reasons, fmt.Sprintf("should_write_candidate=false: confidence below %.2f", cfg.MinConfidence))
	}
	reasons = append(reasons, fmt.Sprintf("predicate 3 ok: confidence %.2f >= %.2f", draft.Confidence, cfg.MinConfidence))

	if candidate.ContainsSecret(draft.Answer, draft.Context) {
		return false, append(reasons, "should_write_candidate=false: secret detected under strict redaction")
	}
	reasons = append(reasons, "predicate 4 ok: no secret detected")

	if candidate.IsTrivial(draft.Answer) {
		return false, append(reasons, "should_write_candidate=false: output classified as trivial")
	}
	reasons = append(reasons, "predicate 5 ok: output not trivial")

	if hasStrongMatch(matches, cfg) {
		return false, append(reasons, "should_write_candidate=false: an existing match already has a strong signal")
	}
	reasons = append(reasons, "predicate 6 ok: no existing strong match")

	if top1Score(matches) >= cfg.SkipIfTop1ScoreGE {
		return false, append(reasons, "should_write_candidate=false: top1_score >= skip_if_top1_score_ge")
	}
	reasons = append(reasons, "predicate 7 ok: top1_score below skip threshold")

	return true, append(reasons, "should_write_candidate=true")
}

func hasStrongMatch(matches []types.QARecord, cfg Config) bool {
	for _, m := range matches {
		if m.ValidationLevel >= cfg.MinLevelInject && m.Trust >= cfg.StrongTrust {
			return true
		}
	}
	return false
}

func top1Score(matches []types.QARecord) float64 {
	best := 0.0
	for _, m := range matches {
		if m.Score > best {
			best = m.Score
		}
	}
	return best
}
