package inject

import (
	"strings"
	"testing"

	"github.com/haricheung/memexcli/internal/types"
)

func TestSelectEmptyMatchesYieldsEmptyList(t *testing.T) {
	items := Select(nil, DefaultConfig())
	if len(items) != 0 {
		t.Errorf("want empty inject list, got %d", len(items))
	}
}

func TestSelectFiltersInactiveStatus(t *testing.T) {
	matches := []types.QARecord{
		{QAID: "q1", Status: "blocked", ValidationLevel: types.LevelL3, Trust: 1, Score: 1, Freshness: 1},
	}
	if items := Select(matches, DefaultConfig()); len(items) != 0 {
		t.Errorf("blocked status should be filtered, got %d items", len(items))
	}
}

func TestSelectFiltersConsecutiveFail(t *testing.T) {
	// Mirrors scenario C: consecutive_fail >= 3 blocks an otherwise strong match.
	matches := []types.QARecord{
		{QAID: "q2", Status: "active", Score: 0.7, Trust: 0.8, ValidationLevel: types.LevelL2, ConsecutiveFail: 3, Freshness: 0.5},
	}
	if items := Select(matches, DefaultConfig()); len(items) != 0 {
		t.Errorf("consecutive_fail >= 3 should block injection, got %d items", len(items))
	}
}

func TestSelectFallsBackWhenPrimaryPoolEmpty(t *testing.T) {
	cfg := DefaultConfig()
	matches := []types.QARecord{
		{QAID: "q3", Status: "active", Score: 0.6, Trust: 0.5, ValidationLevel: types.LevelL0, Freshness: 0.5},
	}
	items := Select(matches, cfg)
	if len(items) != 1 || items[0].QAID != "q3" {
		t.Fatalf("expected fallback pool to surface q3, got %+v", items)
	}
}

func TestSelectPrefersPrimaryPoolOverFallback(t *testing.T) {
	cfg := DefaultConfig()
	matches := []types.QARecord{
		{QAID: "low", Status: "active", Score: 0.9, Trust: 0.9, ValidationLevel: types.LevelL0, Freshness: 0.9},
		{QAID: "high", Status: "active", Score: 0.1, Trust: 0.1, ValidationLevel: types.LevelL2, Freshness: 0.1},
	}
	items := Select(matches, cfg)
	if len(items) != 1 || items[0].QAID != "high" {
		t.Fatalf("primary pool (validation_level >= min_level_inject) should win, got %+v", items)
	}
}

func TestSelectScenarioB(t *testing.T) {
	matches := []types.QARecord{
		{QAID: "q1", Score: 0.92, Trust: 0.9, ValidationLevel: types.LevelL2, Freshness: 0.9, Status: "active", ConsecutiveFail: 0},
	}
	items := Select(matches, DefaultConfig())
	if len(items) != 1 || items[0].QAID != "q1" {
		t.Fatalf("scenario B expects a single q1 inject item, got %+v", items)
	}
	if !strings.Contains(items[0].ReferenceText, "[QA:q1]") {
		t.Errorf("reference_text must embed the [QA:<id>] marker, got %q", items[0].ReferenceText)
	}
}

func TestSelectTruncatesToTop1WhenScoreAboveThreshold(t *testing.T) {
	cfg := DefaultConfig()
	matches := []types.QARecord{
		{QAID: "top", Status: "active", Score: 0.99, Trust: 1, ValidationLevel: types.LevelL3, Freshness: 1},
		{QAID: "second", Status: "active", Score: 0.9, Trust: 1, ValidationLevel: types.LevelL3, Freshness: 1},
	}
	items := Select(matches, cfg)
	if len(items) != 1 || items[0].QAID != "top" {
		t.Fatalf("skip_if_top1_score_ge should truncate to just the top item, got %+v", items)
	}
}

func TestSelectRespectsMaxInject(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxInject = 2
	var matches []types.QARecord
	for i := 0; i < 5; i++ {
		matches = append(matches, types.QARecord{
			QAID: string(rune('a' + i)), Status: "active", Score: 0.5, Trust: 0.5,
			ValidationLevel: types.LevelL2, Freshness: 0.5,
		})
	}
	items := Select(matches, cfg)
	if len(items) > cfg.MaxInject {
		t.Errorf("len(items) = %d, want <= %d", len(items), cfg.MaxInject)
	}
}

func TestSelectRespectsCharBudget(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxTotalChars = 10
	matches := []types.QARecord{
		{QAID: "a", Status: "active", Score: 0.9, Trust: 0.9, ValidationLevel: types.LevelL2, Freshness: 0.9, Answer: "a long answer that exceeds the budget"},
		{QAID: "b", Status: "active", Score: 0.8, Trust: 0.8, ValidationLevel: types.LevelL2, Freshness: 0.8, Answer: "another long answer"},
	}
	items := Select(matches, cfg)
	total := 0
	for _, it := range items {
		total += len(it.ReferenceText)
	}
	if total > cfg.MaxTotalChars && len(items) > 0 {
		t.Errorf("total reference text length %d exceeds budget %d", total, cfg.MaxTotalChars)
	}
}

func TestOrderIsLexicographicDescending(t *testing.T) {
	pool := []types.QARecord{
		{QAID: "z", ValidationLevel: types.LevelL2, Trust: 0.5, Score: 0.5, Freshness: 0.5},
		{QAID: "a", ValidationLevel: types.LevelL2, Trust: 0.5, Score: 0.5, Freshness: 0.5},
		{QAID: "m", ValidationLevel: types.LevelL3, Trust: 0.1, Score: 0.1, Freshness: 0.1},
	}
	order(pool)
	if pool[0].QAID != "m" {
		t.Errorf("highest validation_level should sort first, got %+v", pool)
	}
	// a vs z break the tie lexicographically on qa_id when every other field is equal.
	if pool[1].QAID != "a" || pool[2].QAID != "z" {
		t.Errorf("qa_id tie-break failed, got order %s, %s", pool[1].QAID, pool[2].QAID)
	}
}
