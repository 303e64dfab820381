// Package inject implements the retrieval/injection policy (spec §4.5): a
// pure function from a memory.search result vector to an ordered list of
// InjectItem, with no I/O — mirroring the hard-gate-before-soft-decision
// shape used elsewhere in this codebase for deterministic policy code.
package inject

import (
	"fmt"
	"sort"

	"github.com/haricheung/memexcli/internal/types"
)

// Config holds every tunable threshold the policy consults.
type Config struct {
	FreshnessFloor           float64 // default 0.001
	BlockIfConsecutiveFailGE int
	MinTrustShow             float64
	MinLevelInject           types.ValidationLevel
	MinLevelFallback         types.ValidationLevel
	SkipIfTop1ScoreGE        float64
	MaxInject                int
	MaxTotalChars            int
}

// DefaultConfig matches the defaults named in spec §4.5.
func DefaultConfig() Config {
	return Config{
		FreshnessFloor:           0.001,
		BlockIfConsecutiveFailGE: 3,
		MinTrustShow:             0.0,
		MinLevelInject:           types.LevelL2,
		MinLevelFallback:         types.LevelL0,
		SkipIfTop1ScoreGE:        0.95,
		MaxInject:                5,
		MaxTotalChars:            4000,
	}
}

// Select applies the §4.5 filters, pool selection, ordering, and truncation
// rules to matches and returns the final InjectItem list.
func Select(matches []types.QARecord, cfg Config) []types.InjectItem {
	filtered := filter(matches, cfg)
	if len(filtered) == 0 {
		return nil
	}

	pool := poolOf(filtered, cfg.MinLevelInject)
	if len(pool) == 0 {
		pool = poolOf(filtered, cfg.MinLevelFallback)
	}
	if len(pool) == 0 {
		return nil
	}

	order(pool)

	if pool[0].Score >= cfg.SkipIfTop1ScoreGE {
		return []types.InjectItem{toInjectItem(pool[0])}
	}

	maxN := cfg.MaxInject
	if maxN <= 0 || maxN > len(pool) {
		maxN = len(pool)
	}
	selected := pool[:maxN]

	items := make([]types.InjectItem, len(selected))
	for i, rec := range selected {
		items[i] = toInjectItem(rec)
	}
	return enforceCharBudget(items, cfg.MaxTotalChars)
}

// filter removes any item for which at least one §4.5 predicate fires.
func filter(matches []types.QARecord, cfg Config) []types.QARecord {
	var out []types.QARecord
	for _, rec := range matches {
		if rec.Status != "active" {
			continue
		}
		if rec.Freshness < cfg.FreshnessFloor {
			continue
		}
		if rec.ConsecutiveFail >= cfg.BlockIfConsecutiveFailGE {
			continue
		}
		if rec.Trust < cfg.MinTrustShow {
			continue
		}
		out = append(out, rec)
	}
	return out
}

func poolOf(filtered []types.QARecord, minLevel types.ValidationLevel) []types.QARecord {
	var out []types.QARecord
	for _, rec := range filtered {
		if rec.ValidationLevel >= minLevel {
			out = append(out, rec)
		}
	}
	return out
}

// order sorts pool descending by (validation_level, trust, score, freshness,
// qa_id) — the last field breaking ties deterministically (spec §4.5).
func order(pool []types.QARecord) {
	sort.SliceStable(pool, func(i, j int) bool {
		a, b := pool[i], pool[j]
		if a.ValidationLevel != b.ValidationLevel {
			return a.ValidationLevel > b.ValidationLevel
		}
		if a.Trust != b.Trust {
			return a.Trust > b.Trust
		}
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		if a.Freshness != b.Freshness {
			return a.Freshness > b.Freshness
		}
		return a.QAID < b.QAID
	})
}

func toInjectItem(rec types.QARecord) types.InjectItem {
	return types.InjectItem{
		QAID:          rec.QAID,
		ReferenceText: fmt.Sprintf("[QA:%s] %s", rec.QAID, rec.Answer),
	}
}

// enforceCharBudget drops items from the tail until the concatenated
// reference-text length fits within maxChars.
func enforceCharBudget(items []types.InjectItem, maxChars int) []types.InjectItem {
	if maxChars <= 0 {
		return items
	}
	total := 0
	for i, it := range items {
		total += len(it.ReferenceText)
		if total > maxChars {
			return items[:i]
		}
	}
	return items
}
