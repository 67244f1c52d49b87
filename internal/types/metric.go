package types

import (
	"encoding/json"
	"sort"
)

// MetricResult is the canonical shape every metric result is normalized to.
// NumericScores always carries at least one score; GradingCriteria, when
// present, holds scores in [0,100] that feed recipe grading.
type MetricResult struct {
	NumericScores   map[string]float64 `json:"numeric_scores"`
	GradingCriteria map[string]float64 `json:"grading_criteria,omitempty"`
	Details         any                `json:"details,omitempty"`
}

// Validate checks the canonical invariants: at least one numeric score and
// all grading criteria within [0,100].
func (m *MetricResult) Validate() error {
	if len(m.NumericScores) == 0 {
		return NewError(VALIDATION_FAILED, "metric result carries no numeric scores")
	}
	for name, score := range m.GradingCriteria {
		if score < 0 || score > 100 {
			return NewError(OUT_OF_RANGE, "grading criterion "+name+" outside [0,100]")
		}
	}
	return nil
}

// ScoreNames returns the numeric score names in lexicographic order.
func (m *MetricResult) ScoreNames() []string {
	names := make([]string, 0, len(m.NumericScores))
	for name := range m.NumericScores {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// CanonicalTarget serializes a dataset target to a stable string for cache
// fingerprinting. Strings pass through unchanged; other values use compact
// JSON, which encoding/json emits with sorted map keys.
func CanonicalTarget(target any) string {
	if s, ok := target.(string); ok {
		return s
	}
	if target == nil {
		return "null"
	}
	raw, err := json.Marshal(target)
	if err != nil {
		return ""
	}
	return string(raw)
}
