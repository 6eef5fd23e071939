package rules

import (
	"fmt"
	"strings"
)

// ReasoningPrefix starts every rationale produced by a level match.
const ReasoningPrefix = "Phát hiện: "

// LevelMatch is the outcome of matching one level rule.
type LevelMatch struct {
	Found     bool
	Matched   []string
	Reasoning string
}

// MatchLevel tests normalized text against a single level rule.
// Keywords are reported in the rule's declared order, followed by the
// synthesized range keyword when the percentage rule applies.
func MatchLevel(text string, rule LevelRule) LevelMatch {
	return buildMatch(matchKeywords(text, rule))
}

func matchKeywords(text string, rule LevelRule) []string {
	var matched []string
	for _, k := range rule.Keywords {
		if strings.Contains(text, k) {
			matched = append(matched, k)
		}
	}

	if rule.Range != nil && strings.Contains(text, ContextTerm) {
		if p, ok := ExtractPercent(text); ok && rule.Range.Contains(p) {
			matched = append(matched, fmt.Sprintf("%s %d%%", ContextTerm, p))
		}
	}
	return matched
}

func buildMatch(matched []string) LevelMatch {
	if len(matched) == 0 {
		return LevelMatch{}
	}
	return LevelMatch{
		Found:     true,
		Matched:   matched,
		Reasoning: ReasoningPrefix + strings.Join(matched, ", "),
	}
}
