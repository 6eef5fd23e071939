package domain

import "fmt"

// Severity is the classification outcome for an observation.
type Severity string

const (
	SeverityLow     Severity = "low"
	SeverityMedium  Severity = "medium"
	SeveritySerious Severity = "serious"
)

// Severities lists every level, most severe first.
// This is also the order in which level rules are evaluated.
var Severities = []Severity{SeveritySerious, SeverityMedium, SeverityLow}

// Rank orders severities: low < medium < serious.
func (s Severity) Rank() int {
	switch s {
	case SeveritySerious:
		return 3
	case SeverityMedium:
		return 2
	case SeverityLow:
		return 1
	default:
		return 0
	}
}

// Label returns the caseworker-facing label.
func (s Severity) Label() string {
	switch s {
	case SeveritySerious:
		return "Nghiêm trọng"
	case SeverityMedium:
		return "Vừa"
	case SeverityLow:
		return "Thấp"
	default:
		return string(s)
	}
}

// Valid reports whether s is a known level.
func (s Severity) Valid() bool {
	return s.Rank() > 0
}

// ParseSeverity converts a raw level name to a Severity.
func ParseSeverity(raw string) (Severity, error) {
	s := Severity(raw)
	if !s.Valid() {
		return "", fmt.Errorf("%w: unknown severity %q", ErrValidation, raw)
	}
	return s, nil
}

// DetectionResult is the output of classifying one piece of text.
// MatchedKeywords is non-empty iff a level rule actually matched.
type DetectionResult struct {
	Level           Severity `json:"level"`
	MatchedKeywords []string `json:"matchedKeywords"`
	Reasoning       string   `json:"reasoning"`
}
