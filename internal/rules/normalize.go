package rules

import (
	"regexp"
	"strconv"
	"strings"

	"golang.org/x/text/unicode/norm"
)

// percentPattern matches digits followed by optional whitespace and '%'.
// Not word-bounded: "x60%" yields 60.
var percentPattern = regexp.MustCompile(`(\d+)\s*%`)

// Normalize trims surrounding whitespace and lowercases s.
// Text is put into NFC first so composed and decomposed diacritics compare equal.
func Normalize(s string) string {
	return strings.ToLower(strings.TrimSpace(norm.NFC.String(s)))
}

// ExtractPercent returns the first percentage in text.
// Later percentages are ignored.
func ExtractPercent(text string) (int, bool) {
	m := percentPattern.FindStringSubmatch(text)
	if m == nil {
		return 0, false
	}
	p, err := strconv.Atoi(m[1])
	if err != nil {
		// out of int range
		return 0, false
	}
	return p, true
}
