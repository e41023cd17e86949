package normalizer

import (
	"strings"

	"github.com/pmezard/go-difflib/difflib"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// NormalizeName lower-cases a raw origin and collapses every whitespace run
// into a single space, trimming both ends. The result is only used for
// comparison and is never returned as a canonical name.
func NormalizeName(raw string) string {
	// A Caser keeps state between calls, so each call gets its own.
	lower := cases.Lower(language.Und).String(raw)
	return strings.Join(strings.Fields(lower), " ")
}

// Ratio returns the sequence-matching similarity of two already normalized
// strings: 2*M/T where M is the number of characters in the matching blocks
// and T the combined length. Two empty strings score 1.0.
func Ratio(a, b string) float64 {
	return difflib.NewMatcher(splitChars(a), splitChars(b)).Ratio()
}

// Similar reports whether two raw origins refer to the same counterparty,
// i.e. whether the ratio of their normalized forms is at least threshold.
func Similar(a, b string, threshold float64) bool {
	return Ratio(NormalizeName(a), NormalizeName(b)) >= threshold
}

// splitChars turns a string into one element per code point, which is the
// unit the matcher counts.
func splitChars(s string) []string {
	chars := make([]string, 0, len(s))
	for _, r := range s {
		chars = append(chars, string(r))
	}
	return chars
}
