// Package search contains the free-text query handling shared between the
// ingestion pipeline and the user-facing search path: query sanitization
// and the short-lived result cache.
package search

import (
	"regexp"
	"strings"
)

// The sanitization rules are applied to BOTH file names at ingestion time
// and search terms at query time, so a catalogued name and a users query
// normalize to comparable token sequences.
var (
	ampersandPattern   = regexp.MustCompile(`\s*&\s*`)
	punctuationPattern = regexp.MustCompile(`[:',]`)
	separatorPattern   = regexp.MustCompile(`[.\s_\-()\[\]!]+`)
)

// Sanitize normalizes a free-text query into a canonical token sequence:
// trimmed, lowercased, '&' collapsed to the word "and", disruptive
// punctuation removed, and runs of separator characters collapsed into a
// single space.
func Sanitize(query string) string {
	query = strings.ToLower(strings.TrimSpace(query))
	query = ampersandPattern.ReplaceAllString(query, " and ")
	query = punctuationPattern.ReplaceAllString(query, "")
	query = separatorPattern.ReplaceAllString(query, " ")

	return strings.TrimSpace(query)
}
