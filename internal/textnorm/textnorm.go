// Package textnorm folds text for case and accent insensitive matching.
package textnorm

import (
	"strings"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// Fold returns s decomposed, stripped of combining marks, case folded and
// with runs of whitespace collapsed to a single space.
// "Cien Años de Soledad" and "cien anos  de soledad" fold to the same string.
func Fold(s string) string {
	t := transform.Chain(norm.NFKD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	stripped, _, err := transform.String(t, s)
	if err != nil {
		stripped = s
	}
	// A Caser is stateful, so each call gets its own.
	return strings.Join(strings.Fields(cases.Fold().String(stripped)), " ")
}

// Matcher tests folded haystacks against one folded needle.
type Matcher struct {
	needle string
}

// NewMatcher prepares query for repeated Contains checks.
func NewMatcher(query string) Matcher {
	return Matcher{needle: Fold(query)}
}

// Empty reports whether the query folds to nothing, in which case every
// haystack matches.
func (m Matcher) Empty() bool {
	return m.needle == ""
}

// Contains reports whether any of the fields contains the query.
func (m Matcher) Contains(fields ...string) bool {
	if m.needle == "" {
		return true
	}
	for _, f := range fields {
		if strings.Contains(Fold(f), m.needle) {
			return true
		}
	}
	return false
}
