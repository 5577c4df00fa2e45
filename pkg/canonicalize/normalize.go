package canonicalize

import (
	"strings"

	"golang.org/x/text/unicode/norm"
)

// NormalizeText reduces free-form text to a comparison key: Unicode NFKC,
// lower-cased, punctuation-insensitive, with runs of whitespace collapsed
// to single spaces. Directive deduplication and trigger signatures compare
// rationales through this, so "Fix  the DIAGRAM." and "fix the diagram"
// collapse to one key.
func NormalizeText(s string) string {
	s = norm.NFKC.String(s)
	s = strings.ToLower(s)
	s = strings.Map(func(r rune) rune {
		switch r {
		case '.', ',', ';', ':', '!', '?', '"', '\'', '`':
			return -1
		}
		return r
	}, s)
	return strings.Join(strings.Fields(s), " ")
}

// SameText reports whether two strings normalize to the same key.
func SameText(a, b string) bool {
	return NormalizeText(a) == NormalizeText(b)
}
