package sparse

import (
	"strings"
	"unicode"
)

// Tokenize reduces text to the lexical terms used for sparse scoring:
// lowercased runs of Unicode letters and digits. Ingest and query both go
// through this function so the two sides always agree on term boundaries.
// No stemming or stopword removal is applied.
func Tokenize(text string) []string {
	var terms []string
	var b strings.Builder
	for _, r := range text {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(unicode.ToLower(r))
			continue
		}
		if b.Len() > 0 {
			terms = append(terms, b.String())
			b.Reset()
		}
	}
	if b.Len() > 0 {
		terms = append(terms, b.String())
	}
	return terms
}
