// Package normalize turns loosely formatted tabular cells into canonical
// measurement records. It owns header alias matching and the ordered parser
// strategies for dates, numbers and sex tokens.
package normalize

import (
	"strings"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// Fold trims s, removes diacritics and applies Unicode case folding, so
// "  Fêmea " and "FEMEA" both become "femea".
func Fold(s string) string {
	s = strings.TrimSpace(s)
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	stripped, _, err := transform.String(t, s)
	if err != nil {
		stripped = s
	}
	return cases.Fold().String(stripped)
}

// CanonicalKey folds a header and collapses every run of characters that
// are neither letters nor digits into a single underscore.
// "Data de Nascimento" and "data-de-nascimento" both become
// "data_de_nascimento"; "Peso (kg)" becomes "peso_kg".
func CanonicalKey(header string) string {
	folded := Fold(header)
	var b strings.Builder
	pendingSep := false
	for _, r := range folded {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			if pendingSep && b.Len() > 0 {
				b.WriteByte('_')
			}
			pendingSep = false
			b.WriteRune(r)
			continue
		}
		pendingSep = true
	}
	return b.String()
}
