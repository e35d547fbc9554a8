// Package domain contains pure, dependency-free domain models and algorithms
// for anthropometric scoring: age computation, Z-score interpolation and
// classification rule selection.
package domain

// Sex identifies the biological sex used to select reference tables.
// The zero value is unspecified and is only meaningful on ClassificationRule,
// where it means the rule applies to both sexes.
type Sex string

// Supported sex values. The string forms match the codes stored alongside
// reference data.
const (
	SexUnspecified Sex = ""
	SexMale        Sex = "M"
	SexFemale      Sex = "F"
)

// sexSynonyms maps folded, accent-free tokens onto Sex values.
// Callers are expected to fold case and strip diacritics before lookup.
var sexSynonyms = map[string]Sex{
	"m":         SexMale,
	"masculino": SexMale,
	"male":      SexMale,
	"homem":     SexMale,
	"macho":     SexMale,
	"menino":    SexMale,
	"boy":       SexMale,

	"f":        SexFemale,
	"feminino": SexFemale,
	"female":   SexFemale,
	"mulher":   SexFemale,
	"femea":    SexFemale,
	"menina":   SexFemale,
	"girl":     SexFemale,
}

// LookupSex resolves a folded token against the synonym table.
func LookupSex(folded string) (Sex, bool) {
	s, ok := sexSynonyms[folded]
	return s, ok
}

// Valid reports whether s is one of the two concrete sexes.
func (s Sex) Valid() bool { return s == SexMale || s == SexFemale }

// Label returns the display label used in scored results.
func (s Sex) Label() string {
	switch s {
	case SexMale:
		return "Masculino"
	case SexFemale:
		return "Feminino"
	default:
		return ""
	}
}
