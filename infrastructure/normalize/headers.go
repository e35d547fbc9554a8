package normalize

import (
	"sort"

	"github.com/agnivade/levenshtein"
)

// Canonical field names. Batch files may use any alias listed in aliases.
const (
	FieldPatientID      = "id_paciente"
	FieldName           = "nome"
	FieldBirthDate      = "data_nascimento"
	FieldAssessmentDate = "data_avaliacao"
	FieldSex            = "sexo"
	FieldWeight         = "peso_kg"
	FieldHeight         = "altura_cm"

	// FieldRecord names record-shape failures that no single column owns.
	FieldRecord = "registro"
)

// RequiredFields lists the canonical columns every batch must carry, in the
// order their values are checked.
var RequiredFields = []string{FieldBirthDate, FieldAssessmentDate, FieldSex, FieldWeight, FieldHeight}

// maxSuggestionDistance bounds the edit distance for "did you mean" hints.
const maxSuggestionDistance = 2

// aliases maps canonical keys (see CanonicalKey) onto canonical fields.
var aliases = map[string]string{
	"id_paciente":    FieldPatientID,
	"id":             FieldPatientID,
	"identificacao":  FieldPatientID,
	"identificador":  FieldPatientID,
	"sus":            FieldPatientID,
	"cns":            FieldPatientID,
	"cpf":            FieldPatientID,
	"cartao_sus":     FieldPatientID,
	"numero_sus":     FieldPatientID,
	"patient_id":     FieldPatientID,
	"nome":           FieldName,
	"nome_completo":  FieldName,
	"name":           FieldName,
	"full_name":      FieldName,
	"paciente":       FieldName,

	"data_nascimento":    FieldBirthDate,
	"data_de_nascimento": FieldBirthDate,
	"dt_nascimento":      FieldBirthDate,
	"nascimento":         FieldBirthDate,
	"dob":                FieldBirthDate,
	"date_of_birth":      FieldBirthDate,
	"birth_date":         FieldBirthDate,
	"birthdate":          FieldBirthDate,

	"data_avaliacao":    FieldAssessmentDate,
	"data_da_avaliacao": FieldAssessmentDate,
	"data_de_avaliacao": FieldAssessmentDate,
	"dt_avaliacao":      FieldAssessmentDate,
	"data_medicao":      FieldAssessmentDate,
	"data_da_medicao":   FieldAssessmentDate,
	"assessment_date":   FieldAssessmentDate,
	"evaluation_date":   FieldAssessmentDate,
	"measurement_date":  FieldAssessmentDate,

	"sexo":   FieldSex,
	"sex":    FieldSex,
	"gender": FieldSex,
	"genero": FieldSex,

	"peso_kg":   FieldWeight,
	"peso":      FieldWeight,
	"weight":    FieldWeight,
	"weight_kg": FieldWeight,

	"altura_cm":      FieldHeight,
	"altura":         FieldHeight,
	"estatura":       FieldHeight,
	"estatura_cm":    FieldHeight,
	"comprimento":    FieldHeight,
	"comprimento_cm": FieldHeight,
	"height":         FieldHeight,
	"height_cm":      FieldHeight,
	"length_cm":      FieldHeight,
}

// CanonicalField maps a raw header onto its canonical field name.
func CanonicalField(header string) (string, bool) {
	f, ok := aliases[CanonicalKey(header)]
	return f, ok
}

// HeaderMap records which column index holds each canonical field.
type HeaderMap struct {
	// Columns maps canonical field -> column index.
	Columns map[string]int
	// Original is the header row as read.
	Original []string
}

// Value returns the trimmed cell for field, or "" when the column is absent
// or the row is short.
func (h HeaderMap) Value(record []string, field string) string {
	i, ok := h.Columns[field]
	if !ok || i >= len(record) {
		return ""
	}
	return trimCell(record[i])
}

// Raw returns the original header -> cell map for error reporting. Short
// rows are padded with empty strings.
func (h HeaderMap) Raw(record []string) map[string]string {
	raw := make(map[string]string, len(h.Original))
	for i, name := range h.Original {
		if i < len(record) {
			raw[name] = record[i]
		} else {
			raw[name] = ""
		}
	}
	return raw
}

// MapHeaders canonicalizes a header row. When two columns map to the same
// field the first one wins. It returns the required fields that are missing
// and, for each, an unmatched header that looks like a misspelled alias.
func MapHeaders(headers []string) (HeaderMap, []string, map[string]string) {
	hm := HeaderMap{Columns: make(map[string]int), Original: headers}
	var unmatched []string
	for i, h := range headers {
		field, ok := CanonicalField(h)
		if !ok {
			unmatched = append(unmatched, h)
			continue
		}
		if _, dup := hm.Columns[field]; !dup {
			hm.Columns[field] = i
		}
	}

	var missing []string
	for _, f := range RequiredFields {
		if _, ok := hm.Columns[f]; !ok {
			missing = append(missing, f)
		}
	}
	sort.Strings(missing)
	return hm, missing, suggest(missing, unmatched)
}

// suggest pairs each missing field with the closest unmatched header.
func suggest(missing, unmatched []string) map[string]string {
	if len(missing) == 0 || len(unmatched) == 0 {
		return nil
	}
	out := make(map[string]string)
	for _, field := range missing {
		best, bestDist := "", maxSuggestionDistance+1
		for _, h := range unmatched {
			key := CanonicalKey(h)
			for alias, target := range aliases {
				if target != field {
					continue
				}
				if d := levenshtein.ComputeDistance(key, alias); d < bestDist || (d == bestDist && h < best) {
					best, bestDist = h, d
				}
			}
		}
		if best != "" {
			out[field] = best
		}
	}
	return out
}
