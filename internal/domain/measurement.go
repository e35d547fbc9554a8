package domain

import (
	"math"
	"time"
)

// MeasurementRecord is the canonical input to the scoring engine after
// normalization. Dates carry no time component and are expressed in UTC.
type MeasurementRecord struct {
	// PatientID is an optional external identifier (SUS card, CPF, ...).
	PatientID string `json:"id_paciente,omitempty"`

	// Name is the optional display name of the subject.
	Name string `json:"nome,omitempty"`

	// BirthDate is the subject's date of birth.
	BirthDate time.Time `json:"data_nascimento" validate:"required"`

	// AssessmentDate is the date the measurements were taken.
	AssessmentDate time.Time `json:"data_avaliacao" validate:"required"`

	// Sex selects the reference tables.
	Sex Sex `json:"sexo" validate:"required,oneof=M F"`

	// WeightKg is body weight in kilograms.
	WeightKg float64 `json:"peso_kg" validate:"gt=0"`

	// HeightCm is stature or recumbent length in centimetres.
	HeightCm float64 `json:"altura_cm" validate:"gt=0"`
}

// AgeBreakdown is a calendar-exact age decomposition.
// TotalMonths always equals Years*12+Months and is the key used for
// reference and rule lookups.
type AgeBreakdown struct {
	Years       int    `json:"anos"`
	Months      int    `json:"meses"`
	Days        int    `json:"dias"`
	TotalMonths int    `json:"total_meses"`
	TotalDays   int    `json:"total_dias"`
	Display     string `json:"idade"`
}

// IndicatorResult is the outcome of scoring one indicator.
type IndicatorResult struct {
	// Indicator is the indicator tag.
	Indicator Indicator `json:"indicador"`

	// DisplayName is the human-readable indicator label.
	DisplayName string `json:"tipo"`

	// ObservedValue is the measurement compared against the reference,
	// rounded to two decimals.
	ObservedValue float64 `json:"valor_observado"`

	// ZScore is the interpolated Z-score rounded to two decimals.
	// It is nil when no reference values were available.
	ZScore *float64 `json:"escore_z"`

	// Classification is the matched rule label, or ClassificationNotFound.
	Classification string `json:"classificacao"`

	// RuleMatched reports whether a classification rule matched.
	RuleMatched bool `json:"regra_encontrada"`
}

// ClassificationNotFound is reported when no rule covers a Z-score.
const ClassificationNotFound = "Classificação não encontrada"

// ScoredResult is the full outcome of scoring one MeasurementRecord.
type ScoredResult struct {
	PatientID      string            `json:"id_paciente,omitempty"`
	Name           string            `json:"nome,omitempty"`
	Sex            string            `json:"sexo"`
	BirthDate      string            `json:"data_nascimento"`
	AssessmentDate string            `json:"data_avaliacao"`
	Age            AgeBreakdown      `json:"idade"`
	WeightKg       float64           `json:"peso_kg"`
	HeightCm       float64           `json:"altura_cm"`
	BMI            *float64          `json:"imc"`
	Indicators     []IndicatorResult `json:"indicadores"`
}

// RowError records a per-row failure in a batch.
type RowError struct {
	// Line is the 1-based line number; the header is line 1.
	Line int `json:"linha"`

	// Message is a human-readable description of the failure.
	Message string `json:"erro"`

	// Raw holds the original header->cell map for operator re-entry.
	Raw map[string]string `json:"dados_originais"`
}

// BatchOutcome aggregates the results of a batch upload.
type BatchOutcome struct {
	ID          string         `json:"id"`
	Filename    string         `json:"nome_arquivo"`
	Delimiter   string         `json:"delimitador"`
	TotalRows   int            `json:"total_rows_attempted"`
	Results     []ScoredResult `json:"resultados_individuais"`
	Errors      []RowError     `json:"erros_por_linha"`
	ProcessedAt time.Time      `json:"processado_em"`
}

// Consistent reports whether every attempted row produced exactly one
// result or one error.
func (b *BatchOutcome) Consistent() bool {
	return len(b.Results)+len(b.Errors) == b.TotalRows
}

// DateLayout is the layout used when rendering dates in results.
const DateLayout = "2006-01-02"

// ComputeBMI returns weight / height(m)^2 unrounded, and false when the
// height is not positive.
func ComputeBMI(weightKg, heightCm float64) (float64, bool) {
	if heightCm <= 0 {
		return 0, false
	}
	m := heightCm / 100
	return weightKg / (m * m), true
}

// Round rounds v half away from zero to the given number of decimals.
func Round(v float64, decimals int) float64 {
	p := math.Pow(10, float64(decimals))
	return math.Round(v*p) / p
}
