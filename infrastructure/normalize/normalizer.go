package normalize

import (
	"fmt"
	"strconv"
	"time"

	"github.com/ahrav/go-anthro/internal/domain"
)

// Normalizer converts canonical-keyed string cells into MeasurementRecords.
// It holds no per-call state and is safe for concurrent use.
type Normalizer struct {
	dates []DateStrategy
}

// Option configures a Normalizer.
type Option func(*Normalizer)

// WithDateStrategies replaces the ordered list of date strategies.
func WithDateStrategies(s ...DateStrategy) Option {
	return func(n *Normalizer) { n.dates = append([]DateStrategy(nil), s...) }
}

// New creates a Normalizer using DefaultDateStrategies unless overridden.
func New(opts ...Option) *Normalizer {
	n := &Normalizer{dates: DefaultDateStrategies}
	for _, opt := range opts {
		opt(n)
	}
	return n
}

// Normalize builds a record from cells keyed by canonical field name.
// seq is the 1-based data row index and only feeds the default name.
// Every failure is a *domain.FieldError naming the offending field.
func (n *Normalizer) Normalize(cells map[string]string, seq int) (domain.MeasurementRecord, error) {
	for _, f := range RequiredFields {
		if trimCell(cells[f]) == "" {
			return domain.MeasurementRecord{}, domain.NewFieldError(f, "", domain.ErrMissingField)
		}
	}

	birth, err := n.date(cells, FieldBirthDate)
	if err != nil {
		return domain.MeasurementRecord{}, err
	}
	assessment, err := n.date(cells, FieldAssessmentDate)
	if err != nil {
		return domain.MeasurementRecord{}, err
	}

	sex, err := ParseSex(cells[FieldSex])
	if err != nil {
		return domain.MeasurementRecord{}, domain.NewFieldError(FieldSex, trimCell(cells[FieldSex]), err)
	}

	weight, err := ParseNumber(cells[FieldWeight])
	if err != nil {
		return domain.MeasurementRecord{}, domain.NewFieldError(FieldWeight, trimCell(cells[FieldWeight]), err)
	}
	height, err := ParseNumber(cells[FieldHeight])
	if err != nil {
		return domain.MeasurementRecord{}, domain.NewFieldError(FieldHeight, trimCell(cells[FieldHeight]), err)
	}

	name := trimCell(cells[FieldName])
	if name == "" && seq > 0 {
		name = fmt.Sprintf("Pessoa %d", seq)
	}

	return domain.MeasurementRecord{
		PatientID:      trimCell(cells[FieldPatientID]),
		Name:           name,
		BirthDate:      birth,
		AssessmentDate: assessment,
		Sex:            sex,
		WeightKg:       weight,
		HeightCm:       height,
	}, nil
}

// NormalizeRow extracts canonical cells from a raw CSV record using hm and
// normalizes them. A record with non-blank cells past the header fails with
// domain.ErrExtraCells, since its values can no longer be matched to columns.
func (n *Normalizer) NormalizeRow(hm HeaderMap, record []string, seq int) (domain.MeasurementRecord, error) {
	for _, c := range record[min(len(hm.Original), len(record)):] {
		if trimCell(c) != "" {
			return domain.MeasurementRecord{}, domain.NewFieldError(FieldRecord, strconv.Itoa(len(record)), domain.ErrExtraCells)
		}
	}
	cells := make(map[string]string, len(hm.Columns))
	for field := range hm.Columns {
		cells[field] = hm.Value(record, field)
	}
	return n.Normalize(cells, seq)
}

// ParseDate parses a date with the normalizer's strategies.
func (n *Normalizer) ParseDate(raw string) (time.Time, error) {
	return ParseDate(raw, n.dates)
}

func (n *Normalizer) date(cells map[string]string, field string) (time.Time, error) {
	t, err := ParseDate(cells[field], n.dates)
	if err != nil {
		return time.Time{}, domain.NewFieldError(field, trimCell(cells[field]), err)
	}
	return t, nil
}
