// Package testutils provides shared fixtures for tests across packages:
// a small reference data set covering a few ages of each sex, the SISVAN
// classification rules, and collaborators that fail on demand.
package testutils

import (
	"context"
	"math"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ahrav/go-anthro/infrastructure/store"
	"github.com/ahrav/go-anthro/internal/domain"
	"github.com/ahrav/go-anthro/internal/ports"
)

// Fixture labels, shared by the Go data and ReferencePackYAML.
const (
	LabelVeryLowWeight  = "Muito baixo peso para a idade"
	LabelLowWeight      = "Baixo peso para a idade"
	LabelAdequateWeight = "Peso adequado para a idade"
	LabelHighWeight     = "Peso elevado para a idade"

	LabelVeryShort      = "Muito baixa estatura para a idade"
	LabelShort          = "Baixa estatura para a idade"
	LabelAdequateHeight = "Estatura adequada para a idade"

	LabelSevereThinness = "Magreza acentuada"
	LabelThinness       = "Magreza"
	LabelNormalBMI      = "Eutrofia"
	LabelOverweightRisk = "Risco de sobrepeso"
	LabelOverweight     = "Sobrepeso"
	LabelObesity        = "Obesidade"
	LabelSevereObesity  = "Obesidade grave"
)

func vals(v ...float64) [7]*float64 {
	var out [7]*float64
	for i := range v {
		x := v[i]
		out[i] = &x
	}
	return out
}

// Points returns the fixture reference points. Boys and girls are covered
// at 35 months; boys also at 36 (with no -3 value) and 130 months.
func Points() []domain.ReferencePoint {
	wfa, hfa, bfa := domain.IndicatorWeightForAge, domain.IndicatorHeightForAge, domain.IndicatorBMIForAge
	m, f := domain.SexMale, domain.SexFemale

	boys36 := vals(0, 11.3, 12.5, 14.0, 15.7, 17.5, 19.7)
	boys36[0] = nil

	return []domain.ReferencePoint{
		{Indicator: wfa, Sex: m, AgeMonths: 35, Values: vals(10.1, 11.2, 12.4, 13.9, 15.5, 17.3, 19.4)},
		{Indicator: hfa, Sex: m, AgeMonths: 35, Values: vals(85.0, 88.7, 92.4, 96.1, 99.8, 103.5, 107.2)},
		{Indicator: bfa, Sex: m, AgeMonths: 35, Values: vals(12.3, 13.3, 14.4, 15.6, 17.0, 18.5, 20.2)},
		{Indicator: wfa, Sex: m, AgeMonths: 36, Values: boys36},
		{Indicator: hfa, Sex: m, AgeMonths: 130, Values: vals(124.0, 130.0, 136.0, 142.0, 148.0, 154.0, 160.0)},
		{Indicator: bfa, Sex: m, AgeMonths: 130, Values: vals(12.9, 13.9, 15.1, 16.6, 18.6, 21.3, 25.4)},
		{Indicator: wfa, Sex: f, AgeMonths: 35, Values: vals(9.6, 10.7, 12.0, 13.5, 15.3, 17.3, 19.7)},
		{Indicator: hfa, Sex: f, AgeMonths: 35, Values: vals(83.8, 87.5, 91.3, 95.1, 98.9, 102.7, 106.5)},
		{Indicator: bfa, Sex: f, AgeMonths: 35, Values: vals(11.9, 12.9, 14.0, 15.3, 16.8, 18.5, 20.6)},
	}
}

// Rules returns the SISVAN classification rules used by the fixtures.
func Rules() []domain.ClassificationRule {
	inf := math.Inf(1)
	rule := func(ind domain.Indicator, ageMin, ageMax int, zMin, zMax float64, label string) domain.ClassificationRule {
		return domain.ClassificationRule{
			Indicator: ind, AgeMinMonths: ageMin, AgeMaxMonths: ageMax,
			ZMin: zMin, ZMax: zMax, Label: label,
		}
	}
	wfa, hfa, bfa := domain.IndicatorWeightForAge, domain.IndicatorHeightForAge, domain.IndicatorBMIForAge

	return []domain.ClassificationRule{
		rule(wfa, 0, 120, -inf, -3, LabelVeryLowWeight),
		rule(wfa, 0, 120, -3, -2, LabelLowWeight),
		rule(wfa, 0, 120, -2, 2, LabelAdequateWeight),
		rule(wfa, 0, 120, 2, inf, LabelHighWeight),

		rule(hfa, 0, 228, -inf, -3, LabelVeryShort),
		rule(hfa, 0, 228, -3, -2, LabelShort),
		rule(hfa, 0, 228, -2, inf, LabelAdequateHeight),

		rule(bfa, 0, 60, -inf, -3, LabelSevereThinness),
		rule(bfa, 0, 60, -3, -2, LabelThinness),
		rule(bfa, 0, 60, -2, 1, LabelNormalBMI),
		rule(bfa, 0, 60, 1, 2, LabelOverweightRisk),
		rule(bfa, 0, 60, 2, 3, LabelOverweight),
		rule(bfa, 0, 60, 3, inf, LabelObesity),

		rule(bfa, 61, 228, -inf, -3, LabelSevereThinness),
		rule(bfa, 61, 228, -3, -2, LabelThinness),
		rule(bfa, 61, 228, -2, 1, LabelNormalBMI),
		rule(bfa, 61, 228, 1, 2, LabelOverweight),
		rule(bfa, 61, 228, 2, 3, LabelObesity),
		rule(bfa, 61, 228, 3, inf, LabelSevereObesity),
	}
}

// NewMemoryStore returns a MemoryStore loaded with Points and Rules.
func NewMemoryStore(t testing.TB) *store.MemoryStore {
	t.Helper()
	s, err := store.NewMemoryStore(Points(), Rules())
	require.NoError(t, err)
	return s
}

// ReferencePackYAML is the YAML form of Points and Rules, for loader tests.
const ReferencePackYAML = `version: "1.0.0"
metadata:
  name: fixture
  description: Subset of the WHO 2006/2007 tables for tests.
  source: WHO Child Growth Standards
points:
  - {indicator: weight_for_age, sex: M, age_months: 35, values: [10.1, 11.2, 12.4, 13.9, 15.5, 17.3, 19.4]}
  - {indicator: height_for_age, sex: M, age_months: 35, values: [85.0, 88.7, 92.4, 96.1, 99.8, 103.5, 107.2]}
  - {indicator: bmi_for_age, sex: M, age_months: 35, values: [12.3, 13.3, 14.4, 15.6, 17.0, 18.5, 20.2]}
  - {indicator: weight_for_age, sex: M, age_months: 36, values: [null, 11.3, 12.5, 14.0, 15.7, 17.5, 19.7]}
  - {indicator: height_for_age, sex: M, age_months: 130, values: [124.0, 130.0, 136.0, 142.0, 148.0, 154.0, 160.0]}
  - {indicator: bmi_for_age, sex: M, age_months: 130, values: [12.9, 13.9, 15.1, 16.6, 18.6, 21.3, 25.4]}
  - {indicator: weight_for_age, sex: F, age_months: 35, values: [9.6, 10.7, 12.0, 13.5, 15.3, 17.3, 19.7]}
  - {indicator: height_for_age, sex: F, age_months: 35, values: [83.8, 87.5, 91.3, 95.1, 98.9, 102.7, 106.5]}
  - {indicator: bmi_for_age, sex: F, age_months: 35, values: [11.9, 12.9, 14.0, 15.3, 16.8, 18.5, 20.6]}
rules:
  - {indicator: weight_for_age, age_min_months: 0, age_max_months: 120, z_max: -3, label: Muito baixo peso para a idade}
  - {indicator: weight_for_age, age_min_months: 0, age_max_months: 120, z_min: -3, z_max: -2, label: Baixo peso para a idade}
  - {indicator: weight_for_age, age_min_months: 0, age_max_months: 120, z_min: -2, z_max: 2, label: Peso adequado para a idade}
  - {indicator: weight_for_age, age_min_months: 0, age_max_months: 120, z_min: 2, label: Peso elevado para a idade}
  - {indicator: height_for_age, age_min_months: 0, age_max_months: 228, z_max: -3, label: Muito baixa estatura para a idade}
  - {indicator: height_for_age, age_min_months: 0, age_max_months: 228, z_min: -3, z_max: -2, label: Baixa estatura para a idade}
  - {indicator: height_for_age, age_min_months: 0, age_max_months: 228, z_min: -2, z_max: .inf, label: Estatura adequada para a idade}
  - {indicator: bmi_for_age, age_min_months: 0, age_max_months: 60, z_min: -.inf, z_max: -3, label: Magreza acentuada}
  - {indicator: bmi_for_age, age_min_months: 0, age_max_months: 60, z_min: -3, z_max: -2, label: Magreza}
  - {indicator: bmi_for_age, age_min_months: 0, age_max_months: 60, z_min: -2, z_max: 1, label: Eutrofia}
  - {indicator: bmi_for_age, age_min_months: 0, age_max_months: 60, z_min: 1, z_max: 2, label: Risco de sobrepeso}
  - {indicator: bmi_for_age, age_min_months: 0, age_max_months: 60, z_min: 2, z_max: 3, label: Sobrepeso}
  - {indicator: bmi_for_age, age_min_months: 0, age_max_months: 60, z_min: 3, label: Obesidade}
  - {indicator: bmi_for_age, age_min_months: 61, age_max_months: 228, z_max: -3, label: Magreza acentuada}
  - {indicator: bmi_for_age, age_min_months: 61, age_max_months: 228, z_min: -3, z_max: -2, label: Magreza}
  - {indicator: bmi_for_age, age_min_months: 61, age_max_months: 228, z_min: -2, z_max: 1, label: Eutrofia}
  - {indicator: bmi_for_age, age_min_months: 61, age_max_months: 228, z_min: 1, z_max: 2, label: Sobrepeso}
  - {indicator: bmi_for_age, age_min_months: 61, age_max_months: 228, z_min: 2, z_max: 3, label: Obesidade}
  - {indicator: bmi_for_age, age_min_months: 61, age_max_months: 228, z_min: 3, label: Obesidade grave}
`

// FailingStore is a ReferenceStore whose every call returns Err.
type FailingStore struct {
	Err error
}

// LookupReference implements ports.ReferenceLookup.
func (s FailingStore) LookupReference(context.Context, domain.Indicator, domain.Sex, int) (domain.ReferencePoint, bool, error) {
	return domain.ReferencePoint{}, false, s.Err
}

// Resolve implements ports.ClassificationResolver.
func (s FailingStore) Resolve(context.Context, domain.Indicator, int, domain.Sex, float64) (string, bool, error) {
	return "", false, s.Err
}

// CountingLookup counts calls to the wrapped lookup.
type CountingLookup struct {
	Next  ports.ReferenceLookup
	calls atomic.Int64
}

// LookupReference implements ports.ReferenceLookup.
func (c *CountingLookup) LookupReference(ctx context.Context, ind domain.Indicator, sex domain.Sex, age int) (domain.ReferencePoint, bool, error) {
	c.calls.Add(1)
	return c.Next.LookupReference(ctx, ind, sex, age)
}

// Calls returns the number of lookups forwarded so far.
func (c *CountingLookup) Calls() int64 { return c.calls.Load() }
