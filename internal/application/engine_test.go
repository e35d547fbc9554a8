package application

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ahrav/go-anthro/internal/domain"
	"github.com/ahrav/go-anthro/internal/ports"
	"github.com/ahrav/go-anthro/internal/testutils"
)

// recordingMetrics captures counters for assertions.
type recordingMetrics struct {
	ports.NopMetrics
	mu       sync.Mutex
	counters map[string]float64
}

func newRecordingMetrics() *recordingMetrics {
	return &recordingMetrics{counters: make(map[string]float64)}
}

func (m *recordingMetrics) RecordCounter(metric string, value float64, _ map[string]string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.counters[metric] += value
}

func (m *recordingMetrics) counter(metric string) float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.counters[metric]
}

func date(s string) time.Time {
	t, err := time.Parse(domain.DateLayout, s)
	if err != nil {
		panic(err)
	}
	return t
}

func newTestEngine(t *testing.T, opts ...EngineOption) *Engine {
	t.Helper()
	s := testutils.NewMemoryStore(t)
	e, err := NewEngine(s, s, opts...)
	require.NoError(t, err)
	return e
}

func boy35(weight, height float64) domain.MeasurementRecord {
	return domain.MeasurementRecord{
		Name:           "Caio",
		BirthDate:      date("2020-01-01"),
		AssessmentDate: date("2022-12-30"),
		Sex:            domain.SexMale,
		WeightKg:       weight,
		HeightCm:       height,
	}
}

func indicator(t *testing.T, res domain.ScoredResult, ind domain.Indicator) domain.IndicatorResult {
	t.Helper()
	for _, ir := range res.Indicators {
		if ir.Indicator == ind {
			return ir
		}
	}
	t.Fatalf("indicator %s not in result", ind)
	return domain.IndicatorResult{}
}

func TestNewEngine_RequiresCollaborators(t *testing.T) {
	s := testutils.NewMemoryStore(t)

	_, err := NewEngine(nil, s)
	assert.ErrorIs(t, err, domain.ErrInvalidConfiguration)

	_, err = NewEngine(s, nil)
	assert.ErrorIs(t, err, domain.ErrInvalidConfiguration)

	bad := DefaultConfig().Engine
	bad.BelowRangeZ = -2
	_, err = NewEngine(s, s, WithEngineConfig(bad))
	assert.ErrorIs(t, err, domain.ErrInvalidConfiguration)
}

func TestEngine_Score(t *testing.T) {
	e := newTestEngine(t)

	res, err := e.Score(context.Background(), boy35(15.5, 95.3))
	require.NoError(t, err)

	assert.Equal(t, "Caio", res.Name)
	assert.Equal(t, "Masculino", res.Sex)
	assert.Equal(t, "2020-01-01", res.BirthDate)
	assert.Equal(t, "2022-12-30", res.AssessmentDate)
	assert.Equal(t, 35, res.Age.TotalMonths)
	assert.Equal(t, "2 anos e 11 meses", res.Age.Display)
	require.NotNil(t, res.BMI)
	assert.Equal(t, 17.07, *res.BMI)

	require.Len(t, res.Indicators, 3)
	assert.Equal(t, domain.IndicatorWeightForAge, res.Indicators[0].Indicator)
	assert.Equal(t, domain.IndicatorHeightForAge, res.Indicators[1].Indicator)
	assert.Equal(t, domain.IndicatorBMIForAge, res.Indicators[2].Indicator)

	wfa := res.Indicators[0]
	require.NotNil(t, wfa.ZScore)
	assert.Equal(t, 1.0, *wfa.ZScore, "an exact reference value returns its Z")
	assert.Equal(t, testutils.LabelAdequateWeight, wfa.Classification)
	assert.True(t, wfa.RuleMatched)
	assert.Equal(t, "Peso-para-Idade (P/I)", wfa.DisplayName)

	hfa := res.Indicators[1]
	require.NotNil(t, hfa.ZScore)
	assert.Equal(t, -0.22, *hfa.ZScore)
	assert.Equal(t, testutils.LabelAdequateHeight, hfa.Classification)

	bfa := res.Indicators[2]
	require.NotNil(t, bfa.ZScore)
	assert.Equal(t, 1.04, *bfa.ZScore)
	assert.Equal(t, 17.07, bfa.ObservedValue)
	assert.Equal(t, testutils.LabelOverweightRisk, bfa.Classification)
}

func TestEngine_ClassifiesUnroundedZ(t *testing.T) {
	e := newTestEngine(t)

	// z = -2.00045..., reported as -2 but still below the cut-off.
	res, err := e.Score(context.Background(), boy35(11.1995, 96.1))
	require.NoError(t, err)

	wfa := indicator(t, res, domain.IndicatorWeightForAge)
	require.NotNil(t, wfa.ZScore)
	assert.Equal(t, -2.0, *wfa.ZScore)
	assert.Equal(t, testutils.LabelLowWeight, wfa.Classification)
}

func TestEngine_AgeGating(t *testing.T) {
	e := newTestEngine(t)
	rec := domain.MeasurementRecord{
		BirthDate:      date("2010-01-15"),
		AssessmentDate: date("2020-11-15"),
		Sex:            domain.SexMale,
		WeightKg:       33.5,
		HeightCm:       142.0,
	}

	res, err := e.Score(context.Background(), rec)
	require.NoError(t, err)
	assert.Equal(t, 130, res.Age.TotalMonths)

	require.Len(t, res.Indicators, 2, "weight-for-age stops at 120 months")
	assert.Equal(t, domain.IndicatorHeightForAge, res.Indicators[0].Indicator)
	assert.Equal(t, 0.0, *res.Indicators[0].ZScore)
	assert.Equal(t, testutils.LabelNormalBMI, res.Indicators[1].Classification)

	cfg := DefaultConfig().Engine
	cfg.HeightForAgeMaxMonths = 129
	res, err = newTestEngine(t, WithEngineConfig(cfg)).Score(context.Background(), rec)
	require.NoError(t, err)
	require.Len(t, res.Indicators, 1)
	assert.Equal(t, domain.IndicatorBMIForAge, res.Indicators[0].Indicator)
}

func TestEngine_MissingReference(t *testing.T) {
	rec := domain.MeasurementRecord{
		BirthDate:      date("2020-01-01"),
		AssessmentDate: date("2023-01-01"),
		Sex:            domain.SexFemale,
		WeightKg:       14,
		HeightCm:       95,
	}

	t.Run("omitted by default", func(t *testing.T) {
		m := newRecordingMetrics()
		res, err := newTestEngine(t, WithMetrics(m)).Score(context.Background(), rec)
		require.NoError(t, err)
		assert.Equal(t, 36, res.Age.TotalMonths)
		assert.Empty(t, res.Indicators)
		assert.Equal(t, 3.0, m.counter("indicators_indeterminate"))
	})

	t.Run("reported when configured", func(t *testing.T) {
		cfg := DefaultConfig().Engine
		cfg.ReportIndeterminate = true
		res, err := newTestEngine(t, WithEngineConfig(cfg)).Score(context.Background(), rec)
		require.NoError(t, err)
		require.Len(t, res.Indicators, 3)
		for _, ir := range res.Indicators {
			assert.Nil(t, ir.ZScore)
			assert.False(t, ir.RuleMatched)
			assert.Equal(t, domain.ClassificationNotFound, ir.Classification)
		}
	})
}

func TestEngine_MissingColumnsAndSentinel(t *testing.T) {
	rec := boy35(10.0, 96.1)
	rec.AssessmentDate = date("2023-01-01")

	res, err := newTestEngine(t).Score(context.Background(), rec)
	require.NoError(t, err)
	require.Len(t, res.Indicators, 1)

	wfa := res.Indicators[0]
	require.NotNil(t, wfa.ZScore)
	assert.Equal(t, domain.DefaultBelowRangeZ, *wfa.ZScore)
	assert.Equal(t, testutils.LabelVeryLowWeight, wfa.Classification)
}

func TestEngine_InvalidRecords(t *testing.T) {
	e := newTestEngine(t)

	tests := []struct {
		name      string
		mutate    func(*domain.MeasurementRecord)
		wantErr   error
		wantField string
	}{
		{"zero weight", func(r *domain.MeasurementRecord) { r.WeightKg = 0 }, domain.ErrInvalidMeasurement, "peso_kg"},
		{"negative height", func(r *domain.MeasurementRecord) { r.HeightCm = -1 }, domain.ErrInvalidMeasurement, "altura_cm"},
		{"no sex", func(r *domain.MeasurementRecord) { r.Sex = domain.SexUnspecified }, domain.ErrInvalidMeasurement, "sexo"},
		{"no birth date", func(r *domain.MeasurementRecord) { r.BirthDate = time.Time{} }, domain.ErrInvalidMeasurement, "data_nascimento"},
		{"assessment before birth", func(r *domain.MeasurementRecord) { r.AssessmentDate = date("2019-12-31") }, domain.ErrInvalidDateRange, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := boy35(14, 96)
			tt.mutate(&rec)
			_, err := e.Score(context.Background(), rec)
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.wantErr)
			if tt.wantField != "" {
				var fe *domain.FieldError
				require.True(t, errors.As(err, &fe))
				assert.Equal(t, tt.wantField, fe.Field)
			}
		})
	}
}

func TestEngine_CollaboratorFailures(t *testing.T) {
	boom := errors.New("connection reset")
	good := testutils.NewMemoryStore(t)

	t.Run("lookup", func(t *testing.T) {
		e, err := NewEngine(testutils.FailingStore{Err: boom}, good)
		require.NoError(t, err)
		_, err = e.Score(context.Background(), boy35(14, 96))

		var le *ports.LookupError
		require.True(t, errors.As(err, &le))
		assert.Equal(t, "lookup_reference", le.Operation)
		assert.Equal(t, string(domain.IndicatorWeightForAge), le.Indicator)
		assert.Equal(t, 35, le.AgeMonths)
		assert.ErrorIs(t, err, boom)
	})

	t.Run("resolver", func(t *testing.T) {
		m := newRecordingMetrics()
		e, err := NewEngine(good, testutils.FailingStore{Err: boom}, WithMetrics(m))
		require.NoError(t, err)
		_, err = e.Score(context.Background(), boy35(14, 96))

		var le *ports.LookupError
		require.True(t, errors.As(err, &le))
		assert.Equal(t, "resolve_classification", le.Operation)
		assert.Equal(t, 1.0, m.counter("records_failed"))
	})
}

func TestEngine_ConcurrentScoring(t *testing.T) {
	m := newRecordingMetrics()
	e := newTestEngine(t, WithMetrics(m))
	want, err := e.Score(context.Background(), boy35(13.9, 96.1))
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			got, err := e.Score(context.Background(), boy35(13.9, 96.1))
			assert.NoError(t, err)
			assert.Equal(t, want, got)
		}()
	}
	wg.Wait()
	assert.Equal(t, 33.0, m.counter("records_scored"))
}
