package application

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/ahrav/go-anthro/internal/domain"
	"github.com/ahrav/go-anthro/internal/ports"
)

const tracerName = "anthro-engine"

// recordValidator validates MeasurementRecords and reports fields by their
// JSON names so errors line up with the canonical column names.
var recordValidator = func() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" || name == "" {
			return fld.Name
		}
		return name
	})
	return v
}()

// Engine scores measurement records against reference data.
// It holds no per-call state; a single Engine may score records from any
// number of goroutines as long as its collaborators are safe for concurrent
// use.
type Engine struct {
	lookup   ports.ReferenceLookup
	resolver ports.ClassificationResolver
	metrics  ports.MetricsCollector
	cfg      EngineConfig
	tracer   trace.Tracer
}

// EngineOption configures an Engine.
type EngineOption func(*Engine)

// WithEngineConfig replaces the default gating and sentinel settings.
func WithEngineConfig(cfg EngineConfig) EngineOption {
	return func(e *Engine) { e.cfg = cfg }
}

// WithMetrics sets the metrics collector. The default discards observations.
func WithMetrics(m ports.MetricsCollector) EngineOption {
	return func(e *Engine) {
		if m != nil {
			e.metrics = m
		}
	}
}

// NewEngine creates an Engine over the given reference collaborators.
// NewEngine returns an error if either collaborator is nil or the engine
// configuration is invalid.
func NewEngine(lookup ports.ReferenceLookup, resolver ports.ClassificationResolver, opts ...EngineOption) (*Engine, error) {
	if lookup == nil || resolver == nil {
		return nil, fmt.Errorf("%w: reference lookup and classification resolver are required",
			domain.ErrInvalidConfiguration)
	}
	e := &Engine{
		lookup:   lookup,
		resolver: resolver,
		metrics:  ports.NopMetrics{},
		cfg:      DefaultConfig().Engine,
		tracer:   otel.Tracer(tracerName),
	}
	for _, opt := range opts {
		opt(e)
	}
	if err := configValidator.Struct(e.cfg); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrInvalidConfiguration, err)
	}
	return e, nil
}

// Score computes the age breakdown, BMI and every applicable indicator for
// rec. Indicators are emitted in weight-for-age, height-for-age,
// BMI-for-age order and only while the subject's age is within the
// indicator's gating limit.
//
// Score returns a *domain.FieldError wrapping domain.ErrInvalidMeasurement
// when rec fails validation, domain.ErrInvalidDateRange when the assessment
// precedes birth, and a *ports.LookupError when a collaborator fails.
// Missing reference data is not an error.
func (e *Engine) Score(ctx context.Context, rec domain.MeasurementRecord) (domain.ScoredResult, error) {
	ctx, span := e.tracer.Start(ctx, "Engine.Score",
		trace.WithAttributes(attribute.String("subject.sex", string(rec.Sex))))
	defer span.End()
	start := time.Now()

	res, err := e.score(ctx, rec)

	labels := map[string]string{"unit": "engine"}
	e.metrics.RecordLatency("score_record", time.Since(start), labels)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		e.metrics.RecordCounter("records_failed", 1, labels)
		return domain.ScoredResult{}, err
	}
	span.SetAttributes(
		attribute.Int("subject.age_months", res.Age.TotalMonths),
		attribute.Int("indicators.count", len(res.Indicators)),
	)
	span.SetStatus(codes.Ok, "")
	e.metrics.RecordCounter("records_scored", 1, labels)
	return res, nil
}

func (e *Engine) score(ctx context.Context, rec domain.MeasurementRecord) (domain.ScoredResult, error) {
	if err := validateRecord(rec); err != nil {
		return domain.ScoredResult{}, err
	}

	age, err := domain.CalculateAge(rec.BirthDate, rec.AssessmentDate)
	if err != nil {
		return domain.ScoredResult{}, err
	}

	res := domain.ScoredResult{
		PatientID:      rec.PatientID,
		Name:           rec.Name,
		Sex:            rec.Sex.Label(),
		BirthDate:      rec.BirthDate.Format(domain.DateLayout),
		AssessmentDate: rec.AssessmentDate.Format(domain.DateLayout),
		Age:            age,
		WeightKg:       rec.WeightKg,
		HeightCm:       rec.HeightCm,
		Indicators:     make([]domain.IndicatorResult, 0, len(domain.Indicators)),
	}

	bmi, hasBMI := domain.ComputeBMI(rec.WeightKg, rec.HeightCm)
	if hasBMI {
		rounded := domain.Round(bmi, 2)
		res.BMI = &rounded
	}

	for _, ind := range domain.Indicators {
		if age.TotalMonths > e.cfg.MaxMonths(ind) {
			continue
		}

		var observed float64
		switch ind {
		case domain.IndicatorWeightForAge:
			observed = rec.WeightKg
		case domain.IndicatorHeightForAge:
			observed = rec.HeightCm
		case domain.IndicatorBMIForAge:
			if !hasBMI {
				continue
			}
			observed = bmi
		}

		ir, ok, err := e.scoreIndicator(ctx, ind, rec.Sex, age.TotalMonths, observed)
		if err != nil {
			return domain.ScoredResult{}, err
		}
		if ok {
			res.Indicators = append(res.Indicators, ir)
		}
	}
	return res, nil
}

// scoreIndicator returns false when the indicator should be omitted.
func (e *Engine) scoreIndicator(
	ctx context.Context,
	ind domain.Indicator,
	sex domain.Sex,
	ageMonths int,
	observed float64,
) (domain.IndicatorResult, bool, error) {
	ir := domain.IndicatorResult{
		Indicator:      ind,
		DisplayName:    ind.DisplayName(),
		ObservedValue:  domain.Round(observed, 2),
		Classification: domain.ClassificationNotFound,
	}
	labels := map[string]string{"unit": "engine", "indicator": string(ind)}

	ref, found, err := e.lookup.LookupReference(ctx, ind, sex, ageMonths)
	if err != nil {
		return ir, false, ports.NewLookupError("lookup_reference", string(ind), ageMonths, err)
	}
	var z float64
	if found {
		z, found = domain.InterpolateZ(observed, ref, e.cfg.Sentinels())
	}
	if !found {
		e.metrics.RecordCounter("indicators_indeterminate", 1, labels)
		return ir, e.cfg.ReportIndeterminate, nil
	}

	// Classification uses the unrounded Z so a value just below a cut-off
	// is not rounded onto it.
	label, matched, err := e.resolver.Resolve(ctx, ind, ageMonths, sex, z)
	if err != nil {
		return ir, false, ports.NewLookupError("resolve_classification", string(ind), ageMonths, err)
	}
	if matched {
		ir.Classification = label
		ir.RuleMatched = true
	} else {
		e.metrics.RecordCounter("classifications_not_found", 1, labels)
	}

	rounded := domain.Round(z, 2)
	ir.ZScore = &rounded
	e.metrics.RecordHistogram("z_score", z, labels)
	return ir, true, nil
}

// validateRecord reports the first failing field as a FieldError.
func validateRecord(rec domain.MeasurementRecord) error {
	err := recordValidator.Struct(rec)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		fe := verrs[0]
		value := ""
		if fe.Tag() != "required" {
			value = fmt.Sprint(fe.Value())
		}
		return domain.NewFieldError(fe.Field(), value, domain.ErrInvalidMeasurement)
	}
	return fmt.Errorf("%w: %v", domain.ErrInvalidMeasurement, err)
}
