package middleware

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/ahrav/go-anthro/internal/domain"
	"github.com/ahrav/go-anthro/internal/ports"
)

var _ ports.ReferenceStore = (*InstrumentedStore)(nil)

// InstrumentedStore decorates a ReferenceStore with OpenTelemetry spans and
// latency and error metrics for every call.
type InstrumentedStore struct {
	next    ports.ReferenceStore
	metrics ports.MetricsCollector
	backend string
	tracer  trace.Tracer
}

// NewInstrumentedStore wraps next. backend names the store in span
// attributes and metric labels, e.g. "memory" or "sqlite".
func NewInstrumentedStore(next ports.ReferenceStore, metrics ports.MetricsCollector, backend string) *InstrumentedStore {
	if metrics == nil {
		metrics = ports.NopMetrics{}
	}
	return &InstrumentedStore{
		next:    next,
		metrics: metrics,
		backend: backend,
		tracer:  otel.Tracer("reference-store"),
	}
}

// LookupReference implements ports.ReferenceLookup.
func (s *InstrumentedStore) LookupReference(ctx context.Context, ind domain.Indicator, sex domain.Sex, ageMonths int) (domain.ReferencePoint, bool, error) {
	ctx, span := s.tracer.Start(ctx, "ReferenceStore.LookupReference", trace.WithAttributes(
		attribute.String("store.backend", s.backend),
		attribute.String("reference.indicator", string(ind)),
		attribute.String("reference.sex", string(sex)),
		attribute.Int("reference.age_months", ageMonths),
	))
	defer span.End()
	start := time.Now()

	p, found, err := s.next.LookupReference(ctx, ind, sex, ageMonths)
	s.finish(span, "lookup_reference", start, err)
	if err == nil {
		span.SetAttributes(attribute.Bool("reference.found", found))
	}
	return p, found, err
}

// Resolve implements ports.ClassificationResolver.
func (s *InstrumentedStore) Resolve(ctx context.Context, ind domain.Indicator, ageMonths int, sex domain.Sex, z float64) (string, bool, error) {
	ctx, span := s.tracer.Start(ctx, "ReferenceStore.Resolve", trace.WithAttributes(
		attribute.String("store.backend", s.backend),
		attribute.String("reference.indicator", string(ind)),
		attribute.Int("reference.age_months", ageMonths),
		attribute.Float64("reference.z", z),
	))
	defer span.End()
	start := time.Now()

	label, found, err := s.next.Resolve(ctx, ind, ageMonths, sex, z)
	s.finish(span, "resolve_classification", start, err)
	if err == nil {
		span.SetAttributes(attribute.Bool("classification.matched", found))
		if !found {
			span.AddEvent("classification.not_found")
		}
	}
	return label, found, err
}

func (s *InstrumentedStore) finish(span trace.Span, operation string, start time.Time, err error) {
	labels := map[string]string{"unit": s.backend, "operation": operation}
	s.metrics.RecordLatency(operation, time.Since(start), labels)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		s.metrics.RecordCounter("lookup_errors", 1, labels)
		return
	}
	span.SetStatus(codes.Ok, "")
}
