// Package ports defines the core interfaces that form the contract between
// the domain/application layers and the infrastructure layer.
// These interfaces enable dependency inversion and make the scoring engine
// testable without a database.
package ports

import (
	"context"
	"time"

	"github.com/ahrav/go-anthro/internal/domain"
)

// ReferenceLookup retrieves reference distributions.
// Implementations must be safe for concurrent use; reference data is
// read-only for the lifetime of the process.
type ReferenceLookup interface {
	// LookupReference returns the reference point keyed by the exact
	// (indicator, sex, ageMonths) triple. The boolean is false when no row
	// exists, which callers treat as indeterminate rather than as a failure.
	// A non-nil error means the store itself failed.
	LookupReference(ctx context.Context, indicator domain.Indicator, sex domain.Sex, ageMonths int) (domain.ReferencePoint, bool, error)
}

// ClassificationResolver maps a Z-score onto a nutritional status label.
type ClassificationResolver interface {
	// Resolve returns the label of the rule whose indicator, inclusive age
	// range, optional sex restriction and [min, max) Z interval cover the
	// arguments. The boolean is false when no rule matches.
	//
	// Example:
	//
	//	label, ok, err := resolver.Resolve(ctx, domain.IndicatorWeightForAge, 24, domain.SexMale, -2.0)
	//	if err != nil {
	//	    return fmt.Errorf("resolve failed: %w", err)
	//	}
	Resolve(ctx context.Context, indicator domain.Indicator, ageMonths int, sex domain.Sex, z float64) (string, bool, error)
}

// ReferenceStore is a store that can serve both lookups.
type ReferenceStore interface {
	ReferenceLookup
	ClassificationResolver
}

// MetricsCollector defines the interface for collecting operational metrics.
// Implementations should integrate with observability platforms like
// Prometheus or OpenTelemetry.
type MetricsCollector interface {
	// RecordLatency records the execution time of an operation.
	// The labels map provides additional context for the metric.
	RecordLatency(operation string, duration time.Duration, labels map[string]string)

	// RecordCounter increments a counter metric.
	// This is useful for tracking events like rows scored, rows failed, etc.
	RecordCounter(metric string, value float64, labels map[string]string)

	// RecordGauge sets the current value of a gauge metric.
	RecordGauge(metric string, value float64, labels map[string]string)

	// RecordHistogram records a value in a histogram.
	// This is useful for tracking distributions like batch sizes or Z-scores.
	RecordHistogram(metric string, value float64, labels map[string]string)
}

// NopMetrics discards every observation.
type NopMetrics struct{}

func (NopMetrics) RecordLatency(string, time.Duration, map[string]string) {}
func (NopMetrics) RecordCounter(string, float64, map[string]string)       {}
func (NopMetrics) RecordGauge(string, float64, map[string]string)         {}
func (NopMetrics) RecordHistogram(string, float64, map[string]string)     {}

var _ MetricsCollector = NopMetrics{}
