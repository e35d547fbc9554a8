package application

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/ahrav/go-anthro/infrastructure/normalize"
	"github.com/ahrav/go-anthro/infrastructure/tabular"
	"github.com/ahrav/go-anthro/internal/domain"
	"github.com/ahrav/go-anthro/internal/ports"
)

// Scorer scores a single normalized record. *Engine implements it.
type Scorer interface {
	Score(ctx context.Context, rec domain.MeasurementRecord) (domain.ScoredResult, error)
}

var _ Scorer = (*Engine)(nil)

// BatchState is a stage of the batch ingestion state machine.
type BatchState int

// Batch states in the order they run. ProcessRows repeats once per data
// row before moving to Aggregate.
const (
	StateDetectEncoding BatchState = iota
	StateDetectDelimiter
	StateValidateHeaders
	StateProcessRows
	StateAggregate
	StateDone
)

// String returns the stage name used in file errors and metrics.
func (s BatchState) String() string {
	switch s {
	case StateDetectEncoding:
		return "detect_encoding"
	case StateDetectDelimiter:
		return "detect_delimiter"
	case StateValidateHeaders:
		return "validate_headers"
	case StateProcessRows:
		return "process_rows"
	case StateAggregate:
		return "aggregate"
	case StateDone:
		return "done"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// RowOutcome is the result of one data row: exactly one of Result and Err
// is set.
type RowOutcome struct {
	Line   int
	Result *domain.ScoredResult
	Err    *domain.RowError
}

// BatchProcessor turns an uploaded CSV/TSV payload into a BatchOutcome.
// A file-level failure aborts the batch with a *domain.FileError and no
// partial output. Row-level failures are collected and never stop the batch.
type BatchProcessor struct {
	scorer     Scorer
	normalizer *normalize.Normalizer
	cfg        BatchConfig
	metrics    ports.MetricsCollector
	tracer     trace.Tracer
	now        func() time.Time
}

// BatchOption configures a BatchProcessor.
type BatchOption func(*BatchProcessor)

// WithBatchConfig replaces the default batch settings.
func WithBatchConfig(cfg BatchConfig) BatchOption {
	return func(p *BatchProcessor) { p.cfg = cfg }
}

// WithBatchMetrics sets the metrics collector.
func WithBatchMetrics(m ports.MetricsCollector) BatchOption {
	return func(p *BatchProcessor) {
		if m != nil {
			p.metrics = m
		}
	}
}

// WithNormalizer replaces the default normalizer.
func WithNormalizer(n *normalize.Normalizer) BatchOption {
	return func(p *BatchProcessor) {
		if n != nil {
			p.normalizer = n
		}
	}
}

// WithClock overrides the clock stamped onto outcomes.
func WithClock(now func() time.Time) BatchOption {
	return func(p *BatchProcessor) { p.now = now }
}

// NewBatchProcessor creates a processor that scores rows with scorer.
func NewBatchProcessor(scorer Scorer, opts ...BatchOption) (*BatchProcessor, error) {
	if scorer == nil {
		return nil, fmt.Errorf("%w: scorer is required", domain.ErrInvalidConfiguration)
	}
	p := &BatchProcessor{
		scorer:     scorer,
		normalizer: normalize.New(),
		cfg:        DefaultConfig().Batch,
		metrics:    ports.NopMetrics{},
		tracer:     otel.Tracer(tracerName),
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	if err := configValidator.Struct(p.cfg); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrInvalidConfiguration, err)
	}
	return p, nil
}

// batchRun carries the state threaded through one Process call.
type batchRun struct {
	payload  []byte
	filename string

	text    string
	delim   rune
	reader  *tabular.Reader
	headers normalize.HeaderMap

	outcomes []RowOutcome
	result   *domain.BatchOutcome
}

// Process runs the batch state machine over payload. The filename is used
// only to pick the fallback delimiter. Context cancellation is checked
// between rows.
func (p *BatchProcessor) Process(ctx context.Context, payload []byte, filename string) (*domain.BatchOutcome, error) {
	ctx, span := p.tracer.Start(ctx, "BatchProcessor.Process",
		trace.WithAttributes(
			attribute.String("batch.filename", filename),
			attribute.Int("batch.bytes", len(payload)),
		))
	defer span.End()
	start := time.Now()

	run := &batchRun{payload: payload, filename: filename}
	state := StateDetectEncoding
	for state != StateDone {
		next, err := p.step(ctx, run, state)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			p.metrics.RecordCounter("batches_rejected", 1, map[string]string{"unit": "batch", "stage": state.String()})
			return nil, err
		}
		state = next
	}

	out := run.result
	labels := map[string]string{"unit": "batch"}
	p.metrics.RecordLatency("process_batch", time.Since(start), labels)
	p.metrics.RecordHistogram("batch_rows", float64(out.TotalRows), labels)
	p.metrics.RecordCounter("batch_rows_failed", float64(len(out.Errors)), labels)
	span.SetAttributes(
		attribute.String("batch.id", out.ID),
		attribute.Int("batch.rows", out.TotalRows),
		attribute.Int("batch.row_errors", len(out.Errors)),
	)
	span.SetStatus(codes.Ok, "")
	return out, nil
}

func (p *BatchProcessor) step(ctx context.Context, run *batchRun, state BatchState) (BatchState, error) {
	switch state {
	case StateDetectEncoding:
		text, err := tabular.Decode(run.payload)
		if err != nil {
			return state, domain.NewFileError(state.String(), err)
		}
		run.text = text
		return StateDetectDelimiter, nil

	case StateDetectDelimiter:
		run.delim = tabular.DetectDelimiter(run.text, run.filename, p.cfg.SniffLines)
		run.reader = tabular.NewReader(run.text, run.delim)
		return StateValidateHeaders, nil

	case StateValidateHeaders:
		header, err := run.reader.Header()
		if err != nil {
			return state, domain.NewFileError(state.String(), err)
		}
		hm, missing, suggestions := normalize.MapHeaders(header)
		if len(missing) > 0 {
			ferr := domain.NewFileError(state.String(), domain.ErrMissingHeaders)
			ferr.Missing = missing
			ferr.Suggestions = suggestions
			return state, ferr
		}
		run.headers = hm
		return StateProcessRows, nil

	case StateProcessRows:
		if err := ctx.Err(); err != nil {
			return state, fmt.Errorf("batch cancelled after %d rows: %w", len(run.outcomes), err)
		}
		record, line, err := run.reader.Next()
		if errors.Is(err, io.EOF) {
			return StateAggregate, nil
		}
		if p.cfg.MaxRows > 0 && len(run.outcomes) >= p.cfg.MaxRows {
			return state, domain.NewFileError(state.String(),
				fmt.Errorf("%w: limit is %d", domain.ErrTooManyRows, p.cfg.MaxRows))
		}
		var rerr *tabular.RecordError
		switch {
		case errors.As(err, &rerr):
			run.outcomes = append(run.outcomes, RowOutcome{
				Line: rerr.Line,
				Err:  &domain.RowError{Line: rerr.Line, Message: rerr.Error(), Raw: map[string]string{}},
			})
		case err != nil:
			return state, domain.NewFileError(state.String(), err)
		default:
			run.outcomes = append(run.outcomes, p.processRow(ctx, run.headers, record, line))
		}
		return StateProcessRows, nil

	case StateAggregate:
		run.result = p.aggregate(run)
		return StateDone, nil

	default:
		return state, fmt.Errorf("unknown batch state %s", state)
	}
}

// processRow normalizes and scores one record. A panic anywhere below is
// converted into a row error so one bad row cannot abort the batch.
func (p *BatchProcessor) processRow(ctx context.Context, hm normalize.HeaderMap, record []string, line int) (out RowOutcome) {
	out.Line = line
	defer func() {
		if r := recover(); r != nil {
			out.Result = nil
			out.Err = &domain.RowError{
				Line:    line,
				Message: fmt.Sprintf("internal error: %v", r),
				Raw:     hm.Raw(record),
			}
		}
	}()

	rec, err := p.normalizer.NormalizeRow(hm, record, line-1)
	if err == nil {
		var res domain.ScoredResult
		res, err = p.scorer.Score(ctx, rec)
		if err == nil {
			out.Result = &res
			return out
		}
	}
	out.Err = &domain.RowError{Line: line, Message: err.Error(), Raw: hm.Raw(record)}
	return out
}

func (p *BatchProcessor) aggregate(run *batchRun) *domain.BatchOutcome {
	out := &domain.BatchOutcome{
		ID:          uuid.NewString(),
		Filename:    run.filename,
		Delimiter:   tabular.Name(run.delim),
		TotalRows:   len(run.outcomes),
		Results:     make([]domain.ScoredResult, 0, len(run.outcomes)),
		Errors:      make([]domain.RowError, 0),
		ProcessedAt: p.now().UTC(),
	}
	for _, o := range run.outcomes {
		if o.Err != nil {
			out.Errors = append(out.Errors, *o.Err)
			continue
		}
		out.Results = append(out.Results, *o.Result)
	}
	return out
}
