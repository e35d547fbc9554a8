package application

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/text/encoding/unicode"

	"github.com/ahrav/go-anthro/internal/domain"
)

func newTestBatch(t *testing.T, opts ...BatchOption) *BatchProcessor {
	t.Helper()
	p, err := NewBatchProcessor(newTestEngine(t), opts...)
	require.NoError(t, err)
	return p
}

func csvLines(lines ...string) []byte {
	return []byte(strings.Join(lines, "\n") + "\n")
}

type panickingScorer struct{}

func (panickingScorer) Score(context.Context, domain.MeasurementRecord) (domain.ScoredResult, error) {
	panic("nil reference table")
}

func TestBatchState_String(t *testing.T) {
	assert.Equal(t, "detect_encoding", StateDetectEncoding.String())
	assert.Equal(t, "validate_headers", StateValidateHeaders.String())
	assert.Equal(t, "done", StateDone.String())
	assert.Equal(t, "state(42)", BatchState(42).String())
}

func TestBatchProcessor_RowErrorsAreIsolated(t *testing.T) {
	payload := csvLines(
		"data_nascimento,data_avaliacao,sexo,peso_kg,altura_cm",
		`01/01/2020,30/12/2022,M,"15,5",95.3`,
		"01/01/2020,30/12/2022,INVALIDSEX,15.5,95.3",
	)

	out, err := newTestBatch(t).Process(context.Background(), payload, "turma.csv")
	require.NoError(t, err)

	assert.Equal(t, 2, out.TotalRows)
	assert.True(t, out.Consistent())
	assert.Equal(t, "comma", out.Delimiter)
	assert.Equal(t, "turma.csv", out.Filename)
	assert.NotEmpty(t, out.ID)

	require.Len(t, out.Results, 1)
	assert.Equal(t, "Pessoa 1", out.Results[0].Name)
	assert.Equal(t, 35, out.Results[0].Age.TotalMonths)
	require.NotNil(t, out.Results[0].BMI)
	assert.Equal(t, 17.07, *out.Results[0].BMI)

	require.Len(t, out.Errors, 1)
	rowErr := out.Errors[0]
	assert.Equal(t, 3, rowErr.Line)
	assert.Equal(t, `sexo: invalid sex "INVALIDSEX"`, rowErr.Message)
	assert.Equal(t, "INVALIDSEX", rowErr.Raw["sexo"])
	assert.Equal(t, "15.5", rowErr.Raw["peso_kg"])
}

func TestBatchProcessor_LocalizedSemicolonFile(t *testing.T) {
	payload := csvLines(
		"Nome;Data de Nascimento;Data da Avaliação;Sexo;Peso (kg);Altura (cm)",
		`Ana;01/01/2020;30/12/2022;Feminino;"1.234,56";95,1`,
		";2020-01-01;2022-12-30;menina;13,5;95,1",
	)

	out, err := newTestBatch(t).Process(context.Background(), payload, "dados.csv")
	require.NoError(t, err)
	assert.Equal(t, "semicolon", out.Delimiter)
	require.Len(t, out.Results, 2)
	assert.Empty(t, out.Errors)

	assert.Equal(t, "Ana", out.Results[0].Name)
	assert.Equal(t, 1234.56, out.Results[0].WeightKg)
	assert.Equal(t, "Feminino", out.Results[0].Sex)
	assert.Equal(t, "Pessoa 2", out.Results[1].Name)

	wfa := indicator(t, out.Results[1], domain.IndicatorWeightForAge)
	require.NotNil(t, wfa.ZScore)
	assert.Equal(t, 0.0, *wfa.ZScore)
}

func TestBatchProcessor_UTF16TabFile(t *testing.T) {
	text := "data_nascimento\tdata_avaliacao\tsexo\tpeso_kg\taltura_cm\n2020-01-01\t2022-12-30\tM\t13,9\t96,1\n"
	enc := unicode.UTF16(unicode.LittleEndian, unicode.UseBOM).NewEncoder()
	payload, err := enc.Bytes([]byte(text))
	require.NoError(t, err)

	out, err := newTestBatch(t).Process(context.Background(), payload, "export.txt")
	require.NoError(t, err)
	assert.Equal(t, "tab", out.Delimiter)
	require.Len(t, out.Results, 1)
}

func TestBatchProcessor_RowLevelFailures(t *testing.T) {
	payload := csvLines(
		"data_nascimento,data_avaliacao,sexo,peso_kg,altura_cm",
		"2020-01-01,2022-12-30,M,,96",
		"2023-01-01,2022-12-30,M,14,96",
		"2020-01-01,2022-12-30,M,0,96",
		"2020-13-01,2022-12-30,M,14,96",
		"2020-01-01,2022-12-30,F,abc,96",
	)

	out, err := newTestBatch(t).Process(context.Background(), payload, "x.csv")
	require.NoError(t, err)
	assert.Empty(t, out.Results)
	require.Len(t, out.Errors, 5)
	assert.True(t, out.Consistent())

	assert.Equal(t, "peso_kg: required value missing", out.Errors[0].Message)
	assert.Contains(t, out.Errors[1].Message, domain.ErrInvalidDateRange.Error())
	assert.Equal(t, `peso_kg: invalid measurement "0"`, out.Errors[2].Message)
	assert.Equal(t, `data_nascimento: invalid date "2020-13-01"`, out.Errors[3].Message)
	assert.Equal(t, `peso_kg: invalid number "abc"`, out.Errors[4].Message)
	for i, e := range out.Errors {
		assert.Equal(t, i+2, e.Line)
	}
}

func TestBatchProcessor_EmptyCellRowsAreReported(t *testing.T) {
	payload := csvLines(
		"data_nascimento,data_avaliacao,sexo,peso_kg,altura_cm",
		"01/01/2020,30/12/2022,M,15.5,95.3",
		",,,,",
		"",
		"01/01/2020,30/12/2022,M,15.5,95.3",
	)

	out, err := newTestBatch(t).Process(context.Background(), payload, "x.csv")
	require.NoError(t, err)
	assert.Equal(t, 3, out.TotalRows)
	assert.True(t, out.Consistent())

	require.Len(t, out.Errors, 1)
	assert.Equal(t, 3, out.Errors[0].Line)
	assert.Equal(t, "data_nascimento: required value missing", out.Errors[0].Message)
	assert.Equal(t, "", out.Errors[0].Raw["sexo"])

	require.Len(t, out.Results, 2)
	assert.Equal(t, "Pessoa 1", out.Results[0].Name)
	assert.Equal(t, "Pessoa 3", out.Results[1].Name, "the empty-cell row keeps its place in the numbering")
}

func TestBatchProcessor_ShiftedCellsAreRowErrors(t *testing.T) {
	payload := csvLines(
		"data_nascimento,data_avaliacao,sexo,peso_kg,altura_cm",
		"01/01/2020,30/12/2022,M,15,5,95.3",
		`01/01/2020,30/12/2022,M,"15,5",95.3`,
	)

	out, err := newTestBatch(t).Process(context.Background(), payload, "x.csv")
	require.NoError(t, err)
	assert.Equal(t, 2, out.TotalRows)

	require.Len(t, out.Errors, 1)
	assert.Equal(t, 2, out.Errors[0].Line)
	assert.Equal(t, `registro: more cells than header columns "6"`, out.Errors[0].Message)

	require.Len(t, out.Results, 1)
	require.NotNil(t, out.Results[0].BMI)
	assert.InDelta(t, 17.07, *out.Results[0].BMI, 1e-9)
}

func TestBatchProcessor_RecoversPanics(t *testing.T) {
	p, err := NewBatchProcessor(panickingScorer{})
	require.NoError(t, err)

	out, err := p.Process(context.Background(), csvLines(
		"data_nascimento,data_avaliacao,sexo,peso_kg,altura_cm",
		"2020-01-01,2022-12-30,M,14,96",
		"2020-01-01,2022-12-30,F,14,96",
	), "x.csv")
	require.NoError(t, err)
	require.Len(t, out.Errors, 2)
	assert.Equal(t, "internal error: nil reference table", out.Errors[0].Message)
	assert.Equal(t, "M", out.Errors[0].Raw["sexo"])
	assert.Equal(t, 3, out.Errors[1].Line)
}

func TestBatchProcessor_FileErrors(t *testing.T) {
	tests := []struct {
		name      string
		payload   []byte
		wantStage string
		wantErr   error
		check     func(t *testing.T, fe *domain.FileError)
	}{
		{
			name:      "empty payload",
			payload:   nil,
			wantStage: "detect_encoding",
			wantErr:   domain.ErrEmptyPayload,
		},
		{
			name:      "not utf-8",
			payload:   []byte("nome\nJo\xe3o\n"),
			wantStage: "detect_encoding",
			wantErr:   domain.ErrUndecodablePayload,
		},
		{
			name:      "whitespace only",
			payload:   []byte("\n  \n"),
			wantStage: "detect_encoding",
			wantErr:   domain.ErrNoData,
		},
		{
			name:      "blank header",
			payload:   []byte(",,,\n1,2,3,4\n"),
			wantStage: "validate_headers",
			wantErr:   domain.ErrNoHeader,
		},
		{
			name:      "missing sex column",
			payload:   csvLines("data_nascimento,data_avaliacao,peso_kg,altura_cm", "2020-01-01,2022-12-30,14,96"),
			wantStage: "validate_headers",
			wantErr:   domain.ErrMissingHeaders,
			check: func(t *testing.T, fe *domain.FileError) {
				assert.Equal(t, []string{"sexo"}, fe.Missing)
			},
		},
		{
			name:      "misspelled header",
			payload:   csvLines("data_nascimento,data_avaliacao,sexx,peso_kg,altura_cm"),
			wantStage: "validate_headers",
			wantErr:   domain.ErrMissingHeaders,
			check: func(t *testing.T, fe *domain.FileError) {
				assert.Equal(t, "sexx", fe.Suggestions["sexo"])
				assert.Contains(t, fe.Error(), `did you mean "sexx" for sexo?`)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := newTestBatch(t).Process(context.Background(), tt.payload, "x.csv")
			require.Error(t, err)
			assert.Nil(t, out, "file errors carry no partial output")
			assert.ErrorIs(t, err, tt.wantErr)

			var fe *domain.FileError
			require.True(t, errors.As(err, &fe))
			assert.Equal(t, tt.wantStage, fe.Stage)
			if tt.check != nil {
				tt.check(t, fe)
			}
		})
	}
}

func TestBatchProcessor_HeaderOnly(t *testing.T) {
	out, err := newTestBatch(t).Process(context.Background(),
		csvLines("data_nascimento,data_avaliacao,sexo,peso_kg,altura_cm"), "x.csv")
	require.NoError(t, err)
	assert.Equal(t, 0, out.TotalRows)
	assert.Empty(t, out.Results)
	assert.Empty(t, out.Errors)
	assert.True(t, out.Consistent())
}

func TestBatchProcessor_MaxRows(t *testing.T) {
	p := newTestBatch(t, WithBatchConfig(BatchConfig{SniffLines: 3, MaxRows: 1}))
	_, err := p.Process(context.Background(), csvLines(
		"data_nascimento,data_avaliacao,sexo,peso_kg,altura_cm",
		"2020-01-01,2022-12-30,M,14,96",
		"2020-01-01,2022-12-30,M,14,96",
	), "x.csv")
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrTooManyRows)

	var fe *domain.FileError
	require.True(t, errors.As(err, &fe))
	assert.Equal(t, "process_rows", fe.Stage)
}

func TestBatchProcessor_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := newTestBatch(t).Process(ctx, csvLines(
		"data_nascimento,data_avaliacao,sexo,peso_kg,altura_cm",
		"2020-01-01,2022-12-30,M,14,96",
	), "x.csv")
	assert.ErrorIs(t, err, context.Canceled)
}

func TestBatchProcessor_Metadata(t *testing.T) {
	fixed := time.Date(2024, 5, 1, 12, 0, 0, 0, time.FixedZone("BRT", -3*3600))
	m := newRecordingMetrics()
	p := newTestBatch(t, WithClock(func() time.Time { return fixed }), WithBatchMetrics(m))

	out, err := p.Process(context.Background(), csvLines(
		"data_nascimento,data_avaliacao,sexo,peso_kg,altura_cm",
		"2020-01-01,2022-12-30,M,14,96",
		"2020-01-01,2022-12-30,X,14,96",
	), "x.csv")
	require.NoError(t, err)
	assert.True(t, fixed.Equal(out.ProcessedAt))
	assert.Equal(t, time.UTC, out.ProcessedAt.Location())
	assert.Equal(t, 1.0, m.counter("batch_rows_failed"))

	again, err := p.Process(context.Background(), csvLines(
		"data_nascimento,data_avaliacao,sexo,peso_kg,altura_cm",
		"2020-01-01,2022-12-30,M,14,96",
	), "x.csv")
	require.NoError(t, err)
	assert.NotEqual(t, out.ID, again.ID)
}

func TestNewBatchProcessor_Invalid(t *testing.T) {
	_, err := NewBatchProcessor(nil)
	assert.ErrorIs(t, err, domain.ErrInvalidConfiguration)

	_, err = NewBatchProcessor(newTestEngine(t), WithBatchConfig(BatchConfig{SniffLines: 0}))
	assert.ErrorIs(t, err, domain.ErrInvalidConfiguration)
}
