package tabular

import (
	"encoding/csv"
	"errors"
	"io"
	"strings"

	"github.com/ahrav/go-anthro/internal/domain"
)

// Reader yields the header and then one record at a time. A malformed
// record is reported through RecordError and does not stop iteration.
type Reader struct {
	csv  *csv.Reader
	line int
}

// RecordError wraps a parse failure confined to a single record.
type RecordError struct {
	Line int
	Err  error
}

func (e *RecordError) Error() string { return e.Err.Error() }

// Unwrap returns the underlying csv error.
func (e *RecordError) Unwrap() error { return e.Err }

// NewReader builds a lenient CSV reader over decoded text.
func NewReader(text string, delim rune) *Reader {
	r := csv.NewReader(strings.NewReader(text))
	r.Comma = delim
	r.LazyQuotes = true
	r.FieldsPerRecord = -1
	r.TrimLeadingSpace = true
	r.ReuseRecord = false
	return &Reader{csv: r}
}

// Header reads the first record. It fails with domain.ErrNoHeader when the
// text has no records or the header row is blank.
func (r *Reader) Header() ([]string, error) {
	rec, err := r.csv.Read()
	if errors.Is(err, io.EOF) {
		return nil, domain.ErrNoHeader
	}
	if err != nil {
		return nil, err
	}
	blank := true
	for i, h := range rec {
		rec[i] = strings.TrimSpace(h)
		if rec[i] != "" {
			blank = false
		}
	}
	if blank {
		return nil, domain.ErrNoHeader
	}
	return rec, nil
}

// Next returns the next record and its sequence number, counting the header
// as 1. Physically empty lines are skipped; a record of empty cells is
// returned like any other. It returns io.EOF when the input is exhausted and a
// *RecordError for a record that could not be parsed.
func (r *Reader) Next() ([]string, int, error) {
	for {
		rec, err := r.csv.Read()
		if errors.Is(err, io.EOF) {
			return nil, 0, io.EOF
		}
		r.line++
		if err != nil {
			var pe *csv.ParseError
			if errors.As(err, &pe) {
				return nil, r.line + 1, &RecordError{Line: r.line + 1, Err: err}
			}
			return nil, 0, err
		}
		if emptyLine(rec) {
			r.line--
			continue
		}
		return rec, r.line + 1, nil
	}
}

// emptyLine reports a line holding no delimiter and only whitespace.
func emptyLine(rec []string) bool {
	return len(rec) == 1 && strings.TrimSpace(rec[0]) == ""
}
