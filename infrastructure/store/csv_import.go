package store

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/ahrav/go-anthro/internal/domain"
)

// zHeader is the expected header of a reference table CSV.
var zHeader = []string{"-3", "-2", "-1", "0", "1", "2", "3"}

// ImportReport summarizes a reference table import.
type ImportReport struct {
	Imported int
	// Skipped lists the 1-based line numbers of malformed rows.
	Skipped []int
	// HeaderMismatch is set when the header differs from -3..3. The import
	// still proceeds.
	HeaderMismatch bool
}

// ReadReferenceCSV parses a published reference table: a -3..3 header, then
// one row of seven values per month of age starting at startAge. Empty
// cells are missing values and a comma is accepted as decimal point.
// Malformed rows are skipped but still consume a month.
func ReadReferenceCSV(r io.Reader, ind domain.Indicator, sex domain.Sex, startAge int) ([]domain.ReferencePoint, ImportReport, error) {
	var report ImportReport
	if !ind.Valid() || !sex.Valid() {
		return nil, report, fmt.Errorf("%w: indicator %q sex %q", domain.ErrInvalidConfiguration, ind, sex)
	}

	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if errors.Is(err, io.EOF) {
		return nil, report, domain.ErrNoHeader
	}
	if err != nil {
		return nil, report, err
	}
	report.HeaderMismatch = !sameHeader(header)

	var points []domain.ReferencePoint
	age := startAge
	for line := 2; ; line++ {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			var pe *csv.ParseError
			if !errors.As(err, &pe) {
				return nil, report, err
			}
			report.Skipped = append(report.Skipped, line)
			age++
			continue
		}

		p, ok := parseReferenceRow(rec, ind, sex, age)
		age++
		if !ok {
			report.Skipped = append(report.Skipped, line)
			continue
		}
		points = append(points, p)
		report.Imported++
	}
	return points, report, nil
}

func parseReferenceRow(rec []string, ind domain.Indicator, sex domain.Sex, age int) (domain.ReferencePoint, bool) {
	p := domain.ReferencePoint{Indicator: ind, Sex: sex, AgeMonths: age}
	if len(rec) != len(zHeader) {
		return p, false
	}
	for i, cell := range rec {
		cell = strings.ReplaceAll(strings.TrimSpace(cell), ",", ".")
		if cell == "" {
			continue
		}
		v, err := strconv.ParseFloat(cell, 64)
		if err != nil {
			return p, false
		}
		p.Values[i] = &v
	}
	return p, true
}

func sameHeader(h []string) bool {
	if len(h) != len(zHeader) {
		return false
	}
	for i := range h {
		if strings.TrimSpace(strings.TrimPrefix(h[i], "\ufeff")) != zHeader[i] {
			return false
		}
	}
	return true
}
