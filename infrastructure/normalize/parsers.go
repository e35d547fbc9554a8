package normalize

import (
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/ahrav/go-anthro/internal/domain"
)

// ParseOutcome is the result of one parser strategy attempt.
type ParseOutcome[T any] struct {
	// Value is meaningful only when Err is nil.
	Value T
	// Strategy names the strategy that produced the outcome.
	Strategy string
	// Err is non-nil when the strategy did not apply.
	Err error
}

// OK reports whether the attempt succeeded.
func (o ParseOutcome[T]) OK() bool { return o.Err == nil }

// DateStrategy parses dates with a single time layout.
type DateStrategy struct {
	Name   string
	Layout string
}

// Attempt parses raw with the strategy's layout.
func (s DateStrategy) Attempt(raw string) ParseOutcome[time.Time] {
	t, err := time.Parse(s.Layout, raw)
	return ParseOutcome[time.Time]{Value: t, Strategy: s.Name, Err: err}
}

// DefaultDateStrategies are tried in order: ISO first, then the day-first
// layouts used by Brazilian spreadsheets. Day and month accept one or two
// digits.
var DefaultDateStrategies = []DateStrategy{
	{Name: "iso", Layout: "2006-1-2"},
	{Name: "dd/mm/yyyy", Layout: "2/1/2006"},
	{Name: "dd-mm-yyyy", Layout: "2-1-2006"},
}

// ParseDate returns the first successful strategy's date.
func ParseDate(raw string, strategies []DateStrategy) (time.Time, error) {
	raw = trimCell(raw)
	for _, s := range strategies {
		if o := s.Attempt(raw); o.OK() {
			return o.Value, nil
		}
	}
	return time.Time{}, domain.ErrInvalidDate
}

// ParseNumber parses a decimal written with either comma or dot as the
// decimal point. When separators of both kinds appear, the last separator
// is the decimal point and every earlier one is a thousands separator.
// A single kind of separator repeated more than once is a thousands
// separator; appearing once it is the decimal point.
func ParseNumber(raw string) (float64, error) {
	o := parseLocalized(raw)
	if !o.OK() {
		return 0, o.Err
	}
	return o.Value, nil
}

func parseLocalized(raw string) ParseOutcome[float64] {
	const strategy = "localized"
	s := strings.NewReplacer(" ", "", "\u00a0", "", "\t", "").Replace(trimCell(raw))
	if s == "" || !numericCharset(s) {
		return ParseOutcome[float64]{Strategy: strategy, Err: domain.ErrInvalidNumber}
	}

	commas, dots := strings.Count(s, ","), strings.Count(s, ".")
	switch {
	case commas > 0 && dots > 0:
		last := strings.LastIndexAny(s, ",.")
		head := strings.NewReplacer(",", "", ".", "").Replace(s[:last])
		s = head + "." + s[last+1:]
	case commas == 1:
		s = strings.Replace(s, ",", ".", 1)
	case commas > 1:
		s = strings.ReplaceAll(s, ",", "")
	case dots > 1:
		s = strings.ReplaceAll(s, ".", "")
	}

	v, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return ParseOutcome[float64]{Strategy: strategy, Err: domain.ErrInvalidNumber}
	}
	return ParseOutcome[float64]{Value: v, Strategy: strategy}
}

// numericCharset rejects tokens strconv would accept but spreadsheets never
// mean as measurements, such as "NaN", "Inf" and hex floats.
func numericCharset(s string) bool {
	digits := false
	for i, r := range s {
		switch {
		case r >= '0' && r <= '9':
			digits = true
		case r == ',' || r == '.':
		case (r == '-' || r == '+') && i == 0:
		case r == 'e' || r == 'E':
		default:
			return false
		}
	}
	return digits
}

// ParseSex resolves a sex token through the synonym table after folding
// case and stripping accents.
func ParseSex(raw string) (domain.Sex, error) {
	if s, ok := domain.LookupSex(Fold(trimCell(raw))); ok {
		return s, nil
	}
	return domain.SexUnspecified, domain.ErrInvalidSex
}

// trimCell strips surrounding whitespace and one layer of stray quotes.
func trimCell(s string) string {
	s = strings.TrimSpace(s)
	s = strings.Trim(s, `"'`)
	return strings.TrimSpace(s)
}
