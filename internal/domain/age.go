package domain

import (
	"fmt"
	"strings"
	"time"
)

const secondsPerDay = 24 * 60 * 60

// CalculateAge decomposes the interval between birth and assessment into
// calendar years, months and days. Months are counted by calendar
// subtraction with month-end clamping, so a child born on January 31 turns
// one month old on the last day of February.
//
// Only the date part of each argument is used. It returns ErrInvalidDateRange
// when assessment precedes birth.
func CalculateAge(birth, assessment time.Time) (AgeBreakdown, error) {
	b := truncateDate(birth)
	a := truncateDate(assessment)
	if a.Before(b) {
		return AgeBreakdown{}, fmt.Errorf("birth=%s assessment=%s: %w",
			b.Format(DateLayout), a.Format(DateLayout), ErrInvalidDateRange)
	}

	total := (a.Year()-b.Year())*12 + int(a.Month()-b.Month())
	anchor := addMonthsClamped(b, total)
	if anchor.After(a) {
		total--
		anchor = addMonthsClamped(b, total)
	}

	age := AgeBreakdown{
		Years:       total / 12,
		Months:      total % 12,
		Days:        daysBetween(anchor, a),
		TotalMonths: total,
		TotalDays:   daysBetween(b, a),
	}
	age.Display = formatAge(age)
	return age, nil
}

// truncateDate drops the clock and location, keeping the calendar date.
func truncateDate(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// daysBetween counts calendar days between two truncated dates. Unix
// seconds are used because time.Duration saturates at about 292 years.
func daysBetween(from, to time.Time) int {
	return int((to.Unix() - from.Unix()) / secondsPerDay)
}

// addMonthsClamped adds n months to t, clamping the day to the last day of
// the target month instead of overflowing into the next one.
func addMonthsClamped(t time.Time, n int) time.Time {
	first := time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC).AddDate(0, n, 0)
	last := first.AddDate(0, 1, -1).Day()
	d := t.Day()
	if d > last {
		d = last
	}
	return time.Date(first.Year(), first.Month(), d, 0, 0, 0, 0, time.UTC)
}

// formatAge renders the largest calendar units in pt-BR, falling back to
// days for infants younger than one month.
func formatAge(age AgeBreakdown) string {
	var parts []string
	switch {
	case age.Years == 1:
		parts = append(parts, "1 ano")
	case age.Years > 1:
		parts = append(parts, fmt.Sprintf("%d anos", age.Years))
	}
	switch {
	case age.Months == 1:
		parts = append(parts, "1 mês")
	case age.Months > 1:
		parts = append(parts, fmt.Sprintf("%d meses", age.Months))
	}
	if len(parts) == 0 {
		if age.Days == 1 {
			return "1 dia"
		}
		return fmt.Sprintf("%d dias", age.Days)
	}
	return strings.Join(parts, " e ")
}
