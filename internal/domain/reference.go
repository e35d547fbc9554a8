package domain

import (
	"fmt"
	"math"
	"sort"
)

// ZLevels are the Z-scores of the seven reference columns, in order.
var ZLevels = [7]float64{-3, -2, -1, 0, 1, 2, 3}

// ReferencePoint holds the reference distribution for one
// (indicator, sex, age-in-months) key. Values[i] is the measurement at
// ZLevels[i]; a nil entry means the source table has no value there.
// Reference points are read-only once loaded.
type ReferencePoint struct {
	Indicator Indicator   `json:"indicator"`
	Sex       Sex         `json:"sex"`
	AgeMonths int         `json:"age_months"`
	Values    [7]*float64 `json:"values"`
}

// Available returns the non-nil (Z, value) pairs in ascending Z order.
func (p ReferencePoint) Available() (zs, values []float64) {
	for i, v := range p.Values {
		if v == nil {
			continue
		}
		zs = append(zs, ZLevels[i])
		values = append(values, *v)
	}
	return zs, values
}

// ClassificationRule maps a Z-score interval to a nutritional status label
// for an indicator within an age range. The Z interval is closed below and
// open above; infinite bounds mean unbounded.
type ClassificationRule struct {
	Indicator    Indicator `json:"indicator"`
	AgeMinMonths int       `json:"age_min_months"`
	AgeMaxMonths int       `json:"age_max_months"`
	// Sex restricts the rule; SexUnspecified applies to both sexes.
	Sex   Sex     `json:"sex,omitempty"`
	ZMin  float64 `json:"z_min"`
	ZMax  float64 `json:"z_max"`
	Label string  `json:"label"`
}

// Matches reports whether the rule covers the given subject and Z-score.
func (r ClassificationRule) Matches(ind Indicator, ageMonths int, sex Sex, z float64) bool {
	if r.Indicator != ind {
		return false
	}
	if ageMonths < r.AgeMinMonths || ageMonths > r.AgeMaxMonths {
		return false
	}
	if r.Sex != SexUnspecified && r.Sex != sex {
		return false
	}
	return z >= r.ZMin && z < r.ZMax
}

// String renders the rule for diagnostics.
func (r ClassificationRule) String() string {
	sex := string(r.Sex)
	if sex == "" {
		sex = "*"
	}
	return fmt.Sprintf("%s age=[%d,%d] sex=%s z=[%g,%g) %q",
		r.Indicator, r.AgeMinMonths, r.AgeMaxMonths, sex, r.ZMin, r.ZMax, r.Label)
}

// SelectRule returns the rule that classifies z for the subject. When more
// than one rule matches, which is a data defect, the narrowest Z interval
// wins, then the narrowest age range, then a sex-specific rule over a unisex
// one, then the earliest rule in the slice.
func SelectRule(rules []ClassificationRule, ind Indicator, ageMonths int, sex Sex, z float64) (ClassificationRule, bool) {
	best := -1
	for i, r := range rules {
		if !r.Matches(ind, ageMonths, sex, z) {
			continue
		}
		if best < 0 || narrower(r, rules[best]) {
			best = i
		}
	}
	if best < 0 {
		return ClassificationRule{}, false
	}
	return rules[best], true
}

// narrower reports whether a should win a tie against b.
func narrower(a, b ClassificationRule) bool {
	if wa, wb := a.ZMax-a.ZMin, b.ZMax-b.ZMin; wa != wb {
		return wa < wb
	}
	if wa, wb := a.AgeMaxMonths-a.AgeMinMonths, b.AgeMaxMonths-b.AgeMinMonths; wa != wb {
		return wa < wb
	}
	return a.Sex != SexUnspecified && b.Sex == SexUnspecified
}

// FindRuleOverlaps returns one message per pair of rules that could both
// match the same subject and Z-score.
func FindRuleOverlaps(rules []ClassificationRule) []string {
	idx := make([]int, len(rules))
	for i := range idx {
		idx[i] = i
	}
	sort.SliceStable(idx, func(a, b int) bool {
		return rules[idx[a]].Indicator < rules[idx[b]].Indicator
	})

	var out []string
	for a := 0; a < len(idx); a++ {
		ra := rules[idx[a]]
		for b := a + 1; b < len(idx) && rules[idx[b]].Indicator == ra.Indicator; b++ {
			rb := rules[idx[b]]
			if ra.AgeMaxMonths < rb.AgeMinMonths || rb.AgeMaxMonths < ra.AgeMinMonths {
				continue
			}
			if ra.Sex != SexUnspecified && rb.Sex != SexUnspecified && ra.Sex != rb.Sex {
				continue
			}
			if math.Max(ra.ZMin, rb.ZMin) >= math.Min(ra.ZMax, rb.ZMax) {
				continue
			}
			out = append(out, fmt.Sprintf("rule %d (%s) overlaps rule %d (%s)", idx[a], ra, idx[b], rb))
		}
	}
	return out
}
