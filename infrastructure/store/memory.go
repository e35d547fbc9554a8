// Package store provides ReferenceStore implementations: an in-memory store
// built from a compiled reference pack, a SQL store backed by SQLite or
// PostgreSQL, and a caching decorator for lookups.
package store

import (
	"context"
	"fmt"

	"github.com/ahrav/go-anthro/internal/domain"
	"github.com/ahrav/go-anthro/internal/ports"
)

type pointKey struct {
	indicator domain.Indicator
	sex       domain.Sex
	age       int
}

// MemoryStore serves reference points and classification rules from
// memory. It is immutable after construction and safe for concurrent use.
type MemoryStore struct {
	points map[pointKey]domain.ReferencePoint
	rules  map[domain.Indicator][]domain.ClassificationRule
}

var _ ports.ReferenceStore = (*MemoryStore)(nil)

// NewMemoryStore indexes points and rules. It fails on duplicate point keys
// and on overlapping rules.
func NewMemoryStore(points []domain.ReferencePoint, rules []domain.ClassificationRule) (*MemoryStore, error) {
	s := &MemoryStore{
		points: make(map[pointKey]domain.ReferencePoint, len(points)),
		rules:  make(map[domain.Indicator][]domain.ClassificationRule),
	}
	for _, p := range points {
		k := pointKey{p.Indicator, p.Sex, p.AgeMonths}
		if _, dup := s.points[k]; dup {
			return nil, fmt.Errorf("%w: duplicate reference point %s/%s/%d",
				ports.ErrCorruptReference, p.Indicator, p.Sex, p.AgeMonths)
		}
		s.points[k] = p
	}
	if overlaps := domain.FindRuleOverlaps(rules); len(overlaps) > 0 {
		return nil, fmt.Errorf("%w: %s", ports.ErrCorruptReference, overlaps[0])
	}
	for _, r := range rules {
		s.rules[r.Indicator] = append(s.rules[r.Indicator], r)
	}
	return s, nil
}

// LookupReference implements ports.ReferenceLookup.
func (s *MemoryStore) LookupReference(_ context.Context, ind domain.Indicator, sex domain.Sex, ageMonths int) (domain.ReferencePoint, bool, error) {
	p, ok := s.points[pointKey{ind, sex, ageMonths}]
	return p, ok, nil
}

// Resolve implements ports.ClassificationResolver.
func (s *MemoryStore) Resolve(_ context.Context, ind domain.Indicator, ageMonths int, sex domain.Sex, z float64) (string, bool, error) {
	r, ok := domain.SelectRule(s.rules[ind], ind, ageMonths, sex, z)
	if !ok {
		return "", false, nil
	}
	return r.Label, true, nil
}

// Len reports the number of reference points and rules held.
func (s *MemoryStore) Len() (points, rules int) {
	for _, rs := range s.rules {
		rules += len(rs)
	}
	return len(s.points), rules
}
