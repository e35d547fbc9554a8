package store

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/sync/singleflight"

	"github.com/ahrav/go-anthro/internal/domain"
	"github.com/ahrav/go-anthro/internal/ports"
)

// CachedLookup memoizes reference lookups of an underlying store.
// Reference data is read-only for the life of the process, so entries never
// expire; misses are cached too. Errors are not cached.
type CachedLookup struct {
	next  ports.ReferenceLookup
	cache sync.Map // pointKey -> cachedPoint
	sf    singleflight.Group
}

type cachedPoint struct {
	point domain.ReferencePoint
	found bool
}

var _ ports.ReferenceLookup = (*CachedLookup)(nil)

// NewCachedLookup wraps next.
func NewCachedLookup(next ports.ReferenceLookup) *CachedLookup {
	return &CachedLookup{next: next}
}

// LookupReference implements ports.ReferenceLookup.
func (c *CachedLookup) LookupReference(ctx context.Context, ind domain.Indicator, sex domain.Sex, ageMonths int) (domain.ReferencePoint, bool, error) {
	k := pointKey{ind, sex, ageMonths}
	if v, ok := c.cache.Load(k); ok {
		cp := v.(cachedPoint)
		return cp.point, cp.found, nil
	}

	v, err, _ := c.sf.Do(fmt.Sprintf("%s|%s|%d", ind, sex, ageMonths), func() (any, error) {
		p, found, err := c.next.LookupReference(ctx, ind, sex, ageMonths)
		if err != nil {
			return nil, err
		}
		cp := cachedPoint{point: p, found: found}
		c.cache.Store(k, cp)
		return cp, nil
	})
	if err != nil {
		return domain.ReferencePoint{}, false, err
	}
	cp := v.(cachedPoint)
	return cp.point, cp.found, nil
}

// Purge drops every cached entry.
func (c *CachedLookup) Purge() {
	c.cache.Range(func(k, _ any) bool {
		c.cache.Delete(k)
		return true
	})
}

// CachedStore pairs a CachedLookup with the resolver of the same store.
type CachedStore struct {
	*CachedLookup
	ports.ClassificationResolver
}

// NewCachedStore caches lookups of s and delegates classification to it.
func NewCachedStore(s ports.ReferenceStore) *CachedStore {
	return &CachedStore{CachedLookup: NewCachedLookup(s), ClassificationResolver: s}
}

var _ ports.ReferenceStore = (*CachedStore)(nil)
