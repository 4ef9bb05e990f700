// MIT License
//
// Copyright (c) 2025 Mike Lane
//
// Permission is hereby granted, free of charge, to any person obtaining a copy
// of this software and associated documentation files (the "Software"), to deal
// in the Software without restriction, including without limitation the rights
// to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
// copies of the Software, and to permit persons to whom the Software is
// furnished to do so, subject to the following conditions:
//
// The above copyright notice and this permission notice shall be included in all
// copies or substantial portions of the Software.
//
// THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
// IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
// FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
// AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
// LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
// OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE
// SOFTWARE.

package permissions

import (
	"context"

	"sigs.k8s.io/controller-runtime/pkg/log"

	"github.com/mikelane/nightshift/internal/fault"
	"github.com/mikelane/nightshift/internal/resilience"
)

// LookupSource reports where a permission answer came from, feeding the
// validationSource attribute of audit entries.
type LookupSource string

const (
	LookupCache LookupSource = "cache"
	LookupStore LookupSource = "store"
	LookupStale LookupSource = "stale_cache"
)

// Service composes the durable store, the TTL cache, and the store's
// resilience guard into the read/write surface the admission controller
// uses.
type Service struct {
	store Store
	cache *Cache
	guard *resilience.Guard
}

// NewService creates a permission service. The guard must be the
// durable-store guard, shared with the audit logger.
func NewService(store Store, cache *Cache, guard *resilience.Guard) *Service {
	return &Service{store: store, cache: cache, guard: guard}
}

// Lookup returns the permission for a cost center, reading through the
// cache. A nil permission with a nil error means the cost center is
// unknown (a cached or fresh not-found). When the store is unreachable and
// a stale cached record exists, the stale record is served instead of an
// error.
func (s *Service) Lookup(ctx context.Context, costCenter string) (*Permission, LookupSource, error) {
	if p, ok := s.cache.Get(costCenter); ok {
		return p, LookupCache, nil
	}

	var p *Permission
	err := s.guard.Do(ctx, func(ctx context.Context) error {
		var err error
		p, err = s.store.Get(ctx, costCenter)
		return err
	})
	if err != nil {
		if stale, ok := s.cache.GetStale(costCenter); ok {
			log.FromContext(ctx).Info("permission store unreachable, serving stale cache entry",
				"costCenter", costCenter, "error", err.Error())
			return stale, LookupStale, nil
		}
		return nil, "", fault.Wrap(fault.CodePermissionCheck, err, "looking up cost center %s", costCenter)
	}

	// Cache the result, including not-found.
	s.cache.Put(costCenter, p)
	return p, LookupStore, nil
}

// Update writes a permission record and invalidates any cached copy.
func (s *Service) Update(ctx context.Context, p Permission) error {
	if p.CostCenter == "" {
		return fault.New(fault.CodeValidation, "costCenter is required")
	}

	err := s.guard.Do(ctx, func(ctx context.Context) error {
		return s.store.Put(ctx, p)
	})
	if err != nil {
		return fault.Wrap(fault.CodePermissionCheck, err, "updating cost center %s", p.CostCenter)
	}

	s.cache.Invalidate(p.CostCenter)
	return nil
}

// CacheStats exposes the cache for introspection endpoints.
func (s *Service) CacheStats() Stats {
	return s.cache.Stats()
}
