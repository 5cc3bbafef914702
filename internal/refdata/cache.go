// Package refdata caches the read-mostly reference tables (timeline types and
// time units) in memory so request handling does not hit the database for
// lookups that change only on migration.
package refdata

import (
	"context"
	"fmt"
	"sync"
	"time"

	"waypoint/api/internal/store"
)

type referenceStore interface {
	ListTimelineTypes(ctx context.Context) ([]store.TimelineType, error)
	ListTimeUnits(ctx context.Context) ([]store.TimeUnit, error)
}

type Cache struct {
	store referenceStore
	ttl   time.Duration
	now   func() time.Time

	mu        sync.RWMutex
	loadedAt  time.Time
	typesByID map[string]store.TimelineType
	typesBy   map[string]store.TimelineType
	unitsByID map[string]store.TimeUnit
	unitsBy   map[string]store.TimeUnit
	types     []store.TimelineType
	units     []store.TimeUnit
}

func NewCache(s referenceStore, ttl time.Duration) *Cache {
	return &Cache{store: s, ttl: ttl, now: time.Now}
}

func (c *Cache) refresh(ctx context.Context) error {
	types, err := c.store.ListTimelineTypes(ctx)
	if err != nil {
		return fmt.Errorf("load timeline types: %w", err)
	}
	units, err := c.store.ListTimeUnits(ctx)
	if err != nil {
		return fmt.Errorf("load time units: %w", err)
	}

	typesByID := make(map[string]store.TimelineType, len(types))
	typesBy := make(map[string]store.TimelineType, len(types))
	for _, t := range types {
		typesByID[t.ID] = t
		typesBy[t.Code] = t
	}
	unitsByID := make(map[string]store.TimeUnit, len(units))
	unitsBy := make(map[string]store.TimeUnit, len(units))
	for _, u := range units {
		unitsByID[u.ID] = u
		unitsBy[u.Code] = u
	}

	c.mu.Lock()
	c.loadedAt = c.now()
	c.types = types
	c.units = units
	c.typesByID = typesByID
	c.typesBy = typesBy
	c.unitsByID = unitsByID
	c.unitsBy = unitsBy
	c.mu.Unlock()
	return nil
}

func (c *Cache) ensure(ctx context.Context) error {
	c.mu.RLock()
	fresh := !c.loadedAt.IsZero() && c.now().Sub(c.loadedAt) < c.ttl
	c.mu.RUnlock()
	if fresh {
		return nil
	}
	return c.refresh(ctx)
}

// Invalidate drops the cached tables so the next lookup reloads them.
func (c *Cache) Invalidate() {
	c.mu.Lock()
	c.loadedAt = time.Time{}
	c.mu.Unlock()
}

func (c *Cache) TimelineTypes(ctx context.Context) ([]store.TimelineType, error) {
	if err := c.ensure(ctx); err != nil {
		return nil, err
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]store.TimelineType, len(c.types))
	copy(out, c.types)
	return out, nil
}

func (c *Cache) TimeUnits(ctx context.Context) ([]store.TimeUnit, error) {
	if err := c.ensure(ctx); err != nil {
		return nil, err
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]store.TimeUnit, len(c.units))
	copy(out, c.units)
	return out, nil
}

func (c *Cache) TimelineTypeByID(ctx context.Context, id string) (store.TimelineType, bool, error) {
	if err := c.ensure(ctx); err != nil {
		return store.TimelineType{}, false, err
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	t, ok := c.typesByID[id]
	return t, ok, nil
}

func (c *Cache) TimelineTypeByCode(ctx context.Context, code string) (store.TimelineType, bool, error) {
	if err := c.ensure(ctx); err != nil {
		return store.TimelineType{}, false, err
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	t, ok := c.typesBy[code]
	return t, ok, nil
}

func (c *Cache) TimeUnitByID(ctx context.Context, id string) (store.TimeUnit, bool, error) {
	if err := c.ensure(ctx); err != nil {
		return store.TimeUnit{}, false, err
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	u, ok := c.unitsByID[id]
	return u, ok, nil
}

func (c *Cache) TimeUnitByCode(ctx context.Context, code string) (store.TimeUnit, bool, error) {
	if err := c.ensure(ctx); err != nil {
		return store.TimeUnit{}, false, err
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	u, ok := c.unitsBy[code]
	return u, ok, nil
}
