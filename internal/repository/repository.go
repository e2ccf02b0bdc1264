// Package repository holds the content items served for every deployed
// unit, keyed by URI.
package repository

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/RoaringBitmap/roaring"

	"github.com/agentic-research/launchpad/internal/content"
)

var (
	ErrNotFound    = errors.New("content not found")
	ErrKeyConflict = errors.New("content key owned by another unit")
)

type entry struct {
	unit string
	item content.Item
}

// Repository maps URIs to content items. Each key is owned by the unit that
// registered it; a per-unit roaring bitmap over internal key IDs makes
// undeploying a unit O(k) in its own keys.
type Repository struct {
	mu      sync.RWMutex
	entries map[string]entry

	unitKeys  map[string]*roaring.Bitmap // unit → bitmap of internal key IDs
	keyIntID  map[string]uint32          // key → internal ID
	intToKey  []string                   // reverse: internal ID → key
	nextIntID uint32
}

func New() *Repository {
	return &Repository{
		entries:  make(map[string]entry),
		unitKeys: make(map[string]*roaring.Bitmap),
		keyIntID: make(map[string]uint32),
	}
}

// Register stores item under key for unit. Re-registering a key the unit
// already owns replaces the item.
func (r *Repository) Register(unit, key string, item content.Item) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if e, ok := r.entries[key]; ok && e.unit != unit {
		return fmt.Errorf("%w: %q belongs to %q", ErrKeyConflict, key, e.unit)
	}
	r.entries[key] = entry{unit: unit, item: item}
	r.indexKey(unit, key)
	return nil
}

// indexKey must be called with r.mu held.
func (r *Repository) indexKey(unit, key string) {
	id, ok := r.keyIntID[key]
	if !ok {
		id = r.nextIntID
		r.nextIntID++
		r.keyIntID[key] = id
		for uint32(len(r.intToKey)) <= id {
			r.intToKey = append(r.intToKey, "")
		}
		r.intToKey[id] = key
	}
	bm, exists := r.unitKeys[unit]
	if !exists {
		bm = roaring.New()
		r.unitKeys[unit] = bm
	}
	bm.Add(id)
}

// Lookup returns the item registered under key.
func (r *Repository) Lookup(key string) (content.Item, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[key]
	if !ok {
		return nil, ErrNotFound
	}
	return e.item, nil
}

// Owner returns the unit that registered key.
func (r *Repository) Owner(key string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[key]
	return e.unit, ok
}

// Unregister removes every key owned by unit and returns how many were removed.
func (r *Repository) Unregister(unit string) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	bm, ok := r.unitKeys[unit]
	if !ok {
		return 0
	}
	removed := 0
	it := bm.Iterator()
	for it.HasNext() {
		id := it.Next()
		if int(id) >= len(r.intToKey) {
			continue
		}
		key := r.intToKey[id]
		if cur, ok := r.keyIntID[key]; !ok || cur != id {
			continue
		}
		if e, ok := r.entries[key]; ok && e.unit == unit {
			delete(r.entries, key)
			removed++
		}
		delete(r.keyIntID, key)
		r.intToKey[id] = ""
	}
	delete(r.unitKeys, unit)
	return removed
}

// Keys returns every registered key, sorted.
func (r *Repository) Keys() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	keys := make([]string, 0, len(r.entries))
	for k := range r.entries {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// UnitKeys returns the keys owned by unit, sorted.
func (r *Repository) UnitKeys(unit string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	bm, ok := r.unitKeys[unit]
	if !ok {
		return nil
	}
	keys := make([]string, 0, bm.GetCardinality())
	it := bm.Iterator()
	for it.HasNext() {
		id := it.Next()
		if int(id) < len(r.intToKey) {
			key := r.intToKey[id]
			if e, ok := r.entries[key]; ok && e.unit == unit {
				keys = append(keys, key)
			}
		}
	}
	sort.Strings(keys)
	return keys
}

// Units returns the names of units owning at least one key, sorted.
func (r *Repository) Units() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	units := make([]string, 0, len(r.unitKeys))
	for u := range r.unitKeys {
		units = append(units, u)
	}
	sort.Strings(units)
	return units
}

// Len returns the number of registered keys.
func (r *Repository) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}
