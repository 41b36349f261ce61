// Package cache implements the per-connection mirror of slot state that
// client frontends hold. The cache is never a source of truth: live events
// and snapshots always overwrite it, and it is never merged back into the
// store. All mutation goes through ApplyEvent and ApplySnapshot; callers
// read through Read and Slot.
package cache

import (
	"sync"

	"github.com/campuspark/coordinator/internal/model"
)

// Cache holds the last known slot and session set for one connection.
type Cache struct {
	mu       sync.RWMutex
	slots    map[string]model.Slot
	sessions map[string]model.Session
}

// New returns an empty Cache. It is not usable for reads until the first
// ApplySnapshot.
func New() *Cache {
	return &Cache{
		slots:    make(map[string]model.Slot),
		sessions: make(map[string]model.Session),
	}
}

// ApplyEvent applies one change feed event. Events are idempotent and safe
// to apply in any order: an event older than the locally held version of
// the slot is discarded. The session record rides on the same version gate,
// since events for one slot are ordered by its version. Returns whether the
// cache changed.
func (c *Cache) ApplyEvent(ev model.ChangeEvent) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	held, ok := c.slots[ev.Slot.ID]
	if ok && ev.Slot.Version <= held.Version {
		return false
	}
	c.slots[ev.Slot.ID] = ev.Slot
	if ev.Session.ID != "" {
		c.sessions[ev.Session.ID] = ev.Session
	}
	return true
}

// ApplySnapshot discards all incremental state and replaces it with the
// snapshot. Called on connect and after any detected gap; slot state is
// small, so a full refetch is cheaper than event replay. Session mirrors
// are incremental-only, so they are dropped along with the rest of the
// stale state.
func (c *Cache) ApplySnapshot(slots []model.Slot) {
	next := make(map[string]model.Slot, len(slots))
	for _, s := range slots {
		next[s.ID] = s
	}
	c.mu.Lock()
	c.slots = next
	c.sessions = make(map[string]model.Session)
	c.mu.Unlock()
}

// Read returns a copy of every cached slot.
func (c *Cache) Read() []model.Slot {
	c.mu.RLock()
	defer c.mu.RUnlock()
	slots := make([]model.Slot, 0, len(c.slots))
	for _, s := range c.slots {
		slots = append(slots, s)
	}
	return slots
}

// Slot returns one cached slot by id.
func (c *Cache) Slot(id string) (model.Slot, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	s, ok := c.slots[id]
	return s, ok
}

// Session returns one cached session by id.
func (c *Cache) Session(id string) (model.Session, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	s, ok := c.sessions[id]
	return s, ok
}
