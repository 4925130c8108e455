package core

import "sync"

// ContextVars is the versioned store of conversational context variables.
// Keys are unique and iteration order follows first insertion, so snapshots
// and serialized views are deterministic.
//
// Contract:
//   - Mutation happens only through Apply, and only the orchestrator calls
//     Apply (tools and providers stage deltas in Results instead).
//   - Every Apply increments the version exactly once.
//   - Snapshot returns a copy; concurrent readers never observe a
//     half-applied delta.
type ContextVars struct {
	mu      sync.RWMutex
	version uint64
	keys    []string
	values  map[string]any
}

// NewContextVars creates a store seeded with the given values (may be nil).
// Seeding does not count as a versioned mutation.
func NewContextVars(seed map[string]any) *ContextVars {
	c := &ContextVars{values: make(map[string]any, len(seed))}
	for k, v := range seed {
		c.set(k, v)
	}
	return c
}

// set inserts or replaces a key, tracking first-insertion order.
func (c *ContextVars) set(k string, v any) {
	if _, ok := c.values[k]; !ok {
		c.keys = append(c.keys, k)
	}
	c.values[k] = v
}

// Get returns the value and existence flag for a key.
func (c *ContextVars) Get(k string) (any, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	v, ok := c.values[k]
	return v, ok
}

// Version returns the current mutation counter.
func (c *ContextVars) Version() uint64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.version
}

// Len returns the number of stored keys.
func (c *ContextVars) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.keys)
}

// Keys returns the keys in first-insertion order.
func (c *ContextVars) Keys() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]string, len(c.keys))
	copy(out, c.keys)
	return out
}

// Snapshot returns a defensive copy of the current values. The copy is
// detached: later Apply calls do not leak into it.
func (c *ContextVars) Snapshot() map[string]any {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(map[string]any, len(c.values))
	for k, v := range c.values {
		out[k] = v
	}
	return out
}

// Apply merges a delta into the store and bumps the version. A nil or empty
// delta is a no-op and does not bump the version. Returns the version after
// application.
func (c *ContextVars) Apply(delta map[string]any) uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(delta) == 0 {
		return c.version
	}
	for k, v := range delta {
		c.set(k, v)
	}
	c.version++
	return c.version
}
