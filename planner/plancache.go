package planner

import "github.com/lumidb/lumidb/internal/safe"

// cacheEntry is one plan cache record: the winning index's key and the
// nScanned it was observed to require.
type cacheEntry struct {
	indexKey  string
	nScanned  int
	valid     bool
}

// PlanCache is the per-namespace mapping from query-shape key to winning
// index key and observed nScanned (spec.md §3/§4.7). It is exposed as a
// process-lifetime registry rather than a global singleton, so tests can
// construct isolated instances, per spec.md §9's design note.
type PlanCache struct {
	entries *safe.Map[cacheEntry]
}

// NewPlanCache constructs an empty, isolated PlanCache.
func NewPlanCache() *PlanCache {
	return &PlanCache{entries: safe.NewMap[cacheEntry](nil)}
}

// IndexForPattern returns the cached winning index key for pattern, if any
// valid entry exists.
func (c *PlanCache) IndexForPattern(pattern string) (string, bool) {
	e := c.entries.Get(pattern)
	if !e.valid || e.indexKey == "" {
		return "", false
	}
	return e.indexKey, true
}

// NScannedForPattern returns the last observed nScanned for pattern.
func (c *PlanCache) NScannedForPattern(pattern string) int {
	return c.entries.Get(pattern).nScanned
}

// RegisterIndexForPattern records the winning index key and nScanned for
// pattern. Registering an empty indexKey invalidates the entry.
func (c *PlanCache) RegisterIndexForPattern(pattern, indexKey string, nScanned int) {
	if indexKey == "" {
		c.entries.Del(pattern)
		return
	}
	c.entries.Set(pattern, cacheEntry{indexKey: indexKey, nScanned: nScanned, valid: true})
}

// Invalidate clears the entry for pattern. Used by Runner's Retry rule
// (spec.md §4.7 prepareToRetryQuery) when a cached plan fails on init.
func (c *PlanCache) Invalidate(pattern string) {
	c.entries.Del(pattern)
}
