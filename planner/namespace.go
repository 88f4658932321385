package planner

import (
	"github.com/lumidb/lumidb/collection"
	"github.com/lumidb/lumidb/kv"
	"github.com/lumidb/lumidb/query"
)

// Suitability is a plugin index's self-reported ability to serve a query,
// the IndexSpec.suitability() contract of spec.md §6.
type Suitability int

const (
	// Useless means the plugin cannot help with this query.
	Useless Suitability = iota
	// Helpful means the plugin can narrow the result set.
	Helpful
	// Optimal means the plugin alone can answer the query.
	Optimal
)

// PluginIndex is the capability set spec.md §6 calls IndexSpec/IndexType:
// a non-B-tree access path (geo/text in the source system, full-text
// search here) that claims suitability for certain predicates instead of
// participating in ordinary key-range planning.
type PluginIndex interface {
	Suitability(q query.Query, order []query.OrderBy) Suitability
	ScanAndOrderRequired(q query.Query, order []query.OrderBy) bool
	NewCursor(q query.Query, order []query.OrderBy, numWanted int) Cursor
}

// Namespace bundles the collection metadata, storage engine, plugin
// registry, and plan cache the planner characterizes and runs plans
// against - the Go analogue of the source system's NamespaceDetails.
type Namespace struct {
	Collection  *collection.Collection
	KV          kv.DB
	Plugins     map[string]PluginIndex
	Cache       *PlanCache
	Eval        Evaluator
	NoTableScan bool
}

// Plugin looks up the registered PluginIndex for a plugin-backed index.
func (ns *Namespace) Plugin(indexName string) (PluginIndex, bool) {
	p, ok := ns.Plugins[indexName]
	return p, ok
}
