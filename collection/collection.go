// Package collection holds the metadata the planner characterizes plans
// against: a collection's name, its primary key, and its registered
// indexes - the NamespaceDetails equivalent of spec.md §3/§4.
package collection

import "github.com/lumidb/lumidb/query"

// FieldDir is one field of an index key pattern with its sort direction.
type FieldDir struct {
	Field     string
	Direction query.OrderByDirection
}

// PluginSpec marks an IndexSpec as backed by a plugin (e.g. text) rather
// than an ordinary B-tree, and names the plugin used to compute
// suitability for a given query (spec.md §4.1 step 3, §6 IndexSpec).
type PluginSpec struct {
	Name string
}

// IndexSpec describes one index on a collection.
type IndexSpec struct {
	Name   string
	Fields []FieldDir
	Unique bool
	// Primary marks the collection's primary-key index.
	Primary bool
	// Plugin is non-nil when this index is backed by a plugin (e.g. text)
	// instead of an ordinary B-tree.
	Plugin *PluginSpec
}

// FieldNames returns the index's key pattern field names in order.
func (i IndexSpec) FieldNames() []string {
	names := make([]string, len(i.Fields))
	for idx, f := range i.Fields {
		names[idx] = f.Field
	}
	return names
}

// IsPlugin reports whether the index is plugin-backed.
func (i IndexSpec) IsPlugin() bool {
	return i.Plugin != nil
}

// Collection is a registered document collection: a name, a primary key
// field, and the set of indexes the planner may choose among.
type Collection struct {
	name       string
	primaryKey string
	indexes    map[string]IndexSpec
	schema     []byte
	genIDs     bool
}

// Option configures a Collection at construction time.
type Option func(c *Collection)

// WithIndex registers one or more indexes on the collection.
func WithIndex(indexes ...IndexSpec) Option {
	return func(c *Collection) {
		for _, idx := range indexes {
			c.indexes[idx.Name] = idx
		}
	}
}

// WithSchema attaches a JSON schema (draft-07) document that every insert
// into this collection must validate against.
func WithSchema(schema []byte) Option {
	return func(c *Collection) {
		c.schema = schema
	}
}

// WithGeneratedIDs marks the collection's primary key as auto-generated
// (a ksuid) whenever an inserted document does not supply one.
func WithGeneratedIDs() Option {
	return func(c *Collection) {
		c.genIDs = true
	}
}

// New creates a Collection. primaryKey defaults to "_id" when empty, and a
// primary-key index is synthesized if the caller did not register one.
func New(name, primaryKey string, opts ...Option) *Collection {
	if primaryKey == "" {
		primaryKey = "_id"
	}
	c := &Collection{
		name:       name,
		primaryKey: primaryKey,
		indexes:    map[string]IndexSpec{},
	}
	for _, o := range opts {
		o(c)
	}
	hasPrimary := false
	for _, idx := range c.indexes {
		if idx.Primary {
			hasPrimary = true
		}
	}
	if !hasPrimary {
		c.indexes[primaryKey+"_idx"] = IndexSpec{
			Name:    primaryKey + "_idx",
			Fields:  []FieldDir{{Field: primaryKey, Direction: query.OrderAsc}},
			Unique:  true,
			Primary: true,
		}
	}
	return c
}

// Name returns the collection's name.
func (c *Collection) Name() string {
	return c.name
}

// PrimaryKey returns the collection's primary key field name.
func (c *Collection) PrimaryKey() string {
	return c.primaryKey
}

// Schema returns the collection's JSON schema document, or nil when none
// was registered.
func (c *Collection) Schema() []byte {
	return c.schema
}

// GeneratesIDs reports whether a missing primary key should be
// auto-generated on insert rather than rejected.
func (c *Collection) GeneratesIDs() bool {
	return c.genIDs
}

// Indexes returns every registered index, in no particular order.
func (c *Collection) Indexes() []IndexSpec {
	indexes := make([]IndexSpec, 0, len(c.indexes))
	for _, idx := range c.indexes {
		indexes = append(indexes, idx)
	}
	return indexes
}

// Index looks up a registered index by name.
func (c *Collection) Index(name string) (IndexSpec, bool) {
	idx, ok := c.indexes[name]
	return idx, ok
}

// PrimaryIndex returns the collection's primary-key index.
func (c *Collection) PrimaryIndex() IndexSpec {
	for _, idx := range c.indexes {
		if idx.Primary {
			return idx
		}
	}
	return IndexSpec{}
}

// IndexByFields returns the registered index whose key pattern has exactly
// these field names in order, used by RangeAuditor to validate an
// explicitly-supplied keyPattern (spec.md §4.5 step 3).
func (c *Collection) IndexByFields(fields []string) (IndexSpec, bool) {
outer:
	for _, idx := range c.indexes {
		names := idx.FieldNames()
		if len(names) != len(fields) {
			continue
		}
		for i := range names {
			if names[i] != fields[i] {
				continue outer
			}
		}
		return idx, true
	}
	return IndexSpec{}, false
}
