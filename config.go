package lumidb

import "github.com/lumidb/lumidb/collection"

// Config configures a DB instance, grounded on the teacher's config.go.
type Config struct {
	// Path is the path to database storage. Use "" to run entirely in
	// memory (BadgerDB's InMemory mode, Bleve's NewMemOnly).
	Path string
	// Debug selects verbose stacktrace.Propagate-style error wrapping
	// instead of the terse errors.Wrap default.
	Debug bool
	// NoTableScan rejects a non-$or query whose best-guess plan is a full
	// collection scan, when the predicate constrains at least one field and
	// the collection is not local.* or *.system.*, the admin gate of
	// spec.md §6. $or queries are not checked.
	NoTableScan bool
	// Migrate is carried on the config but not read by Open; no
	// migrations are run.
	Migrate bool
	// LogLevel is the zap level name ("debug", "info", "warn", "error").
	LogLevel string `validate:"omitempty,oneof=debug info warn error"`
	// Collections declares the collections this DB manages and their
	// indexes, including any plugin (text) indexes.
	Collections []*collection.Collection
}
