// Package kv defines the storage engine contract the planner's cursors are
// built on: a transactional key-value store with prefix iteration. It plays
// the role of the B-tree/pdfile access layer in the source system - the
// planner never touches bytes directly, only through this interface.
package kv

// DB is a transactional, prefix-iterable key value store.
type DB interface {
	// Tx runs fn inside a transaction. isUpdate selects a read-write
	// transaction; otherwise the transaction is read-only.
	Tx(isUpdate bool, fn func(Tx) error) error
	// Batch returns a write batch for bulk mutation outside of Tx.
	Batch() Batch
	// Close releases all resources held by the store.
	Close() error
}

// IterOpts configures a prefix scan.
type IterOpts struct {
	// Prefix restricts iteration to keys sharing this prefix.
	Prefix []byte
	// Seek is the key iteration begins at. Defaults to Prefix when nil.
	Seek []byte
	// Reverse iterates from the highest matching key to the lowest.
	Reverse bool
}

// Tx is a single storage transaction.
type Tx interface {
	Get(key []byte) ([]byte, error)
	Set(key, value []byte) error
	Delete(key []byte) error
	NewIterator(opts IterOpts) Iterator
}

// Iterator walks a range of keys sharing a common prefix.
type Iterator interface {
	Seek(key []byte)
	Close()
	Valid() bool
	Item() Item
	Next()
}

// Item is a single key/value pair observed by an Iterator.
type Item interface {
	Key() []byte
	Value() ([]byte, error)
}

// Batch is an unordered set of writes flushed together, used for bulk index
// builds where transactional atomicity across the whole batch isn't required.
type Batch interface {
	Flush() error
	Set(key, value []byte) error
	Delete(key []byte) error
}
