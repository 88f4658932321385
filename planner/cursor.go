package planner

import (
	"bytes"

	"github.com/lumidb/lumidb/collection"
	"github.com/lumidb/lumidb/internal/indexing"
	"github.com/lumidb/lumidb/internal/prefix"
	"github.com/lumidb/lumidb/internal/util"
	"github.com/lumidb/lumidb/kv"
	"github.com/lumidb/lumidb/rangeset"
)

// Cursor is the collaborator contract of spec.md §6: a stream of document
// locations (here, document ids) advanced one step at a time, tolerant of
// yielding across storage-engine suspension points.
type Cursor interface {
	Ok() bool
	Advance() bool
	CurrLoc() string
	NScanned() int
	SupportYields() bool
	PrepareToYield()
	RecoverFromYield()
	PrettyIndexBounds() string
	String() string
}

// docKeyPrefix returns the storage key prefix under which a collection's
// documents are stored, keyed by their primary-key value.
func docKeyPrefix(coll string) []byte {
	return []byte("doc\x00" + coll + "\x00")
}

func docKey(coll, id string) []byte {
	return append(docKeyPrefix(coll), []byte(id)...)
}

// emptyCursor answers spec.md §4.1's "impossible → return an empty
// cursor" rule.
type emptyCursor struct{}

func newEmptyCursor() *emptyCursor              { return &emptyCursor{} }
func (c *emptyCursor) Ok() bool                 { return false }
func (c *emptyCursor) Advance() bool            { return false }
func (c *emptyCursor) CurrLoc() string          { return "" }
func (c *emptyCursor) NScanned() int            { return 0 }
func (c *emptyCursor) SupportYields() bool      { return true }
func (c *emptyCursor) PrepareToYield()          {}
func (c *emptyCursor) RecoverFromYield()        {}
func (c *emptyCursor) PrettyIndexBounds() string { return "impossible" }
func (c *emptyCursor) String() string           { return "EmptyCursor" }

// naturalCursor scans a collection's documents in storage-key (insertion)
// order - the "$natural" order of spec.md §4.1/§6.
type naturalCursor struct {
	db       kv.DB
	coll     string
	reverse  bool
	iter     kv.Iterator
	tx       kv.Tx
	nscanned int
	curr     string
	ok       bool
	started  bool
}

func newNaturalCursor(db kv.DB, coll string, reverse bool) *naturalCursor {
	return &naturalCursor{db: db, coll: coll, reverse: reverse}
}

func (c *naturalCursor) open() {
	prefixBytes := docKeyPrefix(c.coll)
	_ = c.db.Tx(false, func(tx kv.Tx) error {
		c.tx = tx
		c.iter = tx.NewIterator(kv.IterOpts{Prefix: prefixBytes, Reverse: c.reverse})
		return nil
	})
}

func (c *naturalCursor) Ok() bool { return c.ok }

func (c *naturalCursor) Advance() bool {
	if !c.started {
		c.started = true
		c.open()
	}
	if c.iter == nil || !c.iter.Valid() {
		c.ok = false
		return false
	}
	key := c.iter.Item().Key()
	c.curr = string(bytes.TrimPrefix(key, docKeyPrefix(c.coll)))
	c.nscanned++
	c.iter.Next()
	c.ok = true
	return true
}

func (c *naturalCursor) CurrLoc() string     { return c.curr }
func (c *naturalCursor) NScanned() int       { return c.nscanned }
func (c *naturalCursor) SupportYields() bool { return true }

func (c *naturalCursor) PrepareToYield() {
	if c.iter != nil {
		c.iter.Close()
		c.iter = nil
	}
}

func (c *naturalCursor) RecoverFromYield() {
	last := c.curr
	c.open()
	if last != "" {
		c.iter.Seek(docKey(c.coll, last))
		if c.iter.Valid() && string(bytes.TrimPrefix(c.iter.Item().Key(), docKeyPrefix(c.coll))) == last {
			c.iter.Next()
		}
	}
}

func (c *naturalCursor) PrettyIndexBounds() string { return "$natural" }
func (c *naturalCursor) String() string            { return "NaturalCursor(" + c.coll + ")" }

// btreeCursor scans an index's key range. Bound fields are encoded with
// internal/util.EncodeIndexValue, which is byte-order-preserving per
// value type, so start/end comparisons reduce to plain byte comparison -
// a simplification in place of the source system's full B-tree bucket
// walk.
type btreeCursor struct {
	db       kv.DB
	coll     string
	idx      collection.IndexSpec
	startKey []byte
	endKey   []byte
	reverse  bool

	iter     kv.Iterator
	nscanned int
	curr     string
	ok       bool
	started  bool
}

func newBTreeCursor(db kv.DB, coll string, idx collection.IndexSpec, startKey, endKey []byte, reverse bool) *btreeCursor {
	return &btreeCursor{db: db, coll: coll, idx: idx, startKey: startKey, endKey: endKey, reverse: reverse}
}

// buildBounds derives [startKey, endKey] for idx from the given field
// ranges, in index-field order.
func buildBounds(coll string, idx collection.IndexSpec, ranges []rangeset.FieldRange) (startKey, endKey []byte) {
	base := indexing.SeekPrefix(coll, idx.Name, idx.FieldNames(), map[string]any{})
	for _, r := range ranges {
		if r.Equality() {
			base = base.Append(r.Field, r.EqualityValue())
			continue
		}
		// first non-equality field: this is the range field, everything
		// after it is left unbound.
		low := base
		high := base
		if v := r.Min(); v != nil {
			low = low.Append(r.Field, v)
		}
		if v := r.Max(); v != nil {
			high = high.Append(r.Field, v)
			return low.Path(), prefix.NextKey(high.Path())
		}
		return low.Path(), prefix.NextKey(high.Path())
	}
	// every field bound by equality: exact-key scan.
	p := base.Path()
	return p, prefix.NextKey(p)
}

func (c *btreeCursor) open() {
	_ = c.db.Tx(false, func(tx kv.Tx) error {
		c.iter = tx.NewIterator(kv.IterOpts{Seek: c.seekStart(), Reverse: c.reverse})
		return nil
	})
}

func (c *btreeCursor) seekStart() []byte {
	if c.reverse {
		return prefix.NextKey(c.endKey)
	}
	return c.startKey
}

func (c *btreeCursor) inBounds(key []byte) bool {
	if c.reverse {
		return bytes.Compare(key, c.startKey) >= 0 && bytes.Compare(key, c.endKey) < 0
	}
	return bytes.Compare(key, c.startKey) >= 0 && bytes.Compare(key, c.endKey) < 0
}

func (c *btreeCursor) Ok() bool { return c.ok }

func (c *btreeCursor) Advance() bool {
	if !c.started {
		c.started = true
		c.open()
	}
	for c.iter != nil && c.iter.Valid() {
		key := c.iter.Item().Key()
		if !c.inBounds(key) {
			c.ok = false
			return false
		}
		id := lastPathComponent(key)
		c.nscanned++
		c.iter.Next()
		if id == "" {
			continue
		}
		c.curr = id
		c.ok = true
		return true
	}
	c.ok = false
	return false
}

func lastPathComponent(key []byte) string {
	parts := bytes.Split(key, []byte("\x00"))
	if len(parts) == 0 {
		return ""
	}
	return string(parts[len(parts)-1])
}

func (c *btreeCursor) CurrLoc() string     { return c.curr }
func (c *btreeCursor) NScanned() int       { return c.nscanned }
func (c *btreeCursor) SupportYields() bool { return true }

func (c *btreeCursor) PrepareToYield() {
	if c.iter != nil {
		c.iter.Close()
		c.iter = nil
	}
}

func (c *btreeCursor) RecoverFromYield() {
	last := c.curr
	c.open()
	if last != "" {
		seek := docKeyForIndexResume(c.startKey, last)
		c.iter.Seek(seek)
	}
}

// docKeyForIndexResume is a best-effort resume point: since index keys end
// in the document id, re-seeking to the last consumed key's prefix and
// advancing past it is enough to tolerate the collection shrinking between
// yields, per spec.md §5's cursor contract.
func docKeyForIndexResume(startKey []byte, lastID string) []byte {
	return append(append([]byte{}, startKey...), []byte(lastID)...)
}

func (c *btreeCursor) PrettyIndexBounds() string {
	return util.JSONString(map[string]any{"start": string(c.startKey), "end": string(c.endKey)})
}

func (c *btreeCursor) String() string { return "BTreeCursor(" + c.idx.Name + ")" }
