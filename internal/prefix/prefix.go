// Package prefix builds the byte-ordered key prefixes that back every index
// lookup: a prefix identifies a (collection, index) pair and, optionally, a
// bound field value within it, the same way the source system encodes a
// B-tree key for a keyPattern.
package prefix

import (
	"bytes"

	"github.com/lumidb/lumidb/internal/util"
	"github.com/nqd/flat"
)

// IndexProvider resolves the Index for a collection and field list.
type IndexProvider func(collection string, fields []string) Index

// Index identifies an index usable for key-prefix construction.
type Index interface {
	Collection() string
	Fields() []string
	GetPrefix(fields map[string]any) Ref
}

// Ref is a positioned prefix: Prefix() is the scan boundary, Seek() extends
// it with one more bound component (a document id, typically).
type Ref interface {
	Prefix() []byte
	Seek(id []byte) []byte
}

// IndexRef identifies one index on one collection by name and field list.
type IndexRef struct {
	collection    string
	initialPrefix []string
	fields        []string
}

func (d IndexRef) Collection() string {
	return d.collection
}

func (d IndexRef) Fields() []string {
	return d.fields
}

// NewIndexRef constructs an IndexRef rooted at "index.<collection>".
func NewIndexRef(collection string, fields []string) *IndexRef {
	return &IndexRef{
		collection:    collection,
		initialPrefix: []string{"index", collection},
		fields:        fields,
	}
}

type ref struct {
	path [][]byte
}

func (i ref) Prefix() []byte {
	return bytes.Join(i.path, []byte("\x00"))
}

func (i ref) Seek(id []byte) []byte {
	i.path = append(i.path, id)
	return bytes.Join(i.path, []byte("\x00"))
}

// GetPrefix flattens fields and encodes the configured index fields, in
// order, into a Ref. Missing fields stop the prefix early rather than
// encoding a zero value, since a partial bound is still a valid scan
// boundary.
func (d IndexRef) GetPrefix(fields map[string]any) Ref {
	fields, _ = flat.Flatten(fields, nil)
	var path [][]byte
	for _, i := range d.initialPrefix {
		path = append(path, []byte(i))
	}
	for _, k := range d.fields {
		v, ok := fields[k]
		if !ok {
			break
		}
		path = append(path, []byte(k), util.EncodeIndexValue(v))
	}
	return ref{path: path}
}

// NextKey returns the smallest key strictly greater than every key sharing
// prefix k - the standard trick for turning a prefix bound into an
// exclusive upper bound for a range scan.
func NextKey(k []byte) []byte {
	buf := make([]byte, len(k))
	copy(buf, k)
	var i int
	for i = len(k) - 1; i >= 0; i-- {
		buf[i]++
		if buf[i] != 0 {
			break
		}
	}
	if i == -1 {
		buf = make([]byte, 0)
	}
	return buf
}
