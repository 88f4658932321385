// Package indexing builds the composite key paths that identify an index
// entry: an index name, the bound field values for that entry in index
// field order, and finally the owning document's id.
package indexing

import (
	"bytes"

	"github.com/lumidb/lumidb/internal/util"
	"github.com/nqd/flat"
)

// FieldValue is a single bound field within an index path.
type FieldValue struct {
	Field string `json:"field"`
	Value any    `json:"value"`
}

// SeekPrefix builds the IndexPathPrefix for collection/indexName, binding as
// many of indexFields (in order) as are present in fields.
func SeekPrefix(collection, indexName string, indexFields []string, fields map[string]any) IndexPathPrefix {
	fields, _ = flat.Flatten(fields, nil)
	prefix := IndexPathPrefix{
		prefix: [][]byte{
			[]byte("index"),
			[]byte(collection),
			[]byte(indexName),
		},
	}
	for _, k := range indexFields {
		v, ok := fields[k]
		if !ok {
			break
		}
		prefix = prefix.Append(k, v)
	}
	return prefix
}

// IndexPathPrefix is a partially or fully bound index key, ready to be
// extended with a document id and rendered to bytes.
type IndexPathPrefix struct {
	prefix     [][]byte
	documentID string
	fields     [][]byte
	fieldMap   []FieldValue
}

// Append binds one more field/value pair onto the path.
func (p IndexPathPrefix) Append(field string, value any) IndexPathPrefix {
	fields := append(append([][]byte{}, p.fields...), []byte(field), util.EncodeIndexValue(value))
	fieldMap := append(append([]FieldValue{}, p.fieldMap...), FieldValue{Field: field, Value: value})
	return IndexPathPrefix{
		prefix:     p.prefix,
		documentID: p.documentID,
		fields:     fields,
		fieldMap:   fieldMap,
	}
}

// SetDocumentID attaches the owning document's id as the terminal path
// component.
func (p IndexPathPrefix) SetDocumentID(id string) IndexPathPrefix {
	return IndexPathPrefix{
		prefix:     p.prefix,
		documentID: id,
		fields:     p.fields,
		fieldMap:   p.fieldMap,
	}
}

// Path renders the full byte key: prefix, then bound fields, then the
// document id if one was set.
func (p IndexPathPrefix) Path() []byte {
	path := append(append([][]byte{}, p.prefix...), p.fields...)
	if p.documentID != "" {
		path = append(path, []byte(p.documentID))
	}
	return bytes.Join(path, []byte("\x00"))
}

func (p IndexPathPrefix) DocumentID() string {
	return p.documentID
}

func (p IndexPathPrefix) Fields() []FieldValue {
	return p.fieldMap
}
