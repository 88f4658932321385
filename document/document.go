// Package document implements lumidb's JSON document type: a thin wrapper
// around gjson/sjson that supports dot-notation
// field access and Where-clause evaluation, the same way the teacher's
// document.go does for its NOSQL document model.
package document

import (
	"encoding/json"
	"io"
	"strings"

	"github.com/lumidb/lumidb/errors"
	"github.com/lumidb/lumidb/internal/util"
	"github.com/lumidb/lumidb/query"
	"github.com/samber/lo"
	"github.com/spf13/cast"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

const selfRefPrefix = "$."

// Document is a JSON document backed by a parsed gjson result.
type Document struct {
	result gjson.Result
}

// UnmarshalJSON satisfies the json.Unmarshaler interface.
func (d *Document) UnmarshalJSON(bytes []byte) error {
	doc, err := NewFromBytes(bytes)
	if err != nil {
		return err
	}
	*d = *doc
	return nil
}

// MarshalJSON satisfies the json.Marshaler interface.
func (d *Document) MarshalJSON() ([]byte, error) {
	return d.Bytes(), nil
}

// New creates an empty document, "{}".
func New() *Document {
	return &Document{result: gjson.Parse("{}")}
}

// NewFromBytes parses json into a Document, requiring it to be a valid,
// non-array json object.
func NewFromBytes(body []byte) (*Document, error) {
	if !gjson.ValidBytes(body) {
		return nil, errors.Wrap(nil, errors.Validation, "invalid json: %s", string(body))
	}
	d := &Document{result: gjson.ParseBytes(body)}
	if !d.Valid() {
		return nil, errors.Wrap(nil, errors.Validation, "invalid document")
	}
	return d, nil
}

// NewFrom marshals value to json and parses it as a Document.
func NewFrom(value any) (*Document, error) {
	bits, err := json.Marshal(value)
	if err != nil {
		return nil, errors.Wrap(err, errors.Validation, "failed to json encode value: %#v", value)
	}
	return NewFromBytes(bits)
}

// Valid reports whether the document is valid json and not an array.
func (d *Document) Valid() bool {
	return gjson.ValidBytes(d.Bytes()) && !d.result.IsArray()
}

// String returns the document as a compact json string.
func (d *Document) String() string {
	return d.result.Raw
}

// Bytes returns the document as json bytes.
func (d *Document) Bytes() []byte {
	return []byte(d.result.Raw)
}

// Value returns the document decoded into a map.
func (d *Document) Value() map[string]any {
	return cast.ToStringMap(d.result.Value())
}

// Clone allocates a new Document with an identical value.
func (d *Document) Clone() *Document {
	return &Document{result: gjson.Parse(d.result.Raw)}
}

// Get reads a field. Supports gjson dot-notation paths.
func (d *Document) Get(field string) any {
	return d.result.Get(field).Value()
}

// GetString reads a field as a string.
func (d *Document) GetString(field string) string {
	return d.result.Get(field).String()
}

// GetFloat reads a field as a float64.
func (d *Document) GetFloat(field string) float64 {
	return cast.ToFloat64(d.Get(field))
}

// ID returns the document's primary key value under the given field name.
func (d *Document) ID(primaryKey string) string {
	return d.GetString(primaryKey)
}

// Set writes a single field. Dot notation is supported.
func (d *Document) Set(field string, value any) error {
	return d.SetAll(map[string]any{field: value})
}

func (d *Document) set(field string, value any) error {
	var (
		result string
		err    error
	)
	switch value := value.(type) {
	case gjson.Result:
		result, err = sjson.Set(d.result.Raw, field, value.Value())
	case []byte:
		result, err = sjson.SetRaw(d.result.Raw, field, string(value))
	default:
		result, err = sjson.Set(d.result.Raw, field, value)
	}
	if err != nil {
		return err
	}
	if !gjson.Valid(result) {
		return errors.Wrap(nil, errors.Validation, "invalid document")
	}
	d.result = gjson.Parse(result)
	return nil
}

// SetAll writes every field/value pair. Dot notation is supported.
func (d *Document) SetAll(values map[string]any) error {
	for k, v := range values {
		if err := d.set(k, v); err != nil {
			return err
		}
	}
	return nil
}

// Del deletes a field.
func (d *Document) Del(field string) error {
	result, err := sjson.Delete(d.result.Raw, field)
	if err != nil {
		return err
	}
	d.result = gjson.Parse(result)
	return nil
}

// Where evaluates every clause against the document as a flat conjunction,
// returning true iff all clauses match. WhereOpText clauses are skipped
// here - they are claimed and evaluated by a plugin index instead.
func (d *Document) Where(wheres []query.Where) (bool, error) {
	for _, w := range wheres {
		var (
			isSelf    = strings.HasPrefix(cast.ToString(w.Value), selfRefPrefix)
			selfField = strings.TrimPrefix(cast.ToString(w.Value), selfRefPrefix)
		)
		switch w.Op {
		case query.WhereOpEq:
			if isSelf && d.Get(w.Field) != d.Get(selfField) {
				return false, nil
			}
			if !isSelf && w.Value != d.Get(w.Field) {
				return false, nil
			}
		case query.WhereOpNeq:
			if isSelf && d.Get(w.Field) == d.Get(selfField) {
				return false, nil
			}
			if !isSelf && w.Value == d.Get(w.Field) {
				return false, nil
			}
		case query.WhereOpLt:
			if d.GetFloat(w.Field) >= cast.ToFloat64(w.Value) {
				return false, nil
			}
		case query.WhereOpLte:
			if d.GetFloat(w.Field) > cast.ToFloat64(w.Value) {
				return false, nil
			}
		case query.WhereOpGt:
			if d.GetFloat(w.Field) <= cast.ToFloat64(w.Value) {
				return false, nil
			}
		case query.WhereOpGte:
			if d.GetFloat(w.Field) < cast.ToFloat64(w.Value) {
				return false, nil
			}
		case query.WhereOpIn:
			bits, _ := json.Marshal(w.Value)
			arr := gjson.ParseBytes(bits).Array()
			value := d.Get(w.Field)
			match := false
			for _, element := range arr {
				if element.Value() == value {
					match = true
					break
				}
			}
			if !match {
				return false, nil
			}
		case query.WhereOpContains:
			fieldVal := d.Get(w.Field)
			switch fieldVal := fieldVal.(type) {
			case []any:
				match := false
				for _, v := range fieldVal {
					if v == w.Value {
						match = true
						break
					}
				}
				if !match {
					return false, nil
				}
			case string:
				if !strings.Contains(fieldVal, cast.ToString(w.Value)) {
					return false, nil
				}
			default:
				if !strings.Contains(util.JSONString(fieldVal), util.JSONString(w.Value)) {
					return false, nil
				}
			}
		case query.WhereOpContainsAll:
			fieldVal := cast.ToStringSlice(d.Get(w.Field))
			for _, v := range cast.ToStringSlice(w.Value) {
				if !lo.Contains(fieldVal, v) {
					return false, nil
				}
			}
		case query.WhereOpContainsAny:
			fieldVal := cast.ToStringSlice(d.Get(w.Field))
			found := false
			for _, v := range cast.ToStringSlice(w.Value) {
				if lo.Contains(fieldVal, v) {
					found = true
					break
				}
			}
			if !found {
				return false, nil
			}
		case query.WhereOpText:
			// claimed by the text plugin index; treated as a pass-through
			// here so the in-memory matcher never rejects on it.
		default:
			return false, errors.Wrap(nil, errors.Validation, "invalid operator: '%s'", w.Op)
		}
	}
	return true, nil
}

// Encode writes the document's json bytes to w.
func (d *Document) Encode(w io.Writer) error {
	_, err := w.Write(d.Bytes())
	if err != nil {
		return errors.Wrap(err, 0, "failed to encode document")
	}
	return nil
}

// Documents is a slice of Document.
type Documents []*Document

// Filter returns the subset of documents for which predicate returns true.
func (documents Documents) Filter(predicate func(document *Document, i int) bool) Documents {
	return lo.Filter[*Document](documents, predicate)
}
