// Package util collects small serialization and reflection helpers shared
// across the document, collection, and planner packages.
package util

import (
	"encoding/binary"
	"encoding/json"
	"math"

	"github.com/mitchellh/mapstructure"
	"github.com/palantir/stacktrace"
	"github.com/spf13/cast"
	"gopkg.in/yaml.v3"
)

// Decode decodes the input into the output based on json tags.
func Decode(input any, output any) error {
	config := &mapstructure.DecoderConfig{
		WeaklyTypedInput:     true,
		Result:               output,
		TagName:              "json",
		IgnoreUntaggedFields: true,
	}
	decoder, err := mapstructure.NewDecoder(config)
	if err != nil {
		return err
	}
	return decoder.Decode(input)
}

// JSONString returns a json string of the input.
func JSONString(input any) string {
	bits, _ := json.Marshal(input)
	return string(bits)
}

// EncodeIndexValue produces an order-preserving-for-same-type byte encoding
// of a field value, used to build B-tree index keys. Numbers are encoded as
// a sign-flipped big-endian float64 bit pattern so ordinary numeric ordering
// survives lexicographic byte comparison; everything else falls back to its
// string/JSON form.
func EncodeIndexValue(value any) []byte {
	if value == nil {
		return []byte("")
	}
	switch value := value.(type) {
	case bool:
		return EncodeIndexValue(cast.ToString(value))
	case string:
		return []byte(value)
	case int, int64, int32, float64, float32, uint64, uint32, uint16:
		return encodeOrderedFloat(cast.ToFloat64(value))
	default:
		bits, _ := json.Marshal(value)
		if len(bits) == 0 {
			bits = []byte(cast.ToString(value))
		}
		return bits
	}
}

func encodeOrderedFloat(f float64) []byte {
	bits := math.Float64bits(f)
	if f >= 0 {
		bits ^= 1 << 63
	} else {
		bits = ^bits
	}
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, bits)
	return buf
}

// IsNil reports whether a generic pointer is nil.
func IsNil[T any](obj *T) bool {
	return obj == nil
}

// ToPtr returns a pointer to a copy of obj.
func ToPtr[T any](obj T) *T {
	return &obj
}

// YAMLToJSON converts a YAML document (used for on-disk collection/index
// definitions) into JSON bytes.
func YAMLToJSON(yamlContent []byte) ([]byte, error) {
	var body map[string]any
	if err := yaml.Unmarshal(yamlContent, &body); err != nil {
		return nil, stacktrace.Propagate(err, "failed to convert yaml to json")
	}
	jsonContent, err := json.Marshal(body)
	if err != nil {
		return nil, stacktrace.Propagate(err, "")
	}
	return jsonContent, nil
}
