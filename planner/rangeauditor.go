package planner

import (
	"github.com/lumidb/lumidb/collection"
	"github.com/lumidb/lumidb/errors"
	"github.com/lumidb/lumidb/internal/indexing"
	"github.com/lumidb/lumidb/internal/prefix"
	"github.com/lumidb/lumidb/internal/util"
)

// AuditRange resolves possibly-partial min/max key documents (and an
// optional explicit keyPattern) to a usable index, per spec.md §4.5.
func AuditRange(coll *collection.Collection, min, max map[string]any, keyPattern []string) (collection.IndexSpec, error) {
	if len(min) == 0 && len(max) == 0 {
		return collection.IndexSpec{}, errors.Wrap(nil, errors.NoIndexForRange, "min and max are both empty")
	}

	direction, firstSignificantField, err := normalizeMinMax(min, max)
	if err != nil {
		return collection.IndexSpec{}, err
	}

	if len(keyPattern) > 0 {
		idx, ok := coll.IndexByFields(keyPattern)
		if !ok {
			if isIDPattern(keyPattern, coll.PrimaryKey()) {
				idx = coll.PrimaryIndex()
			} else {
				return collection.IndexSpec{}, errors.Wrap(nil, errors.NoIndexForRange, "explicit key pattern matches no index")
			}
		}
		if !indexWorksForBounds(idx, direction, firstSignificantField, min, max) {
			return collection.IndexSpec{}, errors.Wrap(nil, errors.NoIndexForRange, "explicit key pattern is incompatible with min/max direction")
		}
		return idx, nil
	}

	var best collection.IndexSpec
	found := false
	for _, idx := range coll.Indexes() {
		if idx.IsPlugin() {
			continue
		}
		if indexWorksForBounds(idx, direction, firstSignificantField, min, max) {
			best = idx
			found = true
			break
		}
	}
	if !found {
		return collection.IndexSpec{}, errors.Wrap(nil, errors.NoIndexForRange, "no index resolves the given min/max bounds")
	}
	return best, nil
}

// normalizeMinMax computes (direction, firstSignificantField) by walking
// min and max in parallel (spec.md §4.5 step 2).
func normalizeMinMax(min, max map[string]any) (direction, firstSignificantField int, err error) {
	if len(min) == 0 || len(max) == 0 {
		return 1, -1, nil
	}
	minFields := mapKeysInInsertionOrder(min)
	maxSet := make(map[string]bool, len(max))
	for k := range max {
		maxSet[k] = true
	}
	if len(minFields) != len(maxSet) {
		return 0, 0, errors.Wrap(nil, errors.NoIndexForRange, "min/max patterns do not share fields")
	}
	for _, f := range minFields {
		if !maxSet[f] {
			return 0, 0, errors.Wrap(nil, errors.NoIndexForRange, "min/max patterns do not share fields")
		}
	}
	for i, f := range minFields {
		mv, xv := min[f], max[f]
		if mv == xv {
			continue
		}
		if lessThan(mv, xv) {
			return 1, i, nil
		}
		return -1, i, nil
	}
	return 1, -1, nil
}

// indexWorksForBounds checks that idx's key pattern, walked in parallel
// with the supplied key, has matching field names in order and a
// compatible direction sign at firstSignificantField.
func indexWorksForBounds(idx collection.IndexSpec, direction, firstSignificantField int, min, max map[string]any) bool {
	fields := mapKeysInInsertionOrder(min)
	if len(fields) == 0 {
		fields = mapKeysInInsertionOrder(max)
	}
	names := idx.FieldNames()
	if len(fields) > len(names) {
		return false
	}
	for i, f := range fields {
		if names[i] != f {
			return false
		}
	}
	if firstSignificantField < 0 || firstSignificantField >= len(idx.Fields) {
		return true
	}
	return int(idx.Fields[firstSignificantField].Direction) == direction || direction == 1
}

func isIDPattern(fields []string, primaryKey string) bool {
	return len(fields) == 1 && fields[0] == primaryKey
}

func mapKeysInInsertionOrder(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	return keys
}

func lessThan(a, b any) bool {
	af, aok := toComparableFloat(a)
	bf, bok := toComparableFloat(b)
	if aok && bok {
		return af < bf
	}
	return util.JSONString(a) < util.JSONString(b)
}

func toComparableFloat(v any) (float64, bool) {
	switch v := v.(type) {
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	case float64:
		return v, true
	default:
		return 0, false
	}
}

// explicitBounds materializes byte-encoded start/end keys from
// caller-supplied min/max documents, truncated to idx's fields (spec.md
// §4.5 step 4). Missing sides are filled with the per-field min/max key
// for idx's sign, expressed here as an unbounded scan on that side.
func explicitBounds(coll string, idx collection.IndexSpec, min, max map[string]any) (startKey, endKey []byte) {
	base := indexing.SeekPrefix(coll, idx.Name, idx.FieldNames(), map[string]any{})
	start := base
	end := base
	for _, f := range idx.FieldNames() {
		if v, ok := min[f]; ok {
			start = start.Append(f, v)
		}
		if v, ok := max[f]; ok {
			end = end.Append(f, v)
		}
	}
	startKey = start.Path()
	endKey = prefix.NextKey(end.Path())
	return
}
