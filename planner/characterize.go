// Package planner implements the query planner and multi-plan execution
// runner: per-index plan characterization, plan-set construction, the
// competitive runner, the $or clause driver, and the plan cache.
package planner

import (
	"github.com/lumidb/lumidb/collection"
	"github.com/lumidb/lumidb/kv"
	"github.com/lumidb/lumidb/query"
	"github.com/lumidb/lumidb/rangeset"
)

// NaturalIdxNo marks a QueryPlan as a natural-order table scan.
const NaturalIdxNo = -1

// QueryPlan is the characterization of one access path (spec.md §3).
type QueryPlan struct {
	IdxNo                int
	Index                collection.IndexSpec
	Direction            int
	ScanAndOrderRequired bool
	Optimal              bool
	ExactKeyMatch        bool
	Unhelpful            bool
	Impossible           bool
	StartKey             []byte
	EndKey               []byte
	EndKeyInclusive      bool
	Special              string
	KeyFieldsOnly        bool

	Wheres []query.Where
	Order  []query.OrderBy

	ranges []rangeset.FieldRange
	ns     *Namespace
}

// IsTableScan reports whether this plan is the natural-order scan.
func (p *QueryPlan) IsTableScan() bool {
	return p.IdxNo == NaturalIdxNo
}

// IndexKey returns the plan's cache-facing index identity: the index's
// name, or "$natural" for a table scan.
func (p *QueryPlan) IndexKey() string {
	if p.IsTableScan() {
		return query.NaturalField
	}
	return p.Index.Name
}

// NewCursor builds the Cursor this plan answers with (spec.md §4.1
// "cursor creation").
func (p *QueryPlan) NewCursor(kvdb kv.DB, coll string) Cursor {
	switch {
	case p.Impossible:
		return newEmptyCursor()
	case p.Special != "":
		plug, ok := p.ns.Plugin(p.Index.Name)
		if !ok {
			return newEmptyCursor()
		}
		q := query.Query{Where: p.Wheres}
		return plug.NewCursor(q, p.Order, 0)
	case p.IsTableScan():
		return newNaturalCursor(kvdb, coll, p.Direction == -1)
	default:
		return newBTreeCursor(kvdb, coll, p.Index, p.StartKey, p.EndKey, p.Direction == -1)
	}
}

// Characterize computes a QueryPlan for one (namespace, index, rangeSet,
// order) combination per spec.md §4.1.
func Characterize(ns *Namespace, idxNo int, idx collection.IndexSpec, pair *rangeset.FieldRangeSetPair, order []query.OrderBy, explicitSpecial bool) *QueryPlan {
	keyFields := idx.FieldNames()
	plan := &QueryPlan{
		IdxNo:  idxNo,
		Index:  idx,
		ns:     ns,
		ranges: pair.Single.FieldsForIndex(keyFields),
		Wheres: flattenRanges(pair.Single, keyFields),
		Order:  order,
	}

	// Step 1: table scan.
	if idxNo == NaturalIdxNo {
		plan.ScanAndOrderRequired = !orderIsEmptyOrNatural(order)
		if len(order) == 1 && order[0].Field == query.NaturalField {
			plan.Direction = int(order[0].Direction)
		}
		return plan
	}

	// Step 2: match possibility.
	if !pair.MatchPossibleForIndex(keyFields) {
		plan.Impossible = true
		plan.ScanAndOrderRequired = false
		return plan
	}

	// Step 3: plugin delegation.
	if idx.IsPlugin() {
		special := pair.GetSpecial()
		plug, ok := ns.Plugin(idx.Name)
		if ok {
			q := query.Query{Where: plan.Wheres}
			suit := plug.Suitability(q, order)
			if suit != Useless || special != "" || explicitSpecial {
				plan.Special = idx.Plugin.Name
				plan.ScanAndOrderRequired = plug.ScanAndOrderRequired(q, order)
				plan.Optimal = explicitSpecial || special != ""
				return plan
			}
		}
	}

	// Step 4: order-compatibility / direction inference.
	direction, scanAndOrderRequired, orderFieldsLeft := walkOrder(order, idx, plan.ranges)
	plan.Direction = direction
	plan.ScanAndOrderRequired = scanAndOrderRequired

	// Step 5: optimality and exactness.
	optimalCount := 0
	awaitingLastOptimalField := true
	exactCount := 0
	for _, r := range plan.ranges {
		if r.Universal() {
			continue
		}
		if awaitingLastOptimalField {
			optimalCount++
			if !r.Equality() {
				awaitingLastOptimalField = false
			}
		} else {
			optimalCount = -1
		}
		if r.Equality() && !isNumericScalar(r.EqualityValue()) && !isContainerValue(r.EqualityValue()) {
			exactCount++
		}
	}
	plan.Optimal = plan.Optimal || (!plan.ScanAndOrderRequired && optimalCount == pair.NumNonUniversalRanges())
	plan.ExactKeyMatch = exactCount == pair.NumNonUniversalRanges() &&
		pair.NumNonUniversalRanges() == len(keyFields) &&
		len(orderFieldsLeft) == 0 &&
		isFlatEqualityOnly(plan.ranges)

	// Step 6: field-range vector -> start/end keys.
	plan.StartKey, plan.EndKey = buildBounds(ns.Collection.Name(), idx, plan.ranges)
	plan.EndKeyInclusive = false

	// Step 7: unhelpful.
	leadingUnconstrained := len(plan.ranges) == 0 || plan.ranges[0].Universal()
	if (plan.ScanAndOrderRequired || len(order) == 0) && leadingUnconstrained {
		plan.Unhelpful = true
	}

	return plan
}

func orderIsEmptyOrNatural(order []query.OrderBy) bool {
	if len(order) == 0 {
		return true
	}
	return len(order) == 1 && order[0].Field == query.NaturalField
}

// walkOrder implements spec.md §4.1 step 4: parallel walk of the requested
// order against the index key pattern, skipping equality-constrained key
// fields, computing the scan direction from the first agreeing field and
// breaking on the first conflict.
func walkOrder(order []query.OrderBy, idx collection.IndexSpec, ranges []rangeset.FieldRange) (direction int, scanAndOrderRequired bool, orderFieldsLeft []query.OrderBy) {
	if len(order) == 0 {
		return 0, false, nil
	}
	remaining := append([]query.OrderBy{}, order...)
	direction = 0
	keyIdx := 0
	for len(remaining) > 0 {
		of := remaining[0]
		if of.Field == query.NaturalField {
			return direction, true, remaining
		}
		matched := false
		for keyIdx < len(idx.Fields) {
			kf := idx.Fields[keyIdx]
			if kf.Field == of.Field {
				matched = true
				sign := int(of.Direction)
				fieldDir := sign * int(kf.Direction)
				if direction == 0 {
					direction = fieldDir
				} else if fieldDir != direction {
					return direction, true, remaining
				}
				keyIdx++
				remaining = remaining[1:]
				break
			}
			if keyIdx < len(ranges) && ranges[keyIdx].Equality() {
				keyIdx++
				continue
			}
			return direction, true, remaining
		}
		if !matched {
			return direction, true, remaining
		}
	}
	if direction == 0 {
		direction = 1
	}
	return direction, false, nil
}

func flattenRanges(frs *rangeset.FieldRangeSet, fields []string) []query.Where {
	var wheres []query.Where
	for _, f := range fields {
		r := frs.Range(f)
		if r.Equality() {
			wheres = append(wheres, query.Where{Field: f, Op: query.WhereOpEq, Value: r.EqualityValue()})
		}
		if r.Special() != "" {
			wheres = append(wheres, query.Where{Field: f, Op: query.WhereOpText, Value: nil})
		}
	}
	return wheres
}

func isNumericScalar(v any) bool {
	switch v.(type) {
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64, float32, float64:
		return true
	default:
		return false
	}
}

func isContainerValue(v any) bool {
	switch v.(type) {
	case []any, map[string]any:
		return true
	default:
		return false
	}
}

func isFlatEqualityOnly(ranges []rangeset.FieldRange) bool {
	for _, r := range ranges {
		if r.Universal() {
			continue
		}
		if !r.Equality() {
			return false
		}
	}
	return true
}
