// Package rangeset implements the FieldRange/FieldRangeSet/FieldRangeSetPair
// contract spec.md §3/§6 treats as an external collaborator: it turns a
// flat conjunction of query.Where clauses into per-field interval
// summaries the planner characterizes indexes against. It is a simplified
// envelope (equality / min / max / $in / special) rather than the source
// system's full BSON interval-set algebra, but satisfies every operation
// the planner calls.
package rangeset

import (
	"fmt"
	"sort"
	"strings"

	"github.com/lumidb/lumidb/query"
	"github.com/spf13/cast"
)

// FieldRange is the per-field ordered interval a predicate implies.
type FieldRange struct {
	Field string

	eq      bool
	eqValue any

	hasMin   bool
	min      any
	minIncl  bool
	hasMax   bool
	max      any
	maxIncl  bool

	in []any

	special string

	// empty marks a statically-provable-empty range, e.g. {$gt: 5, $lt: 5}.
	empty bool
}

// Equality reports whether this field's range is a single bound value.
func (r FieldRange) Equality() bool {
	return r.eq
}

// Universal reports whether the range is (-inf, +inf): no constraint at all.
func (r FieldRange) Universal() bool {
	return !r.eq && !r.hasMin && !r.hasMax && r.special == "" && len(r.in) == 0
}

// Max returns the range's effective upper bound value, used to materialize
// an index key. Returns nil when the range has no usable upper bound.
func (r FieldRange) Max() any {
	switch {
	case r.eq:
		return r.eqValue
	case r.hasMax:
		return r.max
	case len(r.in) > 0:
		return r.in[len(r.in)-1]
	default:
		return nil
	}
}

// Min returns the range's effective lower bound value.
func (r FieldRange) Min() any {
	switch {
	case r.eq:
		return r.eqValue
	case r.hasMin:
		return r.min
	case len(r.in) > 0:
		return r.in[0]
	default:
		return nil
	}
}

// EqualityValue returns the bound value when Equality() is true.
func (r FieldRange) EqualityValue() any {
	return r.eqValue
}

// Special returns the plugin name this field's range is claimed by (e.g.
// "text"), or "" when the field is ordinary.
func (r FieldRange) Special() string {
	return r.special
}

// Empty reports whether the range was proven to match no value.
func (r FieldRange) Empty() bool {
	return r.empty
}

// FieldRangeSet is the per-collection-predicate set of FieldRanges, one
// per constrained field.
type FieldRangeSet struct {
	ranges map[string]FieldRange
	fields []string // insertion order, for stable Pattern()
}

// Build constructs a FieldRangeSet from a flat AND of Where clauses,
// merging multiple clauses on the same field (e.g. $gt and $lt) into one
// interval.
func Build(wheres []query.Where) *FieldRangeSet {
	frs := &FieldRangeSet{ranges: map[string]FieldRange{}}
	for _, w := range wheres {
		frs.apply(w)
	}
	return frs
}

func (frs *FieldRangeSet) get(field string) FieldRange {
	r, ok := frs.ranges[field]
	if !ok {
		r = FieldRange{Field: field}
		frs.fields = append(frs.fields, field)
	}
	return r
}

func (frs *FieldRangeSet) apply(w query.Where) {
	r := frs.get(w.Field)
	switch w.Op {
	case query.WhereOpEq:
		if r.eq && compare(w.Value, r.eqValue) != 0 {
			r.empty = true
		}
		if r.hasMin && compare(w.Value, r.min) < 0 {
			r.empty = true
		}
		if r.hasMax && compare(w.Value, r.max) > 0 {
			r.empty = true
		}
		r.eq = true
		r.eqValue = w.Value
	case query.WhereOpNeq:
		// a plain inequality does not narrow an interval in this
		// simplified model; it is enforced by the matcher only.
	case query.WhereOpGt, query.WhereOpGte:
		incl := w.Op == query.WhereOpGte
		if !r.hasMin || compare(w.Value, r.min) > 0 || (compare(w.Value, r.min) == 0 && !incl) {
			r.hasMin = true
			r.min = w.Value
			r.minIncl = incl
		}
	case query.WhereOpLt, query.WhereOpLte:
		incl := w.Op == query.WhereOpLte
		if !r.hasMax || compare(w.Value, r.max) < 0 || (compare(w.Value, r.max) == 0 && !incl) {
			r.hasMax = true
			r.max = w.Value
			r.maxIncl = incl
		}
	case query.WhereOpIn:
		r.in = cast.ToSlice(w.Value)
	case query.WhereOpText:
		r.special = "text"
	default:
		// contains/containsAll/containsAny narrow nothing for range
		// planning purposes; the matcher evaluates them post-fetch.
	}
	if r.hasMin && r.hasMax {
		c := compare(r.min, r.max)
		if c > 0 || (c == 0 && !(r.minIncl && r.maxIncl)) {
			r.empty = true
		}
	}
	frs.ranges[w.Field] = r
}

// Range returns the FieldRange for field, or a Universal range if field is
// unconstrained.
func (frs *FieldRangeSet) Range(field string) FieldRange {
	r, ok := frs.ranges[field]
	if !ok {
		return FieldRange{Field: field}
	}
	return r
}

// MatchPossible reports whether any constrained field was proven empty.
func (frs *FieldRangeSet) MatchPossible() bool {
	for _, r := range frs.ranges {
		if r.empty {
			return false
		}
	}
	return true
}

// MatchPossibleForIndex reports match-possibility restricted to keyFields.
// In this envelope model per-field emptiness is independent of any
// particular index, so this delegates to MatchPossible.
func (frs *FieldRangeSet) MatchPossibleForIndex(keyFields []string) bool {
	return frs.MatchPossible()
}

// NoNonUniversalRanges reports whether every field is unconstrained - an
// empty predicate.
func (frs *FieldRangeSet) NoNonUniversalRanges() bool {
	return frs.NumNonUniversalRanges() == 0
}

// NumNonUniversalRanges counts constrained fields.
func (frs *FieldRangeSet) NumNonUniversalRanges() int {
	n := 0
	for _, r := range frs.ranges {
		if !r.Universal() {
			n++
		}
	}
	return n
}

// GetSpecial returns the field name claimed by a plugin operator (e.g. the
// field under a $text clause), or "" when no special clause is present.
func (frs *FieldRangeSet) GetSpecial() string {
	for _, r := range frs.ranges {
		if r.special != "" {
			return r.Field
		}
	}
	return ""
}

// FieldsForIndex returns the FieldRanges for each of keyFields in order,
// Universal when a field is unconstrained.
func (frs *FieldRangeSet) FieldsForIndex(keyFields []string) []FieldRange {
	out := make([]FieldRange, len(keyFields))
	for i, f := range keyFields {
		out[i] = frs.Range(f)
	}
	return out
}

// Pattern returns a canonical, key-order-independent string identifying
// this predicate's shape combined with order - the plan-cache key.
func (frs *FieldRangeSet) Pattern(order []query.OrderBy) string {
	fields := append([]string{}, frs.fields...)
	sort.Strings(fields)
	parts := make([]string, 0, len(fields))
	for _, f := range fields {
		r := frs.ranges[f]
		parts = append(parts, fmt.Sprintf("%s:%s", f, shapeOf(r)))
	}
	var b strings.Builder
	b.WriteString(strings.Join(parts, ","))
	b.WriteByte('|')
	for i, o := range order {
		if i > 0 {
			b.WriteByte(',')
		}
		fmt.Fprintf(&b, "%s:%d", o.Field, o.Direction)
	}
	return b.String()
}

func shapeOf(r FieldRange) string {
	switch {
	case r.eq:
		return "eq"
	case r.special != "":
		return "special:" + r.special
	case len(r.in) > 0:
		return "in"
	case r.hasMin && r.hasMax:
		return "range"
	case r.hasMin:
		return "gt"
	case r.hasMax:
		return "lt"
	default:
		return "universal"
	}
}

func compare(a, b any) int {
	af, aok := toFloat(a)
	bf, bok := toFloat(b)
	if aok && bok {
		switch {
		case af < bf:
			return -1
		case af > bf:
			return 1
		default:
			return 0
		}
	}
	as, bs := cast.ToString(a), cast.ToString(b)
	return strings.Compare(as, bs)
}

func toFloat(v any) (float64, bool) {
	switch v.(type) {
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64, float32, float64:
		return cast.ToFloat64(v), true
	default:
		return 0, false
	}
}
