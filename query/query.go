// Package query defines the shape of a query against a lumidb collection:
// the predicate (Where clauses), sort order, hint, and explicit min/max key
// bounds the planner consumes as its external inputs.
package query

import (
	"fmt"
	"sort"
	"strings"
)

// WhereOp is an operator used to compare a document field against a value
// in a Where clause.
type WhereOp string

const (
	// WhereOpEq matches on equality.
	WhereOpEq WhereOp = "eq"
	// WhereOpNeq matches on inequality.
	WhereOpNeq WhereOp = "neq"
	// WhereOpGt matches greater-than.
	WhereOpGt WhereOp = "gt"
	// WhereOpGte matches greater-than-or-equal.
	WhereOpGte WhereOp = "gte"
	// WhereOpLt matches less-than.
	WhereOpLt WhereOp = "lt"
	// WhereOpLte matches less-than-or-equal.
	WhereOpLte WhereOp = "lte"
	// WhereOpIn matches when the field value is one of a list of values.
	WhereOpIn WhereOp = "in"
	// WhereOpContains matches substring containment for strings.
	WhereOpContains WhereOp = "contains"
	// WhereOpContainsAll matches when an array field contains every given value.
	WhereOpContainsAll WhereOp = "containsAll"
	// WhereOpContainsAny matches when an array field contains any given value.
	WhereOpContainsAny WhereOp = "containsAny"
	// WhereOpText is the reserved "special" operator claimed by a plugin
	// (text) index rather than ordinary range planning.
	WhereOpText WhereOp = "text"
)

// reservedOps are operators that disqualify a predicate from being a flat
// equality-only document for exactKeyMatch purposes (spec.md §4.1 step 5).
var reservedOps = map[WhereOp]bool{
	WhereOpNeq:         true,
	WhereOpGt:          true,
	WhereOpGte:         true,
	WhereOpLt:          true,
	WhereOpLte:         true,
	WhereOpIn:          true,
	WhereOpContains:    true,
	WhereOpContainsAll: true,
	WhereOpContainsAny: true,
	WhereOpText:        true,
}

// Where is a single filter clause: Field Op Value.
type Where struct {
	Field string  `json:"field"`
	Op    WhereOp `json:"op"`
	Value any     `json:"value"`
}

// IsReserved reports whether this clause uses an operator other than plain
// equality - a "$"-prefixed operator in the source system's terms.
func (w Where) IsReserved() bool {
	return reservedOps[w.Op]
}

// IsContainer reports whether the clause's value is a slice/map rather than
// a scalar - disqualifies it from exactKeyMatch counting.
func (w Where) IsContainer() bool {
	switch w.Value.(type) {
	case []any, map[string]any:
		return true
	default:
		return false
	}
}

// OrderByDirection is the direction of a sort clause.
type OrderByDirection int

const (
	// OrderAsc sorts ascending.
	OrderAsc OrderByDirection = 1
	// OrderDesc sorts descending.
	OrderDesc OrderByDirection = -1
)

// OrderBy is one field of a requested sort order. A Field of "$natural"
// means "the collection's natural storage order".
type OrderBy struct {
	Field     string           `json:"field"`
	Direction OrderByDirection `json:"direction"`
}

// NaturalField is the reserved order field name meaning storage order,
// mirroring the source system's {"$natural": ±1}.
const NaturalField = "$natural"

// RecordedPlanPolicy controls whether BuildPlanSet may reuse a cached
// winning plan.
type RecordedPlanPolicy int

const (
	// PolicyIgnore never consults the plan cache.
	PolicyIgnore RecordedPlanPolicy = iota
	// PolicyUse uses a cached plan regardless of whether it requires a sort.
	PolicyUse
	// PolicyUseIfInOrder uses a cached plan only when it does not require
	// a buffer-and-sort step.
	PolicyUseIfInOrder
)

// Hint pins plan selection to a named index, an explicit key pattern, or
// the natural order.
type Hint struct {
	IndexName string   `json:"indexName,omitempty"`
	KeyFields []string `json:"keyFields,omitempty"`
	Natural   bool     `json:"natural,omitempty"`
}

// Empty reports whether no hint was supplied.
func (h Hint) Empty() bool {
	return h.IndexName == "" && len(h.KeyFields) == 0 && !h.Natural
}

// Query is the full set of external inputs the planner accepts for one
// predicate (spec.md §6).
type Query struct {
	Collection         string             `json:"collection"`
	Where              []Where            `json:"where,omitempty"`
	Or                 [][]Where          `json:"or,omitempty"`
	OrderBy            []OrderBy          `json:"orderBy,omitempty"`
	Hint               Hint               `json:"hint,omitempty"`
	Min                map[string]any     `json:"min,omitempty"`
	Max                map[string]any     `json:"max,omitempty"`
	RecordedPlanPolicy RecordedPlanPolicy `json:"recordedPlanPolicy,omitempty"`
	Limit              int                `json:"limit,omitempty"`
}

// HasOr reports whether the query carries a non-empty top-level $or.
func (q Query) HasOr() bool {
	return len(q.Or) > 0
}

// Pattern returns a canonical query-shape key: stable under semantically
// equivalent predicates (same fields/operators, any key ordering), combined
// with the requested sort order. The plan cache does not use it; it is
// keyed on rangeset's FieldRangeSet.Pattern.
func (q Query) Pattern() string {
	fields := make([]string, 0, len(q.Where))
	for _, w := range q.Where {
		fields = append(fields, fmt.Sprintf("%s:%s", w.Field, w.Op))
	}
	sort.Strings(fields)
	var b strings.Builder
	b.WriteString(q.Collection)
	b.WriteByte('|')
	b.WriteString(strings.Join(fields, ","))
	b.WriteByte('|')
	for i, o := range q.OrderBy {
		if i > 0 {
			b.WriteByte(',')
		}
		fmt.Fprintf(&b, "%s:%d", o.Field, o.Direction)
	}
	return b.String()
}

// IsSimpleIDEquality reports whether the predicate is exactly one equality
// on primaryKey.
func (q Query) IsSimpleIDEquality(primaryKey string) (value any, ok bool) {
	if len(q.Where) != 1 || len(q.Or) != 0 {
		return nil, false
	}
	w := q.Where[0]
	if w.Field != primaryKey || w.Op != WhereOpEq {
		return nil, false
	}
	return w.Value, true
}

// IsEmpty reports whether the predicate and order are both empty.
func (q Query) IsEmpty() bool {
	return len(q.Where) == 0 && len(q.Or) == 0 && len(q.OrderBy) == 0
}
