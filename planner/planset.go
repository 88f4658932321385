package planner

import (
	"github.com/lumidb/lumidb/collection"
	"github.com/lumidb/lumidb/errors"
	"github.com/lumidb/lumidb/query"
	"github.com/lumidb/lumidb/rangeset"
)

// PlanSet is the candidate plan list for a single predicate (spec.md §3).
type PlanSet struct {
	Plans          []*QueryPlan
	FallbackPlans  []*QueryPlan
	UsingCachedPlan bool
	MayRecordPlan  bool
	Pattern        string
}

// BuildPlanSet constructs a PlanSet for q against ns, following the build
// order of spec.md §4.2 (first rule that matches wins).
func BuildPlanSet(ns *Namespace, q query.Query) (*PlanSet, error) {
	pair := rangeset.BuildPair(q.Where)
	pattern := rangeset.Build(q.Where).Pattern(q.OrderBy)
	ps := &PlanSet{Pattern: pattern}

	// Rule 1: the predicate is proven statically to match nothing.
	if !pair.MatchPossible() {
		ps.Plans = []*QueryPlan{Characterize(ns, NaturalIdxNo, collection.IndexSpec{}, pair, q.OrderBy, false)}
		ps.Plans[0].Impossible = true
		return ps, nil
	}

	// Rule 2: hint.
	if !q.Hint.Empty() {
		return buildHintedPlanSet(ns, q, pair)
	}

	// Rule 3: min/max with no hint.
	if len(q.Min) > 0 || len(q.Max) > 0 {
		idx, err := AuditRange(ns.Collection, q.Min, q.Max, nil)
		if err != nil {
			return nil, err
		}
		plan := Characterize(ns, indexOrdinal(ns, idx), idx, pair, nil, false)
		plan.StartKey, plan.EndKey = explicitBounds(ns.Collection.Name(), idx, q.Min, q.Max)
		ps.Plans = []*QueryPlan{plan}
		return ps, nil
	}

	// Rule 4: simple _id equality.
	if _, ok := q.IsSimpleIDEquality(ns.Collection.PrimaryKey()); ok {
		if idx := ns.Collection.PrimaryIndex(); idx.Name != "" {
			ps.Plans = []*QueryPlan{Characterize(ns, indexOrdinal(ns, idx), idx, pair, q.OrderBy, false)}
			return ps, nil
		}
	}

	// Rule 5: empty predicate and empty order.
	if q.IsEmpty() {
		ps.Plans = []*QueryPlan{Characterize(ns, NaturalIdxNo, collection.IndexSpec{}, pair, q.OrderBy, false)}
		return ps, nil
	}

	// Rule 6: special (plugin) predicate.
	if special := pair.GetSpecial(); special != "" {
		idx, ok := findPluginIndex(ns, special)
		if !ok {
			return nil, errors.Wrap(nil, errors.SpecialIndexMissing, "no plugin index claims field '%s'", special)
		}
		ps.Plans = []*QueryPlan{Characterize(ns, indexOrdinal(ns, idx), idx, pair, q.OrderBy, true)}
		return ps, nil
	}

	// Rule 7: recorded plan.
	if q.RecordedPlanPolicy != query.PolicyIgnore && ns.Cache != nil {
		if cached, ok := ns.Cache.IndexForPattern(pattern); ok {
			if idx, ok := ns.Collection.Index(cached); ok {
				plan := Characterize(ns, indexOrdinal(ns, idx), idx, pair, q.OrderBy, false)
				if !plan.Unhelpful && (q.RecordedPlanPolicy != query.PolicyUseIfInOrder || !plan.ScanAndOrderRequired) {
					ps.Plans = []*QueryPlan{plan}
					ps.FallbackPlans = allViablePlans(ns, q, pair, plan)
					ps.UsingCachedPlan = true
					ps.MayRecordPlan = false
					return ps, nil
				}
			}
		}
	}

	// Rule 8: all viable plans.
	return buildAllViablePlans(ns, q, pair)
}

func indexOrdinal(ns *Namespace, idx collection.IndexSpec) int {
	i := 0
	for _, other := range ns.Collection.Indexes() {
		if other.Name == idx.Name {
			return i
		}
		i++
	}
	return -1
}

func findPluginIndex(ns *Namespace, field string) (collection.IndexSpec, bool) {
	for _, idx := range ns.Collection.Indexes() {
		if idx.IsPlugin() {
			for _, f := range idx.FieldNames() {
				if f == field {
					return idx, true
				}
			}
		}
	}
	return collection.IndexSpec{}, false
}

func buildHintedPlanSet(ns *Namespace, q query.Query, pair *rangeset.FieldRangeSetPair) (*PlanSet, error) {
	if q.Hint.Natural {
		if len(q.Min) > 0 || len(q.Max) > 0 {
			return nil, errors.Wrap(nil, errors.BadHint, "$natural hint is incompatible with min/max")
		}
		return &PlanSet{Plans: []*QueryPlan{Characterize(ns, NaturalIdxNo, collection.IndexSpec{}, pair, q.OrderBy, false)}}, nil
	}
	var idx collection.IndexSpec
	var ok bool
	if q.Hint.IndexName != "" {
		idx, ok = ns.Collection.Index(q.Hint.IndexName)
	} else if len(q.Hint.KeyFields) > 0 {
		idx, ok = ns.Collection.IndexByFields(q.Hint.KeyFields)
	}
	if !ok {
		return nil, errors.Wrap(nil, errors.BadHint, "hint names an unknown index")
	}
	plan := Characterize(ns, indexOrdinal(ns, idx), idx, pair, q.OrderBy, false)
	return &PlanSet{Plans: []*QueryPlan{plan}}, nil
}

func allViablePlans(ns *Namespace, q query.Query, pair *rangeset.FieldRangeSetPair, exclude *QueryPlan) []*QueryPlan {
	full, _ := buildAllViablePlans(ns, q, pair)
	var out []*QueryPlan
	for _, p := range full.Plans {
		if exclude != nil && p.IndexKey() == exclude.IndexKey() {
			continue
		}
		out = append(out, p)
	}
	return out
}

// buildAllViablePlans implements spec.md §4.2 rule 8.
func buildAllViablePlans(ns *Namespace, q query.Query, pair *rangeset.FieldRangeSetPair) (*PlanSet, error) {
	ps := &PlanSet{}
	var optimalPlan *QueryPlan
	var specialPlan *QueryPlan
	var kept []*QueryPlan

	for i, idx := range ns.Collection.Indexes() {
		if !indexUseful(ns, pair, idx, q.OrderBy) {
			continue
		}
		plan := Characterize(ns, i, idx, pair, q.OrderBy, false)
		switch {
		case plan.Impossible:
			return &PlanSet{Plans: []*QueryPlan{plan}}, nil
		case plan.Optimal:
			optimalPlan = plan
		case !plan.Unhelpful:
			if plan.Special != "" {
				specialPlan = plan
			} else {
				kept = append(kept, plan)
			}
		}
	}

	switch {
	case optimalPlan != nil:
		ps.Plans = []*QueryPlan{optimalPlan}
	case len(kept) > 0:
		ps.Plans = append(ps.Plans, kept...)
	case specialPlan != nil:
		ps.Plans = append(ps.Plans, specialPlan)
	}
	ps.Plans = append(ps.Plans, Characterize(ns, NaturalIdxNo, collection.IndexSpec{}, pair, q.OrderBy, false))
	ps.MayRecordPlan = true
	return ps, nil
}

// indexUseful implements spec.md §4.6.
func indexUseful(ns *Namespace, pair *rangeset.FieldRangeSetPair, idx collection.IndexSpec, order []query.OrderBy) bool {
	if !pair.MatchPossibleForIndex(idx.FieldNames()) {
		return true
	}
	if idx.IsPlugin() {
		plug, ok := ns.Plugin(idx.Name)
		if !ok {
			return false
		}
		q := query.Query{Where: flattenRanges(pair.Single, idx.FieldNames())}
		return plug.Suitability(q, order) != Useless || pair.GetSpecial() != ""
	}
	return true
}

// uselessOr reports whether any clause of a $or predicate admits no useful
// index - i.e. every plan that clause can run is a full table scan; a
// clause proven to match nothing is skipped - in which case the whole $or is no better
// than one table scan over the flattened disjunction, and a caller may
// choose to fall back to that instead of racing per clause (spec.md §4.6).
func uselessOr(ns *Namespace, clauses [][]query.Where) bool {
	for _, clause := range clauses {
		pair := rangeset.BuildPair(clause)
		if !pair.MatchPossible() {
			continue
		}
		ps, err := buildAllViablePlans(ns, query.Query{Where: clause}, pair)
		if err != nil {
			continue
		}
		hasUsefulPlan := false
		for _, plan := range ps.Plans {
			if !plan.IsTableScan() && !plan.Impossible {
				hasUsefulPlan = true
				break
			}
		}
		if !hasUsefulPlan {
			return true
		}
	}
	return false
}

// AddFallbackPlans promotes ps.FallbackPlans into ps.Plans, de-duplicated
// by index key against the current head plan (spec.md §4.2).
func (ps *PlanSet) AddFallbackPlans() {
	seen := map[string]bool{}
	if len(ps.Plans) > 0 {
		seen[ps.Plans[0].IndexKey()] = true
	}
	for _, p := range ps.FallbackPlans {
		if seen[p.IndexKey()] {
			continue
		}
		seen[p.IndexKey()] = true
		ps.Plans = append(ps.Plans, p)
	}
	ps.FallbackPlans = nil
	ps.MayRecordPlan = true
}

// GetBestGuess returns the first plan that does not require a sort,
// preferring Plans[0]. Returns nil when every plan requires a sort.
func (ps *PlanSet) GetBestGuess() *QueryPlan {
	for _, p := range ps.Plans {
		if !p.ScanAndOrderRequired {
			return p
		}
	}
	return nil
}
