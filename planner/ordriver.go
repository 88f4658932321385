package planner

import (
	"github.com/lumidb/lumidb/errors"
	"github.com/lumidb/lumidb/query"
	"github.com/lumidb/lumidb/rangeset"
)

// OrDriver executes a top-level $or predicate clause by clause, running a
// fresh Runner per clause and handing the winning op to the caller (spec.md
// §4.4). It never builds a combined plan across clauses - each clause is
// planned and raced independently, matching the source system's
// clause-at-a-time semantics.
type OrDriver struct {
	ns     *Namespace
	gen    *rangeset.OrRangeGenerator
	order  []query.OrderBy
	hint   query.Hint
	policy query.RecordedPlanPolicy
	limit  int

	tableScanned bool
	useless      bool
}

// NewOrDriver constructs an OrDriver over the $or clauses of q. uselessOr is
// evaluated up front: when any clause can only be answered by a table scan
// there is nothing to gain from per-clause plan racing, and a caller may
// consult Useless() to skip plan-cache bookkeeping for this query (spec.md
// §4.6) - the clauses are still executed one at a time so $or's
// match-any-clause semantics are preserved.
//
// Each clause gets its own root QueryOp built from that clause's wheres
// (never the top-level query's, which is typically empty for an $or-only
// predicate) - the op that actually checks a candidate document against
// the clause's full predicate, not just its index bounds.
func NewOrDriver(ns *Namespace, q query.Query) *OrDriver {
	return &OrDriver{
		ns:      ns,
		gen:     rangeset.New(q.Or),
		order:   q.OrderBy,
		hint:    q.Hint,
		policy:  q.RecordedPlanPolicy,
		limit:   q.Limit,
		useless: len(q.Or) > 1 && uselessOr(ns, q.Or),
	}
}

// Useless reports whether any clause of the $or can only be answered by a
// table scan (spec.md §4.6).
func (d *OrDriver) Useless() bool { return d.useless }

// Done reports whether every clause has been consumed.
func (d *OrDriver) Done() bool { return d.gen.Done() }

// TableScanned reports whether any clause resorted to a full collection
// scan - callers may use this to decide whether the overall $or was
// expensive (spec.md §4.6's uselessOr companion signal).
func (d *OrDriver) TableScanned() bool { return d.tableScanned }

// NextClause plans and races the current clause to its winning op, then
// advances the generator past it. It returns (nil, nil, nil) once the
// generator is exhausted.
func (d *OrDriver) NextClause() (QueryOp, []query.Where, error) {
	if d.gen.Done() {
		return nil, nil, nil
	}
	wheres := d.gen.TopFrspOriginal()

	policy := d.policy
	if d.useless {
		policy = query.PolicyIgnore
	}
	clauseQuery := query.Query{
		Where:              wheres,
		OrderBy:            d.order,
		Hint:               d.hint,
		RecordedPlanPolicy: policy,
	}
	ps, err := BuildPlanSet(d.ns, clauseQuery)
	if err != nil {
		return nil, nil, err
	}
	if d.useless {
		ps.MayRecordPlan = false
	}

	baseOp := NewQueryOp(d.ns.KV, d.ns.Collection.Name(), wheres, d.limit, d.ns.Eval)
	runner := NewRunner(d.ns, ps, clauseQuery)
	winner, err := runner.Run(baseOp, false)
	if err != nil {
		return nil, nil, err
	}

	idxNo := NaturalIdxNo
	var indexKey []string
	if plan := winner.QueryPlan(); plan != nil {
		idxNo = plan.IdxNo
		indexKey = plan.Index.FieldNames()
		if plan.IsTableScan() {
			d.tableScanned = true
		}
	}
	d.gen.PopOrClause(idxNo, indexKey)

	return winner, wheres, nil
}

// Run drives every clause to completion, returning the last winning op of
// each clause in order. It is a convenience for callers that want the full
// per-clause winner sequence without driving NextClause themselves.
func (d *OrDriver) Run() ([]QueryOp, error) {
	var winners []QueryOp
	for !d.Done() {
		op, _, err := d.NextClause()
		if err != nil {
			return winners, err
		}
		if op == nil {
			break
		}
		winners = append(winners, op)
	}
	if len(winners) == 0 {
		return nil, errors.Wrap(nil, errors.NoViablePlan, "$or predicate has no clauses")
	}
	return winners, nil
}
