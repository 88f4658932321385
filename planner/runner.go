package planner

import (
	"container/heap"

	"github.com/lumidb/lumidb/errors"
	"github.com/lumidb/lumidb/query"
)

// cachedPlanPenaltyFactor is the nScanned multiple past which a cached
// plan is considered to be losing and fallback plans are promoted
// (spec.md §4.3).
const cachedPlanPenaltyFactor = 10

type opItem struct {
	op     QueryOp
	offset int
}

// opQueue is the runner's priority queue, a min-heap keyed by
// (nScanned + offset) - spec.md §9's "priority queue" design note. Offsets
// are negative credits used only to punish a running cached plan; they are
// never persisted.
type opQueue []*opItem

func (q opQueue) Len() int { return len(q) }
func (q opQueue) Less(i, j int) bool {
	return q[i].op.NScanned()+q[i].offset < q[j].op.NScanned()+q[j].offset
}
func (q opQueue) Swap(i, j int)      { q[i], q[j] = q[j], q[i] }
func (q *opQueue) Push(x any)        { *q = append(*q, x.(*opItem)) }
func (q *opQueue) Pop() any {
	old := *q
	n := len(old)
	item := old[n-1]
	*q = old[:n-1]
	return item
}

// Runner races one QueryOp worker per plan, scheduling cooperatively via
// the priority queue, and records the winner into the plan cache
// (spec.md §4.3).
type Runner struct {
	ns *Namespace
	ps *PlanSet
	q  query.Query

	queue   opQueue
	done    bool
	retried bool
}

// NewRunner constructs a Runner over ps, cloning baseOp once per plan. q is
// the query ps was built from - kept so the Retry rule (spec.md §4.3/§4.7)
// can rebuild a fresh plan set from scratch if ps's cached plan fails init.
func NewRunner(ns *Namespace, ps *PlanSet, q query.Query) *Runner {
	return &Runner{ns: ns, ps: ps, q: q}
}

// Init creates a child op per plan and calls Init() under the exception
// guard. If any op already reports complete, it is returned immediately.
// Errored ops are excluded from the queue. If the queue ends up empty, Init
// returns a nil op and the first op's exception.
func (r *Runner) Init(baseOp QueryOp) (QueryOp, error) {
	if len(r.ps.Plans) == 0 {
		return nil, errors.Wrap(nil, errors.NoViablePlan, "plan set has no plans")
	}
	ops := make([]QueryOp, 0, len(r.ps.Plans))
	for _, plan := range r.ps.Plans {
		child := baseOp.CreateChild()
		child.SetQueryPlan(plan)
		_ = guardOp(child, child.Init)
		ops = append(ops, child)
	}
	for _, op := range ops {
		if op.IsError() {
			continue
		}
		if op.Complete() {
			return op, nil
		}
	}
	heap.Init(&r.queue)
	for _, op := range ops {
		if op.IsError() {
			continue
		}
		heap.Push(&r.queue, &opItem{op: op})
	}
	if r.queue.Len() == 0 {
		// Every op failed to initialize - the plan set itself is
		// unusable, the case the Retry rule exists for (spec.md §4.3).
		return nil, ops[0].Exception()
	}
	return nil, nil
}

// Step pops one op, advances it once, and applies the cached-plan penalty
// rule. It returns a non-nil op when that op just produced a result or
// completed (the winner);
// a non-nil error when the popped op errored (the caller drops it and
// keeps driving); both nil to mean "keep calling Step".
func (r *Runner) Step(special bool) (QueryOp, error) {
	if r.queue.Len() == 0 {
		return nil, errors.Wrap(nil, errors.NoViablePlan, "no remaining query ops")
	}
	item := heap.Pop(&r.queue).(*opItem)
	op := item.op
	_ = guardOp(op, op.Next)

	if op.IsError() {
		return nil, op.Exception()
	}

	// A plan "wins" the moment it produces a result or proves itself
	// complete (e.g. an impossible plan completing with no result at
	// all) - it is then used exclusively for the rest of the query,
	// the idiomatic analogue of the source system's winning-plan
	// handoff (spec.md §4.3).
	if _, hasResult := op.Result(); op.Complete() || hasResult {
		if r.ps.MayRecordPlan && op.MayRecordPlan() && r.ns.Cache != nil {
			r.ns.Cache.RegisterIndexForPattern(r.ps.Pattern, op.QueryPlan().IndexKey(), op.NScanned())
		}
		r.done = true
		return op, nil
	}

	if r.ps.UsingCachedPlan && !special {
		oldNScanned := r.ns.Cache.NScannedForPattern(r.ps.Pattern)
		if oldNScanned > 0 && op.NScanned() > cachedPlanPenaltyFactor*oldNScanned {
			r.ps.AddFallbackPlans()
			penalty := -op.NScanned()
			heap.Push(&r.queue, &opItem{op: op, offset: penalty})
			for _, plan := range r.ps.Plans[1:] {
				child := op.CreateChild()
				child.SetQueryPlan(plan)
				if guardOp(child, child.Init) == nil && !child.IsError() {
					heap.Push(&r.queue, &opItem{op: child})
				}
			}
			r.ps.UsingCachedPlan = false
			return nil, nil
		}
	}

	heap.Push(&r.queue, item)
	return nil, nil
}

// Done reports whether the runner has produced a winner.
func (r *Runner) Done() bool { return r.done }

// Run drives Init then Step until a winner is found or the queue drains.
func (r *Runner) Run(baseOp QueryOp, special bool) (QueryOp, error) {
	winner, err := r.Init(baseOp)
	if err != nil {
		return r.retryOrFail(baseOp, special, err)
	}
	if winner != nil {
		return winner, nil
	}
	for r.queue.Len() > 0 {
		op, err := r.Step(special)
		if err != nil {
			continue
		}
		if op != nil {
			return op, nil
		}
	}
	return nil, errors.Wrap(nil, errors.NoViablePlan, "every query op errored or exhausted without a result")
}

// retryOrFail implements the Retry rule (spec.md §4.3 "Retry" / §4.7
// prepareToRetryQuery): if the plan set's first op errored on init because
// it came from a stale cached plan, clear that cache entry and rebuild the
// plan set from scratch exactly once. A second failure is fatal - RetryLoop,
// never a second retry.
func (r *Runner) retryOrFail(baseOp QueryOp, special bool, initErr error) (QueryOp, error) {
	if r.retried {
		return nil, errors.Wrap(initErr, errors.RetryLoop, "plan set failed to initialize after one retry")
	}
	if errors.Is(initErr, errors.NoViablePlan) || !r.ps.UsingCachedPlan {
		return nil, initErr
	}

	r.retried = true
	if r.ns.Cache != nil {
		r.ns.Cache.Invalidate(r.ps.Pattern)
	}
	ps, err := BuildPlanSet(r.ns, r.q)
	if err != nil {
		return nil, err
	}
	r.ps = ps
	r.queue = nil
	r.done = false
	return r.Run(baseOp, special)
}
