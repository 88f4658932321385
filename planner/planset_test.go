package planner_test

import (
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lumidb/lumidb/collection"
	"github.com/lumidb/lumidb/document"
	"github.com/lumidb/lumidb/errors"
	"github.com/lumidb/lumidb/internal/indexing"
	"github.com/lumidb/lumidb/kv"
	"github.com/lumidb/lumidb/kv/badger"
	"github.com/lumidb/lumidb/planner"
	"github.com/lumidb/lumidb/query"
	"github.com/lumidb/lumidb/rangeset"
)

// testNS builds an isolated in-memory namespace for coll, following the
// same wiring db.Open does (kv/badger + planner.NewPlanCache + an Evaluator
// that fetches and matches a document by id).
func testNS(t *testing.T, coll *collection.Collection) (*planner.Namespace, kv.DB) {
	t.Helper()
	store, err := badger.Open("")
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	ns := &planner.Namespace{
		Collection: coll,
		KV:         store,
		Cache:      planner.NewPlanCache(),
	}
	ns.Eval = func(id string, wheres []query.Where) (bool, error) {
		var body []byte
		err := store.Tx(false, func(tx kv.Tx) error {
			b, err := tx.Get(docKey(coll.Name(), id))
			body = b
			return err
		})
		if err != nil || body == nil {
			return false, nil
		}
		doc, err := document.NewFromBytes(body)
		if err != nil {
			return false, err
		}
		return doc.Where(wheres)
	}
	return ns, store
}

func docKey(coll, id string) []byte {
	return append([]byte("doc\x00"+coll+"\x00"), []byte(id)...)
}

// insertDoc writes doc plus one index entry per non-plugin index on coll,
// mirroring db.(*DB).Insert's storage layout.
func insertDoc(t *testing.T, store kv.DB, coll *collection.Collection, body string) {
	t.Helper()
	doc, err := document.NewFromBytes([]byte(body))
	require.NoError(t, err)
	id := doc.ID(coll.PrimaryKey())
	require.NotEmpty(t, id)

	require.NoError(t, store.Tx(true, func(tx kv.Tx) error {
		if err := tx.Set(docKey(coll.Name(), id), doc.Bytes()); err != nil {
			return err
		}
		for _, idx := range coll.Indexes() {
			if idx.IsPlugin() {
				continue
			}
			p := indexing.SeekPrefix(coll.Name(), idx.Name, idx.FieldNames(), map[string]any{})
			for _, f := range idx.FieldNames() {
				p = p.Append(f, doc.Get(f))
			}
			if err := tx.Set(p.SetDocumentID(id).Path(), []byte{}); err != nil {
				return err
			}
		}
		return nil
	}))
}

func runQuery(t *testing.T, ns *planner.Namespace, store kv.DB, coll string, q query.Query) planner.QueryOp {
	t.Helper()
	ps, err := planner.BuildPlanSet(ns, q)
	require.NoError(t, err)
	baseOp := planner.NewQueryOp(store, coll, q.Where, q.Limit, ns.Eval)
	runner := planner.NewRunner(ns, ps, q)
	winner, err := runner.Run(baseOp, false)
	require.NoError(t, err)
	return winner
}

// drain collects every result id off winner, exactly as DB.Query does.
func drain(t *testing.T, winner planner.QueryOp) []string {
	t.Helper()
	var ids []string
	for {
		if id, ok := winner.Result(); ok {
			ids = append(ids, id)
		}
		if winner.Complete() {
			break
		}
		require.NoError(t, winner.Next())
		require.False(t, winner.IsError())
	}
	return ids
}

func TestSimpleIDEquality(t *testing.T) {
	coll := collection.New("users", "_id")
	ns, store := testNS(t, coll)
	insertDoc(t, store, coll, `{"_id":"1","name":"eve"}`)
	insertDoc(t, store, coll, `{"_id":"2","name":"mallory"}`)

	q := query.Query{Where: []query.Where{{Field: "_id", Op: query.WhereOpEq, Value: "1"}}}
	ps, err := planner.BuildPlanSet(ns, q)
	require.NoError(t, err)
	require.Len(t, ps.Plans, 1)
	assert.True(t, ps.Plans[0].ExactKeyMatch)

	winner := runQuery(t, ns, store, "users", q)
	assert.Equal(t, []string{"1"}, drain(t, winner))
}

func TestSortByIndexedPrefix(t *testing.T) {
	coll := collection.New("events", "_id", collection.WithIndex(collection.IndexSpec{
		Name: "account_created",
		Fields: []collection.FieldDir{
			{Field: "account_id", Direction: query.OrderAsc},
			{Field: "created_at", Direction: query.OrderAsc},
		},
	}))
	ns, store := testNS(t, coll)
	insertDoc(t, store, coll, `{"_id":"1","account_id":"a","created_at":3}`)
	insertDoc(t, store, coll, `{"_id":"2","account_id":"a","created_at":1}`)
	insertDoc(t, store, coll, `{"_id":"3","account_id":"a","created_at":2}`)
	insertDoc(t, store, coll, `{"_id":"4","account_id":"b","created_at":0}`)

	q := query.Query{
		Where:   []query.Where{{Field: "account_id", Op: query.WhereOpEq, Value: "a"}},
		OrderBy: []query.OrderBy{{Field: "created_at", Direction: query.OrderAsc}},
	}
	ps, err := planner.BuildPlanSet(ns, q)
	require.NoError(t, err)
	require.NotEmpty(t, ps.Plans)
	assert.False(t, ps.Plans[0].ScanAndOrderRequired, "sorting by an indexed suffix after an equality prefix needs no buffer-and-sort")
	assert.Equal(t, "account_created", ps.Plans[0].Index.Name)
	assert.True(t, ps.Plans[0].Optimal)

	winner := runQuery(t, ns, store, "events", q)
	assert.Equal(t, []string{"2", "3", "1"}, drain(t, winner))
}

func TestSortDirectionConflict(t *testing.T) {
	coll := collection.New("events", "_id", collection.WithIndex(collection.IndexSpec{
		Name: "account_created",
		Fields: []collection.FieldDir{
			{Field: "account_id", Direction: query.OrderAsc},
			{Field: "created_at", Direction: query.OrderAsc},
		},
	}))
	ns, _ := testNS(t, coll)

	q := query.Query{
		Where: []query.Where{{Field: "account_id", Op: query.WhereOpEq, Value: "a"}},
		OrderBy: []query.OrderBy{
			{Field: "account_id", Direction: query.OrderAsc},
			{Field: "created_at", Direction: query.OrderDesc},
		},
	}
	ps, err := planner.BuildPlanSet(ns, q)
	require.NoError(t, err)
	require.NotEmpty(t, ps.Plans)
	assert.Equal(t, "account_created", ps.Plans[0].Index.Name)
	assert.True(t, ps.Plans[0].ScanAndOrderRequired, "asc-then-desc can't be satisfied by an all-ascending compound index without a buffer-and-sort")
}

func TestImpossiblePredicate(t *testing.T) {
	coll := collection.New("users", "_id")
	ns, store := testNS(t, coll)
	insertDoc(t, store, coll, `{"_id":"1"}`)

	q := query.Query{Where: []query.Where{
		{Field: "status", Op: query.WhereOpEq, Value: "open"},
		{Field: "status", Op: query.WhereOpEq, Value: "closed"},
	}}
	ps, err := planner.BuildPlanSet(ns, q)
	require.NoError(t, err)
	require.Len(t, ps.Plans, 1)
	assert.True(t, ps.Plans[0].Impossible)

	winner := runQuery(t, ns, store, "users", q)
	assert.Empty(t, drain(t, winner))
}

func TestOrClauseDedup(t *testing.T) {
	coll := collection.New("users", "_id", collection.WithIndex(collection.IndexSpec{
		Name:   "account_idx",
		Fields: []collection.FieldDir{{Field: "account_id", Direction: query.OrderAsc}},
	}))
	ns, _ := testNS(t, coll)
	store := ns.KV
	insertDoc(t, store, coll, `{"_id":"1","account_id":"a"}`)
	insertDoc(t, store, coll, `{"_id":"2","account_id":"b"}`)
	insertDoc(t, store, coll, `{"_id":"3","account_id":"c"}`)

	q := query.Query{
		Or: [][]query.Where{
			{{Field: "account_id", Op: query.WhereOpEq, Value: "a"}},
			{{Field: "account_id", Op: query.WhereOpEq, Value: "a"}},
			{{Field: "account_id", Op: query.WhereOpEq, Value: "c"}},
		},
	}
	driver := planner.NewOrDriver(ns, q)
	mc := planner.NewMultiCursor(driver)

	var ids []string
	for mc.Advance() {
		ids = append(ids, mc.CurrLoc())
	}
	assert.ElementsMatch(t, []string{"1", "3"}, ids, "a duplicate clause must not surface the same document twice")
}

// TestOrDriverUselessWhenAnyClauseHasNoIndex exercises spec.md §4.6's
// uselessOr: a $or is useless the moment ANY clause can only be answered by
// a table scan, even when every other clause has a perfectly good index.
func TestOrDriverUselessWhenAnyClauseHasNoIndex(t *testing.T) {
	coll := collection.New("users", "_id", collection.WithIndex(collection.IndexSpec{
		Name:   "account_idx",
		Fields: []collection.FieldDir{{Field: "account_id", Direction: query.OrderAsc}},
	}))
	ns, _ := testNS(t, coll)

	q := query.Query{
		Or: [][]query.Where{
			{{Field: "account_id", Op: query.WhereOpEq, Value: "a"}},
			{{Field: "unindexed_field", Op: query.WhereOpEq, Value: "x"}},
		},
	}
	driver := planner.NewOrDriver(ns, q)
	assert.True(t, driver.Useless(), "a clause with no usable index makes the whole $or useless, even though the first clause is indexed")
}

func TestOrDriverNotUselessWhenEveryClauseHasIndex(t *testing.T) {
	coll := collection.New("users", "_id", collection.WithIndex(collection.IndexSpec{
		Name:   "account_idx",
		Fields: []collection.FieldDir{{Field: "account_id", Direction: query.OrderAsc}},
	}))
	ns, _ := testNS(t, coll)

	q := query.Query{
		Or: [][]query.Where{
			{{Field: "account_id", Op: query.WhereOpEq, Value: "a"}},
			{{Field: "account_id", Op: query.WhereOpEq, Value: "b"}},
		},
	}
	driver := planner.NewOrDriver(ns, q)
	assert.False(t, driver.Useless())
}

// TestCachedPlanPenaltyPromotesFallback exercises the Runner's fallback
// promotion: a recorded plan whose predicted nScanned (from a cache entry
// seeded as if an earlier, smaller collection had recorded it) is wildly
// exceeded by its actual cost triggers AddFallbackPlans and a switch to a
// cheaper index (spec.md §4.3, cachedPlanPenaltyFactor).
func TestCachedPlanPenaltyPromotesFallback(t *testing.T) {
	coll := collection.New("tickets", "_id",
		collection.WithIndex(collection.IndexSpec{
			Name:   "by_status",
			Fields: []collection.FieldDir{{Field: "status", Direction: query.OrderAsc}},
		}),
		collection.WithIndex(collection.IndexSpec{
			Name:   "by_priority",
			Fields: []collection.FieldDir{{Field: "priority", Direction: query.OrderAsc}},
		}),
	)
	ns, store := testNS(t, coll)

	for i := 1; i <= 18; i++ {
		insertDoc(t, store, coll, docWithStatusPriority(i, "open", i))
	}
	insertDoc(t, store, coll, docWithStatusPriority(19, "closed", 19))
	insertDoc(t, store, coll, docWithStatusPriority(20, "closed", 20))

	q := query.Query{
		Where: []query.Where{
			{Field: "status", Op: query.WhereOpEq, Value: "open"},
			{Field: "priority", Op: query.WhereOpEq, Value: float64(5)},
		},
		RecordedPlanPolicy: query.PolicyUse,
	}

	// Seed the cache as though an earlier run recorded "by_status" as the
	// winner while scanning only 1 document - now stale against the 18
	// "open" documents a real run must walk before hitting priority 5.
	pattern := rangeset.Build(q.Where).Pattern(q.OrderBy)
	ns.Cache.RegisterIndexForPattern(pattern, "by_status", 1)

	ps, err := planner.BuildPlanSet(ns, q)
	require.NoError(t, err)
	require.True(t, ps.UsingCachedPlan)
	require.Equal(t, "by_status", ps.Plans[0].Index.Name)

	baseOp := planner.NewQueryOp(store, "tickets", q.Where, q.Limit, ns.Eval)
	runner := planner.NewRunner(ns, ps, q)
	winner, err := runner.Run(baseOp, false)
	require.NoError(t, err)

	ids := drain(t, winner)
	require.Equal(t, []string{"5"}, ids)
	assert.Equal(t, "by_priority", winner.QueryPlan().Index.Name, "the penalized cached plan should have been displaced by the fallback")
}

func docWithStatusPriority(id int, status string, priority int) string {
	return `{"_id":"` + strconv.Itoa(id) + `","status":"` + status + `","priority":` + strconv.Itoa(priority) + `}`
}

// fakeOp is a minimal planner.QueryOp double used only to drive Runner's
// Retry rule (spec.md §4.3/§4.7) deterministically: a real stale-cursor
// init failure is hard to provoke through the real cursor types, so these
// tests control exactly which attempt fails via CreateChild's counter.
type fakeOp struct {
	attempts   *int
	alwaysFail bool
	failInit   bool
	errored    bool
	err        error
	complete   bool
	plan       *planner.QueryPlan
}

func newFakeRootOp(alwaysFail bool) *fakeOp {
	n := 0
	return &fakeOp{attempts: &n, alwaysFail: alwaysFail}
}

func (f *fakeOp) Init() error {
	if f.failInit {
		return errors.Wrap(nil, errors.PlanRuntime, "stale cursor")
	}
	f.complete = true
	return nil
}
func (f *fakeOp) Next() error                       { return nil }
func (f *fakeOp) Complete() bool                    { return f.complete }
func (f *fakeOp) CompleteWithoutStop() bool         { return false }
func (f *fakeOp) IsError() bool                     { return f.errored }
func (f *fakeOp) SetException(err error)            { f.errored = true; f.err = err }
func (f *fakeOp) Exception() error                  { return f.err }
func (f *fakeOp) NScanned() int                     { return 0 }
func (f *fakeOp) SetQueryPlan(p *planner.QueryPlan) { f.plan = p }
func (f *fakeOp) QueryPlan() *planner.QueryPlan     { return f.plan }
func (f *fakeOp) PrepareToYield()                   {}
func (f *fakeOp) RecoverFromYield()                 {}
func (f *fakeOp) Result() (string, bool)            { return "", false }
func (f *fakeOp) MayRecordPlan() bool               { return true }
func (f *fakeOp) CreateChild() planner.QueryOp {
	*f.attempts++
	return &fakeOp{attempts: f.attempts, alwaysFail: f.alwaysFail, failInit: f.alwaysFail || *f.attempts == 1}
}

func TestRunnerRetryRebuildsPlanSetOnce(t *testing.T) {
	coll := collection.New("users", "_id")
	ns, _ := testNS(t, coll)
	ns.Cache.RegisterIndexForPattern("stale-pattern", "some-index", 5)

	ps := &planner.PlanSet{
		Plans:           []*planner.QueryPlan{{}},
		UsingCachedPlan: true,
		Pattern:         "stale-pattern",
	}
	runner := planner.NewRunner(ns, ps, query.Query{})

	winner, err := runner.Run(newFakeRootOp(false), false)
	require.NoError(t, err)
	assert.True(t, winner.Complete())

	_, ok := ns.Cache.IndexForPattern("stale-pattern")
	assert.False(t, ok, "the stale cache entry must be cleared by the retry")
}

func TestRunnerRetryLoopIsFatalOnSecondFailure(t *testing.T) {
	coll := collection.New("users", "_id")
	ns, _ := testNS(t, coll)

	ps := &planner.PlanSet{
		Plans:           []*planner.QueryPlan{{}},
		UsingCachedPlan: true,
		Pattern:         "stale-pattern",
	}
	runner := planner.NewRunner(ns, ps, query.Query{})

	_, err := runner.Run(newFakeRootOp(true), false)
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.RetryLoop), "a second init failure must fail fatally, never retry again")
}

func TestNoViablePlanError(t *testing.T) {
	coll := collection.New("users", "_id")
	ns, _ := testNS(t, coll)

	ps := &planner.PlanSet{}
	runner := planner.NewRunner(ns, ps, query.Query{})
	_, err := runner.Run(planner.NewQueryOp(ns.KV, "users", nil, 0, ns.Eval), false)
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.NoViablePlan))
}
