package planner

import (
	"github.com/lumidb/lumidb/errors"
	"github.com/lumidb/lumidb/kv"
	"github.com/lumidb/lumidb/query"
)

// QueryOp is the per-plan worker the Runner races. It is the Go analogue
// of the source system's polymorphic QueryOp/Cursor pairing described in
// spec.md §9's dynamic-dispatch note.
type QueryOp interface {
	Init() error
	Next() error
	Complete() bool
	CompleteWithoutStop() bool
	IsError() bool
	SetException(err error)
	Exception() error
	NScanned() int
	CreateChild() QueryOp
	SetQueryPlan(p *QueryPlan)
	QueryPlan() *QueryPlan
	PrepareToYield()
	RecoverFromYield()
	// Result returns the most recently matched document id and whether
	// one is available.
	Result() (id string, ok bool)
	MayRecordPlan() bool
}

// Evaluator fetches and matches a document by id against wheres. Supplied
// by the caller (lumidb.DB) so the planner package stays storage-agnostic
// beyond the Cursor abstraction - it never reads a document body itself.
type Evaluator func(id string, wheres []query.Where) (bool, error)

// guardOp is the uniform exception guard of spec.md §7: it runs fn and, on
// error, attaches the failure to op via SetException rather than letting it
// propagate, so one plan's failure never aborts the runner. A panic from a
// misbehaving plugin cursor is recovered and converted to a PlanRuntime
// error, the idiomatic Go stand-in for the source system's catch(...).
func guardOp(op QueryOp, fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errors.Wrap(nil, errors.PlanRuntime, "panic in query op: %v", r)
			op.SetException(err)
		}
	}()
	if err = fn(); err != nil {
		err = errors.Wrap(err, errors.PlanRuntime, "")
		op.SetException(err)
		return err
	}
	return nil
}

// cursorOp wraps a QueryPlan's Cursor with the collection's matcher,
// advancing the cursor by exactly one candidate per Next call and checking
// that candidate against the matcher.
type cursorOp struct {
	plan      *QueryPlan
	cursor    Cursor
	kvdb      kv.DB
	coll      string
	wheres    []query.Where
	limit     int
	returned  int
	evaluator Evaluator

	complete    bool
	withoutStop bool
	errored     bool
	err         error

	currID string
	hasRes bool
}

func newCursorOp(kvdb kv.DB, coll string, wheres []query.Where, limit int, eval Evaluator) *cursorOp {
	return &cursorOp{kvdb: kvdb, coll: coll, wheres: wheres, limit: limit, evaluator: eval}
}

// NewQueryOp constructs the root QueryOp a caller passes to Runner.Run or
// NewOrDriver: an uninitialized template each candidate plan clones via
// CreateChild.
func NewQueryOp(kvdb kv.DB, coll string, wheres []query.Where, limit int, eval Evaluator) QueryOp {
	return newCursorOp(kvdb, coll, wheres, limit, eval)
}

func (o *cursorOp) Init() error {
	if o.plan == nil {
		return errors.Wrap(nil, errors.Internal, "query op initialized without a plan")
	}
	if o.plan.Impossible {
		o.cursor = newEmptyCursor()
		o.complete = true
		o.withoutStop = true
		return nil
	}
	o.cursor = o.plan.NewCursor(o.kvdb, o.coll)
	return nil
}

// Next advances the cursor by exactly one candidate - a single unit of
// "real work" the Runner's priority queue can compare across plans. A
// caller that wants every match loops calling Next until Complete, the
// way DB.Query and MultiCursor already do; anything coarser would let
// one plan's Next silently outrun its competitors and defeat the race.
func (o *cursorOp) Next() error {
	if o.complete || o.errored {
		return nil
	}
	o.hasRes = false
	if !o.cursor.Advance() {
		o.complete = true
		if o.returned == 0 {
			o.withoutStop = true
		}
		return nil
	}
	id := o.cursor.CurrLoc()
	matched, err := o.evaluate(id)
	if err != nil {
		return err
	}
	if !matched {
		return nil
	}
	o.currID = id
	o.hasRes = true
	o.returned++
	if o.limit > 0 && o.returned >= o.limit {
		o.complete = true
	}
	return nil
}

func (o *cursorOp) evaluate(id string) (bool, error) {
	if o.evaluator == nil {
		return true, nil
	}
	return o.evaluator(id, o.wheres)
}

func (o *cursorOp) Complete() bool            { return o.complete }
func (o *cursorOp) CompleteWithoutStop() bool { return o.withoutStop }
func (o *cursorOp) IsError() bool             { return o.errored }
func (o *cursorOp) SetException(err error)    { o.errored = true; o.err = err }
func (o *cursorOp) Exception() error          { return o.err }

func (o *cursorOp) NScanned() int {
	if o.cursor == nil {
		return 0
	}
	return o.cursor.NScanned()
}

func (o *cursorOp) SetQueryPlan(p *QueryPlan) { o.plan = p }
func (o *cursorOp) QueryPlan() *QueryPlan     { return o.plan }

func (o *cursorOp) PrepareToYield() {
	if o.cursor != nil {
		o.cursor.PrepareToYield()
	}
}

func (o *cursorOp) RecoverFromYield() {
	if o.cursor != nil {
		o.cursor.RecoverFromYield()
	}
}

func (o *cursorOp) Result() (string, bool) { return o.currID, o.hasRes }
func (o *cursorOp) MayRecordPlan() bool    { return true }

func (o *cursorOp) CreateChild() QueryOp {
	return newCursorOp(o.kvdb, o.coll, o.wheres, o.limit, o.evaluator)
}
