// Package lumidb wires the collection registry, storage engine, plan cache,
// and change-stream notifications into a DB type exposing Query/Explain/
// Watch, grounded on the teacher's db.go/coreImp.go.
package lumidb

import (
	"context"
	"strings"
	"sync"

	"github.com/autom8ter/machine/v4"
	"github.com/go-playground/validator/v10"
	"github.com/palantir/stacktrace"
	"github.com/segmentio/ksuid"
	"github.com/xeipuuv/gojsonschema"

	"github.com/lumidb/lumidb/collection"
	"github.com/lumidb/lumidb/document"
	"github.com/lumidb/lumidb/errors"
	"github.com/lumidb/lumidb/internal/indexing"
	"github.com/lumidb/lumidb/kv"
	"github.com/lumidb/lumidb/kv/badger"
	"github.com/lumidb/lumidb/planner"
	"github.com/lumidb/lumidb/query"
	"github.com/lumidb/lumidb/rangeset"
	"github.com/lumidb/lumidb/textindex"
)

// Action describes the kind of write a ChangeEvent reports.
type Action string

const (
	ActionInsert Action = "insert"
	ActionUpdate Action = "update"
	ActionDelete Action = "delete"
)

// ChangeEvent is published on every successful write, the Go analogue of
// the teacher's core.StateChange (spec.md §4.12).
type ChangeEvent struct {
	Collection string
	DocumentID string
	Action     Action
}

// ChangeHandler processes one ChangeEvent; returning an error stops the
// subscription.
type ChangeHandler func(ctx context.Context, evt ChangeEvent) error

// DB is lumidb's embedded document database: a collection registry, a
// BadgerDB-backed storage engine, per-collection planner namespaces and
// plan caches, and a change-stream publisher.
type DB struct {
	cfg    Config
	logger Logger
	kv     kv.DB
	mu     sync.RWMutex

	collections map[string]*collection.Collection
	namespaces  map[string]*planner.Namespace
	text        map[string]map[string]*textindex.Index // collection -> index name -> index

	machine machine.Machine
}

var cfgValidator = validator.New()

// Open constructs a DB from cfg, opening the storage engine and any text
// plugin indexes declared by cfg.Collections.
func Open(ctx context.Context, cfg Config) (*DB, error) {
	if err := cfgValidator.Struct(&cfg); err != nil {
		return nil, errors.Wrap(err, errors.Validation, "invalid config")
	}
	logger, err := NewLogger(cfg.LogLevel, map[string]any{"db": "lumidb"})
	if err != nil {
		return nil, err
	}
	store, err := badger.Open(cfg.Path)
	if err != nil {
		return nil, errors.Wrap(err, errors.Internal, "failed to open storage engine")
	}

	d := &DB{
		cfg:         cfg,
		logger:      logger,
		kv:          store,
		collections: map[string]*collection.Collection{},
		namespaces:  map[string]*planner.Namespace{},
		text:        map[string]map[string]*textindex.Index{},
		machine:     machine.New(),
	}

	for _, c := range cfg.Collections {
		if c == nil {
			continue
		}
		d.collections[c.Name()] = c
		plugins := map[string]planner.PluginIndex{}
		for _, idx := range c.Indexes() {
			if !idx.IsPlugin() {
				continue
			}
			fields := idx.FieldNames()
			if len(fields) != 1 {
				return nil, errors.Wrap(nil, errors.Validation, "text index %s.%s must have exactly one field", c.Name(), idx.Name)
			}
			ti, err := textindex.Open(cfg.Path, c.Name(), fields[0])
			if err != nil {
				return nil, err
			}
			if d.text[c.Name()] == nil {
				d.text[c.Name()] = map[string]*textindex.Index{}
			}
			d.text[c.Name()][idx.Name] = ti
			plugins[idx.Name] = ti
		}
		d.namespaces[c.Name()] = &planner.Namespace{
			Collection:  c,
			KV:          store,
			Plugins:     plugins,
			Cache:       planner.NewPlanCache(),
			NoTableScan: cfg.NoTableScan,
		}
		d.namespaces[c.Name()].Eval = d.evaluator(c.Name())
	}

	return d, nil
}

// Close releases the storage engine and every text index.
func (d *DB) Close() error {
	for _, byField := range d.text {
		for _, ti := range byField {
			_ = ti.Close()
		}
	}
	return d.kv.Close()
}

// Backfill re-derives every index entry for every document already stored
// in coll, the scan a newly declared index needs before it can serve
// queries (spec.md §4.13's createindex).
func (d *DB) Backfill(ctx context.Context, coll string) error {
	c, ok := d.collections[coll]
	if !ok {
		return errors.Wrap(nil, errors.NotFound, "unknown collection: %s", coll)
	}
	return d.kv.Tx(true, func(tx kv.Tx) error {
		it := tx.NewIterator(kv.IterOpts{Prefix: docKeyPrefix(coll)})
		defer it.Close()
		for ; it.Valid(); it.Next() {
			body, err := it.Item().Value()
			if err != nil {
				return err
			}
			doc, err := document.NewFromBytes(body)
			if err != nil {
				return err
			}
			id := doc.ID(c.PrimaryKey())
			for _, idx := range c.Indexes() {
				if idx.IsPlugin() {
					continue
				}
				if err := tx.Set(indexKeyFor(coll, idx, doc, id), []byte{}); err != nil {
					return err
				}
			}
			for _, ti := range d.text[coll] {
				if err := ti.Index(id, doc); err != nil {
					return err
				}
			}
		}
		return nil
	})
}

func docKeyPrefix(coll string) []byte {
	return []byte("doc\x00" + coll + "\x00")
}

func docKey(coll, id string) []byte {
	return append(docKeyPrefix(coll), []byte(id)...)
}

// wrap wraps a storage-layer error, switching between the terse
// errors.Wrap and stacktrace.Propagate's full call-chain trace based on
// Config.Debug (spec.md §6).
func (d *DB) wrap(err error, code errors.Code, msg string, args ...any) error {
	if d.cfg.Debug {
		return errors.Wrap(stacktrace.Propagate(err, msg, args...), code, "")
	}
	return errors.Wrap(err, code, msg, args...)
}

func (d *DB) namespace(coll string) (*planner.Namespace, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	ns, ok := d.namespaces[coll]
	if !ok {
		return nil, errors.Wrap(nil, errors.NotFound, "unknown collection: %s", coll)
	}
	return ns, nil
}

// evaluator builds the planner.Evaluator that fetches a document by id from
// storage and matches it against a flat conjunction of wheres.
func (d *DB) evaluator(coll string) planner.Evaluator {
	return func(id string, wheres []query.Where) (bool, error) {
		var body []byte
		err := d.kv.Tx(false, func(tx kv.Tx) error {
			b, err := tx.Get(docKey(coll, id))
			body = b
			return err
		})
		if err != nil || body == nil {
			return false, nil
		}
		doc, err := document.NewFromBytes(body)
		if err != nil {
			return false, errors.Wrap(err, errors.Internal, "corrupt document %s/%s", coll, id)
		}
		return doc.Where(wheres)
	}
}

// Insert writes a new document, maintaining every registered index and
// publishing a ChangeEvent.
func (d *DB) Insert(ctx context.Context, coll string, doc *document.Document) error {
	c, ok := d.collections[coll]
	if !ok {
		return errors.Wrap(nil, errors.NotFound, "unknown collection: %s", coll)
	}
	id := doc.ID(c.PrimaryKey())
	if id == "" {
		if !c.GeneratesIDs() {
			return errors.Wrap(nil, errors.Validation, "document missing primary key %s", c.PrimaryKey())
		}
		id = ksuid.New().String()
		if err := doc.Set(c.PrimaryKey(), id); err != nil {
			return errors.Wrap(err, errors.Internal, "failed to assign generated primary key")
		}
	}
	if schema := c.Schema(); len(schema) > 0 {
		if err := validateSchema(schema, doc); err != nil {
			return err
		}
	}
	if err := d.kv.Tx(true, func(tx kv.Tx) error {
		if err := tx.Set(docKey(coll, id), doc.Bytes()); err != nil {
			return err
		}
		for _, idx := range c.Indexes() {
			if idx.IsPlugin() {
				continue
			}
			if err := tx.Set(indexKeyFor(coll, idx, doc, id), []byte{}); err != nil {
				return err
			}
		}
		return nil
	}); err != nil {
		return d.wrap(err, errors.Internal, "failed to insert %s/%s", coll, id)
	}
	for _, ti := range d.text[coll] {
		if err := ti.Index(id, doc); err != nil {
			return errors.Wrap(err, errors.Internal, "failed to index %s/%s into text index", coll, id)
		}
	}
	d.publish(ctx, coll, id, ActionInsert)
	return nil
}

// Delete removes a document and every registered index entry for it.
func (d *DB) Delete(ctx context.Context, coll, id string) error {
	c, ok := d.collections[coll]
	if !ok {
		return errors.Wrap(nil, errors.NotFound, "unknown collection: %s", coll)
	}
	var existing *document.Document
	if err := d.kv.Tx(true, func(tx kv.Tx) error {
		body, err := tx.Get(docKey(coll, id))
		if err != nil || body == nil {
			return errors.Wrap(nil, errors.NotFound, "document not found: %s/%s", coll, id)
		}
		existing, err = document.NewFromBytes(body)
		if err != nil {
			return err
		}
		if err := tx.Delete(docKey(coll, id)); err != nil {
			return err
		}
		for _, idx := range c.Indexes() {
			if idx.IsPlugin() {
				continue
			}
			if err := tx.Delete(indexKeyFor(coll, idx, existing, id)); err != nil {
				return err
			}
		}
		return nil
	}); err != nil {
		if errors.Is(err, errors.NotFound) {
			return err
		}
		return d.wrap(err, errors.Internal, "failed to delete %s/%s", coll, id)
	}
	for _, ti := range d.text[coll] {
		if err := ti.Delete(id); err != nil {
			return errors.Wrap(err, errors.Internal, "failed to remove %s/%s from text index", coll, id)
		}
	}
	d.publish(ctx, coll, id, ActionDelete)
	return nil
}

// validateSchema checks doc against a collection's registered JSON schema
// (draft-07), grounded on the teacher's schema.Collection.Validate.
func validateSchema(schema []byte, doc *document.Document) error {
	result, err := gojsonschema.Validate(gojsonschema.NewBytesLoader(schema), gojsonschema.NewBytesLoader(doc.Bytes()))
	if err != nil {
		return errors.Wrap(err, errors.Internal, "failed to load json schema")
	}
	if !result.Valid() {
		msgs := make([]string, 0, len(result.Errors()))
		for _, e := range result.Errors() {
			msgs = append(msgs, e.String())
		}
		return errors.Wrap(nil, errors.Validation, "document failed schema validation: %s", strings.Join(msgs, "; "))
	}
	return nil
}

func indexKeyFor(coll string, idx collection.IndexSpec, doc *document.Document, id string) []byte {
	p := indexing.SeekPrefix(coll, idx.Name, idx.FieldNames(), map[string]any{})
	for _, f := range idx.FieldNames() {
		p = p.Append(f, doc.Get(f))
	}
	return p.SetDocumentID(id).Path()
}

func (d *DB) publish(ctx context.Context, coll, id string, action Action) {
	d.machine.Publish(ctx, machine.Message{
		Channel: coll,
		Body:    ChangeEvent{Collection: coll, DocumentID: id, Action: action},
	})
}

// Watch subscribes fn to every ChangeEvent published for coll, until ctx is
// canceled or fn returns an error.
func (d *DB) Watch(ctx context.Context, coll string, fn ChangeHandler) error {
	return d.machine.Subscribe(ctx, coll, func(ctx context.Context, msg machine.Message) (bool, error) {
		evt, ok := msg.Body.(ChangeEvent)
		if !ok {
			return true, nil
		}
		if err := fn(ctx, evt); err != nil {
			return false, err
		}
		return true, nil
	})
}

// Query plans and runs q against coll, returning every matching document up
// to q.Limit (0 meaning unlimited).
func (d *DB) Query(ctx context.Context, coll string, q query.Query) (document.Documents, error) {
	q.Collection = coll
	ns, err := d.namespace(coll)
	if err != nil {
		return nil, err
	}

	var ids []string
	if q.HasOr() {
		driver := planner.NewOrDriver(ns, q)
		mc := planner.NewMultiCursor(driver)
		for mc.Advance() {
			ids = append(ids, mc.CurrLoc())
			if q.Limit > 0 && len(ids) >= q.Limit {
				break
			}
		}
	} else {
		ps, err := planner.BuildPlanSet(ns, q)
		if err != nil {
			return nil, err
		}
		if err := d.enforceNoTableScan(ns, ps, coll, q); err != nil {
			return nil, err
		}
		baseOp := planner.NewQueryOp(ns.KV, coll, q.Where, q.Limit, ns.Eval)
		runner := planner.NewRunner(ns, ps, q)
		winner, err := runner.Run(baseOp, false)
		if err != nil {
			return nil, err
		}
		// The winner now serves the rest of the query exclusively - the
		// losing plans are dropped, matching the source system's winning
		// plan handoff (spec.md §4.3).
		for {
			if id, hasRes := winner.Result(); hasRes {
				ids = append(ids, id)
			}
			if q.Limit > 0 && len(ids) >= q.Limit {
				break
			}
			if winner.Complete() {
				break
			}
			if err := winner.Next(); err != nil || winner.IsError() {
				if err == nil {
					err = winner.Exception()
				}
				return nil, err
			}
		}
	}

	docs := make(document.Documents, 0, len(ids))
	if err := d.kv.Tx(false, func(tx kv.Tx) error {
		for _, id := range ids {
			body, err := tx.Get(docKey(coll, id))
			if err != nil || body == nil {
				continue
			}
			doc, err := document.NewFromBytes(body)
			if err != nil {
				return err
			}
			docs = append(docs, doc)
		}
		return nil
	}); err != nil {
		return nil, d.wrap(err, errors.Internal, "failed to materialize query results")
	}
	return docs, nil
}

// enforceNoTableScan implements spec.md §6's admin gate: a table scan is
// rejected only when the predicate has at least one non-universal range and
// the namespace isn't exempt (local.* / *.system.*) - an empty predicate
// (no ranges at all) has nothing cheaper to fall back to and is let through.
func (d *DB) enforceNoTableScan(ns *planner.Namespace, ps *planner.PlanSet, coll string, q query.Query) error {
	if !ns.NoTableScan || isNoTableScanExempt(coll) {
		return nil
	}
	guess := ps.GetBestGuess()
	if guess == nil || !guess.IsTableScan() {
		return nil
	}
	if rangeset.BuildPair(q.Where).NumNonUniversalRanges() == 0 {
		return nil
	}
	return errors.Wrap(nil, errors.TableScanForbidden, "query requires an unindexed table scan and notablescan is set")
}

func isNoTableScanExempt(coll string) bool {
	return strings.HasPrefix(coll, "local.") || strings.Contains(coll, ".system.")
}

// PlanExplanation describes one candidate plan for Explain's output.
type PlanExplanation struct {
	Index        string `json:"index"`
	TableScan    bool   `json:"tableScan"`
	Optimal      bool   `json:"optimal"`
	ExactKey     bool   `json:"exactKeyMatch"`
	ScanAndOrder bool   `json:"scanAndOrderRequired"`
	Bounds       string `json:"bounds"`
}

// Explain builds q's PlanSet and describes every candidate plan without
// running any of them, the explain tree of spec.md §6.
func (d *DB) Explain(ctx context.Context, coll string, q query.Query) ([]PlanExplanation, error) {
	q.Collection = coll
	ns, err := d.namespace(coll)
	if err != nil {
		return nil, err
	}
	var clauses [][]query.Where
	if q.HasOr() {
		clauses = q.Or
	} else {
		clauses = [][]query.Where{q.Where}
	}
	var out []PlanExplanation
	for _, clause := range clauses {
		cq := q
		cq.Where = clause
		cq.Or = nil
		ps, err := planner.BuildPlanSet(ns, cq)
		if err != nil {
			return nil, err
		}
		for _, plan := range ps.Plans {
			cursor := plan.NewCursor(ns.KV, coll)
			out = append(out, PlanExplanation{
				Index:        plan.IndexKey(),
				TableScan:    plan.IsTableScan(),
				Optimal:      plan.Optimal,
				ExactKey:     plan.ExactKeyMatch,
				ScanAndOrder: plan.ScanAndOrderRequired,
				Bounds:       cursor.PrettyIndexBounds(),
			})
		}
	}
	return out, nil
}
