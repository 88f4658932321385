// Package textindex adapts a Bleve full-text index into a
// planner.PluginIndex, the plugin access path spec.md §4.6 and §6 call out
// alongside ordinary B-tree indexes.
package textindex

import (
	"fmt"
	"os"

	"github.com/blevesearch/bleve/v2"
	bleveQuery "github.com/blevesearch/bleve/v2/search/query"
	"github.com/palantir/stacktrace"
	"github.com/spf13/cast"

	"github.com/lumidb/lumidb/document"
	"github.com/lumidb/lumidb/planner"
	"github.com/lumidb/lumidb/query"
)

// Index is a Bleve-backed full-text index over one collection field set. It
// satisfies planner.PluginIndex, claiming query.WhereOpText clauses on its
// fields instead of participating in B-tree range planning.
type Index struct {
	collection string
	field      string
	idx        bleve.Index
}

// Open opens (or creates) the Bleve index for collection/field at
// storagePath, following the teacher's runtime.openFullTextIndex layout: an
// in-memory index when storagePath is empty, an on-disk index under
// "<storagePath>/search/<collection>/<field>/index.db" otherwise.
func Open(storagePath, collection, field string) (*Index, error) {
	documentMapping := bleve.NewDocumentMapping()
	documentMapping.AddFieldMappingsAt(field, bleve.NewTextFieldMapping())
	indexMapping := bleve.NewIndexMapping()
	indexMapping.AddDocumentMapping(collection, documentMapping)

	if storagePath == "" {
		i, err := bleve.NewMemOnly(indexMapping)
		if err != nil {
			return nil, stacktrace.Propagate(err, "failed to create %s.%s text index", collection, field)
		}
		return &Index{collection: collection, field: field, idx: i}, nil
	}

	path := fmt.Sprintf("%s/search/%s/%s/index.db", storagePath, collection, field)
	if i, err := bleve.Open(path); err == nil {
		return &Index{collection: collection, field: field, idx: i}, nil
	}
	if err := os.MkdirAll(path[:len(path)-len("/index.db")], 0o755); err != nil {
		return nil, stacktrace.Propagate(err, "failed to create %s.%s text index directory", collection, field)
	}
	i, err := bleve.New(path, indexMapping)
	if err != nil {
		return nil, stacktrace.Propagate(err, "failed to create %s.%s text index at %s", collection, field, path)
	}
	return &Index{collection: collection, field: field, idx: i}, nil
}

// Index upserts one document's field value into the text index.
func (t *Index) Index(id string, doc *document.Document) error {
	v := doc.Get(t.field)
	if v == nil {
		return t.idx.Delete(id)
	}
	return t.idx.Index(id, map[string]any{t.field: v})
}

// Delete removes a document from the text index.
func (t *Index) Delete(id string) error {
	return t.idx.Delete(id)
}

// Close releases the underlying Bleve index.
func (t *Index) Close() error {
	return t.idx.Close()
}

func (t *Index) textClause(wheres []query.Where) (query.Where, bool) {
	for _, w := range wheres {
		if w.Field == t.field && w.Op == query.WhereOpText {
			return w, true
		}
	}
	return query.Where{}, false
}

// Suitability reports Optimal for any query carrying a $text clause on this
// index's field, Useless otherwise (spec.md §4.1 step 3 / §4.6).
func (t *Index) Suitability(q query.Query, order []query.OrderBy) planner.Suitability {
	if _, ok := t.textClause(q.Where); ok {
		return planner.Optimal
	}
	return planner.Useless
}

// ScanAndOrderRequired is true whenever an order is requested: Bleve's
// relevance ranking is not a document field sort, so any requested order
// still needs a buffer-and-sort pass over the hits.
func (t *Index) ScanAndOrderRequired(q query.Query, order []query.OrderBy) bool {
	return len(order) > 0
}

// NewCursor runs the $text clause's query text against the Bleve index and
// returns a Cursor streaming the matching document ids in score order,
// grounded on the teacher's search.go query construction.
func (t *Index) NewCursor(q query.Query, order []query.OrderBy, numWanted int) planner.Cursor {
	w, ok := t.textClause(q.Where)
	if !ok {
		return newTextCursor(nil)
	}
	text := cast.ToString(w.Value)
	var bq bleveQuery.Query
	if text == "" {
		bq = bleve.NewMatchAllQuery()
	} else {
		mq := bleve.NewMatchQuery(text)
		mq.SetField(t.field)
		bq = mq
	}
	limit := numWanted
	if limit <= 0 {
		limit = 1000
	}
	req := bleve.NewSearchRequestOptions(bq, limit, 0, false)
	res, err := t.idx.Search(req)
	if err != nil {
		return newTextCursor(nil)
	}
	ids := make([]string, 0, len(res.Hits))
	for _, hit := range res.Hits {
		ids = append(ids, hit.ID)
	}
	return newTextCursor(ids)
}
