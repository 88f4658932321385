package lumidb_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lumidb/lumidb"
	"github.com/lumidb/lumidb/collection"
	"github.com/lumidb/lumidb/document"
	"github.com/lumidb/lumidb/query"
)

func newTestDB(t *testing.T, colls ...*collection.Collection) *lumidb.DB {
	t.Helper()
	db, err := lumidb.Open(context.Background(), lumidb.Config{
		LogLevel:    "error",
		Collections: colls,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func usersCollection() *collection.Collection {
	return collection.New("users", "_id", collection.WithIndex(collection.IndexSpec{
		Name:   "account_idx",
		Fields: []collection.FieldDir{{Field: "account_id", Direction: query.OrderAsc}},
	}))
}

func mustDoc(t *testing.T, v string) *document.Document {
	t.Helper()
	doc, err := document.NewFromBytes([]byte(v))
	require.NoError(t, err)
	return doc
}

func TestInsertAndQuery(t *testing.T) {
	db := newTestDB(t, usersCollection())
	ctx := context.Background()

	require.NoError(t, db.Insert(ctx, "users", mustDoc(t, `{"_id":"1","account_id":"a","name":"eve"}`)))
	require.NoError(t, db.Insert(ctx, "users", mustDoc(t, `{"_id":"2","account_id":"b","name":"mallory"}`)))

	t.Run("simple id equality", func(t *testing.T) {
		docs, err := db.Query(ctx, "users", query.Query{
			Where: []query.Where{{Field: "_id", Op: query.WhereOpEq, Value: "1"}},
		})
		require.NoError(t, err)
		require.Len(t, docs, 1)
		assert.Equal(t, "eve", docs[0].GetString("name"))
	})

	t.Run("secondary index equality", func(t *testing.T) {
		docs, err := db.Query(ctx, "users", query.Query{
			Where: []query.Where{{Field: "account_id", Op: query.WhereOpEq, Value: "b"}},
		})
		require.NoError(t, err)
		require.Len(t, docs, 1)
		assert.Equal(t, "mallory", docs[0].GetString("name"))
	})

	t.Run("no match", func(t *testing.T) {
		docs, err := db.Query(ctx, "users", query.Query{
			Where: []query.Where{{Field: "account_id", Op: query.WhereOpEq, Value: "missing"}},
		})
		require.NoError(t, err)
		assert.Empty(t, docs)
	})
}

func TestOrQuery(t *testing.T) {
	db := newTestDB(t, usersCollection())
	ctx := context.Background()
	require.NoError(t, db.Insert(ctx, "users", mustDoc(t, `{"_id":"1","account_id":"a"}`)))
	require.NoError(t, db.Insert(ctx, "users", mustDoc(t, `{"_id":"2","account_id":"b"}`)))
	require.NoError(t, db.Insert(ctx, "users", mustDoc(t, `{"_id":"3","account_id":"c"}`)))

	docs, err := db.Query(ctx, "users", query.Query{
		Or: [][]query.Where{
			{{Field: "account_id", Op: query.WhereOpEq, Value: "a"}},
			{{Field: "account_id", Op: query.WhereOpEq, Value: "c"}},
		},
	})
	require.NoError(t, err)
	require.Len(t, docs, 2)

	ids := map[string]bool{}
	for _, d := range docs {
		ids[d.GetString("_id")] = true
	}
	assert.True(t, ids["1"])
	assert.True(t, ids["3"])
	assert.False(t, ids["2"])
}

func TestDelete(t *testing.T) {
	db := newTestDB(t, usersCollection())
	ctx := context.Background()
	require.NoError(t, db.Insert(ctx, "users", mustDoc(t, `{"_id":"1","account_id":"a"}`)))

	require.NoError(t, db.Delete(ctx, "users", "1"))

	docs, err := db.Query(ctx, "users", query.Query{
		Where: []query.Where{{Field: "_id", Op: query.WhereOpEq, Value: "1"}},
	})
	require.NoError(t, err)
	assert.Empty(t, docs)

	err = db.Delete(ctx, "users", "1")
	assert.Error(t, err)
}

func TestExplain(t *testing.T) {
	db := newTestDB(t, usersCollection())
	ctx := context.Background()

	plans, err := db.Explain(ctx, "users", query.Query{
		Where: []query.Where{{Field: "account_id", Op: query.WhereOpEq, Value: "a"}},
	})
	require.NoError(t, err)
	require.NotEmpty(t, plans)
	assert.Equal(t, "account_idx", plans[0].Index)
	assert.False(t, plans[0].TableScan)
}

func TestGeneratedIDs(t *testing.T) {
	coll := collection.New("events", "_id", collection.WithGeneratedIDs())
	db := newTestDB(t, coll)
	ctx := context.Background()

	require.NoError(t, db.Insert(ctx, "events", mustDoc(t, `{"kind":"click"}`)))

	docs, err := db.Query(ctx, "events", query.Query{})
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.NotEmpty(t, docs[0].GetString("_id"))
}

func TestSchemaValidation(t *testing.T) {
	schema := []byte(`{
		"type": "object",
		"required": ["_id", "email"],
		"properties": {"email": {"type": "string"}}
	}`)
	coll := collection.New("accounts", "_id", collection.WithSchema(schema))
	db := newTestDB(t, coll)
	ctx := context.Background()

	err := db.Insert(ctx, "accounts", mustDoc(t, `{"_id":"1"}`))
	assert.Error(t, err)

	require.NoError(t, db.Insert(ctx, "accounts", mustDoc(t, `{"_id":"1","email":"a@b.com"}`)))
}

func TestNoTableScanRejectsUnindexedQuery(t *testing.T) {
	db, err := lumidb.Open(context.Background(), lumidb.Config{
		LogLevel:    "error",
		NoTableScan: true,
		Collections: []*collection.Collection{usersCollection()},
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	_, err = db.Query(context.Background(), "users", query.Query{
		Where: []query.Where{{Field: "name", Op: query.WhereOpEq, Value: "eve"}},
	})
	assert.Error(t, err)
}

func TestNoTableScanAllowsEmptyPredicate(t *testing.T) {
	db, err := lumidb.Open(context.Background(), lumidb.Config{
		LogLevel:    "error",
		NoTableScan: true,
		Collections: []*collection.Collection{usersCollection()},
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	_, err = db.Query(context.Background(), "users", query.Query{})
	assert.NoError(t, err)
}

func TestBackfill(t *testing.T) {
	base := collection.New("users", "_id")
	db := newTestDB(t, base)
	ctx := context.Background()
	require.NoError(t, db.Insert(ctx, "users", mustDoc(t, `{"_id":"1","account_id":"a"}`)))

	require.NoError(t, db.Backfill(ctx, "users"))
}

func TestWatch(t *testing.T) {
	db := newTestDB(t, usersCollection())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var received lumidb.ChangeEvent
	done := make(chan struct{})
	go func() {
		_ = db.Watch(ctx, "users", func(_ context.Context, evt lumidb.ChangeEvent) error {
			received = evt
			close(done)
			return nil
		})
	}()
	time.Sleep(100 * time.Millisecond)

	require.NoError(t, db.Insert(context.Background(), "users", mustDoc(t, `{"_id":"1","account_id":"a"}`)))

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for change event")
	}
	assert.Equal(t, "users", received.Collection)
	assert.Equal(t, lumidb.ActionInsert, received.Action)
}
