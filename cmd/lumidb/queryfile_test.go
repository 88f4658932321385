package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lumidb/lumidb/query"
)

func writeQueryFile(t *testing.T, json string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "query.json")
	require.NoError(t, os.WriteFile(path, []byte(json), 0o644))
	return path
}

func TestLoadQueryFile(t *testing.T) {
	path := writeQueryFile(t, `{
		"collection": "users",
		"where": [{"field": "account_id", "op": "eq", "value": "a"}],
		"orderBy": [{"field": "created_at", "desc": true}],
		"limit": 5
	}`)
	q, err := loadQueryFile(path)
	require.NoError(t, err)
	assert.Equal(t, "users", q.Collection)
	require.Len(t, q.Where, 1)
	assert.Equal(t, "account_id", q.Where[0].Field)
	require.Len(t, q.OrderBy, 1)
	assert.Equal(t, query.OrderDesc, q.OrderBy[0].Direction)
	assert.Equal(t, 5, q.Limit)
}

func TestLoadQueryFileOrderByDefaultsAscending(t *testing.T) {
	path := writeQueryFile(t, `{"collection": "users", "orderBy": [{"field": "name"}]}`)
	q, err := loadQueryFile(path)
	require.NoError(t, err)
	require.Len(t, q.OrderBy, 1)
	assert.Equal(t, query.OrderAsc, q.OrderBy[0].Direction)
}

func TestLoadQueryFileMissing(t *testing.T) {
	_, err := loadQueryFile(filepath.Join(t.TempDir(), "missing.json"))
	assert.Error(t, err)
}

func TestLoadQueryFileMalformed(t *testing.T) {
	path := writeQueryFile(t, `not json`)
	_, err := loadQueryFile(path)
	assert.Error(t, err)
}
