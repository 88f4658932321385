package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lumidb/lumidb/query"
)

func writeConfig(t *testing.T, yaml string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "lumidb.yaml")
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0o644))
	return path
}

func TestLoadFileConfig(t *testing.T) {
	path := writeConfig(t, `
path: /tmp/data
debug: true
noTableScan: true
logLevel: info
collections:
  - name: users
    primaryKey: _id
    indexes:
      - name: account_idx
        fields: [account_id, created_at]
        descending: [created_at]
`)
	cfg, err := loadFileConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "/tmp/data", cfg.Path)
	assert.True(t, cfg.Debug)
	assert.True(t, cfg.NoTableScan)
	require.Len(t, cfg.Collections, 1)
	require.Len(t, cfg.Collections[0].Indexes, 1)
	assert.Equal(t, "account_idx", cfg.Collections[0].Indexes[0].Name)
}

func TestFileConfigCollectionsBuildsIndexDirections(t *testing.T) {
	cfg := &fileConfig{
		Collections: []collectionConfig{
			{
				Name:       "events",
				PrimaryKey: "_id",
				Indexes: []indexConfig{
					{Name: "by_time", Fields: []string{"account_id", "created_at"}, Desc: []string{"created_at"}},
				},
			},
		},
	}
	colls, err := cfg.collections()
	require.NoError(t, err)
	require.Len(t, colls, 1)
	require.Len(t, colls[0].Indexes(), 2)

	idx, ok := colls[0].Index("by_time")
	require.True(t, ok)
	assert.Equal(t, "by_time", idx.Name)
	require.Len(t, idx.Fields, 2)
	assert.Equal(t, query.OrderAsc, idx.Fields[0].Direction)
	assert.Equal(t, query.OrderDesc, idx.Fields[1].Direction)
}

func TestFileConfigCollectionsPluginIndex(t *testing.T) {
	cfg := &fileConfig{
		Collections: []collectionConfig{
			{
				Name:       "articles",
				PrimaryKey: "_id",
				Indexes: []indexConfig{
					{Name: "body_text", Fields: []string{"body"}, Text: true},
				},
			},
		},
	}
	colls, err := cfg.collections()
	require.NoError(t, err)
	require.Len(t, colls[0].Indexes(), 2)
	idx, ok := colls[0].Index("body_text")
	require.True(t, ok)
	assert.True(t, idx.IsPlugin())
}

func TestFileConfigCollectionsMissingSchemaFile(t *testing.T) {
	cfg := &fileConfig{
		Collections: []collectionConfig{
			{Name: "accounts", PrimaryKey: "_id", SchemaFile: "/does/not/exist.json"},
		},
	}
	_, err := cfg.collections()
	assert.Error(t, err)
}

func TestIsDescending(t *testing.T) {
	assert.True(t, isDescending([]string{"created_at"}, "created_at"))
	assert.False(t, isDescending([]string{"created_at"}, "account_id"))
	assert.False(t, isDescending(nil, "account_id"))
}
