package main

import (
	"context"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/lumidb/lumidb"
	"github.com/lumidb/lumidb/collection"
	"github.com/lumidb/lumidb/document"
	"github.com/lumidb/lumidb/query"
)

func usersFileConfig(dataPath string) *fileConfig {
	return &fileConfig{
		Path: dataPath,
		Collections: []collectionConfig{
			{
				Name:       "users",
				PrimaryKey: "_id",
				Indexes: []indexConfig{
					{Name: "account_idx", Fields: []string{"account_id"}},
				},
			},
		},
	}
}

func writeYAMLConfig(t *testing.T, cfg *fileConfig) string {
	t.Helper()
	bits, err := yaml.Marshal(cfg)
	require.NoError(t, err)
	path := filepath.Join(t.TempDir(), "lumidb.yaml")
	require.NoError(t, os.WriteFile(path, bits, 0o644))
	return path
}

// rootForTest builds the same command tree main.go wires up, without the
// process-level fmt.Println error handling.
func rootForTest() *cobra.Command {
	cmd := &cobra.Command{Use: "lumidb"}
	cmd.PersistentFlags().String("config", "lumidb.yaml", "path to the database config file")
	cmd.AddCommand(queryCmd(), explainCmd(), createIndexCmd())
	return cmd
}

func captureStdout(t *testing.T, fn func()) string {
	t.Helper()
	old := os.Stdout
	r, w, err := os.Pipe()
	require.NoError(t, err)
	os.Stdout = w
	fn()
	require.NoError(t, w.Close())
	os.Stdout = old
	out, err := io.ReadAll(r)
	require.NoError(t, err)
	return string(out)
}

func TestQueryCommand(t *testing.T) {
	dataPath := filepath.Join(t.TempDir(), "data")
	coll := collection.New("users", "_id", collection.WithIndex(collection.IndexSpec{
		Name:   "account_idx",
		Fields: []collection.FieldDir{{Field: "account_id", Direction: query.OrderAsc}},
	}))
	db, err := lumidb.Open(context.Background(), lumidb.Config{Path: dataPath, LogLevel: "error", Collections: []*collection.Collection{coll}})
	require.NoError(t, err)
	doc, err := document.NewFromBytes([]byte(`{"_id":"1","account_id":"a","name":"eve"}`))
	require.NoError(t, err)
	require.NoError(t, db.Insert(context.Background(), "users", doc))
	require.NoError(t, db.Close())

	configPath := writeYAMLConfig(t, usersFileConfig(dataPath))
	queryFile := writeQueryFile(t, `{"collection":"users","where":[{"field":"account_id","op":"eq","value":"a"}]}`)

	root := rootForTest()
	root.SetArgs([]string{"query", queryFile, "--config", configPath})
	out := captureStdout(t, func() { require.NoError(t, root.Execute()) })
	assert.Contains(t, out, "eve")
}

func TestExplainCommand(t *testing.T) {
	dataPath := filepath.Join(t.TempDir(), "data")
	configPath := writeYAMLConfig(t, usersFileConfig(dataPath))
	queryFile := writeQueryFile(t, `{"collection":"users","where":[{"field":"account_id","op":"eq","value":"a"}]}`)

	root := rootForTest()
	root.SetArgs([]string{"explain", queryFile, "--config", configPath})
	out := captureStdout(t, func() { require.NoError(t, root.Execute()) })

	var plans []lumidb.PlanExplanation
	require.NoError(t, json.Unmarshal([]byte(out), &plans))
	require.NotEmpty(t, plans)
	assert.Equal(t, "account_idx", plans[0].Index)
}

func TestCreateIndexCommand(t *testing.T) {
	dataPath := filepath.Join(t.TempDir(), "data")
	cfg := &fileConfig{
		Path: dataPath,
		Collections: []collectionConfig{
			{Name: "users", PrimaryKey: "_id"},
		},
	}
	configPath := writeYAMLConfig(t, cfg)

	root := rootForTest()
	root.SetArgs([]string{"createindex", "users", "--name", "account_idx", "--fields", "account_id", "--config", configPath})
	out := captureStdout(t, func() { require.NoError(t, root.Execute()) })
	assert.Contains(t, out, "created index users.account_idx")

	updated, err := loadFileConfig(configPath)
	require.NoError(t, err)
	require.Len(t, updated.Collections, 1)
	require.Len(t, updated.Collections[0].Indexes, 1)
	assert.Equal(t, "account_idx", updated.Collections[0].Indexes[0].Name)
}

func TestCreateIndexCommandRequiresNameAndFields(t *testing.T) {
	dataPath := filepath.Join(t.TempDir(), "data")
	configPath := writeYAMLConfig(t, usersFileConfig(dataPath))

	root := rootForTest()
	root.SetArgs([]string{"createindex", "users", "--config", configPath})
	err := root.Execute()
	assert.Error(t, err)
}
