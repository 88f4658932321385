package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/lumidb/lumidb"
)

func createIndexCmd() *cobra.Command {
	var fields, name string
	var unique, text bool
	cmd := &cobra.Command{
		Use:   "createindex <collection>",
		Short: "declare a new index on a collection and backfill it over existing documents",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			coll := args[0]
			if name == "" || fields == "" {
				return fmt.Errorf("--name and --fields are required")
			}
			configPath, _ := cmd.Flags().GetString("config")
			fcfg, err := loadFileConfig(configPath)
			if err != nil {
				return err
			}

			idx := indexConfig{Name: name, Fields: strings.Split(fields, ","), Unique: unique, Text: text}
			found := false
			for i := range fcfg.Collections {
				if fcfg.Collections[i].Name == coll {
					fcfg.Collections[i].Indexes = append(fcfg.Collections[i].Indexes, idx)
					found = true
					break
				}
			}
			if !found {
				fcfg.Collections = append(fcfg.Collections, collectionConfig{
					Name:       coll,
					PrimaryKey: "_id",
					Indexes:    []indexConfig{idx},
				})
			}
			bits, err := yaml.Marshal(fcfg)
			if err != nil {
				return err
			}
			if err := os.WriteFile(configPath, bits, 0o644); err != nil {
				return err
			}

			ctx := context.Background()
			colls, err := fcfg.collections()
			if err != nil {
				return err
			}
			db, err := lumidb.Open(ctx, lumidb.Config{
				Path:        fcfg.Path,
				Debug:       fcfg.Debug,
				NoTableScan: fcfg.NoTableScan,
				LogLevel:    fcfg.LogLevel,
				Collections: colls,
			})
			if err != nil {
				return err
			}
			defer db.Close()

			if err := db.Backfill(ctx, coll); err != nil {
				return err
			}
			fmt.Printf("created index %s.%s and backfilled %s\n", coll, idx.Name, coll)
			return nil
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "index name")
	cmd.Flags().StringVar(&fields, "fields", "", "comma-separated key pattern fields")
	cmd.Flags().BoolVar(&unique, "unique", false, "enforce uniqueness")
	cmd.Flags().BoolVar(&text, "text", false, "back this index with the full-text plugin instead of a b-tree")
	return cmd
}
