package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/lumidb/lumidb"
)

func queryCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "query <query-file>",
		Short: "run a query file against the database and print matching documents",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()
			configPath, _ := cmd.Flags().GetString("config")
			fcfg, err := loadFileConfig(configPath)
			if err != nil {
				return err
			}
			q, err := loadQueryFile(args[0])
			if err != nil {
				return err
			}
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

			docs, err := db.Query(ctx, q.Collection, q)
			if err != nil {
				return err
			}
			for _, doc := range docs {
				fmt.Println(doc.String())
			}
			return nil
		},
	}
	return cmd
}
