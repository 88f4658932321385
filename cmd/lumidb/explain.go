package main

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/lumidb/lumidb"
)

func explainCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "explain <query-file>",
		Short: "print the candidate plans a query file would run, without running them",
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

			plans, err := db.Explain(ctx, q.Collection, q)
			if err != nil {
				return err
			}
			bits, err := json.MarshalIndent(plans, "", "  ")
			if err != nil {
				return err
			}
			fmt.Println(string(bits))
			return nil
		},
	}
	return cmd
}
