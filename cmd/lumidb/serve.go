package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/lumidb/lumidb"
	"github.com/lumidb/lumidb/httpapi"
)

func serveCmd() *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "run the HTTP API (REST + websocket change streams) over the configured database",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			configPath, _ := cmd.Flags().GetString("config")
			fcfg, err := loadFileConfig(configPath)
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

			logger, err := lumidb.NewLogger(fcfg.LogLevel, map[string]any{"component": "httpapi"})
			if err != nil {
				return err
			}
			srv := httpapi.New(db, logger)
			logger.Info(ctx, "listening", map[string]any{"addr": addr})
			return srv.ListenAndServe(ctx, addr)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", ":8080", "address to listen on")
	return cmd
}
