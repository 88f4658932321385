// Command lumidb is the Cobra CLI for running queries against a lumidb
// database, grounded in the teacher's cmd/myjson entrypoint.
package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func main() {
	cmd := &cobra.Command{
		Use:   "lumidb",
		Short: "lumidb is an embedded document database with a multi-plan query planner",
	}
	cmd.PersistentFlags().String("config", "lumidb.yaml", "path to the database config file")
	cmd.AddCommand(queryCmd(), explainCmd(), createIndexCmd(), serveCmd())
	if err := cmd.Execute(); err != nil {
		fmt.Println(err)
	}
}
